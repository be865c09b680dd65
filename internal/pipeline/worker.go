package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/convoscope/convoscope/internal/securestore"
	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/internal/transcribe"
)

var (
	_ WorkerStore = (*store.Store)(nil)
	_ Transcriber = (*transcribe.Orchestrator)(nil)
	_ Uploader    = (*securestore.Handler)(nil)
)

// WorkerStore is the persistence surface a worker needs. *store.Store
// satisfies it.
type WorkerStore interface {
	GetRecording(ctx context.Context, recordingID string) (*store.Recording, error)
	ClaimStage(ctx context.Context, recordingID string, stage store.Stage, workerID string) (bool, error)
	SaveStageCheckpoint(ctx context.Context, recordingID string, stage store.Stage, success bool, stageErr string) error
	SetLocalPath(ctx context.Context, recordingID, path string) error
	GetTranscript(ctx context.Context, recordingID string) (*store.Transcript, error)
	LinkTranscript(ctx context.Context, rec *store.Recording, t *store.Transcript) (int64, error)
	RecordFailedItem(ctx context.Context, recordingID, reason, lastError string, attempts int) error
}

// Downloader fetches a recording's media into the staging area and returns
// the local path.
type Downloader interface {
	Download(ctx context.Context, rec *store.Recording) (string, error)
}

// Transcriber produces the persisted transcript for a downloaded recording.
// *transcribe.Orchestrator satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, rec *store.Recording) (*store.Transcript, error)
}

// Uploader archives the transcript artefacts and securely deletes the
// audio, returning the remote archive id. *securestore.Handler satisfies it.
type Uploader interface {
	ProcessTranscription(ctx context.Context, rec *store.Recording, t *store.Transcript) (string, error)
}

// ItemStatus is the outcome of one worker pass over a recording.
type ItemStatus string

const (
	ItemCompleted ItemStatus = "completed"
	ItemSkipped   ItemStatus = "skipped" // already done or claimed elsewhere
	ItemFailed    ItemStatus = "failed"
	ItemParked    ItemStatus = "parked" // moved to failed_items
)

// Worker runs one recording end-to-end through download → transcription →
// upload. Stage claims go through conditional updates in the store, so any
// number of workers (or processes) may race over the same pending set.
type Worker struct {
	id          string
	st          WorkerStore
	downloader  Downloader
	transcriber Transcriber
	uploader    Uploader
	log         *slog.Logger

	maxRetries  int
	itemTimeout time.Duration
}

// NewWorker builds a worker. maxRetries is the per-stage retry budget
// before a recording is parked; itemTimeout bounds one full pass over a
// recording (0 means the 5-minute default).
func NewWorker(id string, st WorkerStore, d Downloader, t Transcriber, u Uploader, maxRetries int, itemTimeout time.Duration, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if itemTimeout <= 0 {
		itemTimeout = 5 * time.Minute
	}
	return &Worker{
		id:          id,
		st:          st,
		downloader:  d,
		transcriber: t,
		uploader:    u,
		log:         log,
		maxRetries:  maxRetries,
		itemTimeout: itemTimeout,
	}
}

var stageOrder = [3]store.Stage{store.StageDownload, store.StageTranscription, store.StageUpload}

// ProcessRecording advances one recording as far as it will go. Stages
// already completed (or skipped) are passed over, so re-driving a partially
// processed recording is safe. The first stage failure stops the pass; the
// returned error carries the stage and kind.
func (w *Worker) ProcessRecording(ctx context.Context, recordingID string) (ItemStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, w.itemTimeout)
	defer cancel()

	rec, err := w.st.GetRecording(ctx, recordingID)
	if err != nil {
		return ItemFailed, fmt.Errorf("pipeline: load recording %s: %w", recordingID, err)
	}

	advanced := false
	var transcript *store.Transcript
	for _, stage := range stageOrder {
		state := stageStateOf(rec, stage)
		switch state.Status {
		case store.StageCompleted, store.StageSkipped:
			continue
		case store.StageFailed:
			// Failed stages are re-opened by the failure sweep, not here.
			return skippedUnless(advanced), nil
		}

		claimed, err := w.st.ClaimStage(ctx, recordingID, stage, w.id)
		if err != nil {
			return ItemFailed, fmt.Errorf("pipeline: claim %s for %s: %w", stage, recordingID, err)
		}
		if !claimed {
			return skippedUnless(advanced), nil
		}

		start := time.Now()
		transcript, err = w.runStage(ctx, stage, rec, transcript)
		if err != nil {
			se := classify(stage, err)
			if cerr := w.st.SaveStageCheckpoint(ctx, recordingID, stage, false, se.Err.Error()); cerr != nil {
				w.log.Error("stage checkpoint write failed",
					"recording", recordingID, "stage", stage, "error", cerr)
			}
			w.log.Warn("stage failed",
				"recording", recordingID, "stage", stage, "kind", se.Kind,
				"elapsed", time.Since(start).Round(time.Millisecond), "error", se.Err)

			if !se.Recoverable() || rec.RetryCount+1 >= w.maxRetries {
				reason := fmt.Sprintf("%s_%s", stage, se.Kind)
				if perr := w.st.RecordFailedItem(ctx, recordingID, reason, se.Err.Error(), rec.RetryCount+1); perr != nil {
					w.log.Error("parking failed item failed", "recording", recordingID, "error", perr)
				}
				return ItemParked, se
			}
			return ItemFailed, se
		}

		if err := w.st.SaveStageCheckpoint(ctx, recordingID, stage, true, ""); err != nil {
			return ItemFailed, fmt.Errorf("pipeline: checkpoint %s for %s: %w", stage, recordingID, err)
		}
		advanced = true
		w.log.Info("stage complete",
			"recording", recordingID, "stage", stage,
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
	if !advanced {
		return ItemSkipped, nil
	}
	return ItemCompleted, nil
}

// runStage executes one stage's work. The transcript produced by the
// transcription stage is threaded to the upload stage within the same pass;
// on resume it is reloaded from the store instead.
func (w *Worker) runStage(ctx context.Context, stage store.Stage, rec *store.Recording, transcript *store.Transcript) (*store.Transcript, error) {
	switch stage {
	case store.StageDownload:
		path, err := w.downloader.Download(ctx, rec)
		if err != nil {
			return transcript, err
		}
		if err := w.st.SetLocalPath(ctx, rec.RecordingID, path); err != nil {
			return transcript, err
		}
		rec.LocalPath = path
		return transcript, nil

	case store.StageTranscription:
		t, err := w.transcriber.Transcribe(ctx, rec)
		if err != nil {
			return transcript, err
		}
		// The meeting row carries the transcript text the analysis layers
		// select on; plain calls get their row created here.
		if _, err := w.st.LinkTranscript(ctx, rec, t); err != nil {
			return transcript, fmt.Errorf("link transcript: %w", err)
		}
		return t, nil

	case store.StageUpload:
		t := transcript
		if t == nil {
			var err error
			t, err = w.st.GetTranscript(ctx, rec.RecordingID)
			if err != nil {
				return transcript, fmt.Errorf("load transcript: %w", err)
			}
		}
		if _, err := w.uploader.ProcessTranscription(ctx, rec, t); err != nil {
			return transcript, err
		}
		return transcript, nil
	}
	return transcript, fmt.Errorf("unknown stage %q", stage)
}

func stageStateOf(rec *store.Recording, stage store.Stage) store.StageState {
	switch stage {
	case store.StageDownload:
		return rec.Download
	case store.StageTranscription:
		return rec.Transcription
	default:
		return rec.Upload
	}
}

func skippedUnless(advanced bool) ItemStatus {
	if advanced {
		return ItemCompleted
	}
	return ItemSkipped
}
