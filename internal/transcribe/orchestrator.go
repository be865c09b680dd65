// Package transcribe turns on-disk recordings into persisted transcripts
// via the external speech-to-text service. The orchestrator owns audio
// extraction, validation, long-audio chunking, job submission and polling,
// text normalization, and confidence scoring. At most one job is in flight
// per recording.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/convoscope/convoscope/internal/config"
	"github.com/convoscope/convoscope/internal/resilience"
	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/pkg/media"
	"github.com/convoscope/convoscope/pkg/provider/archive"
	"github.com/convoscope/convoscope/pkg/provider/asr"
)

// ErrAlreadyInFlight is returned when a transcription for the same
// recording is already running in this process.
var ErrAlreadyInFlight = errors.New("transcribe: job already in flight for recording")

const (
	pollInitialDelay = 5 * time.Second
	pollMaxDelay     = 60 * time.Second
	pollBackoff      = 1.5
)

// Orchestrator runs the full audio-to-transcript pipeline for one recording
// at a time per recording id. Safe for concurrent use across recordings.
type Orchestrator struct {
	store    *store.Store
	asr      asr.Client
	archive  archive.Store
	media    *media.Tool
	cfg      config.ASRConfig
	staging  string
	resolver *NameResolver
	breakers *resilience.BreakerGroup
	log      *slog.Logger

	mu        sync.Mutex
	inflight  map[string]struct{}
	directory []string
}

// NewOrchestrator wires the orchestrator's collaborators. stagingDir holds
// extracted audio and chunk slices; it is created on demand and every file
// written under it is removed when the recording's transcription ends,
// regardless of outcome.
func NewOrchestrator(st *store.Store, asrClient asr.Client, arch archive.Store, tool *media.Tool, cfg config.ASRConfig, stagingDir string, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		asr:      asrClient,
		archive:  arch,
		media:    tool,
		cfg:      cfg,
		staging:  stagingDir,
		resolver: NewNameResolver(),
		breakers: resilience.NewBreakerGroup(resilience.BreakerConfig{Logger: log}),
		log:      log,
		inflight: map[string]struct{}{},
	}
}

// SetDirectory installs the canonical participant names used to resolve
// ASR-garbled names. Called by the ingestion pass after the extension
// directory is cached.
func (o *Orchestrator) SetDirectory(names []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.directory = append([]string(nil), names...)
}

// Transcribe runs the full pipeline for one recording and persists the
// transcript. It is idempotent: a recording that already has a transcript
// returns it unchanged.
func (o *Orchestrator) Transcribe(ctx context.Context, rec *store.Recording) (*store.Transcript, error) {
	if existing, err := o.store.GetTranscript(ctx, rec.RecordingID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	o.mu.Lock()
	if _, busy := o.inflight[rec.RecordingID]; busy {
		o.mu.Unlock()
		return nil, ErrAlreadyInFlight
	}
	o.inflight[rec.RecordingID] = struct{}{}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, rec.RecordingID)
		o.mu.Unlock()
	}()

	var temps []string
	defer func() {
		for _, t := range temps {
			if err := os.Remove(t); err != nil && !errors.Is(err, os.ErrNotExist) {
				o.log.Warn("failed to remove staging file", "path", t, "error", err)
			}
		}
	}()

	audioPath, info, tempFiles, err := o.prepareAudio(ctx, rec)
	temps = append(temps, tempFiles...)
	if err != nil {
		return nil, err
	}

	spans := PlanChunks(info.DurationSec, o.cfg.ChunkDuration.Std())
	results := make([]*asr.Result, len(spans))
	started := time.Now()
	for _, span := range spans {
		chunkPath := audioPath
		if len(spans) > 1 {
			chunkPath = filepath.Join(o.staging, fmt.Sprintf("%s_chunk%02d%s",
				rec.RecordingID, span.Index, filepath.Ext(audioPath)))
			if err := o.media.Slice(ctx, audioPath, chunkPath, span.StartSec, span.DurationSec); err != nil {
				return nil, err
			}
			temps = append(temps, chunkPath)
		}

		result, err := o.transcribeChunk(ctx, rec, span, chunkPath)
		if err != nil {
			return nil, fmt.Errorf("chunk %d of %d: %w", span.Index+1, len(spans), err)
		}
		results[span.Index] = result
	}

	merged := StitchResults(spans, results)
	transcript := o.buildTranscript(rec, merged)

	if err := o.store.UpsertTranscript(ctx, transcript); err != nil {
		return nil, err
	}
	if err := o.store.SetTranscriptStats(ctx, rec.RecordingID,
		transcript.WordCount, transcript.Confidence, transcript.Language); err != nil {
		return nil, err
	}

	o.log.Info("transcription complete",
		"recording_id", rec.RecordingID,
		"chunks", len(spans),
		"words", transcript.WordCount,
		"confidence", transcript.Confidence,
		"language", transcript.Language,
		"elapsed", time.Since(started))
	return transcript, nil
}

// prepareAudio resolves the recording's local media into a validated audio
// file, extracting the audio track first when the media is video. Returns
// the audio path, its probe info, and any temp files created.
func (o *Orchestrator) prepareAudio(ctx context.Context, rec *store.Recording) (string, *media.Info, []string, error) {
	if rec.LocalPath == "" {
		return "", nil, nil, resilience.Permanent(fmt.Errorf("recording %s has no local media file", rec.RecordingID))
	}
	info, err := o.media.Probe(ctx, rec.LocalPath)
	if err != nil {
		return "", nil, nil, err
	}

	audioPath := rec.LocalPath
	var temps []string
	if info.HasVideo {
		audioPath = filepath.Join(o.staging, rec.RecordingID+"_audio.wav")
		if err := o.media.ExtractAudio(ctx, rec.LocalPath, audioPath); err != nil {
			return "", nil, temps, err
		}
		temps = append(temps, audioPath)
		if info, err = o.media.Probe(ctx, audioPath); err != nil {
			return "", nil, temps, err
		}
	}

	if err := ValidateMedia(info, audioPath); err != nil {
		return "", nil, temps, resilience.Permanent(err)
	}
	return audioPath, info, temps, nil
}

// transcribeChunk publishes one audio file, submits its ASR job, and polls
// it to completion.
func (o *Orchestrator) transcribeChunk(ctx context.Context, rec *store.Recording, span ChunkSpan, path string) (*asr.Result, error) {
	folder := archive.FolderFor(rec.StartTime, archive.KindAudio)
	name := filepath.Base(path)

	var audioURL string
	err := o.breakers.For("archive").Do(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, resilience.RetryConfig{Name: "asr publish"}, func(ctx context.Context) error {
			fileID, err := o.archive.Upload(ctx, path, name, folder)
			if err != nil {
				return err
			}
			audioURL, err = o.archive.MakePublic(ctx, fileID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	idempotencyKey := rec.RecordingID
	if span.Index > 0 {
		idempotencyKey = fmt.Sprintf("%s#%d", rec.RecordingID, span.Index)
	}

	var job *asr.Job
	err = o.breakers.For("asr").Do(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, resilience.RetryConfig{Name: "asr submit"}, func(ctx context.Context) error {
			j, err := o.asr.Submit(ctx, asr.JobRequest{
				AudioURL:            audioURL,
				Engine:              o.cfg.Engine,
				Language:            o.cfg.Language,
				InitialPrompt:       o.cfg.InitialPrompt,
				EnableDiarization:   o.cfg.EnableDiarization,
				EnableSummarization: o.cfg.EnableSummarization,
				CustomVocabulary:    o.cfg.CustomVocabulary,
				IdempotencyKey:      idempotencyKey,
			})
			if errors.Is(err, asr.ErrInvalidInput) {
				return resilience.Permanent(err)
			}
			if err != nil {
				return err
			}
			job = j
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if err := o.pollJob(ctx, job.ID); err != nil {
		return nil, err
	}
	return o.asr.Fetch(ctx, job.ID)
}

// pollJob waits for the job to reach a terminal status with exponential
// backoff, bounded by the configured max wait.
func (o *Orchestrator) pollJob(ctx context.Context, jobID string) error {
	deadline := time.Now().Add(o.cfg.MaxWait.Std())
	delay := pollInitialDelay

	for {
		status, jobErr, err := o.asr.Poll(ctx, jobID)
		var rl *asr.RateLimitError
		switch {
		case errors.As(err, &rl):
			delay = rl.RetryAfter
		case err != nil:
			return err
		case status == asr.JobSucceeded:
			return nil
		case status == asr.JobFailed:
			return resilience.Permanent(fmt.Errorf("asr job %s failed: %s", jobID, jobErr))
		}

		if time.Now().Add(delay).After(deadline) {
			return fmt.Errorf("asr job %s not finished within %s", jobID, o.cfg.MaxWait.Std())
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * pollBackoff)
		if delay > pollMaxDelay {
			delay = pollMaxDelay
		}
	}
}

// buildTranscript post-processes the merged ASR result into the persisted
// transcript row.
func (o *Orchestrator) buildTranscript(rec *store.Recording, result *asr.Result) *store.Transcript {
	text := Normalize(result.Text)

	segments := make([]store.Segment, 0, len(result.Segments))
	for _, s := range result.Segments {
		segments = append(segments, store.Segment{
			Start:            s.Start,
			End:              s.End,
			Text:             strings.TrimSpace(s.Text),
			AvgLogProb:       s.AvgLogProb,
			CompressionRatio: s.CompressionRatio,
			NoSpeechProb:     s.NoSpeechProb,
		})
	}

	t := &store.Transcript{
		RecordingID:  rec.RecordingID,
		Text:         text,
		Language:     result.Language,
		LanguageProb: float32(result.LanguageProb),
		Segments:     segments,
		Confidence:   Confidence(result.Segments),
		WordCount:    WordCount(text),
		Duration:     result.Duration,
	}

	o.mu.Lock()
	directory := o.directory
	o.mu.Unlock()

	if name := rec.From.Name; name != "" {
		if resolved, _, ok := o.resolver.Resolve(name, directory); ok {
			name = resolved
		}
		t.ParticipantName = name
	}
	if name := rec.To.Name; name != "" {
		if resolved, _, ok := o.resolver.Resolve(name, directory); ok {
			name = resolved
		}
		t.CustomerName = name
	}
	if rec.Direction == store.DirectionInbound {
		t.ParticipantName, t.CustomerName = t.CustomerName, t.ParticipantName
	}
	return t
}
