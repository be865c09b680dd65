package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/convoscope/convoscope/internal/resilience"
	"github.com/convoscope/convoscope/internal/store"
)

// fakeWorkerStore mimics the stage-claim and checkpoint semantics in memory.
type fakeWorkerStore struct {
	mu          sync.Mutex
	recordings  map[string]*store.Recording
	transcripts map[string]*store.Transcript
	meetings    map[string]string // recording id -> linked transcript text
	parked      map[string]string // recording id -> reason
	claims      []string          // "id/stage" in claim order
}

func newFakeWorkerStore(recs ...*store.Recording) *fakeWorkerStore {
	f := &fakeWorkerStore{
		recordings:  make(map[string]*store.Recording),
		transcripts: make(map[string]*store.Transcript),
		meetings:    make(map[string]string),
		parked:      make(map[string]string),
	}
	for _, r := range recs {
		f.recordings[r.RecordingID] = r
	}
	return f
}

func (f *fakeWorkerStore) GetRecording(_ context.Context, id string) (*store.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recordings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeWorkerStore) ClaimStage(_ context.Context, id string, stage store.Stage, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recordings[id]
	if !ok {
		return false, store.ErrNotFound
	}
	st := f.state(r, stage)
	if st.Status != store.StagePending {
		return false, nil
	}
	st.Status = store.StageInProgress
	f.claims = append(f.claims, fmt.Sprintf("%s/%s", id, stage))
	return true, nil
}

func (f *fakeWorkerStore) SaveStageCheckpoint(_ context.Context, id string, stage store.Stage, success bool, stageErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.recordings[id]
	st := f.state(r, stage)
	if success {
		st.Status = store.StageCompleted
		st.LastError = ""
	} else {
		st.Status = store.StageFailed
		st.LastError = stageErr
	}
	return nil
}

func (f *fakeWorkerStore) SetLocalPath(_ context.Context, id, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordings[id].LocalPath = path
	return nil
}

func (f *fakeWorkerStore) GetTranscript(_ context.Context, id string) (*store.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transcripts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (f *fakeWorkerStore) LinkTranscript(_ context.Context, rec *store.Recording, t *store.Transcript) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meetings[rec.RecordingID] = t.Text
	return int64(len(f.meetings)), nil
}

func (f *fakeWorkerStore) RecordFailedItem(_ context.Context, id, reason, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parked[id] = reason
	return nil
}

func (f *fakeWorkerStore) state(r *store.Recording, stage store.Stage) *store.StageState {
	switch stage {
	case store.StageDownload:
		return &r.Download
	case store.StageTranscription:
		return &r.Transcription
	default:
		return &r.Upload
	}
}

type fakeDownloader struct {
	err   error
	calls int
}

func (d *fakeDownloader) Download(_ context.Context, rec *store.Recording) (string, error) {
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	return "/staging/" + rec.RecordingID + ".mp3", nil
}

type fakeTranscriber struct {
	err   error
	calls int
}

func (t *fakeTranscriber) Transcribe(_ context.Context, rec *store.Recording) (*store.Transcript, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	return &store.Transcript{RecordingID: rec.RecordingID, Text: "hello world", WordCount: 2}, nil
}

type fakeUploader struct {
	err        error
	calls      int
	transcript *store.Transcript
}

func (u *fakeUploader) ProcessTranscription(_ context.Context, rec *store.Recording, t *store.Transcript) (string, error) {
	u.calls++
	u.transcript = t
	if u.err != nil {
		return "", u.err
	}
	return "archive-" + rec.RecordingID, nil
}

func pendingRecording(id string) *store.Recording {
	return &store.Recording{
		RecordingID:   id,
		StartTime:     time.Date(2025, 9, 21, 15, 30, 0, 0, time.UTC),
		Duration:      120,
		Download:      store.StageState{Status: store.StagePending},
		Transcription: store.StageState{Status: store.StagePending},
		Upload:        store.StageState{Status: store.StagePending},
	}
}

func newTestWorker(st *fakeWorkerStore, d Downloader, t Transcriber, u Uploader) *Worker {
	return NewWorker("w1", st, d, t, u, 3, time.Minute, slog.Default())
}

func TestProcessRecordingRunsAllStagesInOrder(t *testing.T) {
	st := newFakeWorkerStore(pendingRecording("rec-1"))
	d, tr, u := &fakeDownloader{}, &fakeTranscriber{}, &fakeUploader{}
	w := newTestWorker(st, d, tr, u)

	status, err := w.ProcessRecording(context.Background(), "rec-1")
	if err != nil || status != ItemCompleted {
		t.Fatalf("status=%v err=%v, want completed", status, err)
	}

	want := []string{"rec-1/download", "rec-1/transcription", "rec-1/upload"}
	if len(st.claims) != 3 {
		t.Fatalf("claims = %v, want %v", st.claims, want)
	}
	for i := range want {
		if st.claims[i] != want[i] {
			t.Fatalf("claims = %v, want %v", st.claims, want)
		}
	}
	r := st.recordings["rec-1"]
	for _, s := range []store.StageState{r.Download, r.Transcription, r.Upload} {
		if s.Status != store.StageCompleted {
			t.Errorf("stage status = %v, want completed", s.Status)
		}
	}
	if r.LocalPath == "" {
		t.Error("local path not persisted after download")
	}
	if u.transcript == nil || u.transcript.WordCount != 2 {
		t.Error("upload stage did not receive the in-pass transcript")
	}
}

func TestProcessRecordingLinksTranscriptToMeeting(t *testing.T) {
	st := newFakeWorkerStore(pendingRecording("rec-1"))
	w := newTestWorker(st, &fakeDownloader{}, &fakeTranscriber{}, &fakeUploader{})

	status, err := w.ProcessRecording(context.Background(), "rec-1")
	if err != nil || status != ItemCompleted {
		t.Fatalf("status=%v err=%v, want completed", status, err)
	}
	// The analysis layers select meetings by transcript text; a transcribed
	// call without a linked meeting would never be analysed.
	if got := st.meetings["rec-1"]; got != "hello world" {
		t.Fatalf("linked meeting transcript = %q, want the transcription text", got)
	}
}

func TestProcessRecordingTransientFailureLeavesStageFailed(t *testing.T) {
	st := newFakeWorkerStore(pendingRecording("rec-1"))
	tr := &fakeTranscriber{err: errors.New("asr 503")}
	w := newTestWorker(st, &fakeDownloader{}, tr, &fakeUploader{})

	status, err := w.ProcessRecording(context.Background(), "rec-1")
	if status != ItemFailed || err == nil {
		t.Fatalf("status=%v err=%v, want failed with error", status, err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != store.StageTranscription || se.Kind != KindTransient {
		t.Fatalf("error = %v, want transient transcription stage error", err)
	}

	r := st.recordings["rec-1"]
	if r.Download.Status != store.StageCompleted {
		t.Error("download should have completed before the failure")
	}
	if r.Transcription.Status != store.StageFailed || r.Transcription.LastError == "" {
		t.Error("transcription should be failed with error text")
	}
	if r.Upload.Status != store.StagePending {
		t.Error("upload must not run after a transcription failure")
	}
	if len(st.parked) != 0 {
		t.Error("transient failure within budget must not park the recording")
	}
}

func TestProcessRecordingPermanentFailureParks(t *testing.T) {
	st := newFakeWorkerStore(pendingRecording("rec-1"))
	d := &fakeDownloader{err: resilience.Permanent(errors.New("recording gone upstream"))}
	w := newTestWorker(st, d, &fakeTranscriber{}, &fakeUploader{})

	status, _ := w.ProcessRecording(context.Background(), "rec-1")
	if status != ItemParked {
		t.Fatalf("status = %v, want parked", status)
	}
	if reason := st.parked["rec-1"]; reason != "download_permanent" {
		t.Errorf("park reason = %q, want download_permanent", reason)
	}
}

func TestProcessRecordingExhaustedRetryBudgetParks(t *testing.T) {
	rec := pendingRecording("rec-1")
	rec.RetryCount = 2 // third attempt is the last of the budget
	st := newFakeWorkerStore(rec)
	w := newTestWorker(st, &fakeDownloader{err: errors.New("timeout")}, &fakeTranscriber{}, &fakeUploader{})

	status, _ := w.ProcessRecording(context.Background(), "rec-1")
	if status != ItemParked {
		t.Fatalf("status = %v, want parked after exhausted budget", status)
	}
	if _, ok := st.parked["rec-1"]; !ok {
		t.Error("recording not recorded as failed item")
	}
}

func TestProcessRecordingResumesFromCompletedStages(t *testing.T) {
	rec := pendingRecording("rec-1")
	rec.Download.Status = store.StageCompleted
	rec.Transcription.Status = store.StageCompleted
	rec.LocalPath = "/staging/rec-1.mp3"
	st := newFakeWorkerStore(rec)
	st.transcripts["rec-1"] = &store.Transcript{RecordingID: "rec-1", Text: "persisted", WordCount: 1}

	d, tr, u := &fakeDownloader{}, &fakeTranscriber{}, &fakeUploader{}
	w := newTestWorker(st, d, tr, u)

	status, err := w.ProcessRecording(context.Background(), "rec-1")
	if err != nil || status != ItemCompleted {
		t.Fatalf("status=%v err=%v, want completed", status, err)
	}
	if d.calls != 0 || tr.calls != 0 {
		t.Error("completed stages must not re-run")
	}
	if u.transcript == nil || u.transcript.Text != "persisted" {
		t.Error("upload stage should reload the persisted transcript on resume")
	}
}

func TestProcessRecordingSkipsWhenClaimLost(t *testing.T) {
	rec := pendingRecording("rec-1")
	rec.Download.Status = store.StageInProgress // another worker holds it
	st := newFakeWorkerStore(rec)
	w := newTestWorker(st, &fakeDownloader{}, &fakeTranscriber{}, &fakeUploader{})

	status, err := w.ProcessRecording(context.Background(), "rec-1")
	if err != nil || status != ItemSkipped {
		t.Fatalf("status=%v err=%v, want skipped", status, err)
	}
}
