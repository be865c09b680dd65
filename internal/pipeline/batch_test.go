package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/convoscope/convoscope/internal/store"
)

// fakeBatchStore keeps batch rows and a per-day pending queue in memory.
type fakeBatchStore struct {
	mu         sync.Mutex
	batches    map[string]*store.Batch
	pending    map[string][]store.PendingItem // key: YYYY-MM-DD
	byStage    map[store.Stage][]store.PendingItem
	pendingErr error
	resets     int
}

func newFakeBatchStore() *fakeBatchStore {
	return &fakeBatchStore{
		batches: make(map[string]*store.Batch),
		pending: make(map[string][]store.PendingItem),
		byStage: make(map[store.Stage][]store.PendingItem),
	}
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func (f *fakeBatchStore) CreateBatch(_ context.Context, b *store.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	f.batches[b.BatchID] = &cp
	return nil
}

func (f *fakeBatchStore) LoadBatch(_ context.Context, id string) (*store.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBatchStore) UpdateBatch(_ context.Context, b *store.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	cp.LastCheckpoint = time.Now()
	f.batches[b.BatchID] = &cp
	return nil
}

func (f *fakeBatchStore) CompleteBatch(_ context.Context, b *store.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	cp.Completed = true
	cp.IsActive = false
	f.batches[b.BatchID] = &cp
	return nil
}

func (f *fakeBatchStore) PendingOnDate(_ context.Context, day time.Time, limit int) ([]store.PendingItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingErr != nil {
		return nil, f.pendingErr
	}
	items := f.pending[dayKey(day)]
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]store.PendingItem, len(items))
	copy(out, items)
	return out, nil
}

func (f *fakeBatchStore) PendingForStage(_ context.Context, stage store.Stage, limit int) ([]store.PendingItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.byStage[stage]
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]store.PendingItem, len(items))
	copy(out, items)
	return out, nil
}

func (f *fakeBatchStore) ResetFailedStages(_ context.Context, _ time.Duration, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, items := range f.byStage {
		n += len(items)
	}
	f.resets++
	return n, nil
}

// drain marks an item done by removing it from its day's pending set.
func (f *fakeBatchStore) drain(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, items := range f.pending {
		kept := items[:0]
		for _, it := range items {
			if it.RecordingID != id {
				kept = append(kept, it)
			}
		}
		f.pending[k] = kept
	}
	for k, items := range f.byStage {
		kept := items[:0]
		for _, it := range items {
			if it.RecordingID != id {
				kept = append(kept, it)
			}
		}
		f.byStage[k] = kept
	}
}

// scriptedProcessor completes every id unless it is listed as failing.
type scriptedProcessor struct {
	st   *fakeBatchStore
	fail map[string]bool

	mu        sync.Mutex
	processed []string
}

func (p *scriptedProcessor) ProcessRecording(_ context.Context, id string) (ItemStatus, error) {
	p.mu.Lock()
	p.processed = append(p.processed, id)
	p.mu.Unlock()
	if p.fail[id] {
		p.st.drain(id) // parked items leave the pending set too
		return ItemParked, errors.New("boom")
	}
	p.st.drain(id)
	return ItemCompleted, nil
}

type fakeIngestor struct {
	mu     sync.Mutex
	days   []string
	errDay string
}

func (f *fakeIngestor) SyncDay(_ context.Context, day time.Time) (int, error) {
	f.mu.Lock()
	f.days = append(f.days, dayKey(day))
	f.mu.Unlock()
	if f.errDay == dayKey(day) {
		return 0, errors.New("provider down")
	}
	return 0, nil
}

func testConfig() Config {
	return Config{WorkerCount: 2, BatchSize: 10, MaxRetries: 3, BatchPause: time.Millisecond}
}

func TestProcessDateRangeWalksEveryDay(t *testing.T) {
	st := newFakeBatchStore()
	start := time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		day := start.AddDate(0, 0, i)
		st.pending[dayKey(day)] = []store.PendingItem{
			{RecordingID: fmt.Sprintf("rec-%d", i)},
		}
	}
	proc := &scriptedProcessor{st: st}
	ing := &fakeIngestor{}
	p := NewBatchProcessor(st, ing, proc, testConfig(), slog.Default())

	res, err := p.ProcessDateRange(context.Background(), start, start.AddDate(0, 0, 2), "", nil)
	if err != nil {
		t.Fatalf("ProcessDateRange: %v", err)
	}
	if res.Days != 3 || res.Processed != 3 || res.Failed != 0 {
		t.Fatalf("result = %+v, want 3 days, 3 processed", res)
	}
	if len(ing.days) != 3 {
		t.Errorf("ingestor synced %v, want each of the 3 days once", ing.days)
	}

	b := st.batches[res.BatchID]
	if b == nil || !b.Completed || b.IsActive {
		t.Fatalf("batch not completed: %+v", b)
	}
	if b.TotalProcessed != 3 {
		t.Errorf("batch total processed = %d, want 3", b.TotalProcessed)
	}
}

func TestProcessDateRangeResumesFromCursor(t *testing.T) {
	st := newFakeBatchStore()
	start := time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 2)
	cursor := start.AddDate(0, 0, 1)
	st.batches["b-1"] = &store.Batch{
		BatchID: "b-1", StartDate: start, EndDate: end,
		CursorDate: cursor, IsActive: true,
	}
	for i := 0; i < 3; i++ {
		day := start.AddDate(0, 0, i)
		st.pending[dayKey(day)] = []store.PendingItem{{RecordingID: fmt.Sprintf("rec-%d", i)}}
	}
	proc := &scriptedProcessor{st: st}
	p := NewBatchProcessor(st, &fakeIngestor{}, proc, testConfig(), slog.Default())

	res, err := p.ProcessDateRange(context.Background(), start, end, "b-1", nil)
	if err != nil {
		t.Fatalf("ProcessDateRange: %v", err)
	}
	if res.BatchID != "b-1" {
		t.Fatalf("batch id = %s, want resumed b-1", res.BatchID)
	}
	if res.Days != 2 || res.Processed != 2 {
		t.Fatalf("result = %+v, want only the 2 days from the cursor", res)
	}
	if len(st.pending[dayKey(start)]) != 1 {
		t.Error("day before the cursor must not be reprocessed")
	}
}

func TestProcessDateRangeCountsParkedAsFailed(t *testing.T) {
	st := newFakeBatchStore()
	day := time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC)
	st.pending[dayKey(day)] = []store.PendingItem{
		{RecordingID: "good"}, {RecordingID: "bad"},
	}
	proc := &scriptedProcessor{st: st, fail: map[string]bool{"bad": true}}
	p := NewBatchProcessor(st, nil, proc, testConfig(), slog.Default())

	res, err := p.ProcessDateRange(context.Background(), day, day, "", nil)
	if err != nil {
		t.Fatalf("ProcessDateRange: %v", err)
	}
	if res.Processed != 1 || res.Parked != 1 {
		t.Fatalf("result = %+v, want 1 processed and 1 parked", res)
	}
	b := st.batches[res.BatchID]
	if b.TotalFailed != 1 {
		t.Errorf("batch total failed = %d, want 1", b.TotalFailed)
	}
}

func TestProcessDateRangeSurvivesManyItemFailures(t *testing.T) {
	st := newFakeBatchStore()
	day := time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC)
	fail := map[string]bool{}
	var items []store.PendingItem
	for i := 0; i < maxRunErrors+3; i++ {
		id := fmt.Sprintf("rec-%d", i)
		items = append(items, store.PendingItem{RecordingID: id})
		fail[id] = true
	}
	st.pending[dayKey(day)] = items
	proc := &scriptedProcessor{st: st, fail: fail}
	p := NewBatchProcessor(st, nil, proc, testConfig(), slog.Default())

	res, err := p.ProcessDateRange(context.Background(), day, day, "", nil)
	if err != nil {
		t.Fatalf("ProcessDateRange: %v", err)
	}
	if res.Aborted {
		t.Fatal("per-recording failures must not abort the window")
	}
	if res.Parked != len(items) {
		t.Fatalf("parked = %d, want %d", res.Parked, len(items))
	}
	if b := st.batches[res.BatchID]; !b.Completed {
		t.Error("batch with only item failures should complete")
	}
}

func TestProcessDateRangeAbortsAfterRepeatedDayFailures(t *testing.T) {
	st := newFakeBatchStore()
	st.pendingErr = errors.New("db down")
	start := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	proc := &scriptedProcessor{st: st}
	p := NewBatchProcessor(st, nil, proc, testConfig(), slog.Default())

	res, err := p.ProcessDateRange(context.Background(), start, start.AddDate(0, 0, 19), "", nil)
	if err != nil {
		t.Fatalf("ProcessDateRange: %v", err)
	}
	if !res.Aborted {
		t.Fatal("repeated day failures must abort the window")
	}
	if res.Days != maxRunErrors+1 {
		t.Errorf("days walked = %d, want %d before aborting", res.Days, maxRunErrors+1)
	}
	if b := st.batches[res.BatchID]; b.Completed {
		t.Error("aborted batch must not be marked completed")
	}
}

func TestProcessDateRangeStops(t *testing.T) {
	st := newFakeBatchStore()
	start := time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 9)
	proc := &scriptedProcessor{st: st}
	p := NewBatchProcessor(st, nil, proc, testConfig(), slog.Default())
	p.Stop()

	res, err := p.ProcessDateRange(context.Background(), start, end, "", nil)
	if err != nil {
		t.Fatalf("ProcessDateRange: %v", err)
	}
	if !res.Aborted || res.Days != 0 {
		t.Fatalf("result = %+v, want immediate abort", res)
	}
	if b := st.batches[res.BatchID]; b.Completed {
		t.Error("aborted batch must not be marked completed")
	}
}

func TestProcessDateRangeSurvivesSyncFailure(t *testing.T) {
	st := newFakeBatchStore()
	day := time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC)
	st.pending[dayKey(day)] = []store.PendingItem{{RecordingID: "rec-1"}}
	proc := &scriptedProcessor{st: st}
	ing := &fakeIngestor{errDay: dayKey(day)}
	p := NewBatchProcessor(st, ing, proc, testConfig(), slog.Default())

	res, err := p.ProcessDateRange(context.Background(), day, day, "", nil)
	if err != nil {
		t.Fatalf("ProcessDateRange: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("result = %+v, want pending rows processed despite sync error", res)
	}
	if len(res.Errors) == 0 {
		t.Error("sync failure should be reported in the result errors")
	}
}

func TestProcessFailedRecordingsDrainsEachStage(t *testing.T) {
	st := newFakeBatchStore()
	st.byStage[store.StageDownload] = []store.PendingItem{{RecordingID: "rec-a"}}
	st.byStage[store.StageUpload] = []store.PendingItem{{RecordingID: "rec-b"}}
	proc := &scriptedProcessor{st: st}
	p := NewBatchProcessor(st, nil, proc, testConfig(), slog.Default())

	res, err := p.ProcessFailedRecordings(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ProcessFailedRecordings: %v", err)
	}
	if res.Processed != 2 {
		t.Fatalf("result = %+v, want both re-opened recordings processed", res)
	}
	if st.resets != 1 {
		t.Errorf("resets = %d, want 1", st.resets)
	}
}

func TestProcessFailedRecordingsNoopWhenNothingReset(t *testing.T) {
	st := newFakeBatchStore()
	proc := &scriptedProcessor{st: st}
	p := NewBatchProcessor(st, nil, proc, testConfig(), slog.Default())

	res, err := p.ProcessFailedRecordings(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ProcessFailedRecordings: %v", err)
	}
	if res.Processed != 0 || len(proc.processed) != 0 {
		t.Fatalf("result = %+v, want no work", res)
	}
}
