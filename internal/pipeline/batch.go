package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/convoscope/convoscope/internal/store"
)

var (
	_ BatchStore    = (*store.Store)(nil)
	_ ItemProcessor = (*Worker)(nil)
)

// maxRunErrors aborts a date-range run once this many days fail outright.
// Per-recording failures stay in the day's counters and never abort the
// window; the batch checkpoint lets an aborted run resume.
const maxRunErrors = 5

// BatchStore is the persistence surface of the batch processor. *store.Store
// satisfies it.
type BatchStore interface {
	CreateBatch(ctx context.Context, b *store.Batch) error
	LoadBatch(ctx context.Context, batchID string) (*store.Batch, error)
	UpdateBatch(ctx context.Context, b *store.Batch) error
	CompleteBatch(ctx context.Context, b *store.Batch) error
	PendingOnDate(ctx context.Context, day time.Time, limit int) ([]store.PendingItem, error)
	PendingForStage(ctx context.Context, stage store.Stage, limit int) ([]store.PendingItem, error)
	ResetFailedStages(ctx context.Context, maxAge time.Duration, maxRetries int) (int, error)
}

// Ingestor discovers and queues one calendar day's recordings as pending
// rows, returning how many were newly queued. The ingestion adapters
// satisfy it.
type Ingestor interface {
	SyncDay(ctx context.Context, day time.Time) (int, error)
}

// ItemProcessor runs one recording through its stages. *Worker satisfies it.
type ItemProcessor interface {
	ProcessRecording(ctx context.Context, recordingID string) (ItemStatus, error)
}

// Progress is a per-day progress callback.
type Progress func(day time.Time, processed, failed int)

// Result summarises one batch run.
type Result struct {
	BatchID   string
	Days      int
	Queued    int
	Processed int
	Failed    int
	Parked    int
	Skipped   int
	Aborted   bool
	Errors    []string
}

// Config tunes the batch processor.
type Config struct {
	WorkerCount int           // concurrent item workers, default 4
	BatchSize   int           // items selected per inner batch, default 50
	MaxRetries  int           // retry budget handed to the failure sweep
	BatchPause  time.Duration // sleep between inner batches, default 2s
}

func (c *Config) applyDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BatchPause <= 0 {
		c.BatchPause = 2 * time.Second
	}
}

// BatchProcessor processes date windows end-to-end with bounded
// concurrency, durable per-day checkpoints, and cooperative stop.
type BatchProcessor struct {
	st       BatchStore
	ingestor Ingestor
	worker   ItemProcessor
	cfg      Config
	log      *slog.Logger

	stopped atomic.Bool
}

// NewBatchProcessor wires a processor. The ingestor may be nil, in which
// case days are processed from already-queued pending rows only.
func NewBatchProcessor(st BatchStore, ing Ingestor, worker ItemProcessor, cfg Config, log *slog.Logger) *BatchProcessor {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &BatchProcessor{st: st, ingestor: ing, worker: worker, cfg: cfg, log: log}
}

// Stop requests cooperative cancellation. Workers finish their current item.
func (p *BatchProcessor) Stop() { p.stopped.Store(true) }

// resetStop re-arms the processor for the next run.
func (p *BatchProcessor) resetStop() { p.stopped.Store(false) }

// ProcessDateRange drives [start, end] one calendar day at a time. When
// resumeBatchID names an existing batch its cursor date is picked up;
// otherwise a fresh batch row is created. The batch row is checkpointed
// after every day so an aborted run resumes where it left off.
func (p *BatchProcessor) ProcessDateRange(ctx context.Context, start, end time.Time, resumeBatchID string, progress Progress) (*Result, error) {
	p.resetStop()
	start = start.UTC().Truncate(24 * time.Hour)
	end = end.UTC().Truncate(24 * time.Hour)
	if end.Before(start) {
		return nil, fmt.Errorf("pipeline: date range end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	batch, err := p.openBatch(ctx, start, end, resumeBatchID)
	if err != nil {
		return nil, err
	}

	res := &Result{BatchID: batch.BatchID}
	failedDays := 0
	for day := batch.CursorDate; !day.After(end); day = day.AddDate(0, 0, 1) {
		if p.stopped.Load() || ctx.Err() != nil {
			res.Aborted = true
			break
		}

		dayRes, err := p.processDay(ctx, day)
		res.Days++
		res.Queued += dayRes.Queued
		res.Processed += dayRes.Processed
		res.Failed += dayRes.Failed
		res.Parked += dayRes.Parked
		res.Skipped += dayRes.Skipped
		res.Errors = append(res.Errors, dayRes.Errors...)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", day.Format("2006-01-02"), err))
			batch.ErrorCount++
			batch.LastError = err.Error()
			failedDays++
		}

		batch.CursorDate = day.AddDate(0, 0, 1)
		batch.TotalProcessed += dayRes.Processed
		batch.TotalFailed += dayRes.Failed + dayRes.Parked
		if uerr := p.st.UpdateBatch(ctx, batch); uerr != nil {
			return res, fmt.Errorf("pipeline: checkpoint batch %s: %w", batch.BatchID, uerr)
		}
		if progress != nil {
			progress(day, res.Processed, res.Failed+res.Parked)
		}

		if failedDays > maxRunErrors {
			p.log.Error("aborting date range, failed-day budget exhausted",
				"batch", batch.BatchID, "failed_days", failedDays)
			res.Aborted = true
			break
		}
	}

	if !res.Aborted {
		if err := p.st.CompleteBatch(ctx, batch); err != nil {
			return res, fmt.Errorf("pipeline: complete batch %s: %w", batch.BatchID, err)
		}
	}
	p.log.Info("date range done",
		"batch", batch.BatchID, "days", res.Days,
		"processed", res.Processed, "failed", res.Failed,
		"parked", res.Parked, "aborted", res.Aborted)
	return res, nil
}

func (p *BatchProcessor) openBatch(ctx context.Context, start, end time.Time, resumeBatchID string) (*store.Batch, error) {
	if resumeBatchID != "" {
		batch, err := p.st.LoadBatch(ctx, resumeBatchID)
		if err == nil {
			return batch, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("pipeline: load batch %s: %w", resumeBatchID, err)
		}
		p.log.Warn("resume batch not found, starting fresh", "batch", resumeBatchID)
	}
	batch := &store.Batch{
		BatchID:    uuid.NewString(),
		StartDate:  start,
		EndDate:    end,
		CursorDate: start,
		IsActive:   true,
	}
	if err := p.st.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("pipeline: create batch: %w", err)
	}
	return batch, nil
}

// processDay syncs one day from the providers and drains its pending set.
func (p *BatchProcessor) processDay(ctx context.Context, day time.Time) (*Result, error) {
	res := &Result{}
	if p.ingestor != nil {
		queued, err := p.ingestor.SyncDay(ctx, day)
		res.Queued = queued
		if err != nil {
			// Queued rows from the partial sync still get processed below.
			res.Errors = append(res.Errors, fmt.Sprintf("sync %s: %v", day.Format("2006-01-02"), err))
		}
	}

	for !p.stopped.Load() && ctx.Err() == nil {
		items, err := p.st.PendingOnDate(ctx, day, p.cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("select pending: %w", err)
		}
		if len(items) == 0 {
			break
		}

		batchRes := p.processItems(ctx, items)
		res.Processed += batchRes.Processed
		res.Failed += batchRes.Failed
		res.Parked += batchRes.Parked
		res.Skipped += batchRes.Skipped
		res.Errors = append(res.Errors, batchRes.Errors...)

		// Anything the workers could not move off pending would spin this
		// loop forever; stop once a full batch yields no completions.
		if batchRes.Processed == 0 {
			break
		}

		select {
		case <-time.After(p.cfg.BatchPause):
		case <-ctx.Done():
		}
	}
	return res, nil
}

// processItems fans one batch of pending items across the worker pool.
func (p *BatchProcessor) processItems(ctx context.Context, items []store.PendingItem) *Result {
	res := &Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.WorkerCount)
	for _, it := range items {
		id := it.RecordingID
		g.Go(func() error {
			if p.stopped.Load() {
				return nil
			}
			status, err := p.worker.ProcessRecording(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case ItemCompleted:
				res.Processed++
			case ItemSkipped:
				res.Skipped++
			case ItemParked:
				res.Parked++
				res.Errors = append(res.Errors, fmt.Sprintf("%s parked: %v", id, err))
			default:
				res.Failed++
				if err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", id, err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// ProcessFailedRecordings re-opens failed stages within the retry budget
// and drains each stage's pending set. maxAge guards against re-running
// items that failed moments ago.
func (p *BatchProcessor) ProcessFailedRecordings(ctx context.Context, maxAge time.Duration) (*Result, error) {
	p.resetStop()
	reset, err := p.st.ResetFailedStages(ctx, maxAge, p.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reset failed stages: %w", err)
	}
	res := &Result{}
	if reset == 0 {
		return res, nil
	}
	p.log.Info("re-opened failed stages", "count", reset)

	for _, stage := range stageOrder {
		for !p.stopped.Load() && ctx.Err() == nil {
			items, err := p.st.PendingForStage(ctx, stage, p.cfg.BatchSize)
			if err != nil {
				return res, fmt.Errorf("pipeline: pending for %s: %w", stage, err)
			}
			if len(items) == 0 {
				break
			}
			batchRes := p.processItems(ctx, items)
			res.Processed += batchRes.Processed
			res.Failed += batchRes.Failed
			res.Parked += batchRes.Parked
			res.Skipped += batchRes.Skipped
			res.Errors = append(res.Errors, batchRes.Errors...)
			if batchRes.Processed == 0 {
				break
			}
		}
	}
	return res, nil
}
