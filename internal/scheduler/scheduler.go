// Package scheduler supervises the pipeline's wall-clock work: the daily
// processing pass, the hourly health probe, and the periodic metrics tick.
// It is the only component that decides when work happens; what happens is
// delegated to the batch processor, the analytical cascade, the embedding
// indexer, and the notetaker sync.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/convoscope/convoscope/internal/alerts"
	"github.com/convoscope/convoscope/internal/analysis"
	"github.com/convoscope/convoscope/internal/embeddings"
	"github.com/convoscope/convoscope/internal/health"
	"github.com/convoscope/convoscope/internal/ingest"
	"github.com/convoscope/convoscope/internal/observe"
	"github.com/convoscope/convoscope/internal/pipeline"
	"github.com/convoscope/convoscope/internal/store"
)

const (
	tickInterval    = time.Minute
	healthInterval  = time.Hour
	metricsInterval = 5 * time.Minute

	// stateKeyLastRun is the persistent watermark of the last daily pass
	// that completed without aborting.
	stateKeyLastRun = "scheduler/last_successful_run"

	// stateKeyActiveRun marks a pass in flight. It is deactivated when the
	// pass ends and reaped later by the retention sweep.
	stateKeyActiveRun = "scheduler/active_run"

	// stateRetentionDays bounds how long deactivated state rows are kept.
	stateRetentionDays = 30

	// failedSweepMaxAge keeps the failure sweep away from items that
	// failed within the last hour; those get their shot on the next pass.
	failedSweepMaxAge = time.Hour
)

// ErrRunInProgress is returned when a daily or historical run is requested
// while another is still active. Only one run may be in flight.
var ErrRunInProgress = errors.New("scheduler: a processing run is already in progress")

// BatchRunner drives recordings through their stages over a date window.
type BatchRunner interface {
	ProcessDateRange(ctx context.Context, start, end time.Time, resumeBatchID string, progress pipeline.Progress) (*pipeline.Result, error)
	ProcessFailedRecordings(ctx context.Context, maxAge time.Duration) (*pipeline.Result, error)
}

// CascadeRunner runs the six analysis layers over eligible meetings.
type CascadeRunner interface {
	RunPass(ctx context.Context) (*analysis.PassStats, error)
}

// Indexer embeds transcripts that have no vector yet.
type Indexer interface {
	IngestPending(ctx context.Context) (embeddings.Result, error)
}

// NotetakerSyncer pulls per-employee notetaker meetings.
type NotetakerSyncer interface {
	Sync(ctx context.Context) (*ingest.NotetakerSyncResult, error)
}

// HealthChecker gates the daily pass and feeds the hourly probe.
type HealthChecker interface {
	Check(ctx context.Context) *health.Report
}

// StateStore persists the run watermark and answers status queries.
type StateStore interface {
	SaveState(ctx context.Context, key string, snapshot any) error
	LoadState(ctx context.Context, key string, out any) error
	DeactivateState(ctx context.Context, key string) error
	CleanupOldStates(ctx context.Context, days int) (int, error)
	ProcessingSummary(ctx context.Context) (*store.Summary, error)
}

// Alerter delivers run-outcome and health alerts.
type Alerter interface {
	Alert(ctx context.Context, p alerts.Priority, title, message string)
}

// MetricsSink receives the periodic queue-depth observation.
type MetricsSink interface {
	RecordQueueDepths(ctx context.Context, s *store.Summary)
}

var (
	_ BatchRunner   = (*pipeline.BatchProcessor)(nil)
	_ CascadeRunner = (*analysis.Cascade)(nil)
	_ Indexer       = (*embeddings.Indexer)(nil)
	_ HealthChecker = (*health.Checker)(nil)
	_ StateStore    = (*store.Store)(nil)
	_ Alerter       = (*alerts.Manager)(nil)
	_ MetricsSink   = (*observe.Metrics)(nil)
)

// Config tunes the scheduler.
type Config struct {
	// DailyTime is the wall-clock HH:MM (UTC) of the daily pass.
	DailyTime string

	// HistoricalDays is the lookback window used when no previous
	// successful run is recorded. Default 60.
	HistoricalDays int

	// SnapshotDir receives the JSON state mirrors. Empty disables them.
	SnapshotDir string
}

// runState is the persisted watermark snapshot.
type runState struct {
	LastSuccessfulRun time.Time `json:"last_successful_run"`
	BatchID           string    `json:"batch_id"`
}

// activeRun is the persisted marker of a pass in flight.
type activeRun struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	StartedAt   time.Time `json:"started_at"`
}

// DailyResult aggregates one full pass.
type DailyResult struct {
	WindowStart time.Time                   `json:"window_start"`
	WindowEnd   time.Time                   `json:"window_end"`
	Batch       *pipeline.Result            `json:"batch,omitempty"`
	Retried     *pipeline.Result            `json:"retried,omitempty"`
	Notetaker   *ingest.NotetakerSyncResult `json:"notetaker,omitempty"`
	Cascade     *analysis.PassStats         `json:"cascade,omitempty"`
	Embeddings  embeddings.Result           `json:"embeddings"`
	Errors      []string                    `json:"errors,omitempty"`
	StartedAt   time.Time                   `json:"started_at"`
	FinishedAt  time.Time                   `json:"finished_at"`
}

// Scheduler owns the supervising loop. Construct with New, then call Run
// once; Run returns when the context is cancelled.
type Scheduler struct {
	batch     BatchRunner
	cascade   CascadeRunner
	indexer   Indexer
	notetaker NotetakerSyncer // optional
	healthc   HealthChecker
	st        StateStore
	alerter   Alerter
	metrics   MetricsSink // optional
	snap      *Snapshotter
	log       *slog.Logger

	historicalDays         int
	dailyHour, dailyMinute int

	running atomic.Bool

	// Loop-local tick state; touched only by Run's goroutine.
	triggeredDay string
	lastHealth   time.Time
	lastMetrics  time.Time
}

// New builds a scheduler. notetaker and metrics may be nil.
func New(
	batch BatchRunner,
	cascade CascadeRunner,
	indexer Indexer,
	notetaker NotetakerSyncer,
	healthc HealthChecker,
	st StateStore,
	alerter Alerter,
	metrics MetricsSink,
	cfg Config,
	log *slog.Logger,
) (*Scheduler, error) {
	hour, minute, err := parseClock(cfg.DailyTime)
	if err != nil {
		return nil, err
	}
	if cfg.HistoricalDays <= 0 {
		cfg.HistoricalDays = 60
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		batch:          batch,
		cascade:        cascade,
		indexer:        indexer,
		notetaker:      notetaker,
		healthc:        healthc,
		st:             st,
		alerter:        alerter,
		metrics:        metrics,
		log:            log.With("component", "scheduler"),
		historicalDays: cfg.HistoricalDays,
		dailyHour:      hour,
		dailyMinute:    minute,
	}
	if cfg.SnapshotDir != "" {
		s.snap = NewSnapshotter(cfg.SnapshotDir)
	}
	return s, nil
}

// parseClock validates and splits an "HH:MM" wall-clock time.
func parseClock(v string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("scheduler: daily schedule time %q: want HH:MM", v)
	}
	return t.Hour(), t.Minute(), nil
}

// Running reports whether a daily or historical run is active.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Run executes the supervising loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		"daily_at", fmt.Sprintf("%02d:%02d", s.dailyHour, s.dailyMinute),
		"historical_days", s.historicalDays)

	// Probe immediately so a broken deployment alerts at startup, not an
	// hour in.
	s.healthTick(ctx, time.Now().UTC())

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

// tick dispatches whatever the current minute owes.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	day := now.Format(time.DateOnly)
	if now.Hour() == s.dailyHour && now.Minute() == s.dailyMinute && s.triggeredDay != day {
		s.triggeredDay = day
		go func() {
			if _, err := s.RunDaily(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
				s.log.Error("daily pass failed", "error", err)
			}
		}()
	}
	if now.Sub(s.lastHealth) >= healthInterval {
		s.lastHealth = now
		s.healthTick(ctx, now)
	}
	if now.Sub(s.lastMetrics) >= metricsInterval {
		s.lastMetrics = now
		s.metricsTick(ctx)
	}
}

// healthTick runs the probes, mirrors the report, and alerts on blocking
// states.
func (s *Scheduler) healthTick(ctx context.Context, now time.Time) {
	rep := s.healthc.Check(ctx)
	s.writeSnapshot(snapLastCheck, struct {
		Status string `json:"status"`
		*health.Report
	}{rep.Status.String(), rep})

	if rep.Status.Blocking() {
		priority := alerts.PriorityHigh
		if rep.Status == health.Critical {
			priority = alerts.PriorityCritical
		}
		s.alerter.Alert(ctx, priority, "pipeline health "+rep.Status.String(),
			fmt.Sprintf("health probe at %s: %v", now.Format(time.RFC3339), rep.Checks))
	}
}

// metricsTick publishes queue depths.
func (s *Scheduler) metricsTick(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	summary, err := s.st.ProcessingSummary(ctx)
	if err != nil {
		s.log.Warn("processing summary for metrics failed", "error", err)
		return
	}
	s.metrics.RecordQueueDepths(ctx, summary)
}

// RunDaily executes one full pass over the window from the last successful
// run (or the historical lookback on first run) through today. Only one
// run may be active; concurrent calls get ErrRunInProgress.
func (s *Scheduler) RunDaily(ctx context.Context) (*DailyResult, error) {
	start, end, err := s.window(ctx)
	if err != nil {
		return nil, err
	}
	return s.runWindow(ctx, start, end)
}

// RunHistorical executes one pass over an explicit window, for operator
// backfills.
func (s *Scheduler) RunHistorical(ctx context.Context, start, end time.Time) (*DailyResult, error) {
	return s.runWindow(ctx, start.UTC(), end.UTC())
}

// window resolves the daily date range from the persisted watermark. The
// watermark day itself is re-synced: late-arriving recordings land there,
// and ingestion is idempotent.
func (s *Scheduler) window(ctx context.Context) (start, end time.Time, err error) {
	end = time.Now().UTC().Truncate(24 * time.Hour)

	var state runState
	err = s.st.LoadState(ctx, stateKeyLastRun, &state)
	switch {
	case errors.Is(err, store.ErrNotFound):
		start = end.AddDate(0, 0, -s.historicalDays)
	case err != nil:
		return start, end, fmt.Errorf("scheduler: load watermark: %w", err)
	default:
		start = state.LastSuccessfulRun.UTC().Truncate(24 * time.Hour)
	}
	return start, end, nil
}

func (s *Scheduler) runWindow(ctx context.Context, start, end time.Time) (*DailyResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	res := &DailyResult{WindowStart: start, WindowEnd: end, StartedAt: time.Now().UTC()}

	// Health gate: a blocking estate means the pass would only pile up
	// failures.
	rep := s.healthc.Check(ctx)
	if rep.Status.Blocking() {
		s.alerter.Alert(ctx, alerts.PriorityCritical, "daily pass aborted",
			fmt.Sprintf("health %s before run: %v", rep.Status, rep.Checks))
		return nil, fmt.Errorf("scheduler: health %s, refusing to run", rep.Status)
	}

	if err := s.st.SaveState(ctx, stateKeyActiveRun,
		activeRun{WindowStart: start, WindowEnd: end, StartedAt: res.StartedAt}); err != nil {
		s.log.Warn("active-run state save failed", "error", err)
	}
	defer func() {
		if err := s.st.DeactivateState(ctx, stateKeyActiveRun); err != nil {
			s.log.Warn("active-run state deactivate failed", "error", err)
		}
	}()

	s.log.Info("daily pass starting",
		"from", start.Format(time.DateOnly), "to", end.Format(time.DateOnly))

	batchRes, err := s.batch.ProcessDateRange(ctx, start, end, "", s.progress)
	if err != nil {
		return res, fmt.Errorf("scheduler: date range: %w", err)
	}
	res.Batch = batchRes

	// The remaining phases are isolated: a notetaker outage must not stop
	// analysis of what the batch just transcribed.
	if retried, err := s.batch.ProcessFailedRecordings(ctx, failedSweepMaxAge); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("failure sweep: %v", err))
	} else {
		res.Retried = retried
	}
	if s.notetaker != nil {
		if nres, err := s.notetaker.Sync(ctx); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("notetaker sync: %v", err))
		} else {
			res.Notetaker = nres
		}
	}
	if stats, err := s.cascade.RunPass(ctx); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("analysis cascade: %v", err))
	} else {
		res.Cascade = stats
	}
	if eres, err := s.indexer.IngestPending(ctx); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("embedding ingest: %v", err))
	} else {
		res.Embeddings = eres
	}

	if !batchRes.Aborted {
		state := runState{LastSuccessfulRun: end, BatchID: batchRes.BatchID}
		if err := s.st.SaveState(ctx, stateKeyLastRun, state); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("save watermark: %v", err))
		}
	}

	if n, err := s.st.CleanupOldStates(ctx, stateRetentionDays); err != nil {
		s.log.Warn("state retention sweep failed", "error", err)
	} else if n > 0 {
		s.log.Info("reaped old processing states", "removed", n)
	}

	res.FinishedAt = time.Now().UTC()
	s.writeSnapshot(snapCheckSummary, res)
	if summary, err := s.st.ProcessingSummary(ctx); err == nil {
		s.writeSnapshot(snapProcessingSummary, summary)
	}

	s.report(ctx, res)
	return res, nil
}

// progress is the per-day batch callback; checkpointing already happened in
// the processor, this is visibility only.
func (s *Scheduler) progress(day time.Time, processed, failed int) {
	s.log.Info("daily pass progress",
		"day", day.Format(time.DateOnly), "processed", processed, "failed", failed)
}

// report emits the completion alert, priority scaled by outcome.
func (s *Scheduler) report(ctx context.Context, res *DailyResult) {
	failed := len(res.Errors)
	var aborted bool
	if res.Batch != nil {
		failed += res.Batch.Failed + res.Batch.Parked
		aborted = res.Batch.Aborted
	}

	priority := alerts.PriorityInfo
	switch {
	case aborted:
		priority = alerts.PriorityHigh
	case failed > 0:
		priority = alerts.PriorityWarning
	}

	msg := fmt.Sprintf("window %s..%s", res.WindowStart.Format(time.DateOnly), res.WindowEnd.Format(time.DateOnly))
	if res.Batch != nil {
		msg += fmt.Sprintf(", processed %d, failed %d, parked %d",
			res.Batch.Processed, res.Batch.Failed, res.Batch.Parked)
	}
	if res.Cascade != nil {
		msg += fmt.Sprintf(", insights %d", res.Cascade.Completed)
	}
	msg += fmt.Sprintf(", embedded %d", res.Embeddings.Indexed)
	if aborted {
		msg += " (aborted)"
	}
	s.alerter.Alert(ctx, priority, "daily pass finished", msg)
}

func (s *Scheduler) writeSnapshot(name string, v any) {
	if s.snap == nil {
		return
	}
	if err := s.snap.Write(name, v); err != nil {
		s.log.Warn("snapshot write failed", "file", name, "error", err)
	}
}
