package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/convoscope/convoscope/internal/resilience"
	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/pkg/provider/llm"
)

// MeetingStore is the persistence surface the cascade works against.
// *store.Store satisfies it.
type MeetingStore interface {
	MeetingsForLayer(ctx context.Context, layer, limit int) ([]store.Meeting, error)
	GetInsight(ctx context.Context, meetingID int64, layer int) (*store.InsightRow, error)
	UpsertInsight(ctx context.Context, row *store.InsightRow) error
	SetLayerComplete(ctx context.Context, id int64, layer int) error
	SetMeetingType(ctx context.Context, id int64, meetingType string) error
}

// ProviderResolver picks the chat provider for a routing task. *Router
// satisfies it.
type ProviderResolver interface {
	ProviderFor(task string) (llm.Provider, error)
}

var (
	_ MeetingStore     = (*store.Store)(nil)
	_ ProviderResolver = (*Router)(nil)
)

// meetingTypes is the closed classification set for layer 1. Anything the
// model invents outside it collapses to "other".
var meetingTypes = map[string]struct{}{
	"sales_call":       {},
	"support_call":     {},
	"customer_success": {},
	"internal":         {},
	"interview":        {},
	"training":         {},
	"other":            {},
}

// CanonicalMeetingType maps a model-reported meeting type onto the closed
// set, defaulting to "other".
func CanonicalMeetingType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if _, ok := meetingTypes[t]; ok {
		return t
	}
	return "other"
}

// LayerStats summarises one layer pass.
type LayerStats struct {
	Layer     int
	Eligible  int
	Completed int
	Defaulted int // completed with the layer's fallback document
	Failed    int
}

// PassStats aggregates a full cascade pass over all six layers.
type PassStats struct {
	Layers    [6]LayerStats
	Completed int
	Failed    int
}

// Cascade drives meetings through the six analysis layers. Each layer pass
// selects eligible meetings (predecessor flag set, own flag clear), calls
// the routed model, recovers and validates the JSON reply, persists the
// insight row, and marks the layer complete. A meeting failing one layer
// stays incomplete and is retried on the next pass without blocking others.
type Cascade struct {
	st       MeetingStore
	resolver ProviderResolver
	log      *slog.Logger

	parallelism int
	batchLimit  int
	retry       resilience.RetryConfig
	breakers    *resilience.BreakerGroup
}

// Option configures a Cascade.
type Option func(*Cascade)

// WithParallelism bounds concurrent meetings per layer pass. Default 2.
func WithParallelism(n int) Option {
	return func(c *Cascade) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// WithBatchLimit caps how many meetings one layer pass selects. Default 50.
func WithBatchLimit(n int) Option {
	return func(c *Cascade) {
		if n > 0 {
			c.batchLimit = n
		}
	}
}

// WithRetry overrides the per-completion retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Cascade) { c.retry = cfg }
}

// NewCascade builds a cascade over the given store and provider router.
func NewCascade(st MeetingStore, resolver ProviderResolver, log *slog.Logger, opts ...Option) *Cascade {
	if log == nil {
		log = slog.Default()
	}
	c := &Cascade{
		st:          st,
		resolver:    resolver,
		log:         log,
		parallelism: 2,
		batchLimit:  50,
		retry:       resilience.RetryConfig{Name: "llm completion", MaxAttempts: 3},
		breakers:    resilience.NewBreakerGroup(resilience.BreakerConfig{Logger: log}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RunPass runs layers 1 through 6 in order. Meetings completing layer N
// early in the pass are picked up by layer N+1 in the same pass. The error
// return covers store or context failures only; per-meeting analysis
// failures are counted in the stats.
func (c *Cascade) RunPass(ctx context.Context) (*PassStats, error) {
	stats := &PassStats{}
	for n := 1; n <= 6; n++ {
		ls, err := c.RunLayer(ctx, n)
		if err != nil {
			return stats, err
		}
		stats.Layers[n-1] = *ls
		stats.Completed += ls.Completed
		stats.Failed += ls.Failed
	}
	return stats, nil
}

// RunLayer processes all currently eligible meetings for one layer.
func (c *Cascade) RunLayer(ctx context.Context, layer int) (*LayerStats, error) {
	if layer < 1 || layer > 6 {
		return nil, fmt.Errorf("analysis: run layer: layer %d out of range", layer)
	}
	l := Layers[layer-1]

	meetings, err := c.st.MeetingsForLayer(ctx, layer, c.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("analysis: select meetings for layer %d: %w", layer, err)
	}

	stats := &LayerStats{Layer: layer, Eligible: len(meetings)}
	if len(meetings) == 0 {
		return stats, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i := range meetings {
		m := meetings[i]
		g.Go(func() error {
			defaulted, err := c.processMeeting(gctx, l, &m)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
				c.log.Warn("layer analysis failed",
					"layer", layer, "meeting", m.ID, "recording", m.RecordingID, "error", err)
			case defaulted:
				stats.Completed++
				stats.Defaulted++
			default:
				stats.Completed++
			}
			// Meeting failures never cancel the group; only context death does.
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	c.log.Info("layer pass done",
		"layer", layer, "name", l.Name,
		"eligible", stats.Eligible, "completed", stats.Completed,
		"defaulted", stats.Defaulted, "failed", stats.Failed)
	return stats, nil
}

// processMeeting runs one layer for one meeting. The defaulted return is
// true when the fallback document was persisted in place of the model's
// reply. An error leaves the layer flag clear for a later retry.
func (c *Cascade) processMeeting(ctx context.Context, l Layer, m *store.Meeting) (defaulted bool, err error) {
	transcript := strings.TrimSpace(m.TranscriptText)
	if transcript == "" {
		return false, fmt.Errorf("meeting %d has no transcript", m.ID)
	}

	prior, err := c.priorContext(ctx, l.N, m.ID)
	if err != nil {
		return false, err
	}

	provider, err := c.resolver.ProviderFor(l.Task)
	if err != nil {
		return false, err
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{llm.UserMessage(l.BuildPrompt(transcript, prior))},
		Temperature:  l.Temperature,
		MaxTokens:    l.MaxTokens,
	}

	start := time.Now()
	var resp *llm.CompletionResponse
	// One breaker per routed task, so a dead model endpoint for one layer
	// does not block the others.
	err = c.breakers.For(l.Task).Do(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
			var cerr error
			resp, cerr = provider.Complete(ctx, req)
			return cerr
		})
	})
	if err != nil {
		return false, fmt.Errorf("layer %d completion: %w", l.N, err)
	}

	doc, status := ExtractJSON(resp.Content)
	if status == ParseFailed {
		c.log.Warn("layer reply unparseable, using default",
			"layer", l.N, "meeting", m.ID, "reply_len", len(resp.Content))
		doc, defaulted = l.Default(), true
	} else if verr := ValidateLayerDoc(l.N, doc); verr != nil {
		c.log.Warn("layer reply failed validation, using default",
			"layer", l.N, "meeting", m.ID, "parse", status.String(), "error", verr)
		doc, defaulted = l.Default(), true
	}

	score, label, summary := l.Extract(doc)
	row := &store.InsightRow{
		MeetingID: m.ID,
		Layer:     l.N,
		Score:     float32(score),
		Label:     label,
		Summary:   summary,
		Details:   doc,
		Model:     provider.ModelID(),
	}
	if err := c.st.UpsertInsight(ctx, row); err != nil {
		return defaulted, fmt.Errorf("persist layer %d insight: %w", l.N, err)
	}

	if l.N == 1 {
		if err := c.st.SetMeetingType(ctx, m.ID, CanonicalMeetingType(label)); err != nil {
			return defaulted, fmt.Errorf("set meeting type: %w", err)
		}
	}

	if err := c.st.SetLayerComplete(ctx, m.ID, l.N); err != nil {
		return defaulted, fmt.Errorf("mark layer %d complete: %w", l.N, err)
	}

	c.log.Debug("layer complete",
		"layer", l.N, "meeting", m.ID,
		"parse", status.String(), "defaulted", defaulted,
		"tokens", resp.Usage.TotalTokens,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return defaulted, nil
}

// priorContext assembles the predecessor layers' summary lines for the
// prompt. Missing rows are skipped; a layer that completed with its default
// contributes its (mostly empty) summary like any other.
func (c *Cascade) priorContext(ctx context.Context, layer int, meetingID int64) (string, error) {
	if layer == 1 {
		return "", nil
	}
	var b strings.Builder
	for n := 1; n < layer; n++ {
		row, err := c.st.GetInsight(ctx, meetingID, n)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return "", fmt.Errorf("load layer %d insight: %w", n, err)
		}
		fmt.Fprintf(&b, "[%s]", Layers[n-1].Name)
		if row.Label != "" {
			fmt.Fprintf(&b, " %s", row.Label)
		}
		if row.Score != 0 {
			fmt.Fprintf(&b, " (score %.2f)", row.Score)
		}
		if row.Summary != "" {
			fmt.Fprintf(&b, ": %s", row.Summary)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
