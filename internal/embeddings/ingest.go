package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/pkg/provider/embeddings"
)

// minTranscriptChars excludes near-empty transcripts from the index; a
// handful of words carries no searchable signal.
const minTranscriptChars = 100

// defaultBatchLimit bounds how many transcripts one ingest pass embeds.
const defaultBatchLimit = 200

// Store is the persistence surface the indexer needs.
type Store interface {
	TranscriptsWithoutEmbedding(ctx context.Context, minChars, limit int) ([]store.Transcript, error)
	GetRecording(ctx context.Context, recordingID string) (*store.Recording, error)
	MeetingByRecording(ctx context.Context, recordingID string) (*store.Meeting, error)
	GetInsight(ctx context.Context, meetingID int64, layer int) (*store.InsightRow, error)
	UpsertEmbedding(ctx context.Context, row *store.EmbeddingRow) error
}

var _ Store = (*store.Store)(nil)

// Indexer embeds transcripts that have no vector yet.
type Indexer struct {
	st       Store
	provider embeddings.Provider
	log      *slog.Logger
	limit    int
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithBatchLimit bounds the number of transcripts embedded per pass.
func WithBatchLimit(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.limit = n
		}
	}
}

// NewIndexer returns an indexer writing through the given store and
// embedding provider.
func NewIndexer(st Store, provider embeddings.Provider, log *slog.Logger, opts ...Option) *Indexer {
	ix := &Indexer{
		st:       st,
		provider: provider,
		log:      log.With("component", "embeddings"),
		limit:    defaultBatchLimit,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Result summarises one ingest pass.
type Result struct {
	Indexed int
	Failed  int
}

// IngestPending embeds every transcript that lacks an embedding row.
// Failures are isolated per transcript: a provider error on one recording
// is logged and counted, and the pass continues.
func (ix *Indexer) IngestPending(ctx context.Context) (Result, error) {
	var res Result
	transcripts, err := ix.st.TranscriptsWithoutEmbedding(ctx, minTranscriptChars, ix.limit)
	if err != nil {
		return res, fmt.Errorf("embeddings: select transcripts: %w", err)
	}
	for i := range transcripts {
		t := &transcripts[i]
		if err := ix.indexTranscript(ctx, t); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			ix.log.Warn("embedding failed",
				"recording_id", t.RecordingID, "error", err)
			res.Failed++
			continue
		}
		res.Indexed++
	}
	if res.Indexed > 0 || res.Failed > 0 {
		ix.log.Info("embedding pass done",
			"indexed", res.Indexed, "failed", res.Failed)
	}
	return res, nil
}

// indexTranscript builds the enhanced text, embeds it (chunked when over
// budget), averages the chunk vectors, and upserts the row.
func (ix *Indexer) indexTranscript(ctx context.Context, t *store.Transcript) error {
	facets, err := ix.loadFacets(ctx, t)
	if err != nil {
		return fmt.Errorf("load facets: %w", err)
	}

	texts := BuildTexts(facets.Prefix(), t.Text)
	vecs, err := ix.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	vec, err := average(vecs)
	if err != nil {
		return err
	}
	if want := ix.provider.Dimensions(); len(vec) != want {
		return fmt.Errorf("provider returned %d dimensions, want %d", len(vec), want)
	}

	row := &store.EmbeddingRow{
		RecordingID:  t.RecordingID,
		Embedding:    vec,
		SourceText:   texts[0],
		Customer:     facets.Customer,
		Employee:     facets.Employee,
		CallDate:     facets.CallDate,
		Duration:     facets.Duration,
		WordCount:    facets.WordCount,
		Sentiment:    facets.Sentiment,
		QualityScore: facets.QualityScore,
		CallType:     facets.CallType,
		Issue:        facets.Issue,
		Summary:      facets.Summary,
		Topics:       facets.Topics,
		Model:        ix.provider.ModelID(),
	}
	if row.Topics == nil {
		row.Topics = []string{}
	}
	return ix.st.UpsertEmbedding(ctx, row)
}

// loadFacets assembles the filterable snapshot from the transcript, its
// recording row, and the meeting's analysis layers. Every enrichment source
// is optional: a recording with no meeting or no insights still gets
// indexed with what the transcript itself carries.
func (ix *Indexer) loadFacets(ctx context.Context, t *store.Transcript) (Facets, error) {
	f := Facets{
		Customer:  t.CustomerName,
		Employee:  t.ParticipantName,
		WordCount: t.WordCount,
	}

	rec, err := ix.st.GetRecording(ctx, t.RecordingID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return Facets{}, err
	default:
		f.CallDate = rec.StartTime
		f.Duration = rec.Duration
	}

	m, err := ix.st.MeetingByRecording(ctx, t.RecordingID)
	if errors.Is(err, store.ErrNotFound) {
		return f, nil
	}
	if err != nil {
		return Facets{}, err
	}
	f.CallType = m.MeetingType

	if ins, err := ix.st.GetInsight(ctx, m.ID, 2); err == nil {
		applySentimentFacets(&f, ins.Details)
	} else if !errors.Is(err, store.ErrNotFound) {
		return Facets{}, err
	}

	if ins, err := ix.st.GetInsight(ctx, m.ID, 3); err == nil {
		f.Issue = firstUnresolvedIssue(ins.Details)
	} else if !errors.Is(err, store.ErrNotFound) {
		return Facets{}, err
	}

	return f, nil
}

// applySentimentFacets extracts the sentiment-layer facets from its details
// document. A malformed document leaves the facets empty.
func applySentimentFacets(f *Facets, details []byte) {
	var doc struct {
		Sentiment      map[string]float64 `json:"sentiment"`
		MeetingQuality struct {
			Overall float64 `json:"overall"`
		} `json:"meeting_quality"`
		Topics  []string `json:"topics"`
		Summary string   `json:"summary"`
	}
	if err := json.Unmarshal(details, &doc); err != nil {
		return
	}
	f.Sentiment = dominantSentiment(doc.Sentiment)
	f.QualityScore = float32(doc.MeetingQuality.Overall)
	f.Topics = doc.Topics
	f.Summary = doc.Summary
}

// dominantSentiment picks the heaviest of the three sentiment weights.
// Ties resolve in positive > neutral > negative order.
func dominantSentiment(weights map[string]float64) string {
	best, bestWeight := "", -1.0
	for _, name := range []string{"positive", "neutral", "negative"} {
		if w, ok := weights[name]; ok && w > bestWeight {
			best, bestWeight = name, w
		}
	}
	return best
}

// firstUnresolvedIssue pulls the leading unresolved issue from the
// resolution layer's details, or "" when there is none.
func firstUnresolvedIssue(details []byte) string {
	var doc struct {
		UnresolvedIssues []string `json:"unresolved_issues"`
	}
	if err := json.Unmarshal(details, &doc); err != nil {
		return ""
	}
	if len(doc.UnresolvedIssues) == 0 {
		return ""
	}
	return doc.UnresolvedIssues[0]
}
