// Package mcptool exposes a read-only MCP server over stdio so operator
// tooling and LLM agents can query the conversation estate.
//
// Two tools are served: semantic_search runs a facet-filtered
// nearest-neighbour query against the embedding index, and
// processing_summary reports the pipeline backlog. Neither tool mutates
// any state.
package mcptool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/convoscope/convoscope/internal/embeddings"
	"github.com/convoscope/convoscope/internal/store"
)

// maxSearchLimit caps the number of hits a single tool call may request.
const maxSearchLimit = 50

// SearchService answers semantic queries.
type SearchService interface {
	Search(ctx context.Context, query string, filter store.SearchFilter, limit int) ([]store.SearchResult, error)
}

// SummaryStore reports pipeline backlog counts.
type SummaryStore interface {
	ProcessingSummary(ctx context.Context) (*store.Summary, error)
}

var (
	_ SearchService = (*embeddings.Searcher)(nil)
	_ SummaryStore  = (*store.Store)(nil)
)

// Server wraps an MCP server with the Convoscope query tools registered.
type Server struct {
	search SearchService
	st     SummaryStore
	log    *slog.Logger
	mcp    *mcp.Server
}

// New returns a server with both tools registered. version is reported to
// clients during the MCP handshake.
func New(search SearchService, st SummaryStore, version string, log *slog.Logger) *Server {
	s := &Server{
		search: search,
		st:     st,
		log:    log.With("component", "mcptool"),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "convoscope",
		Version: version,
	}, nil)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "semantic_search",
		Description: "Search analysed call recordings by meaning. Returns the " +
			"closest matches to the query, optionally restricted by employee, " +
			"customer, sentiment, call date range and minimum quality score.",
	}, s.semanticSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "processing_summary",
		Description: "Report the current pipeline backlog: pending and failed " +
			"recordings per stage, parked items and active batches.",
	}, s.processingSummary)

	return s
}

// Run serves MCP over stdio until ctx is cancelled or the peer disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("mcp server listening on stdio")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcptool: run: %w", err)
	}
	return nil
}

// Connect binds the server to the given transport and returns the session.
// Used by tests and embedded setups; stdio callers use [Server.Run].
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// searchInput is the semantic_search tool argument schema.
type searchInput struct {
	Query      string  `json:"query" jsonschema:"natural-language description of what to find"`
	Employee   string  `json:"employee,omitempty" jsonschema:"restrict to calls handled by this employee (substring match)"`
	Customer   string  `json:"customer,omitempty" jsonschema:"restrict to calls with this customer (substring match)"`
	Sentiment  string  `json:"sentiment,omitempty" jsonschema:"restrict to calls with this dominant sentiment: positive, neutral or negative"`
	DateFrom   string  `json:"date_from,omitempty" jsonschema:"earliest call date, YYYY-MM-DD"`
	DateTo     string  `json:"date_to,omitempty" jsonschema:"latest call date, YYYY-MM-DD"`
	MinQuality float32 `json:"min_quality,omitempty" jsonschema:"minimum meeting quality score, 0-10"`
	Limit      int     `json:"limit,omitempty" jsonschema:"maximum number of hits, default 10, max 50"`
}

// searchHit is one semantic_search result row.
type searchHit struct {
	RecordingID  string   `json:"recording_id"`
	Similarity   float32  `json:"similarity"`
	Customer     string   `json:"customer,omitempty"`
	Employee     string   `json:"employee,omitempty"`
	CallDate     string   `json:"call_date,omitempty"`
	CallType     string   `json:"call_type,omitempty"`
	Sentiment    string   `json:"sentiment,omitempty"`
	QualityScore float32  `json:"quality_score,omitempty"`
	Issue        string   `json:"issue,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Topics       []string `json:"topics,omitempty"`
}

type searchOutput struct {
	Hits []searchHit `json:"hits"`
}

func (s *Server) semanticSearch(ctx context.Context, _ *mcp.CallToolRequest, in searchInput) (*mcp.CallToolResult, searchOutput, error) {
	filter := store.SearchFilter{
		Employee:   strings.TrimSpace(in.Employee),
		Customer:   strings.TrimSpace(in.Customer),
		Sentiment:  strings.ToLower(strings.TrimSpace(in.Sentiment)),
		MinQuality: in.MinQuality,
	}
	var err error
	if filter.DateFrom, err = parseDate(in.DateFrom); err != nil {
		return nil, searchOutput{}, fmt.Errorf("date_from: %w", err)
	}
	if filter.DateTo, err = parseDate(in.DateTo); err != nil {
		return nil, searchOutput{}, fmt.Errorf("date_to: %w", err)
	}

	limit := in.Limit
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	results, err := s.search.Search(ctx, in.Query, filter, limit)
	if err != nil {
		s.log.Warn("semantic search failed", "error", err)
		return nil, searchOutput{}, err
	}

	out := searchOutput{Hits: make([]searchHit, 0, len(results))}
	for _, r := range results {
		hit := searchHit{
			RecordingID:  r.RecordingID,
			Similarity:   r.Similarity,
			Customer:     r.Customer,
			Employee:     r.Employee,
			CallType:     r.CallType,
			Sentiment:    r.Sentiment,
			QualityScore: r.QualityScore,
			Issue:        r.Issue,
			Summary:      r.Summary,
			Topics:       r.Topics,
		}
		if !r.CallDate.IsZero() {
			hit.CallDate = r.CallDate.Format(time.DateOnly)
		}
		out.Hits = append(out.Hits, hit)
	}
	return nil, out, nil
}

// summaryOutput is the processing_summary tool result schema.
type summaryOutput struct {
	TotalRecordings int            `json:"total_recordings"`
	PendingByStage  map[string]int `json:"pending_by_stage"`
	FailedByStage   map[string]int `json:"failed_by_stage"`
	FailedItems     int            `json:"failed_items"`
	ActiveBatches   int            `json:"active_batches"`
}

func (s *Server) processingSummary(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, summaryOutput, error) {
	sum, err := s.st.ProcessingSummary(ctx)
	if err != nil {
		s.log.Warn("processing summary failed", "error", err)
		return nil, summaryOutput{}, err
	}
	out := summaryOutput{
		TotalRecordings: sum.TotalRecordings,
		PendingByStage:  map[string]int{},
		FailedByStage:   map[string]int{},
		FailedItems:     sum.FailedItems,
		ActiveBatches:   sum.ActiveBatches,
	}
	for stage, n := range sum.PendingByStage {
		out.PendingByStage[string(stage)] = n
	}
	for stage, n := range sum.FailedByStage {
		out.FailedByStage[string(stage)] = n
	}
	return nil, out, nil
}

// parseDate parses an optional YYYY-MM-DD string; empty means unset.
func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("mcptool: invalid date %q, want YYYY-MM-DD", v)
	}
	return ts, nil
}
