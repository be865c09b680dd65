package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/pkg/provider/embeddings"
)

// defaultSearchLimit is used when the caller passes a non-positive limit.
const defaultSearchLimit = 10

// SearchStore runs the nearest-neighbour query.
type SearchStore interface {
	SemanticSearch(ctx context.Context, embedding []float32, filter store.SearchFilter, limit int) ([]store.SearchResult, error)
}

var _ SearchStore = (*store.Store)(nil)

// Searcher answers semantic queries against the index.
type Searcher struct {
	st       SearchStore
	provider embeddings.Provider
}

// NewSearcher returns a searcher over the given store and provider. The
// provider must match the one the index was built with.
func NewSearcher(st SearchStore, provider embeddings.Provider) *Searcher {
	return &Searcher{st: st, provider: provider}
}

// Search embeds the query text and returns the closest indexed recordings
// matching the filter, most similar first.
func (s *Searcher) Search(ctx context.Context, query string, filter store.SearchFilter, limit int) ([]store.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("embeddings: search query must not be empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	vec, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embeddings: embed query: %w", err)
	}
	results, err := s.st.SemanticSearch(ctx, vec, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("embeddings: search: %w", err)
	}
	return results, nil
}
