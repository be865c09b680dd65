package embeddings

import (
	"context"
	"testing"
	"time"

	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/pkg/provider/embeddings/mock"
)

// fakeSearchStore records the query it received and returns canned results.
type fakeSearchStore struct {
	gotVec    []float32
	gotFilter store.SearchFilter
	gotLimit  int
	results   []store.SearchResult
}

func (f *fakeSearchStore) SemanticSearch(_ context.Context, vec []float32, filter store.SearchFilter, limit int) ([]store.SearchResult, error) {
	f.gotVec = vec
	f.gotFilter = filter
	f.gotLimit = limit
	return f.results, nil
}

func TestSearchEmbedsQueryAndForwardsFilter(t *testing.T) {
	st := &fakeSearchStore{results: []store.SearchResult{
		{EmbeddingRow: store.EmbeddingRow{RecordingID: "rec-1"}, Similarity: 0.91},
	}}
	provider := mock.New(16)
	s := NewSearcher(st, provider)

	filter := store.SearchFilter{
		Sentiment: "negative",
		DateFrom:  time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
	}
	results, err := s.Search(context.Background(), "  billing dispute ", filter, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].RecordingID != "rec-1" {
		t.Fatalf("results = %+v", results)
	}
	if len(st.gotVec) != 16 {
		t.Errorf("query vector dimensions = %d", len(st.gotVec))
	}
	if st.gotFilter.Sentiment != "negative" || st.gotLimit != 5 {
		t.Errorf("filter/limit = %+v/%d", st.gotFilter, st.gotLimit)
	}
	if len(provider.Calls) != 1 || provider.Calls[0] != "billing dispute" {
		t.Errorf("embedded query = %v, want trimmed text", provider.Calls)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	s := NewSearcher(&fakeSearchStore{}, mock.New(8))
	if _, err := s.Search(context.Background(), "   ", store.SearchFilter{}, 5); err == nil {
		t.Fatal("blank query must be rejected")
	}
}

func TestSearchDefaultsLimit(t *testing.T) {
	st := &fakeSearchStore{}
	s := NewSearcher(st, mock.New(8))
	if _, err := s.Search(context.Background(), "renewal risk", store.SearchFilter{}, 0); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if st.gotLimit != defaultSearchLimit {
		t.Errorf("limit = %d, want default %d", st.gotLimit, defaultSearchLimit)
	}
}
