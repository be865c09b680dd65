// Package embeddings maintains the semantic index. It builds an enhanced
// text for each transcript (metadata header plus body), produces one
// representative vector per recording through an embedding provider, and
// serves facet-filtered nearest-neighbour queries over the stored vectors.
package embeddings

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// maxEmbedChars approximates the provider's token budget in characters.
	maxEmbedChars = 1028

	// minBodyChars is the floor below which the body is truncated instead
	// of chunked.
	minBodyChars = 128

	// chunkOverlap is the number of characters shared between consecutive
	// body chunks.
	chunkOverlap = 128

	// breakWindow bounds how far back from a chunk's end a natural break
	// (sentence-ending punctuation or newline) may be preferred.
	breakWindow = 100
)

// Facets is the filterable metadata snapshot stored beside each vector and
// rendered as the header of the enhanced text.
type Facets struct {
	Customer     string
	Employee     string
	CallDate     time.Time
	Duration     int // seconds
	WordCount    int
	Sentiment    string
	QualityScore float32
	CallType     string
	Issue        string
	Summary      string
	Topics       []string
}

// Prefix renders the canonical header lines. Empty fields are omitted so
// sparse facets do not waste the character budget.
func (f Facets) Prefix() string {
	var b strings.Builder
	line := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", key, value)
		}
	}
	line("Customer", f.Customer)
	line("Employee", f.Employee)
	if !f.CallDate.IsZero() {
		line("Date", f.CallDate.Format("2006-01-02"))
	}
	line("Sentiment", f.Sentiment)
	line("Call type", f.CallType)
	line("Issue", f.Issue)
	line("Summary", f.Summary)
	return b.String()
}

// BuildTexts assembles the embedding inputs for one transcript. When prefix
// and body fit the budget, a single enhanced text is returned. Otherwise the
// body is split into overlapping chunks that each carry the full prefix, so
// every chunk embeds with the same metadata context. A prefix that leaves
// less than minBodyChars of budget forces a single truncated text.
func BuildTexts(prefix, body string) []string {
	if len(prefix)+len(body) <= maxEmbedChars {
		return []string{prefix + body}
	}

	budget := maxEmbedChars - len(prefix)
	if budget < minBodyChars {
		return []string{cutRunes(prefix+body, maxEmbedChars)}
	}

	var texts []string
	for start := 0; start < len(body); {
		end := start + budget
		if end >= len(body) {
			texts = append(texts, prefix+body[start:])
			break
		}
		if cut := naturalBreak(body[start:end]); cut > 0 {
			end = start + cut
		}
		texts = append(texts, prefix+body[start:end])

		next := end - chunkOverlap
		if next <= start {
			// Degenerate chunk shorter than the overlap: advance
			// without overlap rather than stalling.
			next = end
		}
		start = next
	}
	return texts
}

// cutRunes cuts s to at most n bytes without splitting a multi-byte rune.
func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.RuneStart(cut[len(cut)-1]) {
		cut = cut[:len(cut)-1]
	}
	if r, size := utf8.DecodeLastRuneInString(cut); r == utf8.RuneError && size == 1 {
		// A lead byte whose continuation bytes fell past the cut.
		cut = cut[:len(cut)-1]
	}
	return cut
}

// naturalBreak returns the index just past the last sentence-ending
// punctuation or newline within the final breakWindow characters of the
// chunk, or 0 when none exists.
func naturalBreak(chunk string) int {
	floor := len(chunk) - breakWindow
	if floor < 0 {
		floor = 0
	}
	for i := len(chunk) - 1; i >= floor; i-- {
		switch chunk[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return 0
}

// average folds per-chunk vectors into one representative vector by
// component-wise mean. All inputs must share the first vector's
// dimensionality.
func average(vecs [][]float32) ([]float32, error) {
	if len(vecs) == 0 {
		return nil, fmt.Errorf("average: no vectors")
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("average: dimension mismatch: %d vs %d", len(v), dim)
		}
		for i, c := range v {
			sum[i] += float64(c)
		}
	}
	out := make([]float32, dim)
	n := float64(len(vecs))
	for i, s := range sum {
		out[i] = float32(s / n)
	}
	return out, nil
}
