package embeddings

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestFacetsPrefixOmitsEmptyFields(t *testing.T) {
	f := Facets{
		Customer: "Acme Corp",
		Employee: "Dana Reyes",
		CallDate: time.Date(2025, 9, 21, 15, 30, 0, 0, time.UTC),
	}
	prefix := f.Prefix()
	if !strings.Contains(prefix, "Customer: Acme Corp\n") {
		t.Errorf("prefix missing customer line: %q", prefix)
	}
	if !strings.Contains(prefix, "Date: 2025-09-21\n") {
		t.Errorf("prefix missing date line: %q", prefix)
	}
	if strings.Contains(prefix, "Sentiment") || strings.Contains(prefix, "Issue") {
		t.Errorf("empty facets must be omitted: %q", prefix)
	}
}

func TestBuildTextsSingleShot(t *testing.T) {
	texts := BuildTexts("Customer: Acme\n", "a short call about billing")
	if len(texts) != 1 {
		t.Fatalf("texts = %d, want 1", len(texts))
	}
	if texts[0] != "Customer: Acme\na short call about billing" {
		t.Errorf("text = %q", texts[0])
	}
}

func TestBuildTextsChunksWithOverlap(t *testing.T) {
	prefix := "Customer: Acme\n" // 15 chars, body budget 1013
	body := strings.Repeat("a", 3000)

	texts := BuildTexts(prefix, body)
	if len(texts) != 4 {
		t.Fatalf("chunks = %d, want 4", len(texts))
	}
	var rebuilt strings.Builder
	for i, text := range texts {
		if !strings.HasPrefix(text, prefix) {
			t.Fatalf("chunk %d missing metadata prefix", i)
		}
		if len(text) > maxEmbedChars {
			t.Fatalf("chunk %d is %d chars, budget is %d", i, len(text), maxEmbedChars)
		}
		part := strings.TrimPrefix(text, prefix)
		if i == 0 {
			rebuilt.WriteString(part)
			continue
		}
		// Each later chunk repeats the trailing overlap of its
		// predecessor before contributing new body.
		prev := strings.TrimPrefix(texts[i-1], prefix)
		if !strings.HasSuffix(prev, part[:chunkOverlap]) {
			t.Fatalf("chunk %d does not overlap its predecessor", i)
		}
		rebuilt.WriteString(part[chunkOverlap:])
	}
	if rebuilt.String() != body {
		t.Errorf("chunks do not reassemble the body: got %d chars, want %d",
			rebuilt.Len(), len(body))
	}
}

func TestBuildTextsPrefersNaturalBreak(t *testing.T) {
	prefix := "Customer: Acme\n" // body budget 1013
	// Sentence end 40 chars before the first window boundary, inside the
	// 100-char break window.
	body := strings.Repeat("a", 972) + ". " + strings.Repeat("b", 1200)

	texts := BuildTexts(prefix, body)
	first := strings.TrimPrefix(texts[0], prefix)
	if !strings.HasSuffix(first, ".") {
		t.Errorf("first chunk should cut at the sentence end, got tail %q",
			first[len(first)-10:])
	}
	if len(first) != 973 {
		t.Errorf("first chunk body = %d chars, want 973", len(first))
	}
}

func TestBuildTextsOversizedPrefixTruncates(t *testing.T) {
	prefix := strings.Repeat("k: v\n", 190) // 950 chars, body budget 78 < floor
	body := strings.Repeat("a", 5000)

	texts := BuildTexts(prefix, body)
	if len(texts) != 1 {
		t.Fatalf("texts = %d, want a single truncated embed", len(texts))
	}
	if len(texts[0]) != maxEmbedChars {
		t.Errorf("truncated text = %d chars, want %d", len(texts[0]), maxEmbedChars)
	}
}

func TestBuildTextsOversizedPrefixCutsOnRuneBoundary(t *testing.T) {
	prefix := strings.Repeat("k: v\n", 190) // 950 chars, body budget below the floor
	// One ASCII byte shifts the cut into the middle of a two-byte rune.
	body := "a" + strings.Repeat("é", 3000)

	texts := BuildTexts(prefix, body)
	if len(texts) != 1 {
		t.Fatalf("texts = %d, want 1", len(texts))
	}
	if !utf8.ValidString(texts[0]) {
		t.Error("truncated text splits a multi-byte rune")
	}
	if len(texts[0]) > maxEmbedChars {
		t.Errorf("truncated text = %d bytes, budget is %d", len(texts[0]), maxEmbedChars)
	}
}

func TestCutRunes(t *testing.T) {
	for _, tc := range []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"},  // cut lands between the é bytes
		{"héllo", 3, "hé"}, // cut lands exactly after é
		{"☃☃", 4, "☃"},     // lead byte of the second rune dropped
		{"", 4, ""},
	} {
		if got := cutRunes(tc.in, tc.n); got != tc.want {
			t.Errorf("cutRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestAverage(t *testing.T) {
	vec, err := average([][]float32{{1, 0, 3}, {3, 2, 1}})
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	want := []float32{2, 1, 2}
	for i := range want {
		if vec[i] != want[i] {
			t.Fatalf("average = %v, want %v", vec, want)
		}
	}

	if _, err := average(nil); err == nil {
		t.Error("empty input must error")
	}
	if _, err := average([][]float32{{1}, {1, 2}}); err == nil {
		t.Error("dimension mismatch must error")
	}
}
