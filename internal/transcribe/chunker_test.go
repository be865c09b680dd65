package transcribe

import (
	"math"
	"testing"
	"time"

	"github.com/convoscope/convoscope/pkg/provider/asr"
)

func TestPlanChunksShortRecordingSingleSpan(t *testing.T) {
	spans := PlanChunks(600, 30*time.Minute)
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].StartSec != 0 || spans[0].DurationSec != 600 {
		t.Errorf("span = %+v", spans[0])
	}
}

func TestPlanChunksLongRecordingOverlaps(t *testing.T) {
	// 65 minutes against a 30-minute bound: chunks at 0, 1798, 3596.
	spans := PlanChunks(3900, 30*time.Minute)
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 3: %+v", len(spans), spans)
	}
	for i, s := range spans {
		if s.Index != i {
			t.Errorf("span %d index = %d", i, s.Index)
		}
		if s.DurationSec > 1800 {
			t.Errorf("span %d duration = %v, want <= 1800", i, s.DurationSec)
		}
	}
	// Consecutive spans share the 2 s overlap.
	if got := spans[1].StartSec; got != 1798 {
		t.Errorf("second span start = %v, want 1798", got)
	}
	if got := spans[2].StartSec; got != 3596 {
		t.Errorf("third span start = %v, want 3596", got)
	}
	// The final span reaches the end of the recording.
	last := spans[len(spans)-1]
	if end := last.StartSec + last.DurationSec; end != 3900 {
		t.Errorf("final span ends at %v, want 3900", end)
	}
}

func TestPlanChunksExactBoundary(t *testing.T) {
	spans := PlanChunks(1800, 30*time.Minute)
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
}

func TestStitchResultsOffsetsTimestamps(t *testing.T) {
	spans := []ChunkSpan{
		{Index: 0, StartSec: 0, DurationSec: 100},
		{Index: 1, StartSec: 98, DurationSec: 50},
	}
	results := []*asr.Result{
		{
			Text:         "first part",
			Segments:     []asr.Segment{{Start: 0, End: 99, Text: "first part"}},
			Language:     "en",
			LanguageProb: 0.9,
			Duration:     100,
		},
		{
			Text:         "second part",
			Segments:     []asr.Segment{{Start: 1, End: 49, Text: "second part"}},
			Language:     "en",
			LanguageProb: 0.8,
			Duration:     50,
		},
	}

	merged := StitchResults(spans, results)
	if merged.Text != "first part second part" {
		t.Errorf("text = %q", merged.Text)
	}
	if len(merged.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(merged.Segments))
	}
	if merged.Segments[1].Start != 99 || merged.Segments[1].End != 147 {
		t.Errorf("offset segment = %+v", merged.Segments[1])
	}
	if merged.Duration != 148 {
		t.Errorf("duration = %v, want 148", merged.Duration)
	}
	if merged.Language != "en" {
		t.Errorf("language = %q", merged.Language)
	}
	if math.Abs(merged.LanguageProb-0.85) > 1e-9 {
		t.Errorf("language prob = %v, want 0.85", merged.LanguageProb)
	}
}

func TestStitchResultsLanguageWeightedWinner(t *testing.T) {
	spans := []ChunkSpan{
		{Index: 0, StartSec: 0},
		{Index: 1, StartSec: 100},
		{Index: 2, StartSec: 200},
	}
	// de accumulates 0.5 + 0.45 = 0.95, beating en's single 0.9.
	results := []*asr.Result{
		{Text: "a", Language: "de", LanguageProb: 0.5},
		{Text: "b", Language: "en", LanguageProb: 0.9},
		{Text: "c", Language: "de", LanguageProb: 0.45},
	}
	merged := StitchResults(spans, results)
	if merged.Language != "de" {
		t.Errorf("language = %q, want de", merged.Language)
	}
}

func TestStitchResultsSingleChunkPassthrough(t *testing.T) {
	r := &asr.Result{Text: "only"}
	merged := StitchResults([]ChunkSpan{{Index: 0}}, []*asr.Result{r})
	if merged != r {
		t.Error("single chunk should pass through unchanged")
	}
}
