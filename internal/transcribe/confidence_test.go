package transcribe

import (
	"math"
	"testing"

	"github.com/convoscope/convoscope/pkg/provider/asr"
)

func TestConfidenceEmptySegments(t *testing.T) {
	if got := Confidence(nil); got != 0 {
		t.Errorf("confidence = %v, want 0", got)
	}
}

func TestConfidenceCleanSegmentsNearProbability(t *testing.T) {
	segs := []asr.Segment{
		{Text: "hello there general", AvgLogProb: -0.1},
		{Text: "how are you today", AvgLogProb: -0.1},
	}
	got := float64(Confidence(segs))
	want := math.Exp(-0.1)
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("confidence = %v, want %v", got, want)
	}
}

func TestConfidencePenalisesSuspectSegments(t *testing.T) {
	clean := []asr.Segment{
		{Text: "one two three", AvgLogProb: -0.2},
		{Text: "four five six", AvgLogProb: -0.2},
	}
	suspect := []asr.Segment{
		{Text: "one two three", AvgLogProb: -0.2, CompressionRatio: 3.0},
		{Text: "four five six", AvgLogProb: -0.2, NoSpeechProb: 0.8},
	}
	if Confidence(suspect) >= Confidence(clean) {
		t.Errorf("suspect %v should score below clean %v", Confidence(suspect), Confidence(clean))
	}
	// One of two segments over the compression threshold: 0.05/2 off; one
	// over no-speech: 0.02/2 off.
	want := math.Exp(-0.2) - 0.025 - 0.01
	if got := float64(Confidence(suspect)); math.Abs(got-want) > 1e-6 {
		t.Errorf("confidence = %v, want %v", got, want)
	}
}

func TestConfidenceWeightsByTokenCount(t *testing.T) {
	// A long confident segment should dominate a short weak one.
	segs := []asr.Segment{
		{Text: "a b c d e f g h i j", AvgLogProb: -0.05},
		{Text: "x", AvgLogProb: -3.0},
	}
	got := float64(Confidence(segs))
	unweighted := (math.Exp(-0.05) + math.Exp(-3.0)) / 2
	if got <= unweighted {
		t.Errorf("confidence = %v, want above unweighted mean %v", got, unweighted)
	}
}

func TestConfidenceClampedToZero(t *testing.T) {
	segs := []asr.Segment{
		{Text: "x", AvgLogProb: -20, CompressionRatio: 5, NoSpeechProb: 0.9},
	}
	if got := Confidence(segs); got < 0 {
		t.Errorf("confidence = %v, want >= 0", got)
	}
}

func TestWordCount(t *testing.T) {
	if got := WordCount("  one  two\nthree "); got != 3 {
		t.Errorf("word count = %d, want 3", got)
	}
	if got := WordCount(""); got != 0 {
		t.Errorf("word count = %d, want 0", got)
	}
}
