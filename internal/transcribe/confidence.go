package transcribe

import (
	"math"
	"strings"

	"github.com/convoscope/convoscope/pkg/provider/asr"
)

// Quality thresholds beyond which a segment is considered suspect. The
// values follow the usual decoder conventions: compression ratios above 2.4
// indicate repetitive output, average log-probs below -1.0 indicate weak
// decoding, and no-speech probabilities above 0.6 indicate the decoder was
// likely transcribing silence.
const (
	compressionRatioThreshold = 2.4
	logProbThreshold          = -1.0
	noSpeechThreshold         = 0.6
)

// Penalty weights per suspect condition, scaled by the fraction of
// offending segments.
const (
	compressionPenalty = 0.05
	logProbPenalty     = 0.03
	noSpeechPenalty    = 0.02
)

// Confidence computes the overall transcript confidence from its segments.
//
// The base score is the token-weighted mean of per-segment probabilities
// (exp of the average log-prob, weighted by segment text length). From it,
// penalties are subtracted for each quality condition, weighted by the
// fraction of segments violating it. The result is clamped to [0, 1].
func Confidence(segments []asr.Segment) float32 {
	if len(segments) == 0 {
		return 0
	}

	var (
		weighted float64
		total    float64
		highCR   int
		lowLP    int
		highNS   int
	)
	for _, s := range segments {
		w := float64(len(strings.Fields(s.Text)))
		if w == 0 {
			w = 1
		}
		p := math.Exp(s.AvgLogProb)
		if p > 1 {
			p = 1
		}
		weighted += p * w
		total += w

		if s.CompressionRatio > compressionRatioThreshold {
			highCR++
		}
		if s.AvgLogProb < logProbThreshold {
			lowLP++
		}
		if s.NoSpeechProb > noSpeechThreshold {
			highNS++
		}
	}

	score := weighted / total
	n := float64(len(segments))
	score -= compressionPenalty * float64(highCR) / n
	score -= logProbPenalty * float64(lowLP) / n
	score -= noSpeechPenalty * float64(highNS) / n

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return float32(score)
}

// WordCount counts whitespace-separated tokens in the transcript text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
