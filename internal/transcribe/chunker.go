package transcribe

import (
	"strings"
	"time"

	"github.com/convoscope/convoscope/pkg/provider/asr"
)

// chunkOverlap is the audio shared between consecutive chunks so words cut
// at a boundary appear whole in at least one chunk.
const chunkOverlap = 2 * time.Second

// ChunkSpan is one planned slice of a long recording.
type ChunkSpan struct {
	Index       int
	StartSec    float64
	DurationSec float64
}

// PlanChunks splits a recording of the given duration into sequential spans
// of at most chunkDur each, consecutive spans overlapping by 2 s. A
// recording no longer than chunkDur yields a single span covering it whole.
func PlanChunks(durationSec float64, chunkDur time.Duration) []ChunkSpan {
	chunk := chunkDur.Seconds()
	if durationSec <= chunk {
		return []ChunkSpan{{Index: 0, StartSec: 0, DurationSec: durationSec}}
	}

	step := chunk - chunkOverlap.Seconds()
	var spans []ChunkSpan
	for start := 0.0; start < durationSec; start += step {
		d := chunk
		if start+d > durationSec {
			d = durationSec - start
		}
		spans = append(spans, ChunkSpan{Index: len(spans), StartSec: start, DurationSec: d})
		if start+chunk >= durationSec {
			break
		}
	}
	return spans
}

// StitchResults merges per-chunk ASR results back into one document. Each
// chunk's segment timestamps are offset by its start, texts are joined with
// a single space, and the detected language is the probability-weighted
// winner across chunks.
func StitchResults(spans []ChunkSpan, results []*asr.Result) *asr.Result {
	if len(results) == 1 {
		return results[0]
	}

	merged := &asr.Result{}
	var texts []string
	langWeight := map[string]float64{}
	langCount := map[string]int{}

	for i, r := range results {
		offset := spans[i].StartSec
		for _, s := range r.Segments {
			s.Start += offset
			s.End += offset
			merged.Segments = append(merged.Segments, s)
		}
		if t := strings.TrimSpace(r.Text); t != "" {
			texts = append(texts, t)
		}
		if r.Language != "" {
			langWeight[r.Language] += r.LanguageProb
			langCount[r.Language]++
		}
		if end := offset + r.Duration; end > merged.Duration {
			merged.Duration = end
		}
	}

	merged.Text = strings.Join(texts, " ")

	best := ""
	for lang, w := range langWeight {
		if best == "" || w > langWeight[best] {
			best = lang
		}
	}
	merged.Language = best
	if n := langCount[best]; n > 0 {
		merged.LanguageProb = langWeight[best] / float64(n)
	}
	return merged
}
