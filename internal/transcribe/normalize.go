package transcribe

import "strings"

// maxNgram is the longest token sequence considered by repetition collapse.
const maxNgram = 10

// minRepetition is the run length at which a repeated n-gram collapses.
const minRepetition = 3

// substitutions maps colloquial contractions the ASR emits to their
// canonical written form. Applied before repetition collapse so the
// combined normalization stays idempotent.
var substitutions = map[string]string{
	"gonna":  "going to",
	"wanna":  "want to",
	"gotta":  "got to",
	"kinda":  "kind of",
	"sorta":  "sort of",
	"lemme":  "let me",
	"gimme":  "give me",
	"dunno":  "don't know",
	"cause":  "because",
	"'cause": "because",
}

// Normalize canonicalizes ASR output text. It expands known contractions,
// collapses whitespace, and deduplicates hallucinated repetition runs:
// any 1–10 token sequence repeated three or more times in a row is reduced
// to a single occurrence. Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return ""
	}

	expanded := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if repl, ok := substitutions[strings.ToLower(t)]; ok {
			expanded = append(expanded, strings.Fields(repl)...)
			continue
		}
		expanded = append(expanded, t)
	}

	// A collapse at one n can juxtapose tokens into a fresh run at a
	// smaller n, so iterate to a fixpoint.
	for {
		before := len(expanded)
		for n := 1; n <= maxNgram; n++ {
			expanded = collapseRuns(expanded, n)
		}
		if len(expanded) == before {
			break
		}
	}
	return strings.Join(expanded, " ")
}

// collapseRuns reduces every run of >= minRepetition consecutive identical
// n-grams to one occurrence.
func collapseRuns(tokens []string, n int) []string {
	if len(tokens) < n*minRepetition {
		return tokens
	}
	out := make([]string, 0, len(tokens))
	i := 0
	for i < len(tokens) {
		if i+n > len(tokens) {
			out = append(out, tokens[i:]...)
			break
		}
		// Count how many times tokens[i:i+n] repeats back to back.
		reps := 1
		for start := i + n; start+n <= len(tokens) && equalRange(tokens, i, start, n); start += n {
			reps++
		}
		if reps >= minRepetition {
			out = append(out, tokens[i:i+n]...)
			i += reps * n
			continue
		}
		out = append(out, tokens[i])
		i++
	}
	return out
}

// equalRange reports whether tokens[a:a+n] equals tokens[b:b+n].
func equalRange(tokens []string, a, b, n int) bool {
	for k := 0; k < n; k++ {
		if tokens[a+k] != tokens[b+k] {
			return false
		}
	}
	return true
}
