package transcribe

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// NameResolver maps ASR-garbled participant names onto the canonical names
// from the extension directory. Matching runs in two stages: Double
// Metaphone codes select phonetic candidates, then Jaro-Winkler similarity
// ranks them. When no candidate overlaps phonetically, a stricter pure
// Jaro-Winkler pass runs against the whole directory.
//
// A NameResolver is read-only after construction and safe for concurrent
// use.
type NameResolver struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// ResolverOption is a functional option for NameResolver.
type ResolverOption func(*NameResolver)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched name to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) ResolverOption {
	return func(r *NameResolver) {
		r.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required for the
// fallback pass without phonetic support. Default: 0.85.
func WithFuzzyThreshold(threshold float64) ResolverOption {
	return func(r *NameResolver) {
		r.fuzzyThreshold = threshold
	}
}

// NewNameResolver returns a resolver with the supplied options applied.
func NewNameResolver(opts ...ResolverOption) *NameResolver {
	r := &NameResolver{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve finds the directory name most likely meant by raw. When matched
// is false, resolved equals raw unchanged and confidence is 0.
func (r *NameResolver) Resolve(raw string, directory []string) (resolved string, confidence float64, matched bool) {
	if len(directory) == 0 || strings.TrimSpace(raw) == "" {
		return raw, 0, false
	}

	rawLower := strings.ToLower(strings.TrimSpace(raw))
	rawTokens := strings.Fields(rawLower)
	rawCodes := metaphoneCodes(rawTokens)

	type candidate struct {
		name     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, name := range directory {
		nameLower := strings.ToLower(strings.TrimSpace(name))
		if nameLower == "" {
			continue
		}
		nameTokens := strings.Fields(nameLower)

		phonetic := codesOverlap(rawCodes, metaphoneCodes(nameTokens))
		score := bestSimilarity(rawTokens, nameTokens, rawLower, nameLower)

		if phonetic {
			if score >= r.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{name: name, score: score, phonetic: true}
			}
		} else if !best.phonetic {
			if score >= r.fuzzyThreshold && score > best.score {
				best = candidate{name: name, score: score}
			}
		}
	}

	if best.name != "" {
		return best.name, best.score, true
	}
	return raw, 0, false
}

// metaphoneCodes returns the union of Double Metaphone codes for the
// tokens, excluding empty codes.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the highest Jaro-Winkler similarity between the
// input and a directory name: full strings, space-stripped strings, and the
// best pairwise token score. The last handles first-name-only mentions
// against "First Last" directory entries.
func bestSimilarity(rawTokens, nameTokens []string, rawFull, nameFull string) float64 {
	score := matchr.JaroWinkler(rawFull, nameFull, false)

	if len(rawTokens) > 1 || len(nameTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(rawTokens, ""), strings.Join(nameTokens, ""), false); s > score {
			score = s
		}
	}
	for _, rt := range rawTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(rt, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}
