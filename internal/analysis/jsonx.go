package analysis

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParseStatus classifies how a model reply was turned into JSON.
type ParseStatus int

const (
	// ParseDirect means the reply was valid JSON as-is.
	ParseDirect ParseStatus = iota

	// ParseFenced means the JSON was recovered from a ```-fenced code block.
	ParseFenced

	// ParseExtracted means the JSON was recovered as the outermost {...}
	// span of the reply.
	ParseExtracted

	// ParseFailed means no JSON object could be recovered; the caller must
	// substitute the layer's default object.
	ParseFailed
)

// String returns the human-readable name of the status.
func (s ParseStatus) String() string {
	switch s {
	case ParseDirect:
		return "direct"
	case ParseFenced:
		return "fenced"
	case ParseExtracted:
		return "extracted"
	default:
		return "failed"
	}
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON recovers a JSON object from a model reply. It tries a direct
// parse first, then a fenced code block, then the outermost brace span.
// The returned bytes are the raw object text, verified to unmarshal.
func ExtractJSON(raw string) ([]byte, ParseStatus) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ParseFailed
	}

	if validObject([]byte(trimmed)) {
		return []byte(trimmed), ParseDirect
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if candidate := []byte(m[1]); validObject(candidate) {
			return candidate, ParseFenced
		}
	}

	if span := outermostBraces(trimmed); span != "" && validObject([]byte(span)) {
		return []byte(span), ParseExtracted
	}
	return nil, ParseFailed
}

// validObject reports whether data parses as a JSON object.
func validObject(data []byte) bool {
	var v map[string]json.RawMessage
	return json.Unmarshal(data, &v) == nil
}

// outermostBraces returns the span from the first '{' to the last '}' of
// s, or "" when no such span exists.
func outermostBraces(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
