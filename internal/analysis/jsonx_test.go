package analysis

import (
	"encoding/json"
	"testing"
)

func TestExtractJSONDirect(t *testing.T) {
	data, status := ExtractJSON(`{"sentiment": {"positive": 0.7}}`)
	if status != ParseDirect {
		t.Fatalf("status = %v, want direct", status)
	}
	var v map[string]json.RawMessage
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("returned bytes do not parse: %v", err)
	}
}

func TestExtractJSONFencedBlock(t *testing.T) {
	raw := "Here is the analysis:\n```json\n{\"topics\": [\"billing\"]}\n```\nLet me know if you need more."
	data, status := ExtractJSON(raw)
	if status != ParseFenced {
		t.Fatalf("status = %v, want fenced", status)
	}
	if string(data) != `{"topics": ["billing"]}` {
		t.Errorf("data = %s", data)
	}
}

func TestExtractJSONFencedWithoutLanguageTag(t *testing.T) {
	raw := "```\n{\"a\": 1}\n```"
	_, status := ExtractJSON(raw)
	if status != ParseFenced {
		t.Errorf("status = %v, want fenced", status)
	}
}

func TestExtractJSONOutermostBraces(t *testing.T) {
	raw := `The result is {"quality": 8, "notes": "fine"} as requested.`
	data, status := ExtractJSON(raw)
	if status != ParseExtracted {
		t.Fatalf("status = %v, want extracted", status)
	}
	var v struct {
		Quality int `json:"quality"`
	}
	if err := json.Unmarshal(data, &v); err != nil || v.Quality != 8 {
		t.Errorf("data = %s, err = %v", data, err)
	}
}

func TestExtractJSONFailures(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"no json here at all",
		`{"broken": `,
		`[1, 2, 3]`, // arrays are not layer objects
	}
	for _, raw := range cases {
		if data, status := ExtractJSON(raw); status != ParseFailed || data != nil {
			t.Errorf("ExtractJSON(%q) = %s, %v; want nil, failed", raw, data, status)
		}
	}
}

func TestParseStatusString(t *testing.T) {
	if ParseDirect.String() != "direct" || ParseFailed.String() != "failed" {
		t.Error("unexpected status strings")
	}
}
