package transcribe

import "testing"

func TestNormalizeExpandsContractions(t *testing.T) {
	got := Normalize("I'm gonna check, lemme see")
	want := "I'm going to check, let me see"
	if got != want {
		t.Errorf("Normalize = %q, want %q", got, want)
	}
}

func TestNormalizeCollapsesRepeatedToken(t *testing.T) {
	got := Normalize("the the the the answer")
	if got != "the answer" {
		t.Errorf("Normalize = %q, want %q", got, "the answer")
	}
}

func TestNormalizeKeepsShortRepetition(t *testing.T) {
	// Two repeats stay; only three or more collapse.
	got := Normalize("very very good")
	if got != "very very good" {
		t.Errorf("Normalize = %q, want unchanged", got)
	}
}

func TestNormalizeCollapsesRepeatedPhrase(t *testing.T) {
	got := Normalize("thank you for calling thank you for calling thank you for calling goodbye")
	if got != "thank you for calling goodbye" {
		t.Errorf("Normalize = %q", got)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"gonna gonna gonna go go go now",
		"a b a b a b a b c",
		"plain sentence with no repeats",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalizeWhitespaceAndEmpty(t *testing.T) {
	if got := Normalize("   "); got != "" {
		t.Errorf("Normalize(blank) = %q, want empty", got)
	}
	if got := Normalize("a\t b\n  c"); got != "a b c" {
		t.Errorf("Normalize = %q, want %q", got, "a b c")
	}
}
