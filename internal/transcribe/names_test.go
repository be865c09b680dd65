package transcribe

import "testing"

func TestResolveGarbledNameAgainstDirectory(t *testing.T) {
	r := NewNameResolver()
	directory := []string{"John Smith", "Jane Doe", "Robert Miller"}

	resolved, confidence, matched := r.Resolve("Jon Smith", directory)
	if !matched {
		t.Fatal("expected a match for Jon Smith")
	}
	if resolved != "John Smith" {
		t.Errorf("resolved = %q, want John Smith", resolved)
	}
	if confidence <= 0 {
		t.Errorf("confidence = %v, want > 0", confidence)
	}
}

func TestResolveFirstNameOnlyMention(t *testing.T) {
	r := NewNameResolver()
	directory := []string{"Dana Reyes", "Miguel Ortiz"}

	resolved, _, matched := r.Resolve("dana", directory)
	if !matched || resolved != "Dana Reyes" {
		t.Errorf("resolved = %q matched = %v, want Dana Reyes", resolved, matched)
	}
}

func TestResolveNoPlausibleMatchReturnsRaw(t *testing.T) {
	r := NewNameResolver()
	directory := []string{"John Smith", "Jane Doe"}

	resolved, confidence, matched := r.Resolve("Xquzzt", directory)
	if matched {
		t.Errorf("unexpected match: %q", resolved)
	}
	if resolved != "Xquzzt" || confidence != 0 {
		t.Errorf("resolved = %q confidence = %v, want raw input and 0", resolved, confidence)
	}
}

func TestResolveEmptyInputs(t *testing.T) {
	r := NewNameResolver()
	if _, _, matched := r.Resolve("anyone", nil); matched {
		t.Error("empty directory should never match")
	}
	if _, _, matched := r.Resolve("  ", []string{"John Smith"}); matched {
		t.Error("blank input should never match")
	}
}

func TestResolveThresholdOptions(t *testing.T) {
	// With an impossibly high phonetic threshold nothing passes.
	strict := NewNameResolver(WithPhoneticThreshold(1.01), WithFuzzyThreshold(1.01))
	if _, _, matched := strict.Resolve("Jon Smith", []string{"John Smith"}); matched {
		t.Error("thresholds above 1.0 should reject every candidate")
	}
}

func TestResolvePrefersPhoneticCandidate(t *testing.T) {
	r := NewNameResolver()
	// "Steven" and "Stephan" share metaphone codes; the phonetic candidate
	// should win even when a lexically closer non-phonetic entry exists.
	resolved, _, matched := r.Resolve("Steven", []string{"Stephan Krause"})
	if !matched || resolved != "Stephan Krause" {
		t.Errorf("resolved = %q matched = %v", resolved, matched)
	}
}
