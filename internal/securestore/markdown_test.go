package securestore

import (
	"strings"
	"testing"
	"time"

	"github.com/convoscope/convoscope/internal/store"
)

func reportFixture() (*store.Recording, *store.Transcript) {
	rec := &store.Recording{
		RecordingID: "rec-42",
		StartTime:   time.Date(2025, 9, 21, 15, 30, 0, 0, time.UTC),
		Duration:    125,
		Direction:   store.DirectionInbound,
		From:        store.Party{Name: "Acme Corp", Number: "+15550100"},
		To:          store.Party{Name: "Dana Reyes", Number: "101"},
	}
	t := &store.Transcript{
		RecordingID:  "rec-42",
		Text:         "Hello. Thanks for calling.",
		Language:     "en",
		LanguageProb: 0.97,
		Confidence:   0.91,
		WordCount:    5,
		Segments: []store.Segment{
			{Start: 0, End: 2.4, Text: "Hello."},
			{Start: 2.4, End: 5.1, Text: "Thanks for calling."},
		},
	}
	return rec, t
}

func TestRenderMarkdownIncludesMetadataAndSegments(t *testing.T) {
	rec, tr := reportFixture()
	md := RenderMarkdown(rec, tr)

	for _, want := range []string{
		"# Call Transcript — rec-42",
		"| Date | 2025-09-21T15:30:00Z |",
		"| Duration | 2m5s |",
		"| From | Acme Corp +15550100 |",
		"| To | Dana Reyes 101 |",
		"| Language | en (p=0.97) |",
		"| Confidence | 0.91 |",
		"**[00:00 — 00:02]** Hello.",
		"**[00:02 — 00:05]** Thanks for calling.",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q:\n%s", want, md)
		}
	}
}

func TestRenderMarkdownFallsBackToPlainText(t *testing.T) {
	rec, tr := reportFixture()
	tr.Segments = nil
	md := RenderMarkdown(rec, tr)
	if !strings.Contains(md, "Hello. Thanks for calling.") {
		t.Errorf("report missing plain text:\n%s", md)
	}
}

func TestFormatOffsetPastAnHour(t *testing.T) {
	if got := formatOffset(3723); got != "1:02:03" {
		t.Errorf("formatOffset = %q, want 1:02:03", got)
	}
	if got := formatOffset(62); got != "01:02" {
		t.Errorf("formatOffset = %q, want 01:02", got)
	}
}
