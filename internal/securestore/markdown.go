package securestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/convoscope/convoscope/internal/store"
)

// RenderMarkdown produces the human-readable transcript report written next
// to the JSON artefact.
func RenderMarkdown(rec *store.Recording, t *store.Transcript) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Call Transcript — %s\n\n", rec.RecordingID)
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Date | %s |\n", rec.StartTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "| Duration | %s |\n", (time.Duration(rec.Duration) * time.Second).String())
	fmt.Fprintf(&b, "| Direction | %s |\n", rec.Direction)
	if rec.From.Number != "" || rec.From.Name != "" {
		fmt.Fprintf(&b, "| From | %s %s |\n", rec.From.Name, rec.From.Number)
	}
	if rec.To.Number != "" || rec.To.Name != "" {
		fmt.Fprintf(&b, "| To | %s %s |\n", rec.To.Name, rec.To.Number)
	}
	if t.Language != "" {
		fmt.Fprintf(&b, "| Language | %s (p=%.2f) |\n", t.Language, t.LanguageProb)
	}
	fmt.Fprintf(&b, "| Confidence | %.2f |\n", t.Confidence)
	fmt.Fprintf(&b, "| Words | %d |\n", t.WordCount)
	b.WriteString("\n## Transcript\n\n")

	if len(t.Segments) == 0 {
		b.WriteString(t.Text)
		b.WriteString("\n")
		return b.String()
	}
	for _, s := range t.Segments {
		fmt.Fprintf(&b, "**[%s — %s]** %s\n\n",
			formatOffset(s.Start), formatOffset(s.End), strings.TrimSpace(s.Text))
	}
	return b.String()
}

// formatOffset renders a second offset as mm:ss (or h:mm:ss past an hour).
func formatOffset(sec float64) string {
	d := time.Duration(sec * float64(time.Second)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
