package analysis

import (
	"encoding/json"
	"fmt"
	"math"
)

// Layer describes one stage of the analytical cascade: its prompt, model
// parameters, routing task, validation schema, and the fixed default object
// substituted when the model's reply cannot be parsed.
type Layer struct {
	// N is the 1-based layer number.
	N int

	// Name is the layer's short identifier used in logs and metrics.
	Name string

	// Task is the routing-table key selecting the model for this layer.
	Task string

	// Window is the transcript truncation bound in characters.
	Window int

	// Temperature and MaxTokens are the completion parameters.
	Temperature float64
	MaxTokens   int

	// prompt is the fmt template; layer 1 takes the transcript only, later
	// layers take the prior-layer context block first.
	prompt string

	// defaultDoc is the fallback JSON object.
	defaultDoc string

	// extract pulls the canonical score and label out of a parsed document.
	extract func(doc map[string]any) (score float64, label string)
}

// Layers is the ordered cascade definition.
var Layers = [6]Layer{
	{
		N: 1, Name: "entities", Task: "customer_extraction",
		Window: 12000, Temperature: 0.2, MaxTokens: 2000,
		prompt:     layer1Prompt,
		defaultDoc: `{"meeting_type":"other","purpose":"","participants":[],"companies":[],"deal_signals":{},"competitors_mentioned":[],"products_discussed":[],"key_dates":[],"crm_hints":[],"summary":""}`,
		extract: func(doc map[string]any) (float64, string) {
			return 0, str(doc, "meeting_type")
		},
	},
	{
		N: 2, Name: "sentiment", Task: "sentiment_analysis",
		Window: 15000, Temperature: 0.3, MaxTokens: 2500,
		prompt:     layer2Prompt,
		defaultDoc: `{"predicted_nps":{"score":5,"confidence":0,"rationale":""},"churn_risk":{"level":"medium","score":0.5,"indicators":[]},"customer_health":{"composite":50,"engagement":50,"satisfaction":50,"adoption":50,"relationship":50},"expansion_signals":[],"sentiment":{"positive":0.34,"neutral":0.33,"negative":0.33},"emotional_moments":[],"meeting_quality":{"overall":5,"preparation":5,"engagement":5,"clarity":5,"outcome":5},"topics":[],"concerns":[],"summary":""}`,
		extract: func(doc map[string]any) (float64, string) {
			return num(doc, "predicted_nps", "score"), str(doc, "churn_risk", "level")
		},
	},
	{
		N: 3, Name: "resolution", Task: "support_analysis",
		Window: 12000, Temperature: 0.2, MaxTokens: 2000,
		prompt:     layer3Prompt,
		defaultDoc: `{"objectives_met":{"score":0,"details":""},"first_contact_resolution":false,"escalation":{"needed":false,"target":""},"loop_closure":{"score":0,"open_loops":[],"closed_loops":[]},"action_items":{"quality_score":0,"items":[]},"decisions":[],"unresolved_issues":[],"follow_up":{"required":false,"items":[]},"summary":""}`,
		extract: func(doc map[string]any) (float64, string) {
			label := "unresolved"
			if b, ok := doc["first_contact_resolution"].(bool); ok && b {
				label = "resolved"
			}
			return num(doc, "objectives_met", "score"), label
		},
	},
	{
		N: 4, Name: "recommendations", Task: "business_insights",
		Window: 10000, Temperature: 0.4, MaxTokens: 2000,
		prompt:     layer4Prompt,
		defaultDoc: `{"coaching_points":[],"sales_recommendations":[],"customer_success_actions":[],"process_improvements":[],"knowledge_gaps":[],"follow_up":{"priority":"medium","deadline":"","suggested_message":""},"risk_mitigations":[],"summary":""}`,
		extract: func(doc map[string]any) (float64, string) {
			return 0, str(doc, "follow_up", "priority")
		},
	},
	{
		N: 5, Name: "metrics", Task: "sales_analysis",
		Window: 15000, Temperature: 0.2, MaxTokens: 2500,
		prompt:     layer5Prompt,
		defaultDoc: `{"speaking_time":{},"talk_listen_ratio":1,"blueprint":{"value_articulation":0,"objection_handling":0,"urgency":0,"trust":0,"close_attempts":0,"composite":0},"competitive_mentions":[],"deal":{"value":0,"currency":"","contract_months":0},"budget_indicators":[],"technical_depth":0,"decision_dynamics":{"decision_maker_present":false,"influencers":[]},"summary":""}`,
		extract: func(doc map[string]any) (float64, string) {
			return num(doc, "blueprint", "composite"), ""
		},
	},
	{
		N: 6, Name: "learning", Task: "summarization",
		Window: 12000, Temperature: 0.3, MaxTokens: 2000,
		prompt:     layer6Prompt,
		defaultDoc: `{"delta_s":0,"delta_c":0,"w_e":0,"phi":1,"learning_state":"exploring","knowledge_transfer_rate":0,"teaching_effectiveness":0,"participant_indicators":{},"recommendations":{"pacing":"","depth":"","interaction":""},"coaching_notes":[],"summary":""}`,
		extract: func(doc map[string]any) (float64, string) {
			return learningScore(doc), str(doc, "learning_state")
		},
	},
}

// BuildPrompt formats the layer's prompt with the truncated transcript and,
// for layers past the first, the prior-layer context block.
func (l Layer) BuildPrompt(transcript, priorContext string) string {
	text := truncate(transcript, l.Window)
	if l.N == 1 {
		return fmt.Sprintf(l.prompt, text)
	}
	if priorContext == "" {
		priorContext = "(none)"
	}
	return fmt.Sprintf(l.prompt, priorContext, text)
}

// Default returns the layer's fallback document.
func (l Layer) Default() []byte {
	return []byte(l.defaultDoc)
}

// Extract pulls the canonical score, label, and summary from a parsed
// document. Missing fields yield zero values, never errors: defaults and
// partially valid replies both flow through.
func (l Layer) Extract(raw []byte) (score float64, label, summary string) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, "", ""
	}
	score, label = l.extract(doc)
	return score, label, str(doc, "summary")
}

// learningScore computes L = ΔS · ΔC · wₑ · cos(φ·π/2) from the layer 6
// factors. phi arrives normalized to [0, 1] and is scaled onto [0, π/2].
func learningScore(doc map[string]any) float64 {
	ds := clamp01(numTop(doc, "delta_s"))
	dc := clamp01(numTop(doc, "delta_c"))
	we := clamp01(numTop(doc, "w_e"))
	phi := clamp01(numTop(doc, "phi"))
	return ds * dc * we * math.Cos(phi*math.Pi/2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// truncate cuts s to at most n bytes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && cut[len(cut)-1] >= 0x80 && cut[len(cut)-1] < 0xC0 {
		cut = cut[:len(cut)-1]
	}
	if len(cut) > 0 && cut[len(cut)-1] >= 0xC0 {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// str walks a path of object keys and returns the string at the end, or "".
func str(doc map[string]any, path ...string) string {
	v := walk(doc, path)
	s, _ := v.(string)
	return s
}

// num walks a path of object keys and returns the number at the end, or 0.
func num(doc map[string]any, path ...string) float64 {
	v := walk(doc, path)
	f, _ := v.(float64)
	return f
}

// numTop reads a top-level number.
func numTop(doc map[string]any, key string) float64 {
	f, _ := doc[key].(float64)
	return f
}

func walk(doc map[string]any, path []string) any {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}
