package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Layer output schemas. Validation is deliberately shallow: it pins the
// fields the extractors read and their types, and leaves the rest of each
// document open so a model adding detail never fails a meeting.

var layerSchemas = [6]string{
	`{
		"type": "object",
		"required": ["meeting_type", "summary"],
		"properties": {
			"meeting_type": {"type": "string"},
			"participants": {"type": "array"},
			"companies":    {"type": "array"},
			"summary":      {"type": "string"}
		}
	}`,
	`{
		"type": "object",
		"required": ["predicted_nps", "churn_risk", "sentiment", "summary"],
		"properties": {
			"predicted_nps": {
				"type": "object",
				"required": ["score"],
				"properties": {"score": {"type": "number", "minimum": 0, "maximum": 10}}
			},
			"churn_risk": {
				"type": "object",
				"required": ["level"],
				"properties": {"level": {"enum": ["low", "medium", "high"]}}
			},
			"sentiment": {"type": "object"},
			"summary":   {"type": "string"}
		}
	}`,
	`{
		"type": "object",
		"required": ["objectives_met", "first_contact_resolution", "summary"],
		"properties": {
			"objectives_met": {
				"type": "object",
				"required": ["score"],
				"properties": {"score": {"type": "number", "minimum": 0, "maximum": 1}}
			},
			"first_contact_resolution": {"type": "boolean"},
			"summary": {"type": "string"}
		}
	}`,
	`{
		"type": "object",
		"required": ["follow_up", "summary"],
		"properties": {
			"follow_up": {
				"type": "object",
				"required": ["priority"],
				"properties": {"priority": {"enum": ["low", "medium", "high", "urgent"]}}
			},
			"summary": {"type": "string"}
		}
	}`,
	`{
		"type": "object",
		"required": ["blueprint", "summary"],
		"properties": {
			"blueprint": {
				"type": "object",
				"required": ["composite"],
				"properties": {"composite": {"type": "number", "minimum": 0, "maximum": 100}}
			},
			"summary": {"type": "string"}
		}
	}`,
	`{
		"type": "object",
		"required": ["delta_s", "delta_c", "w_e", "phi", "learning_state", "summary"],
		"properties": {
			"delta_s": {"type": "number", "minimum": 0, "maximum": 1},
			"delta_c": {"type": "number", "minimum": 0, "maximum": 1},
			"w_e":     {"type": "number", "minimum": 0, "maximum": 1},
			"phi":     {"type": "number", "minimum": 0, "maximum": 1},
			"learning_state": {
				"enum": ["exploring", "consolidating", "proficient", "plateaued", "regressing"]
			},
			"summary": {"type": "string"}
		}
	}`,
}

var compileSchemas = sync.OnceValues(func() ([6]*jsonschema.Schema, error) {
	var out [6]*jsonschema.Schema
	c := jsonschema.NewCompiler()
	for i, src := range layerSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return out, fmt.Errorf("analysis: parse layer %d schema: %w", i+1, err)
		}
		name := fmt.Sprintf("layer%d.json", i+1)
		if err := c.AddResource(name, doc); err != nil {
			return out, fmt.Errorf("analysis: add layer %d schema: %w", i+1, err)
		}
		out[i], err = c.Compile(name)
		if err != nil {
			return out, fmt.Errorf("analysis: compile layer %d schema: %w", i+1, err)
		}
	}
	return out, nil
})

// ValidateLayerDoc checks a recovered document against the layer's schema.
// The raw bytes must already be a well-formed JSON object.
func ValidateLayerDoc(layer int, raw []byte) error {
	if layer < 1 || layer > 6 {
		return fmt.Errorf("analysis: validate: layer %d out of range", layer)
	}
	schemas, err := compileSchemas()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("analysis: validate layer %d: %w", layer, err)
	}
	if err := schemas[layer-1].Validate(doc); err != nil {
		return fmt.Errorf("analysis: layer %d document: %w", layer, err)
	}
	return nil
}
