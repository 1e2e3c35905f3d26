package executor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// planWire is the planner's JSON contract. steps is required; the remaining
// fields default to a read-only, low-confidence classification.
type planWire struct {
	Steps            []planStepWire  `json:"steps"`
	DetectedIntent   string          `json:"detected_intent"`
	IntentConfidence json.RawMessage `json:"intent_confidence"`
	Safety           struct {
		RequiresConfirmation bool `json:"requires_confirmation"`
	} `json:"safety"`
}

type planStepWire struct {
	Type         string                 `json:"type"`
	Purpose      string                 `json:"purpose"`
	Tool         string                 `json:"tool"`
	Args         map[string]interface{} `json:"args"`
	ResponseHint string                 `json:"response_hint"`
}

// PlanSchema describes the planner's JSON contract. Adapters with native
// structured output render it as a response schema; the rest keep the
// prompt contract alone.
func PlanSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"steps"},
		"properties": map[string]interface{}{
			"detected_intent": map[string]interface{}{"type": "string"},
			"intent_confidence": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{ConfidenceHigh, ConfidenceMedium, ConfidenceLow},
			},
			"safety": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"requires_confirmation": map[string]interface{}{"type": "boolean"},
				},
			},
			"steps": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"type"},
					"properties": map[string]interface{}{
						"type": map[string]interface{}{
							"type": "string",
							"enum": []interface{}{"tool", "respond"},
						},
						"purpose": map[string]interface{}{"type": "string"},
						"tool":    map[string]interface{}{"type": "string"},
						"args": map[string]interface{}{
							"type":        "object",
							"description": "Tool arguments keyed by parameter name",
						},
						"response_hint": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
	}
}

// IntentSchema describes the router's classification output
func IntentSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"intent"},
		"properties": map[string]interface{}{
			"intent": map[string]interface{}{"type": "string"},
			"confidence": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{ConfidenceHigh, ConfidenceMedium, ConfidenceLow},
			},
		},
	}
}

// ParsePlan turns raw planner output into a Plan. Code fences are stripped
// first because models wrap JSON in them even when told not to.
func ParsePlan(raw string) (*Plan, error) {
	cleaned := stripCodeFence(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("empty planner output")
	}

	var wire planWire
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(wire.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}

	plan := &Plan{
		DetectedIntent:       wire.DetectedIntent,
		IntentConfidence:     normalizeConfidence(wire.IntentConfidence),
		RequiresConfirmation: wire.Safety.RequiresConfirmation,
	}

	for i, sw := range wire.Steps {
		switch sw.Type {
		case "tool":
			if sw.Tool == "" {
				return nil, fmt.Errorf("step %d: tool step without tool name", i)
			}
			args := sw.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			plan.Steps = append(plan.Steps, PlanStep{
				Kind:    StepTool,
				Purpose: sw.Purpose,
				Tool:    sw.Tool,
				Args:    args,
			})
		case "respond", "":
			plan.Steps = append(plan.Steps, PlanStep{
				Kind:         StepRespond,
				Purpose:      sw.Purpose,
				ResponseHint: sw.ResponseHint,
			})
		default:
			return nil, fmt.Errorf("step %d: unknown step type %q", i, sw.Type)
		}
	}

	return plan, nil
}

// normalizeConfidence accepts either a label ("high") or a numeric score and
// maps it onto the three confidence labels. Absent or unparseable values
// default to low so mutations stay gated.
func normalizeConfidence(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ConfidenceLow
	}

	var label string
	if err := json.Unmarshal(raw, &label); err == nil {
		switch strings.ToLower(strings.TrimSpace(label)) {
		case ConfidenceHigh:
			return ConfidenceHigh
		case ConfidenceMedium:
			return ConfidenceMedium
		default:
			return ConfidenceLow
		}
	}

	var score float64
	if err := json.Unmarshal(raw, &score); err == nil {
		switch {
		case score >= 0.8:
			return ConfidenceHigh
		case score >= 0.5:
			return ConfidenceMedium
		default:
			return ConfidenceLow
		}
	}

	return ConfidenceLow
}

// stripCodeFence removes a surrounding markdown code fence when present
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
