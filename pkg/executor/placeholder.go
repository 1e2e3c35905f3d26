package executor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Placeholder tokens the planner may use instead of literal argument values.
// FROM_SEARCH references the single entity found by a prior search step;
// FROM_TOOL:<tool>:<field> references a field of a prior tool's JSON output.
const (
	fromSearchToken = "FROM_SEARCH"
	fromToolPrefix  = "FROM_TOOL:"
)

// PlaceholderError reports an argument reference that could not be resolved.
// Reason is one of the clarification reason constants.
type PlaceholderError struct {
	Field  string
	Reason string
}

func (e *PlaceholderError) Error() string {
	return fmt.Sprintf("placeholder in field %q: %s", e.Field, e.Reason)
}

// resolvePlaceholders rewrites placeholder argument values in place using
// prior tool outputs. A placeholder that cannot be resolved to exactly one
// value aborts resolution; the step must not execute with the literal token.
func resolvePlaceholders(args map[string]interface{}, outputs []toolOutput) error {
	for field, value := range args {
		str, ok := value.(string)
		if !ok {
			continue
		}

		switch {
		case str == fromSearchToken:
			resolved, err := resolveFromSearch(field, outputs)
			if err != nil {
				return err
			}
			args[field] = resolved
		case strings.HasPrefix(str, fromToolPrefix):
			resolved, err := resolveFromTool(field, str, outputs)
			if err != nil {
				return err
			}
			args[field] = resolved
		}
	}
	return nil
}

// resolveFromSearch resolves only when exactly one candidate appears in a
// prior search output. Multiple matches are an ambiguity the user must
// settle, never a guess.
func resolveFromSearch(field string, outputs []toolOutput) (interface{}, error) {
	for i := len(outputs) - 1; i >= 0; i-- {
		if !strings.Contains(outputs[i].tool, "search") {
			continue
		}
		candidates := extractCandidates(outputs[i].raw)
		switch len(candidates) {
		case 0:
			continue
		case 1:
			return candidates[0], nil
		default:
			return nil, &PlaceholderError{Field: field, Reason: ReasonAmbiguousPromise}
		}
	}
	return nil, &PlaceholderError{Field: field, Reason: ReasonUnresolvedPlaceholder}
}

// resolveFromTool extracts a named field from the named prior tool's JSON
// output: FROM_TOOL:<toolName>:<fieldName>.
func resolveFromTool(field, token string, outputs []toolOutput) (interface{}, error) {
	parts := strings.SplitN(strings.TrimPrefix(token, fromToolPrefix), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, &PlaceholderError{Field: field, Reason: ReasonUnresolvedPlaceholder}
	}
	producer, wanted := parts[0], parts[1]

	for i := len(outputs) - 1; i >= 0; i-- {
		if outputs[i].tool != producer {
			continue
		}
		var record map[string]interface{}
		if err := json.Unmarshal([]byte(outputs[i].raw), &record); err != nil {
			return nil, &PlaceholderError{Field: field, Reason: ReasonUnresolvedPlaceholder}
		}
		value, ok := record[wanted]
		if !ok {
			return nil, &PlaceholderError{Field: field, Reason: ReasonUnresolvedPlaceholder}
		}
		return value, nil
	}
	return nil, &PlaceholderError{Field: field, Reason: ReasonUnresolvedPlaceholder}
}

// extractCandidates pulls identifiable entities out of a search result. The
// output may be a bare JSON array or an object wrapping one under a results
// key. Each candidate is represented by its id when present, else the whole
// record.
func extractCandidates(raw string) []interface{} {
	var parsed interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}

	var items []interface{}
	switch v := parsed.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		for _, key := range []string{"results", "items", "matches"} {
			if arr, ok := v[key].([]interface{}); ok {
				items = arr
				break
			}
		}
		if items == nil {
			// A single object is one candidate
			items = []interface{}{v}
		}
	default:
		return nil
	}

	candidates := make([]interface{}, 0, len(items))
	for _, item := range items {
		if record, ok := item.(map[string]interface{}); ok {
			if id, ok := record["id"]; ok {
				candidates = append(candidates, id)
				continue
			}
		}
		candidates = append(candidates, item)
	}
	return candidates
}
