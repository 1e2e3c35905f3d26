package tools

import (
	"strings"
)

// mutationPrefixes are the name-prefix heuristics that classify a tool as
// state-changing.
var mutationPrefixes = []string{"create_", "update_", "delete_", "edit_", "remove_", "log_"}

// IsMutationName reports whether a tool name looks state-changing
func IsMutationName(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range mutationPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// CanonicalAction turns a tool or intent name into the human-readable action
// used in confirmation prompts: "create_goal" becomes "create goal".
func CanonicalAction(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", " ")
}

// ReadbackName derives the paired read-only getter for a mutation tool name
// when no explicit readback tool was registered: "create_goal" maps to
// "get_goal".
func ReadbackName(name string) string {
	lower := strings.ToLower(name)
	for _, prefix := range mutationPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "get_" + strings.TrimPrefix(lower, prefix)
		}
	}
	return ""
}
