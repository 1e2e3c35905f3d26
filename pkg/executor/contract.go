package executor

import (
	"fmt"
	"strings"

	"github.com/fathoni/rudder/internal/observability"
	"github.com/fathoni/rudder/pkg/tools"
)

// enforceMutationContract guards the final response: a mutation intent may
// only be answered with the model's text when a matching successful tool
// execution record exists. Otherwise the text is replaced with a
// confirmation request naming the canonical action, so the assistant never
// claims a change it did not make.
func enforceMutationContract(intent string, executed []ActionRecord, pending *PendingClarification, response string) (string, bool) {
	if intent == "" || !tools.IsMutationName(intent) {
		return response, false
	}
	if hasMatchingExecution(intent, executed) {
		return response, false
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "I haven't made any changes yet. Please confirm: %s.", tools.CanonicalAction(intent))
	if pending != nil && len(pending.MissingFields) > 0 {
		fmt.Fprintf(&sb, " I still need: %s.", strings.Join(pending.MissingFields, ", "))
	}

	observability.RecordMutationRewrite()
	return sb.String(), true
}

// hasMatchingExecution reports whether a successful execution record backs
// the mutation intent. A record matches on exact tool name or on the same
// canonical action.
func hasMatchingExecution(intent string, executed []ActionRecord) bool {
	canonical := tools.CanonicalAction(intent)
	for _, record := range executed {
		if !record.Success {
			continue
		}
		if record.Tool == intent || tools.CanonicalAction(record.Tool) == canonical {
			return true
		}
	}
	return false
}
