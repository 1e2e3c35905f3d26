// Package executor drives the plan-execute state machine: it asks the
// planner role for a structured plan, validates and runs each tool step,
// and enforces the mutation execution contract on the final response.
package executor

import (
	"github.com/fathoni/rudder/pkg/provider"
)

// Phase is a state of the execution state machine
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseValidating Phase = "validating"
	PhaseExecuting  Phase = "executing"
	PhaseVerifying  Phase = "verifying"
	PhaseResponding Phase = "responding"
	PhaseDone       Phase = "done"
	PhaseClarifying Phase = "clarifying"
	PhaseError      Phase = "error"
)

// StepKind distinguishes the two plan step variants
type StepKind string

const (
	StepTool    StepKind = "tool"
	StepRespond StepKind = "respond"
)

// PlanStep is one planned action. Immutable once parsed, except that Args
// values may be rewritten by placeholder resolution before execution.
type PlanStep struct {
	Kind         StepKind
	Purpose      string
	Tool         string
	Args         map[string]interface{}
	ResponseHint string
}

// Confidence labels for the planner's intent classification
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Plan is the parsed planner output for one user turn
type Plan struct {
	Steps                []PlanStep
	DetectedIntent       string
	IntentConfidence     string
	RequiresConfirmation bool
}

// ActionRecord tracks one executed tool call
type ActionRecord struct {
	Tool    string
	Success bool
	Args    map[string]interface{}
}

// PendingClarification captures why a run stopped to ask the user
type PendingClarification struct {
	Reason        string
	Tool          string
	MissingFields []string
}

// Clarification reasons
const (
	ReasonMissingArgs             = "missing_required_args"
	ReasonAmbiguousPromise        = "ambiguous_promise_id"
	ReasonUnresolvedPlaceholder   = "unresolved_placeholder"
	ReasonPreMutationConfirmation = "pre_mutation_confirmation"
)

// toolOutput pairs a tool name with its raw textual result, kept in plan
// order for placeholder resolution.
type toolOutput struct {
	tool string
	raw  string
}

// ExecutionState is the single mutable record threaded through the state
// machine. Owned by exactly one run; never shared across conversations.
type ExecutionState struct {
	ConversationID string
	Utterance      string
	Transcript     []provider.Message
	Iteration      int
	Plan           *Plan
	StepIndex      int
	FinalResponse  string
	PlannerErr     error
	Phase          Phase
	Pending        *PendingClarification
	Executed       []ActionRecord

	outputs []toolOutput
	guard   *loopGuard
}

// Event is a progress notification emitted during a run
type Event struct {
	Type    string // "plan" or "phase"
	Phase   Phase
	Plan    *Plan
	Payload map[string]interface{}
}

// EventSink receives progress events. May be nil.
type EventSink func(Event)

// RunResult is the outcome of one executor run
type RunResult struct {
	Response      string
	Phase         Phase
	Clarification *PendingClarification
	Executed      []ActionRecord
	Iterations    int
	Intent        string
}
