package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fathoni/rudder/internal/observability"
	"github.com/fathoni/rudder/internal/tracing"
	"github.com/fathoni/rudder/pkg/provider"
	"github.com/fathoni/rudder/pkg/tools"
)

// Config holds executor tuning knobs
type Config struct {
	MaxIterations  int
	StrictMutation bool
	EmitPlan       bool

	LoopWarning  int
	LoopCritical int
	LoopGlobal   int

	// Policy limits which registered tools plans may invoke. Nil permits
	// every registered tool.
	Policy *tools.Policy

	// DatetimeTool names the single-argument tool that resolves natural
	// language datetimes. When the planner supplies no argument for it,
	// the raw user utterance is used.
	DatetimeTool string
}

const defaultDatetimeTool = "resolve_datetime"

// Executor runs the plan-execute state machine for one conversation turn
// at a time. Safe for concurrent use across conversations; each run owns
// its ExecutionState exclusively.
type Executor struct {
	planner   provider.RoleCaller
	responder provider.RoleCaller
	router    provider.RoleCaller
	registry  *tools.Registry
	logger    zerolog.Logger
	sink      EventSink

	// cfg is guarded so loop thresholds can be hot-reloaded while runs
	// are in flight; each run snapshots what it needs at the start.
	mu  sync.RWMutex
	cfg Config
}

// Option configures optional executor collaborators
type Option func(*Executor)

// WithRouter attaches a router role used to classify intent when the
// planner omits one.
func WithRouter(router provider.RoleCaller) Option {
	return func(e *Executor) { e.router = router }
}

// WithEventSink attaches a progress event receiver
func WithEventSink(sink EventSink) Option {
	return func(e *Executor) { e.sink = sink }
}

// New creates an executor
func New(cfg Config, planner, responder provider.RoleCaller, registry *tools.Registry, logger zerolog.Logger, opts ...Option) (*Executor, error) {
	if planner == nil {
		return nil, fmt.Errorf("planner role caller is required")
	}
	if responder == nil {
		return nil, fmt.Errorf("responder role caller is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	if cfg.DatetimeTool == "" {
		cfg.DatetimeTool = defaultDatetimeTool
	}

	observability.EnsureRegistered()

	e := &Executor{
		planner:   planner,
		responder: responder,
		registry:  registry,
		cfg:       cfg,
		logger:    logger.With().Str("component", "executor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// config returns a consistent snapshot of the current configuration
func (e *Executor) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// UpdateLoopThresholds replaces the loop-detection thresholds for future
// runs. In-flight runs keep the guard they started with.
func (e *Executor) UpdateLoopThresholds(warning, critical, global int) {
	e.mu.Lock()
	e.cfg.LoopWarning = warning
	e.cfg.LoopCritical = critical
	e.cfg.LoopGlobal = global
	e.mu.Unlock()
}

// Run processes one user turn: plan, validate, execute, verify, respond.
func (e *Executor) Run(ctx context.Context, conversationID, utterance string, history []provider.Message) (*RunResult, error) {
	start := time.Now()
	ctx = tracing.NewRunContext(ctx, conversationID)
	logger := tracing.LoggerFromContext(ctx, e.logger)
	cfg := e.config()

	state := &ExecutionState{
		ConversationID: conversationID,
		Utterance:      utterance,
		Phase:          PhasePlanning,
		guard:          newLoopGuard(cfg.LoopWarning, cfg.LoopCritical, cfg.LoopGlobal),
	}
	state.Transcript = append(state.Transcript, history...)
	state.Transcript = append(state.Transcript, provider.Message{Role: "user", Content: utterance})

	e.emitPhase(state)
	e.planTurn(ctx, state, logger)

	if state.PlannerErr != nil {
		logger.Warn().Err(state.PlannerErr).Msg("Planner output unusable")
		state.FinalResponse = "I couldn't work out how to handle that. Could you rephrase it?"
		return e.finish(state, start, false), nil
	}

	if cfg.EmitPlan && e.sink != nil {
		e.sink(Event{Type: "plan", Phase: state.Phase, Plan: state.Plan})
	}

	for state.StepIndex < len(state.Plan.Steps) {
		if state.Iteration >= cfg.MaxIterations {
			logger.Warn().
				Int("iterations", state.Iteration).
				Msg("Iteration cap reached, forcing response")
			break
		}

		step := state.Plan.Steps[state.StepIndex]
		if step.Kind == StepRespond {
			break
		}

		state.Iteration++
		if stop := e.runToolStep(ctx, state, step, logger); stop {
			break
		}
		state.StepIndex++
	}

	if state.Phase == PhaseClarifying {
		state.FinalResponse = clarificationMessage(state.Pending)
		observability.RecordClarification(state.Pending.Reason)
		return e.finish(state, start, true), nil
	}

	state.Phase = PhaseResponding
	e.emitPhase(state)
	e.respond(ctx, state, logger)

	return e.finish(state, start, true), nil
}

// planTurn invokes the planner role and parses its structured output
func (e *Executor) planTurn(ctx context.Context, state *ExecutionState, logger zerolog.Logger) {
	messages := e.buildPlannerMessages(state)

	result, err := e.planner.Call(ctx, provider.RolePlanner, messages, provider.InvokeOptions{
		Purpose:          provider.RolePlanner,
		StructuredOutput: true,
	})
	if err != nil {
		state.PlannerErr = fmt.Errorf("planner call: %w", err)
		return
	}

	plan, err := ParsePlan(result.Text)
	if err != nil {
		state.PlannerErr = err
		return
	}
	state.Plan = plan

	if plan.DetectedIntent == "" && e.router != nil {
		e.classifyIntent(ctx, state, logger)
	}

	logger.Debug().
		Int("steps", len(plan.Steps)).
		Str("intent", plan.DetectedIntent).
		Str("confidence", plan.IntentConfidence).
		Msg("Plan parsed")
}

// classifyIntent asks the router role for an intent when the planner left
// it out. Failures are tolerated; the run proceeds unclassified.
func (e *Executor) classifyIntent(ctx context.Context, state *ExecutionState, logger zerolog.Logger) {
	result, err := e.router.Call(ctx, provider.RoleRouter, []provider.Message{
		{Role: "system", Content: routerPrompt},
		{Role: "user", Content: state.Utterance},
	}, provider.InvokeOptions{Purpose: provider.RoleRouter, StructuredOutput: true})
	if err != nil {
		logger.Warn().Err(err).Msg("Router classification failed")
		return
	}

	var wire struct {
		Intent     string          `json:"intent"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(result.Text)), &wire); err != nil {
		logger.Warn().Err(err).Msg("Router output unparseable")
		return
	}
	state.Plan.DetectedIntent = wire.Intent
	state.Plan.IntentConfidence = normalizeConfidence(wire.Confidence)
}

// runToolStep validates and executes one tool step. Returns true when the
// run must stop for clarification.
func (e *Executor) runToolStep(ctx context.Context, state *ExecutionState, step PlanStep, logger zerolog.Logger) bool {
	state.Phase = PhaseValidating
	e.emitPhase(state)
	cfg := e.config()

	def := e.registry.Get(step.Tool)
	if def == nil {
		logger.Warn().Str("tool", step.Tool).Msg("Planned tool not registered")
		e.appendToolResult(state, step.Tool, fmt.Sprintf(`{"error":"unknown tool %s"}`, step.Tool))
		state.Executed = append(state.Executed, ActionRecord{Tool: step.Tool, Success: false, Args: step.Args})
		return false
	}

	if !cfg.Policy.Allowed(step.Tool) {
		logger.Warn().Str("tool", step.Tool).Msg("Tool blocked by policy")
		e.appendToolResult(state, step.Tool, fmt.Sprintf(`{"error":"tool %s is not permitted"}`, step.Tool))
		state.Executed = append(state.Executed, ActionRecord{Tool: step.Tool, Success: false, Args: step.Args})
		return false
	}

	e.applyDatetimeDefault(state, step, def, cfg.DatetimeTool)

	missing, err := e.registry.MissingRequired(step.Tool, step.Args)
	if err == nil && len(missing) > 0 {
		state.Phase = PhaseClarifying
		state.Pending = &PendingClarification{
			Reason:        ReasonMissingArgs,
			Tool:          step.Tool,
			MissingFields: missing,
		}
		return true
	}

	if err := resolvePlaceholders(step.Args, state.outputs); err != nil {
		phErr, ok := err.(*PlaceholderError)
		if !ok {
			phErr = &PlaceholderError{Reason: ReasonUnresolvedPlaceholder}
		}
		state.Phase = PhaseClarifying
		state.Pending = &PendingClarification{
			Reason:        phErr.Reason,
			Tool:          step.Tool,
			MissingFields: []string{phErr.Field},
		}
		return true
	}

	if def.IsMutation() && !e.mutationAllowed(state.Plan) {
		state.Phase = PhaseClarifying
		state.Pending = &PendingClarification{
			Reason: ReasonPreMutationConfirmation,
			Tool:   step.Tool,
		}
		return true
	}

	switch state.guard.observe(step.Tool) {
	case loopBlock:
		logger.Warn().
			Str("tool", step.Tool).
			Int("count", state.guard.count(step.Tool)).
			Msg("Loop detected, short-circuiting tool call")
		observability.RecordLoopDetection(step.Tool)
		e.appendToolResult(state, step.Tool, fmt.Sprintf(`{"error":"loop_detected","tool":"%s"}`, step.Tool))
		state.Executed = append(state.Executed, ActionRecord{Tool: step.Tool, Success: false, Args: step.Args})
		return false
	case loopAnnotate:
		logger.Warn().
			Str("tool", step.Tool).
			Int("count", state.guard.count(step.Tool)).
			Msg("Repeated identical tool call")
	}

	state.Phase = PhaseExecuting
	e.emitPhase(state)

	output, err := e.invokeWithRetry(ctx, step.Tool, step.Args, logger)
	if err != nil {
		e.appendToolResult(state, step.Tool, fmt.Sprintf(`{"error":%q}`, err.Error()))
		state.Executed = append(state.Executed, ActionRecord{Tool: step.Tool, Success: false, Args: step.Args})
		return false
	}

	e.appendToolResult(state, step.Tool, output)
	state.outputs = append(state.outputs, toolOutput{tool: step.Tool, raw: output})
	state.Executed = append(state.Executed, ActionRecord{Tool: step.Tool, Success: true, Args: step.Args})

	if def.IsMutation() && tools.IsMutationName(state.Plan.DetectedIntent) {
		e.verifyMutation(ctx, state, step, def, output, logger)
	}

	return false
}

// applyDatetimeDefault fills the datetime tool's single required argument
// with the raw utterance when the planner gave none.
func (e *Executor) applyDatetimeDefault(state *ExecutionState, step PlanStep, def *tools.Definition, datetimeTool string) {
	if step.Tool != datetimeTool {
		return
	}
	required := def.RequiredParameters()
	if len(required) != 1 {
		return
	}
	if _, ok := step.Args[required[0]]; !ok {
		step.Args[required[0]] = state.Utterance
	}
}

// mutationAllowed applies the pre-mutation confirmation gate
func (e *Executor) mutationAllowed(plan *Plan) bool {
	if plan.RequiresConfirmation {
		return false
	}
	return plan.IntentConfidence == ConfidenceHigh
}

// invokeWithRetry runs a tool, retrying exactly once on a transient failure
// with identical arguments.
func (e *Executor) invokeWithRetry(ctx context.Context, tool string, args map[string]interface{}, logger zerolog.Logger) (string, error) {
	start := time.Now()
	output, err := e.registry.Invoke(ctx, tool, args)
	if err == nil {
		observability.RecordToolExecution(tool, time.Since(start), true)
		return output, nil
	}
	if !tools.IsTransient(err) {
		observability.RecordToolExecution(tool, time.Since(start), false)
		return "", err
	}

	logger.Warn().Err(err).Str("tool", tool).Msg("Transient tool failure, retrying once")
	observability.RecordToolRetry(tool)

	retryStart := time.Now()
	output, err = e.registry.Invoke(ctx, tool, args)
	observability.RecordToolExecution(tool, time.Since(retryStart), err == nil)
	if err != nil {
		return "", err
	}
	return output, nil
}

// verifyMutation appends one read-only getter call after a successful
// mutation so the final answer reflects actual post-mutation state.
func (e *Executor) verifyMutation(ctx context.Context, state *ExecutionState, step PlanStep, def *tools.Definition, mutationOutput string, logger zerolog.Logger) {
	readback := def.ReadbackTool()
	readbackDef := e.registry.Get(readback)
	if readbackDef == nil {
		logger.Debug().Str("tool", step.Tool).Str("readback", readback).Msg("No readback tool registered")
		return
	}

	state.Phase = PhaseVerifying
	e.emitPhase(state)

	args := readbackArgs(readbackDef, step.Args, mutationOutput)
	output, err := e.registry.Invoke(ctx, readback, args)
	if err != nil {
		logger.Warn().Err(err).Str("readback", readback).Msg("Verification read failed")
		return
	}

	e.appendToolResult(state, readback, output)
	state.outputs = append(state.outputs, toolOutput{tool: readback, raw: output})
}

// readbackArgs assembles the getter's arguments from the mutation's output
// record first, then from the mutation's own arguments.
func readbackArgs(def *tools.Definition, stepArgs map[string]interface{}, mutationOutput string) map[string]interface{} {
	var record map[string]interface{}
	_ = json.Unmarshal([]byte(mutationOutput), &record)

	args := map[string]interface{}{}
	for _, name := range def.RequiredParameters() {
		if record != nil {
			if value, ok := record[name]; ok {
				args[name] = value
				continue
			}
		}
		if value, ok := stepArgs[name]; ok {
			args[name] = value
		}
	}
	return args
}

// respond invokes the responder role over the full transcript. A responder
// failure still yields best-effort text, never an empty turn.
func (e *Executor) respond(ctx context.Context, state *ExecutionState, logger zerolog.Logger) {
	messages := make([]provider.Message, 0, len(state.Transcript)+1)
	messages = append(messages, provider.Message{Role: "system", Content: responderPrompt})
	messages = append(messages, state.Transcript...)

	result, err := e.responder.Call(ctx, provider.RoleResponder, messages, provider.InvokeOptions{
		Purpose: provider.RoleResponder,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Responder call failed")
		state.FinalResponse = bestEffortResponse(state)
		return
	}
	state.FinalResponse = strings.TrimSpace(result.Text)
	if state.FinalResponse == "" {
		state.FinalResponse = provider.JoinBlocks(result.Blocks)
	}
	if state.FinalResponse == "" {
		state.FinalResponse = bestEffortResponse(state)
	}
}

// finish applies the mutation execution contract and closes out the run
func (e *Executor) finish(state *ExecutionState, start time.Time, success bool) *RunResult {
	intent := ""
	if state.Plan != nil {
		intent = state.Plan.DetectedIntent
	}

	if e.config().StrictMutation {
		rewritten, changed := enforceMutationContract(intent, state.Executed, state.Pending, state.FinalResponse)
		if changed {
			e.logger.Info().
				Str("intent", intent).
				Msg("Final response rewritten by mutation execution contract")
		}
		state.FinalResponse = rewritten
	}

	if state.Phase != PhaseClarifying && state.PlannerErr == nil {
		state.Phase = PhaseDone
	} else if state.PlannerErr != nil {
		state.Phase = PhaseError
	}
	e.emitPhase(state)

	observability.RecordAgentRun(e.responder.Provider(), time.Since(start), success)

	return &RunResult{
		Response:      state.FinalResponse,
		Phase:         state.Phase,
		Clarification: state.Pending,
		Executed:      state.Executed,
		Iterations:    state.Iteration,
		Intent:        intent,
	}
}

func (e *Executor) appendToolResult(state *ExecutionState, tool, output string) {
	callID := uuid.New().String()
	state.Transcript = append(state.Transcript,
		provider.Message{
			Role: "assistant",
			ToolCalls: []provider.ToolCall{
				{ID: callID, Name: tool},
			},
		},
		provider.Message{
			Role:       "tool",
			Content:    output,
			ToolCallID: callID,
			ToolName:   tool,
		},
	)
}

func (e *Executor) emitPhase(state *ExecutionState) {
	if e.sink == nil {
		return
	}
	e.sink(Event{Type: "phase", Phase: state.Phase})
}

// buildPlannerMessages renders the planning prompt with the tool catalog
func (e *Executor) buildPlannerMessages(state *ExecutionState) []provider.Message {
	var catalog strings.Builder
	for _, name := range e.registry.List() {
		def := e.registry.Get(name)
		if def == nil {
			continue
		}
		schema, _ := json.Marshal(def.InputSchema())
		fmt.Fprintf(&catalog, "- %s: %s\n  schema: %s\n", def.Name, def.Description, schema)
	}

	system := fmt.Sprintf(plannerPromptTemplate, catalog.String())

	messages := make([]provider.Message, 0, len(state.Transcript)+1)
	messages = append(messages, provider.Message{Role: "system", Content: system})
	messages = append(messages, state.Transcript...)
	return messages
}

// clarificationMessage renders the user-facing question for a pending
// clarification. Prompts are specific: they name missing fields or the
// ambiguous entity.
func clarificationMessage(pending *PendingClarification) string {
	switch pending.Reason {
	case ReasonMissingArgs:
		return fmt.Sprintf("To do that, I need: %s.", strings.Join(pending.MissingFields, ", "))
	case ReasonAmbiguousPromise:
		field := "the item you meant"
		if len(pending.MissingFields) > 0 {
			field = pending.MissingFields[0]
		}
		return fmt.Sprintf("I found more than one match for %s. Which one did you mean?", field)
	case ReasonUnresolvedPlaceholder:
		field := "that value"
		if len(pending.MissingFields) > 0 {
			field = pending.MissingFields[0]
		}
		return fmt.Sprintf("I couldn't determine %s from earlier results. Could you specify it?", field)
	case ReasonPreMutationConfirmation:
		return fmt.Sprintf("Please confirm: %s.", tools.CanonicalAction(pending.Tool))
	default:
		return "Could you give me a bit more detail?"
	}
}

// bestEffortResponse surfaces the last tool output when the responder is
// unavailable, so a degraded turn still answers something.
func bestEffortResponse(state *ExecutionState) string {
	if len(state.outputs) > 0 {
		return fmt.Sprintf("Here is what I found: %s", state.outputs[len(state.outputs)-1].raw)
	}
	return "Something went wrong while preparing the answer. Please try again."
}

const plannerPromptTemplate = `You are a planning engine. Given the conversation, produce a JSON object:
{"steps":[{"type":"tool","tool":"<name>","args":{...}} or {"type":"respond","response_hint":"..."}],
"detected_intent":"<tool-style intent name>","intent_confidence":"low|medium|high",
"safety":{"requires_confirmation":true|false}}

Available tools:
%s
Rules:
- Only use listed tools.
- Use the placeholder FROM_SEARCH for an entity id that a prior search step will find.
- Use FROM_TOOL:<tool>:<field> to reference a field of a prior tool's output.
- End the plan with a respond step.
- Output only the JSON object.`

const routerPrompt = `Classify the user's intent as a tool-style action name (for example "create_goal" or "get_goal"). Respond with JSON: {"intent":"<name>","confidence":"low|medium|high"}.`

const responderPrompt = `You are a concise assistant. Answer the user's request using the conversation, including any tool results. Never claim an action succeeded unless a tool result confirms it.`
