// Package provider normalizes heterogeneous LLM backends behind one
// invocation contract. Each adapter wraps one upstream model family and
// reports rate-limit telemetry to the quota registry.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/fathoni/rudder/pkg/quota"
)

// Role is a distinct purpose a model is invoked for
type Role string

const (
	RoleRouter    Role = "router"
	RolePlanner   Role = "planner"
	RoleResponder Role = "responder"
)

// Capability identifies a provider feature callers may branch on
type Capability string

const (
	CapStructuredOutput  Capability = "structured_output"
	CapNativeToolCalls   Capability = "native_tool_calls"
	CapReasoningControls Capability = "reasoning_controls"
)

// Capabilities describes what one adapter's upstream family supports.
// Immutable after construction.
type Capabilities struct {
	StructuredOutput  bool
	NativeToolCalls   bool
	ReasoningControls bool
}

// Has reports whether a capability is present
func (c Capabilities) Has(cap Capability) bool {
	switch cap {
	case CapStructuredOutput:
		return c.StructuredOutput
	case CapNativeToolCalls:
		return c.NativeToolCalls
	case CapReasoningControls:
		return c.ReasoningControls
	default:
		return false
	}
}

// FeatureLevel controls how many provider-specific rich features a call uses
type FeatureLevel string

const (
	FeatureSafe     FeatureLevel = "safe"
	FeatureBalanced FeatureLevel = "balanced"
	FeatureFull     FeatureLevel = "full"
)

// InvokeOptions carries per-call settings. Values are immutable; deriving a
// tools-bound variant returns a copy.
type InvokeOptions struct {
	Purpose          Role
	StructuredOutput bool
	ToolsBound       bool
	FeatureLevel     FeatureLevel
	Metadata         map[string]string
	Tools            []ToolSpec
}

// WithTools derives a new options value with tool bindings attached
func (o InvokeOptions) WithTools(tools []ToolSpec) InvokeOptions {
	derived := o
	derived.ToolsBound = len(tools) > 0
	derived.Tools = make([]ToolSpec, len(tools))
	copy(derived.Tools, tools)
	if o.Metadata != nil {
		derived.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			derived.Metadata[k] = v
		}
	}
	return derived
}

// ToolSpec is the provider-agnostic description of a bindable tool
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Message is one role-tagged transcript entry
type Message struct {
	Role       string // system, user, assistant, tool
	Content    string
	ToolCallID string
	ToolName   string
	ToolCalls  []ToolCall
}

// ToolCall is a tool invocation requested by a model
type ToolCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// ContentBlock is one raw content element from a provider response
type ContentBlock struct {
	Type string
	Text string
}

// Result is the provider-agnostic view of a model response. Created once per
// invocation and never mutated; Raw is owned by the caller.
type Result struct {
	Text         string
	Blocks       []ContentBlock
	ToolCalls    []ToolCall
	Raw          interface{}
	FinishReason string
}

// Usage tracks token consumption for one invocation
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// RoleModelConfig holds the settings a role-specific model is bound to
type RoleModelConfig struct {
	Model        string
	Temperature  float64
	Timeout      time.Duration
	MaxRetries   int
	MaxTokens    int
	FeatureLevel FeatureLevel

	// Schema is set for structured roles and rendered according to
	// provider capabilities.
	Schema map[string]interface{}
}

// BoundModel is a role-specific callable configuration produced by
// BuildRoleModel.
type BoundModel struct {
	Role         Role
	Model        string
	Temperature  float64
	Timeout      time.Duration
	MaxRetries   int
	MaxTokens    int
	FeatureLevel FeatureLevel
	Schema       map[string]interface{}
}

// Adapter is the uniform contract over one upstream model family
type Adapter interface {
	// Name returns the provider tag: gemini, openai, groq, anthropic
	Name() string

	// Capabilities exposes the immutable feature flags
	Capabilities() Capabilities

	// Supports reports a single capability
	Supports(cap Capability) bool

	// BuildRoleModel binds a role to model, temperature, timeout, retry
	// count and, for structured roles, a response schema.
	BuildRoleModel(role Role, cfg RoleModelConfig) (BoundModel, error)

	// Invoke performs one model call and normalizes the response. Telemetry
	// from the upstream response is reported to the quota registry; errors
	// are classified, registered as cool-downs, and re-raised.
	Invoke(ctx context.Context, model BoundModel, messages []Message, opts InvokeOptions) (*Result, error)
}

// Factory creates adapters by provider name
type Factory struct {
	Registry *quota.Registry
}

// Credentials holds one provider's API key
type Credentials struct {
	APIKey string
}

// New creates an adapter for the named provider
func (f *Factory) New(provider string, creds Credentials) (Adapter, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key is required", provider)
	}
	switch provider {
	case "gemini":
		return NewGeminiAdapter(creds.APIKey, f.Registry), nil
	case "openai":
		return NewOpenAIAdapter(creds.APIKey, f.Registry), nil
	case "groq":
		return NewGroqAdapter(creds.APIKey, f.Registry), nil
	case "anthropic":
		return NewAnthropicAdapter(creds.APIKey, f.Registry), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func buildRoleModel(role Role, cfg RoleModelConfig) (BoundModel, error) {
	if cfg.Model == "" {
		return BoundModel{}, fmt.Errorf("role %s: model is required", role)
	}
	if cfg.Temperature < 0 {
		return BoundModel{}, fmt.Errorf("role %s: temperature cannot be negative", role)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	level := cfg.FeatureLevel
	if level == "" {
		level = FeatureBalanced
	}
	return BoundModel{
		Role:         role,
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		Timeout:      timeout,
		MaxRetries:   retries,
		MaxTokens:    cfg.MaxTokens,
		FeatureLevel: level,
		Schema:       cfg.Schema,
	}, nil
}
