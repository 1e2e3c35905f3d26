package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

const (
	defaultTimeout  = 30 * time.Second
	maxOutputLength = 16 * 1024
)

// Parameter defines a parameter for a tool
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Definition describes a named, schema-validated callable
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`

	// Readback names the paired read-only getter used to verify this tool's
	// effect. Empty means "derive from the name" for mutation tools.
	Readback string `json:"readback,omitempty"`

	// Timeout overrides the registry default for this tool
	Timeout time.Duration `json:"-"`
}

// IsMutation reports whether this tool changes persisted state
func (d *Definition) IsMutation() bool {
	return IsMutationName(d.Name)
}

// ReadbackTool returns the read-only getter paired with this tool
func (d *Definition) ReadbackTool() string {
	if d.Readback != "" {
		return d.Readback
	}
	return ReadbackName(d.Name)
}

// RequiredParameters lists the names of required parameters
func (d *Definition) RequiredParameters() []string {
	var required []string
	for _, p := range d.Parameters {
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return required
}

// InputSchema renders the tool's parameters as a JSON schema document
func (d *Definition) InputSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Parameters))
	required := []string{}

	for _, p := range d.Parameters {
		properties[p.Name] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Registry manages and executes tools
type Registry struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool definition
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", def.Name)
	}
	for _, p := range def.Parameters {
		if p.Name == "" {
			return fmt.Errorf("tool %s: parameter name is required", def.Name)
		}
		if p.Type == "" {
			return fmt.Errorf("tool %s: parameter %s has no type", def.Name, p.Name)
		}
	}

	schemaJSON, err := json.Marshal(def.InputSchema())
	if err != nil {
		return fmt.Errorf("tool %s: failed to marshal schema: %w", def.Name, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("tool %s: failed to compile schema: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s: already registered", def.Name)
	}
	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Bool("mutation", def.IsMutation()).Msg("Tool registered")
	return nil
}

// Get returns a tool definition by name
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MissingRequired returns the required argument names absent from args,
// preserving parameter declaration order. It returns ErrToolNotFound for
// unknown tools.
func (r *Registry) MissingRequired(name string, args map[string]interface{}) ([]string, error) {
	def := r.Get(name)
	if def == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	var missing []string
	for _, p := range def.Parameters {
		if !p.Required {
			continue
		}
		value, ok := args[p.Name]
		if !ok || value == nil || value == "" {
			missing = append(missing, p.Name)
		}
	}
	return missing, nil
}

// Invoke validates arguments against the tool schema and runs the handler
// under the tool's timeout. Structured results are serialized to JSON text.
// Handler errors propagate unchanged so callers can classify them by type.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	r.mu.RLock()
	def := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if def == nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return "", fmt.Errorf("tool %s: schema validation error: %w", name, err)
	}
	if !result.Valid() {
		return "", fmt.Errorf("tool %s: invalid arguments: %s", name, formatSchemaErrors(result))
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := def.Handler(callCtx, args)
	if err != nil {
		return "", err
	}

	text, err := stringifyOutput(output)
	if err != nil {
		return "", fmt.Errorf("tool %s: failed to serialize output: %w", name, err)
	}
	if len(text) > maxOutputLength {
		text = text[:maxOutputLength] + "\n[output truncated]"
	}
	return text, nil
}

func stringifyOutput(output interface{}) (string, error) {
	switch v := output.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func formatSchemaErrors(result *gojsonschema.Result) string {
	msg := ""
	for i, e := range result.Errors() {
		if i > 0 {
			msg += "; "
		}
		msg += e.String()
	}
	return msg
}
