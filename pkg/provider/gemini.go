package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/fathoni/rudder/pkg/quota"
)

// GeminiAdapter wraps the Gemini API. The client is created on first use
// because construction needs a context.
type GeminiAdapter struct {
	apiKey   string
	registry *quota.Registry

	initOnce sync.Once
	client   *genai.Client
	initErr  error
}

// NewGeminiAdapter creates the adapter for the Gemini API
func NewGeminiAdapter(apiKey string, registry *quota.Registry) Adapter {
	return &GeminiAdapter{apiKey: apiKey, registry: registry}
}

func (a *GeminiAdapter) Name() string { return "gemini" }

func (a *GeminiAdapter) Capabilities() Capabilities {
	return Capabilities{
		StructuredOutput:  true,
		NativeToolCalls:   true,
		ReasoningControls: true,
	}
}

func (a *GeminiAdapter) Supports(cap Capability) bool { return a.Capabilities().Has(cap) }

func (a *GeminiAdapter) BuildRoleModel(role Role, cfg RoleModelConfig) (BoundModel, error) {
	return buildRoleModel(role, cfg)
}

func (a *GeminiAdapter) ensureClient(ctx context.Context) (*genai.Client, error) {
	a.initOnce.Do(func() {
		a.client, a.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  a.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return a.client, a.initErr
}

func (a *GeminiAdapter) Invoke(ctx context.Context, model BoundModel, messages []Message, opts InvokeOptions) (*Result, error) {
	client, err := a.ensureClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, model.Timeout)
	defer cancel()

	contents, system := convertGeminiContents(messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if model.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(model.Temperature))
	}
	if model.MaxTokens > 0 {
		config.MaxOutputTokens = int32(model.MaxTokens)
	}
	if opts.StructuredOutput {
		config.ResponseMIMEType = "application/json"
		if model.Schema != nil {
			config.ResponseSchema = schemaFromMap(model.Schema)
		}
	}
	if opts.ToolsBound && opts.FeatureLevel != FeatureSafe {
		declarations := []*genai.FunctionDeclaration{}
		for _, tool := range opts.Tools {
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaFromMap(tool.InputSchema),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	response, err := client.Models.GenerateContent(callCtx, model.Model, contents, config)
	if err != nil {
		return nil, a.reportAndWrap(model.Model, err)
	}
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil, &InvokeError{Provider: "gemini", Model: model.Model, Kind: KindOther,
			Err: fmt.Errorf("no candidates returned")}
	}

	candidate := response.Candidates[0]
	result := &Result{
		Raw:          response,
		FinishReason: string(candidate.FinishReason),
	}
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
			result.Blocks = append(result.Blocks, ContentBlock{Type: "text", Text: part.Text})
		}
		if part.FunctionCall != nil {
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}
	result.Text = text.String()
	return result, nil
}

func (a *GeminiAdapter) reportAndWrap(model string, err error) error {
	kind, retryAfter := classify(err)
	if a.registry != nil {
		switch kind {
		case KindRateLimited:
			a.registry.MarkRateLimited("gemini", model, retryAfter, "")
		case KindToolChoiceMismatch:
			a.registry.MarkMisbehaving("gemini", model, "tool_choice_mismatch")
		}
	}
	return &InvokeError{Provider: "gemini", Model: model, Kind: kind, RetryAfter: retryAfter, Err: err}
}

// convertGeminiContents maps role-tagged messages onto the content shapes the
// Gemini API expects. System messages are collected separately because the
// API carries them as a system instruction, not as transcript turns.
func convertGeminiContents(messages []Message) ([]*genai.Content, string) {
	contents := []*genai.Content{}
	var system strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(msg.Content)
		case "user":
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case "assistant":
			parts := []*genai.Part{}
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: tc.Name,
						Args: tc.Args,
					},
				})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case "tool":
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Content), &payload); err != nil {
				payload = map[string]interface{}{"output": msg.Content}
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     msg.ToolName,
						Response: payload,
					},
				}},
			})
		}
	}
	return contents, system.String()
}

// schemaFromMap converts a JSON-schema map into the Gemini schema type. Only
// the OpenAPI subset Gemini understands is carried over.
func schemaFromMap(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		out.Type = geminiType(t)
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]interface{}); ok {
				out.Properties[name] = schemaFromMap(sub)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = schemaFromMap(items)
	}
	if required, ok := schema["required"].([]string); ok {
		out.Required = required
	} else if required, ok := schema["required"].([]interface{}); ok {
		for _, item := range required {
			if s, ok := item.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		for _, item := range enum {
			if s, ok := item.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	return out
}

func geminiType(t string) genai.Type {
	switch strings.ToLower(t) {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
