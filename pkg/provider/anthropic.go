package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/fathoni/rudder/pkg/quota"
)

// AnthropicAdapter wraps the Anthropic messages API
type AnthropicAdapter struct {
	client   anthropic.Client
	registry *quota.Registry
}

// NewAnthropicAdapter creates the adapter for the Anthropic API
func NewAnthropicAdapter(apiKey string, registry *quota.Registry) Adapter {
	return &AnthropicAdapter{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		registry: registry,
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Capabilities() Capabilities {
	return Capabilities{
		StructuredOutput:  false,
		NativeToolCalls:   true,
		ReasoningControls: true,
	}
}

func (a *AnthropicAdapter) Supports(cap Capability) bool { return a.Capabilities().Has(cap) }

func (a *AnthropicAdapter) BuildRoleModel(role Role, cfg RoleModelConfig) (BoundModel, error) {
	return buildRoleModel(role, cfg)
}

func (a *AnthropicAdapter) Invoke(ctx context.Context, model BoundModel, messages []Message, opts InvokeOptions) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, model.Timeout)
	defer cancel()

	params := a.buildParams(model, messages, opts)

	var httpResp *http.Response
	response, err := a.client.Messages.New(callCtx, params,
		option.WithMaxRetries(model.MaxRetries),
		option.WithResponseInto(&httpResp),
	)
	if httpResp != nil && a.registry != nil {
		a.registry.UpdateFromResponseMetadata("anthropic", model.Model, headerMap(httpResp.Header))
	}
	if err != nil {
		return nil, a.reportAndWrap(model.Model, err)
	}

	result := &Result{
		Raw:          response,
		FinishReason: string(response.StopReason),
	}
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Text += b.Text
			result.Blocks = append(result.Blocks, ContentBlock{Type: "text", Text: b.Text})
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &args); err != nil {
				return nil, &InvokeError{Provider: "anthropic", Model: model.Model, Kind: KindOther,
					Err: fmt.Errorf("parse tool input: %w", err)}
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:   b.ID,
				Name: b.Name,
				Args: args,
			})
		}
	}
	return result, nil
}

func (a *AnthropicAdapter) buildParams(model BoundModel, messages []Message, opts InvokeOptions) anthropic.MessageNewParams {
	converted := []anthropic.MessageParam{}
	system := ""
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += msg.Content
		case "tool":
			converted = append(converted, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Args, tc.Name))
			}
			converted = append(converted, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case "user":
			converted = append(converted, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	maxTokens := model.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model.Model),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if model.Temperature > 0 {
		params.Temperature = anthropic.Float(model.Temperature)
	}
	if opts.ToolsBound && opts.FeatureLevel != FeatureSafe {
		tools := []anthropic.ToolUnionParam{}
		for _, tool := range opts.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.InputSchema["properties"],
				},
			}
			if required, ok := tool.InputSchema["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			} else if required, ok := tool.InputSchema["required"].([]interface{}); ok {
				strs := make([]string, 0, len(required))
				for _, item := range required {
					if s, ok := item.(string); ok {
						strs = append(strs, s)
					}
				}
				toolParam.InputSchema.Required = strs
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}
	return params
}

func (a *AnthropicAdapter) reportAndWrap(model string, err error) error {
	kind, retryAfter := classify(err)
	if a.registry != nil {
		switch kind {
		case KindRateLimited:
			a.registry.MarkRateLimited("anthropic", model, retryAfter, "")
		case KindToolChoiceMismatch:
			a.registry.MarkMisbehaving("anthropic", model, "tool_choice_mismatch")
		}
	}
	return &InvokeError{Provider: "anthropic", Model: model, Kind: kind, RetryAfter: retryAfter, Err: err}
}
