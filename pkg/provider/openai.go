package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/fathoni/rudder/pkg/quota"
)

// chatAdapter is the shared implementation for every upstream speaking the
// chat-completions dialect. OpenAI and Groq differ only in base URL and
// capabilities.
type chatAdapter struct {
	name     string
	client   openai.Client
	caps     Capabilities
	registry *quota.Registry
}

// NewOpenAIAdapter creates the adapter for the OpenAI API
func NewOpenAIAdapter(apiKey string, registry *quota.Registry) Adapter {
	return &chatAdapter{
		name:   "openai",
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		caps: Capabilities{
			StructuredOutput:  true,
			NativeToolCalls:   true,
			ReasoningControls: true,
		},
		registry: registry,
	}
}

func (a *chatAdapter) Name() string { return a.name }

func (a *chatAdapter) Capabilities() Capabilities { return a.caps }

func (a *chatAdapter) Supports(cap Capability) bool { return a.caps.Has(cap) }

func (a *chatAdapter) BuildRoleModel(role Role, cfg RoleModelConfig) (BoundModel, error) {
	return buildRoleModel(role, cfg)
}

// Invoke performs one chat-completions call. Rate-limit headers from the
// response are fed into the quota registry even on success so capacity is
// tracked before it runs out.
func (a *chatAdapter) Invoke(ctx context.Context, model BoundModel, messages []Message, opts InvokeOptions) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, model.Timeout)
	defer cancel()

	params, err := a.buildParams(model, messages, opts)
	if err != nil {
		return nil, err
	}

	var httpResp *http.Response
	response, err := a.client.Chat.Completions.New(callCtx, params,
		option.WithMaxRetries(model.MaxRetries),
		option.WithResponseInto(&httpResp),
	)
	if httpResp != nil && a.registry != nil {
		a.registry.UpdateFromResponseMetadata(a.name, model.Model, headerMap(httpResp.Header))
	}
	if err != nil {
		return nil, a.reportAndWrap(model.Model, err)
	}
	if len(response.Choices) == 0 {
		return nil, &InvokeError{Provider: a.name, Model: model.Model, Kind: KindOther,
			Err: fmt.Errorf("no response choices returned")}
	}

	choice := response.Choices[0]
	result := &Result{
		Text:         choice.Message.Content,
		Raw:          response,
		FinishReason: string(choice.FinishReason),
	}
	if result.Text != "" {
		result.Blocks = []ContentBlock{{Type: "text", Text: result.Text}}
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, &InvokeError{Provider: a.name, Model: model.Model, Kind: KindOther,
				Err: fmt.Errorf("parse tool arguments: %w", err)}
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return result, nil
}

func (a *chatAdapter) buildParams(model BoundModel, messages []Message, opts InvokeOptions) (openai.ChatCompletionNewParams, error) {
	converted := []openai.ChatCompletionMessageParamUnion{}
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			converted = append(converted, openai.SystemMessage(msg.Content))
		case "user":
			converted = append(converted, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				toolCalls := []openai.ChatCompletionMessageToolCall{}
				for _, tc := range msg.ToolCalls {
					argsJSON, err := json.Marshal(tc.Args)
					if err != nil {
						return openai.ChatCompletionNewParams{}, fmt.Errorf("marshal tool arguments: %w", err)
					}
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      tc.Name,
							Arguments: string(argsJSON),
						},
					})
				}
				assistantMsg := openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   msg.Content,
					ToolCalls: toolCalls,
				}
				converted = append(converted, assistantMsg.ToParam())
			} else {
				converted = append(converted, openai.AssistantMessage(msg.Content))
			}
		case "tool":
			converted = append(converted, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model.Model),
		Messages: converted,
	}
	if model.Temperature > 0 {
		params.Temperature = openai.Float(model.Temperature)
	}
	if model.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(model.MaxTokens))
	}
	if opts.StructuredOutput && a.caps.StructuredOutput {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	// Safe mode keeps calls to the plain chat surface; native tool
	// bindings are the first thing misbehaving models trip over.
	if opts.ToolsBound && opts.FeatureLevel != FeatureSafe {
		tools := []openai.ChatCompletionToolParam{}
		for _, tool := range opts.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.InputSchema),
				},
			})
		}
		params.Tools = tools
	}
	return params, nil
}

// reportAndWrap classifies err, registers any cool-down with the quota
// registry, and returns the classified error to the caller.
func (a *chatAdapter) reportAndWrap(model string, err error) error {
	kind, retryAfter := classify(err)
	if a.registry != nil {
		switch kind {
		case KindRateLimited:
			a.registry.MarkRateLimited(a.name, model, retryAfter, "")
		case KindToolChoiceMismatch:
			a.registry.MarkMisbehaving(a.name, model, "tool_choice_mismatch")
		}
	}
	return &InvokeError{Provider: a.name, Model: model, Kind: kind, RetryAfter: retryAfter, Err: err}
}

func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key := range h {
		out[key] = h.Get(key)
	}
	return out
}
