package provider

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/fathoni/rudder/pkg/quota"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name    string
		content interface{}
		want    string
	}{
		{"nil", nil, ""},
		{"plain string", "hello", "hello"},
		{
			"block list",
			[]ContentBlock{{Type: "text", Text: "one "}, {Type: "text", Text: "two"}},
			"one two",
		},
		{
			"generic block list",
			[]interface{}{
				map[string]interface{}{"type": "text", "text": "alpha"},
				map[string]interface{}{"type": "text", "text": " beta"},
			},
			"alpha beta",
		},
		{
			"map with text field",
			map[string]interface{}{"text": "inner"},
			"inner",
		},
		{
			"map without text field",
			map[string]interface{}{"value": float64(3)},
			`{"value":3}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeContent(tt.content))
		})
	}
}

func TestClassifyOpenAIRateLimit(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "42")
	err := &openai.Error{StatusCode: http.StatusTooManyRequests, Response: resp}

	kind, retryAfter := classify(err)

	assert.Equal(t, KindRateLimited, kind)
	assert.Equal(t, 42*time.Second, retryAfter)
}

func TestClassifyOpenAIToolFailure(t *testing.T) {
	err := &openai.Error{StatusCode: http.StatusBadRequest, Code: "tool_use_failed"}

	kind, _ := classify(err)

	assert.Equal(t, KindToolChoiceMismatch, kind)
}

func TestClassifyGeminiResourceExhausted(t *testing.T) {
	kind, _ := classify(genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"})
	assert.Equal(t, KindRateLimited, kind)

	kind, _ = classify(genai.APIError{Code: 500, Status: "INTERNAL"})
	assert.Equal(t, KindOther, kind)
}

func TestClassifyUnknownError(t *testing.T) {
	kind, retryAfter := classify(errors.New("connection refused"))

	assert.Equal(t, KindOther, kind)
	assert.Zero(t, retryAfter)
}

func TestRetryAfterFromResponse(t *testing.T) {
	t.Run("delta seconds", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		resp.Header.Set("Retry-After", "1.5")
		assert.Equal(t, 1500*time.Millisecond, retryAfterFromResponse(resp))
	})

	t.Run("http date in the future", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		resp.Header.Set("Retry-After", time.Now().Add(30*time.Second).UTC().Format(http.TimeFormat))
		got := retryAfterFromResponse(resp)
		assert.Greater(t, got, 20*time.Second)
		assert.LessOrEqual(t, got, 30*time.Second)
	})

	t.Run("missing header", func(t *testing.T) {
		assert.Zero(t, retryAfterFromResponse(&http.Response{Header: http.Header{}}))
	})

	t.Run("nil response", func(t *testing.T) {
		assert.Zero(t, retryAfterFromResponse(nil))
	})
}

func TestInvokeErrorClassifiers(t *testing.T) {
	rateLimited := &InvokeError{Provider: "openai", Model: "gpt-4o", Kind: KindRateLimited, Err: errors.New("429")}
	mismatch := &InvokeError{Provider: "groq", Model: "llama", Kind: KindToolChoiceMismatch, Err: errors.New("400")}

	assert.True(t, IsRateLimited(fmt.Errorf("call failed: %w", rateLimited)))
	assert.False(t, IsRateLimited(mismatch))
	assert.True(t, IsToolChoiceMismatch(mismatch))
	assert.False(t, IsToolChoiceMismatch(errors.New("plain")))
}

func TestBuildRoleModel(t *testing.T) {
	bound, err := buildRoleModel(RolePlanner, RoleModelConfig{
		Model:       "gemini-2.0-flash",
		Temperature: 0.2,
		MaxRetries:  2,
	})

	require.NoError(t, err)
	assert.Equal(t, RolePlanner, bound.Role)
	assert.Equal(t, "gemini-2.0-flash", bound.Model)
	assert.Equal(t, 30*time.Second, bound.Timeout)
	assert.Equal(t, 2, bound.MaxRetries)
}

func TestBuildRoleModelRejectsEmptyModel(t *testing.T) {
	_, err := buildRoleModel(RoleRouter, RoleModelConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is required")
}

func TestWithToolsDerivesACopy(t *testing.T) {
	base := InvokeOptions{Purpose: RolePlanner, Metadata: map[string]string{"run": "r1"}}
	tools := []ToolSpec{{Name: "get_goal"}}

	derived := base.WithTools(tools)

	assert.True(t, derived.ToolsBound)
	assert.Len(t, derived.Tools, 1)
	assert.False(t, base.ToolsBound)
	assert.Empty(t, base.Tools)

	derived.Metadata["run"] = "r2"
	assert.Equal(t, "r1", base.Metadata["run"])
}

func TestCapabilitiesHas(t *testing.T) {
	caps := Capabilities{StructuredOutput: true, NativeToolCalls: true}

	assert.True(t, caps.Has(CapStructuredOutput))
	assert.True(t, caps.Has(CapNativeToolCalls))
	assert.False(t, caps.Has(CapReasoningControls))
	assert.False(t, caps.Has(Capability("unknown")))
}

func TestFactoryNew(t *testing.T) {
	factory := &Factory{Registry: quota.NewRegistry()}

	for _, name := range []string{"gemini", "openai", "groq", "anthropic"} {
		adapter, err := factory.New(name, Credentials{APIKey: "test-key"})
		require.NoError(t, err, name)
		assert.Equal(t, name, adapter.Name())
	}

	_, err := factory.New("cohere", Credentials{APIKey: "test-key"})
	assert.Error(t, err)

	_, err = factory.New("openai", Credentials{})
	assert.Error(t, err)
}

func TestAdapterCapabilities(t *testing.T) {
	registry := quota.NewRegistry()

	assert.True(t, NewOpenAIAdapter("k", registry).Supports(CapStructuredOutput))
	assert.False(t, NewGroqAdapter("k", registry).Supports(CapStructuredOutput))
	assert.True(t, NewGroqAdapter("k", registry).Supports(CapNativeToolCalls))
	assert.False(t, NewAnthropicAdapter("k", registry).Supports(CapStructuredOutput))
	assert.True(t, NewGeminiAdapter("k", registry).Supports(CapStructuredOutput))
}

func TestConvertGeminiContents(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello", ToolCalls: []ToolCall{
			{Name: "get_goal", Args: map[string]interface{}{"goal_id": "g1"}},
		}},
		{Role: "tool", ToolName: "get_goal", Content: `{"id":"g1"}`},
	}

	contents, system := convertGeminiContents(messages)

	assert.Equal(t, "be terse", system)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "get_goal", contents[1].Parts[1].FunctionCall.Name)
	require.Len(t, contents[2].Parts, 1)
	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "g1", contents[2].Parts[0].FunctionResponse.Response["id"])
}

func TestSchemaFromMap(t *testing.T) {
	schema := schemaFromMap(map[string]interface{}{
		"type":        "object",
		"description": "a goal",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{"type": "string"},
			"tags": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []interface{}{"title"},
	})

	require.NotNil(t, schema)
	assert.Equal(t, genai.TypeObject, schema.Type)
	assert.Equal(t, genai.TypeString, schema.Properties["title"].Type)
	assert.Equal(t, genai.TypeArray, schema.Properties["tags"].Type)
	assert.Equal(t, genai.TypeString, schema.Properties["tags"].Items.Type)
	assert.Equal(t, []string{"title"}, schema.Required)

	assert.Nil(t, schemaFromMap(nil))
}
