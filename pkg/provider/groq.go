package provider

import (
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/fathoni/rudder/pkg/quota"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// NewGroqAdapter creates the adapter for the Groq API. Groq speaks the
// chat-completions dialect, so the adapter reuses the shared implementation
// with a different base URL. Structured output is not offered because Groq
// rejects response-format constraints on several hosted models.
func NewGroqAdapter(apiKey string, registry *quota.Registry) Adapter {
	return &chatAdapter{
		name: "groq",
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(groqBaseURL),
		),
		caps: Capabilities{
			StructuredOutput:  false,
			NativeToolCalls:   true,
			ReasoningControls: false,
		},
		registry: registry,
	}
}
