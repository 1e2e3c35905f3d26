package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for run ID
	RunIDKey ContextKey = "run_id"
	// ConversationKey is the context key for the conversation identifier
	ConversationKey ContextKey = "conversation_id"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithConversationID adds a conversation identifier to the context
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationKey, conversationID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetConversationID retrieves the conversation identifier from the context
func GetConversationID(ctx context.Context) string {
	if conversationID, ok := ctx.Value(ConversationKey).(string); ok {
		return conversationID
	}
	return ""
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewRunContext creates a new context for one executor run with a fresh run ID
func NewRunContext(ctx context.Context, conversationID string) context.Context {
	ctx = WithRunID(ctx, NewRunID())
	return WithConversationID(ctx, conversationID)
}

// LoggerFromContext enriches a logger with trace/run/conversation identifiers
// present on the context.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	lc := base.With()
	if traceID := GetTraceID(ctx); traceID != "" {
		lc = lc.Str("trace_id", traceID)
	}
	if runID := GetRunID(ctx); runID != "" {
		lc = lc.Str("run_id", runID)
	}
	if conversationID := GetConversationID(ctx); conversationID != "" {
		lc = lc.Str("conversation_id", conversationID)
	}
	return lc.Logger()
}
