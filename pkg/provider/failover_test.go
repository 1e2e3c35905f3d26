package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathoni/rudder/pkg/quota"
)

type fakeAdapter struct {
	name    string
	results []invokeOutcome
	calls   int
}

type invokeOutcome struct {
	result *Result
	err    error
}

func (f *fakeAdapter) Name() string                 { return f.name }
func (f *fakeAdapter) Capabilities() Capabilities   { return Capabilities{StructuredOutput: true, NativeToolCalls: true} }
func (f *fakeAdapter) Supports(cap Capability) bool { return f.Capabilities().Has(cap) }

func (f *fakeAdapter) BuildRoleModel(role Role, cfg RoleModelConfig) (BoundModel, error) {
	return buildRoleModel(role, cfg)
}

func (f *fakeAdapter) Invoke(ctx context.Context, model BoundModel, messages []Message, opts InvokeOptions) (*Result, error) {
	outcome := f.results[f.calls%len(f.results)]
	f.calls++
	return outcome.result, outcome.err
}

func newBinding(t *testing.T, adapter Adapter, model string) *Binding {
	t.Helper()
	binding, err := NewBinding(adapter, map[Role]RoleModelConfig{
		RolePlanner: {Model: model, Temperature: 0.1},
	})
	require.NoError(t, err)
	return binding
}

func TestFailoverUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &fakeAdapter{name: "gemini", results: []invokeOutcome{
		{result: &Result{Text: "primary answer"}},
	}}
	fallback := &fakeAdapter{name: "openai", results: []invokeOutcome{
		{result: &Result{Text: "fallback answer"}},
	}}
	caller := NewFailoverCaller(
		newBinding(t, primary, "gemini-2.0-flash"),
		newBinding(t, fallback, "gpt-4o"),
		quota.NewRegistry(),
		zerolog.Nop(),
	)

	result, err := caller.Call(context.Background(), RolePlanner, []Message{{Role: "user", Content: "plan"}}, InvokeOptions{})

	require.NoError(t, err)
	assert.Equal(t, "primary answer", result.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, fallback.calls)
}

func TestFailoverSkipsPreBlockedPrimary(t *testing.T) {
	registry := quota.NewRegistry()
	registry.MarkRateLimited("gemini", "gemini-2.0-flash", time.Minute, "")

	primary := &fakeAdapter{name: "gemini", results: []invokeOutcome{
		{result: &Result{Text: "should not be reached"}},
	}}
	fallback := &fakeAdapter{name: "openai", results: []invokeOutcome{
		{result: &Result{Text: "fallback answer"}},
	}}
	caller := NewFailoverCaller(
		newBinding(t, primary, "gemini-2.0-flash"),
		newBinding(t, fallback, "gpt-4o"),
		registry,
		zerolog.Nop(),
	)

	result, err := caller.Call(context.Background(), RolePlanner, nil, InvokeOptions{})

	require.NoError(t, err)
	assert.Equal(t, "fallback answer", result.Text)
	assert.Zero(t, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestFailoverRetriesOnceOnRateLimit(t *testing.T) {
	rateLimitErr := &InvokeError{Provider: "gemini", Model: "gemini-2.0-flash", Kind: KindRateLimited, Err: errors.New("429")}
	primary := &fakeAdapter{name: "gemini", results: []invokeOutcome{
		{err: rateLimitErr},
	}}
	fallback := &fakeAdapter{name: "openai", results: []invokeOutcome{
		{result: &Result{Text: "fallback answer"}},
	}}
	caller := NewFailoverCaller(
		newBinding(t, primary, "gemini-2.0-flash"),
		newBinding(t, fallback, "gpt-4o"),
		quota.NewRegistry(),
		zerolog.Nop(),
	)

	result, err := caller.Call(context.Background(), RolePlanner, nil, InvokeOptions{})

	require.NoError(t, err)
	assert.Equal(t, "fallback answer", result.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestFailoverDoesNotRetryOtherErrors(t *testing.T) {
	otherErr := &InvokeError{Provider: "gemini", Model: "gemini-2.0-flash", Kind: KindOther, Err: errors.New("boom")}
	primary := &fakeAdapter{name: "gemini", results: []invokeOutcome{{err: otherErr}}}
	fallback := &fakeAdapter{name: "openai", results: []invokeOutcome{
		{result: &Result{Text: "fallback answer"}},
	}}
	caller := NewFailoverCaller(
		newBinding(t, primary, "gemini-2.0-flash"),
		newBinding(t, fallback, "gpt-4o"),
		quota.NewRegistry(),
		zerolog.Nop(),
	)

	_, err := caller.Call(context.Background(), RolePlanner, nil, InvokeOptions{})

	require.Error(t, err)
	assert.Zero(t, fallback.calls)
}

func TestFailoverWithoutFallbackSurfacesError(t *testing.T) {
	rateLimitErr := &InvokeError{Provider: "gemini", Model: "gemini-2.0-flash", Kind: KindRateLimited, Err: errors.New("429")}
	primary := &fakeAdapter{name: "gemini", results: []invokeOutcome{{err: rateLimitErr}}}
	caller := NewFailoverCaller(
		newBinding(t, primary, "gemini-2.0-flash"),
		nil,
		quota.NewRegistry(),
		zerolog.Nop(),
	)

	_, err := caller.Call(context.Background(), RolePlanner, nil, InvokeOptions{})

	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
}

func TestBindingRejectsUnboundRole(t *testing.T) {
	primary := &fakeAdapter{name: "gemini", results: []invokeOutcome{{result: &Result{}}}}
	binding := newBinding(t, primary, "gemini-2.0-flash")

	_, err := binding.Call(context.Background(), RoleResponder, nil, InvokeOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model bound")
}
