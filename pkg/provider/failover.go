package provider

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fathoni/rudder/internal/observability"
	"github.com/fathoni/rudder/pkg/quota"
)

// RoleCaller invokes the model bound to a role
type RoleCaller interface {
	Call(ctx context.Context, role Role, messages []Message, opts InvokeOptions) (*Result, error)
	Provider() string
}

// Binding pairs one adapter with its role-bound models
type Binding struct {
	adapter Adapter
	models  map[Role]BoundModel
}

// NewBinding builds the role models for one adapter
func NewBinding(adapter Adapter, configs map[Role]RoleModelConfig) (*Binding, error) {
	models := make(map[Role]BoundModel, len(configs))
	for role, cfg := range configs {
		bound, err := adapter.BuildRoleModel(role, cfg)
		if err != nil {
			return nil, err
		}
		models[role] = bound
	}
	return &Binding{adapter: adapter, models: models}, nil
}

// Provider returns the underlying adapter name
func (b *Binding) Provider() string { return b.adapter.Name() }

// Adapter returns the wrapped adapter
func (b *Binding) Adapter() Adapter { return b.adapter }

// Model returns the bound model for a role
func (b *Binding) Model(role Role) (BoundModel, bool) {
	m, ok := b.models[role]
	return m, ok
}

// Call invokes the model bound to role
func (b *Binding) Call(ctx context.Context, role Role, messages []Message, opts InvokeOptions) (*Result, error) {
	model, ok := b.models[role]
	if !ok {
		return nil, fmt.Errorf("provider %s: no model bound for role %s", b.adapter.Name(), role)
	}
	if opts.Purpose == "" {
		opts.Purpose = role
	}
	if !opts.StructuredOutput {
		opts.StructuredOutput = model.Schema != nil
	}
	if opts.FeatureLevel == "" {
		opts.FeatureLevel = model.FeatureLevel
	}
	return b.adapter.Invoke(ctx, model, messages, opts)
}

// FailoverCaller routes calls to a primary binding and falls back to a
// secondary one when the primary is cooled down or rate limited mid-turn.
// The fallback is tried at most once per call.
type FailoverCaller struct {
	primary  *Binding
	fallback *Binding
	registry *quota.Registry
	logger   zerolog.Logger
}

// NewFailoverCaller wires a primary and optional fallback binding. fallback
// may be nil, in which case failures surface directly.
func NewFailoverCaller(primary, fallback *Binding, registry *quota.Registry, logger zerolog.Logger) *FailoverCaller {
	return &FailoverCaller{
		primary:  primary,
		fallback: fallback,
		registry: registry,
		logger:   logger.With().Str("component", "failover").Logger(),
	}
}

// Provider returns the primary adapter name
func (f *FailoverCaller) Provider() string { return f.primary.Provider() }

// Call invokes the role model on the primary binding. A primary that is
// already blocked for this role's model is skipped without an attempt. A
// rate-limit failure mid-call triggers one same-turn retry on the fallback.
func (f *FailoverCaller) Call(ctx context.Context, role Role, messages []Message, opts InvokeOptions) (*Result, error) {
	if f.fallback != nil {
		if model, ok := f.primary.Model(role); ok && f.registry != nil &&
			f.registry.IsBlocked(f.primary.Provider(), model.Model) {
			f.logger.Info().
				Str("role", string(role)).
				Str("primary", f.primary.Provider()).
				Str("fallback", f.fallback.Provider()).
				Msg("primary blocked, routing to fallback")
			observability.RecordFallback(string(role), "pre_blocked")
			return f.fallback.Call(ctx, role, messages, opts)
		}
	}

	result, err := f.primary.Call(ctx, role, messages, opts)
	if err == nil {
		return result, nil
	}
	if f.fallback == nil || !IsRateLimited(err) {
		return nil, err
	}

	f.logger.Warn().
		Err(err).
		Str("role", string(role)).
		Str("primary", f.primary.Provider()).
		Str("fallback", f.fallback.Provider()).
		Msg("primary rate limited, retrying on fallback")
	observability.RecordFallback(string(role), "rate_limited")
	return f.fallback.Call(ctx, role, messages, opts)
}
