package quota

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fathoni/rudder/internal/observability"
)

const (
	// DefaultRateLimitCooldown applies when a rate-limited response carries no
	// usable retry-after or reset hint.
	DefaultRateLimitCooldown = 30 * time.Second

	// MisbehaveCooldown is the shorter cool-down for tool-choice mismatches.
	// It steers subsequent calls away from the model without failing the turn.
	MisbehaveCooldown = 10 * time.Second
)

// Key identifies one (provider, model) capacity bucket
type Key struct {
	Provider string
	Model    string
}

// ModelState tracks rate-limit capacity for one (provider, model) pair.
// A value of -1 means "unknown". All access goes through the registry lock.
type ModelState struct {
	RemainingRequests int64
	LimitRequests     int64
	RemainingTokens   int64
	LimitTokens       int64
	RequestsReset     time.Time // zero when no reset is known
	TokensReset       time.Time // zero when no reset is known
	BlockedUntil      time.Time // zero when open
	LastSeen          time.Time
	LastError         string
}

// Registry is the process-wide capacity tracker for (provider, model) pairs.
// One mutex guards the whole map; operations are map lookups and never block
// on I/O while holding the lock.
type Registry struct {
	mu     sync.Mutex
	states map[Key]*ModelState
	now    func() time.Time
	logger zerolog.Logger

	tokens *tokenEstimator
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the registry's time source (used by tests)
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the registry logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty quota registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		states: make(map[Key]*ModelState),
		now:    time.Now,
		logger: zerolog.Nop(),
		tokens: newTokenEstimator(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// stateLocked returns the state for a key, creating it lazily.
// Callers must hold r.mu.
func (r *Registry) stateLocked(provider, model string) *ModelState {
	key := Key{Provider: provider, Model: model}
	st, ok := r.states[key]
	if !ok {
		st = &ModelState{
			RemainingRequests: -1,
			LimitRequests:     -1,
			RemainingTokens:   -1,
			LimitTokens:       -1,
		}
		r.states[key] = st
	}
	return st
}

// UpdateFromResponseMetadata ingests rate-limit response headers for a model.
// When remaining requests or tokens hit zero the model is blocked until the
// later of the two resets.
func (r *Registry) UpdateFromResponseMetadata(provider, model string, headers map[string]string) {
	meta := parseRateLimitHeaders(headers)
	if meta.empty() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	st := r.stateLocked(provider, model)
	st.LastSeen = now

	if meta.remainingRequests >= 0 {
		st.RemainingRequests = meta.remainingRequests
	}
	if meta.limitRequests >= 0 {
		st.LimitRequests = meta.limitRequests
	}
	if meta.remainingTokens >= 0 {
		st.RemainingTokens = meta.remainingTokens
	}
	if meta.limitTokens >= 0 {
		st.LimitTokens = meta.limitTokens
	}
	if meta.requestsReset > 0 {
		st.RequestsReset = now.Add(meta.requestsReset)
	}
	if meta.tokensReset > 0 {
		st.TokensReset = now.Add(meta.tokensReset)
	}

	requestsExhausted := meta.remainingRequests == 0
	tokensExhausted := meta.remainingTokens == 0
	if !requestsExhausted && !tokensExhausted {
		return
	}

	blockedUntil := laterOf(st.RequestsReset, st.TokensReset)
	if blockedUntil.IsZero() || !blockedUntil.After(now) {
		// Exhausted with no usable reset: a zero parse means "no reset
		// known", never "already reset".
		blockedUntil = now.Add(DefaultRateLimitCooldown)
	}
	st.BlockedUntil = blockedUntil
	st.LastError = "quota_exhausted"

	r.logger.Warn().
		Str("provider", provider).
		Str("model", model).
		Time("blocked_until", blockedUntil).
		Bool("requests_exhausted", requestsExhausted).
		Bool("tokens_exhausted", tokensExhausted).
		Msg("Model quota exhausted")
	observability.SetModelBlocked(provider, model, true)
	r.syncProviderCooldownLocked(provider)
}

// MarkRateLimited blocks a model for a cool-down period. Delay priority:
// explicit retry-after, then a parsed reset hint, then the default cool-down.
// It returns the instant the block expires.
func (r *Registry) MarkRateLimited(provider, model string, retryAfter time.Duration, resetHint string) time.Time {
	delay := retryAfter
	if delay <= 0 {
		delay = ParseResetDuration(resetHint)
	}
	if delay <= 0 {
		delay = DefaultRateLimitCooldown
	}
	return r.block(provider, model, delay, "rate_limited")
}

// MarkMisbehaving registers a short cool-down for a model that returned a
// malformed tool choice, steering subsequent calls away from it.
func (r *Registry) MarkMisbehaving(provider, model, reason string) time.Time {
	if reason == "" {
		reason = "misbehaving"
	}
	return r.block(provider, model, MisbehaveCooldown, reason)
}

func (r *Registry) block(provider, model string, delay time.Duration, label string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	st := r.stateLocked(provider, model)
	st.LastSeen = now
	st.LastError = label

	blockedUntil := now.Add(delay)
	// Never shorten an existing block
	if blockedUntil.After(st.BlockedUntil) {
		st.BlockedUntil = blockedUntil
	}

	r.logger.Warn().
		Str("provider", provider).
		Str("model", model).
		Str("reason", label).
		Dur("cooldown", delay).
		Msg("Model blocked")
	observability.SetModelBlocked(provider, model, true)
	observability.RecordRateLimitHit(provider, model)
	r.syncProviderCooldownLocked(provider)

	return st.BlockedUntil
}

// IsBlocked reports whether a model is currently blocked. A block that has
// already expired is cleared as a side effect (self-healing).
func (r *Registry) IsBlocked(provider, model string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blockedLocked(provider, model)
}

func (r *Registry) blockedLocked(provider, model string) bool {
	key := Key{Provider: provider, Model: model}
	st, ok := r.states[key]
	if !ok || st.BlockedUntil.IsZero() {
		return false
	}
	if !r.now().Before(st.BlockedUntil) {
		st.BlockedUntil = time.Time{}
		observability.SetModelBlocked(provider, model, false)
		r.syncProviderCooldownLocked(provider)
		return false
	}
	return true
}

// syncProviderCooldownLocked publishes whether any model of the provider is
// still inside a cool-down window. Callers hold r.mu.
func (r *Registry) syncProviderCooldownLocked(provider string) {
	now := r.now()
	active := false
	for key, st := range r.states {
		if key.Provider != provider || st.BlockedUntil.IsZero() {
			continue
		}
		if now.Before(st.BlockedUntil) {
			active = true
			break
		}
	}
	observability.SetProviderCooldown(provider, active)
}

// PickFirstAvailable returns the first candidate model not currently blocked,
// preserving the caller-supplied preference order.
func (r *Registry) PickFirstAvailable(provider string, candidates []string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, model := range candidates {
		if !r.blockedLocked(provider, model) {
			return model, true
		}
	}
	return "", false
}

// EstimateTokens estimates how many tokens a text costs for a model. Known
// model families use their sub-word tokenizer; everything else falls back to
// max(1, len/4). Estimation runs outside the registry lock.
func (r *Registry) EstimateTokens(text, modelID string) int {
	return r.tokens.estimate(text, modelID)
}

// Snapshot returns a copy of the registry state for reporting
func (r *Registry) Snapshot() map[Key]ModelState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Key]ModelState, len(r.states))
	for key, st := range r.states {
		out[key] = *st
	}
	return out
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
