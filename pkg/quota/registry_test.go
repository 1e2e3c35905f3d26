package quota

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathoni/rudder/internal/observability"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestRegistry() (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewRegistry(WithClock(clock.Now)), clock
}

func TestMarkRateLimitedBlocksUntilRetryAfter(t *testing.T) {
	r, clock := newTestRegistry()

	r.MarkRateLimited("openai", "gpt-4o-mini", 60*time.Second, "")
	assert.True(t, r.IsBlocked("openai", "gpt-4o-mini"))

	clock.Advance(59 * time.Second)
	assert.True(t, r.IsBlocked("openai", "gpt-4o-mini"))

	clock.Advance(1 * time.Second)
	assert.False(t, r.IsBlocked("openai", "gpt-4o-mini"))
}

func TestMarkRateLimitedDelayPriority(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter time.Duration
		resetHint  string
		want       time.Duration
	}{
		{"explicit retry-after wins", 45 * time.Second, "120s", 45 * time.Second},
		{"reset hint when no retry-after", 0, "2m", 2 * time.Minute},
		{"unitless hint is seconds", 0, "90", 90 * time.Second},
		{"default when nothing usable", 0, "", DefaultRateLimitCooldown},
		{"default on garbage hint", 0, "soon", DefaultRateLimitCooldown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, clock := newTestRegistry()
			until := r.MarkRateLimited("openai", "gpt-4o", tt.retryAfter, tt.resetHint)
			assert.Equal(t, clock.Now().Add(tt.want), until)
		})
	}
}

func TestIsBlockedSelfHeals(t *testing.T) {
	r, clock := newTestRegistry()

	r.MarkRateLimited("gemini", "gemini-2.0-flash", 10*time.Second, "")
	clock.Advance(11 * time.Second)

	require.False(t, r.IsBlocked("gemini", "gemini-2.0-flash"))

	// The expired block must have been cleared, not just ignored
	st := r.Snapshot()[Key{Provider: "gemini", Model: "gemini-2.0-flash"}]
	assert.True(t, st.BlockedUntil.IsZero())
}

func TestIsBlockedUnknownModel(t *testing.T) {
	r, _ := newTestRegistry()
	assert.False(t, r.IsBlocked("openai", "never-seen"))
}

func TestUpdateFromResponseMetadataTracksCapacity(t *testing.T) {
	r, _ := newTestRegistry()

	r.UpdateFromResponseMetadata("openai", "gpt-4o", map[string]string{
		"x-ratelimit-remaining-requests": "99",
		"x-ratelimit-limit-requests":     "100",
		"x-ratelimit-remaining-tokens":   "39k",
		"x-ratelimit-limit-tokens":       "40k",
		"x-ratelimit-reset-requests":     "60s",
	})

	st := r.Snapshot()[Key{Provider: "openai", Model: "gpt-4o"}]
	assert.Equal(t, int64(99), st.RemainingRequests)
	assert.Equal(t, int64(100), st.LimitRequests)
	assert.Equal(t, int64(39000), st.RemainingTokens)
	assert.Equal(t, int64(40000), st.LimitTokens)
	assert.False(t, r.IsBlocked("openai", "gpt-4o"))
}

func TestUpdateFromResponseMetadataBlocksOnExhaustion(t *testing.T) {
	r, clock := newTestRegistry()

	r.UpdateFromResponseMetadata("openai", "gpt-4o", map[string]string{
		"x-ratelimit-remaining-requests": "0",
		"x-ratelimit-reset-requests":     "30s",
		"x-ratelimit-reset-tokens":       "2m",
	})

	assert.True(t, r.IsBlocked("openai", "gpt-4o"))

	// Blocked until the later of the two resets
	clock.Advance(31 * time.Second)
	assert.True(t, r.IsBlocked("openai", "gpt-4o"))

	clock.Advance(90 * time.Second)
	assert.False(t, r.IsBlocked("openai", "gpt-4o"))
}

func TestUpdateExhaustedWithoutResetUsesDefault(t *testing.T) {
	r, clock := newTestRegistry()

	// "0" reset parses to zero, which means "no reset known"
	r.UpdateFromResponseMetadata("openai", "gpt-4o", map[string]string{
		"x-ratelimit-remaining-tokens": "0",
		"x-ratelimit-reset-tokens":     "0",
	})

	assert.True(t, r.IsBlocked("openai", "gpt-4o"))
	clock.Advance(DefaultRateLimitCooldown + time.Second)
	assert.False(t, r.IsBlocked("openai", "gpt-4o"))
}

func TestMarkMisbehavingShorterCooldown(t *testing.T) {
	r, clock := newTestRegistry()

	r.MarkMisbehaving("groq", "llama-3.3-70b-versatile", "tool_choice_mismatch")
	assert.True(t, r.IsBlocked("groq", "llama-3.3-70b-versatile"))

	clock.Advance(MisbehaveCooldown + time.Second)
	assert.False(t, r.IsBlocked("groq", "llama-3.3-70b-versatile"))
}

func TestBlockNeverShortens(t *testing.T) {
	r, clock := newTestRegistry()

	r.MarkRateLimited("openai", "gpt-4o", 5*time.Minute, "")
	r.MarkMisbehaving("openai", "gpt-4o", "tool_choice_mismatch")

	clock.Advance(MisbehaveCooldown + time.Second)
	assert.True(t, r.IsBlocked("openai", "gpt-4o"))
}

func TestPickFirstAvailablePreservesOrder(t *testing.T) {
	r, _ := newTestRegistry()

	candidates := []string{"gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"}

	model, ok := r.PickFirstAvailable("openai", candidates)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", model)

	r.MarkRateLimited("openai", "gpt-4o", time.Minute, "")
	model, ok = r.PickFirstAvailable("openai", candidates)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", model)

	r.MarkRateLimited("openai", "gpt-4o-mini", time.Minute, "")
	r.MarkRateLimited("openai", "gpt-3.5-turbo", time.Minute, "")
	_, ok = r.PickFirstAvailable("openai", candidates)
	assert.False(t, ok)
}

func TestEstimateTokensHeuristicFallback(t *testing.T) {
	r, _ := newTestRegistry()

	// Unknown family falls back to max(1, len/4)
	assert.Equal(t, 1, r.EstimateTokens("hi", "gemini-2.0-flash"))
	assert.Equal(t, 10, r.EstimateTokens("0123456789012345678901234567890123456789", ""))
}

func TestSnapshotIsACopy(t *testing.T) {
	r, _ := newTestRegistry()

	r.MarkRateLimited("openai", "gpt-4o", time.Minute, "")
	snap := r.Snapshot()

	st := snap[Key{Provider: "openai", Model: "gpt-4o"}]
	st.BlockedUntil = time.Time{}

	assert.True(t, r.IsBlocked("openai", "gpt-4o"))
}

func TestProviderCooldownGaugeTracksBlocks(t *testing.T) {
	r, clock := newTestRegistry()

	scrape := func() string {
		rec := httptest.NewRecorder()
		observability.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Body.String()
	}

	r.MarkRateLimited("groq", "llama-3.3-70b", 30*time.Second, "")
	r.MarkRateLimited("groq", "llama-3.1-8b", 90*time.Second, "")
	assert.Contains(t, scrape(), `provider_cooldown_active{provider="groq"} 1`)

	// One model healing is not enough while a sibling stays blocked
	clock.Advance(31 * time.Second)
	require.False(t, r.IsBlocked("groq", "llama-3.3-70b"))
	assert.Contains(t, scrape(), `provider_cooldown_active{provider="groq"} 1`)

	clock.Advance(60 * time.Second)
	require.False(t, r.IsBlocked("groq", "llama-3.1-8b"))
	assert.Contains(t, scrape(), `provider_cooldown_active{provider="groq"} 0`)
}
