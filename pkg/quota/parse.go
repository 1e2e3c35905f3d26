package quota

import (
	"strconv"
	"strings"
	"time"
)

// Recognized rate-limit telemetry headers, matched case-insensitively.
const (
	headerRemainingRequests = "x-ratelimit-remaining-requests"
	headerLimitRequests     = "x-ratelimit-limit-requests"
	headerRemainingTokens   = "x-ratelimit-remaining-tokens"
	headerLimitTokens       = "x-ratelimit-limit-tokens"
	headerRequestsReset     = "x-ratelimit-reset-requests"
	headerTokensReset       = "x-ratelimit-reset-tokens"
	headerRetryAfter        = "retry-after"
)

type rateLimitMetadata struct {
	remainingRequests int64
	limitRequests     int64
	remainingTokens   int64
	limitTokens       int64
	requestsReset     time.Duration
	tokensReset       time.Duration
	retryAfter        time.Duration
}

func (m rateLimitMetadata) empty() bool {
	return m.remainingRequests < 0 && m.limitRequests < 0 &&
		m.remainingTokens < 0 && m.limitTokens < 0 &&
		m.requestsReset == 0 && m.tokensReset == 0 && m.retryAfter == 0
}

func parseRateLimitHeaders(headers map[string]string) rateLimitMetadata {
	meta := rateLimitMetadata{
		remainingRequests: -1,
		limitRequests:     -1,
		remainingTokens:   -1,
		limitTokens:       -1,
	}

	for name, value := range headers {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch strings.ToLower(name) {
		case headerRemainingRequests:
			meta.remainingRequests = ParseCompactCount(value)
		case headerLimitRequests:
			meta.limitRequests = ParseCompactCount(value)
		case headerRemainingTokens:
			meta.remainingTokens = ParseCompactCount(value)
		case headerLimitTokens:
			meta.limitTokens = ParseCompactCount(value)
		case headerRequestsReset:
			meta.requestsReset = ParseResetDuration(value)
		case headerTokensReset:
			meta.tokensReset = ParseResetDuration(value)
		case headerRetryAfter:
			meta.retryAfter = ParseResetDuration(value)
		}
	}

	return meta
}

// ParseResetDuration parses a reset duration expressed as raw seconds
// ("30", "1.5"), milliseconds ("250ms"), or compact Xs/Xm/Xh forms
// ("6m0s", "1h30m", "2.5s"). A zero result means "no reset known".
func ParseResetDuration(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	// Unit-less numbers are raw seconds
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}

	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// ParseCompactCount parses counts like "12000", "12k", or "1.5M".
// It returns -1 when the value is unparseable.
func ParseCompactCount(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return -1
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}

	multiplier := int64(1)
	switch value[len(value)-1] {
	case 'k', 'K':
		multiplier = 1_000
	case 'm', 'M':
		multiplier = 1_000_000
	case 'b', 'B', 'g', 'G':
		multiplier = 1_000_000_000
	default:
		// A float like "123.0" with no suffix
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return int64(f)
		}
		return -1
	}

	f, err := strconv.ParseFloat(value[:len(value)-1], 64)
	if err != nil {
		return -1
	}
	return int64(f * float64(multiplier))
}
