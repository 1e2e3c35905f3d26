package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseResetDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"1.5", 1500 * time.Millisecond},
		{"250ms", 250 * time.Millisecond},
		{"30s", 30 * time.Second},
		{"6m0s", 6 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{"2.5s", 2500 * time.Millisecond},
		{"0", 0},
		{"0s", 0},
		{"-5", 0},
		{"later", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseResetDuration(tt.input))
		})
	}
}

func TestParseCompactCount(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"12000", 12000},
		{"12k", 12000},
		{"12K", 12000},
		{"1.5M", 1500000},
		{"2m", 2000000},
		{"1B", 1000000000},
		{"0", 0},
		{"", -1},
		{"lots", -1},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCompactCount(tt.input))
		})
	}
}

func TestParseRateLimitHeadersCaseInsensitive(t *testing.T) {
	meta := parseRateLimitHeaders(map[string]string{
		"X-RateLimit-Remaining-Requests": "5",
		"Retry-After":                    "12",
	})

	assert.Equal(t, int64(5), meta.remainingRequests)
	assert.Equal(t, 12*time.Second, meta.retryAfter)
	assert.False(t, meta.empty())
}

func TestParseRateLimitHeadersEmpty(t *testing.T) {
	assert.True(t, parseRateLimitHeaders(nil).empty())
	assert.True(t, parseRateLimitHeaders(map[string]string{"content-type": "application/json"}).empty())
}

func TestEncodingForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", encodingO200k},
		{"o1-preview", encodingO200k},
		{"gpt-4-turbo", encodingCl100k},
		{"gpt-3.5-turbo", encodingCl100k},
		{"text-davinci-003", encodingP50k},
		{"gemini-2.0-flash", encodingUnknown},
		{"llama-3.3-70b-versatile", encodingUnknown},
		{"", encodingUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, encodingForModel(tt.model))
		})
	}
}
