package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// ErrorKind partitions invocation failures by how callers should react
type ErrorKind string

const (
	// KindRateLimited means the upstream refused the call for capacity
	// reasons and the model should be cooled down.
	KindRateLimited ErrorKind = "rate_limited"

	// KindToolChoiceMismatch means the upstream rejected the tool binding
	// shape, which signals a misbehaving provider+model pairing.
	KindToolChoiceMismatch ErrorKind = "tool_choice_mismatch"

	// KindOther covers every remaining failure
	KindOther ErrorKind = "other"
)

// InvokeError wraps an upstream failure with its classification. RetryAfter
// is zero when the upstream gave no hint.
type InvokeError struct {
	Provider   string
	Model      string
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("provider %s model %s: %s: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a classified rate-limit failure
func IsRateLimited(err error) bool {
	var ie *InvokeError
	return errors.As(err, &ie) && ie.Kind == KindRateLimited
}

// IsToolChoiceMismatch reports whether err is a tool binding rejection
func IsToolChoiceMismatch(err error) bool {
	var ie *InvokeError
	return errors.As(err, &ie) && ie.Kind == KindToolChoiceMismatch
}

// classify inspects the SDK error types and maps the failure onto an
// ErrorKind plus any retry-after hint the upstream attached.
func classify(err error) (ErrorKind, time.Duration) {
	if err == nil {
		return KindOther, 0
	}

	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		if oaiErr.StatusCode == http.StatusTooManyRequests {
			return KindRateLimited, retryAfterFromResponse(oaiErr.Response)
		}
		if oaiErr.StatusCode == http.StatusBadRequest && isToolFailureCode(oaiErr.Code) {
			return KindToolChoiceMismatch, 0
		}
		return KindOther, 0
	}

	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		if antErr.StatusCode == http.StatusTooManyRequests {
			return KindRateLimited, retryAfterFromResponse(antErr.Response)
		}
		return KindOther, 0
	}

	var gErr genai.APIError
	if errors.As(err, &gErr) {
		if gErr.Code == http.StatusTooManyRequests || gErr.Status == "RESOURCE_EXHAUSTED" {
			return KindRateLimited, 0
		}
		return KindOther, 0
	}

	return KindOther, 0
}

func isToolFailureCode(code string) bool {
	switch code {
	case "tool_use_failed", "tool_choice_invalid":
		return true
	default:
		return false
	}
}

// retryAfterFromResponse parses the Retry-After header when the SDK kept the
// raw response around. Both delta-seconds and HTTP-date forms are accepted.
func retryAfterFromResponse(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
