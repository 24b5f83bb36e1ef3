package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var (
	// ErrProviderAuth means the credential is missing or rejected. Never retried.
	ErrProviderAuth = errors.New("provider authentication failed")
	// ErrProviderRateLimited means the provider throttled the request.
	ErrProviderRateLimited = errors.New("provider rate limited")
	// ErrProviderTimeout means the request did not complete in time.
	ErrProviderTimeout = errors.New("provider request timed out")
	// ErrProviderFailed covers every other provider-side failure.
	ErrProviderFailed = errors.New("provider request failed")
	// ErrMalformedAnalysis means the model output did not match the analysis schema.
	ErrMalformedAnalysis = errors.New("malformed analysis")
)

// ProviderError carries transport detail for a failed provider call. Kind is
// one of the sentinel errors above and is what errors.Is matches.
type ProviderError struct {
	Provider   string
	Kind       error
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Is(target error) bool { return target == e.Kind }

func (e *ProviderError) Unwrap() error { return e.Err }

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrProviderAuth
	case status == http.StatusTooManyRequests:
		return ErrProviderRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrProviderTimeout
	default:
		return ErrProviderFailed
	}
}

// NewStatusError builds a ProviderError from an HTTP response status and body.
// The body is truncated so large error pages do not end up in logs.
func NewStatusError(provider string, status int, body []byte, retryAfter time.Duration) *ProviderError {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &ProviderError{
		Provider:   provider,
		Kind:       KindForStatus(status),
		StatusCode: status,
		RetryAfter: retryAfter,
		Err:        errors.New(string(body)),
	}
}

// WrapTransportError classifies an error returned before any response arrived.
func WrapTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	kind := ErrProviderFailed
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = ErrProviderTimeout
	}
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// IsRetryable reports whether a later attempt might succeed without new input.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderRateLimited) || errors.Is(err, ErrProviderTimeout)
}

// ParseRetryAfter reads a Retry-After header given in seconds.
func ParseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
