package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind buckets gateway failures into the retry taxonomy.
type Kind string

const (
	// KindRateLimited: HTTP 429 or a quota keyword in the error body.
	// The only kind retried locally with backoff.
	KindRateLimited Kind = "rate_limited"
	// KindNetwork: transport-level failures, surfaced immediately.
	KindNetwork Kind = "network"
	// KindBadRequest: the service rejected the request shape.
	KindBadRequest Kind = "bad_request"
	// KindAuth: credential rejected.
	KindAuth Kind = "auth"
	// KindMalformed: the response body was unusable.
	KindMalformed Kind = "malformed"
)

// ErrQuotaExhausted marks a rate-limited call whose retries ran out. The
// orchestrator maps it to the credential-rotation recovery flow.
var ErrQuotaExhausted = errors.New("gateway quota exhausted")

// Error is a classified gateway failure.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s (status %d): %s", e.Kind, e.Status, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate-limited gateway failure.
func IsRateLimited(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindRateLimited
}

// IsQuotaExhausted reports whether err is a rate-limited failure that
// survived the local retry budget.
func IsQuotaExhausted(err error) bool {
	return errors.Is(err, ErrQuotaExhausted)
}

// quotaHints are error-body keywords treated as rate limiting even when the
// status code is not 429.
var quotaHints = []string{
	"quota",
	"rate limit",
	"too many requests",
	"resource_exhausted",
	"resource has been exhausted",
}

// classifyStatus buckets an HTTP error response.
func classifyStatus(status int, body string) Kind {
	if status == http.StatusTooManyRequests {
		return KindRateLimited
	}
	lower := strings.ToLower(body)
	for _, h := range quotaHints {
		if strings.Contains(lower, h) {
			return KindRateLimited
		}
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusBadRequest:
		return KindBadRequest
	}
	return KindNetwork
}

func statusError(status int, body string) *Error {
	return &Error{
		Kind:   classifyStatus(status, body),
		Status: status,
		Msg:    strings.TrimSpace(body),
	}
}

func networkError(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}

func malformedError(msg string, err error) *Error {
	return &Error{Kind: KindMalformed, Msg: msg, Err: err}
}
