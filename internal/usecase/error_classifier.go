package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"streamchat/internal/domain"
)

// FailureKind is the failure taxonomy a turn reacts to.
type FailureKind int

const (
	FailureUnknown          FailureKind = iota
	FailureRateLimited                  // 429; retried after the server's delay
	FailureMalformedRequest             // 400; terminal for the turn
	FailureTransport                    // connection errors, other statuses, broken streams
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailureMalformedRequest:
		return "malformed_request"
	case FailureTransport:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// ClassifiedError holds the result of error classification.
type ClassifiedError struct {
	Original   error
	Kind       FailureKind
	Sentinel   error         // mapped domain sentinel (e.g. domain.ErrRateLimit), or nil
	StatusCode int           // HTTP status, or 0 if unknown
	Body       string        // server error payload, if any
	RetryAfter time.Duration // server-requested delay for rate-limited responses
}

// Retryable reports whether the turn may resend the same request. Only a
// rate-limited answer from the server qualifies.
func (c ClassifiedError) Retryable() bool {
	return c.Kind == FailureRateLimited && domain.IsRetryableError(c.Original)
}

// ErrorClassifier analyzes provider errors and maps them onto FailureKind.
type ErrorClassifier struct{}

// NewErrorClassifier creates a new classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// Classify inspects an error and returns its kind, sentinel, and any
// status, payload and retry delay it carries. FailureRateLimited is only
// ever derived from domain.ErrRateLimit, never from error text.
func (c *ErrorClassifier) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}

	result := ClassifiedError{Original: err}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		result.StatusCode = apiErr.StatusCode
		result.Body = apiErr.Body
		result.RetryAfter = apiErr.RetryAfter
	}

	// Check wrapped domain sentinels first (from mapHTTPError).
	if c.classifyBySentinel(&result) {
		return result
	}

	c.classifyByString(&result, err.Error())
	return result
}

func (c *ErrorClassifier) classifyBySentinel(r *ClassifiedError) bool {
	err := r.Original
	switch {
	case errors.Is(err, domain.ErrRateLimit):
		r.Kind, r.Sentinel = FailureRateLimited, domain.ErrRateLimit
	case errors.Is(err, domain.ErrMalformedRequest):
		r.Kind, r.Sentinel = FailureMalformedRequest, domain.ErrMalformedRequest
	case errors.Is(err, domain.ErrUnexpectedStatus):
		r.Kind, r.Sentinel = FailureTransport, domain.ErrUnexpectedStatus
	case errors.Is(err, domain.ErrTransportFailure):
		r.Kind, r.Sentinel = FailureTransport, domain.ErrTransportFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.Kind, r.Sentinel = FailureTransport, domain.ErrTransportFailure
	default:
		return false
	}
	return true
}

func (c *ErrorClassifier) classifyByString(r *ClassifiedError, errStr string) {
	lower := strings.ToLower(errStr)

	for _, p := range []string{
		"connection refused", "no such host", "timeout",
		"deadline exceeded", "connection reset", "eof", "broken pipe",
	} {
		if strings.Contains(lower, p) {
			r.Kind, r.Sentinel = FailureTransport, domain.ErrTransportFailure
			return
		}
	}

	r.Kind = FailureUnknown
}
