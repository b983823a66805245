package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the domain layer.
var (
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrUnsupportedModel = fmt.Errorf("no token encoding for model")
	ErrTokenizerLoad    = fmt.Errorf("failed to load token encoding")
	ErrTurnInProgress   = fmt.Errorf("a turn is already in progress")

	// Stream errors. ErrParseSkip never leaves the decoder.
	ErrParseSkip = fmt.Errorf("stream chunk skipped")

	// Transport / status errors.
	ErrRateLimit        = fmt.Errorf("rate limit exceeded")
	ErrMalformedRequest = fmt.Errorf("malformed request")
	ErrTransportFailure = fmt.Errorf("transport failure")
	ErrUnexpectedStatus = fmt.Errorf("unexpected status: %w", ErrTransportFailure)
	ErrRetriesExhausted = fmt.Errorf("retries exhausted: %w", ErrRateLimit)

	// Context budget.
	ErrBudgetUnsatisfiable = fmt.Errorf("context budget cannot be satisfied")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Session.SubmitTurn")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// APIError is a non-200 response from the completions endpoint. Body holds
// the drained error payload.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration // only set for rate-limited responses
	Err        error         // ErrRateLimit, ErrMalformedRequest or ErrUnexpectedStatus
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("API error %d (retry after %v): %s", e.StatusCode, e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsRetryableError reports whether err is a transient error that may succeed on retry.
// Only rate limiting qualifies; an exhausted retry budget does not.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) && !errors.Is(err, ErrRetriesExhausted)
}

// ErrorCode is a machine-parseable error category for reporting.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeDecryption          ErrorCode = "DECRYPTION"
	CodeUnsupportedModel    ErrorCode = "UNSUPPORTED_MODEL"
	CodeTokenizerLoad       ErrorCode = "TOKENIZER_LOAD"
	CodeTurnInProgress      ErrorCode = "TURN_IN_PROGRESS"
	CodeParseSkip           ErrorCode = "PARSE_SKIP"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeRetriesExhausted    ErrorCode = "RETRIES_EXHAUSTED"
	CodeMalformedRequest    ErrorCode = "MALFORMED_REQUEST"
	CodeTransportFailure    ErrorCode = "TRANSPORT_FAILURE"
	CodeUnexpectedStatus    ErrorCode = "UNEXPECTED_STATUS"
	CodeBudgetUnsatisfiable ErrorCode = "BUDGET_UNSATISFIABLE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidInput:        CodeInvalidInput,
	ErrConfigLoad:          CodeConfigLoad,
	ErrDecryption:          CodeDecryption,
	ErrUnsupportedModel:    CodeUnsupportedModel,
	ErrTokenizerLoad:       CodeTokenizerLoad,
	ErrTurnInProgress:      CodeTurnInProgress,
	ErrParseSkip:           CodeParseSkip,
	ErrRateLimit:           CodeRateLimit,
	ErrRetriesExhausted:    CodeRetriesExhausted,
	ErrMalformedRequest:    CodeMalformedRequest,
	ErrTransportFailure:    CodeTransportFailure,
	ErrUnexpectedStatus:    CodeUnexpectedStatus,
	ErrBudgetUnsatisfiable: CodeBudgetUnsatisfiable,
}

// codePriority lists the sentinels that wrap other sentinels first, so that
// the most specific code wins when walking the error chain.
var codePriority = []error{
	ErrRetriesExhausted,
	ErrUnexpectedStatus,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and APIError and uses errors.Is to match sentinel
// errors. Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
