package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Session.SubmitTurn", ErrMalformedRequest, "status 400")
	want := "Session.SubmitTurn: status 400: malformed request"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Session.SubmitTurn", ErrTurnInProgress, "")
	want := "Session.SubmitTurn: a turn is already in progress"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Tokenizer.New", ErrUnsupportedModel, "llama-x")
	if !errors.Is(err, ErrUnsupportedModel) {
		t.Error("errors.Is should match ErrUnsupportedModel")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := NewDomainError("LLM.ChatStream", ErrTransportFailure, "connection reset")
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "LLM.ChatStream" {
		t.Errorf("Op = %q, want %q", de.Op, "LLM.ChatStream")
	}
}

// --- APIError tests ---

func TestAPIErrorUnwrapsSentinel(t *testing.T) {
	err := &APIError{StatusCode: 429, Body: `{"error":"slow down"}`, RetryAfter: 2 * time.Second, Err: ErrRateLimit}
	assert.True(t, errors.Is(err, ErrRateLimit))
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "retry after 2s")
}

func TestAPIErrorAsThroughWrap(t *testing.T) {
	inner := &APIError{StatusCode: 400, Body: "bad", Err: ErrMalformedRequest}
	wrapped := fmt.Errorf("open stream: %w", inner)

	var apiErr *APIError
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Equal(t, "bad", apiErr.Body)
}

// --- ErrorCode tests ---

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeMalformedRequest, ErrorCodeOf(ErrMalformedRequest))
	assert.Equal(t, CodeBudgetUnsatisfiable, ErrorCodeOf(ErrBudgetUnsatisfiable))
}

func TestErrorCodeOf_SpecificWinsOverWrappedCategory(t *testing.T) {
	assert.Equal(t, CodeUnexpectedStatus, ErrorCodeOf(fmt.Errorf("x: %w", ErrUnexpectedStatus)))
	assert.Equal(t, CodeRetriesExhausted, ErrorCodeOf(fmt.Errorf("x: %w", ErrRetriesExhausted)))
}

func TestErrorCodeOf_APIError(t *testing.T) {
	err := &APIError{StatusCode: 503, Body: "down", Err: ErrUnexpectedStatus}
	assert.Equal(t, CodeUnexpectedStatus, ErrorCodeOf(err))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("Session.SubmitTurn", ErrTransportFailure, "eof")
	assert.Equal(t, CodeTransportFailure, ErrorCodeOf(err))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
}

func TestErrorCodeOf_Nil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestDomainError_Code(t *testing.T) {
	err := NewDomainError("Conversation.EvictToBudget", ErrBudgetUnsatisfiable, "")
	assert.Equal(t, CodeBudgetUnsatisfiable, err.Code())
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
}

// --- WrapOp tests ---

func TestWrapOp_Nil(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))
}

func TestWrapOp_PreservesIs(t *testing.T) {
	err := WrapOp("Session.SubmitTurn", ErrRateLimit)
	assert.Equal(t, "Session.SubmitTurn: rate limit exceeded", err.Error())
	assert.True(t, errors.Is(err, ErrRateLimit))
}

// --- IsRetryableError tests ---

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(ErrRateLimit))
	assert.True(t, IsRetryableError(&APIError{StatusCode: 429, Err: ErrRateLimit}))
	assert.False(t, IsRetryableError(ErrRetriesExhausted))
	assert.False(t, IsRetryableError(ErrMalformedRequest))
	assert.False(t, IsRetryableError(ErrUnexpectedStatus))
	assert.False(t, IsRetryableError(nil))
}
