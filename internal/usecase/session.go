package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"streamchat/internal/domain"
	"streamchat/internal/infra/tracer"
)

// SessionState is the turn state of a Session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateSending
	StateStreaming
	StateRetrying
	StateFinalizing
)

func (s SessionState) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateRetrying:
		return "retrying"
	case StateFinalizing:
		return "finalizing"
	default:
		return "idle"
	}
}

// SessionConfig holds the turn policy.
type SessionConfig struct {
	// MaxContextTokens is the eviction ceiling.
	MaxContextTokens   int
	TemperatureStep    float64
	TemperatureCeiling float64
	// MaxRateLimitRetries caps resends after 429 within one turn.
	MaxRateLimitRetries int
	// MaxRetryAfter clamps a single server-requested pause.
	MaxRetryAfter time.Duration
}

// TurnResult describes a completed turn.
type TurnResult struct {
	Text               string
	Sentiment          domain.Sentiment
	FinishReasons      []string // abnormal finish reasons seen while streaming
	Complete           bool     // the stream ended with its terminal marker
	Temperature        float64  // temperature for the next turn
	TemperatureChanged bool
	TotalTokens        int // total after the reply was appended and eviction ran
	Attempts           int
	Evicted            []domain.Message
	OverBudget         bool
}

// DeltaFunc receives each fragment of reply text as it arrives.
type DeltaFunc func(text string)

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Session drives one conversation turn at a time: it sends the request,
// streams the reply, retries on rate limiting and folds the result back
// into the Conversation.
type Session struct {
	conv       *Conversation
	provider   domain.StreamingLLMProvider
	classifier *ErrorClassifier
	cfg        SessionConfig
	logger     *slog.Logger
	sleep      SleepFunc

	mu    sync.Mutex
	state SessionState
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSleep replaces the pause used between rate-limited attempts.
func WithSleep(fn SleepFunc) SessionOption {
	return func(s *Session) { s.sleep = fn }
}

// NewSession creates a controller for conv.
func NewSession(conv *Conversation, provider domain.StreamingLLMProvider, cfg SessionConfig, logger *slog.Logger, opts ...SessionOption) *Session {
	s := &Session{
		conv:       conv,
		provider:   provider,
		classifier: NewErrorClassifier(),
		cfg:        cfg,
		logger:     logger.With("session_id", conv.ID()),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Conversation returns the conversation the session mutates.
func (s *Session) Conversation() *Conversation { return s.conv }

// State returns the current turn state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// begin claims the session for a turn.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return domain.NewDomainError("Session.SubmitTurn", domain.ErrTurnInProgress, s.state.String())
	}
	s.state = StateSending
	return nil
}

// SubmitTurn appends text as a user message, streams the reply through
// onDelta and records it in the conversation.
//
// A failed turn leaves the user message in place and appends nothing else.
// Only rate limiting is retried, with the identical request, at most
// MaxRateLimitRetries times.
func (s *Session) SubmitTurn(ctx context.Context, text string, onDelta DeltaFunc) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewDomainError("Session.SubmitTurn", domain.ErrInvalidInput, "empty message")
	}
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.setState(StateIdle)

	ctx, span := tracer.StartSpan(ctx, "session.turn",
		trace.WithAttributes(
			tracer.StringAttr("session.id", s.conv.ID()),
			tracer.StringAttr("llm.model", s.conv.Params().Model),
		),
	)
	defer span.End()

	total, err := s.conv.Append(domain.RoleUser, text)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	s.logger.Info("total tokens including this request", "total_tokens", total)

	req := s.conv.Request()
	span.SetAttributes(tracer.FloatAttr("llm.temperature", req.Temperature))

	result := &TurnResult{}
	reply, err := s.stream(ctx, req, onDelta, result)
	span.SetAttributes(tracer.IntAttr("turn.attempts", result.Attempts))
	if err != nil {
		tracer.RecordError(span, err)
		s.logger.Error("turn failed",
			"error", err,
			"code", domain.ErrorCodeOf(err),
			"attempts", result.Attempts,
		)
		return nil, err
	}

	s.setState(StateFinalizing)
	s.finalize(reply, result)

	span.SetAttributes(
		tracer.IntAttr("turn.total_tokens", result.TotalTokens),
		tracer.BoolAttr("turn.over_budget", result.OverBudget),
	)
	tracer.SetOK(span)
	return result, nil
}

// stream opens the call, retrying while the server rate-limits, and reads
// the reply. It returns the accumulated text.
func (s *Session) stream(ctx context.Context, req domain.ChatRequest, onDelta DeltaFunc, result *TurnResult) (string, error) {
	retries := 0
	for {
		result.Attempts++
		s.setState(StateSending)

		events, err := s.provider.ChatStream(ctx, req)
		if err == nil {
			s.setState(StateStreaming)
			return s.consume(events, onDelta, result)
		}

		failure := s.classifier.Classify(err)
		if !failure.Retryable() {
			if failure.Kind == FailureUnknown {
				err = fmt.Errorf("%w: %w", domain.ErrTransportFailure, err)
			}
			return "", domain.WrapOp("Session.SubmitTurn", err)
		}
		if retries >= s.cfg.MaxRateLimitRetries {
			return "", domain.WrapOp("Session.SubmitTurn",
				fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, result.Attempts, err))
		}
		retries++

		wait := failure.RetryAfter
		if s.cfg.MaxRetryAfter > 0 && wait > s.cfg.MaxRetryAfter {
			wait = s.cfg.MaxRetryAfter
		}
		s.setState(StateRetrying)
		s.logger.Warn("rate limited, retrying",
			"retry_after", wait,
			"attempt", result.Attempts,
			"status", failure.StatusCode,
			"body", failure.Body,
		)
		if err := s.sleep(ctx, wait); err != nil {
			return "", domain.WrapOp("Session.SubmitTurn",
				fmt.Errorf("%w: waiting to retry: %w", domain.ErrTransportFailure, err))
		}
	}
}

// consume reads events until Done or the end of the stream. Content is
// forwarded to onDelta as soon as it is decoded.
func (s *Session) consume(events domain.EventStream, onDelta DeltaFunc, result *TurnResult) (string, error) {
	defer events.Close()

	var sb strings.Builder
	for events.Next() {
		ev := events.Event()
		switch ev.Kind {
		case domain.EventContentDelta:
			sb.WriteString(ev.Text)
			if onDelta != nil {
				onDelta(ev.Text)
			}
		case domain.EventFinishSignal:
			result.FinishReasons = append(result.FinishReasons, ev.Reason)
			s.logger.Warn("abnormal finish reason", "finish_reason", ev.Reason)
		case domain.EventDone:
			result.Complete = true
		}
	}
	if err := events.Err(); err != nil {
		if !errors.Is(err, domain.ErrTransportFailure) {
			err = fmt.Errorf("%w: %w", domain.ErrTransportFailure, err)
		}
		return "", domain.WrapOp("Session.SubmitTurn", err)
	}
	if !result.Complete {
		s.logger.Warn("stream ended without done marker", "chars", sb.Len())
	}
	return sb.String(), nil
}

// finalize applies the reply to the conversation: sentiment feedback,
// append, then eviction.
func (s *Session) finalize(reply string, result *TurnResult) {
	result.Text = reply
	result.Sentiment = ExtractSentiment(reply)

	if result.Sentiment == domain.SentimentNegative {
		before := s.conv.Params().Temperature
		result.Temperature, result.TemperatureChanged = s.conv.RaiseTemperature(s.cfg.TemperatureStep, s.cfg.TemperatureCeiling)
		if result.TemperatureChanged {
			s.logger.Info("adjusted temperature due to negative sentiment",
				"from", before,
				"to", result.Temperature,
			)
		}
	} else {
		result.Temperature = s.conv.Params().Temperature
	}

	total := s.conv.appendReply(reply)
	s.logger.Info("total tokens including this response", "total_tokens", total)

	evicted, err := s.conv.EvictToBudget(s.cfg.MaxContextTokens)
	result.Evicted = evicted
	if err != nil {
		result.OverBudget = true
		s.logger.Warn("context budget unsatisfiable",
			"error", err,
			"max_context_tokens", s.cfg.MaxContextTokens,
		)
	}
	result.TotalTokens = s.conv.TotalTokens()
}
