package usecase

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"streamchat/internal/domain"
)

// --- Mocks ---

// wordCounter counts one token per whitespace-separated word.
type wordCounter struct{}

func (wordCounter) CountText(text string) int { return len(strings.Fields(text)) }

// sliceStream replays fixed events, then err.
type sliceStream struct {
	events []domain.StreamEvent
	err    error
	pos    int
	closed bool
}

func (s *sliceStream) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceStream) Event() domain.StreamEvent { return s.events[s.pos-1] }
func (s *sliceStream) Err() error {
	if s.pos >= len(s.events) {
		return s.err
	}
	return nil
}
func (s *sliceStream) Close() error { s.closed = true; return nil }

// reply builds a stream that delivers text in word-sized deltas then Done.
func reply(text string) *sliceStream {
	var events []domain.StreamEvent
	for i, w := range strings.Fields(text) {
		if i > 0 {
			w = " " + w
		}
		events = append(events, domain.ContentDelta(w))
	}
	return &sliceStream{events: append(events, domain.Done)}
}

// scriptStep is one scripted provider outcome.
type scriptStep struct {
	stream domain.EventStream
	err    error
}

// scriptedProvider returns its steps in order and records every request.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []scriptStep
	requests []domain.ChatRequest
	block    chan struct{} // when set, ChatStream waits on it
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (domain.EventStream, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		return reply("fallback Sentiment: Neutral"), nil
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	return step.stream, step.err
}

func (p *scriptedProvider) Name() string { return "scripted" }

// recordingSleep records requested pauses without waiting.
type recordingSleep struct {
	waits []time.Duration
	err   error
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return r.err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rateLimited(retryAfter time.Duration) error {
	return &domain.APIError{StatusCode: 429, Body: `{"error":"slow down"}`, RetryAfter: retryAfter, Err: domain.ErrRateLimit}
}

func testParams() domain.GenerationParams {
	return domain.GenerationParams{Model: "gpt-3.5-turbo", MaxResponseTokens: 512, Temperature: 0.7}
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		MaxContextTokens:    4096,
		TemperatureStep:     0.1,
		TemperatureCeiling:  1.0,
		MaxRateLimitRetries: 5,
		MaxRetryAfter:       60 * time.Second,
	}
}
