package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"streamchat/internal/domain"
)

// ThrottledProvider spaces out stream openings so the client stays under a
// requests-per-minute quota. Retries after a 429 pass through it too.
type ThrottledProvider struct {
	inner   domain.StreamingLLMProvider
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ domain.StreamingLLMProvider = (*ThrottledProvider)(nil)

// NewThrottledProvider allows requestsPerMinute stream openings per minute
// with a burst of one. A non-positive quota disables throttling.
func NewThrottledProvider(inner domain.StreamingLLMProvider, requestsPerMinute int, logger *slog.Logger) *ThrottledProvider {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	return &ThrottledProvider{
		inner:   inner,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *ThrottledProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (domain.EventStream, error) {
	if r := p.limiter.Reserve(); r.OK() {
		if delay := r.Delay(); delay > 0 {
			p.logger.Debug("throttling request", "provider", p.inner.Name(), "delay", delay)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				r.Cancel()
				return nil, fmt.Errorf("%w: throttle: %w", domain.ErrTransportFailure, ctx.Err())
			}
		}
	}
	return p.inner.ChatStream(ctx, req)
}

// Name implements domain.StreamingLLMProvider.
func (p *ThrottledProvider) Name() string { return p.inner.Name() }
