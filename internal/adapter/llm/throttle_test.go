package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamchat/internal/domain"
)

func TestThrottledProviderSpacesRequests(t *testing.T) {
	inner := &stubProvider{name: "openai"}
	// 1200 per minute is one every 50ms.
	p := NewThrottledProvider(inner, 1200, slog.Default())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := p.ChatStream(context.Background(), domain.ChatRequest{})
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, "openai", p.Name())
}

func TestThrottledProviderUnlimited(t *testing.T) {
	inner := &stubProvider{name: "openai"}
	p := NewThrottledProvider(inner, 0, slog.Default())

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := p.ChatStream(context.Background(), domain.ChatRequest{})
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestThrottledProviderHonoursCancel(t *testing.T) {
	inner := &stubProvider{name: "openai"}
	p := NewThrottledProvider(inner, 1, slog.Default())

	_, err := p.ChatStream(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.ChatStream(ctx, domain.ChatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransportFailure))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, inner.calls)
}
