package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"streamchat/internal/domain"
	"streamchat/internal/infra/config"
)

// maxErrorBody is the most of an error response body kept for reporting.
// The remainder is still drained so the connection can be reused.
const maxErrorBody = 64 * 1024

// defaultRetryAfter applies when a 429 carries no usable Retry-After.
const defaultRetryAfter = time.Second

// doStreamRequest performs a JSON POST request for SSE streaming.
// It returns the open *http.Response (caller must close Body).
// Non-200 responses are drained and returned as *domain.APIError; transport
// errors wrap domain.ErrTransportFailure.
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %w", domain.ErrTransportFailure, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		_, _ = io.Copy(io.Discard, httpResp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("%w: read error body (status %d): %w", domain.ErrTransportFailure, httpResp.StatusCode, readErr)
		}
		return nil, mapHTTPError(httpResp.StatusCode, httpResp.Header, respBody, time.Now())
	}

	return httpResp, nil
}

// mapHTTPError maps an HTTP status code + response body to a *domain.APIError.
// The classifier and circuit breaker rely on the wrapped sentinel.
func mapHTTPError(statusCode int, header http.Header, body []byte, now time.Time) error {
	apiErr := &domain.APIError{
		StatusCode: statusCode,
		Body:       strings.TrimSpace(string(body)),
	}

	switch statusCode {
	case http.StatusTooManyRequests: // 429
		apiErr.Err = domain.ErrRateLimit
		apiErr.RetryAfter = parseRetryAfter(header.Get("Retry-After"), now)
	case http.StatusBadRequest: // 400
		apiErr.Err = domain.ErrMalformedRequest
	default:
		apiErr.Err = domain.ErrUnexpectedStatus
	}
	return apiErr
}

// parseRetryAfter reads a Retry-After value given either in seconds or as an
// HTTP date. Missing or unusable values fall back to defaultRetryAfter.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return defaultRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

// logStreamOpened logs the standard debug message after a stream is accepted.
func logStreamOpened(logger *slog.Logger, providerName string, req domain.ChatRequest) {
	logger.Debug("llm stream opened",
		"provider", providerName,
		"model", req.Model,
		"messages", len(req.Messages),
		"temperature", req.Temperature,
	)
}

// --- Connection Pooling ---

// PooledTransportConfig configures HTTP connection pooling for the provider.
type PooledTransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
}

// Default connection pool settings. A chat session talks to one host with
// at most one request in flight.
const (
	defaultMaxIdleConns        = 4
	defaultMaxIdleConnsPerHost = 2
	defaultMaxConnsPerHost     = 4
	defaultIdleConnTimeout     = 120 * time.Second
)

// Default provider timeouts.
const (
	defaultConnTimeout = 10 * time.Second
	defaultRespTimeout = 10 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling.
// connTimeout bounds dialing; respTimeout bounds the wait for response
// headers. Neither limits how long a stream body may run.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool PooledTransportConfig) *http.Transport {
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connTimeout,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient creates an *http.Client with a pooled transport. No overall
// client timeout is set: a streamed reply may legitimately run for minutes.
func NewHTTPClient(cfg config.LLMConfig) *http.Client {
	return &http.Client{
		Transport: NewPooledTransport(cfg.ConnTimeout, cfg.RespTimeout, PooledTransportConfig{
			MaxIdleConns:        cfg.Pool.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.Pool.MaxIdleConnsPerHost,
			MaxConnsPerHost:     cfg.Pool.MaxConnsPerHost,
			IdleConnTimeout:     cfg.Pool.IdleConnTimeout,
		}),
	}
}
