package domain

import "context"

// EventStream is a single-pass, pull-style sequence of stream events read
// from an open response body. It cannot be restarted.
//
//	for stream.Next() {
//	    ev := stream.Event()
//	}
//	if err := stream.Err(); err != nil { ... }
type EventStream interface {
	// Next advances to the next event and reports whether one is available.
	Next() bool
	// Event returns the event produced by the last successful Next.
	Event() StreamEvent
	// Err returns the read error that stopped the stream, if any.
	Err() error
	// Close releases the underlying response body.
	Close() error
}

// StreamingLLMProvider opens streaming completion calls.
type StreamingLLMProvider interface {
	// ChatStream sends req and returns the open event stream. Non-200
	// responses are returned as errors wrapping *APIError.
	ChatStream(ctx context.Context, req ChatRequest) (EventStream, error)
	// Name returns the provider's identifier.
	Name() string
}

// TokenCounter counts tokens for a fixed model encoding.
type TokenCounter interface {
	CountText(text string) int
}
