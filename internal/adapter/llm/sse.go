package llm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"streamchat/internal/domain"
)

const (
	ssePrefix     = "data: "
	sseDoneMarker = "[DONE]"

	// maxLineSize bounds a single SSE line.
	maxLineSize = 1 << 20
)

// streamChunk is the subset of a streamed completion chunk the decoder reads.
// Delta stays raw so that an absent or null delta can be told apart from an
// empty object.
type streamChunk struct {
	Choices []struct {
		Delta        json.RawMessage `json:"delta"`
		FinishReason *string         `json:"finish_reason"`
	} `json:"choices"`
}

type streamDelta struct {
	Content *string `json:"content"`
}

// ParseLine converts one raw response line into zero or more stream events.
// Lines that carry nothing usable yield no events and a nil error. A data
// line whose payload is not a completion chunk yields domain.ErrParseSkip.
//
// When a chunk carries both an abnormal finish reason and text, the
// FinishSignal comes first.
func ParseLine(line []byte) ([]domain.StreamEvent, error) {
	if !bytes.HasPrefix(line, []byte(ssePrefix)) {
		return nil, nil
	}
	data := line[len(ssePrefix):]

	if string(data) == sseDoneMarker {
		return []domain.StreamEvent{domain.Done}, nil
	}

	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrParseSkip, err)
	}
	if len(chunk.Choices) == 0 {
		return nil, nil
	}

	choice := chunk.Choices[0]
	if len(choice.Delta) == 0 || string(choice.Delta) == "null" {
		return nil, nil
	}

	var delta streamDelta
	if err := json.Unmarshal(choice.Delta, &delta); err != nil {
		return nil, fmt.Errorf("%w: delta: %w", domain.ErrParseSkip, err)
	}

	var events []domain.StreamEvent
	if choice.FinishReason != nil && *choice.FinishReason != "" && *choice.FinishReason != domain.FinishReasonStop {
		events = append(events, domain.FinishSignal(*choice.FinishReason))
	}
	if delta.Content != nil && *delta.Content != "" {
		events = append(events, domain.ContentDelta(*delta.Content))
	}
	return events, nil
}

// StreamDecoder reads a streaming completion body line by line and yields
// the events it carries, in arrival order. Nothing is yielded after Done.
type StreamDecoder struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *slog.Logger

	pending []domain.StreamEvent
	current domain.StreamEvent
	done    bool
	err     error
	skipped int
}

var _ domain.EventStream = (*StreamDecoder)(nil)

// NewStreamDecoder wraps body. The decoder owns body and closes it on Close.
func NewStreamDecoder(body io.ReadCloser, logger *slog.Logger) *StreamDecoder {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &StreamDecoder{
		body:    body,
		scanner: scanner,
		logger:  logger,
	}
}

// Next advances to the next event. It returns false after Done, at the end
// of the body, or on a read error; Err distinguishes the last case.
func (d *StreamDecoder) Next() bool {
	for {
		if len(d.pending) > 0 {
			d.current = d.pending[0]
			d.pending = d.pending[1:]
			if d.current.Kind == domain.EventDone {
				d.done = true
				d.pending = nil
			}
			return true
		}
		if d.done || d.err != nil {
			return false
		}
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				d.err = fmt.Errorf("%w: read stream: %w", domain.ErrTransportFailure, err)
			}
			return false
		}

		line := d.scanner.Bytes()
		if len(line) == 0 || line[0] == ':' {
			continue
		}

		events, err := ParseLine(line)
		if err != nil {
			d.skipped++
			d.logger.Debug("stream chunk skipped", "error", err)
			continue
		}
		d.pending = events
	}
}

// Event returns the event produced by the last successful Next.
func (d *StreamDecoder) Event() domain.StreamEvent { return d.current }

// Err returns the read error that ended the stream, if any. A clean end of
// body is not an error.
func (d *StreamDecoder) Err() error { return d.err }

// Skipped returns how many malformed chunks were dropped.
func (d *StreamDecoder) Skipped() int { return d.skipped }

// Close closes the response body.
func (d *StreamDecoder) Close() error { return d.body.Close() }
