package llm

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamchat/internal/domain"
)

func drain(t *testing.T, d *StreamDecoder) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	for d.Next() {
		events = append(events, d.Event())
	}
	return events
}

func newDecoder(raw string) *StreamDecoder {
	return NewStreamDecoder(io.NopCloser(strings.NewReader(raw)), newTestLogger())
}

func TestStreamDecoderBasic(t *testing.T) {
	raw := "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hi\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\" there\"}}]}\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n\n"

	d := newDecoder(raw)
	events := drain(t, d)

	require.Equal(t, []domain.StreamEvent{
		domain.ContentDelta("Hi"),
		domain.ContentDelta(" there"),
		domain.Done,
	}, events)
	assert.NoError(t, d.Err())
	assert.False(t, d.Next(), "nothing follows Done")
}

func TestStreamDecoderIgnoresJunk(t *testing.T) {
	raw := ": keep-alive\r\n" +
		"event: ping\n" +
		"data: {not json\n" +
		"data: {\"choices\":[]}\n" +
		"data: {\"choices\":[{\"finish_reason\":null}]}\n" +
		"data: {\"choices\":[{\"delta\":null}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\r\n" +
		"data: [DONE]\r\n"

	d := newDecoder(raw)
	events := drain(t, d)

	assert.Equal(t, []domain.StreamEvent{domain.ContentDelta("ok"), domain.Done}, events)
	assert.Equal(t, 1, d.Skipped())
}

func TestStreamDecoderFinishSignal(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"content\":\"cut\"},\"finish_reason\":\"length\"}]}\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"content_filter\"}]}\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n" +
		"data: [DONE]\n"

	events := drain(t, newDecoder(raw))

	assert.Equal(t, []domain.StreamEvent{
		domain.FinishSignal("length"),
		domain.ContentDelta("cut"),
		domain.FinishSignal("content_filter"),
		domain.Done,
	}, events)
}

func TestStreamDecoderEndsWithoutDone(t *testing.T) {
	d := newDecoder("data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n")
	events := drain(t, d)

	assert.Equal(t, []domain.StreamEvent{domain.ContentDelta("partial")}, events)
	assert.NoError(t, d.Err())
}

func TestStreamDecoderReadError(t *testing.T) {
	d := NewStreamDecoder(&errorReadCloser{}, newTestLogger())

	assert.False(t, d.Next())
	require.Error(t, d.Err())
	assert.True(t, errors.Is(d.Err(), domain.ErrTransportFailure))
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    []domain.StreamEvent
		wantErr bool
	}{
		{"no prefix", "event: message", nil, false},
		{"prefix without space", "data:[DONE]", nil, false},
		{"done", "data: [DONE]", []domain.StreamEvent{domain.Done}, false},
		{"malformed", "data: {\"choices\":", nil, true},
		{"no delta", "data: {\"choices\":[{\"index\":0}]}", nil, false},
		{"empty content", "data: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}", nil, false},
		{"content", "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}", []domain.StreamEvent{domain.ContentDelta("x")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine([]byte(tt.line))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrParseSkip))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStreamDecoderClose(t *testing.T) {
	body := &trackingCloser{Reader: strings.NewReader("data: [DONE]\n")}
	d := NewStreamDecoder(body, newTestLogger())
	drain(t, d)

	require.NoError(t, d.Close())
	assert.True(t, body.closed)
}

type trackingCloser struct {
	io.Reader
	closed bool
}

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}
