package domain

// EventKind tags a StreamEvent.
type EventKind int

const (
	// EventIgnored marks a line that carried nothing usable. Decoders never
	// surface it to consumers.
	EventIgnored EventKind = iota
	// EventContentDelta carries an incremental fragment of assistant text.
	EventContentDelta
	// EventFinishSignal reports a finish reason other than the normal stop.
	EventFinishSignal
	// EventDone is the terminal marker; nothing follows it.
	EventDone
)

// FinishReasonStop is the finish reason of a normally completed reply.
const FinishReasonStop = "stop"

func (k EventKind) String() string {
	switch k {
	case EventContentDelta:
		return "content_delta"
	case EventFinishSignal:
		return "finish_signal"
	case EventDone:
		return "done"
	default:
		return "ignored"
	}
}

// StreamEvent is one parsed item of a streaming completion response.
// Text is set for EventContentDelta, Reason for EventFinishSignal.
type StreamEvent struct {
	Kind   EventKind
	Text   string
	Reason string
}

// ContentDelta builds an EventContentDelta event.
func ContentDelta(text string) StreamEvent {
	return StreamEvent{Kind: EventContentDelta, Text: text}
}

// FinishSignal builds an EventFinishSignal event.
func FinishSignal(reason string) StreamEvent {
	return StreamEvent{Kind: EventFinishSignal, Reason: reason}
}

// Done is the terminal event.
var Done = StreamEvent{Kind: EventDone}
