package domain

// RawEventType discriminates raw upstream events.
type RawEventType int

// Raw upstream event kinds for one conversational turn.
const (
	// EventTextDelta carries one increment of answer text.
	EventTextDelta RawEventType = iota

	// EventModelSelected reports the model the upstream actually used.
	EventModelSelected

	// EventThreadRef reveals the upstream thread handle for the turn.
	EventThreadRef

	// EventDone terminates the sequence with a finish reason.
	EventDone

	// EventError terminates the sequence with an upstream failure.
	EventError
)

// RawEvent is one event of the upstream turn sequence. The sequence is
// finite, consumed exactly once, and always ends with EventDone or
// EventError.
type RawEvent struct {
	Type      RawEventType
	Text      string       // EventTextDelta
	ModelID   string       // EventModelSelected
	ThreadRef string       // EventThreadRef
	Reason    FinishReason // EventDone
	Detail    string       // EventError
}
