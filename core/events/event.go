package events

import (
	"strconv"
	"sync"

	"vaulttoken/core/types"
)

// Event represents a structured state change emitted by a contract.
type Event interface {
	EventType() string
}

// Typed is implemented by events that can render themselves into the canonical
// attribute map consumed by indexers and subscribers.
type Typed interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans every event out to each configured emitter in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Envelope annotates an event with the receipt that produced it and its
// position in the committed event log.
type Envelope struct {
	Sequence  uint64
	ReceiptID string
	Payload   Event
}

// EventType implements the Event interface.
func (e Envelope) EventType() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

// Event renders the payload and adds the envelope attributes.
func (e Envelope) Event() *types.Event {
	var evt *types.Event
	if typed, ok := e.Payload.(Typed); ok {
		evt = typed.Event().Clone()
	}
	if evt == nil {
		evt = &types.Event{Type: e.EventType(), Attributes: map[string]string{}}
	}
	if evt.Attributes == nil {
		evt.Attributes = map[string]string{}
	}
	evt.Attributes["sequence"] = strconv.FormatUint(e.Sequence, 10)
	if e.ReceiptID != "" {
		evt.Attributes["receipt"] = e.ReceiptID
	}
	return evt
}

// Unwrap returns the payload of an envelope, or the event itself.
func Unwrap(evt Event) Event {
	if env, ok := evt.(Envelope); ok {
		return env.Payload
	}
	return evt
}

// Recorder keeps every emitted event in memory. Tests use it to assert on the
// committed event stream.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the unwrapped recorded events matching eventType.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, evt := range r.Events() {
		if evt.EventType() == eventType {
			out = append(out, Unwrap(evt))
		}
	}
	return out
}
