package events

import (
	"flashvault/core/types"
)

// Event represents a structured state change emitted by the vault.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (journal, RPC stream,
// metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// Multi fans every event out to each emitter in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(e Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(e)
		}
	}
}

// Buffer holds the events of an in-flight call. It takes part in the host's
// journal so that events of a reverted call (or reverted nested call) are
// dropped together with its state changes.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(e Event) {
	if e == nil {
		return
	}
	b.pending = append(b.pending, e)
}

// Snapshot returns the current buffer length.
func (b *Buffer) Snapshot() int { return len(b.pending) }

// RevertToSnapshot drops every event emitted after id.
func (b *Buffer) RevertToSnapshot(id int) {
	if id < 0 || id > len(b.pending) {
		return
	}
	for i := id; i < len(b.pending); i++ {
		b.pending[i] = nil
	}
	b.pending = b.pending[:id]
}

// Pending returns the buffered events without draining them.
func (b *Buffer) Pending() []Event {
	out := make([]Event, len(b.pending))
	copy(out, b.pending)
	return out
}

// Drain returns and clears the buffered events.
func (b *Buffer) Drain() []Event {
	out := b.pending
	b.pending = nil
	return out
}

// Recorder keeps every emitted event. Tests use it as a sink.
type Recorder struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(e Event) { r.Events = append(r.Events, e) }

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}
