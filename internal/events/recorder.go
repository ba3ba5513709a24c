package events

import (
	"context"
	"sync"
)

// Recorder collects published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder subscribes a recorder to the given kinds, or to all kinds
// when none are given.
func NewRecorder(b *Bus, kinds ...Kind) *Recorder {
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	r := &Recorder{}
	for _, k := range kinds {
		b.On(k, "recorder", func(_ context.Context, ev Event) error {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			return nil
		})
	}
	return r
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns recorded events of one kind, in publish order.
func (r *Recorder) OfKind(kind Kind) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	return len(r.OfKind(kind))
}
