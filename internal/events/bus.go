package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/envieii/internal/logging"
)

// Handler receives a published event. A returned error is logged and does
// not stop delivery to later handlers.
type Handler func(ctx context.Context, ev Event) error

// Bus dispatches events to named handlers, per kind, in registration order.
// Publishers must not hold their own locks while publishing.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewBus creates an empty bus.
func NewBus(log *logging.Logger) *Bus {
	return &Bus{
		handlers: make(map[Kind][]namedHandler),
		log:      log.Sub("events"),
	}
}

// On registers handler for kind under name.
func (b *Bus) On(kind Kind, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], namedHandler{name: name, handler: handler})
	b.log.Debug().Str("event", string(kind)).Str("handler", name).Msg("handler registered")
}

// Off removes every handler registered under name for kind.
func (b *Bus) Off(kind Kind, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.handlers[kind][:0:0]
	for _, h := range b.handlers[kind] {
		if h.name != name {
			kept = append(kept, h)
		}
	}
	b.handlers[kind] = kept
}

// Subscribe registers a handler typed to one event payload.
func Subscribe[T Event](b *Bus, name string, fn func(ctx context.Context, ev T) error) {
	var zero T
	b.On(zero.Kind(), name, func(ctx context.Context, ev Event) error {
		typed, ok := ev.(T)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", ev, zero.Kind())
		}
		return fn(ctx, typed)
	})
}

// Publish delivers ev synchronously. Panicking handlers are logged and
// skipped.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	for _, h := range b.snapshot(ev.Kind()) {
		b.invoke(ctx, h, ev)
	}
}

func (b *Bus) snapshot(kind Kind) []namedHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]namedHandler(nil), b.handlers[kind]...)
}

func (b *Bus) invoke(ctx context.Context, h namedHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event", string(ev.Kind())).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	if err := h.handler(ctx, ev); err != nil {
		b.log.Warn().
			Err(err).
			Str("event", string(ev.Kind())).
			Str("handler", h.name).
			Msg("event handler error")
	}
}
