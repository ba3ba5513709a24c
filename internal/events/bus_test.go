package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/logging"
)

func testBus() *Bus {
	return NewBus(logging.New(nil, "silent"))
}

func TestBus_PublishInOrder(t *testing.T) {
	b := testBus()

	var order []string
	b.On(KindSocketConnected, "first", func(_ context.Context, _ Event) error {
		order = append(order, "first")
		return nil
	})
	b.On(KindSocketConnected, "second", func(_ context.Context, _ Event) error {
		order = append(order, "second")
		return nil
	})

	b.Publish(context.Background(), SocketConnected{At: time.Now()})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBus_KindsAreIsolated(t *testing.T) {
	b := testBus()

	var hits int
	b.On(KindSessionCleaned, "h", func(_ context.Context, _ Event) error {
		hits++
		return nil
	})

	b.Publish(context.Background(), SocketDisconnected{Reason: "eof"})
	assert.Zero(t, hits)
	b.Publish(context.Background(), SessionCleaned{UserID: "u"})
	assert.Equal(t, 1, hits)
}

func TestBus_ErrorAndPanicDoNotStopDelivery(t *testing.T) {
	b := testBus()

	var reached bool
	b.On(KindError, "fails", func(_ context.Context, _ Event) error {
		return errors.New("boom")
	})
	b.On(KindError, "panics", func(_ context.Context, _ Event) error {
		panic("bad handler")
	})
	b.On(KindError, "last", func(_ context.Context, _ Event) error {
		reached = true
		return nil
	})

	b.Publish(context.Background(), Error{Source: "test", Err: errors.New("x")})
	assert.True(t, reached)
}

func TestBus_Off(t *testing.T) {
	b := testBus()
	var calls []string
	record := func(name string) Handler {
		return func(_ context.Context, _ Event) error {
			calls = append(calls, name)
			return nil
		}
	}

	b.On(KindChannelReady, "a", record("a1"))
	b.On(KindChannelReady, "b", record("b"))
	b.On(KindChannelReady, "a", record("a2"))
	b.Publish(context.Background(), ChannelReady{UserID: "u"})
	require.Equal(t, []string{"a1", "b", "a2"}, calls)

	calls = nil
	b.Off(KindChannelReady, "a")
	b.Off(KindPairingCode, "nobody")
	b.Publish(context.Background(), ChannelReady{UserID: "u"})
	assert.Equal(t, []string{"b"}, calls)
}

func TestSubscribeTyped(t *testing.T) {
	b := testBus()

	var got MessageStatus
	Subscribe(b, "typed", func(_ context.Context, ev MessageStatus) error {
		got = ev
		return nil
	})

	b.Publish(context.Background(), MessageStatus{Message: domain.Message{ID: "m1", Status: domain.StatusCompleted}})
	assert.Equal(t, "m1", got.Message.ID)
	assert.Equal(t, domain.StatusCompleted, got.Message.Status)
}

func TestRecorder(t *testing.T) {
	b := testBus()
	rec := NewRecorder(b)

	b.Publish(context.Background(), ChannelStatusChanged{UserID: "u", Status: domain.ChannelConnecting})
	b.Publish(context.Background(), ChannelReady{UserID: "u"})
	b.Publish(context.Background(), ChannelStatusChanged{UserID: "u", Status: domain.ChannelAuthenticated})

	assert.Len(t, rec.Events(), 3)
	assert.Equal(t, 2, rec.Count(KindChannelStatus))
	last := rec.OfKind(KindChannelStatus)[1].(ChannelStatusChanged)
	assert.Equal(t, domain.ChannelAuthenticated, last.Status)
}

func TestAllKindsUnique(t *testing.T) {
	seen := map[Kind]bool{}
	for _, k := range AllKinds {
		assert.False(t, seen[k], "duplicate kind %s", k)
		seen[k] = true
	}
	assert.Len(t, seen, 9)
}
