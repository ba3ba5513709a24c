package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/events"
	"github.com/soyeahso/envieii/internal/llm"
	"github.com/soyeahso/envieii/internal/logging"
	"github.com/soyeahso/envieii/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	connected atomic.Bool

	mu sync.Mutex
	// afterCheck runs once, after the next Connected call has read the state.
	afterCheck func()
}

func (f *fakeTransport) Connected() bool {
	v := f.connected.Load()
	f.mu.Lock()
	fn := f.afterCheck
	f.afterCheck = nil
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return v
}

type sent struct {
	userID, to, content string
}

type fakeChannel struct {
	mu        sync.Mutex
	status    map[string]domain.ChannelStatus
	sends     []sent
	pairings  []string
	pairErr   error
	onMessage func(domain.InboundMessage)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{status: map[string]domain.ChannelStatus{}}
}

func (c *fakeChannel) RequestPairing(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pairErr != nil {
		return c.pairErr
	}
	c.pairings = append(c.pairings, userID)
	return nil
}

func (c *fakeChannel) Send(_ context.Context, userID, to, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status[userID].Ready() {
		return domain.ErrChannelNotReady
	}
	c.sends = append(c.sends, sent{userID, to, content})
	return nil
}

func (c *fakeChannel) Status(userID string) domain.ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.status[userID]; ok {
		return s
	}
	return domain.ChannelDisconnected
}

func (c *fakeChannel) OnMessage(fn func(domain.InboundMessage)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *fakeChannel) authenticate(userIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		c.status[id] = domain.ChannelAuthenticated
	}
}

func (c *fakeChannel) deliver(in domain.InboundMessage) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	fn(in)
}

func (c *fakeChannel) Pairings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.pairings...)
}

func (c *fakeChannel) Sends() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sent(nil), c.sends...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	o        *Orchestrator
	tr       *fakeTransport
	channel  *fakeChannel
	gen      *llm.MockGenerator
	sessions *session.Registry
	bus      *events.Bus
	rec      *events.Recorder
	clock    *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logging.New(nil, "silent")
	bus := events.NewBus(log)
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	h := &harness{
		tr:       &fakeTransport{},
		channel:  newFakeChannel(),
		gen:      &llm.MockGenerator{},
		sessions: session.NewRegistry(bus, log, session.WithClock(clk.Now)),
		bus:      bus,
		rec:      events.NewRecorder(bus),
		clock:    clk,
	}
	h.tr.connected.Store(true)

	var seq atomic.Int64
	h.o = New(Deps{
		Transport: h.tr,
		Channel:   h.channel,
		Generator: h.gen,
		Sessions:  h.sessions,
		Bus:       bus,
		Log:       log,
	}, WithIDFunc(func() string { return fmt.Sprintf("gen-%d", seq.Add(1)) }), WithClock(clk.Now))
	require.NoError(t, h.o.Start(context.Background()))
	t.Cleanup(h.o.Stop)
	return h
}

func (h *harness) waitIdle(t *testing.T, userID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, ok := h.sessions.Snapshot(userID)
		return ok && !snap.Processing && snap.QueueLength == 0
	}, 2*time.Second, time.Millisecond)
}

// statuses returns "id:status" for every message:status event, optionally
// limited to one user and without pending transitions.
func (h *harness) statuses(userID string, withPending bool) []string {
	var out []string
	for _, ev := range h.rec.OfKind(events.KindMessageStatus) {
		m := ev.(events.MessageStatus).Message
		if userID != "" && m.UserID != userID {
			continue
		}
		if !withPending && m.Status == domain.StatusPending {
			continue
		}
		out = append(out, m.ID+":"+string(m.Status))
	}
	return out
}

func (h *harness) terminal(id string) (domain.Message, bool) {
	for _, ev := range h.rec.OfKind(events.KindMessageStatus) {
		m := ev.(events.MessageStatus).Message
		if m.ID == id && m.Status.Terminal() {
			return m, true
		}
	}
	return domain.Message{}, false
}

func TestBackendDisconnectedFailsMessage(t *testing.T) {
	h := newHarness(t)
	h.gen.SetConnected(false)

	h.channel.deliver(domain.InboundMessage{ID: "1", UserID: "u1", Content: "price?", From: "5511@c.us"})
	h.waitIdle(t, "u1")

	assert.Equal(t, []string{"1:pending", "1:processing", "1:failed"}, h.statuses("u1", true))
	m, ok := h.terminal("1")
	require.True(t, ok)
	assert.Contains(t, m.Error, domain.ErrBackendUnavailable.Error())
	assert.Empty(t, h.gen.Prompts(), "generator is not called while disconnected")

	snap, _ := h.o.GetSessionStatus("u1")
	assert.False(t, snap.Processing)
}

func TestMessagesCompleteInOrder(t *testing.T) {
	h := newHarness(t)
	h.channel.authenticate("u1")

	h.channel.deliver(domain.InboundMessage{ID: "2", UserID: "u1", Content: "hello", From: "5511@c.us"})
	h.channel.deliver(domain.InboundMessage{ID: "3", UserID: "u1", Content: "still there?", From: "5511@c.us"})
	h.waitIdle(t, "u1")

	assert.Equal(t, []string{"2:processing", "2:completed", "3:processing", "3:completed"}, h.statuses("u1", false))

	sends := h.channel.Sends()
	require.Len(t, sends, 2)
	assert.Equal(t, sent{"u1", "5511@c.us", "mock reply to: hello"}, sends[0])

	m, _ := h.terminal("2")
	assert.Equal(t, "mock reply to: hello", m.Reply)
}

func TestFIFOWithOneDrainPerUser(t *testing.T) {
	h := newHarness(t)
	h.channel.authenticate("u1")

	var inFlight, maxInFlight atomic.Int32
	h.gen.GenerateFunc = func(_ context.Context, prompt string) (string, error) {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(100 * time.Microsecond)
		inFlight.Add(-1)
		return "ok", nil
	}

	const n = 50
	var want []string
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%02d", i)
		want = append(want, id+":processing", id+":completed")
		h.channel.deliver(domain.InboundMessage{ID: id, UserID: "u1", Content: id})
	}
	h.waitIdle(t, "u1")

	assert.Equal(t, want, h.statuses("u1", false))
	assert.EqualValues(t, 1, maxInFlight.Load())
}

func TestUsersAreIndependent(t *testing.T) {
	h := newHarness(t)
	h.channel.authenticate("a", "b")

	release := make(chan struct{})
	h.gen.GenerateFunc = func(_ context.Context, prompt string) (string, error) {
		if prompt == "from a" {
			<-release
			return "", domain.ErrBackendUnavailable
		}
		return "ok", nil
	}

	h.channel.deliver(domain.InboundMessage{ID: "a1", UserID: "a", Content: "from a"})
	h.channel.deliver(domain.InboundMessage{ID: "a2", UserID: "a", Content: "again"})
	h.channel.deliver(domain.InboundMessage{ID: "b1", UserID: "b", Content: "from b"})
	h.waitIdle(t, "b")

	assert.Equal(t, []string{"b1:processing", "b1:completed"}, h.statuses("b", false))
	assert.Equal(t, []string{"a1:processing"}, h.statuses("a", false))

	close(release)
	h.waitIdle(t, "a")
	assert.Equal(t, []string{"a1:processing", "a1:failed", "a2:processing", "a2:completed"}, h.statuses("a", false))
}

func TestSendFailureIsScopedToOneMessage(t *testing.T) {
	h := newHarness(t)

	h.channel.deliver(domain.InboundMessage{ID: "x1", UserID: "u1", Content: "hi"})
	h.waitIdle(t, "u1")
	m, ok := h.terminal("x1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, m.Status)
	assert.Contains(t, m.Error, domain.ErrChannelNotReady.Error())

	h.channel.authenticate("u1")
	h.channel.deliver(domain.InboundMessage{ID: "x2", UserID: "u1", Content: "hi again"})
	h.waitIdle(t, "u1")
	m, _ = h.terminal("x2")
	assert.Equal(t, domain.StatusCompleted, m.Status)
}

func TestPanicMarksMessageFailed(t *testing.T) {
	h := newHarness(t)
	h.channel.authenticate("u1")
	h.gen.GenerateFunc = func(_ context.Context, prompt string) (string, error) {
		if prompt == "boom" {
			panic("generator exploded")
		}
		return "fine", nil
	}

	h.channel.deliver(domain.InboundMessage{ID: "p1", UserID: "u1", Content: "boom"})
	h.channel.deliver(domain.InboundMessage{ID: "p2", UserID: "u1", Content: "next"})
	h.waitIdle(t, "u1")

	assert.Equal(t, []string{"p1:processing", "p1:failed", "p2:processing", "p2:completed"}, h.statuses("u1", false))
	m, _ := h.terminal("p1")
	assert.Contains(t, m.Error, "generator exploded")
}

func TestGeneratorErrorsAreWrapped(t *testing.T) {
	h := newHarness(t)
	h.channel.authenticate("u1")
	h.gen.GenerateFunc = func(context.Context, string) (string, error) {
		return "", &domain.BackendError{Provider: "openai", StatusCode: 500, Message: "upstream"}
	}

	h.channel.deliver(domain.InboundMessage{ID: "e1", UserID: "u1", Content: "hi"})
	h.waitIdle(t, "u1")

	m, _ := h.terminal("e1")
	assert.Equal(t, domain.StatusFailed, m.Status)
	assert.Equal(t, "generating reply: openai backend error (500): upstream", m.Error)
	assert.Empty(t, h.channel.Sends())
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t)
	h.channel.authenticate("u1")

	queued, err := h.o.SendMessage(context.Background(), "u1", "good morning")
	require.NoError(t, err)
	assert.Equal(t, "gen-1", queued.ID)
	assert.Equal(t, domain.SourceSystem, queued.Source)
	assert.Equal(t, domain.StatusPending, queued.Status)
	h.waitIdle(t, "u1")

	sends := h.channel.Sends()
	require.Len(t, sends, 1)
	assert.Empty(t, sends[0].to, "system messages reply to the user's own account")

	_, err = h.o.SendMessage(context.Background(), "", "x")
	assert.Error(t, err)
}

func TestInboundWithoutIDGetsOne(t *testing.T) {
	h := newHarness(t)
	h.channel.deliver(domain.InboundMessage{UserID: "u1", Content: "hi"})
	h.waitIdle(t, "u1")

	_, ok := h.terminal("gen-1")
	assert.True(t, ok)
}

func TestInitializeChannelIsIdempotent(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.o.InitializeChannel(context.Background(), "u1"))
	require.NoError(t, h.o.InitializeChannel(context.Background(), "u1"))
	_, err := h.o.SendMessage(context.Background(), "u1", InitCommand)
	require.NoError(t, err)

	assert.Equal(t, []string{"u1"}, h.channel.Pairings())
	snap, _ := h.o.GetSessionStatus("u1")
	assert.True(t, snap.ChannelInitialized)
	assert.Zero(t, snap.QueueLength, "init is not queued as a chat message")
}

func TestInitQueueReplayedOnConnect(t *testing.T) {
	h := newHarness(t)
	h.tr.connected.Store(false)

	for _, id := range []string{"u1", "u2", "u1"} {
		require.NoError(t, h.o.InitializeChannel(context.Background(), id))
	}
	assert.Empty(t, h.channel.Pairings())
	assert.Equal(t, []string{"u1", "u2", "u1"}, h.o.PendingInits())

	h.tr.connected.Store(true)
	h.bus.Publish(context.Background(), events.SocketConnected{At: time.Now()})

	assert.Equal(t, []string{"u1", "u2"}, h.channel.Pairings())
	assert.Empty(t, h.o.PendingInits())
}

// The connection comes up between the connectivity check and the queue
// append, so the replay triggered by SocketConnected sees an empty queue.
func TestInitializeChannelRacingConnect(t *testing.T) {
	h := newHarness(t)
	h.tr.connected.Store(false)
	h.tr.mu.Lock()
	h.tr.afterCheck = func() {
		h.tr.connected.Store(true)
		h.bus.Publish(context.Background(), events.SocketConnected{At: time.Now()})
	}
	h.tr.mu.Unlock()

	require.NoError(t, h.o.InitializeChannel(context.Background(), "u1"))

	assert.Equal(t, []string{"u1"}, h.channel.Pairings())
	assert.Empty(t, h.o.PendingInits())
}

func TestChannelReadyStoresSessionID(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.o.InitializeChannel(context.Background(), "u1"))

	h.bus.Publish(context.Background(), events.ChannelReady{UserID: "u1", SessionID: "mock-42"})
	snap, ok := h.o.GetSessionStatus("u1")
	require.True(t, ok)
	assert.Equal(t, "mock-42", snap.ChannelSessionID)

	h.bus.Publish(context.Background(), events.ChannelStatusChanged{UserID: "u1", Status: domain.ChannelDisconnected})
	snap, _ = h.o.GetSessionStatus("u1")
	assert.Empty(t, snap.ChannelSessionID)
	assert.False(t, snap.ChannelInitialized)
}

func TestInitReplayKeepsQueueWhenConnectionDrops(t *testing.T) {
	h := newHarness(t)
	h.tr.connected.Store(false)
	require.NoError(t, h.o.InitializeChannel(context.Background(), "u1"))
	require.NoError(t, h.o.InitializeChannel(context.Background(), "u2"))

	h.channel.pairErr = domain.ErrNotConnected
	h.bus.Publish(context.Background(), events.SocketConnected{At: time.Now()})
	assert.Equal(t, []string{"u1", "u2"}, h.o.PendingInits())

	snap, _ := h.o.GetSessionStatus("u1")
	assert.False(t, snap.ChannelInitialized)
}

func TestPairingTimeoutAllowsRetry(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.o.InitializeChannel(context.Background(), "u1"))

	h.bus.Publish(context.Background(), events.ChannelStatusChanged{UserID: "u1", Status: domain.ChannelTimeout})
	require.NoError(t, h.o.InitializeChannel(context.Background(), "u1"))

	assert.Equal(t, []string{"u1", "u1"}, h.channel.Pairings())
}

func TestPairingErrorResetsFlag(t *testing.T) {
	h := newHarness(t)
	h.channel.pairErr = errors.New("socket closed")

	err := h.o.InitializeChannel(context.Background(), "u1")
	require.Error(t, err)
	snap, _ := h.o.GetSessionStatus("u1")
	assert.False(t, snap.ChannelInitialized)
}

func TestCleanupSkipsDrainingSessions(t *testing.T) {
	h := newHarness(t)
	h.channel.authenticate("u1")

	release := make(chan struct{})
	started := make(chan struct{})
	h.gen.GenerateFunc = func(context.Context, string) (string, error) {
		close(started)
		<-release
		return "ok", nil
	}

	h.channel.deliver(domain.InboundMessage{ID: "c1", UserID: "u1", Content: "slow"})
	<-started
	h.clock.Advance(2 * time.Hour)

	assert.Empty(t, h.o.CleanupInactiveSessions(context.Background(), time.Hour))
	_, ok := h.o.GetSessionStatus("u1")
	assert.True(t, ok)

	close(release)
	h.waitIdle(t, "u1")
	assert.Equal(t, []string{"u1"}, h.o.CleanupInactiveSessions(context.Background(), time.Hour))
	_, ok = h.o.GetSessionStatus("u1")
	assert.False(t, ok)
	assert.Equal(t, 1, h.rec.Count(events.KindSessionCleaned))
}

func TestRunCleanup(t *testing.T) {
	h := newHarness(t)
	h.sessions.Touch("idle")
	h.clock.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.o.RunCleanup(ctx, 5*time.Millisecond, time.Hour) }()

	require.Eventually(t, func() bool { return h.sessions.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestStopWaitsForDrains(t *testing.T) {
	h := newHarness(t)
	h.channel.authenticate("u1")

	release := make(chan struct{})
	started := make(chan struct{})
	h.gen.GenerateFunc = func(context.Context, string) (string, error) {
		close(started)
		<-release
		return "ok", nil
	}
	h.channel.deliver(domain.InboundMessage{ID: "s1", UserID: "u1", Content: "hi"})
	<-started

	stopped := make(chan struct{})
	go func() {
		h.o.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a drain was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-stopped

	m, _ := h.terminal("s1")
	assert.Equal(t, domain.StatusCompleted, m.Status)

	_, err := h.o.SendMessage(context.Background(), "u1", "late")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.o.Start(context.Background()))
}
