// Package orchestrator ties the signaling connection, the chat channel and
// the reply generator together. Each user's messages are queued in the
// session registry and drained one at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/events"
	"github.com/soyeahso/envieii/internal/logging"
	"github.com/soyeahso/envieii/internal/session"
)

// InitCommand is the programmatic message content that requests pairing
// instead of a reply.
const InitCommand = "init"

const handlerName = "orchestrator"

// ErrStopped is returned for work submitted after Stop.
var ErrStopped = errors.New("orchestrator stopped")

// Transport reports signaling connectivity.
type Transport interface {
	Connected() bool
}

// Channel is the chat channel the orchestrator replies through.
type Channel interface {
	domain.ChannelAdapter
	OnMessage(fn func(domain.InboundMessage))
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Transport Transport
	Channel   Channel
	Generator domain.ResponseGenerator
	Sessions  *session.Registry
	Bus       *events.Bus
	Log       *logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithIDFunc replaces the UUID generator used for messages without an ID.
func WithIDFunc(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator is the message pipeline for every user.
type Orchestrator struct {
	tr       Transport
	channel  Channel
	gen      domain.ResponseGenerator
	sessions *session.Registry
	bus      *events.Bus
	log      *logging.Logger
	newID    func() string
	now      func() time.Time

	mu        sync.Mutex
	started   bool
	stopped   bool
	base      context.Context
	initQueue []string
	wg        sync.WaitGroup
}

// New creates an Orchestrator. Nothing is subscribed until Start.
func New(deps Deps, opts ...Option) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = logging.Nop()
	}
	o := &Orchestrator{
		tr:       deps.Transport,
		channel:  deps.Channel,
		gen:      deps.Generator,
		sessions: deps.Sessions,
		bus:      deps.Bus,
		log:      log.Sub("orchestrator"),
		newID:    uuid.NewString,
		now:      time.Now,
		base:     context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start registers for inbound messages and bus events. Drains run on a
// context detached from ctx so in-flight work is never cut short.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.New("orchestrator already started")
	}
	o.started = true
	o.base = context.WithoutCancel(ctx)
	o.mu.Unlock()

	o.channel.OnMessage(o.HandleInbound)
	events.Subscribe(o.bus, handlerName, func(ctx context.Context, _ events.SocketConnected) error {
		o.replayInits(ctx)
		return nil
	})
	events.Subscribe(o.bus, handlerName, func(_ context.Context, ev events.ChannelReady) error {
		o.sessions.SetChannelSessionID(ev.UserID, ev.SessionID)
		return nil
	})
	events.Subscribe(o.bus, handlerName, func(_ context.Context, ev events.ChannelStatusChanged) error {
		switch ev.Status {
		case domain.ChannelTimeout, domain.ChannelFailed, domain.ChannelDisconnected:
			o.sessions.ResetChannel(ev.UserID)
		}
		return nil
	})

	o.log.Info().Msg("orchestrator started")
	if o.tr.Connected() {
		o.replayInits(ctx)
	}
	return nil
}

// Stop rejects new work and waits for running drains to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	o.bus.Off(events.KindSocketConnected, handlerName)
	o.bus.Off(events.KindChannelStatus, handlerName)
	o.wg.Wait()
	o.log.Info().Msg("orchestrator stopped")
}

// HandleInbound queues a message received from the chat channel.
func (o *Orchestrator) HandleInbound(in domain.InboundMessage) {
	id := in.ID
	if id == "" {
		id = o.newID()
	}
	_, err := o.submit(domain.Message{
		ID:        id,
		UserID:    in.UserID,
		Content:   in.Content,
		From:      in.From,
		Timestamp: o.now(),
		Source:    domain.SourceChannel,
	})
	if err != nil {
		o.log.Warn().Err(err).Str("userId", in.UserID).Str("messageId", id).Msg("inbound message rejected")
	}
}

// SendMessage queues a programmatic message for userID. The content "init"
// requests pairing instead and returns a zero Message.
func (o *Orchestrator) SendMessage(ctx context.Context, userID, content string) (domain.Message, error) {
	if userID == "" {
		return domain.Message{}, errors.New("user id is required")
	}
	if content == InitCommand {
		return domain.Message{}, o.InitializeChannel(ctx, userID)
	}
	return o.submit(domain.Message{
		ID:        o.newID(),
		UserID:    userID,
		Content:   content,
		Timestamp: o.now(),
		Source:    domain.SourceSystem,
	})
}

// InitializeChannel requests pairing for userID once. While the signaling
// connection is down the request is queued and replayed in order on the next
// connect.
func (o *Orchestrator) InitializeChannel(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	o.sessions.Touch(userID)

	if o.tr.Connected() {
		return o.requestPairing(ctx, userID)
	}

	o.mu.Lock()
	o.initQueue = append(o.initQueue, userID)
	n := len(o.initQueue)
	o.mu.Unlock()
	o.log.Info().Str("userId", userID).Int("queued", n).Msg("not connected, pairing request queued")

	// The connection may have come up after the check above, in which case
	// its replay ran before the append.
	if o.tr.Connected() {
		o.replayInits(ctx)
	}
	return nil
}

func (o *Orchestrator) requestPairing(ctx context.Context, userID string) error {
	if !o.sessions.MarkChannelInitialized(userID) {
		o.log.Debug().Str("userId", userID).Msg("channel already initialized")
		return nil
	}
	if err := o.channel.RequestPairing(ctx, userID); err != nil {
		o.sessions.ResetChannel(userID)
		return fmt.Errorf("initializing channel for %s: %w", userID, err)
	}
	return nil
}

func (o *Orchestrator) replayInits(ctx context.Context) {
	o.mu.Lock()
	pending := o.initQueue
	o.initQueue = nil
	o.mu.Unlock()

	for i, userID := range pending {
		err := o.requestPairing(ctx, userID)
		if err == nil {
			continue
		}
		o.log.Warn().Err(err).Str("userId", userID).Msg("replaying pairing request failed")
		if errors.Is(err, domain.ErrNotConnected) {
			o.mu.Lock()
			o.initQueue = append(append([]string(nil), pending[i:]...), o.initQueue...)
			o.mu.Unlock()
			return
		}
	}
}

// PendingInits returns the user IDs waiting for a connection to pair.
func (o *Orchestrator) PendingInits() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.initQueue...)
}

// GetSessionStatus returns the user's session state.
func (o *Orchestrator) GetSessionStatus(userID string) (domain.SessionSnapshot, bool) {
	return o.sessions.Snapshot(userID)
}

// CleanupInactiveSessions evicts idle sessions and returns their user IDs.
func (o *Orchestrator) CleanupInactiveSessions(ctx context.Context, timeout time.Duration) []string {
	cleaned := o.sessions.CleanupInactive(ctx, timeout)
	if len(cleaned) > 0 {
		o.log.Info().Int("count", len(cleaned)).Dur("timeout", timeout).Msg("inactive sessions cleaned")
	}
	return cleaned
}

// RunCleanup calls CleanupInactiveSessions every interval until ctx is done.
func (o *Orchestrator) RunCleanup(ctx context.Context, interval, timeout time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.CleanupInactiveSessions(ctx, timeout)
		}
	}
}

func (o *Orchestrator) submit(msg domain.Message) (domain.Message, error) {
	if msg.UserID == "" {
		return msg, errors.New("message has no user id")
	}

	o.mu.Lock()
	stopped := o.stopped
	o.mu.Unlock()
	if stopped {
		return msg, ErrStopped
	}

	// pending is published before the message becomes visible to a drain.
	msg.Status = domain.StatusPending
	o.publish(msg)

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		o.finish(msg, ErrStopped)
		return msg, ErrStopped
	}
	queued, start := o.sessions.Enqueue(msg)
	if start {
		o.wg.Add(1)
	}
	o.mu.Unlock()

	o.log.Debug().Str("userId", msg.UserID).Str("messageId", msg.ID).Bool("drain", start).Msg("message queued")
	if start {
		go o.drain(queued.UserID)
	}
	return queued, nil
}

func (o *Orchestrator) drain(userID string) {
	defer o.wg.Done()
	for {
		msg, ok := o.sessions.Next(userID)
		if !ok {
			return
		}
		o.process(msg)
	}
}

// process runs one message to a terminal status. Panics are reported as a
// failed message and never escape into the drain loop.
func (o *Orchestrator) process(msg domain.Message) {
	done := false
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("userId", msg.UserID).Str("messageId", msg.ID).Interface("panic", r).Msg("message processing panicked")
			if !done {
				o.finish(msg, fmt.Errorf("internal error: %v", r))
			}
		}
	}()

	msg.Status = domain.StatusProcessing
	o.publish(msg)

	err := o.reply(o.baseContext(), &msg)
	done = true
	o.finish(msg, err)
}

func (o *Orchestrator) reply(ctx context.Context, msg *domain.Message) error {
	if !o.gen.Connected() {
		return domain.ErrBackendUnavailable
	}
	text, err := o.gen.Generate(ctx, msg.Content)
	if err != nil {
		return fmt.Errorf("generating reply: %w", err)
	}
	msg.Reply = text
	if err := o.channel.Send(ctx, msg.UserID, msg.From, text); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

func (o *Orchestrator) finish(msg domain.Message, err error) {
	if err != nil {
		msg.Status = domain.StatusFailed
		msg.Error = err.Error()
		o.log.Warn().Err(err).Str("userId", msg.UserID).Str("messageId", msg.ID).Msg("message failed")
	} else {
		msg.Status = domain.StatusCompleted
		o.log.Info().Str("userId", msg.UserID).Str("messageId", msg.ID).Msg("message completed")
	}
	o.publish(msg)
}

func (o *Orchestrator) baseContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.base
}

func (o *Orchestrator) publish(msg domain.Message) {
	o.bus.Publish(o.baseContext(), events.MessageStatus{Message: msg})
}
