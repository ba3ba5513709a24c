// Package transport keeps one authenticated WebSocket connection to the
// signaling server alive, reconnecting with a fixed delay and a bounded
// number of consecutive failures.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/events"
	"github.com/soyeahso/envieii/internal/logging"
	"github.com/soyeahso/envieii/internal/protocol"
	"github.com/soyeahso/envieii/internal/version"
)

const (
	DefaultReconnectDelay       = 2 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHeartbeatInterval    = 20 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
)

// Config holds the connection target and lifecycle timings. Zero values
// fall back to the defaults above.
type Config struct {
	URL                  string
	Token                string
	ClientID             string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	HandshakeTimeout     time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ClientID == "" {
		c.ClientID = "envieii-" + uuid.NewString()[:8]
	}
}

// Handler receives the raw payload of an inbound event frame.
type Handler func(payload json.RawMessage)

// Session owns the connection to the signaling server.
type Session struct {
	cfg    Config
	dialer Dialer
	bus    *events.Bus
	log    *logging.Logger
	seq    atomic.Int64

	mu     sync.Mutex
	state  State
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}

	hmu      sync.RWMutex
	handlers map[string][]Handler
}

// New creates a Session in the uninitialized state. Nothing is dialed until
// Connect is called.
func New(cfg Config, dialer Dialer, bus *events.Bus, log *logging.Logger) *Session {
	cfg.applyDefaults()
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	return &Session{
		cfg:      cfg,
		dialer:   dialer,
		bus:      bus,
		log:      log.Sub("transport"),
		state:    StateUninitialized,
		handlers: make(map[string][]Handler),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether frames can be emitted right now.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Connect starts the connection loop and returns immediately. It is a no-op
// while a loop is already running. Calling it after the session gave up
// resets the failure count.
func (s *Session) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	to, err := next(s.state, triggerConnect)
	if err != nil {
		s.log.Debug().Str("state", s.state.String()).Msg("connect ignored")
		return
	}
	s.state = to

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Disconnect closes the connection and stops reconnecting. It waits for the
// connection loop to exit.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.state, _ = next(s.state, triggerDisconnect)
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Subscribe registers h for inbound event frames named event.
func (s *Session) Subscribe(event string, h Handler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)
}

// Emit sends an event frame. It fails with domain.ErrNotConnected when
// there is no live connection; nothing is buffered.
func (s *Session) Emit(event string, payload any) error {
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()

	if state != StateConnected || conn == nil {
		return domain.ErrNotConnected
	}
	return s.write(conn, event, payload)
}

func (s *Session) write(conn Conn, event string, payload any) error {
	f, err := protocol.NewEvent(event, payload, s.seq.Add(1))
	if err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("%w: writing %s: %v", domain.ErrNotConnected, event, err)
	}
	return nil
}

// transition applies t unless the loop owning ctx has been superseded.
func (s *Session) transition(ctx context.Context, t trigger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	to, err := next(s.state, t)
	if err != nil {
		s.log.Warn().Err(err).Msg("unexpected transition")
		return false
	}
	s.state = to
	return true
}

// run is the connection loop. The consecutive failure count is local to one
// loop so every Connect starts from zero.
func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	failures := 0
	for {
		conn, err := s.open(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}

		if err != nil {
			failures++
			s.log.Warn().Err(err).Int("attempt", failures).Int("max", s.cfg.MaxReconnectAttempts).Msg("connect_error")

			if failures >= s.cfg.MaxReconnectAttempts {
				if s.transition(ctx, triggerRetriesExhausted) {
					s.log.Error().Int("attempts", failures).Msg("giving up on signaling server")
					s.bus.Publish(ctx, events.ReconnectionFailed{Attempts: failures, LastError: err.Error()})
				}
				return
			}
			s.transition(ctx, triggerAttemptFailed)
			if !sleep(ctx, s.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.state, _ = next(s.state, triggerHandshakeOK)
		s.mu.Unlock()

		failures = 0
		s.log.Info().Str("url", s.cfg.URL).Msg("connected to signaling server")
		s.bus.Publish(ctx, events.SocketConnected{At: time.Now()})

		reason := s.serve(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()

		if !s.transition(ctx, triggerConnectionLost) {
			return
		}
		s.log.Warn().Str("reason", reason).Msg("connection lost, reconnecting")
		s.bus.Publish(ctx, events.SocketDisconnected{Reason: reason})

		if !sleep(ctx, s.cfg.ReconnectDelay) {
			return
		}
	}
}

// open dials and completes the handshake within HandshakeTimeout.
func (s *Session) open(ctx context.Context) (Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(hctx, s.cfg.URL)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(hctx, func() { conn.Close() })
	err = s.handshake(conn)
	if !stop() {
		return nil, fmt.Errorf("handshake: %w", context.Cause(hctx))
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *Session) handshake(conn Conn) error {
	data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("reading challenge: %w", err)
	}
	challenge, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	if challenge.Type != protocol.TypeEvent || challenge.Event != protocol.EventChallenge {
		return fmt.Errorf("expected %s, got %s %s", protocol.EventChallenge, challenge.Type, challenge.Event)
	}

	reqID := uuid.NewString()
	req, err := protocol.NewRequest(reqID, protocol.MethodConnect, protocol.ConnectParams{
		MinProtocol: protocol.Version,
		MaxProtocol: protocol.Version,
		Client: protocol.ClientInfo{
			ID:       s.cfg.ClientID,
			Version:  version.Version,
			Platform: "dashboard",
		},
		Auth:      &protocol.ConnectAuth{Token: s.cfg.Token},
		UserAgent: version.UserAgent(),
	})
	if err != nil {
		return err
	}
	data, err = json.Marshal(req)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("sending connect: %w", err)
	}

	data, err = conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	res, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	if res.Type != protocol.TypeResponse || res.ID != reqID {
		return errors.New("unexpected frame in place of hello")
	}
	if !res.Succeeded() {
		if res.Error != nil {
			return fmt.Errorf("connect rejected: %w", res.Error)
		}
		return errors.New("connect rejected")
	}

	var hello protocol.HelloOK
	if err := res.DecodePayload(&hello); err != nil {
		return fmt.Errorf("decoding hello: %w", err)
	}
	s.log.Debug().Str("connId", hello.Server.ConnID).Str("provider", hello.Server.Provider).Msg("handshake complete")
	return nil
}

// serve reads frames until the connection ends and returns the reason.
func (s *Session) serve(ctx context.Context, conn Conn) string {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	hbCtx, hbCancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.heartbeat(hbCtx, conn)
	}()
	defer func() {
		hbCancel()
		wg.Wait()
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err.Error()
		}
		f, err := protocol.Decode(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if f.Type != protocol.TypeEvent {
			s.log.Debug().Str("type", f.Type).Msg("ignoring non-event frame")
			continue
		}
		s.dispatch(f)
	}
}

func (s *Session) dispatch(f protocol.Frame) {
	s.hmu.RLock()
	hs := append([]Handler(nil), s.handlers[f.Event]...)
	s.hmu.RUnlock()

	if len(hs) == 0 {
		s.log.Debug().Str("event", f.Event).Msg("no handler for event")
		return
	}
	for _, h := range hs {
		s.safeCall(f.Event, h, f.Payload)
	}
}

func (s *Session) safeCall(event string, h Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("event", event).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	h(payload)
}

func (s *Session) heartbeat(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if err := s.write(conn, protocol.EventHeartbeat, protocol.HeartbeatPayload{Timestamp: protocol.Millis(t)}); err != nil {
				s.log.Debug().Err(err).Msg("heartbeat failed")
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
