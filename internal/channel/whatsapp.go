// Package channel adapts the signaling connection into the per-user chat
// channel used by the orchestrator.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/events"
	"github.com/soyeahso/envieii/internal/logging"
	"github.com/soyeahso/envieii/internal/protocol"
	"github.com/soyeahso/envieii/internal/transport"
)

// DefaultPairingTimeout bounds how long a pairing code stays valid.
const DefaultPairingTimeout = 60 * time.Second

// Transport is the part of transport.Session the adapter relies on.
type Transport interface {
	Emit(event string, payload any) error
	Subscribe(event string, h transport.Handler)
	Connected() bool
}

type userState struct {
	status domain.ChannelStatus
	code   string
	timer  *time.Timer
	gen    int
}

// WhatsApp implements domain.ChannelAdapter over the signaling connection.
type WhatsApp struct {
	tr             Transport
	bus            *events.Bus
	log            *logging.Logger
	pairingTimeout time.Duration

	mu        sync.Mutex
	users     map[string]*userState
	onMessage func(domain.InboundMessage)
}

var _ domain.ChannelAdapter = (*WhatsApp)(nil)

// Option configures a WhatsApp adapter.
type Option func(*WhatsApp)

// WithPairingTimeout overrides DefaultPairingTimeout.
func WithPairingTimeout(d time.Duration) Option {
	return func(w *WhatsApp) {
		if d > 0 {
			w.pairingTimeout = d
		}
	}
}

// NewWhatsApp creates the adapter and subscribes to channel events on tr.
func NewWhatsApp(tr Transport, bus *events.Bus, log *logging.Logger, opts ...Option) *WhatsApp {
	w := &WhatsApp{
		tr:             tr,
		bus:            bus,
		log:            log.Sub("whatsapp"),
		pairingTimeout: DefaultPairingTimeout,
		users:          make(map[string]*userState),
	}
	for _, opt := range opts {
		opt(w)
	}

	tr.Subscribe(protocol.EventQR, w.handleQR)
	tr.Subscribe(protocol.EventReady, w.handleReady)
	tr.Subscribe(protocol.EventStatus, w.handleStatus)
	tr.Subscribe(protocol.EventMessage, w.handleMessage)
	tr.Subscribe(protocol.EventError, w.handleError)
	return w
}

// OnMessage registers the receiver of inbound chat messages.
func (w *WhatsApp) OnMessage(fn func(domain.InboundMessage)) {
	w.mu.Lock()
	w.onMessage = fn
	w.mu.Unlock()
}

// state must be called with w.mu held.
func (w *WhatsApp) state(userID string) *userState {
	st, ok := w.users[userID]
	if !ok {
		st = &userState{status: domain.ChannelDisconnected}
		w.users[userID] = st
	}
	return st
}

// setStatus must be called with w.mu held. It reports whether the status
// changed.
func (w *WhatsApp) setStatus(st *userState, s domain.ChannelStatus) bool {
	if st.status == s {
		return false
	}
	st.status = s
	if s != domain.ChannelConnecting && st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	return true
}

func (w *WhatsApp) publishStatus(userID string, s domain.ChannelStatus) {
	w.log.Info().Str("userId", userID).Str("status", string(s)).Msg("channel status")
	w.bus.Publish(context.Background(), events.ChannelStatusChanged{UserID: userID, Status: s})
}

// RequestPairing implements domain.ChannelAdapter.
func (w *WhatsApp) RequestPairing(_ context.Context, userID string) error {
	if !w.tr.Connected() {
		return domain.ErrNotConnected
	}

	w.mu.Lock()
	st := w.state(userID)
	switch st.status {
	case domain.ChannelConnecting, domain.ChannelConnected, domain.ChannelAuthenticated:
		w.mu.Unlock()
		w.log.Debug().Str("userId", userID).Str("status", string(st.status)).Msg("pairing already in progress")
		return nil
	}
	prev := st.status
	w.setStatus(st, domain.ChannelConnecting)
	st.gen++
	w.mu.Unlock()

	if err := w.tr.Emit(protocol.EventInit, protocol.InitPayload{UserID: userID}); err != nil {
		w.mu.Lock()
		w.setStatus(st, prev)
		w.mu.Unlock()
		return fmt.Errorf("requesting pairing: %w", err)
	}

	w.publishStatus(userID, domain.ChannelConnecting)
	return nil
}

// Send implements domain.ChannelAdapter.
func (w *WhatsApp) Send(_ context.Context, userID, to, content string) error {
	if !w.Status(userID).Ready() {
		return domain.ErrChannelNotReady
	}
	return w.tr.Emit(protocol.EventSend, protocol.SendPayload{
		UserID:    userID,
		To:        to,
		Content:   content,
		Timestamp: protocol.Millis(time.Now()),
	})
}

// Status implements domain.ChannelAdapter.
func (w *WhatsApp) Status(userID string) domain.ChannelStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, ok := w.users[userID]; ok {
		return st.status
	}
	return domain.ChannelDisconnected
}

// PairingCode returns the last code issued for userID, if still pending.
func (w *WhatsApp) PairingCode(userID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.users[userID]
	if !ok || st.status != domain.ChannelConnecting || st.code == "" {
		return "", false
	}
	return st.code, true
}

// Disconnect forgets the user's channel state locally.
func (w *WhatsApp) Disconnect(userID string) {
	w.mu.Lock()
	changed := w.setStatus(w.state(userID), domain.ChannelDisconnected)
	w.mu.Unlock()
	if changed {
		w.publishStatus(userID, domain.ChannelDisconnected)
	}
}

// Close stops pending pairing timers.
func (w *WhatsApp) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, st := range w.users {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
	}
}

func (w *WhatsApp) handleQR(raw json.RawMessage) {
	var p protocol.QRPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.UserID == "" {
		w.log.Warn().Msg("malformed qr event")
		return
	}

	w.mu.Lock()
	st := w.state(p.UserID)
	changed := w.setStatus(st, domain.ChannelConnecting)
	st.code = p.Code
	st.gen++
	gen := st.gen
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(w.pairingTimeout, func() { w.expire(p.UserID, gen) })
	w.mu.Unlock()

	if changed {
		w.publishStatus(p.UserID, domain.ChannelConnecting)
	}
	w.bus.Publish(context.Background(), events.PairingCodeIssued{UserID: p.UserID, Code: p.Code})
}

func (w *WhatsApp) expire(userID string, gen int) {
	w.mu.Lock()
	st := w.state(userID)
	if st.gen != gen || st.status != domain.ChannelConnecting {
		w.mu.Unlock()
		return
	}
	w.setStatus(st, domain.ChannelTimeout)
	st.timer = nil
	st.code = ""
	w.mu.Unlock()

	w.log.Warn().Str("userId", userID).Dur("after", w.pairingTimeout).Msg("pairing timed out")
	w.publishStatus(userID, domain.ChannelTimeout)
	w.bus.Publish(context.Background(), events.Error{
		Source: "channel",
		UserID: userID,
		Err:    domain.ErrPairingTimeout,
	})
}

func (w *WhatsApp) handleReady(raw json.RawMessage) {
	var p protocol.ReadyPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.UserID == "" {
		w.log.Warn().Msg("malformed ready event")
		return
	}

	w.mu.Lock()
	st := w.state(p.UserID)
	changed := w.setStatus(st, domain.ChannelAuthenticated)
	st.code = ""
	w.mu.Unlock()

	w.bus.Publish(context.Background(), events.ChannelReady{UserID: p.UserID, SessionID: p.SessionID})
	if changed {
		w.publishStatus(p.UserID, domain.ChannelAuthenticated)
	}
}

func (w *WhatsApp) handleStatus(raw json.RawMessage) {
	var p protocol.StatusPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.UserID == "" {
		w.log.Warn().Msg("malformed status event")
		return
	}
	s, ok := domain.ParseChannelStatus(p.Status)
	if !ok {
		w.log.Warn().Str("status", p.Status).Msg("unknown channel status")
		return
	}

	w.mu.Lock()
	changed := w.setStatus(w.state(p.UserID), s)
	w.mu.Unlock()

	if changed {
		w.publishStatus(p.UserID, s)
	}
}

func (w *WhatsApp) handleMessage(raw json.RawMessage) {
	var p protocol.MessagePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.UserID == "" {
		w.log.Warn().Msg("malformed message event")
		return
	}

	w.mu.Lock()
	fn := w.onMessage
	w.mu.Unlock()
	if fn == nil {
		w.log.Warn().Str("userId", p.UserID).Msg("no message handler, dropping inbound message")
		return
	}

	ts := protocol.FromMillis(p.Message.Timestamp)
	if ts.IsZero() {
		ts = time.Now()
	}
	fn(domain.InboundMessage{
		ID:        p.Message.ID,
		UserID:    p.UserID,
		From:      p.Message.From,
		Content:   p.Message.Content,
		Timestamp: ts,
	})
}

func (w *WhatsApp) handleError(raw json.RawMessage) {
	var p protocol.ErrorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		w.log.Warn().Msg("malformed error event")
		return
	}
	w.log.Error().Str("userId", p.UserID).Str("code", p.Code).Msg(p.Message)
	w.bus.Publish(context.Background(), events.Error{
		Source: "channel",
		UserID: p.UserID,
		Err:    errors.New(p.Message),
	})
}
