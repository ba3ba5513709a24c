// Package events is the in-process event bus. Each event is a typed value
// whose Kind names the wire-compatible event string.
package events

import (
	"time"

	"github.com/soyeahso/envieii/internal/domain"
)

// Kind discriminates events.
type Kind string

const (
	KindMessageStatus      Kind = "message:status"
	KindSocketConnected    Kind = "socket:connected"
	KindSocketDisconnected Kind = "socket:disconnected"
	KindReconnectionFailed Kind = "socket:reconnection_failed"
	KindSessionCleaned     Kind = "session:cleaned"
	KindChannelStatus      Kind = "whatsapp:status_update"
	KindPairingCode        Kind = "whatsapp:qr"
	KindChannelReady       Kind = "whatsapp:ready"
	KindError              Kind = "error"
)

// AllKinds lists every event kind.
var AllKinds = []Kind{
	KindMessageStatus,
	KindSocketConnected,
	KindSocketDisconnected,
	KindReconnectionFailed,
	KindSessionCleaned,
	KindChannelStatus,
	KindPairingCode,
	KindChannelReady,
	KindError,
}

// Event is implemented by every payload type below.
type Event interface {
	Kind() Kind
}

// MessageStatus carries a snapshot of a message after a status change.
type MessageStatus struct {
	Message domain.Message
}

// SocketConnected is published after every successful handshake.
type SocketConnected struct {
	At time.Time
}

// SocketDisconnected is published when a live connection drops.
type SocketDisconnected struct {
	Reason string
}

// ReconnectionFailed is published once when automatic reconnects give up.
type ReconnectionFailed struct {
	Attempts  int
	LastError string
}

// SessionCleaned is published for every evicted session.
type SessionCleaned struct {
	UserID  string
	IdleFor time.Duration
}

// ChannelStatusChanged reports a per-user channel status transition.
type ChannelStatusChanged struct {
	UserID string
	Status domain.ChannelStatus
}

// PairingCodeIssued carries the code a user scans to link an account.
type PairingCodeIssued struct {
	UserID string
	Code   string
}

// ChannelReady is published when a user's account finishes linking.
type ChannelReady struct {
	UserID    string
	SessionID string
}

// Error reports a failure that is not tied to one message.
type Error struct {
	Source string
	UserID string
	Err    error
}

func (MessageStatus) Kind() Kind        { return KindMessageStatus }
func (SocketConnected) Kind() Kind      { return KindSocketConnected }
func (SocketDisconnected) Kind() Kind   { return KindSocketDisconnected }
func (ReconnectionFailed) Kind() Kind   { return KindReconnectionFailed }
func (SessionCleaned) Kind() Kind       { return KindSessionCleaned }
func (ChannelStatusChanged) Kind() Kind { return KindChannelStatus }
func (PairingCodeIssued) Kind() Kind    { return KindPairingCode }
func (ChannelReady) Kind() Kind         { return KindChannelReady }
func (Error) Kind() Kind                { return KindError }
