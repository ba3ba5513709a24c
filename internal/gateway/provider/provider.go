// Package provider defines the chat backends the signaling server relays
// to. A provider owns one linked account per user.
package provider

import (
	"context"
	"errors"

	"github.com/soyeahso/envieii/internal/protocol"
)

// ErrNotPaired is returned when a user has no linked account.
var ErrNotPaired = errors.New("user is not paired")

// Sink receives provider callbacks. Implementations must be safe for
// concurrent use.
type Sink interface {
	QR(userID, code string)
	// Ready reports a linked account. sessionID identifies the link on
	// the provider side.
	Ready(userID, sessionID string)
	Status(userID, status string)
	Message(userID string, msg protocol.WireMessage)
	Error(userID, code, message string)
}

// Provider is a chat backend.
type Provider interface {
	Name() string
	// Pair starts linking an account for userID. Progress is reported
	// through the Sink.
	Pair(ctx context.Context, userID string) error
	// Send delivers content from userID's account to the recipient to.
	Send(ctx context.Context, userID, to, content string) error
	// Logout unlinks userID.
	Logout(userID string) error
	Close() error
}
