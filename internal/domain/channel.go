package domain

import "context"

// ChannelStatus is the per-user state of the messaging channel.
type ChannelStatus string

const (
	ChannelDisconnected  ChannelStatus = "disconnected"
	ChannelConnecting    ChannelStatus = "connecting"
	ChannelConnected     ChannelStatus = "connected"
	ChannelAuthenticated ChannelStatus = "authenticated"
	ChannelTimeout       ChannelStatus = "timeout"
	ChannelFailed        ChannelStatus = "failed"
)

// ParseChannelStatus maps a wire string to a ChannelStatus.
func ParseChannelStatus(s string) (ChannelStatus, bool) {
	switch cs := ChannelStatus(s); cs {
	case ChannelDisconnected, ChannelConnecting, ChannelConnected,
		ChannelAuthenticated, ChannelTimeout, ChannelFailed:
		return cs, true
	}
	return "", false
}

// Ready reports whether messages can be delivered in this state.
func (s ChannelStatus) Ready() bool {
	return s == ChannelAuthenticated
}

// ChannelAdapter is the boundary to the external chat network.
type ChannelAdapter interface {
	// RequestPairing starts account linking for userID. Calling it again
	// while a pairing is pending or complete is a no-op.
	RequestPairing(ctx context.Context, userID string) error

	// Send delivers content to recipient "to" on behalf of userID. An
	// empty "to" targets the user's own account.
	Send(ctx context.Context, userID, to, content string) error

	// Status returns the last known channel state for userID.
	Status(userID string) ChannelStatus
}

// ResponseGenerator produces reply text for a prompt.
type ResponseGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Connected() bool
}
