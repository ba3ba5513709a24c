package domain

import "time"

// SessionSnapshot is a read-only copy of a user's session state.
type SessionSnapshot struct {
	UserID             string    `json:"userId"`
	ChannelSessionID   string    `json:"channelSessionId,omitempty"`
	LastActivity       time.Time `json:"lastActivity"`
	QueueLength        int       `json:"queueLength"`
	Processing         bool      `json:"processing"`
	ChannelInitialized bool      `json:"channelInitialized"`
}
