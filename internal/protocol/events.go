package protocol

import "time"

// Event names carried in event frames.
const (
	EventInit      = "whatsapp:init"
	EventSend      = "whatsapp:send"
	EventMessage   = "whatsapp:message"
	EventQR        = "whatsapp:qr"
	EventReady     = "whatsapp:ready"
	EventStatus    = "whatsapp:status"
	EventError     = "whatsapp:error"
	EventHeartbeat = "heartbeat"
)

// InitPayload asks the server to start pairing for a user.
type InitPayload struct {
	UserID string `json:"userId"`
}

// SendPayload asks the server to deliver a chat message.
type SendPayload struct {
	UserID    string `json:"userId"`
	To        string `json:"to,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// MessagePayload delivers an inbound chat message.
type MessagePayload struct {
	UserID  string      `json:"userId"`
	Message WireMessage `json:"message"`
}

// WireMessage is the chat message body inside MessagePayload.
type WireMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	From      string `json:"from"`
}

// QRPayload carries a pairing code.
type QRPayload struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

// ReadyPayload announces a linked account.
type ReadyPayload struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
}

// StatusPayload reports a channel status string for a user.
type StatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// ErrorPayload reports a per-user provider failure.
type ErrorPayload struct {
	UserID  string `json:"userId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatPayload keeps idle connections alive.
type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// Millis converts t to the wire timestamp format.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts a wire timestamp back to time. Zero maps to the
// zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
