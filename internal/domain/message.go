package domain

import "time"

// MessageStatus is the processing state of a queued message.
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusCompleted  MessageStatus = "completed"
	StatusFailed     MessageStatus = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s MessageStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MessageSource says who produced a message.
type MessageSource string

const (
	SourceChannel   MessageSource = "channel"
	SourceGenerator MessageSource = "generator"
	SourceSystem    MessageSource = "system"
)

// Message is a unit of work in a user's queue. Only the orchestrator
// mutates it, and never from two goroutines at once.
type Message struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	Content   string        `json:"content"`
	From      string        `json:"from,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status"`
	Source    MessageSource `json:"source"`
	Reply     string        `json:"reply,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// InboundMessage is a chat message delivered by the channel.
type InboundMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	From      string    `json:"from"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
