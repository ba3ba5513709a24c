// Package llm produces reply text for inbound chat messages.
package llm

import (
	"github.com/soyeahso/envieii/internal/domain"
)

// Generator is a response backend with a provider name.
type Generator interface {
	domain.ResponseGenerator
	Name() string
}

// Status is the operator-facing view of a generator.
type Status struct {
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	Connected bool   `json:"isConnected"`
	APIKey    string `json:"apiKey,omitempty"` // "configured" or empty, never the key
}
