package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelNotReady means the user's channel is not authenticated.
	ErrChannelNotReady = errors.New("channel not ready")

	// ErrNotConnected means the transport has no live connection.
	ErrNotConnected = errors.New("transport not connected")

	// ErrBackendUnavailable means the response generator is not configured.
	ErrBackendUnavailable = errors.New("response backend unavailable")

	// ErrPairingTimeout means the pairing code was not confirmed in time.
	ErrPairingTimeout = errors.New("pairing timed out")
)

// BackendError is a non-success answer from the response backend.
type BackendError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend error (%d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s backend error: %s", e.Provider, e.Message)
}

// Retryable reports whether the same request might succeed later.
func (e *BackendError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
