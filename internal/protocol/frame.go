// Package protocol defines the JSON frames exchanged between the
// orchestrator and the signaling server over a WebSocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the frame protocol version spoken by both ends.
const Version = 1

const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Frame is the envelope for every WebSocket message. Type discriminates
// request, response, and event frames.
type Frame struct {
	Type string `json:"type"`

	// req
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// res
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	// event
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e *ErrorShape) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeRateLimited    = "RATE_LIMITED"
	CodeNotFound       = "NOT_FOUND"
	CodeUnavailable    = "UNAVAILABLE"
	CodeInternal       = "INTERNAL"
)

// Decode parses and sanity-checks a frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}
	switch f.Type {
	case TypeRequest:
		if f.ID == "" || f.Method == "" {
			return Frame{}, errors.New("request frame needs id and method")
		}
	case TypeResponse:
		if f.ID == "" || f.OK == nil {
			return Frame{}, errors.New("response frame needs id and ok")
		}
	case TypeEvent:
		if f.Event == "" {
			return Frame{}, errors.New("event frame needs an event name")
		}
	default:
		return Frame{}, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return f, nil
}

// NewRequest creates a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: TypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse creates a success response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: TypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse creates a failed response frame.
func NewErrorResponse(id, code, message string) Frame {
	ok := false
	return Frame{Type: TypeResponse, ID: id, OK: &ok, Error: &ErrorShape{Code: code, Message: message}}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: TypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}

// Succeeded reports whether a response frame carries ok=true.
func (f Frame) Succeeded() bool {
	return f.OK != nil && *f.OK
}

// DecodeParams unmarshals request params into v.
func (f Frame) DecodeParams(v any) error {
	if len(f.Params) == 0 {
		return errors.New("missing params")
	}
	return json.Unmarshal(f.Params, v)
}

// DecodePayload unmarshals a response or event payload into v.
func (f Frame) DecodePayload(v any) error {
	if len(f.Payload) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(f.Payload, v)
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding frame body: %w", err)
	}
	return raw, nil
}
