package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/soyeahso/envieii/internal/gateway/provider"
	"github.com/soyeahso/envieii/internal/protocol"
	"github.com/soyeahso/envieii/internal/version"
)

// Error codes sent in whatsapp:error events.
const (
	ErrCodeNoProvider = "NO_PROVIDER"
	ErrCodeInitFailed = "INIT_FAILED"
	ErrCodeSendFailed = "SEND_FAILED"
	ErrCodeNotPaired  = "NOT_PAIRED"
	ErrCodeBadPayload = "BAD_PAYLOAD"
)

// RequestHandler processes an RPC request frame from a client.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Client *Client
	Frame  protocol.Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, code, message)
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

func (s *Server) dispatch(client *Client, frame protocol.Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, protocol.CodeNotFound, "unknown method: "+frame.Method)
		return
	}
	handler(&RequestContext{Client: client, Frame: frame, Server: s})
}

// HealthResponse is returned by /health and the health RPC.
type HealthResponse struct {
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime"`
	Connections int     `json:"connections"`
	ServerTime  int64   `json:"serverTime"`
	Version     string  `json:"version"`
	Provider    string  `json:"provider,omitempty"`
}

func (s *Server) health() HealthResponse {
	s.mu.RLock()
	started := s.startedAt
	s.mu.RUnlock()

	h := HealthResponse{
		Status:      "ok",
		Uptime:      time.Since(started).Seconds(),
		Connections: s.clients.Count(),
		ServerTime:  protocol.Millis(time.Now()),
		Version:     version.Version,
	}
	if p := s.currentProvider(); p != nil {
		h.Provider = p.Name()
	}
	return h
}

type logoutParams struct {
	UserID string `json:"userId"`
}

func (s *Server) registerRPCHandlers() {
	s.Handle("health", func(rc *RequestContext) {
		rc.Respond(rc.Server.health())
	})

	s.Handle("logout", func(rc *RequestContext) {
		var params logoutParams
		if err := rc.Frame.DecodeParams(&params); err != nil || params.UserID == "" {
			rc.RespondError(protocol.CodeInvalidRequest, "userId is required")
			return
		}
		if !rc.Server.owns(rc.Client.ConnID, params.UserID) {
			rc.RespondError(protocol.CodeNotFound, "user is not bound to this connection")
			return
		}
		p := rc.Server.currentProvider()
		if p == nil {
			rc.RespondError(protocol.CodeUnavailable, "no provider configured")
			return
		}
		if err := p.Logout(params.UserID); err != nil {
			rc.RespondError(protocol.CodeInternal, err.Error())
			return
		}
		rc.Server.unbind(params.UserID)
		rc.Respond(map[string]bool{"ok": true})
	})
}

// handleClientEvent handles the fire-and-forget events a dashboard emits.
func (s *Server) handleClientEvent(ctx context.Context, client *Client, frame protocol.Frame) {
	switch frame.Event {
	case protocol.EventHeartbeat:
		// ReadFrame already refreshed lastSeen.
	case protocol.EventInit:
		var p protocol.InitPayload
		if err := frame.DecodePayload(&p); err != nil || p.UserID == "" {
			client.SendEvent(protocol.EventError, protocol.ErrorPayload{Code: ErrCodeBadPayload, Message: "userId is required"})
			return
		}
		s.handleInit(ctx, client, p.UserID)
	case protocol.EventSend:
		var p protocol.SendPayload
		if err := frame.DecodePayload(&p); err != nil || p.UserID == "" {
			client.SendEvent(protocol.EventError, protocol.ErrorPayload{Code: ErrCodeBadPayload, Message: "userId is required"})
			return
		}
		s.handleSend(ctx, client, p)
	default:
		s.log.Debug().Str("event", frame.Event).Str("connId", client.ConnID).Msg("ignoring client event")
	}
}

func (s *Server) handleInit(ctx context.Context, client *Client, userID string) {
	p := s.currentProvider()
	if p == nil {
		client.SendEvent(protocol.EventError, protocol.ErrorPayload{UserID: userID, Code: ErrCodeNoProvider, Message: "no provider configured"})
		return
	}
	s.bind(userID, client.ConnID)
	s.log.Info().Str("userId", userID).Str("connId", client.ConnID).Str("provider", p.Name()).Msg("pairing requested")

	if err := p.Pair(ctx, userID); err != nil {
		s.log.Warn().Err(err).Str("userId", userID).Msg("pairing failed to start")
		client.SendEvent(protocol.EventError, protocol.ErrorPayload{UserID: userID, Code: ErrCodeInitFailed, Message: err.Error()})
	}
}

func (s *Server) handleSend(ctx context.Context, client *Client, payload protocol.SendPayload) {
	p := s.currentProvider()
	if p == nil {
		client.SendEvent(protocol.EventError, protocol.ErrorPayload{UserID: payload.UserID, Code: ErrCodeNoProvider, Message: "no provider configured"})
		return
	}
	if err := p.Send(ctx, payload.UserID, payload.To, payload.Content); err != nil {
		code := ErrCodeSendFailed
		if errors.Is(err, provider.ErrNotPaired) {
			code = ErrCodeNotPaired
		}
		s.log.Warn().Err(err).Str("userId", payload.UserID).Msg("send failed")
		client.SendEvent(protocol.EventError, protocol.ErrorPayload{UserID: payload.UserID, Code: code, Message: err.Error()})
	}
}

// bind routes provider callbacks for userID to connID. The latest init wins.
func (s *Server) bind(userID, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[userID] = connID
}

func (s *Server) unbind(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, userID)
}

func (s *Server) owns(connID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owners[userID] == connID
}

// release drops every binding held by connID.
func (s *Server) release(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, owner := range s.owners {
		if owner == connID {
			delete(s.owners, userID)
		}
	}
}

func (s *Server) owner(userID string) (*Client, bool) {
	s.mu.RLock()
	connID, ok := s.owners[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.clients.Get(connID)
}

func (s *Server) deliver(userID, event string, payload any) {
	client, ok := s.owner(userID)
	if !ok {
		s.log.Debug().Str("userId", userID).Str("event", event).Msg("no connection bound, dropping event")
		return
	}
	if err := client.SendEvent(event, payload); err != nil {
		s.log.Warn().Err(err).Str("userId", userID).Str("event", event).Msg("relay failed")
	}
}

// QR implements provider.Sink.
func (s *Server) QR(userID, code string) {
	s.deliver(userID, protocol.EventQR, protocol.QRPayload{UserID: userID, Code: code})
}

// Ready implements provider.Sink.
func (s *Server) Ready(userID, sessionID string) {
	s.deliver(userID, protocol.EventReady, protocol.ReadyPayload{UserID: userID, SessionID: sessionID})
}

// Status implements provider.Sink.
func (s *Server) Status(userID, status string) {
	s.deliver(userID, protocol.EventStatus, protocol.StatusPayload{UserID: userID, Status: status})
}

// Message implements provider.Sink.
func (s *Server) Message(userID string, msg protocol.WireMessage) {
	s.deliver(userID, protocol.EventMessage, protocol.MessagePayload{UserID: userID, Message: msg})
}

// Error implements provider.Sink.
func (s *Server) Error(userID, code, message string) {
	s.deliver(userID, protocol.EventError, protocol.ErrorPayload{UserID: userID, Code: code, Message: message})
}
