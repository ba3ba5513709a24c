// Package gateway is the signaling server dashboards connect to. It
// authenticates each WebSocket, relays pairing and chat events between the
// dashboard and a chat provider, and serves a small HTTP API.
package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/envieii/internal/config"
	"github.com/soyeahso/envieii/internal/gateway/provider"
	"github.com/soyeahso/envieii/internal/llm"
	"github.com/soyeahso/envieii/internal/logging"
	"github.com/soyeahso/envieii/internal/protocol"
	"github.com/soyeahso/envieii/internal/version"
)

const (
	maxPayload          = 4 * 1024 * 1024
	handshakeTimeout    = 10 * time.Second
	heartbeatIntervalMs = 20000
)

// OpenAI is the generator surface exposed over HTTP.
type OpenAI interface {
	Status() llm.Status
	SetAPIKey(ctx context.Context, key string) error
}

// Server is the signaling HTTP + WebSocket server.
type Server struct {
	cfg         config.GatewayConfig
	auth        ResolvedAuth
	log         *logging.Logger
	clients     *ClientRegistry
	handlers    map[string]RequestHandler
	authLimiter *authRateLimiter
	upgrader    websocket.Upgrader
	openai      OpenAI
	startedAt   time.Time

	mu       sync.RWMutex
	provider provider.Provider
	owners   map[string]string // userID -> connID
	addr     string
}

var _ provider.Sink = (*Server)(nil)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithOpenAI exposes a generator on /api/openai.
func WithOpenAI(o OpenAI) ServerOption {
	return func(s *Server) { s.openai = o }
}

// New creates a server. A provider must be attached with UseProvider
// before dashboards can pair.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		authLimiter: newAuthRateLimiter(),
		owners:      make(map[string]string),
		startedAt:   time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRPCHandlers()
	return s
}

// UseProvider attaches the chat backend. The provider reports back through
// the server, which implements provider.Sink.
func (s *Server) UseProvider(p provider.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = p
}

func (s *Server) currentProvider() provider.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// checkWebSocketOrigin allows requests without an Origin header and those
// whose Origin is listed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

func isOriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Bind != "" && s.cfg.Bind != "loopback" {
		s.log.Warn().Msg("TLS is not enabled, credentials travel in cleartext")
	}

	httpServer := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()

	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	go s.authLimiter.run(limiterCtx)

	provName := "none"
	if p := s.currentProvider(); p != nil {
		provName = p.Name()
	}
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("auth", s.auth.Mode).
		Str("provider", provName).
		Msg("gateway server ready")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		httpServer.Shutdown(shutdownCtx)
	}()

	err = httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
		return nil
	}
	return err
}

// Addr returns the listen address once Start is running.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// handleWebSocket upgrades the request and runs the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.release(client.ConnID)
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(r.Context(), client)
}

// handshake runs challenge, connect, hello-ok.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := protocol.NewEvent(protocol.EventChallenge, protocol.Challenge{
		Nonce: uuid.NewString(),
		Ts:    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	frame, err := protocol.Decode(data)
	if err != nil {
		sendErrorAndClose(conn, "", protocol.CodeInvalidRequest, "malformed frame")
		return nil, err
	}
	if frame.Type != protocol.TypeRequest || frame.Method != protocol.MethodConnect {
		sendErrorAndClose(conn, frame.ID, protocol.CodeInvalidRequest, "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params protocol.ConnectParams
	if err := frame.DecodeParams(&params); err != nil {
		sendErrorAndClose(conn, frame.ID, protocol.CodeInvalidRequest, "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if params.MinProtocol > protocol.Version || (params.MaxProtocol != 0 && params.MaxProtocol < protocol.Version) {
		sendErrorAndClose(conn, frame.ID, protocol.CodeInvalidRequest, "unsupported protocol version")
		return nil, fmt.Errorf("protocol mismatch: client %d-%d", params.MinProtocol, params.MaxProtocol)
	}

	result := Authorize(s.auth, params.Auth)
	if !result.OK {
		sendErrorAndClose(conn, frame.ID, protocol.CodeUnauthorized, result.Reason)
		return nil, fmt.Errorf("auth failed: %s", result.Reason)
	}

	conn.SetReadDeadline(time.Time{})
	client := NewClient(conn, params.Client, result, s.log.Sub("ws"))

	provName := ""
	if p := s.currentProvider(); p != nil {
		provName = p.Name()
	}
	resp, err := protocol.NewResponse(frame.ID, protocol.HelloOK{
		Protocol: protocol.Version,
		Server: protocol.ServerInfo{
			Version:  version.Version,
			Provider: provName,
			ConnID:   client.ConnID,
		},
		Events: []string{
			protocol.EventQR, protocol.EventReady, protocol.EventStatus,
			protocol.EventMessage, protocol.EventError,
		},
		Policy: protocol.ServerPolicy{
			MaxPayload:          maxPayload,
			HeartbeatIntervalMs: heartbeatIntervalMs,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating hello: %w", err)
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Str("authMethod", result.Method).
		Msg("client authenticated")
	return client, nil
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, ErrMalformedFrame):
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("dropping malformed frame")
				continue
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			default:
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read ended")
			}
			return
		}

		switch frame.Type {
		case protocol.TypeRequest:
			s.dispatch(client, frame)
		case protocol.TypeEvent:
			s.handleClientEvent(ctx, client, frame)
		default:
			s.log.Debug().Str("type", frame.Type).Msg("ignoring frame")
		}
	}
}

// sendErrorAndClose sends an error response and a close frame.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(protocol.NewErrorResponse(reqID, code, message))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
