package gateway

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/envieii/internal/logging"
	"github.com/soyeahso/envieii/internal/protocol"
)

const writeTimeout = 10 * time.Second

var (
	// ErrClientClosed is returned when writing to a closed client.
	ErrClientClosed = errors.New("client connection closed")
	// ErrMalformedFrame wraps frames that arrived but could not be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Client is an authenticated dashboard connection.
type Client struct {
	ConnID      string
	Info        protocol.ClientInfo
	AuthResult  AuthResult
	ConnectedAt time.Time

	socket   *websocket.Conn
	seq      atomic.Int64
	lastSeen atomic.Int64
	log      *logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient wraps a connection that completed the handshake.
func NewClient(conn *websocket.Conn, info protocol.ClientInfo, auth AuthResult, log *logging.Logger) *Client {
	c := &Client{
		ConnID:      uuid.NewString(),
		Info:        info,
		AuthResult:  auth,
		ConnectedAt: time.Now(),
		socket:      conn,
		log:         log,
	}
	c.touch()
	return c
}

func (c *Client) touch() { c.lastSeen.Store(time.Now().UnixMilli()) }

// LastSeen returns when the client last sent a frame.
func (c *Client) LastSeen() time.Time { return time.UnixMilli(c.lastSeen.Load()) }

// Send writes a frame. Safe for concurrent use.
func (c *Client) Send(f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.socket.WriteJSON(f)
}

// SendEvent writes an event frame with the client's next sequence number.
func (c *Client) SendEvent(event string, payload any) error {
	f, err := protocol.NewEvent(event, payload, c.seq.Add(1))
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond writes a success response for reqID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := protocol.NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError writes a failed response for reqID.
func (c *Client) RespondError(reqID, code, message string) error {
	return c.Send(protocol.NewErrorResponse(reqID, code, message))
}

// ReadFrame reads and decodes the next frame.
func (c *Client) ReadFrame() (protocol.Frame, error) {
	_, data, err := c.socket.ReadMessage()
	if err != nil {
		return protocol.Frame{}, err
	}
	c.touch()
	f, err := protocol.Decode(data)
	if err != nil {
		return protocol.Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// Close closes the connection once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.socket.Close()
}

// ClientRegistry tracks connected clients by connection ID.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Msg("client connected")
}

func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes and forgets every client.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
