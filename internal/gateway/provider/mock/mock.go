// Package mock is a provider that pairs instantly and records outbound
// messages. It is the default backend for local development.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/envieii/internal/gateway/provider"
	"github.com/soyeahso/envieii/internal/protocol"
)

// QRCode is the pairing code handed out for every user.
const QRCode = "mock_qr_code_data"

// Sent is a message delivered through the mock.
type Sent struct {
	UserID  string
	To      string
	Content string
}

// Options tune the simulated pairing.
type Options struct {
	// QRDelay is the pause before the pairing code is issued.
	QRDelay time.Duration
	// ReadyDelay is the pause between the code and the account being
	// linked. Zero leaves users waiting for an explicit Link.
	ReadyDelay time.Duration
}

// Provider is the mock backend.
type Provider struct {
	sink provider.Sink
	opts Options

	mu     sync.Mutex
	paired map[string]bool
	sent   []Sent
	timers []*time.Timer
	closed bool
}

var _ provider.Provider = (*Provider)(nil)

// New creates a mock provider reporting to sink.
func New(sink provider.Sink, opts Options) *Provider {
	return &Provider{sink: sink, opts: opts, paired: make(map[string]bool)}
}

func (p *Provider) Name() string { return "mock" }

// Pair issues QRCode after QRDelay, then links the user after ReadyDelay.
func (p *Provider) Pair(_ context.Context, userID string) error {
	p.sink.Status(userID, "connecting")
	p.after(p.opts.QRDelay, func() {
		p.sink.QR(userID, QRCode)
		if p.opts.ReadyDelay > 0 {
			p.after(p.opts.ReadyDelay, func() { p.Link(userID) })
		}
	})
	return nil
}

// Link marks userID as paired, as if the code had been scanned.
func (p *Provider) Link(userID string) {
	sessionID := "mock-" + uuid.NewString()
	p.mu.Lock()
	p.paired[userID] = true
	p.mu.Unlock()
	p.sink.Ready(userID, sessionID)
	p.sink.Status(userID, "authenticated")
}

// Inject delivers an inbound message to userID as if from.
func (p *Provider) Inject(userID, from, content string) {
	p.sink.Message(userID, protocol.WireMessage{
		ID:        uuid.NewString(),
		Content:   content,
		Timestamp: protocol.Millis(time.Now()),
		From:      from,
	})
}

func (p *Provider) Send(_ context.Context, userID, to, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paired[userID] {
		return provider.ErrNotPaired
	}
	p.sent = append(p.sent, Sent{UserID: userID, To: to, Content: content})
	return nil
}

func (p *Provider) Logout(userID string) error {
	p.mu.Lock()
	delete(p.paired, userID)
	p.mu.Unlock()
	p.sink.Status(userID, "disconnected")
	return nil
}

// Sent returns every delivered message in order.
func (p *Provider) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sent(nil), p.sent...)
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = nil
	return nil
}

func (p *Provider) after(d time.Duration, fn func()) {
	if d <= 0 {
		fn()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.timers = append(p.timers, time.AfterFunc(d, fn))
}
