package irc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/envieii/internal/config"
	"github.com/soyeahso/envieii/internal/gateway/provider"
	"github.com/soyeahso/envieii/internal/logging"
	"github.com/soyeahso/envieii/internal/protocol"
)

type recordingSink struct {
	mu       sync.Mutex
	calls    []string
	messages []protocol.WireMessage
}

func (s *recordingSink) add(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *recordingSink) QR(userID, code string)       { s.add("qr:" + code) }
func (s *recordingSink) Status(userID, status string) { s.add("status:" + status) }
func (s *recordingSink) Error(userID, code, _ string) { s.add("error:" + code) }
func (s *recordingSink) Ready(userID, sessionID string) {
	s.add("ready:" + userID)
	s.add("session:" + sessionID)
}
func (s *recordingSink) Message(userID string, msg protocol.WireMessage) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

func (s *recordingSink) has(call string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (s *recordingSink) Messages() []protocol.WireMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.WireMessage(nil), s.messages...)
}

// fakeServer accepts one client, welcomes it, and records PRIVMSG lines.
type fakeServer struct {
	ln net.Listener

	mu    sync.Mutex
	conn  net.Conn
	nick  string
	lines []string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{ln: ln}
	go s.serve()
	t.Cleanup(func() {
		ln.Close()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	})
	return s
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	r := bufio.NewScanner(conn)
	for r.Scan() {
		line := strings.TrimSpace(r.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "NICK":
			s.mu.Lock()
			s.nick = fields[1]
			s.mu.Unlock()
		case "USER":
			s.write(fmt.Sprintf(":irc.test 001 %s :Welcome", s.currentNick()))
		case "PING":
			s.write(":irc.test PONG irc.test :" + strings.TrimPrefix(fields[len(fields)-1], ":"))
		case "PRIVMSG":
			s.mu.Lock()
			s.lines = append(s.lines, line)
			s.mu.Unlock()
		}
	}
}

func (s *fakeServer) currentNick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nick
}

func (s *fakeServer) write(line string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Write([]byte(line + "\r\n"))
	}
}

func (s *fakeServer) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func TestPairSendAndReceive(t *testing.T) {
	srv := newFakeServer(t)
	sink := &recordingSink{}
	p := New(config.IRCConfig{Server: "127.0.0.1", Port: srv.port(), NickPrefix: "bot"}, sink, logging.New(nil, "silent"))
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Pair(ctx, "User-42"))
	assert.True(t, sink.has("status:connecting"))
	assert.True(t, sink.has("qr:irc://127.0.0.1/bot-user42"))

	require.Eventually(t, func() bool { return sink.has("ready:User-42") }, 10*time.Second, 10*time.Millisecond)
	assert.True(t, sink.has("status:authenticated"))
	assert.True(t, sink.has("session:bot-user42@127.0.0.1"))
	assert.Equal(t, "bot-user42", srv.currentNick())

	require.NoError(t, p.Send(ctx, "User-42", "alice", "line one\nline two"))
	require.Eventually(t, func() bool { return len(srv.Lines()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "PRIVMSG alice :line one", srv.Lines()[0])

	srv.write(":alice!a@host PRIVMSG bot-user42 :hello there")
	srv.write(":bob!b@host PRIVMSG #lobby :channel noise")
	require.Eventually(t, func() bool { return len(sink.Messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	msg := sink.Messages()[0]
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, "hello there", msg.Content)
	assert.NotEmpty(t, msg.ID)

	assert.Error(t, p.Send(ctx, "User-42", "", "x"), "a recipient is required")
}

func TestSendUnpaired(t *testing.T) {
	p := New(config.IRCConfig{Server: "127.0.0.1"}, &recordingSink{}, logging.New(nil, "silent"))
	assert.ErrorIs(t, p.Send(context.Background(), "u1", "bob", "hi"), provider.ErrNotPaired)
	assert.ErrorIs(t, p.Logout("u1"), provider.ErrNotPaired)
	require.NoError(t, p.Close())
}

func TestNick(t *testing.T) {
	p := New(config.IRCConfig{}, &recordingSink{}, logging.New(nil, "silent"))
	assert.Equal(t, "envieii-abc123", p.Nick("ABC-123"))
	assert.Equal(t, "envieii-12345678", p.Nick("1234567890"))
	assert.Len(t, p.Nick("---"), len("envieii-")+8)
}

func TestPort(t *testing.T) {
	assert.Equal(t, 6667, New(config.IRCConfig{}, nil, logging.Nop()).port())
	assert.Equal(t, 6697, New(config.IRCConfig{UseTLS: true}, nil, logging.Nop()).port())
	assert.Equal(t, 7000, New(config.IRCConfig{Port: 7000}, nil, logging.Nop()).port())
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"newlines", "a\nb", 10, []string{"a", "b"}},
		{"blank line kept", "a\n\nb", 10, []string{"a", " ", "b"}},
		{"long", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"crlf", "a\r\nb", 10, []string{"a", "b"}},
		{"utf8 boundary", "ééé", 3, []string{"é", "é", "é"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitMessage(tt.in, tt.max))
		})
	}
}

func TestSplitMessageLineLength(t *testing.T) {
	long := strings.Repeat("x", maxLineLen*2+1)
	chunks := splitMessage(long, maxLineLen)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c), maxLineLen, "chunk "+strconv.Itoa(i))
	}
}
