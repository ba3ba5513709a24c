// Package irc links each user to an IRC identity using girc. The pairing
// code handed to the user is the nick other people message to reach them.
package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"

	"github.com/soyeahso/envieii/internal/config"
	"github.com/soyeahso/envieii/internal/gateway/provider"
	"github.com/soyeahso/envieii/internal/logging"
	"github.com/soyeahso/envieii/internal/protocol"
	"github.com/soyeahso/envieii/internal/version"
)

// maxLineLen keeps PRIVMSG lines under the 512 byte protocol limit.
const maxLineLen = 400

type account struct {
	client *girc.Client
	nick   string
}

// Provider keeps one IRC connection per paired user.
type Provider struct {
	cfg  config.IRCConfig
	sink provider.Sink
	log  *logging.Logger

	mu       sync.Mutex
	accounts map[string]*account
	wg       sync.WaitGroup
}

var _ provider.Provider = (*Provider)(nil)

// New creates an IRC provider.
func New(cfg config.IRCConfig, sink provider.Sink, log *logging.Logger) *Provider {
	if cfg.NickPrefix == "" {
		cfg.NickPrefix = "envieii"
	}
	return &Provider{
		cfg:      cfg,
		sink:     sink,
		log:      log.Sub("irc"),
		accounts: make(map[string]*account),
	}
}

func (p *Provider) Name() string { return "irc" }

func (p *Provider) port() int {
	if p.cfg.Port != 0 {
		return p.cfg.Port
	}
	if p.cfg.UseTLS {
		return 6697
	}
	return 6667
}

// Nick derives the IRC nick for userID.
func (p *Provider) Nick(userID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(userID) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	suffix := b.String()
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	if suffix == "" {
		suffix = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return p.cfg.NickPrefix + "-" + suffix
}

// Pair connects a new IRC identity for userID. The nick is reported as
// the pairing code and the user becomes ready once registration completes.
func (p *Provider) Pair(_ context.Context, userID string) error {
	p.mu.Lock()
	if _, ok := p.accounts[userID]; ok {
		p.mu.Unlock()
		return nil
	}
	nick := p.Nick(userID)
	client := girc.New(p.clientConfig(nick))
	acct := &account{client: client, nick: nick}
	p.accounts[userID] = acct
	p.mu.Unlock()

	p.registerHandlers(userID, acct)

	p.log.Info().
		Str("userId", userID).
		Str("server", p.cfg.Server).
		Int("port", p.port()).
		Str("nick", nick).
		Bool("tls", p.cfg.UseTLS).
		Msg("connecting to IRC")

	p.sink.Status(userID, "connecting")
	p.sink.QR(userID, fmt.Sprintf("irc://%s/%s", p.cfg.Server, nick))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := client.Connect(); err != nil {
			p.log.Warn().Err(err).Str("userId", userID).Msg("irc connection ended")
			p.sink.Error(userID, "IRC_CONNECT", err.Error())
		}
		p.mu.Lock()
		if p.accounts[userID] == acct {
			delete(p.accounts, userID)
		}
		p.mu.Unlock()
		p.sink.Status(userID, "disconnected")
	}()
	return nil
}

func (p *Provider) clientConfig(nick string) girc.Config {
	cfg := girc.Config{
		Server:  p.cfg.Server,
		Port:    p.port(),
		Nick:    nick,
		User:    nick,
		Name:    "envieii relay",
		SSL:     p.cfg.UseTLS,
		Version: version.UserAgent(),
	}
	if p.cfg.UseTLS {
		cfg.TLSConfig = &tls.Config{ServerName: p.cfg.Server}
	}
	if p.cfg.SASL && p.cfg.Password != "" {
		cfg.SASL = &girc.SASLPlain{User: nick, Pass: p.cfg.Password}
	} else if p.cfg.Password != "" {
		cfg.ServerPass = p.cfg.Password
	}
	return cfg
}

func (p *Provider) registerHandlers(userID string, acct *account) {
	acct.client.Handlers.Add(girc.CONNECTED, func(c *girc.Client, _ girc.Event) {
		p.log.Info().Str("userId", userID).Str("nick", c.GetNick()).Msg("connected to IRC")
		p.sink.Ready(userID, c.GetNick()+"@"+p.cfg.Server)
		p.sink.Status(userID, "authenticated")
	})
	acct.client.Handlers.Add(girc.PRIVMSG, func(c *girc.Client, e girc.Event) {
		if e.Source == nil || e.Source.Name == c.GetNick() {
			return
		}
		// Channel chatter is not addressed to the user.
		if e.IsFromChannel() {
			return
		}
		body := e.Last()
		if e.IsAction() {
			body = e.StripAction()
		}
		p.sink.Message(userID, protocol.WireMessage{
			ID:        uuid.NewString(),
			Content:   body,
			Timestamp: protocol.Millis(time.Now()),
			From:      e.Source.Name,
		})
	})
	acct.client.Handlers.Add(girc.ERR_NICKNAMEINUSE, func(_ *girc.Client, e girc.Event) {
		p.sink.Error(userID, "IRC_NICK_IN_USE", e.Last())
	})
}

// Send delivers content to a nick or channel, split into protocol-sized
// lines.
func (p *Provider) Send(_ context.Context, userID, to, content string) error {
	p.mu.Lock()
	acct, ok := p.accounts[userID]
	p.mu.Unlock()
	if !ok || !acct.client.IsConnected() {
		return provider.ErrNotPaired
	}
	if to == "" {
		return fmt.Errorf("irc: no recipient for %s", userID)
	}

	lines := splitMessage(content, maxLineLen)
	for _, line := range lines {
		acct.client.Cmd.Message(to, line)
	}
	p.log.Debug().Str("userId", userID).Str("to", to).Int("lines", len(lines)).Msg("sent IRC message")
	return nil
}

// Logout quits the user's connection.
func (p *Provider) Logout(userID string) error {
	p.mu.Lock()
	acct, ok := p.accounts[userID]
	delete(p.accounts, userID)
	p.mu.Unlock()
	if !ok {
		return provider.ErrNotPaired
	}
	acct.client.Quit("logged out")
	acct.client.Close()
	return nil
}

// Close disconnects every user and waits for the connections to end.
func (p *Provider) Close() error {
	p.mu.Lock()
	accts := p.accounts
	p.accounts = make(map[string]*account)
	p.mu.Unlock()

	for _, acct := range accts {
		acct.client.Close()
	}
	p.wg.Wait()
	return nil
}

// splitMessage breaks text into IRC lines. PRIVMSG cannot carry newlines,
// so each input line becomes at least one output line; blank lines are
// kept so paragraph breaks survive.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			chunks = append(chunks, " ")
			continue
		}
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !utf8Start(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		chunks = append(chunks, line)
	}
	return chunks
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
