package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/envieii/internal/config"
	"github.com/soyeahso/envieii/internal/gateway/provider/irc"
	"github.com/soyeahso/envieii/internal/gateway/provider/mock"
	"github.com/soyeahso/envieii/internal/logging"
)

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("TRUE"))
	assert.Equal(t, false, parseValue("false"))
	assert.Equal(t, 3002, parseValue("3002"))
	assert.Equal(t, 0.7, parseValue("0.7"))
	assert.Equal(t, "gpt-4o-mini", parseValue("gpt-4o-mini"))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "sk-p****", redact("sk-proj-abcdefgh"))
	assert.Equal(t, "********", redact("short"))
	assert.Equal(t, "${OPENAI_API_KEY}", redact("${OPENAI_API_KEY}"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "oi", truncate("oi", 10))
	assert.Equal(t, "olá m…", truncate("olá mundo", 6))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}

func TestNewProvider(t *testing.T) {
	log = logging.New(nil, "silent")

	p, err := newProvider(config.GatewayConfig{Provider: "mock"}, nil, 0)
	require.NoError(t, err)
	assert.IsType(t, &mock.Provider{}, p)

	_, err = newProvider(config.GatewayConfig{Provider: "irc"}, nil, 0)
	assert.Error(t, err)

	p, err = newProvider(config.GatewayConfig{Provider: "irc", IRC: &config.IRCConfig{Server: "irc.test"}}, nil, 0)
	require.NoError(t, err)
	assert.IsType(t, &irc.Provider{}, p)

	_, err = newProvider(config.GatewayConfig{Provider: "telegram"}, nil, 0)
	assert.Error(t, err)
}

func TestConfigSetAndUnset(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ENVIEII_HOME", home)

	run := func(args ...string) error {
		cmd := newRootCmd()
		cmd.SetArgs(append(args, "--log-level", "silent"))
		return cmd.Execute()
	}

	require.NoError(t, run("config", "set", "openai.model", "gpt-4o-mini"))
	require.NoError(t, run("config", "set", "gateway.port", "4000"))

	cfg, err := config.Load(filepath.Join(home, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 4000, cfg.Gateway.Port)

	require.NoError(t, run("config", "unset", "openai.model"))
	assert.Error(t, run("config", "unset", "openai.model"))

	cfg, err = config.Load(filepath.Join(home, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultOpenAIModel, cfg.OpenAI.Model)
}

func TestEnsureClientToken(t *testing.T) {
	home := t.TempDir()
	paths = config.Paths{Config: filepath.Join(home, "config.yaml")}
	log = logging.New(nil, "silent")

	cfg := config.Defaults()
	require.NoError(t, ensureClientToken(&cfg))
	assert.Regexp(t, `^envieii_[0-9a-f]{16}$`, cfg.Signaling.Token)

	_, err := os.Stat(paths.Config)
	require.NoError(t, err)
	saved, err := config.Load(paths.Config)
	require.NoError(t, err)
	assert.Equal(t, cfg.Signaling.Token, saved.Signaling.Token)

	first := cfg.Signaling.Token
	require.NoError(t, ensureClientToken(&cfg))
	assert.Equal(t, first, cfg.Signaling.Token, "an existing token is kept")
}
