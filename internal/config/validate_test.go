package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuePaths(issues []ValidationIssue) []string {
	paths := make([]string, 0, len(issues))
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	return paths
}

func TestValidate_Defaults(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_SingleField(t *testing.T) {
	temp := float32(3.5)
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"bad signaling scheme", func(c *Config) { c.Signaling.URL = "http://localhost:3002" }, "signaling.url"},
		{"port out of range", func(c *Config) { c.Gateway.Port = 70000 }, "gateway.port"},
		{"unknown bind", func(c *Config) { c.Gateway.Bind = "tailnet" }, "gateway.bind"},
		{"custom bind without host", func(c *Config) { c.Gateway.Bind = "custom" }, "gateway.customBindHost"},
		{"unknown auth mode", func(c *Config) { c.Gateway.Auth.Mode = "oauth" }, "gateway.auth.mode"},
		{"unknown provider", func(c *Config) { c.Gateway.Provider = "baileys" }, "gateway.provider"},
		{"tls without files", func(c *Config) { c.Gateway.TLS.Enabled = true }, "gateway.tls"},
		{"irc provider without section", func(c *Config) { c.Gateway.Provider = "irc" }, "gateway.irc"},
		{"temperature too high", func(c *Config) { c.OpenAI.Temperature = &temp }, "openai.temperature"},
		{"negative max tokens", func(c *Config) { c.OpenAI.MaxTokens = -1 }, "openai.maxTokens"},
		{"negative pairing timeout", func(c *Config) { c.Session.PairingTimeoutSeconds = -5 }, "session.pairingTimeoutSeconds"},
		{"unknown store", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"kafka without brokers", func(c *Config) { c.Events.Kafka = &KafkaConfig{Topic: "t"} }, "events.kafka.brokers"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad console style", func(c *Config) { c.Logging.ConsoleStyle = "compact" }, "logging.consoleStyle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			issues := Validate(&cfg)
			require.Len(t, issues, 1, "issues: %v", issues)
			assert.Equal(t, tt.path, issues[0].Path)
		})
	}
}

func TestValidate_IRC(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Provider = "irc"
	cfg.Gateway.IRC = &IRCConfig{Port: -1, SASL: true}

	paths := issuePaths(Validate(&cfg))
	assert.ElementsMatch(t, []string{"gateway.irc.server", "gateway.irc.port", "gateway.irc.sasl"}, paths)

	cfg.Gateway.IRC = &IRCConfig{Server: "irc.libera.chat", Port: 6697, SASL: true, Password: "pw"}
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_MultipleIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = -1
	cfg.Logging.Level = "loud"
	cfg.Store.Driver = "bolt"

	assert.Len(t, Validate(&cfg), 3)
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "gateway.port", Message: "bad"}
	assert.Equal(t, "gateway.port: bad", issue.String())
}
