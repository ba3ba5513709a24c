package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

type validator struct {
	issues []ValidationIssue
}

func (v *validator) add(path, format string, args ...any) {
	v.issues = append(v.issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) oneOf(path, value string, allowed []string) {
	if value != "" && !slices.Contains(allowed, value) {
		v.add(path, "must be one of %v, got %q", allowed, value)
	}
}

func (v *validator) port(path string, p int) {
	if p < 0 || p > 65535 {
		v.add(path, "port must be 0-65535, got %d", p)
	}
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	v := &validator{}

	if cfg.Signaling.URL != "" {
		u, err := url.Parse(cfg.Signaling.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			v.add("signaling.url", "must be a ws:// or wss:// URL, got %q", cfg.Signaling.URL)
		}
	}

	v.port("gateway.port", cfg.Gateway.Port)
	v.oneOf("gateway.bind", cfg.Gateway.Bind, []string{"auto", "lan", "loopback", "custom"})
	v.oneOf("gateway.auth.mode", cfg.Gateway.Auth.Mode, []string{"token", "password", "none"})
	v.oneOf("gateway.provider", cfg.Gateway.Provider, []string{"mock", "irc"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		v.add("gateway.customBindHost", "required when bind is custom")
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		v.add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}

	if cfg.Gateway.Provider == "irc" {
		irc := cfg.Gateway.IRC
		switch {
		case irc == nil:
			v.add("gateway.irc", "required when provider is irc")
		default:
			if irc.Server == "" {
				v.add("gateway.irc.server", "server is required")
			}
			v.port("gateway.irc.port", irc.Port)
			if irc.SASL && irc.Password == "" {
				v.add("gateway.irc.sasl", "SASL requires a password to be set")
			}
		}
	}

	if t := cfg.OpenAI.Temperature; t != nil && (*t < 0 || *t > 2) {
		v.add("openai.temperature", "must be between 0 and 2, got %g", *t)
	}
	if cfg.OpenAI.MaxTokens < 0 {
		v.add("openai.maxTokens", "must not be negative, got %d", cfg.OpenAI.MaxTokens)
	}

	if cfg.Session.CleanupIntervalMinutes < 0 {
		v.add("session.cleanupIntervalMinutes", "must not be negative")
	}
	if cfg.Session.IdleTimeoutMinutes < 0 {
		v.add("session.idleTimeoutMinutes", "must not be negative")
	}
	if cfg.Session.PairingTimeoutSeconds < 0 {
		v.add("session.pairingTimeoutSeconds", "must not be negative")
	}

	v.oneOf("store.driver", cfg.Store.Driver, []string{"sqlite", "postgres", "none"})
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		v.add("store.dsn", "required for the postgres driver")
	}

	if k := cfg.Events.Kafka; k != nil && len(k.Brokers) == 0 {
		v.add("events.kafka.brokers", "at least one broker is required")
	}

	v.oneOf("logging.level", cfg.Logging.Level, []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	v.oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json"})

	return v.issues
}
