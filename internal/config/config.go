package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultGatewayPort     = 3002
	DefaultSignalingURL    = "ws://localhost:3002/ws"
	DefaultOpenAIModel     = "gpt-3.5-turbo"
	DefaultTemperature     = float32(0.7)
	DefaultMaxTokens       = 1000
	DefaultKafkaTopic      = "envieii.message-status"
	defaultCleanupMinutes  = 60
	defaultIdleMinutes     = 60
	defaultPairingSeconds  = 60
	defaultStoreDriver     = "sqlite"
	defaultGatewayProvider = "mock"
)

// Defaults returns a Config with defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// CleanupInterval is how often idle sessions are swept.
func (c SessionConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

// IdleTimeout is how long a session may sit idle before eviction.
func (c SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}

// PairingTimeout bounds how long a user may take to scan a pairing code.
func (c SessionConfig) PairingTimeout() time.Duration {
	return time.Duration(c.PairingTimeoutSeconds) * time.Second
}

// TemperatureOrDefault returns the configured sampling temperature.
func (c OpenAIConfig) TemperatureOrDefault() float32 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}
