package config

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} references with environment values.
// Unset variables are left as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

// expandSecrets resolves ${VAR} references in credential fields.
func expandSecrets(cfg *Config) {
	cfg.Signaling.Token = expandEnvVars(cfg.Signaling.Token)
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.OpenAI.APIKey = expandEnvVars(cfg.OpenAI.APIKey)
	cfg.Store.DSN = expandEnvVars(cfg.Store.DSN)
	if cfg.Gateway.IRC != nil {
		cfg.Gateway.IRC.Password = expandEnvVars(cfg.Gateway.IRC.Password)
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files (default
// ./.env) without overriding variables already present in the environment.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &ConfigError{Message: "failed to load " + f + ": " + err.Error()}
		}
	}
	return nil
}

// Load reads the config file, applies defaults and environment overrides,
// and returns the merged Config. A missing file yields defaults.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Defaults(), &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
	case os.IsNotExist(err):
	default:
		return Defaults(), err
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSecrets(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func applyDefaults(cfg *Config) {
	if cfg.Signaling.URL == "" {
		cfg.Signaling.URL = DefaultSignalingURL
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultGatewayPort
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = "token"
	}
	if cfg.Gateway.Provider == "" {
		cfg.Gateway.Provider = defaultGatewayProvider
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = DefaultOpenAIModel
	}
	if cfg.OpenAI.MaxTokens == 0 {
		cfg.OpenAI.MaxTokens = DefaultMaxTokens
	}
	if cfg.Session.CleanupIntervalMinutes == 0 {
		cfg.Session.CleanupIntervalMinutes = defaultCleanupMinutes
	}
	if cfg.Session.IdleTimeoutMinutes == 0 {
		cfg.Session.IdleTimeoutMinutes = defaultIdleMinutes
	}
	if cfg.Session.PairingTimeoutSeconds == 0 {
		cfg.Session.PairingTimeoutSeconds = defaultPairingSeconds
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaultStoreDriver
	}
	if cfg.Events.Kafka != nil && cfg.Events.Kafka.Topic == "" {
		cfg.Events.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// applyEnvOverrides reads ENVIEII_* variables (plus the OPENAI_API_KEY and
// VITE_SOCKET_URL names used by the dashboard build) over file values.
func applyEnvOverrides(cfg *Config) {
	if v := firstEnv("ENVIEII_SOCKET_URL", "VITE_SOCKET_URL"); v != "" {
		cfg.Signaling.URL = v
	}
	if v := os.Getenv("ENVIEII_TOKEN"); v != "" {
		cfg.Signaling.Token = v
	}
	if v := os.Getenv("ENVIEII_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("ENVIEII_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("ENVIEII_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := firstEnv("ENVIEII_OPENAI_API_KEY", "OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := firstEnv("ENVIEII_OPENAI_MODEL", "OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("ENVIEII_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := firstEnv("ENVIEII_STORE_DSN", "DATABASE_URL"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("ENVIEII_KAFKA_BROKERS"); v != "" {
		if cfg.Events.Kafka == nil {
			cfg.Events.Kafka = &KafkaConfig{Topic: DefaultKafkaTopic}
		}
		cfg.Events.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ENVIEII_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
