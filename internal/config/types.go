package config

// Config is the root configuration shared by the orchestrator (serve) and
// the signaling server (gateway run).
type Config struct {
	Signaling SignalingConfig `yaml:"signaling,omitempty"`
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Events    EventsConfig    `yaml:"events,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// SignalingConfig describes how the orchestrator reaches the signaling server.
type SignalingConfig struct {
	URL    string `yaml:"url,omitempty"`    // ws:// or wss:// endpoint
	Token  string `yaml:"token,omitempty"`  // dashboard token presented in the handshake
	UserID string `yaml:"userId,omitempty"` // account paired by `serve --pair`
}

// GatewayConfig controls the signaling server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
	Provider       string      `yaml:"provider,omitempty"` // "mock" | "irc"
	IRC            *IRCConfig  `yaml:"irc,omitempty"`
}

// GatewayAuth configures handshake authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password" | "none"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the signaling server.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// IRCConfig configures the IRC-backed chat provider. Every paired user gets
// its own connection whose nick is NickPrefix plus a short user suffix.
type IRCConfig struct {
	Server     string `yaml:"server"`
	Port       int    `yaml:"port,omitempty"`
	NickPrefix string `yaml:"nickPrefix,omitempty"`
	Password   string `yaml:"password,omitempty"`
	UseTLS     bool   `yaml:"useTLS,omitempty"`
	SASL       bool   `yaml:"sasl,omitempty"`
}

// OpenAIConfig configures the response generator.
type OpenAIConfig struct {
	APIKey       string   `yaml:"apiKey,omitempty"`
	Model        string   `yaml:"model,omitempty"`
	BaseURL      string   `yaml:"baseUrl,omitempty"`
	Temperature  *float32 `yaml:"temperature,omitempty"`
	MaxTokens    int      `yaml:"maxTokens,omitempty"`
	SystemPrompt string   `yaml:"systemPrompt,omitempty"`
}

// SessionConfig holds session lifecycle timings.
type SessionConfig struct {
	CleanupIntervalMinutes int `yaml:"cleanupIntervalMinutes,omitempty"`
	IdleTimeoutMinutes     int `yaml:"idleTimeoutMinutes,omitempty"`
	PairingTimeoutSeconds  int `yaml:"pairingTimeoutSeconds,omitempty"`
}

// StoreConfig selects the message status log backend.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "postgres" | "none"
	DSN    string `yaml:"dsn,omitempty"`
}

// EventsConfig configures external export of status events.
type EventsConfig struct {
	Kafka *KafkaConfig `yaml:"kafka,omitempty"`
}

// KafkaConfig configures the Kafka status sink.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic,omitempty"`
	ClientID string   `yaml:"clientId,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}
