package cli

import (
	"fmt"
	"time"

	"github.com/soyeahso/envieii/internal/config"
	"github.com/soyeahso/envieii/internal/gateway/provider"
	"github.com/soyeahso/envieii/internal/gateway/provider/irc"
	"github.com/soyeahso/envieii/internal/gateway/provider/mock"
	"github.com/soyeahso/envieii/internal/llm"
	"github.com/soyeahso/envieii/internal/store"
)

// mockQRDelay matches the pause a real pairing takes before a code shows up.
const mockQRDelay = time.Second

func newGenerator(cfg config.OpenAIConfig) *llm.OpenAIGenerator {
	return llm.NewOpenAI(llm.OpenAIOptions{
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		BaseURL:      cfg.BaseURL,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.TemperatureOrDefault(),
		MaxTokens:    cfg.MaxTokens,
	}, log)
}

// openStatusLog opens the configured store. It returns nil, nil when the
// store is disabled.
func openStatusLog(cfg config.StoreConfig) (*store.StatusLog, *store.DB, error) {
	if cfg.Driver == "none" {
		return nil, nil, nil
	}
	dsn := cfg.DSN
	if dsn == "" && cfg.Driver != store.DriverPostgres {
		dsn = paths.StatusLogDSN()
	}
	db, err := store.Open(cfg.Driver, dsn, log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening status log: %w", err)
	}
	return store.NewStatusLog(db), db, nil
}

// newProvider builds the chat backend behind the signaling server.
func newProvider(cfg config.GatewayConfig, sink provider.Sink, autoLink time.Duration) (provider.Provider, error) {
	switch cfg.Provider {
	case "", "mock":
		return mock.New(sink, mock.Options{QRDelay: mockQRDelay, ReadyDelay: autoLink}), nil
	case "irc":
		if cfg.IRC == nil || cfg.IRC.Server == "" {
			return nil, fmt.Errorf("gateway.irc.server is required for the irc provider")
		}
		return irc.New(*cfg.IRC, sink, log), nil
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}
}
