package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/logging"
)

const (
	providerOpenAI   = "openai"
	validationPrompt = "test"
)

// OpenAIOptions configures an OpenAIGenerator.
type OpenAIOptions struct {
	APIKey       string
	Model        string
	BaseURL      string // OpenAI-compatible endpoint, e.g. http://localhost:11434/v1
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	HTTPClient   *http.Client
}

// OpenAIGenerator calls the chat completions API. It never retries; a
// failure belongs to the one message being answered.
type OpenAIGenerator struct {
	opts OpenAIOptions
	log  *logging.Logger

	mu        sync.RWMutex
	client    *openai.Client
	connected bool
}

// NewOpenAI creates a generator. With an empty key it stays unavailable
// until SetAPIKey succeeds.
func NewOpenAI(opts OpenAIOptions, log *logging.Logger) *OpenAIGenerator {
	if opts.Model == "" {
		opts.Model = openai.GPT3Dot5Turbo
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	g := &OpenAIGenerator{opts: opts, log: log.Sub("openai")}
	if opts.APIKey != "" {
		g.client = g.newClient(opts.APIKey)
		g.connected = true
	}
	return g
}

func (g *OpenAIGenerator) newClient(key string) *openai.Client {
	cfg := openai.DefaultConfig(key)
	if g.opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(g.opts.BaseURL, "/")
	}
	cfg.HTTPClient = g.opts.HTTPClient
	return openai.NewClientWithConfig(cfg)
}

// Name implements Generator.
func (g *OpenAIGenerator) Name() string { return providerOpenAI }

// Connected reports whether a key is configured and usable.
func (g *OpenAIGenerator) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

// Status returns the generator state without exposing the key.
func (g *OpenAIGenerator) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st := Status{Provider: providerOpenAI, Model: g.opts.Model, Connected: g.connected}
	if g.client != nil {
		st.APIKey = "configured"
	}
	return st
}

// Generate implements domain.ResponseGenerator.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.RLock()
	client, ok := g.client, g.connected
	g.mu.RUnlock()
	if !ok || client == nil {
		return "", domain.ErrBackendUnavailable
	}

	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if g.opts.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: g.opts.SystemPrompt})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.opts.Model,
		Messages:    msgs,
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
		TopP:        1,
	})
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &domain.BackendError{Provider: providerOpenAI, Message: "empty choices"}
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", &domain.BackendError{Provider: providerOpenAI, Message: "empty reply"}
	}

	g.log.Debug().
		Str("model", resp.Model).
		Int("promptTokens", resp.Usage.PromptTokens).
		Int("completionTokens", resp.Usage.CompletionTokens).
		Dur("took", time.Since(start)).
		Msg("completion done")
	return reply, nil
}

// ValidateKey checks key with a 5-token completion without storing it.
func (g *OpenAIGenerator) ValidateKey(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("api key is required")
	}
	_, err := g.newClient(key).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     g.opts.Model,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: validationPrompt}},
		MaxTokens: 5,
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// SetAPIKey validates key and, if it works, makes it the active key. A
// rejected key leaves the current configuration in place.
func (g *OpenAIGenerator) SetAPIKey(ctx context.Context, key string) error {
	if err := g.ValidateKey(ctx, key); err != nil {
		g.log.Warn().Err(err).Msg("api key rejected")
		return err
	}
	client := g.newClient(key)

	g.mu.Lock()
	g.client = client
	g.connected = true
	g.mu.Unlock()

	g.log.Info().Msg("api key accepted")
	return nil
}

// Disconnect forgets the active key.
func (g *OpenAIGenerator) Disconnect() {
	g.mu.Lock()
	g.client = nil
	g.connected = false
	g.mu.Unlock()
}

func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		be := &domain.BackendError{
			Provider:   providerOpenAI,
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
		}
		if apiErr.Code != nil {
			be.Code = fmt.Sprint(apiErr.Code)
		}
		return be
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &domain.BackendError{
			Provider:   providerOpenAI,
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("openai request: %w", err)
}
