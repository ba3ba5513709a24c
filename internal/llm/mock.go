package llm

import (
	"context"
	"sync"
)

// MockGenerator is a test double for Generator.
type MockGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)

	mu           sync.Mutex
	disconnected bool
	prompts      []string
}

func (m *MockGenerator) Name() string { return "mock" }

// SetConnected toggles what Connected reports.
func (m *MockGenerator) SetConnected(v bool) {
	m.mu.Lock()
	m.disconnected = !v
	m.mu.Unlock()
}

func (m *MockGenerator) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disconnected
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "mock reply to: " + prompt, nil
}

// Prompts returns every prompt seen so far, in call order.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
