package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role tags a message with the part it plays in the conversation
type Role string

const (
	// RoleSystem carries the behavioral instruction
	RoleSystem Role = "system"
	// RoleUser carries the task input
	RoleUser Role = "user"
)

// Message is a single role-tagged message
type Message struct {
	Role    Role
	Content string
}

// Params are the generation settings sent with every request
type Params struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int
}

// Request is one generation call: ordered messages plus generation settings
type Request struct {
	Params
	Messages []Message
}

// ErrEmptyResponse is returned when a provider answers without any text
var ErrEmptyResponse = errors.New("empty response from LLM")

// Client is an abstraction over LLM providers
type Client interface {
	// Generate sends the request and returns the generated text. It never retries.
	Generate(ctx context.Context, req *Request) (string, error)
	// Close releases any resources held by the client
	Close() error
}

// Factory builds a Client authenticated with apiKey
type Factory func(ctx context.Context, apiKey string) (Client, error)

// NewFactory returns a Factory producing clients for the configured provider
func NewFactory(config *Config) Factory {
	if config == nil {
		config = DefaultConfig()
	}
	return func(ctx context.Context, apiKey string) (Client, error) {
		return NewClient(ctx, config, apiKey)
	}
}

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, config, apiKey)
	case ProviderAnthropic:
		return NewAnthropicClient(config, apiKey), nil
	case ProviderOpenAI, "":
		return NewOpenAIClient(config, apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", config.Provider)
	}
}

// splitMessages separates the system instruction from the remaining messages.
// Multiple system messages are joined with a blank line.
func splitMessages(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
