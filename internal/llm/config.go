// Package llm provides centralized LLM configuration and client abstractions.
// A Client sends one role-tagged request to a text-generation provider and returns its text.
package llm

import (
	"fmt"
	"strings"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderOpenAI is the OpenAI chat completions provider
	ProviderOpenAI Provider = "openai"
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
	// ProviderAnthropic is the Anthropic/Claude provider
	ProviderAnthropic Provider = "anthropic"
)

const (
	// DefaultTemperature leaves room for natural rewording while staying conservative
	DefaultTemperature float32 = 0.7
	// DefaultMaxOutputTokens is large enough for a full two-page LaTeX document
	DefaultMaxOutputTokens = 8000
)

// ParseProvider converts a user-supplied provider name into a Provider.
// An empty name selects ProviderOpenAI.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return ProviderOpenAI, nil
	case ProviderOpenAI, ProviderGemini, ProviderAnthropic:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider %q (expected openai, gemini or anthropic)", name)
	}
}

// CredentialEnvVar returns the environment variable holding the fallback API key for the provider.
func (p Provider) CredentialEnvVar() string {
	switch p {
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// DefaultModel returns the model identifier used for the provider when none is configured.
func (p Provider) DefaultModel() string {
	switch p {
	case ProviderGemini:
		return "gemini-2.5-pro"
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	default:
		return "gpt-4.1"
	}
}

// Config holds the model configuration for the application
type Config struct {
	Provider        Provider
	Model           string
	Temperature     float32
	MaxOutputTokens int
	// BaseURL overrides the provider endpoint (proxies, tests). Ignored by Gemini.
	BaseURL string
}

// DefaultConfig returns the default configuration (OpenAI)
func DefaultConfig() *Config {
	return DefaultConfigFor(ProviderOpenAI)
}

// DefaultConfigFor returns the default configuration for a provider
func DefaultConfigFor(provider Provider) *Config {
	return &Config{
		Provider:        provider,
		Model:           provider.DefaultModel(),
		Temperature:     DefaultTemperature,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
}

// GetModel returns the configured model, falling back to the provider default
func (c *Config) GetModel() string {
	if c.Model != "" {
		return c.Model
	}
	return c.Provider.DefaultModel()
}

// WithModel returns a new Config with a specific model
func (c *Config) WithModel(model string) *Config {
	newConfig := *c
	newConfig.Model = model
	return &newConfig
}

// Params returns the per-request generation parameters derived from the config.
func (c *Config) Params() Params {
	maxTokens := c.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	return Params{
		Model:           c.GetModel(),
		Temperature:     c.Temperature,
		MaxOutputTokens: maxTokens,
	}
}
