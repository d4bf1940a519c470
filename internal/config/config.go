// Package config provides configuration loading and validation for the CLI and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/cv-customizer/internal/llm"
	"github.com/jonathan/cv-customizer/internal/schemas"
)

const (
	// DefaultTimeout bounds a single CLI customization
	DefaultTimeout = 3 * time.Minute
	// DefaultRequestTimeout bounds a single HTTP customization
	DefaultRequestTimeout = 2 * time.Minute
	// DefaultPort is the HTTP listen port
	DefaultPort = 8080
	// DefaultMaxBodyBytes caps the HTTP request body (document plus job description)
	DefaultMaxBodyBytes = 2 << 20
	// DefaultRateLimit is the number of customize requests per client per window
	DefaultRateLimit = 10
	// DefaultRateWindow is the rate limit window
	DefaultRateWindow = time.Minute
)

// Config represents the configuration that can be loaded from a JSON or YAML file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
type Config struct {
	// Model
	Provider        string   `json:"provider,omitempty"`
	Model           string   `json:"model,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"` // nil means provider default
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	BaseURL         string   `json:"base_url,omitempty"`
	APIKey          string   `json:"api_key,omitempty"`

	// Paths
	CV     string `json:"cv,omitempty"`      // Path to the LaTeX CV
	Job    string `json:"job,omitempty"`     // Path to job description text file
	JobURL string `json:"job_url,omitempty"` // URL to fetch job description from
	Out    string `json:"out,omitempty"`     // Output path, "-" for stdout

	// Behavior
	UseBrowser bool   `json:"use_browser,omitempty"` // Use headless browser for SPA sites
	Timeout    string `json:"timeout,omitempty"`     // Caller-side deadline, e.g. "3m"
	Verbose    bool   `json:"verbose,omitempty"`
	LogFormat  string `json:"log_format,omitempty"` // "text" or "json"

	Server ServerConfig `json:"server,omitempty"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port           int             `json:"port,omitempty"`
	RequestTimeout string          `json:"request_timeout,omitempty"`
	MaxBodyBytes   int64           `json:"max_body_bytes,omitempty"`
	RateLimit      RateLimitConfig `json:"rate_limit,omitempty"`
}

// RateLimitConfig configures inbound per-client rate limiting
type RateLimitConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Window  string `json:"window,omitempty"`
	Burst   int    `json:"burst,omitempty"`
}

// Default returns the built-in defaults
func Default() Config {
	return Config{
		Provider:        string(llm.ProviderOpenAI),
		MaxOutputTokens: llm.DefaultMaxOutputTokens,
		Out:             "customized_cv.tex",
		Timeout:         DefaultTimeout.String(),
		LogFormat:       "text",
		Server: ServerConfig{
			Port:           DefaultPort,
			RequestTimeout: DefaultRequestTimeout.String(),
			MaxBodyBytes:   DefaultMaxBodyBytes,
			RateLimit: RateLimitConfig{
				Limit:  DefaultRateLimit,
				Window: DefaultRateWindow.String(),
			},
		},
	}
}

// LoadConfig loads configuration from a JSON (.json) or YAML (.yaml, .yml) file.
// The raw document is checked against the embedded config schema before decoding.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q (expected .json, .yaml or .yml)", ext)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize config: %w", err)
	}
	if err := schemas.ValidateBytes(schemas.ConfigSchema, normalized); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(normalized, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are handled
// by CLI flag validation after merging.
func (c *Config) Validate() error {
	if c.Job != "" && c.JobURL != "" {
		return fmt.Errorf("config error: 'job' and 'job_url' are mutually exclusive")
	}

	if _, err := llm.ParseProvider(c.Provider); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("config error: 'temperature' must be between 0 and 2")
	}
	if c.MaxOutputTokens < 0 {
		return fmt.Errorf("config error: 'max_output_tokens' must be non-negative")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config error: 'server.port' must be between 0 and 65535")
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("config error: 'server.max_body_bytes' must be non-negative")
	}
	if c.Server.RateLimit.Limit < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("config error: 'server.rate_limit' values must be non-negative")
	}

	durations := map[string]string{
		"timeout":                  c.Timeout,
		"server.request_timeout":   c.Server.RequestTimeout,
		"server.rate_limit.window": c.Server.RateLimit.Window,
	}
	for name, value := range durations {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("config error: '%s': %w", name, err)
		}
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config error: 'log_format' must be text or json")
	}

	if c.CV != "" {
		if _, err := os.Stat(c.CV); os.IsNotExist(err) {
			return fmt.Errorf("config error: cv file not found: %s", c.CV)
		}
	}
	if c.Job != "" && c.Job != "-" {
		if _, err := os.Stat(c.Job); os.IsNotExist(err) {
			return fmt.Errorf("config error: job file not found: %s", c.Job)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with zero-valued fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Provider == "" {
		result.Provider = defaults.Provider
	}
	if result.Model == "" {
		result.Model = defaults.Model
	}
	if result.Temperature == nil && defaults.Temperature != nil {
		t := *defaults.Temperature
		result.Temperature = &t
	}
	if result.MaxOutputTokens == 0 {
		result.MaxOutputTokens = defaults.MaxOutputTokens
	}
	if result.BaseURL == "" {
		result.BaseURL = defaults.BaseURL
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.CV == "" {
		result.CV = defaults.CV
	}
	if result.Job == "" && result.JobURL == "" {
		result.Job = defaults.Job
		result.JobURL = defaults.JobURL
	}
	if result.Out == "" {
		result.Out = defaults.Out
	}
	if result.Timeout == "" {
		result.Timeout = defaults.Timeout
	}
	if result.LogFormat == "" {
		result.LogFormat = defaults.LogFormat
	}

	if result.Server.Port == 0 {
		result.Server.Port = defaults.Server.Port
	}
	if result.Server.RequestTimeout == "" {
		result.Server.RequestTimeout = defaults.Server.RequestTimeout
	}
	if result.Server.MaxBodyBytes == 0 {
		result.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}
	if result.Server.RateLimit.Limit == 0 {
		result.Server.RateLimit.Limit = defaults.Server.RateLimit.Limit
	}
	if result.Server.RateLimit.Window == "" {
		result.Server.RateLimit.Window = defaults.Server.RateLimit.Window
	}
	if result.Server.RateLimit.Burst == 0 {
		result.Server.RateLimit.Burst = defaults.Server.RateLimit.Burst
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// LLMConfig builds the generation backend configuration
func (c *Config) LLMConfig() (*llm.Config, error) {
	provider, err := llm.ParseProvider(c.Provider)
	if err != nil {
		return nil, err
	}
	cfg := llm.DefaultConfigFor(provider)
	if c.Model != "" {
		cfg = cfg.WithModel(c.Model)
	}
	if c.Temperature != nil {
		cfg.Temperature = *c.Temperature
	}
	if c.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = c.MaxOutputTokens
	}
	cfg.BaseURL = c.BaseURL
	return cfg, nil
}

// TimeoutDuration returns the CLI deadline, DefaultTimeout when unset
func (c *Config) TimeoutDuration() time.Duration {
	return durationOr(c.Timeout, DefaultTimeout)
}

// RequestTimeoutDuration returns the per-request HTTP deadline
func (s ServerConfig) RequestTimeoutDuration() time.Duration {
	return durationOr(s.RequestTimeout, DefaultRequestTimeout)
}

// WindowDuration returns the rate limit window
func (r RateLimitConfig) WindowDuration() time.Duration {
	return durationOr(r.Window, DefaultRateWindow)
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative: %s", value)
	}
	return d, nil
}

func durationOr(value string, fallback time.Duration) time.Duration {
	d, err := parseDuration(value)
	if err != nil || d == 0 {
		return fallback
	}
	return d
}
