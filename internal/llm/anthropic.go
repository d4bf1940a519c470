package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Client for the Anthropic Messages API
type AnthropicClient struct {
	client anthropic.Client
	config *Config
}

// NewAnthropicClient creates a new Anthropic client. SDK retries are disabled:
// a failed call is reported to the caller as-is.
func NewAnthropicClient(config *Config, apiKey string) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		config: config,
	}
}

// Generate sends the system instruction and user messages as one Messages call
func (c *AnthropicClient) Generate(ctx context.Context, req *Request) (string, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = c.config.GetModel()
	}

	system, rest := splitMessages(req.Messages)

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(modelName),
		MaxTokens:   int64(req.MaxOutputTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
		Messages:    messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create message: %w", err)
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text blocks in response (stop reason %s): %w", resp.StopReason, ErrEmptyResponse)
	}

	return strings.Join(parts, ""), nil
}

// Close is a no-op; the Anthropic client holds no long-lived resources
func (c *AnthropicClient) Close() error {
	return nil
}
