package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedChatRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newOpenAITestServer(t *testing.T, status int, body string, captured *capturedChatRequest, authHeader *string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if authHeader != nil {
			*authHeader = r.Header.Get("Authorization")
		}
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func testRequest() *Request {
	return &Request{
		Params: Params{Model: "gpt-4.1", Temperature: 0.7, MaxOutputTokens: 8000},
		Messages: []Message{
			{Role: RoleSystem, Content: "You never fabricate."},
			{Role: RoleUser, Content: "Customize this CV."},
		},
	}
}

func TestOpenAIClient_Generate(t *testing.T) {
	var captured capturedChatRequest
	var auth string
	body := `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-4.1",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "\\documentclass{article}"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`
	server := newOpenAITestServer(t, http.StatusOK, body, &captured, &auth)

	client := NewOpenAIClient(&Config{Provider: ProviderOpenAI, BaseURL: server.URL + "/v1"}, "sk-test")
	text, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, `\documentclass{article}`, text)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4.1", captured.Model)
	assert.Equal(t, float32(0.7), captured.Temperature)
	assert.Equal(t, 8000, captured.MaxTokens)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "You never fabricate.", captured.Messages[0].Content)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.Equal(t, "Customize this CV.", captured.Messages[1].Content)
}

func TestOpenAIClient_APIError(t *testing.T) {
	body := `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`
	server := newOpenAITestServer(t, http.StatusUnauthorized, body, nil, nil)

	client := NewOpenAIClient(&Config{Provider: ProviderOpenAI, BaseURL: server.URL + "/v1"}, "sk-bad")
	_, err := client.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	body := `{"id": "chatcmpl-1", "object": "chat.completion", "created": 1700000000, "model": "gpt-4.1", "choices": []}`
	server := newOpenAITestServer(t, http.StatusOK, body, nil, nil)

	client := NewOpenAIClient(&Config{Provider: ProviderOpenAI, BaseURL: server.URL + "/v1"}, "sk-test")
	_, err := client.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIClient_Close(t *testing.T) {
	client := NewOpenAIClient(DefaultConfig(), "sk-test")
	assert.NoError(t, client.Close())
}

func TestOpenAIClient_Generate_ZeroTemperatureIsSent(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}]}`))
	}))
	t.Cleanup(server.Close)

	req := testRequest()
	req.Temperature = 0

	client := NewOpenAIClient(&Config{Provider: ProviderOpenAI, BaseURL: server.URL + "/v1"}, "sk-test")
	_, err := client.Generate(context.Background(), req)
	require.NoError(t, err)

	temperature, ok := raw["temperature"]
	require.True(t, ok, "temperature must be sent even when zero")
	value, ok := temperature.(float64)
	require.True(t, ok)
	assert.Greater(t, value, 0.0)
	assert.Less(t, value, 1e-6)
}
