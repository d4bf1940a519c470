package customizer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jonathan/cv-customizer/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sampleDocument = `\documentclass{article}\begin{document}Experienced retail cashier.\end{document}`
	sampleJob      = "Software Engineer role requiring Python."
)

// mockBackend records every factory and Generate call
type mockBackend struct {
	mu          sync.Mutex
	response    string
	err         error
	factoryErr  error
	validKey    string
	apiKeys     []string
	requests    []*llm.Request
	closedCount int
}

func (m *mockBackend) factory(_ context.Context, apiKey string) (llm.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKeys = append(m.apiKeys, apiKey)
	if m.factoryErr != nil {
		return nil, m.factoryErr
	}
	return &mockClient{backend: m, apiKey: apiKey}, nil
}

func (m *mockBackend) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type mockClient struct {
	backend *mockBackend
	apiKey  string
}

func (c *mockClient) Generate(_ context.Context, req *llm.Request) (string, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.requests = append(c.backend.requests, req)
	if c.backend.validKey != "" && c.apiKey != c.backend.validKey {
		return "", errors.New("401 Unauthorized: invalid api key")
	}
	return c.backend.response, c.backend.err
}

func (c *mockClient) Close() error {
	c.backend.mu.Lock()
	c.backend.closedCount++
	c.backend.mu.Unlock()
	return nil
}

func newTestEngine(t *testing.T, backend *mockBackend, opts ...Option) *Engine {
	t.Helper()
	engine, err := New(backend.factory, opts...)
	require.NoError(t, err)
	return engine
}

func TestCustomize_EmptyDocument(t *testing.T) {
	for _, doc := range []string{"", "   ", "\n\t \n"} {
		backend := &mockBackend{response: "ok"}
		engine := newTestEngine(t, backend, WithCredentialProvider(StaticCredential("env-key")))

		_, err := engine.Customize(context.Background(), doc, sampleJob, "key")
		require.Error(t, err)

		var inputErr *InvalidInputError
		require.ErrorAs(t, err, &inputErr)
		assert.Equal(t, "document", inputErr.Field)
		assert.Equal(t, "document content cannot be empty", inputErr.Message)
		assert.Equal(t, 0, backend.calls())
		assert.Empty(t, backend.apiKeys)
	}
}

func TestCustomize_EmptyJobDescription(t *testing.T) {
	for _, job := range []string{"", "  \n "} {
		backend := &mockBackend{response: "ok"}
		engine := newTestEngine(t, backend)

		_, err := engine.Customize(context.Background(), sampleDocument, job, "key")

		var inputErr *InvalidInputError
		require.ErrorAs(t, err, &inputErr)
		assert.Equal(t, "job description cannot be empty", inputErr.Message)
		assert.Equal(t, 0, backend.calls())
	}
}

func TestCustomize_DocumentCheckedBeforeJobDescription(t *testing.T) {
	backend := &mockBackend{}
	engine := newTestEngine(t, backend)

	_, err := engine.Customize(context.Background(), "", "", "")

	var inputErr *InvalidInputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, "document", inputErr.Field)
}

func TestCustomize_MissingCredential(t *testing.T) {
	tests := []struct {
		name     string
		provider CredentialProvider
	}{
		{name: "no provider", provider: nil},
		{name: "empty provider", provider: StaticCredential("")},
		{name: "blank provider", provider: StaticCredential("   ")},
		{name: "unset env var", provider: EnvCredential("CV_CUSTOMIZER_TEST_UNSET_KEY")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{response: "ok"}
			engine := newTestEngine(t, backend, WithCredentialProvider(tt.provider))

			_, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "")

			var inputErr *InvalidInputError
			require.ErrorAs(t, err, &inputErr)
			assert.Equal(t, "credential is required", inputErr.Message)
			assert.Equal(t, 0, backend.calls())
			assert.Empty(t, backend.apiKeys)
		})
	}
}

func TestCustomize_ExplicitCredentialTakesPrecedence(t *testing.T) {
	backend := &mockBackend{response: "\\documentclass{article}", validKey: "explicit-key"}
	engine := newTestEngine(t, backend, WithCredentialProvider(StaticCredential("invalid-fallback")))

	result, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "explicit-key")
	require.NoError(t, err)
	assert.Equal(t, "\\documentclass{article}", result)
	assert.Equal(t, []string{"explicit-key"}, backend.apiKeys)
}

func TestCustomize_FallsBackToEnvironment(t *testing.T) {
	t.Setenv("CV_CUSTOMIZER_TEST_KEY", "env-key")
	backend := &mockBackend{response: "doc", validKey: "env-key"}
	engine := newTestEngine(t, backend, WithCredentialProvider(EnvCredential("CV_CUSTOMIZER_TEST_KEY")))

	result, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "")
	require.NoError(t, err)
	assert.Equal(t, "doc", result)
	assert.Equal(t, []string{"env-key"}, backend.apiKeys)
}

func TestCustomize_EndToEnd(t *testing.T) {
	backend := &mockBackend{
		response: "```latex\n\\documentclass{article}\n\\begin{document}\n% REMOVED: retail experience not relevant\nSeeking software engineering role.\n\\end{document}\n```",
	}
	engine := newTestEngine(t, backend)

	result, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "key")
	require.NoError(t, err)

	expected := "\\documentclass{article}\n\\begin{document}\n% REMOVED: retail experience not relevant\nSeeking software engineering role.\n\\end{document}"
	assert.Equal(t, expected, result)
	assert.NotEmpty(t, result)
	assert.NotContains(t, result, "```")
	assert.Equal(t, 1, backend.calls())
	assert.Equal(t, 1, backend.closedCount)
}

func TestCustomize_UnfencedResponsePassesThrough(t *testing.T) {
	raw := "\\documentclass{article}\n\\begin{document}\nHi\n\\end{document}\n"
	backend := &mockBackend{response: raw}
	engine := newTestEngine(t, backend)

	result, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "key")
	require.NoError(t, err)
	assert.Equal(t, raw, result)
}

func TestCustomize_SendsComposedRequest(t *testing.T) {
	backend := &mockBackend{response: "doc"}
	params := llm.Params{Model: "gpt-4.1", Temperature: 0.3, MaxOutputTokens: 4096}
	engine := newTestEngine(t, backend, WithParams(params))

	_, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "key")
	require.NoError(t, err)

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.Equal(t, params, req.Params)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "NEVER FABRICATE")
	assert.Equal(t, llm.RoleUser, req.Messages[1].Role)
	assert.Contains(t, req.Messages[1].Content, sampleDocument)
	assert.Contains(t, req.Messages[1].Content, sampleJob)
}

func TestCustomize_BackendError(t *testing.T) {
	backendErr := errors.New("authentication failed: invalid x-api-key")
	backend := &mockBackend{err: backendErr}
	engine := newTestEngine(t, backend)

	_, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "key")
	require.Error(t, err)

	var failure *BackendFailureError
	require.ErrorAs(t, err, &failure)
	assert.ErrorIs(t, err, backendErr)
	assert.Contains(t, err.Error(), "invalid x-api-key")
	assert.Equal(t, 1, backend.calls())
}

func TestCustomize_BackendFailurePropagatesUnchanged(t *testing.T) {
	original := &BackendFailureError{Message: "quota exceeded"}
	backend := &mockBackend{err: original}
	engine := newTestEngine(t, backend)

	_, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "key")

	var failure *BackendFailureError
	require.ErrorAs(t, err, &failure)
	assert.Same(t, original, failure)
	assert.Equal(t, "quota exceeded", failure.Message)
}

func TestCustomize_FactoryError(t *testing.T) {
	backend := &mockBackend{factoryErr: errors.New("dial tcp: connection refused")}
	engine := newTestEngine(t, backend)

	_, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "key")

	var failure *BackendFailureError
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCustomize_EmptyResponses(t *testing.T) {
	for _, raw := range []string{"", "  \n", "```latex\n```"} {
		backend := &mockBackend{response: raw}
		engine := newTestEngine(t, backend)

		_, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "key")

		var failure *BackendFailureError
		require.ErrorAs(t, err, &failure, "response %q", raw)
		assert.ErrorIs(t, err, llm.ErrEmptyResponse)
	}
}

func TestCustomize_EngineReusableAfterFailure(t *testing.T) {
	backend := &mockBackend{err: errors.New("rate limited")}
	engine := newTestEngine(t, backend)

	_, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "key")
	require.Error(t, err)

	backend.err = nil
	backend.response = "doc"
	result, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "key")
	require.NoError(t, err)
	assert.Equal(t, "doc", result)
}

func TestCustomize_ConcurrentCalls(t *testing.T) {
	backend := &mockBackend{response: "doc"}
	engine := newTestEngine(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := engine.Customize(context.Background(), sampleDocument, sampleJob, "key")
			assert.NoError(t, err)
			assert.Equal(t, "doc", result)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, backend.calls())
}

func TestNew_RequiresFactory(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestNew_LoadsEmbeddedPrompt(t *testing.T) {
	engine := newTestEngine(t, &mockBackend{})

	assert.Equal(t, "customize-cv/v1", engine.PromptVersion())
	assert.Equal(t, llm.DefaultConfig().Params(), engine.Params())
}

func TestBuildRequest_CustomPrompt(t *testing.T) {
	engine := newTestEngine(t, &mockBackend{}, WithPrompt(Prompt{
		Version:           "test/v0",
		SystemInstruction: "be honest",
		UserTemplate:      "CV={{.Document}} JD={{.JobDescription}}",
	}))

	req := engine.BuildRequest("my cv", "my job")
	assert.Equal(t, "be honest", req.Messages[0].Content)
	assert.Equal(t, "CV=my cv JD=my job", req.Messages[1].Content)
	assert.Equal(t, "test/v0", engine.PromptVersion())

	// A fresh request every time
	assert.NotSame(t, req, engine.BuildRequest("my cv", "my job"))
}
