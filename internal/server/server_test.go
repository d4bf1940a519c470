package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cv-customizer/internal/customizer"
	"github.com/jonathan/cv-customizer/internal/llm"
	"github.com/jonathan/cv-customizer/internal/logging"
	"github.com/jonathan/cv-customizer/internal/server/ratelimit"
)

const (
	testDocument = `\documentclass{article}\begin{document}Retail cashier.\end{document}`
	testJob      = "Software Engineer role requiring Python."
	testOutput   = "\\documentclass{article}\n% REMOVED: retail experience\n\\begin{document}\\end{document}"
)

// stubLLM answers every Generate call with a fixed response
type stubLLM struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	apiKeys  []string
	calls    int
}

func (s *stubLLM) factory(_ context.Context, apiKey string) (llm.Client, error) {
	s.mu.Lock()
	s.apiKeys = append(s.apiKeys, apiKey)
	s.mu.Unlock()
	return s, nil
}

func (s *stubLLM) Generate(ctx context.Context, _ *llm.Request) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.response, s.err
}

func (s *stubLLM) Close() error { return nil }

func (s *stubLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestServer(t *testing.T, stub *stubLLM, cfg Config, credential string) *Server {
	t.Helper()
	engine, err := customizer.New(stub.factory, customizer.WithCredentialProvider(customizer.StaticCredential(credential)))
	require.NoError(t, err)

	s, err := New(engine, cfg, logging.Discard())
	require.NoError(t, err)
	return s
}

func doRequest(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func customizeBody(document, job string) string {
	data, _ := json.Marshal(CustomizeRequest{Document: document, JobDescription: job})
	return string(data)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &stubLLM{}, Config{}, "")

	w := doRequest(s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "customize-cv/v1", resp["prompt_version"])
}

func TestCustomize_Success(t *testing.T) {
	stub := &stubLLM{response: "```latex\n" + testOutput + "\n```"}
	s := newTestServer(t, stub, Config{}, "env-key")

	w := doRequest(s, http.MethodPost, "/v1/customize", customizeBody(testDocument, testJob), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp CustomizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testOutput, resp.Document)
	assert.Equal(t, "customized_cv.tex", resp.Filename)
	assert.Equal(t, "customize-cv/v1", resp.PromptVersion)
	require.Len(t, resp.Annotations, 1)
	assert.Equal(t, "REMOVED", resp.Annotations[0].Kind)

	assert.Equal(t, 1, stub.callCount())
	assert.Equal(t, []string{"env-key"}, stub.apiKeys)
}

func TestCustomize_TrailingSlash(t *testing.T) {
	s := newTestServer(t, &stubLLM{response: testOutput}, Config{}, "env-key")

	w := doRequest(s, http.MethodPost, "/v1/customize/", customizeBody(testDocument, testJob), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCustomize_ExplicitKeyHeaderWins(t *testing.T) {
	stub := &stubLLM{response: testOutput}
	s := newTestServer(t, stub, Config{}, "env-key")

	w := doRequest(s, http.MethodPost, "/v1/customize", customizeBody(testDocument, testJob),
		map[string]string{APIKeyHeader: "header-key"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"header-key"}, stub.apiKeys)
}

func TestCustomize_Download(t *testing.T) {
	s := newTestServer(t, &stubLLM{response: testOutput}, Config{}, "env-key")

	w := doRequest(s, http.MethodPost, "/v1/customize/download", customizeBody(testDocument, testJob), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-tex", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="customized_cv.tex"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, testOutput, w.Body.String())
}

func TestCustomize_InvalidInputMapsTo400(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		credential string
		wantField  string
	}{
		{name: "blank document", body: customizeBody("   ", testJob), credential: "env-key", wantField: "document"},
		{name: "blank job", body: customizeBody(testDocument, ""), credential: "env-key", wantField: "job_description"},
		{name: "missing credential", body: customizeBody(testDocument, testJob), credential: "", wantField: "credential"},
		{name: "malformed JSON", body: `{"document":`, credential: "env-key", wantField: "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubLLM{response: testOutput}
			s := newTestServer(t, stub, Config{}, tt.credential)

			w := doRequest(s, http.MethodPost, "/v1/customize", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "invalid_input", resp.Error)
			assert.NotEmpty(t, resp.RequestID)
			assert.Equal(t, 0, stub.callCount(), "no model call on invalid input")
		})
	}
}

func TestCustomize_OversizedFieldRejected(t *testing.T) {
	stub := &stubLLM{response: testOutput}
	s := newTestServer(t, stub, Config{MaxBodyBytes: 4 << 20}, "env-key")

	w := doRequest(s, http.MethodPost, "/v1/customize", customizeBody(testDocument, strings.Repeat("x", 262145)), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "job_description")
	assert.Equal(t, 0, stub.callCount())
}

func TestCustomize_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, &stubLLM{response: testOutput}, Config{MaxBodyBytes: 64}, "env-key")

	w := doRequest(s, http.MethodPost, "/v1/customize", customizeBody(testDocument, testJob), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCustomize_BackendFailureMapsTo502(t *testing.T) {
	stub := &stubLLM{err: errors.New("429 Too Many Requests")}
	s := newTestServer(t, stub, Config{}, "env-key")

	w := doRequest(s, http.MethodPost, "/v1/customize", customizeBody(testDocument, testJob), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "backend_failure", resp.Error)
	assert.Contains(t, resp.Message, "429")
	assert.Equal(t, 1, stub.callCount(), "backend failures are not retried")
}

func TestCustomize_TimeoutMapsTo504(t *testing.T) {
	stub := &stubLLM{response: testOutput, delay: time.Second}
	s := newTestServer(t, stub, Config{RequestTimeout: 20 * time.Millisecond}, "env-key")

	w := doRequest(s, http.MethodPost, "/v1/customize", customizeBody(testDocument, testJob), nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestCustomize_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &stubLLM{}, Config{}, "env-key")

	w := doRequest(s, http.MethodGet, "/v1/customize", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRateLimit_Returns429AfterBurst(t *testing.T) {
	stub := &stubLLM{response: testOutput}
	rl := &ratelimit.Config{
		Enabled:         true,
		EndpointConfigs: ratelimit.CustomizeEndpointConfigs(2, time.Hour, 2),
	}
	s := newTestServer(t, stub, Config{RateLimit: rl}, "env-key")

	for i := 0; i < 2; i++ {
		w := doRequest(s, http.MethodPost, "/v1/customize", customizeBody(testDocument, testJob), nil)
		require.Equal(t, http.StatusOK, w.Code, fmt.Sprintf("request %d", i+1))
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := doRequest(s, http.MethodPost, "/v1/customize", customizeBody(testDocument, testJob), nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, 2, stub.callCount(), "rejected requests never reach the model")

	// Health is not limited
	assert.Equal(t, http.StatusOK, doRequest(s, http.MethodGet, "/health", "", nil).Code)
}

func TestRateLimit_DownloadSharesCustomizeBudget(t *testing.T) {
	stub := &stubLLM{response: testOutput}
	rl := &ratelimit.Config{
		Enabled:         true,
		EndpointConfigs: ratelimit.CustomizeEndpointConfigs(1, time.Hour, 1),
	}
	s := newTestServer(t, stub, Config{RateLimit: rl}, "env-key")

	w := doRequest(s, http.MethodPost, "/v1/customize", customizeBody(testDocument, testJob), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodPost, "/v1/customize/download", customizeBody(testDocument, testJob), nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 1, stub.callCount())
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, &stubLLM{}, Config{}, "")

	w := doRequest(s, http.MethodGet, "/health", "", nil)
	_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
	assert.NoError(t, err)

	id := uuid.New().String()
	w = doRequest(s, http.MethodGet, "/health", "", map[string]string{RequestIDHeader: id})
	assert.Equal(t, id, w.Header().Get(RequestIDHeader))

	w = doRequest(s, http.MethodGet, "/health", "", map[string]string{RequestIDHeader: "not-a-uuid"})
	assert.NotEqual(t, "not-a-uuid", w.Header().Get(RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &stubLLM{}, Config{}, "")

	w := doRequest(s, http.MethodOptions, "/v1/customize", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), APIKeyHeader)
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(nil, Config{}, logging.Discard())
	assert.Error(t, err)
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	s := newTestServer(t, &stubLLM{}, Config{Port: 0}, "")
	s.httpServer.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
