// Package customizer tailors a LaTeX CV to a job description with a single LLM call.
//
// The Engine validates its inputs, composes a system instruction and a user message,
// makes exactly one generation request and strips an enclosing code fence from the
// answer. It holds no per-call state, never retries and never logs; callers own
// timeouts, logging and what happens to the returned document.
package customizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/cv-customizer/internal/llm"
	"github.com/jonathan/cv-customizer/internal/prompts"
)

const (
	// DefaultFilename is the file name callers offer the customized CV under
	DefaultFilename = "customized_cv.tex"
	// MIMEType is the media type of a LaTeX source document
	MIMEType = "application/x-tex"
)

// Prompt is the versioned behavioral contract sent with every request.
type Prompt struct {
	Version           string
	SystemInstruction string
	// UserTemplate contains {{.Document}} and {{.JobDescription}} placeholders.
	UserTemplate string
}

// DefaultPrompt loads the embedded customization prompt.
func DefaultPrompt() (Prompt, error) {
	var p Prompt
	var err error
	if p.Version, err = prompts.Get(prompts.CustomizationFile, prompts.KeyVersion); err != nil {
		return Prompt{}, err
	}
	if p.SystemInstruction, err = prompts.Get(prompts.CustomizationFile, prompts.KeySystemInstruction); err != nil {
		return Prompt{}, err
	}
	if p.UserTemplate, err = prompts.Get(prompts.CustomizationFile, prompts.KeyUserMessage); err != nil {
		return Prompt{}, err
	}
	return p, nil
}

// Engine customizes CVs. It is safe for concurrent use.
type Engine struct {
	factory     llm.Factory
	params      llm.Params
	prompt      Prompt
	credentials CredentialProvider
}

// Option configures an Engine
type Option func(*Engine)

// WithParams sets the model, temperature and output ceiling.
func WithParams(params llm.Params) Option {
	return func(e *Engine) { e.params = params }
}

// WithPrompt replaces the embedded prompt.
func WithPrompt(p Prompt) Option {
	return func(e *Engine) { e.prompt = p }
}

// WithCredentialProvider sets the fallback used when Customize receives no credential.
func WithCredentialProvider(p CredentialProvider) Option {
	return func(e *Engine) { e.credentials = p }
}

// New creates an Engine that builds backend clients with factory.
// Without WithPrompt the embedded prompt is used; without WithParams the
// default OpenAI parameters apply.
func New(factory llm.Factory, opts ...Option) (*Engine, error) {
	if factory == nil {
		return nil, fmt.Errorf("llm factory is required")
	}

	e := &Engine{
		factory: factory,
		params:  llm.DefaultConfig().Params(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.prompt.SystemInstruction == "" {
		p, err := DefaultPrompt()
		if err != nil {
			return nil, fmt.Errorf("failed to load customization prompt: %w", err)
		}
		e.prompt = p
	}

	return e, nil
}

// PromptVersion identifies the behavioral contract in use.
func (e *Engine) PromptVersion() string {
	return e.prompt.Version
}

// Params returns the generation parameters sent with every request.
func (e *Engine) Params() llm.Params {
	return e.params
}

// Customize rewrites document for jobDescription. An empty credential falls back to
// the engine's CredentialProvider.
//
// Errors are *InvalidInputError (no backend call made) or *BackendFailureError.
func (e *Engine) Customize(ctx context.Context, document, jobDescription, credential string) (string, error) {
	if strings.TrimSpace(document) == "" {
		return "", &InvalidInputError{Field: "document", Message: "document content cannot be empty"}
	}
	if strings.TrimSpace(jobDescription) == "" {
		return "", &InvalidInputError{Field: "job_description", Message: "job description cannot be empty"}
	}
	apiKey := resolveCredential(credential, e.credentials)
	if apiKey == "" {
		return "", &InvalidInputError{Field: "credential", Message: "credential is required"}
	}

	req := e.BuildRequest(document, jobDescription)

	client, err := e.factory(ctx, apiKey)
	if err != nil {
		return "", &BackendFailureError{Message: "failed to create LLM client", Cause: err}
	}
	defer func() { _ = client.Close() }()

	raw, err := client.Generate(ctx, req)
	if err != nil {
		var backendErr *BackendFailureError
		if errors.As(err, &backendErr) {
			return "", err
		}
		return "", &BackendFailureError{Message: "failed to generate content from LLM", Cause: err}
	}
	if strings.TrimSpace(raw) == "" {
		return "", &BackendFailureError{Message: "LLM returned an empty response", Cause: llm.ErrEmptyResponse}
	}

	customized := StripCodeFence(raw)
	if strings.TrimSpace(customized) == "" {
		return "", &BackendFailureError{Message: "LLM response contained no document", Cause: llm.ErrEmptyResponse}
	}

	return customized, nil
}

// BuildRequest composes the system instruction and user message for one call.
// A fresh request is built every time.
func (e *Engine) BuildRequest(document, jobDescription string) *llm.Request {
	userMessage := prompts.Format(e.prompt.UserTemplate, map[string]string{
		"Document":       document,
		"JobDescription": jobDescription,
	})

	return &llm.Request{
		Params: e.params,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: e.prompt.SystemInstruction},
			{Role: llm.RoleUser, Content: userMessage},
		},
	}
}
