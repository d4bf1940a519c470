package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jonathan/cv-customizer/internal/config"
	"github.com/jonathan/cv-customizer/internal/customizer"
	"github.com/jonathan/cv-customizer/internal/jobsource"
	"github.com/jonathan/cv-customizer/internal/llm"
)

// newFactory builds provider clients. Tests replace it with a fake backend.
var newFactory = llm.NewFactory

// modelFlags are the model selection flags shared by every command that calls the engine.
type modelFlags struct {
	apiKey      string
	provider    string
	model       string
	baseURL     string
	temperature float32
	maxTokens   int
}

func (m *modelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&m.apiKey, "api-key", "", "API key (optional, defaults to the provider's env var)")
	cmd.Flags().StringVar(&m.provider, "provider", "", "LLM provider: openai, gemini or anthropic (default openai)")
	cmd.Flags().StringVar(&m.model, "model", "", "Model name (default depends on provider)")
	cmd.Flags().StringVar(&m.baseURL, "base-url", "", "Override the provider endpoint")
	cmd.Flags().Float32Var(&m.temperature, "temperature", llm.DefaultTemperature, "Sampling temperature")
	cmd.Flags().IntVar(&m.maxTokens, "max-tokens", llm.DefaultMaxOutputTokens, "Maximum output tokens")
}

// apply copies explicitly set flags over cfg.
func (m *modelFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("api-key") {
		cfg.APIKey = m.apiKey
	}
	if flags.Changed("provider") {
		cfg.Provider = m.provider
	}
	if flags.Changed("model") {
		cfg.Model = m.model
	}
	if flags.Changed("base-url") {
		cfg.BaseURL = m.baseURL
	}
	if flags.Changed("temperature") {
		t := m.temperature
		cfg.Temperature = &t
	}
	if flags.Changed("max-tokens") {
		cfg.MaxOutputTokens = m.maxTokens
	}
}

// resolveConfig layers command flags over the config file, fills defaults and validates.
func resolveConfig(cmd *cobra.Command, models *modelFlags, overrides func(flags changedFunc, cfg *config.Config)) (config.Config, error) {
	cfg := fileConfig
	if models != nil {
		models.apply(cmd, &cfg)
	}
	if overrides != nil {
		overrides(cmd.Flags().Changed, &cfg)
	}

	merged := cfg.MergeWithDefaults(config.Default())
	// A URL passed as the job file is fetched the same way as --job-url.
	if merged.JobURL == "" && jobsource.IsURL(merged.Job) {
		merged.JobURL, merged.Job = strings.TrimSpace(merged.Job), ""
	}
	if err := merged.Validate(); err != nil {
		return merged, err
	}
	return merged, nil
}

type changedFunc func(name string) bool

// buildEngine creates the engine for cfg. The provider's env var is the credential fallback.
func buildEngine(cfg config.Config) (*customizer.Engine, *llm.Config, error) {
	llmCfg, err := cfg.LLMConfig()
	if err != nil {
		return nil, nil, err
	}

	engine, err := customizer.New(
		newFactory(llmCfg),
		customizer.WithParams(llmCfg.Params()),
		customizer.WithCredentialProvider(customizer.EnvCredential(llmCfg.Provider.CredentialEnvVar())),
	)
	if err != nil {
		return nil, nil, err
	}
	return engine, llmCfg, nil
}

// loadJob returns the job description text and a label for where it came from.
func loadJob(ctx context.Context, cfg config.Config, stdin io.Reader, log *logrus.Logger) (string, string, error) {
	switch {
	case cfg.JobURL != "":
		text, err := jobsource.NewFetcher(log, cfg.UseBrowser).FromURL(ctx, cfg.JobURL)
		if err != nil {
			return "", cfg.JobURL, errors.Wrap(err, "failed to fetch job description")
		}
		return text, cfg.JobURL, nil
	case cfg.Job != "":
		text, err := jobsource.FromFile(cfg.Job, stdin)
		if err != nil {
			return "", cfg.Job, errors.Wrap(err, "failed to read job description")
		}
		return text, cfg.Job, nil
	default:
		return "", "", errors.New("either --job or --job-url must be provided (via flag or config)")
	}
}

func readCV(path string) (string, error) {
	if path == "" {
		return "", errors.New("--cv must be provided (via flag or config)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read CV %s", path)
	}
	return string(data), nil
}

// writeDocument writes the customized CV to path, or to stdout when path is "-".
func writeDocument(path, document string, stdout io.Writer) error {
	if path == "-" {
		_, err := io.WriteString(stdout, document)
		return errors.Wrap(err, "failed to write document to stdout")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create output directory %s", dir)
		}
	}
	if err := os.WriteFile(path, []byte(document), 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// customization is the outcome of one engine call driven by the CLI.
type customization struct {
	document  string
	jobSource string
	cvBytes   int
	jobBytes  int
	elapsed   time.Duration
}

// customizeFromConfig reads the CV and job description named by cfg and makes one engine call
// bounded by cfg's timeout.
func customizeFromConfig(ctx context.Context, engine *customizer.Engine, cfg config.Config, stdin io.Reader, log *logrus.Logger) (*customization, error) {
	cv, err := readCV(cfg.CV)
	if err != nil {
		return nil, err
	}
	job, source, err := loadJob(ctx, cfg, stdin, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.TimeoutDuration())
	defer cancel()

	start := time.Now()
	document, err := engine.Customize(ctx, cv, job, cfg.APIKey)
	if err != nil {
		return nil, errors.Wrap(err, "customization failed")
	}

	return &customization{
		document:  document,
		jobSource: source,
		cvBytes:   len(cv),
		jobBytes:  len(job),
		elapsed:   time.Since(start),
	}, nil
}
