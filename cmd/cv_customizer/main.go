// Package main provides the cv_customizer command line: one-shot and batch CV
// customization, a file watcher, and the HTTP API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jonathan/cv-customizer/internal/config"
	"github.com/jonathan/cv-customizer/internal/customizer"
	"github.com/jonathan/cv-customizer/internal/logging"
)

var (
	configPath string
	verbose    bool
	logFormat  string

	// fileConfig holds values from --config; command flags override it.
	fileConfig config.Config
	logger     *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cv_customizer",
	Short: "Tailor a LaTeX CV to a job description with an LLM",
	Long: `cv_customizer rewrites a LaTeX CV for a specific job description in a single model call.
It never invents experience: content is selected, reworded and reordered, and changes are
annotated with LaTeX comments.

Configuration can be loaded from a JSON or YAML file using --config. Command-line flags
override config file values. API keys fall back to OPENAI_API_KEY, GEMINI_API_KEY or
ANTHROPIC_API_KEY depending on the provider; a .env file is loaded if present.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON or YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print detailed debug information")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format: text or json")
}

// setup loads the config file and builds the logger before any command runs.
func setup(cmd *cobra.Command, _ []string) error {
	fileConfig = config.Config{}
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return pkgerrors.Wrap(err, "failed to load config")
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		fileConfig = *loaded
	}

	if !cmd.Flags().Changed("verbose") && fileConfig.Verbose {
		verbose = true
	}
	if !cmd.Flags().Changed("log-format") && fileConfig.LogFormat != "" {
		logFormat = fileConfig.LogFormat
	}

	var err error
	logger, err = logging.New(cmd.ErrOrStderr(), verbose, logFormat)
	if err != nil {
		return err
	}
	if configPath != "" {
		logger.WithField("path", configPath).Debug("loaded config")
	}
	return nil
}

// exitCode distinguishes caller mistakes from backend failures.
func exitCode(err error) int {
	var invalid *customizer.InvalidInputError
	var backend *customizer.BackendFailureError
	switch {
	case errors.As(err, &invalid):
		return 2
	case errors.As(err, &backend):
		return 3
	default:
		return 1
	}
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
