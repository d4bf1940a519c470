package main

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jonathan/cv-customizer/internal/config"
	"github.com/jonathan/cv-customizer/internal/server"
	"github.com/jonathan/cv-customizer/internal/server/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server exposing POST /v1/customize (JSON) and POST /v1/customize/download (LaTeX file).
Callers may pass their own key in the X-API-Key header; otherwise the provider's env var is used.`,
	RunE: runServe,
}

var (
	servePort      int
	serveRateLimit bool
	serveModel     modelFlags
)

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveRateLimit, "rate-limit", false, "Limit customize requests per client IP")
	serveModel.register(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd, &serveModel, func(changed changedFunc, cfg *config.Config) {
		if changed("port") {
			cfg.Server.Port = servePort
		}
		if changed("rate-limit") {
			cfg.Server.RateLimit.Enabled = serveRateLimit
		}
	})
	if err != nil {
		return err
	}

	engine, llmCfg, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(engine, serverConfig(cfg), logger)
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}

	logger.WithFields(logrus.Fields{
		"provider":       llmCfg.Provider,
		"model":          llmCfg.GetModel(),
		"prompt_version": engine.PromptVersion(),
		"rate_limit":     cfg.Server.RateLimit.Enabled,
	}).Info("customization engine ready")

	return srv.Start(cmd.Context())
}

func serverConfig(cfg config.Config) server.Config {
	rl := cfg.Server.RateLimit
	return server.Config{
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeoutDuration(),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RateLimit:      ratelimit.NewConfig(rl.Enabled, rl.Limit, rl.WindowDuration(), rl.Burst),
	}
}
