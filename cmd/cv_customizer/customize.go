package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jonathan/cv-customizer/internal/config"
	"github.com/jonathan/cv-customizer/internal/customizer"
	"github.com/jonathan/cv-customizer/internal/observability"
)

var customizeCmd = &cobra.Command{
	Use:   "customize",
	Short: "Tailor a LaTeX CV to one job description",
	Long: `Reads a LaTeX CV and a job description (file, stdin or URL), makes one model call and
writes the customized LaTeX document. Nothing is retried; a failed call exits non-zero.

Example:
  cv_customizer customize --cv cv.tex --job job.txt
  cv_customizer customize --cv cv.tex --job-url https://jobs.lever.co/acme/123 --out -
  pbpaste | cv_customizer customize --cv cv.tex --job - --provider anthropic`,
	RunE: runCustomize,
}

var (
	customizeCV         string
	customizeJob        string
	customizeJobURL     string
	customizeOut        string
	customizeUseBrowser bool
	customizeTimeout    time.Duration
	customizeModel      modelFlags
)

func init() {
	customizeCmd.Flags().StringVar(&customizeCV, "cv", "", "Path to the LaTeX CV")
	customizeCmd.Flags().StringVarP(&customizeJob, "job", "j", "", "Path to job description text file, - for stdin (mutually exclusive with --job-url)")
	customizeCmd.Flags().StringVar(&customizeJobURL, "job-url", "", "URL to fetch job description from (mutually exclusive with --job)")
	customizeCmd.Flags().StringVarP(&customizeOut, "out", "o", customizer.DefaultFilename, "Output path, - for stdout")
	customizeCmd.Flags().BoolVar(&customizeUseBrowser, "use-browser", false, "Use headless browser for SPA job pages (requires Chrome)")
	customizeCmd.Flags().DurationVar(&customizeTimeout, "timeout", config.DefaultTimeout, "Deadline for the whole customization")
	customizeModel.register(customizeCmd)

	rootCmd.AddCommand(customizeCmd)
}

// applyJobFlags sets the job source from flags. Setting either flag replaces both config values.
func applyJobFlags(changed changedFunc, cfg *config.Config, job, jobURL string) {
	if changed("job") || changed("job-url") {
		cfg.Job = job
		cfg.JobURL = jobURL
	}
}

func runCustomize(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd, &customizeModel, func(changed changedFunc, cfg *config.Config) {
		if changed("cv") {
			cfg.CV = customizeCV
		}
		applyJobFlags(changed, cfg, customizeJob, customizeJobURL)
		if changed("out") {
			cfg.Out = customizeOut
		}
		if changed("use-browser") {
			cfg.UseBrowser = customizeUseBrowser
		}
		if changed("timeout") {
			cfg.Timeout = customizeTimeout.String()
		}
	})
	if err != nil {
		return err
	}

	engine, llmCfg, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	result, err := customizeFromConfig(cmd.Context(), engine, cfg, cmd.InOrStdin(), logger)
	if err != nil {
		return err
	}

	if err := writeDocument(cfg.Out, result.document, cmd.OutOrStdout()); err != nil {
		return err
	}

	annotations := customizer.ExtractAnnotations(result.document)
	logger.WithFields(logrus.Fields{
		"provider":     llmCfg.Provider,
		"model":        llmCfg.GetModel(),
		"job":          result.jobSource,
		"out":          cfg.Out,
		"output_bytes": len(result.document),
		"annotations":  len(annotations),
		"duration_ms":  result.elapsed.Milliseconds(),
	}).Info("customization complete")

	if verbose {
		observability.NewPrinter(cmd.ErrOrStderr()).PrintCustomization(observability.Summary{
			Provider:      string(llmCfg.Provider),
			Model:         llmCfg.GetModel(),
			PromptVersion: engine.PromptVersion(),
			JobSource:     result.jobSource,
			OutputPath:    cfg.Out,
			DocumentBytes: result.cvBytes,
			JobBytes:      result.jobBytes,
			OutputBytes:   len(result.document),
			Elapsed:       result.elapsed,
			Annotations:   annotations,
		})
	}
	return nil
}
