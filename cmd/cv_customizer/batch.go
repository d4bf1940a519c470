package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/cv-customizer/internal/config"
	"github.com/jonathan/cv-customizer/internal/customizer"
	"github.com/jonathan/cv-customizer/internal/jobsource"
	"github.com/jonathan/cv-customizer/internal/observability"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Tailor one CV to many job descriptions",
	Long: `Runs one independent customization per job description file matched by --jobs.
Patterns support ** (e.g. "jobs/**/*.txt"). Each output is written to --out-dir as <job name>.tex.
A failed job does not stop the others; the command exits non-zero if any job failed.`,
	RunE: runBatch,
}

var (
	batchCV          string
	batchJobs        []string
	batchOutDir      string
	batchConcurrency int
	batchTimeout     time.Duration
	batchModel       modelFlags
)

func init() {
	batchCmd.Flags().StringVar(&batchCV, "cv", "", "Path to the LaTeX CV")
	batchCmd.Flags().StringSliceVar(&batchJobs, "jobs", nil, "Glob patterns for job description files (repeatable)")
	batchCmd.Flags().StringVar(&batchOutDir, "out-dir", "customized", "Directory for customized CVs")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 4, "Maximum concurrent model calls")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", config.DefaultTimeout, "Deadline for each job")
	batchModel.register(batchCmd)

	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd, &batchModel, func(changed changedFunc, cfg *config.Config) {
		if changed("cv") {
			cfg.CV = batchCV
		}
		if changed("timeout") {
			cfg.Timeout = batchTimeout.String()
		}
	})
	if err != nil {
		return err
	}

	jobs, err := expandJobPatterns(batchJobs)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return errors.New("no job description files matched --jobs")
	}

	cv, err := readCV(cfg.CV)
	if err != nil {
		return err
	}

	engine, llmCfg, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"jobs":        len(jobs),
		"concurrency": batchConcurrency,
		"provider":    llmCfg.Provider,
		"model":       llmCfg.GetModel(),
	}).Info("starting batch")

	results := runBatchJobs(cmd.Context(), engine, batchRun{
		cv:          cv,
		jobs:        jobs,
		outDir:      batchOutDir,
		concurrency: batchConcurrency,
		timeout:     cfg.TimeoutDuration(),
		apiKey:      cfg.APIKey,
	})

	observability.NewPrinter(cmd.ErrOrStderr()).PrintBatchResults(results)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d jobs failed", failed, len(results))
	}
	return nil
}

// batchRun describes one batch invocation
type batchRun struct {
	cv          string
	jobs        []string
	outDir      string
	concurrency int
	timeout     time.Duration
	apiKey      string
}

// runBatchJobs customizes the CV for every job with at most run.concurrency calls in flight.
// Results are returned in job order.
func runBatchJobs(ctx context.Context, engine *customizer.Engine, run batchRun) []observability.JobResult {
	outputs := outputPaths(run.outDir, run.jobs)
	results := make([]observability.JobResult, len(run.jobs))

	limit := run.concurrency
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range run.jobs {
		g.Go(func() error {
			start := time.Now()
			err := customizeJobFile(ctx, engine, run, job, outputs[i])
			results[i] = observability.JobResult{
				Job:        job,
				OutputPath: outputs[i],
				Elapsed:    time.Since(start),
				Err:        err,
			}

			log := logger.WithFields(logrus.Fields{"job": job, "duration_ms": results[i].Elapsed.Milliseconds()})
			if err != nil {
				log.WithError(err).Warn("job failed")
			} else {
				log.WithField("out", outputs[i]).Info("job complete")
			}
			// Failures are reported per job, never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func customizeJobFile(ctx context.Context, engine *customizer.Engine, run batchRun, job, out string) error {
	text, err := jobsource.FromFile(job, nil)
	if err != nil {
		return err
	}

	if run.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, run.timeout)
		defer cancel()
	}

	document, err := engine.Customize(ctx, run.cv, text, run.apiKey)
	if err != nil {
		return err
	}
	return writeDocument(out, document, nil)
}

// expandJobPatterns resolves glob patterns to a sorted, de-duplicated file list.
func expandJobPatterns(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, errors.New("--jobs must be provided")
	}

	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pattern %q", pattern)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// outputPaths maps each job file to <outDir>/<stem>.tex, suffixing repeated stems.
func outputPaths(outDir string, jobs []string) []string {
	used := make(map[string]int)
	paths := make([]string, len(jobs))
	for i, job := range jobs {
		stem := strings.TrimSuffix(filepath.Base(job), filepath.Ext(job))
		used[stem]++
		if n := used[stem]; n > 1 {
			stem = fmt.Sprintf("%s-%d", stem, n)
		}
		paths[i] = filepath.Join(outDir, stem+".tex")
	}
	return paths
}
