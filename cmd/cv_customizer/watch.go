package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jonathan/cv-customizer/internal/config"
	"github.com/jonathan/cv-customizer/internal/customizer"
	"github.com/jonathan/cv-customizer/internal/jobsource"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run customize whenever the CV or job file changes",
	Long: `Runs customize once, then again after every saved change to the CV or the job description file.
Each run is an independent single call; earlier outputs are never fed back to the model.`,
	RunE: runWatch,
}

var (
	watchCV       string
	watchJob      string
	watchOut      string
	watchDebounce time.Duration
	watchModel    modelFlags
)

func init() {
	watchCmd.Flags().StringVar(&watchCV, "cv", "", "Path to the LaTeX CV")
	watchCmd.Flags().StringVarP(&watchJob, "job", "j", "", "Path to job description text file")
	watchCmd.Flags().StringVarP(&watchOut, "out", "o", customizer.DefaultFilename, "Output path")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before re-running after a change")
	watchModel.register(watchCmd)

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd, &watchModel, func(changed changedFunc, cfg *config.Config) {
		if changed("cv") {
			cfg.CV = watchCV
		}
		if changed("job") {
			cfg.Job = watchJob
			cfg.JobURL = ""
		}
		if changed("out") {
			cfg.Out = watchOut
		}
	})
	if err != nil {
		return err
	}
	if cfg.CV == "" || cfg.Job == "" || cfg.Job == jobsource.Stdin {
		return errors.New("watch needs --cv and a --job file")
	}
	if cfg.Out == "-" {
		return errors.New("watch cannot write to stdout; use --out with a file path")
	}

	engine, _, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	w := &fileWatcher{
		paths:    []string{cfg.CV, cfg.Job},
		debounce: watchDebounce,
		logger:   logger,
		run: func(ctx context.Context) error {
			result, err := customizeFromConfig(ctx, engine, cfg, nil, logger)
			if err != nil {
				return err
			}
			if err := writeDocument(cfg.Out, result.document, nil); err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"out":         cfg.Out,
				"annotations": len(customizer.ExtractAnnotations(result.document)),
				"duration_ms": result.elapsed.Milliseconds(),
			}).Info("customization complete")
			return nil
		},
	}
	return w.Watch(cmd.Context())
}

// fileWatcher calls run once, then again after each burst of changes to paths.
type fileWatcher struct {
	paths    []string
	debounce time.Duration
	run      func(ctx context.Context) error
	logger   *logrus.Logger
}

// Watch blocks until ctx is cancelled. Run failures are logged and watching continues.
func (w *fileWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer func() { _ = watcher.Close() }()

	// Directories are watched so editors that replace files on save are still seen.
	targets := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range w.paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve %s", p)
		}
		targets[abs] = true
		dir := filepath.Dir(abs)
		if !dirs[dir] {
			if err := watcher.Add(dir); err != nil {
				return errors.Wrapf(err, "failed to watch %s", dir)
			}
			dirs[dir] = true
		}
	}

	w.runOnce(ctx)

	debounce := w.debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(event.Name)] || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			w.logger.WithField("file", event.Name).Debug("change detected")
			timer.Reset(debounce)
		case <-timer.C:
			w.runOnce(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("file watcher error")
		}
	}
}

func (w *fileWatcher) runOnce(ctx context.Context) {
	if err := w.run(ctx); err != nil && ctx.Err() == nil {
		w.logger.WithError(err).Error("customization failed")
	}
}
