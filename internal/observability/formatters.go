// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/cv-customizer/internal/customizer"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 8
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Summary describes one finished customization
type Summary struct {
	Provider      string
	Model         string
	PromptVersion string
	JobSource     string
	OutputPath    string
	DocumentBytes int
	JobBytes      int
	OutputBytes   int
	Elapsed       time.Duration
	Annotations   []customizer.Annotation
}

// JobResult is the outcome of one job in a batch run
type JobResult struct {
	Job        string
	OutputPath string
	Elapsed    time.Duration
	Err        error
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintCustomization outputs the audit summary of a customization:
// model, prompt version, sizes and the annotations the model left in the document.
func (p *Printer) PrintCustomization(s Summary) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Model:    %s/%s\n", s.Provider, s.Model))
	sb.WriteString(fmt.Sprintf("Prompt:   %s\n", s.PromptVersion))
	if s.JobSource != "" {
		sb.WriteString(fmt.Sprintf("Job:      %s\n", s.JobSource))
	}
	if s.OutputPath != "" {
		sb.WriteString(fmt.Sprintf("Output:   %s\n", s.OutputPath))
	}
	sb.WriteString(fmt.Sprintf("Sizes:    CV %s, job %s -> %s\n",
		formatBytes(s.DocumentBytes), formatBytes(s.JobBytes), formatBytes(s.OutputBytes)))
	sb.WriteString(fmt.Sprintf("Elapsed:  %s\n", s.Elapsed.Round(100*time.Millisecond)))

	if len(s.Annotations) == 0 {
		sb.WriteString("\nNo annotations in output")
	} else {
		sb.WriteString(fmt.Sprintf("\nAnnotations (%s):\n", formatCounts(customizer.CountByKind(s.Annotations))))
		count := min(len(s.Annotations), maxItemsToShow)
		for i := 0; i < count; i++ {
			a := s.Annotations[i]
			sb.WriteString(fmt.Sprintf("  L%-4d %s: %s\n", a.Line, a.Kind, a.Text))
		}
		if len(s.Annotations) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(s.Annotations)-maxItemsToShow))
		}
	}

	p.printBox("CV CUSTOMIZATION", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintBatchResults outputs one line per job and a success count.
func (p *Printer) PrintBatchResults(results []JobResult) {
	if len(results) == 0 {
		return
	}

	var sb strings.Builder
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			sb.WriteString(fmt.Sprintf("✗ %s: %v\n", r.Job, r.Err))
			continue
		}
		sb.WriteString(fmt.Sprintf("✓ %s -> %s (%s)\n", r.Job, r.OutputPath, r.Elapsed.Round(100*time.Millisecond)))
	}
	sb.WriteString(fmt.Sprintf("\n%d succeeded, %d failed", len(results)-failed, failed))

	p.printBox("BATCH RESULTS", sb.String())
}

func formatCounts(counts map[string]int) string {
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, fmt.Sprintf("%d %s", counts[kind], kind))
	}
	return strings.Join(parts, ", ")
}

func formatBytes(n int) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}

// truncate shortens s to at most width runes
func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}
