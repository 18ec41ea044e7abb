package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/3-lines-studio/kiln/internal/core"
)

type BuildStep struct {
	Name      string
	StartTime time.Time
	EndTime   time.Time
	Success   bool
	Error     string
}

type cliOutputWithColors interface {
	Green(text string) string
	Yellow(text string) string
	Red(text string) string
	Gray(text string) string
	Writer() io.Writer
}

type BuildError struct {
	Asset   string
	Message string
	Details []string
}

type BuildReport struct {
	colors      cliOutputWithColors
	steps       []*BuildStep
	warnings    []BuildError
	errors      []BuildError
	artifacts   []core.Artifact
	kinds       map[core.Kind]int
	startTime   time.Time
	outputDir   string
	hasFailures bool
}

func NewBuildReport(colors cliOutputWithColors, outputDir string) *BuildReport {
	return &BuildReport{
		colors:    colors,
		startTime: time.Now(),
		outputDir: outputDir,
	}
}

// SetAssets records how many assets of each kind the pass found.
func (r *BuildReport) SetAssets(kinds map[core.Kind]int) {
	r.kinds = kinds
}

func (r *BuildReport) SetArtifacts(artifacts []core.Artifact) {
	r.artifacts = artifacts
}

func (r *BuildReport) StartStep(name string) *BuildStep {
	step := &BuildStep{
		Name:      name,
		StartTime: time.Now(),
	}
	r.steps = append(r.steps, step)
	return step
}

func (r *BuildReport) EndStep(step *BuildStep, success bool, err string) {
	step.EndTime = time.Now()
	step.Success = success
	step.Error = err
	if !success {
		r.hasFailures = true
	}
}

func (r *BuildReport) AddWarning(asset string, message string, details []string) {
	r.warnings = append(r.warnings, BuildError{
		Asset:   asset,
		Message: message,
		Details: details,
	})
}

func (r *BuildReport) AddError(asset string, message string, details []string) {
	r.errors = append(r.errors, BuildError{
		Asset:   asset,
		Message: message,
		Details: details,
	})
	r.hasFailures = true
}

func (r *BuildReport) Render() {
	duration := time.Since(r.startTime)

	if len(r.errors) == 0 && len(r.warnings) == 0 {
		r.renderMinimal(duration)
	} else {
		r.renderVerbose(duration)
	}
}

func (r *BuildReport) renderMinimal(duration time.Duration) {
	w := r.colors.Writer()
	fmt.Fprintf(w, "  "+r.colors.Green("✓ ")+"%s\n", r.assetSummary())

	var failed []string
	for _, step := range r.steps {
		if !step.Success {
			failed = append(failed, "  "+r.colors.Red("✗ ")+step.Name)
		}
	}

	if len(failed) == 0 {
		r.renderArtifacts()
		fmt.Fprintf(w, "  "+r.colors.Green("✓ ")+"Build complete in %s\n", formatDuration(duration))
	} else {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Failed steps:")
		for _, line := range failed {
			fmt.Fprintln(w, line)
		}
	}

	if r.outputDir != "" {
		fmt.Fprintf(w, "\n  %s\n", r.colors.Gray("Output: "+r.outputDir))
	}
}

func (r *BuildReport) renderVerbose(duration time.Duration) {
	w := r.colors.Writer()
	fmt.Fprintf(w, "  %s\n", r.assetSummary())

	fmt.Fprintln(w)
	for _, step := range r.steps {
		status := r.colors.Green("✓")
		if !step.Success {
			status = r.colors.Red("✗")
		}
		fmt.Fprintf(w, "  %s %s\n", status, step.Name)
	}

	if len(r.errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  "+r.colors.Red("✗ ")+"Errors (%d):\n", len(r.errors))
		r.renderErrors(r.errors)
	}

	if len(r.warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  "+r.colors.Yellow("⚠ ")+"Warnings (%d):\n", len(r.warnings))
		r.renderErrors(r.warnings)
	}

	fmt.Fprintln(w)
	if len(r.errors) > 0 {
		fmt.Fprintf(w, "  %s\n", r.colors.Red(fmt.Sprintf("Build failed after %s", formatDuration(duration))))
	} else {
		r.renderArtifacts()
		fmt.Fprintf(w, "  "+r.colors.Green("✓ ")+"Build complete in %s\n", formatDuration(duration))
	}

	if r.outputDir != "" {
		fmt.Fprintf(w, "\n  %s\n", r.colors.Gray("Output: "+r.outputDir))
	}
}

func (r *BuildReport) renderErrors(errors []BuildError) {
	w := r.colors.Writer()
	for _, err := range errors {
		fmt.Fprintf(w, "  %s %s\n", r.colors.Red("✗"), err.Asset)
		fmt.Fprintf(w, "    %s\n", err.Message)

		for _, detail := range deduplicateStrings(err.Details) {
			fmt.Fprintf(w, "      • %s\n", detail)
		}
	}
}

// renderArtifacts prints one table row per emitted artifact in emission
// order.
func (r *BuildReport) renderArtifacts() {
	if len(r.artifacts) == 0 {
		return
	}
	w := r.colors.Writer()
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.Header("Artifact", "Kind", "Size")
	for _, a := range r.artifacts {
		if err := table.Append([]string{a.Path, a.Kind.String(), formatSize(len(a.Content))}); err != nil {
			return
		}
	}
	_ = table.Render()
	fmt.Fprintln(w)
}

func (r *BuildReport) assetSummary() string {
	total := 0
	for _, n := range r.kinds {
		total += n
	}
	if total == 0 {
		return "0 assets found"
	}

	kinds := make([]core.Kind, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	parts := ""
	for i, k := range kinds {
		if i > 0 {
			parts += ", "
		}
		parts += strconv.Itoa(r.kinds[k]) + " " + k.String()
	}
	return fmt.Sprintf("%d assets found (%s)", total, parts)
}

func (r *BuildReport) HasFailures() bool {
	return r.hasFailures
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.0fms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%.1fs", float64(d)/float64(time.Second))
}

func formatSize(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KiB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1024*1024))
	}
}

// deduplicateStrings keeps first-seen order and annotates repeats.
func deduplicateStrings(items []string) []string {
	if len(items) <= 1 {
		return items
	}

	seen := make(map[string]int)
	order := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item] == 0 {
			order = append(order, item)
		}
		seen[item]++
	}

	result := make([]string, 0, len(order))
	for _, item := range order {
		if count := seen[item]; count > 1 {
			result = append(result, fmt.Sprintf("%s (%d occurrences)", item, count))
		} else {
			result = append(result, item)
		}
	}
	return result
}
