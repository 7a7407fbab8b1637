// Package report writes the artifacts of a test run.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/entrhq/testpilot/pkg/types"
)

// Artifact file names inside the output directory.
const (
	ExecutionFile = "execution.json"
	SummaryFile   = "summary.md"
	HTMLFile      = "report.html"
)

// ArtifactWriter handles writing execution artifacts
type ArtifactWriter struct {
	outputDir string
	md        goldmark.Markdown
}

// NewArtifactWriter creates a new artifact writer
func NewArtifactWriter(outputDir string) *ArtifactWriter {
	return &ArtifactWriter{
		outputDir: outputDir,
		md:        goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Dir returns the output directory.
func (w *ArtifactWriter) Dir() string {
	return w.outputDir
}

// WriteAll writes all artifact formats
func (w *ArtifactWriter) WriteAll(result *types.TestResult) error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := w.WriteExecutionJSON(result); err != nil {
		return err
	}

	summary := Summary(result)
	if err := w.writeFile(SummaryFile, []byte(summary)); err != nil {
		return fmt.Errorf("failed to write summary markdown: %w", err)
	}

	if err := w.WriteHTML(result.Name, summary); err != nil {
		return err
	}
	return nil
}

// WriteExecutionJSON writes the full result as JSON
func (w *ArtifactWriter) WriteExecutionJSON(result *types.TestResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal test result: %w", err)
	}
	if err := w.writeFile(ExecutionFile, data); err != nil {
		return fmt.Errorf("failed to write execution JSON: %w", err)
	}
	return nil
}

// WriteHTML renders the markdown summary into a standalone HTML page.
func (w *ArtifactWriter) WriteHTML(title, summary string) error {
	var body bytes.Buffer
	if err := w.md.Convert([]byte(summary), &body); err != nil {
		return fmt.Errorf("failed to render summary: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, htmlHeader, html.EscapeString(title))
	page.Write(body.Bytes())
	page.WriteString(htmlFooter)

	if err := w.writeFile(HTMLFile, page.Bytes()); err != nil {
		return fmt.Errorf("failed to write HTML report: %w", err)
	}
	return nil
}

func (w *ArtifactWriter) writeFile(name string, data []byte) error {
	return os.WriteFile(filepath.Join(w.outputDir, name), data, 0600)
}

// ReadExecutionJSON loads a result written by WriteExecutionJSON. path may be
// the file itself or the directory holding it.
func ReadExecutionJSON(path string) (*types.TestResult, []byte, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, ExecutionFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read result: %w", err)
	}
	var result types.TestResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, nil, fmt.Errorf("failed to parse result: %w", err)
	}
	return &result, data, nil
}

// Summary renders a human-readable markdown summary of result.
func Summary(result *types.TestResult) string {
	var md strings.Builder

	md.WriteString(fmt.Sprintf("# Test Report: %s\n\n", result.Name))
	md.WriteString(fmt.Sprintf("**Run:** `%s`\n\n", result.RunID))
	if result.Environment != "" {
		md.WriteString(fmt.Sprintf("**Environment:** %s\n\n", result.Environment))
	}
	md.WriteString(fmt.Sprintf("**Started:** %s\n\n", result.StartedAt.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Duration:** %s\n\n", result.Elapsed.Round(time.Millisecond)))

	md.WriteString("## Result\n\n")
	if result.Success {
		md.WriteString("✅ **Passed**\n\n")
	} else {
		md.WriteString("❌ **Failed**\n\n")
	}
	if result.FinalMessage != "" {
		md.WriteString(result.FinalMessage + "\n\n")
	}
	if result.FatalError != "" {
		md.WriteString(fmt.Sprintf("**Fatal error:** %s\n\n", result.FatalError))
	}

	md.WriteString("## Steps\n\n")
	md.WriteString("| # | Step | Outcome | Attempts | Duration | Notes |\n")
	md.WriteString("|---|------|---------|----------|----------|-------|\n")
	for _, s := range result.Steps {
		md.WriteString(fmt.Sprintf("| %d | %s | %s %s | %d | %s | %s |\n",
			s.Number, cell(s.Title), outcomeIcon(s), s.Outcome, s.Attempts,
			s.Elapsed.Round(time.Millisecond), cell(notes(s))))
	}
	md.WriteString("\n")

	for _, s := range result.Steps {
		if len(s.Failures) == 0 && len(s.Interventions) == 0 {
			continue
		}
		md.WriteString(fmt.Sprintf("### Step %d: %s\n\n", s.Number, s.Title))
		for _, f := range s.Failures {
			md.WriteString(fmt.Sprintf("- attempt %d: `%s` %s\n", f.Attempt, f.Kind, f.Message))
			if f.ScreenshotPath != "" {
				md.WriteString(fmt.Sprintf("  - screenshot: `%s`\n", f.ScreenshotPath))
			}
		}
		for _, d := range s.Interventions {
			line := fmt.Sprintf("- intervention: **%s** by %s", d.Action, d.Source)
			if d.Message != "" {
				line += ": " + d.Message
			}
			if d.AdditionalInstructions != "" {
				line += fmt.Sprintf(" (instructions: %s)", d.AdditionalInstructions)
			}
			md.WriteString(line + "\n")
		}
		md.WriteString("\n")
	}

	if result.ScreenshotsDir != "" {
		md.WriteString(fmt.Sprintf("Screenshots: `%s`\n", result.ScreenshotsDir))
	}
	return md.String()
}

func outcomeIcon(s types.StepResult) string {
	switch {
	case s.Passed():
		return "✅"
	case s.Outcome == types.OutcomeSkipped:
		return "⏭️"
	default:
		return "❌"
	}
}

func notes(s types.StepResult) string {
	switch {
	case s.Override != nil:
		return "override: " + s.Override.Message
	case s.SkipReason != "":
		return s.SkipReason
	case s.Failure != nil:
		return fmt.Sprintf("%s: %s", s.Failure.Kind, s.Failure.Message)
	default:
		return s.Verdict
	}
}

// cell makes text safe inside a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}

const htmlHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; max-width: 960px; margin: 2em auto; color: #1f2937; }
table { border-collapse: collapse; width: 100%%; }
th, td { border: 1px solid #d1d5db; padding: 6px 10px; text-align: left; }
th { background: #f3f4f6; }
code { background: #f3f4f6; padding: 1px 4px; border-radius: 3px; }
</style>
</head>
<body>
`

const htmlFooter = `</body>
</html>
`
