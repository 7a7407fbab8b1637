package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/testpilot/pkg/types"
)

// ConsoleLevel represents console verbosity.
type ConsoleLevel int

const (
	// ConsoleQuiet shows only warnings, errors and the final summary
	ConsoleQuiet ConsoleLevel = iota
	// ConsoleNormal shows step progress (default)
	ConsoleNormal
	// ConsoleVerbose shows every action and state change
	ConsoleVerbose
	// ConsoleDebug shows everything
	ConsoleDebug
)

// ParseConsoleLevel converts a level name; unknown names map to normal.
func ParseConsoleLevel(level string) ConsoleLevel {
	switch strings.ToLower(level) {
	case "quiet":
		return ConsoleQuiet
	case "verbose":
		return ConsoleVerbose
	case "debug":
		return ConsoleDebug
	default:
		return ConsoleNormal
	}
}

// Console prints human-facing progress. It doubles as a types.EventSink so it
// can follow a run as it happens.
type Console struct {
	writer io.Writer
	level  ConsoleLevel
	mu     sync.Mutex

	header  lipgloss.Style
	section lipgloss.Style
	info    lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

// NewConsole creates a console reporter on stdout.
func NewConsole(level ConsoleLevel) *Console {
	return NewConsoleWriter(os.Stdout, level)
}

// NewConsoleWriter creates a console reporter on w. Colors are enabled only
// when w is a terminal.
func NewConsoleWriter(w io.Writer, level ConsoleLevel) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		writer:  w,
		level:   level,
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("15")),
		section: r.NewStyle().Foreground(lipgloss.Color("6")),
		info:    r.NewStyle().Foreground(lipgloss.Color("#FFB3BA")),
		success: r.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")),
		failure: r.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func (c *Console) printf(min ConsoleLevel, style lipgloss.Style, format string, args ...interface{}) {
	if c.level < min {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.writer, style.Render(fmt.Sprintf(format, args...)))
}

// Header prints a prominent header message.
func (c *Console) Header(message string) {
	rule := strings.Repeat("=", 70)
	c.printf(ConsoleNormal, c.header, "\n%s\n  %s\n%s", rule, message, rule)
}

// Section prints a section divider.
func (c *Console) Section(title string) {
	c.printf(ConsoleNormal, c.section, "\n▶ %s\n%s", title, strings.Repeat("─", 50))
}

// Infof prints an informational message.
func (c *Console) Infof(format string, args ...interface{}) {
	c.printf(ConsoleNormal, c.info, format, args...)
}

// Successf prints a success message with checkmark.
func (c *Console) Successf(format string, args ...interface{}) {
	c.printf(ConsoleNormal, c.success, "✓ "+format, args...)
}

// Warningf prints a warning message.
func (c *Console) Warningf(format string, args ...interface{}) {
	c.printf(ConsoleQuiet, c.warning, "⚠ Warning: "+format, args...)
}

// Errorf prints an error message.
func (c *Console) Errorf(format string, args ...interface{}) {
	c.printf(ConsoleQuiet, c.failure, "✗ Error: "+format, args...)
}

// Verbosef prints detailed information (only in verbose mode).
func (c *Console) Verbosef(format string, args ...interface{}) {
	c.printf(ConsoleVerbose, c.muted, "→ "+format, args...)
}

// Debugf prints debug information (only in debug mode).
func (c *Console) Debugf(format string, args ...interface{}) {
	c.printf(ConsoleDebug, c.muted, "[DEBUG] "+format, args...)
}

// Publish renders a run event.
func (c *Console) Publish(event *types.RunEvent) {
	switch event.Type {
	case types.EventTypeRunStart:
		c.Header(fmt.Sprintf("Running %s (%s)", event.TestName, event.RunID))
	case types.EventTypeStepStart:
		if event.Attempt > 1 {
			c.Infof("  step %d, attempt %d", event.StepNumber, event.Attempt)
			return
		}
		c.Section(fmt.Sprintf("Step %d", event.StepNumber))
	case types.EventTypeStepState:
		c.Debugf("step %d → %s", event.StepNumber, event.State)
	case types.EventTypeAction:
		if event.Action != nil {
			c.Verbosef("%s %s %s", event.Action.Kind, event.Action.Target, event.Action.Value)
		}
	case types.EventTypeAttemptFailed:
		c.Warningf("step %d attempt %d failed: %s", event.StepNumber, event.Attempt, event.Message)
	case types.EventTypeRetryScheduled:
		c.Infof("  retrying step %d %s", event.StepNumber, event.Message)
	case types.EventTypeSessionRecreated:
		c.Warningf("browser session recreated before step %d", event.StepNumber)
	case types.EventTypeInterventionPending:
		if req := event.Intervention; req != nil {
			c.Warningf("step %d needs a decision (%s): %s", req.StepNumber, req.ID, req.Reason)
		}
	case types.EventTypeInterventionResolved:
		if event.Decision != nil {
			c.Infof("  intervention: %s (%s)", event.Decision.Action, event.Decision.Source)
		}
	case types.EventTypeStepEnd:
		c.stepEnd(event.Step)
	case types.EventTypeRunEnd:
		if event.Result != nil {
			c.Summary(event.Result)
		}
	}
}

func (c *Console) stepEnd(step *types.StepResult) {
	if step == nil {
		return
	}
	elapsed := step.Elapsed.Round(time.Millisecond)
	switch {
	case step.Outcome == types.OutcomeSuccess:
		c.Successf("%s passed in %s (%d attempt(s))", label(step), elapsed, step.Attempts)
	case step.Outcome == types.OutcomeSkipped:
		c.printf(ConsoleNormal, c.muted, "- %s skipped: %s", label(step), step.SkipReason)
	case step.Passed():
		c.Successf("%s resolved by operator", label(step))
	default:
		msg := ""
		if step.Failure != nil {
			msg = step.Failure.Message
		}
		c.printf(ConsoleQuiet, c.failure, "✗ %s failed: %s", label(step), msg)
	}
}

// Summary prints a final result summary.
func (c *Console) Summary(result *types.TestResult) {
	rule := strings.Repeat("=", 70)
	c.printf(ConsoleQuiet, c.header, "\n%s\n  TEST SUMMARY\n%s", rule, rule)

	if result.Success {
		c.printf(ConsoleQuiet, c.success, "  Status: ✓ SUCCESS")
	} else {
		c.printf(ConsoleQuiet, c.failure, "  Status: ✗ FAILED")
	}

	counts := result.Counts()
	c.printf(ConsoleQuiet, lipgloss.NewStyle(), "  Test: %s\n  Duration: %s\n  Steps: %d (success %d, failed %d, skipped %d, human-resolved %d)",
		result.Name, result.Elapsed.Round(time.Second), len(result.Steps),
		counts[types.OutcomeSuccess], counts[types.OutcomeFailed], counts[types.OutcomeSkipped], counts[types.OutcomeHumanResolved])

	if result.FatalError != "" {
		c.printf(ConsoleQuiet, c.failure, "  Error: %s", result.FatalError)
	}
	c.printf(ConsoleQuiet, c.header, "%s", rule)
}

func label(step *types.StepResult) string {
	if step.Title == "" {
		return fmt.Sprintf("Step %d", step.Number)
	}
	return fmt.Sprintf("Step %d (%s)", step.Number, step.Title)
}
