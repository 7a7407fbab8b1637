package intervention

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/testpilot/pkg/types"
)

// maxShownFailures caps the attempt history printed with a request.
const maxShownFailures = 5

// RenderRequest formats the context a human needs to answer req.
func RenderRequest(req *types.InterventionRequest) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Intervention needed: %s", req.TestName)))
	b.WriteString("\n\n")

	row := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value)))
		b.WriteString("\n")
	}
	row("Step", fmt.Sprintf("%d. %s", req.StepNumber, req.StepTitle))
	row("Attempts", fmt.Sprintf("%d", req.Attempts))
	row("Page", req.PageURL)
	row("Screenshot", req.ScreenshotPath)
	row("Reason", req.Reason)
	if req.Failure != nil {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			labelStyle.Render("Error"),
			errorStyle.Render(fmt.Sprintf("[%s] %s", req.Failure.Kind, req.Failure.Message))))
		b.WriteString("\n")
	}

	if len(req.Failures) > 1 {
		b.WriteString("\n")
		b.WriteString(hintStyle.Render("Previous attempts:"))
		b.WriteString("\n")
		failures := req.Failures[:len(req.Failures)-1]
		if len(failures) > maxShownFailures {
			failures = failures[len(failures)-maxShownFailures:]
		}
		for _, f := range failures {
			fmt.Fprintf(&b, "  #%d [%s] %s\n", f.Attempt, f.Kind, f.Message)
		}
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
