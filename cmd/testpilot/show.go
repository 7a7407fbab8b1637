package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/entrhq/testpilot/pkg/report"
)

func newShowCmd() *cobra.Command {
	var (
		asJSON bool
		style  string
	)
	cmd := &cobra.Command{
		Use:   "show <execution.json | run directory>",
		Short: "Print a stored test result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, raw, err := report.ReadExecutionJSON(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !asJSON {
				_, err := io.WriteString(out, report.Summary(result))
				return err
			}
			if !colorEnabled(out) {
				_, err := out.Write(raw)
				return err
			}
			return highlightJSON(out, string(raw), style)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result JSON")
	cmd.Flags().StringVar(&style, "style", "monokai", "chroma style for --json output")
	return cmd
}

// highlightJSON writes src with terminal colors.
func highlightJSON(w io.Writer, src, style string) error {
	if err := quick.Highlight(w, src, "json", "terminal256", style); err != nil {
		return fmt.Errorf("failed to highlight result: %w", err)
	}
	if len(src) > 0 && src[len(src)-1] != '\n' {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}

func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
