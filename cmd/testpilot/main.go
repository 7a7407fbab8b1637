// Package main is the testpilot command line.
//
// testpilot runs natural-language browser test cases written in Markdown.
// Each step is carried out by an LLM driving a playwright session, failures
// are retried or escalated to a human, and every run leaves a JSON result,
// a Markdown and HTML summary, screenshots and a history entry behind.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var version = "dev"

// errTestsFailed makes the process exit 1 without printing another error.
var errTestsFailed = errors.New("one or more test cases failed")

var rootCmd = &cobra.Command{
	Use:           "testpilot",
	Short:         "LLM-driven browser test runner",
	Long:          "testpilot executes Markdown test cases in a real browser, step by step, with human intervention when automation gets stuck.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newRunCmd(), newInitConfigCmd(), newHistoryCmd(), newShowCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		if !errors.Is(err, errTestsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
