package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/entrhq/testpilot/pkg/config"
	"github.com/entrhq/testpilot/pkg/testcase"
)

func newInitConfigCmd() *cobra.Command {
	var (
		output   string
		testCase string
	)
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a configuration template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ wrote %s\n", output)

			if testCase == "" {
				return nil
			}
			if _, err := os.Stat(testCase); err == nil {
				return fmt.Errorf("%s already exists", testCase)
			}
			if err := os.WriteFile(testCase, []byte(testcase.Example), 0644); err != nil {
				return fmt.Errorf("failed to write example test case: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ wrote %s\n", testCase)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "config.yaml", "path of the configuration file to write")
	cmd.Flags().StringVar(&testCase, "test-case", "", "also write an example test case to this path")
	return cmd
}
