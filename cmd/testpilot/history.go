package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/entrhq/testpilot/pkg/config"
	"github.com/entrhq/testpilot/pkg/store"
	"github.com/entrhq/testpilot/pkg/types"
)

func newHistoryCmd() *cobra.Command {
	var (
		configFile string
		name       string
		limit      int
		failures   bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(configFile)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if failures {
				counts, err := s.FailureCounts(cmd.Context())
				if err != nil {
					return err
				}
				kinds := make([]string, 0, len(counts))
				for kind := range counts {
					kinds = append(kinds, string(kind))
				}
				sort.Strings(kinds)

				t := table.New().Headers("FAILURE KIND", "STEPS")
				for _, kind := range kinds {
					t.Row(kind, strconv.Itoa(counts[types.FailureKind(kind)]))
				}
				fmt.Fprintln(out, t.Render())
				return nil
			}

			runs, err := s.ListRuns(cmd.Context(), name, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}

			pass := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
			fail := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
			t := table.New().Headers("RUN", "TEST", "ENV", "STARTED", "STEPS", "ELAPSED", "RESULT")
			for _, r := range runs {
				result := pass.Render("pass")
				if !r.Success {
					result = fail.Render("fail")
				}
				t.Row(
					r.RunID,
					r.Name,
					r.Environment,
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					fmt.Sprintf("%d/%d", r.StepsPassed, r.StepsTotal),
					r.Elapsed.Round(time.Second).String(),
					result,
				)
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "configuration file naming history_db")
	cmd.Flags().StringVar(&name, "name", "", "only runs of this test case")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	cmd.Flags().BoolVar(&failures, "failures", false, "tally step failures by kind instead")
	return cmd
}

// openStore opens the history database named by the configuration.
func openStore(configFile string) (*store.Store, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if cfg.HistoryDB == "" {
		return nil, fmt.Errorf("history_db is not set in %s", configFile)
	}
	return store.New(cfg.HistoryDB)
}
