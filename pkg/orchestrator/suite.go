package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/testpilot/pkg/types"
)

// Factory builds the orchestrator for one case. Each call must return its
// own session; nothing is shared between cases.
type Factory func(ctx context.Context, runID string, tc *types.TestCase) (*Orchestrator, error)

// RunSuite runs cases with at most parallel in flight and returns one result
// per case in input order. A case whose orchestrator cannot be built gets a
// fatal result; the first such error is also returned.
func RunSuite(ctx context.Context, cases []*types.TestCase, parallel int, factory Factory) ([]*types.TestResult, error) {
	if parallel <= 0 {
		parallel = 1
	}
	results := make([]*types.TestResult, len(cases))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, tc := range cases {
		g.Go(func() error {
			runID := NewRunID()
			orch, err := factory(ctx, runID, tc)
			if err != nil {
				results[i] = setupFailure(runID, tc, err)
				return fmt.Errorf("failed to prepare %q: %w", tc.Name, err)
			}
			results[i] = orch.Run(ctx, tc)
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

func setupFailure(runID string, tc *types.TestCase, err error) *types.TestResult {
	now := time.Now()
	return &types.TestResult{
		RunID:        runID,
		Name:         tc.Name,
		Environment:  tc.Environment,
		StartedAt:    now,
		FinishedAt:   now,
		FatalError:   err.Error(),
		FinalMessage: err.Error(),
		Steps:        skipAll(tc.OrderedSteps(), "setup failed"),
		Aborted:      true,
	}
}
