package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/testpilot/pkg/types"
)

func result(id, name string, started time.Time, success bool) *types.TestResult {
	r := &types.TestResult{
		RunID:      id,
		Name:       name,
		StartedAt:  started,
		FinishedAt: started.Add(30 * time.Second),
		Elapsed:    30 * time.Second,
		Steps: []types.StepResult{
			{Number: 1, Title: "open", Outcome: types.OutcomeSuccess, Attempts: 1},
		},
	}
	if !success {
		f := types.Failure{Kind: types.FailureExpectationMismatch, Message: "no inbox", Attempt: 1}
		r.Steps = append(r.Steps, types.StepResult{
			Number: 2, Title: "check", Outcome: types.OutcomeFailed, Attempts: 1, Failure: &f, Failures: []types.Failure{f},
		})
	}
	r.ComputeSuccess()
	return r
}

func TestStoreSaveListGet(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRun(ctx, result("a", "login", base, true), "out/a"))
	require.NoError(t, s.SaveRun(ctx, result("b", "login", base.Add(time.Hour), false), "out/b"))
	require.NoError(t, s.SaveRun(ctx, result("c", "search", base.Add(2*time.Hour), true), "out/c"))

	runs, err := s.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "a", runs[2].RunID)

	b := runs[1]
	assert.False(t, b.Success)
	assert.Equal(t, 2, b.StepsTotal)
	assert.Equal(t, 1, b.StepsPassed)
	assert.Equal(t, "out/b", b.ArtifactsDir)
	assert.Equal(t, 30*time.Second, b.Elapsed)
	assert.True(t, b.StartedAt.Equal(base.Add(time.Hour)))

	login, err := s.ListRuns(ctx, "login", 1)
	require.NoError(t, err)
	require.Len(t, login, 1)
	assert.Equal(t, "b", login[0].RunID)

	got, err := s.GetRun(ctx, "b")
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, types.FailureExpectationMismatch, got.Steps[1].Failure.Kind)

	_, err = s.GetRun(ctx, "zzz")
	assert.ErrorIs(t, err, ErrNotFound)

	counts, err := s.FailureCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[types.FailureKind]int{types.FailureExpectationMismatch: 1}, counts)
}

func TestStoreSaveReplaces(t *testing.T) {
	s, err := New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.SaveRun(ctx, result("a", "login", now, false), ""))
	require.NoError(t, s.SaveRun(ctx, result("a", "login", now, true), ""))

	runs, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Success)

	counts, err := s.FailureCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, len(migrations), version)
}
