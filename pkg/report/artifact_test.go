package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/testpilot/pkg/types"
)

func sampleResult() *types.TestResult {
	failure := types.Failure{Kind: types.FailureStepTimeout, Message: "no progress", Attempt: 1, ScreenshotPath: "shots/step_02_timeout.png"}
	return &types.TestResult{
		RunID:        "01J0000000000000000000000",
		Name:         "Login <smoke>",
		Environment:  "test",
		StartedAt:    time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		Elapsed:      42 * time.Second,
		FinalMessage: "1/3 steps passed",
		Steps: []types.StepResult{
			{Number: 1, Title: "open | login", Outcome: types.OutcomeSuccess, Attempts: 1, Verdict: "form shown"},
			{
				Number:        2,
				Title:         "log in",
				Outcome:       types.OutcomeHumanResolved,
				Attempts:      1,
				Failure:       &failure,
				Failures:      []types.Failure{failure},
				Override:      &types.Override{Passed: false, Message: "wrong account"},
				Interventions: []types.InterventionDecision{types.NewOverrideDecision(false, "wrong account")},
			},
			{Number: 3, Title: "send", Outcome: types.OutcomeSkipped, SkipReason: "test aborted"},
		},
	}
}

func TestSummary(t *testing.T) {
	md := Summary(sampleResult())

	assert.Contains(t, md, "# Test Report: Login <smoke>")
	assert.Contains(t, md, "❌ **Failed**")
	assert.Contains(t, md, `| 1 | open \| login | ✅ success | 1 |`)
	assert.Contains(t, md, "override: wrong account")
	assert.Contains(t, md, "⏭️ skipped")
	assert.Contains(t, md, "- attempt 1: `step_timeout` no progress")
	assert.Contains(t, md, "screenshot: `shots/step_02_timeout.png`")
	assert.Contains(t, md, "- intervention: **manual-override-result** by human: wrong account")
}

func TestWriteAllAndReadBack(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := NewArtifactWriter(dir)
	result := sampleResult()

	require.NoError(t, w.WriteAll(result))
	assert.Equal(t, dir, w.Dir())

	for _, name := range []string{ExecutionFile, SummaryFile, HTMLFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	page, err := os.ReadFile(filepath.Join(dir, HTMLFile))
	require.NoError(t, err)
	assert.Contains(t, string(page), "<title>Login &lt;smoke&gt;</title>")
	assert.Contains(t, string(page), "<table>")

	loaded, raw, err := ReadExecutionJSON(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, result.RunID, loaded.RunID)
	require.Len(t, loaded.Steps, 3)
	assert.Equal(t, types.OutcomeHumanResolved, loaded.Steps[1].Outcome)
	assert.Equal(t, "wrong account", loaded.Steps[1].Override.Message)
}

func TestReadExecutionJSONErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := ReadExecutionJSON(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	_, _, err = ReadExecutionJSON(bad)
	assert.Error(t, err)
}
