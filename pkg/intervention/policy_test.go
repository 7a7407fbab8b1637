package intervention

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entrhq/testpilot/pkg/config"
	"github.com/entrhq/testpilot/pkg/types"
)

func failures(kinds ...types.FailureKind) []types.Failure {
	out := make([]types.Failure, len(kinds))
	for i, k := range kinds {
		out[i] = types.Failure{Kind: k, Attempt: i + 1, Message: string(k)}
	}
	return out
}

func TestPolicyEvaluate(t *testing.T) {
	p := NewPolicy(nil, 3, 2)

	tests := []struct {
		name     string
		history  []types.Failure
		verdict  Verdict
		recreate bool
	}{
		{"transient below limit retries", failures(types.FailureStepTimeout), VerdictRetry, false},
		{"transient at limit escalates", failures(types.FailureStepTimeout, types.FailureStepTimeout, types.FailureActionFailed), VerdictEscalate, false},
		{"non-transient escalates at once", failures(types.FailureExpectationMismatch), VerdictEscalate, false},
		{"unresolved variable escalates", failures(types.FailureUnresolvedVariable), VerdictEscalate, false},
		{"unrecoverable session aborts", failures(types.FailureSessionUnrecoverable), VerdictAbort, false},
		{"crashed session retries with recreate", failures(types.FailureSessionCrashed), VerdictRetry, true},
		{"single decision error retries", failures(types.FailureDecisionError), VerdictRetry, false},
		{"consecutive decision errors escalate", failures(types.FailureDecisionError, types.FailureDecisionError), VerdictEscalate, false},
		{"interrupted decision errors retry", failures(types.FailureDecisionError, types.FailureActionFailed), VerdictRetry, false},
		{"unknown kind escalates", failures(types.FailureKind("mystery")), VerdictEscalate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := p.Evaluate(tt.history)
			assert.Equal(t, tt.verdict, eval.Verdict, eval.Reason)
			assert.Equal(t, tt.recreate, eval.Recreate)
			assert.NotEmpty(t, eval.Reason)
		})
	}
}

func TestPolicyZeroRetriesEscalatesTransient(t *testing.T) {
	p := NewPolicy(nil, 0, 2)

	eval := p.Evaluate(failures(types.FailurePageStateInvalid))
	assert.Equal(t, VerdictEscalate, eval.Verdict)
}

func TestPolicyClassify(t *testing.T) {
	p := NewPolicy(nil, 3, 0)

	assert.Equal(t, ClassTransient, p.Classify(types.FailureActionBudgetExhausted))
	assert.Equal(t, ClassNonTransient, p.Classify(types.FailureExpectationMismatch))
	assert.Equal(t, ClassFatal, p.Classify(types.FailureSessionUnrecoverable))
	assert.Equal(t, ClassNonTransient, p.Classify("not-a-kind"))
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 5
	cfg.Intervention.NonTransient = []types.FailureKind{types.FailureStepTimeout}
	cfg.Intervention.Transient = []types.FailureKind{types.FailureExpectationMismatch, types.FailureSessionUnrecoverable}

	one := 1
	env := &config.Environment{Name: "staging", BaseURL: "https://staging.example.com", MaxRetries: &one}

	p := PolicyFromConfig(cfg, env)
	assert.Equal(t, 1, p.MaxRetries())
	assert.Equal(t, ClassNonTransient, p.Classify(types.FailureStepTimeout))
	assert.Equal(t, ClassTransient, p.Classify(types.FailureExpectationMismatch))
	assert.Equal(t, ClassFatal, p.Classify(types.FailureSessionUnrecoverable))

	assert.Equal(t, 5, PolicyFromConfig(cfg, nil).MaxRetries())
}

func TestPolicyWithMaxRetries(t *testing.T) {
	p := NewPolicy(nil, 3, 2).WithMaxRetries(1)

	assert.Equal(t, 1, p.MaxRetries())
	assert.Equal(t, VerdictEscalate, p.Evaluate(failures(types.FailureStepTimeout)).Verdict)
}
