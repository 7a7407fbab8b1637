package intervention

import (
	"fmt"

	"github.com/entrhq/testpilot/pkg/config"
	"github.com/entrhq/testpilot/pkg/types"
)

// Class is the retry classification of a failure kind.
type Class string

const (
	ClassTransient    Class = "transient"     // ClassTransient failures are retried automatically up to the limit.
	ClassNonTransient Class = "non-transient" // ClassNonTransient failures always escalate.
	ClassFatal        Class = "fatal"         // ClassFatal failures abort the run.
)

// Verdict is what the policy decided for a failed attempt.
type Verdict string

const (
	VerdictRetry    Verdict = "retry"
	VerdictEscalate Verdict = "escalate"
	VerdictAbort    Verdict = "abort"
)

// Evaluation is the policy outcome for a failure history.
type Evaluation struct {
	Verdict  Verdict
	Kind     types.FailureKind
	Class    Class
	Reason   string
	Recreate bool
}

// DefaultTable is the built-in classification of failure kinds.
func DefaultTable() map[types.FailureKind]Class {
	return map[types.FailureKind]Class{
		types.FailurePageStateInvalid:      ClassTransient,
		types.FailureStepTimeout:           ClassTransient,
		types.FailureActionFailed:          ClassTransient,
		types.FailureActionBudgetExhausted: ClassTransient,
		types.FailureSessionCrashed:        ClassTransient,
		types.FailureDecisionError:         ClassTransient,
		types.FailureExpectationMismatch:   ClassNonTransient,
		types.FailureUnresolvedVariable:    ClassNonTransient,
		types.FailureSessionUnrecoverable:  ClassFatal,
	}
}

// Policy decides between automatic retry and escalation.
type Policy struct {
	table              map[types.FailureKind]Class
	maxRetries         int
	decisionErrorLimit int
}

// NewPolicy creates a policy over table. A nil table uses DefaultTable.
func NewPolicy(table map[types.FailureKind]Class, maxRetries, decisionErrorLimit int) *Policy {
	if table == nil {
		table = DefaultTable()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if decisionErrorLimit <= 0 {
		decisionErrorLimit = config.DefaultDecisionErrorLimit
	}
	return &Policy{table: table, maxRetries: maxRetries, decisionErrorLimit: decisionErrorLimit}
}

// PolicyFromConfig builds the policy for env, applying the configured table
// overrides and the per-environment retry limit.
func PolicyFromConfig(cfg *config.Config, env *config.Environment) *Policy {
	table := DefaultTable()
	for _, kind := range cfg.Intervention.Transient {
		table[kind] = ClassTransient
	}
	for _, kind := range cfg.Intervention.NonTransient {
		table[kind] = ClassNonTransient
	}
	// Unrecoverable sessions cannot be retried whatever the table says.
	table[types.FailureSessionUnrecoverable] = ClassFatal

	return NewPolicy(table, cfg.MaxRetriesFor(env), cfg.Intervention.DecisionErrorLimit)
}

// MaxRetries returns the automatic attempt limit.
func (p *Policy) MaxRetries() int {
	return p.maxRetries
}

// WithMaxRetries returns a copy of p with a different attempt limit. It
// applies a test case's own retry_count.
func (p *Policy) WithMaxRetries(n int) *Policy {
	return NewPolicy(p.table, n, p.decisionErrorLimit)
}

// Classify returns the class of kind. Unknown kinds are non-transient.
func (p *Policy) Classify(kind types.FailureKind) Class {
	if class, ok := p.table[kind]; ok {
		return class
	}
	return ClassNonTransient
}

// Evaluate decides what happens after the latest failure in history. history
// holds the failures since the step's attempt counter was last reset, oldest
// first.
func (p *Policy) Evaluate(history []types.Failure) Evaluation {
	if len(history) == 0 {
		return Evaluation{Verdict: VerdictRetry, Reason: "no failure recorded"}
	}

	last := history[len(history)-1]
	eval := Evaluation{Kind: last.Kind, Class: p.Classify(last.Kind)}
	attempts := len(history)

	switch {
	case eval.Class == ClassFatal:
		eval.Verdict = VerdictAbort
		eval.Reason = fmt.Sprintf("%s is fatal", last.Kind)

	case last.Kind == types.FailureDecisionError && trailing(history, types.FailureDecisionError) >= p.decisionErrorLimit:
		eval.Verdict = VerdictEscalate
		eval.Reason = fmt.Sprintf("decision client failed %d times in a row", trailing(history, types.FailureDecisionError))

	case eval.Class == ClassTransient && attempts < p.maxRetries:
		eval.Verdict = VerdictRetry
		eval.Recreate = last.Kind == types.FailureSessionCrashed
		eval.Reason = fmt.Sprintf("transient %s (attempt %d of %d)", last.Kind, attempts, p.maxRetries)

	case eval.Class == ClassTransient:
		eval.Verdict = VerdictEscalate
		eval.Reason = fmt.Sprintf("%s persisted after %d attempts", last.Kind, attempts)

	default:
		eval.Verdict = VerdictEscalate
		eval.Reason = fmt.Sprintf("%s needs a human decision", last.Kind)
	}
	return eval
}

// trailing counts the consecutive failures of kind at the end of history.
func trailing(history []types.Failure, kind types.FailureKind) int {
	n := 0
	for i := len(history) - 1; i >= 0 && history[i].Kind == kind; i-- {
		n++
	}
	return n
}
