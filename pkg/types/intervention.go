package types

// InterventionAction is what a human or fallback policy chose for a failed step.
type InterventionAction string

const (
	InterventionRetry    InterventionAction = "retry"                  // InterventionRetry re-runs the step with a fresh attempt budget.
	InterventionSkip     InterventionAction = "skip-step"              // InterventionSkip marks the step skipped and moves on.
	InterventionAbort    InterventionAction = "abort-test"             // InterventionAbort stops the run; remaining steps are skipped.
	InterventionOverride InterventionAction = "manual-override-result" // InterventionOverride records a human-asserted outcome.
)

// Valid reports whether a is a recognised intervention action.
func (a InterventionAction) Valid() bool {
	switch a {
	case InterventionRetry, InterventionSkip, InterventionAbort, InterventionOverride:
		return true
	default:
		return false
	}
}

// DecisionSource records who produced an intervention decision.
type DecisionSource string

const (
	SourceHuman    DecisionSource = "human"    // SourceHuman indicates an operator answered.
	SourcePolicy   DecisionSource = "policy"   // SourcePolicy indicates the automatic retry policy decided.
	SourceFallback DecisionSource = "fallback" // SourceFallback indicates the intervention timed out or no human was available.
)

// InterventionDecision is consumed exactly once by the orchestrator.
type InterventionDecision struct {
	Action  InterventionAction `json:"action"`
	Source  DecisionSource     `json:"source"`
	Message string             `json:"message,omitempty"`

	// AdditionalInstructions are appended to the step goal on retry.
	AdditionalInstructions string `json:"additional_instructions,omitempty"`

	// Passed is the asserted outcome for InterventionOverride.
	Passed bool `json:"passed,omitempty"`
}

// NewRetryDecision creates a retry decision.
func NewRetryDecision(source DecisionSource, instructions string) InterventionDecision {
	return InterventionDecision{Action: InterventionRetry, Source: source, AdditionalInstructions: instructions}
}

// NewSkipDecision creates a skip-step decision.
func NewSkipDecision(source DecisionSource, message string) InterventionDecision {
	return InterventionDecision{Action: InterventionSkip, Source: source, Message: message}
}

// NewAbortDecision creates an abort-test decision.
func NewAbortDecision(source DecisionSource, message string) InterventionDecision {
	return InterventionDecision{Action: InterventionAbort, Source: source, Message: message}
}

// NewOverrideDecision creates a manual-override-result decision.
func NewOverrideDecision(passed bool, message string) InterventionDecision {
	return InterventionDecision{Action: InterventionOverride, Source: SourceHuman, Passed: passed, Message: message}
}
