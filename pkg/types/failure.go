package types

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a step attempt failed.
type FailureKind string

const (
	FailureUnresolvedVariable    FailureKind = "unresolved_variable"     // FailureUnresolvedVariable indicates a placeholder had no value in the context.
	FailurePageStateInvalid      FailureKind = "page_state_invalid"      // FailurePageStateInvalid indicates no usable page to act on.
	FailureStepTimeout           FailureKind = "step_timeout"            // FailureStepTimeout indicates the step exceeded its time box.
	FailureExpectationMismatch   FailureKind = "expectation_mismatch"    // FailureExpectationMismatch indicates the expected result was not observed.
	FailureSessionUnrecoverable  FailureKind = "session_unrecoverable"   // FailureSessionUnrecoverable indicates the browser could not be recreated.
	FailureDecisionError         FailureKind = "decision_error"          // FailureDecisionError indicates the decision client returned a malformed response.
	FailureActionFailed          FailureKind = "action_failed"           // FailureActionFailed indicates a browser action returned an error.
	FailureActionBudgetExhausted FailureKind = "action_budget_exhausted" // FailureActionBudgetExhausted indicates max sub-actions were used without completion.
	FailureSessionCrashed        FailureKind = "session_crashed"         // FailureSessionCrashed indicates the browser session died mid-step.
)

// StepError is the error produced by a failed step attempt.
type StepError struct {
	Err     error
	Kind    FailureKind
	Message string
	Step    int
}

// NewStepError creates a step error of the given kind.
func NewStepError(kind FailureKind, step int, err error, format string, args ...any) *StepError {
	return &StepError{
		Kind:    kind,
		Step:    step,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("step %d: %s: %s", e.Step, e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Is matches another *StepError with the same kind, so callers can write
// errors.Is(err, &StepError{Kind: FailureStepTimeout}).
func (e *StepError) Is(target error) bool {
	var other *StepError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf extracts the failure kind from err. ok is false when err does not
// carry a *StepError.
func KindOf(err error) (kind FailureKind, ok bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// Failure is the serializable record of one failed attempt.
type Failure struct {
	Kind           FailureKind `json:"kind"`
	Message        string      `json:"message"`
	ScreenshotPath string      `json:"screenshot_path,omitempty"`
	PageURL        string      `json:"page_url,omitempty"`
	Attempt        int         `json:"attempt"`
}

// FailureFromError converts an attempt error into its record form.
func FailureFromError(err error, attempt int) *Failure {
	if err == nil {
		return nil
	}
	f := &Failure{Attempt: attempt, Message: err.Error(), Kind: FailureActionFailed}
	var se *StepError
	if errors.As(err, &se) {
		f.Kind = se.Kind
		f.Message = se.Message
		if se.Err != nil {
			f.Message += ": " + se.Err.Error()
		}
	}
	return f
}
