package types

import "time"

// RunEventType defines the type of event emitted while a test case runs.
type RunEventType string

const (
	EventTypeRunStart             RunEventType = "run_start"             // EventTypeRunStart indicates a test case run has begun.
	EventTypeRunEnd               RunEventType = "run_end"               // EventTypeRunEnd indicates a test case run has produced its result.
	EventTypeStepStart            RunEventType = "step_start"            // EventTypeStepStart indicates a step attempt is starting.
	EventTypeStepEnd              RunEventType = "step_end"              // EventTypeStepEnd indicates a step reached a terminal outcome.
	EventTypeStepState            RunEventType = "step_state"            // EventTypeStepState indicates a step runner state transition.
	EventTypeAction               RunEventType = "action"                // EventTypeAction indicates a browser action was applied.
	EventTypeAttemptFailed        RunEventType = "attempt_failed"        // EventTypeAttemptFailed indicates a step attempt failed.
	EventTypeRetryScheduled       RunEventType = "retry_scheduled"       // EventTypeRetryScheduled indicates the policy chose an automatic retry.
	EventTypeSessionRecreated     RunEventType = "session_recreated"     // EventTypeSessionRecreated indicates the browser session was rebuilt.
	EventTypeInterventionPending  RunEventType = "intervention_pending"  // EventTypeInterventionPending indicates a human decision is awaited.
	EventTypeInterventionResolved RunEventType = "intervention_resolved" // EventTypeInterventionResolved indicates a pending decision was answered.
)

// RunEvent is published to observers (console, websocket, metrics) during a run.
type RunEvent struct {
	Time time.Time `json:"time"`

	// Intervention is set for intervention events.
	Intervention *InterventionRequest `json:"intervention,omitempty"`

	// Decision is set for intervention_resolved and retry_scheduled events.
	Decision *InterventionDecision `json:"decision,omitempty"`

	// Step is set for step_end events.
	Step *StepResult `json:"step,omitempty"`

	// Result is set for run_end events.
	Result *TestResult `json:"result,omitempty"`

	Action *Action `json:"action,omitempty"`

	Type     RunEventType `json:"type"`
	RunID    string       `json:"run_id"`
	TestName string       `json:"test_name"`
	Message  string       `json:"message,omitempty"`
	State    string       `json:"state,omitempty"`

	StepNumber int `json:"step_number,omitempty"`
	Attempt    int `json:"attempt,omitempty"`
}

// InterventionRequest is the context shown to whoever answers an escalation.
type InterventionRequest struct {
	CreatedAt      time.Time `json:"created_at"`
	Failure        *Failure  `json:"failure,omitempty"`
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	TestName       string    `json:"test_name"`
	StepTitle      string    `json:"step_title"`
	Reason         string    `json:"reason"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	PageURL        string    `json:"page_url,omitempty"`
	Failures       []Failure `json:"failures"`
	StepNumber     int       `json:"step_number"`
	Attempts       int       `json:"attempts"`
}

// EventSink receives run events. Implementations must not block for long.
type EventSink interface {
	Publish(event *RunEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(event *RunEvent)

// Publish calls f(event).
func (f EventSinkFunc) Publish(event *RunEvent) { f(event) }

// Sinks fans an event out to each sink in order. Nil entries are skipped.
type Sinks []EventSink

// Publish forwards event to every sink.
func (s Sinks) Publish(event *RunEvent) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(event)
		}
	}
}

func newRunEvent(t RunEventType, runID, testName string) *RunEvent {
	return &RunEvent{Type: t, RunID: runID, TestName: testName, Time: time.Now()}
}

// NewRunStartEvent creates a run start event.
func NewRunStartEvent(runID, testName string) *RunEvent {
	return newRunEvent(EventTypeRunStart, runID, testName)
}

// NewRunEndEvent creates a run end event carrying the final result.
func NewRunEndEvent(result *TestResult) *RunEvent {
	e := newRunEvent(EventTypeRunEnd, result.RunID, result.Name)
	e.Result = result
	return e
}

// NewStepStartEvent creates a step start event.
func NewStepStartEvent(runID, testName string, step, attempt int) *RunEvent {
	e := newRunEvent(EventTypeStepStart, runID, testName)
	e.StepNumber = step
	e.Attempt = attempt
	return e
}

// NewStepEndEvent creates a step end event.
func NewStepEndEvent(runID, testName string, result *StepResult) *RunEvent {
	e := newRunEvent(EventTypeStepEnd, runID, testName)
	e.StepNumber = result.Number
	e.Attempt = result.Attempts
	e.Step = result
	return e
}

// NewStepStateEvent creates a state transition event.
func NewStepStateEvent(runID, testName string, step int, state string) *RunEvent {
	e := newRunEvent(EventTypeStepState, runID, testName)
	e.StepNumber = step
	e.State = state
	return e
}

// NewActionEvent creates an action event.
func NewActionEvent(runID, testName string, step int, action Action) *RunEvent {
	e := newRunEvent(EventTypeAction, runID, testName)
	e.StepNumber = step
	e.Action = &action
	return e
}

// NewAttemptFailedEvent creates an attempt failed event.
func NewAttemptFailedEvent(runID, testName string, step, attempt int, err error) *RunEvent {
	e := newRunEvent(EventTypeAttemptFailed, runID, testName)
	e.StepNumber = step
	e.Attempt = attempt
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

// NewRetryScheduledEvent creates a retry event.
func NewRetryScheduledEvent(runID, testName string, step, attempt int, recreate bool) *RunEvent {
	e := newRunEvent(EventTypeRetryScheduled, runID, testName)
	e.StepNumber = step
	e.Attempt = attempt
	if recreate {
		e.Message = "session will be recreated"
	}
	return e
}

// NewSessionRecreatedEvent creates a session recreated event.
func NewSessionRecreatedEvent(runID, testName string, step int) *RunEvent {
	e := newRunEvent(EventTypeSessionRecreated, runID, testName)
	e.StepNumber = step
	return e
}

// NewInterventionPendingEvent creates an intervention pending event.
func NewInterventionPendingEvent(req *InterventionRequest) *RunEvent {
	e := newRunEvent(EventTypeInterventionPending, req.RunID, req.TestName)
	e.StepNumber = req.StepNumber
	e.Attempt = req.Attempts
	e.Intervention = req
	return e
}

// NewInterventionResolvedEvent creates an intervention resolved event.
func NewInterventionResolvedEvent(req *InterventionRequest, decision InterventionDecision) *RunEvent {
	e := newRunEvent(EventTypeInterventionResolved, req.RunID, req.TestName)
	e.StepNumber = req.StepNumber
	e.Intervention = req
	e.Decision = &decision
	return e
}
