package types

import "time"

// Outcome is the terminal state of a step.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeFailed        Outcome = "failed"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeHumanResolved Outcome = "human-resolved"
)

// Observation is a captured view of the page.
type Observation struct {
	CapturedAt     time.Time `json:"captured_at"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Text           string    `json:"-"`
	Content        string    `json:"-"`
	Elements       []string  `json:"-"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
}

// DecisionLogEntry is one Deciding/Acting round recorded for replay.
type DecisionLogEntry struct {
	At      time.Time `json:"at"`
	Action  *Action   `json:"action,omitempty"`
	Done    *Done     `json:"done,omitempty"`
	URL     string    `json:"url,omitempty"`
	Error   string    `json:"error,omitempty"`
	Attempt int       `json:"attempt"`
	Index   int       `json:"index"`
}

// Override is a human-asserted result, kept next to the failure it replaced.
type Override struct {
	At      time.Time `json:"at"`
	Message string    `json:"message,omitempty"`
	Passed  bool      `json:"passed"`
}

// AttemptResult is what the step runner returns for one attempt.
type AttemptResult struct {
	Err         error
	Decisions   []DecisionLogEntry
	Screenshots []string
	Elapsed     time.Duration
	FinalURL    string
	Verdict     string
	Attempt     int
}

// Succeeded reports whether the attempt passed.
func (a *AttemptResult) Succeeded() bool {
	return a.Err == nil
}

// StepResult is the record of one step. It is frozen once the step concludes.
type StepResult struct {
	Failure       *Failure               `json:"failure,omitempty"`
	Override      *Override              `json:"override,omitempty"`
	Title         string                 `json:"title"`
	Outcome       Outcome                `json:"outcome"`
	Verdict       string                 `json:"verdict,omitempty"`
	SkipReason    string                 `json:"skip_reason,omitempty"`
	Screenshots   []string               `json:"screenshots,omitempty"`
	Decisions     []DecisionLogEntry     `json:"decisions,omitempty"`
	Failures      []Failure              `json:"failures,omitempty"`
	Interventions []InterventionDecision `json:"interventions,omitempty"`
	Elapsed       time.Duration          `json:"elapsed"`
	Number        int                    `json:"number"`
	Attempts      int                    `json:"attempts"`
}

// Passed reports whether the step counts towards an aggregate success.
func (r *StepResult) Passed() bool {
	switch r.Outcome {
	case OutcomeSuccess:
		return true
	case OutcomeHumanResolved:
		return r.Override != nil && r.Override.Passed
	default:
		return false
	}
}

// RecordAttempt folds an attempt into the step result.
func (r *StepResult) RecordAttempt(a *AttemptResult) {
	r.Decisions = append(r.Decisions, a.Decisions...)
	r.Screenshots = append(r.Screenshots, a.Screenshots...)
	if a.Err != nil {
		f := FailureFromError(a.Err, a.Attempt)
		f.PageURL = a.FinalURL
		if n := len(a.Screenshots); n > 0 {
			f.ScreenshotPath = a.Screenshots[n-1]
		}
		r.Failures = append(r.Failures, *f)
		r.Failure = f
	}
}

// SkippedStep creates a skipped result for a step that never ran.
func SkippedStep(step TestStep, reason string) StepResult {
	return StepResult{
		Number:     step.Number,
		Title:      step.Title,
		Outcome:    OutcomeSkipped,
		SkipReason: reason,
	}
}

// TestResult is the terminal record of one test case run.
type TestResult struct {
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	RunID          string        `json:"run_id"`
	Name           string        `json:"name"`
	Environment    string        `json:"environment,omitempty"`
	FinalMessage   string        `json:"final_message,omitempty"`
	FatalError     string        `json:"fatal_error,omitempty"`
	ScreenshotsDir string        `json:"screenshots_dir,omitempty"`
	Steps          []StepResult  `json:"steps"`
	Elapsed        time.Duration `json:"elapsed"`
	Success        bool          `json:"success"`
	Aborted        bool          `json:"aborted"`
}

// ComputeSuccess sets Success from the step outcomes.
func (r *TestResult) ComputeSuccess() bool {
	r.Success = len(r.Steps) > 0 && r.FatalError == ""
	for i := range r.Steps {
		if !r.Steps[i].Passed() {
			r.Success = false
		}
	}
	return r.Success
}

// Counts tallies step outcomes.
func (r *TestResult) Counts() map[Outcome]int {
	counts := make(map[Outcome]int, 4)
	for _, s := range r.Steps {
		counts[s.Outcome]++
	}
	return counts
}
