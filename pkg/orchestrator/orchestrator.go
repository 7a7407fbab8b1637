// Package orchestrator drives a whole test case through the step runner.
//
// Steps run in number order. Every failed attempt goes to the intervention
// policy, which retries it (optionally on a fresh browser session) or hands
// it to the gateway. The orchestrator owns the session lifecycle: the
// session is started once, rebuilt only on request of the policy or a human
// retry after a crash, and closed on every exit path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/entrhq/testpilot/pkg/config"
	"github.com/entrhq/testpilot/pkg/intervention"
	"github.com/entrhq/testpilot/pkg/logging"
	"github.com/entrhq/testpilot/pkg/metrics"
	"github.com/entrhq/testpilot/pkg/resolver"
	"github.com/entrhq/testpilot/pkg/runner"
	"github.com/entrhq/testpilot/pkg/tracing"
	"github.com/entrhq/testpilot/pkg/types"
)

// Skip reasons recorded on steps that never ran.
const (
	ReasonTestTimeout          = "test timeout"
	ReasonRunCancelled         = "run cancelled"
	ReasonAborted              = "test aborted"
	ReasonSessionUnrecoverable = "session unrecoverable"
	ReasonUnresolvedVariables  = "unresolved variables"
)

// Session is the browser session lifecycle the orchestrator drives.
type Session interface {
	runner.Session
	Start(ctx context.Context) error
	RecreateSession(ctx context.Context) error
	Page() (runner.Page, error)
	Close() error
}

// StepRunner runs one step attempt.
type StepRunner interface {
	Run(ctx context.Context, a runner.Attempt) *types.AttemptResult
}

// Escalator hands a failure to a human and waits for the decision.
type Escalator interface {
	Request(ctx context.Context, req *types.InterventionRequest) (types.InterventionDecision, error)
}

// ScreenshotDir names screenshots inside the run directory.
type ScreenshotDir interface {
	runner.ScreenshotNamer
	Root() string
}

// Deps are the collaborators of one test case run.
type Deps struct {
	Session     Session
	Runner      StepRunner
	Policy      *intervention.Policy
	Gateway     Escalator
	Screenshots ScreenshotDir
	Logger      *logging.Logger
	Events      types.EventSink
}

// Settings are the per-run options.
type Settings struct {
	// Environment supplies the template variables; nil leaves only custom_data.
	Environment *config.Environment

	// RunID identifies the run in logs, events and artifacts. Empty mints one.
	RunID string

	// Timeout bounds the whole case; zero means none. A case's own
	// timeout_seconds takes precedence.
	Timeout time.Duration
}

// Orchestrator runs test cases.
type Orchestrator struct {
	deps     Deps
	logger   *logging.Logger
	settings Settings
}

// NewRunID returns a sortable, unique run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// New creates an Orchestrator.
func New(deps Deps, settings Settings) *Orchestrator {
	if settings.RunID == "" {
		settings.RunID = NewRunID()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if deps.Policy == nil {
		deps.Policy = intervention.NewPolicy(nil, config.DefaultMaxRetries, config.DefaultDecisionErrorLimit)
	}
	return &Orchestrator{
		deps:     deps,
		logger:   logger.WithComponent("orchestrator"),
		settings: settings,
	}
}

// RunID returns the identifier of the run.
func (o *Orchestrator) RunID() string {
	return o.settings.RunID
}

// stop ends a run early. The current step keeps its own outcome; later steps
// are skipped with reason.
type stop struct {
	reason string
	fatal  string
}

// Run executes tc and returns its result. The result always holds exactly
// one StepResult per step, in step order.
func (o *Orchestrator) Run(ctx context.Context, tc *types.TestCase) (result *types.TestResult) {
	result = &types.TestResult{
		RunID:       o.settings.RunID,
		Name:        tc.Name,
		Environment: o.environmentName(tc),
		StartedAt:   time.Now(),
	}
	if o.deps.Screenshots != nil {
		result.ScreenshotsDir = o.deps.Screenshots.Root()
	}

	ctx, span := tracing.StartSpan(ctx, "test.run",
		tracing.AttrRunID.String(result.RunID),
		tracing.AttrTestName.String(tc.Name),
	)
	finish := metrics.RunStarted()
	o.publish(types.NewRunStartEvent(result.RunID, tc.Name))
	o.logger.Infof("run %s: starting %q with %d steps", result.RunID, tc.Name, len(tc.Steps))

	defer func() {
		result.FinishedAt = time.Now()
		result.Elapsed = result.FinishedAt.Sub(result.StartedAt)
		result.ComputeSuccess()
		result.FinalMessage = summarize(result)
		finish(result.Success)

		o.logger.Infof("run %s: %s", result.RunID, result.FinalMessage)
		o.publish(types.NewRunEndEvent(result))

		var err error
		if !result.Success {
			err = errors.New(result.FinalMessage)
		}
		tracing.EndWithError(span, err)
	}()

	steps := tc.OrderedSteps()
	if err := tc.Validate(); err != nil {
		result.FatalError = err.Error()
		result.Steps = skipAll(steps, err.Error())
		return result
	}

	vars := o.vars(tc)
	if missing := resolver.Missing(tc, vars); len(missing) > 0 {
		result.FatalError = fmt.Sprintf("%s: %s", ReasonUnresolvedVariables, strings.Join(missing, ", "))
		result.Steps = skipAll(steps, result.FatalError)
		o.logger.Errorf("run %s: %s", result.RunID, result.FatalError)
		return result
	}

	runCtx := ctx
	if timeout := o.timeout(tc); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if err := o.deps.Session.Close(); err != nil {
			o.logger.Warnf("run %s: session teardown: %v", result.RunID, err)
		}
	}()

	if err := o.deps.Session.Start(runCtx); err != nil {
		result.FatalError = fmt.Sprintf("failed to start browser session: %v", err)
		result.Aborted = true
		result.Steps = skipAll(steps, ReasonSessionUnrecoverable)
		o.logger.Errorf("run %s: %s", result.RunID, result.FatalError)
		return result
	}

	policy := o.deps.Policy
	if tc.RetryCount > 0 {
		policy = policy.WithMaxRetries(tc.RetryCount)
	}

	var halted *stop
	for _, step := range steps {
		if halted != nil {
			result.Steps = append(result.Steps, o.conclude(tc.Name, types.SkippedStep(step, halted.reason)))
			continue
		}

		sr, st := o.runStep(runCtx, tc, step, vars, policy)
		if st == nil && runCtx.Err() != nil {
			st = &stop{}
		}
		if st != nil && runCtx.Err() != nil {
			st.reason = ReasonTestTimeout
			if ctx.Err() != nil {
				st.reason = ReasonRunCancelled
			}
		}
		result.Steps = append(result.Steps, o.conclude(tc.Name, sr))

		if st != nil {
			halted = st
			result.Aborted = true
			if st.fatal != "" {
				result.FatalError = st.fatal
			}
			o.logger.Warnf("run %s: stopping after step %d: %s", result.RunID, step.Number, st.reason)
		}
	}
	return result
}

// runStep loops the attempts of one step until it concludes.
func (o *Orchestrator) runStep(ctx context.Context, tc *types.TestCase, step types.TestStep, vars resolver.Vars, policy *intervention.Policy) (sr types.StepResult, halt *stop) {
	start := time.Now()
	sr = types.StepResult{Number: step.Number, Title: step.Title}
	defer func() { sr.Elapsed = time.Since(start) }()

	ctx, span := tracing.StartSpan(ctx, "test.step",
		tracing.AttrRunID.String(o.settings.RunID),
		tracing.AttrStep.Int(step.Number),
	)
	defer func() {
		span.SetAttributes(tracing.AttrOutcome.String(string(sr.Outcome)))
		tracing.EndWithError(span, nil)
	}()

	var (
		history      []types.Failure
		instructions []string
	)
	for {
		sr.Attempts++
		o.publish(types.NewStepStartEvent(o.settings.RunID, tc.Name, step.Number, sr.Attempts))

		res := o.attempt(ctx, tc, step, vars, sr.Attempts, strings.Join(instructions, "\n"))
		sr.RecordAttempt(res)
		if res.Succeeded() {
			sr.Outcome = types.OutcomeSuccess
			sr.Verdict = res.Verdict
			sr.Failure = nil
			return sr, nil
		}

		failure := *sr.Failure
		metrics.RecordAttemptFailure(string(failure.Kind))
		o.publish(types.NewAttemptFailedEvent(o.settings.RunID, tc.Name, step.Number, sr.Attempts, res.Err))

		if ctx.Err() != nil {
			sr.Outcome = types.OutcomeFailed
			return sr, nil
		}

		history = append(history, failure)
		eval := policy.Evaluate(history)
		o.logger.Infof("step %d attempt %d: %s -> %s (%s)", step.Number, sr.Attempts, failure.Kind, eval.Verdict, eval.Reason)

		switch eval.Verdict {
		case intervention.VerdictRetry:
			o.publish(types.NewRetryScheduledEvent(o.settings.RunID, tc.Name, step.Number, sr.Attempts+1, eval.Recreate))
			if eval.Recreate {
				if st := o.recreate(ctx, tc, &sr); st != nil {
					return sr, st
				}
			}
			continue

		case intervention.VerdictAbort:
			sr.Outcome = types.OutcomeFailed
			return sr, &stop{reason: ReasonSessionUnrecoverable, fatal: failure.Message}
		}

		req := &types.InterventionRequest{
			RunID:          o.settings.RunID,
			TestName:       tc.Name,
			StepNumber:     step.Number,
			StepTitle:      step.Title,
			Reason:         eval.Reason,
			Failure:        &failure,
			Failures:       append([]types.Failure(nil), sr.Failures...),
			Attempts:       sr.Attempts,
			PageURL:        failure.PageURL,
			ScreenshotPath: failure.ScreenshotPath,
		}
		d, err := o.deps.Gateway.Request(ctx, req)
		if err != nil {
			f := types.Failure{
				Kind:    types.FailureStepTimeout,
				Message: fmt.Sprintf("stopped while awaiting intervention: %v", err),
				Attempt: sr.Attempts,
			}
			sr.Failures = append(sr.Failures, f)
			sr.Failure = &f
			sr.Outcome = types.OutcomeFailed
			return sr, nil
		}
		sr.Interventions = append(sr.Interventions, d)
		o.logger.Infof("step %d: intervention %s by %s", step.Number, d.Action, d.Source)

		switch d.Action {
		case types.InterventionRetry:
			history = nil
			if d.AdditionalInstructions != "" {
				instructions = append(instructions, d.AdditionalInstructions)
			}
			if failure.Kind == types.FailureSessionCrashed {
				if st := o.recreate(ctx, tc, &sr); st != nil {
					return sr, st
				}
			}

		case types.InterventionSkip:
			sr.Outcome = types.OutcomeSkipped
			sr.SkipReason = decisionReason(d, "skipped")
			return sr, nil

		case types.InterventionOverride:
			sr.Outcome = types.OutcomeHumanResolved
			sr.Override = &types.Override{At: time.Now(), Passed: d.Passed, Message: d.Message}
			return sr, nil

		default:
			sr.Outcome = types.OutcomeFailed
			return sr, &stop{reason: decisionReason(d, ReasonAborted)}
		}
	}
}

// attempt runs one attempt on the current page handle.
func (o *Orchestrator) attempt(ctx context.Context, tc *types.TestCase, step types.TestStep, vars resolver.Vars, number int, instructions string) *types.AttemptResult {
	page, err := o.deps.Session.Page()
	if err != nil {
		return &types.AttemptResult{
			Attempt: number,
			Err:     types.NewStepError(types.FailureSessionCrashed, step.Number, err, "no usable browser page"),
		}
	}
	return o.deps.Runner.Run(ctx, runner.Attempt{
		Session:      o.deps.Session,
		Page:         page,
		Vars:         vars,
		RunID:        o.settings.RunID,
		TestName:     tc.Name,
		Objective:    tc.Objective,
		Instructions: instructions,
		Step:         step,
		Number:       number,
	})
}

// recreate rebuilds the browser session. Failure to do so ends the run.
func (o *Orchestrator) recreate(ctx context.Context, tc *types.TestCase, sr *types.StepResult) *stop {
	o.logger.Warnf("step %d: recreating browser session", sr.Number)
	if err := o.deps.Session.RecreateSession(ctx); err != nil {
		f := types.FailureFromError(
			types.NewStepError(types.FailureSessionUnrecoverable, sr.Number, err, "browser session could not be recreated"),
			sr.Attempts)
		sr.Failures = append(sr.Failures, *f)
		sr.Failure = f
		sr.Outcome = types.OutcomeFailed
		return &stop{reason: ReasonSessionUnrecoverable, fatal: f.Message}
	}
	metrics.RecordSessionRecreated()
	o.publish(types.NewSessionRecreatedEvent(o.settings.RunID, tc.Name, sr.Number))
	return nil
}

// conclude freezes a step result and reports it.
func (o *Orchestrator) conclude(testName string, sr types.StepResult) types.StepResult {
	metrics.RecordStep(string(sr.Outcome), sr.Elapsed)
	o.publish(types.NewStepEndEvent(o.settings.RunID, testName, &sr))
	return sr
}

func (o *Orchestrator) vars(tc *types.TestCase) resolver.Vars {
	if o.settings.Environment != nil {
		return o.settings.Environment.TemplateVars(tc.CustomData)
	}
	vars := resolver.Vars{}
	if tc.CustomData != nil {
		vars["custom_data"] = tc.CustomData
	}
	return vars
}

func (o *Orchestrator) timeout(tc *types.TestCase) time.Duration {
	if tc.TimeoutSeconds > 0 {
		return time.Duration(tc.TimeoutSeconds) * time.Second
	}
	return o.settings.Timeout
}

func (o *Orchestrator) environmentName(tc *types.TestCase) string {
	if o.settings.Environment != nil {
		return o.settings.Environment.Name
	}
	return tc.Environment
}

func (o *Orchestrator) publish(event *types.RunEvent) {
	if o.deps.Events != nil {
		o.deps.Events.Publish(event)
	}
}

func skipAll(steps []types.TestStep, reason string) []types.StepResult {
	out := make([]types.StepResult, 0, len(steps))
	for _, step := range steps {
		out = append(out, types.SkippedStep(step, reason))
	}
	return out
}

func decisionReason(d types.InterventionDecision, fallback string) string {
	if d.Message != "" {
		return d.Message
	}
	return fmt.Sprintf("%s by %s", fallback, d.Source)
}

func summarize(r *types.TestResult) string {
	counts := r.Counts()
	passed := 0
	for i := range r.Steps {
		if r.Steps[i].Passed() {
			passed++
		}
	}
	msg := fmt.Sprintf("%d/%d steps passed (%d failed, %d skipped, %d human-resolved)",
		passed, len(r.Steps), counts[types.OutcomeFailed], counts[types.OutcomeSkipped], counts[types.OutcomeHumanResolved])
	if r.FatalError != "" {
		msg += ": " + r.FatalError
	}
	return msg
}
