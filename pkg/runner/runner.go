// Package runner executes one attempt of one test step.
//
// An attempt walks Pending -> Resolving -> Deciding <-> Acting -> Verifying
// and ends Succeeded or Failed. The decide/act/verify span runs under the
// step timeout; every LLM call, browser action and probe receives the step
// context, so expiry unblocks whatever is in flight. The runner reports
// failures as *types.StepError and never retries on its own.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/testpilot/pkg/browser"
	"github.com/entrhq/testpilot/pkg/decision"
	"github.com/entrhq/testpilot/pkg/logging"
	"github.com/entrhq/testpilot/pkg/resolver"
	"github.com/entrhq/testpilot/pkg/tracing"
	"github.com/entrhq/testpilot/pkg/types"
)

// Defaults applied by New for zero settings.
const (
	DefaultStepTimeout  = 600 * time.Second
	DefaultAliveTimeout = 10 * time.Second
	DefaultMaxSteps     = 20

	// screenshotTimeout bounds the closing screenshot of an attempt.
	screenshotTimeout = 15 * time.Second
)

// Session is the health surface of the browser session.
type Session interface {
	VerifyPageState(ctx context.Context) (bool, string)
	DetectAndFollowNewTab(ctx context.Context) (bool, error)
	Alive(ctx context.Context) bool
}

// Page is the borrowed page handle an attempt acts on.
type Page interface {
	Apply(ctx context.Context, action types.Action) error
	Observe(ctx context.Context) (*types.Observation, error)
	Screenshot(ctx context.Context, path string) error
}

// Decider is the decision client.
type Decider interface {
	Decide(ctx context.Context, goal decision.Goal, obs *types.Observation, history []decision.HistoryEntry) (types.Decision, error)
	Verify(ctx context.Context, expected string, obs *types.Observation, history []decision.HistoryEntry) (bool, string, error)
}

// ScreenshotNamer hands out screenshot file paths.
type ScreenshotNamer interface {
	Path(step int, suffix string) string
}

// Settings are the per-run limits of the runner.
type Settings struct {
	StepTimeout  time.Duration
	AliveTimeout time.Duration
	MaxSteps     int
	UseVision    bool
}

// Deps are the collaborators of the runner.
type Deps struct {
	Decider     Decider
	Screenshots ScreenshotNamer
	Logger      *logging.Logger
	Events      types.EventSink
}

// Attempt is the input of one step attempt.
type Attempt struct {
	Session      Session
	Page         Page
	Vars         resolver.Vars
	RunID        string
	TestName     string
	Objective    string
	Instructions string
	Step         types.TestStep
	Number       int
}

// Runner runs step attempts.
type Runner struct {
	deps     Deps
	logger   *logging.Logger
	settings Settings
}

// New creates a Runner.
func New(deps Deps, settings Settings) *Runner {
	if settings.StepTimeout <= 0 {
		settings.StepTimeout = DefaultStepTimeout
	}
	if settings.AliveTimeout <= 0 {
		settings.AliveTimeout = DefaultAliveTimeout
	}
	if settings.MaxSteps <= 0 {
		settings.MaxSteps = DefaultMaxSteps
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		deps:     deps,
		logger:   logger.WithComponent("runner"),
		settings: settings,
	}
}

// Settings returns the effective settings.
func (r *Runner) Settings() Settings {
	return r.settings
}

// Run executes one attempt of a step and returns its record.
func (r *Runner) Run(ctx context.Context, a Attempt) *types.AttemptResult {
	start := time.Now()
	n := a.Step.Number

	ctx, span := tracing.StartSpan(ctx, "step.attempt",
		tracing.AttrRunID.String(a.RunID),
		tracing.AttrStep.Int(n),
		tracing.AttrAttempt.Int(a.Number),
	)

	r.logger.Infof("step %d attempt %d: %s", n, a.Number, a.Step.Title)
	sm := newMachine(r.logger, r.deps.Events, a.RunID, a.TestName, n)
	res := &types.AttemptResult{Attempt: a.Number}

	err := r.run(ctx, sm, a, res)
	if err != nil {
		_ = sm.to(ctx, StateFailed)
		suffix := "failed"
		if kind, _ := types.KindOf(err); kind == types.FailureStepTimeout {
			suffix = "timeout"
		}
		r.capture(ctx, a, res, suffix)
		r.logger.Warnf("step %d attempt %d failed: %v", n, a.Number, err)
	} else {
		r.capture(ctx, a, res, "done")
		r.logger.Infof("step %d attempt %d succeeded: %s", n, a.Number, res.Verdict)
	}

	res.Err = err
	res.Elapsed = time.Since(start)
	if kind, ok := types.KindOf(err); ok {
		span.SetAttributes(tracing.AttrFailure.String(string(kind)))
	}
	tracing.EndWithError(span, err)
	return res
}

func (r *Runner) run(ctx context.Context, sm *machine, a Attempt, res *types.AttemptResult) error {
	n := a.Step.Number

	if err := sm.to(ctx, StateResolving); err != nil {
		return err
	}
	actions, err := resolver.ResolveAll(a.Step.Actions, a.Vars)
	if err != nil {
		return types.NewStepError(types.FailureUnresolvedVariable, n, err, "cannot resolve step actions")
	}
	expected, err := resolver.Resolve(a.Step.Expected, a.Vars)
	if err != nil {
		return types.NewStepError(types.FailureUnresolvedVariable, n, err, "cannot resolve expected result")
	}

	goal := decision.Goal{
		Objective:    a.Objective,
		StepTitle:    a.Step.Title,
		Expected:     expected,
		Instructions: a.Instructions,
		Actions:      actions,
		StepNumber:   n,
	}

	stepCtx, cancel := context.WithTimeout(ctx, r.settings.StepTimeout)
	defer cancel()

	var history []decision.HistoryEntry
	for index := 1; ; index++ {
		if err := sm.to(stepCtx, StateDeciding); err != nil {
			return err
		}
		if err := r.checkPage(stepCtx, a); err != nil {
			return r.fail(ctx, stepCtx, a, err)
		}

		obs, err := a.Page.Observe(stepCtx)
		if err != nil {
			return r.fail(ctx, stepCtx, a, r.browserError(n, types.FailurePageStateInvalid, err, "cannot observe page"))
		}
		res.FinalURL = obs.URL

		d, err := r.deps.Decider.Decide(stepCtx, goal, obs, history)
		if err != nil {
			kind := types.FailureActionFailed
			if decision.IsDecisionError(err) {
				kind = types.FailureDecisionError
			}
			return r.fail(ctx, stepCtx, a, types.NewStepError(kind, n, err, "decision call failed"))
		}

		entry := types.DecisionLogEntry{At: time.Now(), URL: obs.URL, Attempt: a.Number, Index: index}

		switch d := d.(type) {
		case types.Action:
			entry.Action = &d
			if len(history) >= r.settings.MaxSteps {
				entry.Error = "action budget exhausted"
				res.Decisions = append(res.Decisions, entry)
				return types.NewStepError(types.FailureActionBudgetExhausted, n, nil,
					"%d actions taken without completing the step", len(history))
			}
			if err := sm.to(stepCtx, StateActing); err != nil {
				return err
			}
			r.logger.Infof("step %d action %d: %s target=%q value=%q (%s)", n, index, d.Kind, d.Target, d.Value, d.Reason)
			if r.deps.Events != nil {
				r.deps.Events.Publish(types.NewActionEvent(a.RunID, a.TestName, n, d))
			}

			applyErr := a.Page.Apply(stepCtx, d)
			outcome := "ok"
			if applyErr != nil {
				entry.Error = applyErr.Error()
				outcome = "error: " + applyErr.Error()
			}
			res.Decisions = append(res.Decisions, entry)
			if applyErr != nil {
				return r.fail(ctx, stepCtx, a, r.browserError(n, types.FailureActionFailed, applyErr, "action %s failed", d.Kind))
			}
			history = append(history, decision.HistoryEntry{Action: d, Result: outcome})

			if r.settings.UseVision {
				r.screenshot(stepCtx, a, res, fmt.Sprintf("action_%d", index))
			}

		case types.Done:
			entry.Done = &d
			res.Decisions = append(res.Decisions, entry)
			if err := sm.to(stepCtx, StateVerifying); err != nil {
				return err
			}
			if err := r.verify(stepCtx, a, d, expected, history, res); err != nil {
				return r.fail(ctx, stepCtx, a, err)
			}
			return sm.to(ctx, StateSucceeded)

		default:
			return types.NewStepError(types.FailureDecisionError, n, nil, "unexpected decision type %T", d)
		}
	}
}

// checkPage verifies the page, following a new tab once before giving up.
func (r *Runner) checkPage(ctx context.Context, a Attempt) error {
	ok, diag := a.Session.VerifyPageState(ctx)
	if ok {
		return nil
	}
	r.logger.Warnf("step %d: page state not ok: %s", a.Step.Number, diag)

	switched, err := a.Session.DetectAndFollowNewTab(ctx)
	if err != nil {
		r.logger.Warnf("step %d: new tab detection failed: %v", a.Step.Number, err)
	} else if switched {
		r.logger.Infof("step %d: switched to new tab", a.Step.Number)
	}

	if ok, diag = a.Session.VerifyPageState(ctx); ok {
		return nil
	}
	return types.NewStepError(types.FailurePageStateInvalid, a.Step.Number, nil, "%s", diag)
}

func (r *Runner) verify(ctx context.Context, a Attempt, done types.Done, expected string, history []decision.HistoryEntry, res *types.AttemptResult) error {
	n := a.Step.Number
	res.Verdict = done.Verdict

	if !done.Success {
		return types.NewStepError(types.FailureExpectationMismatch, n, nil, "step reported not completed: %s", done.Verdict)
	}
	if expected == "" {
		return nil
	}

	obs, err := a.Page.Observe(ctx)
	if err != nil {
		return r.browserError(n, types.FailurePageStateInvalid, err, "cannot observe page for verification")
	}
	res.FinalURL = obs.URL

	if isAssertion(expected) {
		pass, err := evalAssertion(expected, obs)
		if err != nil {
			return types.NewStepError(types.FailureExpectationMismatch, n, err, "assertion could not be evaluated")
		}
		if !pass {
			return types.NewStepError(types.FailureExpectationMismatch, n, nil, "assertion failed: %s", expected)
		}
		res.Verdict = "assertion passed: " + expected
		return nil
	}

	pass, reason, err := r.deps.Decider.Verify(ctx, expected, obs, history)
	if err != nil {
		kind := types.FailureActionFailed
		if decision.IsDecisionError(err) {
			kind = types.FailureDecisionError
		}
		return types.NewStepError(kind, n, err, "verification call failed")
	}
	if !pass {
		return types.NewStepError(types.FailureExpectationMismatch, n, nil, "expected %q: %s", expected, reason)
	}
	res.Verdict = reason
	return nil
}

// fail turns an error raised under stepCtx into the attempt failure. Context
// expiry wins over whatever the interrupted call reported.
func (r *Runner) fail(ctx, stepCtx context.Context, a Attempt, err error) error {
	n := a.Step.Number

	if ctx.Err() != nil {
		return types.NewStepError(types.FailureStepTimeout, n, ctx.Err(), "run cancelled during step")
	}
	if !errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return err
	}

	timeout := types.NewStepError(types.FailureStepTimeout, n, context.DeadlineExceeded,
		"step did not complete within %s", r.settings.StepTimeout)

	probeCtx, cancel := context.WithTimeout(ctx, r.settings.AliveTimeout)
	defer cancel()
	if a.Session.Alive(probeCtx) {
		return timeout
	}
	return types.NewStepError(types.FailureSessionCrashed, n, timeout, "browser session stopped responding")
}

// browserError classifies a browser call error: a dead browser is a crash,
// anything else gets fallback.
func (r *Runner) browserError(step int, fallback types.FailureKind, err error, format string, args ...any) error {
	if browser.IsFatalBrowserError(err) {
		return types.NewStepError(types.FailureSessionCrashed, step, err, format, args...)
	}
	return types.NewStepError(fallback, step, err, format, args...)
}

// capture takes the closing screenshot of an attempt. It runs after the step
// context is gone, under its own short deadline.
func (r *Runner) capture(ctx context.Context, a Attempt, res *types.AttemptResult, suffix string) {
	if ctx.Err() != nil {
		return
	}
	shotCtx, cancel := context.WithTimeout(ctx, screenshotTimeout)
	defer cancel()
	r.screenshot(shotCtx, a, res, suffix)
}

func (r *Runner) screenshot(ctx context.Context, a Attempt, res *types.AttemptResult, suffix string) {
	if r.deps.Screenshots == nil || a.Page == nil {
		return
	}
	path := r.deps.Screenshots.Path(a.Step.Number, suffix)
	if err := a.Page.Screenshot(ctx, path); err != nil {
		r.logger.Warnf("step %d: screenshot failed: %v", a.Step.Number, err)
		return
	}
	res.Screenshots = append(res.Screenshots, path)
}
