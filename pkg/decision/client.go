// Package decision adapts an LLM provider into the per-step decision function.
//
// The client turns a goal, a page observation and the step history into a
// prompt and validates the reply into a types.Decision. Malformed replies
// never reach the step runner: they surface as *DecisionError. The client
// never touches the browser.
package decision

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/entrhq/testpilot/pkg/llm"
	"github.com/entrhq/testpilot/pkg/llm/tokenizer"
	"github.com/entrhq/testpilot/pkg/logging"
	"github.com/entrhq/testpilot/pkg/metrics"
	"github.com/entrhq/testpilot/pkg/tracing"
	"github.com/entrhq/testpilot/pkg/types"
)

// DefaultMaxObservationTokens bounds the page content sent with each call.
const DefaultMaxObservationTokens = 6000

// Client is the decision client.
type Client struct {
	provider       llm.Provider
	tokenizer      *tokenizer.Tokenizer
	limiter        *rate.Limiter
	logger         *logging.Logger
	maxObsTokens   int
	repairAttempts int
}

// Option configures a Client.
type Option func(*Client)

// WithTokenizer sets the tokenizer used to trim observations.
func WithTokenizer(t *tokenizer.Tokenizer) Option {
	return func(c *Client) { c.tokenizer = t }
}

// WithRateLimit limits LLM calls to perSecond; 0 disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithMaxObservationTokens caps the page content tokens per call.
func WithMaxObservationTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxObsTokens = n
		}
	}
}

// WithRepairAttempts sets how many times a malformed reply is sent back to
// the model for correction before a DecisionError is returned.
func WithRepairAttempts(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.repairAttempts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l.WithComponent("decision") }
}

// NewClient creates a decision client over provider.
func NewClient(provider llm.Provider, opts ...Option) *Client {
	c := &Client{
		provider:       provider,
		logger:         logging.Discard(),
		maxObsTokens:   DefaultMaxObservationTokens,
		repairAttempts: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decide asks for the next action, or a Done verdict, for goal.
func (c *Client) Decide(ctx context.Context, goal Goal, obs *types.Observation, history []HistoryEntry) (types.Decision, error) {
	messages := []*types.Message{
		types.NewSystemMessage(decideSystemPrompt),
		types.NewUserMessage(goal.String() + "\n\n" + c.observationText(obs) + "\n" + renderHistory(history)),
	}

	var lastErr error
	for attempt := 0; attempt <= c.repairAttempts; attempt++ {
		raw, err := c.complete(ctx, messages)
		if err != nil {
			return nil, err
		}

		decision, err := ParseDecision(raw)
		if err == nil {
			c.logger.Debugf("step %d decision: %+v", goal.StepNumber, decision)
			return decision, nil
		}

		lastErr = err
		metrics.RecordDecisionError()
		c.logger.Warnf("step %d: %v (raw=%q)", goal.StepNumber, err, truncate(raw, 300))
		messages = append(messages,
			types.NewAssistantMessage(raw),
			types.NewUserMessage(fmt.Sprintf("That reply was rejected: %v. Reply again with exactly one valid JSON object.", err)),
		)
	}
	return nil, lastErr
}

// Verify asks whether the page satisfies expected.
func (c *Client) Verify(ctx context.Context, expected string, obs *types.Observation, history []HistoryEntry) (bool, string, error) {
	messages := []*types.Message{
		types.NewSystemMessage(verifySystemPrompt),
		types.NewUserMessage(fmt.Sprintf("Expected result: %s\n\n%s\n%s", expected, c.observationText(obs), renderHistory(history))),
	}

	raw, err := c.complete(ctx, messages)
	if err != nil {
		return false, "", err
	}
	return ParseVerdict(raw)
}

func (c *Client) complete(ctx context.Context, messages []*types.Message) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", contextOr(ctx, err)
		}
	}

	callCtx, span := tracing.StartSpan(ctx, "llm.complete", attribute.String("llm.model", c.provider.Model()))
	timer := metrics.StartLLMCall()
	reply, err := c.provider.Complete(callCtx, messages)
	timer()
	tracing.EndWithError(span, err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &DecisionError{Reason: "llm call failed", Err: err}
	}
	return reply.Content, nil
}

func (c *Client) observationText(obs *types.Observation) string {
	if obs == nil {
		return renderObservation(nil, "")
	}
	content := obs.Content
	if content == "" {
		content = obs.Text
	}
	return renderObservation(obs, c.tokenizer.Truncate(content, c.maxObsTokens))
}

// contextOr returns the context error when the context is done, err otherwise.
// rate.Limiter reports a would-exceed-deadline condition before the deadline.
func contextOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return context.DeadlineExceeded
	}
	return err
}

// IsDecisionError reports whether err is a malformed-response error.
func IsDecisionError(err error) bool {
	var de *DecisionError
	return errors.As(err, &de)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
