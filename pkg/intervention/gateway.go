// Package intervention decides what happens after a failed step attempt.
//
// The Policy classifies failures through one configurable table and picks
// automatic retry or escalation. Escalations go through the Gateway: a
// message-passing rendezvous where the run suspends on a pending request
// until some channel (console prompt, TUI, HTTP or WebSocket) resolves it,
// the optional timeout applies the fallback, or the context ends.
package intervention

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/testpilot/pkg/logging"
	"github.com/entrhq/testpilot/pkg/metrics"
	"github.com/entrhq/testpilot/pkg/types"
)

var (
	ErrUnknownRequest  = errors.New("no pending intervention with that id")
	ErrAlreadyResolved = errors.New("intervention already resolved")
	ErrInvalidDecision = errors.New("invalid intervention decision")
)

// Options configures a Gateway.
type Options struct {
	Events types.EventSink
	Logger *logging.Logger

	// Fallback is applied when no human is available or the timeout expires.
	Fallback types.InterventionAction

	// Timeout bounds the wait for a human; zero waits until ctx ends.
	Timeout time.Duration

	// Enabled reports whether any human channel is attached.
	Enabled bool
}

// Gateway is the intervention rendezvous.
type Gateway struct {
	mu       sync.Mutex
	pending  map[string]*pendingRequest
	resolved map[string]bool
	events   types.EventSink
	logger   *logging.Logger
	fallback types.InterventionAction
	timeout  time.Duration
	enabled  bool
}

// pendingRequest tracks a request waiting for its decision.
type pendingRequest struct {
	req      *types.InterventionRequest
	response chan types.InterventionDecision
}

// NewGateway creates a Gateway.
func NewGateway(opts Options) *Gateway {
	if opts.Fallback == "" {
		opts.Fallback = types.InterventionAbort
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Gateway{
		pending:  make(map[string]*pendingRequest),
		resolved: make(map[string]bool),
		events:   opts.Events,
		logger:   logger.WithComponent("intervention"),
		fallback: opts.Fallback,
		timeout:  opts.Timeout,
		enabled:  opts.Enabled,
	}
}

// SetEvents replaces the event sink. It must be called before the first Request.
func (g *Gateway) SetEvents(events types.EventSink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = events
}

// Request registers req, announces it and waits for the decision. The
// returned error is non-nil only when ctx ended first.
func (g *Gateway) Request(ctx context.Context, req *types.InterventionRequest) (types.InterventionDecision, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	if !g.enabled {
		decision := g.fallbackDecision("no human available")
		g.logger.Warnf("step %d: %s; applying fallback %s", req.StepNumber, req.Reason, decision.Action)
		g.publish(types.NewInterventionResolvedEvent(req, decision))
		metrics.RecordIntervention(string(decision.Action), string(decision.Source))
		return decision, nil
	}

	response := make(chan types.InterventionDecision, 1)
	g.register(req, response)
	defer g.unregister(req.ID)

	done := metrics.InterventionPending()
	defer done()

	g.logger.Infof("step %d: waiting for intervention %s: %s", req.StepNumber, req.ID, req.Reason)
	g.publish(types.NewInterventionPendingEvent(req))

	return g.waitForDecision(ctx, req, response)
}

// Resolve answers the pending request id. The first resolution wins.
func (g *Gateway) Resolve(id string, decision types.InterventionDecision) error {
	if !decision.Action.Valid() {
		return fmt.Errorf("%w: action %q", ErrInvalidDecision, decision.Action)
	}
	if decision.Source == "" {
		decision.Source = types.SourceHuman
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resolved[id] {
		return ErrAlreadyResolved
	}
	p, ok := g.pending[id]
	if !ok {
		return ErrUnknownRequest
	}

	select {
	case p.response <- decision:
		g.resolved[id] = true
		return nil
	default:
		return ErrAlreadyResolved
	}
}

// Pending lists the open requests, oldest first.
func (g *Gateway) Pending() []*types.InterventionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*types.InterventionRequest, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns the open request id.
func (g *Gateway) Get(id string) (*types.InterventionRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[id]
	if !ok {
		return nil, false
	}
	return p.req, true
}

// Enabled reports whether a human can answer.
func (g *Gateway) Enabled() bool {
	return g.enabled
}

func (g *Gateway) register(req *types.InterventionRequest, response chan types.InterventionDecision) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[req.ID] = &pendingRequest{req: req, response: response}
}

// unregister removes the request. Later Resolve calls for its id report
// ErrAlreadyResolved rather than ErrUnknownRequest.
func (g *Gateway) unregister(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, id)
	g.resolved[id] = true
}

func (g *Gateway) fallbackDecision(why string) types.InterventionDecision {
	msg := fmt.Sprintf("%s: fallback %s", why, g.fallback)
	if g.fallback == types.InterventionSkip {
		return types.NewSkipDecision(types.SourceFallback, msg)
	}
	return types.NewAbortDecision(types.SourceFallback, msg)
}

func (g *Gateway) publish(event *types.RunEvent) {
	g.mu.Lock()
	events := g.events
	g.mu.Unlock()
	if events != nil {
		events.Publish(event)
	}
}
