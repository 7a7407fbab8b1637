package intervention

import (
	"context"
	"errors"
	"sync"

	"github.com/entrhq/testpilot/pkg/logging"
	"github.com/entrhq/testpilot/pkg/types"
)

// Resolver accepts decisions for pending requests.
type Resolver interface {
	Resolve(id string, decision types.InterventionDecision) error
}

// Prompter asks a human for one decision.
type Prompter interface {
	Prompt(ctx context.Context, req *types.InterventionRequest) (types.InterventionDecision, error)
}

// Responder attaches a Prompter to a Gateway. It subscribes to the run
// events, queues each pending request and prompts for them one at a time.
type Responder struct {
	resolver Resolver
	prompter Prompter
	logger   *logging.Logger
	queue    chan *types.InterventionRequest
	mu       sync.Mutex
	answered map[string]bool
}

// NewResponder creates a Responder.
func NewResponder(resolver Resolver, prompter Prompter, logger *logging.Logger) *Responder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Responder{
		resolver: resolver,
		prompter: prompter,
		logger:   logger.WithComponent("responder"),
		queue:    make(chan *types.InterventionRequest, 64),
		answered: make(map[string]bool),
	}
}

// Publish implements types.EventSink.
func (r *Responder) Publish(event *types.RunEvent) {
	switch event.Type {
	case types.EventTypeInterventionPending:
		if event.Intervention == nil {
			return
		}
		select {
		case r.queue <- event.Intervention:
		default:
			r.logger.Warnf("intervention queue full; %s must be answered elsewhere", event.Intervention.ID)
		}
	case types.EventTypeInterventionResolved:
		if event.Intervention != nil {
			r.mu.Lock()
			r.answered[event.Intervention.ID] = true
			r.mu.Unlock()
		}
	}
}

// Run prompts for queued requests until ctx ends.
func (r *Responder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-r.queue:
			if r.isAnswered(req.ID) {
				continue
			}
			decision, err := r.prompter.Prompt(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Errorf("prompt for %s failed: %v", req.ID, err)
				continue
			}
			decision.Source = types.SourceHuman
			if err := r.resolver.Resolve(req.ID, decision); err != nil {
				if errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrUnknownRequest) {
					r.logger.Infof("intervention %s was answered elsewhere", req.ID)
					continue
				}
				r.logger.Errorf("failed to resolve %s: %v", req.ID, err)
			}
		}
	}
}

func (r *Responder) isAnswered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answered[id]
}
