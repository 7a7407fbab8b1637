package intervention

import (
	"context"
	"time"

	"github.com/entrhq/testpilot/pkg/metrics"
	"github.com/entrhq/testpilot/pkg/types"
)

// waitForDecision suspends until the request is answered, the timeout
// applies the fallback, or ctx ends.
func (g *Gateway) waitForDecision(ctx context.Context, req *types.InterventionRequest, response chan types.InterventionDecision) (types.InterventionDecision, error) {
	var timeout <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var decision types.InterventionDecision
	select {
	case <-ctx.Done():
		g.logger.Warnf("intervention %s abandoned: %v", req.ID, ctx.Err())
		return types.InterventionDecision{}, ctx.Err()

	case <-timeout:
		if answered, ok := g.closeRequest(req.ID, response); ok {
			decision = answered
			break
		}
		decision = g.fallbackDecision("intervention timed out after " + g.timeout.String())
		g.logger.Warnf("intervention %s timed out; applying fallback %s", req.ID, decision.Action)

	case decision = <-response:
		g.logger.Infof("intervention %s resolved: %s by %s", req.ID, decision.Action, decision.Source)
	}

	g.publish(types.NewInterventionResolvedEvent(req, decision))
	metrics.RecordIntervention(string(decision.Action), string(decision.Source))
	return decision, nil
}

// closeRequest stops accepting answers for id. An answer that arrived while
// the timeout fired still wins.
func (g *Gateway) closeRequest(id string, response chan types.InterventionDecision) (types.InterventionDecision, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.pending, id)
	g.resolved[id] = true
	select {
	case d := <-response:
		return d, true
	default:
		return types.InterventionDecision{}, false
	}
}
