package intervention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/testpilot/pkg/types"
)

type fakePrompter struct {
	mu       sync.Mutex
	decision types.InterventionDecision
	err      error
	prompted []string
}

func (f *fakePrompter) Prompt(ctx context.Context, req *types.InterventionRequest) (types.InterventionDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompted = append(f.prompted, req.ID)
	return f.decision, f.err
}

func (f *fakePrompter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompted)
}

func TestResponderAnswersGatewayRequests(t *testing.T) {
	g := NewGateway(Options{Enabled: true})
	prompter := &fakePrompter{decision: types.InterventionDecision{Action: types.InterventionSkip, Source: types.SourcePolicy}}
	r := NewResponder(g, prompter, nil)
	g.SetEvents(r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	d, err := g.Request(ctx, newRequest(2))
	require.NoError(t, err)
	assert.Equal(t, types.InterventionSkip, d.Action)
	assert.Equal(t, types.SourceHuman, d.Source)
	assert.Equal(t, 1, prompter.count())
}

func TestResponderSkipsAnsweredRequests(t *testing.T) {
	g := NewGateway(Options{Enabled: true})
	prompter := &fakePrompter{decision: types.NewSkipDecision(types.SourceHuman, "")}
	r := NewResponder(g, prompter, nil)

	req := newRequest(1)
	req.ID = "answered-elsewhere"
	r.Publish(types.NewInterventionPendingEvent(req))
	r.Publish(types.NewInterventionResolvedEvent(req, types.NewAbortDecision(types.SourceHuman, "")))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Zero(t, prompter.count())
}

func TestResponderSurvivesPromptErrors(t *testing.T) {
	g := NewGateway(Options{Enabled: true})
	prompter := &fakePrompter{err: errors.New("terminal gone")}
	r := NewResponder(g, prompter, nil)

	req := newRequest(1)
	req.ID = "a"
	r.Publish(types.NewInterventionPendingEvent(req))
	req2 := newRequest(2)
	req2.ID = "b"
	r.Publish(types.NewInterventionPendingEvent(req2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	assert.Eventually(t, func() bool { return prompter.count() == 2 }, time.Second, 5*time.Millisecond)
}
