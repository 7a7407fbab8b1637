package runner

import (
	"context"
	"fmt"

	"github.com/entrhq/testpilot/pkg/logging"
	"github.com/entrhq/testpilot/pkg/tracing"
	"github.com/entrhq/testpilot/pkg/types"
)

// State is a step attempt state.
type State string

const (
	StatePending   State = "pending"
	StateResolving State = "resolving"
	StateDeciding  State = "deciding"
	StateActing    State = "acting"
	StateVerifying State = "verifying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// transitions lists the legal successor states. Every non-terminal state
// may fail.
var transitions = map[State][]State{
	StatePending:   {StateResolving, StateFailed},
	StateResolving: {StateDeciding, StateFailed},
	StateDeciding:  {StateActing, StateVerifying, StateFailed},
	StateActing:    {StateDeciding, StateFailed},
	StateVerifying: {StateSucceeded, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks the state of one attempt and reports every transition.
type machine struct {
	logger   *logging.Logger
	sink     types.EventSink
	state    State
	runID    string
	testName string
	path     []State
	step     int
}

func newMachine(logger *logging.Logger, sink types.EventSink, runID, testName string, step int) *machine {
	return &machine{
		logger:   logger,
		sink:     sink,
		state:    StatePending,
		runID:    runID,
		testName: testName,
		step:     step,
		path:     []State{StatePending},
	}
}

// to moves the machine to next. An illegal transition is a programming
// error and is returned rather than applied.
func (m *machine) to(ctx context.Context, next State) error {
	if !CanTransition(m.state, next) {
		err := fmt.Errorf("illegal step transition %s -> %s", m.state, next)
		m.logger.Errorf("step %d: %v", m.step, err)
		return err
	}

	m.logger.Debugf("step %d: %s -> %s", m.step, m.state, next)
	tracing.AddEvent(ctx, "transition",
		tracing.AttrStep.Int(m.step),
		tracing.AttrState.String(string(next)),
	)
	m.state = next
	m.path = append(m.path, next)
	if m.sink != nil {
		m.sink.Publish(types.NewStepStateEvent(m.runID, m.testName, m.step, string(next)))
	}
	return nil
}
