package decision

import (
	"fmt"
	"strings"

	"github.com/entrhq/testpilot/pkg/types"
)

const decideSystemPrompt = `You operate a web browser to carry out one step of a manual test case.

You receive the test objective, the current step, the current page and the
actions already taken for this step. Reply with exactly one JSON object and
nothing else.

To act:
{"type":"action","kind":"<kind>","target":"<selector>","value":"<text>","reason":"<short reason>"}

Kinds:
- navigate: open a URL (put it in value)
- click: click target
- fill: type value into target
- press: press key value (e.g. "Enter"), optionally on target
- select: choose option value in the select target
- hover: move the mouse over target
- scroll: scroll target into view, or value "down"/"up"
- wait: wait for target to appear, or value milliseconds
- go_back: navigate back

Targets are Playwright selectors. Prefer text=..., role=..., placeholder
attributes or ids taken from the interactive element list.

When every action of the step has been carried out, reply:
{"type":"done","success":true,"verdict":"<what you observed>"}

If the step cannot be completed, reply:
{"type":"done","success":false,"verdict":"<why>"}`

const verifySystemPrompt = `You check whether a web page satisfies the expected result of a test step.
Reply with exactly one JSON object:
{"type":"done","success":<true|false>,"verdict":"<short justification>"}`

// Goal is the resolved instruction for one step attempt.
type Goal struct {
	Objective    string
	StepTitle    string
	Expected     string
	Instructions string
	Actions      []string
	StepNumber   int
}

// HistoryEntry is one earlier round of the current step.
type HistoryEntry struct {
	Action types.Action
	Result string
}

// String renders the goal as the task text sent to the model.
func (g Goal) String() string {
	var b strings.Builder
	if g.Objective != "" {
		fmt.Fprintf(&b, "Test objective: %s\n\n", g.Objective)
	}
	fmt.Fprintf(&b, "Current step %d: %s\n", g.StepNumber, g.StepTitle)
	if len(g.Actions) > 0 {
		b.WriteString("Actions to perform, in order:\n")
		for i, a := range g.Actions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, a)
		}
	}
	if g.Expected != "" {
		fmt.Fprintf(&b, "Expected result: %s\n", g.Expected)
	}
	if g.Instructions != "" {
		fmt.Fprintf(&b, "\nAdditional instructions from the operator: %s\n", g.Instructions)
	}
	b.WriteString("\nOnly perform this step. Do not continue with later steps.")
	return b.String()
}

func renderObservation(obs *types.Observation, content string) string {
	if obs == nil {
		return "Current page: unavailable"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Current page\nURL: %s\nTitle: %s\n", obs.URL, obs.Title)
	if len(obs.Elements) > 0 {
		b.WriteString("\nInteractive elements:\n")
		for _, el := range obs.Elements {
			fmt.Fprintf(&b, "- %s\n", el)
		}
	}
	if content != "" {
		fmt.Fprintf(&b, "\nPage content:\n%s\n", content)
	}
	return b.String()
}

func renderHistory(history []HistoryEntry) string {
	if len(history) == 0 {
		return "No actions taken yet for this step."
	}
	var b strings.Builder
	b.WriteString("Actions already taken for this step:\n")
	for i, h := range history {
		fmt.Fprintf(&b, "%d. %s target=%q value=%q -> %s\n", i+1, h.Action.Kind, h.Action.Target, h.Action.Value, h.Result)
	}
	return b.String()
}
