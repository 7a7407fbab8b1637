package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/testpilot/pkg/types"
)

func TestParseDecision_Action(t *testing.T) {
	raw := `{"type":"action","kind":"fill","target":"#phone","value":"18600000000","reason":"enter phone"}`

	d, err := ParseDecision(raw)
	require.NoError(t, err)

	action, ok := d.(types.Action)
	require.True(t, ok, "expected an Action, got %T", d)
	assert.Equal(t, types.ActionFill, action.Kind)
	assert.Equal(t, "#phone", action.Target)
	assert.Equal(t, "18600000000", action.Value)
	assert.Equal(t, "enter phone", action.Reason)
}

func TestParseDecision_Done(t *testing.T) {
	d, err := ParseDecision(`{"type":"done","success":false,"verdict":"login button missing"}`)
	require.NoError(t, err)

	done, ok := d.(types.Done)
	require.True(t, ok)
	assert.False(t, done.Success)
	assert.Equal(t, "login button missing", done.Verdict)
}

func TestParseDecision_ToleratesWrapping(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"fenced", "Here you go:\n```json\n{\"type\":\"action\",\"kind\":\"click\",\"target\":\"text=Login\"}\n```"},
		{"thinking block", "<thinking>the {button} is visible</thinking>{\"type\":\"action\",\"kind\":\"click\",\"target\":\"text=Login\"}"},
		{"prose around", "I will click. {\"type\":\"action\",\"kind\":\"CLICK\",\"target\":\"text=Login\"} done."},
		{"brace in string", `{"type":"action","kind":"click","target":"text=Login","reason":"a } brace"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDecision(tt.raw)
			require.NoError(t, err)
			action, ok := d.(types.Action)
			require.True(t, ok)
			assert.Equal(t, types.ActionClick, action.Kind)
			assert.Equal(t, "text=Login", action.Target)
		})
	}
}

func TestParseDecision_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"no json", "I clicked the button"},
		{"malformed", `{"type":"action","kind":}`},
		{"unknown type", `{"type":"think"}`},
		{"unknown kind", `{"type":"action","kind":"teleport","target":"x"}`},
		{"click without target", `{"type":"action","kind":"click"}`},
		{"fill without value", `{"type":"action","kind":"fill","target":"#a"}`},
		{"navigate without url", `{"type":"action","kind":"navigate"}`},
		{"done without success", `{"type":"done","verdict":"ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDecision(tt.raw)
			assert.Nil(t, d)
			require.Error(t, err)
			assert.True(t, IsDecisionError(err), "expected *DecisionError, got %T", err)
		})
	}
}

func TestParseDecision_NavigateAcceptsValueOrTarget(t *testing.T) {
	for _, raw := range []string{
		`{"type":"action","kind":"navigate","value":"https://example.com"}`,
		`{"type":"action","kind":"navigate","target":"https://example.com"}`,
	} {
		_, err := ParseDecision(raw)
		assert.NoError(t, err, raw)
	}
}

func TestParseVerdict(t *testing.T) {
	pass, reason, err := ParseVerdict(`{"type":"done","success":true,"verdict":"welcome banner shown"}`)
	require.NoError(t, err)
	assert.True(t, pass)
	assert.Equal(t, "welcome banner shown", reason)

	_, _, err = ParseVerdict(`{"verdict":"unsure"}`)
	assert.True(t, IsDecisionError(err))
}

func TestGoalString(t *testing.T) {
	g := Goal{
		Objective:    "Log in",
		StepTitle:    "Submit credentials",
		StepNumber:   2,
		Actions:      []string{"Fill phone", "Click Login"},
		Expected:     "Dashboard is shown",
		Instructions: "use the second button",
	}
	s := g.String()
	assert.Contains(t, s, "Test objective: Log in")
	assert.Contains(t, s, "Current step 2: Submit credentials")
	assert.Contains(t, s, "1. Fill phone")
	assert.Contains(t, s, "2. Click Login")
	assert.Contains(t, s, "Expected result: Dashboard is shown")
	assert.Contains(t, s, "use the second button")
}
