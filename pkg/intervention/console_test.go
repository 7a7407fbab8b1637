package intervention

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/testpilot/pkg/types"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		line         string
		action       types.InterventionAction
		passed       bool
		message      string
		instructions string
	}{
		{line: "r", action: types.InterventionRetry},
		{line: "retry click the SMS login tab first", action: types.InterventionRetry, instructions: "click the SMS login tab first"},
		{line: "  S  ", action: types.InterventionSkip},
		{line: "skip flaky banner", action: types.InterventionSkip, message: "flaky banner"},
		{line: "abort-test", action: types.InterventionAbort},
		{line: "p checked by hand", action: types.InterventionOverride, passed: true, message: "checked by hand"},
		{line: "fail wrong total", action: types.InterventionOverride, message: "wrong total"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			d, err := ParseAnswer(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.passed, d.Passed)
			assert.Equal(t, tt.message, d.Message)
			assert.Equal(t, tt.instructions, d.AdditionalInstructions)
			assert.Equal(t, types.SourceHuman, d.Source)
		})
	}
}

func TestParseAnswerRejects(t *testing.T) {
	for _, line := range []string{"", "   ", "maybe", "x later"} {
		_, err := ParseAnswer(line)
		assert.Error(t, err, line)
	}
}

func TestConsolePrompterRetriesUntilValid(t *testing.T) {
	var out bytes.Buffer
	p := NewConsolePrompter(strings.NewReader("what\nr try the other button\n"), &out)

	d, err := p.Prompt(context.Background(), newRequest(2))
	require.NoError(t, err)
	assert.Equal(t, types.InterventionRetry, d.Action)
	assert.Equal(t, "try the other button", d.AdditionalInstructions)

	assert.Contains(t, out.String(), "enter phone")
	assert.Contains(t, out.String(), `unknown answer "what"`)
}

func TestConsolePrompterEOF(t *testing.T) {
	p := NewConsolePrompter(strings.NewReader(""), io.Discard)

	_, err := p.Prompt(context.Background(), newRequest(1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestConsolePrompterContextCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewConsolePrompter(r, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Prompt(ctx, newRequest(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenderRequest(t *testing.T) {
	req := newRequest(2)
	req.PageURL = "https://test.example.com/login"
	req.Failures = []types.Failure{
		{Kind: types.FailureStepTimeout, Message: "no progress", Attempt: 1},
		{Kind: types.FailureActionFailed, Message: "click failed", Attempt: 2},
	}
	req.Failure = &req.Failures[1]

	out := RenderRequest(req)
	assert.Contains(t, out, "login")
	assert.Contains(t, out, "2. enter phone")
	assert.Contains(t, out, "https://test.example.com/login")
	assert.Contains(t, out, "[action_failed] click failed")
	assert.Contains(t, out, "#1 [step_timeout] no progress")
}

func TestPickerModelChoosesWithInstructions(t *testing.T) {
	m := newPickerModel(newRequest(1))

	next, _ := m.Update(keyPress("down"))
	next, _ = next.Update(keyPress("enter"))
	pm := next.(pickerModel)
	require.True(t, pm.typing)

	pm.input.SetValue("scroll first")
	next, _ = pm.Update(keyPress("enter"))
	pm = next.(pickerModel)

	require.NotNil(t, pm.decision)
	assert.Equal(t, types.InterventionRetry, pm.decision.Action)
	assert.Equal(t, "scroll first", pm.decision.AdditionalInstructions)
}

func TestPickerModelEscapeLeavesUnanswered(t *testing.T) {
	m := newPickerModel(newRequest(1))

	next, cmd := m.Update(keyPress("esc"))
	assert.NotNil(t, cmd)
	assert.Nil(t, next.(pickerModel).decision)
}

func keyPress(name string) tea.KeyMsg {
	switch name {
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	default:
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
}
