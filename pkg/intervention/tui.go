package intervention

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/entrhq/testpilot/pkg/types"
)

// errPromptCancelled is returned when the picker is closed without a choice.
var errPromptCancelled = errors.New("intervention prompt cancelled")

// choice is one entry of the picker.
type choice struct {
	label    string
	action   types.InterventionAction
	passed   bool
	needText bool
}

var choices = []choice{
	{label: "Retry the step", action: types.InterventionRetry},
	{label: "Retry with instructions", action: types.InterventionRetry, needText: true},
	{label: "Skip this step", action: types.InterventionSkip},
	{label: "Mark step passed", action: types.InterventionOverride, passed: true, needText: true},
	{label: "Mark step failed", action: types.InterventionOverride, needText: true},
	{label: "Abort the test", action: types.InterventionAbort},
}

// pickerModel is the bubbletea model of the intervention picker.
type pickerModel struct {
	req      *types.InterventionRequest
	input    textinput.Model
	decision *types.InterventionDecision
	cursor   int
	typing   bool
}

func newPickerModel(req *types.InterventionRequest) pickerModel {
	ti := textinput.New()
	ti.Placeholder = "optional note or instructions"
	ti.CharLimit = 500
	ti.Width = 60
	return pickerModel{req: req, input: ti}
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		if m.typing {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if m.typing {
		switch keyMsg.String() {
		case "enter":
			m.choose(strings.TrimSpace(m.input.Value()))
			return m, tea.Quit
		case "esc":
			m.typing = false
			m.input.Blur()
			m.input.SetValue("")
			return m, nil
		case "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch keyMsg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j", "tab":
		if m.cursor < len(choices)-1 {
			m.cursor++
		}
	case "enter":
		if choices[m.cursor].needText {
			m.typing = true
			return m, m.input.Focus()
		}
		m.choose("")
		return m, tea.Quit
	case "ctrl+c", "esc", "q":
		return m, tea.Quit
	}
	return m, nil
}

// choose records the decision for the highlighted choice.
func (m *pickerModel) choose(text string) {
	c := choices[m.cursor]
	var d types.InterventionDecision
	switch c.action {
	case types.InterventionRetry:
		d = types.NewRetryDecision(types.SourceHuman, text)
	case types.InterventionSkip:
		d = types.NewSkipDecision(types.SourceHuman, text)
	case types.InterventionOverride:
		d = types.NewOverrideDecision(c.passed, text)
	default:
		d = types.NewAbortDecision(types.SourceHuman, text)
	}
	m.decision = &d
}

func (m pickerModel) View() string {
	var b strings.Builder
	b.WriteString(RenderRequest(m.req))
	b.WriteString("\n\n")

	for i, c := range choices {
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("› " + c.label))
		} else {
			b.WriteString("  " + c.label)
		}
		b.WriteString("\n")
	}

	if m.typing {
		b.WriteString("\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(hintStyle.Render("Enter: submit • Esc: back"))
	} else {
		b.WriteString("\n")
		b.WriteString(hintStyle.Render("↑/↓: choose • Enter: select • Esc: leave unanswered"))
	}
	return b.String()
}

// TUIPrompter asks for decisions with an interactive picker.
type TUIPrompter struct {
	in  io.Reader
	out io.Writer
}

// NewTUIPrompter creates a picker-based prompter on the given terminal.
func NewTUIPrompter(in io.Reader, out io.Writer) *TUIPrompter {
	return &TUIPrompter{in: in, out: out}
}

// Prompt runs the picker for req until a choice is made or ctx ends.
func (p *TUIPrompter) Prompt(ctx context.Context, req *types.InterventionRequest) (types.InterventionDecision, error) {
	program := tea.NewProgram(newPickerModel(req),
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
	)
	final, err := program.Run()
	if err != nil {
		if ctx.Err() != nil {
			return types.InterventionDecision{}, ctx.Err()
		}
		return types.InterventionDecision{}, fmt.Errorf("failed to run intervention picker: %w", err)
	}

	m, ok := final.(pickerModel)
	if !ok || m.decision == nil {
		return types.InterventionDecision{}, errPromptCancelled
	}
	return *m.decision, nil
}
