package intervention

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/entrhq/testpilot/pkg/types"
)

const consoleHint = "[r]etry [instructions] | [s]kip | [a]bort | [p]ass [note] | [f]ail [note]"

// ConsolePrompter asks for decisions on a line-oriented terminal.
type ConsolePrompter struct {
	in    io.Reader
	out   io.Writer
	lines chan string
	once  sync.Once
}

// NewConsolePrompter creates a prompter reading answers from in.
func NewConsolePrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	return &ConsolePrompter{in: in, out: out, lines: make(chan string)}
}

// Prompt shows req and reads answers until one parses.
func (p *ConsolePrompter) Prompt(ctx context.Context, req *types.InterventionRequest) (types.InterventionDecision, error) {
	p.once.Do(p.startReader)

	fmt.Fprintln(p.out, RenderRequest(req))
	fmt.Fprintln(p.out, hintStyle.Render(consoleHint))

	for {
		fmt.Fprint(p.out, "> ")
		select {
		case <-ctx.Done():
			return types.InterventionDecision{}, ctx.Err()
		case line, ok := <-p.lines:
			if !ok {
				return types.InterventionDecision{}, io.EOF
			}
			decision, err := ParseAnswer(line)
			if err != nil {
				fmt.Fprintln(p.out, errorStyle.Render(err.Error()))
				continue
			}
			return decision, nil
		}
	}
}

func (p *ConsolePrompter) startReader() {
	go func() {
		defer close(p.lines)
		scanner := bufio.NewScanner(p.in)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
	}()
}

// ParseAnswer parses a typed answer such as "r click the second button" or
// "p verified manually".
func ParseAnswer(line string) (types.InterventionDecision, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return types.InterventionDecision{}, fmt.Errorf("empty answer; expected %s", consoleHint)
	}

	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(word) {
	case "r", "retry":
		return types.NewRetryDecision(types.SourceHuman, rest), nil
	case "s", "skip", "skip-step":
		return types.NewSkipDecision(types.SourceHuman, rest), nil
	case "a", "abort", "abort-test":
		return types.NewAbortDecision(types.SourceHuman, rest), nil
	case "p", "pass":
		return types.NewOverrideDecision(true, rest), nil
	case "f", "fail":
		return types.NewOverrideDecision(false, rest), nil
	default:
		return types.InterventionDecision{}, fmt.Errorf("unknown answer %q; expected %s", word, consoleHint)
	}
}
