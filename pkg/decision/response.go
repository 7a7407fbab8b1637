package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/entrhq/testpilot/pkg/types"
)

var (
	thinkingRe = regexp.MustCompile(`(?is)<(thinking|think)>.*?</(thinking|think)>`)
	fenceRe    = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
)

// DecisionError reports a response that is not a valid decision.
type DecisionError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *DecisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid decision: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid decision: %s", e.Reason)
}

func (e *DecisionError) Unwrap() error {
	return e.Err
}

// wireDecision is the JSON shape the model is asked to produce.
type wireDecision struct {
	Success *bool  `json:"success"`
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Target  string `json:"target"`
	Value   string `json:"value"`
	Reason  string `json:"reason"`
	Verdict string `json:"verdict"`
}

// ParseDecision validates a raw model response into an Action or Done.
func ParseDecision(raw string) (types.Decision, error) {
	w, err := decodeWire(raw)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(w.Type) {
	case "action":
		kind := types.ActionKind(strings.ToLower(strings.TrimSpace(w.Kind)))
		if !kind.Valid() {
			return nil, &DecisionError{Raw: raw, Reason: fmt.Sprintf("unknown action kind %q", w.Kind)}
		}
		target := strings.TrimSpace(w.Target)
		if kind.RequiresTarget() && target == "" {
			return nil, &DecisionError{Raw: raw, Reason: fmt.Sprintf("action %q requires a target", kind)}
		}
		if kind == types.ActionNavigate && target == "" && strings.TrimSpace(w.Value) == "" {
			return nil, &DecisionError{Raw: raw, Reason: "navigate requires a url"}
		}
		if kind == types.ActionFill && w.Value == "" {
			return nil, &DecisionError{Raw: raw, Reason: "fill requires a value"}
		}
		return types.Action{Kind: kind, Target: target, Value: w.Value, Reason: w.Reason}, nil

	case "done":
		if w.Success == nil {
			return nil, &DecisionError{Raw: raw, Reason: "done requires a boolean success field"}
		}
		return types.Done{Success: *w.Success, Verdict: w.Verdict}, nil

	default:
		return nil, &DecisionError{Raw: raw, Reason: fmt.Sprintf("unknown decision type %q", w.Type)}
	}
}

// ParseVerdict validates a verification response. It uses the done shape.
func ParseVerdict(raw string) (pass bool, reason string, err error) {
	w, err := decodeWire(raw)
	if err != nil {
		return false, "", err
	}
	if w.Success == nil {
		return false, "", &DecisionError{Raw: raw, Reason: "verification requires a boolean success field"}
	}
	return *w.Success, w.Verdict, nil
}

func decodeWire(raw string) (*wireDecision, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, &DecisionError{Raw: raw, Reason: "no JSON object in response"}
	}

	var w wireDecision
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&w); err != nil {
		return nil, &DecisionError{Raw: raw, Reason: "malformed JSON", Err: err}
	}
	return &w, nil
}

// extractJSON strips reasoning blocks and code fences and returns the first
// balanced JSON object.
func extractJSON(raw string) string {
	text := thinkingRe.ReplaceAllString(raw, "")
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case ch == '{' && !inString:
			depth++
		case ch == '}' && !inString:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
