package types

// ActionKind names a browser action the decision client may propose.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate" // ActionNavigate opens Value (or Target) as a URL.
	ActionClick    ActionKind = "click"    // ActionClick clicks the element matched by Target.
	ActionFill     ActionKind = "fill"     // ActionFill types Value into the element matched by Target.
	ActionPress    ActionKind = "press"    // ActionPress sends key Value, optionally focused on Target.
	ActionSelect   ActionKind = "select"   // ActionSelect picks option Value in the select matched by Target.
	ActionHover    ActionKind = "hover"    // ActionHover moves the pointer over Target.
	ActionScroll   ActionKind = "scroll"   // ActionScroll scrolls Target into view, or the page by Value ("up"/"down").
	ActionWait     ActionKind = "wait"     // ActionWait waits for Target to appear, or Value milliseconds.
	ActionGoBack   ActionKind = "go_back"  // ActionGoBack navigates back in history.
)

// KnownActionKinds lists every action kind the browser collaborator can apply.
var KnownActionKinds = []ActionKind{
	ActionNavigate, ActionClick, ActionFill, ActionPress, ActionSelect,
	ActionHover, ActionScroll, ActionWait, ActionGoBack,
}

// RequiresTarget reports whether the kind cannot be applied without a target selector.
func (k ActionKind) RequiresTarget() bool {
	switch k {
	case ActionClick, ActionFill, ActionSelect, ActionHover:
		return true
	default:
		return false
	}
}

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	for _, known := range KnownActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Decision is the result of one decision call. It is either an Action or Done.
type Decision interface {
	isDecision()
}

// Action is a single browser action proposed by the decision client.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Target string     `json:"target,omitempty"`
	Value  string     `json:"value,omitempty"`

	// Reason is the model's short justification, kept for the decision log.
	Reason string `json:"reason,omitempty"`
}

// Done is the terminal verdict for a step.
type Done struct {
	Verdict string `json:"verdict"`
	Success bool   `json:"success"`
}

func (Action) isDecision() {}
func (Done) isDecision()   {}
