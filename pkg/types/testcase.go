package types

import (
	"fmt"
	"sort"
)

// TestCase is a parsed, immutable test case.
type TestCase struct {
	// Metadata holds opaque key/value pairs such as author, date or priority.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CustomData is merged into the variable tree under "custom_data".
	CustomData map[string]any `json:"custom_data,omitempty"`

	Name        string `json:"name"`
	Objective   string `json:"objective,omitempty"`
	Environment string `json:"environment,omitempty"`

	// SourcePath is the file the case was parsed from, if any.
	SourcePath string `json:"source_path,omitempty"`

	Steps []TestStep `json:"steps"`

	// ExpectedResults are case-level expectations listed after the steps.
	ExpectedResults []string `json:"expected_results,omitempty"`

	// TimeoutSeconds and RetryCount come from front matter. Zero means unset.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	RetryCount     int `json:"retry_count,omitempty"`
}

// TestStep is one numbered unit of a test case.
type TestStep struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Expected    string   `json:"expected,omitempty"`
	Actions     []string `json:"actions"`
	Number      int      `json:"number"`
}

// Label returns a short human readable identifier for the step.
func (s TestStep) Label() string {
	if s.Title == "" {
		return fmt.Sprintf("Step %d", s.Number)
	}
	return fmt.Sprintf("Step %d: %s", s.Number, s.Title)
}

// OrderedSteps returns a copy of the steps sorted by step number.
func (tc *TestCase) OrderedSteps() []TestStep {
	steps := make([]TestStep, len(tc.Steps))
	copy(steps, tc.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Number < steps[j].Number
	})
	return steps
}

// Validate checks the structural contract of a test case: at least one step,
// positive step numbers and no duplicates.
func (tc *TestCase) Validate() error {
	if len(tc.Steps) == 0 {
		return fmt.Errorf("test case %q has no steps", tc.Name)
	}

	seen := make(map[int]bool, len(tc.Steps))
	for _, step := range tc.Steps {
		if step.Number <= 0 {
			return fmt.Errorf("test case %q: step number must be positive, got %d", tc.Name, step.Number)
		}
		if seen[step.Number] {
			return fmt.Errorf("test case %q: duplicate step number %d", tc.Name, step.Number)
		}
		seen[step.Number] = true
	}
	return nil
}
