package runner

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/entrhq/testpilot/pkg/types"
)

// assertPrefix marks an expected result that is checked deterministically
// instead of by the decision client.
const assertPrefix = "assert:"

// isAssertion reports whether expected is an expression assertion.
func isAssertion(expected string) bool {
	return strings.HasPrefix(strings.TrimSpace(expected), assertPrefix)
}

// evalAssertion evaluates an assert: expression against the page. The
// expression sees url, title and text, for example
//
//	assert: url contains "/dashboard" && text contains "Welcome"
func evalAssertion(expected string, obs *types.Observation) (bool, error) {
	exprStr := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(expected), assertPrefix))
	if exprStr == "" {
		return false, fmt.Errorf("empty assertion")
	}

	env := map[string]any{"url": "", "title": "", "text": ""}
	if obs != nil {
		env["url"] = obs.URL
		env["title"] = obs.Title
		env["text"] = obs.Text
	}

	program, err := expr.Compile(exprStr, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile assertion %q: %w", exprStr, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval assertion %q: %w", exprStr, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("assertion %q did not return bool (got %T)", exprStr, output)
	}
	return result, nil
}
