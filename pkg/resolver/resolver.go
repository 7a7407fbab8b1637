// Package resolver substitutes {{path.to.value}} placeholders in step text.
//
// Resolution is pure: the same template and variables always produce the same
// output. Substitution is a single pass, so a value that itself contains
// {{...}} is inserted literally and never expanded. Resolving resolved text
// again is a no-op only when no value contains placeholder syntax; callers
// that re-resolve output must not rely on that for such values.
package resolver

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/entrhq/testpilot/pkg/types"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// Vars is a nested variable tree. Leaves are scalars; branches are maps.
type Vars map[string]any

// UnresolvedVariableError names a placeholder path that does not exist.
type UnresolvedVariableError struct {
	Path string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("unresolved variable %q", e.Path)
}

// Lookup walks a dotted path through v.
func (v Vars) Lookup(path string) (string, bool) {
	var cur any = map[string]any(v)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return "", false
		}
		cur, ok = m[part]
		if !ok {
			return "", false
		}
	}
	return scalarString(cur)
}

// Resolve replaces every placeholder in template in one pass. Values are
// inserted verbatim. The first missing path is reported as
// *UnresolvedVariableError.
func Resolve(template string, vars Vars) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(template, func(token string) string {
		if missing != "" {
			return token
		}
		path := placeholderRe.FindStringSubmatch(token)[1]
		value, ok := vars.Lookup(path)
		if !ok {
			missing = path
			return token
		}
		return value
	})
	if missing != "" {
		return "", &UnresolvedVariableError{Path: missing}
	}
	return out, nil
}

// ResolveAll resolves each template in order.
func ResolveAll(templates []string, vars Vars) ([]string, error) {
	out := make([]string, len(templates))
	for i, tmpl := range templates {
		resolved, err := Resolve(tmpl, vars)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

// Placeholders returns the distinct placeholder paths in template, sorted.
func Placeholders(template string) []string {
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		seen[m[1]] = true
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Missing returns every placeholder path used by the test case that vars
// cannot satisfy, so a run can fail before any browser is started.
func Missing(tc *types.TestCase, vars Vars) []string {
	var missing []string
	seen := make(map[string]bool)
	check := func(text string) {
		for _, p := range Placeholders(text) {
			if seen[p] {
				continue
			}
			seen[p] = true
			if _, ok := vars.Lookup(p); !ok {
				missing = append(missing, p)
			}
		}
	}

	check(tc.Objective)
	for _, step := range tc.Steps {
		check(step.Expected)
		for _, action := range step.Actions {
			check(action)
		}
	}
	return missing
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Vars:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case map[string]any, map[string]string, Vars, []any:
		return "", false
	default:
		return fmt.Sprint(val), true
	}
}
