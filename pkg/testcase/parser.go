// Package testcase parses markdown test cases.
//
// A case is a markdown document with optional YAML front matter:
//
//	---
//	test_name: login
//	environment: test
//	timeout: 300
//	retry_count: 3
//	custom_data:
//	  greeting: hello
//	---
//
//	**Objective:** log in and open the inbox
//
//	### Step 1: open the login page
//	- go to {{base_url}}/#/login
//
//	Expected: the login form is shown
//
//	Expected results:
//	- the inbox is visible
//
// Headings and markers are accepted in English and Chinese ("步骤 1：",
// "目标：", "期待结果:").
package testcase

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/testpilot/pkg/types"
)

var (
	frontMatterPattern = regexp.MustCompile(`(?s)\A\s*---[ \t]*\r?\n(.*?)\r?\n---[ \t]*(?:\r?\n|\z)`)
	stepPattern        = regexp.MustCompile(`(?i)^(?:步骤|step)\s*(\d+)\s*[:：.]?\s*(.*)$`)
	objectivePattern   = regexp.MustCompile(`(?is)^\**\s*(?:目标|objective)\s*[:：]\s*\**\s*(.*)$`)
	expectedPattern    = regexp.MustCompile(`(?is)^\**\s*(?:期待结果|预期结果|期望结果|expected(?: results?)?)\s*[:：]\s*\**\s*(.*)$`)
	expectedHeading    = regexp.MustCompile(`(?i)^(?:期待结果|预期结果|期望结果|expected results?)\s*[:：]?$`)
	inlineExpected     = regexp.MustCompile(`(?i)\s(?:期待结果|预期结果|期望结果|expected)\s*[:：]\s*(.+)$`)
)

// frontMatter is the YAML header of a case.
type frontMatter struct {
	Extra      map[string]any `yaml:",inline"`
	CustomData map[string]any `yaml:"custom_data"`
	TestName   string         `yaml:"test_name"`
	Env        string         `yaml:"environment"`
	Timeout    int            `yaml:"timeout"`
	RetryCount int            `yaml:"retry_count"`
}

// section is what the list items and paragraphs currently belong to.
type section int

const (
	sectionPreamble section = iota
	sectionStep
	sectionExpected
	sectionOther
)

// ParseFile reads and parses the case at path. The file name is the case
// name when neither front matter nor a heading provides one.
func ParseFile(path string) (*types.TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test case: %w", err)
	}
	tc, err := parse(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tc.SourcePath = path
	return tc, nil
}

// Parse parses a markdown case.
func Parse(source []byte) (*types.TestCase, error) {
	return parse(source, "")
}

func parse(source []byte, fallbackName string) (*types.TestCase, error) {
	tc := &types.TestCase{}

	body := source
	if m := frontMatterPattern.FindSubmatchIndex(source); m != nil {
		var fm frontMatter
		if err := yaml.Unmarshal(source[m[2]:m[3]], &fm); err != nil {
			return nil, fmt.Errorf("failed to parse front matter: %w", err)
		}
		tc.Name = fm.TestName
		tc.Environment = fm.Env
		tc.TimeoutSeconds = fm.Timeout
		tc.RetryCount = fm.RetryCount
		tc.CustomData = fm.CustomData
		if len(fm.Extra) > 0 {
			tc.Metadata = fm.Extra
		}
		body = source[m[1]:]
	}

	var (
		firstHeading string
		current      *types.TestStep
		where        = sectionPreamble
	)
	flush := func() {
		if current != nil {
			tc.Steps = append(tc.Steps, *current)
			current = nil
		}
	}

	doc := goldmark.DefaultParser().Parse(text.NewReader(body))
	err := ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch n := node.(type) {
		case *ast.Heading:
			heading := extractText(n, body)
			if m := stepPattern.FindStringSubmatch(heading); m != nil {
				flush()
				number, err := strconv.Atoi(m[1])
				if err != nil {
					return ast.WalkStop, fmt.Errorf("invalid step number in %q", heading)
				}
				current = &types.TestStep{Number: number, Title: strings.TrimSpace(m[2])}
				where = sectionStep
				return ast.WalkSkipChildren, nil
			}
			flush()
			if firstHeading == "" {
				firstHeading = heading
			}
			if expectedHeading.MatchString(heading) {
				where = sectionExpected
			} else {
				where = sectionOther
			}
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph:
			para := rawLines(n, body)
			if m := objectivePattern.FindStringSubmatch(para); m != nil && tc.Objective == "" {
				tc.Objective = strings.TrimSpace(m[1])
				return ast.WalkSkipChildren, nil
			}
			if m := expectedPattern.FindStringSubmatch(para); m != nil {
				rest := strings.TrimSpace(m[1])
				switch {
				case rest == "":
					// The list that follows holds the case-level results.
					flush()
					where = sectionExpected
				case current != nil:
					current.Expected = rest
				default:
					tc.ExpectedResults = append(tc.ExpectedResults, rest)
				}
				return ast.WalkSkipChildren, nil
			}
			switch where {
			case sectionStep:
				current.Description = joinText(current.Description, para)
			case sectionExpected:
				tc.ExpectedResults = append(tc.ExpectedResults, strings.TrimSpace(para))
			}
			return ast.WalkSkipChildren, nil

		case *ast.ListItem:
			item := extractText(n, body)
			if item == "" {
				return ast.WalkSkipChildren, nil
			}
			switch where {
			case sectionStep:
				addStepItem(current, item)
			case sectionExpected:
				tc.ExpectedResults = append(tc.ExpectedResults, item)
			}
			return ast.WalkSkipChildren, nil
		}

		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	flush()

	if tc.Name == "" {
		tc.Name = firstHeading
	}
	if tc.Name == "" {
		tc.Name = fallbackName
	}
	if tc.Name == "" {
		tc.Name = "unnamed test"
	}

	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return tc, nil
}

// rawLines returns the source lines of a block, unrendered.
func rawLines(n ast.Node, source []byte) string {
	var b bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return strings.TrimSpace(b.String())
}

// extractText extracts the inline text of a node.
func extractText(node ast.Node, source []byte) string {
	var sb strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			sb.Write(c.Segment.Value(source))
			if c.SoftLineBreak() || c.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(c.Value)
		case *ast.CodeSpan:
			for gc := c.FirstChild(); gc != nil; gc = gc.NextSibling() {
				if t, ok := gc.(*ast.Text); ok {
					sb.Write(t.Segment.Value(source))
				}
			}
		case *ast.List:
			// Nested lists are flattened into the parent item.
			sb.WriteByte(' ')
			sb.WriteString(extractText(c, source))
		default:
			sb.WriteString(extractText(child, source))
		}
	}
	return strings.TrimSpace(sb.String())
}

// addStepItem adds a bullet to step. A bullet that is an expected line, or
// that swallowed one as a lazy continuation, sets the step expectation.
func addStepItem(step *types.TestStep, item string) {
	if m := expectedPattern.FindStringSubmatch(item); m != nil {
		step.Expected = strings.TrimSpace(m[1])
		return
	}
	if loc := inlineExpected.FindStringSubmatchIndex(item); loc != nil {
		step.Expected = strings.TrimSpace(item[loc[2]:loc[3]])
		item = strings.TrimSpace(item[:loc[0]])
	}
	if item != "" {
		step.Actions = append(step.Actions, item)
	}
}

func joinText(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n" + b
}
