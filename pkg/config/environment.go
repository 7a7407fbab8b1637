package config

import (
	"fmt"
	"strings"

	"github.com/entrhq/testpilot/pkg/resolver"
)

// Environment is one named target the tests can run against.
type Environment struct {
	Credentials map[string]any `yaml:"credentials" json:"-"`
	CustomVars  map[string]any `yaml:"custom_vars" json:"custom_vars,omitempty"`

	// MaxRetries overrides the global max_retries for this environment.
	MaxRetries *int `yaml:"max_retries" json:"max_retries,omitempty"`

	Name     string `yaml:"-" json:"name"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
	AdminURL string `yaml:"admin_url" json:"admin_url,omitempty"`
	APIURL   string `yaml:"api_url" json:"api_url,omitempty"`
}

// Validate checks the keys every run needs.
func (e *Environment) Validate() error {
	if strings.TrimSpace(e.BaseURL) == "" {
		return fmt.Errorf("environment %q: base_url is required", e.Name)
	}
	if e.MaxRetries != nil && *e.MaxRetries < 0 {
		return fmt.Errorf("environment %q: max_retries cannot be negative", e.Name)
	}
	return nil
}

// TemplateVars builds the variable tree used to resolve step text.
//
// URLs and the environment name sit at the top level, credentials and
// custom_vars are nested, and custom_vars are also flattened to the top
// level unless they collide with a built-in key. customData from the test
// case is nested under custom_data.
func (e *Environment) TemplateVars(customData map[string]any) resolver.Vars {
	vars := resolver.Vars{
		"environment": e.Name,
		"base_url":    e.BaseURL,
	}
	if e.AdminURL != "" {
		vars["admin_url"] = e.AdminURL
	}
	if e.APIURL != "" {
		vars["api_url"] = e.APIURL
	}

	vars["credentials"] = copyTree(e.Credentials)
	vars["custom_vars"] = copyTree(e.CustomVars)
	for k, v := range e.CustomVars {
		if _, builtin := vars[k]; !builtin {
			vars[k] = v
		}
	}

	if len(customData) > 0 {
		vars["custom_data"] = copyTree(customData)
	}
	return vars
}

func copyTree(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copyTree(nested)
			continue
		}
		out[k] = v
	}
	return out
}
