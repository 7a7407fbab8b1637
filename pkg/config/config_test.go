package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/testpilot/pkg/types"
)

const sampleConfig = `
environments:
  test:
    base_url: "https://test.example.com"
    credentials:
      phone: "18600000000"
    custom_vars:
      locale: "zh-CN"
  broken:
    credentials:
      phone: "x"
default_environment: test
llm_config:
  model: "gpt-4o"
  temperature: 0.3
step_timeout: 120
unknown_key: ignored
intervention:
  timeout: 30
  fallback: skip-step
`

func TestParseAppliesDefaultsAndIgnoresUnknownKeys(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 0.3, cfg.LLM.Temperature)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 120, cfg.StepTimeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.True(t, cfg.UseVision)
	assert.True(t, cfg.Intervention.IsEnabled())
	assert.Equal(t, types.InterventionSkip, cfg.Intervention.Fallback)
	assert.Equal(t, "test", cfg.Environments["test"].Name)
}

func TestDefaultStepTimeoutIsTenMinutes(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 600, cfg.StepTimeout)
	assert.Equal(t, "10m0s", cfg.StepTimeoutDuration().String())
}

func TestSelect(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	env, err := cfg.Select("")
	require.NoError(t, err)
	assert.Equal(t, "test", env.Name)

	_, err = cfg.Select("broken")
	assert.ErrorContains(t, err, "base_url is required")

	_, err = cfg.Select("staging")
	assert.ErrorContains(t, err, `environment "staging" is not defined`)
}

func TestSelectSingleEnvironmentWithoutDefault(t *testing.T) {
	cfg, err := Parse([]byte("environments:\n  only:\n    base_url: https://x.test\n"))
	require.NoError(t, err)

	env, err := cfg.Select("")
	require.NoError(t, err)
	assert.Equal(t, "only", env.Name)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "zero step timeout", mutate: func(c *Config) { c.StepTimeout = 0 }, wantErr: "step_timeout"},
		{name: "negative retries", mutate: func(c *Config) { c.MaxRetries = -1 }, wantErr: "max_retries"},
		{name: "temperature range", mutate: func(c *Config) { c.LLM.Temperature = 3 }, wantErr: "temperature"},
		{name: "provider", mutate: func(c *Config) { c.LLM.Provider = "bard" }, wantErr: "provider"},
		{
			name:    "retry is not a fallback",
			mutate:  func(c *Config) { c.Intervention.Fallback = types.InterventionRetry },
			wantErr: "intervention.fallback",
		},
		{
			name:    "unknown failure kind",
			mutate:  func(c *Config) { c.Intervention.Transient = []types.FailureKind{"gremlins"} },
			wantErr: "gremlins",
		},
		{
			name: "default environment must exist",
			mutate: func(c *Config) {
				c.Environments["a"] = &Environment{Name: "a", BaseURL: "x"}
				c.DefaultEnvironment = "b"
			},
			wantErr: "default_environment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestTemplateVars(t *testing.T) {
	env := &Environment{
		Name:        "test",
		BaseURL:     "https://test.example.com",
		AdminURL:    "https://admin.example.com",
		Credentials: map[string]any{"phone": "18600000000"},
		CustomVars:  map[string]any{"locale": "zh-CN", "base_url": "shadowed"},
	}

	vars := env.TemplateVars(map[string]any{"order": map[string]any{"id": 42}})

	for path, want := range map[string]string{
		"base_url":             "https://test.example.com",
		"admin_url":            "https://admin.example.com",
		"environment":          "test",
		"credentials.phone":    "18600000000",
		"custom_vars.locale":   "zh-CN",
		"locale":               "zh-CN",
		"custom_data.order.id": "42",
	} {
		got, ok := vars.Lookup(path)
		if !ok {
			t.Errorf("Lookup(%q) missing", path)
			continue
		}
		if got != want {
			t.Errorf("Lookup(%q) = %q, want %q", path, got, want)
		}
	}

	_, ok := vars.Lookup("api_url")
	assert.False(t, ok, "empty api_url is not exposed")
}

func TestMaxRetriesFor(t *testing.T) {
	cfg := DefaultConfig()
	one := 1
	assert.Equal(t, 3, cfg.MaxRetriesFor(&Environment{}))
	assert.Equal(t, 1, cfg.MaxRetriesFor(&Environment{MaxRetries: &one}))
	assert.Equal(t, 3, cfg.MaxRetriesFor(nil))
}

func TestWriteTemplateRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "testpilot.yaml")
	require.NoError(t, WriteTemplate(path))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	cfg, err := Load(path)
	require.NoError(t, err)

	env, err := cfg.Select("")
	require.NoError(t, err)
	assert.Equal(t, "test", env.Name)
	assert.Equal(t, 1, cfg.MaxRetriesFor(cfg.Environments["prod"]))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}
