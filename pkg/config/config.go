// Package config loads the YAML run configuration.
//
// Unknown keys are ignored. Required keys for the selected environment are
// checked by Select before any browser session is created.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/testpilot/pkg/types"
)

const (
	DefaultStepTimeout        = 600 // seconds
	DefaultTimeout            = 3600
	DefaultMaxSteps           = 20
	DefaultMaxRetries         = 3
	DefaultDecisionErrorLimit = 2
	DefaultModel              = "gpt-4o-mini"
	DefaultTemperature        = 0.1
	DefaultScreenshotsDir     = "screenshots"
	DefaultOutputDir          = "test-results"
	DefaultServerAddr         = "127.0.0.1:8765"
)

// Config is the root of the configuration file.
type Config struct {
	Environments       map[string]*Environment `yaml:"environments" json:"environments"`
	DefaultEnvironment string                  `yaml:"default_environment" json:"default_environment"`

	LLM LLMConfig `yaml:"llm_config" json:"llm_config"`

	// Timeouts are in seconds.
	Timeout     int `yaml:"timeout" json:"timeout"`
	StepTimeout int `yaml:"step_timeout" json:"step_timeout"`

	MaxSteps   int  `yaml:"max_steps" json:"max_steps"`
	MaxRetries int  `yaml:"max_retries" json:"max_retries"`
	UseVision  bool `yaml:"use_vision" json:"use_vision"`
	Headless   bool `yaml:"headless" json:"headless"`

	ScreenshotsDir string `yaml:"screenshots_dir" json:"screenshots_dir"`
	OutputDir      string `yaml:"output_dir" json:"output_dir"`
	LogDir         string `yaml:"log_dir" json:"log_dir"`
	HistoryDB      string `yaml:"history_db" json:"history_db"`

	Intervention InterventionConfig `yaml:"intervention" json:"intervention"`
	Server       ServerConfig       `yaml:"server" json:"server"`
}

// LLMConfig configures the decision model.
type LLMConfig struct {
	Provider    string  `yaml:"provider" json:"provider"`
	Model       string  `yaml:"model" json:"model"`
	APIKey      string  `yaml:"api_key" json:"-"`
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// RateLimit is the maximum LLM calls per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// MaxObservationTokens caps the page content sent per decision.
	MaxObservationTokens int `yaml:"max_observation_tokens" json:"max_observation_tokens"`
}

// InterventionConfig configures escalation to a human.
type InterventionConfig struct {
	// Enabled is a pointer so an absent key keeps the default (true).
	Enabled *bool `yaml:"enabled" json:"enabled"`

	// Timeout in seconds; 0 waits indefinitely.
	Timeout int `yaml:"timeout" json:"timeout"`

	// Fallback is applied on timeout or when no human is available.
	Fallback types.InterventionAction `yaml:"fallback" json:"fallback"`

	DecisionErrorLimit int `yaml:"decision_error_limit" json:"decision_error_limit"`

	// Transient and NonTransient override the default failure classification.
	Transient    []types.FailureKind `yaml:"transient" json:"transient"`
	NonTransient []types.FailureKind `yaml:"non_transient" json:"non_transient"`
}

// ServerConfig configures the HTTP intervention API.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// IsEnabled reports whether human intervention is available.
func (c InterventionConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TimeoutDuration returns the intervention timeout.
func (c InterventionConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// DefaultConfig returns a configuration with every default applied and no environments.
func DefaultConfig() *Config {
	return &Config{
		Environments: make(map[string]*Environment),
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       DefaultModel,
			Temperature: DefaultTemperature,
		},
		Timeout:        DefaultTimeout,
		StepTimeout:    DefaultStepTimeout,
		MaxSteps:       DefaultMaxSteps,
		MaxRetries:     DefaultMaxRetries,
		UseVision:      true,
		ScreenshotsDir: DefaultScreenshotsDir,
		OutputDir:      DefaultOutputDir,
		Intervention: InterventionConfig{
			Fallback:           types.InterventionAbort,
			DecisionErrorLimit: DefaultDecisionErrorLimit,
		},
		Server: ServerConfig{Addr: DefaultServerAddr},
	}
}

// Load reads and validates a configuration file. Values absent from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration YAML on top of DefaultConfig.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Environments == nil {
		cfg.Environments = make(map[string]*Environment)
	}
	for name, env := range cfg.Environments {
		if env == nil {
			env = &Environment{}
			cfg.Environments[name] = env
		}
		env.Name = name
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}

	if c.StepTimeout <= 0 {
		return fmt.Errorf("step_timeout must be positive")
	}

	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm_config.temperature must be between 0 and 2, got %v", c.LLM.Temperature)
	}

	if c.LLM.Provider != "" && c.LLM.Provider != "openai" {
		return fmt.Errorf("unsupported llm_config.provider: %s (only 'openai' compatible APIs are supported)", c.LLM.Provider)
	}

	if c.Intervention.Timeout < 0 {
		return fmt.Errorf("intervention.timeout cannot be negative")
	}

	if c.Intervention.Fallback == "" {
		c.Intervention.Fallback = types.InterventionAbort
	}
	if c.Intervention.Fallback == types.InterventionRetry || c.Intervention.Fallback == types.InterventionOverride ||
		!c.Intervention.Fallback.Valid() {
		return fmt.Errorf("invalid intervention.fallback: %s (must be 'abort-test' or 'skip-step')", c.Intervention.Fallback)
	}

	for _, kind := range append(append([]types.FailureKind{}, c.Intervention.Transient...), c.Intervention.NonTransient...) {
		if !knownKind(kind) {
			return fmt.Errorf("unknown failure kind in intervention policy: %s", kind)
		}
	}

	if c.DefaultEnvironment != "" && len(c.Environments) > 0 {
		if _, ok := c.Environments[c.DefaultEnvironment]; !ok {
			return fmt.Errorf("default_environment %q is not defined in environments", c.DefaultEnvironment)
		}
	}

	return nil
}

// StepTimeoutDuration returns step_timeout as a duration.
func (c *Config) StepTimeoutDuration() time.Duration {
	return time.Duration(c.StepTimeout) * time.Second
}

// TimeoutDuration returns the overall test timeout; zero means none.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Select returns the named environment, or the default one when name is
// empty. It fails when the environment is missing or lacks required keys.
func (c *Config) Select(name string) (*Environment, error) {
	if name == "" {
		name = c.DefaultEnvironment
	}
	if name == "" && len(c.Environments) == 1 {
		for only := range c.Environments {
			name = only
		}
	}
	if name == "" {
		return nil, fmt.Errorf("no environment selected: set default_environment or pass --env")
	}

	env, ok := c.Environments[name]
	if !ok {
		return nil, fmt.Errorf("environment %q is not defined in config", name)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// MaxRetriesFor returns the retry limit for env, honoring per-environment overrides.
func (c *Config) MaxRetriesFor(env *Environment) int {
	if env != nil && env.MaxRetries != nil {
		return *env.MaxRetries
	}
	return c.MaxRetries
}

func knownKind(kind types.FailureKind) bool {
	switch kind {
	case types.FailureUnresolvedVariable, types.FailurePageStateInvalid, types.FailureStepTimeout,
		types.FailureExpectationMismatch, types.FailureSessionUnrecoverable, types.FailureDecisionError,
		types.FailureActionFailed, types.FailureActionBudgetExhausted, types.FailureSessionCrashed:
		return true
	default:
		return false
	}
}
