package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Template is the configuration written by init-config.
const Template = `# testpilot configuration
environments:
  test:
    base_url: "https://test.example.com"
    admin_url: "https://test-admin.example.com"
    api_url: "https://test-api.example.com"
    credentials:
      phone: "18600000000"
      code: "123456"
    custom_vars:
      debug_mode: true

  prod:
    base_url: "https://www.example.com"
    credentials:
      phone: "prod_phone"
      code: "prod_code"
    custom_vars:
      debug_mode: false
    max_retries: 1

default_environment: "test"

llm_config:
  provider: "openai"
  model: "gpt-4o-mini"
  api_key: ""          # falls back to OPENAI_API_KEY
  base_url: ""         # falls back to OPENAI_BASE_URL
  temperature: 0.1
  rate_limit: 0        # LLM calls per second, 0 = unlimited
  max_observation_tokens: 6000

timeout: 3600          # whole test case, seconds
step_timeout: 600      # one step, seconds
max_steps: 20          # browser actions per step attempt
max_retries: 3         # automatic retries for transient failures
use_vision: true
headless: false
screenshots_dir: "screenshots"
output_dir: "test-results"
log_dir: ".testpilot/logs"
history_db: ".testpilot/history.db"

intervention:
  enabled: true
  timeout: 0           # seconds, 0 = wait for a human indefinitely
  fallback: "abort-test"
  decision_error_limit: 2

server:
  enabled: false
  addr: "127.0.0.1:8765"
`

// WriteTemplate writes the template to path atomically.
func WriteTemplate(path string) error {
	return writeFileAtomic(path, []byte(Template))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
