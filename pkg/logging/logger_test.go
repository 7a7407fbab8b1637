package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/testpilot/pkg/types"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(dir, "01HRUN")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.RunID() != "01HRUN" {
		t.Errorf("Expected run ID '01HRUN', got %q", logger.RunID())
	}

	want := filepath.Join(dir, "01HRUN.log")
	if logger.LogPath() != want {
		t.Errorf("Expected log path %q, got %q", want, logger.LogPath())
	}

	if _, err := os.Stat(logger.LogPath()); os.IsNotExist(err) {
		t.Errorf("Log file does not exist at %s", logger.LogPath())
	}
}

func TestLoggerFormattingAndLevel(t *testing.T) {
	logger, err := New(t.TempDir(), "run-1")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	runner := logger.WithComponent("runner")
	runner.Debugf("hidden at info level")
	runner.Infof("Info message %d", 7)
	runner.Warnf("Warning message")
	runner.Errorf("Error message")

	logger.SetLevel(LevelDebug)
	runner.Debugf("Debug message")

	content, err := os.ReadFile(logger.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	logContent := string(content)

	for _, pattern := range []string{
		"[runner] [INFO] Info message 7",
		"[runner] [WARN] Warning message",
		"[runner] [ERROR] Error message",
		"[runner] [DEBUG] Debug message",
	} {
		if !strings.Contains(logContent, pattern) {
			t.Errorf("Log content missing expected pattern: %q\nContent:\n%s", pattern, logContent)
		}
	}

	if strings.Contains(logContent, "hidden at info level") {
		t.Error("Debug entry written below the configured level")
	}
}

func TestComponentsShareOutput(t *testing.T) {
	var buf bytes.Buffer
	root := NewWriter(&buf, "run")

	a := root.WithComponent("orchestrator")
	b := root.WithComponent("gateway")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); a.Infof("from a") }()
		go func() { defer wg.Done(); b.Infof("from b") }()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 40 {
		t.Fatalf("Expected 40 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "[") || !strings.Contains(line, "] [INFO] from ") {
			t.Errorf("Interleaved or malformed line: %q", line)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	logger, err := New(t.TempDir(), "close")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	child := logger.WithComponent("child")

	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := child.Close(); err != nil {
		t.Errorf("Second close through child failed: %v", err)
	}
}

func TestFallbackWhenDirectoryUnavailable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	logger, err := New(filepath.Join(file, "logs"), "run")
	if err == nil {
		t.Fatal("Expected an error for an unusable directory")
	}
	if logger == nil {
		t.Fatal("Expected a fallback logger")
	}
	if logger.LogPath() != "" {
		t.Errorf("Fallback logger should not report a log path, got %q", logger.LogPath())
	}
	logger.Infof("still usable")
}

func TestConsolePublish(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsoleWriter(&buf, ConsoleNormal)

	console.Publish(types.NewRunStartEvent("run-1", "login"))
	console.Publish(types.NewStepStartEvent("run-1", "login", 1, 1))
	console.Publish(types.NewStepStateEvent("run-1", "login", 1, "deciding"))
	console.Publish(types.NewStepEndEvent("run-1", "login", &types.StepResult{
		Number: 1, Title: "open", Outcome: types.OutcomeSuccess, Attempts: 1, Elapsed: 1500 * time.Millisecond,
	}))
	console.Publish(types.NewRunEndEvent(&types.TestResult{
		Name:    "login",
		Success: true,
		Steps:   []types.StepResult{{Number: 1, Outcome: types.OutcomeSuccess}},
	}))

	out := buf.String()
	for _, want := range []string{"Running login (run-1)", "Step 1", "Step 1 (open) passed", "SUCCESS", "success 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("Console output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "deciding") {
		t.Error("State transitions must only print in debug mode")
	}
}

func TestConsoleQuietStillShowsFailures(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsoleWriter(&buf, ConsoleQuiet)

	console.Infof("progress")
	console.Errorf("boom %d", 1)

	out := buf.String()
	if strings.Contains(out, "progress") {
		t.Error("Quiet console printed an info message")
	}
	if !strings.Contains(out, "✗ Error: boom 1") {
		t.Errorf("Quiet console hid an error: %q", out)
	}
}

func TestParseConsoleLevel(t *testing.T) {
	tests := map[string]ConsoleLevel{
		"quiet":   ConsoleQuiet,
		"VERBOSE": ConsoleVerbose,
		"debug":   ConsoleDebug,
		"normal":  ConsoleNormal,
		"bogus":   ConsoleNormal,
	}
	for in, want := range tests {
		if got := ParseConsoleLevel(in); got != want {
			t.Errorf("ParseConsoleLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
