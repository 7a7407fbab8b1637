// Package logging provides the run log file and the console reporter.
//
// There is no process-wide logger: a Logger handle is created per run and
// passed to every component that logs. Components derive their own tagged
// logger with WithComponent; all of them share the run's log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level filters file log entries.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// sink is the shared output behind every component logger of one run.
type sink struct {
	file      *os.File
	logger    *log.Logger
	logPath   string
	mu        sync.Mutex
	closeOnce sync.Once
	level     Level
}

// Logger writes structured entries for one run and one component.
type Logger struct {
	out       *sink
	runID     string
	component string
}

// New creates a logger writing to <dir>/<runID>.log.
//
// If the directory or file cannot be opened it returns a logger that writes to
// stderr along with the error, so callers can warn and carry on.
func New(dir, runID string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		err = fmt.Errorf("failed to create log directory: %w", err)
		return newFallbackLogger(runID, err), err
	}

	logPath := filepath.Join(dir, fmt.Sprintf("%s.log", sanitize(runID)))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(runID, err), err
	}

	return &Logger{
		out: &sink{
			file:    file,
			logger:  log.New(file, "", 0),
			logPath: logPath,
			level:   LevelInfo,
		},
		runID:     runID,
		component: "run",
	}, nil
}

// NewWriter creates a logger on an arbitrary writer.
func NewWriter(w io.Writer, runID string) *Logger {
	return &Logger{
		out:       &sink{logger: log.New(w, "", 0), level: LevelDebug},
		runID:     runID,
		component: "run",
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriter(io.Discard, "")
}

func newFallbackLogger(runID string, err error) *Logger {
	logger := log.New(os.Stderr, "", 0)
	logger.Printf("WARNING: Failed to initialize file logging: %v", err)
	logger.Printf("Falling back to stderr logging")
	return &Logger{
		out:       &sink{logger: logger, level: LevelInfo},
		runID:     runID,
		component: "run",
	}
}

// WithComponent returns a logger sharing the same output under another component tag.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{out: l.out, runID: l.runID, component: component}
}

// SetLevel sets the minimum level written. It applies to every component logger of the run.
func (l *Logger) SetLevel(level Level) {
	l.out.mu.Lock()
	l.out.level = level
	l.out.mu.Unlock()
}

func (l *Logger) write(level Level, format string, v ...interface{}) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if level < l.out.level {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	message := fmt.Sprintf(format, v...)
	l.out.logger.Printf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...interface{}) { l.write(LevelDebug, format, v...) }

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) { l.write(LevelInfo, format, v...) }

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) { l.write(LevelWarn, format, v...) }

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) { l.write(LevelError, format, v...) }

// Writer returns the underlying destination.
func (l *Logger) Writer() io.Writer {
	if l.out.file != nil {
		return l.out.file
	}
	return l.out.logger.Writer()
}

// RunID returns the run this logger belongs to.
func (l *Logger) RunID() string {
	return l.runID
}

// LogPath returns the path to the log file, empty when not file backed.
func (l *Logger) LogPath() string {
	return l.out.logPath
}

// Close closes the log file. Safe to call multiple times and from any component logger.
func (l *Logger) Close() error {
	var err error
	l.out.closeOnce.Do(func() {
		if l.out.file != nil {
			err = l.out.file.Close()
		}
	})
	return err
}

func sanitize(name string) string {
	if name == "" {
		return "run"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' || r == ':' {
			return '_'
		}
		return r
	}, name)
}
