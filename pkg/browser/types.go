package browser

import (
	"time"

	"github.com/entrhq/testpilot/pkg/logging"
)

// Options configures a Monitor.
type Options struct {
	// Logger receives session lifecycle and health check diagnostics
	Logger *logging.Logger

	// Viewport sets the initial viewport size
	Viewport *Viewport

	// StartURL is opened after every session launch (usually the environment base_url)
	StartURL string

	// ActionTimeout bounds a single playwright call
	ActionTimeout time.Duration

	// RetryDelay is the pause between failed session creation attempts;
	// negative disables the pause
	RetryDelay time.Duration

	// CreateAttempts is how many times session creation is tried
	CreateAttempts int

	// LaunchTimeout bounds one session creation attempt
	LaunchTimeout time.Duration

	// CloseTimeout bounds Close when a playwright call is stuck
	CloseTimeout time.Duration

	// Headless controls whether the browser runs without a visible window
	Headless bool

	// SkipInstall disables the playwright driver download on Start
	SkipInstall bool
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Default values for session and health check behavior.
const (
	DefaultActionTimeout  = 30 * time.Second
	DefaultRetryDelay     = 5 * time.Second
	DefaultCreateAttempts = 3
	DefaultLaunchTimeout  = 60 * time.Second
	DefaultCloseTimeout   = 10 * time.Second
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720

	// settleTimeout bounds each load-state wait in VerifyPageState.
	settleTimeout = 5 * time.Second

	// minBodyText is the body length below which a page without a title is blank.
	minBodyText = 50

	// maxObservedHTML caps the cleaned HTML converted for an observation.
	maxObservedHTML = 200000

	// maxElements caps the interactive element index.
	maxElements = 80
)

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Viewport == nil {
		o.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = DefaultActionTimeout
	}
	switch {
	case o.RetryDelay == 0:
		o.RetryDelay = DefaultRetryDelay
	case o.RetryDelay < 0:
		o.RetryDelay = 0
	}
	if o.CreateAttempts <= 0 {
		o.CreateAttempts = DefaultCreateAttempts
	}
	if o.LaunchTimeout <= 0 {
		o.LaunchTimeout = DefaultLaunchTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	return o
}
