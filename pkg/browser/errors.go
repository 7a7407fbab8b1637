package browser

import (
	"errors"
	"strings"
)

var (
	ErrNotStarted           = errors.New("browser session not started")
	ErrStaleHandle          = errors.New("page handle belongs to a replaced session")
	ErrNoActivePage         = errors.New("no active page")
	ErrSessionUnrecoverable = errors.New("browser session could not be created")
	ErrCloseTimeout         = errors.New("browser session close timed out")
	ErrUnsupportedAction    = errors.New("unsupported action")
)

// fatalKeywords mark errors after which the session cannot be used again.
var fatalKeywords = []string{
	"browser crashed",
	"connection refused",
	"target closed",
	"browser process exited",
	"browser has been closed",
	"target page, context or browser has been closed",
}

// IsFatalBrowserError reports whether err means the browser process or its
// connection is gone.
func IsFatalBrowserError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotStarted) || errors.Is(err, ErrSessionUnrecoverable) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range fatalKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// IsStaleHandle reports whether err came from a handle minted before the
// session was recreated.
func IsStaleHandle(err error) bool {
	return errors.Is(err, ErrStaleHandle)
}
