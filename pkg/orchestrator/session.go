package orchestrator

import (
	"github.com/entrhq/testpilot/pkg/browser"
	"github.com/entrhq/testpilot/pkg/runner"
)

// browserSession adapts a browser.Monitor to Session.
type browserSession struct {
	*browser.Monitor
}

// BrowserSession wraps m for use as the Session of a run.
func BrowserSession(m *browser.Monitor) Session {
	return browserSession{Monitor: m}
}

// Page borrows the current page handle.
func (s browserSession) Page() (runner.Page, error) {
	page, err := s.Acquire()
	if err != nil {
		return nil, err
	}
	return page, nil
}
