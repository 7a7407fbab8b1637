// Package browser owns the live playwright session a test case runs in.
//
// A Monitor holds one browser session. It launches it with retries, checks
// its health, follows new tabs and rebuilds it after a crash. Steps never
// touch playwright directly: they borrow a Page handle from the Monitor, and
// every handle is tied to the session generation that minted it. Once the
// session is recreated, older handles fail with ErrStaleHandle.
//
// All playwright calls for one session are serialized by the Monitor, and
// every blocking call returns as soon as its context is done.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/testpilot/pkg/logging"
)

var chromiumArgs = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-dev-shm-usage",
	"--disable-gpu",
	"--no-sandbox",
	"--disable-background-timer-throttling",
	"--disable-renderer-backgrounding",
}

// session is one launched browser with its context and active page.
type session struct {
	browser   playwright.Browser
	context   playwright.BrowserContext
	page      playwright.Page
	createdAt time.Time
}

func (s *session) close() []error {
	var errs []error
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Monitor manages the browser session of one test case.
type Monitor struct {
	mu         sync.Mutex
	opts       Options
	logger     *logging.Logger
	sess       *session
	launch     func(ctx context.Context) (*session, error)
	generation uint64
	closed     bool

	// pwMu guards pw, which a timed-out launch may still touch after
	// createLocked has given up on it.
	pwMu      sync.Mutex
	pw        *playwright.Playwright
	pwStopped bool
}

// NewMonitor creates a Monitor. No browser is launched until Start.
func NewMonitor(opts Options) *Monitor {
	opts = opts.withDefaults()
	m := &Monitor{
		opts:   opts,
		logger: opts.Logger.WithComponent("browser"),
	}
	m.launch = m.launchChromium
	return m
}

// Start launches the session, retrying creation up to CreateAttempts times.
func (m *Monitor) Start(ctx context.Context) error {
	return m.do(ctx, func() error {
		if m.closed {
			return errors.New("browser monitor is closed")
		}
		if m.sess != nil {
			return nil
		}
		return m.createLocked(ctx)
	})
}

// RecreateSession tears the session down and launches a new one. Handles
// acquired before the call become stale.
func (m *Monitor) RecreateSession(ctx context.Context) error {
	return m.do(ctx, func() error {
		if m.closed {
			return errors.New("browser monitor is closed")
		}
		m.logger.Warnf("recreating browser session (generation %d)", m.generation)
		m.teardownLocked()
		return m.createLocked(ctx)
	})
}

// Acquire returns a handle to the active page of the current session.
func (m *Monitor) Acquire() (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return nil, ErrNotStarted
	}
	return &Page{m: m, gen: m.generation}, nil
}

// Generation returns the number of sessions created so far.
func (m *Monitor) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Close tears the session down and stops playwright. It is safe to call
// more than once. Close waits at most CloseTimeout for a stuck playwright
// call to release the session and returns ErrCloseTimeout after that.
func (m *Monitor) Close() error {
	done := make(chan error, 1)
	go func() { done <- m.closeLocked() }()

	timer := time.NewTimer(m.opts.CloseTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		// A playwright call is wedged while holding the session. The
		// pending teardown still runs once that call returns.
		m.logger.Errorf("browser session did not close within %s", m.opts.CloseTimeout)
		return fmt.Errorf("%w after %s", ErrCloseTimeout, m.opts.CloseTimeout)
	}
}

func (m *Monitor) closeLocked() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	errs := m.teardownLocked()
	m.pwMu.Lock()
	pw := m.pw
	m.pw = nil
	m.pwStopped = true
	m.pwMu.Unlock()
	if pw != nil {
		if err := pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing browser session: %v", errs)
	}
	m.logger.Infof("browser session closed")
	return nil
}

// Alive reports whether the session still answers a trivial evaluation.
func (m *Monitor) Alive(ctx context.Context) bool {
	err := m.do(ctx, func() error {
		page, err := m.activePageLocked()
		if err != nil {
			return err
		}
		_, err = page.Evaluate("1")
		return err
	})
	if err != nil {
		m.logger.Warnf("liveness check failed: %v", err)
		return false
	}
	return true
}

// VerifyPageState reports whether the active page is loaded and shows
// content. Anything ambiguous reports not-ok.
func (m *Monitor) VerifyPageState(ctx context.Context) (bool, string) {
	type verdict struct {
		diagnostic string
		ok         bool
	}
	result := make(chan verdict, 1)
	err := m.do(ctx, func() error {
		ok, diag := m.verifyLocked()
		result <- verdict{ok: ok, diagnostic: diag}
		return nil
	})
	if err != nil {
		return false, fmt.Sprintf("page state check failed: %v", err)
	}
	v := <-result
	m.logger.Debugf("page state ok=%t: %s", v.ok, v.diagnostic)
	return v.ok, v.diagnostic
}

func (m *Monitor) verifyLocked() (bool, string) {
	page, err := m.activePageLocked()
	if err != nil {
		return false, err.Error()
	}
	return m.judgePageState(page)
}

// pageState is the part of a page the state check reads.
type pageState interface {
	URL() string
	WaitForLoadState(options ...playwright.PageWaitForLoadStateOptions) error
	Title() (string, error)
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
}

// judgePageState fails when the document has not finished loading or looks
// blank. Pages that poll or hold sockets open never reach network idle, so
// that wait only logs.
func (m *Monitor) judgePageState(page pageState) (bool, string) {
	url := page.URL()
	if url == "" || url == "about:blank" {
		return false, "page is blank (about:blank)"
	}

	if err := waitForLoad(page, "load"); err != nil {
		return false, fmt.Sprintf("navigation still in flight at %s: %v", url, err)
	}
	if err := waitForLoad(page, "networkidle"); err != nil {
		m.logger.Warnf("network not idle at %s, continuing: %v", url, err)
	}

	raw, err := page.Evaluate(`document.readyState`)
	if err != nil {
		return false, fmt.Sprintf("failed to read document state: %v", err)
	}
	if ready, _ := raw.(string); ready != "complete" {
		return false, fmt.Sprintf("document not ready at %s: readyState=%v", url, raw)
	}

	title, err := page.Title()
	if err != nil {
		return false, fmt.Sprintf("failed to read title: %v", err)
	}
	raw, err = page.Evaluate(`document.body ? document.body.innerText.trim().length : 0`)
	if err != nil {
		return false, fmt.Sprintf("failed to read body: %v", err)
	}
	bodyLen := toInt(raw)

	if bodyLen <= minBodyText && strings.TrimSpace(title) == "" {
		return false, fmt.Sprintf("page looks blank: url=%s, body=%d chars, no title", url, bodyLen)
	}
	return true, fmt.Sprintf("page loaded: url=%s, title=%q, body=%d chars", url, title, bodyLen)
}

func waitForLoad(page pageState, name string) error {
	state := playwright.LoadState(name)
	return page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   &state,
		Timeout: playwright.Float(float64(settleTimeout.Milliseconds())),
	})
}

// DetectAndFollowNewTab makes the newest open page active when it is not
// already. It reports whether the active page changed.
func (m *Monitor) DetectAndFollowNewTab(ctx context.Context) (bool, error) {
	switched := false
	err := m.do(ctx, func() error {
		if m.sess == nil || m.sess.context == nil {
			return ErrNotStarted
		}
		pages := m.sess.context.Pages()
		for i := len(pages) - 1; i >= 0; i-- {
			candidate := pages[i]
			if candidate.IsClosed() {
				continue
			}
			if candidate == m.sess.page {
				return nil
			}
			candidate.SetDefaultTimeout(float64(m.opts.ActionTimeout.Milliseconds()))
			if err := candidate.BringToFront(); err != nil {
				m.logger.Warnf("failed to bring new tab to front: %v", err)
			}
			m.sess.page = candidate
			switched = true
			m.logger.Infof("following new tab: %s", candidate.URL())
			return nil
		}
		return ErrNoActivePage
	})
	if err != nil {
		return false, err
	}
	return switched, nil
}

// do runs fn holding the session lock and returns early when ctx is done.
// fn keeps the lock until it returns, so an abandoned call still finishes
// before the next one starts.
func (m *Monitor) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if ctx.Err() != nil {
			done <- ctx.Err()
			return
		}
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) activePageLocked() (playwright.Page, error) {
	if m.sess == nil {
		return nil, ErrNotStarted
	}
	if m.sess.page == nil || m.sess.page.IsClosed() {
		return nil, ErrNoActivePage
	}
	return m.sess.page, nil
}

func (m *Monitor) createLocked(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= m.opts.CreateAttempts; attempt++ {
		m.logger.Infof("creating browser session (attempt %d/%d)", attempt, m.opts.CreateAttempts)

		sess, err := m.launchWithDeadline(ctx)
		if err == nil {
			m.sess = sess
			m.generation++
			m.logger.Infof("browser session ready (generation %d)", m.generation)
			m.openStartURLLocked()
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		m.logger.Errorf("failed to create browser session (attempt %d): %v", attempt, err)
		if attempt == m.opts.CreateAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.opts.RetryDelay):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrSessionUnrecoverable, m.opts.CreateAttempts, lastErr)
}

// launchWithDeadline bounds one launch attempt by LaunchTimeout. A launch
// that finishes after the deadline has its session closed and discarded.
func (m *Monitor) launchWithDeadline(ctx context.Context) (*session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lctx, cancel := context.WithTimeout(ctx, m.opts.LaunchTimeout)
	defer cancel()

	type outcome struct {
		sess *session
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		sess, err := m.launch(lctx)
		done <- outcome{sess, err}
	}()

	select {
	case out := <-done:
		return out.sess, out.err
	case <-lctx.Done():
		go func() {
			if out := <-done; out.sess != nil {
				out.sess.close()
			}
		}()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("browser launch timed out after %s", m.opts.LaunchTimeout)
	}
}

func (m *Monitor) openStartURLLocked() {
	if m.opts.StartURL == "" || m.sess.page == nil {
		return
	}
	if _, err := m.sess.page.Goto(m.opts.StartURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		m.logger.Warnf("failed to open start url %s: %v", m.opts.StartURL, err)
	}
}

func (m *Monitor) teardownLocked() []error {
	if m.sess == nil {
		return nil
	}
	errs := m.sess.close()
	for _, err := range errs {
		m.logger.Debugf("teardown: %v", err)
	}
	m.sess = nil
	return errs
}

func (m *Monitor) launchChromium(ctx context.Context) (*session, error) {
	pw, err := m.driver()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.opts.Headless),
		Args:     chromiumArgs,
	}
	if deadline, ok := ctx.Deadline(); ok {
		launchOpts.Timeout = playwright.Float(float64(time.Until(deadline).Milliseconds()))
	}
	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  m.opts.Viewport.Width,
			Height: m.opts.Viewport.Height,
		},
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(m.opts.ActionTimeout.Milliseconds()))

	return &session{
		browser:   browser,
		context:   bctx,
		page:      page,
		createdAt: time.Now(),
	}, nil
}

// driver returns the playwright driver, starting it on first use.
func (m *Monitor) driver() (*playwright.Playwright, error) {
	m.pwMu.Lock()
	defer m.pwMu.Unlock()
	if m.pwStopped {
		return nil, ErrNotStarted
	}
	if m.pw != nil {
		return m.pw, nil
	}
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if !m.opts.SkipInstall {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	m.pw = pw
	return pw, nil
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
