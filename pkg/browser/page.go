package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/testpilot/pkg/types"
)

const (
	defaultScrollDelta = 600
	maxWaitMillis      = 10000
)

// Page is a handle to the active page of one session generation. The active
// page may change when a new tab is followed; the handle keeps working until
// the session itself is recreated.
type Page struct {
	m   *Monitor
	gen uint64
}

// Generation returns the session generation the handle was minted for.
func (p *Page) Generation() uint64 {
	return p.gen
}

// run executes fn against the active page when the handle is still current.
func (p *Page) run(ctx context.Context, fn func(page playwright.Page) error) error {
	return p.m.do(ctx, func() error {
		if p.gen != p.m.generation {
			return ErrStaleHandle
		}
		page, err := p.m.activePageLocked()
		if err != nil {
			return err
		}
		return fn(page)
	})
}

// Apply performs a single browser action.
func (p *Page) Apply(ctx context.Context, action types.Action) error {
	timeout := p.timeout(ctx)
	err := p.run(ctx, func(page playwright.Page) error {
		return applyAction(page, action, timeout)
	})
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", action.Kind, action.Target, err)
	}
	return nil
}

func applyAction(page playwright.Page, action types.Action, timeout *float64) error {
	switch action.Kind {
	case types.ActionNavigate:
		target := action.Value
		if target == "" {
			target = action.Target
		}
		dest, err := resolveURL(page.URL(), target)
		if err != nil {
			return err
		}
		_, err = page.Goto(dest, playwright.PageGotoOptions{
			Timeout:   timeout,
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		})
		return err

	case types.ActionClick:
		return page.Click(action.Target, playwright.PageClickOptions{Timeout: timeout})

	case types.ActionFill:
		return page.Fill(action.Target, action.Value, playwright.PageFillOptions{Timeout: timeout})

	case types.ActionPress:
		key := action.Value
		if key == "" {
			key = "Enter"
		}
		if action.Target != "" {
			return page.Press(action.Target, key, playwright.PagePressOptions{Timeout: timeout})
		}
		return page.Keyboard().Press(key)

	case types.ActionSelect:
		_, err := page.SelectOption(action.Target, playwright.SelectOptionValues{
			Values: &[]string{action.Value},
		}, playwright.PageSelectOptionOptions{Timeout: timeout})
		return err

	case types.ActionHover:
		return page.Hover(action.Target, playwright.PageHoverOptions{Timeout: timeout})

	case types.ActionScroll:
		if action.Target != "" {
			return page.Locator(action.Target).ScrollIntoViewIfNeeded(
				playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: timeout})
		}
		delta := float64(defaultScrollDelta)
		if strings.EqualFold(action.Value, "up") {
			delta = -delta
		}
		return page.Mouse().Wheel(0, delta)

	case types.ActionWait:
		if action.Target != "" {
			_, err := page.WaitForSelector(action.Target, playwright.PageWaitForSelectorOptions{Timeout: timeout})
			return err
		}
		page.WaitForTimeout(float64(waitMillis(action.Value)))
		return nil

	case types.ActionGoBack:
		_, err := page.GoBack(playwright.PageGoBackOptions{Timeout: timeout})
		return err

	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, action.Kind)
	}
}

// Observe captures the current URL, title, visible text, markdown content
// and interactive element index.
func (p *Page) Observe(ctx context.Context) (*types.Observation, error) {
	var pageURL, title, rawHTML, text string
	err := p.run(ctx, func(page playwright.Page) error {
		pageURL = page.URL()
		var err error
		if title, err = page.Title(); err != nil {
			return fmt.Errorf("failed to read title: %w", err)
		}
		if rawHTML, err = page.Content(); err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		raw, err := page.Evaluate(`document.body ? document.body.innerText : ""`)
		if err != nil {
			return fmt.Errorf("failed to read text: %w", err)
		}
		text, _ = raw.(string)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buildObservation(pageURL, title, rawHTML, text), nil
}

// Screenshot writes a full-page PNG to path.
func (p *Page) Screenshot(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	timeout := p.timeout(ctx)
	return p.run(ctx, func(page playwright.Page) error {
		_, err := page.Screenshot(playwright.PageScreenshotOptions{
			Path:     playwright.String(path),
			FullPage: playwright.Bool(true),
			Timeout:  timeout,
		})
		if err != nil {
			return fmt.Errorf("screenshot failed: %w", err)
		}
		return nil
	})
}

// timeout returns the playwright timeout for a call made under ctx: the
// action timeout, shortened to the context deadline.
func (p *Page) timeout(ctx context.Context) *float64 {
	d := p.m.opts.ActionTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return playwright.Float(float64(d.Milliseconds()))
}

// resolveURL makes target absolute against the current page URL.
func resolveURL(current, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("navigate requires a url")
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(current)
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("relative url %q with no page to resolve against", target)
	}
	return base.ResolveReference(ref).String(), nil
}

func waitMillis(value string) int {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || ms <= 0 {
		return 1000
	}
	if ms > maxWaitMillis {
		return maxWaitMillis
	}
	return ms
}
