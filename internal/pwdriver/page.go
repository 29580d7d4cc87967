package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/ahrdadan/shoprobot/internal/driver"
)

// Page adapts a playwright page.
type Page struct {
	page playwright.Page
}

// Navigate loads url and waits for DOMContentLoaded.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	_, err = p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   ms,
	})
	return classify("navigate "+url, err)
}

// Find resolves every current match of d in the page.
func (p *Page) Find(ctx context.Context, d driver.Descriptor) ([]driver.Handle, error) {
	loc, err := pageLocator(p.page, d)
	if err != nil {
		return nil, err
	}
	return all(ctx, loc, d)
}

// WaitFor waits until d is attached to the DOM.
func (p *Page) WaitFor(ctx context.Context, d driver.Descriptor, timeout time.Duration) error {
	loc, err := pageLocator(p.page, d)
	if err != nil {
		return err
	}
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	err = loc.First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: ms,
	})
	return classify("wait for "+d.String(), err)
}

// Handle is one nth-locator. Playwright re-resolves it on every action.
type Handle struct {
	loc playwright.Locator
}

// Find resolves d within the handle's element.
func (h *Handle) Find(ctx context.Context, d driver.Descriptor) ([]driver.Handle, error) {
	loc, err := innerLocator(h.loc, d)
	if err != nil {
		return nil, err
	}
	return all(ctx, loc, d)
}

func (h *Handle) Visible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := h.loc.IsVisible()
	if err != nil {
		return false, classify("visible", err)
	}
	return ok, nil
}

func (h *Handle) WaitVisible(ctx context.Context, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	return classify("wait visible", h.loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: ms,
	}))
}

func (h *Handle) Click(ctx context.Context, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	return classify("click", h.loc.Click(playwright.LocatorClickOptions{Timeout: ms}))
}

func (h *Handle) Fill(ctx context.Context, text string, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	return classify("fill", h.loc.Fill(text, playwright.LocatorFillOptions{Timeout: ms}))
}

func (h *Handle) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("press "+key, h.loc.Press(key))
}

func (h *Handle) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := h.loc.InnerText()
	if err != nil {
		return "", classify("text", err)
	}
	return text, nil
}

func all(ctx context.Context, loc playwright.Locator, d driver.Descriptor) ([]driver.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	locs, err := loc.All()
	if err != nil {
		return nil, classify("find "+d.String(), err)
	}
	handles := make([]driver.Handle, 0, len(locs))
	for _, l := range locs {
		handles = append(handles, &Handle{loc: l})
	}
	return handles, nil
}

func pageLocator(page playwright.Page, d driver.Descriptor) (playwright.Locator, error) {
	if sel, ok := d.Selector(); ok {
		return page.Locator(sel), nil
	}
	switch d.Kind {
	case driver.KindRole:
		opts := playwright.PageGetByRoleOptions{}
		if !d.Name.IsZero() {
			opts.Name = pattern(d.Name)
		}
		return page.GetByRole(playwright.AriaRole(d.Role), opts), nil
	case driver.KindPlaceholder:
		return page.GetByPlaceholder(pattern(d.Name)), nil
	case driver.KindText:
		return page.GetByText(pattern(d.Name)), nil
	}
	return nil, fmt.Errorf("find %s: %w", d, driver.ErrUnsupported)
}

func innerLocator(loc playwright.Locator, d driver.Descriptor) (playwright.Locator, error) {
	if sel, ok := d.Selector(); ok {
		return loc.Locator(sel), nil
	}
	switch d.Kind {
	case driver.KindRole:
		opts := playwright.LocatorGetByRoleOptions{}
		if !d.Name.IsZero() {
			opts.Name = pattern(d.Name)
		}
		return loc.GetByRole(playwright.AriaRole(d.Role), opts), nil
	case driver.KindPlaceholder:
		return loc.GetByPlaceholder(pattern(d.Name)), nil
	case driver.KindText:
		return loc.GetByText(pattern(d.Name)), nil
	}
	return nil, fmt.Errorf("find %s: %w", d, driver.ErrUnsupported)
}

// pattern turns a TextMatch into the case-insensitive regexp playwright
// needs; its own string matching is case-sensitive when exact.
func pattern(m driver.TextMatch) *regexp.Regexp {
	q := regexp.QuoteMeta(driver.NormalizeSpace(m.Text))
	if m.Exact {
		return regexp.MustCompile(`(?i)^\s*` + q + `\s*$`)
	}
	return regexp.MustCompile(`(?i)` + q)
}

// budget converts timeout to playwright milliseconds, capped by ctx's deadline.
func budget(ctx context.Context, timeout time.Duration) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, driver.ErrTimeout
		}
		if timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		// Zero disables playwright's own timeout.
		return playwright.Float(0), nil
	}
	return playwright.Float(float64(timeout.Milliseconds())), nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var sentinel error
	switch {
	case errors.Is(err, playwright.ErrTimeout):
		sentinel = driver.ErrTimeout
	case errors.Is(err, playwright.ErrTargetClosed):
		sentinel = driver.ErrDetached
	case strings.HasPrefix(op, "navigate"):
		sentinel = driver.ErrNavigation
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, sentinel, err)
}
