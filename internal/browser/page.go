package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/ahrdadan/shoprobot/internal/driver"
)

// pollInterval is how often WaitFor re-probes the DOM.
const pollInterval = 100 * time.Millisecond

// findJS resolves role, placeholder and text descriptors in the page, since rod
// only queries by CSS and XPath natively. It returns an array of elements in
// document order.
const findJS = `(mode, selector, role, text, exact) => {
	const root = (this && this.querySelectorAll) ? this : document;
	const norm = s => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
	const want = norm(text);
	const ok = s => !want || (exact ? norm(s) === want : norm(s).includes(want));
	const name = el => {
		const label = el.getAttribute('aria-label');
		if (label && label.trim()) return label;
		if (el.tagName === 'INPUT' && ['button', 'submit', 'reset'].includes(el.type)) return el.value;
		const inner = el.innerText || el.textContent;
		if (inner && inner.trim()) return inner;
		return el.getAttribute('title') || el.getAttribute('placeholder') || '';
	};
	const skip = el => ['SCRIPT', 'STYLE', 'NOSCRIPT', 'TEMPLATE', 'HEAD'].includes(el.tagName);
	switch (mode) {
	case 'role':
		return Array.from(root.querySelectorAll(selector)).filter(el => {
			const explicit = el.getAttribute('role');
			if (explicit && explicit !== role) return false;
			return ok(name(el));
		});
	case 'placeholder':
		return Array.from(root.querySelectorAll('[placeholder]')).filter(el => ok(el.getAttribute('placeholder')));
	case 'text': {
		const hits = Array.from(root.querySelectorAll('*')).filter(el => !skip(el) && ok(el.innerText || el.textContent));
		return hits.filter(el => !hits.some(other => other !== el && el.contains(other)));
	}
	}
	return [];
}`

// Page adapts a rod page to the driver boundary.
type Page struct {
	page *rod.Page
}

// NewPage wraps page.
func NewPage(page *rod.Page) *Page {
	return &Page{page: page}
}

// Navigate loads url and waits for DOMContentLoaded.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	pg := p.page.Context(ctx)
	wait := pg.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := pg.Navigate(url); err != nil {
		return classify("navigate "+url, err)
	}
	wait()

	if err := ctx.Err(); err != nil {
		return classify("navigate "+url, err)
	}
	return nil
}

// Find implements driver.Scope.
func (p *Page) Find(ctx context.Context, d driver.Descriptor) ([]driver.Handle, error) {
	return find(ctx, p.page.Context(ctx), nil, d)
}

// WaitFor polls Find until something matches d.
func (p *Page) WaitFor(ctx context.Context, d driver.Descriptor, timeout time.Duration) error {
	err := driver.Poll(ctx, timeout, pollInterval, func() (bool, error) {
		found, err := p.Find(ctx, d)
		if err != nil {
			return false, err
		}
		return len(found) > 0, nil
	})
	if errors.Is(err, driver.ErrTimeout) {
		return fmt.Errorf("wait for %s: %w", d, driver.ErrTimeout)
	}
	return err
}

// Handle adapts a rod element.
type Handle struct {
	el *rod.Element
}

// Find implements driver.Scope within the element.
func (h *Handle) Find(ctx context.Context, d driver.Descriptor) ([]driver.Handle, error) {
	return find(ctx, nil, h.el.Context(ctx), d)
}

// Visible reports whether the element has a visible box.
func (h *Handle) Visible(ctx context.Context) (bool, error) {
	ok, err := h.el.Context(ctx).Visible()
	if err != nil {
		return false, classify("visible", err)
	}
	return ok, nil
}

// WaitVisible blocks until the element is visible.
func (h *Handle) WaitVisible(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	return classify("wait visible", h.el.Context(ctx).WaitVisible())
}

// Click scrolls the element into view and clicks it once.
func (h *Handle) Click(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	return classify("click", h.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1))
}

// Fill replaces the element's value with text.
func (h *Handle) Fill(ctx context.Context, text string, timeout time.Duration) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	el := h.el.Context(ctx)
	if _, err := el.Eval(`() => { if ('value' in this) this.value = '' }`); err != nil {
		return classify("clear", err)
	}
	return classify("fill", el.Input(text))
}

// Press types a single named key into the element.
func (h *Handle) Press(ctx context.Context, key string) error {
	var k input.Key
	switch key {
	case driver.KeyEnter:
		k = input.Enter
	case driver.KeyTab:
		k = input.Tab
	default:
		return fmt.Errorf("press %q: %w", key, driver.ErrUnsupported)
	}
	return classify("press "+key, h.el.Context(ctx).Type(k))
}

// Text returns the rendered text of the element.
func (h *Handle) Text(ctx context.Context) (string, error) {
	text, err := h.el.Context(ctx).Text()
	if err != nil {
		return "", classify("text", err)
	}
	return text, nil
}

// find runs d against exactly one of page or el.
func find(ctx context.Context, page *rod.Page, el *rod.Element, d driver.Descriptor) ([]driver.Handle, error) {
	var (
		elements rod.Elements
		err      error
	)

	if sel, ok := d.Selector(); ok {
		if page != nil {
			elements, err = page.Elements(sel)
		} else {
			elements, err = el.Elements(sel)
		}
	} else {
		var opts *rod.EvalOptions
		switch d.Kind {
		case driver.KindRole:
			sel, known := driver.RoleSelectors[d.Role]
			if !known {
				sel = fmt.Sprintf(`[role=%q]`, d.Role)
			}
			opts = rod.Eval(findJS, "role", sel, d.Role, d.Name.Text, d.Name.Exact)
		case driver.KindPlaceholder, driver.KindText:
			opts = rod.Eval(findJS, string(d.Kind), "", "", d.Name.Text, d.Name.Exact)
		default:
			return nil, fmt.Errorf("find %s: %w", d, driver.ErrUnsupported)
		}
		if page != nil {
			elements, err = page.ElementsByJS(opts)
		} else {
			elements, err = el.ElementsByJS(opts)
		}
	}

	if err != nil {
		// No match is not an error for a probe.
		if errors.As(err, new(*rod.ElementNotFoundError)) {
			return nil, nil
		}
		return nil, classify("find "+d.String(), err)
	}

	handles := make([]driver.Handle, 0, len(elements))
	for _, e := range elements {
		handles = append(handles, &Handle{el: e.Context(ctx)})
	}
	return handles, nil
}

// classify maps rod and CDP errors onto the driver sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var sentinel error
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, new(*rod.ElementNotFoundError)):
		sentinel = driver.ErrTimeout
	case errors.As(err, new(*rod.NotInteractableError)),
		errors.As(err, new(*rod.InvisibleShapeError)),
		errors.As(err, new(*rod.CoveredError)),
		errors.As(err, new(*rod.NoPointerEventsError)):
		sentinel = driver.ErrNotInteractable
	case errors.As(err, new(*rod.NavigationError)):
		sentinel = driver.ErrNavigation
	case errors.As(err, new(*rod.ObjectNotFoundError)), isDetached(err):
		sentinel = driver.ErrDetached
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, sentinel, err)
}

func isDetached(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "node is detached") ||
		strings.Contains(msg, "could not find node with given id") ||
		strings.Contains(msg, "cannot find context with specified id")
}

// session is one page owned by a run. release tears down whatever was created
// for it beyond the page.
type session struct {
	page    *Page
	raw     *rod.Page
	release func() error

	once sync.Once
	err  error
}

func (s *session) Page() driver.Page { return s.page }

func (s *session) Close() error {
	s.once.Do(func() {
		s.err = s.raw.Close()
		if s.release != nil {
			if err := s.release(); err != nil && s.err == nil {
				s.err = err
			}
		}
	})
	return s.err
}

// applySessionOptions sets identity and viewport on a fresh page.
func applySessionOptions(page *rod.Page, opts driver.Options) error {
	if opts.UserAgent != "" || opts.Locale != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      opts.UserAgent,
			AcceptLanguage: opts.Locale,
		}); err != nil {
			return fmt.Errorf("failed to set user agent: %w", err)
		}
	}

	if opts.Locale != "" {
		if err := (proto.NetworkSetExtraHTTPHeaders{
			Headers: proto.NetworkHeaders{"Accept-Language": gson.New(opts.Locale)},
		}).Call(page); err != nil {
			return fmt.Errorf("failed to set headers: %w", err)
		}
	}

	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		}); err != nil {
			return fmt.Errorf("failed to set viewport: %w", err)
		}
	}

	return nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
