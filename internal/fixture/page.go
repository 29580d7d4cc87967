package fixture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ahrdadan/shoprobot/internal/driver"
)

var errClosed = errors.New("fixture: page closed")

// Page is a fixture page. The DOM only changes through Navigate and handle
// actions, so blocking waits resolve or time out immediately.
type Page struct {
	mu     sync.Mutex
	site   Site
	doc    *goquery.Document
	url    *url.URL
	gen    int
	clicks map[*html.Node]int
	closed bool
}

func newPage(site Site) *Page {
	return &Page{site: site, clicks: make(map[*html.Node]int)}
}

// URL returns the current page URL, or "" before the first navigation.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url == nil {
		return ""
	}
	return p.url.String()
}

func (p *Page) Navigate(ctx context.Context, rawURL string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errClosed
	}
	return p.load(rawURL, nil)
}

func (p *Page) Find(ctx context.Context, d driver.Descriptor) ([]driver.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errClosed
	}
	if p.doc == nil {
		return nil, nil
	}
	return p.find(p.doc.Selection, d)
}

func (p *Page) WaitFor(ctx context.Context, d driver.Descriptor, _ time.Duration) error {
	handles, err := p.Find(ctx, d)
	if err != nil {
		return err
	}
	if len(handles) == 0 {
		return fmt.Errorf("wait for %s: %w", d, driver.ErrTimeout)
	}
	return nil
}

func (p *Page) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.doc = nil
}

func (p *Page) find(root *goquery.Selection, d driver.Descriptor) ([]driver.Handle, error) {
	nodes, err := match(root, d)
	if err != nil {
		return nil, err
	}
	handles := make([]driver.Handle, 0, len(nodes))
	for _, n := range nodes {
		handles = append(handles, &Handle{page: p, node: n, gen: p.gen})
	}
	return handles, nil
}

// load replaces the document with the route for rawURL. Callers hold p.mu.
func (p *Page) load(rawURL string, form url.Values) error {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", driver.ErrNavigation, err)
	}
	target := ref
	if p.url != nil {
		target = p.url.ResolveReference(ref)
	}

	path := target.Path
	if path == "" {
		path = "/"
	}
	handler, ok := p.site.Routes[path]
	if !ok {
		return fmt.Errorf("%w: %s: 404 not found", driver.ErrNavigation, target)
	}

	values := target.Query()
	for k, vs := range form {
		for _, v := range vs {
			values.Add(k, v)
		}
	}

	body, err := handler(values)
	if err != nil {
		if errors.Is(err, driver.ErrTimeout) || errors.Is(err, driver.ErrNavigation) {
			return fmt.Errorf("navigate %s: %w", target, err)
		}
		return fmt.Errorf("%w: %s: %v", driver.ErrNavigation, target, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", driver.ErrNavigation, target, err)
	}

	p.doc = doc
	p.url = target
	p.gen++
	p.clicks = make(map[*html.Node]int)
	return nil
}

func (p *Page) attached(n *html.Node) bool {
	if p.doc == nil || len(p.doc.Nodes) == 0 {
		return false
	}
	root := n
	for root.Parent != nil {
		root = root.Parent
	}
	return root == p.doc.Nodes[0]
}

// coveredBy returns a visible overlay stacked above n. Overlays later in
// document order sit on top of earlier ones.
func (p *Page) coveredBy(n *html.Node) *html.Node {
	own := closest(n, hasAttr("data-fixture-overlay"))
	above := own == nil
	for _, o := range p.doc.Find("[data-fixture-overlay]").Nodes {
		if o == own {
			above = true
			continue
		}
		if above && visible(o) {
			return o
		}
	}
	return nil
}

func (p *Page) activate(n *html.Node) error {
	if closest(n, hasAttr("data-fixture-dismiss")) != nil {
		if o := closest(n, hasAttr("data-fixture-overlay")); o != nil && o.Parent != nil {
			o.Parent.RemoveChild(o)
		}
		return nil
	}

	if sel, ok := attr(n, "data-fixture-reveal"); ok {
		for _, target := range p.doc.Find(sel).Nodes {
			removeAttr(target, "hidden")
		}
		return nil
	}

	if a := closest(n, isTag("a")); a != nil {
		if href, ok := attr(a, "href"); ok {
			return p.load(href, nil)
		}
	}

	if isSubmit(n) {
		if form := closest(n, isTag("form")); form != nil {
			return p.submit(form)
		}
	}
	return nil
}

func (p *Page) submit(form *html.Node) error {
	values := url.Values{}
	formValues(form, values)

	action, _ := attr(form, "action")
	if action == "" {
		action = p.url.Path
	}
	return p.load(action, values)
}

// Handle is a node of one page generation.
type Handle struct {
	page *Page
	node *html.Node
	gen  int
}

// live checks the handle still points into the current document. Callers hold
// the page lock.
func (h *Handle) live() error {
	if h.page.closed {
		return errClosed
	}
	if h.gen != h.page.gen || !h.page.attached(h.node) {
		return fmt.Errorf("<%s>: %w", h.node.Data, driver.ErrDetached)
	}
	return nil
}

func (h *Handle) lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.page.mu.Lock()
	if err := h.live(); err != nil {
		h.page.mu.Unlock()
		return nil, err
	}
	return h.page.mu.Unlock, nil
}

func (h *Handle) Find(ctx context.Context, d driver.Descriptor) ([]driver.Handle, error) {
	unlock, err := h.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return h.page.find(goquery.NewDocumentFromNode(h.node).Selection, d)
}

func (h *Handle) Visible(ctx context.Context) (bool, error) {
	unlock, err := h.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()
	return visible(h.node), nil
}

func (h *Handle) WaitVisible(ctx context.Context, _ time.Duration) error {
	unlock, err := h.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if !visible(h.node) {
		return fmt.Errorf("wait visible <%s>: %w", h.node.Data, driver.ErrTimeout)
	}
	return nil
}

func (h *Handle) Click(ctx context.Context, _ time.Duration) error {
	unlock, err := h.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	n := h.node
	switch {
	case !visible(n):
		return fmt.Errorf("click <%s>: %w: not visible", n.Data, driver.ErrNotInteractable)
	case disabled(n):
		return fmt.Errorf("click <%s>: %w: disabled", n.Data, driver.ErrNotInteractable)
	}
	if o := h.page.coveredBy(n); o != nil {
		return fmt.Errorf("click <%s>: %w: covered by <%s>", n.Data, driver.ErrNotInteractable, o.Data)
	}

	if v, ok := attr(n, "data-fixture-flaky"); ok {
		limit, _ := strconv.Atoi(v)
		if h.page.clicks[n] < limit {
			h.page.clicks[n]++
			return fmt.Errorf("click <%s>: %w: flaky attempt %d", n.Data, driver.ErrNotInteractable, h.page.clicks[n])
		}
	}

	return h.page.activate(n)
}

func (h *Handle) Fill(ctx context.Context, text string, _ time.Duration) error {
	unlock, err := h.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	n := h.node
	if !isEditable(n) {
		return fmt.Errorf("fill <%s>: %w: not editable", n.Data, driver.ErrNotInteractable)
	}
	if !visible(n) || disabled(n) {
		return fmt.Errorf("fill <%s>: %w", n.Data, driver.ErrNotInteractable)
	}
	setAttr(n, "value", text)
	return nil
}

func (h *Handle) Press(ctx context.Context, key string) error {
	unlock, err := h.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if key != driver.KeyEnter || !isEditable(h.node) {
		return nil
	}
	if form := closest(h.node, isTag("form")); form != nil {
		return h.page.submit(form)
	}
	return nil
}

func (h *Handle) Text(ctx context.Context) (string, error) {
	unlock, err := h.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()
	return innerText(h.node), nil
}
