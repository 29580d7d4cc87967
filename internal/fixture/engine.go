// Package fixture is an in-memory browser engine over static HTML routes.
//
// Pages are parsed with goquery and queried with cascadia, so the robot can run
// end to end without a browser process. A handful of data attributes give the
// markup behaviour:
//
//	data-fixture-overlay        element covers the page; clicks outside it fail
//	data-fixture-dismiss        clicking removes the closest overlay
//	data-fixture-reveal="css"   clicking un-hides the elements matching css
//	data-fixture-flaky="N"      the first N clicks fail as not interactable
//
// Links navigate on click, and forms submit on a submit-button click or Enter.
package fixture

import (
	"context"
	"net/url"
	"sync"

	"github.com/ahrdadan/shoprobot/internal/driver"
)

// Handler renders the HTML for one route. form carries the query string and any
// submitted form values. Returning an error wrapping driver.ErrTimeout simulates
// a page that never finishes loading.
type Handler func(form url.Values) (string, error)

// Site is a set of routes keyed by URL path.
type Site struct {
	Name   string
	Routes map[string]Handler
}

// Static returns a Handler that always serves body.
func Static(body string) Handler {
	return func(url.Values) (string, error) { return body, nil }
}

// Engine launches sessions against a Site. It implements driver.Launcher.
type Engine struct {
	site Site

	mu       sync.Mutex
	open     int
	launched int
}

// NewEngine creates an engine serving site.
func NewEngine(site Site) *Engine {
	return &Engine{site: site}
}

// Launch opens an isolated session with an empty page.
func (e *Engine) Launch(ctx context.Context, _ driver.Options) (driver.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.open++
	e.launched++
	e.mu.Unlock()

	return &Session{engine: e, page: newPage(e.site)}, nil
}

// Open returns the number of sessions not yet closed.
func (e *Engine) Open() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// Launched returns the number of sessions ever launched.
func (e *Engine) Launched() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launched
}

// Session is a fixture browser context with one page.
type Session struct {
	engine *Engine
	page   *Page
	once   sync.Once
}

func (s *Session) Page() driver.Page {
	return s.page
}

// Close invalidates the page. It is safe to call more than once.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.page.close()

		s.engine.mu.Lock()
		s.engine.open--
		s.engine.mu.Unlock()
	})
	return nil
}
