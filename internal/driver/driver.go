// Package driver defines the narrow browser boundary the robot consumes.
//
// Engines (rod, playwright, the in-memory fixture) implement these interfaces and
// classify their own failures into the sentinel errors below, so callers never
// inspect library-specific error types.
package driver

import (
	"context"
	"errors"
	"time"
)

// Boundary errors. Implementations wrap one of these with fmt.Errorf("...: %w").
var (
	// ErrTimeout is returned when a blocking wait or action runs out of budget.
	ErrTimeout = errors.New("driver: timeout")
	// ErrNotInteractable is returned when an element exists but cannot receive input
	// (covered, zero-sized, disabled, pointer-events none).
	ErrNotInteractable = errors.New("driver: element not interactable")
	// ErrDetached is returned when a handle no longer refers to a node in the current page.
	ErrDetached = errors.New("driver: element detached")
	// ErrNavigation is returned for navigation failures other than timeouts.
	ErrNavigation = errors.New("driver: navigation failed")
	// ErrUnsupported is returned when an engine cannot evaluate a descriptor kind.
	ErrUnsupported = errors.New("driver: unsupported descriptor")
)

// Scope is anything elements can be searched within: a page or a container handle.
type Scope interface {
	// Find is a non-blocking existence probe. It returns every current match in
	// document order, or an empty slice.
	Find(ctx context.Context, d Descriptor) ([]Handle, error)
}

// Handle is a live reference to one DOM node. It is only valid for the page state
// it was resolved against.
type Handle interface {
	Scope

	Visible(ctx context.Context) (bool, error)
	WaitVisible(ctx context.Context, timeout time.Duration) error
	Click(ctx context.Context, timeout time.Duration) error
	Fill(ctx context.Context, text string, timeout time.Duration) error
	Press(ctx context.Context, key string) error
	Text(ctx context.Context) (string, error)
}

// Page is the top-level scope of a session.
type Page interface {
	Scope

	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// WaitFor blocks until at least one element matches d, or the timeout expires.
	WaitFor(ctx context.Context, d Descriptor, timeout time.Duration) error
}

// Session owns a browser context and its single page.
type Session interface {
	Page() Page
	Close() error
}

// Launcher produces independent sessions. Two sessions never share a page.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Session, error)
}

// Options configures a new session.
type Options struct {
	Headless          bool
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	Locale            string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

// DefaultOptions returns the session defaults used for storefront runs.
func DefaultOptions() Options {
	return Options{
		Headless:          true,
		UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:     1440,
		ViewportHeight:    900,
		Locale:            "en-US",
		NavigationTimeout: 20 * time.Second,
		ActionTimeout:     10 * time.Second,
	}
}

// Keys understood by Handle.Press.
const (
	KeyEnter = "Enter"
	KeyTab   = "Tab"
)

// Poll calls probe until it reports true, ctx is done, or timeout elapses.
// It is shared by engines that have no native presence wait.
func Poll(ctx context.Context, timeout, interval time.Duration, probe func() (bool, error)) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := probe()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
