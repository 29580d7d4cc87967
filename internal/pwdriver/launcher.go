// Package pwdriver runs storefront sessions on playwright-go. Each session is a
// fresh browser context on one shared Chromium.
package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/driver"
)

const installTimeout = 5 * time.Minute

// Options configures the shared browser.
type Options struct {
	Headless bool
	// Install downloads the playwright driver and Chromium on first use.
	Install bool
}

// Launcher implements driver.Launcher. The playwright driver and browser start
// lazily on the first Launch.
type Launcher struct {
	opts   Options
	logger *zap.Logger

	initOnce sync.Once
	initErr  error

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewLauncher returns a launcher that has not started anything yet.
func NewLauncher(opts Options, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{opts: opts, logger: logger.Named("playwright")}
}

func (l *Launcher) initialize(ctx context.Context) error {
	l.initOnce.Do(func() {
		if l.opts.Install {
			if err := install(ctx); err != nil {
				l.initErr = err
				return
			}
		}

		pw, err := playwright.Run()
		if err != nil {
			l.initErr = fmt.Errorf("failed to start playwright driver: %w", err)
			return
		}

		browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(l.opts.Headless),
			Args:     []string{"--disable-gpu", "--no-sandbox", "--disable-dev-shm-usage"},
			Timeout:  playwright.Float(60000),
		})
		if err != nil {
			_ = pw.Stop()
			l.initErr = fmt.Errorf("failed to launch chromium: %w", err)
			return
		}

		l.mu.Lock()
		l.pw, l.browser = pw, browser
		l.mu.Unlock()
		l.logger.Info("Playwright browser started", zap.String("version", browser.Version()), zap.Bool("headless", l.opts.Headless))
	})
	return l.initErr
}

func install(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to install playwright browsers: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for playwright installation: %w", ctx.Err())
	}
}

// Launch opens a new browser context with the session's identity and viewport.
func (l *Launcher) Launch(ctx context.Context, opts driver.Options) (driver.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.initialize(ctx); err != nil {
		return nil, err
	}

	l.mu.Lock()
	browser := l.browser
	l.mu.Unlock()
	if browser == nil {
		return nil, errors.New("playwright browser is stopped")
	}

	ctxOpts := playwright.BrowserNewContextOptions{}
	if opts.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.Locale != "" {
		ctxOpts.Locale = playwright.String(opts.Locale)
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		ctxOpts.Viewport = &playwright.Size{Width: opts.ViewportWidth, Height: opts.ViewportHeight}
	}

	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	return &session{bctx: bctx, page: &Page{page: page}}, nil
}

// IsRunning reports whether the browser has been started.
func (l *Launcher) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.browser != nil && l.browser.IsConnected()
}

// GetEndpoint names the engine; playwright does not expose a CDP URL.
func (l *Launcher) GetEndpoint() string {
	return "playwright://chromium"
}

// Stop closes the browser and the playwright driver.
func (l *Launcher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.browser != nil {
		errs = append(errs, l.browser.Close())
		l.browser = nil
	}
	if l.pw != nil {
		errs = append(errs, l.pw.Stop())
		l.pw = nil
	}
	return errors.Join(errs...)
}

type session struct {
	bctx playwright.BrowserContext
	page *Page

	once sync.Once
	err  error
}

func (s *session) Page() driver.Page { return s.page }

func (s *session) Close() error {
	s.once.Do(func() { s.err = s.bctx.Close() })
	return s.err
}
