package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/driver"
)

// ChromeManager manages a Chromium/Chrome instance launched by rod. Every
// session gets its own incognito context.
type ChromeManager struct {
	binPath   string
	headless  bool
	logger    *zap.Logger
	mu        sync.Mutex
	restartMu sync.Mutex
	launcher  *launcher.Launcher
	browser   *rod.Browser
	wsURL     string
	running   bool
}

// NewChromeManager creates a new Chrome manager.
func NewChromeManager(binPath string, headless bool, logger *zap.Logger) *ChromeManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeManager{
		binPath:  binPath,
		headless: headless,
		logger:   logger.Named("chrome"),
	}
}

// Start launches Chrome and connects via CDP.
func (m *ChromeManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	l := launcher.New().Headless(m.headless)
	if m.binPath != "" {
		l.Bin(m.binPath)
	}

	wsURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("failed to connect to chrome: %w", err)
	}

	m.launcher = l
	m.browser = browser
	m.wsURL = wsURL
	m.running = true

	m.logger.Info("Chrome started", zap.String("endpoint", wsURL), zap.Bool("headless", m.headless))
	return nil
}

// Stop stops Chrome.
func (m *ChromeManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.logger.Warn("Failed to close chrome", zap.Error(err))
		}
	}

	if m.launcher != nil {
		m.launcher.Kill()
		m.launcher.Cleanup()
	}

	m.launcher = nil
	m.browser = nil
	m.wsURL = ""
	m.running = false

	m.logger.Info("Chrome stopped")
	return nil
}

// IsRunning reports whether Chrome is running.
func (m *ChromeManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetEndpoint returns the Chrome DevTools endpoint.
func (m *ChromeManager) GetEndpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wsURL
}

// Launch opens an incognito context with one configured page. Closing the
// session disposes the context, so runs never share cookies or storage.
func (m *ChromeManager) Launch(ctx context.Context, opts driver.Options) (driver.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.ensureStarted(); err != nil {
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	incognito, page, err := m.newIncognitoPage()
	if err != nil {
		if !isConnectionError(err) {
			return nil, err
		}

		if restartErr := m.restartBrowser(); restartErr != nil {
			return nil, fmt.Errorf("failed to restart chrome after connection error: %w", restartErr)
		}

		incognito, page, err = m.newIncognitoPage()
		if err != nil {
			return nil, err
		}
	}

	if err := applySessionOptions(page, opts); err != nil {
		_ = page.Close()
		_ = incognito.Close()
		return nil, err
	}

	return &session{page: NewPage(page), raw: page, release: incognito.Close}, nil
}

// newIncognitoPage is not bound to the launch context: the session outlives it
// and must still be closable after the run is cancelled.
func (m *ChromeManager) newIncognitoPage() (*rod.Browser, *rod.Page, error) {
	m.mu.Lock()
	browser := m.browser
	m.mu.Unlock()
	if browser == nil {
		return nil, nil, fmt.Errorf("chrome is not running")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		return nil, nil, fmt.Errorf("failed to create new page: %w", err)
	}
	return incognito, page, nil
}

func (m *ChromeManager) ensureStarted() error {
	if m.IsRunning() {
		return nil
	}

	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	if m.IsRunning() {
		return nil
	}

	return m.Start()
}

func (m *ChromeManager) restartBrowser() error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	if err := m.Stop(); err != nil {
		m.logger.Warn("Failed to stop chrome before restart", zap.Error(err))
	}

	return m.Start()
}
