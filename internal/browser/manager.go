package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/driver"
)

// Manager handles Lightpanda browser lifecycle
type Manager struct {
	host       string
	port       int
	logger     *zap.Logger
	cmd        *exec.Cmd
	browser    *rod.Browser
	mu         sync.Mutex
	restartMu  sync.Mutex
	isRunning  bool
	binaryPath string
}

// NewManagerWithPath creates a new browser manager with a specific binary path
func NewManagerWithPath(binaryPath string, host string, port int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		host:       host,
		port:       port,
		logger:     logger.Named("lightpanda"),
		binaryPath: binaryPath,
	}
}

// Start starts the Lightpanda browser CDP server
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return nil
	}

	// Check if running on Linux
	if runtime.GOOS != "linux" {
		return fmt.Errorf("Lightpanda browser only supports Linux, current OS: %s", runtime.GOOS)
	}

	// Start Lightpanda browser
	m.cmd = exec.Command(m.binaryPath, "serve", "--host", m.host, "--port", fmt.Sprintf("%d", m.port))
	m.cmd.Stdout = os.Stderr
	m.cmd.Stderr = os.Stderr

	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start Lightpanda browser: %w", err)
	}

	// Wait for browser to be ready
	time.Sleep(2 * time.Second)

	// Connect to browser via CDP
	controlURL, err := launcher.ResolveURL(m.GetEndpoint())
	if err != nil {
		m.kill()
		return fmt.Errorf("failed to resolve browser endpoint: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)

	if err := browser.Connect(); err != nil {
		m.kill()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	m.browser = browser
	m.isRunning = true

	m.logger.Info("Lightpanda browser started", zap.String("host", m.host), zap.Int("port", m.port))
	return nil
}

func (m *Manager) kill() {
	if err := m.cmd.Process.Kill(); err != nil {
		m.logger.Warn("Failed to kill browser process after connect error", zap.Error(err))
	}
	if err := m.cmd.Wait(); err != nil {
		m.logger.Warn("Failed to wait for browser process after connect error", zap.Error(err))
	}
}

// Stop stops the Lightpanda browser
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return nil
	}

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.logger.Warn("Failed to close browser", zap.Error(err))
		}
	}

	if m.cmd != nil && m.cmd.Process != nil {
		if err := m.cmd.Process.Kill(); err != nil {
			m.logger.Warn("Failed to kill browser process", zap.Error(err))
		}
		if err := m.cmd.Wait(); err != nil {
			m.logger.Warn("Failed to wait for browser process", zap.Error(err))
		}
	}

	m.browser = nil
	m.cmd = nil
	m.isRunning = false
	m.logger.Info("Lightpanda browser stopped")
	return nil
}

// IsRunning returns true if the browser is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}

// GetEndpoint returns the WebSocket endpoint URL
func (m *Manager) GetEndpoint() string {
	return fmt.Sprintf("ws://%s:%d", m.host, m.port)
}

// Launch opens a page on the shared Lightpanda browser. Lightpanda has no
// incognito contexts, so each session is a separate target.
func (m *Manager) Launch(ctx context.Context, opts driver.Options) (driver.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.ensureStarted(); err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	page, err := m.newPage()
	if err != nil {
		if !isConnectionError(err) {
			return nil, fmt.Errorf("failed to create new page: %w", err)
		}

		if restartErr := m.restart(); restartErr != nil {
			return nil, fmt.Errorf("failed to restart browser after connection error: %w", restartErr)
		}

		page, err = m.newPage()
		if err != nil {
			return nil, fmt.Errorf("failed to create new page: %w", err)
		}
	}

	// Lightpanda ignores most emulation commands; a failure here is not fatal.
	if err := applySessionOptions(page, opts); err != nil {
		m.logger.Debug("Session options not applied", zap.Error(err))
	}

	return &session{page: NewPage(page), raw: page}, nil
}

func (m *Manager) newPage() (*rod.Page, error) {
	m.mu.Lock()
	browser := m.browser
	m.mu.Unlock()
	if browser == nil {
		return nil, fmt.Errorf("browser is not running")
	}
	return browser.Page(proto.TargetCreateTarget{})
}

func (m *Manager) ensureStarted() error {
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

func (m *Manager) restart() error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	if err := m.Stop(); err != nil {
		m.logger.Warn("Failed to stop browser before restart", zap.Error(err))
	}

	return m.Start()
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "eof")
}
