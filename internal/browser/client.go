package browser

import "github.com/ahrdadan/shoprobot/internal/driver"

// Client is a managed browser process the API can launch runs against.
type Client interface {
	driver.Launcher
	IsRunning() bool
	GetEndpoint() string
	Stop() error
}

var (
	_ Client = (*Manager)(nil)
	_ Client = (*ChromeManager)(nil)
)
