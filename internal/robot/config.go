package robot

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/locator"
)

// Flow selects how the robot reaches the product listing.
type Flow string

const (
	// FlowSearch types a query into the storefront search and reads the first result.
	FlowSearch Flow = "search"
	// FlowLogin signs in and reads the inventory entry named by the target.
	FlowLogin Flow = "login"
)

// ParseFlow validates a flow name.
func ParseFlow(s string) (Flow, error) {
	switch Flow(s) {
	case FlowSearch, FlowLogin:
		return Flow(s), nil
	}
	return "", fmt.Errorf("unknown flow %q (want search or login)", s)
}

// Default targets per flow.
const (
	DefaultQuery   = "Men's Pegasus"
	DefaultProduct = "Sauce Labs Backpack"

	DefaultSearchURL = "https://www.nike.com/"
	DefaultLoginURL  = "https://www.saucedemo.com/"
)

// DefaultSiteURL returns the storefront a flow runs against when none is given.
func DefaultSiteURL(flow Flow) string {
	if flow == FlowLogin {
		return DefaultLoginURL
	}
	return DefaultSearchURL
}

// Config is everything one run needs besides the browser engine.
type Config struct {
	BaseURL           string
	Flow              Flow
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	// PriceTimeout bounds the soft wait for prices after results appear.
	PriceTimeout time.Duration
	Headless     bool
	Username     string
	Password     string
	ScanCap      int

	UserAgent      string
	Locale         string
	ViewportWidth  int
	ViewportHeight int
}

// DefaultConfig returns the search-flow defaults.
func DefaultConfig() Config {
	opts := driver.DefaultOptions()
	return Config{
		BaseURL:           DefaultSearchURL,
		Flow:              FlowSearch,
		NavigationTimeout: opts.NavigationTimeout,
		ActionTimeout:     opts.ActionTimeout,
		PriceTimeout:      15 * time.Second,
		Headless:          opts.Headless,
		Username:          "standard_user",
		Password:          "secret_sauce",
		ScanCap:           locator.DefaultScanCap,
		UserAgent:         opts.UserAgent,
		Locale:            opts.Locale,
		ViewportWidth:     opts.ViewportWidth,
		ViewportHeight:    opts.ViewportHeight,
	}
}

// DefaultTarget returns the target used when none is given.
func (c Config) DefaultTarget() string {
	if c.Flow == FlowLogin {
		return DefaultProduct
	}
	return DefaultQuery
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := ParseFlow(string(c.Flow)); err != nil {
		return err
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base url %q", c.BaseURL)
	}
	if c.NavigationTimeout <= 0 || c.ActionTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.ScanCap <= 0 {
		return fmt.Errorf("scan cap must be positive")
	}
	if c.Flow == FlowLogin && (c.Username == "" || c.Password == "") {
		return fmt.Errorf("login flow needs a username and password")
	}
	return nil
}

// SessionOptions converts c into browser session options.
func (c Config) SessionOptions() driver.Options {
	return driver.Options{
		Headless:          c.Headless,
		UserAgent:         c.UserAgent,
		ViewportWidth:     c.ViewportWidth,
		ViewportHeight:    c.ViewportHeight,
		Locale:            c.Locale,
		NavigationTimeout: c.NavigationTimeout,
		ActionTimeout:     c.ActionTimeout,
	}
}
