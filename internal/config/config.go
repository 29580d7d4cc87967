package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ahrdadan/shoprobot/internal/robot"
)

const (
	// Version is the current version of Shoprobot
	Version = "1"
	// AppName is the application name
	AppName = "Shoprobot"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SHOPROBOT_"
)

// Engines understood by --engine.
const (
	EngineChrome     = "chrome"
	EngineLightpanda = "lightpanda"
	EnginePlaywright = "playwright"
	EngineFixture    = "fixture"
)

// ValidEngine reports whether name is a known engine.
func ValidEngine(name string) bool {
	switch name {
	case EngineChrome, EngineLightpanda, EnginePlaywright, EngineFixture:
		return true
	}
	return false
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level       string
	Format      string // console or json
	File        string // optional rotated JSON log file
	MaxSize     int    // megabytes before rotation
	MaxBackups  int
	MaxAge      int // days
	Compress    bool
	ServiceName string
}

// Config holds all configuration options for the robot CLI and server
type Config struct {
	// Server
	Host    string
	Port    int
	BaseURL string // Full base URL for API responses (e.g., http://localhost:8000)

	// Robot
	Engine            string
	Flow              string
	SiteURL           string // storefront the robot drives
	Target            string // search query or product name
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	PriceTimeout      time.Duration
	Headless          bool
	Username          string
	Password          string
	ScanCap           int

	// Browser (Lightpanda CDP)
	BrowserHost string
	BrowserPort int

	// Chrome
	ChromeBin         string
	InstallChrome     bool
	InstallChromeDeps bool
	ChromeRevision    int

	// Queue (NATS JetStream)
	WithNats   bool
	NatsURL    string
	NatsStore  string
	NatsAutoDL bool
	NatsBin    string

	// Security
	RateLimitRequests int           // requests per window
	RateLimitBurst    int           // short burst allowance
	RateLimitWindow   time.Duration // time window for rate limiting
	IdempotencyTTL    time.Duration // TTL for idempotency keys
	ResultTTL         time.Duration // TTL for job results
	MaxJobTimeout     time.Duration // Maximum allowed job timeout
	WebhookSecret     string        // HMAC key for webhook signatures
	AllowedIPs        []string      // empty allows every client

	Log LoggerConfig

	// Flags
	ShowVersion bool
	ShowHelp    bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	run := robot.DefaultConfig()
	return &Config{
		Host:              "0.0.0.0",
		Port:              8000,
		BaseURL:           "", // Will be auto-generated if empty
		Engine:            EngineChrome,
		Flow:              string(run.Flow),
		SiteURL:           "", // flow default if empty
		NavigationTimeout: run.NavigationTimeout,
		ActionTimeout:     run.ActionTimeout,
		PriceTimeout:      run.PriceTimeout,
		Headless:          run.Headless,
		Username:          run.Username,
		Password:          run.Password,
		ScanCap:           run.ScanCap,
		BrowserHost:       "127.0.0.1",
		BrowserPort:       9222,
		WithNats:          true,
		NatsURL:           "nats://127.0.0.1:4222",
		NatsStore:         "./data/nats",
		NatsAutoDL:        true,
		NatsBin:           "./bin/nats-server",
		RateLimitRequests: 100,
		RateLimitBurst:    10,
		RateLimitWindow:   time.Minute,
		IdempotencyTTL:    24 * time.Hour,
		ResultTTL:         24 * time.Hour,
		MaxJobTimeout:     5 * time.Minute,
		Log: LoggerConfig{
			Level:       "info",
			Format:      "console",
			MaxSize:     10,
			MaxBackups:  3,
			MaxAge:      7,
			ServiceName: "shoprobot",
		},
	}
}

// LoadEnv loads .env style files into the process environment. Missing files
// are skipped and variables already set win.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ParseFlags builds the config from defaults, SHOPROBOT_* environment
// variables and then args, each layer overriding the previous one.
func ParseFlags(name string, args []string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Server flags
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host address to bind the server")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port number for the server")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Base URL for API responses (e.g., http://localhost:8000)")

	// Robot flags
	fs.StringVar(&cfg.Engine, "engine", cfg.Engine, "Browser engine: chrome, lightpanda, playwright or fixture")
	fs.StringVar(&cfg.Flow, "flow", cfg.Flow, "Run flow: search or login")
	fs.StringVar(&cfg.SiteURL, "site-url", cfg.SiteURL, "Storefront URL")
	fs.StringVar(&cfg.Target, "query", cfg.Target, "Search query or product name")
	fs.DurationVar(&cfg.NavigationTimeout, "nav-timeout", cfg.NavigationTimeout, "Navigation timeout")
	fs.DurationVar(&cfg.ActionTimeout, "action-timeout", cfg.ActionTimeout, "Element action timeout")
	fs.DurationVar(&cfg.PriceTimeout, "price-timeout", cfg.PriceTimeout, "Soft wait for prices after results load")
	fs.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run the browser headless")
	fs.StringVar(&cfg.Username, "username", cfg.Username, "Login flow username")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "Login flow password")
	fs.IntVar(&cfg.ScanCap, "scan-cap", cfg.ScanCap, "Maximum candidates inspected per strategy (1-200)")

	// Browser flags
	fs.StringVar(&cfg.BrowserHost, "browser-host", cfg.BrowserHost, "Lightpanda browser CDP host")
	fs.IntVar(&cfg.BrowserPort, "browser-port", cfg.BrowserPort, "Lightpanda browser CDP port")

	// Chrome flags
	fs.StringVar(&cfg.ChromeBin, "chrome-bin", cfg.ChromeBin, "Chrome binary (empty uses the system browser)")
	fs.BoolVar(&cfg.InstallChrome, "install-chrome", cfg.InstallChrome, "Download Chromium before launching")
	fs.BoolVar(&cfg.InstallChromeDeps, "install-chrome-deps", cfg.InstallChromeDeps, "Install Chromium system dependencies")
	fs.IntVar(&cfg.ChromeRevision, "chrome-revision", cfg.ChromeRevision, "Chromium revision to download (0 uses default)")

	// NATS flags
	fs.BoolVar(&cfg.WithNats, "with-nats", cfg.WithNats, "Enable NATS JetStream for queued runs")
	fs.StringVar(&cfg.NatsURL, "nats-url", cfg.NatsURL, "NATS server URL")
	fs.StringVar(&cfg.NatsStore, "nats-store", cfg.NatsStore, "NATS JetStream storage directory")
	fs.BoolVar(&cfg.NatsAutoDL, "nats-autodl", cfg.NatsAutoDL, "Auto-download NATS server binary")
	fs.StringVar(&cfg.NatsBin, "nats-bin", cfg.NatsBin, "Path to NATS server binary")

	// Security flags
	fs.IntVar(&cfg.RateLimitRequests, "rate-limit", cfg.RateLimitRequests, "Rate limit requests per minute")
	fs.IntVar(&cfg.RateLimitBurst, "rate-burst", cfg.RateLimitBurst, "Requests allowed in a burst")
	fs.StringVar(&cfg.WebhookSecret, "webhook-secret", cfg.WebhookSecret, "HMAC secret for webhook signatures")
	fs.Func("allow-ips", "Comma separated client IPs allowed to call the API", func(v string) error {
		cfg.AllowedIPs = splitList(v)
		return nil
	})

	// Logging flags
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "Log format: console or json")
	fs.StringVar(&cfg.Log.File, "log-file", cfg.Log.File, "Also write JSON logs to this rotated file")

	// Other flags
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", cfg.ShowHelp, "Show help message")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			cfg.ShowHelp = true
			return cfg, nil
		}
		return nil, err
	}
	if cfg.Target == "" && fs.NArg() > 0 {
		cfg.Target = strings.Join(fs.Args(), " ")
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize fills derived values and clamps out-of-range ones.
func (c *Config) normalize() error {
	// Auto-generate BaseURL if not provided
	if c.BaseURL == "" {
		host := c.Host
		if host == "0.0.0.0" {
			host = "localhost"
		}
		c.BaseURL = fmt.Sprintf("http://%s:%d", host, c.Port)
	}

	flow, err := robot.ParseFlow(c.Flow)
	if err != nil {
		return err
	}
	if c.SiteURL == "" {
		c.SiteURL = robot.DefaultSiteURL(flow)
	}

	if !ValidEngine(c.Engine) {
		return fmt.Errorf("unknown engine %q", c.Engine)
	}

	// Validate
	defaults := DefaultConfig()
	if c.ScanCap < 1 {
		c.ScanCap = 1
	}
	if c.ScanCap > 200 {
		c.ScanCap = 200
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaults.NavigationTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = defaults.ActionTimeout
	}
	if c.PriceTimeout <= 0 {
		c.PriceTimeout = defaults.PriceTimeout
	}
	if c.RateLimitRequests < 1 {
		c.RateLimitRequests = defaults.RateLimitRequests
	}
	if c.RateLimitBurst < 1 {
		c.RateLimitBurst = 1
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	millis := func(key string, dst *time.Duration) {
		var ms int
		num(key, &ms)
		if ms > 0 {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}

	str("HOST", &c.Host)
	num("PORT", &c.Port)
	str("PUBLIC_URL", &c.BaseURL)
	str("ENGINE", &c.Engine)
	str("FLOW", &c.Flow)
	str("BASE_URL", &c.SiteURL)
	str("QUERY", &c.Target)
	millis("NAV_TIMEOUT_MS", &c.NavigationTimeout)
	millis("ACTION_TIMEOUT_MS", &c.ActionTimeout)
	millis("PRICE_TIMEOUT_MS", &c.PriceTimeout)
	boolean("HEADLESS", &c.Headless)
	str("USERNAME", &c.Username)
	str("PASSWORD", &c.Password)
	num("SCAN_CAP", &c.ScanCap)
	str("CHROME_BIN", &c.ChromeBin)
	str("NATS_URL", &c.NatsURL)
	boolean("WITH_NATS", &c.WithNats)
	num("RATE_LIMIT", &c.RateLimitRequests)
	str("WEBHOOK_SECRET", &c.WebhookSecret)
	if v, ok := lookup(EnvPrefix + "ALLOWED_IPS"); ok && v != "" {
		c.AllowedIPs = splitList(v)
	}
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RobotConfig returns the per-run configuration.
func (c *Config) RobotConfig() robot.Config {
	run := robot.DefaultConfig()
	run.Flow = robot.Flow(c.Flow)
	run.BaseURL = c.SiteURL
	if run.BaseURL == "" {
		run.BaseURL = robot.DefaultSiteURL(run.Flow)
	}
	run.NavigationTimeout = c.NavigationTimeout
	run.ActionTimeout = c.ActionTimeout
	run.PriceTimeout = c.PriceTimeout
	run.Headless = c.Headless
	run.Username = c.Username
	run.Password = c.Password
	run.ScanCap = c.ScanCap
	return run
}

// PrintVersion prints version information
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "%s v%s\n", AppName, Version)
}

// PrintHelp prints help information
func PrintHelp(w io.Writer, usage string) {
	d := DefaultConfig()
	fmt.Fprintf(w, `%s v%s (Storefront robot)

Usage:
  %s [flags]

Robot:
  --engine          %s (chrome, lightpanda, playwright, fixture)
  --flow            %s (search, login)
  --site-url        storefront URL (flow default if empty)
  --query           search query or product name
  --nav-timeout     %s
  --action-timeout  %s
  --price-timeout   %s
  --headless        %v
  --username        %s
  --password        ****
  --scan-cap        %d

Server:
  --host            %s
  --port            %d
  --base-url        (auto-generated if empty)

Browser (Lightpanda CDP):
  --browser-host    %s
  --browser-port    %d

Chrome:
  --chrome-bin            (system browser if empty)
  --install-chrome        %v
  --install-chrome-deps   %v
  --chrome-revision       %d

Queue (NATS JetStream):
  --with-nats        %v
  --nats-url         %s
  --nats-store       %s
  --nats-autodl      %v
  --nats-bin         %s

Security:
  --rate-limit       %d (requests per minute)
  --rate-burst       %d
  --webhook-secret   HMAC key for webhook signatures
  --allow-ips        comma separated client IPs (all if empty)

Logging:
  --log-level       %s
  --log-format      %s
  --log-file        (stderr only if empty)

Environment variables prefixed with %s override defaults, and flags override
the environment. A .env file in the working directory is loaded first.

Other:
  --version         show version
  --help            show this help

`, AppName, Version, usage,
		d.Engine, d.Flow, d.NavigationTimeout, d.ActionTimeout, d.PriceTimeout, d.Headless, d.Username, d.ScanCap,
		d.Host, d.Port,
		d.BrowserHost, d.BrowserPort,
		d.InstallChrome, d.InstallChromeDeps, d.ChromeRevision,
		d.WithNats, d.NatsURL, d.NatsStore, d.NatsAutoDL, d.NatsBin,
		d.RateLimitRequests, d.RateLimitBurst,
		d.Log.Level, d.Log.Format,
		EnvPrefix)
}

// HandleFlags handles version and help flags, exits if needed
func HandleFlags(cfg *Config, usage string) {
	if cfg.ShowVersion {
		PrintVersion(os.Stdout)
		os.Exit(0)
	}

	if cfg.ShowHelp {
		PrintHelp(os.Stdout, usage)
		os.Exit(0)
	}
}
