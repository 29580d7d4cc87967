// Package engine turns the configured engine name into a browser launcher.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ahrdadan/shoprobot/internal/browser"
	"github.com/ahrdadan/shoprobot/internal/config"
	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/fixture"
	"github.com/ahrdadan/shoprobot/internal/pwdriver"
	"github.com/ahrdadan/shoprobot/internal/robot"
)

// New builds the launcher for name. Browser processes start lazily on the
// first Launch; only downloads happen here. flow only matters to the fixture
// engine, which serves a different demo site per flow.
func New(ctx context.Context, name string, flow robot.Flow, cfg *config.Config, logger *zap.Logger) (browser.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch name {
	case config.EngineChrome:
		bin := cfg.ChromeBin
		if cfg.InstallChrome && bin == "" {
			path, err := browser.InstallChrome(ctx, cfg.ChromeRevision, cfg.InstallChromeDeps, logger)
			if err != nil {
				return nil, err
			}
			bin = path
		}
		return browser.NewChromeManager(bin, cfg.Headless, logger), nil

	case config.EngineLightpanda:
		path, err := browser.EnsureLightpandaBinary(ctx, logger)
		if err != nil {
			return nil, err
		}
		return browser.NewManagerWithPath(path, cfg.BrowserHost, cfg.BrowserPort, logger), nil

	case config.EnginePlaywright:
		return pwdriver.NewLauncher(pwdriver.Options{
			Headless: cfg.Headless,
			Install:  cfg.InstallChrome,
		}, logger), nil

	case config.EngineFixture:
		return NewFixture(flow, cfg.Username, cfg.Password), nil
	}
	return nil, fmt.Errorf("unknown engine %q", name)
}

// Fixture wraps the in-memory engine as a Client. It serves the demo
// storefront for the search flow and the demo login shop for the login flow.
type Fixture struct {
	*fixture.Engine
}

// NewFixture returns an offline engine for flow.
func NewFixture(flow robot.Flow, username, password string) *Fixture {
	site := fixture.Storefront(fixture.StorefrontOptions{
		Catalogue: fixture.DefaultCatalogue(),
		Consent:   "Accept All",
	})
	if flow == robot.FlowLogin {
		site = fixture.SauceDemo(fixture.SauceDemoOptions{
			Username:  username,
			Password:  password,
			Catalogue: fixture.SauceDemoCatalogue(),
		})
	}
	return &Fixture{Engine: fixture.NewEngine(site)}
}

func (f *Fixture) IsRunning() bool     { return true }
func (f *Fixture) GetEndpoint() string { return "fixture://memory" }
func (f *Fixture) Stop() error         { return nil }

var _ browser.Client = (*Fixture)(nil)

// Status describes one engine of a Registry.
type Status struct {
	Engine   string `json:"engine"`
	Running  bool   `json:"running"`
	Endpoint string `json:"endpoint"`
}

// Registry creates launchers on first use and keeps them for the life of the
// server. It is safe for concurrent use.
type Registry struct {
	cfg    *config.Config
	logger *zap.Logger
	build  func(ctx context.Context, name string, flow robot.Flow) (browser.Client, error)

	// Builds may download a browser; they run outside mu, one per key.
	builds singleflight.Group

	mu      sync.Mutex
	clients map[string]browser.Client
	closed  bool
}

// NewRegistry returns an empty registry building launchers from cfg.
func NewRegistry(cfg *config.Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]browser.Client),
	}
	r.build = func(ctx context.Context, name string, flow robot.Flow) (browser.Client, error) {
		return New(ctx, name, flow, r.cfg, r.logger)
	}
	return r
}

// Get returns the launcher for name, creating it if needed. An empty name
// selects the configured default engine. Fixture engines are kept per flow.
func (r *Registry) Get(ctx context.Context, name string, flow robot.Flow) (browser.Client, error) {
	if name == "" {
		name = r.cfg.Engine
	}
	key := name
	if name == config.EngineFixture {
		key = name + "/" + string(flow)
	}

	if c, ok := r.lookup(key); ok {
		return c, nil
	}
	v, err, _ := r.builds.Do(key, func() (interface{}, error) {
		if c, ok := r.lookup(key); ok {
			return c, nil
		}
		c, err := r.build(ctx, name, flow)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			_ = c.Stop()
			return nil, fmt.Errorf("engine %s: registry closed", key)
		}
		r.clients[key] = c
		r.logger.Info("Engine ready", zap.String("engine", key), zap.String("endpoint", c.GetEndpoint()))
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(browser.Client), nil
}

func (r *Registry) lookup(key string) (browser.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[key]
	return c, ok
}

// Launcher adapts Get to driver.Launcher for one engine and flow.
func (r *Registry) Launcher(name string, flow robot.Flow) driver.Launcher {
	return launcherFunc(func(ctx context.Context, opts driver.Options) (driver.Session, error) {
		c, err := r.Get(ctx, name, flow)
		if err != nil {
			return nil, err
		}
		return c.Launch(ctx, opts)
	})
}

// Status lists the engines created so far, sorted by name.
func (r *Registry) Status() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Status, 0, len(r.clients))
	for name, c := range r.clients {
		out = append(out, Status{Engine: name, Running: c.IsRunning(), Endpoint: c.GetEndpoint()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Engine < out[j].Engine })
	return out
}

// Close stops every engine. Engines finishing their build afterwards are
// stopped right away.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true

	var firstErr error
	for name, c := range r.clients {
		if err := c.Stop(); err != nil {
			r.logger.Warn("Failed to stop engine", zap.String("engine", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(r.clients, name)
	}
	return firstErr
}

type launcherFunc func(ctx context.Context, opts driver.Options) (driver.Session, error)

func (f launcherFunc) Launch(ctx context.Context, opts driver.Options) (driver.Session, error) {
	return f(ctx, opts)
}
