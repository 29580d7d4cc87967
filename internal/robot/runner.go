// Package robot runs one storefront task end to end and reports one Outcome.
//
// A run is a linear state machine:
//
//	navigate -> dismiss_banners -> search or login -> resolve_target_card -> extract -> format
//
// The browser session is acquired at the start and released on every exit path.
// Individual clicks are retried by the locator's policy; the run itself is never
// retried.
package robot

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/banner"
	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/extract"
	"github.com/ahrdadan/shoprobot/internal/failure"
	"github.com/ahrdadan/shoprobot/internal/locator"
	"github.com/ahrdadan/shoprobot/internal/retry"
)

// Runner executes runs against sessions from a launcher. It holds no per-run
// state, so concurrent runs are independent as long as the launcher is.
type Runner struct {
	cfg      Config
	launcher driver.Launcher
	profile  Profile
	policy   retry.Policy
	logger   *zap.Logger
	observer Observer
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Runs log with run_id, flow and target fields.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithObserver adds an observer next to the logging one.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithProfile replaces the default site profile.
func WithProfile(p Profile) Option {
	return func(r *Runner) { r.profile = p }
}

// WithRetryPolicy replaces the default click retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Runner) { r.policy = p }
}

// NewRunner creates a runner.
func NewRunner(cfg Config, launcher driver.Launcher, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		launcher: launcher,
		profile:  DefaultProfile(),
		policy:   retry.DefaultPolicy(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the run configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Run performs one task for target, a search query or a product name depending
// on the flow. An empty target selects the flow's default.
func (r *Runner) Run(ctx context.Context, target string) Outcome {
	if target == "" {
		target = r.cfg.DefaultTarget()
	}

	log := r.logger.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("flow", string(r.cfg.Flow)),
		zap.String("target", target),
	)
	obs := Observers(LogObserver{Logger: log}, r.observer)

	s := &run{
		cfg:      r.cfg,
		profile:  r.profile,
		target:   target,
		log:      log,
		observer: obs,
		stage:    StageStart,
	}

	resolver := locator.NewResolver(r.cfg.ActionTimeout, log)
	resolver.ScanCap = r.cfg.ScanCap
	resolver.Retry = r.policy.WithObserver(func(e retry.Event) { obs.Retry(e) })
	s.resolver = resolver
	s.dismisser = banner.NewDismisser(resolver, log)

	if err := r.cfg.Validate(); err != nil {
		return Failed(target, failure.Unclassified, StageStart, err.Error())
	}

	session, err := r.launcher.Launch(ctx, r.cfg.SessionOptions())
	if err != nil {
		log.Error("Failed to launch browser session", zap.Error(err))
		return Failed(target, failure.Unclassified, StageStart, fmt.Sprintf("launch browser: %v", err))
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("Failed to close browser session", zap.Error(err))
		}
	}()
	s.page = session.Page()

	var rec extract.Record
	switch r.cfg.Flow {
	case FlowLogin:
		rec, err = s.login(ctx)
	default:
		rec, err = s.search(ctx)
	}
	if err != nil {
		out := Failed(target, Classify(s.stage, err), s.stage, failure.MessageOf(err))
		log.Info("Run failed", zap.String("stage", string(s.stage)), zap.String("kind", string(out.Kind)), zap.Error(err))
		return out
	}

	s.enter(StageFormat)
	out := Succeeded(r.cfg.Flow, target, rec[extract.FieldTitle], rec[extract.FieldPrice])
	log.Info("Run succeeded", zap.String("title", out.Title), zap.String("price", out.Price))
	return out
}

// Classify maps an error raised in stage to a failure kind. Typed failures keep
// their kind; timeouts are navigation timeouts while navigating or waiting for a
// page, and transient interaction errors otherwise.
func Classify(stage Stage, err error) failure.Kind {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	timeout := errors.Is(err, driver.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
	switch stage {
	case StageNavigate, StageWaitForResults, StageWaitForInventory:
		if timeout {
			return failure.NavigationTimeout
		}
	}
	if retry.Classify(err) == retry.Recoverable {
		return failure.RecoverableInteraction
	}
	return failure.Unclassified
}

// run is the state of one Run call.
type run struct {
	cfg       Config
	profile   Profile
	target    string
	page      driver.Page
	resolver  *locator.Resolver
	dismisser *banner.Dismisser
	log       *zap.Logger
	observer  Observer
	stage     Stage
}

func (s *run) enter(stage Stage) {
	s.stage = stage
	s.observer.Enter(stage)
}

// open navigates to the base URL and clears banners.
func (s *run) open(ctx context.Context) error {
	s.enter(StageNavigate)
	if err := s.page.Navigate(ctx, s.cfg.BaseURL, s.cfg.NavigationTimeout); err != nil {
		return fmt.Errorf("navigate to %s: %w", s.cfg.BaseURL, err)
	}

	s.enter(StageDismissBanners)
	s.dismisser.Dismiss(ctx, s.page, s.profile.Vocabulary)
	return nil
}
