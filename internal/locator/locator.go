// Package locator finds elements on pages whose markup is not known in advance.
//
// A target is described by an ordered list of strategies. Each strategy is first
// probed without blocking; only a strategy that has matches, none of them visible
// yet, pays for a bounded visibility wait. The first strategy producing a visible
// match wins, so a later strategy is never chosen over an earlier one that works.
package locator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/failure"
	"github.com/ahrdadan/shoprobot/internal/retry"
)

// DefaultScanCap bounds how many candidates of one strategy are inspected.
const DefaultScanCap = 24

// Strategy is one named way to locate a logical element.
type Strategy struct {
	Name   string
	Target driver.Descriptor
}

// By builds a Strategy named after its descriptor.
func By(d driver.Descriptor) Strategy {
	return Strategy{Name: d.String(), Target: d}
}

// Match is a resolved element and the strategy that produced it.
type Match struct {
	Handle   driver.Handle
	Strategy Strategy
	Index    int
}

// Accept decides whether a candidate container is the one wanted.
type Accept func(ctx context.Context, container driver.Handle) (bool, error)

// HasDescendant accepts containers with at least one descendant matching d.
func HasDescendant(d driver.Descriptor) Accept {
	return func(ctx context.Context, container driver.Handle) (bool, error) {
		found, err := container.Find(ctx, d)
		if err != nil {
			return false, err
		}
		return len(found) > 0, nil
	}
}

// HasAnyDescendant accepts containers matching any of ds.
func HasAnyDescendant(ds ...driver.Descriptor) Accept {
	return func(ctx context.Context, container driver.Handle) (bool, error) {
		for _, d := range ds {
			ok, err := HasDescendant(d)(ctx, container)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// Resolver resolves strategy lists against a page or a container.
type Resolver struct {
	ActionTimeout time.Duration
	ScanCap       int
	Retry         retry.Policy
	Logger        *zap.Logger
}

// NewResolver returns a resolver with the default scan cap and retry policy.
func NewResolver(actionTimeout time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		ActionTimeout: actionTimeout,
		ScanCap:       DefaultScanCap,
		Retry:         retry.DefaultPolicy(),
		Logger:        logger,
	}
}

func (r *Resolver) scanCap() int {
	if r.ScanCap <= 0 {
		return DefaultScanCap
	}
	return r.ScanCap
}

func (r *Resolver) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Resolve returns the first visible match, trying strategies in order.
func (r *Resolver) Resolve(ctx context.Context, scope driver.Scope, strategies []Strategy) (Match, error) {
	var lastErr error

	for _, s := range strategies {
		handles, err := scope.Find(ctx, s.Target)
		if err != nil {
			if ctx.Err() != nil {
				return Match{}, ctx.Err()
			}
			r.log().Debug("Strategy probe failed", zap.String("strategy", s.Name), zap.Error(err))
			lastErr = err
			continue
		}
		if len(handles) == 0 {
			continue
		}

		limit := min(len(handles), r.scanCap())
		for i := 0; i < limit; i++ {
			ok, err := handles[i].Visible(ctx)
			if err == nil && ok {
				r.log().Debug("Strategy matched", zap.String("strategy", s.Name), zap.Int("index", i))
				return Match{Handle: handles[i], Strategy: s, Index: i}, nil
			}
		}

		// Present but not rendered yet: one bounded wait on the first match.
		if err := handles[0].WaitVisible(ctx, r.ActionTimeout); err != nil {
			if ctx.Err() != nil {
				return Match{}, ctx.Err()
			}
			lastErr = err
			continue
		}
		r.log().Debug("Strategy matched after wait", zap.String("strategy", s.Name))
		return Match{Handle: handles[0], Strategy: s}, nil
	}

	return Match{}, failure.New(failure.ElementNotFound,
		fmt.Sprintf("no visible element for %s", describe(strategies)), lastErr)
}

// Container returns the first candidate container that accept approves,
// inspecting at most ScanCap candidates per strategy.
func (r *Resolver) Container(ctx context.Context, scope driver.Scope, strategies []Strategy, accept Accept) (Match, error) {
	var lastErr error

	for _, s := range strategies {
		handles, err := scope.Find(ctx, s.Target)
		if err != nil {
			if ctx.Err() != nil {
				return Match{}, ctx.Err()
			}
			lastErr = err
			continue
		}

		limit := min(len(handles), r.scanCap())
		for i := 0; i < limit; i++ {
			ok, err := accept(ctx, handles[i])
			if err != nil {
				if ctx.Err() != nil {
					return Match{}, ctx.Err()
				}
				lastErr = err
				continue
			}
			if ok {
				r.log().Debug("Container matched", zap.String("strategy", s.Name), zap.Int("index", i))
				return Match{Handle: handles[i], Strategy: s, Index: i}, nil
			}
		}
	}

	return Match{}, failure.New(failure.ElementNotFound,
		fmt.Sprintf("no matching container for %s", describe(strategies)), lastErr)
}

// Candidates returns the matches of the first strategy that has any, capped at
// ScanCap.
func (r *Resolver) Candidates(ctx context.Context, scope driver.Scope, strategies []Strategy) ([]driver.Handle, Strategy, error) {
	for _, s := range strategies {
		handles, err := scope.Find(ctx, s.Target)
		if err != nil {
			if ctx.Err() != nil {
				return nil, Strategy{}, ctx.Err()
			}
			continue
		}
		if len(handles) > 0 {
			return handles[:min(len(handles), r.scanCap())], s, nil
		}
	}
	return nil, Strategy{}, failure.Newf(failure.ElementNotFound, "no candidates for %s", describe(strategies))
}

// Click waits for h to be visible and clicks it, retrying transient failures.
func (r *Resolver) Click(ctx context.Context, op string, h driver.Handle) error {
	return r.Retry.Run(ctx, op, func(ctx context.Context) error {
		if err := h.WaitVisible(ctx, r.ActionTimeout); err != nil {
			return err
		}
		return h.Click(ctx, r.ActionTimeout)
	})
}

// Activate resolves strategies and clicks the result. Callers use it for
// optional steps such as opening a collapsed search panel.
func (r *Resolver) Activate(ctx context.Context, scope driver.Scope, strategies []Strategy) error {
	m, err := r.Resolve(ctx, scope, strategies)
	if err != nil {
		return err
	}
	return r.Click(ctx, "activate "+m.Strategy.Name, m.Handle)
}

func describe(strategies []Strategy) string {
	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		names = append(names, s.Name)
	}
	return "[" + strings.Join(names, ", ") + "]"
}
