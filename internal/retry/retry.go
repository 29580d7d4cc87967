// Package retry retries a single browser interaction on transient failures.
//
// The policy is fixed-budget exponential backoff: an attempt that fails with a
// recoverable error is retried after clamp(Base*2^(n-1), Floor, Ceiling), up to
// MaxAttempts total attempts. When the budget is spent the last error is returned
// unchanged, so callers can classify it exactly as the driver raised it.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/failure"
)

// Class is the retry classification of an error.
type Class int

const (
	Fatal Class = iota
	Recoverable
)

func (c Class) String() string {
	if c == Recoverable {
		return "recoverable"
	}
	return "fatal"
}

// Classify reports whether err is worth another attempt. Only timeouts,
// non-interactable targets and detached handles are recoverable. A typed
// failure keeps its own verdict even when it wraps one of those.
func Classify(err error) Class {
	var fe *failure.Error
	switch {
	case err == nil:
		return Fatal
	case errors.As(err, &fe):
		if fe.Kind == failure.RecoverableInteraction {
			return Recoverable
		}
		return Fatal
	case errors.Is(err, context.Canceled):
		return Fatal
	case errors.Is(err, driver.ErrTimeout),
		errors.Is(err, driver.ErrNotInteractable),
		errors.Is(err, driver.ErrDetached):
		return Recoverable
	}
	return Fatal
}

// Event describes a scheduled retry. Attempt is the number of the attempt about
// to run (2 or 3 with the default policy).
type Event struct {
	Op      string
	Attempt int
	Delay   time.Duration
	Err     error
}

// Observer receives one Event per attempt after the first.
type Observer func(Event)

// Policy configures the retry budget.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Floor       time.Duration
	Ceiling     time.Duration
	Observer    Observer

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 3 attempts with 0.5s, 1s backoff capped at 4s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Base:        500 * time.Millisecond,
		Floor:       500 * time.Millisecond,
		Ceiling:     4 * time.Second,
	}
}

// WithObserver returns a copy of p reporting to obs.
func (p Policy) WithObserver(obs Observer) Policy {
	p.Observer = obs
	return p
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt && (p.Ceiling <= 0 || d < p.Ceiling); i++ {
		d *= 2
	}
	if d < p.Floor {
		d = p.Floor
	}
	if p.Ceiling > 0 && d > p.Ceiling {
		d = p.Ceiling
	}
	return d
}

// Run executes action under the policy.
func (p Policy) Run(ctx context.Context, op string, action func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, action(ctx)
	})
	return err
}

// Do executes action under p and returns its value. A fatal error is returned
// immediately. After MaxAttempts recoverable failures the last error is returned
// as is.
func Do[T any](ctx context.Context, p Policy, op string, action func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := action(ctx)
		if err == nil {
			return v, nil
		}
		if Classify(err) == Fatal || attempt >= maxAttempts {
			return zero, err
		}

		delay := p.Delay(attempt)
		if p.Observer != nil {
			p.Observer(Event{Op: op, Attempt: attempt + 1, Delay: delay, Err: err})
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
