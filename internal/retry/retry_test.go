package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/failure"
)

// instant records the requested waits instead of sleeping.
func instant(p Policy, waits *[]time.Duration) Policy {
	p.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return p
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"timeout", fmt.Errorf("click: %w", driver.ErrTimeout), Recoverable},
		{"not interactable", driver.ErrNotInteractable, Recoverable},
		{"detached", fmt.Errorf("wrap: %w", driver.ErrDetached), Recoverable},
		{"navigation", driver.ErrNavigation, Fatal},
		{"element not found", failure.Newf(failure.ElementNotFound, "nothing"), Fatal},
		{"typed failure wrapping timeout", failure.New(failure.ElementNotFound, "nothing", driver.ErrTimeout), Fatal},
		{"typed recoverable", failure.Newf(failure.RecoverableInteraction, "later"), Recoverable},
		{"canceled", context.Canceled, Fatal},
		{"plain", errors.New("x"), Fatal},
		{"nil", nil, Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestDelay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 500*time.Millisecond, p.Delay(1))
	assert.Equal(t, time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(3))
	assert.Equal(t, 4*time.Second, p.Delay(4))
	assert.Equal(t, 4*time.Second, p.Delay(10))

	p.Base = 100 * time.Millisecond
	assert.Equal(t, 500*time.Millisecond, p.Delay(1), "floor applies")
}

func TestRecoversAfterTwoFailures(t *testing.T) {
	var events []Event
	var waits []time.Duration
	p := instant(DefaultPolicy().WithObserver(func(e Event) { events = append(events, e) }), &waits)

	calls := 0
	got, err := Do(context.Background(), p, "click", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("click: %w", driver.ErrNotInteractable)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[0].Attempt)
	assert.Equal(t, 3, events[1].Attempt)
	assert.Equal(t, "click", events[0].Op)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, waits)
}

func TestReturnsOriginalErrorWhenExhausted(t *testing.T) {
	var waits []time.Duration
	p := instant(DefaultPolicy(), &waits)

	orig := fmt.Errorf("click: %w", driver.ErrTimeout)
	calls := 0
	err := p.Run(context.Background(), "click", func(context.Context) error {
		calls++
		return orig
	})

	assert.Same(t, orig, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, waits, 2)
}

func TestFatalReturnsImmediately(t *testing.T) {
	var waits []time.Duration
	var events []Event
	p := instant(DefaultPolicy().WithObserver(func(e Event) { events = append(events, e) }), &waits)

	orig := failure.Newf(failure.ElementNotFound, "gone")
	calls := 0
	err := p.Run(context.Background(), "click", func(context.Context) error {
		calls++
		return orig
	})

	assert.Same(t, orig, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
	assert.Empty(t, events)
}

func TestCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	err := p.Run(ctx, "click", func(context.Context) error { return driver.ErrTimeout })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRealSleepHonoursBudget(t *testing.T) {
	p := DefaultPolicy()
	p.Base, p.Floor, p.Ceiling = time.Millisecond, time.Millisecond, 2*time.Millisecond

	start := time.Now()
	err := p.Run(context.Background(), "click", func(context.Context) error { return driver.ErrDetached })
	assert.ErrorIs(t, err, driver.ErrDetached)
	assert.Less(t, time.Since(start), time.Second)
}
