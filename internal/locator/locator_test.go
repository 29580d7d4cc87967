package locator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/failure"
	"github.com/ahrdadan/shoprobot/internal/retry"
)

type fakeHandle struct {
	id            string
	visible       bool
	appears       bool
	clickFailures int
	children      map[string][]driver.Handle
	visibleProbes int
	waits         int
	clicks        int
}

func (h *fakeHandle) Find(_ context.Context, d driver.Descriptor) ([]driver.Handle, error) {
	return h.children[d.String()], nil
}

func (h *fakeHandle) Visible(context.Context) (bool, error) {
	h.visibleProbes++
	return h.visible, nil
}

func (h *fakeHandle) WaitVisible(context.Context, time.Duration) error {
	h.waits++
	if h.visible || h.appears {
		h.visible = true
		return nil
	}
	return driver.ErrTimeout
}

func (h *fakeHandle) Click(context.Context, time.Duration) error {
	h.clicks++
	if h.clicks <= h.clickFailures {
		return driver.ErrNotInteractable
	}
	return nil
}

func (h *fakeHandle) Fill(context.Context, string, time.Duration) error { return nil }
func (h *fakeHandle) Press(context.Context, string) error              { return nil }
func (h *fakeHandle) Text(context.Context) (string, error)             { return h.id, nil }

type fakeScope struct {
	matches map[string][]driver.Handle
	probes  []string
}

func (s *fakeScope) Find(_ context.Context, d driver.Descriptor) ([]driver.Handle, error) {
	s.probes = append(s.probes, d.String())
	return s.matches[d.String()], nil
}

var (
	byRole   = By(driver.Role("searchbox", driver.TextMatch{}))
	byHolder = By(driver.Placeholder(driver.Containing("search")))
	byCSS    = By(driver.CSS("input[type=search]"))
)

func newTestResolver() *Resolver {
	r := NewResolver(time.Second, nil)
	r.Retry = retry.Policy{MaxAttempts: 3, Base: time.Millisecond, Floor: time.Millisecond, Ceiling: 2 * time.Millisecond}
	return r
}

func TestResolveFirstMatchingStrategyWins(t *testing.T) {
	placeholder := &fakeHandle{id: "placeholder", visible: true}
	css := &fakeHandle{id: "css", visible: true}
	scope := &fakeScope{matches: map[string][]driver.Handle{
		byHolder.Name: {placeholder},
		byCSS.Name:    {css},
	}}

	m, err := newTestResolver().Resolve(context.Background(), scope, []Strategy{byRole, byHolder, byCSS})
	require.NoError(t, err)
	assert.Same(t, placeholder, m.Handle)
	assert.Equal(t, byHolder.Name, m.Strategy.Name)
	assert.Equal(t, []string{byRole.Name, byHolder.Name}, scope.probes, "later strategies are never probed")
}

func TestResolveSkipsHiddenCandidates(t *testing.T) {
	hidden := &fakeHandle{id: "hidden"}
	shown := &fakeHandle{id: "shown", visible: true}
	scope := &fakeScope{matches: map[string][]driver.Handle{byCSS.Name: {hidden, shown}}}

	m, err := newTestResolver().Resolve(context.Background(), scope, []Strategy{byCSS})
	require.NoError(t, err)
	assert.Same(t, shown, m.Handle)
	assert.Equal(t, 1, m.Index)
	assert.Zero(t, hidden.waits, "no blocking wait when a visible match exists")
}

func TestResolveWaitsOnlyWhenNothingVisible(t *testing.T) {
	late := &fakeHandle{id: "late", appears: true}
	scope := &fakeScope{matches: map[string][]driver.Handle{byRole.Name: {late}}}

	m, err := newTestResolver().Resolve(context.Background(), scope, []Strategy{byRole})
	require.NoError(t, err)
	assert.Same(t, late, m.Handle)
	assert.Equal(t, 1, late.waits)
}

func TestResolveRespectsScanCap(t *testing.T) {
	var handles []driver.Handle
	var fakes []*fakeHandle
	for i := 0; i < 100; i++ {
		h := &fakeHandle{}
		fakes = append(fakes, h)
		handles = append(handles, h)
	}
	scope := &fakeScope{matches: map[string][]driver.Handle{byCSS.Name: handles}}

	r := newTestResolver()
	r.ScanCap = 24
	_, err := r.Resolve(context.Background(), scope, []Strategy{byRole, byCSS})
	require.Error(t, err)
	assert.Equal(t, failure.ElementNotFound, failure.KindOf(err))

	probed := 0
	for _, h := range fakes {
		probed += h.visibleProbes
	}
	assert.Equal(t, 24, probed)
	assert.Equal(t, 1, fakes[0].waits)
	assert.Zero(t, fakes[24].visibleProbes)
}

func TestResolveNoStrategiesMatch(t *testing.T) {
	_, err := newTestResolver().Resolve(context.Background(), &fakeScope{}, []Strategy{byRole, byHolder})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.ElementNotFound))
	assert.Equal(t, retry.Fatal, retry.Classify(err))
}

func TestResolveIsIdempotent(t *testing.T) {
	shown := &fakeHandle{id: "shown", visible: true}
	scope := &fakeScope{matches: map[string][]driver.Handle{byCSS.Name: {&fakeHandle{}, shown}}}
	r := newTestResolver()

	first, err := r.Resolve(context.Background(), scope, []Strategy{byRole, byCSS})
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), scope, []Strategy{byRole, byCSS})
	require.NoError(t, err)

	assert.Equal(t, first.Strategy, second.Strategy)
	assert.Equal(t, first.Index, second.Index)
	assert.Same(t, first.Handle, second.Handle)
}

func TestContainerAcceptsFirstWithDescendant(t *testing.T) {
	price := driver.TestID("data-testid", "product-price")
	promo := &fakeHandle{id: "promo"}
	product := &fakeHandle{id: "product", children: map[string][]driver.Handle{
		price.String(): {&fakeHandle{id: "$140"}},
	}}
	cards := By(driver.TestID("data-testid", "product-card"))
	scope := &fakeScope{matches: map[string][]driver.Handle{cards.Name: {promo, product}}}

	m, err := newTestResolver().Container(context.Background(), scope, []Strategy{cards}, HasDescendant(price))
	require.NoError(t, err)
	assert.Same(t, product, m.Handle)
	assert.Equal(t, 1, m.Index)

	_, err = newTestResolver().Container(context.Background(), scope, []Strategy{cards},
		HasDescendant(driver.CSS(".nothing")))
	assert.True(t, failure.Is(err, failure.ElementNotFound))
}

func TestHasAnyDescendant(t *testing.T) {
	bag := driver.Text(driver.Containing("Price in Bag"))
	card := &fakeHandle{children: map[string][]driver.Handle{bag.String(): {&fakeHandle{}}}}

	ok, err := HasAnyDescendant(driver.CSS(".price"), bag)(context.Background(), card)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCandidatesCapped(t *testing.T) {
	var handles []driver.Handle
	for i := 0; i < 30; i++ {
		handles = append(handles, &fakeHandle{})
	}
	scope := &fakeScope{matches: map[string][]driver.Handle{byCSS.Name: handles}}

	r := newTestResolver()
	r.ScanCap = 5
	got, s, err := r.Candidates(context.Background(), scope, []Strategy{byRole, byCSS})
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, byCSS.Name, s.Name)

	_, _, err = r.Candidates(context.Background(), &fakeScope{}, []Strategy{byRole})
	assert.True(t, failure.Is(err, failure.ElementNotFound))
}

func TestActivateRetriesClick(t *testing.T) {
	btn := &fakeHandle{id: "search", visible: true, clickFailures: 2}
	open := By(driver.Role("button", driver.Containing("search")))
	scope := &fakeScope{matches: map[string][]driver.Handle{open.Name: {btn}}}

	var events []retry.Event
	r := newTestResolver()
	r.Retry = r.Retry.WithObserver(func(e retry.Event) { events = append(events, e) })

	require.NoError(t, r.Activate(context.Background(), scope, []Strategy{open}))
	assert.Equal(t, 3, btn.clicks)
	assert.Len(t, events, 2)
}

func TestActivateGivesUpAfterBudget(t *testing.T) {
	btn := &fakeHandle{visible: true, clickFailures: 10}
	open := By(driver.Role("button", driver.Containing("search")))
	scope := &fakeScope{matches: map[string][]driver.Handle{open.Name: {btn}}}

	err := newTestResolver().Activate(context.Background(), scope, []Strategy{open})
	assert.ErrorIs(t, err, driver.ErrNotInteractable)
	assert.Equal(t, 3, btn.clicks)
}
