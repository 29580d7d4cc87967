package fixture

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrdadan/shoprobot/internal/driver"
)

const testPage = `<html><body>
<div data-fixture-overlay><button data-fixture-dismiss>Accept All</button></div>
<button aria-label="Open search" data-fixture-reveal="#panel">Search</button>
<div id="panel" hidden><form action="/next"><input name="q" type="search" placeholder="Search here"></form></div>
<input type="submit" value="Go">
<div data-testid="card"><h3>First</h3><span>Price in Bag</span></div>
<div data-testid="card" style="display: none"><h3>Second</h3></div>
<button data-fixture-flaky="2" id="flaky">Flaky</button>
</body></html>`

func openTestPage(t *testing.T) (*Engine, driver.Session, driver.Page) {
	t.Helper()
	engine := NewEngine(Site{Routes: map[string]Handler{
		"/":     Static(testPage),
		"/next": func(form url.Values) (string, error) { return "<p>got " + form.Get("q") + "</p>", nil },
	}})
	sess, err := engine.Launch(context.Background(), driver.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	page := sess.Page()
	require.NoError(t, page.Navigate(context.Background(), "http://shop.test/", 0))
	return engine, sess, page
}

func TestFindByKind(t *testing.T) {
	_, _, page := openTestPage(t)
	ctx := context.Background()

	tests := []struct {
		name string
		d    driver.Descriptor
		want int
	}{
		{"role exact name", driver.Role("button", driver.Exactly("accept all")), 1},
		{"role aria-label", driver.Role("button", driver.Containing("search")), 1},
		{"role submit value", driver.Role("button", driver.Exactly("Go")), 1},
		{"role any", driver.Role("button", driver.TextMatch{}), 4},
		{"searchbox", driver.Role("searchbox", driver.TextMatch{}), 1},
		{"placeholder", driver.Placeholder(driver.Containing("search")), 1},
		{"test id", driver.TestID("data-testid", "card"), 2},
		{"css", driver.CSS("div h3"), 2},
		{"text innermost", driver.Text(driver.Containing("price in bag")), 1},
		{"no match", driver.Role("button", driver.Exactly("Accept")), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := page.Find(ctx, tt.d)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestInvalidSelector(t *testing.T) {
	_, _, page := openTestPage(t)
	_, err := page.Find(context.Background(), driver.CSS("div[[["))
	assert.ErrorIs(t, err, driver.ErrUnsupported)
}

func TestVisibilityAndText(t *testing.T) {
	_, _, page := openTestPage(t)
	ctx := context.Background()

	cards, err := page.Find(ctx, driver.TestID("data-testid", "card"))
	require.NoError(t, err)
	require.Len(t, cards, 2)

	ok, err := cards[0].Visible(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cards[1].Visible(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, cards[1].WaitVisible(ctx, 0), driver.ErrTimeout)

	text, err := cards[0].Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "First Price in Bag", text)

	titles, err := cards[0].Find(ctx, driver.CSS("h3"))
	require.NoError(t, err)
	require.Len(t, titles, 1)
}

func TestOverlayBlocksUntilDismissed(t *testing.T) {
	_, _, page := openTestPage(t)
	ctx := context.Background()

	search, err := page.Find(ctx, driver.Role("button", driver.Exactly("Open search")))
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.ErrorIs(t, search[0].Click(ctx, 0), driver.ErrNotInteractable)

	accept, err := page.Find(ctx, driver.Role("button", driver.Exactly("Accept All")))
	require.NoError(t, err)
	require.NoError(t, accept[0].Click(ctx, 0))

	// The dismissed control is gone with its overlay.
	assert.ErrorIs(t, accept[0].Click(ctx, 0), driver.ErrDetached)

	require.NoError(t, search[0].Click(ctx, 0))
	inputs, err := page.Find(ctx, driver.Placeholder(driver.Containing("search")))
	require.NoError(t, err)
	ok, err := inputs[0].Visible(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "reveal un-hides the panel")
}

func TestFlakyClicks(t *testing.T) {
	_, _, page := openTestPage(t)
	ctx := context.Background()

	accept, _ := page.Find(ctx, driver.Role("button", driver.Exactly("Accept All")))
	require.NoError(t, accept[0].Click(ctx, 0))

	flaky, err := page.Find(ctx, driver.CSS("#flaky"))
	require.NoError(t, err)
	assert.ErrorIs(t, flaky[0].Click(ctx, 0), driver.ErrNotInteractable)
	assert.ErrorIs(t, flaky[0].Click(ctx, 0), driver.ErrNotInteractable)
	assert.NoError(t, flaky[0].Click(ctx, 0))
}

func TestSubmitNavigatesAndDetaches(t *testing.T) {
	_, _, page := openTestPage(t)
	ctx := context.Background()

	inputs, err := page.Find(ctx, driver.CSS("input[name=q]"))
	require.NoError(t, err)
	assert.ErrorIs(t, inputs[0].Fill(ctx, "shoes", 0), driver.ErrNotInteractable, "hidden inputs cannot be filled")

	accept, _ := page.Find(ctx, driver.Role("button", driver.Exactly("Accept All")))
	require.NoError(t, accept[0].Click(ctx, 0))
	search, _ := page.Find(ctx, driver.Role("button", driver.Exactly("Open search")))
	require.NoError(t, search[0].Click(ctx, 0))

	require.NoError(t, inputs[0].Fill(ctx, "shoes", 0))
	require.NoError(t, inputs[0].Press(ctx, driver.KeyEnter))

	assert.Equal(t, "http://shop.test/next", page.(*Page).URL())
	require.NoError(t, page.WaitFor(ctx, driver.Text(driver.Exactly("got shoes")), 0))

	_, err = inputs[0].Text(ctx)
	assert.ErrorIs(t, err, driver.ErrDetached)
}

func TestNavigationErrors(t *testing.T) {
	_, _, page := openTestPage(t)
	ctx := context.Background()

	assert.ErrorIs(t, page.Navigate(ctx, "/missing", 0), driver.ErrNavigation)
	assert.ErrorIs(t, page.WaitFor(ctx, driver.CSS(".nothing"), 0), driver.ErrTimeout)
}

func TestSessionAccounting(t *testing.T) {
	engine, sess, page := openTestPage(t)
	assert.Equal(t, 1, engine.Open())

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Equal(t, 0, engine.Open())
	assert.Equal(t, 1, engine.Launched())

	_, err := page.Find(context.Background(), driver.CSS("div"))
	assert.Error(t, err)
}

func TestStorefrontSearch(t *testing.T) {
	engine := NewEngine(Storefront(StorefrontOptions{Catalogue: DefaultCatalogue(), Consent: "Accept All"}))
	sess, err := engine.Launch(context.Background(), driver.DefaultOptions())
	require.NoError(t, err)
	defer sess.Close()

	page := sess.Page()
	ctx := context.Background()
	require.NoError(t, page.Navigate(ctx, "https://store.test/search?q=men%27s+pegasus", 0))

	cards, err := page.Find(ctx, driver.TestID("data-testid", "product-card"))
	require.NoError(t, err)
	assert.Len(t, cards, 2)

	searchboxes, err := page.Find(ctx, driver.Role("searchbox", driver.TextMatch{}))
	require.NoError(t, err)
	assert.Empty(t, searchboxes)
}
