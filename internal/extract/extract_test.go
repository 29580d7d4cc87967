package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/failure"
	"github.com/ahrdadan/shoprobot/internal/fixture"
)

var (
	titleField = Title(
		driver.TestID("data-testid", "product-card__title"),
		driver.CSS("a[aria-label]"),
		driver.CSS("h3, h2, h1"),
	)
	priceField = Price(driver.TestID("data-testid", "product-price"))
)

func card(t *testing.T, inner string) driver.Handle {
	t.Helper()
	body := `<html><body><div data-testid="product-card">` + inner + `</div></body></html>`
	engine := fixture.NewEngine(fixture.Site{Routes: map[string]fixture.Handler{"/": fixture.Static(body)}})
	sess, err := engine.Launch(context.Background(), driver.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	page := sess.Page()
	require.NoError(t, page.Navigate(context.Background(), "https://shop.test/", 0))
	cards, err := page.Find(context.Background(), driver.TestID("data-testid", "product-card"))
	require.NoError(t, err)
	require.Len(t, cards, 1)
	return cards[0]
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name  string
		inner string
		want  Record
	}{
		{
			name:  "primary selectors",
			inner: `<div data-testid="product-card__title"> Nike Pegasus 41 </div><h3>Ignored</h3><div data-testid="product-price">$140</div>`,
			want:  Record{FieldTitle: "Nike Pegasus 41", FieldPrice: "$140"},
		},
		{
			name:  "empty title falls through",
			inner: `<div data-testid="product-card__title">  </div><a aria-label="Pegasus" href="/p/1">Pegasus</a><div data-testid="product-price">$140</div>`,
			want:  Record{FieldTitle: "Pegasus", FieldPrice: "$140"},
		},
		{
			name:  "price in bag fallback",
			inner: `<h3>Nike Vomero 18</h3><div class="hidden-price">See Price in Bag</div>`,
			want:  Record{FieldTitle: "Nike Vomero 18", FieldPrice: PriceInBag},
		},
		{
			name:  "title sentinel",
			inner: `<span>no heading</span><div data-testid="product-price">$99</div>`,
			want:  Record{FieldTitle: UnknownTitle, FieldPrice: "$99"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(context.Background(), card(t, tt.inner), []Field{titleField, priceField})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractPriceNotFound(t *testing.T) {
	c := card(t, `<h3>Nike Air Max 90</h3><div>Sold out</div>`)

	rec, err := Extract(context.Background(), c, []Field{titleField, priceField})
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, failure.PriceNotFound, failure.KindOf(err))
}

func TestRequiredFieldDefaultKind(t *testing.T) {
	c := card(t, `<h3>x</h3>`)
	f := Field{Name: "sku", Selectors: []driver.Descriptor{driver.CSS(".sku")}, Required: true}

	_, err := Extract(context.Background(), c, []Field{f})
	assert.Equal(t, failure.ElementNotFound, failure.KindOf(err))
}

// node reports its text even while hidden, like innerText on a real page.
type node struct {
	text     string
	hidden   bool
	children map[string][]driver.Handle
}

func (n *node) Find(_ context.Context, d driver.Descriptor) ([]driver.Handle, error) {
	return n.children[d.String()], nil
}

func (n *node) Visible(context.Context) (bool, error)             { return !n.hidden, nil }
func (n *node) WaitVisible(context.Context, time.Duration) error  { return nil }
func (n *node) Click(context.Context, time.Duration) error        { return nil }
func (n *node) Fill(context.Context, string, time.Duration) error { return nil }
func (n *node) Press(context.Context, string) error               { return nil }
func (n *node) Text(context.Context) (string, error)              { return n.text, nil }

func TestExtractSkipsHiddenNodes(t *testing.T) {
	link := driver.CSS("a")
	heading := driver.CSS("h3")
	c := &node{children: map[string][]driver.Handle{
		link.String(): {
			&node{text: "Skip to content", hidden: true},
			&node{text: "Nike Pegasus 41"},
		},
		heading.String(): {&node{text: "Hidden heading", hidden: true}},
	}}

	got, err := Extract(context.Background(), c, []Field{Title(heading, link)})
	require.NoError(t, err)
	assert.Equal(t, "Nike Pegasus 41", got[FieldTitle])

	got, err = Extract(context.Background(), c, []Field{Title(heading)})
	require.NoError(t, err)
	assert.Equal(t, UnknownTitle, got[FieldTitle])
}
