package fixture

import (
	"fmt"
	"html"
	"net/url"
	"strings"
)

// Product is one catalogue entry of a demo site.
type Product struct {
	Title    string
	Subtitle string
	Price    string
	// PriceInBag hides the price behind a "See Price in Bag" marker.
	PriceInBag bool
}

// StorefrontOptions shapes the search storefront.
type StorefrontOptions struct {
	Catalogue []Product
	// Consent is the label of the cookie banner button. Empty disables the banner.
	Consent string
	// ConsentFlaky makes the first N consent clicks fail.
	ConsentFlaky int
	// Promo inserts a price-less promo tile ahead of the results.
	Promo bool
}

// DefaultCatalogue is the demo storefront inventory.
func DefaultCatalogue() []Product {
	return []Product{
		{Title: "Nike Pegasus 41", Subtitle: "Men's Road Running Shoes", Price: "$140"},
		{Title: "Nike Pegasus Trail 5", Subtitle: "Men's Trail Running Shoes", Price: "$150"},
		{Title: "Nike Pegasus 41", Subtitle: "Women's Road Running Shoes", Price: "$140"},
		{Title: "Nike Vomero 18", Subtitle: "Men's Road Running Shoes", PriceInBag: true},
		{Title: "Nike Air Max 90", Subtitle: "Men's Shoes", Price: "$130"},
	}
}

// Storefront is a search-driven shop: a home page whose search box sits in a
// collapsed panel behind a cookie banner, and a results grid at /search.
func Storefront(opts StorefrontOptions) Site {
	home := func(url.Values) (string, error) {
		var b strings.Builder
		b.WriteString(`<!doctype html><html><head><title>Store</title></head><body>`)
		if opts.Consent != "" {
			flaky := ""
			if opts.ConsentFlaky > 0 {
				flaky = fmt.Sprintf(` data-fixture-flaky="%d"`, opts.ConsentFlaky)
			}
			fmt.Fprintf(&b, `<div id="consent" role="dialog" data-fixture-overlay>
<p>We use cookies to improve your experience.</p>
<button data-fixture-dismiss%s>%s</button>
<button>Manage preferences</button>
</div>`, flaky, html.EscapeString(opts.Consent))
		}
		b.WriteString(`<header>
<a href="/">Home</a>
<button aria-label="Open search" data-fixture-reveal="#search-panel">Search</button>
<div id="search-panel" hidden>
<form action="/search" method="get">
<input type="text" name="q" placeholder="Search products">
</form>
</div>
</header>
<main><h1>New arrivals</h1></main>
</body></html>`)
		return b.String(), nil
	}

	results := func(form url.Values) (string, error) {
		query := form.Get("q")

		var b strings.Builder
		fmt.Fprintf(&b, `<!doctype html><html><body><main><h1>Results for %s</h1><ul data-testid="product-grid">`, html.EscapeString(query))
		if opts.Promo {
			b.WriteString(`<li><div data-testid="product-card"><div data-testid="product-card__title">Members get free shipping</div></div></li>`)
		}
		for i, p := range opts.Catalogue {
			if !matchesQuery(p, query) {
				continue
			}
			price := fmt.Sprintf(`<div data-testid="product-price">%s</div>`, html.EscapeString(p.Price))
			if p.PriceInBag {
				price = `<div class="product-price-hidden">See Price in Bag</div>`
			}
			fmt.Fprintf(&b, `<li><div data-testid="product-card">
<a href="/p/%d" aria-label="%s"><div data-testid="product-card__title">%s</div></a>
<div data-testid="product-card__subtitle">%s</div>
%s
</div></li>`, i, html.EscapeString(p.Title), html.EscapeString(p.Title), html.EscapeString(p.Subtitle), price)
		}
		b.WriteString(`</ul></main></body></html>`)
		return b.String(), nil
	}

	return Site{
		Name: "storefront",
		Routes: map[string]Handler{
			"/":       home,
			"/search": results,
		},
	}
}

func matchesQuery(p Product, query string) bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(p.Title + " " + p.Subtitle)) {
		words[w] = true
	}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if !words[w] {
			return false
		}
	}
	return true
}

// SauceDemoOptions shapes the login storefront.
type SauceDemoOptions struct {
	Username  string
	Password  string
	Catalogue []Product
}

// SauceDemoCatalogue is the inventory of the login storefront.
func SauceDemoCatalogue() []Product {
	return []Product{
		{Title: "Sauce Labs Backpack", Price: "$29.99"},
		{Title: "Sauce Labs Bike Light", Price: "$9.99"},
		{Title: "Sauce Labs Bolt T-Shirt", Price: "$15.99"},
		{Title: "Sauce Labs Fleece Jacket", Price: "$49.99"},
	}
}

// SauceDemo is a login-gated shop: a login form at / that posts to /inventory.
// Wrong credentials re-render the form with an error banner.
func SauceDemo(opts SauceDemoOptions) Site {
	login := func(errMsg string) string {
		var b strings.Builder
		b.WriteString(`<!doctype html><html><body><div class="login_logo">Swag Labs</div>
<form action="/inventory" method="post">
<input class="input_error form_input" placeholder="Username" type="text" data-test="username" id="user-name" name="user-name">
<input class="input_error form_input" placeholder="Password" type="password" data-test="password" id="password" name="password">`)
		if errMsg != "" {
			fmt.Fprintf(&b, `<div class="error-message-container error"><h3 data-test="error">%s</h3></div>`, html.EscapeString(errMsg))
		}
		b.WriteString(`<input type="submit" class="submit-button btn_action" data-test="login-button" id="login-button" name="login-button" value="Login">
</form></body></html>`)
		return b.String()
	}

	inventory := func(form url.Values) (string, error) {
		if form.Get("user-name") != opts.Username || form.Get("password") != opts.Password {
			return login("Epic sadface: Username and password do not match any user in this service"), nil
		}

		var b strings.Builder
		b.WriteString(`<!doctype html><html><body><div class="app_logo">Swag Labs</div><div class="inventory_list" data-test="inventory-list">`)
		for _, p := range opts.Catalogue {
			fmt.Fprintf(&b, `<div class="inventory_item" data-test="inventory-item">
<div class="inventory_item_description">
<div class="inventory_item_label"><a href="#"><div class="inventory_item_name" data-test="inventory-item-name">%s</div></a></div>
<div class="pricebar"><div class="inventory_item_price" data-test="inventory-item-price">%s</div>
<button class="btn btn_primary btn_small btn_inventory">Add to cart</button></div>
</div></div>`, html.EscapeString(p.Title), html.EscapeString(p.Price))
		}
		b.WriteString(`</div></body></html>`)
		return b.String(), nil
	}

	return Site{
		Name: "saucedemo",
		Routes: map[string]Handler{
			"/":          func(url.Values) (string, error) { return login(""), nil },
			"/inventory": inventory,
		},
	}
}
