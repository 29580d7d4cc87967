package robot

import (
	"github.com/ahrdadan/shoprobot/internal/banner"
	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/extract"
	"github.com/ahrdadan/shoprobot/internal/locator"
)

// Profile holds the site knowledge of a run: which strategies find which
// element. Strategy lists are ordered by preference.
type Profile struct {
	Vocabulary []string
	Search     SearchProfile
	Login      LoginProfile
}

// SearchProfile drives FlowSearch.
type SearchProfile struct {
	OpenSearch  []locator.Strategy
	SearchInput []locator.Strategy
	// ResultsReady gates result resolution; PriceReady is a softer gate.
	ResultsReady driver.Descriptor
	PriceReady   driver.Descriptor
	Cards        []locator.Strategy
	CardPrice    driver.Descriptor
	Fields       []extract.Field
}

// LoginProfile drives FlowLogin.
type LoginProfile struct {
	Username       []locator.Strategy
	Password       []locator.Strategy
	Submit         []locator.Strategy
	InventoryReady driver.Descriptor
	LoginError     driver.Descriptor
	Items          []locator.Strategy
	ItemName       extract.Field
	Fields         []extract.Field
}

// DefaultProfile returns strategies tuned for Nike-style search storefronts and
// SauceDemo-style login storefronts.
func DefaultProfile() Profile {
	price := driver.TestID("data-testid", "product-price")
	card := driver.TestID("data-testid", "product-card")

	return Profile{
		Vocabulary: banner.DefaultVocabulary,
		Search: SearchProfile{
			OpenSearch: []locator.Strategy{
				locator.By(driver.Role("button", driver.Containing("search"))),
			},
			SearchInput: []locator.Strategy{
				locator.By(driver.Role("searchbox", driver.TextMatch{})),
				locator.By(driver.Placeholder(driver.Containing("search"))),
				locator.By(driver.CSS(`input[type="search"]`)),
				locator.By(driver.CSS(`input[aria-label*="Search" i]`)),
			},
			ResultsReady: card,
			PriceReady:   price,
			Cards: []locator.Strategy{
				locator.By(card),
				locator.By(driver.CSS(`article [data-testid="product-card"]`)),
				locator.By(driver.CSS(`li [data-testid="product-card"]`)),
				{Name: "generic container scan", Target: driver.CSS("article, li, div")},
			},
			CardPrice: price,
			Fields: []extract.Field{
				extract.Title(
					driver.TestID("data-testid", "product-card__title"),
					driver.CSS("a[aria-label]"),
					driver.CSS("h3, h2, h1"),
					driver.CSS("a"),
				),
				extract.Price(price),
			},
		},
		Login: LoginProfile{
			Username: []locator.Strategy{
				locator.By(driver.TestID("data-test", "username")),
				locator.By(driver.Placeholder(driver.Exactly("Username"))),
				locator.By(driver.CSS("#user-name")),
			},
			Password: []locator.Strategy{
				locator.By(driver.TestID("data-test", "password")),
				locator.By(driver.Placeholder(driver.Exactly("Password"))),
				locator.By(driver.CSS(`input[type="password"]`)),
			},
			Submit: []locator.Strategy{
				locator.By(driver.TestID("data-test", "login-button")),
				locator.By(driver.Role("button", driver.Exactly("Login"))),
				locator.By(driver.CSS("#login-button")),
			},
			InventoryReady: driver.CSS(`.inventory_item, [data-test="inventory-item"]`),
			LoginError:     driver.TestID("data-test", "error"),
			Items: []locator.Strategy{
				locator.By(driver.TestID("data-test", "inventory-item")),
				locator.By(driver.CSS(".inventory_item")),
			},
			ItemName: extract.Field{
				Name: extract.FieldTitle,
				Selectors: []driver.Descriptor{
					driver.TestID("data-test", "inventory-item-name"),
					driver.CSS(".inventory_item_name"),
				},
			},
			Fields: []extract.Field{
				extract.Title(
					driver.TestID("data-test", "inventory-item-name"),
					driver.CSS(".inventory_item_name"),
				),
				extract.Price(
					driver.TestID("data-test", "inventory-item-price"),
					driver.CSS(".inventory_item_price"),
				),
			},
		},
	}
}
