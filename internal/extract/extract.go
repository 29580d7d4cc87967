// Package extract pulls named text fields out of a resolved container element.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/failure"
)

const (
	FieldTitle = "title"
	FieldPrice = "price"

	// UnknownTitle stands in for a title no selector produced.
	UnknownTitle = "(unknown title)"
	// PriceInBag is reported when a storefront withholds the price until checkout.
	PriceInBag = "Price in Bag"
)

// Fallback substitutes Value when Probe matches inside the container.
type Fallback struct {
	Probe driver.Descriptor
	Value string
}

// Field describes how to read one value from a container.
type Field struct {
	Name      string
	Selectors []driver.Descriptor
	Fallback  *Fallback
	// Required fields fail extraction with Missing when nothing matched.
	Required bool
	Missing  failure.Kind
	// Sentinel is used for optional fields when nothing matched.
	Sentinel string
}

// Record maps field names to extracted text.
type Record map[string]string

// Title returns an optional title field defaulting to UnknownTitle.
func Title(selectors ...driver.Descriptor) Field {
	return Field{Name: FieldTitle, Selectors: selectors, Sentinel: UnknownTitle}
}

// Price returns a required price field with the "Price in Bag" fallback.
func Price(selectors ...driver.Descriptor) Field {
	return Field{
		Name:      FieldPrice,
		Selectors: selectors,
		Fallback: &Fallback{
			Probe: driver.Text(driver.Containing(PriceInBag)),
			Value: PriceInBag,
		},
		Required: true,
		Missing:  failure.PriceNotFound,
	}
}

// Extract reads every field from container.
func Extract(ctx context.Context, container driver.Scope, fields []Field) (Record, error) {
	rec := make(Record, len(fields))
	for _, f := range fields {
		v, err := extractField(ctx, container, f)
		if err != nil {
			return nil, err
		}
		rec[f.Name] = v
	}
	return rec, nil
}

func extractField(ctx context.Context, container driver.Scope, f Field) (string, error) {
	for _, sel := range f.Selectors {
		handles, err := container.Find(ctx, sel)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		for _, h := range handles {
			if ok, err := h.Visible(ctx); err != nil || !ok {
				continue
			}
			text, err := h.Text(ctx)
			if err != nil {
				continue
			}
			if text = strings.TrimSpace(text); text != "" {
				return text, nil
			}
		}
	}

	if f.Fallback != nil {
		found, err := container.Find(ctx, f.Fallback.Probe)
		if err == nil && len(found) > 0 {
			return f.Fallback.Value, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	if f.Required {
		kind := f.Missing
		if kind == "" {
			kind = failure.ElementNotFound
		}
		return "", failure.New(kind, fmt.Sprintf("container has no %s", f.Name), nil)
	}
	return f.Sentinel, nil
}
