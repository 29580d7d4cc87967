package robot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/extract"
	"github.com/ahrdadan/shoprobot/internal/failure"
	"github.com/ahrdadan/shoprobot/internal/locator"
)

func (s *run) search(ctx context.Context) (extract.Record, error) {
	p := s.profile.Search

	if err := s.open(ctx); err != nil {
		return nil, err
	}

	s.enter(StageResolveSearch)
	// The search box often hides behind an icon; opening it is best effort.
	if err := s.resolver.Activate(ctx, s.page, p.OpenSearch); err != nil {
		s.log.Debug("Search toggle not used", zap.Error(err))
	}
	input, err := s.resolver.Resolve(ctx, s.page, p.SearchInput)
	if err != nil {
		return nil, failure.New(failure.ElementNotFound, "could not find the search input", err)
	}
	s.log.Debug("Search input resolved", zap.String("strategy", input.Strategy.Name))

	s.enter(StageSubmit)
	if err := input.Handle.Fill(ctx, s.target, s.cfg.ActionTimeout); err != nil {
		return nil, fmt.Errorf("fill search input: %w", err)
	}
	if err := input.Handle.Press(ctx, driver.KeyEnter); err != nil {
		return nil, fmt.Errorf("submit search: %w", err)
	}

	s.enter(StageWaitForResults)
	if err := s.page.WaitFor(ctx, p.ResultsReady, s.cfg.NavigationTimeout); err != nil {
		return nil, fmt.Errorf("wait for results: %w", err)
	}
	if err := s.page.WaitFor(ctx, p.PriceReady, s.cfg.PriceTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Debug("No price rendered yet, scanning cards anyway", zap.Error(err))
	}

	s.enter(StageResolveTargetCard)
	card, err := s.resolver.Container(ctx, s.page, p.Cards, locator.HasDescendant(p.CardPrice))
	if err != nil && failure.Is(err, failure.ElementNotFound) {
		// No card shows a price; accept one that at least shows a withheld-price marker.
		card, err = s.resolver.Container(ctx, s.page, p.Cards, locator.HasAnyDescendant(append([]driver.Descriptor{p.CardPrice}, priceFallbacks(p.Fields)...)...))
	}
	if err != nil {
		if failure.Is(err, failure.ElementNotFound) {
			return nil, failure.New(failure.ElementNotFound, "could not find a product card with a price", err)
		}
		return nil, err
	}

	s.enter(StageExtract)
	return extract.Extract(ctx, card.Handle, p.Fields)
}

func priceFallbacks(fields []extract.Field) []driver.Descriptor {
	var out []driver.Descriptor
	for _, f := range fields {
		if f.Name == extract.FieldPrice && f.Fallback != nil {
			out = append(out, f.Fallback.Probe)
		}
	}
	return out
}
