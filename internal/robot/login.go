package robot

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/extract"
	"github.com/ahrdadan/shoprobot/internal/failure"
	"github.com/ahrdadan/shoprobot/internal/locator"
)

func (s *run) login(ctx context.Context) (extract.Record, error) {
	p := s.profile.Login

	if err := s.open(ctx); err != nil {
		return nil, err
	}

	s.enter(StageFillCredentials)
	if err := s.fill(ctx, "username", p.Username, s.cfg.Username); err != nil {
		return nil, err
	}
	if err := s.fill(ctx, "password", p.Password, s.cfg.Password); err != nil {
		return nil, err
	}

	s.enter(StageLogin)
	submit, err := s.resolver.Resolve(ctx, s.page, p.Submit)
	if err != nil {
		return nil, failure.New(failure.ElementNotFound, "could not find the login button", err)
	}
	if err := s.resolver.Click(ctx, "login", submit.Handle); err != nil {
		return nil, fmt.Errorf("click login: %w", err)
	}

	s.enter(StageWaitForInventory)
	if err := s.page.WaitFor(ctx, p.InventoryReady, s.cfg.NavigationTimeout); err != nil {
		if msg, ok := s.loginError(ctx); ok {
			return nil, failure.New(failure.AuthenticationFailed, msg, err)
		}
		return nil, fmt.Errorf("wait for inventory: %w", err)
	}

	s.enter(StageResolveTargetCard)
	item, err := s.findItem(ctx, p)
	if err != nil {
		return nil, err
	}

	s.enter(StageExtract)
	return extract.Extract(ctx, item, p.Fields)
}

func (s *run) fill(ctx context.Context, what string, strategies []locator.Strategy, value string) error {
	m, err := s.resolver.Resolve(ctx, s.page, strategies)
	if err != nil {
		return failure.New(failure.ElementNotFound, "could not find the "+what+" field", err)
	}
	if err := m.Handle.Fill(ctx, value, s.cfg.ActionTimeout); err != nil {
		return fmt.Errorf("fill %s: %w", what, err)
	}
	return nil
}

// loginError returns the text of a visible login error banner.
func (s *run) loginError(ctx context.Context) (string, bool) {
	banners, err := s.page.Find(ctx, s.profile.Login.LoginError)
	if err != nil || len(banners) == 0 {
		return "", false
	}
	text, err := banners[0].Text(ctx)
	if err != nil || strings.TrimSpace(text) == "" {
		return "login rejected", true
	}
	return strings.TrimSpace(text), true
}

// findItem returns the inventory item whose name equals the target, ignoring
// case and surrounding whitespace.
func (s *run) findItem(ctx context.Context, p LoginProfile) (driver.Handle, error) {
	items, _, err := s.resolver.Candidates(ctx, s.page, p.Items)
	if err != nil {
		return nil, failure.New(failure.ElementNotFound, "inventory has no items", err)
	}

	want := driver.Exactly(s.target)
	var titles []string
	for _, item := range items {
		rec, err := extract.Extract(ctx, item, []extract.Field{p.ItemName})
		if err != nil {
			continue
		}
		name := rec[p.ItemName.Name]
		if name == "" {
			continue
		}
		if want.Match(name) {
			return item, nil
		}
		titles = append(titles, name)
	}

	return nil, failure.Newf(failure.ProductNotFound, "no product named %q; available: %s",
		strings.TrimSpace(s.target), strings.Join(titles, ", "))
}
