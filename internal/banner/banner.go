// Package banner clears consent and promo overlays before the real work starts.
package banner

import (
	"context"

	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/locator"
)

// DefaultVocabulary is the ordered set of button labels treated as dismissals.
var DefaultVocabulary = []string{
	"Accept",
	"Accept All",
	"I Accept",
	"I Agree",
	"Got it",
	"Allow all",
	"OK",
	"Close",
}

// Dismisser clicks known dismissal buttons. It never fails a run.
type Dismisser struct {
	Resolver *locator.Resolver
	Logger   *zap.Logger
}

// NewDismisser creates a dismisser clicking through resolver.
func NewDismisser(resolver *locator.Resolver, logger *zap.Logger) *Dismisser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dismisser{Resolver: resolver, Logger: logger}
}

// Dismiss probes each label in order for a button whose accessible name equals
// it, ignoring case, and clicks the first one found. The page is probed afresh
// for every label, since one dismissal may reveal or remove another banner.
// It returns the number of buttons clicked.
func (d *Dismisser) Dismiss(ctx context.Context, page driver.Scope, vocabulary []string) int {
	clicked := 0
	for _, label := range vocabulary {
		if ctx.Err() != nil {
			break
		}

		buttons, err := page.Find(ctx, driver.Role("button", driver.Exactly(label)))
		if err != nil {
			d.Logger.Debug("Banner probe failed", zap.String("label", label), zap.Error(err))
			continue
		}
		if len(buttons) == 0 {
			continue
		}

		if err := d.Resolver.Click(ctx, "dismiss "+label, buttons[0]); err != nil {
			d.Logger.Info("Banner not dismissed", zap.String("label", label), zap.Error(err))
			continue
		}
		d.Logger.Info("Banner dismissed", zap.String("label", label))
		clicked++
	}
	return clicked
}
