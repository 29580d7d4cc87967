package robot

import (
	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/retry"
)

// Stage is a state of the run state machine.
type Stage string

const (
	StageStart             Stage = "start"
	StageNavigate          Stage = "navigate"
	StageDismissBanners    Stage = "dismiss_banners"
	StageResolveSearch     Stage = "resolve_search_input"
	StageSubmit            Stage = "submit"
	StageWaitForResults    Stage = "wait_for_results"
	StageFillCredentials   Stage = "fill_credentials"
	StageLogin             Stage = "login"
	StageWaitForInventory  Stage = "wait_for_inventory"
	StageResolveTargetCard Stage = "resolve_target_card"
	StageExtract           Stage = "extract"
	StageFormat            Stage = "format"
)

// Stages returns the ordered stages of flow.
func Stages(flow Flow) []Stage {
	middle := []Stage{StageResolveSearch, StageSubmit, StageWaitForResults}
	if flow == FlowLogin {
		middle = []Stage{StageFillCredentials, StageLogin, StageWaitForInventory}
	}
	stages := []Stage{StageNavigate, StageDismissBanners}
	stages = append(stages, middle...)
	return append(stages, StageResolveTargetCard, StageExtract, StageFormat)
}

// Observer is told about stage transitions and interaction retries.
type Observer interface {
	Enter(s Stage)
	Retry(e retry.Event)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) Enter(Stage)       {}
func (NopObserver) Retry(retry.Event) {}

// LogObserver writes stages and retries to a zap logger.
type LogObserver struct {
	Logger *zap.Logger
}

func (o LogObserver) Enter(s Stage) {
	o.Logger.Debug("Stage", zap.String("stage", string(s)))
}

func (o LogObserver) Retry(e retry.Event) {
	o.Logger.Info("Retrying interaction",
		zap.String("op", e.Op),
		zap.Int("attempt", e.Attempt),
		zap.Duration("delay", e.Delay),
		zap.Error(e.Err),
	)
}

type multiObserver []Observer

func (m multiObserver) Enter(s Stage) {
	for _, o := range m {
		o.Enter(s)
	}
}

func (m multiObserver) Retry(e retry.Event) {
	for _, o := range m {
		o.Retry(e)
	}
}

// Observers fans out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}
