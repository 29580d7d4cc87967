package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/retry"
	"github.com/ahrdadan/shoprobot/internal/robot"
)

// LauncherSource hands out the launcher for an engine and flow. An empty
// engine selects the default one.
type LauncherSource interface {
	Launcher(engine string, flow robot.Flow) driver.Launcher
}

// RunProcessor runs robot jobs.
type RunProcessor struct {
	engines LauncherSource
	base    robot.Config
	logger  *zap.Logger
	opts    []robot.Option
}

// NewRunProcessor creates a processor whose runs start from base and are
// overridden per job.
func NewRunProcessor(engines LauncherSource, base robot.Config, logger *zap.Logger, opts ...robot.Option) *RunProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunProcessor{engines: engines, base: base, logger: logger, opts: opts}
}

// RunConfig derives the run configuration for req.
func (p *RunProcessor) RunConfig(req JobRequest) (robot.Config, error) {
	cfg := p.base
	if req.Flow != "" {
		flow, err := robot.ParseFlow(req.Flow)
		if err != nil {
			return cfg, err
		}
		if flow != cfg.Flow && req.SiteURL == "" {
			cfg.BaseURL = robot.DefaultSiteURL(flow)
		}
		cfg.Flow = flow
	}
	if req.SiteURL != "" {
		cfg.BaseURL = req.SiteURL
	}
	return cfg, cfg.Validate()
}

// Process runs the job and reports one progress step per stage entered.
func (p *RunProcessor) Process(ctx context.Context, job *Job, progress func(Progress)) (robot.Outcome, error) {
	cfg, err := p.RunConfig(job.Request)
	if err != nil {
		return robot.Outcome{}, fmt.Errorf("invalid run: %w", err)
	}

	opts := append([]robot.Option{
		robot.WithLogger(p.logger.With(zap.String("job_id", job.ID))),
		robot.WithObserver(newStageReporter(cfg.Flow, progress)),
	}, p.opts...)

	runner := robot.NewRunner(cfg, p.engines.Launcher(job.Request.Engine, cfg.Flow), opts...)
	return runner.Run(ctx, job.Request.Target), nil
}

// stageReporter turns stage transitions into progress steps.
type stageReporter struct {
	index    map[robot.Stage]int
	total    int
	current  int
	stage    robot.Stage
	progress func(Progress)
}

func newStageReporter(flow robot.Flow, progress func(Progress)) *stageReporter {
	stages := robot.Stages(flow)
	index := make(map[robot.Stage]int, len(stages))
	for i, s := range stages {
		index[s] = i + 1
	}
	return &stageReporter{index: index, total: len(stages), progress: progress}
}

func (r *stageReporter) Enter(s robot.Stage) {
	n, ok := r.index[s]
	if !ok {
		return
	}
	r.current, r.stage = n, s
	r.progress(Progress{
		Stage:   string(s),
		Current: n,
		Total:   r.total,
		Message: fmt.Sprintf("[Stage %d/%d] %s", n, r.total, s),
	})
}

func (r *stageReporter) Retry(e retry.Event) {
	r.progress(Progress{
		Stage:   string(r.stage),
		Current: r.current,
		Total:   r.total,
		Message: fmt.Sprintf("Retrying %s (attempt %d)", e.Op, e.Attempt),
	})
}
