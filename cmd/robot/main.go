// Command robot performs one storefront run and prints a single outcome line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/config"
	"github.com/ahrdadan/shoprobot/internal/engine"
	"github.com/ahrdadan/shoprobot/internal/failure"
	"github.com/ahrdadan/shoprobot/internal/observability"
	"github.com/ahrdadan/shoprobot/internal/robot"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if err := config.LoadEnv(".env"); err != nil {
		return report(robot.Failed("", failure.Unclassified, robot.StageStart, err.Error()))
	}

	cfg, err := config.ParseFlags("robot", args)
	if err != nil {
		return report(robot.Failed("", failure.Unclassified, robot.StageStart, err.Error()))
	}
	config.HandleFlags(cfg, "robot")

	logger := observability.NewStderrLogger(cfg.Log)
	defer observability.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCfg := cfg.RobotConfig()
	client, err := engine.New(ctx, cfg.Engine, runCfg.Flow, cfg, logger)
	if err != nil {
		return report(robot.Failed(cfg.Target, failure.Unclassified, robot.StageStart, err.Error()))
	}
	defer func() {
		if err := client.Stop(); err != nil {
			logger.Warn("Failed to stop engine", zap.String("engine", cfg.Engine), zap.Error(err))
		}
	}()

	runner := robot.NewRunner(runCfg, client, robot.WithLogger(logger))
	return report(runner.Run(ctx, cfg.Target))
}

// report prints the outcome line and returns the exit code.
func report(out robot.Outcome) int {
	fmt.Fprintln(os.Stdout, out)
	return out.ExitCode()
}
