// Command server exposes the robot over HTTP with a job queue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrdadan/shoprobot/internal/api"
	"github.com/ahrdadan/shoprobot/internal/config"
	"github.com/ahrdadan/shoprobot/internal/engine"
	"github.com/ahrdadan/shoprobot/internal/nats"
	"github.com/ahrdadan/shoprobot/internal/observability"
	"github.com/ahrdadan/shoprobot/internal/queue"
	"github.com/ahrdadan/shoprobot/internal/robot"
)

// localQueueSize bounds pending jobs when running without NATS.
const localQueueSize = 64

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := config.ParseFlags("server", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	config.HandleFlags(cfg, "server")

	log := observability.NewStderrLogger(cfg.Log)
	defer observability.Sync(log)

	if err := serve(cfg, log); err != nil {
		log.Error("Server stopped", zap.Error(err))
		observability.Sync(log)
		os.Exit(1)
	}
}

func serve(cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting server", zap.String("app", config.AppName), zap.String("version", config.Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := engine.NewRegistry(cfg, log)
	defer func() {
		if err := registry.Close(); err != nil {
			log.Warn("Failed to stop engines", zap.Error(err))
		}
	}()

	// Download and prepare the default engine up front; a failure only
	// disables it until the first run asks again.
	if _, err := registry.Get(ctx, "", robot.Flow(cfg.Flow)); err != nil {
		log.Warn("Default engine not available", zap.String("engine", cfg.Engine), zap.Error(err))
	}

	runs := queue.NewRunProcessor(registry, cfg.RobotConfig(), log)

	var queueManager *queue.Manager
	if cfg.WithNats {
		log.Info("Setting up NATS JetStream", zap.String("url", cfg.NatsURL))

		natsServer, err := nats.NewServer(ctx, nats.ServerConfig{
			BinPath:  cfg.NatsBin,
			StoreDir: cfg.NatsStore,
			URL:      cfg.NatsURL,
			AutoDL:   cfg.NatsAutoDL,
		}, log)
		if err != nil {
			return fmt.Errorf("create NATS server: %w", err)
		}
		if err := natsServer.Start(ctx); err != nil {
			return fmt.Errorf("start NATS server: %w", err)
		}
		defer func() { _ = natsServer.Stop() }()

		queueManager, err = queue.NewManager(ctx, natsServer.GetJetStream(), cfg.MaxJobTimeout, log)
		if err != nil {
			return fmt.Errorf("create queue manager: %w", err)
		}
	} else {
		log.Info("NATS disabled, queued runs stay in process")
		queueManager = queue.NewLocalManager(localQueueSize, log)
	}
	defer queueManager.Stop()

	queueManager.SetNotifier(queue.NewNotifier(cfg.BaseURL, cfg.WebhookSecret, log))
	if err := queueManager.Start(runs); err != nil {
		return fmt.Errorf("start queue worker: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               config.AppName,
		ErrorHandler:          api.ErrorHandler,
		BodyLimit:             2 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	stopGuards := api.SetupRoutes(app,
		api.NewHandler(registry, runs, cfg.MaxJobTimeout, log),
		api.NewJobHandler(queueManager, cfg.BaseURL, cfg.MaxJobTimeout, cfg.ResultTTL, log),
		api.RouteConfigFrom(cfg),
	)
	defer stopGuards()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Info("Listening",
		zap.String("addr", addr),
		zap.String("base_url", cfg.BaseURL),
		zap.String("engine", cfg.Engine),
		zap.Bool("nats", cfg.WithNats))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server")
		return app.Shutdown()
	})
	return g.Wait()
}
