// Package api serves the robot over HTTP: synchronous runs, the job queue and
// its event streams.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/ahrdadan/shoprobot/internal/config"
	"github.com/ahrdadan/shoprobot/internal/security"
)

// RouteConfig holds configuration for routes
type RouteConfig struct {
	RateLimitRequests int           // requests per window
	RateLimitBurst    int           // short burst allowance
	RateLimitWindow   time.Duration // time window
	IdempotencyTTL    time.Duration // TTL for idempotency keys
	AllowedIPs        []string      // empty allows everyone
}

// DefaultRouteConfig returns default route configuration
func DefaultRouteConfig() RouteConfig {
	return RouteConfig{
		RateLimitRequests: 100,
		RateLimitBurst:    20,
		RateLimitWindow:   time.Minute,
		IdempotencyTTL:    24 * time.Hour,
	}
}

// RouteConfigFrom takes the HTTP guard settings from cfg.
func RouteConfigFrom(cfg *config.Config) RouteConfig {
	return RouteConfig{
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitBurst:    cfg.RateLimitBurst,
		RateLimitWindow:   cfg.RateLimitWindow,
		IdempotencyTTL:    cfg.IdempotencyTTL,
		AllowedIPs:        cfg.AllowedIPs,
	}
}

// SetupRoutes registers the robot routes on app. jobs may be nil when the
// server runs without a queue. The returned func stops the background loops
// of the rate limiter and idempotency store.
func SetupRoutes(app *fiber.App, handler *Handler, jobs *JobHandler, rc RouteConfig) func() {
	rateLimiter := security.NewRateLimiter(security.RateLimitConfig{
		RequestsPerWindow: rc.RateLimitRequests,
		WindowDuration:    rc.RateLimitWindow,
		BurstMax:          rc.RateLimitBurst,
	})
	idempotencyStore := security.NewIdempotencyStore(rc.IdempotencyTTL)
	secMiddleware := security.NewMiddleware(rateLimiter, idempotencyStore)

	// Health check (no guards)
	app.Get("/health", handler.HealthCheck)

	robot := app.Group("/robot")
	robot.Use(security.SecurityHeadersMiddleware())
	robot.Use(security.IPWhitelistMiddleware(rc.AllowedIPs))
	robot.Use(security.RequestValidationMiddleware())

	robot.Get("/browser/status", handler.BrowserStatus)

	handler.sec = secMiddleware
	robot.Post("/run", secMiddleware.RateLimitMiddleware(), secMiddleware.IdempotencyMiddleware(), handler.Run)

	if jobs != nil {
		jobs.sec = secMiddleware

		jobsGroup := robot.Group("/jobs")
		jobsGroup.Post("", secMiddleware.RateLimitMiddleware(), secMiddleware.IdempotencyMiddleware(), jobs.CreateJob)
		jobsGroup.Get("", jobs.ListJobs)
		jobsGroup.Get("/:job_id", jobs.GetJobStatus)
		jobsGroup.Get("/:job_id/result", jobs.GetJobResult)
		jobsGroup.Post("/:job_id/cancel", jobs.CancelJob)
		jobsGroup.Get("/:job_id/events", jobs.StreamEvents)

		robot.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		robot.Get("/ws", websocket.New(jobs.HandleWebSocket))
	}

	return func() {
		rateLimiter.Stop()
		idempotencyStore.Stop()
	}
}
