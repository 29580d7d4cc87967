package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/config"
	"github.com/ahrdadan/shoprobot/internal/engine"
	"github.com/ahrdadan/shoprobot/internal/queue"
	"github.com/ahrdadan/shoprobot/internal/robot"
	"github.com/ahrdadan/shoprobot/internal/security"
)

// Handler handles the synchronous robot endpoints.
type Handler struct {
	engines    *engine.Registry
	runs       *queue.RunProcessor
	sec        *security.Middleware
	maxTimeout time.Duration
	logger     *zap.Logger

	// One browser run at a time; queued jobs have their own worker.
	runMu sync.Mutex
}

// NewHandler creates a new handler
func NewHandler(engines *engine.Registry, runs *queue.RunProcessor, maxTimeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxTimeout <= 0 {
		maxTimeout = queue.DefaultJobTimeout
	}
	return &Handler{
		engines:    engines,
		runs:       runs,
		maxTimeout: maxTimeout,
		logger:     logger.Named("api"),
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ErrorHandler is the custom error handler for Fiber
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, queue.ErrJobNotFound), errors.Is(err, queue.ErrJobExpired):
		code = fiber.StatusNotFound
	case errors.Is(err, queue.ErrNotCancelable):
		code = fiber.StatusConflict
	}

	return c.Status(code).JSON(Response{
		Success: false,
		Error:   err.Error(),
	})
}

// HealthCheck returns health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"status":    "ok",
			"version":   config.Version,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// BrowserStatus lists the engines started so far.
// GET /robot/browser/status
func (h *Handler) BrowserStatus(c *fiber.Ctx) error {
	return c.JSON(Response{
		Success: true,
		Data:    h.engines.Status(),
	})
}

// RunRequest is the body of a synchronous run.
type RunRequest struct {
	Flow    string `json:"flow,omitempty"`
	Target  string `json:"target,omitempty"`
	SiteURL string `json:"site_url,omitempty"`
	Engine  string `json:"engine,omitempty"`
	Timeout int    `json:"timeout,omitempty"` // seconds
}

// RunResponse carries the outcome of a synchronous run.
type RunResponse struct {
	RunID   string        `json:"run_id"`
	Outcome robot.Outcome `json:"outcome"`
}

// Run drives the browser for one run and waits for the outcome. Runs are
// serialized; a failed run is still a 200 with success=false.
// POST /robot/run
func (h *Handler) Run(c *fiber.Ctx) error {
	var req RunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}

	jobReq := queue.JobRequest{
		Flow:    req.Flow,
		Target:  req.Target,
		SiteURL: req.SiteURL,
		Engine:  req.Engine,
		Timeout: req.Timeout,
	}
	if err := validateRequest(jobReq); err != nil {
		return err
	}
	if _, err := h.runs.RunConfig(jobReq); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	h.runMu.Lock()
	defer h.runMu.Unlock()

	// The budget starts once this run holds the browser.
	run := queue.NewJob(jobReq)
	ctx, cancel := context.WithTimeout(c.UserContext(), clampTimeout(run.GetTimeoutDuration(), h.maxTimeout))
	defer cancel()

	out, err := h.runs.Process(ctx, run, func(queue.Progress) {})
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	h.logger.Info("Synchronous run finished",
		zap.String("run_id", run.ID),
		zap.Bool("ok", out.OK),
		zap.String("kind", string(out.Kind)))

	resp := Response{
		Success: out.OK,
		Data:    RunResponse{RunID: run.ID, Outcome: out},
	}
	if h.sec != nil {
		h.sec.Remember(c, run.ID, fiber.StatusOK, resp)
	}
	return c.JSON(resp)
}

// validateRequest rejects requests a worker could never run.
func validateRequest(req queue.JobRequest) error {
	if err := req.Validate(); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Engine != "" && !config.ValidEngine(req.Engine) {
		return fiber.NewError(fiber.StatusBadRequest, "unknown engine "+req.Engine)
	}
	return nil
}

func clampTimeout(d, limit time.Duration) time.Duration {
	if d > limit {
		return limit
	}
	return d
}
