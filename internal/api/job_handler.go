package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/queue"
	"github.com/ahrdadan/shoprobot/internal/security"
)

// JobHandler handles job-related API requests
type JobHandler struct {
	queueManager *queue.Manager
	sec          *security.Middleware
	baseURL      string
	maxTimeout   time.Duration
	resultTTL    time.Duration
	logger       *zap.Logger
}

// NewJobHandler creates a new job handler. Timeouts above maxTimeout are
// clamped; resultTTL applies to jobs that do not ask for one.
func NewJobHandler(qm *queue.Manager, baseURL string, maxTimeout, resultTTL time.Duration, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxTimeout <= 0 {
		maxTimeout = queue.DefaultJobTimeout
	}
	return &JobHandler{
		queueManager: qm,
		baseURL:      baseURL,
		maxTimeout:   maxTimeout,
		resultTTL:    resultTTL,
		logger:       logger.Named("jobs"),
	}
}

// CreateJob creates a new async run
// POST /robot/jobs
func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	var req queue.JobRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}
	if err := validateRequest(req); err != nil {
		return err
	}

	if key := c.Get(security.HeaderIdempotencyKey); key != "" {
		req.IdempotencyKey = strings.Clone(key)
	}
	if limit := int(h.maxTimeout / time.Second); req.Timeout > limit || (req.Timeout == 0 && queue.DefaultJobTimeout > h.maxTimeout) {
		req.Timeout = limit
	}
	if req.ResultTTL == 0 && h.resultTTL > 0 {
		req.ResultTTL = int(h.resultTTL / time.Second)
	}

	job, wasDuplicate, err := h.queueManager.EnqueueWithIdempotency(queue.NewJob(req))
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, fmt.Sprintf("Failed to enqueue job: %v", err))
	}

	response := queue.JobCreatedResponse{
		JobID:     job.ID,
		Status:    job.Status,
		StatusURL: fmt.Sprintf("%s/robot/jobs/%s", h.baseURL, job.ID),
		ResultURL: fmt.Sprintf("%s/robot/jobs/%s/result", h.baseURL, job.ID),
	}
	response.Events.SSEURL = fmt.Sprintf("%s/robot/jobs/%s/events", h.baseURL, job.ID)
	response.Events.WSURL = fmt.Sprintf("%s/robot/ws?job_id=%s", wsBase(h.baseURL), job.ID)

	resp := Response{Success: true, Data: response}
	if wasDuplicate {
		c.Set("X-Idempotency-Hit", "true")
	} else {
		h.logger.Info("Job queued", zap.String("job_id", job.ID), zap.String("flow", req.Flow), zap.String("target", req.Target))
		if h.sec != nil {
			h.sec.Remember(c, job.ID, fiber.StatusAccepted, resp)
		}
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func wsBase(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// ListJobs lists live jobs, newest first
// GET /robot/jobs
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	jobs := h.queueManager.ListJobs()
	out := make([]queue.JobStatusResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.StatusResponse())
	}
	return c.JSON(Response{Success: true, Data: out})
}

// GetJobStatus returns the status of a job
// GET /robot/jobs/:job_id
func (h *JobHandler) GetJobStatus(c *fiber.Ctx) error {
	job, err := h.queueManager.GetJob(c.Params("job_id"))
	if err != nil {
		return err
	}
	return c.JSON(Response{Success: true, Data: job.StatusResponse()})
}

// GetJobResult returns the outcome of a finished job
// GET /robot/jobs/:job_id/result
func (h *JobHandler) GetJobResult(c *fiber.Ctx) error {
	job, err := h.queueManager.GetJob(c.Params("job_id"))
	if err != nil {
		return err
	}

	if !job.Status.Terminal() {
		return fiber.NewError(fiber.StatusConflict, "Job not completed yet")
	}

	return c.JSON(Response{
		Success: job.Status == queue.JobStatusSucceeded,
		Data: queue.JobResultResponse{
			JobID:  job.ID,
			Status: job.Status,
			Result: job.Result,
			Error:  job.Error,
		},
	})
}

// CancelJob cancels a queued or running job
// POST /robot/jobs/:job_id/cancel
func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	job, err := h.queueManager.CancelJob(c.Params("job_id"))
	if err != nil {
		return err
	}

	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		},
	})
}

// StreamEvents streams job events via SSE until the job finishes
// GET /robot/jobs/:job_id/events
func (h *JobHandler) StreamEvents(c *fiber.Ctx) error {
	// The stream outlives the handler, and fiber reuses the param buffer.
	jobID := strings.Clone(c.Params("job_id"))

	// Subscribe before the snapshot so no transition falls in between.
	events := h.queueManager.Subscribe(jobID)
	job, err := h.queueManager.GetJob(jobID)
	if err != nil {
		h.queueManager.Unsubscribe(jobID, events)
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.queueManager.Unsubscribe(jobID, events)

		if writeSSE(w, queue.EventOf(job)) != nil || job.Status.Terminal() {
			return
		}
		for event := range events {
			if writeSSE(w, event) != nil || event.Terminal() {
				return
			}
		}
	})

	return nil
}

func writeSSE(w *bufio.Writer, event queue.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Status, data); err != nil {
		return err
	}
	return w.Flush()
}

// HandleWebSocket streams job events over a WebSocket until the job finishes
// GET /robot/ws?job_id=...
func (h *JobHandler) HandleWebSocket(c *websocket.Conn) {
	defer c.Close()

	jobID := c.Query("job_id")
	if jobID == "" {
		_ = c.WriteJSON(Response{Error: "job_id is required"})
		return
	}

	events := h.queueManager.Subscribe(jobID)
	defer h.queueManager.Unsubscribe(jobID, events)

	job, err := h.queueManager.GetJob(jobID)
	if err != nil {
		_ = c.WriteJSON(Response{Error: err.Error()})
		return
	}

	if err := c.WriteJSON(queue.EventOf(job)); err != nil || job.Status.Terminal() {
		return
	}
	for event := range events {
		if err := c.WriteJSON(event); err != nil {
			return
		}
		if event.Terminal() {
			return
		}
	}
}
