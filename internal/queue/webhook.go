package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/robot"
	"github.com/ahrdadan/shoprobot/internal/security"
)

// Webhook headers.
const (
	HeaderEvent     = "X-Shoprobot-Event"
	HeaderSignature = "X-Shoprobot-Signature"
)

const webhookTimeout = 30 * time.Second

// WebhookPayload is posted to a job's webhook URL once the job finishes.
type WebhookPayload struct {
	JobID      string         `json:"job_id"`
	Status     JobStatus      `json:"status"`
	Result     *robot.Outcome `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	ResultURL  string         `json:"result_url"`
	FinishedAt int64          `json:"finished_at"`
}

// Notifier delivers completion webhooks.
type Notifier struct {
	client  *http.Client
	baseURL string
	secret  string
	logger  *zap.Logger
}

// NewNotifier signs payloads with secret unless a job brings its own. baseURL
// prefixes the result URL in the payload.
func NewNotifier(baseURL, secret string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		client:  &http.Client{Timeout: webhookTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		logger:  logger.Named("webhook"),
	}
}

// Notify posts job's final state to its webhook. Jobs without a webhook are
// ignored.
func (n *Notifier) Notify(ctx context.Context, job *Job) error {
	notify := job.Request.Notify
	if notify == nil || notify.WebhookURL == "" {
		return nil
	}

	data, err := json.Marshal(WebhookPayload{
		JobID:      job.ID,
		Status:     job.Status,
		Result:     job.Result,
		Error:      job.Error,
		ResultURL:  fmt.Sprintf("%s/robot/jobs/%s/result", n.baseURL, job.ID),
		FinishedAt: job.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, notify.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, "job."+string(job.Status))

	secret := notify.WebhookSecret
	if secret == "" {
		secret = n.secret
	}
	if secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+security.GenerateWebhookSignature(data, secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	n.logger.Debug("Webhook delivered", zap.String("job_id", job.ID), zap.Int("status", resp.StatusCode))
	return nil
}
