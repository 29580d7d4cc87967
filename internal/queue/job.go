package queue

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ahrdadan/shoprobot/internal/robot"
)

// Default values for job configuration
const (
	DefaultJobTimeout = 2 * time.Minute
	DefaultResultTTL  = 24 * time.Hour
)

var (
	// ErrJobNotFound is returned for unknown or purged job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExpired is returned once a job's result TTL has passed.
	ErrJobExpired = errors.New("job expired")
	// ErrNotCancelable is returned when cancelling a finished job.
	ErrNotCancelable = errors.New("job cannot be canceled")
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// NotifyConfig holds notification settings for a job
type NotifyConfig struct {
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"` // For HMAC signature
}

// ProgressInfo tracks the run's position in its stage list.
type ProgressInfo struct {
	Stage   string `json:"stage,omitempty"`
	Current int    `json:"current"` // 1-based stage index
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// JobRequest represents a run job creation request
type JobRequest struct {
	Flow           string        `json:"flow,omitempty"`     // search or login
	Target         string        `json:"target,omitempty"`   // query or product name
	SiteURL        string        `json:"site_url,omitempty"` // storefront override
	Engine         string        `json:"engine,omitempty"`   // chrome, lightpanda, playwright or fixture
	Timeout        int           `json:"timeout,omitempty"`  // seconds
	Notify         *NotifyConfig `json:"notify,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"` // Client-provided idempotency key
	ResultTTL      int           `json:"result_ttl,omitempty"`      // seconds
}

// Validate checks the fields a worker cannot recover from.
func (r JobRequest) Validate() error {
	if r.Flow != "" {
		if _, err := robot.ParseFlow(r.Flow); err != nil {
			return err
		}
	}
	if r.SiteURL != "" {
		if err := checkURL(r.SiteURL); err != nil {
			return fmt.Errorf("site_url: %w", err)
		}
	}
	if r.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if r.ResultTTL < 0 {
		return errors.New("result_ttl must not be negative")
	}
	if r.Notify != nil && r.Notify.WebhookURL != "" {
		if err := checkURL(r.Notify.WebhookURL); err != nil {
			return fmt.Errorf("webhook_url: %w", err)
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) URL", raw)
	}
	return nil
}

// Job represents a queued run
type Job struct {
	ID             string         `json:"job_id"`
	Status         JobStatus      `json:"status"`
	Progress       int            `json:"progress"`
	ProgressInfo   *ProgressInfo  `json:"progress_info,omitempty"`
	Message        string         `json:"message,omitempty"`
	Request        JobRequest     `json:"request"`
	Result         *robot.Outcome `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
	StartedAt      int64          `json:"started_at,omitempty"`
	CompletedAt    int64          `json:"completed_at,omitempty"`
	ExpiresAt      int64          `json:"expires_at,omitempty"` // When result will be deleted
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Timeout        int            `json:"timeout"` // Job timeout in seconds
}

// NewJob creates a new job from a request
func NewJob(req JobRequest) *Job {
	now := time.Now()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = int(DefaultJobTimeout.Seconds())
	}

	resultTTL := DefaultResultTTL
	if req.ResultTTL > 0 {
		resultTTL = time.Duration(req.ResultTTL) * time.Second
	}

	return &Job{
		ID:             generateJobID(),
		Status:         JobStatusQueued,
		Request:        req,
		CreatedAt:      now.Unix(),
		UpdatedAt:      now.Unix(),
		ExpiresAt:      now.Add(resultTTL).Unix(),
		IdempotencyKey: req.IdempotencyKey,
		Timeout:        timeout,
	}
}

// SetStatus updates the job status
func (j *Job) SetStatus(status JobStatus) {
	now := time.Now().Unix()
	j.Status = status
	j.UpdatedAt = now

	if status == JobStatusRunning && j.StartedAt == 0 {
		j.StartedAt = now
	}
	if status.Terminal() {
		j.CompletedAt = now
	}
}

// SetProgress updates the job progress
func (j *Job) SetProgress(progress int, message string) {
	j.Progress = progress
	j.Message = message
	j.UpdatedAt = time.Now().Unix()
}

// SetStage records that the run entered stage, the current-th of total.
func (j *Job) SetStage(stage string, current, total int, message string) {
	percent := 0
	if total > 0 {
		percent = (current * 100) / total
	}
	// 100 is reserved for the finished job.
	if percent >= 100 {
		percent = 99
	}

	j.SetProgress(percent, message)
	j.ProgressInfo = &ProgressInfo{
		Stage:   stage,
		Current: current,
		Total:   total,
		Percent: percent,
		Message: message,
	}
}

// Complete stores the run outcome. A failed outcome fails the job but keeps
// the outcome as its result.
func (j *Job) Complete(out robot.Outcome) {
	j.Result = &out
	j.Progress = 100
	j.Message = out.Message
	if out.OK {
		j.Error = ""
		j.SetStatus(JobStatusSucceeded)
		return
	}
	j.Error = out.Message
	j.SetStatus(JobStatusFailed)
}

// SetError fails the job without an outcome.
func (j *Job) SetError(err string) {
	j.Error = err
	j.Message = err
	j.SetStatus(JobStatusFailed)
}

// IsExpired checks if the job result has expired
func (j *Job) IsExpired() bool {
	if j.ExpiresAt == 0 {
		return false
	}
	return time.Now().Unix() > j.ExpiresAt
}

// GetTimeoutDuration returns the job timeout as a time.Duration
func (j *Job) GetTimeoutDuration() time.Duration {
	if j.Timeout <= 0 {
		return DefaultJobTimeout
	}
	return time.Duration(j.Timeout) * time.Second
}

func (j *Job) clone() *Job {
	c := *j
	if j.ProgressInfo != nil {
		info := *j.ProgressInfo
		c.ProgressInfo = &info
	}
	if j.Result != nil {
		out := *j.Result
		c.Result = &out
	}
	if j.Request.Notify != nil {
		n := *j.Request.Notify
		c.Request.Notify = &n
	}
	return &c
}

// JobStatusResponse represents a job status response
type JobStatusResponse struct {
	JobID        string        `json:"job_id"`
	Status       JobStatus     `json:"status"`
	Progress     int           `json:"progress"`
	ProgressInfo *ProgressInfo `json:"progress_info,omitempty"`
	Message      string        `json:"message,omitempty"`
	CreatedAt    int64         `json:"created_at"`
	UpdatedAt    int64         `json:"updated_at"`
}

// StatusResponse builds the public status view of j.
func (j *Job) StatusResponse() JobStatusResponse {
	return JobStatusResponse{
		JobID:        j.ID,
		Status:       j.Status,
		Progress:     j.Progress,
		ProgressInfo: j.ProgressInfo,
		Message:      j.Message,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

// JobResultResponse represents a job result response
type JobResultResponse struct {
	JobID  string         `json:"job_id"`
	Status JobStatus      `json:"status"`
	Result *robot.Outcome `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// JobCreatedResponse represents the response when a job is created
type JobCreatedResponse struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	StatusURL string    `json:"status_url"`
	ResultURL string    `json:"result_url"`
	Events    struct {
		SSEURL string `json:"sse_url"`
		WSURL  string `json:"ws_url"`
	} `json:"events"`
}

func generateJobID() string {
	return "job_" + uuid.New().String()[:8]
}
