package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/ahrdadan/shoprobot/internal/robot"
)

const (
	// StreamName is the name of the JetStream stream
	StreamName = "SHOPROBOT_RUNS"
	// SubjectName is the subject for job messages
	SubjectName = "shoprobot.runs"
	// ConsumerName is the name of the durable consumer
	ConsumerName = "shoprobot-worker"

	cleanupInterval = time.Hour
	publishTimeout  = 5 * time.Second
	fetchWait       = 5 * time.Second
)

// JobProcessor runs one job. progress is called from the processing goroutine.
type JobProcessor interface {
	Process(ctx context.Context, job *Job, progress func(Progress)) (robot.Outcome, error)
}

// Progress is one step reported by a JobProcessor.
type Progress struct {
	Stage   string
	Current int
	Total   int
	Message string
}

// Manager manages the job queue. Jobs are published to a JetStream work queue
// and consumed one at a time; a run is delivered at most once and never
// retried as a whole.
type Manager struct {
	consumer jetstream.Consumer
	local    chan []byte
	publish  func(ctx context.Context, data []byte) error
	store    *Store
	events   *EventHub
	notifier *Notifier
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// NewManager creates a new queue manager on js, creating the stream and the
// worker consumer if they do not exist. maxJobTimeout bounds how long a
// delivered run may stay unacknowledged.
func NewManager(ctx context.Context, js jetstream.JetStream, maxJobTimeout time.Duration, logger *zap.Logger) (*Manager, error) {
	m := newManager(func(ctx context.Context, data []byte) error {
		_, err := js.Publish(ctx, SubjectName, data)
		return err
	}, logger)

	consumer, err := setupStream(ctx, js, maxJobTimeout)
	if err != nil {
		m.Stop()
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}
	m.consumer = consumer
	return m, nil
}

// NewLocalManager creates a queue that hands jobs to the worker through an
// in-process channel holding up to capacity pending jobs. Nothing survives a
// restart.
func NewLocalManager(capacity int, logger *zap.Logger) *Manager {
	if capacity < 1 {
		capacity = 1
	}
	ch := make(chan []byte, capacity)
	m := newManager(func(ctx context.Context, data []byte) error {
		select {
		case ch <- data:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("queue full: %w", ctx.Err())
		}
	}, logger)
	m.local = ch
	return m
}

func newManager(publish func(context.Context, []byte) error, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("queue")
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		publish: publish,
		store:   NewStore(cleanupInterval, logger),
		events:  NewEventHub(),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		active:  make(map[string]context.CancelFunc),
	}
}

// setupStream creates or updates the JetStream stream and its consumer.
func setupStream(ctx context.Context, js jetstream.JetStream, maxJobTimeout time.Duration) (jetstream.Consumer, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Job records live in memory, so queued messages would be orphans after
	// a restart.
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Shoprobot run queue",
		Subjects:    []string{SubjectName},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	if maxJobTimeout <= 0 {
		maxJobTimeout = DefaultJobTimeout
	}
	consumer, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Name:          ConsumerName,
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    1,
		AckWait:       maxJobTimeout + time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	return consumer, nil
}

// SetNotifier enables completion webhooks.
func (m *Manager) SetNotifier(n *Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// Start starts processing jobs from the queue
func (m *Manager) Start(processor JobProcessor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return nil
	}
	if m.consumer == nil && m.local == nil {
		return fmt.Errorf("queue has no consumer")
	}
	m.isRunning = true

	m.logger.Info("Starting job queue worker", zap.Bool("local", m.local != nil))

	m.wg.Add(1)
	if m.local != nil {
		go func() {
			defer m.wg.Done()
			for {
				select {
				case <-m.ctx.Done():
					return
				case data := <-m.local:
					if err := m.handle(data, processor); err != nil {
						m.logger.Warn("Dropping job message", zap.Error(err))
					}
				}
			}
		}()
		return nil
	}
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ctx.Done():
				return
			default:
			}

			msgs, err := m.consumer.Fetch(1, jetstream.FetchMaxWait(fetchWait))
			if err != nil {
				if m.ctx.Err() == nil {
					m.logger.Debug("Fetch failed", zap.Error(err))
				}
				continue
			}
			for msg := range msgs.Messages() {
				m.processMessage(msg, processor)
			}
		}
	}()

	return nil
}

// Stop stops the worker, cancels running jobs and waits for pending webhooks.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.cancel()
	wasRunning := m.isRunning
	m.isRunning = false
	m.mu.Unlock()

	m.wg.Wait()
	m.store.Stop()
	m.events.Close()

	if wasRunning {
		m.logger.Info("Job queue worker stopped")
	}
}

// Enqueue stores job and publishes it to the work queue
func (m *Manager) Enqueue(job *Job) error {
	data, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}

	m.store.Save(job)

	ctx, cancel := context.WithTimeout(m.ctx, publishTimeout)
	defer cancel()

	if err := m.publish(ctx, data); err != nil {
		m.store.Delete(job.ID)
		return fmt.Errorf("failed to publish job: %w", err)
	}

	m.events.Emit(job.ID, Event{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job queued",
	})
	return nil
}

// EnqueueWithIdempotency enqueues a job with idempotency check. It returns the
// existing job and true when the key was seen before.
func (m *Manager) EnqueueWithIdempotency(job *Job) (*Job, bool, error) {
	if job.IdempotencyKey != "" {
		if existing, ok := m.store.GetByIdempotencyKey(job.IdempotencyKey); ok {
			return existing, true, nil
		}
	}

	if err := m.Enqueue(job); err != nil {
		return nil, false, err
	}
	return job, false, nil
}

// GetJob retrieves a job by ID
func (m *Manager) GetJob(jobID string) (*Job, error) {
	return m.store.Get(jobID)
}

// ListJobs returns all live jobs, newest first.
func (m *Manager) ListJobs() []*Job {
	return m.store.List()
}

// CancelJob cancels a queued or running job. A running run is interrupted
// through its context and its session released by the runner.
func (m *Manager) CancelJob(jobID string) (*Job, error) {
	job, err := m.store.Mutate(jobID, func(j *Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("%w: status %s", ErrNotCancelable, j.Status)
		}
		j.SetStatus(JobStatusCanceled)
		j.Message = "Job canceled"
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.activeMu.Lock()
	if cancel, ok := m.active[jobID]; ok {
		cancel()
	}
	m.activeMu.Unlock()

	m.events.Emit(job.ID, EventOf(job))
	return job, nil
}

// Subscribe subscribes to job events
func (m *Manager) Subscribe(jobID string) <-chan Event {
	return m.events.Subscribe(jobID)
}

// Unsubscribe unsubscribes from job events
func (m *Manager) Unsubscribe(jobID string, ch <-chan Event) {
	m.events.Unsubscribe(jobID, ch)
}

func (m *Manager) processMessage(msg jetstream.Msg, processor JobProcessor) {
	if err := m.handle(msg.Data(), processor); err != nil {
		m.logger.Warn("Dropping job message", zap.Error(err))
		if err := msg.Term(); err != nil {
			m.logger.Debug("Failed to terminate message", zap.Error(err))
		}
		return
	}
	if err := msg.Ack(); err != nil {
		m.logger.Debug("Failed to ack message", zap.Error(err))
	}
}

// handle runs the job carried by data. It returns an error only for messages
// that cannot be processed at all.
func (m *Manager) handle(data []byte, processor JobProcessor) error {
	msgJob, err := FromJSON(data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}
	log := m.logger.With(zap.String("job_id", msgJob.ID))

	ctx, cancel := context.WithTimeout(m.ctx, msgJob.GetTimeoutDuration())
	defer cancel()

	job, err := m.store.Mutate(msgJob.ID, func(j *Job) error {
		if j.Status != JobStatusQueued {
			return fmt.Errorf("job is %s", j.Status)
		}
		j.SetStatus(JobStatusRunning)
		j.SetProgress(0, "Run started")
		return nil
	})
	if err != nil {
		// Canceled before it started, or purged.
		log.Debug("Skipping job", zap.Error(err))
		return nil
	}

	m.activeMu.Lock()
	m.active[job.ID] = cancel
	m.activeMu.Unlock()
	defer func() {
		m.activeMu.Lock()
		delete(m.active, job.ID)
		m.activeMu.Unlock()
	}()

	m.events.Emit(job.ID, EventOf(job))
	log.Info("Run started", zap.String("flow", job.Request.Flow), zap.String("target", job.Request.Target))

	out, runErr := processor.Process(ctx, job, func(p Progress) {
		updated, err := m.store.Mutate(job.ID, func(j *Job) error {
			if j.Status != JobStatusRunning {
				return fmt.Errorf("job is %s", j.Status)
			}
			j.SetStage(p.Stage, p.Current, p.Total, p.Message)
			return nil
		})
		if err == nil {
			m.events.Emit(updated.ID, EventOf(updated))
		}
	})

	final, err := m.store.Mutate(job.ID, func(j *Job) error {
		switch {
		case j.Status == JobStatusCanceled:
			// Keep the cancel, but record what the run got to.
			if runErr == nil {
				j.Result = &out
			}
		case runErr != nil:
			j.SetError(runErr.Error())
		default:
			j.Complete(out)
		}
		return nil
	})
	if err != nil {
		log.Warn("Job vanished while running", zap.Error(err))
		return nil
	}

	m.events.Emit(final.ID, EventOf(final))
	log.Info("Run finished", zap.String("status", string(final.Status)), zap.String("message", final.Message))

	m.mu.Lock()
	notifier := m.notifier
	m.mu.Unlock()
	if notifier != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := notifier.Notify(context.WithoutCancel(m.ctx), final); err != nil {
				log.Warn("Webhook failed", zap.Error(err))
			}
		}()
	}
	return nil
}
