package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/ahrdadan/shoprobot/internal/driver"
	"github.com/ahrdadan/shoprobot/internal/failure"
	"github.com/ahrdadan/shoprobot/internal/fixture"
	"github.com/ahrdadan/shoprobot/internal/retry"
	"github.com/ahrdadan/shoprobot/internal/robot"
	"github.com/ahrdadan/shoprobot/internal/security"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fastRetry = retry.Policy{MaxAttempts: 3, Base: time.Millisecond, Floor: time.Millisecond, Ceiling: 4 * time.Millisecond}

type fixtureSource struct {
	search *fixture.Engine
	login  *fixture.Engine
	asked  []string
}

func newFixtureSource() *fixtureSource {
	return &fixtureSource{
		search: fixture.NewEngine(fixture.Storefront(fixture.StorefrontOptions{
			Catalogue: fixture.DefaultCatalogue(),
			Consent:   "Accept All",
		})),
		login: fixture.NewEngine(fixture.SauceDemo(fixture.SauceDemoOptions{
			Username:  "standard_user",
			Password:  "secret_sauce",
			Catalogue: fixture.SauceDemoCatalogue(),
		})),
	}
}

func (s *fixtureSource) Launcher(engine string, flow robot.Flow) driver.Launcher {
	s.asked = append(s.asked, engine)
	if flow == robot.FlowLogin {
		return s.login
	}
	return s.search
}

// recordingPublisher stands in for JetStream.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs [][]byte
	err  error
}

func (p *recordingPublisher) publish(_ context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, data)
	return nil
}

func (p *recordingPublisher) last(t *testing.T) []byte {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.msgs)
	return p.msgs[len(p.msgs)-1]
}

func newTestManager(t *testing.T) (*Manager, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	m := newManager(pub.publish, zaptest.NewLogger(t))
	t.Cleanup(m.Stop)
	return m, pub
}

func searchBase() robot.Config {
	cfg := robot.DefaultConfig()
	cfg.BaseURL = "https://store.test/"
	return cfg
}

func TestJobRequestValidate(t *testing.T) {
	assert.NoError(t, JobRequest{}.Validate())
	assert.NoError(t, JobRequest{Flow: "login", SiteURL: "https://shop.test/", Notify: &NotifyConfig{WebhookURL: "http://hooks.test/x"}}.Validate())

	assert.Error(t, JobRequest{Flow: "checkout"}.Validate())
	assert.ErrorContains(t, JobRequest{SiteURL: "ftp://shop.test"}.Validate(), "site_url")
	assert.ErrorContains(t, JobRequest{SiteURL: "/relative"}.Validate(), "site_url")
	assert.Error(t, JobRequest{Timeout: -1}.Validate())
	assert.ErrorContains(t, JobRequest{Notify: &NotifyConfig{WebhookURL: "nope"}}.Validate(), "webhook_url")
}

func TestJobLifecycle(t *testing.T) {
	job := NewJob(JobRequest{Target: "pegasus"})
	assert.True(t, strings.HasPrefix(job.ID, "job_"))
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, DefaultJobTimeout, job.GetTimeoutDuration())
	assert.False(t, job.IsExpired())

	job.SetStatus(JobStatusRunning)
	assert.NotZero(t, job.StartedAt)
	assert.Zero(t, job.CompletedAt)

	job.SetStage("extract", 8, 8, "extracting")
	assert.Equal(t, 99, job.Progress)
	assert.Equal(t, "extract", job.ProgressInfo.Stage)

	job.Complete(robot.Failed("pegasus", failure.PriceNotFound, robot.StageExtract, "no price"))
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, failure.PriceNotFound, job.Result.Kind)
	assert.Equal(t, job.Result.Message, job.Error)
	assert.NotZero(t, job.CompletedAt)

	ok := NewJob(JobRequest{Timeout: 7, ResultTTL: 60})
	ok.Complete(robot.Succeeded(robot.FlowLogin, "x", "X", "$1"))
	assert.Equal(t, JobStatusSucceeded, ok.Status)
	assert.Empty(t, ok.Error)
	assert.Equal(t, 7*time.Second, ok.GetTimeoutDuration())

	ok.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	assert.True(t, ok.IsExpired())
}

func TestStoreReturnsCopies(t *testing.T) {
	s := NewStore(time.Hour, nil)
	defer s.Stop()

	job := NewJob(JobRequest{IdempotencyKey: "k1", Notify: &NotifyConfig{WebhookURL: "http://a.test"}})
	s.Save(job)

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	got.Status = JobStatusFailed
	got.Request.Notify.WebhookURL = "http://b.test"

	again, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, again.Status)
	assert.Equal(t, "http://a.test", again.Request.Notify.WebhookURL)

	byKey, ok := s.GetByIdempotencyKey("k1")
	require.True(t, ok)
	assert.Equal(t, job.ID, byKey.ID)

	_, err = s.Get("job_missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStoreMutate(t *testing.T) {
	s := NewStore(time.Hour, nil)
	defer s.Stop()

	job := NewJob(JobRequest{})
	s.Save(job)

	boom := errors.New("boom")
	_, err := s.Mutate(job.ID, func(j *Job) error {
		j.Status = JobStatusRunning
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := s.Get(job.ID)
	assert.Equal(t, JobStatusQueued, got.Status)

	updated, err := s.Mutate(job.ID, func(j *Job) error {
		j.SetStatus(JobStatusRunning)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, updated.Status)
}

func TestStoreExpiry(t *testing.T) {
	s := NewStore(time.Hour, nil)
	defer s.Stop()

	old := NewJob(JobRequest{IdempotencyKey: "old"})
	old.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	fresh := NewJob(JobRequest{})
	s.Save(old)
	s.Save(fresh)

	_, err := s.Get(old.ID)
	assert.ErrorIs(t, err, ErrJobExpired)
	_, ok := s.GetByIdempotencyKey("old")
	assert.False(t, ok)
	assert.Len(t, s.List(), 1)

	assert.Equal(t, 1, s.cleanupExpired())
	_, err = s.Get(old.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEventHub(t *testing.T) {
	h := NewEventHub()

	a := h.Subscribe("job_1")
	b := h.Subscribe("job_1")
	other := h.Subscribe("job_2")

	h.Emit("job_1", Event{JobID: "job_1", Status: JobStatusRunning})
	assert.Equal(t, JobStatusRunning, (<-a).Status)
	assert.Equal(t, JobStatusRunning, (<-b).Status)
	assert.Empty(t, other)

	h.Unsubscribe("job_1", a)
	_, open := <-a
	assert.False(t, open)

	h.Close()
	_, open = <-b
	assert.False(t, open)
	_, open = <-h.Subscribe("job_3")
	assert.False(t, open)
}

func TestEnqueuePublishesAndDeduplicates(t *testing.T) {
	m, pub := newTestManager(t)

	job := NewJob(JobRequest{Target: "pegasus", IdempotencyKey: "same"})
	got, dup, err := m.EnqueueWithIdempotency(job)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, job.ID, got.ID)

	msg, err := FromJSON(pub.last(t))
	require.NoError(t, err)
	assert.Equal(t, job.ID, msg.ID)
	assert.Equal(t, "pegasus", msg.Request.Target)

	got, dup, err = m.EnqueueWithIdempotency(NewJob(JobRequest{Target: "other", IdempotencyKey: "same"}))
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, job.ID, got.ID)
	assert.Len(t, pub.msgs, 1)
}

func TestEnqueuePublishFailureForgetsJob(t *testing.T) {
	m, pub := newTestManager(t)
	pub.err = errors.New("no stream")

	job := NewJob(JobRequest{})
	err := m.Enqueue(job)
	assert.ErrorContains(t, err, "no stream")

	_, err = m.GetJob(job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestHandleRunsSearchJob(t *testing.T) {
	m, pub := newTestManager(t)
	source := newFixtureSource()
	proc := NewRunProcessor(source, searchBase(), zaptest.NewLogger(t), robot.WithRetryPolicy(fastRetry))

	job := NewJob(JobRequest{Target: "Men's Pegasus", Engine: "fixture"})
	require.NoError(t, m.Enqueue(job))
	events := m.Subscribe(job.ID)

	require.NoError(t, m.handle(pub.last(t), proc))

	done, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusSucceeded, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.Result)
	assert.Equal(t, "Nike Pegasus 41", done.Result.Title)
	assert.Equal(t, "$140", done.Result.Price)
	assert.Equal(t, []string{"fixture"}, source.asked)
	assert.Zero(t, source.search.Open())

	var stages []string
	var last Event
	for len(events) > 0 {
		e := <-events
		if e.Status == JobStatusRunning && e.Stage != "" {
			stages = append(stages, e.Stage)
		}
		last = e
	}
	want := make([]string, 0)
	for _, s := range robot.Stages(robot.FlowSearch) {
		want = append(want, string(s))
	}
	assert.Equal(t, want, stages)
	assert.True(t, last.Terminal())
	assert.Equal(t, JobStatusSucceeded, last.Status)
}

func TestHandleLoginFailureFailsJob(t *testing.T) {
	m, pub := newTestManager(t)
	proc := NewRunProcessor(newFixtureSource(), searchBase(), nil, robot.WithRetryPolicy(fastRetry))

	job := NewJob(JobRequest{Flow: "login", SiteURL: "https://www.saucedemo.test/", Target: "Sauce Labs Onesie"})
	require.NoError(t, m.Enqueue(job))
	require.NoError(t, m.handle(pub.last(t), proc))

	done, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, failure.ProductNotFound, done.Result.Kind)
	assert.Contains(t, done.Error, "product_not_found")
}

func TestHandleSkipsCanceledJob(t *testing.T) {
	m, pub := newTestManager(t)

	job := NewJob(JobRequest{})
	require.NoError(t, m.Enqueue(job))
	canceled, err := m.CancelJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCanceled, canceled.Status)

	called := false
	proc := processorFunc(func(context.Context, *Job, func(Progress)) (robot.Outcome, error) {
		called = true
		return robot.Outcome{}, nil
	})
	require.NoError(t, m.handle(pub.last(t), proc))
	assert.False(t, called)

	_, err = m.CancelJob(job.ID)
	assert.ErrorIs(t, err, ErrNotCancelable)
}

func TestCancelInterruptsRunningJob(t *testing.T) {
	m, pub := newTestManager(t)

	job := NewJob(JobRequest{Timeout: 30})
	require.NoError(t, m.Enqueue(job))

	started := make(chan struct{})
	proc := processorFunc(func(ctx context.Context, j *Job, _ func(Progress)) (robot.Outcome, error) {
		close(started)
		<-ctx.Done()
		return robot.Failed(j.Request.Target, failure.Unclassified, robot.StageNavigate, ctx.Err().Error()), nil
	})

	errc := make(chan error, 1)
	go func() { errc <- m.handle(pub.last(t), proc) }()

	<-started
	_, err := m.CancelJob(job.ID)
	require.NoError(t, err)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("running job was not interrupted")
	}

	done, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCanceled, done.Status)
	require.NotNil(t, done.Result)
	assert.False(t, done.Result.OK)
}

func TestHandleTimesOut(t *testing.T) {
	m, pub := newTestManager(t)

	job := NewJob(JobRequest{Timeout: 1})
	require.NoError(t, m.Enqueue(job))

	proc := processorFunc(func(ctx context.Context, _ *Job, _ func(Progress)) (robot.Outcome, error) {
		<-ctx.Done()
		return robot.Outcome{}, ctx.Err()
	})
	require.NoError(t, m.handle(pub.last(t), proc))

	done, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, done.Status)
	assert.Contains(t, done.Error, "deadline exceeded")
}

func TestHandleRejectsGarbage(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Error(t, m.handle([]byte("{"), processorFunc(nil)))
}

func TestRunConfig(t *testing.T) {
	proc := NewRunProcessor(newFixtureSource(), searchBase(), nil)

	cfg, err := proc.RunConfig(JobRequest{})
	require.NoError(t, err)
	assert.Equal(t, "https://store.test/", cfg.BaseURL)

	cfg, err = proc.RunConfig(JobRequest{Flow: "login"})
	require.NoError(t, err)
	assert.Equal(t, robot.FlowLogin, cfg.Flow)
	assert.Equal(t, robot.DefaultLoginURL, cfg.BaseURL)

	cfg, err = proc.RunConfig(JobRequest{Flow: "login", SiteURL: "https://demo.test/"})
	require.NoError(t, err)
	assert.Equal(t, "https://demo.test/", cfg.BaseURL)

	_, err = proc.RunConfig(JobRequest{Flow: "checkout"})
	assert.Error(t, err)
}

func TestWebhookIsSigned(t *testing.T) {
	type delivery struct {
		header http.Header
		body   []byte
	}
	got := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{header: r.Header.Clone(), body: body}
	}))
	defer srv.Close()

	m, pub := newTestManager(t)
	notifier := NewNotifier("http://robot.test/", "s3cret", zaptest.NewLogger(t))
	defer notifier.client.CloseIdleConnections()
	m.SetNotifier(notifier)

	job := NewJob(JobRequest{Notify: &NotifyConfig{WebhookURL: srv.URL}})
	require.NoError(t, m.Enqueue(job))

	proc := processorFunc(func(context.Context, *Job, func(Progress)) (robot.Outcome, error) {
		return robot.Succeeded(robot.FlowLogin, "Sauce Labs Backpack", "Sauce Labs Backpack", "$29.99"), nil
	})
	require.NoError(t, m.handle(pub.last(t), proc))

	var d delivery
	select {
	case d = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}

	assert.Equal(t, "job.succeeded", d.header.Get(HeaderEvent))
	assert.Equal(t, "sha256="+security.GenerateWebhookSignature(d.body, "s3cret"), d.header.Get(HeaderSignature))

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(d.body, &payload))
	assert.Equal(t, job.ID, payload.JobID)
	assert.Equal(t, "http://robot.test/robot/jobs/"+job.ID+"/result", payload.ResultURL)
	require.NotNil(t, payload.Result)
	assert.Equal(t, "$29.99", payload.Result.Price)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier("", "", nil)
	defer n.client.CloseIdleConnections()

	job := NewJob(JobRequest{Notify: &NotifyConfig{WebhookURL: srv.URL, WebhookSecret: "per-job"}})
	job.SetError("boom")
	assert.ErrorContains(t, n.Notify(context.Background(), job), "502")

	assert.NoError(t, n.Notify(context.Background(), NewJob(JobRequest{})))
}

type processorFunc func(ctx context.Context, job *Job, progress func(Progress)) (robot.Outcome, error)

func (f processorFunc) Process(ctx context.Context, job *Job, progress func(Progress)) (robot.Outcome, error) {
	return f(ctx, job, progress)
}

func TestLocalManagerRunsJobs(t *testing.T) {
	m := NewLocalManager(4, zaptest.NewLogger(t))
	defer m.Stop()

	source := newFixtureSource()
	require.NoError(t, m.Start(NewRunProcessor(source, searchBase(), nil, robot.WithRetryPolicy(fastRetry))))

	job := NewJob(JobRequest{Target: "trail"})
	events := m.Subscribe(job.ID)
	require.NoError(t, m.Enqueue(job))

	deadline := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-events:
			require.True(t, ok)
			if !e.Terminal() {
				continue
			}
			assert.Equal(t, JobStatusSucceeded, e.Status)
			require.NotNil(t, e.Result)
			assert.Equal(t, "Nike Pegasus Trail 5", e.Result.Title)
			return
		case <-deadline:
			t.Fatal("job did not finish")
		}
	}
}
