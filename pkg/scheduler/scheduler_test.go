package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/pipeline"
	"github.com/umputun/shortcast/pkg/preflight"
	"github.com/umputun/shortcast/pkg/scheduler/mocks"
	"github.com/umputun/shortcast/pkg/topic"
)

var t0 = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

// fakeClock advances on every sleep and cancels the worker on the stopAt-th sleep
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	stopAt int
	cancel context.CancelFunc
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	c.mu.Unlock()
	if c.stopAt > 0 && n >= c.stopAt {
		c.cancel()
		return context.Canceled
	}
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration{}, c.sleeps...)
}

// env is a worker with mocked collaborators around a single channel
type env struct {
	mu      sync.Mutex
	ch      domain.Channel
	cred    domain.Credential
	created []*domain.Item

	store     *mocks.StoreMock
	validator *mocks.ValidatorMock
	selector  *mocks.SelectorMock
	generator *mocks.GeneratorMock
	publisher *mocks.PublisherMock
	recorder  *mocks.RecorderMock
	clock     *fakeClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	last := t0
	e := &env{
		ch: domain.Channel{ID: "ch1", Name: "deserts", Format: domain.FormatSequential, IntervalMinutes: 60,
			Active: true, CredentialID: "cred-1", LastPublishAt: &last},
		cred:  domain.Credential{ID: "cred-1", State: domain.CredentialFresh},
		clock: &fakeClock{now: t0},
	}
	e.store = &mocks.StoreMock{
		RecoverInFlightFunc: func(context.Context, string) (int64, error) { return 0, nil },
		GetChannelFunc: func(context.Context, string) (*domain.Channel, error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			ch := e.ch
			return &ch, nil
		},
		GetCredentialFunc: func(context.Context, string) (*domain.Credential, error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			c := e.cred
			return &c, nil
		},
		GetReadyItemFunc: func(context.Context, string) (*domain.Item, error) { return nil, domain.ErrNotFound },
		CreateItemFunc: func(_ context.Context, item *domain.Item) error {
			e.mu.Lock()
			defer e.mu.Unlock()
			item.ID = fmt.Sprintf("item-%d", len(e.created)+1)
			item.Status = domain.StatusPlanned
			e.created = append(e.created, item)
			return nil
		},
		GetItemsFunc: func(_ context.Context, f domain.ItemFilter) ([]*domain.Item, error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			var res []*domain.Item
			for i := len(e.created) - 1; i >= 0 && (f.Limit == 0 || len(res) < f.Limit); i-- {
				res = append(res, e.created[i])
			}
			return res, nil
		},
		PauseChannelFunc: func(_ context.Context, _ string, reason domain.PauseReason) error {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.ch.Active, e.ch.PauseReason = false, reason
			return nil
		},
	}
	e.validator = &mocks.ValidatorMock{RunFunc: func(context.Context, *domain.Channel) *preflight.Result {
		return &preflight.Result{Passed: true}
	}}
	e.selector = &mocks.SelectorMock{SelectFunc: func(context.Context, *domain.Channel) (*topic.Selection, error) {
		return &topic.Selection{Topic: "Hottest Deserts On Earth", TopicKey: "hottest desert earth",
			Format: domain.FormatSequential, Group: domain.GroupControl,
			Snapshot: &domain.StrategySnapshot{Variant: domain.GroupControl, Source: "descriptor"}}, nil
	}}
	e.generator = &mocks.GeneratorMock{GenerateFunc: func(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
		req.Item.Status = domain.StatusReady
		return &pipeline.Result{ArtifactPath: "/out/" + req.Item.ID + ".mp4", Duration: 60, VoiceDuration: 59.2}, nil
	}}
	e.publisher = &mocks.PublisherMock{PublishFunc: func(_ context.Context, _ *domain.Channel, itemID string) (*domain.Item, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		at := e.clock.Now()
		e.ch.LastPublishAt = &at
		return &domain.Item{ID: itemID, ExternalID: "ext-001", Status: domain.StatusPublished, PublishedAt: &at}, nil
	}}
	e.recorder = &mocks.RecorderMock{RecordFunc: func(context.Context, string, domain.Severity, domain.Category, string, any) {}}
	return e
}

func (e *env) scheduler(params Params) *Scheduler {
	params.Now, params.Sleep = e.clock.Now, e.clock.Sleep
	if params.RetryBase == 0 {
		params.RetryBase, params.RetryCap = time.Millisecond, 2*time.Millisecond
	}
	return New(Deps{Store: e.store, Validator: e.validator, Selector: e.selector, Generator: e.generator,
		Publisher: e.publisher, Recorder: e.recorder}, params)
}

func (e *env) run(t *testing.T, params Params, stopAt int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.clock.stopAt, e.clock.cancel = stopAt, cancel
	err := e.scheduler(params).worker("ch1").Run(ctx)
	require.NoError(t, err)
	require.NotErrorIs(t, ctx.Err(), context.DeadlineExceeded, "worker didn't stop")
}

func TestWorker_HappyPath(t *testing.T) {
	e := newEnv(t)
	e.run(t, Params{}, 3)

	sleeps := e.clock.Sleeps()
	require.Len(t, sleeps, 3)
	assert.Equal(t, 57*time.Minute, sleeps[0], "sleep until pre-generation")
	assert.Equal(t, 3*time.Minute, sleeps[1], "sleep until publish slot")
	assert.Equal(t, 57*time.Minute, sleeps[2], "next slot after publish")

	require.Len(t, e.store.CreateItemCalls(), 1)
	item := e.store.CreateItemCalls()[0].Item
	assert.Equal(t, "Hottest Deserts On Earth", item.Topic)
	assert.Equal(t, domain.GroupControl, item.Group)
	assert.Equal(t, t0.Add(60*time.Minute), item.ScheduledAt)

	require.Len(t, e.generator.GenerateCalls(), 1)
	require.Len(t, e.publisher.PublishCalls(), 1)
	assert.Equal(t, "item-1", e.publisher.PublishCalls()[0].ItemID)
	require.NotNil(t, e.ch.LastPublishAt)
	assert.Equal(t, t0.Add(60*time.Minute), *e.ch.LastPublishAt)
	assert.Len(t, e.store.RecoverInFlightCalls(), 1)
}

func TestWorker_ReadyItemPublishedFirst(t *testing.T) {
	e := newEnv(t)
	e.store.GetReadyItemFunc = func(context.Context, string) (*domain.Item, error) {
		return &domain.Item{ID: "ready-1", Status: domain.StatusReady}, nil
	}
	e.validator.RunFunc = nil // must not be called
	e.selector.SelectFunc = nil
	e.run(t, Params{}, 3)

	require.Len(t, e.publisher.PublishCalls(), 1)
	assert.Equal(t, "ready-1", e.publisher.PublishCalls()[0].ItemID)
	assert.Empty(t, e.store.CreateItemCalls())
}

func TestWorker_PreflightMissingBinarySkipsSlot(t *testing.T) {
	e := newEnv(t)
	e.validator.RunFunc = func(context.Context, *domain.Channel) *preflight.Result {
		return &preflight.Result{Check: preflight.CheckBinaries, Category: domain.CatDependencyMissing,
			Err: domain.Fail(domain.CatDependencyMissing, fmt.Errorf("ffprobe: %w", domain.ErrDependencyMissing))}
	}
	e.run(t, Params{}, 2)

	sleeps := e.clock.Sleeps()
	require.Len(t, sleeps, 2)
	assert.Equal(t, 57*time.Minute, sleeps[0])
	assert.Equal(t, 60*time.Minute, sleeps[1], "skipped slot advances to the next pre-generation time")
	assert.Empty(t, e.store.CreateItemCalls())
	assert.Empty(t, e.selector.SelectCalls())

	calls := e.recorder.RecordCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.SeverityError, calls[0].Sev)
	assert.Equal(t, domain.CatDependencyMissing, calls[0].Cat)
}

func TestWorker_NeedsReauthSkipped(t *testing.T) {
	e := newEnv(t)
	e.cred.State = domain.CredentialNeedsReauth
	e.run(t, Params{ReauthPoll: 10 * time.Minute}, 2)

	assert.Equal(t, []time.Duration{10 * time.Minute, 10 * time.Minute}, e.clock.Sleeps())
	assert.Empty(t, e.store.GetReadyItemCalls())
	assert.Empty(t, e.store.CreateItemCalls())
}

func TestWorker_InactiveChannelStops(t *testing.T) {
	e := newEnv(t)
	e.ch.Active = false
	e.run(t, Params{}, 0)
	assert.Empty(t, e.clock.Sleeps())
	assert.Empty(t, e.store.GetCredentialCalls())
}

func TestWorker_RepeatedFailuresPauseChannel(t *testing.T) {
	e := newEnv(t)
	e.generator.GenerateFunc = func(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
		e.mu.Lock()
		req.Item.Status, req.Item.ErrorCause = domain.StatusFailed, domain.CatNoSuitableClip
		e.mu.Unlock()
		return nil, domain.Fail(domain.CatNoSuitableClip, domain.ErrNoSuitableClip)
	}
	e.run(t, Params{}, 5)

	assert.Len(t, e.generator.GenerateCalls(), 3)
	assert.Len(t, e.store.CreateItemCalls(), 3, "every attempt is a new item")
	require.Len(t, e.store.PauseChannelCalls(), 1)
	assert.Equal(t, domain.PauseFailures, e.store.PauseChannelCalls()[0].Reason)
	assert.Empty(t, e.publisher.PublishCalls())

	calls := e.recorder.RecordCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.SeverityError, calls[0].Sev)
	assert.Equal(t, domain.CatNoSuitableClip, calls[0].Cat)
	payload, ok := calls[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, Recommendation(domain.CatNoSuitableClip), payload["recommendation"])
	assert.Equal(t, []string{"item-3", "item-2", "item-1"}, payload["items"])
}

func TestWorker_MixedFailuresDontPause(t *testing.T) {
	e := newEnv(t)
	causes := []domain.Category{domain.CatNoSuitableClip, domain.CatEncoder, domain.CatNoSuitableClip}
	e.generator.GenerateFunc = func(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
		e.mu.Lock()
		cause := causes[len(e.created)-1]
		req.Item.Status, req.Item.ErrorCause = domain.StatusFailed, cause
		e.mu.Unlock()
		return nil, domain.Fail(cause, errors.New("failed"))
	}
	e.run(t, Params{}, 2)

	assert.Len(t, e.generator.GenerateCalls(), 3)
	assert.Empty(t, e.store.PauseChannelCalls())
	assert.Equal(t, 60*time.Minute, e.clock.Sleeps()[1], "slot skipped after attempts run out")
}

func TestWorker_NoRetryAfterSlot(t *testing.T) {
	e := newEnv(t)
	e.generator.GenerateFunc = func(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
		e.clock.Advance(10 * time.Minute) // generation took longer than the lead
		return nil, domain.Fail(domain.CatEncoder, errors.New("encoder crashed"))
	}
	e.run(t, Params{}, 2)
	assert.Len(t, e.generator.GenerateCalls(), 1)
}

func TestWorker_DuplicateExhaustedSkipsSlot(t *testing.T) {
	e := newEnv(t)
	e.selector.SelectFunc = func(context.Context, *domain.Channel) (*topic.Selection, error) {
		return nil, domain.Fail(domain.CatDuplicateExhausted, domain.ErrDuplicateExhausted)
	}
	e.run(t, Params{}, 2)
	assert.Len(t, e.selector.SelectCalls(), 1)
	assert.Empty(t, e.store.CreateItemCalls())
}

func TestWorker_StoreFailureStopsWorker(t *testing.T) {
	e := newEnv(t)
	e.store.GetChannelFunc = func(context.Context, string) (*domain.Channel, error) {
		return nil, fmt.Errorf("get channel: %w", domain.ErrStoreUnavailable)
	}
	err := e.scheduler(Params{}).worker("ch1").Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestScheduler_SyncAndStop(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(Params{})
	s.params.Sleep = func(ctx context.Context, _ time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}

	started, stopped := s.Sync(context.Background(), []string{"b", "a"})
	assert.Equal(t, []string{"a", "b"}, started)
	assert.Empty(t, stopped)
	assert.Equal(t, []string{"a", "b"}, s.Running())

	started, stopped = s.Sync(context.Background(), []string{"b", "c"})
	assert.Equal(t, []string{"c"}, started)
	assert.Equal(t, []string{"a"}, stopped)
	assert.Equal(t, []string{"b", "c"}, s.Running())

	assert.True(t, s.Stop(time.Second))
	assert.Empty(t, s.Running())
}

func TestScheduler_WorkerExit(t *testing.T) {
	e := newEnv(t)
	e.ch.Active = false
	exited := make(chan string, 2)
	s := e.scheduler(Params{OnWorkerExit: func(id string, err error) {
		assert.NoError(t, err)
		exited <- id
	}})

	s.Sync(context.Background(), []string{"ch1"})
	select {
	case id := <-exited:
		assert.Equal(t, "ch1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("worker didn't exit")
	}
	require.Eventually(t, func() bool { return len(s.Running()) == 0 }, time.Second, 10*time.Millisecond)

	started, _ := s.Sync(context.Background(), []string{"ch1"})
	assert.Equal(t, []string{"ch1"}, started, "exited worker restarted")
	assert.True(t, s.Stop(time.Second))
}

func TestScheduler_GenerateOnce(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(Params{})

	item, err := s.GenerateOnce(context.Background(), "ch1", false)
	require.NoError(t, err)
	assert.Equal(t, "item-1", item.ID)
	assert.Empty(t, e.publisher.PublishCalls())

	item, err = s.GenerateOnce(context.Background(), "ch1", true)
	require.NoError(t, err)
	assert.Equal(t, "ext-001", item.ExternalID)
	assert.Len(t, e.publisher.PublishCalls(), 1)

	e.validator.RunFunc = func(context.Context, *domain.Channel) *preflight.Result {
		return &preflight.Result{Check: preflight.CheckQuota, Category: domain.CatQuota,
			Err: domain.Fail(domain.CatQuota, domain.ErrQuotaExhausted)}
	}
	_, err = s.GenerateOnce(context.Background(), "ch1", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQuotaExhausted)
}

func TestNextPublish(t *testing.T) {
	last := t0
	ch := &domain.Channel{IntervalMinutes: 60, LastPublishAt: &last}
	assert.Equal(t, t0.Add(time.Hour), NextPublish(ch, t0.Add(10*time.Minute)))
	assert.Equal(t, t0.Add(2*time.Hour), NextPublish(ch, t0.Add(2*time.Hour)), "overdue slot is now")
	assert.Equal(t, t0, NextPublish(&domain.Channel{IntervalMinutes: 60}, t0), "never published")
}

func TestGenerationClass(t *testing.T) {
	tbl := []struct {
		err  error
		want domain.ErrorClass
	}{
		{domain.Fail(domain.CatNoSuitableClip, domain.ErrNoSuitableClip), domain.ClassTransient},
		{domain.Fail(domain.CatAVDrift, domain.ErrAVDriftExceeded), domain.ClassTransient},
		{errors.New("boom"), domain.ClassTransient},
		{domain.Fail(domain.CatDuplicateExhausted, domain.ErrDuplicateExhausted), domain.ClassPermanent},
		{fmt.Errorf("x: %w", domain.ErrStoreUnavailable), domain.ClassPermanent},
		{domain.Fail(domain.CatAuth, domain.ErrAuthExpired), domain.ClassAuth},
		{domain.Fail(domain.CatQuota, domain.ErrQuotaExhausted), domain.ClassQuota},
	}
	for i, tt := range tbl {
		t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
			assert.Equal(t, tt.want, generationClass(tt.err))
		})
	}
}

func TestRecommendation(t *testing.T) {
	assert.Contains(t, Recommendation(domain.CatDependencyMissing), "BINARY_PATHS")
	assert.Equal(t, "inspect recent events of the channel", Recommendation(domain.CatStore))
}
