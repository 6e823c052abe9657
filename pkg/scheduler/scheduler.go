// Package scheduler runs one worker per active channel. A worker sleeps until the pre-generation
// instant of the next publish slot, generates an item, waits for the slot and publishes it.
package scheduler

//go:generate moq -out mocks/store.go -pkg mocks -skip-ensure -fmt goimports . Store
//go:generate moq -out mocks/validator.go -pkg mocks -skip-ensure -fmt goimports . Validator
//go:generate moq -out mocks/selector.go -pkg mocks -skip-ensure -fmt goimports . Selector
//go:generate moq -out mocks/generator.go -pkg mocks -skip-ensure -fmt goimports . Generator
//go:generate moq -out mocks/publisher.go -pkg mocks -skip-ensure -fmt goimports . Publisher
//go:generate moq -out mocks/recorder.go -pkg mocks -skip-ensure -fmt goimports . Recorder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/pipeline"
	"github.com/umputun/shortcast/pkg/preflight"
	"github.com/umputun/shortcast/pkg/topic"
)

// Store is the subset of the store used by workers
type Store interface {
	GetChannel(ctx context.Context, id string) (*domain.Channel, error)
	GetCredential(ctx context.Context, id string) (*domain.Credential, error)
	CreateItem(ctx context.Context, item *domain.Item) error
	GetReadyItem(ctx context.Context, channelID string) (*domain.Item, error)
	GetItems(ctx context.Context, filter domain.ItemFilter) ([]*domain.Item, error)
	RecoverInFlight(ctx context.Context, channelID string) (int64, error)
	PauseChannel(ctx context.Context, id string, reason domain.PauseReason) error
}

// Validator runs pre-flight checks of a channel
type Validator interface {
	Run(ctx context.Context, ch *domain.Channel) *preflight.Result
}

// Selector picks the topic of the next item
type Selector interface {
	Select(ctx context.Context, ch *domain.Channel) (*topic.Selection, error)
}

// Generator runs the generation pipeline for a planned item
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Publisher uploads a ready item
type Publisher interface {
	Publish(ctx context.Context, ch *domain.Channel, itemID string) (*domain.Item, error)
}

// Recorder records events
type Recorder interface {
	Record(ctx context.Context, channelID string, sev domain.Severity, cat domain.Category, msg string, payload any)
}

// Deps are collaborators shared by all workers
type Deps struct {
	Store     Store
	Validator Validator
	Selector  Selector
	Generator Generator
	Publisher Publisher
	Recorder  Recorder
}

// Params of the scheduler
type Params struct {
	Lead         time.Duration // generation starts this long before the publish slot, default 3m
	GenAttempts  int           // generation attempts per slot, default 3
	RetryBase    time.Duration // backoff between generation attempts, default 30s
	RetryCap     time.Duration // default 5m
	FailureLimit int           // consecutive failures with the same cause pausing the channel, default 3
	ReauthPoll   time.Duration // recheck interval of a channel waiting for re-authorization, default 5m
	Now          func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
	OnWorkerExit func(channelID string, err error) // called when a worker stops on its own
}

// Scheduler owns per-channel workers
type Scheduler struct {
	Deps
	params Params

	mu      sync.Mutex
	workers map[string]*handle
	wg      sync.WaitGroup
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New makes a scheduler with no workers running
func New(deps Deps, params Params) *Scheduler {
	if params.Lead <= 0 {
		params.Lead = 3 * time.Minute
	}
	if params.GenAttempts <= 0 {
		params.GenAttempts = 3
	}
	if params.RetryBase <= 0 {
		params.RetryBase = 30 * time.Second
	}
	if params.RetryCap <= 0 {
		params.RetryCap = 5 * time.Minute
	}
	if params.FailureLimit <= 0 {
		params.FailureLimit = 3
	}
	if params.ReauthPoll <= 0 {
		params.ReauthPoll = 5 * time.Minute
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.Sleep == nil {
		params.Sleep = sleep
	}
	return &Scheduler{Deps: deps, params: params, workers: map[string]*handle{}}
}

// Sync starts workers for active channels without one and stops workers of channels not in the list.
// Workers that exited on their own are forgotten first, so an active channel gets a fresh worker.
func (s *Scheduler) Sync(ctx context.Context, active []string) (started, stopped []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, h := range s.workers {
		select {
		case <-h.done:
			delete(s.workers, id)
		default:
		}
	}

	want := make(map[string]bool, len(active))
	for _, id := range active {
		want[id] = true
	}
	for id, h := range s.workers {
		if !want[id] {
			h.cancel()
			delete(s.workers, id)
			stopped = append(stopped, id)
		}
	}
	for _, id := range active {
		if _, ok := s.workers[id]; ok {
			continue
		}
		s.start(ctx, id)
		started = append(started, id)
	}
	sort.Strings(started)
	sort.Strings(stopped)
	return started, stopped
}

func (s *Scheduler) start(ctx context.Context, channelID string) {
	wctx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	s.workers[channelID] = h
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		defer cancel()
		log.Printf("[INFO] worker for %s started", channelID)
		err := s.worker(channelID).Run(wctx)
		if err != nil {
			log.Printf("[ERROR] worker for %s stopped: %v", channelID, err)
		} else {
			log.Printf("[INFO] worker for %s stopped", channelID)
		}
		if wctx.Err() == nil && s.params.OnWorkerExit != nil {
			s.params.OnWorkerExit(channelID, err)
		}
	}()
}

// Running returns channel ids with a live worker
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]string, 0, len(s.workers))
	for id, h := range s.workers {
		select {
		case <-h.done:
			continue
		default:
		}
		res = append(res, id)
	}
	sort.Strings(res)
	return res
}

// Stop cancels all workers and waits for them up to grace. Returns false if some are still running.
func (s *Scheduler) Stop(grace time.Duration) bool {
	s.mu.Lock()
	for id, h := range s.workers {
		h.cancel()
		delete(s.workers, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("[INFO] all workers stopped")
		return true
	case <-time.After(grace):
		log.Printf("[WARN] workers still running after %v", grace)
		return false
	}
}

// GenerateOnce generates an item for the channel right away, skipping the schedule, and publishes
// it if publish is set. Pre-flight failures are returned as errors.
func (s *Scheduler) GenerateOnce(ctx context.Context, channelID string, publish bool) (*domain.Item, error) {
	w := s.worker(channelID)
	ch, err := s.Store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("get channel %s: %w", channelID, err)
	}
	if res := s.Validator.Run(ctx, ch); !res.Passed {
		return nil, fmt.Errorf("pre-flight %s failed: %w", res.Check, res.Error())
	}
	item, err := w.generate(ctx, ch, s.params.Now().Add(s.params.Lead))
	if err != nil {
		return nil, err
	}
	if !publish {
		return item, nil
	}
	return s.Publisher.Publish(ctx, ch, item.ID)
}

func (s *Scheduler) worker(channelID string) *Worker {
	return &Worker{Deps: s.Deps, params: s.params, channelID: channelID}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
