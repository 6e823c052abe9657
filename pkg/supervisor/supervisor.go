// Package supervisor owns the process lifecycle: store migration, per-channel workers, background
// tasks, failure diagnosis, maintenance and cooperative shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/umputun/shortcast/pkg/domain"
)

// Store is the subset of the store used by the supervisor
type Store interface {
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	IntegrityCheck(ctx context.Context) error
	GetChannel(ctx context.Context, id string) (*domain.Channel, error)
	GetChannels(ctx context.Context, activeOnly bool) ([]*domain.Channel, error)
	PauseChannel(ctx context.Context, id string, reason domain.PauseReason) error
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	GetEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error)
	CountEventsByCategory(ctx context.Context, since time.Time, severities []domain.Severity) ([]domain.CategoryCount, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
	GetCredentials(ctx context.Context) ([]*domain.Credential, error)
	GetQuotas(ctx context.Context) ([]*domain.ProviderQuota, error)
	GetSettingTime(ctx context.Context, key string) (time.Time, error)
	SetSettingTime(ctx context.Context, key string, t time.Time) error
}

// Workers manages per-channel workers
type Workers interface {
	Sync(ctx context.Context, active []string) (started, stopped []string)
	Running() []string
	Stop(grace time.Duration) bool
}

// Diagnoser explains repeated failures of a channel
type Diagnoser interface {
	Diagnose(ctx context.Context, channel string, cat domain.Category, events []*domain.Event) (string, error)
}

// Children controls external child processes
type Children interface {
	KillAll() int
	Running() int
}

// Recorder records events
type Recorder interface {
	Record(ctx context.Context, channelID string, sev domain.Severity, cat domain.Category, msg string, payload any)
}

// Task is a named background job running until ctx is canceled
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

// Deps are the supervised components
type Deps struct {
	Store     Store
	Workers   Workers
	Diagnoser Diagnoser // optional, pauses get a generic message without it
	Children  Children  // optional
	Recorder  Recorder
	Tasks     []Task
}

// Params of the supervisor
type Params struct {
	Reconcile         time.Duration // active channels are synced with workers this often, default 30s
	HealthEvery       time.Duration // failure monitor interval, default 5m
	MaintenanceEvery  time.Duration // event pruning and artifact cleanup, default 1h
	FailureThreshold  int           // events of one category pausing a channel, default 20
	FailureWindow     time.Duration // default 24h
	DiagnosisEvents   int           // recent events handed to the diagnoser, default 10
	EventRetention    time.Duration // default 30 days
	ArtifactRetention time.Duration // artifacts of finished items are kept this long, default 3 days
	WorkDir           string        // per-item work directories
	OutputDir         string        // final artifacts
	Grace             time.Duration // shutdown grace period, default 30s
	Now               func() time.Time
}

// Supervisor runs the service
type Supervisor struct {
	Deps
	params Params

	kick  chan struct{} // request an immediate reconcile
	fatal chan error
	once  sync.Once

	mu   sync.Mutex
	wctx context.Context // parent of worker contexts while Run is active
}

// New makes a supervisor
func New(deps Deps, params Params) *Supervisor {
	if params.Reconcile <= 0 {
		params.Reconcile = 30 * time.Second
	}
	if params.HealthEvery <= 0 {
		params.HealthEvery = 5 * time.Minute
	}
	if params.MaintenanceEvery <= 0 {
		params.MaintenanceEvery = time.Hour
	}
	if params.FailureThreshold <= 0 {
		params.FailureThreshold = 20
	}
	if params.FailureWindow <= 0 {
		params.FailureWindow = 24 * time.Hour
	}
	if params.DiagnosisEvents <= 0 {
		params.DiagnosisEvents = 10
	}
	if params.EventRetention <= 0 {
		params.EventRetention = 30 * 24 * time.Hour
	}
	if params.ArtifactRetention <= 0 {
		params.ArtifactRetention = 72 * time.Hour
	}
	if params.Grace <= 0 {
		params.Grace = 30 * time.Second
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Supervisor{Deps: deps, params: params, kick: make(chan struct{}, 1), fatal: make(chan error, 1)}
}

// Prepare migrates the store and verifies its integrity. Called by Run, exposed for one-shot commands.
func (s *Supervisor) Prepare(ctx context.Context) error {
	if err := s.Store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	if err := s.Store.IntegrityCheck(ctx); err != nil {
		return fmt.Errorf("check store: %w", err)
	}
	return nil
}

// Run prepares the store, starts background tasks and channel workers and supervises them until ctx
// is canceled or a fatal store error happens. Shutdown waits for workers up to the grace period and
// kills remaining child processes after it.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Prepare(ctx); err != nil {
		return err
	}
	log.Printf("[INFO] supervisor started")

	tctx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()
	var tasks errgroup.Group
	for _, t := range s.Tasks {
		tasks.Go(func() error {
			log.Printf("[DEBUG] background task %s started", t.Name)
			t.Run(tctx)
			log.Printf("[DEBUG] background task %s stopped", t.Name)
			return nil
		})
	}

	wctx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	s.mu.Lock()
	s.wctx = wctx
	s.mu.Unlock()
	if err := s.Reconcile(wctx); err != nil {
		log.Printf("[WARN] initial reconcile: %v", err)
	}

	reconcile := time.NewTicker(s.params.Reconcile)
	defer reconcile.Stop()
	health := time.NewTicker(s.params.HealthEvery)
	defer health.Stop()
	maintenance := time.NewTicker(s.params.MaintenanceEvery)
	defer maintenance.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] supervisor shutdown requested")
			break loop
		case err := <-s.fatal:
			log.Printf("[ERROR] fatal: %v", err)
			runErr = err
			break loop
		case <-s.kick:
			if err := s.Reconcile(wctx); err != nil {
				log.Printf("[WARN] reconcile: %v", err)
			}
		case <-reconcile.C:
			if err := s.Reconcile(wctx); err != nil {
				log.Printf("[WARN] reconcile: %v", err)
			}
		case <-health.C:
			if _, err := s.Monitor(ctx); err != nil {
				log.Printf("[WARN] failure monitor: %v", err)
			}
		case <-maintenance.C:
			s.Maintain(ctx)
		}
	}

	cancelWorkers()
	cancelTasks()
	s.shutdown(&tasks)
	return runErr
}

func (s *Supervisor) shutdown(tasks *errgroup.Group) {
	st := time.Now()
	clean := s.Workers.Stop(s.params.Grace)

	done := make(chan struct{})
	go func() {
		_ = tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(max(s.params.Grace-time.Since(st), time.Second)):
		log.Printf("[WARN] background tasks still running after %v", s.params.Grace)
		clean = false
	}

	if s.Children != nil {
		if n := s.Children.KillAll(); n > 0 {
			log.Printf("[WARN] %d child processes killed", n)
		}
	}
	log.Printf("[INFO] supervisor stopped in %v, clean=%v", time.Since(st).Round(time.Millisecond), clean)
}

// Reconcile starts workers of active channels and stops workers of inactive ones. Workers started
// while Run is active are bound to its lifetime rather than to ctx.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	channels, err := s.Store.GetChannels(ctx, true)
	if err != nil {
		s.checkFatal(err)
		return fmt.Errorf("get active channels: %w", err)
	}
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.ID)
	}
	s.mu.Lock()
	parent := s.wctx
	s.mu.Unlock()
	if parent == nil {
		parent = ctx
	}
	started, stopped := s.Workers.Sync(parent, ids)
	if len(started) > 0 || len(stopped) > 0 {
		log.Printf("[INFO] workers reconciled, started %v, stopped %v", started, stopped)
	}
	return nil
}

// WorkerExited handles a worker stopping on its own. A corrupt store stops the service, other exits
// trigger a reconcile which restarts the worker if its channel is still active.
func (s *Supervisor) WorkerExited(channelID string, err error) {
	if err != nil {
		log.Printf("[WARN] worker of %s exited: %v", channelID, err)
		if s.checkFatal(err) {
			return
		}
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// checkFatal reports and escalates errors the service can't continue with
func (s *Supervisor) checkFatal(err error) bool {
	if !errors.Is(err, domain.ErrStoreCorrupt) {
		return false
	}
	s.once.Do(func() {
		s.fatal <- fmt.Errorf("store is corrupt: %w", err)
	})
	return true
}
