package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/umputun/shortcast/pkg/cache"
	"github.com/umputun/shortcast/pkg/config"
	"github.com/umputun/shortcast/pkg/credential"
	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/events"
	"github.com/umputun/shortcast/pkg/feedback"
	"github.com/umputun/shortcast/pkg/llm"
	"github.com/umputun/shortcast/pkg/media"
	"github.com/umputun/shortcast/pkg/music"
	"github.com/umputun/shortcast/pkg/pipeline"
	"github.com/umputun/shortcast/pkg/preflight"
	"github.com/umputun/shortcast/pkg/publisher"
	"github.com/umputun/shortcast/pkg/quota"
	"github.com/umputun/shortcast/pkg/repository"
	"github.com/umputun/shortcast/pkg/scheduler"
	"github.com/umputun/shortcast/pkg/service"
	"github.com/umputun/shortcast/pkg/stock"
	"github.com/umputun/shortcast/pkg/supervisor"
	"github.com/umputun/shortcast/pkg/topic"
	"github.com/umputun/shortcast/pkg/trend"
	"github.com/umputun/shortcast/pkg/tts"
	"github.com/umputun/shortcast/pkg/youtube"
	"github.com/umputun/shortcast/server"
)

// app holds the wired components of the service
type app struct {
	cfg    *config.Config
	repos  *repository.Repositories
	store  *service.StoreService
	tokens *credential.TokenStore
	creds  *credential.Manager
	cache  cache.Cache
	runner *media.Runner
	sched  *scheduler.Scheduler
	sup    *supervisor.Supervisor
	checks []supervisor.Check
}

// newApp opens the store and wires all components. Missing external binaries are not fatal here,
// pre-flight reports them per slot.
func newApp(ctx context.Context, cfg *config.Config, opts Opts) (res *app, err error) {
	for _, dir := range []string{cfg.Paths.Temp, cfg.Paths.Output} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.repos, err = repository.NewRepositories(ctx, repository.Config{
		DSN:             fmt.Sprintf("file:%s?cache=shared&mode=rwc&_txlock=immediate", cfg.Store.Path),
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	a.store = service.NewStoreService(a.repos)
	rec := events.NewRecorder(a.store, cfg.Secrets()...)

	// resilience substrate
	quotas, err := quota.NewManager(a.store, rec, quota.Params{
		Providers:   providers(cfg.Quotas),
		Classifier:  quota.NewClassifier(quota.DefaultRules()...),
		IntervalMin: cfg.Schedule.IntervalMin,
		IntervalMax: cfg.Schedule.IntervalMax,
	})
	if err != nil {
		return nil, fmt.Errorf("make quota manager: %w", err)
	}
	if err = quotas.Init(ctx); err != nil {
		return nil, fmt.Errorf("init quotas: %w", err)
	}

	if a.tokens, err = credential.NewTokenStore(cfg.Paths.Tokens); err != nil {
		return nil, err
	}
	refresher, err := credential.NewOAuthRefresher([]byte(cfg.Upload.ClientSecret), youtube.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse upload client secret: %w", err)
	}
	a.creds = credential.NewManager(a.store, a.tokens, refresher, rec, credential.Params{})

	if a.cache, err = cache.New(cfg.Cache.RedisURL, cfg.Cache.Prefix); err != nil {
		return nil, fmt.Errorf("make cache: %w", err)
	}

	// providers
	writer, err := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIKey2:     cfg.LLM.APIKey2,
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		OllamaURL:   cfg.LLM.OllamaURL,
		OllamaModel: cfg.LLM.OllamaModel,
		Timeout:     cfg.LLM.Timeout,
	}, quotas.ClassifierFor(domain.ProviderLLM), quotas)
	if err != nil {
		return nil, fmt.Errorf("make llm client: %w", err)
	}

	guard, err := media.NewPathGuard(cfg.Paths.Temp, cfg.Paths.Output, cfg.Paths.Music)
	if err != nil {
		return nil, fmt.Errorf("make path guard: %w", err)
	}
	a.runner = media.NewRunner(guard, cfg.Binaries.Timeout)
	bins, err := media.Locate(cfg.Binaries.Paths)
	if err != nil {
		log.Printf("[WARN] %v, generation is blocked until installed", err)
	}
	var espeak *tts.Espeak
	if bins.Espeak != "" {
		espeak = tts.NewEspeak(a.runner, bins.Espeak, cfg.Binaries.EspeakVoice)
	}
	narrator, err := tts.NewSynthesizer(tts.Config{
		APIKey:   cfg.TTS.APIKey,
		Endpoint: cfg.TTS.Endpoint,
		Model:    cfg.TTS.Model,
		Speed:    cfg.TTS.Speed,
		Timeout:  cfg.TTS.Timeout,
	}, quotas.ClassifierFor(domain.ProviderTTS), quotas, espeak)
	if err != nil {
		return nil, fmt.Errorf("make tts: %w", err)
	}
	clips := stock.NewClient(stock.Config{
		APIKey:  cfg.Stock.APIKey,
		BaseURL: cfg.Stock.BaseURL,
		PerPage: cfg.Stock.PerPage,
		Rate:    cfg.Stock.Rate,
		Timeout: cfg.Stock.Timeout,
	}, quotas.ClassifierFor(domain.ProviderStock), quotas)
	tracks, err := music.Open(cfg.Paths.Music)
	if err != nil {
		return nil, err
	}

	enc := media.DefaultEncodeOptions()
	enc.CRF, enc.Bitrate = cfg.Pipeline.CRF, cfg.Pipeline.Bitrate
	gen := pipeline.New(pipeline.Deps{
		Store:    a.store,
		Writer:   writer,
		Narrator: narrator,
		Clips:    clips,
		Music:    tracks,
		Editor:   media.NewEditor(a.runner, bins, cfg.Binaries.Paths, enc),
		Recorder: rec,
	}, pipeline.Params{
		WorkDir:   cfg.Paths.Temp,
		OutputDir: cfg.Paths.Output,
		Attempts:  cfg.Pipeline.Attempts,
		MusicGain: cfg.Pipeline.MusicGain,
		Grade:     cfg.Pipeline.Grade,
		Zoom:      cfg.Pipeline.Zoom,
		Subtitles: media.DefaultSubtitleStyle(),
		KeepWork:  cfg.Pipeline.KeepWork,
	})

	platform := youtube.NewClient(youtube.Params{
		Endpoint:          cfg.Upload.Endpoint,
		AnalyticsEndpoint: cfg.Upload.AnalyticsEndpoint,
		UploadUnits:       cfg.Upload.Units,
		UploadTimeout:     cfg.Upload.Timeout,
		CategoryID:        cfg.Upload.CategoryID,
	}, quotas)
	pub := publisher.New(a.store, a.creds, quotas, platform, rec,
		publisher.Params{Classify: quotas.ClassifierFor(domain.ProviderUpload)})

	dedup := topic.NewDedup(a.store, cfg.Schedule.DedupWindowDays)
	validator := preflight.NewValidator(a.creds, quotas, dedup, rec, preflight.Params{
		WorkDir:  cfg.Paths.Temp,
		MinFree:  uint64(cfg.Pipeline.MinFreeMB) << 20,
		BinPaths: cfg.Binaries.Paths,
	})
	selector := topic.NewSelector(a.store, writer, validator, rec, topic.Params{
		MaxAttempts:     cfg.Schedule.TopicAttempts,
		ConfidenceFloor: cfg.Schedule.ConfidenceFloor,
	})

	a.sched = scheduler.New(scheduler.Deps{
		Store:     a.store,
		Validator: validator,
		Selector:  selector,
		Generator: gen,
		Publisher: pub,
		Recorder:  rec,
	}, scheduler.Params{
		Lead:         cfg.Schedule.Lead,
		GenAttempts:  cfg.Schedule.GenAttempts,
		FailureLimit: cfg.Schedule.FailureLimit,
		OnWorkerExit: func(channelID string, err error) {
			if a.sup != nil {
				a.sup.WorkerExited(channelID, err)
			}
		},
	})

	// background tasks
	loop := feedback.New(a.store, a.creds, platform, writer, a.cache, rec, feedback.Params{
		Cadence:         time.Duration(cfg.Feedback.CadenceHours) * time.Hour,
		RewriteEvery:    time.Duration(cfg.Feedback.StrategyRewriteHours) * time.Hour,
		MinSample:       cfg.Feedback.MinSample,
		ConfidenceFloor: cfg.Schedule.ConfidenceFloor,
		IntervalMin:     cfg.Schedule.IntervalMin,
		IntervalMax:     cfg.Schedule.IntervalMax,
		Concurrency:     cfg.Feedback.Concurrency,
	})
	tasks := []supervisor.Task{
		{Name: "credentials", Run: a.creds.Run},
		{Name: "quota-reset", Run: func(ctx context.Context) { quotas.Run(ctx, time.Minute) }},
		{Name: "feedback", Run: loop.Run},
	}
	if !cfg.Trends.Disabled {
		var extractor trend.Extractor
		if !cfg.Trends.SkipArticles {
			extractor = trend.NewArticleExtractor(cfg.LLM.Timeout, "", 4000)
		}
		ingester := trend.New(a.store, trend.NewFeedReader(30*time.Second, ""), writer, extractor, rec, trend.Params{
			FeedURL:       cfg.Trends.FeedURL,
			DefaultRegion: cfg.Trends.Region,
			Interval:      cfg.Trends.Interval,
			MinConfidence: cfg.Trends.MinConfidence,
		})
		tasks = append(tasks, supervisor.Task{Name: "trends", Run: ingester.Run})
	}

	a.checks = a.healthChecks()

	a.sup = supervisor.New(supervisor.Deps{
		Store:     a.store,
		Workers:   a.sched,
		Diagnoser: writer,
		Children:  a.runner,
		Recorder:  rec,
		Tasks:     tasks,
	}, supervisor.Params{
		HealthEvery:       time.Duration(cfg.Health.IntervalSec) * time.Second,
		FailureThreshold:  cfg.Health.FailureThreshold,
		FailureWindow:     cfg.Health.FailureWindow,
		DiagnosisEvents:   cfg.Health.DiagnosisEvents,
		EventRetention:    time.Duration(cfg.Health.EventRetentionDays) * 24 * time.Hour,
		ArtifactRetention: cfg.Health.ArtifactRetention,
		WorkDir:           cfg.Paths.Temp,
		OutputDir:         cfg.Paths.Output,
	})

	if cfg.Server.Listen != "" {
		srv := server.New(a.store, a.sup, server.Config{
			Listen:     cfg.Server.Listen,
			Timeout:    cfg.Server.Timeout,
			Version:    revision,
			Debug:      opts.Debug,
			AuthPasswd: cfg.Server.AuthPasswd,
			Checks:     a.checks,
		})
		a.sup.Tasks = append(a.sup.Tasks, supervisor.Task{Name: "api", Run: func(ctx context.Context) {
			if err := srv.Run(ctx); err != nil {
				log.Printf("[ERROR] control api: %v", err)
			}
		}})
	}
	return a, nil
}

// run prepares the store, syncs configured channels and runs the supervisor until ctx is canceled
func (a *app) run(ctx context.Context) error {
	if err := a.sup.Prepare(ctx); err != nil {
		return err
	}
	if err := syncChannels(ctx, a.store, a.creds, a.tokens, a.cfg.Channels); err != nil {
		return err
	}
	return a.sup.Run(ctx)
}

// generateOnce runs the pipeline for a channel right away
func (a *app) generateOnce(ctx context.Context, channelID string, publish bool) (*domain.Item, error) {
	if err := a.sup.Prepare(ctx); err != nil {
		return nil, err
	}
	if err := syncChannels(ctx, a.store, a.creds, a.tokens, a.cfg.Channels); err != nil {
		return nil, err
	}
	item, err := a.sched.GenerateOnce(ctx, channelID, publish)
	if err != nil {
		return nil, fmt.Errorf("generate for %s: %w", channelID, err)
	}
	log.Printf("[INFO] item %s for %s is %s, %s", item.ID, channelID, item.Status, item.ArtifactPath)
	return item, nil
}

// health returns the health report of all components
func (a *app) health(ctx context.Context) (supervisor.Report, error) {
	if err := a.sup.Prepare(ctx); err != nil {
		return supervisor.Report{}, err
	}
	return a.sup.Health(ctx, a.checks...), nil
}

func (a *app) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			log.Printf("[WARN] close cache: %v", err)
		}
	}
	if a.repos != nil {
		if err := a.repos.Close(); err != nil {
			log.Printf("[WARN] close store: %v", err)
		}
	}
}

// healthChecks are probes of external dependencies added to the health report
func (a *app) healthChecks() []supervisor.Check {
	res := []supervisor.Check{
		{Name: "binaries", Run: func(context.Context) error {
			_, err := media.Locate(a.cfg.Binaries.Paths)
			return err
		}},
		{Name: "disk", Run: func(context.Context) error {
			free, err := preflight.FreeSpace(a.cfg.Paths.Temp)
			if err != nil {
				return err
			}
			if need := uint64(a.cfg.Pipeline.MinFreeMB) << 20; free < need {
				return fmt.Errorf("%d MB free on %s, need %d MB", free>>20, a.cfg.Paths.Temp, a.cfg.Pipeline.MinFreeMB)
			}
			return nil
		}},
	}
	if p, ok := a.cache.(interface{ Ping(context.Context) error }); ok {
		res = append(res, supervisor.Check{Name: "cache", Run: p.Ping})
	}
	return res
}

func providers(qs []config.QuotaConfig) []quota.Provider {
	res := make([]quota.Provider, 0, len(qs))
	for _, q := range qs {
		res = append(res, quota.Provider{Name: q.Provider, DailyLimit: q.DailyLimit, Timezone: q.Timezone,
			AutoResume: q.AutoResume})
	}
	return res
}

// ChannelStore is the persistence used to sync configured channels
type ChannelStore interface {
	GetChannel(ctx context.Context, id string) (*domain.Channel, error)
	CreateChannel(ctx context.Context, ch *domain.Channel) error
	UpdateChannel(ctx context.Context, ch *domain.Channel) error
	PauseChannel(ctx context.Context, id string, reason domain.PauseReason) error
	GetCredential(ctx context.Context, id string) (*domain.Credential, error)
}

// TokenRegistrar stores tokens obtained by the external authorization flow
type TokenRegistrar interface {
	Register(ctx context.Context, id, account string, tok *oauth2.Token) error
}

// syncChannels imports configured tokens and creates or updates configured channels. The publish
// interval and the active state of existing channels are owned by the runtime and kept.
func syncChannels(ctx context.Context, store ChannelStore, reg TokenRegistrar, tokens *credential.TokenStore,
	channels []config.ChannelConfig) error {
	for _, cc := range channels {
		if err := importToken(ctx, store, reg, tokens, cc); err != nil {
			return fmt.Errorf("channel %s: %w", cc.ID, err)
		}

		ch := cc.Domain()
		existing, err := store.GetChannel(ctx, cc.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if ch.Active {
				cred, cerr := store.GetCredential(ctx, ch.CredentialID)
				if cerr != nil || cred.State.Terminal() {
					log.Printf("[WARN] channel %s has no usable credential %s, created paused", ch.ID, ch.CredentialID)
					ch.Active, ch.PauseReason = false, domain.PauseAuth
				}
			}
			if err := store.CreateChannel(ctx, ch); err != nil {
				return err
			}
			log.Printf("[INFO] channel %s created, active %v", ch.ID, ch.Active)
		case err != nil:
			return fmt.Errorf("get channel %s: %w", cc.ID, err)
		default:
			if err := store.UpdateChannel(ctx, ch); err != nil {
				return err
			}
			if cc.Disabled && existing.Active {
				if err := store.PauseChannel(ctx, ch.ID, domain.PauseManual); err != nil {
					return err
				}
				log.Printf("[INFO] channel %s disabled by config", ch.ID)
			}
		}
	}
	return nil
}

// importToken registers the configured token file if the credential is unknown or unusable
func importToken(ctx context.Context, store ChannelStore, reg TokenRegistrar, tokens *credential.TokenStore,
	cc config.ChannelConfig) error {
	if cc.TokenFile == "" {
		return nil
	}
	cred, err := store.GetCredential(ctx, cc.Credential)
	if err == nil && !cred.State.Terminal() {
		if _, lerr := tokens.Load(cc.Credential); lerr == nil {
			return nil
		}
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("get credential %s: %w", cc.Credential, err)
	}

	data, err := os.ReadFile(cc.TokenFile) //nolint:gosec // path comes from config
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("parse token file %s: %w", cc.TokenFile, err)
	}
	if tok.RefreshToken == "" && tok.AccessToken == "" {
		return fmt.Errorf("token file %s has no tokens", cc.TokenFile)
	}
	if err := reg.Register(ctx, cc.Credential, cc.Account, &tok); err != nil {
		return fmt.Errorf("register credential %s: %w", cc.Credential, err)
	}
	log.Printf("[INFO] credential %s imported from %s", cc.Credential, cc.TokenFile)
	return nil
}
