// Package pipeline turns a planned item into a ready video artifact. Stages run sequentially:
// script, narration, clips, music, visuals, subtitles, audio reconciliation and mux. Each stage has
// its own retry budget, a stage failing after it fails the item with the classified cause.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/llm"
	"github.com/umputun/shortcast/pkg/media"
	"github.com/umputun/shortcast/pkg/music"
	"github.com/umputun/shortcast/pkg/repository"
	"github.com/umputun/shortcast/pkg/retry"
	"github.com/umputun/shortcast/pkg/stock"
)

// MaxDrift is the tolerated difference of audio and video durations, seconds
const MaxDrift = 0.1

// Store is the subset of the store used by the pipeline
type Store interface {
	StartGeneration(ctx context.Context, id string) error
	MarkItemReady(ctx context.Context, id string, upd repository.ReadyUpdate) error
	MarkItemFailed(ctx context.Context, id string, cause domain.Category, msg string) error
	RollbackItem(ctx context.Context, id string) error
	SetTrendFlag(ctx context.Context, id int64, flag domain.TrendFlag) error
}

// ScriptWriter synthesizes scripts and alternative clip queries
type ScriptWriter interface {
	Script(ctx context.Context, req llm.ScriptRequest) (*domain.Script, error)
	AltQueries(ctx context.Context, query, narration string, n int) ([]string, error)
}

// Narrator synthesizes narration audio
type Narrator interface {
	Synthesize(ctx context.Context, text, tone, out string) error
}

// ClipSource finds and downloads stock clips
type ClipSource interface {
	Search(ctx context.Context, q stock.Query) ([]stock.Clip, error)
	Download(ctx context.Context, clip stock.Clip, out string) error
}

// MusicSource picks a background track by mood
type MusicSource interface {
	Pick(moods ...string) (music.Track, bool)
}

// Editor runs encoder and probe commands
type Editor interface {
	Probe(ctx context.Context, path string) (*media.MediaInfo, error)
	ConcatAudio(ctx context.Context, inputs []string, out string) error
	ConcatVideo(ctx context.Context, inputs []string, out string) error
	FitAudio(ctx context.Context, in, out string, current, target float64) error
	PrepareMusic(ctx context.Context, track, out string, target, fade float64) error
	MixMusic(ctx context.Context, voice, music, out string, gain, target float64) error
	RenderSegment(ctx context.Context, s media.SegmentSpec) error
	BurnSubtitles(ctx context.Context, video, subs, out string) error
	Mux(ctx context.Context, video, audio, out string, target float64) error
}

// Recorder records events
type Recorder interface {
	Record(ctx context.Context, channelID string, sev domain.Severity, cat domain.Category, msg string, payload any)
}

// Params of the pipeline
type Params struct {
	WorkDir       string // per-item work directories are made here
	OutputDir     string // final artifacts
	Attempts      int    // per stage, default 3
	RetryBase     time.Duration
	MusicGain     float64 // linear gain of the music bed, default 0.13
	MusicFade     float64 // seconds, default 3
	MaxAltQueries int     // llm generated clip queries per segment, default 20
	HookSecs      float64 // hook overlay duration, default 3
	Grade         string  // color grade preset, optional
	Zoom          bool
	Subtitles     media.SubtitleStyle
	KeepWork      bool // keep work directories, debugging only
}

// Deps are the collaborators of the pipeline, Music is optional
type Deps struct {
	Store    Store
	Writer   ScriptWriter
	Narrator Narrator
	Clips    ClipSource
	Music    MusicSource
	Editor   Editor
	Recorder Recorder
}

// Request is a single generation job
type Request struct {
	Channel      *domain.Channel
	Item         *domain.Item // planned item, Topic and Format are set
	Plan         *domain.TrendPlan
	HookTemplate string
	Hints        *llm.Hints
}

// Result of a successful generation
type Result struct {
	ArtifactPath  string
	Script        *domain.Script
	Duration      float64 // visual track, seconds
	VoiceDuration float64 // measured narration before fitting
	Drift         float64
}

// Pipeline generates video artifacts
type Pipeline struct {
	Deps
	params Params
}

// New makes a pipeline
func New(deps Deps, params Params) *Pipeline {
	if params.Attempts <= 0 {
		params.Attempts = 3
	}
	if params.RetryBase <= 0 {
		params.RetryBase = time.Second
	}
	if params.MusicGain <= 0 {
		params.MusicGain = 0.13
	}
	if params.MusicFade <= 0 {
		params.MusicFade = 3
	}
	if params.MaxAltQueries <= 0 {
		params.MaxAltQueries = 20
	}
	if params.HookSecs <= 0 {
		params.HookSecs = 3
	}
	if params.Subtitles.FontSize == 0 {
		params.Subtitles = media.DefaultSubtitleStyle()
	}
	return &Pipeline{Deps: deps, params: params}
}

// Generate runs all stages for a planned item and marks it ready. A failed item is marked failed
// with the classified cause, a canceled one is rolled back to planned.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Result, error) {
	item := req.Item
	if err := p.Store.StartGeneration(ctx, item.ID); err != nil {
		return nil, fmt.Errorf("start generation of %s: %w", item.ID, err)
	}
	work := filepath.Join(p.params.WorkDir, item.ID)
	if err := os.MkdirAll(work, 0o750); err != nil {
		p.fail(ctx, req, fmt.Errorf("make work dir: %w", err))
		return nil, fmt.Errorf("make work dir %s: %w", work, err)
	}
	if !p.params.KeepWork {
		defer func() {
			if err := os.RemoveAll(work); err != nil {
				log.Printf("[WARN] can't remove work dir %s: %v", work, err)
			}
		}()
	}

	st := time.Now()
	res, err := p.run(ctx, req, work)
	if err != nil {
		if ctx.Err() != nil {
			if rerr := p.Store.RollbackItem(context.WithoutCancel(ctx), item.ID); rerr != nil {
				log.Printf("[WARN] can't roll back item %s: %v", item.ID, rerr)
			}
			return nil, ctx.Err()
		}
		p.fail(ctx, req, err)
		return nil, err
	}

	if err := p.Store.MarkItemReady(ctx, item.ID, repository.ReadyUpdate{Title: res.Script.Title,
		Description: Description(res.Script, item.Topic), Tags: Tags(item.Topic), ArtifactPath: res.ArtifactPath}); err != nil {
		return nil, fmt.Errorf("mark item %s ready: %w", item.ID, err)
	}
	if item.TrendID != nil {
		if err := p.Store.SetTrendFlag(ctx, *item.TrendID, domain.TrendGenerated); err != nil {
			log.Printf("[WARN] can't mark trend %d generated: %v", *item.TrendID, err)
		}
	}
	p.Recorder.Record(ctx, req.Channel.ID, domain.SeverityInfo, domain.CatGeneration,
		fmt.Sprintf("item %s ready: %q, %.1fs", item.ID, res.Script.Title, res.Duration),
		map[string]any{"item_id": item.ID, "duration": res.Duration, "vo_duration": res.VoiceDuration,
			"drift": res.Drift, "segments": len(res.Script.Segments), "took": time.Since(st).String()})
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, work string) (*Result, error) {
	sc, err := p.scriptStage(ctx, req)
	if err != nil {
		return nil, err
	}
	target := float64(sc.TotalDuration())
	tone := req.Channel.Descriptor.Tone

	vo, err := p.narrationStage(ctx, sc, tone, work)
	if err != nil {
		return nil, err
	}
	clips, err := p.clipStage(ctx, sc, work)
	if err != nil {
		return nil, err
	}
	bed := p.musicStage(ctx, req, target, work)

	visual, err := p.visualStage(ctx, req, sc, clips, work)
	if err != nil {
		return nil, err
	}
	video, err := p.subtitleStage(ctx, vo, visual, target, work)
	if err != nil {
		return nil, err
	}
	audio, err := p.audioStage(ctx, vo, bed, target, work)
	if err != nil {
		return nil, err
	}
	final, drift, err := p.muxStage(ctx, video, audio, target, work)
	if err != nil {
		return nil, err
	}

	artifact, err := p.publishArtifact(final, req.Item.ID)
	if err != nil {
		return nil, err
	}
	return &Result{ArtifactPath: artifact, Script: sc, Duration: target, VoiceDuration: vo.duration, Drift: drift}, nil
}

// fail marks the item failed and records the failure
func (p *Pipeline) fail(ctx context.Context, req Request, err error) {
	cause := domain.CategoryOf(err)
	if cause == "" {
		cause = domain.CatEncoder
	}
	if merr := p.Store.MarkItemFailed(ctx, req.Item.ID, cause, err.Error()); merr != nil {
		log.Printf("[WARN] can't mark item %s failed: %v", req.Item.ID, merr)
	}
	p.Recorder.Record(ctx, req.Channel.ID, domain.SeverityError, cause,
		fmt.Sprintf("generation of %q failed: %v", req.Item.Topic, err),
		map[string]any{"item_id": req.Item.ID, "topic": req.Item.Topic, "format": req.Item.Format})
}

// policy makes the retry policy of a stage
func (p *Pipeline) policy(name string) retry.Policy {
	return retry.Policy{Name: name, Attempts: p.params.Attempts, Base: p.params.RetryBase, Cap: 16 * time.Second,
		Classify: stageClass}
}

// stageClass decides stage retries by failure category. Quota and auth are escalated,
// content failures with own budgets are final.
func stageClass(err error) domain.ErrorClass {
	switch domain.CategoryOf(err) {
	case domain.CatQuota:
		return domain.ClassQuota
	case domain.CatAuth:
		return domain.ClassAuth
	case domain.CatNoSuitableClip, domain.CatAVDrift, domain.CatValidation, domain.CatDependencyMissing,
		domain.CatStore, domain.CatDuplicateExhausted, domain.CatUploadPermanent:
		return domain.ClassPermanent
	}
	return domain.ClassTransient
}

// publishArtifact moves the final file into the output directory
func (p *Pipeline) publishArtifact(path, itemID string) (string, error) {
	if err := os.MkdirAll(p.params.OutputDir, 0o750); err != nil {
		return "", fmt.Errorf("make output dir: %w", err)
	}
	dst := filepath.Join(p.params.OutputDir, itemID+".mp4")
	if err := os.Rename(path, dst); err == nil {
		return dst, nil
	}
	// rename fails across volumes
	if err := copyFile(path, dst); err != nil {
		return "", fmt.Errorf("copy artifact to %s: %w", dst, err)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // work dir path
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst) //nolint:gosec // output dir path
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

// cached reports whether a previous attempt already produced a non-empty file
func cached(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir() && fi.Size() > 0
}

func seconds(d float64) time.Duration {
	return time.Duration(math.Round(d * float64(time.Second)))
}

var errNoAudio = errors.New("no audio stream")
