package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/media"
	"github.com/umputun/shortcast/pkg/music"
	"github.com/umputun/shortcast/pkg/stock"
)

// narration is the concatenated voice track with per-segment measured parts
type narration struct {
	path     string
	parts    []media.NarrationPart
	duration float64
}

// narrationStage synthesizes every segment, concatenates the parts and measures the result.
// Parts produced by a failed attempt are reused by the next one.
func (p *Pipeline) narrationStage(ctx context.Context, sc *domain.Script, tone, work string) (*narration, error) {
	res := &narration{path: filepath.Join(work, "voice.wav")}
	err := p.policy("narration").Do(ctx, func(ctx context.Context) error {
		files := make([]string, 0, len(sc.Segments))
		parts := make([]media.NarrationPart, 0, len(sc.Segments))
		for i, seg := range sc.Segments {
			out := filepath.Join(work, fmt.Sprintf("vo_%02d.wav", i))
			if !cached(out) {
				if err := p.Narrator.Synthesize(ctx, seg.Narration, tone, out); err != nil {
					return fmt.Errorf("segment %d narration: %w", i+1, err)
				}
			}
			info, err := p.Editor.Probe(ctx, out)
			if err != nil {
				_ = os.Remove(out) // unreadable part is synthesized again
				return fmt.Errorf("probe segment %d narration: %w", i+1, err)
			}
			files = append(files, out)
			parts = append(parts, media.NarrationPart{Text: seg.Narration, Duration: seconds(info.AudioDuration())})
		}
		if err := p.Editor.ConcatAudio(ctx, files, res.path); err != nil {
			return fmt.Errorf("concat narration: %w", err)
		}
		info, err := p.Editor.Probe(ctx, res.path)
		if err != nil {
			return fmt.Errorf("probe narration: %w", err)
		}
		res.parts, res.duration = parts, info.AudioDuration()
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[DEBUG] narration %s, vo_duration %.3fs for %ds script", res.path, res.duration, sc.TotalDuration())
	return res, nil
}

// clipStage downloads one clip per segment, a clip is never used twice in a video
func (p *Pipeline) clipStage(ctx context.Context, sc *domain.Script, work string) ([]string, error) {
	res := make([]string, len(sc.Segments))
	used := map[string]bool{}
	for i, seg := range sc.Segments {
		out := filepath.Join(work, fmt.Sprintf("clip_%02d.mp4", i))
		err := p.policy("clips").Do(ctx, func(ctx context.Context) error {
			if cached(out) {
				return nil
			}
			clip, err := p.findClip(ctx, seg, used)
			if err != nil {
				return err
			}
			if err := p.Clips.Download(ctx, clip, out); err != nil {
				return fmt.Errorf("download clip %s: %w", clip.ID, err)
			}
			used[clip.ID] = true
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("segment %d clip: %w", i+1, err)
		}
		res[i] = out
	}
	return res, nil
}

// findClip tries the primary query, the alternates and then llm generated queries
func (p *Pipeline) findClip(ctx context.Context, seg domain.Segment, used map[string]bool) (stock.Clip, error) {
	tried := map[string]bool{}
	try := func(q string) (stock.Clip, bool, error) {
		q = strings.TrimSpace(q)
		if q == "" || tried[strings.ToLower(q)] {
			return stock.Clip{}, false, nil
		}
		tried[strings.ToLower(q)] = true
		clips, err := p.Clips.Search(ctx, stock.Query{Terms: q, Portrait: true, MinHeight: 360})
		if err != nil {
			switch domain.CategoryOf(err) {
			case domain.CatRateLimited, domain.CatTransient:
				log.Printf("[DEBUG] clip search %q failed, trying next query: %v", q, err)
				return stock.Clip{}, false, nil
			}
			return stock.Clip{}, false, err
		}
		var fresh []stock.Clip
		for _, c := range clips {
			if !used[c.ID] {
				fresh = append(fresh, c)
			}
		}
		clip, ok := stock.Best(fresh, float64(seg.Duration))
		return clip, ok, nil
	}

	for _, q := range append([]string{seg.Query}, seg.Alternates...) {
		clip, ok, err := try(q)
		if err != nil {
			return stock.Clip{}, err
		}
		if ok {
			return clip, nil
		}
	}

	alts, err := p.Writer.AltQueries(ctx, seg.Query, seg.Narration, p.params.MaxAltQueries)
	if err != nil {
		if cat := domain.CategoryOf(err); cat == domain.CatQuota || cat == domain.CatAuth {
			return stock.Clip{}, err
		}
		log.Printf("[WARN] can't get alternative queries for %q: %v", seg.Query, err)
	}
	for i, q := range alts {
		if i >= p.params.MaxAltQueries {
			break
		}
		clip, ok, err := try(q)
		if err != nil {
			return stock.Clip{}, err
		}
		if ok {
			log.Printf("[INFO] clip for %q found with alternative query %q", seg.Query, q)
			return clip, nil
		}
	}
	return stock.Clip{}, domain.Fail(domain.CatNoSuitableClip, fmt.Errorf("%q and %d other queries: %w",
		seg.Query, len(tried)-1, domain.ErrNoSuitableClip))
}

// musicStage prepares the optional music bed, returns empty path if there is none
func (p *Pipeline) musicStage(ctx context.Context, req Request, target float64, work string) string {
	if p.Music == nil {
		return ""
	}
	track, ok := p.Music.Pick(music.MoodsFor(req.Item.Format, req.Channel.Descriptor.Tone)...)
	if !ok {
		log.Printf("[DEBUG] no music track for %s", req.Channel.ID)
		return ""
	}
	out := filepath.Join(work, "music.wav")
	err := p.policy("music").Do(ctx, func(ctx context.Context) error {
		return p.Editor.PrepareMusic(ctx, track.Path, out, target, p.params.MusicFade)
	})
	if err != nil {
		log.Printf("[WARN] music bed skipped, can't prepare %s: %v", track.Path, err)
		return ""
	}
	return out
}

// visualStage renders every segment to the vertical frame and concatenates them
func (p *Pipeline) visualStage(ctx context.Context, req Request, sc *domain.Script, clips []string, work string) (string, error) {
	hook := strings.TrimSpace(sc.Hook)
	if hook == "" {
		hook = strings.TrimSpace(req.HookTemplate)
	}

	segs := make([]string, len(sc.Segments))
	for i, seg := range sc.Segments {
		spec := media.SegmentSpec{Clip: clips[i], Out: filepath.Join(work, fmt.Sprintf("seg_%02d.mp4", i)),
			Duration: float64(seg.Duration), Zoom: p.params.Zoom, Grade: p.params.Grade}
		if req.Item.Format == domain.FormatRanked && seg.Rank > 0 {
			f, err := writeText(work, fmt.Sprintf("badge_%02d.txt", i), fmt.Sprintf("#%d", seg.Rank))
			if err != nil {
				return "", err
			}
			spec.BadgeFile = f
		}
		if i == 0 && hook != "" && req.Item.Format != domain.FormatRanked {
			f, err := writeText(work, "hook.txt", hook)
			if err != nil {
				return "", err
			}
			spec.HookFile, spec.HookSecs = f, math.Min(p.params.HookSecs, float64(seg.Duration))
		}
		err := p.policy("visual").Do(ctx, func(ctx context.Context) error {
			if cached(spec.Out) {
				return nil
			}
			return p.Editor.RenderSegment(ctx, spec)
		})
		if err != nil {
			return "", fmt.Errorf("render segment %d: %w", i+1, err)
		}
		segs[i] = spec.Out
	}

	out := filepath.Join(work, "visual.mp4")
	err := p.policy("visual").Do(ctx, func(ctx context.Context) error { return p.Editor.ConcatVideo(ctx, segs, out) })
	if err != nil {
		return "", fmt.Errorf("concat segments: %w", err)
	}
	return out, nil
}

// subtitleStage writes cues timed by the measured narration and burns them into the video
func (p *Pipeline) subtitleStage(ctx context.Context, vo *narration, visual string, target float64, work string) (string, error) {
	cues := media.BuildCues(vo.parts, p.params.Subtitles.MaxWords, seconds(target))
	var buf bytes.Buffer
	if err := media.WriteASS(&buf, cues, p.params.Subtitles); err != nil {
		return "", fmt.Errorf("make subtitles: %w", err)
	}
	subs := filepath.Join(work, "subs.ass")
	if err := os.WriteFile(subs, buf.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("write subtitles: %w", err)
	}
	out := filepath.Join(work, "video.mp4")
	err := p.policy("subtitles").Do(ctx, func(ctx context.Context) error {
		return p.Editor.BurnSubtitles(ctx, visual, subs, out)
	})
	if err != nil {
		return "", fmt.Errorf("burn subtitles: %w", err)
	}
	return out, nil
}

// audioStage pads or trims the narration to the visual length, mixes the music bed under it and
// verifies the result. One correction pass is made before giving up with av-drift.
func (p *Pipeline) audioStage(ctx context.Context, vo *narration, bed string, target float64, work string) (string, error) {
	var res string
	err := p.policy("audio").Do(ctx, func(ctx context.Context) error {
		fitted := filepath.Join(work, "voice_fit.wav")
		if err := p.Editor.FitAudio(ctx, vo.path, fitted, vo.duration, target); err != nil {
			return fmt.Errorf("fit narration: %w", err)
		}
		res = fitted
		if bed != "" {
			mixed := filepath.Join(work, "audio.wav")
			if err := p.Editor.MixMusic(ctx, fitted, bed, mixed, p.params.MusicGain, target); err != nil {
				return fmt.Errorf("mix music: %w", err)
			}
			res = mixed
		}

		got, err := p.audioDuration(ctx, res)
		if err != nil {
			return err
		}
		if math.Abs(got-target) <= MaxDrift {
			return nil
		}
		log.Printf("[WARN] audio is %.3fs, visual %.3fs, correcting", got, target)
		fixed := filepath.Join(work, "audio_fixed.wav")
		if err := p.Editor.FitAudio(ctx, res, fixed, got, target); err != nil {
			return fmt.Errorf("correct audio length: %w", err)
		}
		if got, err = p.audioDuration(ctx, fixed); err != nil {
			return err
		}
		if math.Abs(got-target) > MaxDrift {
			return domain.Fail(domain.CatAVDrift, fmt.Errorf("audio %.3fs, video %.3fs: %w", got, target,
				domain.ErrAVDriftExceeded))
		}
		res = fixed
		return nil
	})
	if err != nil {
		return "", err
	}
	return res, nil
}

func (p *Pipeline) audioDuration(ctx context.Context, path string) (float64, error) {
	info, err := p.Editor.Probe(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", filepath.Base(path), err)
	}
	if info.Audio == nil {
		return 0, domain.Fail(domain.CatEncoder, fmt.Errorf("%s: %w", filepath.Base(path), errNoAudio))
	}
	return info.AudioDuration(), nil
}

// muxStage combines video and audio and verifies the container has both streams aligned
func (p *Pipeline) muxStage(ctx context.Context, video, audio string, target float64, work string) (string, float64, error) {
	out := filepath.Join(work, "final.mp4")
	var drift float64
	err := p.policy("mux").Do(ctx, func(ctx context.Context) error {
		if err := p.Editor.Mux(ctx, video, audio, out, target); err != nil {
			return fmt.Errorf("mux: %w", err)
		}
		info, err := p.Editor.Probe(ctx, out)
		if err != nil {
			return fmt.Errorf("probe artifact: %w", err)
		}
		if info.Audio == nil {
			return domain.Fail(domain.CatEncoder, fmt.Errorf("artifact: %w", errNoAudio))
		}
		if info.Video == nil || info.Video.Width != media.Width || info.Video.Height != media.Height {
			return domain.Fail(domain.CatEncoder, errors.New("artifact video stream is not 1080x1920"))
		}
		drift = info.Drift()
		if drift > MaxDrift {
			return domain.Fail(domain.CatAVDrift, fmt.Errorf("artifact audio %.3fs, video %.3fs: %w",
				info.AudioDuration(), info.VideoDuration(), domain.ErrAVDriftExceeded))
		}
		if d := info.VideoDuration(); d < MinDuration || d > MaxDuration {
			return domain.Fail(domain.CatValidation, fmt.Errorf("artifact duration %.1fs out of [%d, %d]", d,
				MinDuration, MaxDuration))
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return out, drift, nil
}

func writeText(dir, name, text string) (string, error) {
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(text), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return p, nil
}
