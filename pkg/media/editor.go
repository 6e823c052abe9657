package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
)

// output frame geometry
const (
	Width  = 1080
	Height = 1920
	FPS    = 30
)

// EncodeOptions are final video encoder settings
type EncodeOptions struct {
	Codec         string // primary software encoder
	FallbackCodec string // hardware encoder tried if the primary one fails, optional
	CRF           int
	Bitrate       string // max video bitrate, e.g. 4M
	Preset        string
}

// DefaultEncodeOptions is h.264 with crf 23 capped at 4 Mbps
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{Codec: "libx264", CRF: 23, Bitrate: "4M", Preset: "medium"}
}

// SegmentSpec describes rendering of one visual segment
type SegmentSpec struct {
	Clip      string
	Out       string
	Duration  float64 // seconds
	Zoom      bool    // slow zoom-in
	Grade     string  // color grade preset name, optional
	BadgeFile string  // text file with rank badge, optional
	HookFile  string  // text file with hook overlay shown for HookSecs, optional
	HookSecs  float64
}

// color grade presets for the eq filter
var gradePresets = map[string]string{
	"warm":      "eq=contrast=1.05:saturation=1.15:gamma_r=1.05",
	"cool":      "eq=contrast=1.05:saturation=1.05:gamma_b=1.05",
	"vivid":     "eq=contrast=1.1:saturation=1.3",
	"cinematic": "eq=contrast=1.12:saturation=0.9:brightness=-0.02",
}

// Editor composes encoder commands for the pipeline stages. Binaries missing at construction are
// searched again in paths on every use, so tools installed later are picked up without restart.
type Editor struct {
	runner *Runner
	paths  []string
	opts   EncodeOptions

	mu   sync.Mutex
	bins Binaries
}

// NewEditor makes an editor with binaries already located in paths, empty ones are resolved lazily
func NewEditor(runner *Runner, bins Binaries, paths []string, opts EncodeOptions) *Editor {
	if opts.Codec == "" {
		opts.Codec = "libx264"
	}
	if opts.CRF == 0 {
		opts.CRF = 23
	}
	if opts.Preset == "" {
		opts.Preset = "medium"
	}
	return &Editor{runner: runner, bins: bins, paths: paths, opts: opts}
}

// Probe measures a media file
func (e *Editor) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	return Probe(ctx, e.runner, e.binaries().FFprobe, path)
}

// binaries returns resolved tools, a missing encoder or probe is searched for again
func (e *Editor) binaries() Binaries {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range []struct {
		name string
		path *string
	}{{FFmpeg, &e.bins.FFmpeg}, {FFprobe, &e.bins.FFprobe}} {
		if *b.path != "" {
			continue
		}
		if p, err := FindBinary(b.name, e.paths); err == nil {
			log.Printf("[INFO] %s found at %s", b.name, p)
			*b.path = p
		}
	}
	return e.bins
}

// ConcatAudio joins audio files with the concat demuxer into mono 44.1kHz pcm
func (e *Editor) ConcatAudio(ctx context.Context, inputs []string, out string) error {
	list, err := e.writeConcatList(inputs, out)
	if err != nil {
		return err
	}
	cmd := e.ffmpeg().Flag("-f", "concat").Flag("-safe", "0").Input(list).
		Flag("-c:a", "pcm_s16le").Flag("-ar", "44100").Flag("-ac", "1").File("", out)
	_, err = e.runner.Run(ctx, cmd)
	return err
}

// ConcatVideo joins rendered segments with the concat demuxer without re-encoding
func (e *Editor) ConcatVideo(ctx context.Context, inputs []string, out string) error {
	list, err := e.writeConcatList(inputs, out)
	if err != nil {
		return err
	}
	cmd := e.ffmpeg().Flag("-f", "concat").Flag("-safe", "0").Input(list).Flag("-c", "copy").File("", out)
	_, err = e.runner.Run(ctx, cmd)
	return err
}

// FitAudio pads narration with silence or trims it to exactly target seconds
func (e *Editor) FitAudio(ctx context.Context, in, out string, current, target float64) error {
	cmd := e.ffmpeg().Input(in)
	if current < target {
		cmd = cmd.Flag("-af", "apad=pad_dur="+secs(target-current))
	}
	cmd = cmd.Flag("-t", secs(target)).Flag("-c:a", "pcm_s16le").Flag("-ar", "44100").Flag("-ac", "1").File("", out)
	_, err := e.runner.Run(ctx, cmd)
	return err
}

// PrepareMusic loops or trims a track to target seconds with fade in and out
func (e *Editor) PrepareMusic(ctx context.Context, track, out string, target, fade float64) error {
	if fade*2 > target {
		fade = target / 2
	}
	af := fmt.Sprintf("afade=t=in:st=0:d=%s,afade=t=out:st=%s:d=%s", secs(fade), secs(target-fade), secs(fade))
	cmd := e.ffmpeg().Flag("-stream_loop", "-1").Input(track).Flag("-t", secs(target)).Flag("-af", af).
		Flag("-c:a", "pcm_s16le").Flag("-ar", "44100").Flag("-ac", "2").File("", out)
	_, err := e.runner.Run(ctx, cmd)
	return err
}

// MixMusic mixes the music bed under narration at the given linear gain, output length is target
func (e *Editor) MixMusic(ctx context.Context, voice, music, out string, gain, target float64) error {
	fc := fmt.Sprintf("[1:a]volume=%s[m];[0:a][m]amix=inputs=2:duration=first:dropout_transition=0:normalize=0[a]",
		strconv.FormatFloat(gain, 'f', 3, 64))
	cmd := e.ffmpeg().Input(voice).Input(music).Flag("-filter_complex", fc).Flag("-map", "[a]").
		Flag("-t", secs(target)).Flag("-c:a", "pcm_s16le").Flag("-ar", "44100").Flag("-ac", "2").File("", out)
	_, err := e.runner.Run(ctx, cmd)
	return err
}

// RenderSegment scales and crops a clip to the vertical frame, loops it to fill the duration and
// applies the optional decorations
func (e *Editor) RenderSegment(ctx context.Context, s SegmentSpec) error {
	filters := []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", Width, Height),
		fmt.Sprintf("crop=%d:%d", Width, Height),
		"setsar=1",
		fmt.Sprintf("fps=%d", FPS),
	}
	if s.Zoom {
		frames := int(math.Ceil(s.Duration * FPS))
		filters = append(filters, fmt.Sprintf("zoompan=z='min(zoom+0.0008,1.15)':d=1:s=%dx%d:fps=%d:"+
			"x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)'", Width, Height, FPS), fmt.Sprintf("trim=end_frame=%d", frames))
	}
	if g, ok := gradePresets[s.Grade]; ok {
		filters = append(filters, g)
	}
	if s.BadgeFile != "" {
		f, err := e.textFilter(s.BadgeFile, "fontsize=140:fontcolor=white:box=1:boxcolor=black@0.55:boxborderw=30:x=60:y=160")
		if err != nil {
			return err
		}
		filters = append(filters, f)
	}
	if s.HookFile != "" && s.HookSecs > 0 {
		f, err := e.textFilter(s.HookFile, fmt.Sprintf("fontsize=76:fontcolor=white:box=1:boxcolor=black@0.5:boxborderw=24:"+
			"x=(w-text_w)/2:y=h*0.18:enable='lt(t,%s)'", secs(s.HookSecs)))
		if err != nil {
			return err
		}
		filters = append(filters, f)
	}

	cmd := e.ffmpeg().Flag("-stream_loop", "-1").Input(s.Clip).Flag("-t", secs(s.Duration)).Flag("-an").
		Flag("-vf", strings.Join(filters, ",")).Flag("-c:v", "libx264").Flag("-preset", "veryfast").
		Flag("-crf", "20").Flag("-pix_fmt", "yuv420p").Flag("-r", strconv.Itoa(FPS)).File("", s.Out)
	_, err := e.runner.Run(ctx, cmd)
	return err
}

// BurnSubtitles renders the subtitle script into the video with the final encoder settings.
// The fallback encoder is tried if the primary one fails.
func (e *Editor) BurnSubtitles(ctx context.Context, video, subs, out string) error {
	p, err := e.runner.Guard().Check(subs)
	if err != nil {
		return err
	}
	fp, err := quoteFilterPath(p)
	if err != nil {
		return err
	}
	vf := "ass=filename=" + fp
	run := func(codec string) error {
		cmd := e.ffmpeg().Input(video).Flag("-vf", vf).Flag("-an").Flag("-c:v", codec)
		if codec == "libx264" {
			cmd = cmd.Flag("-profile:v", "high").Flag("-preset", e.opts.Preset).Flag("-crf", strconv.Itoa(e.opts.CRF))
		}
		if e.opts.Bitrate != "" {
			cmd = cmd.Flag("-maxrate", e.opts.Bitrate).Flag("-bufsize", doubleRate(e.opts.Bitrate))
			if codec != "libx264" {
				cmd = cmd.Flag("-b:v", e.opts.Bitrate)
			}
		}
		cmd = cmd.Flag("-pix_fmt", "yuv420p").File("", out)
		_, err := e.runner.Run(ctx, cmd)
		return err
	}
	err = run(e.opts.Codec)
	if err == nil || e.opts.FallbackCodec == "" || ctx.Err() != nil || domain.CategoryOf(err) != domain.CatEncoder {
		return err
	}
	log.Printf("[WARN] encoder %s failed, trying %s: %v", e.opts.Codec, e.opts.FallbackCodec, err)
	return run(e.opts.FallbackCodec)
}

// Mux combines the final video with the audio track, video is copied, audio encoded to aac
func (e *Editor) Mux(ctx context.Context, video, audio, out string, target float64) error {
	cmd := e.ffmpeg().Input(video).Input(audio).Flag("-map", "0:v:0").Flag("-map", "1:a:0").
		Flag("-c:v", "copy").Flag("-c:a", "aac").Flag("-b:a", "192k").Flag("-ar", "44100").
		Flag("-t", secs(target)).Flag("-movflags", "+faststart").File("", out)
	_, err := e.runner.Run(ctx, cmd)
	return err
}

func (e *Editor) ffmpeg() *Command {
	return e.runner.Command(e.binaries().FFmpeg, FFmpegFlags).Flag("-y").Flag("-hide_banner").Flag("-nostdin").
		Flag("-loglevel", "error")
}

// textFilter makes a drawtext filter reading its text from a guarded file, so no text escaping is needed
func (e *Editor) textFilter(file, opts string) (string, error) {
	p, err := e.runner.Guard().Check(file)
	if err != nil {
		return "", err
	}
	fp, err := quoteFilterPath(p)
	if err != nil {
		return "", err
	}
	return "drawtext=textfile=" + fp + ":" + opts, nil
}

// writeConcatList writes the concat demuxer list next to out
func (e *Editor) writeConcatList(inputs []string, out string) (string, error) {
	if len(inputs) == 0 {
		return "", errors.New("nothing to concatenate")
	}
	var sb strings.Builder
	for _, in := range inputs {
		p, err := e.runner.Guard().Check(in)
		if err != nil {
			return "", err
		}
		sb.WriteString("file '" + strings.ReplaceAll(p, "'", `'\''`) + "'\n")
	}
	list := strings.TrimSuffix(out, filepath.Ext(out)) + ".concat.txt"
	if _, err := e.runner.Guard().Check(list); err != nil {
		return "", err
	}
	if err := os.WriteFile(list, []byte(sb.String()), 0o600); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	return list, nil
}

// quoteFilterPath quotes a path for use as a filter option value
func quoteFilterPath(p string) (string, error) {
	if strings.ContainsAny(p, `'\`) {
		return "", domain.Fail(domain.CatValidation, fmt.Errorf("unsupported characters in path %s", p))
	}
	return "'" + p + "'", nil
}

func secs(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// doubleRate returns twice the bitrate for the vbv buffer, "4M" -> "8M"
func doubleRate(rate string) string {
	if rate == "" {
		return ""
	}
	unit := rate[len(rate)-1:]
	num := rate
	if unit == "k" || unit == "K" || unit == "M" || unit == "m" {
		num = rate[:len(rate)-1]
	} else {
		unit = ""
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return rate
	}
	return strconv.FormatFloat(v*2, 'f', -1, 64) + unit
}
