package tts

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/media"
)

// Espeak synthesizes speech with the local espeak-ng binary
type Espeak struct {
	runner *media.Runner
	bin    string
	voice  string
}

// NewEspeak makes an espeak synthesizer for a located binary, voice defaults to en-us
func NewEspeak(runner *media.Runner, bin, voice string) *Espeak {
	if voice == "" {
		voice = "en-us"
	}
	return &Espeak{runner: runner, bin: bin, voice: voice}
}

// Synthesize writes text as wav to out, speech rate and pitch depend on tone
func (e *Espeak) Synthesize(ctx context.Context, text, tone, out string) error {
	rate, pitch := prosody(tone)
	// a leading dash would be read as an option
	text = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(text), "-"))
	cmd := e.runner.Command(e.bin, media.EspeakFlags).Flag("-v", e.voice).
		Flag("-s", strconv.Itoa(rate)).Flag("-p", strconv.Itoa(pitch)).File("-w", out).Text(text)
	if _, err := e.runner.Run(ctx, cmd); err != nil {
		if domain.CategoryOf(err) != "" {
			return err
		}
		return fmt.Errorf("espeak: %w", err)
	}
	return nil
}

// prosody returns words per minute and pitch for a tone
func prosody(tone string) (rate, pitch int) {
	tone = strings.ToLower(tone)
	switch {
	case strings.Contains(tone, "energetic"), strings.Contains(tone, "excited"), strings.Contains(tone, "upbeat"):
		return 180, 60
	case strings.Contains(tone, "calm"), strings.Contains(tone, "soothing"), strings.Contains(tone, "gentle"):
		return 140, 45
	case strings.Contains(tone, "serious"), strings.Contains(tone, "dark"):
		return 150, 35
	}
	return 160, 50
}
