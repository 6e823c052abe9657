// Package tts synthesizes narration audio. The openai speech endpoint is the primary provider,
// a local espeak-ng binary run through the media runner is the fallback.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/sashabaranov/go-openai"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/retry"
)

// Charger accounts provider usage
type Charger interface {
	Charge(ctx context.Context, provider string, units int) (*domain.ProviderQuota, error)
}

// Config of the speech provider
type Config struct {
	APIKey    string
	Endpoint  string // openai-compatible base url, optional
	Model     string
	Speed     float64
	Timeout   time.Duration
	Attempts  int
	RetryBase time.Duration
}

// Synthesizer writes narration to wav files
type Synthesizer struct {
	client   *openai.Client // nil if no key configured, espeak only
	cfg      Config
	classify func(error) domain.ErrorClass
	charger  Charger
	espeak   *Espeak
}

// NewSynthesizer makes a synthesizer. espeak is the fallback and may be nil, charger may be nil.
func NewSynthesizer(cfg Config, classify func(error) domain.ErrorClass, charger Charger, espeak *Espeak) (*Synthesizer, error) {
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	res := &Synthesizer{cfg: cfg, classify: classify, charger: charger, espeak: espeak}
	if cfg.APIKey != "" {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.Endpoint != "" {
			oc.BaseURL = cfg.Endpoint
		}
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		res.client = openai.NewClientWithConfig(oc)
	}
	if res.client == nil && espeak == nil {
		return nil, errors.New("no tts provider configured")
	}
	return res, nil
}

// Synthesize writes narration of text to out (wav) using a voice matching the channel tone.
// Falls back to espeak if the provider fails for good.
func (s *Synthesizer) Synthesize(ctx context.Context, text, tone, out string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Fail(domain.CatValidation, errors.New("empty narration text"))
	}
	if s.client == nil {
		return s.espeak.Synthesize(ctx, text, tone, out)
	}

	policy := retry.Policy{Name: "tts", Attempts: s.cfg.Attempts, Base: s.cfg.RetryBase, Cap: 16 * time.Second,
		Classify: s.classify}
	err := policy.Do(ctx, func(ctx context.Context) error { return s.speech(ctx, text, VoiceForTone(tone), out) })
	if err == nil {
		if s.charger != nil {
			if _, cerr := s.charger.Charge(ctx, domain.ProviderTTS, 1); cerr != nil {
				log.Printf("[WARN] can't charge tts quota: %v", cerr)
			}
		}
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.espeak == nil {
		if cat := s.classOf(err).Category(); cat != "" {
			return domain.Fail(cat, fmt.Errorf("tts: %w", err))
		}
		return fmt.Errorf("tts: %w", err)
	}
	log.Printf("[WARN] tts provider failed (%s), falling back to espeak: %v", s.classOf(err), err)
	return s.espeak.Synthesize(ctx, text, tone, out)
}

func (s *Synthesizer) speech(ctx context.Context, text string, voice openai.SpeechVoice, out string) error {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.Model),
		Input:          text,
		Voice:          voice,
		ResponseFormat: openai.SpeechResponseFormatWav,
		Speed:          s.cfg.Speed,
	})
	if err != nil {
		return fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Close()

	f, err := os.Create(out) //nolint:gosec // path is under the item work dir
	if err != nil {
		return retry.Permanent(fmt.Errorf("can't create %s: %w", out, err))
	}
	n, err := io.Copy(f, resp)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out)
		return fmt.Errorf("can't write speech audio: %w", err)
	}
	if n == 0 {
		_ = os.Remove(out)
		return errors.New("empty speech audio")
	}
	return nil
}

func (s *Synthesizer) classOf(err error) domain.ErrorClass {
	if s.classify == nil {
		return domain.ClassPermanent
	}
	return s.classify(err)
}

// tone keywords mapped to provider voices, first match wins
var toneVoices = []struct {
	keywords []string
	voice    openai.SpeechVoice
}{
	{[]string{"energetic", "excited", "upbeat", "fun"}, openai.VoiceNova},
	{[]string{"calm", "relax", "soothing", "gentle"}, openai.VoiceShimmer},
	{[]string{"serious", "authoritative", "documentary", "dark"}, openai.VoiceOnyx},
	{[]string{"dramatic", "mysterious", "story"}, openai.VoiceFable},
	{[]string{"curious", "educational", "informative"}, openai.VoiceEcho},
}

// VoiceForTone selects the provider voice for a channel tone
func VoiceForTone(tone string) openai.SpeechVoice {
	tone = strings.ToLower(tone)
	for _, tv := range toneVoices {
		for _, k := range tv.keywords {
			if strings.Contains(tone, k) {
				return tv.voice
			}
		}
	}
	return openai.VoiceAlloy
}
