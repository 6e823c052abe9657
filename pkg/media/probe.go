package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/umputun/shortcast/pkg/domain"
)

// StreamInfo describes one stream of a media file
type StreamInfo struct {
	Codec    string
	Width    int
	Height   int
	Duration float64 // seconds
}

// MediaInfo is the probe result of a media file
type MediaInfo struct {
	Duration float64 // container duration, seconds
	Video    *StreamInfo
	Audio    *StreamInfo
}

// AudioDuration returns the audio stream duration, falling back to the container duration
func (m *MediaInfo) AudioDuration() float64 {
	if m.Audio != nil && m.Audio.Duration > 0 {
		return m.Audio.Duration
	}
	return m.Duration
}

// VideoDuration returns the video stream duration, falling back to the container duration
func (m *MediaInfo) VideoDuration() float64 {
	if m.Video != nil && m.Video.Duration > 0 {
		return m.Video.Duration
	}
	return m.Duration
}

// Drift returns absolute difference of audio and video durations, seconds
func (m *MediaInfo) Drift() float64 {
	return math.Abs(m.AudioDuration() - m.VideoDuration())
}

type probeJSON struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// Probe measures a media file with the probe binary
func Probe(ctx context.Context, r *Runner, ffprobe, path string) (*MediaInfo, error) {
	cmd := r.Command(ffprobe, FFprobeFlags).
		Flag("-v", "error").
		Flag("-print_format", "json").
		Flag("-show_format").
		Flag("-show_streams").
		File("", path)
	out, err := r.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return ParseProbe(out)
}

// ParseProbe decodes the json output of the probe binary, first video and audio streams are used
func ParseProbe(data []byte) (*MediaInfo, error) {
	var pj probeJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return nil, domain.Fail(domain.CatEncoder, fmt.Errorf("parse probe output: %w", err))
	}
	res := &MediaInfo{Duration: parseSeconds(pj.Format.Duration)}
	for _, s := range pj.Streams {
		si := &StreamInfo{Codec: s.CodecName, Width: s.Width, Height: s.Height, Duration: parseSeconds(s.Duration)}
		switch s.CodecType {
		case "video":
			if res.Video == nil {
				res.Video = si
			}
		case "audio":
			if res.Audio == nil {
				res.Audio = si
			}
		}
	}
	return res, nil
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
