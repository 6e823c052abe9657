package media

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// Cue is a single subtitle line
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// NarrationPart is the narration of one segment with its measured duration
type NarrationPart struct {
	Text     string
	Duration time.Duration
}

// SubtitleStyle controls burned-in subtitle rendering
type SubtitleStyle struct {
	Font     string
	FontSize int // points at 1080x1920, not less than MinFontSize
	MarginV  int // distance from the bottom edge, pixels
	MaxWords int // words per cue
}

// MinFontSize is the smallest subtitle size accepted
const MinFontSize = 48

// DefaultSubtitleStyle puts subtitles into the bottom third on a translucent box
func DefaultSubtitleStyle() SubtitleStyle {
	return SubtitleStyle{Font: "DejaVu Sans", FontSize: 64, MarginV: 420, MaxWords: 5}
}

// BuildCues splits each narration part into short lines. Each part starts where the previous
// measured narration ended, lines share the part's duration proportionally to their length.
// Cues never go past total.
func BuildCues(parts []NarrationPart, maxWords int, total time.Duration) []Cue {
	if maxWords <= 0 {
		maxWords = 5
	}
	var res []Cue
	var offset time.Duration
	for _, p := range parts {
		lines := splitWords(p.Text, maxWords)
		chars := 0
		for _, l := range lines {
			chars += utf8.RuneCountInString(l)
		}
		start := offset
		acc := 0
		for i, l := range lines {
			acc += utf8.RuneCountInString(l)
			end := offset + time.Duration(float64(p.Duration)*float64(acc)/float64(chars))
			if i == len(lines)-1 {
				end = offset + p.Duration
			}
			if total > 0 && end > total {
				end = total
			}
			if end > start {
				res = append(res, Cue{Start: start, End: end, Text: l})
			}
			start = end
		}
		offset += p.Duration
	}
	return res
}

// WriteASS writes cues as an ASS script for 1080x1920 video
func WriteASS(w io.Writer, cues []Cue, style SubtitleStyle) error {
	if style.FontSize < MinFontSize {
		style.FontSize = MinFontSize
	}
	if style.Font == "" {
		style.Font = "DejaVu Sans"
	}
	bw := bufio.NewWriter(w)
	// BorderStyle 3 draws an opaque box with BackColour, alpha 0x60 keeps it translucent
	fmt.Fprintf(bw, "[Script Info]\nScriptType: v4.00+\nPlayResX: 1080\nPlayResY: 1920\nWrapStyle: 0\nScaledBorderAndShadow: yes\n\n")
	fmt.Fprintf(bw, "[V4+ Styles]\n")
	fmt.Fprintf(bw, "Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, "+
		"Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, "+
		"Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(bw, "Style: Default,%s,%d,&H00FFFFFF,&H000000FF,&H60000000,&H60000000,-1,0,0,0,100,100,0,0,3,12,0,2,60,60,%d,1\n\n",
		style.Font, style.FontSize, style.MarginV)
	fmt.Fprintf(bw, "[Events]\nFormat: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, c := range cues {
		fmt.Fprintf(bw, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n", assTime(c.Start), assTime(c.End), assText(c.Text))
	}
	return bw.Flush()
}

// assTime formats H:MM:SS.cc
func assTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	cs := (d + 5*time.Millisecond) / (10 * time.Millisecond)
	h := cs / 360000
	m := cs / 6000 % 60
	s := cs / 100 % 60
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs%100)
}

func assText(s string) string {
	r := strings.NewReplacer("\r", "", "\n", `\N`, "{", "(", "}", ")")
	return r.Replace(strings.TrimSpace(s))
}

func splitWords(text string, maxWords int) []string {
	words := strings.Fields(text)
	var res []string
	for i := 0; i < len(words); i += maxWords {
		end := i + maxWords
		if end > len(words) {
			end = len(words)
		}
		res = append(res, strings.Join(words[i:end], " "))
	}
	return res
}
