package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/umputun/shortcast/pkg/domain"
)

// Hints are strategy recommendations applied to items of the strategy arm
type Hints struct {
	Recommended []string
	Avoid       []string
	StyleHints  []string
}

// ScriptRequest contains all parameters for script synthesis
type ScriptRequest struct {
	Topic        string
	Format       domain.Format
	Descriptor   domain.Descriptor
	HookTemplate string
	Hints        *Hints            // strategy arm only
	Plan         *domain.TrendPlan // trend-driven format only
	Simple       bool              // simpler prompt variant after an invalid response
}

const scriptSystemPrompt = `You write narration scripts for vertical short videos (1080x1920, 20-175 seconds).
Each segment has narration read aloud over one stock footage clip.
Narration must be speakable in the segment duration at a calm pace, about 2.5 words per second.
Search queries describe concrete visual footage in 2-4 English words, no abstract concepts, no text overlays.
Respond only with a JSON object.`

// Script synthesizes a structured script, domain.ErrScriptInvalid if the response can't be parsed
func (c *Client) Script(ctx context.Context, req ScriptRequest) (*domain.Script, error) {
	content, err := c.Complete(ctx, Request{System: scriptSystemPrompt, Prompt: buildScriptPrompt(req), JSON: true})
	if err != nil {
		return nil, err
	}
	return parseScript(content)
}

// FormatRule describes the segment layout required by a format
func FormatRule(f domain.Format, plan *domain.TrendPlan) string {
	switch f {
	case domain.FormatSequential:
		return "exactly 10 segments, every segment exactly 6 seconds long (60 seconds total)"
	case domain.FormatRanked:
		return "exactly 5 ranked segments counting down from rank 5 to rank 1, durations between 7 and 11 seconds " +
			"summing to 45 seconds, set \"rank\" of every segment"
	case domain.FormatTrend:
		if plan != nil && plan.SegmentCount > 0 {
			return fmt.Sprintf("exactly %d segments following the plan below, durations as planned", plan.SegmentCount)
		}
		return "between 5 and 8 segments, 5 to 10 seconds each"
	}
	return "between 5 and 10 segments"
}

func buildScriptPrompt(req ScriptRequest) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Topic: %s\n", req.Topic))
	if req.Simple {
		// reduced variant, used after a response failed validation
		sb.WriteString(fmt.Sprintf("Structure: %s.\n\n", FormatRule(req.Format, req.Plan)))
		sb.WriteString(`Return {"title": "...", "segments": [{"narration": "...", "query": "...", "duration": 6}]}` + "\n")
		sb.WriteString("Keep narration short and simple. Durations are integers in seconds.")
		return sb.String()
	}

	if req.Descriptor.Theme != "" {
		sb.WriteString(fmt.Sprintf("Channel theme: %s\n", req.Descriptor.Theme))
	}
	if req.Descriptor.Tone != "" {
		sb.WriteString(fmt.Sprintf("Tone: %s\n", req.Descriptor.Tone))
	}
	if req.Descriptor.Style != "" {
		sb.WriteString(fmt.Sprintf("Style: %s\n", req.Descriptor.Style))
	}
	sb.WriteString(fmt.Sprintf("Structure: %s.\n", FormatRule(req.Format, req.Plan)))
	if req.HookTemplate != "" {
		sb.WriteString(fmt.Sprintf("Open with a hook following this template: %s\n", req.HookTemplate))
	} else {
		sb.WriteString("Open with a short hook that makes viewers stay.\n")
	}

	if req.Hints != nil {
		if len(req.Hints.StyleHints) > 0 {
			sb.WriteString("Style hints from past performance:\n")
			for _, h := range req.Hints.StyleHints {
				sb.WriteString(fmt.Sprintf("- %s\n", h))
			}
		}
		if len(req.Hints.Avoid) > 0 {
			sb.WriteString(fmt.Sprintf("Avoid angles similar to: %s\n", strings.Join(req.Hints.Avoid, ", ")))
		}
	}

	if req.Plan != nil {
		sb.WriteString("\nPlan:\n")
		if req.Plan.Angle != "" {
			sb.WriteString(fmt.Sprintf("Angle: %s\n", req.Plan.Angle))
		}
		for i, s := range req.Plan.Segments {
			sb.WriteString(fmt.Sprintf("%d. query: %s, duration: %ds", i+1, s.Query, s.Duration))
			if len(s.Alternates) > 0 {
				sb.WriteString(fmt.Sprintf(", alternates: %s", strings.Join(s.Alternates, "; ")))
			}
			if s.Note != "" {
				sb.WriteString(fmt.Sprintf(", note: %s", s.Note))
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nRespond with a JSON object: {\"title\": string (max 90 chars), \"hook\": string, \"segments\": " +
		"[{\"narration\": string, \"query\": string, \"alternates\": [2-3 strings], \"duration\": integer seconds, " +
		"\"rank\": integer}]}")
	return sb.String()
}

func parseScript(content string) (*domain.Script, error) {
	obj, err := extractObject(content)
	if err != nil {
		return nil, domain.Fail(domain.CatScriptInvalid, fmt.Errorf("%v: %w", err, domain.ErrScriptInvalid))
	}
	var s domain.Script
	if err := json.Unmarshal([]byte(obj), &s); err != nil {
		return nil, domain.Fail(domain.CatScriptInvalid, fmt.Errorf("failed to parse script json: %v: %w", err, domain.ErrScriptInvalid))
	}
	s.Title = strings.TrimSpace(s.Title)
	for i := range s.Segments {
		s.Segments[i].Narration = strings.TrimSpace(s.Segments[i].Narration)
		s.Segments[i].Query = strings.TrimSpace(s.Segments[i].Query)
	}
	return &s, nil
}

// TopicRequest contains parameters for topic generation
type TopicRequest struct {
	Descriptor domain.Descriptor
	Format     domain.Format
	Hints      *Hints   // strategy arm only
	Exclude    []string // recent topics of the channel
	Rejected   []string // proposals rejected as duplicates in this slot
}

const topicSystemPrompt = `You propose topics for short vertical videos of a themed channel.
A topic is a short title-like phrase, 3 to 8 words, specific and visual. Respond only with a JSON object.`

// Topic proposes a new topic for the channel
func (c *Client) Topic(ctx context.Context, req TopicRequest) (string, error) {
	content, err := c.Complete(ctx, Request{System: topicSystemPrompt, Prompt: buildTopicPrompt(req), JSON: true,
		Temperature: 0.9})
	if err != nil {
		return "", err
	}
	var resp struct {
		Topic string `json:"topic"`
	}
	if err := decodeObject(content, &resp); err != nil {
		return "", err
	}
	topic := strings.TrimSpace(resp.Topic)
	if topic == "" {
		return "", errors.New("empty topic in llm response")
	}
	return topic, nil
}

func buildTopicPrompt(req TopicRequest) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Channel theme: %s\nTone: %s\nStyle: %s\n", req.Descriptor.Theme, req.Descriptor.Tone,
		req.Descriptor.Style))
	if req.Format == domain.FormatRanked {
		sb.WriteString("The video is a top-5 countdown, the topic must name a rankable set.\n")
	}
	if req.Hints != nil {
		if len(req.Hints.Recommended) > 0 {
			sb.WriteString(fmt.Sprintf("Topics that performed well (prefer similar subjects, not the same): %s\n",
				strings.Join(req.Hints.Recommended, "; ")))
		}
		if len(req.Hints.Avoid) > 0 {
			sb.WriteString(fmt.Sprintf("Topics that performed poorly (avoid): %s\n", strings.Join(req.Hints.Avoid, "; ")))
		}
	}
	if len(req.Exclude) > 0 {
		sb.WriteString("Already covered, do not repeat or rephrase:\n")
		for _, t := range req.Exclude {
			sb.WriteString(fmt.Sprintf("- %s\n", t))
		}
	}
	if len(req.Rejected) > 0 {
		sb.WriteString("Rejected as duplicates, pick a clearly different subject:\n")
		for _, t := range req.Rejected {
			sb.WriteString(fmt.Sprintf("- %s\n", t))
		}
	}
	sb.WriteString(`Respond with {"topic": "..."}`)
	return sb.String()
}

// AltQueries generates alternative stock footage search queries for a segment
func (c *Client) AltQueries(ctx context.Context, query, narration string, n int) ([]string, error) {
	prompt := fmt.Sprintf("Stock footage search for %q returned nothing usable.\nNarration: %s\n"+
		"Suggest %d alternative search queries of 1-3 common English words, from specific to generic.\n"+
		`Respond with {"queries": ["..."]}`, query, narration, n)
	content, err := c.Complete(ctx, Request{System: "You help finding stock video footage. Respond only with a JSON object.",
		Prompt: prompt, JSON: true})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Queries []string `json:"queries"`
	}
	if err := decodeObject(content, &resp); err != nil {
		return nil, err
	}
	res := make([]string, 0, len(resp.Queries))
	seen := map[string]bool{strings.ToLower(query): true}
	for _, q := range resp.Queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		res = append(res, q)
		if len(res) == n {
			break
		}
	}
	return res, nil
}

// PerformanceSample is a published item with its observed metrics
type PerformanceSample struct {
	Topic      string
	Views      int64
	Engagement float64
}

// StrategyInput contains inputs of the strategy analysis
type StrategyInput struct {
	Descriptor     domain.Descriptor
	Top            []PerformanceSample
	Bottom         []PerformanceSample
	ViewsLift      float64
	EngagementLift float64
}

// StrategyAdvice is the llm part of a strategy record
type StrategyAdvice struct {
	StyleHints    []string `json:"style_hints"`
	HookTemplates []string `json:"hook_templates"`
	Rationale     string   `json:"rationale"`
}

// AdviseStrategy analyzes top and bottom performers and returns style hints with a prose rationale
func (c *Client) AdviseStrategy(ctx context.Context, in StrategyInput) (*StrategyAdvice, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Channel theme: %s, tone: %s, style: %s\n", in.Descriptor.Theme, in.Descriptor.Tone, in.Descriptor.Style))
	sb.WriteString(fmt.Sprintf("Strategy arm vs control: views lift %+.0f%%, engagement lift %+.0f%%\n\n",
		in.ViewsLift*100, in.EngagementLift*100))
	writeSamples := func(title string, samples []PerformanceSample) {
		sb.WriteString(title + ":\n")
		for _, s := range samples {
			sb.WriteString(fmt.Sprintf("- %s (views %d, engagement %.3f)\n", s.Topic, s.Views, s.Engagement))
		}
		sb.WriteString("\n")
	}
	writeSamples("Best performing videos", in.Top)
	writeSamples("Worst performing videos", in.Bottom)
	sb.WriteString("Give 2-4 concrete style hints for narration and visuals, 1-3 hook templates with {topic} placeholder, " +
		"and a rationale of 2-3 sentences.\n")
	sb.WriteString(`Respond with {"style_hints": [...], "hook_templates": [...], "rationale": "..."}`)

	content, err := c.Complete(ctx, Request{System: "You analyze short video performance. Respond only with a JSON object.",
		Prompt: sb.String(), JSON: true, Temperature: 0.4})
	if err != nil {
		return nil, err
	}
	var res StrategyAdvice
	if err := decodeObject(content, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// TrendInput is a trend candidate with optional article text
type TrendInput struct {
	Topic    string
	Category string
	Region   string
	Volume   string
	Summary  string
	Article  string
}

// TrendVerdict is the analysis result of a trend candidate
type TrendVerdict struct {
	Approved   bool             `json:"approved"`
	Format     domain.Format    `json:"format"`
	Confidence float64          `json:"confidence"`
	Urgency    domain.Urgency   `json:"urgency"`
	Plan       domain.TrendPlan `json:"plan"`
}

// AnalyzeTrend decides whether a trend fits a short video and plans it
func (c *Client) AnalyzeTrend(ctx context.Context, in TrendInput) (*TrendVerdict, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Trending topic: %s\n", in.Topic))
	if in.Category != "" || in.Region != "" {
		sb.WriteString(fmt.Sprintf("Category: %s, region: %s\n", in.Category, in.Region))
	}
	if in.Volume != "" {
		sb.WriteString(fmt.Sprintf("Search volume: %s\n", in.Volume))
	}
	if in.Summary != "" {
		sb.WriteString(fmt.Sprintf("Summary: %s\n", in.Summary))
	}
	if in.Article != "" {
		article := in.Article
		if len(article) > 1500 {
			article = article[:1500] + "..."
		}
		sb.WriteString(fmt.Sprintf("News context: %s\n", article))
	}
	sb.WriteString(`
Decide if the topic suits a neutral, factual 30-60 second vertical video with stock footage.
Reject tragedies, politics, and anything needing real footage of specific people.
Respond with {"approved": bool, "format": "A"|"B"|"C", "confidence": 0..1, "urgency": "high"|"medium"|"low",
"plan": {"angle": "...", "segment_count": 3..10, "segments": [{"query": "...", "alternates": ["..."], "duration": seconds, "note": "..."}]}}`)

	content, err := c.Complete(ctx, Request{System: "You evaluate trends for short video production. Respond only with a JSON object.",
		Prompt: sb.String(), JSON: true, Temperature: 0.3})
	if err != nil {
		return nil, err
	}
	var res TrendVerdict
	if err := decodeObject(content, &res); err != nil {
		return nil, err
	}
	res.normalize()
	return &res, nil
}

func (v *TrendVerdict) normalize() {
	if !v.Format.Valid() {
		v.Format = domain.FormatTrend
	}
	if v.Urgency.Rank() == 0 {
		v.Urgency = domain.UrgencyLow
	}
	v.Confidence = min(max(v.Confidence, 0), 1)
	if len(v.Plan.Segments) > 10 {
		v.Plan.Segments = v.Plan.Segments[:10]
	}
	if len(v.Plan.Segments) > 0 {
		v.Plan.SegmentCount = len(v.Plan.Segments)
	}
	v.Plan.SegmentCount = min(max(v.Plan.SegmentCount, 3), 10)
	for i := range v.Plan.Segments {
		v.Plan.Segments[i].Duration = min(max(v.Plan.Segments[i].Duration, 3), 15)
	}
}

// Diagnose explains a burst of same-category failures of a channel from recent event payloads
func (c *Client) Diagnose(ctx context.Context, channel string, cat domain.Category, events []*domain.Event) (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Channel %s repeatedly failed with category %q. Recent events, newest first:\n\n", channel, cat))
	for _, e := range events {
		sb.WriteString(fmt.Sprintf("- %s [%s] %s", e.Timestamp.UTC().Format("2006-01-02 15:04:05"), e.Severity, e.Message))
		if len(e.Payload) > 0 {
			p := string(e.Payload)
			if len(p) > 300 {
				p = p[:300] + "..."
			}
			sb.WriteString(" payload: " + p)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nGive the most likely root cause and the operator action to fix it, at most 4 sentences, plain text.")
	res, err := c.Complete(ctx, Request{System: "You diagnose failures of an automated video pipeline.", Prompt: sb.String(),
		Temperature: 0.2, MaxTokens: 300})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res), nil
}

// extractObject returns the outermost json object of the content, tolerating surrounding prose and fences
func extractObject(content string) (string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || start >= end {
		return "", errors.New("no json object found in response")
	}
	return content[start : end+1], nil
}

func decodeObject(content string, v any) error {
	obj, err := extractObject(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("failed to parse json response: %w", err)
	}
	return nil
}
