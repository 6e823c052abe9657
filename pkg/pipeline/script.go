package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/llm"
	"github.com/umputun/shortcast/pkg/topic"
)

// artifact duration bounds, seconds
const (
	MinDuration = 20
	MaxDuration = 175
)

// format layout constants
const (
	sequentialSegments = 10
	sequentialDuration = 6
	rankedSegments     = 5
	rankedTotal        = 45
	rankedTolerance    = 5
)

// scriptStage asks for a script until a valid one comes back, later attempts use the simpler prompt
func (p *Pipeline) scriptStage(ctx context.Context, req Request) (*domain.Script, error) {
	var res *domain.Script
	attempt := 0
	err := p.policy("script").Do(ctx, func(ctx context.Context) error {
		attempt++
		sc, err := p.Writer.Script(ctx, llm.ScriptRequest{Topic: req.Item.Topic, Format: req.Item.Format,
			Descriptor: req.Channel.Descriptor, HookTemplate: req.HookTemplate, Hints: req.Hints, Plan: req.Plan,
			Simple: attempt > 1})
		if err != nil {
			return err
		}
		if err := ValidateScript(sc, req.Item.Format, req.Plan); err != nil {
			log.Printf("[WARN] invalid script for %q, attempt %d: %v", req.Item.Topic, attempt, err)
			return err
		}
		res = sc
		return nil
	})
	if err != nil {
		if domain.CategoryOf(err) == domain.CatScriptInvalid || errors.Is(err, domain.ErrScriptInvalid) {
			return nil, domain.Fail(domain.CatScriptInvalid, fmt.Errorf("no valid script after %d attempts: %w", attempt, err))
		}
		return nil, err
	}
	return res, nil
}

// ValidateScript checks the script against the layout of the format. Missing ranks of a ranked
// countdown are filled in descending order.
func ValidateScript(sc *domain.Script, f domain.Format, plan *domain.TrendPlan) error {
	invalid := func(format string, args ...any) error {
		return domain.Fail(domain.CatScriptInvalid, fmt.Errorf(format+": %w", append(args, domain.ErrScriptInvalid)...))
	}
	if sc == nil || len(sc.Segments) == 0 {
		return invalid("no segments")
	}
	if strings.TrimSpace(sc.Title) == "" {
		return invalid("empty title")
	}
	for i, seg := range sc.Segments {
		if strings.TrimSpace(seg.Narration) == "" {
			return invalid("segment %d has no narration", i+1)
		}
		if strings.TrimSpace(seg.Query) == "" {
			return invalid("segment %d has no search query", i+1)
		}
		if seg.Duration <= 0 {
			return invalid("segment %d has duration %d", i+1, seg.Duration)
		}
	}

	n, total := len(sc.Segments), sc.TotalDuration()
	switch f {
	case domain.FormatSequential:
		if n != sequentialSegments {
			return invalid("%d segments, want %d", n, sequentialSegments)
		}
		for i, seg := range sc.Segments {
			if seg.Duration != sequentialDuration {
				return invalid("segment %d is %ds, want %ds", i+1, seg.Duration, sequentialDuration)
			}
		}
	case domain.FormatRanked:
		if n != rankedSegments {
			return invalid("%d segments, want %d ranked", n, rankedSegments)
		}
		if total < rankedTotal-rankedTolerance || total > rankedTotal+rankedTolerance {
			return invalid("ranked total %ds, want about %ds", total, rankedTotal)
		}
		for i := range sc.Segments {
			if sc.Segments[i].Rank <= 0 {
				sc.Segments[i].Rank = n - i
			}
		}
	case domain.FormatTrend:
		if plan != nil && plan.SegmentCount > 0 && n != plan.SegmentCount {
			return invalid("%d segments, plan has %d", n, plan.SegmentCount)
		}
	default:
		return invalid("unknown format %q", f)
	}

	if total < MinDuration || total > MaxDuration {
		return invalid("total duration %ds out of [%d, %d]", total, MinDuration, MaxDuration)
	}
	return nil
}

// Tags makes upload tags from the topic words
func Tags(topicText string) []string {
	var res []string
	seen := map[string]bool{}
	for _, w := range strings.Fields(topic.Normalize(topicText)) {
		if len(w) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		res = append(res, w)
		if len(res) == 5 {
			break
		}
	}
	return append(res, "shorts")
}

// Description makes the upload description, hashtags are added by the publisher
func Description(sc *domain.Script, topicText string) string {
	if hook := strings.TrimSpace(sc.Hook); hook != "" {
		return hook
	}
	return topicText
}
