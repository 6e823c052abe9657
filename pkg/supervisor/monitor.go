package supervisor

import (
	"context"
	"fmt"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
)

const diagnosedKey = "diagnosed:" // + channel id, instant of the last pause by the monitor

// Monitor pauses active channels with too many failure events of one category within the window.
// Events before the previous pause by the monitor are not counted again. Returns paused channel ids.
func (s *Supervisor) Monitor(ctx context.Context) ([]string, error) {
	now := s.params.Now()
	counts, err := s.Store.CountEventsByCategory(ctx, now.Add(-s.params.FailureWindow),
		[]domain.Severity{domain.SeverityWarn, domain.SeverityError})
	if err != nil {
		s.checkFatal(err)
		return nil, fmt.Errorf("count events: %w", err)
	}

	var paused []string
	seen := map[string]bool{}
	for _, c := range counts {
		if c.ChannelID == "" || seen[c.ChannelID] || c.Count < s.params.FailureThreshold || !c.Category.IsFailure() {
			continue
		}
		ok, err := s.diagnose(ctx, c.ChannelID, c.Category)
		if err != nil {
			log.Printf("[WARN] diagnosis of %s: %v", c.ChannelID, err)
			continue
		}
		if ok {
			seen[c.ChannelID] = true
			paused = append(paused, c.ChannelID)
		}
	}
	return paused, nil
}

func (s *Supervisor) diagnose(ctx context.Context, channelID string, cat domain.Category) (bool, error) {
	ch, err := s.Store.GetChannel(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("get channel: %w", err)
	}
	if !ch.Active {
		return false, nil
	}

	now := s.params.Now()
	since := now.Add(-s.params.FailureWindow)
	last, err := s.Store.GetSettingTime(ctx, diagnosedKey+channelID)
	if err != nil {
		return false, fmt.Errorf("get last diagnosis: %w", err)
	}
	if last.After(since) {
		since = last
	}
	events, err := s.Store.GetEvents(ctx, domain.EventFilter{ChannelID: channelID, Categories: []domain.Category{cat},
		Severities: []domain.Severity{domain.SeverityWarn, domain.SeverityError}, Since: since,
		Limit: s.params.FailureThreshold})
	if err != nil {
		return false, fmt.Errorf("get events: %w", err)
	}
	if len(events) < s.params.FailureThreshold {
		return false, nil
	}

	recent := events[:min(len(events), s.params.DiagnosisEvents)]
	diagnosis := fmt.Sprintf("%d %s failures within %v", len(events), cat, s.params.FailureWindow)
	if s.Diagnoser != nil {
		text, derr := s.Diagnoser.Diagnose(ctx, ch.Name, cat, recent)
		switch {
		case derr != nil:
			log.Printf("[WARN] llm diagnosis of %s failed: %v", ch.ID, derr)
		case text != "":
			diagnosis = text
		}
	}

	if err := s.Store.PauseChannel(ctx, ch.ID, domain.PauseFailures); err != nil {
		return false, fmt.Errorf("pause channel: %w", err)
	}
	if err := s.Store.SetSettingTime(ctx, diagnosedKey+channelID, now); err != nil {
		log.Printf("[WARN] can't save diagnosis time of %s: %v", ch.ID, err)
	}
	ids := make([]int64, 0, len(recent))
	for _, e := range recent {
		ids = append(ids, e.ID)
	}
	s.Recorder.Record(ctx, ch.ID, domain.SeverityError, domain.CatDiagnosis,
		fmt.Sprintf("channel paused after %d %s failures: %s", len(events), cat, diagnosis),
		map[string]any{"category": cat, "count": len(events), "events": ids, "diagnosis": diagnosis})
	return true, nil
}
