package supervisor

import (
	"context"
	"slices"
	"time"

	"github.com/umputun/shortcast/pkg/domain"
)

// health statuses
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Check is a named health probe, e.g. external binaries or free disk
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Report is the per-component health record
type Report struct {
	Status      string             `json:"status"`
	Time        time.Time          `json:"time"`
	Store       Component          `json:"store"`
	Checks      map[string]string  `json:"checks,omitempty"` // check name to "ok" or error
	Workers     []string           `json:"workers"`
	Children    int                `json:"children"`
	Channels    []ChannelHealth    `json:"channels"`
	Credentials []CredentialHealth `json:"credentials"`
	Quotas      []QuotaHealth      `json:"quotas"`
}

// Component is the status of a single dependency
type Component struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ChannelHealth is the state of a channel and its worker
type ChannelHealth struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Active        bool               `json:"active"`
	PauseReason   domain.PauseReason `json:"pause_reason,omitempty"`
	Interval      int                `json:"interval_minutes"`
	LastPublishAt *time.Time         `json:"last_publish_at,omitempty"`
	Worker        bool               `json:"worker"`
}

// CredentialHealth is the state of a stored credential
type CredentialHealth struct {
	ID     string                 `json:"id"`
	State  domain.CredentialState `json:"state"`
	Expiry time.Time              `json:"expiry"`
	Error  string                 `json:"error,omitempty"`
}

// QuotaHealth is the usage of a provider quota
type QuotaHealth struct {
	Provider  string    `json:"provider"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Exhausted bool      `json:"exhausted"`
	NextReset time.Time `json:"next_reset"`
}

// Health collects the health report. Works without running workers, e.g. from a one-shot command.
func (s *Supervisor) Health(ctx context.Context, checks ...Check) Report {
	rep := Report{Status: StatusOK, Time: s.params.Now(), Store: Component{Status: StatusOK}, Workers: []string{}}
	if err := s.Store.Ping(ctx); err != nil {
		rep.Status, rep.Store = StatusDown, Component{Status: StatusDown, Error: err.Error()}
		return rep
	}
	if s.Workers != nil {
		rep.Workers = s.Workers.Running()
	}
	if s.Children != nil {
		rep.Children = s.Children.Running()
	}
	degrade := func() { rep.Status = StatusDegraded }

	if len(checks) > 0 {
		rep.Checks = make(map[string]string, len(checks))
		for _, c := range checks {
			rep.Checks[c.Name] = StatusOK
			if err := c.Run(ctx); err != nil {
				rep.Checks[c.Name] = err.Error()
				degrade()
			}
		}
	}

	channels, err := s.Store.GetChannels(ctx, false)
	if err != nil {
		rep.Store = Component{Status: StatusDegraded, Error: err.Error()}
		degrade()
	}
	for _, ch := range channels {
		rep.Channels = append(rep.Channels, ChannelHealth{ID: ch.ID, Name: ch.Name, Active: ch.Active,
			PauseReason: ch.PauseReason, Interval: ch.IntervalMinutes, LastPublishAt: ch.LastPublishAt,
			Worker: slices.Contains(rep.Workers, ch.ID)})
		if !ch.Active && ch.PauseReason != domain.PauseManual {
			degrade()
		}
	}

	creds, err := s.Store.GetCredentials(ctx)
	if err != nil {
		rep.Store = Component{Status: StatusDegraded, Error: err.Error()}
		degrade()
	}
	for _, c := range creds {
		rep.Credentials = append(rep.Credentials, CredentialHealth{ID: c.ID, State: c.State, Expiry: c.Expiry, Error: c.LastError})
		if c.State == domain.CredentialNeedsReauth || c.State == domain.CredentialRevoked {
			degrade()
		}
	}

	quotas, err := s.Store.GetQuotas(ctx)
	if err != nil {
		rep.Store = Component{Status: StatusDegraded, Error: err.Error()}
		degrade()
	}
	for _, q := range quotas {
		rep.Quotas = append(rep.Quotas, QuotaHealth{Provider: q.Provider, Used: q.Used, Limit: q.DailyLimit,
			Exhausted: q.Exhausted, NextReset: q.NextReset})
		if q.Exhausted {
			degrade()
		}
	}
	return rep
}
