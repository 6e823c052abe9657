// Package events records the append-only event log and mirrors every entry to the application log.
package events

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
)

// Store is the persistence needed by the recorder
type Store interface {
	AppendEvent(ctx context.Context, e *domain.Event) error
}

// Recorder appends events to the store with secrets masked
type Recorder struct {
	store   Store
	secrets []string
}

var reTokenish = regexp.MustCompile(`(?i)(bearer\s+|access_token["=:\s]+|refresh_token["=:\s]+|api[_-]?key["=:\s]+)[A-Za-z0-9._\-/+]{8,}`)

// NewRecorder makes a recorder, secrets are masked in messages and payloads
func NewRecorder(store Store, secrets ...string) *Recorder {
	res := &Recorder{store: store}
	for _, s := range secrets {
		if len(s) >= 4 { // too short values would mask regular words
			res.secrets = append(res.secrets, s)
		}
	}
	return res
}

// Info records an informational event
func (r *Recorder) Info(ctx context.Context, channelID string, cat domain.Category, msg string, payload any) {
	r.Record(ctx, channelID, domain.SeverityInfo, cat, msg, payload)
}

// Warn records a warning event
func (r *Recorder) Warn(ctx context.Context, channelID string, cat domain.Category, msg string, payload any) {
	r.Record(ctx, channelID, domain.SeverityWarn, cat, msg, payload)
}

// Error records an error event
func (r *Recorder) Error(ctx context.Context, channelID string, cat domain.Category, msg string, payload any) {
	r.Record(ctx, channelID, domain.SeverityError, cat, msg, payload)
}

// Failure records an error event for err, the category is derived from the error or fallback
func (r *Recorder) Failure(ctx context.Context, channelID string, err error, fallback domain.Category, payload any) {
	if err == nil {
		return
	}
	cat := domain.CategoryOf(err)
	if cat == "" {
		cat = fallback
	}
	r.Record(ctx, channelID, domain.SeverityError, cat, err.Error(), payload)
}

// Record appends an event. Store failures are logged, never returned, so reporting can't break the caller.
func (r *Recorder) Record(ctx context.Context, channelID string, sev domain.Severity, cat domain.Category, msg string, payload any) {
	msg = r.Sanitize(msg)
	logEvent(channelID, sev, cat, msg)

	ev := &domain.Event{ChannelID: channelID, Severity: sev, Category: cat, Message: msg}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("[WARN] can't marshal payload for %s event: %v", cat, err)
		} else {
			ev.Payload = json.RawMessage(r.Sanitize(string(data)))
			if !json.Valid(ev.Payload) { // masking must not break the document
				ev.Payload = nil
			}
		}
	}
	if r.store == nil {
		return
	}
	// events outlive the caller's cancellation, e.g. shutdown records rollback events
	if err := r.store.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		log.Printf("[WARN] failed to record %s event for %q: %v", cat, channelID, err)
	}
}

// Sanitize masks configured secrets and token-like fragments
func (r *Recorder) Sanitize(s string) string {
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, "****")
	}
	return reTokenish.ReplaceAllString(s, "${1}****")
}

func logEvent(channelID string, sev domain.Severity, cat domain.Category, msg string) {
	level := "INFO"
	switch sev {
	case domain.SeverityWarn:
		level = "WARN"
	case domain.SeverityError:
		level = "ERROR"
	}
	if channelID == "" {
		log.Printf("[%s] %s: %s", level, cat, msg)
		return
	}
	log.Printf("[%s] channel %s, %s: %s", level, channelID, cat, msg)
}
