package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/supervisor"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// channelView is the api representation of a channel
type channelView struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Theme         string             `json:"theme"`
	Format        domain.Format      `json:"format"`
	Interval      int                `json:"interval_minutes"`
	Active        bool               `json:"active"`
	PauseReason   domain.PauseReason `json:"pause_reason,omitempty"`
	LastPublishAt *time.Time         `json:"last_publish_at,omitempty"`
	Strategy      *strategyView      `json:"strategy,omitempty"`
}

type strategyView struct {
	ID             int64     `json:"id"`
	Recommended    []string  `json:"recommended"`
	Avoid          []string  `json:"avoid"`
	StyleHints     []string  `json:"style_hints"`
	Interval       int       `json:"interval_minutes"`
	Confidence     float64   `json:"confidence"`
	ViewsLift      float64   `json:"views_lift"`
	EngagementLift float64   `json:"engagement_lift"`
	Rationale      string    `json:"rationale,omitempty"`
	Applied        bool      `json:"applied"`
	CreatedAt      time.Time `json:"created_at"`
}

type itemView struct {
	ID           string            `json:"id"`
	Topic        string            `json:"topic"`
	Title        string            `json:"title,omitempty"`
	Format       domain.Format     `json:"format"`
	Group        domain.ABGroup    `json:"group"`
	Status       domain.ItemStatus `json:"status"`
	ExternalID   string            `json:"external_id,omitempty"`
	ScheduledAt  time.Time         `json:"scheduled_at"`
	PublishedAt  *time.Time        `json:"published_at,omitempty"`
	ErrorCause   domain.Category   `json:"error_cause,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Views        int64             `json:"views"`
	Likes        int64             `json:"likes"`
	Comments     int64             `json:"comments"`
}

type eventView struct {
	ID       int64           `json:"id"`
	Time     time.Time       `json:"time"`
	Severity domain.Severity `json:"severity"`
	Category domain.Category `json:"category"`
	Message  string          `json:"message"`
	Payload  any             `json:"payload,omitempty"`
}

// healthHandler returns the health report, 503 when the store is down
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	rep := s.sup.Health(r.Context(), s.cfg.Checks...)
	code := http.StatusOK
	if rep.Status == supervisor.StatusDown {
		code = http.StatusServiceUnavailable
	}
	renderJSON(w, r, code, rep)
}

func (s *Server) channelsHandler(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.GetChannels(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		log.Printf("[ERROR] failed to get channels: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	res := make([]channelView, 0, len(channels))
	for _, ch := range channels {
		res = append(res, newChannelView(ch))
	}
	renderJSON(w, r, http.StatusOK, res)
}

func (s *Server) channelHandler(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	view := newChannelView(ch)
	st, err := s.store.LatestStrategy(r.Context(), ch.ID)
	switch {
	case err == nil:
		view.Strategy = &strategyView{ID: st.ID, Recommended: st.Recommended, Avoid: st.Avoid, StyleHints: st.StyleHints,
			Interval: st.IntervalMinutes, Confidence: st.Confidence, ViewsLift: st.ViewsLift,
			EngagementLift: st.EngagementLift, Rationale: st.Rationale, Applied: st.Applied, CreatedAt: st.CreatedAt}
	case !errors.Is(err, domain.ErrNotFound):
		log.Printf("[WARN] failed to get strategy of %s: %v", ch.ID, err)
	}
	renderJSON(w, r, http.StatusOK, view)
}

// pauseHandler pauses a channel manually, its worker stops on the next reconcile
func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	if err := s.store.PauseChannel(r.Context(), ch.ID, domain.PauseManual); err != nil {
		log.Printf("[ERROR] failed to pause %s: %v", ch.ID, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	log.Printf("[INFO] channel %s paused by api", ch.ID)
	s.reconcile(r.Context())
	renderJSON(w, r, http.StatusOK, map[string]string{"id": ch.ID, "status": "paused"})
}

// resumeHandler resumes a paused channel, rejected with 409 while its credential needs re-authorization
func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	if err := s.store.ResumeChannel(r.Context(), ch.ID); err != nil {
		if errors.Is(err, domain.ErrAuthExpired) {
			renderError(w, r, err, http.StatusConflict)
			return
		}
		log.Printf("[ERROR] failed to resume %s: %v", ch.ID, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	log.Printf("[INFO] channel %s resumed by api", ch.ID)
	s.reconcile(r.Context())
	renderJSON(w, r, http.StatusOK, map[string]string{"id": ch.ID, "status": "active"})
}

func (s *Server) itemsHandler(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}
	filter := domain.ItemFilter{ChannelID: ch.ID, Limit: limit}
	if st := r.URL.Query().Get("status"); st != "" {
		filter.Statuses = []domain.ItemStatus{domain.ItemStatus(st)}
	}
	items, err := s.store.GetItems(r.Context(), filter)
	if err != nil {
		log.Printf("[ERROR] failed to get items of %s: %v", ch.ID, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	res := make([]itemView, 0, len(items))
	for _, it := range items {
		res = append(res, itemView{ID: it.ID, Topic: it.Topic, Title: it.Title, Format: it.Format, Group: it.Group,
			Status: it.Status, ExternalID: it.ExternalID, ScheduledAt: it.ScheduledAt, PublishedAt: it.PublishedAt,
			ErrorCause: it.ErrorCause, ErrorMessage: it.ErrorMessage, Views: it.Metrics.Views, Likes: it.Metrics.Likes,
			Comments: it.Metrics.Comments})
	}
	renderJSON(w, r, http.StatusOK, res)
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}
	filter := domain.EventFilter{ChannelID: ch.ID, Limit: limit}
	if sev := r.URL.Query().Get("severity"); sev != "" {
		filter.Severities = []domain.Severity{domain.Severity(sev)}
	}
	evs, err := s.store.GetEvents(r.Context(), filter)
	if err != nil {
		log.Printf("[ERROR] failed to get events of %s: %v", ch.ID, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	res := make([]eventView, 0, len(evs))
	for _, e := range evs {
		v := eventView{ID: e.ID, Time: e.Timestamp, Severity: e.Severity, Category: e.Category, Message: e.Message}
		if len(e.Payload) > 0 {
			v.Payload = e.Payload
		}
		res = append(res, v)
	}
	renderJSON(w, r, http.StatusOK, res)
}

// channel loads the channel of the request path, rendering the error response if it can't
func (s *Server) channel(w http.ResponseWriter, r *http.Request) (*domain.Channel, bool) {
	id := r.PathValue("id")
	ch, err := s.store.GetChannel(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			renderError(w, r, fmt.Errorf("channel %q not found", id), http.StatusNotFound)
			return nil, false
		}
		log.Printf("[ERROR] failed to get channel %s: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return nil, false
	}
	return ch, true
}

func (s *Server) reconcile(ctx context.Context) {
	if err := s.sup.Reconcile(context.WithoutCancel(ctx)); err != nil {
		log.Printf("[WARN] reconcile after channel change: %v", err)
	}
}

func limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return min(limit, maxLimit), nil
}

func newChannelView(ch *domain.Channel) channelView {
	return channelView{ID: ch.ID, Name: ch.Name, Theme: ch.Descriptor.Theme, Format: ch.Format, Interval: ch.IntervalMinutes,
		Active: ch.Active, PauseReason: ch.PauseReason, LastPublishAt: ch.LastPublishAt}
}
