// Package server provides the control API: health, channel listing, manual pause and resume, events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/supervisor"
)

//go:generate moq -out mocks/store.go -pkg mocks -skip-ensure -fmt goimports . Store
//go:generate moq -out mocks/supervisor.go -pkg mocks -skip-ensure -fmt goimports . Supervisor

// Server represents HTTP server instance
type Server struct {
	store Store
	sup   Supervisor
	cfg   Config

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// Store is the subset of the store used by the API
type Store interface {
	GetChannels(ctx context.Context, activeOnly bool) ([]*domain.Channel, error)
	GetChannel(ctx context.Context, id string) (*domain.Channel, error)
	PauseChannel(ctx context.Context, id string, reason domain.PauseReason) error
	ResumeChannel(ctx context.Context, id string) error
	GetItems(ctx context.Context, filter domain.ItemFilter) ([]*domain.Item, error)
	GetEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error)
	LatestStrategy(ctx context.Context, channelID string) (*domain.Strategy, error)
}

// Supervisor reports health and reconciles workers after channel state changes
type Supervisor interface {
	Health(ctx context.Context, checks ...supervisor.Check) supervisor.Report
	Reconcile(ctx context.Context) error
}

// Config of the server
type Config struct {
	Listen     string
	Timeout    time.Duration
	Version    string
	Debug      bool
	AuthPasswd string             // basic auth password of the api, user "shortcast", empty disables auth
	Checks     []supervisor.Check // extra probes of the health endpoint
}

// New initializes a new server instance
func New(store Store, sup Supervisor, cfg Config) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Server{
		store:  store,
		sup:    sup,
		cfg:    cfg,
		router: routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	log.Printf("[INFO] starting control api on %s", s.cfg.Listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down control api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.lock.Lock()
		defer s.lock.Unlock()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("shortcast", "umputun", s.cfg.Version))
	s.router.Use(rest.Ping)

	if s.cfg.Debug {
		s.router.Use(logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(log.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(64 * 1024))
}

func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /health", s.healthHandler)

		r.Group().Route(func(api *routegroup.Bundle) {
			if s.cfg.AuthPasswd != "" {
				api.Use(rest.BasicAuthWithUserPasswd("shortcast", s.cfg.AuthPasswd))
			}
			api.HandleFunc("GET /channels", s.channelsHandler)
			api.HandleFunc("GET /channels/{id}", s.channelHandler)
			api.HandleFunc("POST /channels/{id}/pause", s.pauseHandler)
			api.HandleFunc("POST /channels/{id}/resume", s.resumeHandler)
			api.HandleFunc("GET /channels/{id}/items", s.itemsHandler)
			api.HandleFunc("GET /channels/{id}/events", s.eventsHandler)
		})
	})
}

// renderJSON sends JSON response
func renderJSON(w http.ResponseWriter, _ *http.Request, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// renderError sends error response as JSON
func renderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	renderJSON(w, r, code, map[string]string{"error": errMsg})
}
