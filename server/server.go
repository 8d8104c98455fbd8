// Package server exposes the ingestion boundary and the display view model
// over HTTP. The boundary always answers with a structurally valid JSON
// body; ingestion failures surface as an error field, never as a broken
// response.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/hallboard/pkg/calendar"
	"github.com/umputun/hallboard/pkg/config"
	"github.com/umputun/hallboard/pkg/scheduler"
	"github.com/umputun/hallboard/pkg/weather"
)

// Pipeline runs one on-demand ingestion cycle.
type Pipeline interface {
	Run(ctx context.Context, sources []calendar.Source, now time.Time, horizonDays int) calendar.Result
}

// Snapshots exposes the display state maintained by the scheduler.
type Snapshots interface {
	Current() scheduler.Snapshot
	LatestWeather() weather.Report
	State() scheduler.State
}

// ConfigProvider returns a fresh configuration on each call.
type ConfigProvider interface {
	Get() *config.Config
}

// Server represents HTTP server instance
type Server struct {
	config    ConfigProvider
	pipeline  Pipeline
	snapshots Snapshots
	version   string
	debug     bool
	started   time.Time

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// New initializes a new server instance
func New(cfg ConfigProvider, pipeline Pipeline, snapshots Snapshots, version string, debug bool) *Server {
	s := &Server{
		config:    cfg,
		pipeline:  pipeline,
		snapshots: snapshots,
		version:   version,
		debug:     debug,
		started:   time.Now(),
		router:    routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	cfg := s.config.Get()
	log.Printf("[INFO] starting server on %s", cfg.Server.Listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      s.router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("hallboard", "umputun", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /events", s.eventsHandler)
		r.HandleFunc("GET /view", s.viewHandler)
		r.HandleFunc("GET /weather", s.weatherHandler)
		r.HandleFunc("GET /status", s.statusHandler)
	})
}

// eventsHandler runs the ingestion pipeline for the configured feeds and
// returns {events, error?, warning?}. The status is always 200 with a
// well-formed body; a total ingestion failure is reported inside the body so
// the display client can keep its previous state.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Get()
	loc := cfg.Location()

	days := cfg.Calendar.HorizonDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			renderError(w, r, fmt.Errorf("invalid days parameter %q", v), http.StatusBadRequest)
			return
		}
		days = n
	}

	res := s.pipeline.Run(r.Context(), calendar.SourcesFromConfig(cfg.Feeds), time.Now().In(loc), days)
	renderJSON(w, r, http.StatusOK, res)
}

// viewHandler returns the current display snapshot: pre-seeded day buckets,
// weather and the staleness notice.
func (s *Server) viewHandler(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, r, http.StatusOK, s.snapshots.Current())
}

// weatherHandler returns the latest weather report, null-filled when the
// upstream is unavailable.
func (s *Server) weatherHandler(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, r, http.StatusOK, s.snapshots.LatestWeather())
}

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"state":   s.snapshots.State(),
		"uptime":  time.Since(s.started).Truncate(time.Second).String(),
		"time":    time.Now().UTC(),
	}
	renderJSON(w, r, http.StatusOK, status)
}

// renderJSON sends JSON response
func renderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
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
