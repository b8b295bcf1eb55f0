// Package api exposes the sitemap engine over HTTP: a small admin API plus
// the public sitemap index and partition documents.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/sitemapd/internal/config"
	"git.home.luguber.info/inful/sitemapd/internal/engine"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
	"git.home.luguber.info/inful/sitemapd/internal/store"
)

// Server serves the admin API and the rendered sitemaps.
type Server struct {
	addr   string
	router *chi.Mux
	server *http.Server
	engine *engine.Engine
	docs   *store.Store
	base   *url.URL
}

// NewServer creates the HTTP server. metricsHandler is mounted at /metrics
// when non-nil.
func NewServer(cfg *config.Config, eng *engine.Engine, docs *store.Store, metricsHandler http.Handler) (*Server, error) {
	base, err := url.Parse(cfg.Site.BaseURL)
	if err != nil {
		return nil, err
	}

	s := &Server{
		addr:   cfg.Server.Addr,
		router: chi.NewRouter(),
		engine: eng,
		docs:   docs,
		base:   base,
	}
	s.setupRoutes(metricsHandler)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes(metricsHandler http.Handler) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/healthz", s.handleHealth)

	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/detect", s.handleDetect)
	s.router.Post("/api/generate", s.handleGenerate)
	s.router.Post("/api/cancel", s.handleCancel)
	s.router.Post("/api/recount", s.handleRecount)
	s.router.Delete("/api/partitions/{day}", s.handleDeletePartition)

	s.router.Get("/sitemap.xml", s.handleIndex)
	s.router.Get("/sitemaps/sitemap-{day}.xml", s.handleSitemap)

	if metricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", metricsHandler)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Response is the standard API envelope.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Code    smerr.Code `json:"code,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Success writes a success response.
func (s *Server) Success(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Success: true, Data: data})
}

// Error writes an error response, translating classified codes to HTTP
// statuses.
func (s *Server) Error(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := Response{Error: "internal error"}

	var se *smerr.Error
	if errors.As(err, &se) {
		status = statusFor(se.Code)
		resp.Code = se.Code
		resp.Error = se.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func statusFor(code smerr.Code) int {
	switch code {
	case smerr.CodeInvalidDate, smerr.CodeNoQueries:
		return http.StatusBadRequest
	case smerr.CodeAlreadyRunning:
		return http.StatusConflict
	case smerr.CodeSiteNotPublic:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
