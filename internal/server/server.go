// Package server exposes annotation jobs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ictashik/OpenDataTagger/internal/kv"
	"github.com/ictashik/OpenDataTagger/internal/llm"
	"github.com/ictashik/OpenDataTagger/internal/metrics"
	"github.com/ictashik/OpenDataTagger/internal/service"
)

// Inference is the part of the inference client the status endpoint reads.
type Inference interface {
	Model() string
	Usage(ctx context.Context) (llm.Usage, error)
}

// Deps holds everything the HTTP layer needs.
type Deps struct {
	Jobs       *service.JobManager
	LLM        Inference
	Store      kv.Store
	DataDir    string
	ListModels func(ctx context.Context) ([]string, error)
	// Metrics serves /metrics when set.
	Metrics   http.Handler
	Collector *metrics.Collector
	PollRate  float64
	PollBurst int
	Logger    *slog.Logger
}

// Server routes HTTP requests to the job manager.
type Server struct {
	jobs           *service.JobManager
	llm            Inference
	store          kv.Store
	dataDir        string
	listModels     func(ctx context.Context) ([]string, error)
	metrics        http.Handler
	collector      *metrics.Collector
	limiters       *limiterCache
	logger         *slog.Logger
	streamInterval time.Duration
	router         chi.Router
}

// New builds a server and its routes.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		jobs:           deps.Jobs,
		llm:            deps.LLM,
		store:          deps.Store,
		dataDir:        deps.DataDir,
		listModels:     deps.ListModels,
		metrics:        deps.Metrics,
		collector:      deps.Collector,
		limiters:       newLimiterCache(deps.PollRate, deps.PollBurst, 5*time.Minute),
		logger:         deps.Logger,
		streamInterval: time.Second,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, requestLogger(s.logger))

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.sessions)

		r.Post("/upload", s.upload)
		r.Get("/columns", s.getColumns)
		r.Post("/columns", s.defineColumns)
		r.Post("/tagging", s.startTagging)
		r.With(s.rateLimit).Get("/tagging/progress", s.progress)
		r.Get("/results", s.results)
		r.Get("/results/{kind}", s.download)
		r.Get("/llm/status", s.llmStatus)
		r.Post("/llm/model", s.selectModel)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.listJobs)
		r.Get("/{id}", s.getJob)
		r.Get("/{id}/stream", s.streamJob)
		r.Post("/{id}/cancel", s.cancelJob)
	})
	r.Post("/admin/cleanup", s.cleanup)
	r.Get("/admin/timings", s.timings)

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		// Uploads can be large and streams are long-lived.
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) timings(w http.ResponseWriter, _ *http.Request) {
	if s.collector == nil {
		writeJSON(w, http.StatusOK, metrics.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
