// Package server exposes build history over HTTP. This is the API the
// rolling-builds check polls and `exa cancel` talks to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/rdmontgomery/exa/pkg/core"
)

// defaultHistoryRecords is served when recordsNumber is absent.
const defaultHistoryRecords = 20

// maxHistoryRecords caps one history response.
const maxHistoryRecords = 200

// Server serves the build history API backed by a store.
type Server struct {
	store  core.Store
	addr   string
	logger *slog.Logger
}

// Config holds configuration for the API server.
type Config struct {
	Store  core.Store
	Addr   string
	Logger *slog.Logger
}

// NewServer creates an API server instance.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		store:  cfg.Store,
		addr:   cfg.Addr,
		logger: logger,
	}
}

// Handler builds the route tree. Exposed separately from Serve so tests
// can drive it with httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.Recoverer,
		middleware.Compress(5),
	)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/projects/{account}/{project}", func(r chi.Router) {
		r.Get("/history", s.handleHistory)
		r.Route("/builds/{number}", func(r chi.Router) {
			r.Get("/", s.handleGetBuild)
			r.Get("/jobs", s.handleGetJobs)
			r.Delete("/", s.handleCancelBuild)
		})
	})
	return r
}

// Serve starts the API server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting history API server", "addr", s.addr)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down history API server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	project := chi.URLParam(r, "project")

	records := defaultHistoryRecords
	if raw := r.URL.Query().Get("recordsNumber"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "recordsNumber must be a positive integer")
			return
		}
		records = min(n, maxHistoryRecords)
	}

	builds, err := s.store.ListBuilds(account, project, records)
	if err != nil {
		s.logger.Error("failed to list builds", "account", account, "project", project, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list builds")
		return
	}
	if builds == nil {
		builds = []*core.Build{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"accountName": account,
		"projectSlug": project,
		"builds":      builds,
	})
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	build, ok := s.lookupBuild(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, build)
}

func (s *Server) handleGetJobs(w http.ResponseWriter, r *http.Request) {
	build, ok := s.lookupBuild(w, r)
	if !ok {
		return
	}

	jobs, err := s.store.GetJobsForBuild(build.ID)
	if err != nil {
		s.logger.Error("failed to list jobs", "buildId", build.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*core.Job{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleCancelBuild(w http.ResponseWriter, r *http.Request) {
	build, ok := s.lookupBuild(w, r)
	if !ok {
		return
	}
	if build.Status.Finished() {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("build %d already finished with status %s", build.Number, build.Status))
		return
	}

	jobs, err := s.store.GetJobsForBuild(build.ID)
	if err != nil {
		s.logger.Error("failed to list jobs for cancel", "buildId", build.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel build")
		return
	}
	for _, job := range jobs {
		if job.Status.Finished() {
			continue
		}
		if err := s.store.UpdateJob(job.ID, core.JobStatusCancelled, job.DurationMS, "cancelled via API"); err != nil {
			s.logger.Error("failed to cancel job", "jobId", job.ID, "error", err)
		}
	}

	if err := s.store.CompleteBuild(build.ID, core.BuildStatusCancelled, "cancelled via API"); err != nil {
		s.logger.Error("failed to cancel build", "buildId", build.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel build")
		return
	}

	s.logger.Info("build cancelled", "account", build.Account, "project", build.Project, "build", build.Number)
	w.WriteHeader(http.StatusNoContent)
}

// lookupBuild resolves the {account}/{project}/{number} triple. On
// failure it writes the error response and returns ok=false.
func (s *Server) lookupBuild(w http.ResponseWriter, r *http.Request) (*core.Build, bool) {
	account := chi.URLParam(r, "account")
	project := chi.URLParam(r, "project")

	number, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "build number must be an integer")
		return nil, false
	}

	build, err := s.store.GetBuildByNumber(account, project, number)
	if errors.Is(err, core.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("build %d not found", number))
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to get build", "account", account, "project", project, "build", number, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get build")
		return nil, false
	}
	return build, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
