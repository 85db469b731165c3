// Package assets serves locally published assets and job status over HTTP.
package assets

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/storage"
)

// JobReader looks up jobs by id.
type JobReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
}

// Config holds router settings.
type Config struct {
	Dir            string
	PublicPath     string
	RequestTimeout time.Duration
}

// NewRouter serves files under cfg.Dir at cfg.PublicPath. jobs may be nil,
// in which case /jobs routes are not mounted.
func NewRouter(cfg Config, jobs JobReader, logger *observability.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	public := "/" + strings.Trim(cfg.PublicPath, "/")

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	r.Use(requestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"pdf-structurer"}`))
	})

	files := http.StripPrefix(public, http.FileServer(noListing{http.Dir(cfg.Dir)}))
	r.Get(public+"/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=86400")
		files.ServeHTTP(w, r)
	})

	if jobs != nil {
		r.Get("/jobs/{jobId}", jobHandler(jobs, logger))
	}

	return r
}

func jobHandler(jobs JobReader, logger *observability.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid job id")
			return
		}

		job, err := jobs.Get(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			logger.Error().Err(err).Str("job_id", id.String()).Msg("Job lookup failed")
			writeError(w, http.StatusInternalServerError, "job lookup failed")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}

// noListing hides directory indexes.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
