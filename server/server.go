// Package server implements the browser UI: uploading reads for assembly,
// choosing records for a nextstrain build or an embedding, following jobs
// and downloading exports.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/kzlab/vgs/auth"
	"github.com/kzlab/vgs/jobs"
	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/pipeline"
	"github.com/kzlab/vgs/readstats"
	"github.com/kzlab/vgs/reference"
	"github.com/kzlab/vgs/sketch"
	"github.com/kzlab/vgs/workspace"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

// DefaultCountry pre-fills the upload form.
const DefaultCountry = "Kazakhstan"

// Server serves the UI over a pipeline and its job service.
type Server struct {
	pipeline *pipeline.Pipeline
	jobs     *jobs.Service
	sketch   sketch.Params
	token    *auth.Token
	logger   *zap.Logger

	maxUpload int64
	pages     *template.Template
	now       func() time.Time
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSketchParams sets the k-mer sketch parameters used by embeddings.
func WithSketchParams(p sketch.Params) Option {
	return func(s *Server) {
		s.sketch = p
	}
}

// WithMaxUpload limits the size of an uploaded reads file, in bytes.
func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithToken requires clients to present token. A nil token leaves the UI open.
func WithToken(token *auth.Token) Option {
	return func(s *Server) {
		s.token = token
	}
}

// New creates a server.
func New(p *pipeline.Pipeline, svc *jobs.Service, opts ...Option) *Server {
	s := &Server{
		pipeline:  p,
		jobs:      svc,
		sketch:    sketch.DefaultParams(),
		logger:    zap.NewNop(),
		maxUpload: 4 << 30,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pages = template.Must(template.New("").Funcs(template.FuncMap{
		"refs":     reference.All,
		"duration": func(d time.Duration) string { return d.String() },
		"when":     formatTime,
		"bytes":    formatBytes,
	}).ParseFS(templateFS, "templates/*.html"))
	return s
}

// Handler returns the routed and authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /nextstrain", s.handleNextstrainForm)
	mux.HandleFunc("POST /nextstrain", s.handleNextstrainSubmit)
	mux.HandleFunc("GET /embedding", s.handleEmbeddingForm)
	mux.HandleFunc("POST /embedding", s.handleEmbeddingChart)
	mux.HandleFunc("GET /api/embedding", s.handleEmbeddingAPI)
	mux.HandleFunc("GET /jobs", s.handleJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /jobs/{id}/auspice.json", s.handleAuspice)
	mux.HandleFunc("GET /jobs/{id}/archive", s.handleArchive)
	mux.HandleFunc("GET /jobs/{id}/files/{name...}", s.handleFile)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJobAPI)
	mux.HandleFunc("GET /export", s.handleExport)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.logRequests(auth.Middleware(s.token, "/healthz")(mux))
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return <-errCh
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// page is the data every template receives.
type page struct {
	Title string
	Error string
	Data  any
}

func (s *Server) render(w http.ResponseWriter, status int, name, title string, data any, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.pages.ExecuteTemplate(w, name, page{Title: title, Error: errMsg, Data: data}); err != nil {
		s.logger.Error("rendering page", zap.String("template", name), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, reference.ErrUnknownReference),
		errors.Is(err, pipeline.ErrTooFewRecords),
		errors.Is(err, metadata.ErrNotFound),
		errors.Is(err, sketch.ErrNoRecords),
		errors.Is(err, readstats.ErrEmpty),
		errors.Is(err, readstats.ErrFormat),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, workspace.ErrInvalidPath):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary, err := s.jobs.Summary(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "jobs": summary})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
