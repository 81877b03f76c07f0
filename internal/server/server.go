// Package server exposes the exporter's HTTP surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
)

// ContentType is the Prometheus text exposition content type.
const ContentType = "text/plain; version=0.0.4"

const (
	notFoundBody      = "404 Not Found"
	internalErrorBody = "Internal exporter error."
)

// ServeFunc returns the exposition body for one scrape.
type ServeFunc func(ctx context.Context) ([]byte, error)

// New returns the router for the metrics listener: metricsPath answers with
// the body produced by serve, every other path is a 404.
func New(metricsPath string, serve ServeFunc, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	r.Handle(metricsPath, gzhttp.GzipHandler(&metricsHandler{serve: serve, log: logger}))
	return r
}

// NewTelemetry returns the router for the self-metrics listener, serving
// handler at /metrics.
func NewTelemetry(handler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.NotFound(notFound)
	r.Handle("/metrics", handler)
	return r
}

// NewConfigError returns a handler answering every request with a 500 that
// names the configuration problem, used when the exporter cannot start.
func NewConfigError(cause error) http.Handler {
	body := fmt.Sprintf("Configuration error: %v", cause)
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusInternalServerError, body)
	})
}

type metricsHandler struct {
	serve ServeFunc
	log   *slog.Logger
}

func (h *metricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := h.serve(r.Context())
	if err != nil {
		h.log.Error("serving metrics", "path", r.URL.Path, "error", err)
		writeText(w, http.StatusInternalServerError, internalErrorBody)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.log.Debug("writing metrics response", "error", err)
	}
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusNotFound, notFoundBody)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
