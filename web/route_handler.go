// Package web serves the process status probes and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/RezaEskandarii/gofire/internal/health"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type HttpRouteHandler struct {
	registry *health.Registry
	gatherer prometheus.Gatherer
	Addr     string
	logger   *slog.Logger
}

// NewRouteHandler builds the status server. A nil gatherer exposes the
// default Prometheus registry.
func NewRouteHandler(registry *health.Registry, gatherer prometheus.Gatherer, addr string, logger *slog.Logger) *HttpRouteHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HttpRouteHandler{registry: registry, gatherer: gatherer, Addr: addr, logger: logger}
}

func (handler *HttpRouteHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", handler.handleStatus)
	r.Get("/status/started", handler.probe(handler.registry.Started))
	r.Get("/status/connected", handler.probe(handler.registry.Connected))
	r.Handle("/metrics", promhttp.HandlerFor(handler.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Serve listens on Addr until ctx is cancelled.
func (handler *HttpRouteHandler) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              handler.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		handler.logger.Info("status server listening", "addr", handler.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type probeResponse struct {
	Status string `json:"status"`
}

func (handler *HttpRouteHandler) probe(check func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check() {
			handler.writeJSON(w, r, http.StatusOK, probeResponse{Status: "ok"})
			return
		}
		handler.writeJSON(w, r, http.StatusServiceUnavailable, probeResponse{Status: "unavailable"})
	}
}

func (handler *HttpRouteHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := handler.registry.Snapshot()
	code := http.StatusOK
	if !snap.Connected {
		code = http.StatusServiceUnavailable
	}
	handler.writeJSON(w, r, code, snap)
}

func (handler *HttpRouteHandler) writeJSON(w http.ResponseWriter, r *http.Request, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		handler.logger.ErrorContext(r.Context(), "failed to encode status response", "error", err)
	}
}
