// Package http serves the admin endpoints of the ingestion service.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dogsense/ingestion/internal/metrics"
	"dogsense/ingestion/internal/pipeline"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type ServiceState interface {
	State() pipeline.State
}

type AdminDeps struct {
	Service ServiceState
	// Checks are pinged by /healthz, keyed by the name reported.
	Checks  map[string]Pinger
	APIKeys []string
	Timeout time.Duration
	Logger  *slog.Logger
}

type healthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks"`
}

func NewRouter(deps AdminDeps) http.Handler {
	if deps.Timeout <= 0 {
		deps.Timeout = 2 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	auth := NewAPIKeyAuth(deps.APIKeys)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(deps))
	r.With(auth.Wrap).Get("/metrics", metrics.HandleMetrics)
	return r
}

// healthHandler reports 200 only when the service is running and every
// dependency answers.
func healthHandler(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), deps.Timeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		if deps.Service != nil {
			st := deps.Service.State()
			resp.Service = st.String()
			if st != pipeline.StateRunning {
				resp.Status = "degraded"
			}
		}
		for name, p := range deps.Checks {
			if err := p.Ping(ctx); err != nil {
				deps.Logger.Warn("health check failed", slog.String("check", name), slog.String("error", err.Error()))
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

// NewServer wraps the admin router with the timeouts used across services.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
