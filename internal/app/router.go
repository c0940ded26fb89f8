// Package app assembles the adapters into the two runnable programs: the
// HTTP API router/server and the worker runtime.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/httpserver"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/observability"
	"github.com/siwakornc/invoice-ocr-service/internal/config"
)

// BuildRouter mounts the full HTTP surface with the standard middleware
// stack. checks feed /readyz.
func BuildRouter(cfg config.Config, h *httpserver.Handlers, checks ...httpserver.ReadyCheck) chi.Router {
	r := chi.NewRouter()

	r.Use(httpserver.RequestID)
	r.Use(httpserver.Recoverer)
	r.Use(httpserver.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))
	r.Use(observability.HTTPMetricsMiddleware(func(req *http.Request) string {
		if rc := chi.RouteContext(req.Context()); rc != nil {
			return rc.RoutePattern()
		}
		return ""
	}))
	r.Use(httpserver.AccessLog)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", httpserver.Readyz(checks...))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/images/{filename}", h.Image)

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.With(
			httpserver.APIKey(cfg.APIKey),
			httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute),
		).Post("/process-invoice", h.ProcessInvoice)
		r.Get("/{job_id}/status", h.JobStatus)
	})
	return r
}
