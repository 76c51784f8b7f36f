package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/payroll-ingest/pkg/interceptors"
	"github.com/FACorreiaa/payroll-ingest/pkg/observability"
)

// SetupRouter configures all routes and returns the HTTP handler
func SetupRouter(deps *Dependencies) http.Handler {
	r := chi.NewRouter()

	tracer := otel.GetTracerProvider().Tracer(deps.Config.Observability.ServiceName + "/api")

	var limiter *rate.Limiter
	if deps.Config.Server.RateLimitPerSecond > 0 && deps.Config.Server.RateLimitBurst > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(float64(deps.Config.Server.RateLimitPerSecond)),
			deps.Config.Server.RateLimitBurst,
		)
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(interceptors.NewLogging(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(interceptors.NewTracing(tracer).Handler)
	if deps.Config.Observability.MetricsEnabled {
		r.Use(observability.Metrics)
	}

	// Utility routes stay outside the rate limit so probes never get throttled.
	registerUtilityRoutes(r, deps)

	r.Group(func(r chi.Router) {
		r.Use(interceptors.NewRateLimit(limiter))
		r.Use(noStore)
		if deps.PayrollHandler != nil {
			deps.PayrollHandler.Routes(r)
			deps.Logger.Info("registered payroll routes", "prefix", "/api/v1")
		}
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   deps.Config.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           7200, // Cache preflights for 2 hours
	})

	return corsHandler.Handler(r)
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// registerUtilityRoutes registers health check, metrics, and other utility routes
func registerUtilityRoutes(r chi.Router, deps *Dependencies) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			deps.Logger.Error("failed to write health response", slog.Any("error", err))
		}
	})

	// Readiness reports each dependency; extraction is a warning since spreadsheets
	// and listings still work without it.
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		type status struct {
			Status string `json:"status"`
			Detail string `json:"detail,omitempty"`
		}
		result := map[string]status{
			"db":         {Status: "ok"},
			"extraction": {Status: "ok"},
		}

		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		code := http.StatusOK
		switch {
		case deps.DB == nil:
			result["db"] = status{Status: "fail", Detail: "not configured"}
			code = http.StatusServiceUnavailable
		default:
			if err := deps.DB.Health(ctx); err != nil {
				result["db"] = status{Status: "fail", Detail: err.Error()}
				code = http.StatusServiceUnavailable
			}
		}
		if deps.Vision == nil {
			result["extraction"] = status{Status: "warn", Detail: "GEMINI_API_KEY missing"}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(result); err != nil {
			deps.Logger.Error("failed to encode readiness", slog.Any("error", err))
		}
	})

	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
		deps.Logger.Info("registered metrics endpoint", "path", "/metrics")
	}
}
