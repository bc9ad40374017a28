// Package httptransport assembles the public HTTP surface: lifecycle and
// admin handlers, health, and metrics. Handlers stay in their modules; this
// package only composes them.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sign-gateway/internal/platform/middleware"
	"sign-gateway/internal/provider"
	"sign-gateway/internal/transport/http/shared"
)

// HealthChecker reports one dependency's liveness.
type HealthChecker func(ctx context.Context) error

// Deps carries everything the router mounts.
type Deps struct {
	Logger    *slog.Logger
	Signing   Registrar
	Routing   Registrar
	Providers *provider.Registry
	// Checks maps a dependency name to its health probe. Nil probes are
	// skipped so optional dependencies (redis, kafka) cost nothing.
	Checks map[string]HealthChecker
}

// Registrar is any module handler that mounts itself on a chi router.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter builds the full server handler.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", handleHealth(deps))

	deps.Signing.Register(r)
	deps.Routing.Register(r)
	return r
}

type healthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Providers map[string]string `json:"providers,omitempty"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		status := http.StatusOK
		for name, check := range deps.Checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		if deps.Providers != nil {
			resp.Providers = map[string]string{}
			for providerType, health := range deps.Providers.Health(ctx) {
				if health.Healthy {
					resp.Providers[providerType.String()] = "ok"
				} else {
					resp.Providers[providerType.String()] = health.Detail
				}
			}
		}
		shared.WriteJSON(w, status, resp)
	}
}
