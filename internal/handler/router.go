package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/observability"
	"github.com/boddenberg/wallet-bridge-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Deps groups the services the router serves.
type Deps struct {
	Coordinator *service.Coordinator
	Sensors     *service.Sensors
	Credentials *service.Credentials
	Metrics     *observability.Metrics
	AdminSecret []byte
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(deps Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(deps.Coordinator))
	r.Get("/readyz", readyzHandler(deps.Coordinator))
	r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/snapshot", snapshotHandler(deps.Coordinator, deps.Sensors, logger))
		r.Get("/sensors", listSensorsHandler(deps.Sensors))
		r.Get("/sensors/{sensorId}", getSensorHandler(deps.Sensors, logger))
		r.Get("/status", statusHandler(deps.Coordinator, deps.Metrics))

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(deps.AdminSecret, logger))
			r.Post("/refresh", refreshHandler(deps.Coordinator, logger))
			r.Post("/credential/validate", validateCredentialHandler(deps.Credentials, logger))
			r.Post("/reauth", reauthHandler(deps.Credentials, logger))
		})
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(coord *service.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		refresh := domain.ServiceHealth{Name: "wallet-refresh", Status: "healthy", LastChecked: now}
		snap := coord.Snapshot()
		switch {
		case coord.NeedsReauth():
			refresh.Status = "unhealthy"
			refresh.Detail = "re-authentication required"
		case snap == nil:
			refresh.Status = "unhealthy"
			refresh.Detail = "no snapshot committed yet"
		case !snap.Fresh():
			refresh.Status = "degraded"
			refresh.Detail = *snap.LastError
		}

		services := []domain.ServiceHealth{
			{Name: "wallet-bridge", Status: "healthy", LastChecked: now},
			refresh,
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler(coord *service.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coord.Snapshot() == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func statusHandler(coord *service.Coordinator, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := metrics.GetRefreshStats()
		stats.NeedsReauth = coord.NeedsReauth()
		stats.InFlight = coord.InFlight()
		writeJSON(w, http.StatusOK, stats)
	}
}

// ============================================================
// Snapshot & sensors
// ============================================================

func snapshotHandler(coord *service.Coordinator, sensors *service.Sensors, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := coord.Snapshot()
		if snap == nil {
			handleServiceError(w, domain.ErrNoSnapshot, logger)
			return
		}
		writeJSON(w, http.StatusOK, snap.View(sensors.MaxTransactions()))
	}
}

func listSensorsHandler(sensors *service.Sensors) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sensors.List())
	}
}

func getSensorHandler(sensors *service.Sensors, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sensor, err := sensors.Get(chi.URLParam(r, "sensorId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sensor)
	}
}

// ============================================================
// Admin
// ============================================================

func refreshHandler(coord *service.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coord.NeedsReauth() {
			writeError(w, http.StatusUnauthorized, "re-authentication required")
			return
		}
		// The refresh outlives the request.
		if !coord.Trigger(context.WithoutCancel(r.Context())) {
			handleServiceError(w, domain.ErrRefreshInFlight, logger)
			return
		}
		logger.Info("manual refresh started", zap.String("requested_by", AdminSubjectFromContext(r.Context())))
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
	}
}

func validateCredentialHandler(creds *service.Credentials, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.ValidateCredential")
		defer span.End()

		req, err := decodeTokenRequest(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if err := creds.Validate(ctx, req.Token); err != nil {
			span.SetAttributes(attribute.Bool("credential.valid", false))
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Bool("credential.valid", true))
		writeJSON(w, http.StatusOK, domain.TokenResponse{Valid: true})
	}
}

func reauthHandler(creds *service.Credentials, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.Reauth")
		defer span.End()

		req, err := decodeTokenRequest(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if err := creds.Reauthenticate(ctx, req.Token); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.TokenResponse{Valid: true})
	}
}
