package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wpeva/new-undetect-browser-sub005/internal/adaptive"
)

// API is the control surface consumed by the dashboard layer: manual cycle
// triggering, active config, histories, statistics, and schedule control.
type API struct {
	auth       *Auth
	controller *adaptive.Controller
	sessions   adaptive.SessionFactory
	obs        *Observability
	logger     *slog.Logger
}

func NewAPI(auth *Auth, controller *adaptive.Controller, sessions adaptive.SessionFactory, obs *Observability, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		auth:       auth,
		controller: controller,
		sessions:   sessions,
		obs:        obs,
		logger:     logger,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)

	mux.Handle("POST /api/v1/cycles", a.auth.RequireAdmin(http.HandlerFunc(a.handleRunCycle)))
	mux.Handle("GET /api/v1/config", a.auth.RequireAdmin(http.HandlerFunc(a.handleActiveConfig)))
	mux.Handle("GET /api/v1/history/detections", a.auth.RequireAdmin(http.HandlerFunc(a.handleDetectionHistory)))
	mux.Handle("GET /api/v1/history/updates", a.auth.RequireAdmin(http.HandlerFunc(a.handleUpdateHistory)))
	mux.Handle("GET /api/v1/statistics", a.auth.RequireAdmin(http.HandlerFunc(a.handleStatistics)))
	mux.Handle("POST /api/v1/schedule/start", a.auth.RequireAdmin(http.HandlerFunc(a.handleScheduleStart)))
	mux.Handle("POST /api/v1/schedule/stop", a.auth.RequireAdmin(http.HandlerFunc(a.handleScheduleStop)))

	wrapped := otelhttp.NewHandler(mux, "adaptd-http")
	return withCORS(wrapped)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("adaptd").Start(r.Context(), "control.run_cycle")
	defer span.End()

	session, release, err := a.sessions(ctx)
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusBadGateway, "browser session unavailable: "+err.Error())
		return
	}
	if release != nil {
		defer release()
	}

	result, err := a.controller.RunCycle(ctx, session)
	span.SetAttributes(
		attribute.Bool("cycle.deployed", result.Deployed),
		attribute.String("cycle.reason", result.Reason),
	)
	if result.Reason == adaptive.ReasonAlreadyRunning {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	if err != nil {
		span.RecordError(err)
		a.logger.Error("manual cycle failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleActiveConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.controller.ActiveConfig())
}

func (a *API) handleDetectionHistory(w http.ResponseWriter, r *http.Request) {
	reports, err := a.controller.DetectionHistory(r.Context(), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (a *API) handleUpdateHistory(w http.ResponseWriter, r *http.Request) {
	results, err := a.controller.UpdateHistory(r.Context(), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *API) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := a.controller.Statistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleScheduleStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IntervalHours float64 `json:"interval_hours"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.IntervalHours <= 0 {
		writeError(w, http.StatusBadRequest, "interval_hours must be positive")
		return
	}
	interval := time.Duration(body.IntervalHours * float64(time.Hour))
	if err := a.controller.StartSchedule(interval, a.sessions); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, adaptive.ErrScheduleRunning) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scheduled":      true,
		"interval_hours": body.IntervalHours,
	})
}

func (a *API) handleScheduleStop(w http.ResponseWriter, r *http.Request) {
	a.controller.StopSchedule()
	writeJSON(w, http.StatusOK, map[string]any{"scheduled": false})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
