// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	service "github.com/okian/sensorlink/internal/app"
	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/internal/domain/resample"
)

const defaultRequestTimeout = 30 * time.Second

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	AnalysisDependencies
	JobDependencies
	SensorDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	analysisHandler *AnalysisHandler
	jobsHandler     *JobsHandler
	sensorsHandler  *SensorsHandler
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	requestTimeout time.Duration
}

// WithRequestTimeout bounds synchronous analyses.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	o := serverOptions{requestTimeout: defaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		analysisHandler: NewAnalysisHandler(deps, o.requestTimeout),
		jobsHandler:     NewJobsHandler(deps),
		sensorsHandler:  NewSensorsHandler(deps),
	}
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r *mux.Router) {
	r.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz")).Methods(http.MethodGet)
	r.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats")).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.healthHandler.HandleMetrics).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/rank", MetricsMiddleware(s.analysisHandler.HandleRank, "rank")).Methods(http.MethodPost)
	v1.HandleFunc("/correlation", MetricsMiddleware(s.analysisHandler.HandleCorrelation, "correlation")).Methods(http.MethodPost)
	v1.HandleFunc("/preview", MetricsMiddleware(s.analysisHandler.HandlePreview, "preview")).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", MetricsMiddleware(s.jobsHandler.HandleSubmit, "jobs")).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}", MetricsMiddleware(s.jobsHandler.HandleGet, "jobs")).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", MetricsMiddleware(s.jobsHandler.HandleCancel, "jobs")).Methods(http.MethodDelete)
	v1.HandleFunc("/sensors", MetricsMiddleware(s.sensorsHandler.HandleList, "sensors")).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps service and domain error kinds onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrUnknownSensor):
		return http.StatusNotFound, "unknown_sensor"
	case errors.Is(err, service.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, resample.ErrDependencyCycle),
		errors.Is(err, resample.ErrDependencyDepth),
		errors.Is(err, resample.ErrInvalidFormula):
		return http.StatusUnprocessableEntity, "invalid_dependency"
	case errors.Is(err, service.ErrJobFinished):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrBackpressure), errors.Is(err, service.ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// SensorDependencies lists the catalog.
type SensorDependencies interface {
	Sensors(ctx context.Context) ([]model.Sensor, error)
}

// SensorsHandler handles catalog requests.
type SensorsHandler struct {
	deps SensorDependencies
}

// NewSensorsHandler creates a new sensors handler.
func NewSensorsHandler(deps SensorDependencies) *SensorsHandler {
	return &SensorsHandler{deps: deps}
}

type sensorsResponse struct {
	Sensors []model.Sensor `json:"sensors"`
}

// HandleList handles GET /v1/sensors, optionally filtered by ?node_id=.
func (h *SensorsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_sensors"
	all, err := h.deps.Sensors(r.Context())
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	node := r.URL.Query().Get("node_id")
	out := make([]model.Sensor, 0, len(all))
	for _, s := range all {
		if node == "" || s.NodeID == node {
			out = append(out, s)
		}
	}
	writeJSON(w, http.StatusOK, sensorsResponse{Sensors: out})
}
