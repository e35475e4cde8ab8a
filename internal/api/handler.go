// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/describe"
	"github.com/technosupport/ts-events/internal/middleware"
	"github.com/technosupport/ts-events/internal/pipeline"
	"github.com/technosupport/ts-events/internal/rules"
)

type Pipeline interface {
	AnalyzeNow(ctx context.Context, cameraID string, frames []data.Frame) (*data.Event, error)
	Reanalyze(ctx context.Context, id uuid.UUID, frames []data.Frame) (*data.Event, []rules.RuleMatch, error)
	DisableCamera(ctx context.Context, cameraID string) error
	EnableCamera(ctx context.Context, cameraID string) error
	Thumbnails() *pipeline.ThumbnailCache
}

type EventReader interface {
	Get(ctx context.Context, id uuid.UUID) (*data.Event, error)
	AppendFeedback(ctx context.Context, id uuid.UUID, f data.Feedback) error
	ListRecent(ctx context.Context, cameraID string, limit int) ([]*data.Event, error)
}

type DeliveryLister interface {
	ListForEvent(ctx context.Context, eventID uuid.UUID) ([]data.DeliveryAttempt, error)
}

type RuleTester interface {
	DryRun(ctx context.Context, e *data.Event) ([]rules.RuleMatch, error)
}

type CameraLister interface {
	All() []data.CameraSource
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	Pipeline   Pipeline
	Events     EventReader
	Deliveries DeliveryLister
	Rules      RuleTester
	Cameras    CameraLister
	DB         Pinger
	// WS serves the realtime websocket, e.g. (*realtime.Hub).ServeWS.
	WS http.HandlerFunc
	// AnalyzeLimit wraps the analyze and re-analyze routes when set.
	AnalyzeLimit *middleware.RateLimitMiddleware
	MaxUpload    int64
}

// Routes builds the HTTP router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger, middleware.Metrics, middleware.CORS)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	if h.WS != nil {
		r.Get("/ws", h.WS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/cameras", h.ListCameras)
		r.Get("/cameras/{id}/events", h.ListCameraEvents)
		r.Post("/cameras/{id}/enable", h.EnableCamera)
		r.Post("/cameras/{id}/disable", h.DisableCamera)

		r.Get("/events/{id}", h.GetEvent)
		r.Get("/events/{id}/thumbnail", h.GetThumbnail)
		r.Get("/events/{id}/deliveries", h.ListDeliveries)
		r.Post("/events/{id}/feedback", h.Feedback)

		r.Post("/rules/test", h.TestRules)

		r.Group(func(r chi.Router) {
			if h.AnalyzeLimit != nil {
				r.Use(h.AnalyzeLimit.Handler)
			}
			r.Post("/cameras/{id}/analyze", h.Analyze)
			r.Post("/events/{id}/reanalyze", h.Reanalyze)
		})
	})
	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondPipelineError maps pipeline and store errors to status codes.
func respondPipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, data.ErrRecordNotFound), errors.Is(err, pipeline.ErrUnknownCamera):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrCameraDisabled), errors.Is(err, pipeline.ErrTriggerCancelled):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, describe.ErrCaptureFailure), errors.Is(err, data.ErrInvalidEvent):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, describe.ErrAllProvidersExhausted):
		respondError(w, http.StatusBadGateway, "no description provider produced a usable answer")
	default:
		log.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func eventID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid event ID")
		return uuid.Nil, false
	}
	return id, true
}

// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "database": "skipped"}
	code := http.StatusOK
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["database"] = "ok"
		}
	}
	respondJSON(w, code, status)
}
