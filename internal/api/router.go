// Package api exposes the session controller over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"rtscribe/internal/domain"
	"rtscribe/internal/usecase"
)

// Controller is the session surface served by the API.
type Controller interface {
	CheckPermission(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
	StartOver(ctx context.Context) error
	Configure(cfg domain.SessionConfig) error
	UpdateLiveConfig(live domain.LiveConfig) error
	SetDisplayOptions(opts domain.DisplayOptions)
	DisplayOptions() domain.DisplayOptions
	ListInputs(ctx context.Context) ([]domain.InputDevice, error)
	SelectInput(deviceID string)
	Status() domain.Status
	Transcript() domain.TranscriptSnapshot
}

// Handler serves the session endpoints.
type Handler struct {
	controller Controller
	logger     zerolog.Logger
}

// NewRouter builds the HTTP routes. gatherer backs /metrics.
func NewRouter(controller Controller, gatherer prometheus.Gatherer, logger zerolog.Logger) http.Handler {
	h := &Handler{controller: controller, logger: logger.With().Str("component", "api").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.GetHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", h.GetStatus)
		r.Post("/session/permission", h.CheckPermission)
		r.Post("/session/start", h.Start)
		r.Post("/session/stop", h.Stop)
		r.Post("/session/reset", h.Reset)
		r.Put("/session/config", h.Configure)
		r.Patch("/session/config", h.UpdateLiveConfig)
		r.Get("/session/display", h.GetDisplayOptions)
		r.Put("/session/display", h.SetDisplayOptions)
		r.Get("/transcript", h.GetTranscript)
		r.Get("/transcript/{format}", h.GetTranscript)
		r.Get("/inputs", h.ListInputs)
		r.Put("/inputs/selected", h.SelectInput)
	})
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"stage":  string(h.controller.Status().Stage),
	})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.controller.Status())
}

func (h *Handler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	h.runVerb(w, h.controller.CheckPermission(r.Context()))
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.runVerb(w, h.controller.Start(r.Context()))
}

func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.runVerb(w, h.controller.Stop(r.Context()))
}

// Reset restores the default configuration unless keepConfig=true.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("keepConfig") == "true" {
		h.runVerb(w, h.controller.StartOver(r.Context()))
		return
	}
	h.runVerb(w, h.controller.Reset(r.Context()))
}

// Configure replaces the session configuration. Omitted fields take their
// default values.
func (h *Handler) Configure(w http.ResponseWriter, r *http.Request) {
	cfg := domain.DefaultSessionConfig()
	if !decodeBody(w, r, &cfg) {
		return
	}
	h.runVerb(w, h.controller.Configure(cfg))
}

func (h *Handler) UpdateLiveConfig(w http.ResponseWriter, r *http.Request) {
	var live domain.LiveConfig
	if !decodeBody(w, r, &live) {
		return
	}
	h.runVerb(w, h.controller.UpdateLiveConfig(live))
}

func (h *Handler) GetDisplayOptions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.controller.DisplayOptions())
}

func (h *Handler) SetDisplayOptions(w http.ResponseWriter, r *http.Request) {
	opts := h.controller.DisplayOptions()
	if !decodeBody(w, r, &opts) {
		return
	}
	switch opts.EntitiesForm {
	case domain.EntitiesWritten, domain.EntitiesSpoken:
	default:
		writeError(w, http.StatusBadRequest, domain.ErrorKindConfig, "entitiesForm must be written or spoken")
		return
	}
	h.controller.SetDisplayOptions(opts)
	WriteJSON(w, http.StatusOK, h.controller.DisplayOptions())
}

// GetTranscript serves the snapshot as JSON, or one projection when a format
// of text or html is given.
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	snapshot := h.controller.Transcript()
	switch chi.URLParam(r, "format") {
	case "", "json":
		WriteJSON(w, http.StatusOK, snapshot)
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(snapshot.Text))
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(snapshot.HTML))
	default:
		http.Error(w, "Unknown transcript format", http.StatusNotFound)
	}
}

func (h *Handler) ListInputs(w http.ResponseWriter, r *http.Request) {
	inputs, err := h.controller.ListInputs(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to list inputs")
		writeError(w, http.StatusBadGateway, domain.KindOf(err), err.Error())
		return
	}
	if inputs == nil {
		inputs = []domain.InputDevice{}
	}
	WriteJSON(w, http.StatusOK, inputs)
}

type selectInputRequest struct {
	ID string `json:"id"`
}

func (h *Handler) SelectInput(w http.ResponseWriter, r *http.Request) {
	var req selectInputRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.controller.SelectInput(req.ID)
	w.WriteHeader(http.StatusNoContent)
}

// runVerb answers with the status after a verb, or the mapped error.
func (h *Handler) runVerb(w http.ResponseWriter, err error) {
	if err == nil {
		WriteJSON(w, http.StatusOK, h.controller.Status())
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn().Err(err).Msg("session verb failed")
	}
	writeError(w, status, domain.KindOf(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, usecase.ErrInvalidTransition), errors.Is(err, usecase.ErrStartCancelled):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	switch domain.KindOf(err) {
	case domain.ErrorKindConfig:
		return http.StatusBadRequest
	case domain.ErrorKindPermission:
		return http.StatusForbidden
	case domain.ErrorKindUnsupported:
		return http.StatusNotImplemented
	case domain.ErrorKindHandshakeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type errorResponse struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, message string) {
	if kind == domain.ErrorKindUnknown {
		kind = ""
	}
	WriteJSON(w, status, errorResponse{Error: message, Kind: kind})
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrorKindConfig, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
