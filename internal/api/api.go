// Package api exposes the lead engine over HTTP: chat message intake,
// email signup, followup schedule inspection and cancellation, and the
// personalization snapshot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/cleandir/leadengine/internal/database"
	"github.com/cleandir/leadengine/internal/drip"
	"github.com/cleandir/leadengine/internal/lead"
	"github.com/cleandir/leadengine/internal/logger"
	"github.com/cleandir/leadengine/internal/memory"
)

// Handler holds the services behind the HTTP API.
type Handler struct {
	leads     *lead.Service
	scheduler *drip.Scheduler
	snapshots *memory.Aggregator
	store     database.Store
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(leads *lead.Service, scheduler *drip.Scheduler, snapshots *memory.Aggregator, store database.Store, log *slog.Logger) *Handler {
	return &Handler{
		leads:     leads,
		scheduler: scheduler,
		snapshots: snapshots,
		store:     store,
		validate:  validator.New(),
		logger:    log.With("component", "api"),
	}
}

// Routes builds the HTTP router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logger.Middleware(h.logger))

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat/messages", h.handleChatMessage)
		r.Post("/email-signup", h.handleEmailSignup)
		r.Get("/email-schedule/{sessionID}", h.handleEmailSchedule)
		r.Post("/cancel-emails/{sessionID}", h.handleCancelEmails)
		r.Get("/personalization/{sessionID}", h.handlePersonalization)
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	h.respondJSON(ctx, w, status, errorResponse{Error: msg})
}

// respondServiceError maps service errors onto HTTP statuses.
func (h *Handler) respondServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		h.respondError(ctx, w, http.StatusNotFound, "unknown session")
	case errors.Is(err, drip.ErrNoEmail):
		h.respondError(ctx, w, http.StatusBadRequest, "lead has no email address")
	default:
		h.logger.ErrorContext(ctx, "Request failed", "error", err)
		h.respondError(ctx, w, http.StatusInternalServerError, "internal error")
	}
}

// decodeAndValidate parses the JSON body into dst and runs struct
// validation. A false return means the error response was already sent.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondError(r.Context(), w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondError(r.Context(), w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.respondError(r.Context(), w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	h.respondJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}
