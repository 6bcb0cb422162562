// Package handlers contains HTTP request handlers for the care API.
// Handlers parse requests, call services, and return JSON responses.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/carelink/care-server/internal/middleware"
	"github.com/carelink/care-server/internal/models"
	"github.com/carelink/care-server/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps the service error taxonomy to HTTP statuses.
// Invalid and expired caregiver links are indistinguishable to the client.
func respondServiceError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	var validation *services.ValidationError
	var notReady *services.NotReadyError
	var dependency *services.DependencyError

	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": validation.Error(),
			"field": validation.Field,
		})
	case errors.Is(err, services.ErrInvalidDate):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notReady):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   "document requirements not met",
			"missing": notReady.Missing,
		})
	case errors.Is(err, services.ErrForbidden):
		respondError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, services.ErrInvalidToken), errors.Is(err, services.ErrExpiredToken):
		respondError(w, http.StatusNotFound, "Invalid link")
	case errors.Is(err, services.ErrNotFound):
		respondError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, services.ErrAlreadyAgreed),
		errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrLocked):
		respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &dependency):
		logger.Errorw("Dependency failure", "op", dependency.Op, "error", dependency.Err)
		respondError(w, http.StatusServiceUnavailable, "Service temporarily unavailable, please retry")
	default:
		logger.Errorw("Unhandled error", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func caseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid case id")
		return uuid.Nil, false
	}
	return id, true
}

func dateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	return parseDateField(w, "date", chi.URLParam(r, "date"))
}

func parseDateField(w http.ResponseWriter, field, value string) (time.Time, bool) {
	d, err := models.ParseDate(value)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "field": field})
		return time.Time{}, false
	}
	return d, true
}

func actorFrom(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authorization required")
	}
	return actor, ok
}
