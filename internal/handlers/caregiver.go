package handlers

import (
	"net/http"

	"github.com/carelink/care-server/internal/models"
	"github.com/carelink/care-server/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CaregiverHandler serves the unauthenticated caregiver link.
// The token in the path is the caregiver's only credential.
type CaregiverHandler struct {
	cases  *services.CaseService
	logs   *services.CareLogService
	logger *zap.SugaredLogger
}

// NewCaregiverHandler creates a new caregiver handler
func NewCaregiverHandler(cases *services.CaseService, logs *services.CareLogService, logger *zap.SugaredLogger) *CaregiverHandler {
	return &CaregiverHandler{cases: cases, logs: logs, logger: logger}
}

// Resolve handles GET /api/v1/c/{token}
func (h *CaregiverHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	res, err := h.cases.ResolveToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Agree handles POST /api/v1/c/{token}/agreement
func (h *CaregiverHandler) Agree(w http.ResponseWriter, r *http.Request) {
	var req models.CaregiverAgreement
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.cases.RecordCaregiverAgreement(r.Context(), chi.URLParam(r, "token"), &req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ListLogs handles GET /api/v1/c/{token}/logs
func (h *CaregiverHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	view, err := h.logs.ListForCaregiver(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// GetLog handles GET /api/v1/c/{token}/logs/{date}
func (h *CaregiverHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r)
	if !ok {
		return
	}
	log, err := h.logs.GetForCaregiver(r.Context(), chi.URLParam(r, "token"), date)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, log)
}

// UpsertLog handles PUT /api/v1/c/{token}/logs/{date}
func (h *CaregiverHandler) UpsertLog(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r)
	if !ok {
		return
	}
	var req models.CareLogInput
	if !decodeJSON(w, r, &req) {
		return
	}

	log, err := h.logs.UpsertForCaregiver(r.Context(), chi.URLParam(r, "token"), date, &req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, log)
}
