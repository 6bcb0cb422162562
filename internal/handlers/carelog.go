package handlers

import (
	"fmt"
	"net/http"

	"github.com/carelink/care-server/internal/models"
	"github.com/carelink/care-server/internal/services"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// CareLogHandler handles guardian and admin access to daily care logs
type CareLogHandler struct {
	logs   *services.CareLogService
	export *services.ExportService
	logger *zap.SugaredLogger
}

// NewCareLogHandler creates a new care log handler
func NewCareLogHandler(logs *services.CareLogService, export *services.ExportService, logger *zap.SugaredLogger) *CareLogHandler {
	return &CareLogHandler{logs: logs, export: export, logger: logger}
}

// List handles GET /api/v1/cases/{id}/logs
func (h *CareLogHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	logs, err := h.logs.ListForCase(r.Context(), actor, id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// Export handles GET /api/v1/cases/{id}/logs/export
func (h *CareLogHandler) Export(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}

	data, filename, err := h.export.ExportCareLogs(r.Context(), actor, id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// AdminUpsert handles PUT /api/v1/admin/cases/{id}/logs/{date}
// Admins may overwrite signed logs.
func (h *CareLogHandler) AdminUpsert(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	date, ok := dateParam(w, r)
	if !ok {
		return
	}
	var req models.CareLogInput
	if !decodeJSON(w, r, &req) {
		return
	}

	log, err := h.logs.AdminUpsert(r.Context(), actor, id, date, &req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, log)
}

// SetActive handles PATCH /api/v1/admin/cases/{id}/logs/{date}
func (h *CareLogHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	date, ok := dateParam(w, r)
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "is_active is required", "field": "is_active"})
		return
	}

	if err := h.logs.SetActive(r.Context(), actor, id, date, *req.IsActive); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"date":      models.FormatDate(date),
		"is_active": *req.IsActive,
	})
}
