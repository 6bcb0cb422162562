package handlers

import (
	"net/http"
	"strconv"

	"github.com/carelink/care-server/internal/services"
	"go.uber.org/zap"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// ActivityHandler handles activity log endpoints
type ActivityHandler struct {
	svc    *services.ActivityLogService
	logger *zap.SugaredLogger
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(svc *services.ActivityLogService, logger *zap.SugaredLogger) *ActivityHandler {
	return &ActivityHandler{svc: svc, logger: logger}
}

// ByCase handles GET /api/v1/admin/cases/{id}/activity
func (h *ActivityHandler) ByCase(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}

	logs, err := h.svc.FetchByCase(r.Context(), actor, id, limitParam(r))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// Recent handles GET /api/v1/admin/activity/recent
func (h *ActivityHandler) Recent(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	logs, err := h.svc.FetchRecent(r.Context(), actor, limitParam(r))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultActivityLimit
	}
	if limit > maxActivityLimit {
		return maxActivityLimit
	}
	return limit
}
