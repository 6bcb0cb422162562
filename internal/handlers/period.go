package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/carelink/care-server/internal/models"
	"github.com/carelink/care-server/internal/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PeriodHandler handles changes to a case's care period
type PeriodHandler struct {
	svc    *services.PeriodService
	logger *zap.SugaredLogger
}

// NewPeriodHandler creates a new period handler
func NewPeriodHandler(svc *services.PeriodService, logger *zap.SugaredLogger) *PeriodHandler {
	return &PeriodHandler{svc: svc, logger: logger}
}

type periodChangeRequest struct {
	NewEndDate      string `json:"new_end_date"`
	ConsentObtained bool   `json:"consent_obtained"`
}

type periodFunc func(ctx context.Context, caseID uuid.UUID, actor models.Actor, newEnd time.Time, consentObtained bool) (*models.Case, error)

type adminPeriodRequest struct {
	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
	Reason    *string `json:"reason,omitempty"`
}

// EndEarly handles POST /api/v1/cases/{id}/end-early
func (h *PeriodHandler) EndEarly(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.svc.EndEarly)
}

// Extend handles POST /api/v1/cases/{id}/extend
func (h *PeriodHandler) Extend(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.svc.Extend)
}

func (h *PeriodHandler) change(w http.ResponseWriter, r *http.Request, apply periodFunc) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	var req periodChangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	newEnd, ok := parseDateField(w, "new_end_date", req.NewEndDate)
	if !ok {
		return
	}

	c, err := apply(r.Context(), id, actor, newEnd, req.ConsentObtained)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// AdminChange handles PUT /api/v1/admin/cases/{id}/period
func (h *PeriodHandler) AdminChange(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	var req adminPeriodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, ok := parseDateField(w, "start_date", req.StartDate)
	if !ok {
		return
	}
	end, ok := parseDateField(w, "end_date", req.EndDate)
	if !ok {
		return
	}

	c, err := h.svc.AdminChangePeriod(r.Context(), id, actor, start, end, req.Reason)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}
