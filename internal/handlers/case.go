package handlers

import (
	"net/http"

	"github.com/carelink/care-server/internal/models"
	"github.com/carelink/care-server/internal/services"
	"go.uber.org/zap"
)

// CaseHandler handles case lifecycle endpoints for guardians and admins
type CaseHandler struct {
	svc    *services.CaseService
	logger *zap.SugaredLogger
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(svc *services.CaseService, logger *zap.SugaredLogger) *CaseHandler {
	return &CaseHandler{svc: svc, logger: logger}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// Create handles POST /api/v1/cases
func (h *CaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req models.CaseInput
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.svc.Create(r.Context(), actor, &req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// List handles GET /api/v1/cases
func (h *CaseHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	cases, err := h.svc.List(r.Context(), actor)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, cases)
}

// Get handles GET /api/v1/cases/{id}
func (h *CaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// GuardianAgree handles POST /api/v1/cases/{id}/agreement
// The response carries the caregiver link to hand over.
func (h *CaseHandler) GuardianAgree(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}

	c, token, err := h.svc.RecordGuardianAgreement(r.Context(), id, actor)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"case":           c,
		"token":          token.Token,
		"caregiver_link": h.svc.CaregiverLink(token.Token),
	})
}

// ResendLink handles POST /api/v1/cases/{id}/resend-link
func (h *CaseHandler) ResendLink(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Destination string `json:"destination"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.ResendLink(r.Context(), id, actor, req.Destination)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ForceEnd handles POST /api/v1/admin/cases/{id}/force-end
func (h *CaseHandler) ForceEnd(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.svc.ForceEnd(r.Context(), id, actor, req.Reason)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Complete handles POST /api/v1/admin/cases/{id}/complete
func (h *CaseHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Complete(r.Context(), id, actor)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Delete handles DELETE /api/v1/admin/cases/{id}
// The reason comes from the JSON body or the "reason" query parameter.
func (h *CaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	req := reasonRequest{Reason: r.URL.Query().Get("reason")}
	if req.Reason == "" && r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	if err := h.svc.DeleteCase(r.Context(), id, actor, req.Reason); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
