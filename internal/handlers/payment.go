package handlers

import (
	"net/http"

	"github.com/carelink/care-server/internal/models"
	"github.com/carelink/care-server/internal/services"
	"go.uber.org/zap"
)

// PaymentHandler handles the payment record of a case
type PaymentHandler struct {
	svc    *services.PaymentService
	logger *zap.SugaredLogger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(svc *services.PaymentService, logger *zap.SugaredLogger) *PaymentHandler {
	return &PaymentHandler{svc: svc, logger: logger}
}

// Save handles PUT /api/v1/cases/{id}/payment
func (h *PaymentHandler) Save(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	var req models.PaymentInput
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.svc.Save(r.Context(), actor, id, &req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Get handles GET /api/v1/cases/{id}/payment
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
