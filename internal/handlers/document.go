package handlers

import (
	"fmt"
	"net/http"

	"github.com/carelink/care-server/internal/services"
	"go.uber.org/zap"
)

// DocumentHandler handles readiness checks and certificate issuance
type DocumentHandler struct {
	readiness *services.ReadinessService
	documents *services.DocumentService
	logger    *zap.SugaredLogger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(readiness *services.ReadinessService, documents *services.DocumentService, logger *zap.SugaredLogger) *DocumentHandler {
	return &DocumentHandler{readiness: readiness, documents: documents, logger: logger}
}

// Readiness handles GET /api/v1/cases/{id}/readiness
func (h *DocumentHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}
	res, err := h.readiness.CheckReadiness(r.Context(), id, actor)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Issue handles GET /api/v1/cases/{id}/document
func (h *DocumentHandler) Issue(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := caseIDParam(w, r)
	if !ok {
		return
	}

	pdf, err := h.documents.Issue(r.Context(), id, actor)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "care-certificate-"+id.String()+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
