package handlers

import (
	"net/http"
	"strconv"

	"github.com/carelink/care-server/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// IntegrityHandler handles Merkle tree endpoints over the activity trail
type IntegrityHandler struct {
	svc    *services.AuditIntegrityService
	logger *zap.SugaredLogger
}

// NewIntegrityHandler creates a new integrity handler
func NewIntegrityHandler(svc *services.AuditIntegrityService, logger *zap.SugaredLogger) *IntegrityHandler {
	return &IntegrityHandler{svc: svc, logger: logger}
}

// GetRoot handles GET /api/v1/admin/audit/root
func (h *IntegrityHandler) GetRoot(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	root, err := h.svc.Root(r.Context(), actor)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.Header().Set("X-Merkle-Root", root.Root)
	respondJSON(w, http.StatusOK, root)
}

// GetProof handles GET /api/v1/admin/audit/proof/{index}
func (h *IntegrityHandler) GetProof(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid index")
		return
	}

	proof, err := h.svc.Proof(r.Context(), actor, index)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, proof)
}
