package services

import (
	"context"
	"errors"

	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DocumentService gates rendering behind the readiness check.
type DocumentService struct {
	store     database.Store
	readiness *ReadinessService
	renderer  Renderer
	sealer    *Sealer
	logger    *zap.SugaredLogger
}

// NewDocumentService creates a document service. A nil renderer makes every
// issuance fail with a DependencyError.
func NewDocumentService(store database.Store, readiness *ReadinessService, renderer Renderer, sealer *Sealer, logger *zap.SugaredLogger) *DocumentService {
	return &DocumentService{store: store, readiness: readiness, renderer: renderer, sealer: sealer, logger: logger}
}

// Issue renders the care certificate once every requirement is met.
// Unmet requirements come back as *NotReadyError.
func (s *DocumentService) Issue(ctx context.Context, caseID uuid.UUID, actor models.Actor) ([]byte, error) {
	ready, err := s.readiness.CheckReadiness(ctx, caseID, actor)
	if err != nil {
		return nil, err
	}
	if !ready.OK {
		return nil, &NotReadyError{Missing: ready.Missing}
	}

	data, err := s.collect(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if s.renderer == nil {
		return nil, &DependencyError{Op: "render document", Err: errors.New("renderer not configured")}
	}
	pdf, err := s.renderer.Render(ctx, data)
	if err != nil {
		s.logger.Errorw("Document rendering failed", "case_id", caseID, "error", err)
		return nil, &DependencyError{Op: "render document", Err: err}
	}

	s.logger.Infow("Document issued", "case_id", caseID, "actor", actor.ID, "bytes", len(pdf), "logs", len(data.Logs))
	return pdf, nil
}

func (s *DocumentService) collect(ctx context.Context, caseID uuid.UUID) (*models.DocumentData, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, storeErr("get case", err)
	}
	logs, err := s.store.ListCareLogs(ctx, caseID, true)
	if err != nil {
		return nil, storeErr("list care logs", err)
	}
	payment, err := s.store.GetPayment(ctx, caseID)
	if err != nil {
		return nil, storeErr("get payment", err)
	}

	data := &models.DocumentData{Case: c, Logs: logs, Payment: payment}
	if c.CaregiverBankInfo != nil {
		if data.Bank, err = openBankInfo(s.sealer, *c.CaregiverBankInfo); err != nil {
			return nil, err
		}
	}
	// The rendering service gets the opened bank details, never the sealed blob.
	data.Case = caregiverView(c)
	return data, nil
}

