package services

import (
	"context"
	"errors"

	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
)

const (
	MissingGuardianAgreement  = "guardian agreement missing"
	MissingCaregiverAgreement = "caregiver agreement missing"
	MissingCareLogs           = "no care logs recorded"
	MissingPayment            = "payment information missing"
)

// ReadinessService decides whether a case may proceed to document rendering.
type ReadinessService struct {
	store database.Store
}

// NewReadinessService creates a new readiness service
func NewReadinessService(store database.Store) *ReadinessService {
	return &ReadinessService{store: store}
}

// CheckReadiness runs every requirement check and returns all unmet ones.
// An ownership failure is ErrForbidden, not a missing requirement.
func (s *ReadinessService) CheckReadiness(ctx context.Context, caseID uuid.UUID, actor models.Actor) (*models.Readiness, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, storeErr("get case", err)
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, err
	}

	missing := []string{}
	if c.GuardianAgreedAt == nil {
		missing = append(missing, MissingGuardianAgreement)
	}
	if c.CaregiverAgreedAt == nil {
		missing = append(missing, MissingCaregiverAgreement)
	}

	n, err := s.store.CountActiveCareLogs(ctx, caseID)
	if err != nil {
		return nil, storeErr("count care logs", err)
	}
	if n == 0 {
		missing = append(missing, MissingCareLogs)
	}

	_, err = s.store.GetPayment(ctx, caseID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		missing = append(missing, MissingPayment)
	case err != nil:
		return nil, storeErr("get payment", err)
	}

	if len(missing) > 0 {
		return &models.Readiness{Missing: missing}, nil
	}
	return &models.Readiness{OK: true}, nil
}
