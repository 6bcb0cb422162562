package services

import (
	"context"

	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentService stores the single payment record of a case.
type PaymentService struct {
	store  database.Store
	clock  *Clock
	logger *zap.SugaredLogger
}

func NewPaymentService(store database.Store, clock *Clock, logger *zap.SugaredLogger) *PaymentService {
	return &PaymentService{store: store, clock: clock, logger: logger}
}

// Save creates the payment on first call and updates it in place afterwards.
func (s *PaymentService) Save(ctx context.Context, actor models.Actor, caseID uuid.UUID, in *models.PaymentInput) (*models.Payment, error) {
	if in.TotalAmount < 0 {
		return nil, invalid("total_amount", "must not be negative")
	}
	paidAt, err := models.ParseDate(in.PaidAt)
	if err != nil {
		return nil, invalid("paid_at", err.Error())
	}

	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, storeErr("get case", err)
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	saved, err := s.store.UpsertPayment(ctx, &models.Payment{
		ID:          uuid.New(),
		CaseID:      caseID,
		TotalAmount: in.TotalAmount,
		PaidAt:      paidAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, storeErr("upsert payment", err)
	}

	s.logger.Infow("Payment saved", "case_id", caseID, "total_amount", saved.TotalAmount)
	return saved, nil
}

// Get returns the payment of a case visible to actor.
func (s *PaymentService) Get(ctx context.Context, actor models.Actor, caseID uuid.UUID) (*models.Payment, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, storeErr("get case", err)
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, err
	}
	p, err := s.store.GetPayment(ctx, caseID)
	if err != nil {
		return nil, storeErr("get payment", err)
	}
	return p, nil
}
