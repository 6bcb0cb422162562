package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActivityLogService appends to and reads the admin audit trail
type ActivityLogService struct {
	store  database.Store
	clock  *Clock
	logger *zap.SugaredLogger
}

// NewActivityLogService creates a new activity log service
func NewActivityLogService(store database.Store, clock *Clock, logger *zap.SugaredLogger) *ActivityLogService {
	return &ActivityLogService{store: store, clock: clock, logger: logger}
}

// Log records an action against a case. meta is marshalled to JSON.
func (s *ActivityLogService) Log(ctx context.Context, caseID, actorID uuid.UUID, action models.ActivityAction, meta any) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal activity meta: %w", err)
	}

	entry := &models.ActivityLog{
		ID:        uuid.New(),
		CaseID:    caseID,
		ActorID:   actorID,
		Action:    action,
		Meta:      raw,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.AppendActivity(ctx, entry); err != nil {
		return &DependencyError{Op: "insert activity log", Err: err}
	}

	s.logger.Infow("Activity logged",
		"case_id", caseID,
		"actor", actorID,
		"action", action,
	)
	return nil
}

// LogCommitted records an action whose change has already persisted. A failed
// append is logged instead of returned so the caller still reports the change.
func (s *ActivityLogService) LogCommitted(ctx context.Context, caseID, actorID uuid.UUID, action models.ActivityAction, meta any) {
	if err := s.Log(ctx, caseID, actorID, action, meta); err != nil {
		s.logger.Errorw("Activity append failed after commit",
			"case_id", caseID,
			"actor", actorID,
			"action", action,
			"error", err,
		)
	}
}

// FetchByCase returns activity logs for a specific case, newest first
func (s *ActivityLogService) FetchByCase(ctx context.Context, actor models.Actor, caseID uuid.UUID, limit int) ([]models.ActivityLog, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	logs, err := s.store.ListActivityByCase(ctx, caseID, limit)
	if err != nil {
		return nil, storeErr("list activity", err)
	}
	return logs, nil
}

// FetchRecent returns recent activity logs across all cases
func (s *ActivityLogService) FetchRecent(ctx context.Context, actor models.Actor, limit int) ([]models.ActivityLog, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	logs, err := s.store.ListRecentActivity(ctx, limit)
	if err != nil {
		return nil, storeErr("list recent activity", err)
	}
	return logs, nil
}
