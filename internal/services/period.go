package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PeriodService mutates the effective date range of a case. It never changes
// status, but writes are conditional on the status it read so a case that turns
// terminal concurrently is not edited.
type PeriodService struct {
	store         database.Store
	activity      *ActivityLogService
	clock         *Clock
	maxPeriodDays int
	logger        *zap.SugaredLogger
}

// DefaultMaxPeriodDays bounds a case period when no limit is configured.
const DefaultMaxPeriodDays = 366

// NewPeriodService creates a new period service. maxPeriodDays <= 0 selects DefaultMaxPeriodDays.
func NewPeriodService(store database.Store, activity *ActivityLogService, clock *Clock, maxPeriodDays int, logger *zap.SugaredLogger) *PeriodService {
	return &PeriodService{
		store:         store,
		activity:      activity,
		clock:         clock,
		maxPeriodDays: periodLimit(maxPeriodDays),
		logger:        logger,
	}
}

func periodLimit(days int) int {
	if days <= 0 {
		return DefaultMaxPeriodDays
	}
	return days
}

// checkPeriodLength rejects periods longer than maxDays.
func checkPeriodLength(field string, start, end time.Time, maxDays int) error {
	if days := models.PeriodDays(start, end); days > maxDays {
		return invalid(field, fmt.Sprintf("period spans %d days, at most %d allowed", days, maxDays))
	}
	return nil
}

// EndEarly moves the effective end earlier. The new end must lie in
// [max(startDate, today), currentEnd).
func (s *PeriodService) EndEarly(ctx context.Context, caseID uuid.UUID, actor models.Actor, newEnd time.Time, consentObtained bool) (*models.Case, error) {
	if !consentObtained {
		return nil, invalid("consent_obtained", "caregiver consent must be confirmed")
	}
	c, err := s.editable(ctx, caseID, actor)
	if err != nil {
		return nil, err
	}

	current := c.EffectiveEnd()
	switch {
	case newEnd.Before(c.StartDate):
		return nil, invalid("end_date", "must not be before the start date")
	case !newEnd.Before(current):
		return nil, invalid("end_date", "must be before the current end date "+models.FormatDate(current))
	case newEnd.Before(s.clock.Today()):
		return nil, invalid("end_date", "must not be in the past")
	}

	return s.apply(ctx, c, actor, models.ActionEarlyEnd, c.StartDate, newEnd, map[string]any{
		"from_end":         models.FormatDate(current),
		"to_end":           models.FormatDate(newEnd),
		"consent_obtained": true,
	})
}

// Extend moves the effective end strictly later.
func (s *PeriodService) Extend(ctx context.Context, caseID uuid.UUID, actor models.Actor, newEnd time.Time, consentObtained bool) (*models.Case, error) {
	if !consentObtained {
		return nil, invalid("consent_obtained", "caregiver consent must be confirmed")
	}
	c, err := s.editable(ctx, caseID, actor)
	if err != nil {
		return nil, err
	}

	current := c.EffectiveEnd()
	if !newEnd.After(current) {
		return nil, invalid("end_date", "must be after the current end date "+models.FormatDate(current))
	}
	if err := checkPeriodLength("end_date", c.StartDate, newEnd, s.maxPeriodDays); err != nil {
		return nil, err
	}

	return s.apply(ctx, c, actor, models.ActionExtend, c.StartDate, newEnd, map[string]any{
		"from_end":         models.FormatDate(current),
		"to_end":           models.FormatDate(newEnd),
		"consent_obtained": true,
	})
}

// AdminChangePeriod sets an arbitrary period. Only end >= start is enforced.
func (s *PeriodService) AdminChangePeriod(ctx context.Context, caseID uuid.UUID, actor models.Actor, start, end time.Time, reason *string) (*models.Case, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	if end.Before(start) {
		return nil, invalid("end_date", "must not be before the start date")
	}
	if err := checkPeriodLength("end_date", start, end, s.maxPeriodDays); err != nil {
		return nil, err
	}
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, storeErr("get case", err)
	}

	meta := map[string]any{
		"from_start": models.FormatDate(c.StartDate),
		"from_end":   models.FormatDate(c.EffectiveEnd()),
		"to_start":   models.FormatDate(start),
		"to_end":     models.FormatDate(end),
	}
	if r := trimmedOrNil(reason); r != nil {
		meta["reason"] = *r
	}
	return s.apply(ctx, c, actor, models.ActionChangePeriod, start, end, meta)
}

func (s *PeriodService) editable(ctx context.Context, caseID uuid.UUID, actor models.Actor) (*models.Case, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, storeErr("get case", err)
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, stateErr(ErrInvalidState, "case is %s", c.Status)
	}
	return c, nil
}

// apply persists the new range. The end goes into EndDateFinal when the case
// has been re-dated before or the change is a guardian edit; an admin edit of
// an untouched case rewrites the expected end instead.
func (s *PeriodService) apply(ctx context.Context, c *models.Case, actor models.Actor, action models.ActivityAction, start, end time.Time, meta map[string]any) (*models.Case, error) {
	updated := *c
	updated.StartDate = start
	if action == models.ActionChangePeriod && c.EndDateFinal == nil {
		updated.EndDateExpected = end
	} else {
		updated.EndDateFinal = &end
	}
	updated.UpdatedAt = s.clock.Now()

	if err := s.store.UpdateCase(ctx, &updated, c.Status); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, stateErr(ErrInvalidState, "case changed concurrently, reload and retry")
		}
		return nil, storeErr("update case period", err)
	}

	s.logger.Infow("Case period changed",
		"case_id", c.ID,
		"action", action,
		"start", models.FormatDate(start),
		"end", models.FormatDate(end),
	)
	s.activity.LogCommitted(ctx, c.ID, actor.ID, action, meta)
	return &updated, nil
}
