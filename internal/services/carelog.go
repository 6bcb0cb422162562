package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IsDateInWindow reports whether date lies in [startDate, effectiveEnd], both inclusive.
func IsDateInWindow(c *models.Case, date time.Time) bool {
	return !date.Before(c.StartDate) && !date.After(c.EffectiveEnd())
}

// ListableDates returns the window dates that are not in the future, oldest first.
// Future dates are writable but not yet listed.
func ListableDates(c *models.Case, today time.Time) []time.Time {
	last := c.EffectiveEnd()
	if today.Before(last) {
		last = today
	}
	var dates []time.Time
	for d := c.StartDate; !d.After(last); d = models.AddDays(d, 1) {
		dates = append(dates, d)
	}
	return dates
}

// CareLogService reads and writes daily care logs.
type CareLogService struct {
	store  database.Store
	tokens *AccessTokenService
	clock  *Clock
	logger *zap.SugaredLogger
}

// NewCareLogService creates a new care log service
func NewCareLogService(store database.Store, tokens *AccessTokenService, clock *Clock, logger *zap.SugaredLogger) *CareLogService {
	return &CareLogService{store: store, tokens: tokens, clock: clock, logger: logger}
}

// ListForCaregiver returns the caregiver's log view for the case behind token.
func (s *CareLogService) ListForCaregiver(ctx context.Context, token string) (*models.CareLogView, error) {
	c, err := s.caseForToken(ctx, token)
	if err != nil {
		return nil, err
	}

	logs, err := s.store.ListCareLogs(ctx, c.ID, true)
	if err != nil {
		return nil, storeErr("list care logs", err)
	}

	dates := ListableDates(c, s.clock.Today())
	view := &models.CareLogView{
		ListableDates: make([]string, 0, len(dates)),
		Logs:          logs,
	}
	for _, d := range dates {
		view.ListableDates = append(view.ListableDates, models.FormatDate(d))
	}
	if view.Logs == nil {
		view.Logs = []models.CareLog{}
	}
	return view, nil
}

// GetForCaregiver returns the active log for date on the case behind token.
func (s *CareLogService) GetForCaregiver(ctx context.Context, token string, date time.Time) (*models.CareLog, error) {
	c, err := s.caseForToken(ctx, token)
	if err != nil {
		return nil, err
	}
	log, err := s.store.GetCareLog(ctx, c.ID, date)
	if err != nil {
		return nil, storeErr("get care log", err)
	}
	if !log.IsActive {
		return nil, ErrNotFound
	}
	return log, nil
}

// UpsertForCaregiver writes the log for date through a caregiver link.
// Signed logs reject the write with ErrLocked.
func (s *CareLogService) UpsertForCaregiver(ctx context.Context, token string, date time.Time, in *models.CareLogInput) (*models.CareLog, error) {
	c, err := s.caseForToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if c.Status != models.StatusInProgress {
		return nil, stateErr(ErrInvalidState, "logs can only be written while the case is in progress, case is %s", c.Status)
	}
	return s.upsert(ctx, c.ID, date, in, false)
}

// AdminUpsert writes the log for date, overwriting a signed record if needed.
func (s *CareLogService) AdminUpsert(ctx context.Context, actor models.Actor, caseID uuid.UUID, date time.Time, in *models.CareLogInput) (*models.CareLog, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	return s.upsert(ctx, caseID, date, in, true)
}

// SetActive soft-deletes or restores a log.
func (s *CareLogService) SetActive(ctx context.Context, actor models.Actor, caseID uuid.UUID, date time.Time, active bool) error {
	if !actor.Admin {
		return ErrForbidden
	}
	if err := s.store.SetCareLogActive(ctx, caseID, date, active, s.clock.Now()); err != nil {
		return storeErr("set care log active", err)
	}
	s.logger.Infow("Care log active flag changed",
		"case_id", caseID,
		"date", models.FormatDate(date),
		"active", active,
		"actor", actor.ID,
	)
	return nil
}

// ListForCase returns the active logs of a case visible to actor.
func (s *CareLogService) ListForCase(ctx context.Context, actor models.Actor, caseID uuid.UUID) ([]models.CareLog, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, storeErr("get case", err)
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, err
	}
	logs, err := s.store.ListCareLogs(ctx, caseID, true)
	if err != nil {
		return nil, storeErr("list care logs", err)
	}
	return logs, nil
}

// upsert re-validates the window against the persisted period at write time;
// the period may have shrunk since the caller rendered its form. The store
// repeats the check atomically with the write.
func (s *CareLogService) upsert(ctx context.Context, caseID uuid.UUID, date time.Time, in *models.CareLogInput, privileged bool) (*models.CareLog, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, storeErr("get case", err)
	}
	if !IsDateInWindow(c, date) {
		return nil, stateErr(ErrInvalidDate, "%s is outside %s..%s",
			models.FormatDate(date), models.FormatDate(c.StartDate), models.FormatDate(c.EffectiveEnd()))
	}

	items, memo := in.Items, in.Memo
	if len(items) == 0 && memo == "" && in.Content != "" {
		items, memo = models.ParseLegacyContent(in.Content)
	}

	var signature *string
	if in.Signature != nil && strings.TrimSpace(*in.Signature) != "" {
		signature = in.Signature
	}

	now := s.clock.Now()
	log := &models.CareLog{
		ID:            uuid.New(),
		CaseID:        caseID,
		Date:          date,
		Items:         models.NormalizeItems(items),
		Memo:          strings.TrimSpace(memo),
		IsActive:      true,
		SignatureData: signature,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	saved, err := s.store.UpsertCareLog(ctx, log, privileged)
	switch {
	case errors.Is(err, database.ErrLocked):
		s.logger.Infow("Care log write rejected, record is signed", "case_id", caseID, "date", models.FormatDate(date))
		return nil, ErrLocked
	case errors.Is(err, database.ErrOutOfWindow):
		return nil, stateErr(ErrInvalidDate, "%s is outside the current case period", models.FormatDate(date))
	case err != nil:
		return nil, storeErr("upsert care log", err)
	}

	s.logger.Infow("Care log saved",
		"case_id", caseID,
		"date", models.FormatDate(date),
		"signed", saved.Signed(),
		"privileged", privileged,
	)
	return saved, nil
}

func (s *CareLogService) caseForToken(ctx context.Context, token string) (*models.Case, error) {
	caseID, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	c, err := s.store.GetCase(ctx, caseID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, storeErr("get case", err)
	}
	return c, nil
}
