// Package services contains the case lifecycle core.
// Services are called by handlers and persist through database.Store.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	minReasonLength       = 5
	maxTransitionAttempts = 3
)

// CaseService owns the case status machine. Every transition is a single
// conditional update on the prior status and row version, so a concurrent loser
// observes ErrAlreadyAgreed or ErrInvalidState instead of overwriting the winner.
type CaseService struct {
	store         database.Store
	tokens        *AccessTokenService
	activity      *ActivityLogService
	notifier      Notifier
	sealer        *Sealer
	clock         *Clock
	publicBaseURL string
	maxPeriodDays int
	logger        *zap.SugaredLogger
}

// CaseServiceDeps groups the collaborators of CaseService.
type CaseServiceDeps struct {
	Store         database.Store
	Tokens        *AccessTokenService
	Activity      *ActivityLogService
	Notifier      Notifier
	Sealer        *Sealer
	Clock         *Clock
	PublicBaseURL string
	// MaxPeriodDays caps the case period; <= 0 selects DefaultMaxPeriodDays.
	MaxPeriodDays int
	Logger        *zap.SugaredLogger
}

// NewCaseService creates a new case service
func NewCaseService(deps CaseServiceDeps) *CaseService {
	return &CaseService{
		store:         deps.Store,
		tokens:        deps.Tokens,
		activity:      deps.Activity,
		notifier:      deps.Notifier,
		sealer:        deps.Sealer,
		clock:         deps.Clock,
		publicBaseURL: strings.TrimRight(deps.PublicBaseURL, "/"),
		maxPeriodDays: periodLimit(deps.MaxPeriodDays),
		logger:        deps.Logger,
	}
}

// Create stores a new case owned by the acting guardian.
func (s *CaseService) Create(ctx context.Context, actor models.Actor, in *models.CaseInput) (*models.Case, error) {
	if actor.Admin {
		return nil, ErrForbidden
	}
	name := strings.TrimSpace(in.PatientName)
	if name == "" {
		return nil, invalid("patient_name", "is required")
	}
	if in.DailyWage < 0 {
		return nil, invalid("daily_wage", "must not be negative")
	}
	start, err := models.ParseDate(in.StartDate)
	if err != nil {
		return nil, invalid("start_date", err.Error())
	}
	end, err := models.ParseDate(in.EndDateExpected)
	if err != nil {
		return nil, invalid("end_date_expected", err.Error())
	}
	if end.Before(start) {
		return nil, invalid("end_date_expected", "must not be before the start date")
	}
	if err := checkPeriodLength("end_date_expected", start, end, s.maxPeriodDays); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	c := &models.Case{
		ID:              uuid.New(),
		GuardianID:      actor.ID,
		PatientName:     name,
		HospitalName:    trimmedOrNil(in.HospitalName),
		Diagnosis:       trimmedOrNil(in.Diagnosis),
		DailyWage:       in.DailyWage,
		StartDate:       start,
		EndDateExpected: end,
		Status:          models.StatusGuardianPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateCase(ctx, c); err != nil {
		return nil, storeErr("insert case", err)
	}

	s.logger.Infow("Case created", "case_id", c.ID, "guardian_id", actor.ID)
	return c, nil
}

// Get returns a case visible to the actor.
func (s *CaseService) Get(ctx context.Context, actor models.Actor, caseID uuid.UUID) (*models.Case, error) {
	c, err := s.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns the guardian's own cases, or every case for an admin.
func (s *CaseService) List(ctx context.Context, actor models.Actor) ([]models.Case, error) {
	var guardian *uuid.UUID
	if !actor.Admin {
		guardian = &actor.ID
	}
	cases, err := s.store.ListCases(ctx, guardian)
	if err != nil {
		return nil, storeErr("list cases", err)
	}
	return cases, nil
}

// RecordGuardianAgreement moves the case out of GUARDIAN_PENDING and issues the caregiver token.
func (s *CaseService) RecordGuardianAgreement(ctx context.Context, caseID uuid.UUID, actor models.Actor) (*models.Case, *models.AccessToken, error) {
	c, err := s.load(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, nil, err
	}
	if c.GuardianAgreedAt != nil {
		return nil, nil, stateErr(ErrAlreadyAgreed, "guardian agreement already recorded")
	}

	now := s.clock.Now()
	err = s.transition(ctx, c, models.TransitionGuardianAgree, func(next *models.Case) {
		next.GuardianAgreedAt = &now
	})
	if err != nil {
		return nil, nil, s.explainLostTransition(ctx, caseID, err, func(cur *models.Case) bool {
			return cur.GuardianAgreedAt != nil
		})
	}

	token, err := s.tokens.Issue(ctx, c.ID)
	if err != nil {
		// The agreement stands; the link can be re-issued through ResendLink.
		s.logger.Errorw("Token issuance failed after guardian agreement", "case_id", c.ID, "error", err)
		return c, nil, err
	}

	s.logger.Infow("Guardian agreement recorded", "case_id", c.ID, "actor", actor.ID)
	return c, token, nil
}

// ResolveToken resolves a caregiver link and tells the caller which view to show.
func (s *CaseService) ResolveToken(ctx context.Context, token string) (*models.TokenResolution, error) {
	c, err := s.caseForToken(ctx, token)
	if err != nil {
		return nil, err
	}
	view := models.ViewAgreement
	if c.CaregiverAgreedAt != nil {
		view = models.ViewLogs
	}
	return &models.TokenResolution{
		Case:              caregiverView(c),
		CaregiverAgreedAt: c.CaregiverAgreedAt,
		NextView:          view,
	}, nil
}

// RecordCaregiverAgreement binds the caregiver profile to the case and starts it.
func (s *CaseService) RecordCaregiverAgreement(ctx context.Context, token string, in *models.CaregiverAgreement) (*models.Case, error) {
	c, err := s.caseForToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if c.CaregiverAgreedAt != nil || c.Status == models.StatusInProgress {
		return nil, stateErr(ErrAlreadyAgreed, "caregiver agreement already recorded")
	}
	if c.Status != models.StatusCaregiverPending {
		return nil, stateErr(ErrInvalidState, "case is %s", c.Status)
	}

	required := []struct{ field, value string }{
		{"name", in.Name},
		{"contact", in.Contact},
		{"birth_date", in.BirthDate},
		{"bank_name", in.BankName},
		{"account_number", in.AccountNumber},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, invalid(r.field, "is required")
		}
	}

	bank, err := json.Marshal(models.BankInfo{
		BankName:      strings.TrimSpace(in.BankName),
		AccountNumber: strings.TrimSpace(in.AccountNumber),
		AccountHolder: strings.TrimSpace(in.AccountHolder),
	})
	if err != nil {
		return nil, &DependencyError{Op: "encode bank info", Err: err}
	}
	sealed, err := s.sealer.Seal(bank)
	if err != nil {
		return nil, &DependencyError{Op: "seal bank info", Err: err}
	}

	now := s.clock.Now()
	err = s.transition(ctx, c, models.TransitionCaregiverAgree, func(next *models.Case) {
		next.CaregiverName = strPtr(strings.TrimSpace(in.Name))
		next.CaregiverContact = strPtr(strings.TrimSpace(in.Contact))
		next.CaregiverBirthDate = strPtr(strings.TrimSpace(in.BirthDate))
		next.CaregiverBankInfo = &sealed
		next.CaregiverAgreedAt = &now
	})
	if err != nil {
		return nil, s.explainLostTransition(ctx, c.ID, err, func(cur *models.Case) bool {
			return cur.CaregiverAgreedAt != nil
		})
	}

	s.logger.Infow("Caregiver agreement recorded", "case_id", c.ID)
	return caregiverView(c), nil
}

// ForceEnd cancels a non-terminal case on an admin's authority.
func (s *CaseService) ForceEnd(ctx context.Context, caseID uuid.UUID, actor models.Actor, reason string) (*models.Case, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}
	c, err := s.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, stateErr(ErrInvalidState, "case is already %s", c.Status)
	}

	from := c.Status
	if err := s.transition(ctx, c, models.TransitionForceEnd, nil); err != nil {
		return nil, s.explainLostTransition(ctx, caseID, err, nil)
	}

	s.activity.LogCommitted(ctx, c.ID, actor.ID, models.ActionForceEnd, map[string]any{
		"reason": reason,
		"from":   from,
	})
	return c, nil
}

// Complete closes an in-progress case. It is an explicit admin action.
func (s *CaseService) Complete(ctx context.Context, caseID uuid.UUID, actor models.Actor) (*models.Case, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	c, err := s.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, c, models.TransitionComplete, nil); err != nil {
		return nil, s.explainLostTransition(ctx, caseID, err, nil)
	}
	s.activity.LogCommitted(ctx, c.ID, actor.ID, models.ActionComplete, map[string]any{
		"effective_end": models.FormatDate(c.EffectiveEnd()),
	})
	return c, nil
}

// DeleteCase removes a case and everything hanging off it in a fixed order:
// token, care logs, payment, the audit entry for the deletion, then the case.
// A failure stops the cascade and reports the step that failed.
func (s *CaseService) DeleteCase(ctx context.Context, caseID uuid.UUID, actor models.Actor, reason string) error {
	if !actor.Admin {
		return ErrForbidden
	}
	reason, err := requireReason(reason)
	if err != nil {
		return err
	}
	c, err := s.load(ctx, caseID)
	if err != nil {
		return err
	}

	tokens, err := s.store.DeleteTokensByCase(ctx, caseID)
	if err != nil {
		return s.cascadeFailed(caseID, "tokens", err)
	}
	logs, err := s.store.DeleteCareLogsByCase(ctx, caseID)
	if err != nil {
		return s.cascadeFailed(caseID, "care logs", err)
	}
	payments, err := s.store.DeletePaymentByCase(ctx, caseID)
	if err != nil {
		return s.cascadeFailed(caseID, "payment", err)
	}
	if err := s.activity.Log(ctx, caseID, actor.ID, models.ActionDelete, map[string]any{
		"reason":           reason,
		"status":           c.Status,
		"patient_name":     c.PatientName,
		"guardian_id":      c.GuardianID,
		"deleted_tokens":   tokens,
		"deleted_logs":     logs,
		"deleted_payments": payments,
	}); err != nil {
		return s.cascadeFailed(caseID, "activity trail", err)
	}
	if err := s.store.DeleteCase(ctx, caseID); err != nil {
		return s.cascadeFailed(caseID, "case", err)
	}

	s.logger.Infow("Case deleted", "case_id", caseID, "actor", actor.ID, "logs", logs)
	return nil
}

// ResendLink re-sends the caregiver link. Delivery failure is logged and
// recorded in the audit entry but does not fail the call.
func (s *CaseService) ResendLink(ctx context.Context, caseID uuid.UUID, actor models.Actor, destination string) (*NotifyResult, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, invalid("destination", "is required")
	}
	c, err := s.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, err
	}
	if c.Status == models.StatusGuardianPending || c.Status.Terminal() {
		return nil, stateErr(ErrInvalidState, "no caregiver link while case is %s", c.Status)
	}

	token, err := s.tokens.Issue(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	result := s.notifier.Send(ctx, destination, Notification{
		Kind:    "caregiver_link",
		Subject: "Care agreement for " + c.PatientName,
		Body:    "Open the link to review the agreement and record daily care logs.",
		Link:    s.CaregiverLink(token.Token),
	})
	if result.Success {
		s.logger.Infow("Caregiver link sent", "case_id", c.ID)
	} else {
		s.logger.Warnw("Caregiver link delivery failed", "case_id", c.ID, "error", result.Error)
	}

	s.activity.LogCommitted(ctx, c.ID, actor.ID, models.ActionLinkResend, map[string]any{
		"destination": destination,
		"success":     result.Success,
		"error":       result.Error,
	})
	return &result, nil
}

// CaregiverLink builds the public URL for a token.
func (s *CaseService) CaregiverLink(token string) string {
	return s.publicBaseURL + "/c/" + token
}

// BankInfo opens the sealed bank details of a case.
func (s *CaseService) BankInfo(c *models.Case) (*models.BankInfo, error) {
	if c.CaregiverBankInfo == nil {
		return nil, nil
	}
	return openBankInfo(s.sealer, *c.CaregiverBankInfo)
}

// transition applies t to c as one conditional update on c's status and version.
// When only the version moved (a concurrent period edit), the row is re-read and
// the transition reapplied on top of it. On success c holds the persisted state.
func (s *CaseService) transition(ctx context.Context, c *models.Case, t models.Transition, mutate func(*models.Case)) error {
	from := c.Status
	next, ok := from.Next(t)
	if !ok {
		return stateErr(ErrInvalidState, "cannot %s while case is %s", t, from)
	}

	for attempt := 1; ; attempt++ {
		updated := *c
		if mutate != nil {
			mutate(&updated)
		}
		updated.Status = next
		updated.UpdatedAt = s.clock.Now()

		err := s.store.UpdateCase(ctx, &updated, from)
		if err == nil {
			*c = updated
			return nil
		}
		if !errors.Is(err, database.ErrConflict) {
			return storeErr("update case", err)
		}
		if attempt == maxTransitionAttempts {
			return err
		}

		cur, loadErr := s.store.GetCase(ctx, c.ID)
		if loadErr != nil {
			return storeErr("get case", loadErr)
		}
		if cur.Status != from {
			return err
		}
		*c = *cur
	}
}

// explainLostTransition turns a lost conditional update into the error the
// loser should see, based on the state the winner left behind.
func (s *CaseService) explainLostTransition(ctx context.Context, caseID uuid.UUID, err error, alreadyDone func(*models.Case) bool) error {
	if !errors.Is(err, database.ErrConflict) {
		return err
	}
	cur, loadErr := s.load(ctx, caseID)
	if loadErr != nil {
		return loadErr
	}
	if alreadyDone != nil && alreadyDone(cur) {
		return stateErr(ErrAlreadyAgreed, "agreement was recorded by a concurrent request")
	}
	return stateErr(ErrInvalidState, "case changed concurrently and is now %s", cur.Status)
}

func (s *CaseService) cascadeFailed(caseID uuid.UUID, step string, err error) error {
	s.logger.Errorw("Case delete cascade failed", "case_id", caseID, "step", step, "error", err)
	var dep *DependencyError
	if errors.As(err, &dep) {
		return &DependencyError{Op: "delete case: " + step, Err: dep.Err}
	}
	return &DependencyError{Op: "delete case: " + step, Err: err}
}

func (s *CaseService) load(ctx context.Context, caseID uuid.UUID) (*models.Case, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, storeErr("get case", err)
	}
	return c, nil
}

func (s *CaseService) caseForToken(ctx context.Context, token string) (*models.Case, error) {
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

func authorizeOwner(c *models.Case, actor models.Actor) error {
	if actor.Admin || c.GuardianID == actor.ID {
		return nil
	}
	return ErrForbidden
}

func requireReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < minReasonLength {
		return "", invalid("reason", "must be at least 5 characters")
	}
	return reason, nil
}

// caregiverView strips fields the caregiver link must not expose.
func caregiverView(c *models.Case) *models.Case {
	out := *c
	out.CaregiverBankInfo = nil
	return &out
}

func openBankInfo(sealer *Sealer, sealed string) (*models.BankInfo, error) {
	raw, err := sealer.Open(sealed)
	if err != nil {
		return nil, &DependencyError{Op: "open bank info", Err: err}
	}
	var info models.BankInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, &DependencyError{Op: "decode bank info", Err: err}
	}
	return &info, nil
}

func strPtr(s string) *string { return &s }

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
