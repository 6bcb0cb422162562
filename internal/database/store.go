package database

import (
	"context"
	"errors"
	"time"

	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a conditional update lost against a concurrent writer.
	ErrConflict = errors.New("conditional update conflict")
	// ErrDuplicate indicates a unique constraint rejected an insert.
	ErrDuplicate = errors.New("duplicate record")
	// ErrLocked indicates a signed care log rejected a non-privileged write.
	ErrLocked = errors.New("record locked")
	// ErrOutOfWindow indicates a care log date outside the case's current period.
	ErrOutOfWindow = errors.New("date outside case window")
)

// Store is the persistence contract the services depend on. Implementations must
// apply UpdateCase, InsertToken and UpsertCareLog atomically.
type Store interface {
	Ping(ctx context.Context) error

	CreateCase(ctx context.Context, c *models.Case) error
	GetCase(ctx context.Context, id uuid.UUID) (*models.Case, error)
	// ListCases returns all cases, or only the guardian's when guardianID is non-nil.
	ListCases(ctx context.Context, guardianID *uuid.UUID) ([]models.Case, error)
	// UpdateCase writes c only if the stored status still equals expected and the
	// stored version equals c.Version, otherwise ErrConflict. On success c.Version
	// holds the new version.
	UpdateCase(ctx context.Context, c *models.Case, expected models.CaseStatus) error
	DeleteCase(ctx context.Context, id uuid.UUID) error

	// InsertToken fails with ErrDuplicate if the case already has a token.
	InsertToken(ctx context.Context, t *models.AccessToken) error
	GetToken(ctx context.Context, token string) (*models.AccessToken, error)
	GetTokenByCase(ctx context.Context, caseID uuid.UUID) (*models.AccessToken, error)
	DeleteTokensByCase(ctx context.Context, caseID uuid.UUID) (int64, error)

	GetCareLog(ctx context.Context, caseID uuid.UUID, date time.Time) (*models.CareLog, error)
	// UpsertCareLog writes l keyed by (case, date) after re-checking the case window
	// against the persisted period. A signed row rejects non-privileged writes with ErrLocked.
	UpsertCareLog(ctx context.Context, l *models.CareLog, privileged bool) (*models.CareLog, error)
	ListCareLogs(ctx context.Context, caseID uuid.UUID, activeOnly bool) ([]models.CareLog, error)
	CountActiveCareLogs(ctx context.Context, caseID uuid.UUID) (int, error)
	// SetCareLogActive flips the soft-delete flag and stamps updated_at with at.
	SetCareLogActive(ctx context.Context, caseID uuid.UUID, date time.Time, active bool, at time.Time) error
	DeleteCareLogsByCase(ctx context.Context, caseID uuid.UUID) (int64, error)

	GetPayment(ctx context.Context, caseID uuid.UUID) (*models.Payment, error)
	UpsertPayment(ctx context.Context, p *models.Payment) (*models.Payment, error)
	DeletePaymentByCase(ctx context.Context, caseID uuid.UUID) (int64, error)

	AppendActivity(ctx context.Context, a *models.ActivityLog) error
	ListActivityByCase(ctx context.Context, caseID uuid.UUID, limit int) ([]models.ActivityLog, error)
	ListRecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error)
	// ListActivityChronological returns the whole trail oldest first.
	ListActivityChronological(ctx context.Context) ([]models.ActivityLog, error)
}

func inWindow(c *models.Case, date time.Time) bool {
	return !date.Before(c.StartDate) && !date.After(c.EffectiveEnd())
}
