package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const caseColumns = `id, guardian_id, patient_name, hospital_name, diagnosis, daily_wage,
	start_date, end_date_expected, end_date_final,
	caregiver_name, caregiver_contact, caregiver_birth_date, caregiver_bank_info,
	guardian_agreed_at, caregiver_agreed_at, status, created_at, updated_at, version`

const careLogColumns = `id, case_id, log_date, items, memo, is_active, signature_data, created_at, updated_at`

const activityColumns = `id, case_id, actor_id, action, meta, created_at`

// PostgresStore is the Store backed by a pgx connection pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) CreateCase(ctx context.Context, c *models.Case) error {
	query := `INSERT INTO cases (` + caseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := s.db.Exec(ctx, query,
		c.ID, c.GuardianID, c.PatientName, c.HospitalName, c.Diagnosis, c.DailyWage,
		c.StartDate, c.EndDateExpected, c.EndDateFinal,
		c.CaregiverName, c.CaregiverContact, c.CaregiverBirthDate, c.CaregiverBankInfo,
		c.GuardianAgreedAt, c.CaregiverAgreedAt, string(c.Status), c.CreatedAt, c.UpdatedAt, c.Version,
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) GetCase(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	row := s.db.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id)
	c, err := scanCase(row)
	if err != nil {
		return nil, fmt.Errorf("get case: %w", translate(err))
	}
	return c, nil
}

func (s *PostgresStore) ListCases(ctx context.Context, guardianID *uuid.UUID) ([]models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases
		WHERE ($1::uuid IS NULL OR guardian_id = $1)
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, guardianID)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var cases []models.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, *c)
	}
	return cases, rows.Err()
}

func (s *PostgresStore) UpdateCase(ctx context.Context, c *models.Case, expected models.CaseStatus) error {
	query := `
		UPDATE cases SET
			patient_name = $3, hospital_name = $4, diagnosis = $5, daily_wage = $6,
			start_date = $7, end_date_expected = $8, end_date_final = $9,
			caregiver_name = $10, caregiver_contact = $11, caregiver_birth_date = $12, caregiver_bank_info = $13,
			guardian_agreed_at = $14, caregiver_agreed_at = $15, status = $16, updated_at = $17,
			version = version + 1
		WHERE id = $1 AND status = $2 AND version = $18
	`

	tag, err := s.db.Exec(ctx, query,
		c.ID, string(expected),
		c.PatientName, c.HospitalName, c.Diagnosis, c.DailyWage,
		c.StartDate, c.EndDateExpected, c.EndDateFinal,
		c.CaregiverName, c.CaregiverContact, c.CaregiverBirthDate, c.CaregiverBankInfo,
		c.GuardianAgreedAt, c.CaregiverAgreedAt, string(c.Status), c.UpdatedAt, c.Version,
	)
	if err != nil {
		return fmt.Errorf("update case: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		if !s.exists(ctx, `SELECT 1 FROM cases WHERE id = $1`, c.ID) {
			return ErrNotFound
		}
		return ErrConflict
	}
	c.Version++
	return nil
}

func (s *PostgresStore) DeleteCase(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM cases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertToken(ctx context.Context, t *models.AccessToken) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO access_tokens (token, case_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		t.Token, t.CaseID, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) GetToken(ctx context.Context, token string) (*models.AccessToken, error) {
	return s.getToken(ctx, `SELECT token, case_id, expires_at, created_at FROM access_tokens WHERE token = $1`, token)
}

func (s *PostgresStore) GetTokenByCase(ctx context.Context, caseID uuid.UUID) (*models.AccessToken, error) {
	return s.getToken(ctx, `SELECT token, case_id, expires_at, created_at FROM access_tokens WHERE case_id = $1`, caseID)
}

func (s *PostgresStore) getToken(ctx context.Context, query string, arg any) (*models.AccessToken, error) {
	var t models.AccessToken
	err := s.db.QueryRow(ctx, query, arg).Scan(&t.Token, &t.CaseID, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", translate(err))
	}
	return &t, nil
}

func (s *PostgresStore) DeleteTokensByCase(ctx context.Context, caseID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM access_tokens WHERE case_id = $1`, caseID)
	if err != nil {
		return 0, fmt.Errorf("delete tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetCareLog(ctx context.Context, caseID uuid.UUID, date time.Time) (*models.CareLog, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+careLogColumns+` FROM care_logs WHERE case_id = $1 AND log_date = $2`, caseID, date)
	l, err := scanCareLog(row)
	if err != nil {
		return nil, fmt.Errorf("get care log: %w", translate(err))
	}
	return l, nil
}

// UpsertCareLog inserts only when the case window, read in the same statement,
// still contains the date. The conflict branch skips signed rows unless privileged.
func (s *PostgresStore) UpsertCareLog(ctx context.Context, l *models.CareLog, privileged bool) (*models.CareLog, error) {
	query := `
		INSERT INTO care_logs (` + careLogColumns + `)
		SELECT $1::uuid, c.id, $3::date, $4::text[], $5::text, TRUE, $6::text, $7::timestamptz, $7::timestamptz
		FROM cases c
		WHERE c.id = $2::uuid
		  AND c.start_date <= $3::date
		  AND COALESCE(c.end_date_final, c.end_date_expected) >= $3::date
		ON CONFLICT (case_id, log_date) DO UPDATE SET
			items = EXCLUDED.items,
			memo = EXCLUDED.memo,
			is_active = TRUE,
			signature_data = COALESCE(EXCLUDED.signature_data, care_logs.signature_data),
			updated_at = EXCLUDED.updated_at
		WHERE care_logs.signature_data IS NULL OR $8::boolean
		RETURNING ` + careLogColumns

	items := l.Items
	if items == nil {
		items = []string{}
	}
	row := s.db.QueryRow(ctx, query,
		l.ID, l.CaseID, l.Date, items, l.Memo, l.SignatureData, l.UpdatedAt, privileged)
	saved, err := scanCareLog(row)
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("upsert care log: %w", translate(err))
	}

	// Nothing written: the case is gone, the date left the window, or the row is signed.
	c, err := s.GetCase(ctx, l.CaseID)
	if err != nil {
		return nil, err
	}
	if !inWindow(c, l.Date) {
		return nil, ErrOutOfWindow
	}
	return nil, ErrLocked
}

func (s *PostgresStore) ListCareLogs(ctx context.Context, caseID uuid.UUID, activeOnly bool) ([]models.CareLog, error) {
	query := `SELECT ` + careLogColumns + ` FROM care_logs
		WHERE case_id = $1 AND (NOT $2::boolean OR is_active)
		ORDER BY log_date`

	rows, err := s.db.Query(ctx, query, caseID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list care logs: %w", err)
	}
	defer rows.Close()

	var logs []models.CareLog
	for rows.Next() {
		l, err := scanCareLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan care log: %w", err)
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) CountActiveCareLogs(ctx context.Context, caseID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM care_logs WHERE case_id = $1 AND is_active`, caseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count care logs: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) SetCareLogActive(ctx context.Context, caseID uuid.UUID, date time.Time, active bool, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE care_logs SET is_active = $3, updated_at = $4 WHERE case_id = $1 AND log_date = $2`,
		caseID, date, active, at)
	if err != nil {
		return fmt.Errorf("set care log active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteCareLogsByCase(ctx context.Context, caseID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM care_logs WHERE case_id = $1`, caseID)
	if err != nil {
		return 0, fmt.Errorf("delete care logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetPayment(ctx context.Context, caseID uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	err := s.db.QueryRow(ctx,
		`SELECT id, case_id, total_amount, paid_at, created_at, updated_at FROM payments WHERE case_id = $1`,
		caseID).Scan(&p.ID, &p.CaseID, &p.TotalAmount, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", translate(err))
	}
	return &p, nil
}

func (s *PostgresStore) UpsertPayment(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	query := `
		INSERT INTO payments (id, case_id, total_amount, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (case_id) DO UPDATE SET
			total_amount = EXCLUDED.total_amount,
			paid_at = EXCLUDED.paid_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, case_id, total_amount, paid_at, created_at, updated_at
	`

	var saved models.Payment
	err := s.db.QueryRow(ctx, query, p.ID, p.CaseID, p.TotalAmount, p.PaidAt, p.UpdatedAt).
		Scan(&saved.ID, &saved.CaseID, &saved.TotalAmount, &saved.PaidAt, &saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("upsert payment: %w", translate(err))
	}
	return &saved, nil
}

func (s *PostgresStore) DeletePaymentByCase(ctx context.Context, caseID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM payments WHERE case_id = $1`, caseID)
	if err != nil {
		return 0, fmt.Errorf("delete payment: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) AppendActivity(ctx context.Context, a *models.ActivityLog) error {
	meta := a.Meta
	if len(meta) == 0 {
		meta = []byte("{}")
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO activity_logs (`+activityColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.CaseID, a.ActorID, string(a.Action), string(meta), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivityByCase(ctx context.Context, caseID uuid.UUID, limit int) ([]models.ActivityLog, error) {
	return s.queryActivity(ctx, `SELECT `+activityColumns+` FROM activity_logs
		WHERE case_id = $1 ORDER BY created_at DESC LIMIT $2`, caseID, limit)
}

func (s *PostgresStore) ListRecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	return s.queryActivity(ctx, `SELECT `+activityColumns+` FROM activity_logs
		ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *PostgresStore) ListActivityChronological(ctx context.Context) ([]models.ActivityLog, error) {
	return s.queryActivity(ctx, `SELECT `+activityColumns+` FROM activity_logs ORDER BY created_at, id`)
}

func (s *PostgresStore) queryActivity(ctx context.Context, query string, args ...any) ([]models.ActivityLog, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity logs: %w", err)
	}
	defer rows.Close()

	var logs []models.ActivityLog
	for rows.Next() {
		var (
			a      models.ActivityLog
			action string
			meta   []byte
		)
		if err := rows.Scan(&a.ID, &a.CaseID, &a.ActorID, &action, &meta, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity log: %w", err)
		}
		a.Action = models.ActivityAction(action)
		a.Meta = meta
		logs = append(logs, a)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) exists(ctx context.Context, query string, args ...any) bool {
	var one int
	return s.db.QueryRow(ctx, query, args...).Scan(&one) == nil
}

func scanCase(row pgx.Row) (*models.Case, error) {
	var (
		c      models.Case
		status string
	)
	err := row.Scan(
		&c.ID, &c.GuardianID, &c.PatientName, &c.HospitalName, &c.Diagnosis, &c.DailyWage,
		&c.StartDate, &c.EndDateExpected, &c.EndDateFinal,
		&c.CaregiverName, &c.CaregiverContact, &c.CaregiverBirthDate, &c.CaregiverBankInfo,
		&c.GuardianAgreedAt, &c.CaregiverAgreedAt, &status, &c.CreatedAt, &c.UpdatedAt, &c.Version,
	)
	if err != nil {
		return nil, err
	}
	if c.Status, err = models.ParseCaseStatus(status); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCareLog(row pgx.Row) (*models.CareLog, error) {
	var l models.CareLog
	err := row.Scan(&l.ID, &l.CaseID, &l.Date, &l.Items, &l.Memo, &l.IsActive, &l.SignatureData, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
