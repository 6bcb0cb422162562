package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
)

type logKey struct {
	caseID uuid.UUID
	date   time.Time
}

// MemoryStore is an in-process Store used in development when no DATABASE_URL
// is configured, and by tests. A single mutex gives every method the atomicity
// the Postgres store gets from conditional statements and unique indexes.
type MemoryStore struct {
	mu          sync.RWMutex
	cases       map[uuid.UUID]models.Case
	tokens      map[string]models.AccessToken
	tokenByCase map[uuid.UUID]string
	logs        map[logKey]models.CareLog
	payments    map[uuid.UUID]models.Payment
	activity    []models.ActivityLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:       map[uuid.UUID]models.Case{},
		tokens:      map[string]models.AccessToken{},
		tokenByCase: map[uuid.UUID]string{},
		logs:        map[logKey]models.CareLog{},
		payments:    map[uuid.UUID]models.Payment{},
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateCase(_ context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return ErrDuplicate
	}
	s.cases[c.ID] = *c
	return nil
}

func (s *MemoryStore) GetCase(_ context.Context, id uuid.UUID) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) ListCases(_ context.Context, guardianID *uuid.UUID) ([]models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Case, 0, len(s.cases))
	for _, c := range s.cases {
		if guardianID != nil && c.GuardianID != *guardianID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateCase(_ context.Context, c *models.Case, expected models.CaseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.cases[c.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expected || current.Version != c.Version {
		return ErrConflict
	}
	c.Version++
	s.cases[c.ID] = *c
	return nil
}

func (s *MemoryStore) DeleteCase(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[id]; !ok {
		return ErrNotFound
	}
	delete(s.cases, id)
	return nil
}

func (s *MemoryStore) InsertToken(_ context.Context, t *models.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokenByCase[t.CaseID]; ok {
		return ErrDuplicate
	}
	if _, ok := s.tokens[t.Token]; ok {
		return ErrDuplicate
	}
	s.tokens[t.Token] = *t
	s.tokenByCase[t.CaseID] = t.Token
	return nil
}

func (s *MemoryStore) GetToken(_ context.Context, token string) (*models.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) GetTokenByCase(_ context.Context, caseID uuid.UUID) (*models.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.tokenByCase[caseID]
	if !ok {
		return nil, ErrNotFound
	}
	t := s.tokens[value]
	return &t, nil
}

func (s *MemoryStore) DeleteTokensByCase(_ context.Context, caseID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.tokenByCase[caseID]
	if !ok {
		return 0, nil
	}
	delete(s.tokens, value)
	delete(s.tokenByCase, caseID)
	return 1, nil
}

// TokenCount returns how many token rows exist; tests use it to observe races.
func (s *MemoryStore) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func (s *MemoryStore) GetCareLog(_ context.Context, caseID uuid.UUID, date time.Time) (*models.CareLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[logKey{caseID, date}]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLog(l), nil
}

func (s *MemoryStore) UpsertCareLog(_ context.Context, l *models.CareLog, privileged bool) (*models.CareLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[l.CaseID]
	if !ok {
		return nil, ErrNotFound
	}
	if !inWindow(&c, l.Date) {
		return nil, ErrOutOfWindow
	}

	key := logKey{l.CaseID, l.Date}
	row := *copyLog(*l)
	if existing, ok := s.logs[key]; ok {
		if existing.Signed() && !privileged {
			return nil, ErrLocked
		}
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		if row.SignatureData == nil {
			row.SignatureData = existing.SignatureData
		}
	}
	row.IsActive = true
	s.logs[key] = row
	return copyLog(row), nil
}

func (s *MemoryStore) ListCareLogs(_ context.Context, caseID uuid.UUID, activeOnly bool) ([]models.CareLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CareLog
	for key, l := range s.logs {
		if key.caseID != caseID || (activeOnly && !l.IsActive) {
			continue
		}
		out = append(out, *copyLog(l))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (s *MemoryStore) CountActiveCareLogs(_ context.Context, caseID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key, l := range s.logs {
		if key.caseID == caseID && l.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SetCareLogActive(_ context.Context, caseID uuid.UUID, date time.Time, active bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := logKey{caseID, date}
	l, ok := s.logs[key]
	if !ok {
		return ErrNotFound
	}
	l.IsActive = active
	l.UpdatedAt = at
	s.logs[key] = l
	return nil
}

func (s *MemoryStore) DeleteCareLogsByCase(_ context.Context, caseID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.logs {
		if key.caseID == caseID {
			delete(s.logs, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetPayment(_ context.Context, caseID uuid.UUID) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[caseID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) UpsertPayment(_ context.Context, p *models.Payment) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[p.CaseID]; !ok {
		return nil, ErrNotFound
	}
	row := *p
	if existing, ok := s.payments[p.CaseID]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	}
	s.payments[p.CaseID] = row
	return &row, nil
}

func (s *MemoryStore) DeletePaymentByCase(_ context.Context, caseID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[caseID]; !ok {
		return 0, nil
	}
	delete(s.payments, caseID)
	return 1, nil
}

func (s *MemoryStore) AppendActivity(_ context.Context, a *models.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, *a)
	return nil
}

func (s *MemoryStore) ListActivityByCase(_ context.Context, caseID uuid.UUID, limit int) ([]models.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ActivityLog
	for i := len(s.activity) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.activity[i].CaseID == caseID {
			out = append(out, s.activity[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRecentActivity(_ context.Context, limit int) ([]models.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ActivityLog
	for i := len(s.activity) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.activity[i])
	}
	return out, nil
}

func (s *MemoryStore) ListActivityChronological(_ context.Context) ([]models.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ActivityLog, len(s.activity))
	copy(out, s.activity)
	return out, nil
}

func copyLog(l models.CareLog) *models.CareLog {
	if l.Items != nil {
		items := make([]string, len(l.Items))
		copy(items, l.Items)
		l.Items = items
	}
	return &l
}
