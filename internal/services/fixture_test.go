package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testNow is 2024-03-10 09:00 in UTC; "today" for every fixture.
var testNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return models.AddDays(models.DateOf(testNow, time.UTC), offset)
}

func dayStr(offset int) string {
	return models.FormatDate(day(offset))
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []Notification
	dests  []string
	result NotifyResult
}

func (n *fakeNotifier) Send(_ context.Context, destination string, msg Notification) NotifyResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	n.dests = append(n.dests, destination)
	return n.result
}

type fakeRenderer struct {
	got *models.DocumentData
	pdf []byte
	err error
}

func (r *fakeRenderer) Render(_ context.Context, data *models.DocumentData) ([]byte, error) {
	r.got = data
	return r.pdf, r.err
}

type fixture struct {
	store     *database.MemoryStore
	clock     *Clock
	sealer    *Sealer
	notifier  *fakeNotifier
	renderer  *fakeRenderer
	tokens    *AccessTokenService
	activity  *ActivityLogService
	cases     *CaseService
	period    *PeriodService
	logs      *CareLogService
	readiness *ReadinessService
	payments  *PaymentService
	documents *DocumentService
	export    *ExportService
	audit     *AuditIntegrityService

	guardian models.Actor
	other    models.Actor
	admin    models.Actor
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, database.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, mem *database.MemoryStore, wrap ...func(database.Store) database.Store) *fixture {
	t.Helper()

	var store database.Store = mem
	for _, w := range wrap {
		store = w(store)
	}

	logger := zap.NewNop().Sugar()
	clock := &Clock{Now: func() time.Time { return testNow }, Location: time.UTC}
	sealer, err := NewSealer("")
	require.NoError(t, err)

	f := &fixture{
		store:    mem,
		clock:    clock,
		sealer:   sealer,
		notifier: &fakeNotifier{result: NotifyResult{Success: true}},
		renderer: &fakeRenderer{pdf: []byte("%PDF-1.7 test")},
		guardian: models.Actor{ID: uuid.New()},
		other:    models.Actor{ID: uuid.New()},
		admin:    models.Actor{ID: uuid.New(), Admin: true},
	}
	f.tokens = NewAccessTokenService(store, 0, clock, logger)
	f.activity = NewActivityLogService(store, clock, logger)
	f.cases = NewCaseService(CaseServiceDeps{
		Store:         store,
		Tokens:        f.tokens,
		Activity:      f.activity,
		Notifier:      f.notifier,
		Sealer:        sealer,
		Clock:         clock,
		PublicBaseURL: "https://care.example/",
		Logger:        logger,
	})
	f.period = NewPeriodService(store, f.activity, clock, 0, logger)
	f.logs = NewCareLogService(store, f.tokens, clock, logger)
	f.readiness = NewReadinessService(store)
	f.payments = NewPaymentService(store, clock, logger)
	f.documents = NewDocumentService(store, f.readiness, f.renderer, sealer, logger)
	f.export = NewExportService(store, logger)
	f.audit = NewAuditIntegrityService(store, clock, logger)
	return f
}

// createCase opens a GUARDIAN_PENDING case spanning the given day offsets.
func (f *fixture) createCase(t *testing.T, start, end int) *models.Case {
	t.Helper()
	c, err := f.cases.Create(context.Background(), f.guardian, &models.CaseInput{
		PatientName:     "Kim Minsu",
		DailyWage:       150000,
		StartDate:       dayStr(start),
		EndDateExpected: dayStr(end),
	})
	require.NoError(t, err)
	return c
}

// pendingCaregiver returns a CAREGIVER_PENDING case and its link token.
func (f *fixture) pendingCaregiver(t *testing.T, start, end int) (*models.Case, string) {
	t.Helper()
	c := f.createCase(t, start, end)
	c, token, err := f.cases.RecordGuardianAgreement(context.Background(), c.ID, f.guardian)
	require.NoError(t, err)
	return c, token.Token
}

// inProgress returns an IN_PROGRESS case and its link token.
func (f *fixture) inProgress(t *testing.T, start, end int) (*models.Case, string) {
	t.Helper()
	c, token := f.pendingCaregiver(t, start, end)
	c, err := f.cases.RecordCaregiverAgreement(context.Background(), token, validAgreement())
	require.NoError(t, err)
	return c, token
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.Case {
	t.Helper()
	c, err := f.store.GetCase(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) activityFor(t *testing.T, id uuid.UUID) []models.ActivityLog {
	t.Helper()
	logs, err := f.store.ListActivityByCase(context.Background(), id, 0)
	require.NoError(t, err)
	return logs
}

func validAgreement() *models.CaregiverAgreement {
	return &models.CaregiverAgreement{
		Name:          "Park Jiyoung",
		Contact:       "010-1234-5678",
		BirthDate:     "1975-06-01",
		BankName:      "Shinhan",
		AccountNumber: "110-123-456789",
		AccountHolder: "Park Jiyoung",
	}
}

func strp(s string) *string { return &s }
