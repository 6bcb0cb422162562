package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    models.CaseInput
		field string
	}{
		{"blank patient", models.CaseInput{PatientName: "  ", StartDate: dayStr(0), EndDateExpected: dayStr(1)}, "patient_name"},
		{"negative wage", models.CaseInput{PatientName: "A", DailyWage: -1, StartDate: dayStr(0), EndDateExpected: dayStr(1)}, "daily_wage"},
		{"bad start", models.CaseInput{PatientName: "A", StartDate: "tomorrow", EndDateExpected: dayStr(1)}, "start_date"},
		{"end before start", models.CaseInput{PatientName: "A", StartDate: dayStr(2), EndDateExpected: dayStr(1)}, "end_date_expected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.cases.Create(ctx, f.guardian, &tt.in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestCreate_StartsGuardianPending(t *testing.T) {
	f := newFixture(t)
	c := f.createCase(t, 0, 0)

	assert.Equal(t, models.StatusGuardianPending, c.Status)
	assert.Equal(t, f.guardian.ID, c.GuardianID)
	assert.Nil(t, c.GuardianAgreedAt)
	assert.Equal(t, day(0), c.StartDate)

	_, err := f.cases.Create(context.Background(), f.admin, &models.CaseInput{
		PatientName: "A", StartDate: dayStr(0), EndDateExpected: dayStr(0),
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreate_PeriodLengthCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cases.Create(ctx, f.guardian, &models.CaseInput{
		PatientName: "A", StartDate: dayStr(0), EndDateExpected: dayStr(DefaultMaxPeriodDays - 1),
	})
	require.NoError(t, err)

	for _, in := range []models.CaseInput{
		{PatientName: "A", StartDate: dayStr(0), EndDateExpected: dayStr(DefaultMaxPeriodDays)},
		{PatientName: "A", StartDate: "0001-01-01", EndDateExpected: "9999-12-31"},
	} {
		_, err := f.cases.Create(ctx, f.guardian, &in)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "end_date_expected", ve.Field)
	}
}

func TestCreate_ConfiguredPeriodLimit(t *testing.T) {
	f := newFixture(t)
	cases := NewCaseService(CaseServiceDeps{
		Store:         f.store,
		Tokens:        f.tokens,
		Activity:      f.activity,
		Notifier:      f.notifier,
		Sealer:        f.sealer,
		Clock:         f.clock,
		MaxPeriodDays: 7,
		Logger:        zap.NewNop().Sugar(),
	})

	_, err := cases.Create(context.Background(), f.guardian, &models.CaseInput{
		PatientName: "A", StartDate: dayStr(0), EndDateExpected: dayStr(6),
	})
	require.NoError(t, err)
	_, err = cases.Create(context.Background(), f.guardian, &models.CaseInput{
		PatientName: "A", StartDate: dayStr(0), EndDateExpected: dayStr(7),
	})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestGetAndList_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.createCase(t, 0, 3)

	_, err := f.cases.Get(ctx, f.other, c.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := f.cases.Get(ctx, f.admin, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = f.cases.Get(ctx, f.guardian, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	mine, err := f.cases.List(ctx, f.guardian)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	theirs, err := f.cases.List(ctx, f.other)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	all, err := f.cases.List(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLifecycle_SingleDayCaseOnlyMissesPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.createCase(t, 0, 0)

	c, token, err := f.cases.RecordGuardianAgreement(ctx, c.ID, f.guardian)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCaregiverPending, c.Status)
	require.NotNil(t, token)

	res, err := f.cases.ResolveToken(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, models.ViewAgreement, res.NextView)
	assert.Equal(t, c.ID, res.Case.ID)

	c, err = f.cases.RecordCaregiverAgreement(ctx, token.Token, validAgreement())
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, c.Status)

	_, err = f.logs.UpsertForCaregiver(ctx, token.Token, day(0), &models.CareLogInput{
		Items: []string{"meal"},
		Memo:  "good day",
	})
	require.NoError(t, err)

	ready, err := f.readiness.CheckReadiness(ctx, c.ID, f.guardian)
	require.NoError(t, err)
	assert.False(t, ready.OK)
	assert.Equal(t, []string{MissingPayment}, ready.Missing)
}

func TestResolveToken_AgreedCaseGoesToLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, token := f.inProgress(t, 0, 3)

	for i := 0; i < 2; i++ {
		res, err := f.cases.ResolveToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, models.ViewLogs, res.NextView)
		assert.NotNil(t, res.CaregiverAgreedAt)
		assert.Nil(t, res.Case.CaregiverBankInfo)
	}
}

func TestResolveToken_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.cases.ResolveToken(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRecordGuardianAgreement_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.createCase(t, 0, 3)

	_, _, err := f.cases.RecordGuardianAgreement(ctx, c.ID, f.other)
	assert.ErrorIs(t, err, ErrForbidden)

	_, _, err = f.cases.RecordGuardianAgreement(ctx, c.ID, f.guardian)
	require.NoError(t, err)

	_, _, err = f.cases.RecordGuardianAgreement(ctx, c.ID, f.guardian)
	assert.ErrorIs(t, err, ErrAlreadyAgreed)
	assert.Equal(t, 1, f.store.TokenCount())
}

func TestRecordGuardianAgreement_ConcurrentCallersOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.createCase(t, 0, 3)

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.cases.RecordGuardianAgreement(ctx, c.ID, f.guardian)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyAgreed)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, f.store.TokenCount())
	assert.Equal(t, models.StatusCaregiverPending, f.reload(t, c.ID).Status)
}

func TestRecordCaregiverAgreement_RequiredFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, token := f.pendingCaregiver(t, 0, 3)

	in := validAgreement()
	in.BankName = " "
	_, err := f.cases.RecordCaregiverAgreement(ctx, token, in)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "bank_name", ve.Field)

	in = validAgreement()
	in.Name = ""
	in.AccountNumber = ""
	_, err = f.cases.RecordCaregiverAgreement(ctx, token, in)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name", ve.Field)

	assert.Equal(t, models.StatusCaregiverPending, f.reload(t, c.ID).Status)
}

func TestRecordCaregiverAgreement_SealsBankInfo(t *testing.T) {
	f := newFixture(t)
	c, _ := f.inProgress(t, 0, 3)

	stored := f.reload(t, c.ID)
	require.NotNil(t, stored.CaregiverBankInfo)
	assert.NotContains(t, *stored.CaregiverBankInfo, "110-123-456789")
	assert.Equal(t, "Park Jiyoung", *stored.CaregiverName)

	bank, err := f.cases.BankInfo(stored)
	require.NoError(t, err)
	assert.Equal(t, "Shinhan", bank.BankName)
	assert.Equal(t, "110-123-456789", bank.AccountNumber)
}

func TestRecordCaregiverAgreement_Twice(t *testing.T) {
	f := newFixture(t)
	_, token := f.inProgress(t, 0, 3)

	_, err := f.cases.RecordCaregiverAgreement(context.Background(), token, validAgreement())
	assert.ErrorIs(t, err, ErrAlreadyAgreed)
}

func TestRecordCaregiverAgreement_CanceledCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, token := f.pendingCaregiver(t, 0, 3)

	_, err := f.cases.ForceEnd(ctx, c.ID, f.admin, "guardian withdrew")
	require.NoError(t, err)

	_, err = f.cases.RecordCaregiverAgreement(ctx, token, validAgreement())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestForceEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _ := f.inProgress(t, 0, 3)

	_, err := f.cases.ForceEnd(ctx, c.ID, f.guardian, "not an admin")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.cases.ForceEnd(ctx, c.ID, f.admin, "bad")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "reason", ve.Field)

	ended, err := f.cases.ForceEnd(ctx, c.ID, f.admin, "caregiver unreachable")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, ended.Status)

	trail := f.activityFor(t, c.ID)
	require.Len(t, trail, 1)
	assert.Equal(t, models.ActionForceEnd, trail[0].Action)
	assert.Equal(t, f.admin.ID, trail[0].ActorID)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(trail[0].Meta, &meta))
	assert.Equal(t, "caregiver unreachable", meta["reason"])
	assert.Equal(t, string(models.StatusInProgress), meta["from"])
}

func TestForceEnd_AlreadyCanceledLeavesTrailUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.createCase(t, 0, 3)

	_, err := f.cases.ForceEnd(ctx, c.ID, f.admin, "duplicate booking")
	require.NoError(t, err)
	before := f.activityFor(t, c.ID)

	_, err = f.cases.ForceEnd(ctx, c.ID, f.admin, "duplicate booking")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, before, f.activityFor(t, c.ID))
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, _ := f.pendingCaregiver(t, 0, 3)
	_, err := f.cases.Complete(ctx, pending.ID, f.admin)
	assert.ErrorIs(t, err, ErrInvalidState)

	c, _ := f.inProgress(t, 0, 3)
	_, err = f.cases.Complete(ctx, c.ID, f.guardian)
	assert.ErrorIs(t, err, ErrForbidden)

	done, err := f.cases.Complete(ctx, c.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	_, err = f.cases.Complete(ctx, c.ID, f.admin)
	assert.ErrorIs(t, err, ErrInvalidState)

	trail := f.activityFor(t, c.ID)
	require.Len(t, trail, 1)
	assert.Equal(t, models.ActionComplete, trail[0].Action)
}

func TestDeleteCase_Cascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, token := f.inProgress(t, -1, 3)

	_, err := f.logs.UpsertForCaregiver(ctx, token, day(0), &models.CareLogInput{Items: []string{"meal"}})
	require.NoError(t, err)
	_, err = f.payments.Save(ctx, f.guardian, c.ID, &models.PaymentInput{TotalAmount: 600000, PaidAt: dayStr(0)})
	require.NoError(t, err)

	err = f.cases.DeleteCase(ctx, c.ID, f.guardian, "guardian asked")
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.cases.DeleteCase(ctx, c.ID, f.admin, "registered by mistake"))

	_, err = f.store.GetCase(ctx, c.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Equal(t, 0, f.store.TokenCount())
	_, err = f.store.GetPayment(ctx, c.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	logs, err := f.store.ListCareLogs(ctx, c.ID, false)
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = f.cases.ResolveToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// The audit entry outlives the case.
	trail := f.activityFor(t, c.ID)
	require.Len(t, trail, 1)
	assert.Equal(t, models.ActionDelete, trail[0].Action)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(trail[0].Meta, &meta))
	assert.Equal(t, "registered by mistake", meta["reason"])
	assert.EqualValues(t, 1, meta["deleted_logs"])
}

type failingLogDeleteStore struct {
	database.Store
}

func (s failingLogDeleteStore) DeleteCareLogsByCase(context.Context, uuid.UUID) (int64, error) {
	return 0, errors.New("connection reset")
}

func TestDeleteCase_ReportsFailedStep(t *testing.T) {
	f := newFixtureWithStore(t, database.NewMemoryStore(), func(s database.Store) database.Store {
		return failingLogDeleteStore{s}
	})
	ctx := context.Background()
	c, _ := f.pendingCaregiver(t, 0, 3)

	err := f.cases.DeleteCase(ctx, c.ID, f.admin, "cleanup of test data")
	var dep *DependencyError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, "delete case: care logs", dep.Op)

	// Tokens went first; the case itself is still there.
	assert.Equal(t, 0, f.store.TokenCount())
	assert.Equal(t, c.ID, f.reload(t, c.ID).ID)
	assert.Empty(t, f.activityFor(t, c.ID))
}

func TestResendLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.createCase(t, 0, 3)
	_, err := f.cases.ResendLink(ctx, pending.ID, f.guardian, "010-0000-0000")
	assert.ErrorIs(t, err, ErrInvalidState)

	c, token := f.pendingCaregiver(t, 0, 3)
	_, err = f.cases.ResendLink(ctx, c.ID, f.other, "010-0000-0000")
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := f.cases.ResendLink(ctx, c.ID, f.guardian, "010-0000-0000")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "https://care.example/c/"+token, f.notifier.sent[0].Link)
	assert.Equal(t, "010-0000-0000", f.notifier.dests[0])
	assert.Equal(t, 1, f.store.TokenCount())

	f.notifier.result = NotifyResult{Error: "gateway down"}
	res, err = f.cases.ResendLink(ctx, c.ID, f.guardian, "010-0000-0000")
	require.NoError(t, err)
	assert.False(t, res.Success)

	trail := f.activityFor(t, c.ID)
	require.Len(t, trail, 2)
	assert.Equal(t, models.ActionLinkResend, trail[0].Action)
	assert.True(t, strings.Contains(string(trail[0].Meta), "gateway down"))
}

// interleavingStore runs a hook once, just before the next UpdateCase reaches
// the underlying store. Writes made by the hook itself pass straight through.
type interleavingStore struct {
	database.Store
	hook atomic.Pointer[func()]
}

func (s *interleavingStore) before(fn func()) { s.hook.Store(&fn) }

func (s *interleavingStore) UpdateCase(ctx context.Context, c *models.Case, expected models.CaseStatus) error {
	if h := s.hook.Swap(nil); h != nil {
		(*h)()
	}
	return s.Store.UpdateCase(ctx, c, expected)
}

func newInterleavingFixture(t *testing.T) (*fixture, *interleavingStore) {
	var store *interleavingStore
	f := newFixtureWithStore(t, database.NewMemoryStore(), func(s database.Store) database.Store {
		store = &interleavingStore{Store: s}
		return store
	})
	return f, store
}

func TestRecordCaregiverAgreement_KeepsConcurrentEndEarly(t *testing.T) {
	f, store := newInterleavingFixture(t)
	ctx := context.Background()
	c, token := f.pendingCaregiver(t, 0, 10)

	// The guardian shortens the period after the agreement has read the case.
	store.before(func() {
		_, err := f.period.EndEarly(ctx, c.ID, f.guardian, day(1), true)
		require.NoError(t, err)
	})

	started, err := f.cases.RecordCaregiverAgreement(ctx, token, validAgreement())
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, started.Status)
	assert.Equal(t, day(1), started.EffectiveEnd())

	got := f.reload(t, c.ID)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.NotNil(t, got.CaregiverAgreedAt)
	require.NotNil(t, got.EndDateFinal)
	assert.Equal(t, day(1), *got.EndDateFinal)

	_, err = f.logs.UpsertForCaregiver(ctx, token, day(5), &models.CareLogInput{Memo: "outside"})
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestForceEnd_KeepsConcurrentExtend(t *testing.T) {
	f, store := newInterleavingFixture(t)
	ctx := context.Background()
	c, _ := f.inProgress(t, 0, 10)

	store.before(func() {
		_, err := f.period.Extend(ctx, c.ID, f.guardian, day(12), true)
		require.NoError(t, err)
	})

	_, err := f.cases.ForceEnd(ctx, c.ID, f.admin, "family request")
	require.NoError(t, err)

	got := f.reload(t, c.ID)
	assert.Equal(t, models.StatusCanceled, got.Status)
	assert.Equal(t, day(12), got.EffectiveEnd())

	var actions []models.ActivityAction
	for _, a := range f.activityFor(t, c.ID) {
		actions = append(actions, a.Action)
	}
	assert.ElementsMatch(t, []models.ActivityAction{models.ActionExtend, models.ActionForceEnd}, actions)
}

func TestTransition_LosesToConcurrentStatusChange(t *testing.T) {
	f, store := newInterleavingFixture(t)
	ctx := context.Background()
	c, token := f.pendingCaregiver(t, 0, 3)

	store.before(func() {
		_, err := f.cases.ForceEnd(ctx, c.ID, f.admin, "family request")
		require.NoError(t, err)
	})

	_, err := f.cases.RecordCaregiverAgreement(ctx, token, validAgreement())
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, models.StatusCanceled, f.reload(t, c.ID).Status)
}

type failingActivityStore struct {
	database.Store
}

func (failingActivityStore) AppendActivity(context.Context, *models.ActivityLog) error {
	return errors.New("disk full")
}

func TestCommittedChanges_SurviveAuditFailure(t *testing.T) {
	f := newFixtureWithStore(t, database.NewMemoryStore(), func(s database.Store) database.Store {
		return failingActivityStore{s}
	})
	ctx := context.Background()

	c, _ := f.inProgress(t, 0, 5)
	shortened, err := f.period.EndEarly(ctx, c.ID, f.guardian, day(2), true)
	require.NoError(t, err)
	assert.Equal(t, day(2), shortened.EffectiveEnd())

	completed, err := f.cases.Complete(ctx, c.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)

	other, _ := f.pendingCaregiver(t, 0, 3)
	ended, err := f.cases.ForceEnd(ctx, other.ID, f.admin, "family request")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, ended.Status)
	assert.Equal(t, models.StatusCanceled, f.reload(t, other.ID).Status)
	assert.Empty(t, f.activityFor(t, other.ID))

	// Deletion writes its audit entry before removing the case, so it still stops.
	err = f.cases.DeleteCase(ctx, other.ID, f.admin, "cleanup of test data")
	var dep *DependencyError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, "delete case: activity trail", dep.Op)
	assert.Equal(t, other.ID, f.reload(t, other.ID).ID)
}
