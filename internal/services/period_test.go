package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/carelink/care-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndEarly_Bounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _ := f.inProgress(t, -5, 5)

	_, err := f.period.EndEarly(ctx, c.ID, f.guardian, day(2), false)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "consent_obtained", ve.Field)

	for _, offset := range []int{5, 6} {
		_, err = f.period.EndEarly(ctx, c.ID, f.guardian, day(offset), true)
		require.ErrorAs(t, err, &ve, "offset %d", offset)
		assert.Equal(t, "end_date", ve.Field)
	}

	// in the past
	_, err = f.period.EndEarly(ctx, c.ID, f.guardian, day(-1), true)
	require.ErrorAs(t, err, &ve)

	// before start
	_, err = f.period.EndEarly(ctx, c.ID, f.guardian, day(-6), true)
	require.ErrorAs(t, err, &ve)

	_, err = f.period.EndEarly(ctx, c.ID, f.other, day(2), true)
	assert.ErrorIs(t, err, ErrForbidden)

	assert.Nil(t, f.reload(t, c.ID).EndDateFinal)
	assert.Empty(t, f.activityFor(t, c.ID))
}

func TestEndEarly_Today(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _ := f.inProgress(t, -5, 5)

	updated, err := f.period.EndEarly(ctx, c.ID, f.guardian, day(0), true)
	require.NoError(t, err)
	require.NotNil(t, updated.EndDateFinal)
	assert.Equal(t, day(0), *updated.EndDateFinal)
	assert.Equal(t, day(5), updated.EndDateExpected)
	assert.Equal(t, models.StatusInProgress, updated.Status)

	trail := f.activityFor(t, c.ID)
	require.Len(t, trail, 1)
	assert.Equal(t, models.ActionEarlyEnd, trail[0].Action)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(trail[0].Meta, &meta))
	assert.Equal(t, dayStr(5), meta["from_end"])
	assert.Equal(t, dayStr(0), meta["to_end"])
}

func TestEndEarly_ShrinksLogWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, token := f.inProgress(t, -2, 5)

	_, err := f.period.EndEarly(ctx, c.ID, f.guardian, day(1), true)
	require.NoError(t, err)

	_, err = f.logs.UpsertForCaregiver(ctx, token, day(2), &models.CareLogInput{Memo: "late entry"})
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = f.logs.UpsertForCaregiver(ctx, token, day(1), &models.CareLogInput{Memo: "last day"})
	assert.NoError(t, err)
}

func TestExtend_Bounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _ := f.inProgress(t, -2, 3)

	for _, offset := range []int{3, 2} {
		_, err := f.period.Extend(ctx, c.ID, f.guardian, day(offset), true)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, "offset %d", offset)
	}

	updated, err := f.period.Extend(ctx, c.ID, f.guardian, day(4), true)
	require.NoError(t, err)
	assert.Equal(t, day(4), updated.EffectiveEnd())

	trail := f.activityFor(t, c.ID)
	require.Len(t, trail, 1)
	assert.Equal(t, models.ActionExtend, trail[0].Action)
}

func TestPeriod_TerminalCaseRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _ := f.inProgress(t, -2, 3)

	_, err := f.cases.ForceEnd(ctx, c.ID, f.admin, "moved to hospice")
	require.NoError(t, err)

	_, err = f.period.Extend(ctx, c.ID, f.guardian, day(10), true)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.period.EndEarly(ctx, c.ID, f.guardian, day(1), true)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAdminChangePeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _ := f.inProgress(t, -2, 3)

	_, err := f.period.AdminChangePeriod(ctx, c.ID, f.guardian, day(-3), day(3), nil)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.period.AdminChangePeriod(ctx, c.ID, f.admin, day(3), day(2), nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	// Past dates are allowed for admins.
	updated, err := f.period.AdminChangePeriod(ctx, c.ID, f.admin, day(-10), day(-1), strp("contract corrected"))
	require.NoError(t, err)
	assert.Equal(t, day(-10), updated.StartDate)
	assert.Equal(t, day(-1), updated.EndDateExpected)
	assert.Nil(t, updated.EndDateFinal)

	_, err = f.period.Extend(ctx, c.ID, f.guardian, day(4), true)
	require.NoError(t, err)

	updated, err = f.period.AdminChangePeriod(ctx, c.ID, f.admin, day(-10), day(6), nil)
	require.NoError(t, err)
	require.NotNil(t, updated.EndDateFinal)
	assert.Equal(t, day(6), *updated.EndDateFinal)
	assert.Equal(t, day(-1), updated.EndDateExpected)

	trail := f.activityFor(t, c.ID)
	require.Len(t, trail, 3)
	assert.Equal(t, models.ActionChangePeriod, trail[2].Action)
	assert.Contains(t, string(trail[2].Meta), "contract corrected")
}

func TestPeriod_LengthCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _ := f.inProgress(t, 0, 3)

	_, err := f.period.Extend(ctx, c.ID, f.guardian, day(DefaultMaxPeriodDays), true)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "end_date", ve.Field)

	first, err := models.ParseDate("0001-01-01")
	require.NoError(t, err)
	last, err := models.ParseDate("9999-12-31")
	require.NoError(t, err)
	_, err = f.period.AdminChangePeriod(ctx, c.ID, f.admin, first, last, nil)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "end_date", ve.Field)
	assert.Equal(t, day(3), f.reload(t, c.ID).EffectiveEnd())

	updated, err := f.period.Extend(ctx, c.ID, f.guardian, day(DefaultMaxPeriodDays-1), true)
	require.NoError(t, err)
	assert.Equal(t, day(DefaultMaxPeriodDays-1), updated.EffectiveEnd())
}

func TestPeriod_ConcurrentEditsDoNotOverwrite(t *testing.T) {
	f, store := newInterleavingFixture(t)
	ctx := context.Background()
	c, _ := f.inProgress(t, 0, 10)

	// The extension commits after EndEarly has read the case.
	store.before(func() {
		_, err := f.period.Extend(ctx, c.ID, f.guardian, day(14), true)
		require.NoError(t, err)
	})

	_, err := f.period.EndEarly(ctx, c.ID, f.guardian, day(5), true)
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, day(14), f.reload(t, c.ID).EffectiveEnd())
	trail := f.activityFor(t, c.ID)
	require.Len(t, trail, 1)
	assert.Equal(t, models.ActionExtend, trail[0].Action)
}
