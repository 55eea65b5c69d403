package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/calendar"
)

func TestCycle_ClosesNextMonthAfterClosingDay(t *testing.T) {
	// GIVEN: closing 15, due 5 one month later, no holiday policy
	// WHEN: computing the cycle for 2024-03-20
	// THEN: it closes 2024-04-15, starts 2024-03-16, due 2024-05-05
	calc := billing.NewCycleCalculator(nil)
	cfg := billing.BillingConfig{ClosingDay: 15, DueDay: 5, DueMonthOffset: 1, DueHolidayPolicy: calendar.PolicyNone}

	cycle, err := calc.Compute(cfg, date(2024, time.March, 20))
	require.NoError(t, err)

	assert.Equal(t, date(2024, time.April, 15), cycle.ClosingDate)
	assert.Equal(t, cycle.ClosingDate, cycle.PeriodEnd)
	assert.Equal(t, date(2024, time.March, 16), cycle.PeriodStart)
	assert.Equal(t, date(2024, time.May, 5), cycle.DueDate)
}

func TestCycle_DueDateHolidayAdjusted(t *testing.T) {
	// 2024-05-05 is a Sunday.
	calc := billing.NewCycleCalculator(calendar.NewAdjuster(calendar.NewWeekdayCalendar(nil)))
	cfg := billing.BillingConfig{ClosingDay: 15, DueDay: 5, DueMonthOffset: 1}

	cfg.DueHolidayPolicy = calendar.PolicyPostpone
	cycle, err := calc.Compute(cfg, date(2024, time.March, 20))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.May, 6), cycle.DueDate)

	cfg.DueHolidayPolicy = calendar.PolicyAdvance
	cycle, err = calc.Compute(cfg, date(2024, time.March, 20))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.May, 3), cycle.DueDate)

	// Closing dates are never adjusted: 2024-06-15 is a Saturday.
	cycle, err = calc.Compute(cfg, date(2024, time.June, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.June, 15), cycle.ClosingDate)
}

func TestCycle_MonthEndSentinelInLeapFebruary(t *testing.T) {
	calc := billing.NewCycleCalculator(nil)
	cfg := billing.BillingConfig{ClosingDay: calendar.MonthEnd, DueDay: 10, DueMonthOffset: 1}

	cycle, err := calc.Compute(cfg, date(2024, time.February, 10))
	require.NoError(t, err)

	assert.Equal(t, date(2024, time.February, 29), cycle.ClosingDate)
	assert.Equal(t, date(2024, time.February, 1), cycle.PeriodStart)
	assert.Equal(t, date(2024, time.March, 10), cycle.DueDate)
}

func TestCycle_ReferenceOnClosingDateBelongsToThatCycle(t *testing.T) {
	calc := billing.NewCycleCalculator(nil)
	cfg := billing.BillingConfig{ClosingDay: 15, DueDay: 5, DueMonthOffset: 1}

	cycle, err := calc.Compute(cfg, date(2024, time.March, 15))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 15), cycle.PeriodEnd)
	assert.Equal(t, date(2024, time.February, 16), cycle.PeriodStart)
}

func TestCycle_ConsecutivePeriodsAreContiguous(t *testing.T) {
	// GIVEN: every closing day shape (early, mid, 28, month end)
	// WHEN: walking 36 consecutive cycles
	// THEN: each period starts the day after the previous one ends
	calc := billing.NewCycleCalculator(nil)

	for _, day := range []calendar.DayOfMonth{1, 15, 28, calendar.MonthEnd} {
		cfg := billing.BillingConfig{ClosingDay: day, DueDay: 5, DueMonthOffset: 1}

		prev, err := calc.Compute(cfg, date(2023, time.January, 1))
		require.NoError(t, err)
		for i := 0; i < 36; i++ {
			ref := prev.PeriodEnd.AddDays(1)
			next, err := calc.Compute(cfg, ref)
			require.NoError(t, err)

			assert.Equal(t, prev.PeriodEnd.AddDays(1), next.PeriodStart, "closing day %s, cycle %d", day, i)
			assert.True(t, next.Period().Contains(ref))
			assert.False(t, prev.Period().Overlaps(next.Period()))
			prev = next
		}
	}
}

func TestCycle_DueMonthOffsetRollsYear(t *testing.T) {
	calc := billing.NewCycleCalculator(nil)
	cfg := billing.BillingConfig{ClosingDay: 20, DueDay: calendar.MonthEnd, DueMonthOffset: 2}

	cycle, err := calc.Compute(cfg, date(2024, time.December, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.December, 20), cycle.ClosingDate)
	assert.Equal(t, date(2025, time.February, 28), cycle.DueDate)
}

func TestCycle_InvalidConfigurationIsConfigurationError(t *testing.T) {
	calc := billing.NewCycleCalculator(nil)

	_, err := calc.Compute(billing.BillingConfig{ClosingDay: 0, DueDay: 5}, date(2024, time.March, 1))
	assert.True(t, billing.IsConfigurationError(err))

	_, err = calc.Compute(billing.BillingConfig{ClosingDay: 15, DueDay: 5, DueMonthOffset: 3}, date(2024, time.March, 1))
	assert.True(t, billing.IsConfigurationError(err))
	var cfgErr *billing.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "due_month_offset", cfgErr.Field)
}

func TestCycle_UnboundedHolidayRunIsCalendarError(t *testing.T) {
	never := calendar.BusinessDayFunc(func(calendar.Date) bool { return false })
	calc := billing.NewCycleCalculator(&calendar.Adjuster{Calendar: never, MaxSteps: 10})
	cfg := billing.BillingConfig{ClosingDay: 15, DueDay: 5, DueMonthOffset: 1, DueHolidayPolicy: calendar.PolicyPostpone}

	_, err := calc.Compute(cfg, date(2024, time.March, 1))
	assert.True(t, billing.IsCalendarError(err))
	assert.False(t, billing.IsConfigurationError(err))
}

func TestEngine_ComputeCycleRejectsNonBillableAccount(t *testing.T) {
	f := newFixture(t)
	f.bank(t, "bank")

	_, err := f.engine.ComputeCycle(f.ctx, "bank", date(2024, time.March, 1))
	assert.ErrorIs(t, err, billing.ErrNotBillable)

	_, err = f.engine.ComputeCycle(f.ctx, "missing", date(2024, time.March, 1))
	assert.True(t, billing.IsNotFound(err))
}
