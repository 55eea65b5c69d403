package calendar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// RESOLVE
// =============================================================================

func TestResolve_MonthEndClamping(t *testing.T) {
	tests := []struct {
		name string
		day  calendar.DayOfMonth
		ym   calendar.YearMonth
		want calendar.Date
	}{
		{"sentinel non-leap february", calendar.MonthEnd, calendar.YearMonth{Year: 2023, Month: time.February}, calendar.NewDate(2023, time.February, 28)},
		{"sentinel leap february", calendar.MonthEnd, calendar.YearMonth{Year: 2024, Month: time.February}, calendar.NewDate(2024, time.February, 29)},
		{"sentinel 30-day month", calendar.MonthEnd, calendar.YearMonth{Year: 2024, Month: time.April}, calendar.NewDate(2024, time.April, 30)},
		{"sentinel 31-day month", calendar.MonthEnd, calendar.YearMonth{Year: 2024, Month: time.January}, calendar.NewDate(2024, time.January, 31)},
		{"day 30 in february clamps", 30, calendar.YearMonth{Year: 2025, Month: time.February}, calendar.NewDate(2025, time.February, 28)},
		{"fixed day", 15, calendar.YearMonth{Year: 2024, Month: time.March}, calendar.NewDate(2024, time.March, 15)},
		{"first day", 1, calendar.YearMonth{Year: 2024, Month: time.December}, calendar.NewDate(2024, time.December, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calendar.Resolve(tt.day, tt.ym)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_NeverLeavesRequestedMonth(t *testing.T) {
	for year := 2023; year <= 2025; year++ {
		for m := time.January; m <= time.December; m++ {
			ym := calendar.YearMonth{Year: year, Month: m}
			for day := calendar.DayOfMonth(1); day <= calendar.MonthEnd; day++ {
				got, err := calendar.Resolve(day, ym)
				require.NoError(t, err)
				assert.Equal(t, ym, got.YearMonth(), "day %d in %s", day, ym)
			}
		}
	}
}

func TestResolve_RejectsInvalidInput(t *testing.T) {
	_, err := calendar.Resolve(0, calendar.YearMonth{Year: 2024, Month: time.March})
	assert.ErrorIs(t, err, calendar.ErrInvalidDay)

	_, err = calendar.Resolve(32, calendar.YearMonth{Year: 2024, Month: time.March})
	assert.ErrorIs(t, err, calendar.ErrInvalidDay)

	_, err = calendar.Resolve(10, calendar.YearMonth{Year: 2024, Month: 13})
	assert.ErrorIs(t, err, calendar.ErrInvalidMonth)
}

func TestDayOfMonth_Validate(t *testing.T) {
	assert.NoError(t, calendar.DayOfMonth(1).Validate())
	assert.NoError(t, calendar.DayOfMonth(28).Validate())
	assert.NoError(t, calendar.MonthEnd.Validate())
	assert.ErrorIs(t, calendar.DayOfMonth(29).Validate(), calendar.ErrInvalidDay)
	assert.ErrorIs(t, calendar.DayOfMonth(0).Validate(), calendar.ErrInvalidDay)
}

// =============================================================================
// YEAR-MONTH
// =============================================================================

func TestYearMonth_AddMonthsRollsYear(t *testing.T) {
	dec := calendar.YearMonth{Year: 2024, Month: time.December}
	assert.Equal(t, calendar.YearMonth{Year: 2025, Month: time.February}, dec.AddMonths(2))

	jan := calendar.YearMonth{Year: 2024, Month: time.January}
	assert.Equal(t, calendar.YearMonth{Year: 2023, Month: time.December}, jan.AddMonths(-1))
	assert.Equal(t, calendar.YearMonth{Year: 2022, Month: time.November}, jan.AddMonths(-14))
}

func TestYearMonth_ParseRoundTrip(t *testing.T) {
	ym, err := calendar.ParseYearMonth("2024-03")
	require.NoError(t, err)
	assert.Equal(t, calendar.YearMonth{Year: 2024, Month: time.March}, ym)
	assert.Equal(t, "2024-03", ym.String())

	zero, err := calendar.ParseYearMonth("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

// =============================================================================
// ADJUST
// =============================================================================

func TestAdjust_NoneReturnsDateUnchanged(t *testing.T) {
	never := calendar.BusinessDayFunc(func(calendar.Date) bool { return false })
	sunday := calendar.NewDate(2025, time.March, 30)

	got, err := calendar.Adjust(sunday, calendar.PolicyNone, never, 5)
	require.NoError(t, err)
	assert.Equal(t, sunday, got)
}

func TestAdjust_BusinessDayIsFixedPoint(t *testing.T) {
	cal := calendar.NewWeekdayCalendar(nil)
	wednesday := calendar.NewDate(2025, time.March, 26)

	for _, p := range []calendar.HolidayPolicy{calendar.PolicyAdvance, calendar.PolicyPostpone} {
		got, err := calendar.Adjust(wednesday, p, cal, calendar.DefaultMaxSteps)
		require.NoError(t, err)
		assert.Equal(t, wednesday, got, "policy %s", p)
	}
}

func TestAdjust_Weekend(t *testing.T) {
	// 2025-03-30 is a Sunday.
	cal := calendar.NewAdjuster(calendar.NewWeekdayCalendar(nil))
	sunday := calendar.NewDate(2025, time.March, 30)

	advanced, err := cal.Adjust(sunday, calendar.PolicyAdvance)
	require.NoError(t, err)
	assert.Equal(t, calendar.NewDate(2025, time.March, 28), advanced)

	postponed, err := cal.Adjust(sunday, calendar.PolicyPostpone)
	require.NoError(t, err)
	assert.Equal(t, calendar.NewDate(2025, time.March, 31), postponed)
}

func TestAdjust_SkipsHolidays(t *testing.T) {
	// 2025-01-01 is a Wednesday holiday; POSTPONE lands on Thursday.
	holidays := calendar.NewHolidaySet(calendar.Holiday{
		Date:      calendar.NewDate(2020, time.January, 1),
		Name:      "New Year",
		Recurring: true,
	})
	adj := calendar.NewAdjuster(calendar.NewWeekdayCalendar(holidays))

	got, err := adj.Adjust(calendar.NewDate(2025, time.January, 1), calendar.PolicyPostpone)
	require.NoError(t, err)
	assert.Equal(t, calendar.NewDate(2025, time.January, 2), got)

	// ADVANCE from the holiday crosses the year boundary to Tuesday 2024-12-31.
	got, err = adj.Adjust(calendar.NewDate(2025, time.January, 1), calendar.PolicyAdvance)
	require.NoError(t, err)
	assert.Equal(t, calendar.NewDate(2024, time.December, 31), got)
}

func TestAdjust_UnboundedHolidayRunFailsLoudly(t *testing.T) {
	never := calendar.BusinessDayFunc(func(calendar.Date) bool { return false })

	_, err := calendar.Adjust(calendar.NewDate(2025, time.May, 1), calendar.PolicyPostpone, never, 7)

	require.Error(t, err)
	assert.ErrorIs(t, err, calendar.ErrAdjustmentLimit)
	var limitErr *calendar.AdjustmentLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 7, limitErr.MaxSteps)
}

func TestAdjust_RejectsUnknownPolicy(t *testing.T) {
	_, err := calendar.Adjust(calendar.NewDate(2025, time.May, 1), "SIDEWAYS", calendar.NewWeekdayCalendar(nil), 7)
	assert.ErrorIs(t, err, calendar.ErrInvalidPolicy)
}

func TestParseHolidayPolicy(t *testing.T) {
	p, err := calendar.ParseHolidayPolicy("postpone")
	require.NoError(t, err)
	assert.Equal(t, calendar.PolicyPostpone, p)

	p, err = calendar.ParseHolidayPolicy("")
	require.NoError(t, err)
	assert.Equal(t, calendar.PolicyNone, p)

	_, err = calendar.ParseHolidayPolicy("later")
	assert.ErrorIs(t, err, calendar.ErrInvalidPolicy)
}

func TestWeekdayCalendar_CustomWeekend(t *testing.T) {
	// Friday/Saturday weekend.
	cal := &calendar.WeekdayCalendar{Weekend: []time.Weekday{time.Friday, time.Saturday}}

	assert.False(t, cal.IsBusinessDay(calendar.NewDate(2025, time.March, 28))) // Friday
	assert.True(t, cal.IsBusinessDay(calendar.NewDate(2025, time.March, 30)))  // Sunday
}
