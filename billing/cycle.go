package billing

import (
	"fmt"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// CYCLE CALCULATOR
// =============================================================================

// Cycle is the statement period containing a reference date.
type Cycle struct {
	AccountID   AccountID
	PeriodStart calendar.Date
	PeriodEnd   calendar.Date
	ClosingDate calendar.Date
	DueDate     calendar.Date
}

func (c Cycle) Period() calendar.Period {
	return calendar.Period{Start: c.PeriodStart, End: c.PeriodEnd}
}

// CycleCalculator is a pure function of (BillingConfig, date). It never
// touches a store.
type CycleCalculator struct {
	adjuster *calendar.Adjuster
}

func NewCycleCalculator(adjuster *calendar.Adjuster) *CycleCalculator {
	if adjuster == nil {
		adjuster = calendar.NewAdjuster(calendar.NewWeekdayCalendar(nil))
	}
	return &CycleCalculator{adjuster: adjuster}
}

// Compute returns the cycle containing ref.
//
// The closing date is the resolved closing day of ref's month, or of the next
// month when ref falls after it. The period starts the day after the previous
// month's closing date, so consecutive cycles are contiguous. Closing dates
// are never holiday-adjusted; due dates are.
func (c *CycleCalculator) Compute(cfg BillingConfig, ref calendar.Date) (Cycle, error) {
	if ref.IsZero() {
		return Cycle{}, configReason("reference_date", nil, "required")
	}

	ym := ref.YearMonth()
	closing, err := c.ClosingDateFor(cfg, ym)
	if err != nil {
		return Cycle{}, err
	}
	if ref.After(closing) {
		ym = ym.AddMonths(1)
		if closing, err = c.ClosingDateFor(cfg, ym); err != nil {
			return Cycle{}, err
		}
	}

	prevClosing, err := c.ClosingDateFor(cfg, ym.AddMonths(-1))
	if err != nil {
		return Cycle{}, err
	}

	due, err := c.DueDateFor(cfg, closing)
	if err != nil {
		return Cycle{}, err
	}

	return Cycle{
		PeriodStart: prevClosing.AddDays(1),
		PeriodEnd:   closing,
		ClosingDate: closing,
		DueDate:     due,
	}, nil
}

// ClosingDateFor resolves the closing day within ym.
func (c *CycleCalculator) ClosingDateFor(cfg BillingConfig, ym calendar.YearMonth) (calendar.Date, error) {
	d, err := calendar.Resolve(cfg.ClosingDay, ym)
	if err != nil {
		return calendar.Date{}, configError("closing_day", int(cfg.ClosingDay), err)
	}
	return d, nil
}

// DueDateFor resolves the due day DueMonthOffset months after the closing
// month and applies the due holiday policy.
func (c *CycleCalculator) DueDateFor(cfg BillingConfig, closing calendar.Date) (calendar.Date, error) {
	if cfg.DueMonthOffset < 0 || cfg.DueMonthOffset > MaxDueMonthOffset {
		return calendar.Date{}, configReason("due_month_offset", cfg.DueMonthOffset,
			fmt.Sprintf("must be between 0 and %d", MaxDueMonthOffset))
	}

	nominal, err := calendar.Resolve(cfg.DueDay, closing.YearMonth().AddMonths(cfg.DueMonthOffset))
	if err != nil {
		return calendar.Date{}, configError("due_day", int(cfg.DueDay), err)
	}

	policy := cfg.DueHolidayPolicy
	if policy == "" {
		policy = calendar.PolicyNone
	}
	due, err := c.adjuster.Adjust(nominal, policy)
	if err != nil {
		if IsCalendarError(err) {
			return calendar.Date{}, err
		}
		return calendar.Date{}, configError("due_holiday_policy", string(policy), err)
	}
	return due, nil
}
