package calendar

import (
	"errors"
	"fmt"
	"time"
)

// DayOfMonth is a nominal day used by closing, due and recurrence rules.
// Configured values are 1-28 or MonthEnd.
type DayOfMonth int

// MonthEnd means "last day of the month" regardless of month length.
const MonthEnd DayOfMonth = 31

// MaxFixedDay is the largest nominal day that exists in every month.
const MaxFixedDay DayOfMonth = 28

var (
	// ErrInvalidDay is returned for a nominal day outside 1-31.
	ErrInvalidDay = errors.New("invalid day of month")

	// ErrInvalidMonth is returned for a month outside January-December.
	ErrInvalidMonth = errors.New("invalid month")
)

// IsMonthEnd reports whether d is the month-end sentinel.
func (d DayOfMonth) IsMonthEnd() bool { return d == MonthEnd }

func (d DayOfMonth) String() string {
	if d.IsMonthEnd() {
		return "month-end"
	}
	return fmt.Sprintf("%d", int(d))
}

// Validate checks the configurable domain: 1-28 or MonthEnd.
func (d DayOfMonth) Validate() error {
	if (d >= 1 && d <= MaxFixedDay) || d.IsMonthEnd() {
		return nil
	}
	return fmt.Errorf("%w: %d (must be 1-%d or %d for month end)", ErrInvalidDay, int(d), int(MaxFixedDay), int(MonthEnd))
}

// Resolve turns a nominal day into a concrete date within ym.
// MonthEnd, or any day past the month's length, yields the last day of the
// month. The result never leaves the requested month.
func Resolve(day DayOfMonth, ym YearMonth) (Date, error) {
	if ym.Month < time.January || ym.Month > time.December {
		return Date{}, fmt.Errorf("%w: %d", ErrInvalidMonth, int(ym.Month))
	}
	if day < 1 || day > MonthEnd {
		return Date{}, fmt.Errorf("%w: %d", ErrInvalidDay, int(day))
	}
	last := ym.Days()
	if day.IsMonthEnd() || int(day) > last {
		return NewDate(ym.Year, ym.Month, last), nil
	}
	return NewDate(ym.Year, ym.Month, int(day)), nil
}
