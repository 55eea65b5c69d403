package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// HOLIDAY POLICY
// =============================================================================

// HolidayPolicy decides how a date that falls on a non-business day moves.
type HolidayPolicy string

const (
	PolicyNone     HolidayPolicy = "NONE"     // keep the date
	PolicyAdvance  HolidayPolicy = "ADVANCE"  // previous business day
	PolicyPostpone HolidayPolicy = "POSTPONE" // next business day
)

// ErrInvalidPolicy is returned for an unknown holiday policy.
var ErrInvalidPolicy = errors.New("invalid holiday policy")

// ParseHolidayPolicy accepts any casing; the empty string means NONE.
func ParseHolidayPolicy(s string) (HolidayPolicy, error) {
	p := HolidayPolicy(strings.ToUpper(strings.TrimSpace(s)))
	if p == "" {
		return PolicyNone, nil
	}
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

func (p HolidayPolicy) Validate() error {
	switch p {
	case PolicyNone, PolicyAdvance, PolicyPostpone:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidPolicy, string(p))
}

// =============================================================================
// BUSINESS-DAY CALENDAR
// =============================================================================

// BusinessDayCalendar is the business-day oracle consumed by the adjuster.
type BusinessDayCalendar interface {
	IsBusinessDay(d Date) bool
}

// BusinessDayFunc adapts a plain function to BusinessDayCalendar.
type BusinessDayFunc func(d Date) bool

func (f BusinessDayFunc) IsBusinessDay(d Date) bool { return f(d) }

// Holiday is a non-business day. Recurring holidays repeat on the same
// month/day every year.
type Holiday struct {
	ID        string
	Date      Date
	Name      string
	Recurring bool
}

// HolidayCalendar answers holiday lookups.
type HolidayCalendar interface {
	IsHoliday(d Date) bool
}

// ErrHolidayNotFound is returned when deleting an unknown holiday.
var ErrHolidayNotFound = errors.New("holiday not found")

// HolidayRepository is a HolidayCalendar whose entries can be managed.
type HolidayRepository interface {
	HolidayCalendar
	ListHolidays(ctx context.Context) ([]Holiday, error)
	SaveHoliday(ctx context.Context, h Holiday) error
	DeleteHoliday(ctx context.Context, id string) error
}

// WeekdayCalendar treats weekend days and holidays as non-business days.
type WeekdayCalendar struct {
	Holidays HolidayCalendar // optional
	Weekend  []time.Weekday  // defaults to Saturday and Sunday
}

// NewWeekdayCalendar returns a Saturday/Sunday weekend calendar.
func NewWeekdayCalendar(holidays HolidayCalendar) *WeekdayCalendar {
	return &WeekdayCalendar{Holidays: holidays}
}

func (c *WeekdayCalendar) IsBusinessDay(d Date) bool {
	if c.isWeekend(d) {
		return false
	}
	if c.Holidays != nil && c.Holidays.IsHoliday(d) {
		return false
	}
	return true
}

func (c *WeekdayCalendar) isWeekend(d Date) bool {
	if len(c.Weekend) == 0 {
		return d.IsWeekend()
	}
	wd := d.Weekday()
	for _, w := range c.Weekend {
		if w == wd {
			return true
		}
	}
	return false
}

// HolidaySet is an in-memory HolidayCalendar.
type HolidaySet struct {
	mu        sync.RWMutex
	fixed     map[string]Holiday
	recurring map[monthDay]Holiday
}

type monthDay struct {
	Month time.Month
	Day   int
}

func NewHolidaySet(holidays ...Holiday) *HolidaySet {
	s := &HolidaySet{
		fixed:     make(map[string]Holiday),
		recurring: make(map[monthDay]Holiday),
	}
	for _, h := range holidays {
		s.Add(h)
	}
	return s
}

func (s *HolidaySet) Add(h Holiday) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.Recurring {
		s.recurring[monthDay{Month: h.Date.Month(), Day: h.Date.Day()}] = h
		return
	}
	s.fixed[h.Date.String()] = h
}

// Remove deletes the holiday with the given id.
func (s *HolidaySet) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, h := range s.fixed {
		if h.ID == id {
			delete(s.fixed, k)
			return true
		}
	}
	for k, h := range s.recurring {
		if h.ID == id {
			delete(s.recurring, k)
			return true
		}
	}
	return false
}

// List returns all holidays ordered by date.
func (s *HolidaySet) List() []Holiday {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Holiday, 0, len(s.fixed)+len(s.recurring))
	for _, h := range s.fixed {
		out = append(out, h)
	}
	for _, h := range s.recurring {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

func (s *HolidaySet) IsHoliday(d Date) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.fixed[d.String()]; ok {
		return true
	}
	_, ok := s.recurring[monthDay{Month: d.Month(), Day: d.Day()}]
	return ok
}

// =============================================================================
// ADJUSTER
// =============================================================================

// DefaultMaxSteps caps the adjuster walk. A weekly weekend needs at most 2
// steps; long national holiday runs stay well below a month.
const DefaultMaxSteps = 31

// ErrAdjustmentLimit is returned when no business day is found within the cap.
var ErrAdjustmentLimit = errors.New("business-day adjustment exceeded step limit")

// AdjustmentLimitError carries the failed walk's details.
type AdjustmentLimitError struct {
	Start    Date
	Policy   HolidayPolicy
	MaxSteps int
}

func (e *AdjustmentLimitError) Error() string {
	return fmt.Sprintf("no business day within %d days of %s (%s)", e.MaxSteps, e.Start, e.Policy)
}

func (e *AdjustmentLimitError) Unwrap() error { return ErrAdjustmentLimit }

// Adjuster shifts dates to business days. It holds no calendar data itself.
type Adjuster struct {
	Calendar BusinessDayCalendar
	MaxSteps int
}

// NewAdjuster returns an adjuster with DefaultMaxSteps.
func NewAdjuster(cal BusinessDayCalendar) *Adjuster {
	return &Adjuster{Calendar: cal, MaxSteps: DefaultMaxSteps}
}

// Adjust applies policy to d. NONE and business days return d unchanged.
func (a *Adjuster) Adjust(d Date, policy HolidayPolicy) (Date, error) {
	return Adjust(d, policy, a.Calendar, a.MaxSteps)
}

// Adjust walks one day at a time (backward for ADVANCE, forward for
// POSTPONE) while cal reports a non-business day, failing after maxSteps.
func Adjust(d Date, policy HolidayPolicy, cal BusinessDayCalendar, maxSteps int) (Date, error) {
	if err := policy.Validate(); err != nil {
		return Date{}, err
	}
	if policy == PolicyNone || cal == nil {
		return d, nil
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	step := 1
	if policy == PolicyAdvance {
		step = -1
	}

	current := d
	for i := 0; !cal.IsBusinessDay(current); i++ {
		if i >= maxSteps {
			return Date{}, &AdjustmentLimitError{Start: d, Policy: policy, MaxSteps: maxSteps}
		}
		current = current.AddDays(step)
	}
	return current, nil
}
