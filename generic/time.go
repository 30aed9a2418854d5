/*
time.go - Calendar primitives for the time-bank engine

PURPOSE:
  Every computation in the engine is keyed by a calendar day (work days,
  stamps grouped per day) or by a calendar month (recaps). This file holds
  the value types for both, plus clock-time intervals used by office and
  person configuration (lunch window, work window, mandatory presence slot).

KEY TYPES:
  Date:         A calendar day, always normalized to 00:00 UTC
  YearMonth:    A calendar month, the key of a month recap
  TimeOfDay:    Minutes since midnight (00:00 = 0, 23:59 = 1439)
  TimeInterval: A clock-time window inside a single day [From, To)

HOLIDAYS:
  HolidayCalendar answers "is this date a public holiday for this office".
  Weekly rest days come from the working-time type, not from here.

SEE ALSO:
  - period.go: date intervals and their intersections
  - attendance/types.go: WorkDay and MonthRecap keyed by these types
*/
package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - A calendar day
// =============================================================================

type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar day (wall clock, location ignored).
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses "2006-01-02".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date   { return DateOf(d.Time.AddDate(0, 0, n)) }
func (d Date) AddMonths(n int) Date { return DateOf(d.Time.AddDate(0, n, 0)) }

// Properties
func (d Date) Year() int             { return d.Time.Year() }
func (d Date) Month() time.Month     { return d.Time.Month() }
func (d Date) Day() int              { return d.Time.Day() }
func (d Date) Weekday() time.Weekday { return d.Time.Weekday() }
func (d Date) IsZero() bool          { return d.Time.IsZero() }
func (d Date) YearMonth() YearMonth  { return YearMonth{Year: d.Year(), Month: d.Month()} }

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func (d Date) ISOWeekday() int {
	wd := int(d.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// IsLastDayOfMonth reports whether the next day falls in another month.
func (d Date) IsLastDayOfMonth() bool {
	return d.AddDays(1).Month() != d.Month()
}

// At returns the timestamp of this day at the given clock time.
func (d Date) At(t TimeOfDay) time.Time {
	return d.Time.Add(time.Duration(t) * time.Minute)
}

func (d Date) String() string {
	return d.Time.Format(time.DateOnly)
}

// MaxDate returns the later of the given dates.
func MaxDate(first Date, rest ...Date) Date {
	out := first
	for _, d := range rest {
		if d.After(out) {
			out = d
		}
	}
	return out
}

// MinDate returns the earlier of the given dates.
func MinDate(first Date, rest ...Date) Date {
	out := first
	for _, d := range rest {
		if d.Before(out) {
			out = d
		}
	}
	return out
}

// =============================================================================
// YEAR MONTH - The key of a month recap
// =============================================================================

type YearMonth struct {
	Year  int
	Month time.Month
}

func NewYearMonth(year int, month time.Month) YearMonth {
	return YearMonth{Year: year, Month: month}
}

// ParseYearMonth parses "2006-01".
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("invalid year-month %q: %w", s, err)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

func (ym YearMonth) FirstDay() Date { return NewDate(ym.Year, ym.Month, 1) }
func (ym YearMonth) LastDay() Date  { return ym.FirstDay().AddMonths(1).AddDays(-1) }

func (ym YearMonth) AddMonths(n int) YearMonth {
	return ym.FirstDay().AddMonths(n).YearMonth()
}

func (ym YearMonth) Next() YearMonth     { return ym.AddMonths(1) }
func (ym YearMonth) Previous() YearMonth { return ym.AddMonths(-1) }

func (ym YearMonth) Before(other YearMonth) bool {
	return ym.Year < other.Year || (ym.Year == other.Year && ym.Month < other.Month)
}

func (ym YearMonth) After(other YearMonth) bool { return other.Before(ym) }

// Period returns the whole calendar month as a closed interval.
func (ym YearMonth) Period() Period {
	return Period{Start: ym.FirstDay(), End: ym.LastDay()}
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// =============================================================================
// CLOCK TIME
// =============================================================================

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ClockOf returns the wall-clock time of a timestamp.
func ClockOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

// ParseTimeOfDay parses "15:04".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// TimeInterval is a clock-time window [From, To) within one day.
type TimeInterval struct {
	From TimeOfDay
	To   TimeOfDay
}

// ParseTimeInterval parses "08:00-14:00".
func ParseTimeInterval(s string) (TimeInterval, error) {
	if len(s) != 11 || s[5] != '-' {
		return TimeInterval{}, fmt.Errorf("invalid time interval %q", s)
	}
	from, err := ParseTimeOfDay(s[:5])
	if err != nil {
		return TimeInterval{}, err
	}
	to, err := ParseTimeOfDay(s[6:])
	if err != nil {
		return TimeInterval{}, err
	}
	if to < from {
		return TimeInterval{}, fmt.Errorf("invalid time interval %q: end before start", s)
	}
	return TimeInterval{From: from, To: to}, nil
}

// Minutes returns the length of the window.
func (ti TimeInterval) Minutes() int { return int(ti.To - ti.From) }

// Overlap returns how many minutes of [from, to) fall inside the window.
func (ti TimeInterval) Overlap(from, to TimeOfDay) int {
	lo := max(from, ti.From)
	hi := min(to, ti.To)
	if hi <= lo {
		return 0
	}
	return int(hi - lo)
}

// Clamp restricts a clock time to the window bounds.
func (ti TimeInterval) Clamp(t TimeOfDay) TimeOfDay {
	return min(max(t, ti.From), ti.To)
}

func (ti TimeInterval) IsZero() bool { return ti.From == 0 && ti.To == 0 }

func (ti TimeInterval) String() string {
	return ti.From.String() + "-" + ti.To.String()
}

// =============================================================================
// HOLIDAY CALENDAR - Office-specific public holidays
// =============================================================================

// Holiday represents a public holiday, optionally scoped to one office
// (for example the patron saint of the office's city).
type Holiday struct {
	ID        string
	OfficeID  string // Empty string = national holiday
	Date      Date
	Name      string
	Recurring bool // true = same month/day every year
}

// HolidayCalendar provides holiday lookup functionality.
type HolidayCalendar interface {
	// IsHoliday checks if a date is a holiday for the given office.
	// Checks office-specific holidays first, then national holidays.
	IsHoliday(officeID string, date Date) bool
}

// HolidayList is a HolidayCalendar backed by a fixed list of holidays.
type HolidayList []Holiday

func (hl HolidayList) IsHoliday(officeID string, date Date) bool {
	for _, h := range hl {
		if h.OfficeID != "" && h.OfficeID != officeID {
			continue
		}
		if h.Recurring {
			if h.Date.Month() == date.Month() && h.Date.Day() == date.Day() {
				return true
			}
			continue
		}
		if h.Date.Equal(date) {
			return true
		}
	}
	return false
}
