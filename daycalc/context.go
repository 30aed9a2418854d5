/*
Package daycalc implements the day pass of the time-bank engine.

PURPOSE:
  Walks a person's days forward from a trigger date, recomputing each day's
  worked and justified time, its difference against the expected time, the
  running monthly progressive, the meal ticket and the consistency troubles.

KEY CONCEPTS IN THIS FILE (context.go):
  - DayContext: Everything needed to recompute one day, resolved up front
  - ContextBuilder: Pure lookup of contract, weekday schedule, previous day,
    holiday flag, shift presence and typed configuration

ACTIVE DAYS:
  A day is active when a contract covers it and it falls after the
  contract's initialization date. Inactive days are neutral: zero time,
  zero progressive, no ticket, no checks.

SEE ALSO:
  - recompute.go: Day Recomputer
  - scanner.go: Day-Range Scanner and its per-scan cache
*/
package daycalc

import (
	"context"
	"fmt"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/config"
	"github.com/warp/timebank-engine/generic"
)

// Sources is what the day pass reads and writes.
type Sources interface {
	attendance.ContractReader
	attendance.WorkingTimeReader
	attendance.HolidayReader
	attendance.ShiftReader
	attendance.ConfigSource
	attendance.StampStore
	attendance.AbsenceStore
	attendance.TroubleStore
	attendance.WorkDayStore
}

// =============================================================================
// DAY CONTEXT
// =============================================================================

type DayContext struct {
	Person attendance.Person
	Date   generic.Date
	Today  generic.Date

	// Contract covering the date, nil when the person is not employed.
	Contract *attendance.Contract

	// WorkingTimeDay is the weekday schedule, nil when the contract's
	// working-time type does not define the weekday.
	WorkingTimeDay *attendance.WorkingTimeTypeDay

	// Current is the persisted day (or a fresh one) with its stamps and
	// absences loaded.
	Current attendance.WorkDay

	// Previous is the day before, with its stamps loaded. PreviousActive
	// tells whether the person was active on it.
	Previous       *attendance.WorkDay
	PreviousActive bool

	Holiday bool
	OnShift bool

	LunchWindow      generic.TimeInterval
	WorkWindow       generic.TimeInterval
	NightShiftCutoff generic.TimeOfDay
	FixedWorkingTime bool
}

// Active reports whether the day is computed rather than neutralized.
func (dc DayContext) Active() bool {
	return dc.Contract != nil && !coveredBySource(*dc.Contract, dc.Date)
}

// IsPast reports whether the day is over.
func (dc DayContext) IsPast() bool {
	return dc.Date.Before(dc.Today)
}

// carriesProgressive reports whether the previous day's progressive is the
// starting point of this day's.
func (dc DayContext) carriesProgressive() bool {
	return dc.Previous != nil && dc.PreviousActive &&
		dc.Previous.Date.YearMonth() == dc.Date.YearMonth()
}

// coveredBySource reports whether the date is summarized by the contract's
// initialization values.
func coveredBySource(c attendance.Contract, d generic.Date) bool {
	return c.SourceDateResidual != nil && !d.After(*c.SourceDateResidual)
}

func activeOn(contracts []attendance.Contract, d generic.Date) (*attendance.Contract, bool) {
	c, ok := attendance.ContractOn(contracts, d)
	if !ok {
		return nil, false
	}
	return &c, !coveredBySource(c, d)
}

// =============================================================================
// CONTEXT BUILDER
// =============================================================================

type ContextBuilder struct {
	src   Sources
	today func() generic.Date
}

func NewContextBuilder(src Sources, today func() generic.Date) *ContextBuilder {
	if today == nil {
		today = generic.Today
	}
	return &ContextBuilder{src: src, today: today}
}

// Build resolves the context of one day. previous may be nil, in which case
// the day before is read from the sources.
func (b *ContextBuilder) Build(ctx context.Context, person attendance.Person, date generic.Date, previous *attendance.WorkDay) (DayContext, error) {
	dc := DayContext{Person: person, Date: date, Today: b.today()}

	contracts, err := b.src.ContractsByPerson(ctx, person.ID)
	if err != nil {
		return dc, fmt.Errorf("load contracts of %s: %w", person.ID, err)
	}
	dc.Contract, _ = activeOn(contracts, date)

	if dc.Current, err = b.loadDay(ctx, person.ID, date); err != nil {
		return dc, err
	}

	prevDate := date.AddDays(-1)
	if previous == nil || !previous.Date.Equal(prevDate) {
		prev, err := b.loadDay(ctx, person.ID, prevDate)
		if err != nil {
			return dc, err
		}
		if prev.ID != "" || len(prev.Stamps) > 0 {
			previous = &prev
		} else {
			previous = nil
		}
	} else if previous.Stamps == nil {
		stamps, err := b.src.StampsInRange(ctx, person.ID, prevDate, prevDate)
		if err != nil {
			return dc, fmt.Errorf("load stamps of %s: %w", prevDate, err)
		}
		p := *previous
		p.Stamps = stamps
		previous = &p
	}
	dc.Previous = previous
	_, dc.PreviousActive = activeOn(contracts, prevDate)

	holidays, err := b.src.Holidays(ctx, person.OfficeID)
	if err != nil {
		return dc, fmt.Errorf("load holidays of office %s: %w", person.OfficeID, err)
	}
	dc.Holiday = holidays.IsHoliday(person.OfficeID, date)

	if !dc.Active() {
		return dc, nil
	}

	if dc.WorkingTimeDay, err = b.workingTimeDay(ctx, *dc.Contract, date); err != nil {
		return dc, err
	}
	if dc.WorkingTimeDay != nil && dc.WorkingTimeDay.Holiday {
		dc.Holiday = true
	}

	if dc.OnShift, err = b.src.IsOnShift(ctx, person.ID, date); err != nil {
		return dc, fmt.Errorf("load shift of %s: %w", date, err)
	}

	r := config.For(b.src, person)
	if dc.LunchWindow, err = config.Get(ctx, r, config.LunchWindow); err != nil {
		return dc, err
	}
	if dc.WorkWindow, err = config.EffectiveWorkWindow(ctx, r); err != nil {
		return dc, err
	}
	cutoff, err := config.Get(ctx, r, config.NightShiftCutoffHour)
	if err != nil {
		return dc, err
	}
	dc.NightShiftCutoff = generic.NewTimeOfDay(cutoff, 0)
	if dc.FixedWorkingTime, err = config.Get(ctx, r, config.FixedWorkingTime); err != nil {
		return dc, err
	}
	return dc, nil
}

// loadDay returns the persisted day with its stamps and absences, or a day
// without ID when none is persisted yet.
func (b *ContextBuilder) loadDay(ctx context.Context, personID attendance.PersonID, date generic.Date) (attendance.WorkDay, error) {
	wd, err := b.src.GetWorkDay(ctx, personID, date)
	switch {
	case generic.IsNotFound(err):
		wd = attendance.WorkDay{PersonID: personID, Date: date}
	case err != nil:
		return wd, fmt.Errorf("load work day %s: %w", date, err)
	}
	if wd.Stamps, err = b.src.StampsInRange(ctx, personID, date, date); err != nil {
		return wd, fmt.Errorf("load stamps of %s: %w", date, err)
	}
	if wd.Absences, err = b.src.AbsencesInRange(ctx, personID, date, date); err != nil {
		return wd, fmt.Errorf("load absences of %s: %w", date, err)
	}
	return wd, nil
}

func (b *ContextBuilder) workingTimeDay(ctx context.Context, c attendance.Contract, date generic.Date) (*attendance.WorkingTimeTypeDay, error) {
	id, ok := c.WorkingTimeTypeOn(date)
	if !ok {
		return nil, &generic.PreconditionError{
			PersonID: string(c.PersonID), ContractID: string(c.ID), Date: date,
			Err: generic.ErrMissingWorkingTimeType,
		}
	}
	wtt, err := b.src.GetWorkingTimeType(ctx, id)
	if generic.IsNotFound(err) {
		return nil, &generic.PreconditionError{
			PersonID: string(c.PersonID), ContractID: string(c.ID), Date: date,
			Err: fmt.Errorf("%w: %s", generic.ErrMissingWorkingTimeType, id),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load working-time type %s: %w", id, err)
	}
	day, ok := wtt.Day(date.ISOWeekday())
	if !ok {
		return nil, nil
	}
	return &day, nil
}
