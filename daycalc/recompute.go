/*
recompute.go - Day Recomputer

PURPOSE:
  Turns a DayContext into an updated WorkDay and persists it, together with
  the derived data owned by the day: troubles, the night-shift system stamps
  and the system short permission of the mandatory presence slot.

COMPUTATION (active days):
  1. Presence: stamps sorted and paired in->out, each pair clipped to the
     work window. Fixed-working-time persons are credited the expected time.
  2. Justification: all-day absences zero the difference, assign-all-day
     absences credit the expected time, specified-minutes absences credit
     their minutes.
  3. Meal ticket: admin override first, else presence plus meal-counting
     justified minutes must reach the weekday threshold.
  4. Lunch: once the ticket is earned, a break inside the lunch window
     shorter than the weekday break time is deducted from worked time.
  5. Difference and progressive.

NIGHT SHIFT:
  Detected before the day is computed. The correction runs in two passes:
  synthesize and persist the two system stamps, recompute the previous day
  once without detection, then compute the current day.

SEE ALSO:
  - context.go: DayContext
  - scanner.go: threads days together
*/
package daycalc

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/generic"
)

// =============================================================================
// PURE EVALUATION
// =============================================================================

type stampPair struct {
	In, Out generic.TimeOfDay
}

// pairStamps couples ordered stamps in->out. The second result reports
// stamps that could not be coupled.
func pairStamps(stamps []attendance.Stamp) ([]stampPair, bool) {
	sorted := append([]attendance.Stamp(nil), stamps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	var pairs []stampPair
	var pending *attendance.Stamp
	uncoupled := false
	for i := range sorted {
		s := sorted[i]
		switch s.Way {
		case attendance.WayIn:
			if pending != nil {
				uncoupled = true
			}
			pending = &sorted[i]
		case attendance.WayOut:
			if pending == nil {
				uncoupled = true
				continue
			}
			pairs = append(pairs, stampPair{In: generic.ClockOf(pending.Time), Out: generic.ClockOf(s.Time)})
			pending = nil
		}
	}
	if pending != nil {
		uncoupled = true
	}
	return pairs, uncoupled
}

func presenceIn(pairs []stampPair, window generic.TimeInterval) int {
	total := 0
	for _, p := range pairs {
		total += window.Overlap(p.In, p.Out)
	}
	return total
}

type dayOutcome struct {
	day attendance.WorkDay

	// Mandatory presence slot
	slotApplies bool
	shortfall   int
}

func neutral(dc DayContext) dayOutcome {
	wd := dc.Current
	wd.Reset()
	wd.Holiday = dc.Holiday
	return dayOutcome{day: wd}
}

// evaluate computes an active day. dc.WorkingTimeDay must be set.
func evaluate(dc DayContext) dayOutcome {
	wtd := *dc.WorkingTimeDay
	wd := dc.Current
	wd.Reset()
	wd.Holiday = dc.Holiday

	expected := wtd.WorkingTime
	if wd.Holiday {
		expected = 0
	}

	pairs, uncoupled := pairStamps(wd.Stamps)
	stamped := presenceIn(pairs, dc.WorkWindow)

	var allDay, assignAllDay bool
	justified, mealJustified := 0, 0
	for _, a := range wd.Absences {
		switch {
		case a.Type.IsAllDay():
			allDay = allDay || a.Type.Kind == attendance.JustifiedAllDay
			assignAllDay = assignAllDay || a.Type.Kind == attendance.JustifiedAssignAllDay
		case a.Type.Kind == attendance.JustifiedSpecifiedMinutes:
			justified += a.Minutes()
			if a.Type.CountsForMealTicket {
				mealJustified += a.Minutes()
			}
		}
	}

	switch {
	case dc.FixedWorkingTime:
		if !wd.Holiday && !allDay {
			wd.TimeAtWork = expected
		}
	case assignAllDay:
		wd.TimeAtWork = wtd.WorkingTime
	default:
		wd.TimeAtWork = stamped + justified
	}

	presence := stamped + mealJustified
	if dc.FixedWorkingTime {
		presence = wd.TimeAtWork
	}
	switch {
	case wd.TicketForcedByAdmin:
		wd.TicketAvailable = wd.TicketForcedValue
	default:
		wd.TicketAvailable = !wd.Holiday && !allDay &&
			wtd.MealTicketTime > 0 && presence >= wtd.MealTicketTime
	}

	if wd.TicketAvailable && !dc.FixedWorkingTime && !assignAllDay && wtd.BreakTicketTime > 0 {
		if inLunch := presenceIn(pairs, dc.LunchWindow); inLunch > 0 {
			breakTaken := dc.LunchWindow.Minutes() - inLunch
			if breakTaken < wtd.BreakTicketTime {
				wd.DecurtedMeal = min(wtd.BreakTicketTime-breakTaken, wd.TimeAtWork)
				wd.TimeAtWork -= wd.DecurtedMeal
			}
		}
	}

	switch {
	case wd.Holiday:
		if wd.AcceptedHolidayWork {
			wd.Difference = wd.TimeAtWork
		}
	case allDay:
		wd.Difference = 0
	default:
		wd.Difference = wd.TimeAtWork - expected
	}

	if dc.carriesProgressive() {
		wd.Progressive = dc.Previous.Progressive
	}
	wd.Progressive += wd.Difference

	out := dayOutcome{}
	if dc.IsPast() && !dc.FixedWorkingTime {
		if uncoupled {
			wd.Troubles = append(wd.Troubles, attendance.TroubleUncoupledStamps)
		}
		if !wd.Holiday && len(wd.Stamps) == 0 && len(justifyingAbsences(wd.Absences)) == 0 {
			wd.Troubles = append(wd.Troubles, attendance.TroubleNoAbsNoStamp)
		}
	}

	if slot := dc.Contract.MandatorySlot; slot != nil && dc.IsPast() &&
		!wd.Holiday && !dc.OnShift && !allDay && !assignAllDay && !dc.FixedWorkingTime {
		out.slotApplies = true
		out.shortfall = max(slot.Minutes()-presenceIn(pairs, *slot), 0)
	}

	out.day = wd
	return out
}

// justifyingAbsences drops the system short permission, which is derived
// from the day and does not cover it.
func justifyingAbsences(as []attendance.Absence) []attendance.Absence {
	var out []attendance.Absence
	for _, a := range as {
		if a.SystemGenerated && a.Type.ShortPermission {
			continue
		}
		out = append(out, a)
	}
	return out
}

// =============================================================================
// NIGHT SHIFT
// =============================================================================

// nightShiftOpen reports whether yesterday ends with an open in that today's
// first stamp, an out before the cutoff, closes.
func nightShiftOpen(previous, today []attendance.Stamp, cutoff generic.TimeOfDay) bool {
	if len(previous) == 0 || len(today) == 0 {
		return false
	}
	prev := append([]attendance.Stamp(nil), previous...)
	sort.SliceStable(prev, func(i, j int) bool { return prev[i].Time.Before(prev[j].Time) })
	cur := append([]attendance.Stamp(nil), today...)
	sort.SliceStable(cur, func(i, j int) bool { return cur[i].Time.Before(cur[j].Time) })

	last, first := prev[len(prev)-1], cur[0]
	return last.Way == attendance.WayIn &&
		first.Way == attendance.WayOut &&
		generic.ClockOf(first.Time) < cutoff
}

// =============================================================================
// RECOMPUTER
// =============================================================================

type Recomputer struct {
	src     Sources
	builder *ContextBuilder
	log     zerolog.Logger
}

func NewRecomputer(src Sources, builder *ContextBuilder, log zerolog.Logger) *Recomputer {
	return &Recomputer{src: src, builder: builder, log: log}
}

// Recompute computes and persists the day described by dc.
func (r *Recomputer) Recompute(ctx context.Context, dc DayContext) (attendance.WorkDay, error) {
	if err := precondition(dc); err != nil {
		return dc.Current, err
	}
	if dc.Active() && dc.Previous != nil &&
		nightShiftOpen(dc.Previous.Stamps, dc.Current.Stamps, dc.NightShiftCutoff) {
		if err := r.closeNightShift(ctx, &dc); err != nil {
			return dc.Current, err
		}
	}
	return r.apply(ctx, dc)
}

func precondition(dc DayContext) error {
	if dc.Active() && dc.WorkingTimeDay == nil {
		return &generic.PreconditionError{
			PersonID:   string(dc.Person.ID),
			ContractID: string(dc.Contract.ID),
			Date:       dc.Date,
			Err:        generic.ErrMissingWorkingTimeDay,
		}
	}
	return nil
}

// closeNightShift is the first pass of the night-shift correction: it
// persists the system stamps and recomputes the previous day once.
func (r *Recomputer) closeNightShift(ctx context.Context, dc *DayContext) error {
	prevDate := dc.Date.AddDays(-1)
	closing := attendance.Stamp{
		ID: uuid.NewString(), PersonID: dc.Person.ID,
		Time: prevDate.At(generic.NewTimeOfDay(23, 59)), Way: attendance.WayOut,
		MarkedBySystem: true, Note: "night shift",
	}
	opening := attendance.Stamp{
		ID: uuid.NewString(), PersonID: dc.Person.ID,
		Time: dc.Date.At(0), Way: attendance.WayIn,
		MarkedBySystem: true, Note: "night shift",
	}
	for _, s := range []attendance.Stamp{closing, opening} {
		if err := r.src.AppendStamp(ctx, s); err != nil {
			return fmt.Errorf("append night-shift stamp: %w", err)
		}
	}
	dc.Current.Stamps = append([]attendance.Stamp{opening}, dc.Current.Stamps...)

	r.log.Info().
		Str("person_id", string(dc.Person.ID)).
		Str("date", dc.Date.String()).
		Msg("night shift closed with system stamps")

	pc, err := r.builder.Build(ctx, dc.Person, prevDate, nil)
	if err != nil {
		return err
	}
	if err := precondition(pc); err != nil {
		return err
	}
	prev, err := r.apply(ctx, pc)
	if err != nil {
		return err
	}
	dc.Previous = &prev
	dc.PreviousActive = pc.Active()
	return nil
}

// apply is the second pass: compute without night-shift detection and persist.
func (r *Recomputer) apply(ctx context.Context, dc DayContext) (attendance.WorkDay, error) {
	before := dc.Current.Troubles

	var out dayOutcome
	if dc.Active() {
		out = evaluate(dc)
	} else {
		out = neutral(dc)
	}
	wd := out.day
	if wd.ID == "" {
		wd.ID = uuid.NewString()
	}

	if err := r.syncTroubles(ctx, wd, before); err != nil {
		return wd, err
	}
	absences, err := r.syncShortPermission(ctx, wd, out)
	if err != nil {
		return wd, err
	}
	wd.Absences = absences

	if err := r.src.SaveWorkDay(ctx, wd); err != nil {
		return wd, fmt.Errorf("save work day %s: %w", wd.Date, err)
	}
	return wd, nil
}

func (r *Recomputer) syncTroubles(ctx context.Context, wd attendance.WorkDay, before []attendance.TroubleCause) error {
	had := attendance.WorkDay{Troubles: before}
	for _, cause := range attendance.AllTroubleCauses {
		switch {
		case wd.HasTrouble(cause) && !had.HasTrouble(cause):
			err := r.src.UpsertTrouble(ctx, attendance.Trouble{
				ID: uuid.NewString(), PersonID: wd.PersonID, Date: wd.Date, Cause: cause,
			})
			if err != nil {
				return fmt.Errorf("upsert trouble %s on %s: %w", cause, wd.Date, err)
			}
		case !wd.HasTrouble(cause) && had.HasTrouble(cause):
			if err := r.src.ClearTrouble(ctx, wd.PersonID, wd.Date, cause); err != nil {
				return fmt.Errorf("clear trouble %s on %s: %w", cause, wd.Date, err)
			}
		}
	}
	return nil
}

// syncShortPermission creates, resizes or removes the system short
// permission covering the mandatory-slot shortfall.
func (r *Recomputer) syncShortPermission(ctx context.Context, wd attendance.WorkDay, out dayOutcome) ([]attendance.Absence, error) {
	absences := append([]attendance.Absence(nil), wd.Absences...)
	idx := -1
	for i, a := range absences {
		if a.SystemGenerated && a.Type.ShortPermission {
			idx = i
			break
		}
	}

	if out.slotApplies && out.shortfall > 0 {
		a := attendance.Absence{
			ID: uuid.NewString(), PersonID: wd.PersonID, Date: wd.Date,
			Type:            attendance.GetOrCreateAbsenceType(attendance.CodeShortPermission),
			SystemGenerated: true,
		}
		if idx >= 0 {
			a = absences[idx]
			if a.JustifiedMinutes != nil && *a.JustifiedMinutes == out.shortfall {
				return absences, nil
			}
		}
		minutes := out.shortfall
		a.JustifiedMinutes = &minutes
		if err := r.src.SaveAbsence(ctx, a); err != nil {
			return absences, fmt.Errorf("save short permission on %s: %w", wd.Date, err)
		}
		if idx >= 0 {
			absences[idx] = a
		} else {
			absences = append(absences, a)
		}
		return absences, nil
	}

	if idx >= 0 {
		if err := r.src.DeleteAbsence(ctx, absences[idx].ID); err != nil {
			return absences, fmt.Errorf("delete short permission on %s: %w", wd.Date, err)
		}
		absences = append(absences[:idx], absences[idx+1:]...)
	}
	return absences, nil
}
