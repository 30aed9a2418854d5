package daycalc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// 2024-03-12 is a Tuesday.
var tuesday = generic.NewDate(2024, time.March, 12)

func weekday() *attendance.WorkingTimeTypeDay {
	return &attendance.WorkingTimeTypeDay{
		DayOfWeek:       2,
		WorkingTime:     432,
		MealTicketTime:  360,
		BreakTicketTime: 30,
	}
}

func stamp(d generic.Date, hour, minute int, way attendance.StampWay) attendance.Stamp {
	return attendance.Stamp{PersonID: "p-1", Time: d.At(generic.NewTimeOfDay(hour, minute)), Way: way}
}

func absence(code string) attendance.Absence {
	return attendance.Absence{PersonID: "p-1", Date: tuesday, Type: attendance.MustLookupAbsenceType(code)}
}

func dayContext(stamps ...attendance.Stamp) DayContext {
	return DayContext{
		Person:           attendance.Person{ID: "p-1", OfficeID: "rome", Qualification: 5},
		Date:             tuesday,
		Today:            tuesday.AddDays(7),
		Contract:         &attendance.Contract{ID: "c-1", PersonID: "p-1", BeginDate: generic.NewDate(2020, time.January, 1)},
		WorkingTimeDay:   weekday(),
		Current:          attendance.WorkDay{PersonID: "p-1", Date: tuesday, Stamps: stamps},
		LunchWindow:      generic.TimeInterval{From: generic.NewTimeOfDay(12, 0), To: generic.NewTimeOfDay(15, 0)},
		WorkWindow:       generic.TimeInterval{From: 0, To: generic.NewTimeOfDay(23, 59)},
		NightShiftCutoff: generic.NewTimeOfDay(6, 0),
	}
}

// =============================================================================
// STAMP PAIRING
// =============================================================================

func TestPairStamps_OrdersAndCouples(t *testing.T) {
	// GIVEN: Stamps delivered out of order
	// WHEN: Pairing
	// THEN: Two pairs in time order, nothing uncoupled

	pairs, uncoupled := pairStamps([]attendance.Stamp{
		stamp(tuesday, 14, 0, attendance.WayIn),
		stamp(tuesday, 8, 0, attendance.WayIn),
		stamp(tuesday, 18, 0, attendance.WayOut),
		stamp(tuesday, 12, 0, attendance.WayOut),
	})

	require.Len(t, pairs, 2)
	assert.False(t, uncoupled)
	assert.Equal(t, generic.NewTimeOfDay(8, 0), pairs[0].In)
	assert.Equal(t, generic.NewTimeOfDay(12, 0), pairs[0].Out)
	assert.Equal(t, generic.NewTimeOfDay(14, 0), pairs[1].In)
}

func TestPairStamps_DanglingInIsUncoupled(t *testing.T) {
	pairs, uncoupled := pairStamps([]attendance.Stamp{
		stamp(tuesday, 8, 0, attendance.WayIn),
		stamp(tuesday, 12, 0, attendance.WayOut),
		stamp(tuesday, 13, 0, attendance.WayIn),
	})

	assert.Len(t, pairs, 1)
	assert.True(t, uncoupled)
}

func TestPresenceIn_ClipsToWindow(t *testing.T) {
	pairs := []stampPair{{In: generic.NewTimeOfDay(7, 0), Out: generic.NewTimeOfDay(10, 0)}}
	window := generic.TimeInterval{From: generic.NewTimeOfDay(8, 0), To: generic.NewTimeOfDay(20, 0)}

	assert.Equal(t, 120, presenceIn(pairs, window))
}

// =============================================================================
// DAY EVALUATION
// =============================================================================

func TestEvaluate_ShortLunchBreakIsDeducted(t *testing.T) {
	// GIVEN: 08:00-12:00 and 12:10-15:30, a 10 minute break inside the lunch window
	// WHEN: Evaluating with a 30 minute break requirement
	// THEN: 20 minutes are deducted, ticket earned, difference -12

	dc := dayContext(
		stamp(tuesday, 8, 0, attendance.WayIn),
		stamp(tuesday, 12, 0, attendance.WayOut),
		stamp(tuesday, 12, 10, attendance.WayIn),
		stamp(tuesday, 15, 30, attendance.WayOut),
	)

	wd := evaluate(dc).day

	assert.True(t, wd.TicketAvailable)
	assert.Equal(t, 20, wd.DecurtedMeal)
	assert.Equal(t, 420, wd.TimeAtWork)
	assert.Equal(t, -12, wd.Difference)
	assert.Equal(t, -12, wd.Progressive)
	assert.Empty(t, wd.Troubles)
}

func TestEvaluate_NoPresenceInLunchWindowNoDeduction(t *testing.T) {
	// GIVEN: Presence 08:00-12:00 plus a 120 minute hourly permission
	// WHEN: Evaluating
	// THEN: The permission counts for the ticket, nothing deducted

	dc := dayContext(
		stamp(tuesday, 8, 0, attendance.WayIn),
		stamp(tuesday, 12, 0, attendance.WayOut),
	)
	perm := absence(attendance.CodeHourlyPermission)
	minutes := 120
	perm.JustifiedMinutes = &minutes
	dc.Current.Absences = []attendance.Absence{perm}

	wd := evaluate(dc).day

	assert.Equal(t, 360, wd.TimeAtWork)
	assert.True(t, wd.TicketAvailable)
	assert.Zero(t, wd.DecurtedMeal)
	assert.Equal(t, -72, wd.Difference)
}

func TestEvaluate_AllDayAbsenceZeroesDifference(t *testing.T) {
	dc := dayContext()
	dc.Current.Absences = []attendance.Absence{absence(attendance.CodeVacation)}

	wd := evaluate(dc).day

	assert.Zero(t, wd.Difference)
	assert.False(t, wd.TicketAvailable)
	assert.Empty(t, wd.Troubles, "an absence justifies a day without stamps")
}

func TestEvaluate_AssignAllDayCreditsExpectedTime(t *testing.T) {
	dc := dayContext()
	dc.Current.Absences = []attendance.Absence{absence(attendance.CodeMission)}

	wd := evaluate(dc).day

	assert.Equal(t, 432, wd.TimeAtWork)
	assert.Zero(t, wd.Difference)
}

func TestEvaluate_TroublesOnPastDaysOnly(t *testing.T) {
	// GIVEN: A working day without stamps or absences
	// WHEN: Evaluating it in the past and as today
	// THEN: Only the past day is flagged

	past := evaluate(dayContext()).day
	assert.True(t, past.HasTrouble(attendance.TroubleNoAbsNoStamp))
	assert.Equal(t, -432, past.Difference)

	dc := dayContext()
	dc.Today = tuesday
	current := evaluate(dc).day
	assert.Empty(t, current.Troubles)
}

func TestEvaluate_UncoupledStampsFlagged(t *testing.T) {
	dc := dayContext(stamp(tuesday, 8, 0, attendance.WayIn))

	wd := evaluate(dc).day

	assert.True(t, wd.HasTrouble(attendance.TroubleUncoupledStamps))
	assert.False(t, wd.HasTrouble(attendance.TroubleNoAbsNoStamp))
	assert.Zero(t, wd.TimeAtWork)
}

func TestEvaluate_HolidayWorkCountsOnlyWhenAccepted(t *testing.T) {
	dc := dayContext(
		stamp(tuesday, 9, 0, attendance.WayIn),
		stamp(tuesday, 11, 0, attendance.WayOut),
	)
	dc.Holiday = true

	wd := evaluate(dc).day
	assert.Equal(t, 120, wd.TimeAtWork)
	assert.Zero(t, wd.Difference)
	assert.False(t, wd.TicketAvailable)

	dc.Current.AcceptedHolidayWork = true
	wd = evaluate(dc).day
	assert.Equal(t, 120, wd.Difference)
}

func TestEvaluate_FixedWorkingTimeCreditsExpected(t *testing.T) {
	dc := dayContext()
	dc.FixedWorkingTime = true

	wd := evaluate(dc).day

	assert.Equal(t, 432, wd.TimeAtWork)
	assert.Zero(t, wd.Difference)
	assert.True(t, wd.TicketAvailable)
	assert.Empty(t, wd.Troubles)
}

func TestEvaluate_AdminForcesTicket(t *testing.T) {
	dc := dayContext(
		stamp(tuesday, 8, 0, attendance.WayIn),
		stamp(tuesday, 16, 0, attendance.WayOut),
	)
	dc.Current.TicketForcedByAdmin = true
	dc.Current.TicketForcedValue = false

	wd := evaluate(dc).day

	assert.False(t, wd.TicketAvailable)
	assert.Zero(t, wd.DecurtedMeal)
}

func TestEvaluate_ProgressiveCarriesWithinMonth(t *testing.T) {
	// GIVEN: Yesterday closed at +30 in the same month
	// WHEN: Today is -12
	// THEN: Progressive is +18; across a month boundary it restarts

	dc := dayContext(
		stamp(tuesday, 8, 0, attendance.WayIn),
		stamp(tuesday, 12, 0, attendance.WayOut),
		stamp(tuesday, 12, 10, attendance.WayIn),
		stamp(tuesday, 15, 30, attendance.WayOut),
	)
	dc.Previous = &attendance.WorkDay{Date: tuesday.AddDays(-1), Progressive: 30}
	dc.PreviousActive = true

	assert.Equal(t, 18, evaluate(dc).day.Progressive)

	dc.PreviousActive = false
	assert.Equal(t, -12, evaluate(dc).day.Progressive)
}

func TestEvaluate_MandatorySlotShortfall(t *testing.T) {
	// GIVEN: A 10:00-12:00 mandatory slot and presence from 10:30
	// WHEN: Evaluating a past day
	// THEN: The slot applies with a 30 minute shortfall

	dc := dayContext(
		stamp(tuesday, 10, 30, attendance.WayIn),
		stamp(tuesday, 16, 0, attendance.WayOut),
	)
	slot := generic.TimeInterval{From: generic.NewTimeOfDay(10, 0), To: generic.NewTimeOfDay(12, 0)}
	dc.Contract.MandatorySlot = &slot

	out := evaluate(dc)
	assert.True(t, out.slotApplies)
	assert.Equal(t, 30, out.shortfall)

	dc.OnShift = true
	assert.False(t, evaluate(dc).slotApplies)
}

func TestNeutral_KeepsIdentityAndZeroes(t *testing.T) {
	dc := dayContext()
	dc.Contract = nil
	dc.Current.ID = "wd-1"
	dc.Current.TimeAtWork = 300
	dc.Current.Progressive = 100

	wd := neutral(dc).day

	assert.Equal(t, "wd-1", wd.ID)
	assert.Zero(t, wd.TimeAtWork)
	assert.Zero(t, wd.Progressive)
	assert.False(t, dc.Active())
}

// =============================================================================
// NIGHT SHIFT DETECTION
// =============================================================================

func TestNightShiftOpen(t *testing.T) {
	yesterday := tuesday.AddDays(-1)
	prev := []attendance.Stamp{stamp(yesterday, 22, 0, attendance.WayIn)}
	cutoff := generic.NewTimeOfDay(6, 0)

	assert.True(t, nightShiftOpen(prev, []attendance.Stamp{stamp(tuesday, 5, 30, attendance.WayOut)}, cutoff))
	assert.False(t, nightShiftOpen(prev, []attendance.Stamp{stamp(tuesday, 7, 0, attendance.WayOut)}, cutoff),
		"out after the cutoff is not a night shift")
	assert.False(t, nightShiftOpen(nil, []attendance.Stamp{stamp(tuesday, 5, 30, attendance.WayOut)}, cutoff))
}

func TestPrecondition_MissingWeekday(t *testing.T) {
	dc := dayContext()
	dc.WorkingTimeDay = nil

	err := precondition(dc)

	require.Error(t, err)
	assert.True(t, generic.IsPrecondition(err))
	assert.ErrorIs(t, err, generic.ErrMissingWorkingTimeDay)
}
