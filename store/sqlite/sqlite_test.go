package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/consistency"
	"github.com/warp/timebank-engine/generic"
	"github.com/warp/timebank-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	monday  = generic.NewDate(2024, time.March, 11)
	tuesday = monday.AddDays(1)
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "timebank.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store *sqlite.Store) attendance.Contract {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SavePerson(ctx, attendance.Person{ID: "p-1", Name: "Ada", OfficeID: "rome", Qualification: 5}))

	w := attendance.WorkingTimeType{ID: "standard", Description: "36h"}
	for d := 1; d <= 7; d++ {
		if d >= 6 {
			w.Days = append(w.Days, attendance.WorkingTimeTypeDay{DayOfWeek: d, Holiday: true})
			continue
		}
		w.Days = append(w.Days, attendance.WorkingTimeTypeDay{DayOfWeek: d, WorkingTime: 432, MealTicketTime: 360, BreakTicketTime: 30})
	}
	require.NoError(t, store.SaveWorkingTimeType(ctx, w))

	begin := generic.NewDate(2024, time.March, 1)
	c := attendance.Contract{
		ID: "c-1", PersonID: "p-1", BeginDate: begin,
		WorkingTimeTypes: []attendance.ContractWorkingTimeType{
			{Period: generic.From(begin), WorkingTimeTypeID: "standard"},
		},
	}
	require.NoError(t, store.SaveContract(ctx, c))
	return c
}

func stampAt(d generic.Date, h, m int, way attendance.StampWay) attendance.Stamp {
	return attendance.Stamp{
		ID: d.String() + "-" + string(way) + generic.NewTimeOfDay(h, m).String(), PersonID: "p-1",
		Time: d.At(generic.NewTimeOfDay(h, m)), Way: way,
	}
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_PersonsAndContracts(t *testing.T) {
	store := newStore(t)
	c := seed(t, store)
	ctx := context.Background()

	p, err := store.GetPerson(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Qualification)

	_, err = store.GetPerson(ctx, "ghost")
	assert.ErrorIs(t, err, generic.ErrPersonNotFound)

	contracts, err := store.ContractsByPerson(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, c.ID, contracts[0].ID)
	assert.True(t, c.BeginDate.Equal(contracts[0].BeginDate))
	id, ok := contracts[0].WorkingTimeTypeOn(monday)
	assert.True(t, ok)
	assert.Equal(t, "standard", id)

	active, err := store.ListActivePersons(ctx, monday)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	active, err = store.ListActivePersons(ctx, generic.NewDate(2024, time.February, 1))
	require.NoError(t, err)
	assert.Empty(t, active)

	w, err := store.GetWorkingTimeType(ctx, "standard")
	require.NoError(t, err)
	day, ok := w.Day(2)
	require.True(t, ok)
	assert.Equal(t, 432, day.WorkingTime)
}

func TestStore_ConfigurationAndCalendar(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, ok, err := store.ConfigValue(ctx, "rome", "lunch_window")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetConfig(ctx, "rome", "lunch_window", "12:00-14:00"))
	require.NoError(t, store.SetConfig(ctx, "rome", "lunch_window", "12:30-14:30"))
	v, ok, err := store.ConfigValue(ctx, "rome", "lunch_window")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12:30-14:30", v)

	require.NoError(t, store.SaveHoliday(ctx, generic.Holiday{ID: "h-1", OfficeID: "rome", Date: generic.NewDate(2024, time.June, 29), Name: "Santi Pietro e Paolo", Recurring: true}))
	holidays, err := store.Holidays(ctx, "rome")
	require.NoError(t, err)
	assert.True(t, holidays.IsHoliday("rome", generic.NewDate(2025, time.June, 29)))

	require.NoError(t, store.SetShift(ctx, "p-1", monday))
	on, err := store.IsOnShift(ctx, "p-1", monday)
	require.NoError(t, err)
	assert.True(t, on)
	on, err = store.IsOnShift(ctx, "p-1", tuesday)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestStore_StampsAreOrderedByTime(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendStamp(ctx, stampAt(monday, 14, 0, attendance.WayIn)))
	require.NoError(t, store.AppendStamp(ctx, stampAt(monday, 8, 0, attendance.WayIn)))
	require.NoError(t, store.AppendStamp(ctx, stampAt(tuesday, 9, 0, attendance.WayIn)))

	stamps, err := store.StampsInRange(ctx, "p-1", monday, monday)
	require.NoError(t, err)
	require.Len(t, stamps, 2)
	assert.True(t, stamps[0].Time.Equal(monday.At(generic.NewTimeOfDay(8, 0))))
	assert.Equal(t, monday, stamps[1].Date())
}

func TestStore_AbsencesUpsertAndDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	minutes := 30

	a := attendance.Absence{
		ID: "pb-1", PersonID: "p-1", Date: monday,
		Type: attendance.MustLookupAbsenceType(attendance.CodeShortPermission), JustifiedMinutes: &minutes,
		SystemGenerated: true,
	}
	require.NoError(t, store.SaveAbsence(ctx, a))
	minutes = 45
	require.NoError(t, store.SaveAbsence(ctx, a))

	absences, err := store.AbsencesInRange(ctx, "p-1", monday, tuesday)
	require.NoError(t, err)
	require.Len(t, absences, 1)
	assert.Equal(t, 45, absences[0].Minutes())
	assert.True(t, absences[0].SystemGenerated)
	assert.Equal(t, attendance.CodeShortPermission, absences[0].Type.Code)

	require.NoError(t, store.DeleteAbsence(ctx, "pb-1"))
	absences, err = store.AbsencesInRange(ctx, "p-1", monday, tuesday)
	require.NoError(t, err)
	assert.Empty(t, absences)
}

func TestStore_WorkDaysCarryTroubles(t *testing.T) {
	// GIVEN: A saved work day and the same trouble upserted twice
	// WHEN: Reading the day back
	// THEN: The trouble appears once, and clearing it removes it

	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveWorkDay(ctx, attendance.WorkDay{ID: "wd-1", PersonID: "p-1", Date: monday, Difference: -432, Progressive: -432}))
	require.NoError(t, store.SaveWorkDay(ctx, attendance.WorkDay{ID: "wd-other", PersonID: "p-1", Date: monday, Difference: -400, Progressive: -400}))
	for range 2 {
		require.NoError(t, store.UpsertTrouble(ctx, attendance.Trouble{ID: "t-1", PersonID: "p-1", Date: monday, Cause: attendance.TroubleNoAbsNoStamp}))
	}

	wd, err := store.GetWorkDay(ctx, "p-1", monday)
	require.NoError(t, err)
	assert.Equal(t, "wd-1", wd.ID, "the first identity is kept")
	assert.Equal(t, -400, wd.Difference)
	assert.Equal(t, []attendance.TroubleCause{attendance.TroubleNoAbsNoStamp}, wd.Troubles)

	require.NoError(t, store.ClearTrouble(ctx, "p-1", monday, attendance.TroubleNoAbsNoStamp))
	days, err := store.WorkDaysInRange(ctx, "p-1", monday, tuesday)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Empty(t, days[0].Troubles)

	_, err = store.GetWorkDay(ctx, "p-1", tuesday)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_RecapsUpsertPerMonth(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	march := generic.NewYearMonth(2024, time.March)

	r := attendance.MonthRecap{ID: "r-1", ContractID: "c-1", PersonID: "p-1", YearMonth: march, RemainingCurrentYear: 100}
	require.NoError(t, store.SaveRecap(ctx, r))
	r.RemainingCurrentYear = 250
	require.NoError(t, store.SaveRecap(ctx, r))
	require.NoError(t, store.SaveRecap(ctx, attendance.MonthRecap{ID: "r-0", ContractID: "c-1", PersonID: "p-1", YearMonth: march.Previous()}))

	got, err := store.GetRecap(ctx, "c-1", march)
	require.NoError(t, err)
	assert.Equal(t, r, got)

	all, err := store.RecapsByContract(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, march.Previous(), all[0].YearMonth)

	_, err = store.GetRecap(ctx, "c-1", march.Next())
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_CompetencesAndMealTickets(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	march := generic.NewYearMonth(2024, time.March)

	require.NoError(t, store.SaveCompetence(ctx, attendance.Competence{
		ID: "s1", PersonID: "p-1", YearMonth: march, Code: attendance.OvertimeWeekday,
		Approved: generic.NewAmount(1.5, generic.UnitHours),
	}))
	competences, err := store.CompetencesInMonth(ctx, "p-1", march)
	require.NoError(t, err)
	require.Len(t, competences, 1)
	assert.Equal(t, 90, competences[0].Approved.Minutes())

	require.NoError(t, store.SaveMealTicketDelivery(ctx, attendance.MealTicketDelivery{ID: "d-1", PersonID: "p-1", ContractID: "c-1", DeliveredOn: monday, Count: 10}))
	require.NoError(t, store.SaveMealTicketDelivery(ctx, attendance.MealTicketDelivery{ID: "d-2", PersonID: "p-1", ContractID: "c-1", DeliveredOn: monday, Count: 5, Returned: true}))
	n, err := store.MealTicketsDelivered(ctx, "c-1", march.FirstDay(), march.LastDay())
	require.NoError(t, err)
	assert.Equal(t, 10, n, "returned blocks are not counted")

	require.NoError(t, store.SaveTimeVariation(ctx, attendance.TimeVariation{ID: "v-1", PersonID: "p-1", AbsenceID: "a-1", Date: monday, Minutes: 60}))
	variations, err := store.TimeVariationsInRange(ctx, "p-1", monday, tuesday)
	require.NoError(t, err)
	require.Len(t, variations, 1)
	assert.Equal(t, 60, variations[0].Minutes)
}

// =============================================================================
// END TO END
// =============================================================================

func TestStore_RecomputeAllEndToEnd(t *testing.T) {
	// GIVEN: A night shift from Monday 22:00 to Tuesday 05:30 stored in SQLite
	// WHEN: Recomputing the person twice
	// THEN: System stamps are persisted once and the recap exists

	store := newStore(t)
	c := seed(t, store)
	ctx := context.Background()
	require.NoError(t, store.AppendStamp(ctx, stampAt(monday, 22, 0, attendance.WayIn)))
	require.NoError(t, store.AppendStamp(ctx, stampAt(tuesday, 5, 30, attendance.WayOut)))

	svc := consistency.NewService(store, zerolog.Nop(),
		consistency.WithClock(func() generic.Date { return generic.NewDate(2024, time.March, 15) }))
	for range 2 {
		require.NoError(t, svc.RecomputeAll(ctx, "p-1", monday, false))
	}

	stamps, err := store.StampsInRange(ctx, "p-1", monday, tuesday)
	require.NoError(t, err)
	assert.Len(t, stamps, 4)

	mon, err := store.GetWorkDay(ctx, "p-1", monday)
	require.NoError(t, err)
	assert.Equal(t, 119, mon.TimeAtWork)

	r, err := store.GetRecap(ctx, c.ID, generic.NewYearMonth(2024, time.March))
	require.NoError(t, err)
	assert.Equal(t, "p-1", string(r.PersonID))
}

func TestStore_ErrorsNameTheFailedOperation(t *testing.T) {
	// GIVEN: A store whose database has been closed
	// WHEN: Writing and reading through it
	// THEN: Errors say which operation failed and are not mistaken for missing rows

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Close())

	err := store.SavePerson(ctx, attendance.Person{ID: "p-1", OfficeID: "rome", Qualification: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save person")

	_, err = store.GetPerson(ctx, "p-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get person")
	assert.False(t, generic.IsNotFound(err))

	_, err = store.IsOnShift(ctx, "p-1", monday)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query shift")
}
