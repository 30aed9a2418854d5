package recap_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/generic"
	"github.com/warp/timebank-engine/recap"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	march2024 = generic.NewYearMonth(2024, time.March)
	april2024 = generic.NewYearMonth(2024, time.April)
	dec2023   = generic.NewYearMonth(2023, time.December)
	jan2024   = generic.NewYearMonth(2024, time.January)
)

func shell(ym generic.YearMonth) attendance.MonthRecap {
	return attendance.MonthRecap{ID: "r-1", ContractID: "c-1", PersonID: "p-1", YearMonth: ym}
}

// seed opens ym with the closing balances of the month before.
func seed(ym generic.YearMonth, o recap.Opening, cutoff int) recap.Seed {
	return recap.Seed{YearMonth: ym, OpeningOf: ym.Previous(), Opening: o, LastYearCutoff: cutoff}
}

// days builds one work day per difference, from the first of the month.
func days(ym generic.YearMonth, differences ...int) []attendance.WorkDay {
	var out []attendance.WorkDay
	progressive := 0
	for i, diff := range differences {
		progressive += diff
		out = append(out, attendance.WorkDay{
			Date: ym.FirstDay().AddDays(i), Difference: diff, Progressive: progressive,
			TimeAtWork: max(432+diff, 0),
		})
	}
	return out
}

func rest(d generic.Date, minutes int) recap.Rest {
	return recap.Rest{Date: d, Minutes: minutes}
}

// =============================================================================
// APPORTIONMENT SCENARIOS
// =============================================================================

func TestApportion_RestChargedToCurrentYear(t *testing.T) {
	// GIVEN: 500 current-year minutes, +300 this month, one 120 minute rest
	// WHEN: Apportioning
	// THEN: The rest is imputed to the current year, which closes at 680

	acc := recap.Apportion(shell(march2024),
		seed(march2024, recap.Opening{CurrentYear: 500}, 0),
		recap.MonthFacts{
			Days:  days(march2024, 300),
			Rests: []recap.Rest{rest(march2024.FirstDay().AddDays(5), 120)},
		})

	r := acc.Recap
	assert.Equal(t, 120, r.RestToCurrentYear)
	assert.Zero(t, r.RestToSurplus)
	assert.Equal(t, 300, r.SurplusToCurrentYear)
	assert.Equal(t, 680, r.RemainingCurrentYear)
	assert.Equal(t, 120, r.RestToCurrentYearReported())
	assert.Equal(t, 1, r.CompensatoryRestDays)
}

func TestApportion_DeficitDrainsLastYearFirst(t *testing.T) {
	// GIVEN: LY 200, CY 1000, a month at -600
	// WHEN: Apportioning with last year usable
	// THEN: LY empties, CY closes at 600, the surplus pool is untouched

	acc := recap.Apportion(shell(march2024),
		seed(march2024, recap.Opening{LastYear: 200, CurrentYear: 1000}, 0),
		recap.MonthFacts{Days: days(march2024, -600)})

	r := acc.Recap
	assert.True(t, r.LastYearUsable)
	assert.Equal(t, 200, r.DeficitToLastYear)
	assert.Equal(t, 400, r.DeficitToCurrentYear)
	assert.Zero(t, r.DeficitToSurplus)
	assert.Zero(t, r.RemainingLastYear)
	assert.Equal(t, 600, r.RemainingCurrentYear)
	assert.Zero(t, r.SurplusToCurrentYear)
}

func TestApportion_LastYearUnusableAfterCutoff(t *testing.T) {
	// GIVEN: LY 200, CY 1000, a month at -600, cutoff in March
	// WHEN: Apportioning April
	// THEN: LY is kept aside, CY absorbs everything

	acc := recap.Apportion(shell(april2024),
		seed(april2024, recap.Opening{LastYear: 200, CurrentYear: 1000}, 3),
		recap.MonthFacts{Days: days(april2024, -600)})

	r := acc.Recap
	assert.False(t, r.LastYearUsable)
	assert.Zero(t, r.DeficitToLastYear)
	assert.Equal(t, 200, r.RemainingLastYear)
	assert.Equal(t, 400, r.RemainingCurrentYear)
}

func TestApportion_DeficitBeyondBucketsIsCarried(t *testing.T) {
	// GIVEN: CY 100 and a month at -400
	// WHEN: Apportioning
	// THEN: CY stays at zero, 300 minutes are carried into next month

	acc := recap.Apportion(shell(march2024),
		seed(march2024, recap.Opening{CurrentYear: 100}, 0),
		recap.MonthFacts{Days: days(march2024, -400)})

	r := acc.Recap
	assert.Equal(t, 100, r.DeficitToCurrentYear)
	assert.Equal(t, 300, r.DeficitToSurplus)
	assert.Zero(t, r.RemainingCurrentYear)
	assert.Equal(t, 300, r.CarriedDeficit)
	assert.Equal(t, -300, r.RemainingMinutes())

	// The next month starts 300 minutes down.
	next := recap.Apportion(shell(april2024),
		recap.SeedFromRecap(r, april2024, 0),
		recap.MonthFacts{Days: days(april2024, 500)})
	assert.Equal(t, 300, next.Recap.InitCarriedDeficit)
	assert.Equal(t, 200, next.Recap.RemainingCurrentYear)
	assert.Zero(t, next.Recap.CarriedDeficit)
}

func TestApportion_JanuaryFold(t *testing.T) {
	// GIVEN: December closed with LY 100 and CY 900
	// WHEN: Apportioning January
	// THEN: CY becomes LY; the old LY survives only when always usable

	prev := shell(dec2023)
	prev.RemainingLastYear = 100
	prev.RemainingCurrentYear = 900
	prev.RecoveryDaysUsed = 7

	withCutoff := recap.Apportion(shell(jan2024), recap.SeedFromRecap(prev, jan2024, 3), recap.MonthFacts{})
	assert.Equal(t, 900, withCutoff.Recap.RemainingLastYear)
	assert.Zero(t, withCutoff.Recap.RemainingCurrentYear)
	assert.Equal(t, 100, withCutoff.Recap.InitLastYearMinutes, "opening is recorded before the fold")
	assert.Zero(t, withCutoff.Recap.RecoveryDaysUsed, "recovery days restart each year")

	always := recap.Apportion(shell(jan2024), recap.SeedFromRecap(prev, jan2024, 0), recap.MonthFacts{})
	assert.Equal(t, 1000, always.Recap.RemainingLastYear)
}

func TestApportion_JanuaryWithCarriedDeficit(t *testing.T) {
	// GIVEN: December closed 200 minutes down
	// WHEN: January is +500
	// THEN: The deficit is repaid first, CY closes at 300

	prev := shell(dec2023)
	prev.CarriedDeficit = 200

	acc := recap.Apportion(shell(jan2024), recap.SeedFromRecap(prev, jan2024, 3),
		recap.MonthFacts{Days: days(jan2024, 500)})

	assert.Zero(t, acc.Recap.RemainingLastYear)
	assert.Equal(t, 300, acc.Recap.RemainingCurrentYear)
	assert.Zero(t, acc.Recap.CarriedDeficit)
}

func TestApportion_OvertimeChargedToSurplus(t *testing.T) {
	acc := recap.Apportion(shell(march2024),
		seed(march2024, recap.Opening{CurrentYear: 50}, 0),
		recap.MonthFacts{
			Days:     days(march2024, 600),
			Overtime: recap.Overtime{S1: 120, S2: 60},
		})

	r := acc.Recap
	assert.Equal(t, 180, r.OvertimeMinutes)
	assert.Equal(t, 180, r.OvertimeToSurplus)
	assert.Equal(t, 420, r.SurplusToCurrentYear)
	assert.Equal(t, 470, r.RemainingCurrentYear)
}

func TestApportion_ClosureRecoveryAfterRest(t *testing.T) {
	acc := recap.Apportion(shell(march2024),
		seed(march2024, recap.Opening{LastYear: 100, CurrentYear: 100}, 0),
		recap.MonthFacts{
			Rests:          []recap.Rest{rest(march2024.FirstDay(), 150)},
			ClosureMinutes: 120,
		})

	r := acc.Recap
	assert.Equal(t, 100, r.RestToLastYear)
	assert.Equal(t, 50, r.RestToCurrentYear)
	assert.Equal(t, 50, r.ClosureToCurrentYear)
	assert.Equal(t, 70, r.ClosureToSurplus)
	assert.Equal(t, 70, r.CarriedDeficit)
}

func TestApportion_MealTickets(t *testing.T) {
	carried := recap.Apportion(shell(march2024),
		seed(march2024, recap.Opening{MealTickets: 10}, 0),
		recap.MonthFacts{MealTicketsIssued: 20, MealTicketsUsed: 15})
	assert.Equal(t, 10, carried.Recap.MealTicketsCarried)
	assert.Equal(t, 15, carried.Recap.RemainingMealTickets)

	c := attendance.Contract{ID: "c-1", SourceRemainingMealTicket: 5}
	initial := recap.Apportion(shell(march2024), recap.SeedFromInitialization(c, march2024, 0),
		recap.MonthFacts{MealTicketsUsed: 3})
	assert.Equal(t, 5, initial.Recap.MealTicketsFromInit)
	assert.Zero(t, initial.Recap.MealTicketsCarried)
	assert.Equal(t, 2, initial.Recap.RemainingMealTickets)
}

func TestApportion_SimulatedRestDaysLeaveAggregates(t *testing.T) {
	// GIVEN: A -432 day that a simulated rest will cover
	// WHEN: Apportioning with the simulated rest
	// THEN: The day's difference is not counted, the rest is

	ds := days(march2024, 100, -432)
	acc := recap.Apportion(shell(march2024),
		seed(march2024, recap.Opening{CurrentYear: 1000}, 0),
		recap.MonthFacts{
			Days:  ds,
			Rests: []recap.Rest{{Date: ds[1].Date, Minutes: 432, Simulated: true}},
		})

	assert.Zero(t, acc.Recap.NegativeProgressive)
	assert.Equal(t, 100, acc.Recap.ProgressiveFinal)
	assert.Equal(t, 432, acc.Recap.RestToCurrentYear)
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestApportion_ConservesMinutesAndStaysNonNegative(t *testing.T) {
	// GIVEN: A range of openings and months
	// WHEN: Apportioning outside January
	// THEN: Buckets are never negative, each charge is imputed in full and
	//       the closing total equals the opening total plus the month's flows

	openings := []recap.Opening{
		{},
		{LastYear: 300},
		{CurrentYear: 800},
		{LastYear: 120, CurrentYear: 45},
		{CarriedDeficit: 250},
	}
	months := []recap.MonthFacts{
		{Days: days(march2024, 200, -50, 0)},
		{Days: days(march2024, -432, -432, 60)},
		{Days: days(march2024, 30), Overtime: recap.Overtime{S1: 90}},
		{Rests: []recap.Rest{rest(march2024.FirstDay(), 432), rest(march2024.FirstDay().AddDays(1), 432)}},
		{Days: days(march2024, 500), ClosureMinutes: 700},
	}

	for _, cutoff := range []int{0, 2} {
		for _, o := range openings {
			for _, f := range months {
				r := recap.Apportion(shell(march2024), seed(march2024, o, cutoff), f).Recap

				require.GreaterOrEqual(t, r.RemainingLastYear, 0)
				require.GreaterOrEqual(t, r.RemainingCurrentYear, 0)
				require.GreaterOrEqual(t, r.CarriedDeficit, 0)
				if r.CarriedDeficit > 0 {
					require.Zero(t, r.RemainingCurrentYear)
				}

				assert.Equal(t, r.NegativeProgressive, r.DeficitToLastYear+r.DeficitToCurrentYear+r.DeficitToSurplus)
				assert.Equal(t, r.CompensatoryRestMinutes, r.RestToLastYear+r.RestToCurrentYear+r.RestToSurplus)
				assert.Equal(t, r.ClosureRecoveryMinutes, r.ClosureToLastYear+r.ClosureToCurrentYear+r.ClosureToSurplus)
				if !r.LastYearUsable {
					assert.Zero(t, r.DeficitToLastYear+r.RestToLastYear+r.ClosureToLastYear)
				}

				opening := o.LastYear + o.CurrentYear - o.CarriedDeficit
				flows := r.PositiveProgressive - r.NegativeProgressive - r.OvertimeMinutes -
					r.CompensatoryRestMinutes - r.ClosureRecoveryMinutes
				closing := r.RemainingLastYear + r.RemainingCurrentYear - r.CarriedDeficit
				assert.Equal(t, opening+flows, closing)
			}
		}
	}
}

func TestLastYearUsable(t *testing.T) {
	assert.True(t, recap.LastYearUsable(generic.NewYearMonth(2024, time.November), 0))
	assert.True(t, recap.LastYearUsable(march2024, 3))
	assert.False(t, recap.LastYearUsable(april2024, 3))
}
