/*
apportion.go - Balance Apportionment Engine

PURPOSE:
  The arithmetic of one month: given the opening balances and the month's
  facts, compute the closing balances and record where every inflow was
  imputed.

BUCKETS:
  LastYear     residual of the previous year, usable until the cutoff month
  CurrentYear  residual accumulated this year
  Surplus      this month's positive pool, folded into CurrentYear at the end

STEP ORDER (not reorderable):
   1. seed            opening balances, January fold, carried deficit
   2. aggregate       positive/negative daily differences
   3. mealTickets     carried + initialization + issued - used
   4. overtime        S1+S2+S3, last contract of the month only
   5. rests           compensatory rest and closure-recovery minutes
   6. chargeDeficit   LastYear -> CurrentYear -> Surplus
   7. chargeOvertime  Surplus
   8. chargeRest      LastYear -> CurrentYear -> Surplus
   9. chargeClosure   LastYear -> CurrentYear -> Surplus
  10. fold            Surplus into CurrentYear

INVARIANTS (checked by the tests between steps):
  - LastYear and CurrentYear are never negative
  - each charge is imputed in full: last + current + surplus == amount
  - a month owing more than every bucket holds ends with CarriedDeficit > 0
    and CurrentYear == 0; the next month starts its surplus pool at
    -CarriedDeficit

SEE ALSO:
  - builder.go: windows that select the facts
  - chain.go: gathers the facts and threads the seeds
*/
package recap

import (
	"time"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/generic"
)

// =============================================================================
// INPUTS
// =============================================================================

// Opening holds the balances a month starts from.
type Opening struct {
	LastYear         int
	CurrentYear      int
	CarriedDeficit   int
	MealTickets      int
	RecoveryDaysUsed int
}

type Seed struct {
	YearMonth generic.YearMonth

	// OpeningOf is the month whose closing balances Opening holds.
	OpeningOf generic.YearMonth
	Opening   Opening

	// FromInitialization marks the contract's initialization month: meal
	// tickets are initialization values rather than carried ones.
	FromInitialization bool

	// LastYearCutoff is the last month the last-year residual is usable,
	// 0 means always.
	LastYearCutoff int
}

// SeedFromRecap opens ym with the closing balances of the previous recap.
func SeedFromRecap(prev attendance.MonthRecap, ym generic.YearMonth, cutoff int) Seed {
	return Seed{
		YearMonth: ym,
		OpeningOf: prev.YearMonth,
		Opening: Opening{
			LastYear:         prev.RemainingLastYear,
			CurrentYear:      prev.RemainingCurrentYear,
			CarriedDeficit:   prev.CarriedDeficit,
			MealTickets:      prev.RemainingMealTickets,
			RecoveryDaysUsed: prev.RecoveryDaysUsed,
		},
		LastYearCutoff: cutoff,
	}
}

// SeedFromInitialization opens ym with the contract's initialization values.
func SeedFromInitialization(c attendance.Contract, ym generic.YearMonth, cutoff int) Seed {
	s := Seed{YearMonth: ym, OpeningOf: ym, FromInitialization: true, LastYearCutoff: cutoff}
	if c.SourceDateResidual != nil {
		s.OpeningOf = c.SourceDateResidual.YearMonth()
		s.Opening = Opening{
			LastYear:         c.SourceRemainingMinutesLastYear,
			CurrentYear:      c.SourceRemainingMinutesCurrentYear,
			RecoveryDaysUsed: c.SourceRecoveryDayUsed,
		}
	}
	s.Opening.MealTickets = c.SourceRemainingMealTicket
	return s
}

// EmptySeed opens ym with zero balances.
func EmptySeed(ym generic.YearMonth, cutoff int) Seed {
	return Seed{YearMonth: ym, OpeningOf: ym, FromInitialization: true, LastYearCutoff: cutoff}
}

// LastYearUsable reports whether the last-year residual can absorb charges in ym.
func LastYearUsable(ym generic.YearMonth, cutoff int) bool {
	return cutoff == 0 || int(ym.Month) <= cutoff
}

type Overtime struct {
	S1, S2, S3 int // minutes
}

func (o Overtime) Total() int { return o.S1 + o.S2 + o.S3 }

type Rest struct {
	Date      generic.Date
	Minutes   int // the day's expected working time
	Simulated bool
}

// MonthFacts are the month's inputs, already restricted to their windows.
type MonthFacts struct {
	// Days of the progressive window, ordered by date.
	Days []attendance.WorkDay

	MealTicketsIssued int
	MealTicketsUsed   int

	// Overtime is zero unless the contract is the last active in the month.
	Overtime Overtime

	Rests          []Rest
	ClosureMinutes int
}

// simulatedRestDates returns the days covered by a simulated rest.
func (f MonthFacts) simulatedRestDates() map[string]bool {
	out := make(map[string]bool)
	for _, r := range f.Rests {
		if r.Simulated {
			out[r.Date.String()] = true
		}
	}
	return out
}

// =============================================================================
// ACCUMULATOR
// =============================================================================

// Accumulator is the running state of one month's apportionment.
type Accumulator struct {
	LastYear    int
	CurrentYear int
	Surplus     int
	Deficit     int // monthly negative total, as a positive number

	Recap attendance.MonthRecap
}

// Apportion runs every step in order on a clean shell.
func Apportion(shell attendance.MonthRecap, seed Seed, facts MonthFacts) Accumulator {
	acc := Accumulator{Recap: shell}
	acc.seed(seed)
	acc.aggregate(facts)
	acc.mealTickets(facts)
	acc.overtime(facts)
	acc.rests(facts)
	acc.chargeDeficit()
	acc.chargeOvertime()
	acc.chargeRest()
	acc.chargeClosure()
	acc.fold()
	return acc
}

// seed opens the buckets. In January the previous year's residuals become
// last-year. A carried deficit starts the surplus pool below zero.
func (a *Accumulator) seed(s Seed) {
	o := s.Opening
	r := &a.Recap
	r.LastYearUsable = LastYearUsable(s.YearMonth, s.LastYearCutoff)
	r.InitLastYearMinutes = o.LastYear
	r.InitCurrentYearMinutes = o.CurrentYear
	r.InitCarriedDeficit = o.CarriedDeficit
	if s.FromInitialization {
		r.MealTicketsFromInit = o.MealTickets
		r.RecoveryDaysFromInit = o.RecoveryDaysUsed
	} else {
		r.MealTicketsCarried = o.MealTickets
	}
	if s.OpeningOf.Year == s.YearMonth.Year {
		r.RecoveryDaysUsed = o.RecoveryDaysUsed
	}

	a.LastYear = o.LastYear
	a.CurrentYear = o.CurrentYear
	if s.YearMonth.Month == time.January && s.OpeningOf.Year < s.YearMonth.Year {
		a.LastYear = o.CurrentYear
		if s.LastYearCutoff == 0 {
			a.LastYear += o.LastYear
		}
		a.CurrentYear = 0
	}
	a.Surplus = -o.CarriedDeficit
}

// aggregate splits the daily differences into the positive pool and the
// negative total. Days covered by a simulated rest are skipped.
func (a *Accumulator) aggregate(f MonthFacts) {
	skip := f.simulatedRestDates()
	r := &a.Recap
	for _, d := range f.Days {
		if skip[d.Date.String()] {
			continue
		}
		if d.Difference >= 0 {
			r.PositiveProgressive += d.Difference
		} else {
			r.NegativeProgressive += -d.Difference
		}
		r.WorkedMinutes += d.TimeAtWork
		r.ProgressiveFinal = d.Progressive
	}
	a.Surplus += r.PositiveProgressive
	a.Deficit = r.NegativeProgressive
}

func (a *Accumulator) mealTickets(f MonthFacts) {
	r := &a.Recap
	r.MealTicketsIssued = f.MealTicketsIssued
	r.MealTicketsUsed = f.MealTicketsUsed
	r.RemainingMealTickets = r.MealTicketsCarried + r.MealTicketsFromInit + r.MealTicketsIssued - r.MealTicketsUsed
}

func (a *Accumulator) overtime(f MonthFacts) {
	r := &a.Recap
	r.OvertimeS1Minutes = f.Overtime.S1
	r.OvertimeS2Minutes = f.Overtime.S2
	r.OvertimeS3Minutes = f.Overtime.S3
	r.OvertimeMinutes = f.Overtime.Total()
}

func (a *Accumulator) rests(f MonthFacts) {
	r := &a.Recap
	for _, rest := range f.Rests {
		r.CompensatoryRestMinutes += rest.Minutes
		r.CompensatoryRestDays++
	}
	r.RecoveryDaysUsed += r.CompensatoryRestDays
	r.ClosureRecoveryMinutes = f.ClosureMinutes
}

// charge drains amount from LastYear (when usable), then CurrentYear, then
// the surplus pool, which absorbs whatever is left.
func (a *Accumulator) charge(amount int) (lastYear, currentYear, surplus int) {
	if amount <= 0 {
		return 0, 0, 0
	}
	if a.Recap.LastYearUsable {
		lastYear = min(amount, a.LastYear)
		a.LastYear -= lastYear
		amount -= lastYear
	}
	currentYear = min(amount, a.CurrentYear)
	a.CurrentYear -= currentYear
	amount -= currentYear

	surplus = amount
	a.Surplus -= surplus
	return lastYear, currentYear, surplus
}

func (a *Accumulator) chargeDeficit() {
	r := &a.Recap
	r.DeficitToLastYear, r.DeficitToCurrentYear, r.DeficitToSurplus = a.charge(a.Deficit)
}

func (a *Accumulator) chargeOvertime() {
	a.Recap.OvertimeToSurplus = a.Recap.OvertimeMinutes
	a.Surplus -= a.Recap.OvertimeMinutes
}

func (a *Accumulator) chargeRest() {
	r := &a.Recap
	r.RestToLastYear, r.RestToCurrentYear, r.RestToSurplus = a.charge(r.CompensatoryRestMinutes)
}

func (a *Accumulator) chargeClosure() {
	r := &a.Recap
	r.ClosureToLastYear, r.ClosureToCurrentYear, r.ClosureToSurplus = a.charge(r.ClosureRecoveryMinutes)
}

// fold credits what is left of the surplus pool to the current year. A
// negative pool becomes the carried deficit.
func (a *Accumulator) fold() {
	r := &a.Recap
	r.SurplusToCurrentYear = a.Surplus
	a.CurrentYear += a.Surplus
	a.Surplus = 0
	if a.CurrentYear < 0 {
		r.CarriedDeficit = -a.CurrentYear
		a.CurrentYear = 0
	}
	r.RemainingLastYear = a.LastYear
	r.RemainingCurrentYear = a.CurrentYear
}
