package recap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/config"
	"github.com/warp/timebank-engine/generic"
)

// Sources is what the month pass reads and writes.
type Sources interface {
	attendance.PersonReader
	attendance.ContractReader
	attendance.WorkingTimeReader
	attendance.ConfigSource
	attendance.WorkDayStore
	attendance.AbsenceStore
	attendance.TimeVariationReader
	attendance.CompetenceReader
	attendance.MealTicketReader
	attendance.RecapStore
}

// =============================================================================
// CHAIN START
// =============================================================================

type StartKind int

const (
	// FullRebuild recomputes the contract from its first recap month.
	FullRebuild StartKind = iota
	// Seeded resumes from a persisted recap of the month before.
	Seeded
)

func (k StartKind) String() string {
	if k == Seeded {
		return "seeded"
	}
	return "full_rebuild"
}

type Start struct {
	Kind  StartKind
	Month generic.YearMonth

	// Previous is the recap the chain resumes from, set when Kind is Seeded.
	Previous *attendance.MonthRecap
}

// FirstRecapMonth returns the contract's first month to recap. An
// initialization on a month-end starts the following month, a mid-month one
// starts its own month. Without initialization the contract starts at its
// begin month, unless it begins before the office start date.
func FirstRecapMonth(c attendance.Contract, officeStart generic.Date) (generic.YearMonth, bool) {
	if src := c.SourceDateResidual; src != nil {
		if src.IsLastDayOfMonth() {
			return src.YearMonth().Next(), true
		}
		return src.YearMonth(), true
	}
	if !officeStart.IsZero() && c.BeginDate.Before(officeStart) {
		return generic.YearMonth{}, false
	}
	return c.BeginDate.YearMonth(), true
}

// =============================================================================
// MONTH-CHAIN DRIVER
// =============================================================================

type Chain struct {
	src   Sources
	log   zerolog.Logger
	today func() generic.Date
}

func NewChain(src Sources, log zerolog.Logger, today func() generic.Date) *Chain {
	if today == nil {
		today = generic.Today
	}
	return &Chain{src: src, log: log, today: today}
}

// monthEnv holds what does not change from one month of the chain to the next.
type monthEnv struct {
	person      attendance.Person
	contracts   []attendance.Contract
	officeStart generic.Date
	mealStart   generic.Date
	cutoff      int
	maxRecovery int
	today       generic.Date
}

func (ch *Chain) env(ctx context.Context, personID attendance.PersonID) (monthEnv, error) {
	env := monthEnv{today: ch.today()}
	var err error
	if env.person, err = ch.src.GetPerson(ctx, personID); err != nil {
		return env, err
	}
	if env.contracts, err = ch.src.ContractsByPerson(ctx, personID); err != nil {
		return env, fmt.Errorf("load contracts of %s: %w", personID, err)
	}
	r := config.For(ch.src, env.person)
	if env.officeStart, err = config.Get(ctx, r, config.OfficeStartDate); err != nil {
		return env, err
	}
	if env.mealStart, err = config.Get(ctx, r, config.MealTicketStartDate); err != nil {
		return env, err
	}
	if env.cutoff, err = config.LastYearCutoff(ctx, r, env.person.TopTier()); err != nil {
		return env, err
	}
	if env.maxRecovery, err = config.MaxRecoveryDays(ctx, r, env.person.TopTier()); err != nil {
		return env, err
	}
	return env, nil
}

// DecideStart picks where the chain begins. A requested month after the
// first recap month resumes from the persisted recap of the month before;
// without it the whole contract is rebuilt.
func (ch *Chain) DecideStart(ctx context.Context, c attendance.Contract, from *generic.YearMonth, officeStart generic.Date) (Start, error) {
	first, ok := FirstRecapMonth(c, officeStart)
	if !ok {
		return Start{}, fmt.Errorf("contract %s: %w", c.ID, generic.ErrNotInitialized)
	}
	if from == nil || !from.After(first) {
		return Start{Kind: FullRebuild, Month: first}, nil
	}
	prev, err := ch.src.GetRecap(ctx, c.ID, from.Previous())
	switch {
	case generic.IsNotFound(err):
		return Start{Kind: FullRebuild, Month: first}, nil
	case err != nil:
		return Start{}, fmt.Errorf("load recap %s: %w", from.Previous(), err)
	}
	return Start{Kind: Seeded, Month: *from, Previous: &prev}, nil
}

// LastRecapMonth is the current month, or the contract's end month when earlier.
func LastRecapMonth(c attendance.Contract, today generic.Date) generic.YearMonth {
	last := today.YearMonth()
	if end := c.LastDay(); !end.IsZero() && end.YearMonth().Before(last) {
		last = end.YearMonth()
	}
	return last
}

// Run recomputes and persists the contract's recaps from the chosen start up
// to the last recappable month. A contract without a first month is skipped.
func (ch *Chain) Run(ctx context.Context, c attendance.Contract, from *generic.YearMonth) error {
	env, err := ch.env(ctx, c.PersonID)
	if err != nil {
		return err
	}
	start, err := ch.DecideStart(ctx, c, from, env.officeStart)
	if generic.IsSkip(err) {
		ch.log.Info().
			Str("person_id", string(c.PersonID)).
			Str("contract_id", string(c.ID)).
			Msg("contract not initialized, no month to recap")
		return nil
	}
	if err != nil {
		return err
	}

	last := LastRecapMonth(c, env.today)
	previous := start.Previous
	for ym := start.Month; !ym.After(last); ym = ym.Next() {
		r, err := ch.compute(ctx, env, c, ym, previous, nil)
		if err != nil {
			return err
		}
		if err := ch.src.SaveRecap(ctx, r); err != nil {
			return fmt.Errorf("save recap %s of contract %s: %w", ym, c.ID, err)
		}
		previous = &r
	}

	ch.log.Debug().
		Str("person_id", string(c.PersonID)).
		Str("contract_id", string(c.ID)).
		Str("start", start.Kind.String()).
		Str("from", start.Month.String()).
		Str("to", last.String()).
		Msg("recaps recomputed")
	return nil
}

// Compute computes one month without persisting it. previous is the recap of
// the month before, nil for the contract's first month. simulated lists
// planned compensatory rests not yet persisted.
func (ch *Chain) Compute(ctx context.Context, c attendance.Contract, ym generic.YearMonth, previous *attendance.MonthRecap, simulated []generic.Date) (attendance.MonthRecap, error) {
	env, err := ch.env(ctx, c.PersonID)
	if err != nil {
		return attendance.MonthRecap{}, err
	}
	return ch.compute(ctx, env, c, ym, previous, simulated)
}

func (ch *Chain) compute(ctx context.Context, env monthEnv, c attendance.Contract, ym generic.YearMonth, previous *attendance.MonthRecap, simulated []generic.Date) (attendance.MonthRecap, error) {
	var existing *attendance.MonthRecap
	r, err := ch.src.GetRecap(ctx, c.ID, ym)
	switch {
	case err == nil:
		existing = &r
	case !generic.IsNotFound(err):
		return attendance.MonthRecap{}, fmt.Errorf("load recap %s: %w", ym, err)
	}
	shell := Shell(existing, c, ym)

	var seed Seed
	switch {
	case previous != nil:
		seed = SeedFromRecap(*previous, ym, env.cutoff)
	case c.IsInitialized():
		seed = SeedFromInitialization(c, ym, env.cutoff)
	default:
		seed = EmptySeed(ym, env.cutoff)
	}

	windows := ComputeWindows(c, ym, OfficeFacts{MealTicketStart: env.mealStart}, env.today)
	facts, err := ch.facts(ctx, env, c, ym, windows, simulated)
	if err != nil {
		return attendance.MonthRecap{}, err
	}

	acc := Apportion(shell, seed, facts)
	if env.maxRecovery > 0 && acc.Recap.RecoveryDaysUsed > env.maxRecovery {
		ch.log.Warn().
			Str("person_id", string(c.PersonID)).
			Str("month", ym.String()).
			Int("recovery_days_used", acc.Recap.RecoveryDaysUsed).
			Int("max_recovery_days", env.maxRecovery).
			Msg("compensatory rest days over the yearly cap")
	}
	return acc.Recap, nil
}

// =============================================================================
// FACTS
// =============================================================================

func (ch *Chain) facts(ctx context.Context, env monthEnv, c attendance.Contract, ym generic.YearMonth, w Windows, simulated []generic.Date) (MonthFacts, error) {
	var f MonthFacts
	personID := c.PersonID

	if p := w.Progressive; p != nil {
		days, err := ch.src.WorkDaysInRange(ctx, personID, p.Start, p.End)
		if err != nil {
			return f, fmt.Errorf("load work days %s: %w", p, err)
		}
		f.Days = days
	}

	if p := w.MealTickets; p != nil {
		days, err := ch.src.WorkDaysInRange(ctx, personID, p.Start, p.End)
		if err != nil {
			return f, fmt.Errorf("load work days %s: %w", p, err)
		}
		for _, d := range days {
			if d.TicketAvailable {
				f.MealTicketsUsed++
			}
		}
		if f.MealTicketsIssued, err = ch.src.MealTicketsDelivered(ctx, c.ID, p.Start, p.End); err != nil {
			return f, fmt.Errorf("load meal tickets %s: %w", p, err)
		}
	}

	if isLastContractOfMonth(env.contracts, c, ym) {
		competences, err := ch.src.CompetencesInMonth(ctx, personID, ym)
		if err != nil {
			return f, fmt.Errorf("load competences %s: %w", ym, err)
		}
		for _, comp := range competences {
			switch comp.Code {
			case attendance.OvertimeWeekday:
				f.Overtime.S1 += comp.Approved.Minutes()
			case attendance.OvertimeNightOrHoliday:
				f.Overtime.S2 += comp.Approved.Minutes()
			case attendance.OvertimeNightAndHoliday:
				f.Overtime.S3 += comp.Approved.Minutes()
			}
		}
	}

	if p := w.CompensatoryRest; p != nil {
		absences, err := ch.src.AbsencesInRange(ctx, personID, p.Start, p.End)
		if err != nil {
			return f, fmt.Errorf("load absences %s: %w", p, err)
		}
		taken := make(map[string]bool)
		for _, a := range absences {
			if !a.Type.CompensatoryRest {
				continue
			}
			minutes, err := ch.expectedMinutes(ctx, c, a.Date)
			if err != nil {
				return f, err
			}
			f.Rests = append(f.Rests, Rest{Date: a.Date, Minutes: minutes})
			taken[a.Date.String()] = true
		}
		for _, d := range simulated {
			if !p.Contains(d) || taken[d.String()] {
				continue
			}
			minutes, err := ch.expectedMinutes(ctx, c, d)
			if err != nil {
				return f, err
			}
			f.Rests = append(f.Rests, Rest{Date: d, Minutes: minutes, Simulated: true})
			taken[d.String()] = true
		}

		variations, err := ch.src.TimeVariationsInRange(ctx, personID, p.Start, p.End)
		if err != nil {
			return f, fmt.Errorf("load time variations %s: %w", p, err)
		}
		for _, v := range variations {
			f.ClosureMinutes += v.Minutes
		}
	}
	return f, nil
}

// expectedMinutes is the working time the contract expects on the date.
func (ch *Chain) expectedMinutes(ctx context.Context, c attendance.Contract, d generic.Date) (int, error) {
	id, ok := c.WorkingTimeTypeOn(d)
	if !ok {
		return 0, &generic.PreconditionError{
			PersonID: string(c.PersonID), ContractID: string(c.ID), Date: d,
			Err: generic.ErrMissingWorkingTimeType,
		}
	}
	wtt, err := ch.src.GetWorkingTimeType(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("load working-time type %s: %w", id, err)
	}
	day, ok := wtt.Day(d.ISOWeekday())
	if !ok {
		return 0, &generic.PreconditionError{
			PersonID: string(c.PersonID), ContractID: string(c.ID), Date: d,
			Err: generic.ErrMissingWorkingTimeDay,
		}
	}
	return day.WorkingTime, nil
}

// isLastContractOfMonth reports whether no contract overlapping the month
// begins after c. Monthly grants are counted on that contract only.
func isLastContractOfMonth(contracts []attendance.Contract, c attendance.Contract, ym generic.YearMonth) bool {
	month := ym.Period()
	for _, other := range contracts {
		if other.ID == c.ID || !other.Interval().Overlaps(month) {
			continue
		}
		if other.BeginDate.After(c.BeginDate) {
			return false
		}
	}
	return true
}
