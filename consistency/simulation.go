package consistency

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/config"
	"github.com/warp/timebank-engine/generic"
)

// =============================================================================
// WHAT-IF COMPENSATORY REST
// =============================================================================

// Simulation is the outcome of planning compensatory rests before they are
// inserted. Nothing is persisted.
type Simulation struct {
	// Recaps of the months touched by the planned rests, in order.
	Recaps []attendance.MonthRecap

	// Covered is false when a month ends owing minutes.
	Covered bool

	RecoveryDaysUsed int
	MaxRecoveryDays  int // 0 = unlimited
	WithinCap        bool
}

// SimulateCompensatoryRest recomputes the months of the planned rest dates
// as if the rests were inserted.
func (s *Service) SimulateCompensatoryRest(ctx context.Context, personID attendance.PersonID, dates []generic.Date) (Simulation, error) {
	defer s.locks.lock(personID)()

	sim := Simulation{Covered: true, WithinCap: true}
	if len(dates) == 0 {
		return sim, nil
	}
	person, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return sim, err
	}
	contracts, err := s.store.ContractsByPerson(ctx, personID)
	if err != nil {
		return sim, fmt.Errorf("load contracts of %s: %w", personID, err)
	}
	r := config.For(s.store, person)
	officeStart, err := config.Get(ctx, r, config.OfficeStartDate)
	if err != nil {
		return sim, err
	}
	if sim.MaxRecoveryDays, err = config.MaxRecoveryDays(ctx, r, person.TopTier()); err != nil {
		return sim, err
	}

	sorted := append([]generic.Date(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	c, ok := attendance.ContractOn(contracts, sorted[0])
	if !ok {
		return sim, fmt.Errorf("simulate rest on %s: %w", sorted[0], generic.ErrContractNotActive)
	}
	first := sorted[0].YearMonth()
	last := sorted[len(sorted)-1].YearMonth()

	start, err := s.chain.DecideStart(ctx, c, &first, officeStart)
	if err != nil {
		return sim, err
	}
	previous := start.Previous
	for ym := start.Month; !ym.After(last); ym = ym.Next() {
		rc, err := s.chain.Compute(ctx, c, ym, previous, sorted)
		if err != nil {
			return sim, err
		}
		if !ym.Before(first) {
			sim.Recaps = append(sim.Recaps, rc)
			if rc.CarriedDeficit > 0 {
				sim.Covered = false
			}
		}
		previous = &rc
	}

	if previous == nil {
		return sim, nil
	}
	sim.RecoveryDaysUsed = previous.RecoveryDaysUsed
	if sim.MaxRecoveryDays > 0 && sim.RecoveryDaysUsed > sim.MaxRecoveryDays {
		sim.WithinCap = false
	}
	return sim, nil
}
