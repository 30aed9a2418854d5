package daycalc

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/config"
	"github.com/warp/timebank-engine/generic"
)

// =============================================================================
// DAY-RANGE SCANNER
// =============================================================================

// Scanner recomputes a person's days in ascending order. Day n reads the
// already-updated day n-1, so a scan is strictly sequential.
type Scanner struct {
	src   Sources
	log   zerolog.Logger
	today func() generic.Date
}

func NewScanner(src Sources, log zerolog.Logger, today func() generic.Date) *Scanner {
	if today == nil {
		today = generic.Today
	}
	return &Scanner{src: src, log: log, today: today}
}

// Scan recomputes [max(from, first contract begin, office start),
// min(today, to)] and returns the contract active at from, nil when none.
// Persons without a qualification are not tracked and nothing is scanned.
func (s *Scanner) Scan(ctx context.Context, person attendance.Person, from generic.Date, to *generic.Date) (*attendance.Contract, error) {
	if person.Qualification == 0 {
		return nil, nil
	}
	contracts, err := s.src.ContractsByPerson(ctx, person.ID)
	if err != nil {
		return nil, fmt.Errorf("load contracts of %s: %w", person.ID, err)
	}
	if len(contracts) == 0 {
		return nil, nil
	}
	var active *attendance.Contract
	if c, ok := attendance.ContractOn(contracts, from); ok {
		active = &c
	}

	officeStart, err := config.Get(ctx, config.For(s.src, person), config.OfficeStartDate)
	if err != nil {
		return active, err
	}
	start := generic.MaxDate(from, contracts[0].BeginDate, officeStart)
	end := s.today()
	if to != nil {
		end = generic.MinDate(end, *to)
	}
	if start.After(end) {
		return active, nil
	}

	cache, err := newScanCache(ctx, s.src, person.ID, start.AddDays(-1), end)
	if err != nil {
		return active, err
	}
	builder := NewContextBuilder(cache, s.today)
	rec := NewRecomputer(cache, builder, s.log)

	var previous *attendance.WorkDay
	for d := start; d.BeforeOrEqual(end); d = d.AddDays(1) {
		dc, err := builder.Build(ctx, person, d, previous)
		if err != nil {
			return active, err
		}
		wd, err := rec.Recompute(ctx, dc)
		if err != nil {
			return active, err
		}
		previous = &wd
	}

	s.log.Debug().
		Str("person_id", string(person.ID)).
		Str("from", start.String()).
		Str("to", end.String()).
		Msg("days recomputed")
	return active, nil
}

// =============================================================================
// SCAN CACHE - Days, stamps and absences of the range fetched once
// =============================================================================

// scanCache serves one person's range from memory and writes through to the
// underlying sources. Reads outside the range fall through.
type scanCache struct {
	Sources

	personID attendance.PersonID
	from, to generic.Date

	contracts    []attendance.Contract
	workingTimes map[string]attendance.WorkingTimeType
	holidays     map[string]generic.HolidayList

	days     map[string]attendance.WorkDay
	stamps   map[string][]attendance.Stamp
	absences map[string][]attendance.Absence
}

func newScanCache(ctx context.Context, src Sources, personID attendance.PersonID, from, to generic.Date) (*scanCache, error) {
	c := &scanCache{
		Sources:      src,
		personID:     personID,
		from:         from,
		to:           to,
		workingTimes: make(map[string]attendance.WorkingTimeType),
		holidays:     make(map[string]generic.HolidayList),
		days:         make(map[string]attendance.WorkDay),
		stamps:       make(map[string][]attendance.Stamp),
		absences:     make(map[string][]attendance.Absence),
	}

	var err error
	if c.contracts, err = src.ContractsByPerson(ctx, personID); err != nil {
		return nil, fmt.Errorf("load contracts of %s: %w", personID, err)
	}
	days, err := src.WorkDaysInRange(ctx, personID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load work days of %s: %w", personID, err)
	}
	for _, wd := range days {
		c.days[wd.Date.String()] = wd
	}
	stamps, err := src.StampsInRange(ctx, personID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load stamps of %s: %w", personID, err)
	}
	for _, s := range stamps {
		k := s.Date().String()
		c.stamps[k] = append(c.stamps[k], s)
	}
	absences, err := src.AbsencesInRange(ctx, personID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load absences of %s: %w", personID, err)
	}
	for _, a := range absences {
		k := a.Date.String()
		c.absences[k] = append(c.absences[k], a)
	}
	return c, nil
}

// covers reports whether a single-day query can be answered from memory.
func (c *scanCache) covers(personID attendance.PersonID, from, to generic.Date) bool {
	return personID == c.personID && from.Equal(to) &&
		c.from.BeforeOrEqual(from) && to.BeforeOrEqual(c.to)
}

func (c *scanCache) ContractsByPerson(ctx context.Context, personID attendance.PersonID) ([]attendance.Contract, error) {
	if personID != c.personID {
		return c.Sources.ContractsByPerson(ctx, personID)
	}
	return c.contracts, nil
}

func (c *scanCache) GetWorkingTimeType(ctx context.Context, id string) (attendance.WorkingTimeType, error) {
	if w, ok := c.workingTimes[id]; ok {
		return w, nil
	}
	w, err := c.Sources.GetWorkingTimeType(ctx, id)
	if err != nil {
		return w, err
	}
	c.workingTimes[id] = w
	return w, nil
}

func (c *scanCache) Holidays(ctx context.Context, officeID string) (generic.HolidayList, error) {
	if h, ok := c.holidays[officeID]; ok {
		return h, nil
	}
	h, err := c.Sources.Holidays(ctx, officeID)
	if err != nil {
		return nil, err
	}
	c.holidays[officeID] = h
	return h, nil
}

func (c *scanCache) GetWorkDay(ctx context.Context, personID attendance.PersonID, d generic.Date) (attendance.WorkDay, error) {
	if !c.covers(personID, d, d) {
		return c.Sources.GetWorkDay(ctx, personID, d)
	}
	wd, ok := c.days[d.String()]
	if !ok {
		return wd, fmt.Errorf("work day %s %s: %w", personID, d, generic.ErrNotFound)
	}
	return wd, nil
}

func (c *scanCache) SaveWorkDay(ctx context.Context, wd attendance.WorkDay) error {
	if err := c.Sources.SaveWorkDay(ctx, wd); err != nil {
		return err
	}
	if c.covers(wd.PersonID, wd.Date, wd.Date) {
		wd.Stamps = nil
		wd.Absences = nil
		c.days[wd.Date.String()] = wd
	}
	return nil
}

func (c *scanCache) StampsInRange(ctx context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.Stamp, error) {
	if !c.covers(personID, from, to) {
		return c.Sources.StampsInRange(ctx, personID, from, to)
	}
	return append([]attendance.Stamp(nil), c.stamps[from.String()]...), nil
}

func (c *scanCache) AppendStamp(ctx context.Context, s attendance.Stamp) error {
	if err := c.Sources.AppendStamp(ctx, s); err != nil {
		return err
	}
	if c.covers(s.PersonID, s.Date(), s.Date()) {
		k := s.Date().String()
		stamps := append(c.stamps[k], s)
		sort.SliceStable(stamps, func(i, j int) bool { return stamps[i].Time.Before(stamps[j].Time) })
		c.stamps[k] = stamps
	}
	return nil
}

func (c *scanCache) AbsencesInRange(ctx context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.Absence, error) {
	if !c.covers(personID, from, to) {
		return c.Sources.AbsencesInRange(ctx, personID, from, to)
	}
	return append([]attendance.Absence(nil), c.absences[from.String()]...), nil
}

func (c *scanCache) SaveAbsence(ctx context.Context, a attendance.Absence) error {
	if err := c.Sources.SaveAbsence(ctx, a); err != nil {
		return err
	}
	if !c.covers(a.PersonID, a.Date, a.Date) {
		return nil
	}
	k := a.Date.String()
	for i, existing := range c.absences[k] {
		if existing.ID == a.ID {
			c.absences[k][i] = a
			return nil
		}
	}
	c.absences[k] = append(c.absences[k], a)
	return nil
}

func (c *scanCache) DeleteAbsence(ctx context.Context, id string) error {
	if err := c.Sources.DeleteAbsence(ctx, id); err != nil && !generic.IsNotFound(err) {
		return err
	}
	for k, as := range c.absences {
		for i, a := range as {
			if a.ID == id {
				c.absences[k] = append(as[:i:i], as[i+1:]...)
				return nil
			}
		}
	}
	return nil
}
