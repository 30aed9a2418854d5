// Package memory provides an in-memory attendance.Store (for testing/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	persons      map[attendance.PersonID]attendance.Person
	contracts    map[attendance.PersonID][]attendance.Contract
	workingTimes map[string]attendance.WorkingTimeType
	holidays     generic.HolidayList
	shifts       map[dayKey]bool
	variations   map[attendance.PersonID][]attendance.TimeVariation
	competences  map[attendance.PersonID][]attendance.Competence
	deliveries   []attendance.MealTicketDelivery
	config       map[configKey]string

	stamps   map[attendance.PersonID][]attendance.Stamp // ordered by time
	absences map[string]attendance.Absence
	troubles map[troubleKey]attendance.Trouble
	workDays map[dayKey]attendance.WorkDay
	recaps   map[recapKey]attendance.MonthRecap
}

type dayKey struct {
	PersonID attendance.PersonID
	Date     string
}

type troubleKey struct {
	dayKey
	Cause attendance.TroubleCause
}

type recapKey struct {
	ContractID attendance.ContractID
	YearMonth  generic.YearMonth
}

type configKey struct {
	Owner string
	Key   string
}

var _ attendance.Store = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		persons:      make(map[attendance.PersonID]attendance.Person),
		contracts:    make(map[attendance.PersonID][]attendance.Contract),
		workingTimes: make(map[string]attendance.WorkingTimeType),
		shifts:       make(map[dayKey]bool),
		variations:   make(map[attendance.PersonID][]attendance.TimeVariation),
		competences:  make(map[attendance.PersonID][]attendance.Competence),
		config:       make(map[configKey]string),
		stamps:       make(map[attendance.PersonID][]attendance.Stamp),
		absences:     make(map[string]attendance.Absence),
		troubles:     make(map[troubleKey]attendance.Trouble),
		workDays:     make(map[dayKey]attendance.WorkDay),
		recaps:       make(map[recapKey]attendance.MonthRecap),
	}
}

func key(personID attendance.PersonID, d generic.Date) dayKey {
	return dayKey{PersonID: personID, Date: d.String()}
}

func inRange(d, from, to generic.Date) bool {
	return from.BeforeOrEqual(d) && d.BeforeOrEqual(to)
}

// =============================================================================
// SEEDING - Catalog and upstream data owned by the surrounding application
// =============================================================================

func (m *Memory) AddPerson(p attendance.Person) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons[p.ID] = p
}

// AddContract adds the contract, replacing a previous one with the same ID.
func (m *Memory) AddContract(c attendance.Contract) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cs []attendance.Contract
	for _, existing := range m.contracts[c.PersonID] {
		if existing.ID != c.ID {
			cs = append(cs, existing)
		}
	}
	cs = append(cs, c)
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].BeginDate.Before(cs[j].BeginDate) })
	m.contracts[c.PersonID] = cs
}

func (m *Memory) AddWorkingTimeType(w attendance.WorkingTimeType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workingTimes[w.ID] = w
}

func (m *Memory) AddHoliday(h generic.Holiday) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays = append(m.holidays, h)
}

func (m *Memory) SetShift(personID attendance.PersonID, d generic.Date) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shifts[key(personID, d)] = true
}

func (m *Memory) AddTimeVariation(v attendance.TimeVariation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variations[v.PersonID] = append(m.variations[v.PersonID], v)
}

func (m *Memory) AddCompetence(c attendance.Competence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.competences[c.PersonID] = append(m.competences[c.PersonID], c)
}

func (m *Memory) AddMealTicketDelivery(d attendance.MealTicketDelivery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
}

// SetConfig stores a raw parameter value for an office or a person.
func (m *Memory) SetConfig(owner, k, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[configKey{Owner: owner, Key: k}] = value
}

// =============================================================================
// READERS
// =============================================================================

func (m *Memory) GetPerson(_ context.Context, id attendance.PersonID) (attendance.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[id]
	if !ok {
		return attendance.Person{}, fmt.Errorf("person %s: %w", id, generic.ErrPersonNotFound)
	}
	return p, nil
}

func (m *Memory) ListActivePersons(_ context.Context, on generic.Date) ([]attendance.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Person
	for id, p := range m.persons {
		if p.Qualification == 0 {
			continue
		}
		if _, ok := attendance.ContractOn(m.contracts[id], on); ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ContractsByPerson(_ context.Context, personID attendance.PersonID) ([]attendance.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]attendance.Contract(nil), m.contracts[personID]...), nil
}

func (m *Memory) GetWorkingTimeType(_ context.Context, id string) (attendance.WorkingTimeType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workingTimes[id]
	if !ok {
		return attendance.WorkingTimeType{}, fmt.Errorf("working-time type %s: %w", id, generic.ErrNotFound)
	}
	return w, nil
}

func (m *Memory) Holidays(_ context.Context, officeID string) (generic.HolidayList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out generic.HolidayList
	for _, h := range m.holidays {
		if h.OfficeID == "" || h.OfficeID == officeID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) IsOnShift(_ context.Context, personID attendance.PersonID, d generic.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shifts[key(personID, d)], nil
}

func (m *Memory) TimeVariationsInRange(_ context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.TimeVariation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.TimeVariation
	for _, v := range m.variations[personID] {
		if inRange(v.Date, from, to) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *Memory) CompetencesInMonth(_ context.Context, personID attendance.PersonID, ym generic.YearMonth) ([]attendance.Competence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Competence
	for _, c := range m.competences[personID] {
		if c.YearMonth == ym {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) MealTicketsDelivered(_ context.Context, contractID attendance.ContractID, from, to generic.Date) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, d := range m.deliveries {
		if d.ContractID == contractID && !d.Returned && inRange(d.DeliveredOn, from, to) {
			total += d.Count
		}
	}
	return total, nil
}

func (m *Memory) ConfigValue(_ context.Context, owner, k string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.config[configKey{Owner: owner, Key: k}]
	return v, ok, nil
}

// =============================================================================
// STAMPS AND ABSENCES
// =============================================================================

func (m *Memory) StampsInRange(_ context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.Stamp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Stamp
	for _, s := range m.stamps[personID] {
		if inRange(s.Date(), from, to) {
			out = append(out, s)
		}
	}
	return out, nil
}

// AppendStamp inserts the stamp keeping the person's stamps ordered by time.
func (m *Memory) AppendStamp(_ context.Context, s attendance.Stamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamps := m.stamps[s.PersonID]
	i := sort.Search(len(stamps), func(i int) bool {
		return stamps[i].Time.After(s.Time)
	})
	stamps = append(stamps, attendance.Stamp{})
	copy(stamps[i+1:], stamps[i:])
	stamps[i] = s
	m.stamps[s.PersonID] = stamps
	return nil
}

func (m *Memory) AbsencesInRange(_ context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.Absence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Absence
	for _, a := range m.absences {
		if a.PersonID == personID && inRange(a.Date, from, to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) SaveAbsence(_ context.Context, a attendance.Absence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.absences[a.ID] = a
	return nil
}

func (m *Memory) DeleteAbsence(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.absences, id)
	return nil
}

// =============================================================================
// DERIVED DATA
// =============================================================================

func (m *Memory) UpsertTrouble(_ context.Context, t attendance.Trouble) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := troubleKey{dayKey: key(t.PersonID, t.Date), Cause: t.Cause}
	if existing, ok := m.troubles[k]; ok {
		t.ID = existing.ID
	}
	m.troubles[k] = t
	return nil
}

func (m *Memory) ClearTrouble(_ context.Context, personID attendance.PersonID, d generic.Date, cause attendance.TroubleCause) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.troubles, troubleKey{dayKey: key(personID, d), Cause: cause})
	return nil
}

func (m *Memory) TroublesInRange(_ context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.Trouble, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.troublesLocked(personID, from, to), nil
}

func (m *Memory) troublesLocked(personID attendance.PersonID, from, to generic.Date) []attendance.Trouble {
	var out []attendance.Trouble
	for _, t := range m.troubles {
		if t.PersonID == personID && inRange(t.Date, from, to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Cause < out[j].Cause
	})
	return out
}

func (m *Memory) GetWorkDay(_ context.Context, personID attendance.PersonID, d generic.Date) (attendance.WorkDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wd, ok := m.workDays[key(personID, d)]
	if !ok {
		return attendance.WorkDay{}, fmt.Errorf("work day %s %s: %w", personID, d, generic.ErrNotFound)
	}
	wd.Troubles = causes(m.troublesLocked(personID, d, d))
	return wd, nil
}

func (m *Memory) WorkDaysInRange(_ context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.WorkDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.WorkDay
	for k, wd := range m.workDays {
		if k.PersonID == personID && inRange(wd.Date, from, to) {
			wd.Troubles = causes(m.troublesLocked(personID, wd.Date, wd.Date))
			out = append(out, wd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// SaveWorkDay upserts the day. Stamps, absences and troubles live in their
// own collections.
func (m *Memory) SaveWorkDay(_ context.Context, wd attendance.WorkDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wd.Stamps = nil
	wd.Absences = nil
	wd.Troubles = nil
	m.workDays[key(wd.PersonID, wd.Date)] = wd
	return nil
}

func causes(ts []attendance.Trouble) []attendance.TroubleCause {
	var out []attendance.TroubleCause
	for _, t := range ts {
		out = append(out, t.Cause)
	}
	return out
}

func (m *Memory) GetRecap(_ context.Context, contractID attendance.ContractID, ym generic.YearMonth) (attendance.MonthRecap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recaps[recapKey{ContractID: contractID, YearMonth: ym}]
	if !ok {
		return attendance.MonthRecap{}, fmt.Errorf("recap %s %s: %w", contractID, ym, generic.ErrNotFound)
	}
	return r, nil
}

func (m *Memory) SaveRecap(_ context.Context, r attendance.MonthRecap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recaps[recapKey{ContractID: r.ContractID, YearMonth: r.YearMonth}] = r
	return nil
}

func (m *Memory) RecapsByContract(_ context.Context, contractID attendance.ContractID) ([]attendance.MonthRecap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.MonthRecap
	for k, r := range m.recaps {
		if k.ContractID == contractID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].YearMonth.Before(out[j].YearMonth) })
	return out, nil
}
