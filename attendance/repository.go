/*
repository.go - Collaborator interfaces consumed by the engine

PURPOSE:
  The engine is invoked as a library. Everything it reads or writes goes
  through the narrow interfaces below, implemented by the surrounding
  application (or by store/memory, store/sqlite, store/postgres).

WRITE SURFACE:
  The engine only writes derived data:
  - WorkDay and MonthRecap rows (upsert, never deleted)
  - Troubles (upsert when a cause applies, clear when it no longer does)
  - System stamps (night shift) and system short-permission absences
    (mandatory presence slot)
  Every other collaborator is read-only from the engine's point of view.

MISSING ROWS:
  Single-row getters return generic.ErrNotFound (wrapped) when the row does
  not exist. Range queries return an empty slice, never ErrNotFound.

SEE ALSO:
  - store/memory/memory.go: in-memory implementation
  - store/sqlite/sqlite.go: database/sql implementation
  - store/postgres/postgres.go: pgx implementation
*/
package attendance

import (
	"context"

	"github.com/warp/timebank-engine/generic"
)

// =============================================================================
// READ-ONLY COLLABORATORS
// =============================================================================

type PersonReader interface {
	GetPerson(ctx context.Context, id PersonID) (Person, error)

	// ListActivePersons returns persons with a qualification and a contract
	// covering the date.
	ListActivePersons(ctx context.Context, on generic.Date) ([]Person, error)
}

type ContractReader interface {
	// ContractsByPerson returns the person's contracts ordered by begin date.
	ContractsByPerson(ctx context.Context, personID PersonID) ([]Contract, error)
}

type WorkingTimeReader interface {
	GetWorkingTimeType(ctx context.Context, id string) (WorkingTimeType, error)
}

type HolidayReader interface {
	// Holidays returns national and office-specific holidays. Recurring
	// holidays are always included.
	Holidays(ctx context.Context, officeID string) (generic.HolidayList, error)
}

type ShiftReader interface {
	IsOnShift(ctx context.Context, personID PersonID, date generic.Date) (bool, error)
}

type TimeVariationReader interface {
	TimeVariationsInRange(ctx context.Context, personID PersonID, from, to generic.Date) ([]TimeVariation, error)
}

type CompetenceReader interface {
	CompetencesInMonth(ctx context.Context, personID PersonID, ym generic.YearMonth) ([]Competence, error)
}

type MealTicketReader interface {
	// MealTicketsDelivered counts tickets delivered under the contract in
	// [from, to], returned blocks excluded.
	MealTicketsDelivered(ctx context.Context, contractID ContractID, from, to generic.Date) (int, error)
}

// ConfigSource is the raw key-value configuration lookup. Owner is an office
// id or a person id depending on the parameter's scope. The typed accessor in
// the config package decodes the values.
type ConfigSource interface {
	ConfigValue(ctx context.Context, owner, key string) (string, bool, error)
}

// =============================================================================
// READ-WRITE COLLABORATORS
// =============================================================================

type StampStore interface {
	StampsInRange(ctx context.Context, personID PersonID, from, to generic.Date) ([]Stamp, error)
	AppendStamp(ctx context.Context, s Stamp) error
}

type AbsenceStore interface {
	AbsencesInRange(ctx context.Context, personID PersonID, from, to generic.Date) ([]Absence, error)
	SaveAbsence(ctx context.Context, a Absence) error
	DeleteAbsence(ctx context.Context, id string) error
}

type TroubleStore interface {
	UpsertTrouble(ctx context.Context, t Trouble) error
	ClearTrouble(ctx context.Context, personID PersonID, date generic.Date, cause TroubleCause) error
	TroublesInRange(ctx context.Context, personID PersonID, from, to generic.Date) ([]Trouble, error)
}

type WorkDayStore interface {
	GetWorkDay(ctx context.Context, personID PersonID, date generic.Date) (WorkDay, error)
	WorkDaysInRange(ctx context.Context, personID PersonID, from, to generic.Date) ([]WorkDay, error)
	// SaveWorkDay upserts on (person, date).
	SaveWorkDay(ctx context.Context, wd WorkDay) error
}

type RecapStore interface {
	GetRecap(ctx context.Context, contractID ContractID, ym generic.YearMonth) (MonthRecap, error)
	// SaveRecap upserts on (contract, year-month).
	SaveRecap(ctx context.Context, r MonthRecap) error
	RecapsByContract(ctx context.Context, contractID ContractID) ([]MonthRecap, error)
}

// =============================================================================
// AGGREGATE
// =============================================================================

// Store is everything the engine needs. The bundled stores implement it.
type Store interface {
	PersonReader
	ContractReader
	WorkingTimeReader
	HolidayReader
	ShiftReader
	TimeVariationReader
	CompetenceReader
	MealTicketReader
	ConfigSource
	StampStore
	AbsenceStore
	TroubleStore
	WorkDayStore
	RecapStore
}
