/*
Package sqlite provides a SQLite-backed implementation of attendance.Store.

PURPOSE:
  Persists the engine's inputs (persons, contracts, working-time types,
  stamps, absences, competences, meal tickets, configuration) and its
  derived data (work days, troubles, month recaps) using SQLite.

KEY TABLES:
  work_days:     one row per (person, date), upserted by the day pass
  troubles:      one row per (person, date, cause), upserted or deleted
  month_recaps:  one row per (contract, year, month), upserted by the
                 month pass; the figures are kept in recap_json
  stamps, absences: read by the day pass, appended to for night shifts
                 and mandatory-slot short permissions

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. The pool is limited to one
  connection so ":memory:" databases are shared by every query.

USAGE:
  store, err := sqlite.New("./data/timebank.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - attendance/repository.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/generic"
)

// Store implements attendance.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ attendance.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS persons (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		office_id TEXT NOT NULL,
		qualification INTEGER NOT NULL DEFAULT 0
	);

	-- Contracts keep their nested periods and initialization in data_json
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		begin_date TEXT NOT NULL,
		data_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contracts_person
		ON contracts(person_id, begin_date);

	CREATE TABLE IF NOT EXISTS working_time_types (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		days_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		office_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS shifts (
		person_id TEXT NOT NULL,
		date TEXT NOT NULL,
		PRIMARY KEY (person_id, date)
	);

	CREATE TABLE IF NOT EXISTS time_variations (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		absence_id TEXT NOT NULL,
		date TEXT NOT NULL,
		minutes INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_time_variations_person_date
		ON time_variations(person_id, date);

	CREATE TABLE IF NOT EXISTS competences (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		code TEXT NOT NULL,
		approved_value TEXT NOT NULL,
		approved_unit TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_competences_person_month
		ON competences(person_id, year, month);

	CREATE TABLE IF NOT EXISTS meal_ticket_deliveries (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		contract_id TEXT NOT NULL,
		delivered_on TEXT NOT NULL,
		count INTEGER NOT NULL,
		returned BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS configuration (
		owner TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (owner, key)
	);

	CREATE TABLE IF NOT EXISTS stamps (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		way TEXT NOT NULL,
		marked_by_admin BOOLEAN NOT NULL DEFAULT FALSE,
		marked_by_system BOOLEAN NOT NULL DEFAULT FALSE,
		note TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_stamps_person_date
		ON stamps(person_id, date, time);

	CREATE TABLE IF NOT EXISTS absences (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		date TEXT NOT NULL,
		code TEXT NOT NULL,
		justified_minutes INTEGER,
		system_generated BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_absences_person_date
		ON absences(person_id, date);

	CREATE TABLE IF NOT EXISTS troubles (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		date TEXT NOT NULL,
		cause TEXT NOT NULL,
		UNIQUE (person_id, date, cause)
	);

	CREATE TABLE IF NOT EXISTS work_days (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		date TEXT NOT NULL,
		time_at_work INTEGER NOT NULL,
		difference INTEGER NOT NULL,
		progressive INTEGER NOT NULL,
		holiday BOOLEAN NOT NULL,
		accepted_holiday_work BOOLEAN NOT NULL,
		ticket_available BOOLEAN NOT NULL,
		ticket_forced_by_admin BOOLEAN NOT NULL,
		ticket_forced_value BOOLEAN NOT NULL,
		decurted_meal INTEGER NOT NULL,
		UNIQUE (person_id, date)
	);

	CREATE TABLE IF NOT EXISTS month_recaps (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		remaining_last_year INTEGER NOT NULL,
		remaining_current_year INTEGER NOT NULL,
		carried_deficit INTEGER NOT NULL,
		remaining_meal_tickets INTEGER NOT NULL,
		recap_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (contract_id, year, month)
	);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func parseDate(s string) generic.Date {
	d, _ := generic.ParseDate(s)
	return d
}

// =============================================================================
// PERSONS AND CONTRACTS
// =============================================================================

// SavePerson saves a person.
func (s *Store) SavePerson(ctx context.Context, p attendance.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO persons (id, name, office_id, qualification)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			office_id = excluded.office_id,
			qualification = excluded.qualification
	`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.OfficeID, p.Qualification)
	if err != nil {
		return fmt.Errorf("failed to save person: %w", err)
	}
	return nil
}

func (s *Store) GetPerson(ctx context.Context, id attendance.PersonID) (attendance.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p attendance.Person
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, office_id, qualification FROM persons WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.OfficeID, &p.Qualification)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("person %s: %w", id, generic.ErrPersonNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("failed to get person: %w", err)
	}
	return p, nil
}

func (s *Store) ListActivePersons(ctx context.Context, on generic.Date) ([]attendance.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, office_id, qualification FROM persons WHERE qualification > 0 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query persons: %w", err)
	}
	var persons []attendance.Person
	for rows.Next() {
		var p attendance.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.OfficeID, &p.Qualification); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		persons = append(persons, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read persons: %w", err)
	}

	var active []attendance.Person
	for _, p := range persons {
		contracts, err := s.contractsByPerson(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if _, ok := attendance.ContractOn(contracts, on); ok {
			active = append(active, p)
		}
	}
	return active, nil
}

// SaveContract saves a contract with its working-time periods and
// initialization values.
func (s *Store) SaveContract(ctx context.Context, c attendance.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode contract: %w", err)
	}
	query := `
		INSERT INTO contracts (id, person_id, begin_date, data_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			person_id = excluded.person_id,
			begin_date = excluded.begin_date,
			data_json = excluded.data_json
	`
	_, err = s.db.ExecContext(ctx, query, c.ID, c.PersonID, c.BeginDate.String(), string(data))
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

func (s *Store) ContractsByPerson(ctx context.Context, personID attendance.PersonID) ([]attendance.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contractsByPerson(ctx, personID)
}

func (s *Store) contractsByPerson(ctx context.Context, personID attendance.PersonID) ([]attendance.Contract, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data_json FROM contracts WHERE person_id = ? ORDER BY begin_date ASC", personID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var contracts []attendance.Contract
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		var c attendance.Contract
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("failed to decode contract: %w", err)
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

// SaveWorkingTimeType saves a working-time type and its weekdays.
func (s *Store) SaveWorkingTimeType(ctx context.Context, w attendance.WorkingTimeType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, err := json.Marshal(w.Days)
	if err != nil {
		return fmt.Errorf("failed to encode working-time days: %w", err)
	}
	query := `
		INSERT INTO working_time_types (id, description, days_json)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			days_json = excluded.days_json
	`
	_, err = s.db.ExecContext(ctx, query, w.ID, w.Description, string(days))
	if err != nil {
		return fmt.Errorf("failed to save working-time type: %w", err)
	}
	return nil
}

func (s *Store) GetWorkingTimeType(ctx context.Context, id string) (attendance.WorkingTimeType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := attendance.WorkingTimeType{ID: id}
	var days string
	err := s.db.QueryRowContext(ctx,
		"SELECT description, days_json FROM working_time_types WHERE id = ?", id,
	).Scan(&w.Description, &days)
	if errors.Is(err, sql.ErrNoRows) {
		return w, fmt.Errorf("working-time type %s: %w", id, generic.ErrNotFound)
	}
	if err != nil {
		return w, fmt.Errorf("failed to get working-time type: %w", err)
	}
	if err := json.Unmarshal([]byte(days), &w.Days); err != nil {
		return w, fmt.Errorf("failed to decode working-time days: %w", err)
	}
	return w, nil
}

// =============================================================================
// CALENDAR, SHIFTS AND CONFIGURATION
// =============================================================================

// SaveHoliday saves a holiday to the database.
func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO holidays (id, office_id, date, name, recurring)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			office_id = excluded.office_id,
			date = excluded.date,
			name = excluded.name,
			recurring = excluded.recurring
	`
	_, err := s.db.ExecContext(ctx, query, h.ID, h.OfficeID, h.Date.String(), h.Name, h.Recurring)
	if err != nil {
		return fmt.Errorf("failed to save holiday: %w", err)
	}
	return nil
}

func (s *Store) Holidays(ctx context.Context, officeID string) (generic.HolidayList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, office_id, date, name, recurring
		FROM holidays
		WHERE office_id = ? OR office_id = ''
		ORDER BY date ASC
	`, officeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var holidays generic.HolidayList
	for rows.Next() {
		var h generic.Holiday
		var date string
		if err := rows.Scan(&h.ID, &h.OfficeID, &date, &h.Name, &h.Recurring); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		h.Date = parseDate(date)
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// SetShift marks the person on shift on the date.
func (s *Store) SetShift(ctx context.Context, personID attendance.PersonID, d generic.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO shifts (person_id, date) VALUES (?, ?)", personID, d.String())
	if err != nil {
		return fmt.Errorf("failed to save shift: %w", err)
	}
	return nil
}

func (s *Store) IsOnShift(ctx context.Context, personID attendance.PersonID, d generic.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM shifts WHERE person_id = ? AND date = ?", personID, d.String(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query shift: %w", err)
	}
	return count > 0, nil
}

// SetConfig stores a raw parameter value for an office or a person.
func (s *Store) SetConfig(ctx context.Context, owner, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO configuration (owner, key, value) VALUES (?, ?, ?)
		ON CONFLICT(owner, key) DO UPDATE SET value = excluded.value
	`, owner, key, value)
	if err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

func (s *Store) ConfigValue(ctx context.Context, owner, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM configuration WHERE owner = ? AND key = ?", owner, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query configuration: %w", err)
	}
	return value, true, nil
}

// =============================================================================
// TIME VARIATIONS, COMPETENCES, MEAL TICKETS
// =============================================================================

func (s *Store) SaveTimeVariation(ctx context.Context, v attendance.TimeVariation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO time_variations (id, person_id, absence_id, date, minutes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET minutes = excluded.minutes, date = excluded.date
	`, v.ID, v.PersonID, v.AbsenceID, v.Date.String(), v.Minutes)
	if err != nil {
		return fmt.Errorf("failed to save time variation: %w", err)
	}
	return nil
}

func (s *Store) TimeVariationsInRange(ctx context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.TimeVariation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, absence_id, date, minutes
		FROM time_variations
		WHERE person_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, personID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query time variations: %w", err)
	}
	defer rows.Close()

	var out []attendance.TimeVariation
	for rows.Next() {
		var v attendance.TimeVariation
		var date string
		if err := rows.Scan(&v.ID, &v.PersonID, &v.AbsenceID, &date, &v.Minutes); err != nil {
			return nil, fmt.Errorf("failed to scan time variation: %w", err)
		}
		v.Date = parseDate(date)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) SaveCompetence(ctx context.Context, c attendance.Competence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO competences (id, person_id, year, month, code, approved_value, approved_unit)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			approved_value = excluded.approved_value,
			approved_unit = excluded.approved_unit
	`, c.ID, c.PersonID, c.YearMonth.Year, int(c.YearMonth.Month), c.Code,
		c.Approved.Value.String(), c.Approved.Unit)
	if err != nil {
		return fmt.Errorf("failed to save competence: %w", err)
	}
	return nil
}

func (s *Store) CompetencesInMonth(ctx context.Context, personID attendance.PersonID, ym generic.YearMonth) ([]attendance.Competence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, code, approved_value, approved_unit
		FROM competences
		WHERE person_id = ? AND year = ? AND month = ?
		ORDER BY code ASC
	`, personID, ym.Year, int(ym.Month))
	if err != nil {
		return nil, fmt.Errorf("failed to query competences: %w", err)
	}
	defer rows.Close()

	var out []attendance.Competence
	for rows.Next() {
		var c attendance.Competence
		var value, unit string
		if err := rows.Scan(&c.ID, &c.PersonID, &c.Code, &value, &unit); err != nil {
			return nil, fmt.Errorf("failed to scan competence: %w", err)
		}
		c.YearMonth = ym
		if c.Approved, err = parseAmount(value, unit); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveMealTicketDelivery(ctx context.Context, d attendance.MealTicketDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meal_ticket_deliveries (id, person_id, contract_id, delivered_on, count, returned)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET count = excluded.count, returned = excluded.returned
	`, d.ID, d.PersonID, d.ContractID, d.DeliveredOn.String(), d.Count, d.Returned)
	if err != nil {
		return fmt.Errorf("failed to save meal-ticket delivery: %w", err)
	}
	return nil
}

func (s *Store) MealTicketsDelivered(ctx context.Context, contractID attendance.ContractID, from, to generic.Date) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(count), 0) FROM meal_ticket_deliveries
		WHERE contract_id = ? AND returned = FALSE AND delivered_on >= ? AND delivered_on <= ?
	`, contractID, from.String(), to.String()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum meal-ticket deliveries: %w", err)
	}
	return total, nil
}

// =============================================================================
// STAMPS AND ABSENCES
// =============================================================================

func (s *Store) AppendStamp(ctx context.Context, st attendance.Stamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stamps (id, person_id, date, time, way, marked_by_admin, marked_by_system, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, st.ID, st.PersonID, st.Date().String(), st.Time.Format(time.RFC3339), st.Way,
		st.MarkedByAdmin, st.MarkedBySystem, nullString(st.Note))
	if err != nil {
		return fmt.Errorf("failed to append stamp: %w", err)
	}
	return nil
}

func (s *Store) StampsInRange(ctx context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.Stamp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, time, way, marked_by_admin, marked_by_system, note
		FROM stamps
		WHERE person_id = ? AND date >= ? AND date <= ?
		ORDER BY time ASC
	`, personID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query stamps: %w", err)
	}
	defer rows.Close()

	var out []attendance.Stamp
	for rows.Next() {
		var st attendance.Stamp
		var ts string
		var note sql.NullString
		if err := rows.Scan(&st.ID, &st.PersonID, &ts, &st.Way, &st.MarkedByAdmin, &st.MarkedBySystem, &note); err != nil {
			return nil, fmt.Errorf("failed to scan stamp: %w", err)
		}
		st.Time, _ = time.Parse(time.RFC3339, ts)
		st.Note = note.String
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stamps: %w", err)
	}
	// RFC3339 text with offsets does not sort chronologically in SQL.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (s *Store) AbsencesInRange(ctx context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.Absence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, date, code, justified_minutes, system_generated
		FROM absences
		WHERE person_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, id ASC
	`, personID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query absences: %w", err)
	}
	defer rows.Close()

	var out []attendance.Absence
	for rows.Next() {
		var a attendance.Absence
		var date, code string
		var minutes sql.NullInt64
		if err := rows.Scan(&a.ID, &a.PersonID, &date, &code, &minutes, &a.SystemGenerated); err != nil {
			return nil, fmt.Errorf("failed to scan absence: %w", err)
		}
		a.Date = parseDate(date)
		a.Type = attendance.GetOrCreateAbsenceType(code)
		if minutes.Valid {
			m := int(minutes.Int64)
			a.JustifiedMinutes = &m
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveAbsence(ctx context.Context, a attendance.Absence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var minutes sql.NullInt64
	if a.JustifiedMinutes != nil {
		minutes = sql.NullInt64{Int64: int64(*a.JustifiedMinutes), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO absences (id, person_id, date, code, justified_minutes, system_generated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			code = excluded.code,
			justified_minutes = excluded.justified_minutes,
			system_generated = excluded.system_generated
	`, a.ID, a.PersonID, a.Date.String(), a.Type.Code, minutes, a.SystemGenerated)
	if err != nil {
		return fmt.Errorf("failed to save absence: %w", err)
	}
	return nil
}

func (s *Store) DeleteAbsence(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM absences WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete absence: %w", err)
	}
	return nil
}

// =============================================================================
// TROUBLES
// =============================================================================

func (s *Store) UpsertTrouble(ctx context.Context, t attendance.Trouble) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO troubles (id, person_id, date, cause) VALUES (?, ?, ?, ?)
		ON CONFLICT(person_id, date, cause) DO NOTHING
	`, t.ID, t.PersonID, t.Date.String(), t.Cause)
	if err != nil {
		return fmt.Errorf("failed to save trouble: %w", err)
	}
	return nil
}

func (s *Store) ClearTrouble(ctx context.Context, personID attendance.PersonID, d generic.Date, cause attendance.TroubleCause) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM troubles WHERE person_id = ? AND date = ? AND cause = ?",
		personID, d.String(), cause)
	if err != nil {
		return fmt.Errorf("failed to clear trouble: %w", err)
	}
	return nil
}

func (s *Store) TroublesInRange(ctx context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.Trouble, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.troublesInRange(ctx, personID, from, to)
}

func (s *Store) troublesInRange(ctx context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.Trouble, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, date, cause FROM troubles
		WHERE person_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, cause ASC
	`, personID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query troubles: %w", err)
	}
	defer rows.Close()

	var out []attendance.Trouble
	for rows.Next() {
		var t attendance.Trouble
		var date string
		if err := rows.Scan(&t.ID, &t.PersonID, &date, &t.Cause); err != nil {
			return nil, fmt.Errorf("failed to scan trouble: %w", err)
		}
		t.Date = parseDate(date)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// WORK DAYS
// =============================================================================

const workDayColumns = `id, person_id, date, time_at_work, difference, progressive, holiday,
	accepted_holiday_work, ticket_available, ticket_forced_by_admin, ticket_forced_value, decurted_meal`

func scanWorkDay(rows interface{ Scan(...any) error }) (attendance.WorkDay, error) {
	var wd attendance.WorkDay
	var date string
	err := rows.Scan(&wd.ID, &wd.PersonID, &date, &wd.TimeAtWork, &wd.Difference, &wd.Progressive,
		&wd.Holiday, &wd.AcceptedHolidayWork, &wd.TicketAvailable, &wd.TicketForcedByAdmin,
		&wd.TicketForcedValue, &wd.DecurtedMeal)
	if err != nil {
		return wd, err
	}
	wd.Date = parseDate(date)
	return wd, nil
}

func (s *Store) GetWorkDay(ctx context.Context, personID attendance.PersonID, d generic.Date) (attendance.WorkDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wd, err := scanWorkDay(s.db.QueryRowContext(ctx,
		"SELECT "+workDayColumns+" FROM work_days WHERE person_id = ? AND date = ?",
		personID, d.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return wd, fmt.Errorf("work day %s %s: %w", personID, d, generic.ErrNotFound)
	}
	if err != nil {
		return wd, fmt.Errorf("failed to get work day: %w", err)
	}
	troubles, err := s.troublesInRange(ctx, personID, d, d)
	if err != nil {
		return wd, err
	}
	for _, t := range troubles {
		wd.Troubles = append(wd.Troubles, t.Cause)
	}
	return wd, nil
}

func (s *Store) WorkDaysInRange(ctx context.Context, personID attendance.PersonID, from, to generic.Date) ([]attendance.WorkDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+workDayColumns+" FROM work_days WHERE person_id = ? AND date >= ? AND date <= ? ORDER BY date ASC",
		personID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query work days: %w", err)
	}
	var days []attendance.WorkDay
	for rows.Next() {
		wd, err := scanWorkDay(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan work day: %w", err)
		}
		days = append(days, wd)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read work days: %w", err)
	}

	troubles, err := s.troublesInRange(ctx, personID, from, to)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string][]attendance.TroubleCause)
	for _, t := range troubles {
		byDate[t.Date.String()] = append(byDate[t.Date.String()], t.Cause)
	}
	for i := range days {
		days[i].Troubles = byDate[days[i].Date.String()]
	}
	return days, nil
}

func (s *Store) SaveWorkDay(ctx context.Context, wd attendance.WorkDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_days (`+workDayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id, date) DO UPDATE SET
			time_at_work = excluded.time_at_work,
			difference = excluded.difference,
			progressive = excluded.progressive,
			holiday = excluded.holiday,
			accepted_holiday_work = excluded.accepted_holiday_work,
			ticket_available = excluded.ticket_available,
			ticket_forced_by_admin = excluded.ticket_forced_by_admin,
			ticket_forced_value = excluded.ticket_forced_value,
			decurted_meal = excluded.decurted_meal
	`, wd.ID, wd.PersonID, wd.Date.String(), wd.TimeAtWork, wd.Difference, wd.Progressive,
		wd.Holiday, wd.AcceptedHolidayWork, wd.TicketAvailable, wd.TicketForcedByAdmin,
		wd.TicketForcedValue, wd.DecurtedMeal)
	if err != nil {
		return fmt.Errorf("failed to save work day: %w", err)
	}
	return nil
}

// =============================================================================
// MONTH RECAPS
// =============================================================================

func (s *Store) GetRecap(ctx context.Context, contractID attendance.ContractID, ym generic.YearMonth) (attendance.MonthRecap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT recap_json FROM month_recaps WHERE contract_id = ? AND year = ? AND month = ?",
		contractID, ym.Year, int(ym.Month),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.MonthRecap{}, fmt.Errorf("recap %s %s: %w", contractID, ym, generic.ErrNotFound)
	}
	if err != nil {
		return attendance.MonthRecap{}, fmt.Errorf("failed to get recap: %w", err)
	}
	return decodeRecap(data)
}

func (s *Store) SaveRecap(ctx context.Context, r attendance.MonthRecap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode recap: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO month_recaps (id, contract_id, person_id, year, month,
			remaining_last_year, remaining_current_year, carried_deficit, remaining_meal_tickets,
			recap_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contract_id, year, month) DO UPDATE SET
			remaining_last_year = excluded.remaining_last_year,
			remaining_current_year = excluded.remaining_current_year,
			carried_deficit = excluded.carried_deficit,
			remaining_meal_tickets = excluded.remaining_meal_tickets,
			recap_json = excluded.recap_json,
			updated_at = excluded.updated_at
	`, r.ID, r.ContractID, r.PersonID, r.YearMonth.Year, int(r.YearMonth.Month),
		r.RemainingLastYear, r.RemainingCurrentYear, r.CarriedDeficit, r.RemainingMealTickets,
		string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save recap: %w", err)
	}
	return nil
}

func (s *Store) RecapsByContract(ctx context.Context, contractID attendance.ContractID) ([]attendance.MonthRecap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT recap_json FROM month_recaps WHERE contract_id = ? ORDER BY year ASC, month ASC", contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recaps: %w", err)
	}
	defer rows.Close()

	var out []attendance.MonthRecap
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan recap: %w", err)
		}
		r, err := decodeRecap(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Helper functions

func decodeRecap(data string) (attendance.MonthRecap, error) {
	var r attendance.MonthRecap
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return r, fmt.Errorf("failed to decode recap: %w", err)
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseAmount(value, unit string) (generic.Amount, error) {
	a, err := generic.Hours(value)
	if err != nil {
		return a, fmt.Errorf("failed to parse amount %q: %w", value, err)
	}
	a.Unit = generic.Unit(unit)
	return a, nil
}
