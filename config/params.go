/*
params.go - Typed business parameters

PURPOSE:
  Office and person configuration is stored as raw strings keyed by
  (owner, key). Each parameter the engine reads is declared once below with
  its scope, its Go type, its default and its decoder, so call sites never
  cast.

USAGE:
  r := config.For(store, person)
  lunch, err := config.Get(ctx, r, config.LunchWindow)    // generic.TimeInterval
  cutoff, err := config.Get(ctx, r, config.NightShiftCutoffHour) // int

SCOPES:
  ScopeOffice parameters are looked up with the person's office id as owner,
  ScopePerson parameters with the person id. A missing value falls back to
  the parameter's default. A value that does not decode is an error.

SEE ALSO:
  - attendance/repository.go: ConfigSource
  - config.go: process configuration from the environment
*/
package config

import (
	"context"
	"fmt"
	"strconv"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/generic"
)

// =============================================================================
// PARAMETER DECLARATION
// =============================================================================

type Scope int

const (
	ScopeOffice Scope = iota
	ScopePerson
)

func (s Scope) String() string {
	if s == ScopePerson {
		return "person"
	}
	return "office"
}

// Param is a configuration key statically bound to its value type.
type Param[T any] struct {
	Key     string
	Scope   Scope
	Default T
	decode  func(string) (T, error)
}

var (
	// LunchWindow bounds the lunch break used for the meal-ticket deduction.
	LunchWindow = Param[generic.TimeInterval]{
		Key: "lunch_window", Scope: ScopeOffice,
		Default: generic.TimeInterval{From: generic.NewTimeOfDay(12, 0), To: generic.NewTimeOfDay(15, 0)},
		decode:  generic.ParseTimeInterval,
	}

	// WorkWindow clips stamped presence. PersonWorkWindow overrides it.
	WorkWindow = Param[generic.TimeInterval]{
		Key: "work_window", Scope: ScopeOffice,
		Default: generic.TimeInterval{From: 0, To: generic.NewTimeOfDay(23, 59)},
		decode:  generic.ParseTimeInterval,
	}
	PersonWorkWindow = Param[generic.TimeInterval]{
		Key: "work_window", Scope: ScopePerson,
		decode: generic.ParseTimeInterval,
	}

	// NightShiftCutoffHour: an out stamp before this hour may close the
	// previous day's open in.
	NightShiftCutoffHour = Param[int]{
		Key: "night_shift_cutoff_hour", Scope: ScopeOffice,
		Default: 6,
		decode:  strconv.Atoi,
	}

	// FixedWorkingTime persons are credited their expected time every
	// working day regardless of stamps.
	FixedWorkingTime = Param[bool]{
		Key: "fixed_working_time", Scope: ScopePerson,
		decode: strconv.ParseBool,
	}

	// OfficeStartDate is the first day the office is tracked. Zero means no bound.
	OfficeStartDate = Param[generic.Date]{
		Key: "office_start_date", Scope: ScopeOffice,
		decode: generic.ParseDate,
	}

	// MealTicketStartDate is the first day meal tickets are accounted.
	MealTicketStartDate = Param[generic.Date]{
		Key: "meal_ticket_start_date", Scope: ScopeOffice,
		decode: generic.ParseDate,
	}

	// Last month of the year (1-12) in which the last-year residual can be
	// used, per qualification tier. 0 means always usable.
	LastYearCutoffTopTier = Param[int]{
		Key: "last_year_cutoff_month_1_3", Scope: ScopeOffice,
		decode: decodeMonth,
	}
	LastYearCutoffOtherTiers = Param[int]{
		Key: "last_year_cutoff_month_4_10", Scope: ScopeOffice,
		Default: 3,
		decode:  decodeMonth,
	}

	// Maximum compensatory-rest days per calendar year, per tier. 0 means unlimited.
	MaxRecoveryDaysTopTier = Param[int]{
		Key: "max_recovery_days_1_3", Scope: ScopeOffice,
		decode: decodeNonNegative,
	}
	MaxRecoveryDaysOtherTiers = Param[int]{
		Key: "max_recovery_days_4_10", Scope: ScopeOffice,
		Default: 22,
		decode:  decodeNonNegative,
	}
)

func decodeMonth(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 12 {
		return 0, fmt.Errorf("month %d out of range 0-12", n)
	}
	return n, nil
}

func decodeNonNegative(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

// =============================================================================
// RESOLVER - Typed lookup for one person
// =============================================================================

// Resolver reads parameters on behalf of one person.
type Resolver struct {
	src      attendance.ConfigSource
	officeID string
	personID string
}

func For(src attendance.ConfigSource, person attendance.Person) Resolver {
	return Resolver{src: src, officeID: person.OfficeID, personID: string(person.ID)}
}

func (r Resolver) owner(s Scope) string {
	if s == ScopePerson {
		return r.personID
	}
	return r.officeID
}

// Lookup returns the stored value of the parameter and whether it was set.
func Lookup[T any](ctx context.Context, r Resolver, p Param[T]) (T, bool, error) {
	var zero T
	raw, ok, err := r.src.ConfigValue(ctx, r.owner(p.Scope), p.Key)
	if err != nil {
		return zero, false, fmt.Errorf("read parameter %s: %w", p.Key, err)
	}
	if !ok {
		return zero, false, nil
	}
	v, err := p.decode(raw)
	if err != nil {
		return zero, false, &generic.ParameterError{Name: p.Key, Value: raw, Err: err}
	}
	return v, true, nil
}

// Get returns the parameter value, or its default when unset.
func Get[T any](ctx context.Context, r Resolver, p Param[T]) (T, error) {
	v, ok, err := Lookup(ctx, r, p)
	if err != nil {
		return p.Default, err
	}
	if !ok {
		return p.Default, nil
	}
	return v, nil
}

// =============================================================================
// DERIVED PARAMETERS
// =============================================================================

// EffectiveWorkWindow returns the person's custom window, else the office one.
func EffectiveWorkWindow(ctx context.Context, r Resolver) (generic.TimeInterval, error) {
	if w, ok, err := Lookup(ctx, r, PersonWorkWindow); err != nil || ok {
		return w, err
	}
	return Get(ctx, r, WorkWindow)
}

// LastYearCutoff returns the cutoff month for the person's tier.
func LastYearCutoff(ctx context.Context, r Resolver, topTier bool) (int, error) {
	if topTier {
		return Get(ctx, r, LastYearCutoffTopTier)
	}
	return Get(ctx, r, LastYearCutoffOtherTiers)
}

// MaxRecoveryDays returns the yearly compensatory-rest cap for the person's tier.
func MaxRecoveryDays(ctx context.Context, r Resolver, topTier bool) (int, error) {
	if topTier {
		return Get(ctx, r, MaxRecoveryDaysTopTier)
	}
	return Get(ctx, r, MaxRecoveryDaysOtherTiers)
}
