/*
errors.go - Centralized error types for the time-bank engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Engine packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Precondition violations - the data needed to compute a day is broken
     (fatal for that day, surfaced to the operator, isolated per person)
  2. Missing upstream data - nothing to do, logged and skipped
  3. Store errors - persistence failures, propagated without retry

USAGE:
  if errors.Is(err, generic.ErrMissingWorkingTimeDay) {
      // the contract's working-time type lacks this weekday
  }

  var pre *generic.PreconditionError
  if errors.As(err, &pre) {
      log.Error().Str("person_id", pre.PersonID).Msg(pre.Error())
  }

SEE ALSO:
  - daycalc/recompute.go: raises PreconditionError
  - recap/chain.go: treats ErrNotInitialized as a skip
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingWorkingTimeDay is returned when an active contract day has no
	// working-time definition for its weekday. The day cannot be computed.
	ErrMissingWorkingTimeDay = errors.New("missing working-time definition for weekday")

	// ErrMissingWorkingTimeType is returned when a contract references a
	// working-time type that does not exist, or covers the date with none.
	ErrMissingWorkingTimeType = errors.New("missing working-time type")

	// ErrContractNotActive is returned by lookups that require a contract
	// covering the requested date.
	ErrContractNotActive = errors.New("no active contract")

	// ErrNotInitialized is returned when a contract has no first month to
	// recap (it starts before the office went live and carries no
	// initialization values). Callers treat it as "nothing to do".
	ErrNotInitialized = errors.New("contract not initialized")

	// ErrPersonNotFound is returned when a referenced person doesn't exist.
	ErrPersonNotFound = errors.New("person not found")

	// ErrNotFound is returned by stores for missing rows.
	ErrNotFound = errors.New("not found")

	// ErrInvalidParameter is returned when a configuration value cannot be
	// decoded into the type its parameter declares.
	ErrInvalidParameter = errors.New("invalid configuration parameter")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PreconditionError reports a day that cannot be computed because required
// data is missing.
type PreconditionError struct {
	PersonID   string
	ContractID string
	Date       Date
	Err        error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot compute %s for person %s (contract %s): %v",
		e.Date, e.PersonID, e.ContractID, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// ParameterError reports a configuration value that does not decode.
type ParameterError struct {
	Name  string
	Value string
	Err   error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("parameter %s: cannot decode %q: %v", e.Name, e.Value, e.Err)
}

func (e *ParameterError) Unwrap() []error {
	return []error{ErrInvalidParameter, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsPrecondition returns true if the error is a per-day precondition violation.
func IsPrecondition(err error) bool {
	var pre *PreconditionError
	return errors.As(err, &pre)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPersonNotFound)
}

// IsSkip returns true if the error means "nothing to do" rather than failure.
func IsSkip(err error) bool {
	return errors.Is(err, ErrNotInitialized)
}
