/*
absence_types.go - Absence type registration and lookup

PURPOSE:
  Absence types are catalog data owned by the surrounding application. The
  engine only needs to know how each code justifies a day. Stores persist the
  code alone and use this registry to reconstruct the full type.

HOW IT WORKS:
  1. The built-in codes the engine reasons about are registered on init()
  2. The application registers its own catalog at startup
  3. Stores call GetOrCreateAbsenceType when scanning rows

USAGE:
  attendance.RegisterAbsenceType(attendance.AbsenceType{
      Code: "31", Kind: attendance.JustifiedAllDay,
  })
  t := attendance.GetOrCreateAbsenceType("31")

SEE ALSO:
  - types.go: Absence
  - daycalc/recompute.go: how each JustifiedKind affects a day
*/
package attendance

import (
	"fmt"
	"sync"
)

// =============================================================================
// ABSENCE TYPE
// =============================================================================

// JustifiedKind describes how an absence justifies the day it falls on.
type JustifiedKind string

const (
	// JustifiedAllDay: the whole day is justified, difference is zero.
	JustifiedAllDay JustifiedKind = "all_day"

	// JustifiedAssignAllDay: the day counts as the full expected time at work.
	JustifiedAssignAllDay JustifiedKind = "assign_all_day"

	// JustifiedSpecifiedMinutes: the absence credits its minutes to time at work.
	JustifiedSpecifiedMinutes JustifiedKind = "specified_minutes"

	// JustifiedNothing: the absence is recorded without crediting any time.
	JustifiedNothing JustifiedKind = "nothing"
)

type AbsenceType struct {
	Code        string
	Description string
	Kind        JustifiedKind

	// JustifiedMinutes is the default for SpecifiedMinutes absences.
	JustifiedMinutes int

	// CountsForMealTicket: credited minutes count toward the ticket threshold.
	CountsForMealTicket bool

	// CompensatoryRest consumes time-bank minutes equal to the day's
	// expected working time.
	CompensatoryRest bool

	// ClosureRecovery marks institution-closure days recovered later through
	// time variations.
	ClosureRecovery bool

	// ShortPermission is the type synthesized by the mandatory-slot check.
	ShortPermission bool
}

// IsAllDay reports whether the absence covers the whole day.
func (t AbsenceType) IsAllDay() bool {
	return t.Kind == JustifiedAllDay || t.Kind == JustifiedAssignAllDay
}

// Built-in codes the engine reasons about.
const (
	CodeCompensatoryRest = "91"
	CodeClosureRecovery  = "91CE"
	CodeShortPermission  = "PB"
	CodeVacation         = "32"
	CodeMission          = "92"
	CodeHourlyPermission = "PERM"
)

// =============================================================================
// ABSENCE TYPE REGISTRY
// =============================================================================

var (
	absenceTypeRegistry = make(map[string]AbsenceType)
	registryMu          sync.RWMutex
)

func init() {
	RegisterAbsenceType(AbsenceType{
		Code:             CodeCompensatoryRest,
		Description:      "compensatory rest",
		Kind:             JustifiedAllDay,
		CompensatoryRest: true,
	})
	RegisterAbsenceType(AbsenceType{
		Code:            CodeClosureRecovery,
		Description:     "institution closure, to be recovered",
		Kind:            JustifiedAllDay,
		ClosureRecovery: true,
	})
	RegisterAbsenceType(AbsenceType{
		Code:            CodeShortPermission,
		Description:     "short permission",
		Kind:            JustifiedNothing,
		ShortPermission: true,
	})
	RegisterAbsenceType(AbsenceType{
		Code:        CodeVacation,
		Description: "vacation",
		Kind:        JustifiedAllDay,
	})
	RegisterAbsenceType(AbsenceType{
		Code:        CodeMission,
		Description: "mission",
		Kind:        JustifiedAssignAllDay,
	})
	RegisterAbsenceType(AbsenceType{
		Code:                CodeHourlyPermission,
		Description:         "hourly permission",
		Kind:                JustifiedSpecifiedMinutes,
		CountsForMealTicket: true,
	})
}

// RegisterAbsenceType adds an absence type to the global registry,
// replacing any previous definition of the code.
func RegisterAbsenceType(t AbsenceType) {
	registryMu.Lock()
	defer registryMu.Unlock()
	absenceTypeRegistry[t.Code] = t
}

// LookupAbsenceType finds a registered absence type by code.
func LookupAbsenceType(code string) (AbsenceType, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := absenceTypeRegistry[code]
	return t, ok
}

// MustLookupAbsenceType finds a registered absence type or panics.
// Use in tests or when you're certain the type exists.
func MustLookupAbsenceType(code string) AbsenceType {
	t, ok := LookupAbsenceType(code)
	if !ok {
		panic(fmt.Sprintf("absence type not registered: %s", code))
	}
	return t
}

// GetOrCreateAbsenceType looks up an absence type, or returns a type that
// justifies nothing. Use this in deserialization when the catalog might not
// be loaded.
func GetOrCreateAbsenceType(code string) AbsenceType {
	if t, ok := LookupAbsenceType(code); ok {
		return t
	}
	return AbsenceType{Code: code, Kind: JustifiedNothing}
}
