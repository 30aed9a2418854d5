// Package attendance holds the domain model of the time-bank engine: people,
// contracts, clock events, absences, work days and month recaps, plus the
// collaborator interfaces the engine reads from and writes to.
package attendance

import (
	"time"

	"github.com/warp/timebank-engine/generic"
)

// =============================================================================
// PEOPLE AND CONTRACTS
// =============================================================================

type PersonID string
type ContractID string

type Person struct {
	ID       PersonID
	Name     string
	OfficeID string

	// Qualification is the CNR level (1-10). Zero means the person has no
	// qualification and is not tracked by the engine.
	Qualification int
}

// TopTier reports whether the person belongs to levels I-III, which have
// their own last-year residual and recovery-day rules.
func (p Person) TopTier() bool {
	return p.Qualification >= 1 && p.Qualification <= 3
}

// Contract is a person's employment relationship for a date range.
type Contract struct {
	ID       ContractID
	PersonID PersonID

	BeginDate   generic.Date
	EndDate     generic.Date // expected end, zero = open
	EndContract generic.Date // actual termination, zero = none

	WorkingTimeTypes []ContractWorkingTimeType

	// Initialization: balances as of SourceDateResidual, used in lieu of a
	// previous recap when history predates the system.
	SourceDateResidual                *generic.Date
	SourceRemainingMinutesLastYear    int
	SourceRemainingMinutesCurrentYear int
	SourceRecoveryDayUsed             int

	SourceDateMealTicket      *generic.Date
	SourceRemainingMealTicket int

	// MealTicketFrom restricts meal-ticket accounting for this contract.
	MealTicketFrom *generic.Date

	// MandatorySlot is the obligatory presence window, if any.
	MandatorySlot *generic.TimeInterval
}

// ContractWorkingTimeType assigns a working-time type for a part of a contract.
type ContractWorkingTimeType struct {
	Period            generic.Period
	WorkingTimeTypeID string
}

// LastDay returns the last day covered by the contract, zero when open.
func (c Contract) LastDay() generic.Date {
	switch {
	case !c.EndContract.IsZero():
		return c.EndContract
	default:
		return c.EndDate
	}
}

// Interval is the contract's validity [begin, termination or expected end].
func (c Contract) Interval() generic.Period {
	return generic.Period{Start: c.BeginDate, End: c.LastDay()}
}

// DatabaseInterval is the part of the contract whose days are tracked in the
// database. Days up to the initialization date are summarized by the source
// values instead.
func (c Contract) DatabaseInterval() generic.Period {
	p := c.Interval()
	if c.SourceDateResidual != nil && c.SourceDateResidual.AfterOrEqual(p.Start) {
		p.Start = c.SourceDateResidual.AddDays(1)
	}
	return p
}

// IsActiveOn reports whether the contract covers the date.
func (c Contract) IsActiveOn(d generic.Date) bool {
	return c.Interval().Contains(d)
}

// IsInitialized reports whether the contract carries initialization values.
func (c Contract) IsInitialized() bool {
	return c.SourceDateResidual != nil
}

// WorkingTimeTypeOn returns the working-time type id assigned on the date.
func (c Contract) WorkingTimeTypeOn(d generic.Date) (string, bool) {
	for _, cwtt := range c.WorkingTimeTypes {
		if cwtt.Period.Contains(d) {
			return cwtt.WorkingTimeTypeID, true
		}
	}
	return "", false
}

// ContractOn returns the contract covering the date among the given ones.
func ContractOn(contracts []Contract, d generic.Date) (Contract, bool) {
	for _, c := range contracts {
		if c.IsActiveOn(d) {
			return c, true
		}
	}
	return Contract{}, false
}

// =============================================================================
// WORKING TIME
// =============================================================================

type WorkingTimeType struct {
	ID          string
	Description string
	Days        []WorkingTimeTypeDay
}

// WorkingTimeTypeDay is the expected schedule of one weekday.
type WorkingTimeTypeDay struct {
	DayOfWeek int // 1 = Monday ... 7 = Sunday

	WorkingTime int  // expected minutes
	Holiday     bool // weekly rest day

	MealTicketTime  int // minimum presence for a meal ticket, 0 = never
	BreakTicketTime int // minimum lunch break once the ticket is earned
}

// Day returns the definition of an ISO weekday.
func (w WorkingTimeType) Day(isoWeekday int) (WorkingTimeTypeDay, bool) {
	for _, d := range w.Days {
		if d.DayOfWeek == isoWeekday {
			return d, true
		}
	}
	return WorkingTimeTypeDay{}, false
}

// =============================================================================
// CLOCK EVENTS
// =============================================================================

type StampWay string

const (
	WayIn  StampWay = "in"
	WayOut StampWay = "out"
)

type Stamp struct {
	ID       string
	PersonID PersonID
	Time     time.Time
	Way      StampWay

	MarkedByAdmin  bool
	MarkedBySystem bool // synthesized by the engine (night shift)
	Note           string
}

func (s Stamp) Date() generic.Date { return generic.DateOf(s.Time) }

// =============================================================================
// ABSENCES
// =============================================================================

type Absence struct {
	ID       string
	PersonID PersonID
	Date     generic.Date
	Type     AbsenceType

	// JustifiedMinutes overrides the type's minutes for SpecifiedMinutes
	// absences and records the size of system short permissions.
	JustifiedMinutes *int

	SystemGenerated bool
}

// Minutes returns the minutes justified by a SpecifiedMinutes absence.
func (a Absence) Minutes() int {
	if a.JustifiedMinutes != nil {
		return *a.JustifiedMinutes
	}
	return a.Type.JustifiedMinutes
}

// TimeVariation records minutes recovered against a closure-recovery absence
// by working extra time on Date.
type TimeVariation struct {
	ID        string
	PersonID  PersonID
	AbsenceID string
	Date      generic.Date
	Minutes   int
}

// =============================================================================
// COMPETENCES AND MEAL TICKETS
// =============================================================================

type CompetenceCode string

const (
	OvertimeWeekday         CompetenceCode = "S1"
	OvertimeNightOrHoliday  CompetenceCode = "S2"
	OvertimeNightAndHoliday CompetenceCode = "S3"
)

// Competence is a monthly grant, here only overtime hours matter.
type Competence struct {
	ID        string
	PersonID  PersonID
	YearMonth generic.YearMonth
	Code      CompetenceCode
	Approved  generic.Amount
}

// MealTicketDelivery is a block of meal tickets handed to a person.
type MealTicketDelivery struct {
	ID          string
	PersonID    PersonID
	ContractID  ContractID
	DeliveredOn generic.Date
	Count       int
	Returned    bool
}

// =============================================================================
// TROUBLES
// =============================================================================

type TroubleCause string

const (
	TroubleNoAbsNoStamp    TroubleCause = "no_abs_no_stamp"
	TroubleUncoupledStamps TroubleCause = "uncoupled_stamps"
)

// AllTroubleCauses lists every cause the day recomputer checks.
var AllTroubleCauses = []TroubleCause{TroubleNoAbsNoStamp, TroubleUncoupledStamps}

type Trouble struct {
	ID       string
	PersonID PersonID
	Date     generic.Date
	Cause    TroubleCause
}

// =============================================================================
// WORK DAY
// =============================================================================

// WorkDay is the computed state of one person on one calendar day.
type WorkDay struct {
	ID       string
	PersonID PersonID
	Date     generic.Date

	TimeAtWork  int
	Difference  int
	Progressive int

	Holiday             bool
	AcceptedHolidayWork bool

	TicketAvailable     bool
	TicketForcedByAdmin bool
	TicketForcedValue   bool

	DecurtedMeal int

	// Loaded facts of the day, not persisted with the day.
	Stamps   []Stamp
	Absences []Absence

	Troubles []TroubleCause
}

// Reset zeroes the computed values, keeping identity and admin flags.
func (wd *WorkDay) Reset() {
	wd.TimeAtWork = 0
	wd.Difference = 0
	wd.Progressive = 0
	wd.TicketAvailable = false
	wd.DecurtedMeal = 0
	wd.Troubles = nil
}

// HasTrouble reports whether the cause is flagged on the day.
func (wd WorkDay) HasTrouble(cause TroubleCause) bool {
	for _, c := range wd.Troubles {
		if c == cause {
			return true
		}
	}
	return false
}

// =============================================================================
// MONTH RECAP
// =============================================================================

// MonthRecap is the monthly snapshot produced by the apportionment engine,
// unique on (ContractID, YearMonth).
type MonthRecap struct {
	ID         string
	ContractID ContractID
	PersonID   PersonID
	YearMonth  generic.YearMonth

	LastYearUsable bool

	// Opening balances
	InitLastYearMinutes    int
	InitCurrentYearMinutes int
	InitCarriedDeficit     int
	MealTicketsCarried     int
	MealTicketsFromInit    int
	RecoveryDaysFromInit   int

	// Aggregates
	ProgressiveFinal    int // last day's progressive
	PositiveProgressive int
	NegativeProgressive int
	WorkedMinutes       int

	OvertimeMinutes   int
	OvertimeS1Minutes int
	OvertimeS2Minutes int
	OvertimeS3Minutes int

	CompensatoryRestMinutes int
	CompensatoryRestDays    int
	RecoveryDaysUsed        int // cumulative in the calendar year
	ClosureRecoveryMinutes  int

	MealTicketsIssued int
	MealTicketsUsed   int

	// Imputations
	DeficitToLastYear    int
	DeficitToCurrentYear int
	DeficitToSurplus     int
	OvertimeToSurplus    int
	RestToLastYear       int
	RestToCurrentYear    int
	RestToSurplus        int
	ClosureToLastYear    int
	ClosureToCurrentYear int
	ClosureToSurplus     int
	SurplusToCurrentYear int

	// Closing balances
	RemainingLastYear    int
	RemainingCurrentYear int
	CarriedDeficit       int
	RemainingMealTickets int
}

// Clean resets every computed field, keeping the identity of the recap.
func (r *MonthRecap) Clean() {
	*r = MonthRecap{
		ID:         r.ID,
		ContractID: r.ContractID,
		PersonID:   r.PersonID,
		YearMonth:  r.YearMonth,
	}
}

// RemainingMinutes is the usable time bank at month end.
func (r MonthRecap) RemainingMinutes() int {
	usable := r.RemainingCurrentYear - r.CarriedDeficit
	if r.LastYearUsable {
		usable += r.RemainingLastYear
	}
	return usable
}

// DeficitToCurrentYearReported is the template-visible figure: what the
// current-year bucket absorbed plus what the same-month surplus absorbed.
func (r MonthRecap) DeficitToCurrentYearReported() int {
	return r.DeficitToCurrentYear + r.DeficitToSurplus
}

// RestToCurrentYearReported mirrors DeficitToCurrentYearReported for
// compensatory rest.
func (r MonthRecap) RestToCurrentYearReported() int {
	return r.RestToCurrentYear + r.RestToSurplus
}

// ClosureToCurrentYearReported mirrors DeficitToCurrentYearReported for
// closure recovery.
func (r MonthRecap) ClosureToCurrentYearReported() int {
	return r.ClosureToCurrentYear + r.ClosureToSurplus
}
