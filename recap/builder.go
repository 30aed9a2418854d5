/*
Package recap implements the month pass of the time-bank engine.

PURPOSE:
  Folds a contract's work days into month-by-month recaps, carrying the
  closing balances of each month into the next one.

KEY CONCEPTS IN THIS FILE (builder.go):
  - Windows: The three date intervals a month reads its facts from
  - Shell: A clean recap, reusing the identity of an existing one

VALIDITY WINDOWS:
  Each window is intersected with the calendar month and with the part of
  the contract tracked in the database. A nil window means "no days": the
  aggregates fed by it stay zero.

    progressive:       month up to yesterday (current month) or whole month,
                       never after today
    compensatory rest: month plus the following month (current month) or
                       month, planned rests count
    meal tickets:      month up to today, after the office and contract
                       meal-ticket start dates

SEE ALSO:
  - apportion.go: Balance Apportionment Engine
  - chain.go: Month-Chain Driver
*/
package recap

import (
	"github.com/google/uuid"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/generic"
)

// =============================================================================
// VALIDITY WINDOWS
// =============================================================================

type Windows struct {
	Progressive      *generic.Period
	CompensatoryRest *generic.Period
	MealTickets      *generic.Period
}

// OfficeFacts are the office-level bounds that shape the windows.
type OfficeFacts struct {
	MealTicketStart generic.Date // zero = no bound
}

// ComputeWindows returns the validity windows of a contract's month.
func ComputeWindows(c attendance.Contract, ym generic.YearMonth, office OfficeFacts, today generic.Date) Windows {
	db := c.DatabaseInterval()
	current := ym == today.YearMonth()
	month := ym.Period()

	var w Windows

	progressive := &month
	if current {
		if today.Day() == 1 {
			progressive = nil
		} else {
			progressive = &generic.Period{Start: month.Start, End: today.AddDays(-1)}
		}
	}
	w.Progressive = generic.IntersectAll(progressive, db, generic.Until(today))

	rest := month
	if current {
		rest.End = ym.Next().LastDay()
	}
	w.CompensatoryRest = generic.IntersectAll(&rest, db)

	meal := []generic.Period{db, generic.Until(today)}
	if !office.MealTicketStart.IsZero() {
		meal = append(meal, generic.From(office.MealTicketStart))
	}
	if c.MealTicketFrom != nil {
		meal = append(meal, generic.From(*c.MealTicketFrom))
	}
	if c.SourceDateMealTicket != nil {
		meal = append(meal, generic.From(c.SourceDateMealTicket.AddDays(1)))
	}
	w.MealTickets = generic.IntersectAll(&month, meal...)

	return w
}

// =============================================================================
// RECAP SHELL
// =============================================================================

// Shell resets an existing recap to a clean slate, or allocates a new one.
func Shell(existing *attendance.MonthRecap, c attendance.Contract, ym generic.YearMonth) attendance.MonthRecap {
	if existing != nil {
		r := *existing
		r.Clean()
		return r
	}
	return attendance.MonthRecap{
		ID:         uuid.NewString(),
		ContractID: c.ID,
		PersonID:   c.PersonID,
		YearMonth:  ym,
	}
}
