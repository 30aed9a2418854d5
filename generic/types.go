/*
Package generic provides the calendar and arithmetic primitives of the
time-bank engine.

PURPOSE:
  This package contains domain-agnostic value types shared by the day pass
  (daycalc), the month pass (recap) and the stores. It knows nothing about
  contracts, absences or recaps.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (minutes or hours), decimal-backed so
    hour-valued facts (overtime competences are granted in hours, possibly
    fractional) convert to minutes without floating-point drift.

DESIGN PRINCIPLES:
  1. Balances are kept in whole minutes (int) everywhere in the engine
  2. Amount is only used at the boundary where hours enter or leave
  3. Rounding from hours to minutes is half-away-from-zero

SEE ALSO:
  - time.go: Date, YearMonth, TimeOfDay, TimeInterval
  - period.go: Period and intersections
  - errors.go: sentinel and structured errors
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitHours   Unit = "hours"
	UnitMinutes Unit = "minutes"
)

var sixty = decimal.NewFromInt(60)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

// Hours builds an hour amount from its decimal string form ("7.5").
func Hours(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d, Unit: UnitHours}, nil
}

// Minutes converts the amount to whole minutes.
func (a Amount) Minutes() int {
	v := a.Value
	if a.Unit == UnitHours {
		v = v.Mul(sixty)
	}
	return int(v.Round(0).IntPart())
}

// InHours converts the amount to hours rounded to two decimals.
func (a Amount) InHours() decimal.Decimal {
	if a.Unit == UnitHours {
		return a.Value.Round(2)
	}
	return a.Value.Div(sixty).Round(2)
}

// MinutesToHours renders a minute balance as decimal hours.
func MinutesToHours(minutes int) decimal.Decimal {
	return NewAmountFromInt(minutes, UnitMinutes).InHours()
}

func (a Amount) Add(b Amount) Amount {
	if a.Unit != b.Unit {
		return NewAmountFromInt(a.Minutes()+b.Minutes(), UnitMinutes)
	}
	return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit}
}

func (a Amount) IsZero() bool     { return a.Value.IsZero() }
func (a Amount) IsNegative() bool { return a.Value.IsNegative() }

func (a Amount) String() string {
	return a.Value.String() + " " + string(a.Unit)
}
