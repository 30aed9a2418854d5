package generic

// =============================================================================
// PERIOD - A closed date interval
// =============================================================================

// Period is the closed date interval [Start, End].
// A zero End means the interval is open on the right (for example a contract
// without an expected end date).
//
// Intervals that may legitimately be empty (the validity windows of a month
// recap) are passed around as *Period, where nil means "no days".
type Period struct {
	Start Date
	End   Date
}

// IsOpen reports whether the period has no right bound.
func (p Period) IsOpen() bool { return p.End.IsZero() }

// Contains returns true if the date is within the period [Start, End]
func (p Period) Contains(d Date) bool {
	if d.Before(p.Start) {
		return false
	}
	return p.IsOpen() || d.BeforeOrEqual(p.End)
}

// Intersect returns the common part of two periods, or nil when they do not
// overlap.
func (p Period) Intersect(other Period) *Period {
	start := MaxDate(p.Start, other.Start)
	var end Date
	switch {
	case p.IsOpen():
		end = other.End
	case other.IsOpen():
		end = p.End
	default:
		end = MinDate(p.End, other.End)
	}
	out := Period{Start: start, End: end}
	if !out.IsOpen() && out.End.Before(out.Start) {
		return nil
	}
	return &out
}

// Overlaps reports whether the two periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	return p.Intersect(other) != nil
}

// Days returns all days in the period as a slice of Dates.
// The period must be closed.
func (p Period) Days() []Date {
	var days []Date
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// String returns a string representation of the period.
func (p Period) String() string {
	if p.IsOpen() {
		return "[" + p.Start.String() + ", ...)"
	}
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// OPTIONAL PERIODS - nil means empty
// =============================================================================

// IntersectAll intersects a possibly-empty period with the given periods.
// The result is nil as soon as any intersection is empty.
func IntersectAll(p *Period, others ...Period) *Period {
	if p == nil {
		return nil
	}
	out := *p
	for _, o := range others {
		next := out.Intersect(o)
		if next == nil {
			return nil
		}
		out = *next
	}
	return &out
}

// From returns the open period starting at d.
func From(d Date) Period { return Period{Start: d} }

// Until returns the period ending at d, starting at the zero date.
func Until(d Date) Period { return Period{Start: Date{}, End: d} }
