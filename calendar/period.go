package calendar

// WorkdaysPerPeriod is the length of a wage period in working days.
const WorkdaysPerPeriod = 5

// =============================================================================
// PERIOD - Inclusive day range
// =============================================================================

// Period is an inclusive [Start, End] range of days.
type Period struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Overlaps returns true if the two inclusive ranges share at least one day.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(p.End)
}

// Valid reports whether Start <= End.
func (p Period) Valid() bool {
	return !p.Start.IsZero() && p.Start.BeforeOrEqual(p.End)
}

// Days returns every day in the period, weekends included.
func (p Period) Days() []Date {
	var days []Date
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// Workdays returns the weekdays in the period.
func (p Period) Workdays() []Date {
	var days []Date
	for _, d := range p.Days() {
		if d.IsWorkday() {
			days = append(days, d)
		}
	}
	return days
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// PERIOD CALCULATOR
// =============================================================================

// PeriodFor returns the canonical wage period for a requested start day.
//
// A start that falls on a weekend moves forward to the next Monday. The end is
// the fifth weekday counted from (and including) the canonical start, so a
// period always holds exactly five working days and may straddle a weekend.
func PeriodFor(start Date) Period {
	start = start.NextWorkday()

	end := start
	counted := 1
	for counted < WorkdaysPerPeriod {
		end = end.AddDays(1)
		if end.IsWorkday() {
			counted++
		}
	}
	return Period{Start: start, End: end}
}

// WeekNumber returns the 1-based ordinal of the 5-workday block containing
// target, counted from joined. Returns 0 when target precedes joined.
//
// A block only counts as completed once its fifth weekday lies strictly
// before target. When target is itself the fifth weekday of a block, that
// block is the one being reported and is not yet completed.
func WeekNumber(joined, target Date) int {
	if target.Before(joined) {
		return 0
	}

	week := 1
	workdays := 0
	for current := joined; current.BeforeOrEqual(target); current = current.AddDays(1) {
		if current.IsWeekend() {
			continue
		}
		workdays++
		if workdays == WorkdaysPerPeriod {
			if current.Before(target) {
				week++
			}
			workdays = 0
		}
	}
	return week
}
