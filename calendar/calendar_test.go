package calendar_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/production-engine/calendar"
)

func day(s string) calendar.Date { return calendar.MustParseDate(s) }

// =============================================================================
// PERIOD CALCULATOR
// =============================================================================

func TestPeriodFor_SaturdayStart_MovesToMonday(t *testing.T) {
	// GIVEN: 2024-06-08 is a Saturday
	// WHEN: Computing the canonical period
	// THEN: It runs Monday 06-10 through Friday 06-14
	p := calendar.PeriodFor(day("2024-06-08"))

	assert.Equal(t, "2024-06-10", p.Start.String())
	assert.Equal(t, "2024-06-14", p.End.String())
	assert.Equal(t, time.Monday, p.Start.Weekday())
	assert.Len(t, p.Workdays(), 5)
}

func TestPeriodFor_SundayStart_MovesToMonday(t *testing.T) {
	p := calendar.PeriodFor(day("2024-06-09"))

	assert.Equal(t, "2024-06-10", p.Start.String())
	assert.Equal(t, "2024-06-14", p.End.String())
}

func TestPeriodFor_MidweekStart_SpansWeekend(t *testing.T) {
	// GIVEN: A Wednesday start
	// THEN: Wed, Thu, Fri, Mon, Tue are the five workdays
	p := calendar.PeriodFor(day("2024-06-12"))

	assert.Equal(t, "2024-06-12", p.Start.String())
	assert.Equal(t, "2024-06-18", p.End.String())
	assert.Len(t, p.Workdays(), 5)
	assert.Len(t, p.Days(), 7)
}

func TestPeriodFor_MondayStart_IsSameWeek(t *testing.T) {
	p := calendar.PeriodFor(day("2024-06-03"))

	assert.Equal(t, "2024-06-03", p.Start.String())
	assert.Equal(t, "2024-06-07", p.End.String())
}

func TestPeriodFor_EndIsAlwaysWorkday(t *testing.T) {
	start := day("2024-01-01")
	for i := 0; i < 60; i++ {
		p := calendar.PeriodFor(start.AddDays(i))
		require.True(t, p.Valid())
		assert.True(t, p.Start.IsWorkday(), "start %s", p.Start)
		assert.True(t, p.End.IsWorkday(), "end %s", p.End)
		assert.Len(t, p.Workdays(), calendar.WorkdaysPerPeriod, "period %s", p)
	}
}

// =============================================================================
// WEEK NUMBER
// =============================================================================

func TestWeekNumber(t *testing.T) {
	tests := []struct {
		name   string
		joined string
		target string
		want   int
	}{
		{"target before join", "2024-06-03", "2024-05-31", 0},
		{"join day itself", "2024-06-03", "2024-06-03", 1},
		{"inside first block", "2024-06-03", "2024-06-05", 1},
		{"target on fifth weekday is not completed", "2024-06-03", "2024-06-07", 1},
		{"weekend after first block", "2024-06-08", "2024-06-08", 1},
		{"saturday after a full block", "2024-06-03", "2024-06-08", 2},
		{"monday after a full block", "2024-06-03", "2024-06-10", 2},
		{"midweek join, fifth weekday crosses weekend", "2024-06-05", "2024-06-11", 1},
		{"midweek join, day after fifth weekday", "2024-06-05", "2024-06-12", 2},
		{"weekend join", "2024-06-08", "2024-06-14", 1},
		{"weekend join, next monday", "2024-06-08", "2024-06-17", 2},
		{"three full blocks completed", "2024-06-03", "2024-06-24", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calendar.WeekNumber(day(tt.joined), day(tt.target))
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// PERIOD & DATE HELPERS
// =============================================================================

func TestPeriod_Overlaps(t *testing.T) {
	base := calendar.Period{Start: day("2024-06-10"), End: day("2024-06-14")}

	assert.True(t, base.Overlaps(calendar.Period{Start: day("2024-06-14"), End: day("2024-06-20")}), "shared end boundary")
	assert.True(t, base.Overlaps(calendar.Period{Start: day("2024-06-03"), End: day("2024-06-10")}), "shared start boundary")
	assert.True(t, base.Overlaps(calendar.Period{Start: day("2024-06-11"), End: day("2024-06-12")}), "contained")
	assert.True(t, base.Overlaps(calendar.Period{Start: day("2024-06-01"), End: day("2024-06-30")}), "containing")
	assert.False(t, base.Overlaps(calendar.Period{Start: day("2024-06-17"), End: day("2024-06-21")}), "after")
	assert.False(t, base.Overlaps(calendar.Period{Start: day("2024-06-03"), End: day("2024-06-07")}), "before")
}

func TestDate_JSONRoundTrip(t *testing.T) {
	in := struct {
		D calendar.Date `json:"d"`
	}{D: day("2024-02-29")}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2024-02-29"}`, string(data))

	var out struct {
		D calendar.Date `json:"d"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.D.Equal(out.D))
}

func TestDate_Scan(t *testing.T) {
	var d calendar.Date

	require.NoError(t, d.Scan("2024-06-10"))
	assert.Equal(t, "2024-06-10", d.String())

	require.NoError(t, d.Scan(time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-06-11", d.String())

	require.NoError(t, d.Scan([]byte("2024-06-12T00:00:00Z")))
	assert.Equal(t, "2024-06-12", d.String())

	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())

	assert.Error(t, d.Scan(42))
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := calendar.ParseDate("10/06/2024")
	assert.Error(t, err)
}
