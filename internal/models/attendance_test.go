package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestClassifyPresentOnTime(t *testing.T) {
	rec := AttendanceRecord{RawStatus: RawStatusPresent, CheckIn: strPtr("09:00")}
	day := Classify(rec, "09:15")
	assert.Equal(t, DayStatusPresent, day.Status)
}

func TestClassifyLateByCheckIn(t *testing.T) {
	rec := AttendanceRecord{RawStatus: RawStatusPresent, CheckIn: strPtr("09:16")}
	day := Classify(rec, "09:15")
	assert.Equal(t, DayStatusLate, day.Status)
}

func TestClassifyCutoffIsInclusive(t *testing.T) {
	// Exactly at the cutoff is on time; only strictly after is late.
	rec := AttendanceRecord{RawStatus: RawStatusPresent, CheckIn: strPtr("09:15")}
	day := Classify(rec, "09:15")
	assert.Equal(t, DayStatusPresent, day.Status)
}

func TestClassifyNoteOverridesTime(t *testing.T) {
	rec := AttendanceRecord{
		RawStatus: RawStatusPresent,
		CheckIn:   strPtr("09:00"),
		Notes:     strPtr("arrived LATE from the clinic"),
	}
	day := Classify(rec, "09:15")
	assert.Equal(t, DayStatusLate, day.Status)
}

func TestClassifyMalformedCheckInFailsOpen(t *testing.T) {
	for _, raw := range []string{"soon", "25:99", ""} {
		rec := AttendanceRecord{RawStatus: RawStatusPresent, CheckIn: strPtr(raw)}
		day := Classify(rec, "09:15")
		assert.Equal(t, DayStatusPresent, day.Status, "check-in %q", raw)
	}
}

func TestClassifyLeaveAndAbsentPassThrough(t *testing.T) {
	assert.Equal(t, DayStatusLeave, Classify(AttendanceRecord{RawStatus: RawStatusOnLeave}, "09:15").Status)
	assert.Equal(t, DayStatusAbsent, Classify(AttendanceRecord{RawStatus: RawStatusAbsent}, "09:15").Status)
}

func TestClassifyUnknownRawStatus(t *testing.T) {
	day := Classify(AttendanceRecord{RawStatus: "LURKING"}, "09:15")
	assert.Equal(t, DayStatusUnmarked, day.Status)
}

func TestClassifyCarriesFields(t *testing.T) {
	date := time.Date(2026, 4, 7, 0, 0, 0, 0, time.UTC)
	rec := AttendanceRecord{
		Date:      date,
		RawStatus: RawStatusPresent,
		CheckIn:   strPtr("08:55"),
		CheckOut:  strPtr("17:30"),
		Notes:     strPtr("half day"),
	}
	day := Classify(rec, "09:15")
	assert.Equal(t, date, day.Date)
	assert.Equal(t, "08:55", *day.CheckIn)
	assert.Equal(t, "17:30", *day.CheckOut)
	assert.Equal(t, "half day", *day.Notes)
}

func TestAggregateEmptyPeriod(t *testing.T) {
	stats := Aggregate(nil, 0)
	assert.Equal(t, PeriodStats{}, stats)
	assert.Equal(t, 0.0, stats.Percentage)
}

func TestAggregateLateCountsAsAttended(t *testing.T) {
	days := []ClassifiedDay{
		{Status: DayStatusPresent},
		{Status: DayStatusLate},
		{Status: DayStatusAbsent},
		{Status: DayStatusAbsent},
	}
	stats := Aggregate(days, 0)
	assert.Equal(t, 1, stats.Present)
	assert.Equal(t, 1, stats.Late)
	assert.Equal(t, 2, stats.Absent)
	assert.Equal(t, 4, stats.Marked)
	assert.Equal(t, 50.0, stats.Percentage)
}

func TestAggregateMonthScenario(t *testing.T) {
	// 20 marked weekdays: 18 present, 2 absent; the month has 4 Sundays.
	var days []ClassifiedDay
	for i := 0; i < 18; i++ {
		days = append(days, ClassifiedDay{Status: DayStatusPresent})
	}
	days = append(days, ClassifiedDay{Status: DayStatusAbsent}, ClassifiedDay{Status: DayStatusAbsent})

	stats := Aggregate(days, 4)
	assert.Equal(t, 18, stats.Present)
	assert.Equal(t, 2, stats.Absent)
	assert.Equal(t, 0, stats.Leave)
	assert.Equal(t, 4, stats.Holidays)
	assert.Equal(t, 20, stats.Marked)
	assert.Equal(t, 90.0, stats.Percentage)
}

func TestAggregateHolidaysNotInDenominator(t *testing.T) {
	days := []ClassifiedDay{{Status: DayStatusPresent}}
	stats := Aggregate(days, 10)
	assert.Equal(t, 1, stats.Marked)
	assert.Equal(t, 100.0, stats.Percentage)
	assert.Equal(t, 10, stats.Holidays)
}

func TestAggregateRoundsToOneDecimal(t *testing.T) {
	days := []ClassifiedDay{
		{Status: DayStatusPresent},
		{Status: DayStatusPresent},
		{Status: DayStatusAbsent},
	}
	// 2/3 = 66.666... -> 66.7
	stats := Aggregate(days, 0)
	assert.Equal(t, 66.7, stats.Percentage)
}

func TestAggregateUnmarkedExcluded(t *testing.T) {
	days := []ClassifiedDay{
		{Status: DayStatusPresent},
		{Status: DayStatusUnmarked},
	}
	stats := Aggregate(days, 0)
	assert.Equal(t, 1, stats.Marked)
	assert.Equal(t, 100.0, stats.Percentage)
}
