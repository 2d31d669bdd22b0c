package calendar

import "time"

// Truncate drops the time-of-day portion, keeping the calendar day in UTC.
func Truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last representable instant of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
}

// MonthBounds returns the first and last day of the given month.
func MonthBounds(year int, month time.Month) (time.Time, time.Time) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first, last
}

// IsHoliday reports whether the day is a non-working day. The institute
// currently observes Sundays only.
func IsHoliday(t time.Time) bool {
	return t.Weekday() == time.Sunday
}

// SundaysIn counts Sundays between from and to, both inclusive.
func SundaysIn(from, to time.Time) int {
	from = Truncate(from)
	to = Truncate(to)
	if to.Before(from) {
		return 0
	}
	count := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Sunday {
			count++
		}
	}
	return count
}

// DaysIn returns every calendar day between from and to, both inclusive.
func DaysIn(from, to time.Time) []time.Time {
	from = Truncate(from)
	to = Truncate(to)
	if to.Before(from) {
		return nil
	}
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
