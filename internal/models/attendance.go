package models

import (
	"math"
	"strings"
	"time"
)

// SubjectKind identifies which population an attendance record belongs to.
type SubjectKind string

const (
	SubjectKindStudent SubjectKind = "STUDENT"
	SubjectKindStaff   SubjectKind = "STAFF"
)

// Valid returns true when the kind is a supported value.
func (k SubjectKind) Valid() bool {
	return k == SubjectKindStudent || k == SubjectKindStaff
}

// RawAttendanceStatus is the status as marked at the desk, before classification.
type RawAttendanceStatus string

const (
	RawStatusPresent RawAttendanceStatus = "PRESENT"
	RawStatusAbsent  RawAttendanceStatus = "ABSENT"
	RawStatusOnLeave RawAttendanceStatus = "ON_LEAVE"
)

// Valid returns true when the raw status is a supported value.
func (s RawAttendanceStatus) Valid() bool {
	switch s {
	case RawStatusPresent, RawStatusAbsent, RawStatusOnLeave:
		return true
	default:
		return false
	}
}

// DayStatus is the derived per-day status. It is never persisted; it is
// recomputed from the raw record so classification rules can change
// retroactively without touching stored rows.
type DayStatus string

const (
	DayStatusPresent  DayStatus = "PRESENT"
	DayStatusLate     DayStatus = "LATE"
	DayStatusAbsent   DayStatus = "ABSENT"
	DayStatusLeave    DayStatus = "LEAVE"
	DayStatusUnmarked DayStatus = "UNMARKED"
)

// AttendanceRecord is a single raw attendance row, unique per
// (subject_id, subject_kind, date).
type AttendanceRecord struct {
	ID          string              `db:"id" json:"id"`
	SubjectID   string              `db:"subject_id" json:"subject_id"`
	SubjectKind SubjectKind         `db:"subject_kind" json:"subject_kind"`
	Date        time.Time           `db:"date" json:"date"`
	CheckIn     *string             `db:"check_in" json:"check_in,omitempty"`
	CheckOut    *string             `db:"check_out" json:"check_out,omitempty"`
	RawStatus   RawAttendanceStatus `db:"raw_status" json:"raw_status"`
	Notes       *string             `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time           `db:"updated_at" json:"updated_at"`
}

// ClassifiedDay is a derived view of one subject-date.
type ClassifiedDay struct {
	Date     time.Time `json:"date"`
	Status   DayStatus `json:"status"`
	CheckIn  *string   `json:"check_in,omitempty"`
	CheckOut *string   `json:"check_out,omitempty"`
	Notes    *string   `json:"notes,omitempty"`
}

// Classify derives the day status for one raw record. Leave and absent pass
// through; a present record turns late when the notes mention lateness or the
// check-in time is strictly after the cutoff. A malformed check-in string is
// treated as on time.
func Classify(rec AttendanceRecord, lateCutoff string) ClassifiedDay {
	day := ClassifiedDay{
		Date:     rec.Date,
		CheckIn:  rec.CheckIn,
		CheckOut: rec.CheckOut,
		Notes:    rec.Notes,
	}
	switch rec.RawStatus {
	case RawStatusOnLeave:
		day.Status = DayStatusLeave
	case RawStatusAbsent:
		day.Status = DayStatusAbsent
	case RawStatusPresent:
		day.Status = DayStatusPresent
		if noteSaysLate(rec.Notes) || checkInAfter(rec.CheckIn, lateCutoff) {
			day.Status = DayStatusLate
		}
	default:
		day.Status = DayStatusUnmarked
	}
	return day
}

func noteSaysLate(notes *string) bool {
	if notes == nil {
		return false
	}
	return strings.Contains(strings.ToLower(*notes), "late")
}

func checkInAfter(checkIn *string, cutoff string) bool {
	if checkIn == nil {
		return false
	}
	in, err := parseClock(*checkIn)
	if err != nil {
		return false
	}
	limit, err := parseClock(cutoff)
	if err != nil {
		return false
	}
	return in.After(limit)
}

func parseClock(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	t, err := time.Parse("15:04", raw)
	if err != nil {
		t, err = time.Parse("15:04:05", raw)
	}
	return t, err
}

// PeriodStats aggregates a subject's classified days over a period.
// Holidays are informational and never part of the percentage denominator.
type PeriodStats struct {
	Present    int     `json:"present"`
	Late       int     `json:"late"`
	Absent     int     `json:"absent"`
	Leave      int     `json:"leave"`
	Holidays   int     `json:"holidays"`
	Marked     int     `json:"marked"`
	Percentage float64 `json:"percentage"`
}

// Aggregate folds classified days into period stats. Late days count as
// attended. Zero marked days yields a zero percentage, not an error.
func Aggregate(days []ClassifiedDay, holidays int) PeriodStats {
	stats := PeriodStats{Holidays: holidays}
	for _, day := range days {
		switch day.Status {
		case DayStatusPresent:
			stats.Present++
		case DayStatusLate:
			stats.Late++
		case DayStatusAbsent:
			stats.Absent++
		case DayStatusLeave:
			stats.Leave++
		}
	}
	stats.Marked = stats.Present + stats.Late + stats.Absent + stats.Leave
	if stats.Marked > 0 {
		attended := float64(stats.Present + stats.Late)
		stats.Percentage = roundTo1(attended / float64(stats.Marked) * 100)
	}
	return stats
}

func roundTo1(v float64) float64 {
	return math.Round(v*10) / 10
}

// AttendanceFilter scopes attendance listing queries.
type AttendanceFilter struct {
	SubjectID   string
	SubjectKind SubjectKind
	RawStatus   *RawAttendanceStatus
	DateFrom    *time.Time
	DateTo      *time.Time
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}

// AttendanceBulkConflict captures a failed item in a bulk mark.
type AttendanceBulkConflict struct {
	SubjectID string    `json:"subject_id"`
	Date      time.Time `json:"date"`
	Reason    string    `json:"reason"`
}
