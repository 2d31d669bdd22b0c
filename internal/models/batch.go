package models

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/vidyalay/institute-ops-api/pkg/calendar"
)

// BatchPhase is the derived lifecycle label for a dated program. It is never
// stored as ground truth; any persisted phase column is a cache overwritten on
// every read.
type BatchPhase string

const (
	BatchPhaseUpcoming  BatchPhase = "UPCOMING"
	BatchPhaseActive    BatchPhase = "ACTIVE"
	BatchPhaseCompleted BatchPhase = "COMPLETED"
)

// Valid returns true when the phase is a supported value.
func (p BatchPhase) Valid() bool {
	switch p {
	case BatchPhaseUpcoming, BatchPhaseActive, BatchPhaseCompleted:
		return true
	default:
		return false
	}
}

// LifecycleWindow is the start/end date pair owned by a dated program entity.
type LifecycleWindow struct {
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
}

// Phase derives the lifecycle phase at the given instant. Dates are compared
// at day granularity with the end date inclusive through its last instant.
func (w LifecycleWindow) Phase(now time.Time) BatchPhase {
	today := calendar.Truncate(now)
	if today.Before(calendar.Truncate(w.StartDate)) {
		return BatchPhaseUpcoming
	}
	if today.After(calendar.Truncate(w.EndDate)) {
		return BatchPhaseCompleted
	}
	return BatchPhaseActive
}

// Batch models a course batch.
type Batch struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Track     string    `db:"track" json:"track"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	Capacity  int       `db:"capacity" json:"capacity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Window returns the batch's lifecycle window.
func (b Batch) Window() LifecycleWindow {
	return LifecycleWindow{StartDate: b.StartDate, EndDate: b.EndDate}
}

// BatchDetail is the read model returned by the API. Phase is populated by
// the service from the window and the injected clock.
type BatchDetail struct {
	Batch
	Phase BatchPhase `json:"phase"`
}

// BatchFilter scopes batch listing queries. Phase filtering happens in the
// service because phase is not a stored column.
type BatchFilter struct {
	Track     string
	Phase     *BatchPhase
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

var batchCodePattern = regexp.MustCompile(`^(.+?)B(\d+)$`)

// NextBatchCode allocates the next sequential code for a track prefix,
// rendered as prefix + "B" + sequence. Existing codes that do not match the
// pattern, or that belong to a different prefix, are skipped. Sequence
// numbers are never reused: the result is always max(existing)+1, or
// prefix+"B1" when no code matches.
func NextBatchCode(prefix string, existing []string) string {
	max := 0
	for _, code := range existing {
		m := batchCodePattern.FindStringSubmatch(code)
		if m == nil || m[1] != prefix {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%sB%d", prefix, max+1)
}
