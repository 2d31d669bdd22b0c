package models

import (
	"strings"
	"time"
)

// Stage is an enquiry's pipeline stage. The set is non-linear: callers drive
// transitions between any non-terminal stages. Free-form input maps through
// ParseStage so unknown values survive as StageUnknown instead of corrupting
// the record.
type Stage string

const (
	StageNewEnquiry       Stage = "NEW_ENQUIRY"
	StageHRCalled         Stage = "HR_CALLED"
	StageVisited          Stage = "VISITED"
	StageExamWritten      Stage = "EXAM_WRITTEN"
	StagePendingFinalExam Stage = "PENDING_FINAL_EXAM"
	StageFinalExamWritten Stage = "FINAL_EXAM_WRITTEN"
	StageHoldForNextBatch Stage = "HOLD_FOR_NEXT_BATCH"
	StageAdmitted         Stage = "ADMITTED"
	StageRejected         Stage = "REJECTED"
	StageUnknown          Stage = "UNKNOWN"
)

var stageNames = map[string]Stage{
	"NEW_ENQUIRY":         StageNewEnquiry,
	"HR_CALLED":           StageHRCalled,
	"VISITED":             StageVisited,
	"EXAM_WRITTEN":        StageExamWritten,
	"PENDING_FINAL_EXAM":  StagePendingFinalExam,
	"FINAL_EXAM_WRITTEN":  StageFinalExamWritten,
	"HOLD_FOR_NEXT_BATCH": StageHoldForNextBatch,
	"ADMITTED":            StageAdmitted,
	"REJECTED":            StageRejected,
}

// ParseStage maps free-form stage input to the closed stage set, falling back
// to StageUnknown.
func ParseStage(raw string) Stage {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	if stage, ok := stageNames[normalized]; ok {
		return stage
	}
	return StageUnknown
}

// Valid returns true for a named stage, excluding the unknown fallback.
func (s Stage) Valid() bool {
	_, ok := stageNames[string(s)]
	return ok
}

// Terminal reports whether the stage locks the record. Once terminal, only
// final-exam events may still touch it.
func (s Stage) Terminal() bool {
	return s == StageAdmitted || s == StageRejected
}

// FinalExam reports whether the stage belongs to the final-exam flow. The
// final exam runs after admission, so events targeting these stages must
// pass the terminal-state guard.
func (s Stage) FinalExam() bool {
	return s == StagePendingFinalExam || s == StageFinalExamWritten
}

// ExamKind distinguishes the two exam events the pipeline understands.
type ExamKind string

const (
	ExamKindEntrance ExamKind = "ENTRANCE"
	ExamKindFinal    ExamKind = "FINAL"
)

// ClassifyExamLabel maps a free-text exam label to its kind. Labels that
// mention the final round or admission are final-kind; everything else is
// treated as an entrance test.
func ClassifyExamLabel(label string) ExamKind {
	lower := strings.ToLower(label)
	if strings.Contains(lower, "final") || strings.Contains(lower, "admission") {
		return ExamKindFinal
	}
	return ExamKindEntrance
}

// HistoryEntry is one immutable line of an enquiry's audit trail.
type HistoryEntry struct {
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Action    string    `db:"action" json:"action"`
}

// Enquiry is a pipeline record for one lead.
type Enquiry struct {
	ID            string         `db:"id" json:"id"`
	Name          string         `db:"name" json:"name"`
	Email         *string        `db:"email" json:"email,omitempty"`
	Phone         *string        `db:"phone" json:"phone,omitempty"`
	Stage         Stage          `db:"stage" json:"stage"`
	History       []HistoryEntry `json:"history"`
	EntranceScore *float64       `db:"entrance_score" json:"entrance_score,omitempty"`
	FinalScore    *float64       `db:"final_score" json:"final_score,omitempty"`
	Version       int            `db:"version" json:"version"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// PipelineEvent is one externally-driven transition request.
type PipelineEvent struct {
	Stage     Stage
	Action    string
	FinalExam bool
	Timestamp time.Time
}

// Apply runs one event through the state machine. A terminal record drops
// every event that is not final-exam kind: stage, scores, and history are
// left untouched and false is returned. An accepted event sets the stage and
// appends exactly one history entry.
func (e *Enquiry) Apply(event PipelineEvent) bool {
	if e.Stage.Terminal() && !event.FinalExam {
		return false
	}
	if event.Stage != "" {
		e.Stage = event.Stage
	}
	e.History = append(e.History, HistoryEntry{Timestamp: event.Timestamp, Action: event.Action})
	return true
}

// HasHistoryAction reports whether an entry with the exact action text
// already exists. Used for idempotent merges keyed on the action payload.
func (e *Enquiry) HasHistoryAction(action string) bool {
	for _, entry := range e.History {
		if entry.Action == action {
			return true
		}
	}
	return false
}

// EnquiryFilter scopes enquiry listing queries.
type EnquiryFilter struct {
	Stage     *Stage
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
