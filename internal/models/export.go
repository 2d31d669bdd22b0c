package models

import "time"

// ExportKind enumerates supported export categories.
type ExportKind string

const (
	ExportKindAttendanceSheet ExportKind = "attendance_sheet"
	ExportKindBatchRoster     ExportKind = "batch_roster"
)

// ExportFormat enumerates supported export formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// Valid returns true when the format is supported.
func (f ExportFormat) Valid() bool {
	return f == ExportFormatCSV || f == ExportFormatPDF
}

// ExportStatus captures background export lifecycle states.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// ExportJob tracks one asynchronous export request.
type ExportJob struct {
	ID           string       `json:"id"`
	Kind         ExportKind   `json:"kind"`
	Format       ExportFormat `json:"format"`
	Params       ExportParams `json:"params"`
	Status       ExportStatus `json:"status"`
	ResultURL    *string      `json:"result_url,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
}

// ExportParams scopes what an export covers.
type ExportParams struct {
	SubjectID   string      `json:"subject_id,omitempty"`
	SubjectKind SubjectKind `json:"subject_kind,omitempty"`
	Year        int         `json:"year,omitempty"`
	Month       int         `json:"month,omitempty"`
	Track       string      `json:"track,omitempty"`
}
