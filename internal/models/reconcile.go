package models

// IncomingResult is an externally-submitted exam score awaiting
// reconciliation into an enquiry. SourceRef is the caller-supplied
// idempotency key for the submission.
type IncomingResult struct {
	SourceRef string  `json:"source_ref"`
	ExamLabel string  `json:"exam_label"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Score     float64 `json:"score"`
}

// MergeStatus classifies the outcome of reconciling one incoming result.
type MergeStatus string

const (
	MergeApplied         MergeStatus = "APPLIED"
	MergeDuplicate       MergeStatus = "DUPLICATE"
	MergeBlockedTerminal MergeStatus = "BLOCKED_TERMINAL"
	MergeSkippedNoMatch  MergeStatus = "SKIPPED_NO_MATCH"
	MergeConflict        MergeStatus = "CONFLICT"
)

// MergeOutcome reports what happened to one incoming result. Outcomes are
// values, not errors: a batch of results always runs to completion and the
// caller inspects each item.
type MergeOutcome struct {
	SourceRef string      `json:"source_ref"`
	EnquiryID string      `json:"enquiry_id,omitempty"`
	ExamKind  ExamKind    `json:"exam_kind"`
	Status    MergeStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
}
