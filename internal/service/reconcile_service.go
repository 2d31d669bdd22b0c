package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vidyalay/institute-ops-api/internal/models"
	"github.com/vidyalay/institute-ops-api/internal/repository"
	appErrors "github.com/vidyalay/institute-ops-api/pkg/errors"
)

// ReconcileService merges externally-submitted exam results into owned
// pipeline records, matching by email or phone. Every submission runs to an
// outcome; a batch never aborts part-way because one item did not apply.
type ReconcileService struct {
	repo      enquiryRepository
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewReconcileService constructs the reconciler.
func NewReconcileService(repo enquiryRepository, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, now func() time.Time) *ReconcileService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &ReconcileService{repo: repo, metrics: metrics, validator: validate, logger: logger, now: now}
}

// SubmitResultRequest is one incoming submission. SourceRef is the caller's
// idempotency key for the submission; repeating it is a no-op reported as a
// duplicate outcome.
type SubmitResultRequest struct {
	SourceRef string  `json:"source_ref" validate:"required"`
	ExamLabel string  `json:"exam_label" validate:"required"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Phone     *string `json:"phone"`
	Score     float64 `json:"score" validate:"min=0"`
}

// MergeBatchResult reports the per-item outcomes for one batch.
type MergeBatchResult struct {
	Processed int                   `json:"processed"`
	Outcomes  []models.MergeOutcome `json:"outcomes"`
}

// MergeResults reconciles a batch of submissions. Results with no matching
// enquiry are skipped, terminal records drop entrance-kind results, and a
// repeated source_ref never appends a second history line.
func (s *ReconcileService) MergeResults(ctx context.Context, reqs []SubmitResultRequest) (*MergeBatchResult, error) {
	if len(reqs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one result required")
	}
	batch := &MergeBatchResult{Processed: len(reqs)}
	for _, req := range reqs {
		outcomes := s.mergeOne(ctx, req)
		batch.Outcomes = append(batch.Outcomes, outcomes...)
	}
	return batch, nil
}

func (s *ReconcileService) mergeOne(ctx context.Context, req SubmitResultRequest) []models.MergeOutcome {
	kind := models.ClassifyExamLabel(req.ExamLabel)
	if err := s.validator.Struct(req); err != nil {
		return []models.MergeOutcome{{
			SourceRef: req.SourceRef,
			ExamKind:  kind,
			Status:    models.MergeConflict,
			Reason:    "invalid submission payload",
		}}
	}

	matches, err := s.repo.FindByMatchKeys(ctx, req.Email, req.Phone)
	if err != nil {
		s.logger.Error("match lookup failed", zap.String("source_ref", req.SourceRef), zap.Error(err))
		return []models.MergeOutcome{{
			SourceRef: req.SourceRef,
			ExamKind:  kind,
			Status:    models.MergeConflict,
			Reason:    "storage error during match",
		}}
	}
	if len(matches) == 0 {
		outcome := models.MergeOutcome{SourceRef: req.SourceRef, ExamKind: kind, Status: models.MergeSkippedNoMatch}
		s.metrics.RecordMergeOutcome(outcome.Status)
		return []models.MergeOutcome{outcome}
	}

	outcomes := make([]models.MergeOutcome, 0, len(matches))
	for i := range matches {
		outcome := s.applyToEnquiry(ctx, &matches[i], req, kind)
		s.metrics.RecordMergeOutcome(outcome.Status)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (s *ReconcileService) applyToEnquiry(ctx context.Context, enquiry *models.Enquiry, req SubmitResultRequest, kind models.ExamKind) models.MergeOutcome {
	outcome := models.MergeOutcome{SourceRef: req.SourceRef, EnquiryID: enquiry.ID, ExamKind: kind}

	// One CAS retry with a fresh read; after that the item reports a conflict.
	for attempt := 0; attempt < 2; attempt++ {
		action := mergeAction(kind, req.SourceRef, req.Score)
		if enquiry.HasHistoryAction(action) {
			outcome.Status = models.MergeDuplicate
			outcome.Reason = "source_ref already merged"
			return outcome
		}
		event := models.PipelineEvent{
			Action:    action,
			FinalExam: kind == models.ExamKindFinal,
			Timestamp: s.now().UTC(),
		}
		before := len(enquiry.History)
		if !enquiry.Apply(event) {
			outcome.Status = models.MergeBlockedTerminal
			outcome.Reason = fmt.Sprintf("record is %s", enquiry.Stage)
			return outcome
		}
		if kind == models.ExamKindFinal {
			score := req.Score
			enquiry.FinalScore = &score
		} else {
			score := req.Score
			enquiry.EntranceScore = &score
		}

		err := s.repo.SaveTransition(ctx, enquiry, enquiry.History[before:])
		if err == nil {
			outcome.Status = models.MergeApplied
			return outcome
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			s.logger.Error("merge save failed", zap.String("enquiry_id", enquiry.ID), zap.Error(err))
			outcome.Status = models.MergeConflict
			outcome.Reason = "storage error during save"
			return outcome
		}
		fresh, loadErr := s.repo.FindByID(ctx, enquiry.ID)
		if loadErr != nil {
			outcome.Status = models.MergeConflict
			outcome.Reason = "concurrent update, reload failed"
			return outcome
		}
		*enquiry = *fresh
	}
	outcome.Status = models.MergeConflict
	outcome.Reason = "concurrent update, retries exhausted"
	return outcome
}

// mergeAction renders the deduplicatable history line for a merge. The
// source_ref inside the text is what makes a repeated submission detectable.
func mergeAction(kind models.ExamKind, sourceRef string, score float64) string {
	label := "entrance"
	if kind == models.ExamKindFinal {
		label = "final"
	}
	return fmt.Sprintf("%s exam result merged (ref=%s, score=%.1f)", label, sourceRef, score)
}
