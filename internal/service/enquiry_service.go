package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vidyalay/institute-ops-api/internal/models"
	"github.com/vidyalay/institute-ops-api/internal/repository"
	appErrors "github.com/vidyalay/institute-ops-api/pkg/errors"
)

type enquiryRepository interface {
	Create(ctx context.Context, enquiry *models.Enquiry) (*models.Enquiry, error)
	FindByID(ctx context.Context, id string) (*models.Enquiry, error)
	FindByMatchKeys(ctx context.Context, email, phone *string) ([]models.Enquiry, error)
	List(ctx context.Context, filter models.EnquiryFilter) ([]models.Enquiry, int, error)
	SaveTransition(ctx context.Context, enquiry *models.Enquiry, newEntries []models.HistoryEntry) error
}

// EnquiryServiceConfig carries pipeline display constants.
type EnquiryServiceConfig struct {
	PassMark float64
}

// EnquiryService drives the lead pipeline. Transitions are caller-supplied
// and deliberately unvalidated between non-terminal stages; the machine only
// guards terminal records and guarantees one history line per transition.
type EnquiryService struct {
	repo      enquiryRepository
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
	cfg       EnquiryServiceConfig
}

// NewEnquiryService constructs the enquiry service.
func NewEnquiryService(repo enquiryRepository, validate *validator.Validate, logger *zap.Logger, now func() time.Time, cfg EnquiryServiceConfig) *EnquiryService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &EnquiryService{repo: repo, validator: validate, logger: logger, now: now, cfg: cfg}
}

// CreateEnquiryRequest describes the intake payload. At least one match key
// must be present so externally-submitted results can find the record later.
type CreateEnquiryRequest struct {
	Name  string  `json:"name" validate:"required"`
	Email *string `json:"email" validate:"omitempty,email"`
	Phone *string `json:"phone"`
}

// TransitionRequest describes a caller-driven stage change.
type TransitionRequest struct {
	Stage  string `json:"stage" validate:"required"`
	Action string `json:"action"`
}

// TransitionResult reports whether the event was applied or dropped by the
// terminal-state guard. A dropped event is not an error: the caller needs to
// tell "nothing to do" apart from "failed".
type TransitionResult struct {
	Applied bool            `json:"applied"`
	Reason  string          `json:"reason,omitempty"`
	Enquiry *models.Enquiry `json:"enquiry"`
}

// EnquiryDetail is the read model, carrying the informational pass mark for
// score display. Pass/fail is never computed here.
type EnquiryDetail struct {
	models.Enquiry
	PassMark float64 `json:"pass_mark"`
}

// Create opens a new pipeline record at the first stage with its opening
// history line.
func (s *EnquiryService) Create(ctx context.Context, req CreateEnquiryRequest) (*models.Enquiry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if (req.Email == nil || *req.Email == "") && (req.Phone == nil || *req.Phone == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "email or phone required")
	}
	enquiry := &models.Enquiry{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
		Stage: models.StageNewEnquiry,
		History: []models.HistoryEntry{
			{Timestamp: s.now().UTC(), Action: "enquiry created"},
		},
	}
	stored, err := s.repo.Create(ctx, enquiry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enquiry")
	}
	return stored, nil
}

// Get loads one enquiry with its history.
func (s *EnquiryService) Get(ctx context.Context, id string) (*EnquiryDetail, error) {
	enquiry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enquiry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enquiry")
	}
	return &EnquiryDetail{Enquiry: *enquiry, PassMark: s.cfg.PassMark}, nil
}

// List returns enquiries matching the filter.
func (s *EnquiryService) List(ctx context.Context, filter models.EnquiryFilter) ([]models.Enquiry, *models.Pagination, error) {
	if filter.Stage != nil && !filter.Stage.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid stage filter")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enquiries")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return rows, pagination, nil
}

// Transition applies one caller-driven stage change. Any named stage is a
// legal target from a non-terminal record; a terminal record drops the event
// and reports it in the result instead of failing, unless the target is a
// final-exam stage, which passes the terminal guard.
func (s *EnquiryService) Transition(ctx context.Context, id string, req TransitionRequest) (*TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	stage := models.ParseStage(req.Stage)
	if stage == models.StageUnknown {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown stage %q", req.Stage))
	}

	enquiry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enquiry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enquiry")
	}

	action := req.Action
	if action == "" {
		action = fmt.Sprintf("stage changed to %s", stage)
	}
	event := models.PipelineEvent{
		Stage:     stage,
		Action:    action,
		FinalExam: stage.FinalExam(),
		Timestamp: s.now().UTC(),
	}
	before := len(enquiry.History)
	if !enquiry.Apply(event) {
		return &TransitionResult{Applied: false, Reason: "record is terminal", Enquiry: enquiry}, nil
	}
	if err := s.repo.SaveTransition(ctx, enquiry, enquiry.History[before:]); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "enquiry was modified concurrently, retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save transition")
	}
	return &TransitionResult{Applied: true, Enquiry: enquiry}, nil
}
