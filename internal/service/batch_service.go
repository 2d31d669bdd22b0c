package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vidyalay/institute-ops-api/internal/models"
	"github.com/vidyalay/institute-ops-api/internal/repository"
	"github.com/vidyalay/institute-ops-api/pkg/calendar"
	appErrors "github.com/vidyalay/institute-ops-api/pkg/errors"
)

type batchRepository interface {
	ListCodes(ctx context.Context, prefix string) ([]string, error)
	Insert(ctx context.Context, batch *models.Batch) (*models.Batch, error)
	FindByID(ctx context.Context, id string) (*models.Batch, error)
	List(ctx context.Context, filter models.BatchFilter) ([]models.Batch, int, error)
	Update(ctx context.Context, batch *models.Batch) (*models.Batch, error)
}

// BatchServiceConfig tunes allocation behaviour.
type BatchServiceConfig struct {
	AllocationRetries int
}

// BatchService owns batch lifecycle reads and code allocation. The phase is
// derived from the window and the injected clock on every read; it has no
// setter anywhere.
type BatchService struct {
	repo      batchRepository
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
	cfg       BatchServiceConfig
}

// NewBatchService constructs the batch service.
func NewBatchService(repo batchRepository, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, now func() time.Time, cfg BatchServiceConfig) *BatchService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if cfg.AllocationRetries <= 0 {
		cfg.AllocationRetries = 3
	}
	return &BatchService{repo: repo, metrics: metrics, validator: validate, logger: logger, now: now, cfg: cfg}
}

// CreateBatchRequest describes the create payload. The code is never
// client-supplied; it is allocated from the track prefix.
type CreateBatchRequest struct {
	Name      string `json:"name" validate:"required"`
	Track     string `json:"track" validate:"required,alpha"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
	Capacity  int    `json:"capacity" validate:"omitempty,min=1"`
}

// UpdateBatchRequest describes window and metadata edits.
type UpdateBatchRequest struct {
	Name      *string `json:"name"`
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
	Capacity  *int    `json:"capacity" validate:"omitempty,min=1"`
}

// BatchTimeline summarises batches per derived phase for a track.
type BatchTimeline struct {
	Track     string `json:"track,omitempty"`
	Upcoming  int    `json:"upcoming"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
}

// Create allocates the next code for the track and stores the batch. A
// concurrent creator racing on the same prefix loses the insert to the
// unique index; the allocation is then repeated with a refreshed code set,
// up to the configured bound.
func (s *BatchService) Create(ctx context.Context, req CreateBatchRequest) (*models.BatchDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	start, end, err := parseWindow(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	track := strings.ToUpper(req.Track)
	var stored *models.Batch
	for attempt := 0; attempt < s.cfg.AllocationRetries; attempt++ {
		codes, err := s.repo.ListCodes(ctx, track)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batch codes")
		}
		batch := &models.Batch{
			Code:      models.NextBatchCode(track, codes),
			Name:      req.Name,
			Track:     track,
			StartDate: start,
			EndDate:   end,
			Capacity:  req.Capacity,
		}
		stored, err = s.repo.Insert(ctx, batch)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateCode) {
			s.metrics.RecordAllocationRetry()
			s.logger.Warn("batch code collision, retrying", zap.String("code", batch.Code), zap.Int("attempt", attempt+1))
			stored = nil
			continue
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create batch")
	}
	if stored == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "could not allocate a unique batch code")
	}
	return s.withPhase(*stored), nil
}

// Get loads one batch with its derived phase.
func (s *BatchService) Get(ctx context.Context, id string) (*models.BatchDetail, error) {
	batch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	return s.withPhase(*batch), nil
}

// List returns batches with derived phases. Phase filtering happens here, on
// the derived value, never in SQL: a stored phase would drift the moment the
// clock moved. A phase filter loads the full track-scoped set and paginates
// after filtering, so TotalCount counts matching batches only.
func (s *BatchService) List(ctx context.Context, filter models.BatchFilter) ([]models.BatchDetail, *models.Pagination, error) {
	if filter.Phase != nil && !filter.Phase.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid phase filter")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	if filter.Phase != nil {
		return s.listByPhase(ctx, filter)
	}
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batches")
	}
	details := make([]models.BatchDetail, 0, len(rows))
	for _, batch := range rows {
		details = append(details, *s.withPhase(batch))
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return details, pagination, nil
}

func (s *BatchService) listByPhase(ctx context.Context, filter models.BatchFilter) ([]models.BatchDetail, *models.Pagination, error) {
	const fetchSize = 200
	var matches []models.BatchDetail
	for page := 1; ; page++ {
		rows, total, err := s.repo.List(ctx, models.BatchFilter{
			Track:     filter.Track,
			SortBy:    filter.SortBy,
			SortOrder: filter.SortOrder,
			Page:      page,
			PageSize:  fetchSize,
		})
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batches")
		}
		for _, batch := range rows {
			detail := s.withPhase(batch)
			if detail.Phase == *filter.Phase {
				matches = append(matches, *detail)
			}
		}
		if len(rows) == 0 || page*fetchSize >= total {
			break
		}
	}
	total := len(matches)
	offset := (filter.Page - 1) * filter.PageSize
	if offset > total {
		offset = total
	}
	end := offset + filter.PageSize
	if end > total {
		end = total
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return matches[offset:end], pagination, nil
}

// Update edits a batch's name, window, or capacity. The response carries the
// phase re-derived from the new window.
func (s *BatchService) Update(ctx context.Context, id string, req UpdateBatchRequest) (*models.BatchDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	batch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	if req.Name != nil {
		batch.Name = *req.Name
	}
	if req.Capacity != nil {
		batch.Capacity = *req.Capacity
	}
	startRaw := batch.StartDate.Format("2006-01-02")
	endRaw := batch.EndDate.Format("2006-01-02")
	if req.StartDate != nil {
		startRaw = *req.StartDate
	}
	if req.EndDate != nil {
		endRaw = *req.EndDate
	}
	start, end, err := parseWindow(startRaw, endRaw)
	if err != nil {
		return nil, err
	}
	batch.StartDate = start
	batch.EndDate = end

	stored, err := s.repo.Update(ctx, batch)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update batch")
	}
	return s.withPhase(*stored), nil
}

// Timeline counts batches per derived phase, optionally scoped to a track.
func (s *BatchService) Timeline(ctx context.Context, track string) (*BatchTimeline, error) {
	rows, _, err := s.repo.List(ctx, models.BatchFilter{Track: track, PageSize: 200})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batches")
	}
	timeline := &BatchTimeline{Track: track}
	now := s.now()
	for _, batch := range rows {
		switch batch.Window().Phase(now) {
		case models.BatchPhaseUpcoming:
			timeline.Upcoming++
		case models.BatchPhaseActive:
			timeline.Active++
		case models.BatchPhaseCompleted:
			timeline.Completed++
		}
	}
	return timeline, nil
}

func (s *BatchService) withPhase(batch models.Batch) *models.BatchDetail {
	return &models.BatchDetail{Batch: batch, Phase: batch.Window().Phase(s.now())}
}

func parseWindow(startRaw, endRaw string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "invalid start date, expected YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "invalid end date, expected YYYY-MM-DD")
	}
	start = calendar.Truncate(start)
	end = calendar.Truncate(end)
	if end.Before(start) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "end date before start date")
	}
	return start, end, nil
}
