package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vidyalay/institute-ops-api/internal/models"
	"github.com/vidyalay/institute-ops-api/pkg/calendar"
	appErrors "github.com/vidyalay/institute-ops-api/pkg/errors"
)

type attendanceRepository interface {
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error)
	GetRange(ctx context.Context, subjectID string, kind models.SubjectKind, from, to time.Time) ([]models.AttendanceRecord, error)
	GetAll(ctx context.Context, subjectID string, kind models.SubjectKind) ([]models.AttendanceRecord, error)
	GetByDate(ctx context.Context, kind models.SubjectKind, date time.Time) ([]models.AttendanceRecord, error)
	Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	BulkInsert(ctx context.Context, records []models.AttendanceRecord, atomic bool) ([]models.AttendanceRecord, error)
}

// AttendanceServiceConfig carries classification constants.
type AttendanceServiceConfig struct {
	LateCutoff string
	CacheTTL   time.Duration
}

// AttendanceService derives classified days and period statistics from raw
// attendance records. All derivation is recomputed on read; nothing derived
// is ever persisted.
type AttendanceService struct {
	repo      attendanceRepository
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
	cfg       AttendanceServiceConfig
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(repo attendanceRepository, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, now func() time.Time, cfg AttendanceServiceConfig) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if cfg.LateCutoff == "" {
		cfg.LateCutoff = "09:15"
	}
	svc := &AttendanceService{repo: repo, cache: cache, metrics: metrics, validator: validate, logger: logger, now: now, cfg: cfg}
	svc.validator.RegisterValidation("raw_status", func(fl validator.FieldLevel) bool {
		return models.RawAttendanceStatus(strings.ToUpper(fl.Field().String())).Valid()
	})
	svc.validator.RegisterValidation("subject_kind", func(fl validator.FieldLevel) bool {
		return models.SubjectKind(strings.ToUpper(fl.Field().String())).Valid()
	})
	svc.validator.RegisterValidation("bulk_mode", func(fl validator.FieldLevel) bool {
		mode := fl.Field().String()
		return mode == "atomic" || mode == "partialOnError"
	})
	return svc
}

// MarkAttendanceRequest describes payload for marking a single day.
type MarkAttendanceRequest struct {
	SubjectID   string  `json:"subject_id" validate:"required"`
	SubjectKind string  `json:"subject_kind" validate:"required,subject_kind"`
	Date        string  `json:"date" validate:"required"`
	Status      string  `json:"status" validate:"required,raw_status"`
	CheckIn     *string `json:"check_in"`
	CheckOut    *string `json:"check_out"`
	Notes       *string `json:"notes"`
}

// BulkMarkItem holds one entry of a bulk mark.
type BulkMarkItem struct {
	SubjectID string  `json:"subject_id" validate:"required"`
	Status    string  `json:"status" validate:"required,raw_status"`
	CheckIn   *string `json:"check_in"`
	Notes     *string `json:"notes"`
}

// BulkMarkRequest describes the bulk mark payload.
type BulkMarkRequest struct {
	SubjectKind string         `json:"subject_kind" validate:"required,subject_kind"`
	Date        string         `json:"date" validate:"required"`
	Items       []BulkMarkItem `json:"items" validate:"required,min=1,dive"`
	Mode        string         `json:"mode" validate:"required,bulk_mode"`
}

// BulkMarkResult summarises bulk execution.
type BulkMarkResult struct {
	Processed int                             `json:"processed"`
	Success   int                             `json:"success"`
	Conflicts []models.AttendanceBulkConflict `json:"conflicts,omitempty"`
}

// MonthlyReport is the derived month view for one subject: the classified
// per-day rows plus rolled-up stats.
type MonthlyReport struct {
	SubjectID   string                 `json:"subject_id"`
	SubjectKind models.SubjectKind     `json:"subject_kind"`
	Year        int                    `json:"year"`
	Month       time.Month             `json:"month"`
	Days        []models.ClassifiedDay `json:"days"`
	Stats       models.PeriodStats     `json:"stats"`
}

// Mark upserts one raw attendance record. A second mark for the same
// subject-date overwrites the first; there is never more than one row per day.
func (s *AttendanceService) Mark(ctx context.Context, req MarkAttendanceRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	record := &models.AttendanceRecord{
		SubjectID:   req.SubjectID,
		SubjectKind: models.SubjectKind(strings.ToUpper(req.SubjectKind)),
		Date:        calendar.Truncate(date),
		CheckIn:     req.CheckIn,
		CheckOut:    req.CheckOut,
		RawStatus:   models.RawAttendanceStatus(strings.ToUpper(req.Status)),
		Notes:       req.Notes,
	}
	stored, err := s.repo.Upsert(ctx, record)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark attendance")
	}
	s.invalidateStats(ctx, stored.SubjectID, stored.SubjectKind)
	return stored, nil
}

// BulkMark records attendance for multiple subjects on one day. In partial
// mode duplicates are reported per item instead of aborting the batch.
func (s *AttendanceService) BulkMark(ctx context.Context, req BulkMarkRequest) (*BulkMarkResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	kind := models.SubjectKind(strings.ToUpper(req.SubjectKind))
	seen := map[string]struct{}{}
	records := make([]models.AttendanceRecord, len(req.Items))
	for i, item := range req.Items {
		key := fmt.Sprintf("%s|%s", item.SubjectID, req.Date)
		if _, ok := seen[key]; ok {
			return nil, appErrors.Clone(appErrors.ErrConflict, "duplicate subject in payload")
		}
		seen[key] = struct{}{}
		records[i] = models.AttendanceRecord{
			SubjectID:   item.SubjectID,
			SubjectKind: kind,
			Date:        calendar.Truncate(date),
			CheckIn:     item.CheckIn,
			RawStatus:   models.RawAttendanceStatus(strings.ToUpper(item.Status)),
			Notes:       item.Notes,
		}
	}
	conflicts, err := s.repo.BulkInsert(ctx, records, req.Mode == "atomic")
	if err != nil {
		if req.Mode == "atomic" {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, err.Error())
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "bulk mark failed")
	}
	result := &BulkMarkResult{Processed: len(records), Success: len(records) - len(conflicts)}
	for _, conflict := range conflicts {
		result.Conflicts = append(result.Conflicts, models.AttendanceBulkConflict{
			SubjectID: conflict.SubjectID,
			Date:      conflict.Date,
			Reason:    "already marked",
		})
	}
	return result, nil
}

// List returns raw attendance rows with pagination.
func (s *AttendanceService) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return rows, pagination, nil
}

// DailySheet returns the classified day for every subject of a kind on one
// date, for the front-desk day view.
func (s *AttendanceService) DailySheet(ctx context.Context, kind models.SubjectKind, date time.Time) ([]models.ClassifiedDay, map[string]models.ClassifiedDay, error) {
	if !kind.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid subject kind")
	}
	if date.IsZero() {
		date = s.now()
	}
	records, err := s.repo.GetByDate(ctx, kind, calendar.Truncate(date))
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load daily sheet")
	}
	days := make([]models.ClassifiedDay, 0, len(records))
	bySubject := make(map[string]models.ClassifiedDay, len(records))
	for _, rec := range records {
		day := models.Classify(rec, s.cfg.LateCutoff)
		s.metrics.RecordClassification()
		days = append(days, day)
		bySubject[rec.SubjectID] = day
	}
	return days, bySubject, nil
}

// MonthlyReport classifies a subject's records for one calendar month and
// rolls them up. Results are cached; any new mark for the subject invalidates
// the cache.
func (s *AttendanceService) MonthlyReport(ctx context.Context, subjectID string, kind models.SubjectKind, year int, month time.Month) (*MonthlyReport, error) {
	if subjectID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject id required")
	}
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid subject kind")
	}

	cacheKey := fmt.Sprintf("attendance:monthly:%s:%s:%d-%02d", kind, subjectID, year, int(month))
	if s.cache.Enabled() {
		var cached MonthlyReport
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	first, last := calendar.MonthBounds(year, month)
	records, err := s.repo.GetRange(ctx, subjectID, kind, first, last)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance records")
	}

	report := &MonthlyReport{
		SubjectID:   subjectID,
		SubjectKind: kind,
		Year:        year,
		Month:       month,
		Days:        s.classifyAll(records),
		Stats:       models.PeriodStats{},
	}
	report.Stats = models.Aggregate(report.Days, calendar.SundaysIn(first, last))

	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, cacheKey, report, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("monthly report cache set failed", zap.String("subject", subjectID), zap.Error(err))
		}
	}
	return report, nil
}

// AllTimeStats aggregates every record a subject has. Holidays are not
// counted here: without a bounded window the Sunday count is meaningless.
func (s *AttendanceService) AllTimeStats(ctx context.Context, subjectID string, kind models.SubjectKind) (*models.PeriodStats, error) {
	if subjectID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject id required")
	}
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid subject kind")
	}
	records, err := s.repo.GetAll(ctx, subjectID, kind)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance records")
	}
	stats := models.Aggregate(s.classifyAll(records), 0)
	return &stats, nil
}

func (s *AttendanceService) classifyAll(records []models.AttendanceRecord) []models.ClassifiedDay {
	days := make([]models.ClassifiedDay, 0, len(records))
	for _, rec := range records {
		days = append(days, models.Classify(rec, s.cfg.LateCutoff))
		s.metrics.RecordClassification()
	}
	return days
}

func (s *AttendanceService) invalidateStats(ctx context.Context, subjectID string, kind models.SubjectKind) {
	if !s.cache.Enabled() {
		return
	}
	pattern := fmt.Sprintf("attendance:monthly:%s:%s:*", kind, subjectID)
	if err := s.cache.Invalidate(ctx, pattern); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.String("subject", subjectID), zap.Error(err))
	}
}
