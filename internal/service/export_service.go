package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidyalay/institute-ops-api/internal/models"
	appErrors "github.com/vidyalay/institute-ops-api/pkg/errors"
	"github.com/vidyalay/institute-ops-api/pkg/export"
	"github.com/vidyalay/institute-ops-api/pkg/jobs"
	"github.com/vidyalay/institute-ops-api/pkg/storage"
)

// attendanceSheetColumns is the column contract with the reporting consumer;
// order and presence are fixed.
var attendanceSheetColumns = []string{"date", "status", "check_in", "check_out", "notes"}

var batchRosterColumns = []string{"code", "name", "track", "start_date", "end_date", "phase"}

type attendanceReporter interface {
	MonthlyReport(ctx context.Context, subjectID string, kind models.SubjectKind, year int, month time.Month) (*MonthlyReport, error)
}

type batchLister interface {
	List(ctx context.Context, filter models.BatchFilter) ([]models.BatchDetail, *models.Pagination, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportServiceConfig tunes export behaviour.
type ExportServiceConfig struct {
	AsyncEnabled bool
}

// ExportService renders attendance sheets and batch rosters. Synchronous
// downloads return bytes; the async path queues generation, stores the file
// and hands back a signed URL.
type ExportService struct {
	attendance attendanceReporter
	batches    batchLister
	storage    fileStorage
	csv        csvRenderer
	pdf        pdfRenderer
	signer     *storage.SignedURLSigner
	queue      *jobs.Queue
	logger     *zap.Logger
	cfg        ExportServiceConfig

	mu      sync.RWMutex
	pending map[string]*models.ExportJob
}

// Jobs that reached a terminal status are kept queryable for this long,
// matching the default signed-URL lifetime, then dropped on the next Enqueue.
const finishedJobRetention = 24 * time.Hour

// NewExportService constructs an ExportService. The queue is created here
// but started by the caller, which owns its lifecycle.
func NewExportService(attendance attendanceReporter, batches batchLister, store fileStorage, signer *storage.SignedURLSigner, cfg ExportServiceConfig, logger *zap.Logger, queueCfg jobs.QueueConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ExportService{
		attendance: attendance,
		batches:    batches,
		storage:    store,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		signer:     signer,
		logger:     logger,
		cfg:        cfg,
		pending:    make(map[string]*models.ExportJob),
	}
	queueCfg.Logger = logger
	svc.queue = jobs.NewQueue("exports", svc.handleJob, queueCfg)
	return svc
}

// Queue exposes the underlying job queue for lifecycle management.
func (s *ExportService) Queue() *jobs.Queue {
	return s.queue
}

// AttendanceSheet renders one subject-month as CSV or PDF bytes.
func (s *ExportService) AttendanceSheet(ctx context.Context, subjectID string, kind models.SubjectKind, year int, month time.Month, format models.ExportFormat) ([]byte, string, error) {
	if !format.Valid() {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	report, err := s.attendance.MonthlyReport(ctx, subjectID, kind, year, month)
	if err != nil {
		return nil, "", err
	}
	dataset := attendanceDataset(report)
	title := fmt.Sprintf("Attendance %s %d-%02d", subjectID, year, int(month))
	payload, err := s.render(dataset, title, format)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	filename := fmt.Sprintf("attendance_%s_%d-%02d.%s", subjectID, year, int(month), format)
	return payload, filename, nil
}

// BatchRoster renders the batch list for a track, with derived phases.
func (s *ExportService) BatchRoster(ctx context.Context, track string, format models.ExportFormat) ([]byte, string, error) {
	if !format.Valid() {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	batches, _, err := s.batches.List(ctx, models.BatchFilter{Track: track, PageSize: 200})
	if err != nil {
		return nil, "", err
	}
	dataset := batchDataset(batches)
	title := "Batch roster"
	if track != "" {
		title = fmt.Sprintf("Batch roster %s", track)
	}
	payload, err := s.render(dataset, title, format)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	filename := fmt.Sprintf("batches_%s.%s", track, format)
	if track == "" {
		filename = fmt.Sprintf("batches.%s", format)
	}
	return payload, filename, nil
}

// Enqueue schedules an asynchronous export and returns the tracking job.
func (s *ExportService) Enqueue(kind models.ExportKind, format models.ExportFormat, params models.ExportParams) (*models.ExportJob, error) {
	if !s.cfg.AsyncEnabled {
		return nil, appErrors.Clone(appErrors.ErrValidation, "async exports are disabled")
	}
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	job := &models.ExportJob{
		ID:        uuid.NewString(),
		Kind:      kind,
		Format:    format,
		Params:    params,
		Status:    models.ExportStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.pruneFinishedLocked(time.Now().UTC())
	s.pending[job.ID] = job
	s.mu.Unlock()

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(kind), Payload: job}); err != nil {
		s.setFailed(job.ID, err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export")
	}
	return job, nil
}

// Job returns the tracking state for one export job.
func (s *ExportService) Job(id string) (*models.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.pending[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	copied := *job
	return &copied, nil
}

// Download validates a signed token and opens the stored file.
func (s *ExportService) Download(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	return file, nil
}

func (s *ExportService) handleJob(ctx context.Context, job jobs.Job) error {
	s.setStatus(job.ID, models.ExportStatusProcessing)

	tracked, err := s.Job(job.ID)
	if err != nil {
		return err
	}

	var payload []byte
	var filename string
	switch tracked.Kind {
	case models.ExportKindAttendanceSheet:
		payload, filename, err = s.AttendanceSheet(ctx, tracked.Params.SubjectID, tracked.Params.SubjectKind, tracked.Params.Year, time.Month(tracked.Params.Month), tracked.Format)
	case models.ExportKindBatchRoster:
		payload, filename, err = s.BatchRoster(ctx, tracked.Params.Track, tracked.Format)
	default:
		err = fmt.Errorf("unsupported export kind %s", tracked.Kind)
	}
	if err != nil {
		s.setFailed(job.ID, err)
		return err
	}

	relPath, err := s.storage.Save(fmt.Sprintf("%s_%s", job.ID, filename), payload)
	if err != nil {
		s.setFailed(job.ID, err)
		return err
	}
	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		s.setFailed(job.ID, err)
		return err
	}

	url := fmt.Sprintf("/exports/download?token=%s", token)
	now := time.Now().UTC()
	s.mu.Lock()
	if tracked, ok := s.pending[job.ID]; ok {
		tracked.Status = models.ExportStatusFinished
		tracked.ResultURL = &url
		tracked.FinishedAt = &now
		tracked.ExpiresAt = &expiresAt
	}
	s.mu.Unlock()
	return nil
}

func (s *ExportService) pruneFinishedLocked(now time.Time) {
	for id, job := range s.pending {
		if job.FinishedAt == nil {
			continue
		}
		if job.Status != models.ExportStatusFinished && job.Status != models.ExportStatusFailed {
			continue
		}
		if now.Sub(*job.FinishedAt) > finishedJobRetention {
			delete(s.pending, id)
		}
	}
}

func (s *ExportService) setStatus(id string, status models.ExportStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.pending[id]; ok {
		job.Status = status
	}
}

func (s *ExportService) setFailed(id string, err error) {
	msg := err.Error()
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.pending[id]; ok {
		job.Status = models.ExportStatusFailed
		job.ErrorMessage = &msg
		job.FinishedAt = &now
	}
}

func (s *ExportService) render(dataset export.Dataset, title string, format models.ExportFormat) ([]byte, error) {
	if format == models.ExportFormatPDF {
		return s.pdf.Render(dataset, title)
	}
	return s.csv.Render(dataset)
}

func attendanceDataset(report *MonthlyReport) export.Dataset {
	rows := make([]map[string]string, 0, len(report.Days))
	for _, day := range report.Days {
		rows = append(rows, map[string]string{
			"date":      day.Date.Format("2006-01-02"),
			"status":    string(day.Status),
			"check_in":  strValue(day.CheckIn),
			"check_out": strValue(day.CheckOut),
			"notes":     strValue(day.Notes),
		})
	}
	return export.Dataset{Headers: attendanceSheetColumns, Rows: rows}
}

func batchDataset(batches []models.BatchDetail) export.Dataset {
	rows := make([]map[string]string, 0, len(batches))
	for _, batch := range batches {
		rows = append(rows, map[string]string{
			"code":       batch.Code,
			"name":       batch.Name,
			"track":      batch.Track,
			"start_date": batch.StartDate.Format("2006-01-02"),
			"end_date":   batch.EndDate.Format("2006-01-02"),
			"phase":      string(batch.Phase),
		})
	}
	return export.Dataset{Headers: batchRosterColumns, Rows: rows}
}

func strValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
