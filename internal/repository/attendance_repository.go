package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vidyalay/institute-ops-api/internal/models"
)

// AttendanceRepository handles persistence for raw attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const attendanceColumns = `id, subject_id, subject_kind, date, check_in, check_out, raw_status, notes, created_at, updated_at`

// List returns attendance rows matching the provided filter.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.SubjectID != "" {
		where = append(where, fmt.Sprintf("subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.SubjectKind != "" {
		where = append(where, fmt.Sprintf("subject_kind = $%d", len(args)+1))
		args = append(args, filter.SubjectKind)
	}
	if filter.RawStatus != nil && filter.RawStatus.Valid() {
		where = append(where, fmt.Sprintf("raw_status = $%d", len(args)+1))
		args = append(args, *filter.RawStatus)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSort := map[string]string{
		"date":       "date",
		"status":     "raw_status",
		"created_at": "created_at",
	}
	sortColumn, ok := allowedSort[filter.SortBy]
	if !ok {
		sortColumn = "date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM attendance_records WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		attendanceColumns, whereClause, sortColumn, order, size, offset)

	var rows []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM attendance_records WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}
	return rows, total, nil
}

// GetRange returns a subject's records between from and to, both inclusive,
// ordered by date.
func (r *AttendanceRepository) GetRange(ctx context.Context, subjectID string, kind models.SubjectKind, from, to time.Time) ([]models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records
WHERE subject_id = $1 AND subject_kind = $2 AND date >= $3 AND date <= $4
ORDER BY date ASC`, attendanceColumns)
	var rows []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &rows, query, subjectID, kind, from, to); err != nil {
		return nil, fmt.Errorf("get attendance range: %w", err)
	}
	return rows, nil
}

// GetAll returns every record a subject has, ordered by date.
func (r *AttendanceRepository) GetAll(ctx context.Context, subjectID string, kind models.SubjectKind) ([]models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records
WHERE subject_id = $1 AND subject_kind = $2 ORDER BY date ASC`, attendanceColumns)
	var rows []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &rows, query, subjectID, kind); err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return rows, nil
}

// GetByDate returns every record of one kind for a single day.
func (r *AttendanceRepository) GetByDate(ctx context.Context, kind models.SubjectKind, date time.Time) ([]models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records
WHERE subject_kind = $1 AND date = $2 ORDER BY subject_id ASC`, attendanceColumns)
	var rows []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &rows, query, kind, date); err != nil {
		return nil, fmt.Errorf("get attendance by date: %w", err)
	}
	return rows, nil
}

// Upsert inserts or updates the record for (subject_id, subject_kind, date).
// Re-marking a day overwrites the previous mark; the row is never deleted.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	query := fmt.Sprintf(`INSERT INTO attendance_records (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (subject_id, subject_kind, date)
DO UPDATE SET check_in = EXCLUDED.check_in, check_out = EXCLUDED.check_out,
    raw_status = EXCLUDED.raw_status, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
RETURNING %s`, attendanceColumns, attendanceColumns)
	var stored models.AttendanceRecord
	if err := r.db.GetContext(ctx, &stored, query,
		record.ID, record.SubjectID, record.SubjectKind, record.Date,
		record.CheckIn, record.CheckOut, record.RawStatus, record.Notes,
		record.CreatedAt, record.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance: %w", err)
	}
	return &stored, nil
}

// BulkInsert inserts many records best-effort; returns conflicting entries
// when partial mode swallows duplicates.
func (r *AttendanceRepository) BulkInsert(ctx context.Context, records []models.AttendanceRecord, atomic bool) ([]models.AttendanceRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin bulk attendance: %w", err)
	}
	conflicts := make([]models.AttendanceRecord, 0)
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()
	query := fmt.Sprintf(`INSERT INTO attendance_records (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (subject_id, subject_kind, date) DO NOTHING RETURNING id`, attendanceColumns)
	now := time.Now().UTC()
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		var insertedID string
		if err := tx.QueryRowxContext(ctx, query,
			rec.ID, rec.SubjectID, rec.SubjectKind, rec.Date,
			rec.CheckIn, rec.CheckOut, rec.RawStatus, rec.Notes,
			rec.CreatedAt, rec.UpdatedAt).Scan(&insertedID); err != nil {
			if err == sql.ErrNoRows {
				conflicts = append(conflicts, *rec)
				if atomic {
					return nil, fmt.Errorf("bulk insert attendance: duplicate for subject %s on %s", rec.SubjectID, rec.Date.Format("2006-01-02"))
				}
				continue
			}
			return nil, fmt.Errorf("bulk insert attendance: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit bulk attendance: %w", err)
	}
	commit = true
	return conflicts, nil
}
