package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/vidyalay/institute-ops-api/internal/models"
)

func newAttendanceRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func attendanceRows(records ...models.AttendanceRecord) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "subject_id", "subject_kind", "date", "check_in", "check_out", "raw_status", "notes", "created_at", "updated_at"})
	for _, rec := range records {
		rows.AddRow(rec.ID, rec.SubjectID, rec.SubjectKind, rec.Date, rec.CheckIn, rec.CheckOut, rec.RawStatus, rec.Notes, rec.CreatedAt, rec.UpdatedAt)
	}
	return rows
}

func TestAttendanceRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	record := models.AttendanceRecord{
		SubjectID:   "stu-1",
		SubjectKind: models.SubjectKindStudent,
		Date:        date,
		RawStatus:   models.RawStatusPresent,
	}

	stored := record
	stored.ID = "rec-1"
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance_records")).
		WillReturnRows(attendanceRows(stored))

	got, err := repo.Upsert(context.Background(), &record)
	require.NoError(t, err)
	require.Equal(t, "rec-1", got.ID)
	require.Equal(t, models.RawStatusPresent, got.RawStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryGetRange(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, subject_id, subject_kind, date")).
		WithArgs("stu-1", models.SubjectKindStudent, from, to).
		WillReturnRows(attendanceRows(models.AttendanceRecord{ID: "rec-1", SubjectID: "stu-1"}))

	rows, err := repo.GetRange(context.Background(), "stu-1", models.SubjectKindStudent, from, to)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryBulkInsertPartialConflicts(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	records := []models.AttendanceRecord{
		{SubjectID: "stu-1", SubjectKind: models.SubjectKindStudent, Date: date, RawStatus: models.RawStatusPresent},
		{SubjectID: "stu-2", SubjectKind: models.SubjectKindStudent, Date: date, RawStatus: models.RawStatusPresent},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (subject_id, subject_kind, date) DO NOTHING RETURNING id")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-1"))
	// Second row hits the unique index and comes back empty.
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (subject_id, subject_kind, date) DO NOTHING RETURNING id")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	conflicts, err := repo.BulkInsert(context.Background(), records, false)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, "stu-2", conflicts[0].SubjectID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryBulkInsertAtomicAborts(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	records := []models.AttendanceRecord{
		{SubjectID: "stu-1", SubjectKind: models.SubjectKindStudent, Date: date, RawStatus: models.RawStatusPresent},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (subject_id, subject_kind, date) DO NOTHING RETURNING id")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.BulkInsert(context.Background(), records, true)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	status := models.RawStatusAbsent
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, subject_id, subject_kind, date")).
		WithArgs("stu-1", models.SubjectKindStudent, status).
		WillReturnRows(attendanceRows(models.AttendanceRecord{ID: "rec-1", SubjectID: "stu-1", RawStatus: status}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM attendance_records")).
		WithArgs("stu-1", models.SubjectKindStudent, status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows, total, err := repo.List(context.Background(), models.AttendanceFilter{
		SubjectID:   "stu-1",
		SubjectKind: models.SubjectKindStudent,
		RawStatus:   &status,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
