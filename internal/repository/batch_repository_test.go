package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/vidyalay/institute-ops-api/internal/models"
)

func newBatchRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func batchRows(batches ...models.Batch) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "code", "name", "track", "start_date", "end_date", "capacity", "created_at", "updated_at"})
	for _, b := range batches {
		rows.AddRow(b.ID, b.Code, b.Name, b.Track, b.StartDate, b.EndDate, b.Capacity, b.CreatedAt, b.UpdatedAt)
	}
	return rows
}

func TestBatchRepositoryListCodes(t *testing.T) {
	db, mock, cleanup := newBatchRepoMock(t)
	defer cleanup()

	repo := NewBatchRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT code FROM batches WHERE code LIKE $1")).
		WithArgs("DM%").
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("DMB1").AddRow("DMB2"))

	codes, err := repo.ListCodes(context.Background(), "DM")
	require.NoError(t, err)
	require.Equal(t, []string{"DMB1", "DMB2"}, codes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newBatchRepoMock(t)
	defer cleanup()

	repo := NewBatchRepository(db)
	batch := models.Batch{
		Code:      "DMB8",
		Name:      "Digital Marketing Evening",
		Track:     "DM",
		StartDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC),
	}
	stored := batch
	stored.ID = "batch-1"
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO batches")).
		WillReturnRows(batchRows(stored))

	got, err := repo.Insert(context.Background(), &batch)
	require.NoError(t, err)
	require.Equal(t, "DMB8", got.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepositoryInsertDuplicateCode(t *testing.T) {
	db, mock, cleanup := newBatchRepoMock(t)
	defer cleanup()

	repo := NewBatchRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO batches")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "batches_code_key"})

	_, err := repo.Insert(context.Background(), &models.Batch{Code: "DMB8", Track: "DM"})
	require.ErrorIs(t, err, ErrDuplicateCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepositoryUpdateKeepsCode(t *testing.T) {
	db, mock, cleanup := newBatchRepoMock(t)
	defer cleanup()

	repo := NewBatchRepository(db)
	batch := models.Batch{
		ID:        "batch-1",
		Code:      "DMB8",
		Name:      "Digital Marketing Evening",
		Track:     "DM",
		StartDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 12, 15, 0, 0, 0, 0, time.UTC),
	}
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE batches")).
		WithArgs("batch-1", batch.Name, batch.StartDate, batch.EndDate, batch.Capacity, sqlmock.AnyArg()).
		WillReturnRows(batchRows(batch))

	got, err := repo.Update(context.Background(), &batch)
	require.NoError(t, err)
	require.Equal(t, "DMB8", got.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
