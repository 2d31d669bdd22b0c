package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vidyalay/institute-ops-api/internal/models"
)

// ErrDuplicateCode signals the batches.code unique index rejected an insert.
// The service treats it as a retry signal for the allocator.
var ErrDuplicateCode = errors.New("batch code already exists")

// BatchRepository handles persistence for course batches.
type BatchRepository struct {
	db *sqlx.DB
}

// NewBatchRepository constructs the repository.
func NewBatchRepository(db *sqlx.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

const batchColumns = `id, code, name, track, start_date, end_date, capacity, created_at, updated_at`

// ListCodes returns every batch code starting with the given track prefix.
func (r *BatchRepository) ListCodes(ctx context.Context, prefix string) ([]string, error) {
	var codes []string
	query := `SELECT code FROM batches WHERE code LIKE $1 ORDER BY code ASC`
	if err := r.db.SelectContext(ctx, &codes, query, prefix+"%"); err != nil {
		return nil, fmt.Errorf("list batch codes: %w", err)
	}
	return codes, nil
}

// Insert stores a new batch. A unique-index violation on code maps to
// ErrDuplicateCode.
func (r *BatchRepository) Insert(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	now := time.Now().UTC()
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	batch.CreatedAt = now
	batch.UpdatedAt = now
	query := fmt.Sprintf(`INSERT INTO batches (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING %s`, batchColumns, batchColumns)
	var stored models.Batch
	err := r.db.GetContext(ctx, &stored, query,
		batch.ID, batch.Code, batch.Name, batch.Track,
		batch.StartDate, batch.EndDate, batch.Capacity,
		batch.CreatedAt, batch.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateCode
		}
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	return &stored, nil
}

// FindByID loads a single batch.
func (r *BatchRepository) FindByID(ctx context.Context, id string) (*models.Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM batches WHERE id = $1`, batchColumns)
	var batch models.Batch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find batch: %w", err)
	}
	return &batch, nil
}

// List returns batches matching the filter. Phase is not a stored column, so
// phase filtering is left to the service.
func (r *BatchRepository) List(ctx context.Context, filter models.BatchFilter) ([]models.Batch, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.Track != "" {
		where = append(where, fmt.Sprintf("track = $%d", len(args)+1))
		args = append(args, filter.Track)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSort := map[string]string{
		"code":       "code",
		"start_date": "start_date",
		"created_at": "created_at",
	}
	sortColumn, ok := allowedSort[filter.SortBy]
	if !ok {
		sortColumn = "start_date"
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

	query := fmt.Sprintf(`SELECT %s FROM batches WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		batchColumns, whereClause, sortColumn, order, size, offset)
	var rows []models.Batch
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM batches WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}
	return rows, total, nil
}

// Update rewrites a batch's mutable fields. The code is immutable once
// allocated.
func (r *BatchRepository) Update(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	batch.UpdatedAt = time.Now().UTC()
	query := fmt.Sprintf(`UPDATE batches
SET name = $2, start_date = $3, end_date = $4, capacity = $5, updated_at = $6
WHERE id = $1
RETURNING %s`, batchColumns)
	var stored models.Batch
	if err := r.db.GetContext(ctx, &stored, query,
		batch.ID, batch.Name, batch.StartDate, batch.EndDate, batch.Capacity, batch.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("update batch: %w", err)
	}
	return &stored, nil
}
