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

	"github.com/vidyalay/institute-ops-api/internal/models"
)

// ErrVersionConflict signals a compare-and-swap miss: another writer saved
// the enquiry since it was loaded.
var ErrVersionConflict = errors.New("enquiry version conflict")

// EnquiryRepository handles persistence for pipeline records. History rows
// are append-only; they are never updated or deleted.
type EnquiryRepository struct {
	db *sqlx.DB
}

// NewEnquiryRepository constructs the repository.
func NewEnquiryRepository(db *sqlx.DB) *EnquiryRepository {
	return &EnquiryRepository{db: db}
}

const enquiryColumns = `id, name, email, phone, stage, entrance_score, final_score, version, created_at, updated_at`

// Create stores a new enquiry together with its opening history entry.
func (r *EnquiryRepository) Create(ctx context.Context, enquiry *models.Enquiry) (*models.Enquiry, error) {
	now := time.Now().UTC()
	if enquiry.ID == "" {
		enquiry.ID = uuid.NewString()
	}
	enquiry.Version = 1
	enquiry.CreatedAt = now
	enquiry.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create enquiry: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`INSERT INTO enquiries (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING %s`, enquiryColumns, enquiryColumns)
	var stored models.Enquiry
	if err := tx.GetContext(ctx, &stored, query,
		enquiry.ID, enquiry.Name, enquiry.Email, enquiry.Phone, enquiry.Stage,
		enquiry.EntranceScore, enquiry.FinalScore, enquiry.Version,
		enquiry.CreatedAt, enquiry.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert enquiry: %w", err)
	}
	for _, entry := range enquiry.History {
		if err := insertHistory(ctx, tx, stored.ID, entry); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create enquiry: %w", err)
	}
	commit = true
	stored.History = enquiry.History
	return &stored, nil
}

// FindByID loads one enquiry with its full history.
func (r *EnquiryRepository) FindByID(ctx context.Context, id string) (*models.Enquiry, error) {
	query := fmt.Sprintf(`SELECT %s FROM enquiries WHERE id = $1`, enquiryColumns)
	var enquiry models.Enquiry
	if err := r.db.GetContext(ctx, &enquiry, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enquiry: %w", err)
	}
	if err := r.loadHistory(ctx, &enquiry); err != nil {
		return nil, err
	}
	return &enquiry, nil
}

// FindByMatchKeys returns every enquiry whose email or phone exactly equals
// one of the provided keys. Either key may be absent; with both absent no
// rows match.
func (r *EnquiryRepository) FindByMatchKeys(ctx context.Context, email, phone *string) ([]models.Enquiry, error) {
	where := []string{}
	args := []interface{}{}
	if email != nil && *email != "" {
		where = append(where, fmt.Sprintf("email = $%d", len(args)+1))
		args = append(args, *email)
	}
	if phone != nil && *phone != "" {
		where = append(where, fmt.Sprintf("phone = $%d", len(args)+1))
		args = append(args, *phone)
	}
	if len(where) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM enquiries WHERE %s ORDER BY created_at ASC`,
		enquiryColumns, strings.Join(where, " OR "))
	var rows []models.Enquiry
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("find enquiries by match keys: %w", err)
	}
	for i := range rows {
		if err := r.loadHistory(ctx, &rows[i]); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// List returns enquiries matching the filter, without history payloads.
func (r *EnquiryRepository) List(ctx context.Context, filter models.EnquiryFilter) ([]models.Enquiry, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.Stage != nil {
		where = append(where, fmt.Sprintf("stage = $%d", len(args)+1))
		args = append(args, *filter.Stage)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d OR phone ILIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	whereClause := strings.Join(where, " AND ")

	allowedSort := map[string]string{
		"name":       "name",
		"stage":      "stage",
		"created_at": "created_at",
	}
	sortColumn, ok := allowedSort[filter.SortBy]
	if !ok {
		sortColumn = "created_at"
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

	query := fmt.Sprintf(`SELECT %s FROM enquiries WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		enquiryColumns, whereClause, sortColumn, order, size, offset)
	var rows []models.Enquiry
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enquiries: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM enquiries WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enquiries: %w", err)
	}
	return rows, total, nil
}

// SaveTransition persists stage/score changes and the new history entries in
// one transaction, guarded by a version compare-and-swap. The enquiry's
// Version must hold the value read before mutation; newEntries are the
// history lines appended since that read.
func (r *EnquiryRepository) SaveTransition(ctx context.Context, enquiry *models.Enquiry, newEntries []models.HistoryEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save enquiry: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE enquiries
SET stage = $2, entrance_score = $3, final_score = $4, version = version + 1, updated_at = $5
WHERE id = $1 AND version = $6`,
		enquiry.ID, enquiry.Stage, enquiry.EntranceScore, enquiry.FinalScore, now, enquiry.Version)
	if err != nil {
		return fmt.Errorf("update enquiry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enquiry rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	for _, entry := range newEntries {
		if err := insertHistory(ctx, tx, enquiry.ID, entry); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save enquiry: %w", err)
	}
	commit = true
	enquiry.Version++
	enquiry.UpdatedAt = now
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, enquiryID string, entry models.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO enquiry_history (id, enquiry_id, timestamp, action)
VALUES ($1, $2, $3, $4)`, uuid.NewString(), enquiryID, entry.Timestamp, entry.Action)
	if err != nil {
		return fmt.Errorf("insert enquiry history: %w", err)
	}
	return nil
}

func (r *EnquiryRepository) loadHistory(ctx context.Context, enquiry *models.Enquiry) error {
	var entries []models.HistoryEntry
	query := `SELECT timestamp, action FROM enquiry_history WHERE enquiry_id = $1 ORDER BY timestamp ASC, id ASC`
	if err := r.db.SelectContext(ctx, &entries, query, enquiry.ID); err != nil {
		return fmt.Errorf("load enquiry history: %w", err)
	}
	enquiry.History = entries
	return nil
}
