package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"registrar/internal/domain"
	"registrar/internal/port"
	"registrar/internal/repository"
)

type resultRepo struct {
	db *sqlx.DB
}

// NewResultRepo creates a new PostgreSQL-backed ResultRepository.
func NewResultRepo(db *sqlx.DB) port.ResultRepository {
	return &resultRepo{db: db}
}

func (r *resultRepo) Create(ctx context.Context, rec *domain.ExtractionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	row, err := repository.ToRow(rec)
	if err != nil {
		return fmt.Errorf("resultRepo.Create: %w", err)
	}

	query := `INSERT INTO extraction_results
		(id, name, model, eligible, cancer_category, document, failures,
		 elapsed_ms, storage_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, query,
		row.ID, row.Name, row.Model, row.Eligible, row.CancerCategory,
		string(row.Document), string(row.Failures),
		row.ElapsedMS, row.StorageKey, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("resultRepo.Create: %w", err)
	}
	return nil
}

func (r *resultRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExtractionRecord, error) {
	var row repository.ResultRow
	err := r.db.GetContext(ctx, &row,
		"SELECT * FROM extraction_results WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("resultRepo.GetByID: %w", err)
	}
	return row.Record()
}

func (r *resultRepo) List(ctx context.Context, offset, limit int) ([]domain.ExtractionRecord, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM extraction_results"); err != nil {
		return nil, 0, fmt.Errorf("resultRepo.List count: %w", err)
	}

	var rows []repository.ResultRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM extraction_results
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("resultRepo.List: %w", err)
	}
	recs, err := repository.Records(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("resultRepo.List: %w", err)
	}
	return recs, total, nil
}
