package sqlite

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

// row mirrors repository.ResultRow with text ids and timestamps.
// created_at is fixed-width RFC 3339 so ordering is lexical.
type row struct {
	ID             string  `db:"id"`
	Name           string  `db:"name"`
	Model          string  `db:"model"`
	Eligible       bool    `db:"eligible"`
	CancerCategory *string `db:"cancer_category"`
	Document       []byte  `db:"document"`
	Failures       []byte  `db:"failures"`
	ElapsedMS      int64   `db:"elapsed_ms"`
	StorageKey     string  `db:"storage_key"`
	CreatedAt      string  `db:"created_at"`
}

type resultRepo struct {
	db *sqlx.DB
}

// NewResultRepo creates a new SQLite-backed ResultRepository.
func NewResultRepo(db *sqlx.DB) port.ResultRepository {
	return &resultRepo{db: db}
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (r *resultRepo) Create(ctx context.Context, rec *domain.ExtractionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := repository.ToRow(rec)
	if err != nil {
		return fmt.Errorf("resultRepo.Create: %w", err)
	}

	query := `INSERT INTO extraction_results
		(id, name, model, eligible, cancer_category, document, failures,
		 elapsed_ms, storage_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		res.ID.String(), res.Name, res.Model, res.Eligible, res.CancerCategory,
		string(res.Document), string(res.Failures),
		res.ElapsedMS, res.StorageKey, res.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("resultRepo.Create: %w", err)
	}
	return nil
}

func (r *resultRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExtractionRecord, error) {
	var rw row
	err := r.db.GetContext(ctx, &rw,
		"SELECT * FROM extraction_results WHERE id = ?", id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("resultRepo.GetByID: %w", err)
	}
	return rw.record()
}

func (r *resultRepo) List(ctx context.Context, offset, limit int) ([]domain.ExtractionRecord, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM extraction_results"); err != nil {
		return nil, 0, fmt.Errorf("resultRepo.List count: %w", err)
	}

	var rows []row
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM extraction_results
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("resultRepo.List: %w", err)
	}

	recs := make([]domain.ExtractionRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, 0, fmt.Errorf("resultRepo.List: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, total, nil
}

func (rw *row) record() (*domain.ExtractionRecord, error) {
	id, err := uuid.Parse(rw.ID)
	if err != nil {
		return nil, fmt.Errorf("parsing id: %w", err)
	}
	created, err := time.Parse(timeLayout, rw.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	res := repository.ResultRow{
		ID:             id,
		Name:           rw.Name,
		Model:          rw.Model,
		Eligible:       rw.Eligible,
		CancerCategory: rw.CancerCategory,
		Document:       rw.Document,
		Failures:       rw.Failures,
		ElapsedMS:      rw.ElapsedMS,
		StorageKey:     rw.StorageKey,
		CreatedAt:      created,
	}
	return res.Record()
}
