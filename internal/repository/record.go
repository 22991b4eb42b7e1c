// Package repository holds the row mapping shared by the SQL result stores.
package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"registrar/internal/domain"
)

// ResultRow is the extraction_results row shape.
type ResultRow struct {
	ID             uuid.UUID `db:"id"`
	Name           string    `db:"name"`
	Model          string    `db:"model"`
	Eligible       bool      `db:"eligible"`
	CancerCategory *string   `db:"cancer_category"`
	Document       []byte    `db:"document"`
	Failures       []byte    `db:"failures"`
	ElapsedMS      int64     `db:"elapsed_ms"`
	StorageKey     string    `db:"storage_key"`
	CreatedAt      time.Time `db:"created_at"`
}

// ToRow flattens a record for storage.
func ToRow(rec *domain.ExtractionRecord) (*ResultRow, error) {
	if rec.Document == nil {
		return nil, fmt.Errorf("record %s has no document", rec.ID)
	}
	doc, err := json.Marshal(rec.Document)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	failures := rec.Failures
	if failures == nil {
		failures = []domain.ExtractorFailure{}
	}
	fails, err := json.Marshal(failures)
	if err != nil {
		return nil, fmt.Errorf("encoding failures: %w", err)
	}
	return &ResultRow{
		ID:             rec.ID,
		Name:           rec.Name,
		Model:          rec.Model,
		Eligible:       rec.Document.CancerExcisionReport,
		CancerCategory: rec.Document.CancerCategory,
		Document:       doc,
		Failures:       fails,
		ElapsedMS:      rec.ElapsedMS,
		StorageKey:     rec.StorageKey,
		CreatedAt:      rec.CreatedAt,
	}, nil
}

// Record rebuilds the domain record from a row.
func (r *ResultRow) Record() (*domain.ExtractionRecord, error) {
	rec := &domain.ExtractionRecord{
		ID:         r.ID,
		Name:       r.Name,
		Model:      r.Model,
		Document:   &domain.OutputDocument{},
		ElapsedMS:  r.ElapsedMS,
		StorageKey: r.StorageKey,
		CreatedAt:  r.CreatedAt,
	}
	if err := json.Unmarshal(r.Document, rec.Document); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", r.ID, err)
	}
	if len(r.Failures) > 0 {
		if err := json.Unmarshal(r.Failures, &rec.Failures); err != nil {
			return nil, fmt.Errorf("decoding failures %s: %w", r.ID, err)
		}
	}
	if rec.Failures == nil {
		rec.Failures = []domain.ExtractorFailure{}
	}
	return rec, nil
}

// Records converts a page of rows.
func Records(rows []ResultRow) ([]domain.ExtractionRecord, error) {
	out := make([]domain.ExtractionRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].Record()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}
