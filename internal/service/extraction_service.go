package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"registrar/internal/domain"
	"registrar/internal/pipeline"
	"registrar/internal/port"
)

const cleanupTimeout = 10 * time.Second

// ReportRunner runs the extraction pipeline over one report.
// *pipeline.Pipeline implements it.
type ReportRunner interface {
	Run(ctx context.Context, report, name string) (*pipeline.Result, error)
}

// ExtractInput is the DTO for an extraction request.
type ExtractInput struct {
	Name   string
	Report string
}

// ExtractionService defines the extraction contract.
type ExtractionService interface {
	Extract(ctx context.Context, input ExtractInput) (*domain.ExtractionRecord, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ExtractionRecord, error)
	List(ctx context.Context, offset, limit int) ([]domain.ExtractionRecord, int, error)
}

type extractionService struct {
	runner  ReportRunner
	repo    port.ResultRepository
	storage port.ObjectStorage
	model   string
	logger  *slog.Logger
}

// NewExtractionService creates a new ExtractionService. repo and storage may
// be nil: without a repository records are not persisted and lookups fail
// with domain.ErrStoreDisabled; without storage no document is uploaded.
func NewExtractionService(
	runner ReportRunner,
	repo port.ResultRepository,
	storage port.ObjectStorage,
	model string,
	logger *slog.Logger,
) ExtractionService {
	return &extractionService{
		runner:  runner,
		repo:    repo,
		storage: storage,
		model:   model,
		logger:  logger,
	}
}

func (s *extractionService) Extract(ctx context.Context, input ExtractInput) (*domain.ExtractionRecord, error) {
	name := input.Name
	if name == "" {
		name = "report"
	}

	res, err := s.runner.Run(ctx, input.Report, name)
	if err != nil {
		return nil, err
	}

	rec := &domain.ExtractionRecord{
		ID:        uuid.New(),
		Name:      name,
		Model:     s.model,
		Document:  res.Document,
		Failures:  res.Failures,
		ElapsedMS: res.Elapsed.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if rec.Failures == nil {
		rec.Failures = []domain.ExtractorFailure{}
	}

	if s.storage != nil {
		key, err := s.upload(ctx, rec)
		if err != nil {
			// The extraction itself succeeded; keep the record without a key.
			s.logger.Warn("extraction.upload.failed", "id", rec.ID.String(), "error", err)
		} else {
			rec.StorageKey = key
		}
	}

	if s.repo != nil {
		if err := s.repo.Create(ctx, rec); err != nil {
			s.discardUpload(ctx, rec)
			return nil, fmt.Errorf("persisting extraction: %w", err)
		}
	}

	s.logger.Info("extraction.ok",
		"id", rec.ID.String(),
		"name", name,
		"eligible", rec.Document.CancerExcisionReport,
		"failures", len(rec.Failures),
		"elapsed_ms", rec.ElapsedMS,
	)
	return rec, nil
}

func (s *extractionService) upload(ctx context.Context, rec *domain.ExtractionRecord) (string, error) {
	body, err := EncodeDocument(rec.Document)
	if err != nil {
		return "", err
	}
	out, err := s.storage.Upload(ctx, port.UploadInput{
		Key:         fmt.Sprintf("extractions/%s/%s_output.json", rec.ID, rec.Name),
		Body:        bytes.NewReader(body),
		ContentType: "application/json",
		Size:        int64(len(body)),
	})
	if err != nil {
		return "", err
	}
	return out.Key, nil
}

// discardUpload removes the stored document of a record that was not persisted.
func (s *extractionService) discardUpload(ctx context.Context, rec *domain.ExtractionRecord) {
	if rec.StorageKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.storage.Delete(ctx, rec.StorageKey); err != nil {
		s.logger.Error("extraction.upload.orphaned", "id", rec.ID.String(), "key", rec.StorageKey, "error", err)
		return
	}
	s.logger.Info("extraction.upload.discarded", "id", rec.ID.String(), "key", rec.StorageKey)
}

func (s *extractionService) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExtractionRecord, error) {
	if s.repo == nil {
		return nil, domain.ErrStoreDisabled
	}
	return s.repo.GetByID(ctx, id)
}

func (s *extractionService) List(ctx context.Context, offset, limit int) ([]domain.ExtractionRecord, int, error) {
	if s.repo == nil {
		return nil, 0, domain.ErrStoreDisabled
	}
	return s.repo.List(ctx, offset, limit)
}

// EncodeDocument renders an output document as two-space indented JSON
// without HTML escaping, the format of <name>_output.json files.
func EncodeDocument(doc *domain.OutputDocument) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return buf.Bytes(), nil
}
