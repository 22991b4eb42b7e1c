package port

import (
	"context"

	"github.com/google/uuid"

	"registrar/internal/domain"
)

// ResultRepository defines the contract for extraction record persistence.
type ResultRepository interface {
	Create(ctx context.Context, rec *domain.ExtractionRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ExtractionRecord, error)
	List(ctx context.Context, offset, limit int) ([]domain.ExtractionRecord, int, error)
}
