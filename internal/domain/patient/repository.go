package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists a new patient.
	Create(ctx context.Context, p *Patient) error

	// GetByID retrieves a live patient. Returns ErrPatientNotFound when missing or soft-deleted.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// GetByIDs resolves many references at once, including soft-deleted rows, keyed by ID.
	// Unknown IDs are simply absent from the result.
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Patient, error)
}
