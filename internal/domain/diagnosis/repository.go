package diagnosis

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists d exactly once, filling ID and CreatedAt when unset.
	Create(ctx context.Context, d *Diagnosis) error
	GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error)

	// List returns matching diagnoses, newest first.
	List(ctx context.Context, q *ListDiagnosesQuery) ([]*Diagnosis, error)

	// UpdateReview loads the diagnosis, lets apply mutate its review, and persists only
	// the review columns atomically. Returns ErrDiagnosisNotFound if id is unknown.
	UpdateReview(ctx context.Context, id uuid.UUID, apply func(r *Review)) (*Diagnosis, error)
}
