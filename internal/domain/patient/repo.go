package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the keyed store for patients. The engine depends only on this
// interface so the in-memory store can be swapped for a database without
// touching the core.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Patient, error)
	Update(ctx context.Context, p *Patient) error
}
