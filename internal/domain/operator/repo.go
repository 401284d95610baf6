package operator

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, op *Operator) error
	GetByID(ctx context.Context, id uuid.UUID) (*Operator, error)
	GetByEmail(ctx context.Context, email string) (*Operator, error)
	Update(ctx context.Context, op *Operator) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, sectorID *uuid.UUID, limit, offset int) ([]*Operator, int, error)
}
