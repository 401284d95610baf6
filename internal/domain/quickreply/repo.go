package quickreply

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, q *QuickReply) error
	GetByID(ctx context.Context, id uuid.UUID) (*QuickReply, error)
	GetByShortcut(ctx context.Context, shortcut string) (*QuickReply, error)
	Update(ctx context.Context, q *QuickReply) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*QuickReply, int, error)
}
