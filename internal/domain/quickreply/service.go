package quickreply

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateQuickReply(ctx context.Context, q *QuickReply) error {
	if err := q.Validate(); err != nil {
		return err
	}
	q.Shortcut = strings.ToLower(q.Shortcut)
	return s.repo.Create(ctx, q)
}

func (s *Service) UpdateQuickReply(ctx context.Context, q *QuickReply) error {
	if err := q.Validate(); err != nil {
		return err
	}
	q.Shortcut = strings.ToLower(q.Shortcut)
	return s.repo.Update(ctx, q)
}

func (s *Service) GetQuickReply(ctx context.Context, id uuid.UUID) (*QuickReply, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) DeleteQuickReply(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListQuickReplies(ctx context.Context, limit, offset int) ([]*QuickReply, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Expand resolves a shortcut and renders its body against the given
// variables. Shortcut lookup is case-insensitive.
func (s *Service) Expand(ctx context.Context, shortcut string, vars map[string]string) (string, error) {
	q, err := s.repo.GetByShortcut(ctx, strings.ToLower(strings.TrimSpace(shortcut)))
	if err != nil {
		return "", err
	}
	return Render(q.Body, vars), nil
}
