package operator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/platform/presence"
)

type Service struct {
	repo    Repository
	tracker presence.Tracker
}

func NewService(repo Repository, tracker presence.Tracker) *Service {
	return &Service{repo: repo, tracker: tracker}
}

func (s *Service) CreateOperator(ctx context.Context, op *Operator) error {
	if err := op.Validate(); err != nil {
		return err
	}
	op.Active = true
	return s.repo.Create(ctx, op)
}

func (s *Service) GetOperator(ctx context.Context, id uuid.UUID) (*Operator, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateOperator(ctx context.Context, op *Operator) error {
	if err := op.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, op)
}

// DeactivateOperator marks the account inactive and drops its presence so it
// disappears from online listings immediately.
func (s *Service) DeactivateOperator(ctx context.Context, clinicID string, id uuid.UUID) error {
	op, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	op.Active = false
	if err := s.repo.Update(ctx, op); err != nil {
		return err
	}
	return s.tracker.Clear(ctx, clinicID, id.String())
}

func (s *Service) DeleteOperator(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListOperators(ctx context.Context, sectorID *uuid.UUID, limit, offset int) ([]*Operator, int, error) {
	return s.repo.List(ctx, sectorID, limit, offset)
}

// Heartbeat refreshes the operator's online window. Inactive accounts cannot
// appear online.
func (s *Service) Heartbeat(ctx context.Context, clinicID string, id uuid.UUID) error {
	op, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !op.Active {
		return fmt.Errorf("operator %s is deactivated", id)
	}
	return s.tracker.Heartbeat(ctx, clinicID, id.String())
}

// Logout drops the operator's presence without waiting for TTL expiry.
func (s *Service) Logout(ctx context.Context, clinicID string, id uuid.UUID) error {
	return s.tracker.Clear(ctx, clinicID, id.String())
}

// ListWithPresence returns the clinic's operators decorated with their live
// online state.
func (s *Service) ListWithPresence(ctx context.Context, clinicID string, sectorID *uuid.UUID, limit, offset int) ([]*WithPresence, int, error) {
	ops, total, err := s.repo.List(ctx, sectorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	onlineIDs, err := s.tracker.Online(ctx, clinicID)
	if err != nil {
		return nil, 0, err
	}
	online := make(map[string]bool, len(onlineIDs))
	for _, id := range onlineIDs {
		online[id] = true
	}

	result := make([]*WithPresence, 0, len(ops))
	for _, op := range ops {
		result = append(result, &WithPresence{
			Operator: *op,
			Online:   op.Active && online[op.ID.String()],
		})
	}
	return result, total, nil
}

// IsOnline reports the operator's live presence state.
func (s *Service) IsOnline(ctx context.Context, clinicID string, id uuid.UUID) (bool, error) {
	return s.tracker.IsOnline(ctx, clinicID, id.String())
}
