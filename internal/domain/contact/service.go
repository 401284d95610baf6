package contact

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/errs"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateContact(ctx context.Context, c *Contact) error {
	phone, err := NormalizePhone(c.Phone)
	if err != nil {
		return err
	}
	c.Phone = phone
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.Create(ctx, c)
}

func (s *Service) GetContact(ctx context.Context, id uuid.UUID) (*Contact, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByPhone(ctx context.Context, phone string) (*Contact, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByPhone(ctx, normalized)
}

func (s *Service) UpdateContact(ctx context.Context, c *Contact) error {
	phone, err := NormalizePhone(c.Phone)
	if err != nil {
		return err
	}
	c.Phone = phone
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.Update(ctx, c)
}

func (s *Service) DeleteContact(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListContacts(ctx context.Context, search string, limit, offset int) ([]*Contact, int, error) {
	return s.repo.List(ctx, search, limit, offset)
}

// UpsertByPhone finds the contact for an inbound message, creating it with
// the pushed profile name when the phone is unknown. An existing contact's
// name is never overwritten by the provider's profile name.
func (s *Service) UpsertByPhone(ctx context.Context, phone, profileName string) (*Contact, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByPhone(ctx, normalized)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	name := profileName
	if name == "" {
		name = normalized
	}
	c := &Contact{Phone: normalized, Name: name}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SetBlocked toggles the blocked flag. Inbound messages from blocked contacts
// are dropped by webhook intake.
func (s *Service) SetBlocked(ctx context.Context, id uuid.UUID, blocked bool) (*Contact, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Blocked = blocked
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
