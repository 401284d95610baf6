package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/errs"
)

// Subscription is one outbound destination (a CRM, a BI pipeline) that
// receives the clinic's ticket events.
type Subscription struct {
	ID        uuid.UUID `json:"id"`
	ClinicID  string    `json:"clinic_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// subscribedTo reports whether the subscription wants the event type.
// Patterns are exact ("ticket.created") or single-sided wildcards
// ("ticket.*", "*.created").
func (s *Subscription) subscribedTo(eventType string) bool {
	for _, pat := range s.Events {
		if matchEvent(pat, eventType) {
			return true
		}
	}
	return false
}

// Delivery is one POST to a subscription, successful or not. Failed
// deliveries stay listable so an operator can replay them.
type Delivery struct {
	ID             uuid.UUID     `json:"id"`
	SubscriptionID uuid.UUID     `json:"subscription_id"`
	EventID        string        `json:"event_id"`
	EventType      string        `json:"event_type"`
	Payload        []byte        `json:"payload"`
	Signature      string        `json:"signature"`
	StatusCode     int           `json:"status_code"`
	ResponseBody   string        `json:"response_body,omitempty"`
	Elapsed        time.Duration `json:"elapsed_ns"`
	Attempt        int           `json:"attempt"`
	OK             bool          `json:"ok"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Store persists subscriptions and their delivery log.
type Store interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	ListSubscriptions(ctx context.Context, clinicID string, limit, offset int) ([]*Subscription, int, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, id uuid.UUID) error

	RecordDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id uuid.UUID) (*Delivery, error)
	ListDeliveries(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]*Delivery, int, error)
}

// MemoryStore keeps subscriptions in process memory. Registrations do not
// survive a restart; subscribers re-register on deploy.
type MemoryStore struct {
	mu         sync.RWMutex
	subs       []*Subscription
	deliveries []*Delivery
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
	return nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.ID == id {
			return sub, nil
		}
	}
	return nil, fmt.Errorf("subscription %s: %w", id, errs.ErrNotFound)
}

func (s *MemoryStore) ListSubscriptions(_ context.Context, clinicID string, limit, offset int) ([]*Subscription, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if clinicID == "" || sub.ClinicID == clinicID {
			matched = append(matched, sub)
		}
	}
	return page(matched, limit, offset), len(matched), nil
}

func (s *MemoryStore) UpdateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subs {
		if existing.ID == sub.ID {
			s.subs[i] = sub
			return nil
		}
	}
	return fmt.Errorf("subscription %s: %w", sub.ID, errs.ErrNotFound)
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.ID == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("subscription %s: %w", id, errs.ErrNotFound)
}

func (s *MemoryStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
	return nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, id uuid.UUID) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deliveries {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("delivery %s: %w", id, errs.ErrNotFound)
}

func (s *MemoryStore) ListDeliveries(_ context.Context, subscriptionID uuid.UUID, limit, offset int) ([]*Delivery, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.SubscriptionID == subscriptionID {
			matched = append(matched, d)
		}
	}
	return page(matched, limit, offset), len(matched), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
