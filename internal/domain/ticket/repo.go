package ticket

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrProviderMessageSeen is returned by CreateMessage when another delivery
// of the same provider message id committed first. The dedup pre-check in
// intake cannot see an insert that is still in flight, so the unique index
// on provider_message_id is the authoritative arbiter.
var ErrProviderMessageSeen = errors.New("provider message id already stored")

// ListFilter narrows ticket listings. Zero values mean "no filter".
type ListFilter struct {
	Status     Status
	SectorID   *uuid.UUID
	OperatorID *uuid.UUID
	ContactID  *uuid.UUID
	Limit      int
	Offset     int
}

// Repository is the persistence port for the ticket engine. Claim is the
// only compare-and-set operation; every other transition runs under a
// row lock taken by GetTicketForUpdate inside a transaction.
type Repository interface {
	CreateTicket(ctx context.Context, t *Ticket) error
	GetTicket(ctx context.Context, id uuid.UUID) (*Ticket, error)
	// GetTicketForUpdate locks the ticket row for the rest of the
	// enclosing transaction.
	GetTicketForUpdate(ctx context.Context, id uuid.UUID) (*Ticket, error)
	// GetActiveTicketByContact returns the contact's single non-closed
	// ticket, or ErrNotFound.
	GetActiveTicketByContact(ctx context.Context, contactID uuid.UUID) (*Ticket, error)
	UpdateTicket(ctx context.Context, t *Ticket) error
	ListTickets(ctx context.Context, f ListFilter) ([]*Ticket, int, error)

	// Claim atomically assigns an unowned, non-closed ticket to the
	// operator, clearing the bot flag in the same statement. Returns
	// false when the guard did not match (already owned, or closed).
	Claim(ctx context.Context, ticketID, operatorID uuid.UUID) (bool, error)

	// NextProtocol draws the clinic's next human-facing ticket number.
	NextProtocol(ctx context.Context) (string, error)

	// NextSeq bumps the ticket's message counter and stamps
	// last_message_at, returning the new ordering key.
	NextSeq(ctx context.Context, ticketID uuid.UUID) (int64, error)
	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	GetMessageByProviderID(ctx context.Context, providerMessageID string) (*Message, error)
	UpdateMessageDelivery(ctx context.Context, messageID uuid.UUID, status DeliveryStatus, providerMessageID, deliveryError *string) error
	// ListMessages returns messages with seq > afterSeq in ascending
	// order, capped at limit.
	ListMessages(ctx context.Context, ticketID uuid.UUID, afterSeq int64, limit int) ([]*Message, error)

	CreateSector(ctx context.Context, s *Sector) error
	GetSector(ctx context.Context, id uuid.UUID) (*Sector, error)
	ListSectors(ctx context.Context) ([]*Sector, error)
	DeleteSector(ctx context.Context, id uuid.UUID) error
}
