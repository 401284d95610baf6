package ticket

import (
	"time"

	"github.com/google/uuid"
)

// Status is the ticket lifecycle state. A ticket starts pending, is claimed
// into open, may park in waiting while the contact types, and ends closed.
// Closed is terminal. A later inbound message from the same contact opens a
// brand new ticket with a new protocol.
type Status string

const (
	StatusPending Status = "pending"
	StatusOpen    Status = "open"
	StatusWaiting Status = "waiting"
	StatusClosed  Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusOpen, StatusWaiting, StatusClosed:
		return true
	}
	return false
}

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderOperator SenderType = "operator"
	SenderBot      SenderType = "bot"
	SenderSystem   SenderType = "system"
)

// MessageType is the payload kind carried by a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeAudio, TypeVideo, TypeDocument:
		return true
	}
	return false
}

// DeliveryStatus tracks the outbound gateway outcome for a message. Inbound
// and system messages stay "none".
type DeliveryStatus string

const (
	DeliveryNone    DeliveryStatus = "none"
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Ticket is one routed customer conversation. The row is the serialization
// point for everything that happens in the conversation: assignment is a
// compare-and-set against assigned_operator_id, and message ordering comes
// from the last_message_seq counter.
type Ticket struct {
	ID                 uuid.UUID  `json:"id"`
	Protocol           string     `json:"protocol"`
	ContactID          uuid.UUID  `json:"contact_id"`
	SectorID           *uuid.UUID `json:"sector_id,omitempty"`
	AssignedOperatorID *uuid.UUID `json:"assigned_operator_id,omitempty"`
	Status             Status     `json:"status"`
	IsBotActive        bool       `json:"is_bot_active"`
	LastMessageSeq     int64      `json:"last_message_seq"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsAssignedTo reports whether the given operator currently owns the ticket.
func (t *Ticket) IsAssignedTo(operatorID uuid.UUID) bool {
	return t.AssignedOperatorID != nil && *t.AssignedOperatorID == operatorID
}

// Message is one transcript entry. Seq is assigned from the ticket's
// counter inside the appending transaction, so readers always see a total
// order with no ties.
type Message struct {
	ID                uuid.UUID      `json:"id"`
	TicketID          uuid.UUID      `json:"ticket_id"`
	Seq               int64          `json:"seq"`
	SenderType        SenderType     `json:"sender_type"`
	SenderName        *string        `json:"sender_name,omitempty"`
	Type              MessageType    `json:"type"`
	Content           string         `json:"content"`
	MediaURL          *string        `json:"media_url,omitempty"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
	DeliveryError     *string        `json:"delivery_error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Sector is a routing department inside a clinic ("reception", "billing").
type Sector struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Actor is the authenticated principal issuing a command. The engine never
// reads ambient session state; every command carries its actor explicitly.
type Actor struct {
	OperatorID uuid.UUID
	Roles      []string
}

// HasRole reports whether the actor carries the given role. Admins pass
// every role check.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role || r == "admin" {
			return true
		}
	}
	return false
}

// CanOverride reports whether the actor may act on tickets assigned to
// other operators.
func (a Actor) CanOverride() bool {
	return a.HasRole("manager")
}
