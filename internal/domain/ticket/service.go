package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/domain/contact"
	"github.com/clinicore/clinicore/internal/domain/operator"
	"github.com/clinicore/clinicore/internal/errs"
	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/internal/platform/gateway"
	"github.com/clinicore/clinicore/internal/platform/websocket"
)

// ContactDirectory is the slice of the contact service the engine uses.
type ContactDirectory interface {
	GetContact(ctx context.Context, id uuid.UUID) (*contact.Contact, error)
	UpsertByPhone(ctx context.Context, phone, profileName string) (*contact.Contact, error)
}

// OperatorDirectory is the slice of the operator service the engine uses.
type OperatorDirectory interface {
	GetOperator(ctx context.Context, id uuid.UUID) (*operator.Operator, error)
	IsOnline(ctx context.Context, clinicID string, id uuid.UUID) (bool, error)
}

// Stats receives engine activity for the metrics endpoint: one count per
// accepted command, plus the size of the live board. Nil disables reporting.
type Stats interface {
	CountOperation(entity, operation string)
	SetOpenTickets(n int64)
}

// Service is the ticket lifecycle engine. Every command runs as one short
// database transaction covering the state change and its audit message.
// Gateway delivery and event publication happen after commit, never under
// the row lock.
type Service struct {
	repo      Repository
	contacts  ContactDirectory
	operators OperatorDirectory
	tx        db.TxRunner
	sender    gateway.Sender
	events    websocket.EventPublisher
	stats     Stats
	log       zerolog.Logger
}

func NewService(repo Repository, contacts ContactDirectory, operators OperatorDirectory,
	tx db.TxRunner, sender gateway.Sender, events websocket.EventPublisher, stats Stats, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		contacts:  contacts,
		operators: operators,
		tx:        tx,
		sender:    sender,
		events:    events,
		stats:     stats,
		log:       log,
	}
}

func (s *Service) count(entity, operation string) {
	if s.stats != nil {
		s.stats.CountOperation(entity, operation)
	}
}

func (s *Service) GetTicket(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.repo.GetTicket(ctx, id)
}

func (s *Service) ListTickets(ctx context.Context, f ListFilter) ([]*Ticket, int, error) {
	return s.repo.ListTickets(ctx, f)
}

// Board returns the clinic's non-closed tickets grouped by status, the
// shape the Kanban view consumes.
func (s *Service) Board(ctx context.Context, sectorID *uuid.UUID) (map[Status][]*Ticket, error) {
	board := make(map[Status][]*Ticket, 3)
	for _, st := range []Status{StatusPending, StatusOpen, StatusWaiting} {
		tickets, _, err := s.repo.ListTickets(ctx, ListFilter{Status: st, SectorID: sectorID, Limit: 200})
		if err != nil {
			return nil, err
		}
		if tickets == nil {
			tickets = []*Ticket{}
		}
		board[st] = tickets
	}
	if s.stats != nil {
		total := len(board[StatusPending]) + len(board[StatusOpen]) + len(board[StatusWaiting])
		s.stats.SetOpenTickets(int64(total))
	}
	return board, nil
}

func (s *Service) ListMessages(ctx context.Context, ticketID uuid.UUID, afterSeq int64, limit int) ([]*Message, error) {
	if _, err := s.repo.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListMessages(ctx, ticketID, afterSeq, limit)
}

// Assign claims the ticket for the given operator. Self-assignment requires
// the operator to be online; managers may assign anyone. The claim itself is
// a compare-and-set, so of two concurrent claimants exactly one wins and the
// loser gets ErrConflict with the current state untouched.
func (s *Service) Assign(ctx context.Context, clinicID string, ticketID, operatorID uuid.UUID, actor Actor) (*Ticket, error) {
	op, err := s.operators.GetOperator(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	if !op.Active {
		return nil, fmt.Errorf("operator %s is deactivated: %w", operatorID, errs.ErrForbidden)
	}
	if operatorID == actor.OperatorID {
		online, err := s.operators.IsOnline(ctx, clinicID, operatorID)
		if err != nil {
			return nil, err
		}
		if !online {
			return nil, fmt.Errorf("operator must be online to claim: %w", errs.ErrForbidden)
		}
	} else if !actor.CanOverride() {
		return nil, fmt.Errorf("assigning another operator requires manager rights: %w", errs.ErrForbidden)
	}

	var result *Ticket
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		claimed, err := s.repo.Claim(ctx, ticketID, operatorID)
		if err != nil {
			return err
		}
		if !claimed {
			// Re-read to tell the caller what actually happened.
			t, err := s.repo.GetTicket(ctx, ticketID)
			if err != nil {
				return err
			}
			if t.Status == StatusClosed {
				return errs.ErrTicketClosed
			}
			if t.IsAssignedTo(operatorID) {
				result = t
				return nil
			}
			return errs.ErrConflict
		}
		t, err := s.repo.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := s.appendSystem(ctx, t, fmt.Sprintf("assigned to %s", op.Name)); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.count("ticket", "assign")
	s.publishTicket(ctx, clinicID, websocket.EventTicketUpdated, result)
	return result, nil
}

// Release returns an owned ticket to the pending pool. Only the current
// assignee or a manager may release.
func (s *Service) Release(ctx context.Context, clinicID string, ticketID uuid.UUID, actor Actor) (*Ticket, error) {
	var result *Ticket
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetTicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status == StatusClosed {
			return errs.ErrTicketClosed
		}
		if t.AssignedOperatorID == nil {
			return errs.ErrConflict
		}
		if !t.IsAssignedTo(actor.OperatorID) && !actor.CanOverride() {
			return errs.ErrForbidden
		}
		t.AssignedOperatorID = nil
		t.Status = StatusPending
		if err := s.repo.UpdateTicket(ctx, t); err != nil {
			return err
		}
		if err := s.appendSystem(ctx, t, "released back to queue"); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.count("ticket", "release")
	s.publishTicket(ctx, clinicID, websocket.EventTicketUpdated, result)
	return result, nil
}

// MarkWaiting parks an open ticket while the contact types. Assignee only.
func (s *Service) MarkWaiting(ctx context.Context, clinicID string, ticketID uuid.UUID, actor Actor) (*Ticket, error) {
	var result *Ticket
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetTicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status == StatusClosed {
			return errs.ErrTicketClosed
		}
		if !t.IsAssignedTo(actor.OperatorID) {
			return errs.ErrForbidden
		}
		if t.Status != StatusOpen {
			return errs.ErrConflict
		}
		t.Status = StatusWaiting
		if err := s.repo.UpdateTicket(ctx, t); err != nil {
			return err
		}
		if err := s.appendSystem(ctx, t, "waiting on customer"); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.count("ticket", "waiting")
	s.publishTicket(ctx, clinicID, websocket.EventTicketUpdated, result)
	return result, nil
}

// Close terminates the ticket from any state and clears the assignment.
// The closing audit entry is a system message, which may append even though
// the ticket is already closed in the same transaction.
func (s *Service) Close(ctx context.Context, clinicID string, ticketID uuid.UUID, actor Actor) (*Ticket, error) {
	var result *Ticket
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetTicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status == StatusClosed {
			return errs.ErrTicketClosed
		}
		if t.AssignedOperatorID != nil && !t.IsAssignedTo(actor.OperatorID) && !actor.CanOverride() {
			return errs.ErrForbidden
		}
		now := time.Now()
		t.Status = StatusClosed
		t.AssignedOperatorID = nil
		t.IsBotActive = false
		t.ClosedAt = &now
		if err := s.repo.UpdateTicket(ctx, t); err != nil {
			return err
		}
		if err := s.appendSystem(ctx, t, "ticket closed"); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.count("ticket", "close")
	s.publishTicket(ctx, clinicID, websocket.EventTicketUpdated, result)
	return result, nil
}

// TransferSector re-routes the ticket to another department.
func (s *Service) TransferSector(ctx context.Context, clinicID string, ticketID, sectorID uuid.UUID, actor Actor) (*Ticket, error) {
	sector, err := s.repo.GetSector(ctx, sectorID)
	if err != nil {
		return nil, err
	}
	var result *Ticket
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetTicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status == StatusClosed {
			return errs.ErrTicketClosed
		}
		if t.AssignedOperatorID != nil && !t.IsAssignedTo(actor.OperatorID) && !actor.CanOverride() {
			return errs.ErrForbidden
		}
		t.SectorID = &sector.ID
		if err := s.repo.UpdateTicket(ctx, t); err != nil {
			return err
		}
		if err := s.appendSystem(ctx, t, fmt.Sprintf("transferred to %s", sector.Name)); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.count("ticket", "transfer")
	s.publishTicket(ctx, clinicID, websocket.EventTicketUpdated, result)
	return result, nil
}

// SendInput is an outbound message command from an operator.
type SendInput struct {
	Content  string
	Type     MessageType
	MediaURL string
	Caption  string
}

// Send appends an outbound message and dispatches it through the gateway.
// The message is durably stored before the delivery attempt; a gateway
// failure is recorded on the message and reported as ErrDeliveryFailed
// without rolling anything back.
func (s *Service) Send(ctx context.Context, clinicID string, ticketID uuid.UUID, actor Actor, in SendInput) (*Message, error) {
	if in.Type == "" {
		in.Type = TypeText
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("invalid message type %q", in.Type)
	}
	if in.Type == TypeText && in.Content == "" {
		return nil, fmt.Errorf("content is required")
	}
	if in.Type != TypeText && in.MediaURL == "" {
		return nil, fmt.Errorf("media_url is required for %s messages", in.Type)
	}

	op, err := s.operators.GetOperator(ctx, actor.OperatorID)
	if err != nil {
		return nil, err
	}

	var (
		msg   *Message
		phone string
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetTicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status == StatusClosed {
			return errs.ErrTicketClosed
		}
		if !t.IsAssignedTo(actor.OperatorID) && !actor.CanOverride() {
			return errs.ErrForbidden
		}
		c, err := s.contacts.GetContact(ctx, t.ContactID)
		if err != nil {
			return err
		}
		phone = c.Phone

		seq, err := s.repo.NextSeq(ctx, t.ID)
		if err != nil {
			return err
		}
		content := in.Content
		if in.Type != TypeText && content == "" {
			content = in.Caption
		}
		mediaURL := optional(in.MediaURL)
		msg = &Message{
			TicketID:       t.ID,
			Seq:            seq,
			SenderType:     SenderOperator,
			SenderName:     &op.Name,
			Type:           in.Type,
			Content:        content,
			MediaURL:       mediaURL,
			DeliveryStatus: DeliveryPending,
		}
		return s.repo.CreateMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	s.count("message", "send")
	s.publishMessage(ctx, clinicID, ticketID, msg)
	if err := s.deliver(ctx, clinicID, phone, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// Resend retries gateway delivery for a previously failed message. The
// message is not re-appended; only its delivery metadata changes.
func (s *Service) Resend(ctx context.Context, clinicID string, ticketID, messageID uuid.UUID, actor Actor) (*Message, error) {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.TicketID != ticketID {
		return nil, errs.ErrNotFound
	}
	if msg.DeliveryStatus != DeliveryFailed {
		return nil, fmt.Errorf("message %s is not in a failed state: %w", messageID, errs.ErrConflict)
	}
	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !t.IsAssignedTo(actor.OperatorID) && !actor.CanOverride() {
		return nil, errs.ErrForbidden
	}
	c, err := s.contacts.GetContact(ctx, t.ContactID)
	if err != nil {
		return nil, err
	}
	s.count("message", "resend")
	if err := s.deliver(ctx, clinicID, c.Phone, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// deliver pushes the message through the gateway and records the outcome.
// Runs outside any transaction.
func (s *Service) deliver(ctx context.Context, clinicID, phone string, msg *Message) error {
	var (
		providerID string
		err        error
	)
	if msg.Type == TypeText {
		providerID, err = s.sender.SendText(ctx, clinicID, phone, msg.Content)
	} else {
		mediaURL := ""
		if msg.MediaURL != nil {
			mediaURL = *msg.MediaURL
		}
		providerID, err = s.sender.SendMedia(ctx, clinicID, phone, mediaURL, msg.Content)
	}
	if err != nil {
		reason := err.Error()
		msg.DeliveryStatus = DeliveryFailed
		msg.DeliveryError = &reason
		if uerr := s.repo.UpdateMessageDelivery(ctx, msg.ID, DeliveryFailed, nil, &reason); uerr != nil {
			s.log.Error().Err(uerr).Str("message_id", msg.ID.String()).Msg("record delivery failure")
		}
		return fmt.Errorf("deliver message %s: %w", msg.ID, errs.ErrDeliveryFailed)
	}
	msg.DeliveryStatus = DeliverySent
	msg.DeliveryError = nil
	msg.ProviderMessageID = &providerID
	if uerr := s.repo.UpdateMessageDelivery(ctx, msg.ID, DeliverySent, &providerID, nil); uerr != nil {
		s.log.Error().Err(uerr).Str("message_id", msg.ID.String()).Msg("record delivery success")
	}
	return nil
}

// appendSystem writes an audit entry in the caller's transaction so the
// transition and its transcript line commit or roll back together.
func (s *Service) appendSystem(ctx context.Context, t *Ticket, text string) error {
	seq, err := s.repo.NextSeq(ctx, t.ID)
	if err != nil {
		return err
	}
	return s.repo.CreateMessage(ctx, &Message{
		TicketID:   t.ID,
		Seq:        seq,
		SenderType: SenderSystem,
		Type:       TypeText,
		Content:    text,
	})
}

func (s *Service) publishTicket(ctx context.Context, clinicID, eventType string, t *Ticket) {
	if s.events == nil || t == nil {
		return
	}
	data, _ := json.Marshal(t)
	ev := websocket.Event{
		Type:      eventType,
		ClinicID:  clinicID,
		TicketID:  t.ID.String(),
		Timestamp: time.Now(),
		Data:      data,
	}
	ev.Topic = websocket.ClinicTicketsTopic(clinicID)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("type", eventType).Msg("publish ticket event")
	}
	ev.Topic = websocket.TicketTopic(clinicID, t.ID.String())
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("type", eventType).Msg("publish ticket event")
	}
}

func (s *Service) publishMessage(ctx context.Context, clinicID string, ticketID uuid.UUID, m *Message) {
	if s.events == nil || m == nil {
		return
	}
	data, _ := json.Marshal(m)
	ev := websocket.Event{
		Type:      websocket.EventMessageAppended,
		ClinicID:  clinicID,
		TicketID:  ticketID.String(),
		Timestamp: time.Now(),
		Data:      data,
	}
	ev.Topic = websocket.ClinicTicketsTopic(clinicID)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Msg("publish message event")
	}
	ev.Topic = websocket.TicketTopic(clinicID, ticketID.String())
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Msg("publish message event")
	}
}

func (s *Service) CreateSector(ctx context.Context, sec *Sector) error {
	if sec.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.CreateSector(ctx, sec)
}

func (s *Service) ListSectors(ctx context.Context) ([]*Sector, error) {
	return s.repo.ListSectors(ctx)
}

func (s *Service) DeleteSector(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteSector(ctx, id)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
