package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/domain/contact"
	"github.com/clinicore/clinicore/internal/errs"
	"github.com/clinicore/clinicore/internal/platform/bot"
	"github.com/clinicore/clinicore/internal/platform/websocket"
)

// InboundMessage is the normalized webhook payload. The handler validates
// the provider's loosely-typed body into this shape before the engine sees
// it.
type InboundMessage struct {
	FromPhone         string
	ProfileName       string
	Content           string
	MediaType         string
	MediaURL          string
	ProviderMessageID string
}

func (in *InboundMessage) validate() error {
	in.FromPhone = strings.TrimSpace(in.FromPhone)
	if in.FromPhone == "" {
		return fmt.Errorf("from phone is required")
	}
	if in.ProviderMessageID == "" {
		return fmt.Errorf("provider message id is required")
	}
	if in.Content == "" && in.MediaURL == "" {
		return fmt.Errorf("message has no content")
	}
	return nil
}

func (in *InboundMessage) messageType() MessageType {
	switch in.MediaType {
	case "image":
		return TypeImage
	case "audio":
		return TypeAudio
	case "video":
		return TypeVideo
	case "document":
		return TypeDocument
	default:
		return TypeText
	}
}

// InboundResult reports what the intake did with one webhook delivery.
type InboundResult struct {
	Ticket    *Ticket  `json:"ticket"`
	Message   *Message `json:"message"`
	Duplicate bool     `json:"duplicate"`
	Dropped   bool     `json:"dropped"`
}

// Responder is the automated first-line triage consulted for messages on
// bot-active tickets.
type Responder interface {
	// Active reports whether the clinic has rules or a greeting configured.
	Active(clinicID string) bool
	Respond(clinicID, text string, firstMessage bool) (*bot.Response, bool)
}

// HandleInbound is the webhook intake. It resolves the contact, finds or
// creates the contact's active ticket, appends the customer message and
// lets the bot respond while no human owns the conversation. Re-delivery
// of the same provider message id is a no-op.
func (s *Service) HandleInbound(ctx context.Context, clinicID string, responder Responder, in InboundMessage) (*InboundResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	// Provider webhooks are at-least-once.
	if existing, err := s.repo.GetMessageByProviderID(ctx, in.ProviderMessageID); err == nil {
		t, terr := s.repo.GetTicket(ctx, existing.TicketID)
		if terr != nil {
			return nil, terr
		}
		return &InboundResult{Ticket: t, Message: existing, Duplicate: true}, nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	c, err := s.contacts.UpsertByPhone(ctx, in.FromPhone, in.ProfileName)
	if err != nil {
		return nil, err
	}
	if c.Blocked {
		s.log.Info().Str("phone", c.Phone).Msg("dropping message from blocked contact")
		return &InboundResult{Dropped: true}, nil
	}

	var (
		result    InboundResult
		created   bool
		botActive bool
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetActiveTicketByContact(ctx, c.ID)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			protocol, perr := s.repo.NextProtocol(ctx)
			if perr != nil {
				return perr
			}
			t = &Ticket{
				ContactID:   c.ID,
				Protocol:    protocol,
				Status:      StatusPending,
				IsBotActive: responder != nil && responder.Active(clinicID),
			}
			if cerr := s.repo.CreateTicket(ctx, t); cerr != nil {
				return cerr
			}
			created = true
		case err != nil:
			return err
		default:
			// Lock before mutating.
			t, err = s.repo.GetTicketForUpdate(ctx, t.ID)
			if err != nil {
				return err
			}
		}

		// Customer activity reopens a parked ticket to the same assignee.
		if t.Status == StatusWaiting {
			t.Status = StatusOpen
			if err := s.repo.UpdateTicket(ctx, t); err != nil {
				return err
			}
			if err := s.appendSystem(ctx, t, "reopened by customer reply"); err != nil {
				return err
			}
		}

		seq, err := s.repo.NextSeq(ctx, t.ID)
		if err != nil {
			return err
		}
		msg := &Message{
			TicketID:          t.ID,
			Seq:               seq,
			SenderType:        SenderCustomer,
			SenderName:        optional(c.Name),
			Type:              in.messageType(),
			Content:           in.Content,
			MediaURL:          optional(in.MediaURL),
			ProviderMessageID: &in.ProviderMessageID,
		}
		if err := s.repo.CreateMessage(ctx, msg); err != nil {
			return err
		}

		botActive = t.IsBotActive && t.AssignedOperatorID == nil
		result.Ticket = t
		result.Message = msg
		return nil
	})
	if errors.Is(err, ErrProviderMessageSeen) {
		// A concurrent delivery won the insert race after our pre-check.
		// The transaction rolled back; answer from the winner's rows.
		existing, derr := s.repo.GetMessageByProviderID(ctx, in.ProviderMessageID)
		if derr != nil {
			return nil, err
		}
		t, terr := s.repo.GetTicket(ctx, existing.TicketID)
		if terr != nil {
			return nil, terr
		}
		return &InboundResult{Ticket: t, Message: existing, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	s.count("message", "inbound")
	eventType := websocket.EventTicketUpdated
	if created {
		eventType = websocket.EventTicketCreated
		s.count("ticket", "open")
	}
	s.publishTicket(ctx, clinicID, eventType, result.Ticket)
	s.publishMessage(ctx, clinicID, result.Ticket.ID, result.Message)

	if botActive && responder != nil && in.messageType() == TypeText {
		s.runBot(ctx, clinicID, responder, result.Ticket, c, in.Content, created)
	}
	return &result, nil
}

// runBot consults the responder and applies its decision. Bot failures are
// logged, never propagated: the customer message is already durable.
func (s *Service) runBot(ctx context.Context, clinicID string, responder Responder, t *Ticket, c *contact.Contact, text string, firstMessage bool) {
	resp, ok := responder.Respond(clinicID, text, firstMessage)
	if !ok {
		return
	}

	switch resp.Action {
	case bot.ActionReply:
		msg, err := s.appendBotReply(ctx, t, resp.Reply)
		if err != nil {
			s.log.Error().Err(err).Str("ticket_id", t.ID.String()).Msg("append bot reply")
			return
		}
		s.publishMessage(ctx, clinicID, t.ID, msg)
		if err := s.deliver(ctx, clinicID, c.Phone, msg); err != nil {
			s.log.Warn().Err(err).Str("ticket_id", t.ID.String()).Msg("bot reply delivery failed")
		}

	case bot.ActionRouteSector:
		sectorID, err := uuid.Parse(resp.SectorID)
		if err != nil {
			s.log.Error().Str("sector_id", resp.SectorID).Msg("bot rule carries an invalid sector id")
			return
		}
		err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
			locked, err := s.repo.GetTicketForUpdate(ctx, t.ID)
			if err != nil {
				return err
			}
			locked.SectorID = &sectorID
			if err := s.repo.UpdateTicket(ctx, locked); err != nil {
				return err
			}
			*t = *locked
			return s.appendSystem(ctx, locked, "routed by assistant")
		})
		if err != nil {
			s.log.Error().Err(err).Str("ticket_id", t.ID.String()).Msg("bot sector routing")
			return
		}
		s.publishTicket(ctx, clinicID, websocket.EventTicketUpdated, t)

	case bot.ActionHandoff:
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			locked, err := s.repo.GetTicketForUpdate(ctx, t.ID)
			if err != nil {
				return err
			}
			locked.IsBotActive = false
			if err := s.repo.UpdateTicket(ctx, locked); err != nil {
				return err
			}
			*t = *locked
			return s.appendSystem(ctx, locked, "handed off to an operator")
		})
		if err != nil {
			s.log.Error().Err(err).Str("ticket_id", t.ID.String()).Msg("bot handoff")
			return
		}
		s.publishTicket(ctx, clinicID, websocket.EventTicketUpdated, t)
	}
}

func (s *Service) appendBotReply(ctx context.Context, t *Ticket, reply string) (*Message, error) {
	var msg *Message
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := s.repo.GetTicketForUpdate(ctx, t.ID)
		if err != nil {
			return err
		}
		if locked.Status == StatusClosed {
			return errs.ErrTicketClosed
		}
		if !locked.IsBotActive || locked.AssignedOperatorID != nil {
			// A human claimed the conversation between intake and now.
			return errs.ErrConflict
		}
		seq, err := s.repo.NextSeq(ctx, locked.ID)
		if err != nil {
			return err
		}
		msg = &Message{
			TicketID:       locked.ID,
			Seq:            seq,
			SenderType:     SenderBot,
			Type:           TypeText,
			Content:        reply,
			DeliveryStatus: DeliveryPending,
		}
		return s.repo.CreateMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}
