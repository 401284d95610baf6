package ticket

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore/internal/errs"
	"github.com/clinicore/clinicore/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const ticketCols = `id, protocol, contact_id, sector_id, assigned_operator_id, status,
	is_bot_active, last_message_seq, last_message_at, closed_at, created_at, updated_at`

func (r *repoPG) CreateTicket(ctx context.Context, t *Ticket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO ticket (id, protocol, contact_id, sector_id, assigned_operator_id, status, is_bot_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.Protocol, t.ContactID, t.SectorID, t.AssignedOperatorID, t.Status, t.IsBotActive,
	)
	return err
}

func (r *repoPG) GetTicket(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return scanTicket(r.conn(ctx).QueryRow(ctx, `SELECT `+ticketCols+` FROM ticket WHERE id = $1`, id))
}

func (r *repoPG) GetTicketForUpdate(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return scanTicket(r.conn(ctx).QueryRow(ctx, `SELECT `+ticketCols+` FROM ticket WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) GetActiveTicketByContact(ctx context.Context, contactID uuid.UUID) (*Ticket, error) {
	return scanTicket(r.conn(ctx).QueryRow(ctx, `
		SELECT `+ticketCols+` FROM ticket
		WHERE contact_id = $1 AND status <> 'closed'`, contactID))
}

func (r *repoPG) UpdateTicket(ctx context.Context, t *Ticket) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE ticket SET sector_id=$2, assigned_operator_id=$3, status=$4, is_bot_active=$5,
			closed_at=$6, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.SectorID, t.AssignedOperatorID, t.Status, t.IsBotActive, t.ClosedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repoPG) ListTickets(ctx context.Context, f ListFilter) ([]*Ticket, int, error) {
	where := ``
	args := []interface{}{}
	add := func(cond string, val interface{}) {
		args = append(args, val)
		clause := fmt.Sprintf(cond, len(args))
		if where == "" {
			where = `WHERE ` + clause
		} else {
			where += ` AND ` + clause
		}
	}
	if f.Status != "" {
		add(`status = $%d`, f.Status)
	}
	if f.SectorID != nil {
		add(`sector_id = $%d`, *f.SectorID)
	}
	if f.OperatorID != nil {
		add(`assigned_operator_id = $%d`, *f.OperatorID)
	}
	if f.ContactID != nil {
		add(`contact_id = $%d`, *f.ContactID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ticket `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitPos := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM ticket %s
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
		LIMIT $%d OFFSET $%d`, ticketCols, where, limitPos, limitPos+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicketRow(rows)
		if err != nil {
			return nil, 0, err
		}
		tickets = append(tickets, t)
	}
	return tickets, total, rows.Err()
}

// Claim is the linearization point for assignment. The WHERE clause only
// matches an unowned, non-closed row, so of any number of concurrent
// claimants exactly one sees RowsAffected()==1.
func (r *repoPG) Claim(ctx context.Context, ticketID, operatorID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE ticket
		SET assigned_operator_id = $2, status = 'open', is_bot_active = false, updated_at = NOW()
		WHERE id = $1 AND assigned_operator_id IS NULL AND status IN ('pending','open')`,
		ticketID, operatorID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) NextProtocol(ctx context.Context) (string, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE protocol_counter SET value = value + 1 RETURNING value`).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("next protocol: %w", err)
	}
	return fmt.Sprintf("%06d", n), nil
}

func (r *repoPG) NextSeq(ctx context.Context, ticketID uuid.UUID) (int64, error) {
	var seq int64
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE ticket SET last_message_seq = last_message_seq + 1, last_message_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING last_message_seq`, ticketID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errs.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}

const messageCols = `id, ticket_id, seq, sender_type, sender_name, type, content, media_url,
	provider_message_id, delivery_status, delivery_error, created_at`

func (r *repoPG) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.DeliveryStatus == "" {
		m.DeliveryStatus = DeliveryNone
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO message (id, ticket_id, seq, sender_type, sender_name, type, content, media_url,
			provider_message_id, delivery_status, delivery_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.TicketID, m.Seq, m.SenderType, m.SenderName, m.Type, m.Content, m.MediaURL,
		m.ProviderMessageID, m.DeliveryStatus, m.DeliveryError,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "message_provider_id" {
		// Lost the race with a concurrent delivery of the same provider
		// message id. Intake re-reads the winner's row.
		return ErrProviderMessageSeen
	}
	return err
}

func (r *repoPG) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	return scanMessage(r.conn(ctx).QueryRow(ctx, `SELECT `+messageCols+` FROM message WHERE id = $1`, id))
}

func (r *repoPG) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*Message, error) {
	return scanMessage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+messageCols+` FROM message WHERE provider_message_id = $1`, providerMessageID))
}

func (r *repoPG) UpdateMessageDelivery(ctx context.Context, messageID uuid.UUID, status DeliveryStatus, providerMessageID, deliveryError *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE message SET delivery_status=$2,
			provider_message_id=COALESCE($3, provider_message_id),
			delivery_error=$4
		WHERE id = $1`,
		messageID, status, providerMessageID, deliveryError,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repoPG) ListMessages(ctx context.Context, ticketID uuid.UUID, afterSeq int64, limit int) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+messageCols+` FROM message
		WHERE ticket_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3`, ticketID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TicketID, &m.Seq, &m.SenderType, &m.SenderName, &m.Type,
			&m.Content, &m.MediaURL, &m.ProviderMessageID, &m.DeliveryStatus, &m.DeliveryError, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func (r *repoPG) CreateSector(ctx context.Context, s *Sector) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO sector (id, name) VALUES ($1,$2)`, s.ID, s.Name)
	return err
}

func (r *repoPG) GetSector(ctx context.Context, id uuid.UUID) (*Sector, error) {
	var s Sector
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, created_at FROM sector WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) ListSectors(ctx context.Context) ([]*Sector, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name, created_at FROM sector ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sectors []*Sector
	for rows.Next() {
		var s Sector
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		sectors = append(sectors, &s)
	}
	return sectors, rows.Err()
}

func (r *repoPG) DeleteSector(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM sector WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicketRow(row rowScanner) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.Protocol, &t.ContactID, &t.SectorID, &t.AssignedOperatorID, &t.Status,
		&t.IsBotActive, &t.LastMessageSeq, &t.LastMessageAt, &t.ClosedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTicket(row pgx.Row) (*Ticket, error) {
	t, err := scanTicketRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.TicketID, &m.Seq, &m.SenderType, &m.SenderName, &m.Type, &m.Content,
		&m.MediaURL, &m.ProviderMessageID, &m.DeliveryStatus, &m.DeliveryError, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
