package contact

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

const contactCols = `id, phone, name, avatar_url, notes, blocked, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, c *Contact) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO contact (id, phone, name, avatar_url, notes, blocked)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.Phone, c.Name, c.AvatarURL, c.Notes, c.Blocked,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Contact, error) {
	return scanContact(r.conn(ctx).QueryRow(ctx, `SELECT `+contactCols+` FROM contact WHERE id = $1`, id))
}

func (r *repoPG) GetByPhone(ctx context.Context, phone string) (*Contact, error) {
	return scanContact(r.conn(ctx).QueryRow(ctx, `SELECT `+contactCols+` FROM contact WHERE phone = $1`, phone))
}

func (r *repoPG) Update(ctx context.Context, c *Contact) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE contact SET phone=$2, name=$3, avatar_url=$4, notes=$5, blocked=$6, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Phone, c.Name, c.AvatarURL, c.Notes, c.Blocked,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM contact WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, search string, limit, offset int) ([]*Contact, int, error) {
	where := ``
	args := []interface{}{}
	if search != "" {
		where = `WHERE name ILIKE $1 OR phone LIKE $1`
		args = append(args, "%"+search+"%")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM contact `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitPos := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM contact %s ORDER BY name LIMIT $%d OFFSET $%d`,
		contactCols, where, limitPos, limitPos+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Phone, &c.Name, &c.AvatarURL, &c.Notes, &c.Blocked, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		contacts = append(contacts, &c)
	}
	return contacts, total, nil
}

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.Phone, &c.Name, &c.AvatarURL, &c.Notes, &c.Blocked, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
