package quickreply

import (
	"context"
	"errors"

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

const quickReplyCols = `id, shortcut, title, body, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, q *QuickReply) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO quick_reply (id, shortcut, title, body)
		VALUES ($1,$2,$3,$4)`,
		q.ID, q.Shortcut, q.Title, q.Body,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*QuickReply, error) {
	return scanQuickReply(r.conn(ctx).QueryRow(ctx, `SELECT `+quickReplyCols+` FROM quick_reply WHERE id = $1`, id))
}

func (r *repoPG) GetByShortcut(ctx context.Context, shortcut string) (*QuickReply, error) {
	return scanQuickReply(r.conn(ctx).QueryRow(ctx, `SELECT `+quickReplyCols+` FROM quick_reply WHERE shortcut = $1`, shortcut))
}

func (r *repoPG) Update(ctx context.Context, q *QuickReply) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE quick_reply SET shortcut=$2, title=$3, body=$4, updated_at=NOW()
		WHERE id = $1`,
		q.ID, q.Shortcut, q.Title, q.Body,
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
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM quick_reply WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*QuickReply, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM quick_reply`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+quickReplyCols+` FROM quick_reply ORDER BY shortcut LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var replies []*QuickReply
	for rows.Next() {
		var q QuickReply
		if err := rows.Scan(&q.ID, &q.Shortcut, &q.Title, &q.Body, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, 0, err
		}
		replies = append(replies, &q)
	}
	return replies, total, rows.Err()
}

func scanQuickReply(row pgx.Row) (*QuickReply, error) {
	var q QuickReply
	err := row.Scan(&q.ID, &q.Shortcut, &q.Title, &q.Body, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}
