package operator

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

const operatorCols = `id, name, email, role, sector_id, active, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, op *Operator) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO operator (id, name, email, role, sector_id, active)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		op.ID, op.Name, op.Email, op.Role, op.SectorID, op.Active,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Operator, error) {
	return scanOperator(r.conn(ctx).QueryRow(ctx, `SELECT `+operatorCols+` FROM operator WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*Operator, error) {
	return scanOperator(r.conn(ctx).QueryRow(ctx, `SELECT `+operatorCols+` FROM operator WHERE email = $1`, email))
}

func (r *repoPG) Update(ctx context.Context, op *Operator) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE operator SET name=$2, email=$3, role=$4, sector_id=$5, active=$6, updated_at=NOW()
		WHERE id = $1`,
		op.ID, op.Name, op.Email, op.Role, op.SectorID, op.Active,
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
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM operator WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, sectorID *uuid.UUID, limit, offset int) ([]*Operator, int, error) {
	where := ``
	args := []interface{}{}
	if sectorID != nil {
		where = `WHERE sector_id = $1`
		args = append(args, *sectorID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM operator `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitPos := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM operator %s ORDER BY name LIMIT $%d OFFSET $%d`,
		operatorCols, where, limitPos, limitPos+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var ops []*Operator
	for rows.Next() {
		var op Operator
		if err := rows.Scan(&op.ID, &op.Name, &op.Email, &op.Role, &op.SectorID, &op.Active, &op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, 0, err
		}
		ops = append(ops, &op)
	}
	return ops, total, nil
}

func scanOperator(row pgx.Row) (*Operator, error) {
	var op Operator
	err := row.Scan(&op.ID, &op.Name, &op.Email, &op.Role, &op.SectorID, &op.Active, &op.CreatedAt, &op.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}
