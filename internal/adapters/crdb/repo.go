package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
	CheckViolationCode       = "23514"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn in a SERIALIZABLE transaction and commits if fn succeeds.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return mapErr(err)
	}

	if err := fn(tx); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

// mapErr turns driver errors the services care about into domain sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return errors.Mark(errors.Wrap(err, "retry txn"), domain.ErrSerializationFailure)
		case UniqueViolationCode:
			return errors.Mark(errors.Wrap(err, pgErr.ConstraintName), domain.ErrConflict)
		case CheckViolationCode:
			return errors.Mark(errors.Wrap(err, pgErr.ConstraintName), domain.ErrConflict)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Mark(err, domain.ErrNotFound)
	}
	return err
}
