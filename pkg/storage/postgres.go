package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps every collection in the records table as JSONB rows
// ordered by insertion position.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) ReadAll(ctx context.Context, c Collection) ([]Row, error) {
	rows, err := readRows(ctx, s.pool, c)
	return rows, wrapErr("read", c, err)
}

func (s *PostgresStore) ReplaceAll(ctx context.Context, c Collection, rows []Row) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return replaceRows(ctx, tx, c, rows)
	})
	return wrapErr("replace", c, err)
}

func (s *PostgresStore) Append(ctx context.Context, c Collection, row Row) error {
	data, err := encodeRow(c, row)
	if err != nil {
		return wrapErr("append", c, err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO records (collection, data) VALUES ($1, $2)`, string(c), data)
	return wrapErr("append", c, err)
}

// Update holds a transaction-scoped advisory lock on the collection for the
// whole read-modify-write cycle, so concurrent updates from any process are
// applied one after another.
func (s *PostgresStore) Update(ctx context.Context, c Collection, fn UpdateFunc) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(c)); err != nil {
			return wrapErr("lock", c, err)
		}
		rows, err := readRows(ctx, tx, c)
		if err != nil {
			return wrapErr("read", c, err)
		}
		next, err := fn(rows)
		if err != nil {
			return callerErr{err}
		}
		return wrapErr("replace", c, replaceRows(ctx, tx, c, next))
	})

	var ce callerErr
	if errors.As(err, &ce) {
		if errors.Is(ce.err, ErrNoChange) {
			return nil
		}
		return ce.err
	}
	var se *Error
	if err != nil && !errors.As(err, &se) {
		// begin or commit failed
		return wrapErr("update", c, err)
	}
	return err
}

// callerErr marks an error returned by an UpdateFunc so it is passed back
// unwrapped after the transaction rolls back.
type callerErr struct{ err error }

func (e callerErr) Error() string { return e.err.Error() }
func (e callerErr) Unwrap() error { return e.err }

func readRows(ctx context.Context, q querier, c Collection) ([]Row, error) {
	rs, err := q.Query(ctx, `SELECT data FROM records WHERE collection = $1 ORDER BY position`, string(c))
	if err != nil {
		return nil, err
	}
	raw, err := pgx.CollectRows(rs, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(raw))
	for _, b := range raw {
		row := Row{}
		// malformed documents decode to an empty row
		_ = json.Unmarshal(b, &row)
		rows = append(rows, row)
	}
	return rows, nil
}

func replaceRows(ctx context.Context, tx pgx.Tx, c Collection, rows []Row) error {
	if _, err := tx.Exec(ctx, `DELETE FROM records WHERE collection = $1`, string(c)); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		data, err := encodeRow(c, row)
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO records (collection, data) VALUES ($1, $2)`, string(c), data)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func encodeRow(c Collection, row Row) (string, error) {
	data, err := json.Marshal(cloneRow(c, row))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
