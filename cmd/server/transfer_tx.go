package main

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"registryd/internal/resource/store"
	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
)

const defaultTransferTxTimeout = 5 * time.Second

// transferPostgresTx runs flow mutations inside one database transaction.
// A per-resource advisory lock serializes concurrent flows against the same
// resource, the SQL counterpart of the in-memory sharded lock.
type transferPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newTransferPostgresTx(db *sql.DB) *transferPostgresTx {
	return &transferPostgresTx{db: db}
}

func (t *transferPostgresTx) RunInTx(ctx context.Context, resourceID id.ResourceID, fn func(ctx context.Context, s store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTransferTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockKeyFor(resourceID)); err != nil {
		return err
	}

	if err := fn(ctx, store.NewPostgresTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

func lockKeyFor(resourceID id.ResourceID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(resourceID))
	return int64(h.Sum64())
}
