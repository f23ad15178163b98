package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/akosyrev/chronicle/internal/db"
	"github.com/akosyrev/chronicle/internal/repository"
)

type unitOfWork struct {
	conn *db.Connection
}

// NewUnitOfWork wires transactional execution over the shared connection pool.
func NewUnitOfWork(conn *db.Connection) repository.UnitOfWork {
	return &unitOfWork{conn: conn}
}

func (u *unitOfWork) Execute(ctx context.Context, fn func(tx repository.Tx) error) error {
	return u.conn.WithTx(ctx, func(pgTx pgx.Tx) error {
		return fn(&txStores{tx: pgTx})
	})
}

// txStores scopes every store to one open transaction.
type txStores struct {
	tx pgx.Tx
}

// LockKey takes a transaction-scoped advisory lock on the entity id, so
// writers for the same entity serialize while writers for distinct entities
// proceed in parallel. Released automatically at commit or rollback.
func (t *txStores) LockKey(ctx context.Context, entityID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, entityID.String())
	if err != nil {
		return fmt.Errorf("failed to lock entity %s: %w", entityID, err)
	}
	return nil
}

func (t *txStores) Kinds() repository.KindStore             { return NewKindStore(t.tx) }
func (t *txStores) Entities() repository.EntityVersionStore { return NewEntityStore(t.tx) }
func (t *txStores) Details() repository.DetailVersionStore  { return NewDetailStore(t.tx) }
func (t *txStores) Audit() repository.AuditTrail            { return NewAuditTrail(t.tx) }
