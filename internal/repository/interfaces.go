package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/akosyrev/chronicle/internal/domain"
)

// VersionStore is the generic temporal storage contract for versioned rows of
// type R keyed by K. Implementations enforce two invariants per key: at most
// one row is current, and no two rows have overlapping [valid_from, valid_to)
// intervals (a nil valid_to extends to +infinity).
type VersionStore[K comparable, R any] interface {
	// GetCurrent returns the open version for the key, if any.
	GetCurrent(ctx context.Context, key K) (R, bool, error)

	// CloseCurrent sets valid_to = at and is_current = false on the open
	// version and returns the closed row. It fails with ErrNoCurrentVersion
	// when no open version exists and with ErrPreconditionFailed when the
	// close would produce an empty or negative interval.
	CloseCurrent(ctx context.Context, key K, at time.Time) (R, error)

	// OpenNew inserts row as the new open version (valid_to = nil,
	// is_current = true). It fails with ErrOverlap when any existing interval
	// for the key overlaps [valid_from, +inf). The check is transactional.
	OpenNew(ctx context.Context, row R) (R, error)

	// AsOf returns the version whose interval covers at. Finding more than one
	// such row means the store is corrupted and yields ErrInvariantViolation.
	AsOf(ctx context.Context, key K, at time.Time) (R, bool, error)

	// History returns every version for the key ordered by valid_from ascending.
	History(ctx context.Context, key K) ([]R, error)
}

// EntityVersionStore stores entity identity versions keyed by entity id.
type EntityVersionStore interface {
	VersionStore[uuid.UUID, domain.EntityVersion]

	// ListCurrent returns current versions matching the filter, ordered by
	// display name.
	ListCurrent(ctx context.Context, filter domain.EntityFilter) ([]domain.EntityVersion, error)

	// AsOfAll returns every entity version whose interval covers at.
	AsOfAll(ctx context.Context, at time.Time) ([]domain.EntityVersion, error)
}

// DetailVersionStore stores attribute versions keyed by (entity id, detail code).
type DetailVersionStore interface {
	VersionStore[domain.DetailKey, domain.DetailVersion]

	// CurrentByEntity returns the current detail versions of one entity.
	CurrentByEntity(ctx context.Context, entityID uuid.UUID) ([]domain.DetailVersion, error)

	// AsOfByEntity returns the detail versions of one entity valid at at.
	AsOfByEntity(ctx context.Context, entityID uuid.UUID, at time.Time) ([]domain.DetailVersion, error)

	// HistoryByEntity returns every detail version of one entity across all
	// detail codes, ordered by valid_from ascending.
	HistoryByEntity(ctx context.Context, entityID uuid.UUID) ([]domain.DetailVersion, error)
}

// KindStore manages EntityKind reference data. Kinds sit outside the temporal
// invariants: get-or-create by code, never versioned.
type KindStore interface {
	GetOrCreate(ctx context.Context, code string) (domain.EntityKind, error)
	List(ctx context.Context) ([]domain.EntityKind, error)
}

// AuditTrail is the append-only transition log. Write-only from the engine's
// perspective, read-only from queries.
type AuditTrail interface {
	Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)

	// Between returns entries with from <= timestamp <= to ordered by
	// timestamp ascending.
	Between(ctx context.Context, from, to time.Time) ([]domain.AuditEntry, error)
}

// Tx exposes the stores scoped to one open transaction.
type Tx interface {
	// LockKey serializes writers for one entity id. Writers on distinct keys
	// proceed in parallel; the lock is released when the transaction ends.
	LockKey(ctx context.Context, entityID uuid.UUID) error

	Kinds() KindStore
	Entities() EntityVersionStore
	Details() DetailVersionStore
	Audit() AuditTrail
}

// UnitOfWork runs fn inside one atomic transaction. Any error from fn rolls
// back every write made through the Tx.
type UnitOfWork interface {
	Execute(ctx context.Context, fn func(tx Tx) error) error
}

// SnapshotStore is the optional read accelerator over current entity rows.
// Refresh failures must never affect write-path correctness.
type SnapshotStore interface {
	Refresh(ctx context.Context) error
	ListCurrent(ctx context.Context) ([]domain.EntityVersion, error)
}
