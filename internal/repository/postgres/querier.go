// Package postgres implements the version stores over PostgreSQL. The schema
// carries its own defenses (partial unique index on current rows, gist
// exclusion constraints on intervals), so the application-level checks here
// are the first line and the constraints are the backstop.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/akosyrev/chronicle/internal/domain"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so every
// store works both standalone and inside a unit of work.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

// mapWriteError translates constraint failures raised by the schema's
// defense-in-depth constraints into the domain conflict error.
func mapWriteError(err error, context string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgExclusionViolation || pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s: %s", domain.ErrOverlap, context, pgErr.Message)
		}
	}
	return fmt.Errorf("failed to %s: %w", context, err)
}
