package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akosyrev/chronicle/internal/domain"
	"github.com/akosyrev/chronicle/internal/repository"
)

type snapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore wires the materialized current-entity projection. Refresh
// runs concurrently so readers keep seeing the previous snapshot.
func NewSnapshotStore(pool *pgxpool.Pool) repository.SnapshotStore {
	return &snapshotStore{pool: pool}
}

func (s *snapshotStore) Refresh(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY entity_current_snapshot`)
	if err != nil {
		return fmt.Errorf("failed to refresh entity snapshot: %w", err)
	}
	return nil
}

func (s *snapshotStore) ListCurrent(ctx context.Context) ([]domain.EntityVersion, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT id, entity_uid, entity_kind, display_name, valid_from, valid_to, is_current, created_at, updated_at
		 FROM entity_current_snapshot
		 ORDER BY display_name ASC, entity_uid ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity snapshot: %w", err)
	}
	return collectEntityVersions(rows)
}
