package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/akosyrev/chronicle/internal/domain"
	"github.com/akosyrev/chronicle/internal/repository"
)

const entityColumns = `id, entity_uid, entity_kind, display_name, valid_from, valid_to, is_current, created_at, updated_at`

type entityStore struct {
	q Querier
}

// NewEntityStore wires an entity version store over a pool or open transaction.
func NewEntityStore(q Querier) repository.EntityVersionStore {
	return &entityStore{q: q}
}

func (s *entityStore) GetCurrent(ctx context.Context, entityID uuid.UUID) (domain.EntityVersion, bool, error) {
	row := s.q.QueryRow(
		ctx,
		`SELECT `+entityColumns+` FROM entity_versions WHERE entity_uid = $1 AND is_current`,
		entityID,
	)
	version, err := scanEntityVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EntityVersion{}, false, nil
		}
		return domain.EntityVersion{}, false, fmt.Errorf("failed to load current entity version: %w", err)
	}
	return version, true, nil
}

func (s *entityStore) CloseCurrent(ctx context.Context, entityID uuid.UUID, at time.Time) (domain.EntityVersion, error) {
	row := s.q.QueryRow(
		ctx,
		`UPDATE entity_versions
		 SET valid_to = $2, is_current = FALSE, updated_at = now()
		 WHERE entity_uid = $1 AND is_current AND valid_from < $2
		 RETURNING `+entityColumns,
		entityID,
		at,
	)
	closed, err := scanEntityVersion(row)
	if err == nil {
		return closed, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.EntityVersion{}, fmt.Errorf("failed to close entity version: %w", err)
	}

	// Nothing updated: either no open row exists, or the close timestamp does
	// not follow the open row's valid_from.
	var validFrom time.Time
	checkErr := s.q.QueryRow(
		ctx,
		`SELECT valid_from FROM entity_versions WHERE entity_uid = $1 AND is_current`,
		entityID,
	).Scan(&validFrom)
	if errors.Is(checkErr, pgx.ErrNoRows) {
		return domain.EntityVersion{}, domain.ErrNoCurrentVersion
	}
	if checkErr != nil {
		return domain.EntityVersion{}, fmt.Errorf("failed to inspect current entity version: %w", checkErr)
	}
	return domain.EntityVersion{}, fmt.Errorf("%w: close at %s would not follow valid_from %s",
		domain.ErrPreconditionFailed, at.Format(time.RFC3339Nano), validFrom.Format(time.RFC3339Nano))
}

func (s *entityStore) OpenNew(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error) {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	version.ValidTo = nil
	version.IsCurrent = true

	// The WHERE NOT EXISTS guard rejects overlaps within this transaction's
	// snapshot; the gist exclusion constraint catches the concurrent case.
	row := s.q.QueryRow(
		ctx,
		`INSERT INTO entity_versions (id, entity_uid, entity_kind, display_name, valid_from, valid_to, is_current)
		 SELECT $1, $2, $3, $4, $5, NULL, TRUE
		 WHERE NOT EXISTS (
		     SELECT 1 FROM entity_versions
		     WHERE entity_uid = $2 AND (valid_to IS NULL OR valid_to > $5)
		 )
		 RETURNING created_at, updated_at`,
		version.ID,
		version.EntityID,
		version.KindCode,
		version.DisplayName,
		version.ValidFrom,
	)
	if err := row.Scan(&version.CreatedAt, &version.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EntityVersion{}, fmt.Errorf("%w: an interval for entity %s still covers %s",
				domain.ErrOverlap, version.EntityID, version.ValidFrom.Format(time.RFC3339Nano))
		}
		return domain.EntityVersion{}, mapWriteError(err, "open entity version")
	}
	return version, nil
}

func (s *entityStore) AsOf(ctx context.Context, entityID uuid.UUID, at time.Time) (domain.EntityVersion, bool, error) {
	rows, err := s.q.Query(
		ctx,
		`SELECT `+entityColumns+` FROM entity_versions
		 WHERE entity_uid = $1 AND valid_from <= $2 AND (valid_to IS NULL OR valid_to > $2)
		 LIMIT 2`,
		entityID,
		at,
	)
	if err != nil {
		return domain.EntityVersion{}, false, fmt.Errorf("failed to query entity as-of: %w", err)
	}
	versions, err := collectEntityVersions(rows)
	if err != nil {
		return domain.EntityVersion{}, false, err
	}
	switch len(versions) {
	case 0:
		return domain.EntityVersion{}, false, nil
	case 1:
		return versions[0], true, nil
	default:
		return domain.EntityVersion{}, false, fmt.Errorf("%w: multiple intervals for entity %s cover %s",
			domain.ErrInvariantViolation, entityID, at.Format(time.RFC3339Nano))
	}
}

func (s *entityStore) History(ctx context.Context, entityID uuid.UUID) ([]domain.EntityVersion, error) {
	rows, err := s.q.Query(
		ctx,
		`SELECT `+entityColumns+` FROM entity_versions WHERE entity_uid = $1 ORDER BY valid_from ASC`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity history: %w", err)
	}
	return collectEntityVersions(rows)
}

func (s *entityStore) ListCurrent(ctx context.Context, filter domain.EntityFilter) ([]domain.EntityVersion, error) {
	query := `SELECT ` + entityColumns + ` FROM entity_versions WHERE is_current`
	args := []any{}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		query += fmt.Sprintf(" AND display_name ILIKE $%d", len(args))
	}
	if filter.KindCode != "" {
		args = append(args, filter.KindCode)
		query += fmt.Sprintf(" AND entity_kind = $%d", len(args))
	}
	if filter.DetailCode != "" {
		args = append(args, filter.DetailCode)
		query += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM detail_versions d
			WHERE d.entity_uid = entity_versions.entity_uid AND d.detail_code = $%d AND d.is_current
		)`, len(args))
	}
	query += " ORDER BY display_name ASC, entity_uid ASC"

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list current entities: %w", err)
	}
	return collectEntityVersions(rows)
}

func (s *entityStore) AsOfAll(ctx context.Context, at time.Time) ([]domain.EntityVersion, error) {
	rows, err := s.q.Query(
		ctx,
		`SELECT `+entityColumns+` FROM entity_versions
		 WHERE valid_from <= $1 AND (valid_to IS NULL OR valid_to > $1)
		 ORDER BY display_name ASC, entity_uid ASC`,
		at,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entities as-of: %w", err)
	}
	versions, err := collectEntityVersions(rows)
	if err != nil {
		return nil, err
	}
	// One covering interval per entity is the non-overlap invariant; seeing a
	// duplicate uid here means the store is corrupted.
	seen := make(map[uuid.UUID]struct{}, len(versions))
	for _, v := range versions {
		if _, dup := seen[v.EntityID]; dup {
			return nil, fmt.Errorf("%w: multiple intervals for entity %s cover %s",
				domain.ErrInvariantViolation, v.EntityID, at.Format(time.RFC3339Nano))
		}
		seen[v.EntityID] = struct{}{}
	}
	return versions, nil
}

func scanEntityVersion(row pgx.Row) (domain.EntityVersion, error) {
	var (
		version domain.EntityVersion
		validTo pgtype.Timestamptz
	)
	err := row.Scan(
		&version.ID,
		&version.EntityID,
		&version.KindCode,
		&version.DisplayName,
		&version.ValidFrom,
		&validTo,
		&version.IsCurrent,
		&version.CreatedAt,
		&version.UpdatedAt,
	)
	if err != nil {
		return domain.EntityVersion{}, err
	}
	if validTo.Valid {
		t := validTo.Time
		version.ValidTo = &t
	}
	return version, nil
}

func collectEntityVersions(rows pgx.Rows) ([]domain.EntityVersion, error) {
	defer rows.Close()
	versions := []domain.EntityVersion{}
	for rows.Next() {
		version, err := scanEntityVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entity versions: %w", err)
	}
	return versions, nil
}
