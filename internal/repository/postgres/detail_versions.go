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

const detailColumns = `id, entity_uid, detail_code, value, hashdiff, valid_from, valid_to, is_current, created_at, updated_at`

type detailStore struct {
	q Querier
}

// NewDetailStore wires a detail version store over a pool or open transaction.
func NewDetailStore(q Querier) repository.DetailVersionStore {
	return &detailStore{q: q}
}

func (s *detailStore) GetCurrent(ctx context.Context, key domain.DetailKey) (domain.DetailVersion, bool, error) {
	row := s.q.QueryRow(
		ctx,
		`SELECT `+detailColumns+` FROM detail_versions
		 WHERE entity_uid = $1 AND detail_code = $2 AND is_current`,
		key.EntityID,
		key.DetailCode,
	)
	version, err := scanDetailVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DetailVersion{}, false, nil
		}
		return domain.DetailVersion{}, false, fmt.Errorf("failed to load current detail version: %w", err)
	}
	return version, true, nil
}

func (s *detailStore) CloseCurrent(ctx context.Context, key domain.DetailKey, at time.Time) (domain.DetailVersion, error) {
	row := s.q.QueryRow(
		ctx,
		`UPDATE detail_versions
		 SET valid_to = $3, is_current = FALSE, updated_at = now()
		 WHERE entity_uid = $1 AND detail_code = $2 AND is_current AND valid_from < $3
		 RETURNING `+detailColumns,
		key.EntityID,
		key.DetailCode,
		at,
	)
	closed, err := scanDetailVersion(row)
	if err == nil {
		return closed, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.DetailVersion{}, fmt.Errorf("failed to close detail version: %w", err)
	}

	var validFrom time.Time
	checkErr := s.q.QueryRow(
		ctx,
		`SELECT valid_from FROM detail_versions WHERE entity_uid = $1 AND detail_code = $2 AND is_current`,
		key.EntityID,
		key.DetailCode,
	).Scan(&validFrom)
	if errors.Is(checkErr, pgx.ErrNoRows) {
		return domain.DetailVersion{}, domain.ErrNoCurrentVersion
	}
	if checkErr != nil {
		return domain.DetailVersion{}, fmt.Errorf("failed to inspect current detail version: %w", checkErr)
	}
	return domain.DetailVersion{}, fmt.Errorf("%w: close at %s would not follow valid_from %s",
		domain.ErrPreconditionFailed, at.Format(time.RFC3339Nano), validFrom.Format(time.RFC3339Nano))
}

func (s *detailStore) OpenNew(ctx context.Context, version domain.DetailVersion) (domain.DetailVersion, error) {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	version.ValidTo = nil
	version.IsCurrent = true

	row := s.q.QueryRow(
		ctx,
		`INSERT INTO detail_versions (id, entity_uid, detail_code, value, hashdiff, valid_from, valid_to, is_current)
		 SELECT $1, $2, $3, $4, $5, $6, NULL, TRUE
		 WHERE NOT EXISTS (
		     SELECT 1 FROM detail_versions
		     WHERE entity_uid = $2 AND detail_code = $3 AND (valid_to IS NULL OR valid_to > $6)
		 )
		 RETURNING created_at, updated_at`,
		version.ID,
		version.EntityID,
		version.DetailCode,
		version.Value,
		version.Hashdiff,
		version.ValidFrom,
	)
	if err := row.Scan(&version.CreatedAt, &version.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DetailVersion{}, fmt.Errorf("%w: an interval for detail %s/%s still covers %s",
				domain.ErrOverlap, version.EntityID, version.DetailCode, version.ValidFrom.Format(time.RFC3339Nano))
		}
		return domain.DetailVersion{}, mapWriteError(err, "open detail version")
	}
	return version, nil
}

func (s *detailStore) AsOf(ctx context.Context, key domain.DetailKey, at time.Time) (domain.DetailVersion, bool, error) {
	rows, err := s.q.Query(
		ctx,
		`SELECT `+detailColumns+` FROM detail_versions
		 WHERE entity_uid = $1 AND detail_code = $2 AND valid_from <= $3 AND (valid_to IS NULL OR valid_to > $3)
		 LIMIT 2`,
		key.EntityID,
		key.DetailCode,
		at,
	)
	if err != nil {
		return domain.DetailVersion{}, false, fmt.Errorf("failed to query detail as-of: %w", err)
	}
	versions, err := collectDetailVersions(rows)
	if err != nil {
		return domain.DetailVersion{}, false, err
	}
	switch len(versions) {
	case 0:
		return domain.DetailVersion{}, false, nil
	case 1:
		return versions[0], true, nil
	default:
		return domain.DetailVersion{}, false, fmt.Errorf("%w: multiple intervals for detail %s/%s cover %s",
			domain.ErrInvariantViolation, key.EntityID, key.DetailCode, at.Format(time.RFC3339Nano))
	}
}

func (s *detailStore) History(ctx context.Context, key domain.DetailKey) ([]domain.DetailVersion, error) {
	rows, err := s.q.Query(
		ctx,
		`SELECT `+detailColumns+` FROM detail_versions
		 WHERE entity_uid = $1 AND detail_code = $2
		 ORDER BY valid_from ASC`,
		key.EntityID,
		key.DetailCode,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query detail history: %w", err)
	}
	return collectDetailVersions(rows)
}

func (s *detailStore) CurrentByEntity(ctx context.Context, entityID uuid.UUID) ([]domain.DetailVersion, error) {
	rows, err := s.q.Query(
		ctx,
		`SELECT `+detailColumns+` FROM detail_versions
		 WHERE entity_uid = $1 AND is_current
		 ORDER BY detail_code ASC`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list current details: %w", err)
	}
	return collectDetailVersions(rows)
}

func (s *detailStore) AsOfByEntity(ctx context.Context, entityID uuid.UUID, at time.Time) ([]domain.DetailVersion, error) {
	rows, err := s.q.Query(
		ctx,
		`SELECT `+detailColumns+` FROM detail_versions
		 WHERE entity_uid = $1 AND valid_from <= $2 AND (valid_to IS NULL OR valid_to > $2)
		 ORDER BY detail_code ASC`,
		entityID,
		at,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query details as-of: %w", err)
	}
	versions, err := collectDetailVersions(rows)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		if _, dup := seen[v.DetailCode]; dup {
			return nil, fmt.Errorf("%w: multiple intervals for detail %s/%s cover %s",
				domain.ErrInvariantViolation, entityID, v.DetailCode, at.Format(time.RFC3339Nano))
		}
		seen[v.DetailCode] = struct{}{}
	}
	return versions, nil
}

func (s *detailStore) HistoryByEntity(ctx context.Context, entityID uuid.UUID) ([]domain.DetailVersion, error) {
	rows, err := s.q.Query(
		ctx,
		`SELECT `+detailColumns+` FROM detail_versions
		 WHERE entity_uid = $1
		 ORDER BY valid_from ASC, detail_code ASC`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query detail history: %w", err)
	}
	return collectDetailVersions(rows)
}

func scanDetailVersion(row pgx.Row) (domain.DetailVersion, error) {
	var (
		version domain.DetailVersion
		validTo pgtype.Timestamptz
	)
	err := row.Scan(
		&version.ID,
		&version.EntityID,
		&version.DetailCode,
		&version.Value,
		&version.Hashdiff,
		&version.ValidFrom,
		&validTo,
		&version.IsCurrent,
		&version.CreatedAt,
		&version.UpdatedAt,
	)
	if err != nil {
		return domain.DetailVersion{}, err
	}
	if validTo.Valid {
		t := validTo.Time
		version.ValidTo = &t
	}
	return version, nil
}

func collectDetailVersions(rows pgx.Rows) ([]domain.DetailVersion, error) {
	defer rows.Close()
	versions := []domain.DetailVersion{}
	for rows.Next() {
		version, err := scanDetailVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detail version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detail versions: %w", err)
	}
	return versions, nil
}
