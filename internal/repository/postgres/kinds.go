package postgres

import (
	"context"
	"fmt"

	"github.com/akosyrev/chronicle/internal/domain"
	"github.com/akosyrev/chronicle/internal/repository"
)

type kindStore struct {
	q Querier
}

// NewKindStore wires the entity kind reference-data store.
func NewKindStore(q Querier) repository.KindStore {
	return &kindStore{q: q}
}

func (s *kindStore) GetOrCreate(ctx context.Context, code string) (domain.EntityKind, error) {
	var kind domain.EntityKind
	// The no-op DO UPDATE makes RETURNING yield the row on both paths.
	err := s.q.QueryRow(
		ctx,
		`INSERT INTO entity_kinds (code, name)
		 VALUES ($1, $1)
		 ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		 RETURNING code, name, description, created_at, updated_at`,
		code,
	).Scan(&kind.Code, &kind.Name, &kind.Description, &kind.CreatedAt, &kind.UpdatedAt)
	if err != nil {
		return domain.EntityKind{}, fmt.Errorf("failed to get or create entity kind %q: %w", code, err)
	}
	return kind, nil
}

func (s *kindStore) List(ctx context.Context) ([]domain.EntityKind, error) {
	rows, err := s.q.Query(
		ctx,
		`SELECT code, name, description, created_at, updated_at FROM entity_kinds ORDER BY code ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity kinds: %w", err)
	}
	defer rows.Close()

	kinds := []domain.EntityKind{}
	for rows.Next() {
		var kind domain.EntityKind
		if err := rows.Scan(&kind.Code, &kind.Name, &kind.Description, &kind.CreatedAt, &kind.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity kind: %w", err)
		}
		kinds = append(kinds, kind)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entity kinds: %w", err)
	}
	return kinds, nil
}
