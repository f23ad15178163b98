package temporal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/akosyrev/chronicle/internal/domain"
	"github.com/akosyrev/chronicle/internal/repository"
)

// QueryEngine serves the read side: as-of snapshots, full per-entity history
// and audit diffs over a time window. It never writes.
type QueryEngine struct {
	entities repository.EntityVersionStore
	details  repository.DetailVersionStore
	audit    repository.AuditTrail
}

func NewQueryEngine(entities repository.EntityVersionStore, details repository.DetailVersionStore, audit repository.AuditTrail) *QueryEngine {
	return &QueryEngine{entities: entities, details: details, audit: audit}
}

// ListCurrent returns the current state of every entity matching the filter,
// each paired with its current details.
func (q *QueryEngine) ListCurrent(ctx context.Context, filter domain.EntityFilter) ([]domain.EntityState, error) {
	rows, err := q.entities.ListCurrent(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list current entities: %w", err)
	}
	out := make([]domain.EntityState, 0, len(rows))
	for _, row := range rows {
		details, err := q.details.CurrentByEntity(ctx, row.EntityID)
		if err != nil {
			return nil, fmt.Errorf("failed to load details for entity %s: %w", row.EntityID, err)
		}
		out = append(out, domain.EntityState{Entity: row, Details: details})
	}
	return out, nil
}

// CurrentOf returns the current state of one entity or ErrNotFound when the
// entity has no open version.
func (q *QueryEngine) CurrentOf(ctx context.Context, entityID uuid.UUID) (domain.EntityState, error) {
	row, ok, err := q.entities.GetCurrent(ctx, entityID)
	if err != nil {
		return domain.EntityState{}, fmt.Errorf("failed to load current entity %s: %w", entityID, err)
	}
	if !ok {
		return domain.EntityState{}, fmt.Errorf("%w: entity %s has no current version", domain.ErrNotFound, entityID)
	}
	details, err := q.details.CurrentByEntity(ctx, entityID)
	if err != nil {
		return domain.EntityState{}, fmt.Errorf("failed to load details for entity %s: %w", entityID, err)
	}
	return domain.EntityState{Entity: row, Details: details}, nil
}

// AsOfAll returns every entity whose interval covers at, each paired with the
// details valid at the same moment.
func (q *QueryEngine) AsOfAll(ctx context.Context, at time.Time) ([]domain.EntityState, error) {
	rows, err := q.entities.AsOfAll(ctx, at)
	if err != nil {
		if isCorruption(err) {
			log.Printf("[temporal] CORRUPT STORE: as-of scan at %s: %v", at.Format(time.RFC3339), err)
		}
		return nil, fmt.Errorf("failed to scan entities as of %s: %w", at.Format(time.RFC3339), err)
	}
	out := make([]domain.EntityState, 0, len(rows))
	for _, row := range rows {
		details, err := q.details.AsOfByEntity(ctx, row.EntityID, at)
		if err != nil {
			if isCorruption(err) {
				log.Printf("[temporal] CORRUPT STORE: detail as-of for entity %s: %v", row.EntityID, err)
			}
			return nil, fmt.Errorf("failed to load details for entity %s as of %s: %w", row.EntityID, at.Format(time.RFC3339), err)
		}
		out = append(out, domain.EntityState{Entity: row, Details: details})
	}
	return out, nil
}

// AsOf returns the state of one entity at a point in time, or ErrNotFound when
// no version covered that moment.
func (q *QueryEngine) AsOf(ctx context.Context, entityID uuid.UUID, at time.Time) (domain.EntityState, error) {
	row, ok, err := q.entities.AsOf(ctx, entityID, at)
	if err != nil {
		if isCorruption(err) {
			log.Printf("[temporal] CORRUPT STORE: entity %s as of %s: %v", entityID, at.Format(time.RFC3339), err)
		}
		return domain.EntityState{}, fmt.Errorf("failed to load entity %s as of %s: %w", entityID, at.Format(time.RFC3339), err)
	}
	if !ok {
		return domain.EntityState{}, fmt.Errorf("%w: entity %s had no version at %s", domain.ErrNotFound, entityID, at.Format(time.RFC3339))
	}
	details, err := q.details.AsOfByEntity(ctx, entityID, at)
	if err != nil {
		return domain.EntityState{}, fmt.Errorf("failed to load details for entity %s as of %s: %w", entityID, at.Format(time.RFC3339), err)
	}
	return domain.EntityState{Entity: row, Details: details}, nil
}

// HistoryOf returns the full unfiltered timeline of one entity. An entity
// with no versions at all yields ErrNotFound.
func (q *QueryEngine) HistoryOf(ctx context.Context, entityID uuid.UUID) (domain.EntityTimeline, error) {
	entities, err := q.entities.History(ctx, entityID)
	if err != nil {
		return domain.EntityTimeline{}, fmt.Errorf("failed to load history for entity %s: %w", entityID, err)
	}
	if len(entities) == 0 {
		return domain.EntityTimeline{}, fmt.Errorf("%w: entity %s", domain.ErrNotFound, entityID)
	}
	details, err := q.details.HistoryByEntity(ctx, entityID)
	if err != nil {
		return domain.EntityTimeline{}, fmt.Errorf("failed to load detail history for entity %s: %w", entityID, err)
	}
	return domain.EntityTimeline{Entities: entities, Details: details}, nil
}

// Diff returns the audit entries recorded with from <= timestamp <= to in
// ascending timestamp order. An inverted window fails with ErrInvalidRange.
func (q *QueryEngine) Diff(ctx context.Context, from, to time.Time) ([]domain.AuditEntry, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: diff window %s..%s is inverted",
			domain.ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	entries, err := q.audit.Between(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	return entries, nil
}

func isCorruption(err error) bool {
	return errors.Is(err, domain.ErrInvariantViolation)
}
