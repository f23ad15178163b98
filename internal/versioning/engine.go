package versioning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akosyrev/chronicle/internal/domain"
	"github.com/akosyrev/chronicle/internal/repository"
)

// Engine is the SCD2 upsert orchestrator. It owns no state itself: every call
// runs as one atomic unit of work against the supplied stores, deciding no-op
// versus change via fingerprints, closing and opening version rows, and
// appending audit entries.
type Engine struct {
	uow repository.UnitOfWork
	now func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the default-change-timestamp clock. Tests use it to make
// behavior deterministic without wall-clock mocking.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an upsert engine over the given unit of work.
func NewEngine(uow repository.UnitOfWork, opts ...Option) *Engine {
	engine := &Engine{
		uow: uow,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// DetailInput is one (detailCode, value) pair supplied alongside an entity
// upsert.
type DetailInput struct {
	Code  string         `json:"detail_code"`
	Value map[string]any `json:"value"`
}

// UpsertEntityRequest describes one entity write. ChangeAt defaults to the
// engine clock when nil.
type UpsertEntityRequest struct {
	EntityID    uuid.UUID
	KindCode    string
	DisplayName string
	Details     []DetailInput
	Actor       string
	ChangeAt    *time.Time
}

// UpsertDetailRequest describes one standalone attribute write.
type UpsertDetailRequest struct {
	EntityID   uuid.UUID
	DetailCode string
	Value      map[string]any
	Actor      string
	ChangeAt   *time.Time
}

// UpsertEntity resolves the entity kind, applies the identity change and every
// supplied detail change inside one transaction, and returns the resulting
// current entity version. A repeat of an identical upsert is a pure read: no
// rows close or open and no audit entries are appended.
func (e *Engine) UpsertEntity(ctx context.Context, req UpsertEntityRequest) (domain.EntityVersion, error) {
	if err := validateEntityRequest(req); err != nil {
		return domain.EntityVersion{}, err
	}
	at := e.resolveChangeAt(req.ChangeAt)

	var result domain.EntityVersion
	err := e.uow.Execute(ctx, func(tx repository.Tx) error {
		if err := tx.LockKey(ctx, req.EntityID); err != nil {
			return fmt.Errorf("failed to lock entity %s: %w", req.EntityID, err)
		}
		if _, err := tx.Kinds().GetOrCreate(ctx, req.KindCode); err != nil {
			return fmt.Errorf("failed to resolve entity kind %s: %w", req.KindCode, err)
		}

		version, err := e.applyEntity(ctx, tx, req, at)
		if err != nil {
			return err
		}
		result = version

		for _, detail := range req.Details {
			if err := validateDetailInput(detail); err != nil {
				return err
			}
			if _, err := e.applyDetail(ctx, tx, req.EntityID, detail.Code, detail.Value, req.Actor, at); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.EntityVersion{}, err
	}
	return result, nil
}

// UpsertDetail applies one attribute change inside its own transaction and
// returns the resulting current detail version.
func (e *Engine) UpsertDetail(ctx context.Context, req UpsertDetailRequest) (domain.DetailVersion, error) {
	if req.EntityID == uuid.Nil {
		return domain.DetailVersion{}, fmt.Errorf("%w: entity_uid is required", domain.ErrValidation)
	}
	if err := validateDetailInput(DetailInput{Code: req.DetailCode, Value: req.Value}); err != nil {
		return domain.DetailVersion{}, err
	}
	at := e.resolveChangeAt(req.ChangeAt)

	var result domain.DetailVersion
	err := e.uow.Execute(ctx, func(tx repository.Tx) error {
		if err := tx.LockKey(ctx, req.EntityID); err != nil {
			return fmt.Errorf("failed to lock entity %s: %w", req.EntityID, err)
		}
		version, err := e.applyDetail(ctx, tx, req.EntityID, req.DetailCode, req.Value, req.Actor, at)
		if err != nil {
			return err
		}
		result = version
		return nil
	})
	if err != nil {
		return domain.DetailVersion{}, err
	}
	return result, nil
}

// applyEntity runs the close/open/audit cycle for the entity identity row.
func (e *Engine) applyEntity(ctx context.Context, tx repository.Tx, req UpsertEntityRequest, at time.Time) (domain.EntityVersion, error) {
	current, exists, err := tx.Entities().GetCurrent(ctx, req.EntityID)
	if err != nil {
		return domain.EntityVersion{}, fmt.Errorf("failed to read current entity version: %w", err)
	}

	fingerprint := Fingerprint(identityPayload(req.DisplayName, req.KindCode))
	if exists && fingerprint == Fingerprint(identityPayload(current.DisplayName, current.KindCode)) {
		return current, nil
	}

	if exists {
		if !at.After(current.ValidFrom) {
			return domain.EntityVersion{}, fmt.Errorf("%w: change at %s, current valid_from %s",
				domain.ErrNonMonotonicTimestamp, at.Format(time.RFC3339Nano), current.ValidFrom.Format(time.RFC3339Nano))
		}
		closed, err := tx.Entities().CloseCurrent(ctx, req.EntityID, at)
		if err != nil {
			return domain.EntityVersion{}, fmt.Errorf("failed to close entity version: %w", err)
		}
		opened, err := tx.Entities().OpenNew(ctx, domain.EntityVersion{
			EntityID:    req.EntityID,
			KindCode:    req.KindCode,
			DisplayName: req.DisplayName,
			ValidFrom:   at,
		})
		if err != nil {
			return domain.EntityVersion{}, fmt.Errorf("failed to open entity version: %w", err)
		}
		_, err = tx.Audit().Append(ctx, domain.AuditEntry{
			Actor:     req.Actor,
			Action:    domain.ActionUpdateEntity,
			EntityID:  req.EntityID,
			Before:    map[string]any{"displayName": closed.DisplayName},
			After:     map[string]any{"displayName": req.DisplayName},
			Timestamp: at,
		})
		if err != nil {
			return domain.EntityVersion{}, fmt.Errorf("failed to append audit entry: %w", err)
		}
		return opened, nil
	}

	opened, err := tx.Entities().OpenNew(ctx, domain.EntityVersion{
		EntityID:    req.EntityID,
		KindCode:    req.KindCode,
		DisplayName: req.DisplayName,
		ValidFrom:   at,
	})
	if err != nil {
		return domain.EntityVersion{}, fmt.Errorf("failed to open entity version: %w", err)
	}
	_, err = tx.Audit().Append(ctx, domain.AuditEntry{
		Actor:     req.Actor,
		Action:    domain.ActionInsertEntity,
		EntityID:  req.EntityID,
		After:     map[string]any{"displayName": req.DisplayName},
		Timestamp: at,
	})
	if err != nil {
		return domain.EntityVersion{}, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return opened, nil
}

// applyDetail runs the close/open/audit cycle for one attribute row. The
// stored hashdiff makes the no-op check a column compare instead of a deep
// compare of payloads.
func (e *Engine) applyDetail(ctx context.Context, tx repository.Tx, entityID uuid.UUID, code string, value map[string]any, actor string, at time.Time) (domain.DetailVersion, error) {
	key := domain.DetailKey{EntityID: entityID, DetailCode: code}

	current, exists, err := tx.Details().GetCurrent(ctx, key)
	if err != nil {
		return domain.DetailVersion{}, fmt.Errorf("failed to read current detail version: %w", err)
	}

	fingerprint := Fingerprint(value)
	if exists && current.Hashdiff == fingerprint {
		return current, nil
	}

	action := domain.ActionInsertDetail
	var before map[string]any
	if exists {
		if !at.After(current.ValidFrom) {
			return domain.DetailVersion{}, fmt.Errorf("%w: change at %s, current valid_from %s",
				domain.ErrNonMonotonicTimestamp, at.Format(time.RFC3339Nano), current.ValidFrom.Format(time.RFC3339Nano))
		}
		closed, err := tx.Details().CloseCurrent(ctx, key, at)
		if err != nil {
			return domain.DetailVersion{}, fmt.Errorf("failed to close detail version: %w", err)
		}
		action = domain.ActionUpdateDetail
		before = map[string]any{"value": closed.Value}
	}

	opened, err := tx.Details().OpenNew(ctx, domain.DetailVersion{
		EntityID:   entityID,
		DetailCode: code,
		Value:      value,
		Hashdiff:   fingerprint,
		ValidFrom:  at,
	})
	if err != nil {
		return domain.DetailVersion{}, fmt.Errorf("failed to open detail version: %w", err)
	}

	detailCode := code
	_, err = tx.Audit().Append(ctx, domain.AuditEntry{
		Actor:      actor,
		Action:     action,
		EntityID:   entityID,
		DetailCode: &detailCode,
		Before:     before,
		After:      map[string]any{"value": value},
		Timestamp:  at,
	})
	if err != nil {
		return domain.DetailVersion{}, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return opened, nil
}

func (e *Engine) resolveChangeAt(changeAt *time.Time) time.Time {
	if changeAt != nil {
		return changeAt.UTC()
	}
	return e.now().UTC()
}

// identityPayload is the business-relevant projection of an entity's identity
// attributes used for no-op detection.
func identityPayload(displayName, kindCode string) map[string]any {
	return map[string]any{
		"displayName": displayName,
		"kindCode":    kindCode,
	}
}

func validateEntityRequest(req UpsertEntityRequest) error {
	if req.EntityID == uuid.Nil {
		return fmt.Errorf("%w: entity_uid is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.KindCode) == "" {
		return fmt.Errorf("%w: entity_kind is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		return fmt.Errorf("%w: display_name is required", domain.ErrValidation)
	}
	return nil
}

func validateDetailInput(detail DetailInput) error {
	if strings.TrimSpace(detail.Code) == "" {
		return fmt.Errorf("%w: detail_code is required", domain.ErrValidation)
	}
	if detail.Value == nil {
		return fmt.Errorf("%w: detail value is required", domain.ErrValidation)
	}
	return nil
}
