// Package memory provides in-memory implementations of the repository
// interfaces. The engine's unit tests run against them, and the loader CLI
// uses them for dry runs; semantics mirror the Postgres implementations,
// including the single-current and non-overlap invariants.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akosyrev/chronicle/internal/domain"
	"github.com/akosyrev/chronicle/internal/repository"
)

// Store holds all versioned state behind one RWMutex. Execute serializes
// writers; reads through the store views take the read lock.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	kinds       map[string]domain.EntityKind
	entities    map[uuid.UUID][]domain.EntityVersion
	details     map[domain.DetailKey][]domain.DetailVersion
	audit       []domain.AuditEntry
	nextAuditID int64
	snapshot    []domain.EntityVersion
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{state: newState()}
}

func newState() *state {
	return &state{
		kinds:       make(map[string]domain.EntityKind),
		entities:    make(map[uuid.UUID][]domain.EntityVersion),
		details:     make(map[domain.DetailKey][]domain.DetailVersion),
		nextAuditID: 1,
	}
}

func (st *state) clone() *state {
	out := &state{
		kinds:       make(map[string]domain.EntityKind, len(st.kinds)),
		entities:    make(map[uuid.UUID][]domain.EntityVersion, len(st.entities)),
		details:     make(map[domain.DetailKey][]domain.DetailVersion, len(st.details)),
		audit:       append([]domain.AuditEntry(nil), st.audit...),
		nextAuditID: st.nextAuditID,
		snapshot:    append([]domain.EntityVersion(nil), st.snapshot...),
	}
	for code, kind := range st.kinds {
		out.kinds[code] = kind
	}
	for key, rows := range st.entities {
		out.entities[key] = append([]domain.EntityVersion(nil), rows...)
	}
	for key, rows := range st.details {
		out.details[key] = append([]domain.DetailVersion(nil), rows...)
	}
	return out
}

// Execute implements repository.UnitOfWork with copy-on-write rollback: the
// prior state is restored whenever fn fails, so partial writes never persist.
func (s *Store) Execute(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	tx := &storeTx{state: s.state}
	if err := fn(tx); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

type storeTx struct {
	state *state
}

// LockKey is a no-op: Execute already holds the store-wide write lock.
func (t *storeTx) LockKey(ctx context.Context, entityID uuid.UUID) error { return nil }

func (t *storeTx) Kinds() repository.KindStore             { return &kindView{state: t.state} }
func (t *storeTx) Entities() repository.EntityVersionStore { return &entityView{state: t.state} }
func (t *storeTx) Details() repository.DetailVersionStore  { return &detailView{state: t.state} }
func (t *storeTx) Audit() repository.AuditTrail            { return &auditView{state: t.state} }

// Entities returns a read view for use outside a transaction.
func (s *Store) Entities() repository.EntityVersionStore { return &entityView{store: s, state: s.state} }

// Details returns a read view for use outside a transaction.
func (s *Store) Details() repository.DetailVersionStore { return &detailView{store: s, state: s.state} }

// Kinds returns a read view for use outside a transaction.
func (s *Store) Kinds() repository.KindStore { return &kindView{store: s, state: s.state} }

// Audit returns a read view for use outside a transaction.
func (s *Store) Audit() repository.AuditTrail { return &auditView{store: s, state: s.state} }

// Refresh implements repository.SnapshotStore by materializing the current
// entity rows.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := entityView{state: s.state}
	rows, err := view.listCurrentLocked(domain.EntityFilter{})
	if err != nil {
		return err
	}
	s.state.snapshot = rows
	return nil
}

// ListCurrent implements repository.SnapshotStore.
func (s *Store) ListCurrent(ctx context.Context) ([]domain.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.EntityVersion(nil), s.state.snapshot...), nil
}

// view locking helpers: views created by a transaction carry no store pointer
// because Execute already holds the write lock.

type entityView struct {
	store *Store
	state *state
}

func (v *entityView) st() *state {
	if v.store != nil {
		return v.store.state
	}
	return v.state
}

func (v *entityView) rlock() func() {
	if v.store == nil {
		return func() {}
	}
	v.store.mu.RLock()
	return v.store.mu.RUnlock
}

func (v *entityView) wlock() func() {
	if v.store == nil {
		return func() {}
	}
	v.store.mu.Lock()
	return v.store.mu.Unlock
}

func (v *entityView) GetCurrent(ctx context.Context, key uuid.UUID) (domain.EntityVersion, bool, error) {
	defer v.rlock()()
	row, ok := getCurrentRow(v.st().entities, entityOps, key)
	return row, ok, nil
}

func (v *entityView) CloseCurrent(ctx context.Context, key uuid.UUID, at time.Time) (domain.EntityVersion, error) {
	defer v.wlock()()
	return closeCurrentRow(v.st().entities, entityOps, key, at)
}

func (v *entityView) OpenNew(ctx context.Context, row domain.EntityVersion) (domain.EntityVersion, error) {
	defer v.wlock()()
	now := time.Now().UTC()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.ValidTo = nil
	row.IsCurrent = true
	row.CreatedAt = now
	row.UpdatedAt = now
	return openNewRow(v.st().entities, entityOps, row.EntityID, row)
}

func (v *entityView) AsOf(ctx context.Context, key uuid.UUID, at time.Time) (domain.EntityVersion, bool, error) {
	defer v.rlock()()
	return asOfRow(v.st().entities, entityOps, key, at)
}

func (v *entityView) History(ctx context.Context, key uuid.UUID) ([]domain.EntityVersion, error) {
	defer v.rlock()()
	return historyRows(v.st().entities, entityOps, key), nil
}

func (v *entityView) ListCurrent(ctx context.Context, filter domain.EntityFilter) ([]domain.EntityVersion, error) {
	defer v.rlock()()
	return v.listCurrentLocked(filter)
}

func (v *entityView) listCurrentLocked(filter domain.EntityFilter) ([]domain.EntityVersion, error) {
	var out []domain.EntityVersion
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	for key := range v.st().entities {
		row, ok := getCurrentRow(v.st().entities, entityOps, key)
		if !ok {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(row.DisplayName), query) {
			continue
		}
		if filter.KindCode != "" && row.KindCode != filter.KindCode {
			continue
		}
		if filter.DetailCode != "" {
			detailKey := domain.DetailKey{EntityID: row.EntityID, DetailCode: filter.DetailCode}
			if _, ok := getCurrentRow(v.st().details, detailOps, detailKey); !ok {
				continue
			}
		}
		out = append(out, row)
	}
	sortEntityVersions(out)
	return out, nil
}

func (v *entityView) AsOfAll(ctx context.Context, at time.Time) ([]domain.EntityVersion, error) {
	defer v.rlock()()
	var out []domain.EntityVersion
	for key := range v.st().entities {
		row, ok, err := asOfRow(v.st().entities, entityOps, key, at)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	sortEntityVersions(out)
	return out, nil
}

func sortEntityVersions(rows []domain.EntityVersion) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DisplayName != rows[j].DisplayName {
			return rows[i].DisplayName < rows[j].DisplayName
		}
		return rows[i].EntityID.String() < rows[j].EntityID.String()
	})
}

type detailView struct {
	store *Store
	state *state
}

func (v *detailView) st() *state {
	if v.store != nil {
		return v.store.state
	}
	return v.state
}

func (v *detailView) rlock() func() {
	if v.store == nil {
		return func() {}
	}
	v.store.mu.RLock()
	return v.store.mu.RUnlock
}

func (v *detailView) wlock() func() {
	if v.store == nil {
		return func() {}
	}
	v.store.mu.Lock()
	return v.store.mu.Unlock
}

func (v *detailView) GetCurrent(ctx context.Context, key domain.DetailKey) (domain.DetailVersion, bool, error) {
	defer v.rlock()()
	row, ok := getCurrentRow(v.st().details, detailOps, key)
	return row, ok, nil
}

func (v *detailView) CloseCurrent(ctx context.Context, key domain.DetailKey, at time.Time) (domain.DetailVersion, error) {
	defer v.wlock()()
	return closeCurrentRow(v.st().details, detailOps, key, at)
}

func (v *detailView) OpenNew(ctx context.Context, row domain.DetailVersion) (domain.DetailVersion, error) {
	defer v.wlock()()
	now := time.Now().UTC()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.ValidTo = nil
	row.IsCurrent = true
	row.CreatedAt = now
	row.UpdatedAt = now
	return openNewRow(v.st().details, detailOps, row.Key(), row)
}

func (v *detailView) AsOf(ctx context.Context, key domain.DetailKey, at time.Time) (domain.DetailVersion, bool, error) {
	defer v.rlock()()
	return asOfRow(v.st().details, detailOps, key, at)
}

func (v *detailView) History(ctx context.Context, key domain.DetailKey) ([]domain.DetailVersion, error) {
	defer v.rlock()()
	return historyRows(v.st().details, detailOps, key), nil
}

func (v *detailView) CurrentByEntity(ctx context.Context, entityID uuid.UUID) ([]domain.DetailVersion, error) {
	defer v.rlock()()
	var out []domain.DetailVersion
	for key := range v.st().details {
		if key.EntityID != entityID {
			continue
		}
		if row, ok := getCurrentRow(v.st().details, detailOps, key); ok {
			out = append(out, row)
		}
	}
	sortDetailVersions(out)
	return out, nil
}

func (v *detailView) AsOfByEntity(ctx context.Context, entityID uuid.UUID, at time.Time) ([]domain.DetailVersion, error) {
	defer v.rlock()()
	var out []domain.DetailVersion
	for key := range v.st().details {
		if key.EntityID != entityID {
			continue
		}
		row, ok, err := asOfRow(v.st().details, detailOps, key, at)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	sortDetailVersions(out)
	return out, nil
}

func (v *detailView) HistoryByEntity(ctx context.Context, entityID uuid.UUID) ([]domain.DetailVersion, error) {
	defer v.rlock()()
	var out []domain.DetailVersion
	for key, rows := range v.st().details {
		if key.EntityID != entityID {
			continue
		}
		out = append(out, rows...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ValidFrom.Equal(out[j].ValidFrom) {
			return out[i].ValidFrom.Before(out[j].ValidFrom)
		}
		return out[i].DetailCode < out[j].DetailCode
	})
	return out, nil
}

func sortDetailVersions(rows []domain.DetailVersion) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].DetailCode < rows[j].DetailCode
	})
}

type kindView struct {
	store *Store
	state *state
}

func (v *kindView) st() *state {
	if v.store != nil {
		return v.store.state
	}
	return v.state
}

func (v *kindView) GetOrCreate(ctx context.Context, code string) (domain.EntityKind, error) {
	if v.store != nil {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
	}
	if code = strings.TrimSpace(code); code == "" {
		return domain.EntityKind{}, fmt.Errorf("%w: kind code is required", domain.ErrValidation)
	}
	if kind, ok := v.st().kinds[code]; ok {
		return kind, nil
	}
	now := time.Now().UTC()
	kind := domain.EntityKind{Code: code, CreatedAt: now, UpdatedAt: now}
	v.st().kinds[code] = kind
	return kind, nil
}

func (v *kindView) List(ctx context.Context) ([]domain.EntityKind, error) {
	if v.store != nil {
		v.store.mu.RLock()
		defer v.store.mu.RUnlock()
	}
	out := make([]domain.EntityKind, 0, len(v.st().kinds))
	for _, kind := range v.st().kinds {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

type auditView struct {
	store *Store
	state *state
}

func (v *auditView) st() *state {
	if v.store != nil {
		return v.store.state
	}
	return v.state
}

func (v *auditView) Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if v.store != nil {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
	}
	entry.ID = v.st().nextAuditID
	v.st().nextAuditID++
	entry.RecordedAt = time.Now().UTC()
	v.st().audit = append(v.st().audit, entry)
	return entry, nil
}

func (v *auditView) Between(ctx context.Context, from, to time.Time) ([]domain.AuditEntry, error) {
	if v.store != nil {
		v.store.mu.RLock()
		defer v.store.mu.RUnlock()
	}
	var out []domain.AuditEntry
	for _, entry := range v.st().audit {
		if entry.Timestamp.Before(from) || entry.Timestamp.After(to) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
