package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/akosyrev/chronicle/internal/domain"
	"github.com/akosyrev/chronicle/internal/repository"
)

var (
	t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t1 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
)

func TestOpenNewRejectsSecondCurrent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	uid := uuid.New()

	if _, err := store.Entities().OpenNew(ctx, domain.EntityVersion{EntityID: uid, KindCode: "PERSON", DisplayName: "Alice", ValidFrom: t0}); err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	_, err := store.Entities().OpenNew(ctx, domain.EntityVersion{EntityID: uid, KindCode: "PERSON", DisplayName: "Alice v2", ValidFrom: t1})
	if !errors.Is(err, domain.ErrOverlap) {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}
}

func TestCloseThenOpenSucceeds(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	uid := uuid.New()

	if _, err := store.Entities().OpenNew(ctx, domain.EntityVersion{EntityID: uid, KindCode: "PERSON", DisplayName: "Alice", ValidFrom: t0}); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	closed, err := store.Entities().CloseCurrent(ctx, uid, t1)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.IsCurrent || closed.ValidTo == nil || !closed.ValidTo.Equal(t1) {
		t.Errorf("unexpected closed row %+v", closed)
	}
	if _, err := store.Entities().OpenNew(ctx, domain.EntityVersion{EntityID: uid, KindCode: "PERSON", DisplayName: "Alice B", ValidFrom: t1}); err != nil {
		t.Fatalf("open after close failed: %v", err)
	}

	// Closing again finds no current row.
	if _, err := store.Entities().CloseCurrent(ctx, uid, t1); !errors.Is(err, domain.ErrPreconditionFailed) {
		// The reopened row starts at t1, so closing at t1 shrinks it to nothing.
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
}

func TestCloseCurrentWithoutOpenRow(t *testing.T) {
	store := NewStore()
	if _, err := store.Entities().CloseCurrent(context.Background(), uuid.New(), t1); !errors.Is(err, domain.ErrNoCurrentVersion) {
		t.Fatalf("expected ErrNoCurrentVersion, got %v", err)
	}
}

func TestAsOfSelectsCoveringInterval(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	uid := uuid.New()

	store.Entities().OpenNew(ctx, domain.EntityVersion{EntityID: uid, KindCode: "PERSON", DisplayName: "Alice", ValidFrom: t0})
	store.Entities().CloseCurrent(ctx, uid, t1)
	store.Entities().OpenNew(ctx, domain.EntityVersion{EntityID: uid, KindCode: "PERSON", DisplayName: "Alice B", ValidFrom: t1})

	cases := []struct {
		at      time.Time
		want    string
		present bool
	}{
		{t0.Add(-time.Second), "", false},
		{t0, "Alice", true},
		{t1.Add(-time.Second), "Alice", true},
		{t1, "Alice B", true},
		{t2, "Alice B", true},
	}
	for _, tc := range cases {
		row, ok, err := store.Entities().AsOf(ctx, uid, tc.at)
		if err != nil {
			t.Fatalf("asOf(%s) failed: %v", tc.at, err)
		}
		if ok != tc.present {
			t.Errorf("asOf(%s): present=%v, want %v", tc.at, ok, tc.present)
			continue
		}
		if ok && row.DisplayName != tc.want {
			t.Errorf("asOf(%s): got %q, want %q", tc.at, row.DisplayName, tc.want)
		}
	}
}

func TestAsOfDetectsCorruption(t *testing.T) {
	store := NewStore()
	uid := uuid.New()

	// Bypass OpenNew to plant overlapping rows, as a corrupted backing store
	// would present them.
	store.state.entities[uid] = []domain.EntityVersion{
		{ID: uuid.New(), EntityID: uid, DisplayName: "Alice", ValidFrom: t0, IsCurrent: true},
		{ID: uuid.New(), EntityID: uid, DisplayName: "Alice B", ValidFrom: t1, IsCurrent: true},
	}

	_, _, err := store.Entities().AsOf(context.Background(), uid, t2)
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestExecuteRollsBackAllWrites(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	uid := uuid.New()
	boom := errors.New("boom")

	err := store.Execute(ctx, func(tx repository.Tx) error {
		if _, err := tx.Entities().OpenNew(ctx, domain.EntityVersion{EntityID: uid, KindCode: "PERSON", DisplayName: "Alice", ValidFrom: t0}); err != nil {
			return err
		}
		if _, err := tx.Audit().Append(ctx, domain.AuditEntry{Action: domain.ActionInsertEntity, EntityID: uid, Timestamp: t0}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped failure, got %v", err)
	}

	history, _ := store.Entities().History(ctx, uid)
	if len(history) != 0 {
		t.Errorf("rollback must discard entity writes, found %d rows", len(history))
	}
	entries, _ := store.Audit().Between(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	if len(entries) != 0 {
		t.Errorf("rollback must discard audit writes, found %d entries", len(entries))
	}
}

func TestSnapshotRefresh(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	uid := uuid.New()

	store.Entities().OpenNew(ctx, domain.EntityVersion{EntityID: uid, KindCode: "PERSON", DisplayName: "Alice", ValidFrom: t0})

	rows, err := store.ListCurrent(ctx)
	if err != nil {
		t.Fatalf("snapshot list failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("snapshot must be empty before refresh, got %d rows", len(rows))
	}

	if err := store.Refresh(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	rows, _ = store.ListCurrent(ctx)
	if len(rows) != 1 || rows[0].DisplayName != "Alice" {
		t.Fatalf("unexpected snapshot contents %+v", rows)
	}
}
