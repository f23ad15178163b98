package ingestion

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/akosyrev/chronicle/internal/domain"
	"github.com/akosyrev/chronicle/internal/repository/memory"
	"github.com/akosyrev/chronicle/internal/versioning"
)

var loadTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newLoader() (*Service, *memory.Store) {
	store := memory.NewStore()
	engine := versioning.NewEngine(store, versioning.WithClock(func() time.Time { return loadTime }))
	return NewService(engine, "PERSON"), store
}

func TestLoadCSV(t *testing.T) {
	service, store := newLoader()
	uid := uuid.New()

	csvData := "uid,display_name,email,phone\n" +
		uid.String() + ",Alice,a@x.com,123\n" +
		",Bob,b@x.com,\n"

	summary, err := service.Load(context.Background(), Request{
		FileName: "people.csv",
		Data:     strings.NewReader(csvData),
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if summary.TotalRows != 2 || summary.Loaded != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	state, ok, err := store.Entities().GetCurrent(context.Background(), uid)
	if err != nil || !ok {
		t.Fatalf("expected current version for %s, ok=%v err=%v", uid, ok, err)
	}
	if state.DisplayName != "Alice" || state.KindCode != "PERSON" {
		t.Errorf("unexpected entity %+v", state)
	}

	details, _ := store.Details().CurrentByEntity(context.Background(), uid)
	if len(details) != 2 {
		t.Fatalf("expected EMAIL and PHONE details, got %d", len(details))
	}
	if details[0].DetailCode != "EMAIL" {
		t.Errorf("detail codes must be upper-cased, got %q", details[0].DetailCode)
	}
	if details[0].Value["value"] != "a@x.com" {
		t.Errorf("cell values must be wrapped, got %v", details[0].Value)
	}

	// Bob's empty phone cell is skipped rather than stored.
	entries, _ := store.Audit().Between(context.Background(), loadTime.Add(-time.Hour), loadTime.Add(time.Hour))
	for _, entry := range entries {
		if entry.Actor != BatchActor {
			t.Errorf("expected actor %q, got %q", BatchActor, entry.Actor)
		}
	}
}

func TestLoadJSON(t *testing.T) {
	service, store := newLoader()

	jsonData := `[{"name": "Carol", "kind": "company", "email": "c@x.com"}]`
	summary, err := service.Load(context.Background(), Request{
		FileName: "entities.json",
		Data:     strings.NewReader(jsonData),
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if summary.Loaded != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	rows, _ := store.Entities().ListCurrent(context.Background(), domain.EntityFilter{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(rows))
	}
	if rows[0].KindCode != "COMPANY" {
		t.Errorf("kind column must be upper-cased, got %q", rows[0].KindCode)
	}
}

func TestLoadCollectsRowErrors(t *testing.T) {
	service, _ := newLoader()

	csvData := "uid,display_name\nnot-a-uuid,Alice\n,Bob\n"
	summary, err := service.Load(context.Background(), Request{
		FileName: "people.csv",
		Data:     strings.NewReader(csvData),
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if summary.Loaded != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].RowNumber != 2 {
		t.Errorf("expected one error on row 2, got %+v", summary.Errors)
	}
}

func TestLoadIdempotentRepeat(t *testing.T) {
	service, store := newLoader()
	uid := uuid.New()
	csvData := "uid,display_name,email\n" + uid.String() + ",Alice,a@x.com\n"

	for i := 0; i < 2; i++ {
		if _, err := service.Load(context.Background(), Request{
			FileName: "people.csv",
			Data:     strings.NewReader(csvData),
		}); err != nil {
			t.Fatalf("load %d failed: %v", i, err)
		}
	}

	history, _ := store.Entities().History(context.Background(), uid)
	if len(history) != 1 {
		t.Errorf("repeat load must be a no-op, got %d entity versions", len(history))
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	service, _ := newLoader()
	_, err := service.Load(context.Background(), Request{
		FileName: "people.pdf",
		Data:     strings.NewReader("x"),
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected unsupported format error, got %v", err)
	}
}
