package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/akosyrev/chronicle/internal/api"
	"github.com/akosyrev/chronicle/internal/domain"
	"github.com/akosyrev/chronicle/internal/repository/memory"
	"github.com/akosyrev/chronicle/internal/temporal"
	"github.com/akosyrev/chronicle/internal/versioning"
)

var (
	t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t1 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
)

func newTestServer() (*api.Server, *memory.Store) {
	store := memory.NewStore()
	engine := versioning.NewEngine(store, versioning.WithClock(func() time.Time { return t0 }))
	queries := temporal.NewQueryEngine(store.Entities(), store.Details(), store.Audit())
	return api.NewServer(engine, queries, store.Kinds(), nil), store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "tester")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func createAlice(t *testing.T, handler http.Handler, uid uuid.UUID) {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/entities", map[string]any{
		"entity_uid":       uid.String(),
		"entity_kind":      "PERSON",
		"display_name":     "Alice",
		"details":          map[string]any{"EMAIL": "a@x.com"},
		"change_timestamp": t0.Format(time.RFC3339),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create failed with %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateAndGetEntity(t *testing.T) {
	server, _ := newTestServer()
	handler := server.Routes()
	uid := uuid.New()
	createAlice(t, handler, uid)

	rec := doJSON(t, handler, http.MethodGet, "/entities/"+uid.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get failed with %d: %s", rec.Code, rec.Body.String())
	}
	state := decode[domain.EntityState](t, rec)
	if state.Entity.DisplayName != "Alice" {
		t.Errorf("got display name %q, want Alice", state.Entity.DisplayName)
	}
	if len(state.Details) != 1 || state.Details[0].DetailCode != "EMAIL" {
		t.Errorf("expected the EMAIL detail, got %+v", state.Details)
	}
	// Scalar detail values get wrapped on the way in.
	if state.Details[0].Value["value"] != "a@x.com" {
		t.Errorf("expected wrapped value payload, got %v", state.Details[0].Value)
	}
}

func TestPatchOpensNewVersion(t *testing.T) {
	server, store := newTestServer()
	handler := server.Routes()
	uid := uuid.New()
	createAlice(t, handler, uid)

	rec := doJSON(t, handler, http.MethodPatch, "/entities/"+uid.String(), map[string]any{
		"entity_kind":      "PERSON",
		"display_name":     "Alice B",
		"change_timestamp": t1.Format(time.RFC3339),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch failed with %d: %s", rec.Code, rec.Body.String())
	}

	history, _ := store.Entities().History(context.Background(), uid)
	if len(history) != 2 {
		t.Fatalf("expected 2 entity versions after patch, got %d", len(history))
	}
}

func TestHistoryEndpoint(t *testing.T) {
	server, _ := newTestServer()
	handler := server.Routes()
	uid := uuid.New()
	createAlice(t, handler, uid)

	rec := doJSON(t, handler, http.MethodGet, fmt.Sprintf("/entities/%s/history", uid), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history failed with %d: %s", rec.Code, rec.Body.String())
	}
	timeline := decode[domain.EntityTimeline](t, rec)
	if len(timeline.Entities) != 1 || len(timeline.Details) != 1 {
		t.Errorf("unexpected timeline %+v", timeline)
	}
}

func TestAsOfEndpoints(t *testing.T) {
	server, _ := newTestServer()
	handler := server.Routes()
	uid := uuid.New()
	createAlice(t, handler, uid)

	rec := doJSON(t, handler, http.MethodGet, fmt.Sprintf("/entities/%s/asof?at=%s", uid, t0.Format(time.RFC3339)), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("entity asof failed with %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/entities-asof?at=2025-06-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("entities asof failed with %d: %s", rec.Code, rec.Body.String())
	}
	states := decode[[]domain.EntityState](t, rec)
	if len(states) != 1 {
		t.Errorf("expected 1 entity as of the creation day, got %d", len(states))
	}

	// Before creation the entity does not exist.
	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/entities/%s/asof?at=2025-05-01", uid), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before creation, got %d", rec.Code)
	}
}

func TestDiffEndpoint(t *testing.T) {
	server, _ := newTestServer()
	handler := server.Routes()
	createAlice(t, handler, uuid.New())

	rec := doJSON(t, handler, http.MethodGet, "/diff?from=2025-06-01&to=2025-06-02", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("diff failed with %d: %s", rec.Code, rec.Body.String())
	}
	entries := decode[[]domain.AuditEntry](t, rec)
	if len(entries) != 2 {
		t.Errorf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Actor != "tester" {
		t.Errorf("expected actor from X-Actor header, got %q", entries[0].Actor)
	}

	rec = doJSON(t, handler, http.MethodGet, "/diff?from=2025-06-02&to=2025-06-01", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted range must fail with 400, got %d", rec.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	server, _ := newTestServer()
	handler := server.Routes()
	uid := uuid.New()
	createAlice(t, handler, uid)

	// Unknown entity.
	rec := doJSON(t, handler, http.MethodGet, "/entities/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown entity: expected 404, got %d", rec.Code)
	}

	// Malformed uid.
	rec = doJSON(t, handler, http.MethodGet, "/entities/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad uid: expected 400, got %d", rec.Code)
	}

	// Non-monotonic change timestamp.
	rec = doJSON(t, handler, http.MethodPatch, "/entities/"+uid.String(), map[string]any{
		"entity_kind":      "PERSON",
		"display_name":     "Alice Z",
		"change_timestamp": t0.Add(-time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("non-monotonic timestamp: expected 409, got %d", rec.Code)
	}

	// Missing display name.
	rec = doJSON(t, handler, http.MethodPost, "/entities", map[string]any{
		"entity_kind": "PERSON",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("validation error: expected 400, got %d", rec.Code)
	}
}

func TestListEntitiesFilters(t *testing.T) {
	server, _ := newTestServer()
	handler := server.Routes()
	createAlice(t, handler, uuid.New())

	rec := doJSON(t, handler, http.MethodGet, "/entities?q=ali", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed with %d: %s", rec.Code, rec.Body.String())
	}
	states := decode[[]domain.EntityState](t, rec)
	if len(states) != 1 {
		t.Errorf("substring filter must match, got %d entities", len(states))
	}

	rec = doJSON(t, handler, http.MethodGet, "/entities?kind=COMPANY", nil)
	states = decode[[]domain.EntityState](t, rec)
	if len(states) != 0 {
		t.Errorf("kind filter must exclude, got %d entities", len(states))
	}
}

func TestListEntitiesFromSnapshot(t *testing.T) {
	server, store := newTestServer()
	server.WithSnapshot(store)
	handler := server.Routes()
	createAlice(t, handler, uuid.New())

	// The snapshot lags behind writes until refreshed.
	rec := doJSON(t, handler, http.MethodGet, "/entities?source=snapshot", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot list failed with %d: %s", rec.Code, rec.Body.String())
	}
	rows := decode[[]domain.EntityVersion](t, rec)
	if len(rows) != 0 {
		t.Errorf("expected stale empty snapshot, got %d rows", len(rows))
	}

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	rec = doJSON(t, handler, http.MethodGet, "/entities?source=snapshot", nil)
	rows = decode[[]domain.EntityVersion](t, rec)
	if len(rows) != 1 || rows[0].DisplayName != "Alice" {
		t.Errorf("expected refreshed snapshot with Alice, got %+v", rows)
	}
}

func TestListKinds(t *testing.T) {
	server, _ := newTestServer()
	handler := server.Routes()
	createAlice(t, handler, uuid.New())

	rec := doJSON(t, handler, http.MethodGet, "/kinds", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("kinds failed with %d: %s", rec.Code, rec.Body.String())
	}
	kinds := decode[[]domain.EntityKind](t, rec)
	if len(kinds) != 1 || kinds[0].Code != "PERSON" {
		t.Errorf("expected the PERSON kind, got %+v", kinds)
	}
}
