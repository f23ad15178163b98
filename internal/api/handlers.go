package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/akosyrev/chronicle/internal/auth"
	"github.com/akosyrev/chronicle/internal/domain"
	"github.com/akosyrev/chronicle/internal/repository"
	"github.com/akosyrev/chronicle/internal/temporal"
	"github.com/akosyrev/chronicle/internal/versioning"
)

// Server holds the handlers for the REST surface.
type Server struct {
	engine   *versioning.Engine
	queries  *temporal.QueryEngine
	kinds    repository.KindStore
	snapshot repository.SnapshotStore
	ingest   http.Handler
}

// NewServer wires the REST handlers. The ingest handler is optional.
func NewServer(engine *versioning.Engine, queries *temporal.QueryEngine, kinds repository.KindStore, ingest http.Handler) *Server {
	return &Server{engine: engine, queries: queries, kinds: kinds, ingest: ingest}
}

// WithSnapshot enables serving entity listings from the snapshot projection
// via ?source=snapshot.
func (s *Server) WithSnapshot(store repository.SnapshotStore) *Server {
	s.snapshot = store
	return s
}

// Routes mounts every endpoint on a chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware)
	r.Use(auth.Middleware)

	r.Get("/entities", s.handleListEntities)
	r.Post("/entities", s.handleUpsertEntity)
	r.Get("/entities-asof", s.handleEntitiesAsOf)
	r.Get("/diff", s.handleDiff)
	r.Get("/kinds", s.handleListKinds)

	r.Route("/entities/{uid}", func(r chi.Router) {
		r.Get("/", s.handleGetEntity)
		r.Patch("/", s.handlePatchEntity)
		r.Get("/history", s.handleEntityHistory)
		r.Get("/asof", s.handleEntityAsOf)
	})

	if s.ingest != nil {
		r.Post("/ingest", s.ingest.ServeHTTP)
	}
	return r
}

// upsertPayload is the write-request body. Detail values that are not already
// objects get wrapped as {"value": v} before versioning.
type upsertPayload struct {
	EntityID    string         `json:"entity_uid"`
	KindCode    string         `json:"entity_kind"`
	DisplayName string         `json:"display_name"`
	Details     map[string]any `json:"details"`
	ChangeAt    string         `json:"change_timestamp"`
}

func (p upsertPayload) toRequest(actor string) (versioning.UpsertEntityRequest, error) {
	req := versioning.UpsertEntityRequest{
		KindCode:    p.KindCode,
		DisplayName: p.DisplayName,
		Actor:       actor,
	}

	if p.EntityID == "" {
		req.EntityID = uuid.New()
	} else {
		uid, err := uuid.Parse(p.EntityID)
		if err != nil {
			return versioning.UpsertEntityRequest{}, fmt.Errorf("%w: invalid entity_uid %q", domain.ErrValidation, p.EntityID)
		}
		req.EntityID = uid
	}

	if p.ChangeAt != "" {
		at, err := time.Parse(time.RFC3339, p.ChangeAt)
		if err != nil {
			return versioning.UpsertEntityRequest{}, fmt.Errorf("%w: invalid change_timestamp %q", domain.ErrValidation, p.ChangeAt)
		}
		req.ChangeAt = &at
	}

	for code, raw := range p.Details {
		value, ok := raw.(map[string]any)
		if !ok {
			value = map[string]any{"value": raw}
		}
		req.Details = append(req.Details, versioning.DetailInput{Code: code, Value: value})
	}
	return req, nil
}

func (s *Server) handleUpsertEntity(w http.ResponseWriter, r *http.Request) {
	var payload upsertPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err))
		return
	}
	req, err := payload.toRequest(auth.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	version, err := s.engine.UpsertEntity(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (s *Server) handlePatchEntity(w http.ResponseWriter, r *http.Request) {
	uid, err := parseUID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var payload upsertPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err))
		return
	}
	payload.EntityID = uid.String()
	req, err := payload.toRequest(auth.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	version, err := s.engine.UpsertEntity(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	// The snapshot path trades freshness for latency: entity rows only, no
	// details, staleness bounded by the refresher interval.
	if s.snapshot != nil && r.URL.Query().Get("source") == "snapshot" {
		rows, err := s.snapshot.ListCurrent(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}

	filter := domain.EntityFilter{
		Query:      r.URL.Query().Get("q"),
		KindCode:   r.URL.Query().Get("kind"),
		DetailCode: r.URL.Query().Get("detail"),
	}
	states, err := s.queries.ListCurrent(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	uid, err := parseUID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := s.queries.CurrentOf(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	uid, err := parseUID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	timeline, err := s.queries.HistoryOf(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

func (s *Server) handleEntityAsOf(w http.ResponseWriter, r *http.Request) {
	uid, err := parseUID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	at, err := temporal.ParseAsOf(r.URL.Query().Get("at"))
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := s.queries.AsOf(r.Context(), uid, at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleEntitiesAsOf(w http.ResponseWriter, r *http.Request) {
	at, err := temporal.ParseAsOf(r.URL.Query().Get("at"))
	if err != nil {
		writeError(w, err)
		return
	}
	states, err := s.queries.AsOfAll(r.Context(), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	from, to, err := temporal.ParseDateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.queries.Diff(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListKinds(w http.ResponseWriter, r *http.Request) {
	kinds, err := s.kinds.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kinds)
}

func parseUID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "uid")
	uid, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid entity uid %q", domain.ErrValidation, raw)
	}
	return uid, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidRange):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoCurrentVersion):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrOverlap),
		errors.Is(err, domain.ErrNonMonotonicTimestamp),
		errors.Is(err, domain.ErrPreconditionFailed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvariantViolation):
		log.Printf("[HTTP] INVARIANT VIOLATION: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
