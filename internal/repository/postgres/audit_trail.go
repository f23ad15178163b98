package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/akosyrev/chronicle/internal/domain"
	"github.com/akosyrev/chronicle/internal/repository"
)

type auditTrail struct {
	q Querier
}

// NewAuditTrail wires the append-only transition log.
func NewAuditTrail(q Querier) repository.AuditTrail {
	return &auditTrail{q: q}
}

func (t *auditTrail) Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	var detailCode any
	if entry.DetailCode != nil {
		detailCode = *entry.DetailCode
	}
	var before, after any
	if entry.Before != nil {
		before = entry.Before
	}
	if entry.After != nil {
		after = entry.After
	}

	err := t.q.QueryRow(
		ctx,
		`INSERT INTO audit_log (actor, action, entity_uid, detail_code, before, after, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, recorded_at`,
		entry.Actor,
		string(entry.Action),
		entry.EntityID,
		detailCode,
		before,
		after,
		entry.Timestamp,
	).Scan(&entry.ID, &entry.RecordedAt)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return entry, nil
}

func (t *auditTrail) Between(ctx context.Context, from, to time.Time) ([]domain.AuditEntry, error) {
	rows, err := t.q.Query(
		ctx,
		`SELECT id, actor, action, entity_uid, detail_code, before, after, ts, recorded_at
		 FROM audit_log
		 WHERE ts >= $1 AND ts <= $2
		 ORDER BY ts ASC, id ASC`,
		from,
		to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.Row) (domain.AuditEntry, error) {
	var (
		entry      domain.AuditEntry
		action     string
		detailCode pgtype.Text
	)
	err := row.Scan(
		&entry.ID,
		&entry.Actor,
		&action,
		&entry.EntityID,
		&detailCode,
		&entry.Before,
		&entry.After,
		&entry.Timestamp,
		&entry.RecordedAt,
	)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	entry.Action = domain.AuditAction(action)
	if detailCode.Valid {
		code := detailCode.String
		entry.DetailCode = &code
	}
	return entry, nil
}
