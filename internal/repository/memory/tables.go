package memory

import (
	"fmt"
	"sort"
	"time"

	"github.com/akosyrev/chronicle/internal/domain"
)

// rowOps adapts one versioned row type to the generic SCD2 table logic.
type rowOps[R any] struct {
	validFrom func(R) time.Time
	validTo   func(R) *time.Time
	isCurrent func(R) bool
	closeRow  func(R, time.Time) R
}

var entityOps = rowOps[domain.EntityVersion]{
	validFrom: func(r domain.EntityVersion) time.Time { return r.ValidFrom },
	validTo:   func(r domain.EntityVersion) *time.Time { return r.ValidTo },
	isCurrent: func(r domain.EntityVersion) bool { return r.IsCurrent },
	closeRow: func(r domain.EntityVersion, at time.Time) domain.EntityVersion {
		r.ValidTo = &at
		r.IsCurrent = false
		r.UpdatedAt = time.Now().UTC()
		return r
	},
}

var detailOps = rowOps[domain.DetailVersion]{
	validFrom: func(r domain.DetailVersion) time.Time { return r.ValidFrom },
	validTo:   func(r domain.DetailVersion) *time.Time { return r.ValidTo },
	isCurrent: func(r domain.DetailVersion) bool { return r.IsCurrent },
	closeRow: func(r domain.DetailVersion, at time.Time) domain.DetailVersion {
		r.ValidTo = &at
		r.IsCurrent = false
		r.UpdatedAt = time.Now().UTC()
		return r
	},
}

func getCurrentRow[K comparable, R any](rows map[K][]R, ops rowOps[R], key K) (R, bool) {
	for _, row := range rows[key] {
		if ops.isCurrent(row) {
			return row, true
		}
	}
	var zero R
	return zero, false
}

func closeCurrentRow[K comparable, R any](rows map[K][]R, ops rowOps[R], key K, at time.Time) (R, error) {
	var zero R
	for idx, row := range rows[key] {
		if !ops.isCurrent(row) {
			continue
		}
		if !at.After(ops.validFrom(row)) {
			return zero, fmt.Errorf("%w: close at %s would not follow valid_from %s",
				domain.ErrPreconditionFailed, at.Format(time.RFC3339Nano), ops.validFrom(row).Format(time.RFC3339Nano))
		}
		closed := ops.closeRow(row, at)
		rows[key][idx] = closed
		return closed, nil
	}
	return zero, domain.ErrNoCurrentVersion
}

// openNewRow appends row after checking that no existing interval for the key
// overlaps [validFrom(row), +inf). A closed interval [a, b) overlaps exactly
// when b > validFrom(row); an open-ended interval always overlaps.
func openNewRow[K comparable, R any](rows map[K][]R, ops rowOps[R], key K, row R) (R, error) {
	var zero R
	from := ops.validFrom(row)
	for _, existing := range rows[key] {
		to := ops.validTo(existing)
		if to == nil || to.After(from) {
			return zero, fmt.Errorf("%w: existing interval starting %s still covers %s",
				domain.ErrOverlap, ops.validFrom(existing).Format(time.RFC3339Nano), from.Format(time.RFC3339Nano))
		}
	}
	rows[key] = append(rows[key], row)
	return row, nil
}

func asOfRow[K comparable, R any](rows map[K][]R, ops rowOps[R], key K, at time.Time) (R, bool, error) {
	var zero R
	var match R
	found := 0
	for _, row := range rows[key] {
		if covers(ops.validFrom(row), ops.validTo(row), at) {
			match = row
			found++
		}
	}
	if found > 1 {
		return zero, false, fmt.Errorf("%w: %d rows cover %s for one key",
			domain.ErrInvariantViolation, found, at.Format(time.RFC3339Nano))
	}
	if found == 0 {
		return zero, false, nil
	}
	return match, true, nil
}

func historyRows[K comparable, R any](rows map[K][]R, ops rowOps[R], key K) []R {
	out := append([]R(nil), rows[key]...)
	sort.Slice(out, func(i, j int) bool {
		return ops.validFrom(out[i]).Before(ops.validFrom(out[j]))
	})
	return out
}

// covers reports whether [from, to) contains at; a nil to extends to +infinity.
func covers(from time.Time, to *time.Time, at time.Time) bool {
	if from.After(at) {
		return false
	}
	return to == nil || at.Before(*to)
}
