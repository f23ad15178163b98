package domain

import "errors"

// Sentinel errors for the temporal engine. Callers classify failures with
// errors.Is; repositories and engines wrap these with context via fmt.Errorf
// and %w.
var (
	// ErrValidation reports missing or malformed caller input. No state change.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound reports a query for an unknown entity.
	ErrNotFound = errors.New("entity not found")

	// ErrNoCurrentVersion reports a close attempted on a key with no open version.
	ErrNoCurrentVersion = errors.New("no current version for key")

	// ErrPreconditionFailed reports a close that would shrink an already-closed
	// interval, such as closing the same version twice.
	ErrPreconditionFailed = errors.New("version close precondition failed")

	// ErrOverlap reports that opening a new version would overlap an existing
	// interval for the same key. Under concurrent writers the losing transaction
	// surfaces this; the caller may re-read current state and retry.
	ErrOverlap = errors.New("version interval overlap")

	// ErrNonMonotonicTimestamp reports a change timestamp at or before the
	// current version's valid_from. Out-of-order backfill is not supported.
	ErrNonMonotonicTimestamp = errors.New("change timestamp not after current valid_from")

	// ErrInvalidRange reports unparsable or inverted time bounds on a read.
	ErrInvalidRange = errors.New("invalid time range")

	// ErrInvariantViolation reports more than one current or overlapping row
	// for a key. It indicates store corruption and is never silently resolved.
	ErrInvariantViolation = errors.New("temporal invariant violated")
)
