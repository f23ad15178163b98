package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind is reference data describing a category of tracked entity.
// Kinds are created on first use and are not themselves versioned.
type EntityKind struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EntityVersion is one temporal slice of an entity's identity attributes.
// The interval [ValidFrom, ValidTo) is half-open; a nil ValidTo means the
// version is open-ended.
type EntityVersion struct {
	ID          uuid.UUID  `json:"id"`
	EntityID    uuid.UUID  `json:"entity_uid"`
	KindCode    string     `json:"entity_kind"`
	DisplayName string     `json:"display_name"`
	ValidFrom   time.Time  `json:"valid_from"`
	ValidTo     *time.Time `json:"valid_to"`
	IsCurrent   bool       `json:"is_current"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DetailKey identifies one named attribute of one entity.
type DetailKey struct {
	EntityID   uuid.UUID
	DetailCode string
}

// DetailVersion is one temporal slice of a single named attribute of an
// entity. Hashdiff fingerprints the business-relevant part of Value so
// repeated writes of the same payload can be detected without a deep compare.
type DetailVersion struct {
	ID         uuid.UUID      `json:"id"`
	EntityID   uuid.UUID      `json:"entity_uid"`
	DetailCode string         `json:"detail_code"`
	Value      map[string]any `json:"value"`
	Hashdiff   string         `json:"-"`
	ValidFrom  time.Time      `json:"valid_from"`
	ValidTo    *time.Time     `json:"valid_to"`
	IsCurrent  bool           `json:"is_current"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Key returns the composite versioning key for the detail.
func (d DetailVersion) Key() DetailKey {
	return DetailKey{EntityID: d.EntityID, DetailCode: d.DetailCode}
}

// EntityState pairs an entity version with the detail versions valid at the
// same moment. It is what read endpoints return for a single entity.
type EntityState struct {
	Entity  EntityVersion   `json:"entity"`
	Details []DetailVersion `json:"details"`
}

// EntityTimeline is the full, unfiltered history of one entity: every entity
// version and every detail version ordered by valid_from ascending.
type EntityTimeline struct {
	Entities []EntityVersion `json:"entities"`
	Details  []DetailVersion `json:"details"`
}

// EntityFilter narrows current-entity listings.
type EntityFilter struct {
	// Query matches display names case-insensitively as a substring.
	Query string
	// KindCode restricts to one entity kind.
	KindCode string
	// DetailCode restricts to entities that have a current detail with the code.
	DetailCode string
}
