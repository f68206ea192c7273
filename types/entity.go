package types

import "time"

// Entity carries the creation and last-update timestamps embedded in every
// persisted escrow record.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity stamps both fields with the current UTC time.
func NewEntity() Entity { return NewEntityAt(time.Now()) }

// NewEntityAt stamps both fields with t, normalised to UTC.
func NewEntityAt(t time.Time) Entity {
	t = t.UTC()
	return Entity{CreatedAt: t, UpdatedAt: t}
}

// Touch moves UpdatedAt to t.
func (e *Entity) Touch(t time.Time) {
	e.UpdatedAt = t.UTC()
}
