// Package types defines the wire-level data model shared by the table
// engine, the document store and the RPC surface: table and object
// identifiers, anchors, and the single/dual-versioned value envelopes.
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TableID is an opaque, case-preserving table identifier, unique per
// registry. "schemas" is reserved for the self-schemas table.
type TableID string

// ObjectID identifies one logical object across its entire version
// history. Generated as a random 128-bit token unless the caller
// supplies one explicitly.
type ObjectID string

// NewObjectID generates a fresh random object id.
func NewObjectID() ObjectID {
	return ObjectID(uuid.NewString())
}

// DocID identifies one immutable version record in the document store.
// Distinct from ObjectID: one object id maps to many document ids over
// its lifetime.
type DocID string

// NewDocID generates a fresh random document id.
func NewDocID() DocID {
	return DocID(uuid.NewString())
}

// VersioningType selects which data engine owns a table.
type VersioningType string

const (
	Timestamped    VersioningType = "timestamped"
	SingleTimeline VersioningType = "single_timeline"
	DualTimeline   VersioningType = "dual_timeline"
)

// Timeline selects which axis a dual-timeline read/query targets.
type Timeline string

const (
	Current Timeline = "current"
	Active  Timeline = "active"
)

// Anchor is a timestamp triple bounding one segment of one timeline for
// one object. From is inclusive; To is exclusive and open-ended (nil)
// when the segment is still valid.
type Anchor struct {
	Created time.Time  `json:"created"`
	From    time.Time  `json:"from"`
	To      *time.Time `json:"to,omitempty"`
}

// Live reports whether this anchor is still open (To == nil).
func (a Anchor) Live() bool { return a.To == nil }

// Contains reports whether t falls within [From, To).
func (a Anchor) Contains(t time.Time) bool {
	if t.Before(a.From) {
		return false
	}
	return a.To == nil || t.Before(*a.To)
}

// TimeRange bounds a query by active-anchor time; a zero value means
// unbounded on that end.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// At returns a TimeRange that selects the single instant t.
func At(t time.Time) TimeRange { return TimeRange{From: t, To: t} }

// SingleVersionedValue is the envelope for single-timeline objects:
// exactly one version is "current" per object at any instant,
// characterized by Version.To == nil.
type SingleVersionedValue struct {
	Version Anchor          `json:"version"`
	Value   json.RawMessage `json:"value"`
}

// DualVersion is the version metadata carried by a dual-versioned value:
// a mandatory current anchor, an optional commit timestamp, and an
// optional active anchor.
type DualVersion struct {
	Current   Anchor     `json:"current"`
	Committed *time.Time `json:"committed,omitempty"`
	Active    *Anchor    `json:"active,omitempty"`
}

// DualVersionedValue is the envelope for dual-timeline objects.
type DualVersionedValue struct {
	Version DualVersion     `json:"version"`
	Value   json.RawMessage `json:"value"`
}

// Identified pairs an object id with its versioned value one level deep
// (`{object_id, value}`). Table records are not persisted in this shape;
// pkg/table stores them in flat envelopes.
type Identified[T any] struct {
	ObjectID ObjectID `json:"object_id"`
	Value    T        `json:"value"`
}

// OperationKind tags the sum type used by bulk update APIs.
type OperationKind string

const (
	OpCreate         OperationKind = "create"
	OpUpdate         OperationKind = "update"
	OpCreateOrUpdate OperationKind = "create_or_update"
	OpRemove         OperationKind = "remove"
)

// Operation is the sum `{Create(v), Update(v), CreateOrUpdate(v), Remove}`
// used by the bulk single-timeline update API.
type Operation struct {
	Kind  OperationKind   `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// TableDefinition is the user-supplied schema a table is registered
// with; persisted verbatim as the payload of its self-schemas record.
type TableDefinition struct {
	ID          TableID         `json:"id"`
	Versioning  VersioningType  `json:"versioning"`
	ForceUpdate bool            `json:"force_update"`
	ValueSchema json.RawMessage `json:"value_schema"`
}

// Compatibility classifies a schema-evolution request.
type Compatibility int

const (
	Compatible Compatibility = iota
	NeedsReindex
	Incompatible
)

func (c Compatibility) String() string {
	switch c {
	case Compatible:
		return "compatible"
	case NeedsReindex:
		return "needs_reindex"
	default:
		return "incompatible"
	}
}
