// Package table implements the two versioning engines a registered
// table can use (single-timeline and dual-timeline), the transaction
// types that mutate them, and the registry that serializes access to a
// table's in-memory state against concurrent schema changes.
package table

import (
	"encoding/json"
	"time"

	"github.com/temporaldb/dbdaemon/pkg/types"
)

// newDualValue builds the envelope for a brand new object: current open
// from now, uncommitted unless commit is set, no active anchor.
func newDualValue(now time.Time, value json.RawMessage, commit bool) types.DualVersionedValue {
	return types.DualVersionedValue{
		Version: types.DualVersion{
			Current:   types.Anchor{Created: now, From: now},
			Committed: committedAt(now, commit),
		},
		Value: value,
	}
}

// dualUpdate returns a fresh record: a brand new current segment
// starting now, carrying value, with no active anchor of its own. It is
// always used to produce the "other half" of a split - the record that
// takes over the current timeline leaves the active timeline (if any)
// on whichever record already held it, so the new record's Active must
// be nil or two live records would both claim the active anchor.
func dualUpdate(now time.Time, value json.RawMessage, commit bool) types.DualVersionedValue {
	return types.DualVersionedValue{
		Version: types.DualVersion{
			Current:   types.Anchor{Created: now, From: now},
			Committed: committedAt(now, commit),
		},
		Value: value,
	}
}

// dualUpdateUncommitted mutates v in place: the current segment's start
// is retained, the value is replaced, and committed is updated. Active
// is untouched since this is not a split.
func dualUpdateUncommitted(v types.DualVersionedValue, now time.Time, value json.RawMessage, commit bool) types.DualVersionedValue {
	v.Value = value
	v.Version.Committed = committedAt(now, commit)
	return v
}

// dualRemove closes v's current segment at now; active is untouched.
func dualRemove(v types.DualVersionedValue, now time.Time) types.DualVersionedValue {
	to := now
	v.Version.Current.To = &to
	return v
}

// dualActivate opens v's active segment at now. If prevActive is
// non-nil its Created is retained so the active anchor's identity
// survives across re-activation.
func dualActivate(v types.DualVersionedValue, now time.Time, prevActive *types.Anchor) types.DualVersionedValue {
	created := now
	if prevActive != nil {
		created = prevActive.Created
	}
	v.Version.Active = &types.Anchor{Created: created, From: now}
	return v
}

// dualActivateRemove closes v's active segment at now; current is
// untouched.
func dualActivateRemove(v types.DualVersionedValue, now time.Time) types.DualVersionedValue {
	if v.Version.Active == nil {
		return v
	}
	to := now
	active := *v.Version.Active
	active.To = &to
	v.Version.Active = &active
	return v
}

func committedAt(now time.Time, commit bool) *time.Time {
	if !commit {
		return nil
	}
	t := now
	return &t
}
