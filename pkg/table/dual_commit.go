package table

import (
	"encoding/json"
	"time"

	"github.com/temporaldb/dbdaemon/pkg/types"
)

// compose applies fs in order, left to right.
func compose(fs ...func(dv) dv) func(dv) dv {
	return func(v dv) dv {
		for _, f := range fs {
			v = f(v)
		}
		return v
	}
}

func fRemove(now time.Time) func(dv) dv {
	return func(v dv) dv { return dualRemove(v, now) }
}

func fUpdate(now time.Time, value json.RawMessage, commit bool) func(dv) dv {
	return func(dv) dv { return dualUpdate(now, value, commit) }
}

func fUpdateUncommitted(now time.Time, value json.RawMessage, commit bool) func(dv) dv {
	return func(v dv) dv { return dualUpdateUncommitted(v, now, value, commit) }
}

func fActivate(now time.Time, prevActive *types.Anchor) func(dv) dv {
	return func(v dv) dv { return dualActivate(v, now, prevActive) }
}

func fActivateRemove(now time.Time) func(dv) dv {
	return func(v dv) dv { return dualActivateRemove(v, now) }
}

// insertActivateChainValue builds the value of the record that becomes
// newly active from an inserted-then-activated payload, ignoring
// whatever value previously occupied that role: a fresh current-and-
// already-closed segment (from remove) layered under a fresh, open
// active segment.
func insertActivateChainValue(now time.Time, before json.RawMessage, prevActive *types.Anchor) dv {
	v := newDualValue(now, before, true)
	v = dualActivate(v, now, prevActive)
	v = dualRemove(v, now)
	return v
}

// Commit derives the storage writes implied by every pending token
// against the transaction's base data, applies them to an in-memory
// Batch, and folds the transaction's data set to the post-commit state.
// It mirrors DualVersionedTransaction::commit in the original
// implementation; see DESIGN.md for the two deliberate deviations
// (doc identity is never reused across a role change - e.g. an active
// record becoming a current record - only within the same role, since
// this implementation's backends key one storage record per DocID and
// reusing an id across roles would silently overwrite the other role's
// persisted record).
func (tx *DualVersionedTransaction) Commit(now time.Time, encode func(types.ObjectID, dv) ([]byte, error)) *Batch[dv] {
	batch := NewBatch[dv](encode)

	for objectID, tok := range tx.pending {
		obj, exists := tx.data.objects[objectID]
		delete(tx.data.objects, objectID)

		var result *dualObj
		switch tok.kind {
		case tokInsert:
			result = commitInsert(batch, now, objectID, obj, exists, tok)
		case tokRemove:
			result = commitRemove(batch, now, objectID, obj, exists)
		case tokActivate:
			result = commitActivate(batch, now, objectID, obj, exists)
		case tokActivateInsert:
			result = commitActivateInsert(batch, now, objectID, obj, exists, tok)
		case tokActivateRemove:
			result = commitActivateRemove(batch, now, objectID, obj, exists)
		case tokInsertActivate:
			result = commitInsertActivate(batch, now, objectID, obj, exists, tok)
		case tokInsertActivateInsert:
			result = commitInsertActivateInsert(batch, now, objectID, obj, exists, tok)
		case tokInsertActivateRemove:
			result = commitInsertActivateRemove(batch, now, objectID, obj, exists, tok)
		case tokRemoveActivate:
			result = commitRemoveActivate(batch, now, objectID, obj, exists)
		case tokRemoveActivateInsert:
			result = commitRemoveActivateInsert(batch, now, objectID, obj, exists, tok)
		}

		if result != nil {
			tx.data.objects[objectID] = *result
		}
	}

	tx.pending = make(map[types.ObjectID]token)
	return batch
}

func commitInsert(b *Batch[dv], now time.Time, objectID types.ObjectID, obj dualObj, exists bool, tok token) *dualObj {
	if !exists {
		current := b.Create(objectID, newDualValue(now, tok.after, tok.commit))
		return &dualObj{kind: objCreated, current: current, committed: tok.commit}
	}

	switch obj.kind {
	case objCreated:
		var current Doc[dv]
		if obj.committed {
			current = b.Replace(objectID, obj.current, fRemove(now), fUpdate(now, tok.after, tok.commit))
		} else {
			current = b.Update(objectID, obj.current, fUpdateUncommitted(now, tok.after, tok.commit))
		}
		return &dualObj{kind: objCreated, current: current, committed: tok.commit}
	case objRemoved:
		current := b.Create(objectID, newDualValue(now, tok.after, tok.commit))
		return &dualObj{kind: objUpdated, active: obj.active, current: current, committed: tok.commit}
	case objActivated:
		active, current := b.Split(objectID, obj.active, fRemove(now), fUpdate(now, tok.after, tok.commit))
		return &dualObj{kind: objUpdated, active: active, current: current, committed: tok.commit}
	case objUpdated:
		var current Doc[dv]
		if obj.committed {
			current = b.Replace(objectID, obj.current, fRemove(now), fUpdate(now, tok.after, tok.commit))
		} else {
			current = b.Update(objectID, obj.current, fUpdateUncommitted(now, tok.after, tok.commit))
		}
		return &dualObj{kind: objUpdated, active: obj.active, current: current, committed: tok.commit}
	}
	return nil
}

func commitRemove(b *Batch[dv], now time.Time, objectID types.ObjectID, obj dualObj, exists bool) *dualObj {
	if !exists {
		return nil
	}
	switch obj.kind {
	case objCreated:
		b.Remove(objectID, obj.current, fRemove(now))
		return nil
	case objUpdated:
		b.Remove(objectID, obj.current, fRemove(now))
		return &dualObj{kind: objRemoved, active: obj.active}
	case objActivated:
		active := b.Update(objectID, obj.active, fRemove(now))
		return &dualObj{kind: objRemoved, active: active}
	case objRemoved:
		return &obj
	}
	return nil
}

func commitActivate(b *Batch[dv], now time.Time, objectID types.ObjectID, obj dualObj, exists bool) *dualObj {
	if !exists {
		return nil
	}
	switch obj.kind {
	case objCreated:
		active := b.Update(objectID, obj.current, fActivate(now, nil))
		return &dualObj{kind: objActivated, active: active}
	case objUpdated:
		prevActive := obj.active.Value.Version.Active
		newActive := b.Update(objectID, obj.current, fActivate(now, prevActive))
		b.Remove(objectID, obj.active, fActivateRemove(now))
		return &dualObj{kind: objActivated, active: newActive}
	case objRemoved:
		b.Remove(objectID, obj.active, fActivateRemove(now))
		return nil
	case objActivated:
		return &obj
	}
	return nil
}

func commitActivateInsert(b *Batch[dv], now time.Time, objectID types.ObjectID, obj dualObj, exists bool, tok token) *dualObj {
	if !exists {
		current := b.Create(objectID, newDualValue(now, tok.after, tok.commit))
		return &dualObj{kind: objCreated, current: current, committed: tok.commit}
	}

	switch obj.kind {
	case objCreated:
		active, current := b.Split(objectID, obj.current, compose(fActivate(now, nil), fRemove(now)), fUpdate(now, tok.after, tok.commit))
		return &dualObj{kind: objUpdated, active: active, current: current, committed: tok.commit}
	case objUpdated:
		prevActive := obj.active.Value.Version.Active
		newActive, current := b.Split(objectID, obj.current, fActivate(now, prevActive), fUpdate(now, tok.after, tok.commit))
		b.Remove(objectID, obj.active, fActivateRemove(now))
		return &dualObj{kind: objUpdated, active: newActive, current: current, committed: tok.commit}
	case objRemoved:
		current := b.Replace(objectID, obj.active, fActivateRemove(now), fUpdate(now, tok.after, tok.commit))
		return &dualObj{kind: objCreated, current: current, committed: tok.commit}
	case objActivated:
		// The fused record stays exactly as the active record; the
		// insert targets a brand new current-only record rather than
		// reusing the fused record's doc id for a different role.
		current := b.Create(objectID, dualUpdate(now, tok.after, tok.commit))
		return &dualObj{kind: objUpdated, active: obj.active, current: current, committed: tok.commit}
	}
	return nil
}

func commitActivateRemove(b *Batch[dv], now time.Time, objectID types.ObjectID, obj dualObj, exists bool) *dualObj {
	if !exists {
		return nil
	}
	switch obj.kind {
	case objCreated:
		active := b.Update(objectID, obj.current, compose(fActivate(now, nil), fRemove(now)))
		return &dualObj{kind: objRemoved, active: active}
	case objUpdated:
		prevActive := obj.active.Value.Version.Active
		newActive := b.Update(objectID, obj.current, compose(fActivate(now, prevActive), fRemove(now)))
		b.Remove(objectID, obj.active, fActivateRemove(now))
		return &dualObj{kind: objRemoved, active: newActive}
	case objRemoved:
		b.Remove(objectID, obj.active, fActivateRemove(now))
		return nil
	case objActivated:
		return &obj
	}
	return nil
}

func commitInsertActivate(b *Batch[dv], now time.Time, objectID types.ObjectID, obj dualObj, exists bool, tok token) *dualObj {
	if !exists {
		active := b.Create(objectID, insertActivateChainValue(now, tok.before, nil))
		return &dualObj{kind: objActivated, active: active}
	}

	switch obj.kind {
	case objCreated:
		var active Doc[dv]
		if !obj.committed {
			active = b.Update(objectID, obj.current, compose(fUpdateUncommitted(now, tok.before, true), fActivate(now, nil), fRemove(now)))
		} else {
			active = b.Replace(objectID, obj.current, fRemove(now), compose(fUpdate(now, tok.before, true), compose(fActivate(now, nil), fRemove(now))))
		}
		return &dualObj{kind: objActivated, active: active}
	case objUpdated:
		prevActive := obj.active.Value.Version.Active
		var newActive Doc[dv]
		if !obj.committed {
			newActive = b.Update(objectID, obj.current, compose(fUpdateUncommitted(now, tok.before, true), fActivate(now, prevActive), fRemove(now)))
		} else {
			newActive = b.Replace(objectID, obj.current, fRemove(now), compose(fUpdate(now, tok.before, true), compose(fActivate(now, prevActive), fRemove(now))))
		}
		b.Remove(objectID, obj.active, fActivateRemove(now))
		return &dualObj{kind: objActivated, active: newActive}
	case objRemoved, objActivated:
		prevActive := obj.active.Value.Version.Active
		newActive := b.Replace(objectID, obj.active, fActivateRemove(now), compose(fUpdate(now, tok.before, true), compose(fActivate(now, prevActive), fRemove(now))))
		return &dualObj{kind: objActivated, active: newActive}
	}
	return nil
}

func commitInsertActivateInsert(b *Batch[dv], now time.Time, objectID types.ObjectID, obj dualObj, exists bool, tok token) *dualObj {
	buildActive := func(prevActive *types.Anchor) dv { return insertActivateChainValue(now, tok.before, prevActive) }
	buildCurrent := func() dv { return dualUpdate(now, tok.after, tok.commit) }

	if !exists {
		active := b.Create(objectID, buildActive(nil))
		current := b.Create(objectID, buildCurrent())
		return &dualObj{kind: objUpdated, active: active, current: current, committed: tok.commit}
	}

	switch obj.kind {
	case objCreated:
		var active, current Doc[dv]
		if !obj.committed {
			active, current = b.Split(objectID, obj.current,
				compose(fUpdateUncommitted(now, tok.before, true), fActivate(now, nil), fRemove(now)),
				fUpdate(now, tok.after, tok.commit))
		} else {
			b.Remove(objectID, obj.current, fRemove(now))
			active = b.Create(objectID, buildActive(nil))
			current = b.Create(objectID, buildCurrent())
		}
		return &dualObj{kind: objUpdated, active: active, current: current, committed: tok.commit}
	case objUpdated:
		prevActive := obj.active.Value.Version.Active
		b.Remove(objectID, obj.active, fActivateRemove(now))
		var active, current Doc[dv]
		if !obj.committed {
			active, current = b.Split(objectID, obj.current,
				compose(fUpdateUncommitted(now, tok.before, true), fActivate(now, prevActive), fRemove(now)),
				fUpdate(now, tok.after, tok.commit))
		} else {
			b.Remove(objectID, obj.current, fRemove(now))
			active = b.Create(objectID, buildActive(nil))
			current = b.Create(objectID, buildCurrent())
		}
		return &dualObj{kind: objUpdated, active: active, current: current, committed: tok.commit}
	case objRemoved:
		b.Remove(objectID, obj.active, fActivateRemove(now))
		active := b.Create(objectID, buildActive(nil))
		current := b.Create(objectID, buildCurrent())
		return &dualObj{kind: objUpdated, active: active, current: current, committed: tok.commit}
	case objActivated:
		prevActive := obj.active.Value.Version.Active
		b.Remove(objectID, obj.active, fActivateRemove(now))
		active := b.Create(objectID, buildActive(prevActive))
		current := b.Create(objectID, buildCurrent())
		return &dualObj{kind: objUpdated, active: active, current: current, committed: tok.commit}
	}
	return nil
}

func commitInsertActivateRemove(b *Batch[dv], now time.Time, objectID types.ObjectID, obj dualObj, exists bool, tok token) *dualObj {
	buildActive := func(prevActive *types.Anchor) dv { return insertActivateChainValue(now, tok.before, prevActive) }

	if !exists {
		active := b.Create(objectID, buildActive(nil))
		return &dualObj{kind: objRemoved, active: active}
	}

	switch obj.kind {
	case objCreated:
		var active Doc[dv]
		if obj.committed {
			b.Remove(objectID, obj.current, fRemove(now))
			active = b.Create(objectID, buildActive(nil))
		} else {
			active = b.Update(objectID, obj.current, compose(fUpdateUncommitted(now, tok.before, true), compose(fActivate(now, nil), fRemove(now))))
		}
		return &dualObj{kind: objRemoved, active: active}
	case objUpdated:
		prevActive := obj.active.Value.Version.Active
		b.Remove(objectID, obj.active, fActivateRemove(now))
		var active Doc[dv]
		if obj.committed {
			b.Remove(objectID, obj.current, fRemove(now))
			active = b.Create(objectID, buildActive(prevActive))
		} else {
			active = b.Update(objectID, obj.current, compose(fUpdateUncommitted(now, tok.before, true), compose(fActivate(now, prevActive), fRemove(now))))
		}
		return &dualObj{kind: objRemoved, active: active}
	case objRemoved:
		prevActive := obj.active.Value.Version.Active
		b.Remove(objectID, obj.active, fActivateRemove(now))
		active := b.Create(objectID, buildActive(prevActive))
		return &dualObj{kind: objRemoved, active: active}
	case objActivated:
		prevActive := obj.active.Value.Version.Active
		b.Remove(objectID, obj.active, compose(fRemove(now), fActivateRemove(now)))
		active := b.Create(objectID, buildActive(prevActive))
		return &dualObj{kind: objRemoved, active: active}
	}
	return nil
}

func commitRemoveActivate(b *Batch[dv], now time.Time, objectID types.ObjectID, obj dualObj, exists bool) *dualObj {
	if !exists {
		return nil
	}
	switch obj.kind {
	case objCreated:
		b.Remove(objectID, obj.current, fRemove(now))
		return nil
	case objUpdated:
		b.Remove(objectID, obj.active, fActivateRemove(now))
		b.Remove(objectID, obj.current, fRemove(now))
		return nil
	case objRemoved:
		b.Remove(objectID, obj.active, fActivateRemove(now))
		return nil
	case objActivated:
		b.Remove(objectID, obj.active, compose(fRemove(now), fActivateRemove(now)))
		return nil
	}
	return nil
}

func commitRemoveActivateInsert(b *Batch[dv], now time.Time, objectID types.ObjectID, obj dualObj, exists bool, tok token) *dualObj {
	if !exists {
		current := b.Create(objectID, newDualValue(now, tok.after, tok.commit))
		return &dualObj{kind: objCreated, current: current, committed: tok.commit}
	}

	switch obj.kind {
	case objCreated:
		b.Remove(objectID, obj.current, fRemove(now))
	case objUpdated:
		prevActive := obj.active.Value.Version.Active
		b.Remove(objectID, obj.current, compose(fActivate(now, prevActive), compose(fRemove(now), fActivateRemove(now))))
		b.Remove(objectID, obj.active, fActivateRemove(now))
	case objRemoved:
		b.Remove(objectID, obj.active, fActivateRemove(now))
	case objActivated:
		b.Remove(objectID, obj.active, compose(fRemove(now), compose(fActivateRemove(now), fRemove(now))))
	}

	current := b.Create(objectID, newDualValue(now, tok.after, tok.commit))
	return &dualObj{kind: objCreated, current: current, committed: tok.commit}
}
