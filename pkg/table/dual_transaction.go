package table

import (
	"context"
	"encoding/json"
	"time"

	"github.com/temporaldb/dbdaemon/pkg/dbderr"
	"github.com/temporaldb/dbdaemon/pkg/docstore"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

type dv = types.DualVersionedValue

// objKind discriminates the four shapes a dual-timeline object can be
// in between transactions, grounded on DualVersionedObj in the original
// implementation.
type objKind int

const (
	objCreated objKind = iota
	objRemoved
	objUpdated
	objActivated
)

// dualObj is the folded, in-memory state of one object's dual-timeline
// records. Activated stores its single fused record in active; Created
// stores its lone record in current; Updated and Removed distinguish
// the two roles explicitly.
type dualObj struct {
	kind      objKind
	current   Doc[dv]
	active    Doc[dv]
	committed bool
}

func (o dualObj) getCurrent() (Doc[dv], bool) {
	switch o.kind {
	case objCreated, objUpdated:
		return o.current, true
	case objActivated:
		return o.active, true
	default:
		return Doc[dv]{}, false
	}
}

func (o dualObj) getActive() (Doc[dv], bool) {
	switch o.kind {
	case objUpdated, objActivated, objRemoved:
		return o.active, true
	default:
		return Doc[dv]{}, false
	}
}

// combine merges a Created and a Removed half of the same object (seen
// as two separate storage records at load time) into Updated. Any
// other pairing is an inconsistency.
func (o dualObj) combine(other dualObj) (dualObj, bool) {
	if o.kind == objCreated && other.kind == objRemoved {
		return dualObj{kind: objUpdated, current: o.current, active: other.active, committed: o.committed}, true
	}
	if o.kind == objRemoved && other.kind == objCreated {
		return dualObj{kind: objUpdated, current: other.current, active: o.active, committed: other.committed}, true
	}
	return o, false
}

// dualObjFromDoc derives a dualObj from a single loaded record's own
// anchors: whether its current segment and active segment (if any) are
// still open.
func dualObjFromDoc(doc Doc[dv]) (dualObj, bool) {
	isCurrent := doc.Value.Version.Current.To == nil
	isActive := doc.Value.Version.Active != nil && doc.Value.Version.Active.To == nil
	committed := doc.Value.Version.Committed != nil

	switch {
	case isCurrent && isActive:
		return dualObj{kind: objActivated, active: doc}, true
	case !isCurrent && isActive:
		return dualObj{kind: objRemoved, active: doc}, true
	case isCurrent && !isActive:
		return dualObj{kind: objCreated, current: doc, committed: committed}, true
	default:
		return dualObj{}, false
	}
}

// DualVersionedData is the folded in-memory view of every live dual-
// timeline object in a table, kept by the registry slot and mutated
// only through a DualVersionedTransaction's Commit.
type DualVersionedData struct {
	objects map[types.ObjectID]dualObj
}

// NewDualVersionedData returns an empty data set.
func NewDualVersionedData() *DualVersionedData {
	return &DualVersionedData{objects: make(map[types.ObjectID]dualObj)}
}

// LoadDualVersionedData reads every current-or-active-open record for
// tableID from backend and folds it into a DualVersionedData, erroring
// with InconsistentDataError if any storage document's own anchors are
// self-contradictory or if an object resolves to more than two records.
func LoadDualVersionedData(ctx context.Context, backend docstore.Backend, tableID types.TableID) (*DualVersionedData, error) {
	filter := docstore.Or(docstore.FilterCurrentDual(), docstore.FilterActiveDual())
	records, err := backend.QueryObjects(ctx, tableID, filter, nil, 0)
	if err != nil {
		return nil, err
	}

	data := NewDualVersionedData()
	for _, rec := range records {
		var env dualEnvelope
		if err := json.Unmarshal(rec.Value, &env); err != nil {
			return nil, &dbderr.InconsistentDataError{TableID: string(tableID), DocID: string(rec.DocID)}
		}
		doc := Doc[dv]{DocID: rec.DocID, Version: rec.Version, Value: env.DualVersionedValue}
		obj, ok := dualObjFromDoc(doc)
		if !ok {
			return nil, &dbderr.InconsistentDataError{TableID: string(tableID), DocID: string(rec.DocID)}
		}
		existing, has := data.objects[env.ObjectID]
		if !has {
			data.objects[env.ObjectID] = obj
			continue
		}
		combined, ok := existing.combine(obj)
		if !ok {
			return nil, &dbderr.InconsistentDataError{TableID: string(tableID), DocID: string(rec.DocID)}
		}
		data.objects[env.ObjectID] = combined
	}
	return data, nil
}

func (d *DualVersionedData) GetCurrent(objectID types.ObjectID) (json.RawMessage, bool) {
	obj, ok := d.objects[objectID]
	if !ok {
		return nil, false
	}
	doc, ok := obj.getCurrent()
	if !ok {
		return nil, false
	}
	return doc.Value.Value, true
}

func (d *DualVersionedData) GetActive(objectID types.ObjectID) (json.RawMessage, bool) {
	obj, ok := d.objects[objectID]
	if !ok {
		return nil, false
	}
	doc, ok := obj.getActive()
	if !ok {
		return nil, false
	}
	return doc.Value.Value, true
}

// DualVersionedTransaction accumulates per-object pending tokens before
// they are derived into storage writes by Commit.
type DualVersionedTransaction struct {
	data    *DualVersionedData
	pending map[types.ObjectID]token
}

func NewDualVersionedTransaction(data *DualVersionedData) *DualVersionedTransaction {
	return &DualVersionedTransaction{data: data, pending: make(map[types.ObjectID]token)}
}

// dualEnvelope is the flat wire shape a dual-timeline record is stored
// as: object_id alongside the versioned value's own top-level fields
// (version, value), so that docstore.Filter paths like
// FilterActiveDual ("version.active.to") address the stored document
// directly without an extra nesting level.
type dualEnvelope struct {
	ObjectID types.ObjectID `json:"object_id"`
	types.DualVersionedValue
}

// EncodeDualVersionedValue serializes the persisted envelope a
// dual-timeline record is stored as.
func EncodeDualVersionedValue(objectID types.ObjectID, value dv) ([]byte, error) {
	return json.Marshal(dualEnvelope{ObjectID: objectID, DualVersionedValue: value})
}

func (tx *DualVersionedTransaction) baseCurrent(objectID types.ObjectID) func() (json.RawMessage, bool) {
	return func() (json.RawMessage, bool) { return tx.data.GetCurrent(objectID) }
}

func (tx *DualVersionedTransaction) baseActive(objectID types.ObjectID) func() (json.RawMessage, bool) {
	return func() (json.RawMessage, bool) { return tx.data.GetActive(objectID) }
}

// GetCurrent returns the current-timeline payload this transaction
// would commit for objectID, accounting for any pending edit.
func (tx *DualVersionedTransaction) GetCurrent(objectID types.ObjectID) (json.RawMessage, bool) {
	if t, ok := tx.pending[objectID]; ok {
		return tokenGetCurrent(t, tx.baseCurrent(objectID))
	}
	return tx.baseCurrent(objectID)()
}

// GetActive returns the active-timeline payload this transaction would
// commit for objectID, accounting for any pending edit.
func (tx *DualVersionedTransaction) GetActive(objectID types.ObjectID) (json.RawMessage, bool) {
	if t, ok := tx.pending[objectID]; ok {
		return tokenGetActive(t, tx.baseCurrent(objectID), tx.baseActive(objectID))
	}
	return tx.baseActive(objectID)()
}

// Create stages value as a brand new object if none currently exists;
// reports false if objectID already has a current record.
func (tx *DualVersionedTransaction) Create(objectID types.ObjectID, value json.RawMessage, commit bool) bool {
	if _, ok := tx.GetCurrent(objectID); ok {
		return false
	}
	tx.insert(objectID, value, commit)
	return true
}

// Update stages value over an existing current record; reports false
// if objectID has no current record.
func (tx *DualVersionedTransaction) Update(objectID types.ObjectID, value json.RawMessage, commit bool) bool {
	if _, ok := tx.GetCurrent(objectID); !ok {
		return false
	}
	tx.insert(objectID, value, commit)
	return true
}

// Insert stages value unconditionally, regardless of prior existence.
func (tx *DualVersionedTransaction) Insert(objectID types.ObjectID, value json.RawMessage, commit bool) {
	tx.insert(objectID, value, commit)
}

func (tx *DualVersionedTransaction) insert(objectID types.ObjectID, value json.RawMessage, commit bool) {
	if t, ok := tx.pending[objectID]; ok {
		tx.pending[objectID] = t.insert(value, commit)
		return
	}
	tx.pending[objectID] = newInsertToken(value, commit)
}

// Remove stages a removal of the current record; reports false if
// objectID has no current record.
func (tx *DualVersionedTransaction) Remove(objectID types.ObjectID) bool {
	if _, ok := tx.GetCurrent(objectID); !ok {
		return false
	}
	if t, ok := tx.pending[objectID]; ok {
		tx.pending[objectID] = t.remove()
	} else {
		tx.pending[objectID] = newRemoveToken()
	}
	return true
}

// Activate stages an activation of the current record; reports false
// if objectID has neither a current nor an active record.
func (tx *DualVersionedTransaction) Activate(objectID types.ObjectID) bool {
	_, curOK := tx.GetCurrent(objectID)
	_, actOK := tx.GetActive(objectID)
	if !curOK && !actOK {
		return false
	}
	if t, ok := tx.pending[objectID]; ok {
		tx.pending[objectID] = t.activate()
	} else {
		tx.pending[objectID] = newActivateToken()
	}
	return true
}
