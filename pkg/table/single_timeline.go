package table

import (
	"context"
	"encoding/json"
	"time"

	"github.com/temporaldb/dbdaemon/pkg/dbderr"
	"github.com/temporaldb/dbdaemon/pkg/docstore"
	"github.com/temporaldb/dbdaemon/pkg/schema"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

type sv = types.SingleVersionedValue

// SingleVersionedData is the folded in-memory view of every live
// single-timeline object in a table: object id to its current-live
// record. Grounded on SingleVersionedData in the original
// implementation.
type SingleVersionedData struct {
	objects map[types.ObjectID]Doc[sv]
}

// NewSingleVersionedData returns an empty data set.
func NewSingleVersionedData() *SingleVersionedData {
	return &SingleVersionedData{objects: make(map[types.ObjectID]Doc[sv])}
}

// LoadSingleVersionedData reads every live record for tableID from
// backend and folds it into a SingleVersionedData.
func LoadSingleVersionedData(ctx context.Context, backend docstore.Backend, tableID types.TableID) (*SingleVersionedData, error) {
	records, err := backend.QueryObjects(ctx, tableID, docstore.FilterActiveSingle(), nil, 0)
	if err != nil {
		return nil, err
	}

	data := NewSingleVersionedData()
	for _, rec := range records {
		var env singleEnvelope
		if err := json.Unmarshal(rec.Value, &env); err != nil {
			return nil, &dbderr.InconsistentDataError{TableID: string(tableID), DocID: string(rec.DocID)}
		}
		data.objects[env.ObjectID] = Doc[sv]{DocID: rec.DocID, Version: rec.Version, Value: env.SingleVersionedValue}
	}
	return data, nil
}

// Get returns the live payload for objectID, if any.
func (d *SingleVersionedData) Get(objectID types.ObjectID) (json.RawMessage, bool) {
	doc, ok := d.objects[objectID]
	if !ok {
		return nil, false
	}
	return doc.Value.Value, true
}

// singleEnvelope is the flat wire shape a single-timeline record is
// stored as: object_id alongside the versioned value's own top-level
// fields (version, value), so docstore.Filter paths like
// FilterActiveSingle ("version.to") address the stored document
// directly without an extra nesting level.
type singleEnvelope struct {
	ObjectID types.ObjectID `json:"object_id"`
	types.SingleVersionedValue
}

// EncodeSingleVersionedValue serializes the persisted envelope a
// single-timeline record is stored as.
func EncodeSingleVersionedValue(objectID types.ObjectID, value sv) ([]byte, error) {
	return json.Marshal(singleEnvelope{ObjectID: objectID, SingleVersionedValue: value})
}

type singleEdit struct {
	remove bool
	value  json.RawMessage
}

// SingleVersionedTransaction buffers pending edits against a
// SingleVersionedData as object_id -> some(payload) | none (delete),
// grounded on SingleVersionedTransaction in the original
// implementation.
type SingleVersionedTransaction struct {
	data    *SingleVersionedData
	pending map[types.ObjectID]singleEdit
}

// NewSingleVersionedTransaction starts a transaction against data.
func NewSingleVersionedTransaction(data *SingleVersionedData) *SingleVersionedTransaction {
	return &SingleVersionedTransaction{data: data, pending: make(map[types.ObjectID]singleEdit)}
}

// Create buffers value if objectID has no live record and no pending
// edit; reports false otherwise.
func (tx *SingleVersionedTransaction) Create(objectID types.ObjectID, value json.RawMessage) bool {
	if _, ok := tx.pending[objectID]; ok {
		return false
	}
	if _, ok := tx.data.objects[objectID]; ok {
		return false
	}
	tx.pending[objectID] = singleEdit{value: value}
	return true
}

// Update buffers value only if objectID already has a live record or
// a pending edit; reports false otherwise.
func (tx *SingleVersionedTransaction) Update(objectID types.ObjectID, value json.RawMessage) bool {
	if _, ok := tx.pending[objectID]; ok {
		tx.pending[objectID] = singleEdit{value: value}
		return true
	}
	if _, ok := tx.data.objects[objectID]; ok {
		tx.pending[objectID] = singleEdit{value: value}
		return true
	}
	return false
}

// Insert buffers value unconditionally.
func (tx *SingleVersionedTransaction) Insert(objectID types.ObjectID, value json.RawMessage) {
	tx.pending[objectID] = singleEdit{value: value}
}

// Remove buffers a deletion if objectID is live (directly or via a
// pending upsert); reports false otherwise.
func (tx *SingleVersionedTransaction) Remove(objectID types.ObjectID) bool {
	if edit, ok := tx.pending[objectID]; ok && !edit.remove {
		tx.pending[objectID] = singleEdit{remove: true}
		return true
	}
	if _, ok := tx.data.objects[objectID]; ok {
		tx.pending[objectID] = singleEdit{remove: true}
		return true
	}
	return false
}

// Commit derives the update batch for every buffered edit per
// spec.md's single-timeline commit table: an upsert over a differing
// or force_update live record splits into a close-and-insert; an
// upsert over an equal live record on a non-force table is a no-op; an
// upsert over an absent record inserts; a removal over a live record
// closes it.
func (tx *SingleVersionedTransaction) Commit(now time.Time, forceUpdate bool, encode func(types.ObjectID, sv) ([]byte, error)) *Batch[sv] {
	batch := NewBatch[sv](encode)
	for objectID, edit := range tx.pending {
		existing, exists := tx.data.objects[objectID]
		switch {
		case !edit.remove && exists:
			if forceUpdate || !schema.Equal(existing.Value.Value, edit.value) {
				fresh := batch.Replace(objectID, existing,
					func(v sv) sv { return svClose(v, now) },
					func(sv) sv { return svNew(now, edit.value) },
				)
				tx.data.objects[objectID] = fresh
			}
		case !edit.remove && !exists:
			doc := batch.Create(objectID, svNew(now, edit.value))
			tx.data.objects[objectID] = doc
		case edit.remove && exists:
			batch.Remove(objectID, existing, func(v sv) sv { return svClose(v, now) })
			delete(tx.data.objects, objectID)
		}
	}
	tx.pending = make(map[types.ObjectID]singleEdit)
	return batch
}

func svNew(now time.Time, value json.RawMessage) sv {
	return sv{Version: types.Anchor{Created: now, From: now}, Value: value}
}

func svClose(v sv, now time.Time) sv {
	to := now
	v.Version.To = &to
	return v
}
