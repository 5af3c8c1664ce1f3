package table

import (
	"context"

	"github.com/temporaldb/dbdaemon/pkg/docstore"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

// Doc pairs a storage document id and version with its value, mirroring
// the original implementation's ElasticDoc<T>. DocID/Version identify
// one immutable record in the document store; the table-level
// versioning engines track which records are live for an object.
type Doc[T any] struct {
	DocID   types.DocID
	Version uint64
	Value   T
}

// NewDoc wraps value as a brand new record: fresh id, version 0.
func NewDoc[T any](value T) Doc[T] {
	return Doc[T]{DocID: types.NewDocID(), Version: 0, Value: value}
}

// WithUpdate mutates d in place: same DocID, version bumped by one,
// value replaced by f(d.Value).
func (d Doc[T]) WithUpdate(f func(T) T) Doc[T] {
	return Doc[T]{DocID: d.DocID, Version: d.Version + 1, Value: f(d.Value)}
}

// Split produces two independent records from d: prev is d mutated in
// place (same id, version+1, prevF applied), new is a brand new record
// (fresh id, version 0) built by applying newF to a copy of d's
// original value. Used whenever current and active diverge into two
// separate storage records.
func (d Doc[T]) Split(prevF, newF func(T) T) (prev, next Doc[T]) {
	prev = d.WithUpdate(prevF)
	next = NewDoc(newF(d.Value))
	return prev, next
}

type batchEntry[T any] struct {
	objectID types.ObjectID
	version  uint64
	value    T
}

// Batch accumulates the writes produced while deriving a commit,
// mirroring the original implementation's UpdateGuard<T>: every helper
// both returns the resulting Doc and records its write in the batch, so
// callers chain calls the same way the commit derivation does.
type Batch[T any] struct {
	encode  func(types.ObjectID, T) ([]byte, error)
	pending map[types.DocID]batchEntry[T]
}

// NewBatch constructs an empty batch. encode serializes a value,
// together with the object id it belongs to, to the wire payload
// stored by the document backend (the persisted envelope is flat:
// `object_id` alongside the value's own top-level fields).
func NewBatch[T any](encode func(types.ObjectID, T) ([]byte, error)) *Batch[T] {
	return &Batch[T]{encode: encode, pending: make(map[types.DocID]batchEntry[T])}
}

// InsertDoc records doc's current (docID, version, value) as a pending
// write without transforming it.
func (b *Batch[T]) InsertDoc(objectID types.ObjectID, doc Doc[T]) {
	b.pending[doc.DocID] = batchEntry[T]{objectID: objectID, version: doc.Version, value: doc.Value}
}

// Create wraps value as a new doc and records it.
func (b *Batch[T]) Create(objectID types.ObjectID, value T) Doc[T] {
	doc := NewDoc(value)
	b.InsertDoc(objectID, doc)
	return doc
}

// Update mutates doc in place via f and records the result.
func (b *Batch[T]) Update(objectID types.ObjectID, doc Doc[T], f func(T) T) Doc[T] {
	doc = doc.WithUpdate(f)
	b.InsertDoc(objectID, doc)
	return doc
}

// Replace splits doc into (prev, new) via prevF/newF, records both, and
// returns only new - used where the caller has no further use for prev
// beyond persisting it.
func (b *Batch[T]) Replace(objectID types.ObjectID, doc Doc[T], prevF, newF func(T) T) Doc[T] {
	prev, next := doc.Split(prevF, newF)
	b.InsertDoc(objectID, prev)
	b.InsertDoc(objectID, next)
	return next
}

// Split splits doc into (prev, new) via prevF/newF, records both, and
// returns both - used where the caller needs to track both halves
// (e.g. the new active record and the new current record).
func (b *Batch[T]) Split(objectID types.ObjectID, doc Doc[T], prevF, newF func(T) T) (prev, next Doc[T]) {
	prev, next = doc.Split(prevF, newF)
	b.InsertDoc(objectID, prev)
	b.InsertDoc(objectID, next)
	return prev, next
}

// Remove mutates doc in place via f (typically closing an anchor) and
// records the result without returning it, matching call sites that
// only care that the write happens.
func (b *Batch[T]) Remove(objectID types.ObjectID, doc Doc[T], f func(T) T) {
	b.Update(objectID, doc, f)
}

// Len reports the number of pending writes.
func (b *Batch[T]) Len() int { return len(b.pending) }

// Flush writes every pending entry to backend for tableID, using a
// single UpdateObject call when there is exactly one write and chunked
// BulkUpdate calls (1000 per chunk) otherwise.
func (b *Batch[T]) Flush(ctx context.Context, backend docstore.Backend, tableID types.TableID) error {
	if len(b.pending) == 0 {
		return nil
	}
	if len(b.pending) == 1 {
		for docID, entry := range b.pending {
			payload, err := b.encode(entry.objectID, entry.value)
			if err != nil {
				return err
			}
			return backend.UpdateObject(ctx, tableID, docstore.Update{
				DocID:   docID,
				Version: entry.version,
				Value:   payload,
			})
		}
	}

	const chunkSize = 1000
	chunk := make([]docstore.Update, 0, chunkSize)
	for docID, entry := range b.pending {
		payload, err := b.encode(entry.objectID, entry.value)
		if err != nil {
			return err
		}
		chunk = append(chunk, docstore.Update{DocID: docID, Version: entry.version, Value: payload})
		if len(chunk) == chunkSize {
			if err := backend.BulkUpdate(ctx, tableID, chunk); err != nil {
				return err
			}
			chunk = chunk[:0]
		}
	}
	if len(chunk) > 0 {
		if err := backend.BulkUpdate(ctx, tableID, chunk); err != nil {
			return err
		}
	}
	return nil
}
