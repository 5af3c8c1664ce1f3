package table

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temporaldb/dbdaemon/pkg/types"
)

func noopEncodeSingle(types.ObjectID, sv) ([]byte, error) { return nil, nil }

func TestSingleTimelineCreateUpdateRemove(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)

	data := NewSingleVersionedData()
	objectID := types.NewObjectID()

	tx := NewSingleVersionedTransaction(data)
	require.True(t, tx.Create(objectID, json.RawMessage(`{"a":1}`)))
	tx.Commit(t0, false, noopEncodeSingle)

	doc := data.objects[objectID]
	require.Equal(t, t0, doc.Value.Version.From)
	require.Nil(t, doc.Value.Version.To)
	require.JSONEq(t, `{"a":1}`, string(doc.Value.Value))
	firstDocID := doc.DocID

	tx2 := NewSingleVersionedTransaction(data)
	require.True(t, tx2.Update(objectID, json.RawMessage(`{"a":2}`)))
	tx2.Commit(t1, false, noopEncodeSingle)

	doc = data.objects[objectID]
	require.NotEqual(t, firstDocID, doc.DocID)
	require.Equal(t, t1, doc.Value.Version.From)
	require.Nil(t, doc.Value.Version.To)
	require.JSONEq(t, `{"a":2}`, string(doc.Value.Value))

	tx3 := NewSingleVersionedTransaction(data)
	require.True(t, tx3.Remove(objectID))
	tx3.Commit(t2, false, noopEncodeSingle)

	_, ok := data.objects[objectID]
	require.False(t, ok)
}

func TestSingleTimelineUpdateSkippedWhenValueUnchanged(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	data := NewSingleVersionedData()
	objectID := types.NewObjectID()

	tx := NewSingleVersionedTransaction(data)
	tx.Create(objectID, json.RawMessage(`{"a":1}`))
	tx.Commit(t0, false, noopEncodeSingle)

	before := data.objects[objectID]

	tx2 := NewSingleVersionedTransaction(data)
	tx2.Update(objectID, json.RawMessage(`{"a":1}`))
	tx2.Commit(t1, false, noopEncodeSingle)

	after := data.objects[objectID]
	require.Equal(t, before.DocID, after.DocID)
	require.Equal(t, before.Version, after.Version)
}

func TestSingleTimelineForceUpdateSplitsEvenWhenEqual(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	data := NewSingleVersionedData()
	objectID := types.NewObjectID()

	tx := NewSingleVersionedTransaction(data)
	tx.Create(objectID, json.RawMessage(`{"a":1}`))
	tx.Commit(t0, true, noopEncodeSingle)

	before := data.objects[objectID]

	tx2 := NewSingleVersionedTransaction(data)
	tx2.Update(objectID, json.RawMessage(`{"a":1}`))
	batch := tx2.Commit(t1, true, noopEncodeSingle)

	after := data.objects[objectID]
	require.NotEqual(t, before.DocID, after.DocID)
	require.Equal(t, 2, batch.Len())
}

func TestSingleTimelineCreateRejectsExisting(t *testing.T) {
	data := NewSingleVersionedData()
	objectID := types.NewObjectID()
	tx := NewSingleVersionedTransaction(data)
	require.True(t, tx.Create(objectID, json.RawMessage(`{"a":1}`)))
	require.False(t, tx.Create(objectID, json.RawMessage(`{"a":2}`)))
}

func TestSingleTimelineUpdateRejectsMissing(t *testing.T) {
	data := NewSingleVersionedData()
	tx := NewSingleVersionedTransaction(data)
	require.False(t, tx.Update(types.NewObjectID(), json.RawMessage(`{"a":1}`)))
}

func TestSingleTimelineRemoveRejectsMissing(t *testing.T) {
	data := NewSingleVersionedData()
	tx := NewSingleVersionedTransaction(data)
	require.False(t, tx.Remove(types.NewObjectID()))
}
