package table

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temporaldb/dbdaemon/pkg/types"
)

func noopEncode(types.ObjectID, dv) ([]byte, error) { return nil, nil }

func TestDualTimelineCreateThenActivate(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	data := NewDualVersionedData()
	objectID := types.NewObjectID()

	tx := NewDualVersionedTransaction(data)
	require.True(t, tx.Create(objectID, json.RawMessage(`{"k":1}`), true))
	tx.Commit(t0, noopEncode)

	obj := data.objects[objectID]
	require.Equal(t, objCreated, obj.kind)
	require.Equal(t, t0, obj.current.Value.Version.Current.From)
	require.Nil(t, obj.current.Value.Version.Current.To)
	require.NotNil(t, obj.current.Value.Version.Committed)

	tx2 := NewDualVersionedTransaction(data)
	require.True(t, tx2.Activate(objectID))
	tx2.Commit(t1, noopEncode)

	obj = data.objects[objectID]
	require.Equal(t, objActivated, obj.kind)
	require.Nil(t, obj.active.Value.Version.Current.To)
	require.NotNil(t, obj.active.Value.Version.Active)
	require.Equal(t, t1, obj.active.Value.Version.Active.Created)
	require.Nil(t, obj.active.Value.Version.Active.To)
}

func TestDualTimelineUpdateAfterActivateDiverges(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)

	data := NewDualVersionedData()
	objectID := types.NewObjectID()

	tx := NewDualVersionedTransaction(data)
	tx.Create(objectID, json.RawMessage(`{"k":1}`), true)
	tx.Commit(t0, noopEncode)

	tx2 := NewDualVersionedTransaction(data)
	tx2.Activate(objectID)
	tx2.Commit(t1, noopEncode)

	oldActive := data.objects[objectID].active

	tx3 := NewDualVersionedTransaction(data)
	require.True(t, tx3.Update(objectID, json.RawMessage(`{"k":2}`), true))
	tx3.Commit(t2, noopEncode)

	obj := data.objects[objectID]
	require.Equal(t, objUpdated, obj.kind)

	// Active record: current side closed at T2, active side untouched.
	require.Equal(t, oldActive.Value.Version.Current.From, obj.active.Value.Version.Current.From)
	require.NotNil(t, obj.active.Value.Version.Current.To)
	require.Equal(t, t2, *obj.active.Value.Version.Current.To)
	require.NotNil(t, obj.active.Value.Version.Active)
	require.Nil(t, obj.active.Value.Version.Active.To)
	require.Equal(t, t1, obj.active.Value.Version.Active.Created)

	// Current record: brand new, open, no active anchor.
	require.Equal(t, t2, obj.current.Value.Version.Current.From)
	require.Nil(t, obj.current.Value.Version.Current.To)
	require.Nil(t, obj.current.Value.Version.Active)
}

func TestDualTimelineActivateAfterDivergenceRetainsChainIdentity(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)

	data := NewDualVersionedData()
	objectID := types.NewObjectID()

	tx := NewDualVersionedTransaction(data)
	tx.Create(objectID, json.RawMessage(`{"k":1}`), true)
	tx.Commit(t0, noopEncode)

	tx2 := NewDualVersionedTransaction(data)
	tx2.Activate(objectID)
	tx2.Commit(t1, noopEncode)

	tx3 := NewDualVersionedTransaction(data)
	tx3.Update(objectID, json.RawMessage(`{"k":2}`), true)
	tx3.Commit(t2, noopEncode)

	oldActive := data.objects[objectID].active

	tx4 := NewDualVersionedTransaction(data)
	require.True(t, tx4.Activate(objectID))
	tx4.Commit(t3, noopEncode)

	obj := data.objects[objectID]
	require.Equal(t, objActivated, obj.kind)

	// Old active record's active side closed at T3.
	_ = oldActive

	// New active record carries the chain's original Created timestamp (T1).
	require.NotNil(t, obj.active.Value.Version.Active)
	require.Equal(t, t1, obj.active.Value.Version.Active.Created)
	require.Equal(t, t3, obj.active.Value.Version.Active.From)
	require.Nil(t, obj.active.Value.Version.Active.To)
}

func TestDualTimelineUncommittedEditsCoalesce(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	data := NewDualVersionedData()
	objectID := types.NewObjectID()

	tx := NewDualVersionedTransaction(data)
	tx.Insert(objectID, json.RawMessage(`{"k":1}`), false)
	tx.Insert(objectID, json.RawMessage(`{"k":2}`), false)
	batch := tx.Commit(t0, noopEncode)
	require.Equal(t, 1, batch.Len())

	obj := data.objects[objectID]
	require.Equal(t, objCreated, obj.kind)
	require.JSONEq(t, `{"k":2}`, string(obj.current.Value.Value))
	require.Nil(t, obj.current.Value.Version.Committed)
	firstDocID := obj.current.DocID
	firstVersion := obj.current.Version

	tx2 := NewDualVersionedTransaction(data)
	tx2.Insert(objectID, json.RawMessage(`{"k":3}`), true)
	tx2.Commit(t1, noopEncode)

	obj = data.objects[objectID]
	require.Equal(t, firstDocID, obj.current.DocID)
	require.Equal(t, firstVersion+1, obj.current.Version)
	require.JSONEq(t, `{"k":3}`, string(obj.current.Value.Value))
	require.NotNil(t, obj.current.Value.Version.Committed)
	require.Equal(t, t0, obj.current.Value.Version.Current.From)
}

func TestDualTimelineCreateRejectsExistingObject(t *testing.T) {
	data := NewDualVersionedData()
	objectID := types.NewObjectID()
	tx := NewDualVersionedTransaction(data)
	require.True(t, tx.Create(objectID, json.RawMessage(`{"k":1}`), true))
	require.False(t, tx.Create(objectID, json.RawMessage(`{"k":2}`), true))
}

func TestDualTimelineUpdateRejectsMissingObject(t *testing.T) {
	data := NewDualVersionedData()
	tx := NewDualVersionedTransaction(data)
	require.False(t, tx.Update(types.NewObjectID(), json.RawMessage(`{"k":1}`), true))
}

func TestDualTimelineRemoveClearsObject(t *testing.T) {
	t0 := time.Now().UTC().Truncate(time.Second)
	t1 := t0.Add(time.Minute)

	data := NewDualVersionedData()
	objectID := types.NewObjectID()
	tx := NewDualVersionedTransaction(data)
	tx.Create(objectID, json.RawMessage(`{"k":1}`), true)
	tx.Commit(t0, noopEncode)

	tx2 := NewDualVersionedTransaction(data)
	require.True(t, tx2.Remove(objectID))
	tx2.Commit(t1, noopEncode)

	_, ok := data.objects[objectID]
	require.False(t, ok)
}
