package verify

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temporaldb/dbdaemon/pkg/docstore"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

// sortedBackend is a minimal docstore.Backend whose QueryObjectsFirst
// actually applies the requested sort and returns everything in one
// page, sufficient to exercise the scan's ordering-dependent logic
// without a real document store.
type sortedBackend struct {
	records []docstore.Record
}

func (b *sortedBackend) WaitForDatabase(ctx context.Context) error { return nil }
func (b *sortedBackend) VerifyDatabase(ctx context.Context) error  { return nil }
func (b *sortedBackend) HasTable(ctx context.Context, id types.TableID) (bool, error) {
	return true, nil
}
func (b *sortedBackend) CreateTable(ctx context.Context, id types.TableID, def types.TableDefinition) error {
	return nil
}
func (b *sortedBackend) UpdateTable(ctx context.Context, id types.TableID, def types.TableDefinition) error {
	return nil
}
func (b *sortedBackend) ReindexTable(ctx context.Context, id types.TableID, oldDef, newDef types.TableDefinition) error {
	return nil
}
func (b *sortedBackend) RemoveTable(ctx context.Context, id types.TableID) error { return nil }
func (b *sortedBackend) UpdateObject(ctx context.Context, tableID types.TableID, update docstore.Update) error {
	return nil
}
func (b *sortedBackend) BulkUpdate(ctx context.Context, tableID types.TableID, updates []docstore.Update) error {
	return nil
}

func (b *sortedBackend) QueryObjects(ctx context.Context, tableID types.TableID, filter docstore.Filter, sortFields []docstore.SortField, limit int) ([]docstore.Record, error) {
	var out []docstore.Record
	for _, rec := range b.records {
		if filter.Matches(rec.Value) {
			out = append(out, rec)
		}
	}
	if len(sortFields) > 0 {
		sort.SliceStable(out, func(i, j int) bool { return sortFields[0].Less(out[i].Value, out[j].Value) })
	}
	return out, nil
}

func (b *sortedBackend) QueryObjectsFirst(ctx context.Context, tableID types.TableID, filter docstore.Filter, sortFields []docstore.SortField, keepAlive time.Duration, limit int) ([]docstore.Record, docstore.ScrollState, error) {
	recs, err := b.QueryObjects(ctx, tableID, filter, sortFields, limit)
	return recs, nil, err
}

func (b *sortedBackend) QueryObjectsNext(ctx context.Context, state docstore.ScrollState) ([]docstore.Record, docstore.ScrollState, error) {
	return nil, nil, nil
}

func activeRecord(t *testing.T, docID types.DocID, objectID types.ObjectID, from time.Time, to *time.Time) docstore.Record {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"object_id": objectID,
		"version": map[string]any{
			"active": types.Anchor{Created: from, From: from, To: to},
		},
	})
	require.NoError(t, err)
	return docstore.Record{DocID: docID, Value: payload}
}

func drain(t *testing.T, run *Run) []Msg {
	t.Helper()
	var msgs []Msg
	for msg := range run.Messages() {
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestScanDetectsOverlap(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)
	t3 := t0.Add(3 * time.Hour)

	backend := &sortedBackend{records: []docstore.Record{
		activeRecord(t, "r1", "o", t0, &t2),
		activeRecord(t, "r2", "o", t1, &t3),
	}}

	run := Start(context.Background(), backend, "widgets", nil)
	msgs := drain(t, run)

	require.Len(t, msgs, 2)
	require.Equal(t, MsgOverlap, msgs[0].Kind)
	require.Equal(t, types.DocID("r1"), msgs[0].Problem.PrevDocID)
	require.Equal(t, types.DocID("r2"), msgs[0].Problem.CurDocID)
	require.Equal(t, t2, *msgs[0].Problem.PrevTo)
	require.Equal(t, t1, msgs[0].Problem.CurFrom)
	require.Equal(t, MsgProgress, msgs[1].Kind)
	require.Equal(t, uint64(2), msgs[1].Progress)
}

func TestScanDetectsGap(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)
	t3 := t0.Add(3 * time.Hour)

	backend := &sortedBackend{records: []docstore.Record{
		activeRecord(t, "r1", "o", t0, &t1),
		activeRecord(t, "r2", "o", t2, &t3),
	}}

	run := Start(context.Background(), backend, "widgets", nil)
	msgs := drain(t, run)

	require.Len(t, msgs, 2)
	require.Equal(t, MsgGap, msgs[0].Kind)
	require.Equal(t, MsgProgress, msgs[1].Kind)
}

func TestScanContiguousAnchorsAreClean(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	backend := &sortedBackend{records: []docstore.Record{
		activeRecord(t, "r1", "o", t0, &t1),
		activeRecord(t, "r2", "o", t1, &t2),
	}}

	run := Start(context.Background(), backend, "widgets", nil)
	msgs := drain(t, run)

	require.Len(t, msgs, 1)
	require.Equal(t, MsgProgress, msgs[0].Kind)
	require.Equal(t, uint64(2), msgs[0].Progress)
}

func TestScanIgnoresRecordsWithoutActiveAnchor(t *testing.T) {
	payload, err := json.Marshal(map[string]any{
		"object_id": "o",
		"version":   map[string]any{"to": nil},
	})
	require.NoError(t, err)
	backend := &sortedBackend{records: []docstore.Record{{DocID: "r1", Value: payload}}}

	run := Start(context.Background(), backend, "widgets", nil)
	msgs := drain(t, run)

	require.Len(t, msgs, 1)
	require.Equal(t, MsgProgress, msgs[0].Kind)
	require.Equal(t, uint64(0), msgs[0].Progress)
}
