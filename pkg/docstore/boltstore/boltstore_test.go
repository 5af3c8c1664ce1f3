package boltstore

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temporaldb/dbdaemon/pkg/docstore"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateTableAndUpdateObject(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tableID := types.TableID("widgets")
	require.NoError(t, s.CreateTable(ctx, tableID, types.TableDefinition{ID: tableID}))

	has, err := s.HasTable(ctx, tableID)
	require.NoError(t, err)
	require.True(t, has)

	err = s.UpdateObject(ctx, tableID, docstore.Update{
		DocID:   "doc-1",
		Version: 1,
		Value:   json.RawMessage(`{"name":"a"}`),
	})
	require.NoError(t, err)

	records, err := s.QueryObjects(ctx, tableID, docstore.MatchAll(), nil, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, uint64(1), records[0].Version)
}

func TestUpdateObjectVersionConflictIsIgnored(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	tableID := types.TableID("widgets")
	require.NoError(t, s.CreateTable(ctx, tableID, types.TableDefinition{ID: tableID}))

	require.NoError(t, s.UpdateObject(ctx, tableID, docstore.Update{DocID: "doc-1", Version: 5, Value: json.RawMessage(`{"v":5}`)}))
	require.NoError(t, s.UpdateObject(ctx, tableID, docstore.Update{DocID: "doc-1", Version: 3, Value: json.RawMessage(`{"v":3}`)}))

	records, err := s.QueryObjects(ctx, tableID, docstore.MatchAll(), nil, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, uint64(5), records[0].Version)
}

func TestBulkUpdateChunking(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	tableID := types.TableID("widgets")
	require.NoError(t, s.CreateTable(ctx, tableID, types.TableDefinition{ID: tableID}))

	const n = 1500
	updates := make([]docstore.Update, n)
	for i := range updates {
		updates[i] = docstore.Update{
			DocID:   types.DocID(uuidFor(i)),
			Version: 1,
			Value:   json.RawMessage(`{"i":` + strconv.Itoa(i) + `}`),
		}
	}
	require.NoError(t, s.BulkUpdate(ctx, tableID, updates))

	records, err := s.QueryObjects(ctx, tableID, docstore.MatchAll(), nil, 0)
	require.NoError(t, err)
	require.Len(t, records, n)
}

func TestQueryObjectsScroll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	tableID := types.TableID("widgets")
	require.NoError(t, s.CreateTable(ctx, tableID, types.TableDefinition{ID: tableID}))

	for i := 0; i < 25; i++ {
		require.NoError(t, s.UpdateObject(ctx, tableID, docstore.Update{
			DocID:   types.DocID(uuidFor(i)),
			Version: 1,
			Value:   json.RawMessage(`{"i":` + strconv.Itoa(i) + `}`),
		}))
	}

	page, scroll, err := s.QueryObjectsFirst(ctx, tableID, docstore.MatchAll(), nil, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, page, 10)
	require.NotNil(t, scroll)

	total := len(page)
	for scroll != nil {
		var next []docstore.Record
		next, scroll, err = s.QueryObjectsNext(ctx, scroll)
		require.NoError(t, err)
		total += len(next)
	}
	require.Equal(t, 25, total)
}

func TestRemoveTable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	tableID := types.TableID("widgets")
	require.NoError(t, s.CreateTable(ctx, tableID, types.TableDefinition{ID: tableID}))
	require.NoError(t, s.RemoveTable(ctx, tableID))

	has, err := s.HasTable(ctx, tableID)
	require.NoError(t, err)
	require.False(t, has)
}

func uuidFor(i int) string {
	return "doc-" + strconv.Itoa(i)
}
