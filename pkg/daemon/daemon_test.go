package daemon

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temporaldb/dbdaemon/pkg/docstore/boltstore"
	"github.com/temporaldb/dbdaemon/pkg/rpcserver"
	"github.com/temporaldb/dbdaemon/pkg/table"
	"github.com/temporaldb/dbdaemon/pkg/types"
	"github.com/temporaldb/dbdaemon/pkg/verify"
	"github.com/temporaldb/dbdaemon/pkg/wire"
)

// newTestDaemon wires a Daemon over a real bbolt store and a plain
// (TLS-free) listener, the way pkg/rpcclient's own tests drive
// pkg/rpcserver without certificates - the wire protocol is TLS-agnostic.
func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	ctx := context.Background()

	backend, err := boltstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	registry, err := table.Load(ctx, backend)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := rpcserver.NewServer(ln, nil)

	d := &Daemon{backend: backend, registry: registry, verifier: verify.NewManager(), server: server}
	d.registerHandlers()

	go server.Serve()
	t.Cleanup(func() { _ = d.Shutdown(context.Background()) })

	return d
}

// testConn is a bare wire.Request/Response round-tripper, standing in
// for rpcclient.Client (whose fields are unexported in another
// package) against a plain, unauthenticated listener.
type testConn struct {
	t    *testing.T
	conn net.Conn
	id   uint64
}

func dial(t *testing.T, d *Daemon) *testConn {
	t.Helper()
	conn, err := net.Dial("tcp", d.Addr())
	require.NoError(t, err)
	require.NoError(t, wire.Handshake(conn))
	t.Cleanup(func() { _ = conn.Close() })
	return &testConn{t: t, conn: conn}
}

func (c *testConn) call(method string, params any, out any) error {
	c.id++
	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	require.NoError(c.t, wire.WriteRequest(c.conn, wire.Request{ID: c.id, Method: method, Params: raw}))
	resp, err := wire.ReadResponse(c.conn)
	require.NoError(c.t, err)
	if resp.Err != nil {
		return errString(*resp.Err)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

type errString string

func (e errString) Error() string { return string(e) }

func TestSingleTimelineCRUDRoundTrip(t *testing.T) {
	d := newTestDaemon(t)
	c := dial(t, d)

	require.NoError(t, c.call("register_table", registerTableParams{
		ID:  "widgets",
		Def: types.TableDefinition{Versioning: types.SingleTimeline},
	}, nil))

	var objectID types.ObjectID
	require.NoError(t, c.call("create_object", objectParams{
		Table: "widgets",
		Value: json.RawMessage(`{"name":"sprocket"}`),
	}, &objectID))
	require.NotEmpty(t, objectID)

	var value json.RawMessage
	require.NoError(t, c.call("read_object", objectReadParams{Table: "widgets", ObjectID: objectID}, &value))
	require.JSONEq(t, `{"name":"sprocket"}`, string(value))

	require.NoError(t, c.call("update_object", objectReadParams2{
		Table: "widgets", ObjectID: objectID, Value: json.RawMessage(`{"name":"cog"}`),
	}, nil))

	value = nil
	require.NoError(t, c.call("read_object", objectReadParams{Table: "widgets", ObjectID: objectID}, &value))
	require.JSONEq(t, `{"name":"cog"}`, string(value))

	var all []identifiedValue
	require.NoError(t, c.call("read_objects", tableIDOnly{Table: "widgets"}, &all))
	require.Len(t, all, 1)
	require.Equal(t, objectID, all[0].ObjectID)

	require.NoError(t, c.call("remove_object", objectReadParams{Table: "widgets", ObjectID: objectID}, nil))

	err := c.call("read_object", objectReadParams{Table: "widgets", ObjectID: objectID}, &value)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not_found")

	value = nil
	require.NoError(t, c.call("read_object_maybe", objectReadParams{Table: "widgets", ObjectID: objectID}, &value))
	require.Nil(t, value)
}

func TestSingleTimelineCreateRejectsDuplicateID(t *testing.T) {
	d := newTestDaemon(t)
	c := dial(t, d)

	require.NoError(t, c.call("register_table", registerTableParams{
		ID:  "widgets",
		Def: types.TableDefinition{Versioning: types.SingleTimeline},
	}, nil))

	var objectID types.ObjectID
	require.NoError(t, c.call("create_object", objectParams{
		Table: "widgets", ObjectID: "fixed-id", Value: json.RawMessage(`{"n":1}`),
	}, &objectID))
	require.Equal(t, types.ObjectID("fixed-id"), objectID)

	err := c.call("create_object", objectParams{
		Table: "widgets", ObjectID: "fixed-id", Value: json.RawMessage(`{"n":2}`),
	}, &objectID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "conflict")
}

func TestDualTimelineCreateAndActivate(t *testing.T) {
	d := newTestDaemon(t)
	c := dial(t, d)

	require.NoError(t, c.call("register_table", registerTableParams{
		ID:  "configs",
		Def: types.TableDefinition{Versioning: types.DualTimeline},
	}, nil))

	var objectID types.ObjectID
	require.NoError(t, c.call("dual_create_object", dualObjectParams{
		Table: "configs", Value: json.RawMessage(`{"replicas":1}`), Commit: false,
	}, &objectID))
	require.NotEmpty(t, objectID)

	var current json.RawMessage
	require.NoError(t, c.call("dual_read_object", dualReadParams{
		Table: "configs", ObjectID: objectID, Timeline: types.Current,
	}, &current))
	require.JSONEq(t, `{"replicas":1}`, string(current))

	var active json.RawMessage
	require.NoError(t, c.call("dual_read_object_maybe", dualReadParams{
		Table: "configs", ObjectID: objectID, Timeline: types.Active,
	}, &active))
	require.Nil(t, active)

	require.NoError(t, c.call("dual_activate_object", dualObjectIDParams{
		Table: "configs", ObjectID: objectID,
	}, nil))

	active = nil
	require.NoError(t, c.call("dual_read_object", dualReadParams{
		Table: "configs", ObjectID: objectID, Timeline: types.Active,
	}, &active))
	require.JSONEq(t, `{"replicas":1}`, string(active))
}

func TestDualTimelineReadObjects(t *testing.T) {
	d := newTestDaemon(t)
	c := dial(t, d)

	require.NoError(t, c.call("register_table", registerTableParams{
		ID:  "configs",
		Def: types.TableDefinition{Versioning: types.DualTimeline},
	}, nil))

	var a, b types.ObjectID
	require.NoError(t, c.call("dual_create_object", dualObjectParams{
		Table: "configs", Value: json.RawMessage(`{"zone":"east"}`),
	}, &a))
	require.NoError(t, c.call("dual_create_object", dualObjectParams{
		Table: "configs", Value: json.RawMessage(`{"zone":"west"}`),
	}, &b))

	var all []identifiedValue
	require.NoError(t, c.call("dual_read_objects", dualQueryParams{Table: "configs", Timeline: types.Current}, &all))
	require.Len(t, all, 2)
}

func TestBulkInsertTimestampedObjects(t *testing.T) {
	d := newTestDaemon(t)
	c := dial(t, d)

	require.NoError(t, c.call("register_table", registerTableParams{
		ID:  "events",
		Def: types.TableDefinition{Versioning: types.Timestamped},
	}, nil))

	var ids []types.ObjectID
	require.NoError(t, c.call("bulk_insert_timestamped_objects", bulkInsertTimestampedParams{
		Table: "events",
		Values: []json.RawMessage{
			json.RawMessage(`{"kind":"login"}`),
			json.RawMessage(`{"kind":"logout"}`),
		},
	}, &ids))
	require.Len(t, ids, 2)
	require.NotEqual(t, ids[0], ids[1])
}

func TestBulkInsertTimestampedRejectsWrongVersioningType(t *testing.T) {
	d := newTestDaemon(t)
	c := dial(t, d)

	require.NoError(t, c.call("register_table", registerTableParams{
		ID:  "widgets",
		Def: types.TableDefinition{Versioning: types.SingleTimeline},
	}, nil))

	err := c.call("bulk_insert_timestamped_objects", bulkInsertTimestampedParams{
		Table:  "widgets",
		Values: []json.RawMessage{json.RawMessage(`{}`)},
	}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "shape")
}

func TestGetTableIDsAndDefinitions(t *testing.T) {
	d := newTestDaemon(t)
	c := dial(t, d)

	require.NoError(t, c.call("register_table", registerTableParams{
		ID:  "widgets",
		Def: types.TableDefinition{Versioning: types.SingleTimeline},
	}, nil))

	var ids []types.TableID
	require.NoError(t, c.call("get_table_ids", nil, &ids))
	require.Contains(t, ids, types.TableID("widgets"))
	require.Contains(t, ids, table.SchemaTableID)

	var def types.TableDefinition
	require.NoError(t, c.call("get_table_definition", types.TableID("widgets"), &def))
	require.Equal(t, types.SingleTimeline, def.Versioning)

	require.NoError(t, c.call("unregister_table", types.TableID("widgets"), nil))

	ids = nil
	require.NoError(t, c.call("get_table_ids", nil, &ids))
	require.NotContains(t, ids, types.TableID("widgets"))
}
