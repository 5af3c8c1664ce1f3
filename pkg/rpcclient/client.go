// Package rpcclient is the typed client SDK for the daemon's RPC
// surface, wrapping a framed wire.Request/wire.Response connection the
// way the teacher's pkg/client wraps a gRPC channel: one long-lived
// connection, a generic call primitive, and typed convenience methods
// layered on top.
package rpcclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/temporaldb/dbdaemon/pkg/types"
	"github.com/temporaldb/dbdaemon/pkg/wire"
)

// defaultCallTimeout bounds how long a single Call waits for its
// response when the caller's context carries no deadline.
const defaultCallTimeout = 10 * time.Second

// Client is a single authenticated connection to a daemon, serializing
// every Call onto one underlying net.Conn. Call holds an internal mutex
// for the whole round trip, so a Client has at most one request in
// flight at a time; concurrent callers queue rather than race.
type Client struct {
	conn   net.Conn
	nextID uint64
	mu     sync.Mutex
}

// Dial connects to addr, establishes mutual TLS with tlsConfig (built by
// security.LoadClientTLS), and performs the protocol-version handshake.
func Dial(addr string, tlsConfig *tls.Config) (*Client, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := wire.Handshake(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes method with params marshaled to JSON, decoding the
// response's result into out (which may be nil for a call with no
// return value). A handler-side error comes back as a plain error
// carrying the server's displayable message.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(dl)
	} else {
		c.conn.SetDeadline(time.Now().Add(defaultCallTimeout))
	}
	defer c.conn.SetDeadline(time.Time{})

	id := atomic.AddUint64(&c.nextID, 1)
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params for %s: %w", method, err)
	}
	if err := wire.WriteRequest(c.conn, wire.Request{ID: id, Method: method, Params: raw}); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	resp, err := wire.ReadResponse(c.conn)
	if err != nil {
		return fmt.Errorf("receive response for %s: %w", method, err)
	}
	if resp.Err != nil {
		return fmt.Errorf("%s: %s", method, *resp.Err)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode result for %s: %w", method, err)
	}
	return nil
}

// WaitForDatabases blocks until the daemon reports the document store
// reachable, per spec.md §5's wait-for-store startup semantics.
func (c *Client) WaitForDatabases(ctx context.Context) error {
	return c.Call(ctx, "wait_for_databases", nil, nil)
}

// VerifyDatabases asks the daemon to confirm the document store is
// reachable without blocking for readiness.
func (c *Client) VerifyDatabases(ctx context.Context) error {
	return c.Call(ctx, "verify_databases", nil, nil)
}

type registerTableParams struct {
	ID  types.TableID         `json:"id"`
	Def types.TableDefinition `json:"def"`
}

// RegisterTable creates id if absent, or idempotently reconciles its
// stored definition with def.
func (c *Client) RegisterTable(ctx context.Context, id types.TableID, def types.TableDefinition) error {
	return c.Call(ctx, "register_table", registerTableParams{ID: id, Def: def}, nil)
}

// UnregisterTable removes id, idempotently succeeding if it is already
// absent.
func (c *Client) UnregisterTable(ctx context.Context, id types.TableID) error {
	return c.Call(ctx, "unregister_table", id, nil)
}

// GetTableIDs lists every currently registered table id.
func (c *Client) GetTableIDs(ctx context.Context) ([]types.TableID, error) {
	var ids []types.TableID
	if err := c.Call(ctx, "get_table_ids", nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetTableDefinition returns id's stored definition.
func (c *Client) GetTableDefinition(ctx context.Context, id types.TableID) (types.TableDefinition, error) {
	var def types.TableDefinition
	if err := c.Call(ctx, "get_table_definition", id, &def); err != nil {
		return types.TableDefinition{}, err
	}
	return def, nil
}

type verifyStartParams struct {
	ID    types.TableID    `json:"id"`
	Range *types.TimeRange `json:"range,omitempty"`
}

// VerifyTableDataStart launches a verification scan of id, optionally
// bounded by timeRange, returning the verification id to poll with
// VerifyTableDataNext.
func (c *Client) VerifyTableDataStart(ctx context.Context, id types.TableID, timeRange *types.TimeRange) (string, error) {
	var verificationID string
	err := c.Call(ctx, "verify_table_data_start", verifyStartParams{ID: id, Range: timeRange}, &verificationID)
	return verificationID, err
}

// VerifyMsg mirrors one message of a verification run's result stream.
type VerifyMsg struct {
	Kind     string          `json:"kind"`
	Problem  json.RawMessage `json:"problem,omitempty"`
	Progress uint64          `json:"progress,omitempty"`
	Err      string          `json:"error,omitempty"`
}

// VerifyTableDataNext polls verificationID for its next batch of
// messages; done is true once the run has finished and every message
// has been delivered.
func (c *Client) VerifyTableDataNext(ctx context.Context, verificationID string) (msgs []VerifyMsg, done bool, err error) {
	var resp struct {
		Messages []VerifyMsg `json:"messages"`
		Done     bool        `json:"done"`
	}
	if err := c.Call(ctx, "verify_table_data_next", verificationID, &resp); err != nil {
		return nil, false, err
	}
	return resp.Messages, resp.Done, nil
}
