package rpcclient

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temporaldb/dbdaemon/pkg/rpcserver"
	"github.com/temporaldb/dbdaemon/pkg/wire"
)

// newPlainServer starts an rpcserver.Server over a plain TCP listener
// (a nil tls.Config leaves the listener unwrapped) to exercise
// Call/the typed wrappers without needing certificates - the wire
// protocol itself is TLS-agnostic.
func newPlainServer(t *testing.T) *rpcserver.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := rpcserver.NewServer(ln, nil)
	go s.Serve()
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func dialPlain(t *testing.T, addr string) *Client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, wire.Handshake(conn))
	c := &Client{conn: conn}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCallRoundTrip(t *testing.T) {
	s := newPlainServer(t)
	s.Handle("double", func(ctx context.Context, params json.RawMessage) (any, error) {
		var n int
		require.NoError(t, json.Unmarshal(params, &n))
		return n * 2, nil
	})

	c := dialPlain(t, s.Addr().String())
	var result int
	require.NoError(t, c.Call(context.Background(), "double", 21, &result))
	require.Equal(t, 42, result)
}

func TestCallSurfacesHandlerError(t *testing.T) {
	s := newPlainServer(t)
	s.Handle("fail", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, errFail
	})

	c := dialPlain(t, s.Addr().String())
	err := c.Call(context.Background(), "fail", nil, nil)
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const errFail = staticErr("boom")
