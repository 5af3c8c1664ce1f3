package daemon

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/temporaldb/dbdaemon/pkg/rpcserver"
)

// decodeParams unmarshals raw into out, or returns a zero value if raw
// is empty (methods with no arguments).
func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// handle adapts a typed handler func(ctx, P) (R, error) into an
// rpcserver.Handler, decoding params as P and letting R be marshaled
// by the server.
func handle[P any, R any](fn func(ctx context.Context, p P) (R, error)) rpcserver.Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p)
	}
}

// handleNoResult is handle specialized for methods with no return
// value; the RPC response carries no result.
func handleNoResult[P any](fn func(ctx context.Context, p P) error) rpcserver.Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, fn(ctx, p)
	}
}

func (d *Daemon) registerHandlers() {
	d.registerLifecycleHandlers()
	d.registerSchemaHandlers()
	d.registerVerificationHandlers()
	d.registerSingleTimelineHandlers()
	d.registerDualTimelineHandlers()
	d.registerTimestampedHandlers()
}
