// Package daemon wires the table registry, the verification engine and
// the document store backend into an RPC server, translating each
// method of spec.md §6's surface into registry acquisitions plus
// transaction/commit/flush sequences - the way the teacher's
// pkg/api.Server methods translate gRPC calls into pkg/manager calls.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/temporaldb/dbdaemon/pkg/docstore"
	"github.com/temporaldb/dbdaemon/pkg/docstore/boltstore"
	"github.com/temporaldb/dbdaemon/pkg/log"
	"github.com/temporaldb/dbdaemon/pkg/rpcserver"
	"github.com/temporaldb/dbdaemon/pkg/security"
	"github.com/temporaldb/dbdaemon/pkg/table"
	"github.com/temporaldb/dbdaemon/pkg/verify"
)

// waitForStoreInterval and waitForStoreMaxElapsed ground spec.md §5's
// "retries every 5s for up to 5 min; exceeds => fatal Timeout".
const (
	waitForStoreInterval   = 5 * time.Second
	waitForStoreMaxElapsed = 5 * time.Minute
)

// Config names everything needed to construct a Daemon.
type Config struct {
	BindAddr string
	TLS      security.Config
	// DataDir is the bbolt data directory (cmd/dbdaemon's --data-dir).
	DataDir string
}

// Daemon owns the backend, the table registry, the verification
// manager and the RPC server built on top of them.
type Daemon struct {
	backend  docstore.Backend
	registry *table.Registry
	verifier *verify.Manager
	server   *rpcserver.Server
}

// New constructs a Daemon: waits for the document store to become
// reachable (backoff-retried, per spec.md §5), loads the table
// registry, starts the verification manager, builds the TLS-wrapped
// RPC listener and registers every handler. Mirrors the teacher's
// pkg/manager.NewManager construction order and error wrapping.
func New(ctx context.Context, cfg Config) (*Daemon, error) {
	backend, err := boltstore.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	if err := waitForStore(ctx, backend); err != nil {
		return nil, fmt.Errorf("failed to reach document store: %w", err)
	}

	registry, err := table.Load(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to load table registry: %w", err)
	}

	verifier := verify.NewManager()

	tlsConfig, err := security.LoadServerTLS(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS material: %w", err)
	}

	listener, err := newListener(cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", cfg.BindAddr, err)
	}

	server := rpcserver.NewServer(listener, tlsConfig)

	d := &Daemon{backend: backend, registry: registry, verifier: verifier, server: server}
	d.registerHandlers()
	return d, nil
}

// waitForStore polls backend.WaitForDatabase on a fixed interval until
// it succeeds or waitForStoreMaxElapsed passes, at which point startup
// is fatal per spec.md §5.
func waitForStore(ctx context.Context, backend docstore.Backend) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := backend.WaitForDatabase(ctx); err != nil {
			log.Logger.Warn().Err(err).Msg("document store not yet reachable, retrying")
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(waitForStoreInterval)),
		backoff.WithMaxElapsedTime(waitForStoreMaxElapsed),
	)
	return err
}

// Addr returns the RPC server's bound address.
func (d *Daemon) Addr() string {
	return d.server.Addr().String()
}

// Serve runs the RPC accept loop; it blocks until Shutdown closes the
// listener.
func (d *Daemon) Serve() error {
	return d.server.Serve()
}

// Shutdown gracefully stops the RPC server and closes the verification
// manager and the backend.
func (d *Daemon) Shutdown(ctx context.Context) error {
	err := d.server.Shutdown(ctx)
	d.verifier.Close()
	if closer, ok := d.backend.(interface{ Close() error }); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
