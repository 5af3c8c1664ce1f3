package daemon

import "context"

type noParams struct{}

func (d *Daemon) registerLifecycleHandlers() {
	d.server.Handle("wait_for_databases", handleNoResult(func(ctx context.Context, _ noParams) error {
		return waitForStore(ctx, d.backend)
	}))
	d.server.Handle("verify_databases", handleNoResult(func(ctx context.Context, _ noParams) error {
		return d.backend.VerifyDatabase(ctx)
	}))
}
