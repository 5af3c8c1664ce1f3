package verify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/temporaldb/dbdaemon/pkg/dbderr"
	"github.com/temporaldb/dbdaemon/pkg/docstore"
	"github.com/temporaldb/dbdaemon/pkg/metrics"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

// idleTTL bounds how long a verification run is kept reachable by
// verify_table_data_next without a poll touching it; an abandoned run
// (a client that crashed or stopped polling) is reclaimed after this
// long instead of leaking its goroutine and channel forever.
const idleTTL = 10 * time.Minute

// Manager tracks in-flight verification runs by id so a poll can reach a
// scan started by an earlier, unrelated RPC call. Grounded on the
// `verification: RwLock<HashMap<VerificationId, ...>>` field in the
// original implementation; the plain map becomes a ttlcache here so the
// manager itself enforces idleTTL rather than relying on every caller to
// eventually call an explicit close.
type Manager struct {
	runs *ttlcache.Cache[string, *Run]
}

// NewManager returns a Manager with its eviction sweep already running.
func NewManager() *Manager {
	runs := ttlcache.New(ttlcache.WithTTL[string, *Run](idleTTL))
	runs.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Run]) {
		metrics.VerificationRunsActive.Dec()
	})
	go runs.Start()
	return &Manager{runs: runs}
}

// Close stops the manager's eviction sweep. Outstanding runs are left to
// drain or be garbage collected on their own.
func (m *Manager) Close() {
	m.runs.Stop()
}

// StartVerification launches a scan of tableID and returns a fresh
// verification id for verify_table_data_next to poll.
func (m *Manager) StartVerification(ctx context.Context, backend docstore.Backend, tableID types.TableID, timeRange *types.TimeRange) string {
	id := uuid.NewString()
	run := Start(ctx, backend, tableID, timeRange)
	m.runs.Set(id, run, idleTTL)
	metrics.VerificationRunsActive.Inc()
	return id
}

// Next blocks for at least one message from verificationID's run,
// batching up to BatchSize without blocking further, and reports
// done=true once the run's channel has been fully drained and closed -
// the RPC-level "none" that signals end-of-stream. Every call touches
// the entry's TTL, so a client that keeps polling never loses its run to
// idleTTL mid-scan.
func (m *Manager) Next(ctx context.Context, verificationID string) (msgs []Msg, done bool, err error) {
	item := m.runs.Get(verificationID)
	if item == nil {
		return nil, false, &dbderr.NoVerificationRunError{VerificationID: verificationID}
	}
	run := item.Value()

	select {
	case msg, ok := <-run.ch:
		if !ok {
			m.runs.Delete(verificationID)
			return nil, true, nil
		}
		msgs = append(msgs, msg)
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	for len(msgs) < BatchSize {
		select {
		case msg, ok := <-run.ch:
			if !ok {
				return msgs, false, nil
			}
			msgs = append(msgs, msg)
		default:
			return msgs, false, nil
		}
	}
	return msgs, false, nil
}
