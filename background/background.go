// Package background adapts sync to OS-scheduled background execution:
// a single idempotent Run that can cold-start from persisted state,
// shares the foreground lock, and self-limits how often it does real
// work regardless of how often the scheduler fires.
package background

import (
	"context"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-ledger-sync/logging"
	"github.com/c0deZ3R0/go-ledger-sync/orchestrator"
	"github.com/c0deZ3R0/go-ledger-sync/storage/sqlite"
)

// Result is the tri-state outcome the OS scheduler is told about.
type Result int

const (
	Failed Result = iota
	NoData
	NewData
)

func (r Result) String() string {
	switch r {
	case NewData:
		return "new_data"
	case NoData:
		return "no_data"
	default:
		return "failed"
	}
}

// DefaultMinSpacing is the minimum gap between background executions
// that do real work. Persisted, so scheduler bursts and process
// restarts cannot defeat it.
const DefaultMinSpacing = 15 * time.Minute

// CredentialStore hands out secrets needed to rebuild clients during a
// cold start, backed by the platform keychain in production.
type CredentialStore interface {
	Credential(ctx context.Context, key string) (string, error)
}

// Builder constructs the syncer and provider refresher from persisted
// config and credentials. Called once, on the first Run after a cold
// process start.
type Builder func(ctx context.Context) (orchestrator.Syncer, orchestrator.ItemRefresher, error)

// Adapter is the background execution entry point.
type Adapter struct {
	lock   *orchestrator.Lock
	build  Builder
	logger *logging.Logger

	MinSpacing time.Duration

	mu         sync.Mutex
	syncer     orchestrator.Syncer
	reconciler *orchestrator.Reconciler
	state      stateStore
	now        func() time.Time
}

type stateStore interface {
	GetStateTime(ctx context.Context, key string) (time.Time, bool, error)
	SetStateTime(ctx context.Context, key string, t time.Time) error
}

// New builds an Adapter. lock should be the orchestrator's lock so
// foreground and background cycles exclude each other. reconciler may
// be nil to skip stale-item sweeps in the background.
func New(state stateStore, lock *orchestrator.Lock, build Builder, reconciler *orchestrator.Reconciler, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Default().WithComponent("background")
	}
	return &Adapter{
		lock:       lock,
		build:      build,
		logger:     logger,
		MinSpacing: DefaultMinSpacing,
		reconciler: reconciler,
		state:      state,
		now:        time.Now,
	}
}

// Run executes one background sync attempt. It is safe to call from
// every scheduler wakeup: spacing, locking and cold-start handling are
// all internal. Failures leave no partial state behind.
func (a *Adapter) Run(ctx context.Context) Result {
	now := a.now()

	last, ok, err := a.state.GetStateTime(ctx, sqlite.StateLastBackgroundRunAt)
	if err != nil {
		a.logger.LogError(ctx, err, "background state read failed")
		return Failed
	}
	if ok && now.Sub(last) < a.MinSpacing {
		a.logger.Debug("background run skipped, ran recently", "last_run", last)
		return NoData
	}

	syncer, err := a.warmSyncer(ctx)
	if err != nil {
		a.logger.LogError(ctx, err, "background cold start failed")
		return Failed
	}

	handle, acquired := a.lock.TryAcquire()
	if !acquired {
		a.logger.Debug("foreground sync active, background run skipped")
		return NoData
	}
	defer handle.Release()

	outcome, err := syncer.RunFullSync(ctx)
	if err != nil {
		a.logger.LogError(ctx, err, "background sync failed")
		return Failed
	}

	if err := a.state.SetStateTime(ctx, sqlite.StateLastBackgroundRunAt, now); err != nil {
		a.logger.LogError(ctx, err, "background state write failed")
		return Failed
	}

	if a.reconciler != nil {
		if _, err := a.reconciler.MaybeRun(ctx); err != nil {
			a.logger.LogError(ctx, err, "background reconciliation failed")
		}
	}

	if outcome.PulledRecords > 0 || outcome.PushedRecords > 0 {
		return NewData
	}
	return NoData
}

// warmSyncer returns the current syncer, building one on first use
// after a cold start.
func (a *Adapter) warmSyncer(ctx context.Context) (orchestrator.Syncer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.syncer != nil {
		return a.syncer, nil
	}
	syncer, refresher, err := a.build(ctx)
	if err != nil {
		return nil, err
	}
	a.syncer = syncer
	if a.reconciler != nil && refresher != nil {
		a.reconciler.SetRefresher(refresher)
	}
	return a.syncer, nil
}
