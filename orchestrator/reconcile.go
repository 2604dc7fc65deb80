package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/go-ledger-sync/domain"
	"github.com/c0deZ3R0/go-ledger-sync/logging"
	"github.com/c0deZ3R0/go-ledger-sync/storage/sqlite"
)

// DefaultStaleThreshold is the age past which an item's local data is
// considered stale and a provider refresh is warranted.
const DefaultStaleThreshold = 12 * time.Hour

// DefaultReconcileInterval is the minimum spacing between reconciliation
// checks, persisted so restarts do not reset the clock.
const DefaultReconcileInterval = 12 * time.Hour

// ItemRefresher pulls fresh provider data for one connection. The
// provider ingestor implements this.
type ItemRefresher interface {
	RefreshItem(ctx context.Context, item *domain.Item) error
}

// reconcileStore is the slice of the local store reconciliation needs.
type reconcileStore interface {
	Items(ctx context.Context) ([]*domain.Item, error)
	GetStateTime(ctx context.Context, key string) (time.Time, bool, error)
	SetStateTime(ctx context.Context, key string, t time.Time) error
}

// Reconciler periodically kicks provider refreshes for items whose
// local data has gone stale. Refreshes are fire and forget: they run in
// their own goroutines and their failures never fail the sync cycle
// that triggered them.
type Reconciler struct {
	store     reconcileStore
	refresher ItemRefresher
	logger    *logging.Logger

	Interval       time.Duration
	StaleThreshold time.Duration
	now            func() time.Time
}

// NewReconciler builds a Reconciler with default spacing. refresher may
// be nil, which disables refreshes while keeping the bookkeeping.
func NewReconciler(store reconcileStore, refresher ItemRefresher, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Default().WithComponent("reconciler")
	}
	return &Reconciler{
		store:          store,
		refresher:      refresher,
		logger:         logger,
		Interval:       DefaultReconcileInterval,
		StaleThreshold: DefaultStaleThreshold,
		now:            time.Now,
	}
}

// SetRefresher wires the provider refresher after construction, used by
// cold starts that build provider clients lazily.
func (r *Reconciler) SetRefresher(refresher ItemRefresher) {
	r.refresher = refresher
}

// MaybeRun performs a reconciliation check if the persisted interval has
// elapsed. Returns true when a check actually ran.
func (r *Reconciler) MaybeRun(ctx context.Context) (bool, error) {
	now := r.now()
	last, ok, err := r.store.GetStateTime(ctx, sqlite.StateLastReconcileCheckAt)
	if err != nil {
		return false, err
	}
	if ok && now.Sub(last) < r.Interval {
		return false, nil
	}
	if err := r.store.SetStateTime(ctx, sqlite.StateLastReconcileCheckAt, now); err != nil {
		return false, err
	}
	r.run(ctx, now)
	return true, nil
}

func (r *Reconciler) run(ctx context.Context, now time.Time) {
	items, err := r.store.Items(ctx)
	if err != nil {
		r.logger.LogError(ctx, err, "reconciliation item scan failed")
		return
	}

	for _, item := range items {
		if !item.Stale(now, r.StaleThreshold) {
			continue
		}
		if r.refresher == nil {
			continue
		}
		item := item
		// refreshes outlive the cycle that kicked them
		refreshCtx := context.WithoutCancel(ctx)
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("item refresh panicked", "item_id", item.ID, "panic", rec)
				}
			}()
			if err := r.refresher.RefreshItem(refreshCtx, item); err != nil {
				r.logger.LogError(refreshCtx, err, "stale item refresh failed",
					slog.String("item_id", item.ID), slog.String("institution", item.InstitutionName))
			}
		}()
	}
}
