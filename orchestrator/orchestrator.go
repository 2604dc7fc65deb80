// Package orchestrator decides when sync runs: an immediate cycle on
// foreground, a fixed interval after that, a short debounce behind
// local writes, and a long-period reconciliation sweep for stale
// provider connections. A single epoch-guarded lock keeps cycles from
// overlapping regardless of which trigger fired.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-ledger-sync/domain"
	"github.com/c0deZ3R0/go-ledger-sync/engine"
	"github.com/c0deZ3R0/go-ledger-sync/logging"
)

const (
	DefaultSyncInterval = 60 * time.Second
	DefaultPushDebounce = 3 * time.Second
)

// Syncer runs sync cycles. Implemented by engine.Engine.
type Syncer interface {
	RunFullSync(ctx context.Context) (*engine.SyncOutcome, error)
	RunPushOnly(ctx context.Context) (*engine.SyncOutcome, error)
}

// Notifier is told about completed foreground cycles, for surfacing
// sync state to a UI shell. NopNotifier is the default.
type Notifier interface {
	SyncCompleted(ctx context.Context, outcome *engine.SyncOutcome)
}

// NopNotifier ignores all notifications.
type NopNotifier struct{}

func (NopNotifier) SyncCompleted(context.Context, *engine.SyncOutcome) {}

// observableStore is the slice of the local store the orchestrator
// watches for write activity.
type observableStore interface {
	reconcileStore
	Observe(fn func(tables []string)) func()
}

// Config tunes the orchestrator's timers. Zero values take defaults.
type Config struct {
	SyncInterval      time.Duration
	PushDebounce      time.Duration
	ReconcileInterval time.Duration
	StaleThreshold    time.Duration
}

func (c *Config) setDefaults() {
	if c.SyncInterval == 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.PushDebounce == 0 {
		c.PushDebounce = DefaultPushDebounce
	}
	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = DefaultReconcileInterval
	}
	if c.StaleThreshold == 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
}

// Orchestrator owns the foreground sync lifecycle. Start and Stop are
// safe to call repeatedly; Stop tears down timers and the store
// subscription but never touches the lock, which belongs to whichever
// cycle holds it.
type Orchestrator struct {
	syncer     Syncer
	store      observableStore
	lock       *Lock
	reconciler *Reconciler
	notifier   Notifier
	logger     *logging.Logger
	cfg        Config

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	unsub    func()
	debounce *time.Timer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the completion notifier.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithLock shares an external lock, typically with the background
// adapter so foreground and background cycles exclude each other.
func WithLock(l *Lock) Option {
	return func(o *Orchestrator) { o.lock = l }
}

// WithRefresher wires the provider refresher used for stale items.
func WithRefresher(r ItemRefresher) Option {
	return func(o *Orchestrator) { o.reconciler.refresher = r }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New builds an Orchestrator.
func New(syncer Syncer, store observableStore, cfg Config, opts ...Option) *Orchestrator {
	cfg.setDefaults()
	o := &Orchestrator{
		syncer:   syncer,
		store:    store,
		lock:     NewLock(),
		notifier: NopNotifier{},
		logger:   logging.Default().WithComponent("orchestrator"),
		cfg:      cfg,
	}
	o.reconciler = NewReconciler(store, nil, nil)
	o.reconciler.Interval = cfg.ReconcileInterval
	o.reconciler.StaleThreshold = cfg.StaleThreshold
	for _, opt := range opts {
		opt(o)
	}
	o.reconciler.logger = o.logger
	return o
}

// Lock exposes the mutual-exclusion lock for sharing with the
// background adapter.
func (o *Orchestrator) Lock() *Lock {
	return o.lock
}

// Start moves to foreground mode: one immediate full sync, then the
// fixed interval, plus debounced pushes behind local writes.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.stopCh = make(chan struct{})
	stopCh := o.stopCh
	o.unsub = o.store.Observe(func(tables []string) {
		o.onLocalWrite(ctx, tables)
	})
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runCycle(ctx)

		ticker := time.NewTicker(o.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.runCycle(ctx)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop leaves foreground mode. In-flight cycles finish on their own.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	if o.unsub != nil {
		o.unsub()
		o.unsub = nil
	}
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// onLocalWrite schedules a push-only sync a short debounce after the
// last local write, so bursts of edits coalesce into one push.
func (o *Orchestrator) onLocalWrite(ctx context.Context, tables []string) {
	// derived tables never sync, nothing to push for them
	syncRelevant := false
	for _, t := range tables {
		if t != domain.TableDailyBalances {
			syncRelevant = true
			break
		}
	}
	if !syncRelevant {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	if o.debounce != nil {
		o.debounce.Stop()
	}
	o.debounce = time.AfterFunc(o.cfg.PushDebounce, func() {
		o.runPush(ctx)
	})
}

// runCycle executes one full sync under the lock. A held lock means
// another cycle is active and this trigger is silently skipped.
func (o *Orchestrator) runCycle(ctx context.Context) {
	handle, ok := o.lock.TryAcquire()
	if !ok {
		o.logger.Debug("sync already running, skipping cycle")
		return
	}
	defer handle.Release()

	outcome, err := o.syncer.RunFullSync(ctx)
	if err != nil {
		o.logger.LogError(ctx, err, "sync cycle failed")
	} else {
		o.notifier.SyncCompleted(ctx, outcome)
	}

	// The reconciliation check is independent of the sync result: a
	// failing server must not starve provider refreshes.
	if _, err := o.reconciler.MaybeRun(ctx); err != nil {
		o.logger.LogError(ctx, err, "reconciliation check failed")
	}
}

func (o *Orchestrator) runPush(ctx context.Context) {
	handle, ok := o.lock.TryAcquire()
	if !ok {
		o.logger.Debug("sync already running, skipping debounced push")
		return
	}
	defer handle.Release()

	if _, err := o.syncer.RunPushOnly(ctx); err != nil {
		o.logger.LogError(ctx, err, "debounced push failed")
	}
}
