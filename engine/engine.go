// Package engine runs sync cycles: pull remote changes, merge them into
// the local store, push the local dirty set, then advance the cursor.
// The cursor only moves when both phases succeed, so any failure leaves
// the next cycle to pick up exactly where this one started.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/go-ledger-sync/logging"
	"github.com/c0deZ3R0/go-ledger-sync/protocol"
	"github.com/c0deZ3R0/go-ledger-sync/storage/sqlite"
)

// Store is the slice of the local store the engine drives.
type Store interface {
	ChangesForPush(ctx context.Context) (*sqlite.PushSnapshot, error)
	MarkSynced(ctx context.Context, snap *sqlite.PushSnapshot) error
	ApplyRemoteChanges(ctx context.Context, changes protocol.Changes) (int, error)
	GetStateInt64(ctx context.Context, key string) (int64, bool, error)
	SetStateInt64(ctx context.Context, key string, v int64) error
	SetStateTime(ctx context.Context, key string, t time.Time) error
}

// SyncOutcome summarizes one completed cycle.
type SyncOutcome struct {
	PulledRecords int
	PushedRecords int
	ConflictsKept int
	Cursor        int64 // cursor after the cycle, unix milliseconds
	Duration      time.Duration
}

// Engine coordinates one device's sync cycles. It holds no state of its
// own beyond configuration; all progress lives in the store.
type Engine struct {
	store  Store
	client protocol.Client
	codec  protocol.Codec
	logger *logging.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCodec sets the record codec applied on both wire directions.
func WithCodec(c protocol.Codec) Option {
	return func(e *Engine) { e.codec = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine over a store and a protocol client.
func New(store Store, client protocol.Client, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		client: client,
		codec:  protocol.PassthroughCodec{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Default().WithComponent("engine")
	}
	return e
}

// cursor returns the persisted pull cursor, zero when never pulled.
func (e *Engine) cursor(ctx context.Context) (int64, error) {
	v, _, err := e.store.GetStateInt64(ctx, sqlite.StateLastPulledAt)
	return v, err
}

// RunFullSync executes pull, merge, push and cursor advance. On any
// error the cursor and the dirty set are left untouched.
func (e *Engine) RunFullSync(ctx context.Context) (*SyncOutcome, error) {
	start := e.now()
	log := e.logger.WithOperation("full_sync")

	cursor, err := e.cursor(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Pull(ctx, cursor)
	if err != nil {
		log.LogError(ctx, err, "pull failed", slog.Int64("cursor", cursor))
		return nil, err
	}

	decoded, err := protocol.DecodeChanges(e.codec, resp.Changes)
	if err != nil {
		return nil, err
	}

	kept, err := e.store.ApplyRemoteChanges(ctx, decoded)
	if err != nil {
		log.LogError(ctx, err, "apply failed", slog.Int64("cursor", cursor))
		return nil, err
	}

	// Push carries the pull timestamp just observed, so the server's
	// optimistic-concurrency check sees this cycle's pull, not the
	// previous one's.
	pushed, err := e.push(ctx, resp.Timestamp)
	if err != nil {
		log.LogError(ctx, err, "push failed", slog.Int64("cursor", resp.Timestamp))
		return nil, err
	}

	if err := e.store.SetStateInt64(ctx, sqlite.StateLastPulledAt, resp.Timestamp); err != nil {
		return nil, err
	}

	outcome := &SyncOutcome{
		PulledRecords: resp.Changes.Count(),
		PushedRecords: pushed,
		ConflictsKept: kept,
		Cursor:        resp.Timestamp,
		Duration:      e.now().Sub(start),
	}
	log.Info("cursor advanced",
		"pulled_at", resp.Timestamp,
		"pulled", outcome.PulledRecords,
		"pushed", outcome.PushedRecords,
		"conflicts_kept", outcome.ConflictsKept,
		"duration", outcome.Duration)
	return outcome, nil
}

// RunPushOnly submits the local dirty set without pulling. The cursor
// never moves here; a server-side conflict surfaces as a retryable
// error and is resolved by the next full sync.
func (e *Engine) RunPushOnly(ctx context.Context) (*SyncOutcome, error) {
	start := e.now()
	log := e.logger.WithOperation("push_only")

	cursor, err := e.cursor(ctx)
	if err != nil {
		return nil, err
	}

	pushed, err := e.push(ctx, cursor)
	if err != nil {
		log.LogError(ctx, err, "push failed", slog.Int64("cursor", cursor))
		return nil, err
	}

	outcome := &SyncOutcome{
		PushedRecords: pushed,
		Cursor:        cursor,
		Duration:      e.now().Sub(start),
	}
	if pushed > 0 {
		log.Info("push complete", "pushed", pushed, "duration", outcome.Duration)
	}
	return outcome, nil
}

// push sends the current dirty snapshot and clears exactly that
// snapshot on acknowledgement. An empty snapshot skips the network
// round trip entirely.
func (e *Engine) push(ctx context.Context, cursor int64) (int, error) {
	snap, err := e.store.ChangesForPush(ctx)
	if err != nil {
		return 0, err
	}
	if snap.Empty() {
		return 0, nil
	}

	encoded, err := protocol.EncodeChanges(e.codec, snap.Changes)
	if err != nil {
		return 0, err
	}
	if err := e.client.Push(ctx, encoded, cursor); err != nil {
		return 0, err
	}
	if err := e.store.MarkSynced(ctx, snap); err != nil {
		return 0, err
	}
	if err := e.store.SetStateTime(ctx, sqlite.StateLastPushAt, e.now()); err != nil {
		return 0, err
	}
	return len(snap.Refs), nil
}
