package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-ledger-sync/domain"
	"github.com/c0deZ3R0/go-ledger-sync/engine"
	"github.com/c0deZ3R0/go-ledger-sync/storage/sqlite"
)

type fakeSyncer struct {
	mu        sync.Mutex
	fullRuns  int
	pushRuns  int
	fullErr   error
	fullBlock chan struct{} // when set, RunFullSync waits on it
}

func (f *fakeSyncer) RunFullSync(ctx context.Context) (*engine.SyncOutcome, error) {
	f.mu.Lock()
	f.fullRuns++
	block := f.fullBlock
	err := f.fullErr
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &engine.SyncOutcome{}, nil
}

func (f *fakeSyncer) RunPushOnly(ctx context.Context) (*engine.SyncOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushRuns++
	return &engine.SyncOutcome{}, nil
}

func (f *fakeSyncer) counts() (full, push int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fullRuns, f.pushRuns
}

type fakeStore struct {
	mu        sync.Mutex
	items     []*domain.Item
	state     map[string]time.Time
	observers []func([]string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: map[string]time.Time{}}
}

func (s *fakeStore) Items(ctx context.Context) ([]*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items, nil
}

func (s *fakeStore) GetStateTime(ctx context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state[key]
	return t, ok, nil
}

func (s *fakeStore) SetStateTime(ctx context.Context, key string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = t
	return nil
}

func (s *fakeStore) Observe(fn func([]string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
	return func() {}
}

func (s *fakeStore) notify(tables []string) {
	s.mu.Lock()
	obs := append([]func([]string){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range obs {
		fn(tables)
	}
}

func TestLockStaleEviction(t *testing.T) {
	at := time.Unix(0, 0)
	l := NewLock()
	l.now = func() time.Time { return at }

	h1, ok := l.TryAcquire()
	require.True(t, ok)

	at = at.Add(30 * time.Second)
	_, ok = l.TryAcquire()
	assert.False(t, ok, "fresh holder keeps the lock")

	at = at.Add(31 * time.Second)
	h2, ok := l.TryAcquire()
	require.True(t, ok, "stale holder is evicted")

	// the evicted holder's release must not free the evictor's lock
	h1.Release()
	assert.True(t, l.Held())

	h2.Release()
	assert.False(t, l.Held())

	h3, ok := l.TryAcquire()
	require.True(t, ok)
	h3.Release()
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	syncer := &fakeSyncer{}
	o := New(syncer, newFakeStore(), Config{})

	handle, ok := o.lock.TryAcquire()
	require.True(t, ok)
	defer handle.Release()

	o.runCycle(context.Background())
	full, _ := syncer.counts()
	assert.Zero(t, full, "held lock silently skips the cycle")
}

func TestForegroundLifecycle(t *testing.T) {
	syncer := &fakeSyncer{}
	store := newFakeStore()
	o := New(syncer, store, Config{SyncInterval: 25 * time.Millisecond})

	o.Start(context.Background())
	time.Sleep(90 * time.Millisecond)
	o.Stop()

	full, _ := syncer.counts()
	assert.GreaterOrEqual(t, full, 2, "immediate cycle plus interval cycles")

	// stopped mode schedules nothing further
	time.Sleep(60 * time.Millisecond)
	again, _ := syncer.counts()
	assert.Equal(t, full, again)
}

func TestStartStopIdempotent(t *testing.T) {
	syncer := &fakeSyncer{}
	o := New(syncer, newFakeStore(), Config{SyncInterval: time.Hour})
	o.Start(context.Background())
	o.Start(context.Background())
	o.Stop()
	o.Stop()
}

func TestDebouncedPushCoalesces(t *testing.T) {
	syncer := &fakeSyncer{}
	store := newFakeStore()
	o := New(syncer, store, Config{SyncInterval: time.Hour, PushDebounce: 40 * time.Millisecond})

	o.Start(context.Background())
	defer o.Stop()
	time.Sleep(20 * time.Millisecond) // let the immediate cycle finish

	// a burst of writes lands as a single push
	store.notify([]string{domain.TableAccounts})
	time.Sleep(10 * time.Millisecond)
	store.notify([]string{domain.TableTransactions})
	time.Sleep(10 * time.Millisecond)
	store.notify([]string{domain.TableBudgets})

	time.Sleep(80 * time.Millisecond)
	_, push := syncer.counts()
	assert.Equal(t, 1, push)
}

func TestDerivedTablesDoNotTriggerPush(t *testing.T) {
	syncer := &fakeSyncer{}
	store := newFakeStore()
	o := New(syncer, store, Config{SyncInterval: time.Hour, PushDebounce: 20 * time.Millisecond})

	o.Start(context.Background())
	defer o.Stop()
	time.Sleep(20 * time.Millisecond)

	store.notify([]string{domain.TableDailyBalances})
	time.Sleep(60 * time.Millisecond)

	_, push := syncer.counts()
	assert.Zero(t, push)
}

type fakeRefresher struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeRefresher) RefreshItem(ctx context.Context, item *domain.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, item.ID)
	return nil
}

func (f *fakeRefresher) refreshed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.ids...)
}

func TestReconcilerRefreshesOnlyStaleItems(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	fresh := &domain.Item{LastLocalRefresh: now.Add(-time.Hour)}
	fresh.ID = "fresh"
	stale := &domain.Item{LastLocalRefresh: now.Add(-13 * time.Hour)}
	stale.ID = "stale"
	never := &domain.Item{}
	never.ID = "never"
	store.items = []*domain.Item{fresh, stale, never}

	refresher := &fakeRefresher{}
	r := NewReconciler(store, refresher, nil)
	r.now = func() time.Time { return now }

	ran, err := r.MaybeRun(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	assert.Eventually(t, func() bool {
		got := refresher.refreshed()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"stale", "never"}, refresher.refreshed())
}

func TestReconcilerSpacingPersisted(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	r := NewReconciler(store, &fakeRefresher{}, nil)
	r.now = func() time.Time { return now }

	ran, err := r.MaybeRun(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	at, ok, err := store.GetStateTime(context.Background(), sqlite.StateLastReconcileCheckAt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, now, at)

	// within the window, a second checker stays quiet even across a
	// simulated restart
	r2 := NewReconciler(store, &fakeRefresher{}, nil)
	r2.now = func() time.Time { return now.Add(6 * time.Hour) }
	ran, err = r2.MaybeRun(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	r2.now = func() time.Time { return now.Add(13 * time.Hour) }
	ran, err = r2.MaybeRun(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
}

type countingNotifier struct {
	n atomic.Int64
}

func (c *countingNotifier) SyncCompleted(context.Context, *engine.SyncOutcome) {
	c.n.Add(1)
}

func TestNotifierToldAboutCompletedCycles(t *testing.T) {
	syncer := &fakeSyncer{}
	notifier := &countingNotifier{}
	o := New(syncer, newFakeStore(), Config{SyncInterval: time.Hour}, WithNotifier(notifier))

	o.runCycle(context.Background())
	assert.Equal(t, int64(1), notifier.n.Load())
}

func TestReconciliationSurvivesSyncFailure(t *testing.T) {
	store := newFakeStore()
	stale := &domain.Item{}
	stale.ID = "stale"
	store.items = []*domain.Item{stale}

	refresher := &fakeRefresher{}
	notifier := &countingNotifier{}
	syncer := &fakeSyncer{fullErr: fmt.Errorf("server down")}
	o := New(syncer, store, Config{SyncInterval: time.Hour},
		WithRefresher(refresher), WithNotifier(notifier))

	o.runCycle(context.Background())

	// the failed sync is not reported as completed
	assert.Equal(t, int64(0), notifier.n.Load())

	// but the reconciliation check still ran and refreshed the item
	_, ok, err := store.GetStateTime(context.Background(), sqlite.StateLastReconcileCheckAt)
	require.NoError(t, err)
	assert.True(t, ok, "reconciliation spacing recorded despite sync failure")
	assert.Eventually(t, func() bool {
		return len(refresher.refreshed()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
