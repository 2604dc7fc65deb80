// Package derive recomputes dependent aggregates whenever their source
// records change: budget effective balances, item spending and
// remaining amounts, display statuses and daily balance series. State
// is pulled through small reactive cells instead of manually
// invalidated caches.
package derive

import (
	"context"
	"reflect"
	"sync"

	"github.com/c0deZ3R0/go-ledger-sync/logging"
)

// Observer is the store-side subscription surface a cell listens on.
type Observer interface {
	Observe(fn func(tables []string)) func()
}

// Computed is a reactive cell: it recomputes from its declared input
// tables, caches the latest value, shares it across subscribers and
// notifies only when the value actually changed.
type Computed[T any] struct {
	compute func(ctx context.Context) (T, error)
	equal   func(a, b T) bool
	logger  *logging.Logger

	mu      sync.Mutex
	value   T
	valid   bool
	subs    map[int]func(T)
	nextSub int
	closers []func()
}

// NewComputed builds a cell over compute, re-evaluated whenever store
// notifies a change on any of tables. equal may be nil, defaulting to
// deep equality.
func NewComputed[T any](store Observer, tables []string, compute func(ctx context.Context) (T, error), equal func(a, b T) bool) *Computed[T] {
	if equal == nil {
		equal = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	c := &Computed[T]{
		compute: compute,
		equal:   equal,
		logger:  logging.Default().WithComponent("derive"),
		subs:    map[int]func(T){},
	}

	watched := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		watched[t] = struct{}{}
	}
	unsub := store.Observe(func(changed []string) {
		for _, t := range changed {
			if _, ok := watched[t]; ok {
				c.refresh(context.Background())
				return
			}
		}
	})
	c.closers = append(c.closers, unsub)
	return c
}

// Get returns the cached value, computing it on first use.
func (c *Computed[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	if c.valid {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := c.compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.mu.Lock()
	c.value = v
	c.valid = true
	c.mu.Unlock()
	return v, nil
}

// Subscribe registers fn for change notifications, delivering the
// current value immediately when one is cached. Returns an unsubscribe
// function.
func (c *Computed[T]) Subscribe(fn func(T)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	deliver := c.valid
	v := c.value
	c.mu.Unlock()

	if deliver {
		fn(v)
	}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// DependOn chains this cell behind another computed value, so nested
// derivations refresh when their inputs do.
func DependOn[T, U any](c *Computed[T], input *Computed[U]) {
	unsub := input.Subscribe(func(U) {
		c.refresh(context.Background())
	})
	c.mu.Lock()
	c.closers = append(c.closers, unsub)
	c.mu.Unlock()
}

// Close detaches the cell from its inputs.
func (c *Computed[T]) Close() {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()
	for _, fn := range closers {
		fn()
	}
}

// refresh recomputes and fans out to subscribers if the value changed.
func (c *Computed[T]) refresh(ctx context.Context) {
	v, err := c.compute(ctx)
	if err != nil {
		c.logger.LogError(ctx, err, "derived recompute failed")
		return
	}

	c.mu.Lock()
	if c.valid && c.equal(c.value, v) {
		c.mu.Unlock()
		return
	}
	c.value = v
	c.valid = true
	subs := make([]func(T), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}
