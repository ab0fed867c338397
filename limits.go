package buildvault

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Limits bounds how much work the engine runs at once. It holds two
// independent, optional permit pools:
//
//   - an items ceiling, bounding how many items are fingerprinted or
//     repaired concurrently;
//   - a fetches ceiling, bounding outbound transfers regardless of how many
//     items are in flight.
//
// A Limits is constructed once and injected into every call that should
// share it; each ceiling can be set exactly once. The zero ceiling state
// (and a nil *Limits) means unbounded.
type Limits struct {
	mu      sync.Mutex
	items   *semaphore.Weighted
	fetches *semaphore.Weighted
}

// NewLimits returns a Limits with no ceilings configured.
func NewLimits() *Limits {
	return &Limits{}
}

// SetMaxItems sets the items-in-flight ceiling. Setting it twice returns
// ErrLimitConfigured.
func (l *Limits) SetMaxItems(n int64) error {
	if n <= 0 {
		return ErrInvalidLimit
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.items != nil {
		return ErrLimitConfigured
	}
	l.items = semaphore.NewWeighted(n)
	return nil
}

// SetMaxFetches sets the concurrent-transfers ceiling. Setting it twice
// returns ErrLimitConfigured.
func (l *Limits) SetMaxFetches(n int64) error {
	if n <= 0 {
		return ErrInvalidLimit
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fetches != nil {
		return ErrLimitConfigured
	}
	l.fetches = semaphore.NewWeighted(n)
	return nil
}

// acquireItem takes an items permit, blocking until one is free or ctx is
// done. The returned release must be called (deferred) so a canceled task
// cannot leak a permit.
func (l *Limits) acquireItem(ctx context.Context) (release func(), err error) {
	return acquire(ctx, l.sem(func() *semaphore.Weighted { return l.items }))
}

// acquireFetch takes a fetch permit; see acquireItem.
func (l *Limits) acquireFetch(ctx context.Context) (release func(), err error) {
	return acquire(ctx, l.sem(func() *semaphore.Weighted { return l.fetches }))
}

func (l *Limits) sem(get func() *semaphore.Weighted) *semaphore.Weighted {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return get()
}

func acquire(ctx context.Context, sem *semaphore.Weighted) (func(), error) {
	if sem == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return func() {}, nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
