package query

import (
	"context"
	"errors"
	"time"
)

// Handle is the typed view of one registered query.
type Handle[T any] struct {
	c   *Cache
	reg registration
}

// Use registers opts (or attaches to the existing entry with the same key)
// and returns a typed handle. The first registration of a key wins.
func Use[T any](c *Cache, opts Options[T]) *Handle[T] {
	fetch := opts.Fetch
	reg := registration{
		key: opts.Key,
		fetch: func(ctx context.Context) (any, error) {
			return fetch(ctx)
		},
		interval:   opts.Interval,
		staleTime:  opts.StaleTime,
		background: opts.RefetchInBackground,
		disabled:   opts.Disabled,
	}
	h := &Handle[T]{c: c, reg: reg}
	c.ensure(reg)
	return h
}

func (h *Handle[T]) Key() Key { return h.reg.key }

// Get returns cached data when it is present and not invalidated, starting a
// background refetch if it is older than the stale time. Otherwise it waits
// for a fetch issued after the last invalidation.
func (h *Handle[T]) Get(ctx context.Context) (T, error) {
	var zero T
	c := h.c
	e := c.ensure(h.reg)
	if e.disabled {
		return zero, ErrDisabled
	}

	c.mu.Lock()
	e.lastRead = c.now()
	fresh := e.hasData && e.applied > e.invalidAt
	stale := fresh && e.staleTime > 0 && c.now().Sub(e.updatedAt) > e.staleTime
	data := e.data
	after := e.invalidAt
	c.mu.Unlock()

	if fresh {
		if stale {
			c.refreshAsync(e, 0)
		}
		v, _ := data.(T)
		return v, nil
	}

	v, err := c.load(ctx, e, after)
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// Read is Get reporting the entry state alongside the data. When a refresh
// fails after data was loaded, the previous data is returned with a nil error
// and the failure in State.Err; Stale is then set.
func (h *Handle[T]) Read(ctx context.Context) (State[T], error) {
	v, err := h.Get(ctx)
	st := h.Peek()
	if err != nil {
		if !st.HasData || errors.Is(err, ErrDisabled) || ctx.Err() != nil {
			return State[T]{}, err
		}
		st.Err = err
		st.Stale = true
		return st, nil
	}
	st.Data, st.HasData = v, true
	return st, nil
}

// Refetch forces a fetch issued after this call and returns its result.
func (h *Handle[T]) Refetch(ctx context.Context) (T, error) {
	var zero T
	c := h.c
	e := c.ensure(h.reg)
	if e.disabled {
		return zero, ErrDisabled
	}
	c.mu.Lock()
	after := e.issued
	e.lastRead = c.now()
	c.mu.Unlock()

	v, err := c.load(ctx, e, after)
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// State is a point-in-time view of an entry.
type State[T any] struct {
	Data    T
	HasData bool
	// Err is the last failed fetch that no newer result has replaced.
	Err       error
	UpdatedAt time.Time
	Fetching  bool
	// Stale is set when Data was invalidated or its refresh failed.
	Stale bool
}

// Peek reports the entry without fetching. The last error is kept alongside
// the previous data.
func (h *Handle[T]) Peek() State[T] {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[h.reg.key.String()]
	if !ok {
		return State[T]{}
	}
	v, _ := e.data.(T)
	return State[T]{
		Data:      v,
		HasData:   e.hasData,
		Err:       e.err,
		UpdatedAt: e.updatedAt,
		Fetching:  e.inflight > 0,
		Stale:     e.applied <= e.invalidAt || e.err != nil,
	}
}

// Subscribe calls fn after every applied result. The returned function
// removes the subscription.
func (h *Handle[T]) Subscribe(fn func(T)) func() {
	c := h.c
	e := c.ensure(h.reg)
	c.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = func(v any) {
		t, _ := v.(T)
		fn(t)
	}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(e.listeners, id)
		e.lastRead = c.now()
		c.mu.Unlock()
	}
}
