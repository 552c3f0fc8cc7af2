// Package query is a poll-driven cache of backend resources.
//
// Every registered query is identified by a Key. Reads are served from the
// cache when fresh data exists; otherwise they join (or start) the single
// in-flight fetch for that key. Queries with an interval are refetched on a
// ticker for as long as they are read or subscribed to.
package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrDisabled is returned when reading a query registered with Disabled set.
var ErrDisabled = errors.New("query: disabled")

// DefaultGCTime is how long an unread, unsubscribed entry keeps polling.
const DefaultGCTime = 5 * time.Minute

// Options registers a query.
type Options[T any] struct {
	Key   Key
	Fetch func(ctx context.Context) (T, error)
	// Interval re-invokes Fetch on a ticker. Zero disables polling.
	Interval time.Duration
	// Disabled registers the query without ever fetching it.
	Disabled bool
	// RefetchInBackground keeps the ticker active while the cache is not in
	// foreground mode.
	RefetchInBackground bool
	// StaleTime makes a read older than this trigger a background refetch.
	// Zero means data never goes stale by age.
	StaleTime time.Duration
}

type registration struct {
	key        Key
	fetch      func(context.Context) (any, error)
	interval   time.Duration
	staleTime  time.Duration
	background bool
	disabled   bool
}

type entry struct {
	registration
	id string

	data      any
	hasData   bool
	err       error
	updatedAt time.Time
	inflight  int

	// issued is the sequence of the most recently started fetch, applied the
	// sequence of the data held, errSeq the sequence of the held error and
	// invalidAt the value of issued when the entry was last invalidated.
	issued    uint64
	applied   uint64
	errSeq    uint64
	invalidAt uint64

	lastRead  time.Time
	listeners map[int]func(any)
	nextID    int
	stop      chan struct{}
}

type result struct {
	seq uint64
	val any
}

type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	flight     singleflight.Group
	foreground atomic.Bool
	gcTime     time.Duration
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type CacheOption func(*Cache)

// WithGCTime sets how long an idle entry survives. Zero keeps entries forever.
func WithGCTime(d time.Duration) CacheOption {
	return func(c *Cache) { c.gcTime = d }
}

func withClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func NewCache(opts ...CacheOption) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		entries: make(map[string]*entry),
		gcTime:  DefaultGCTime,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	c.foreground.Store(true)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close stops every polling loop and waits for them to exit.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

// SetForeground switches between foreground mode (all intervals active) and
// background mode (only RefetchInBackground queries keep polling).
func (c *Cache) SetForeground(fg bool) { c.foreground.Store(fg) }

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Invalidate marks every entry whose key starts with prefix so that the next
// read refetches. An empty prefix matches everything. Subscribed entries are
// refetched right away. It returns the number of entries matched.
func (c *Cache) Invalidate(prefix Key) int {
	type refresh struct {
		e     *entry
		after uint64
	}
	c.mu.Lock()
	var active []refresh
	n := 0
	for _, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		e.invalidAt = e.issued
		n++
		if len(e.listeners) > 0 && !e.disabled {
			active = append(active, refresh{e, e.invalidAt})
		}
	}
	c.mu.Unlock()

	for _, r := range active {
		c.refreshAsync(r.e, r.after)
	}
	log.Debug().Str("prefix", prefix.String()).Int("matched", n).Msg("query cache invalidated")
	return n
}

// drop stops the poller of e and removes it. c.mu must be held.
func (c *Cache) drop(e *entry) {
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	if c.entries[e.id] == e {
		delete(c.entries, e.id)
	}
}

// ensure returns the entry for reg, creating it (and starting its poller and
// initial fetch) when it does not exist.
func (c *Cache) ensure(reg registration) *entry {
	id := reg.key.String()
	c.mu.Lock()
	if e, ok := c.entries[id]; ok {
		e.lastRead = c.now()
		c.mu.Unlock()
		return e
	}
	e := &entry{
		registration: reg,
		id:           id,
		lastRead:     c.now(),
		listeners:    make(map[int]func(any)),
	}
	c.entries[id] = e
	if !e.disabled && e.interval > 0 {
		c.startLoop(e)
	}
	c.mu.Unlock()

	if !e.disabled {
		c.mount(e)
	}
	return e
}

// mount issues the initial fetch synchronously so that reads following the
// registration join it.
func (c *Cache) mount(e *entry) {
	if c.ctx.Err() != nil {
		return
	}
	ch := c.flight.DoChan(e.id, func() (any, error) { return c.run(e) })
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case res := <-ch:
			if res.Err != nil {
				log.Debug().Err(res.Err).Str("key", e.id).Msg("initial fetch failed")
			}
		case <-c.ctx.Done():
		}
	}()
}

func (c *Cache) startLoop(e *entry) {
	e.stop = make(chan struct{})
	stop := e.stop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(e.interval)
		defer t.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				if c.collect(e) {
					return
				}
				if !c.foreground.Load() && !e.background {
					continue
				}
				if _, err := c.load(c.ctx, e, 0); err != nil && c.ctx.Err() == nil {
					log.Debug().Err(err).Str("key", e.id).Msg("scheduled refetch failed")
				}
			}
		}
	}()
}

// collect drops e when it has been idle for longer than the GC time.
func (c *Cache) collect(e *entry) bool {
	if c.gcTime <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(e.listeners) > 0 || c.now().Sub(e.lastRead) < c.gcTime {
		return false
	}
	log.Debug().Str("key", e.id).Msg("query entry collected")
	c.drop(e)
	return true
}

func (c *Cache) refreshAsync(e *entry, after uint64) {
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.load(c.ctx, e, after); err != nil && c.ctx.Err() == nil {
			log.Debug().Err(err).Str("key", e.id).Msg("background refetch failed")
		}
	}()
}

// load waits for a fetch of e whose sequence is greater than after, joining
// the in-flight fetch when there is one. The fetch itself runs on the cache
// context so an impatient caller does not cancel it for the others.
func (c *Cache) load(ctx context.Context, e *entry, after uint64) (any, error) {
	for {
		ch := c.flight.DoChan(e.id, func() (any, error) { return c.run(e) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Shared {
				metrics.CoalescedFetches.Inc()
			}
			r, _ := res.Val.(result)
			if r.seq > after {
				return r.val, res.Err
			}
		}
	}
}

func (c *Cache) run(e *entry) (result, error) {
	c.mu.Lock()
	e.issued++
	seq := e.issued
	e.inflight++
	c.mu.Unlock()

	v, err := e.fetch(c.ctx)
	c.apply(e, seq, v, err)
	return result{seq: seq, val: v}, err
}

// apply stores a completed fetch unless a newer one was applied first.
func (c *Cache) apply(e *entry, seq uint64, v any, err error) {
	resource := e.key.Resource()
	c.mu.Lock()
	if e.inflight > 0 {
		e.inflight--
	}
	if err != nil {
		if seq > e.applied && seq > e.errSeq {
			e.err = err
			e.errSeq = seq
		}
		c.mu.Unlock()
		metrics.FetchTotal.WithLabelValues(resource, "error").Inc()
		return
	}
	if seq <= e.applied {
		c.mu.Unlock()
		metrics.StaleDiscarded.WithLabelValues(resource).Inc()
		return
	}
	e.data = v
	e.hasData = true
	e.applied = seq
	e.updatedAt = c.now()
	if seq > e.errSeq {
		e.err = nil
	}
	listeners := make([]func(any), 0, len(e.listeners))
	for _, fn := range e.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	metrics.FetchTotal.WithLabelValues(resource, "ok").Inc()
	for _, fn := range listeners {
		fn(v)
	}
}
