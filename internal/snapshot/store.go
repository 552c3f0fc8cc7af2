// Package snapshot keeps the latest full list of UPS records for the
// dashboard. It has a single writer, its own fetch cycle.
package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/api"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/metrics"
	"github.com/rs/zerolog/log"
)

const DefaultInterval = 5 * time.Minute

// Messages stored in Snapshot.Error.
const (
	ErrFetchFailed = "Failed to fetch UPS data"
	ErrNetwork     = "Network error while fetching UPS data"
)

// Fetcher is the part of the gateway the store needs.
type Fetcher interface {
	ListUPS(ctx context.Context, p api.ListParams) (*domain.UPSPage, error)
}

// Snapshot is a copy of the store state.
type Snapshot struct {
	Records   []domain.UPS `json:"records"`
	IsLoading bool         `json:"isLoading"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
	// Version increases every time new records are applied.
	Version uint64 `json:"version"`
}

type Store struct {
	fetcher  Fetcher
	interval time.Duration

	mu        sync.RWMutex
	records   []domain.UPS
	inflight  int
	errMsg    string
	updatedAt time.Time
	version   uint64

	issued  uint64
	dataSeq uint64
	errSeq  uint64

	subs   map[int]func(Snapshot)
	nextID int
}

func New(f Fetcher, interval time.Duration) *Store {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Store{
		fetcher:  f,
		interval: interval,
		subs:     make(map[int]func(Snapshot)),
	}
}

// Run fetches immediately and then on every interval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	_ = s.Refetch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = s.Refetch(ctx)
		}
	}
}

// Refetch loads the full collection. Concurrent calls are allowed; whichever
// was issued last wins regardless of completion order. On failure the
// previous records are kept.
func (s *Store) Refetch(ctx context.Context) error {
	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.inflight++
	s.mu.Unlock()
	s.publish()

	page, err := s.fetcher.ListUPS(ctx, api.ListParams{})
	var records []domain.UPS
	if page != nil {
		records = page.Data
	}
	s.apply(seq, records, err)
	return err
}

func (s *Store) apply(seq uint64, records []domain.UPS, err error) {
	s.mu.Lock()
	s.inflight--
	switch {
	case err != nil:
		if seq > s.dataSeq && seq > s.errSeq {
			s.errSeq = seq
			s.errMsg = errorMessage(err)
			log.Error().Err(err).Uint64("seq", seq).Msg("device snapshot fetch failed")
		}
		metrics.FetchTotal.WithLabelValues("snapshot", "error").Inc()
	case seq > s.dataSeq:
		s.dataSeq = seq
		s.records = records
		s.updatedAt = time.Now()
		s.version++
		if seq > s.errSeq {
			s.errMsg = ""
		}
		metrics.FetchTotal.WithLabelValues("snapshot", "ok").Inc()
	default:
		log.Debug().Uint64("seq", seq).Uint64("applied", s.dataSeq).Msg("discarding stale device snapshot")
		metrics.StaleDiscarded.WithLabelValues("snapshot").Inc()
	}
	s.mu.Unlock()
	s.publish()
}

func errorMessage(err error) string {
	if api.StatusCode(err) != 0 {
		return ErrFetchFailed
	}
	return ErrNetwork
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	records := make([]domain.UPS, len(s.records))
	copy(records, s.records)
	return Snapshot{
		Records:   records,
		IsLoading: s.inflight > 0,
		Error:     s.errMsg,
		UpdatedAt: s.updatedAt,
		Version:   s.version,
	}
}

// Subscribe calls fn with a fresh copy after every state change.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) publish() {
	s.mu.RLock()
	if len(s.subs) == 0 {
		s.mu.RUnlock()
		return
	}
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(snap)
	}
}
