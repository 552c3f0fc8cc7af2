// Package predictions polls the backend failure predictions and classifies
// them into severity buckets.
package predictions

import (
	"context"
	"sync"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/api"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Cadence per consumer of the same endpoint.
const (
	DashboardInterval  = 60 * time.Second
	AlertsPageInterval = 15 * time.Minute
	DefaultLimit       = 50
)

type Fetcher interface {
	Predictions(ctx context.Context, p api.PredictionParams) (*domain.PredictionsPage, error)
}

// Result is a copy of the poller state.
type Result struct {
	Predictions    []domain.Prediction `json:"predictions"`
	LastUpdateTime time.Time           `json:"lastUpdateTime"`
	Version        uint64              `json:"version"`
	Err            error               `json:"-"`
}

type Poller struct {
	name     string
	fetcher  Fetcher
	params   api.PredictionParams
	interval time.Duration

	mu         sync.RWMutex
	preds      []domain.Prediction
	lastUpdate time.Time
	version    uint64
	err        error

	issued  uint64
	dataSeq uint64
	errSeq  uint64
}

// New builds a poller. name labels logs and metrics so that several pollers
// of the same endpoint can be told apart.
func New(name string, f Fetcher, interval time.Duration, params api.PredictionParams) *Poller {
	if interval <= 0 {
		interval = DashboardInterval
	}
	if params.Limit <= 0 {
		params.Limit = DefaultLimit
	}
	return &Poller{name: name, fetcher: f, params: params, interval: interval}
}

func (p *Poller) Interval() time.Duration { return p.interval }

// Run fetches immediately and then on every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	_ = p.Refetch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = p.Refetch(ctx)
		}
	}
}

// Refetch loads the predictions now. A failure keeps the previous set.
func (p *Poller) Refetch(ctx context.Context) error {
	p.mu.Lock()
	p.issued++
	seq := p.issued
	p.mu.Unlock()

	page, err := p.fetcher.Predictions(ctx, p.params)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		if seq > p.dataSeq && seq > p.errSeq {
			p.err = err
			p.errSeq = seq
		}
		log.Error().Err(err).Str("poller", p.name).Msg("prediction fetch failed")
		metrics.FetchTotal.WithLabelValues("predictions", "error").Inc()
		return err
	}
	if seq <= p.dataSeq {
		metrics.StaleDiscarded.WithLabelValues("predictions").Inc()
		return nil
	}
	p.dataSeq = seq
	p.preds = page.Predictions
	p.lastUpdate = time.Now()
	p.version++
	if seq > p.errSeq {
		p.err = nil
	}
	metrics.FetchTotal.WithLabelValues("predictions", "ok").Inc()
	log.Debug().Str("poller", p.name).Int("count", len(p.preds)).Msg("predictions updated")
	return nil
}

func (p *Poller) Latest() Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	preds := make([]domain.Prediction, len(p.preds))
	copy(preds, p.preds)
	return Result{
		Predictions:    preds,
		LastUpdateTime: p.lastUpdate,
		Version:        p.version,
		Err:            p.err,
	}
}

// NextUpdate is when the next scheduled poll is due.
func (p *Poller) NextUpdate() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastUpdate.IsZero() {
		return time.Time{}
	}
	return p.lastUpdate.Add(p.interval)
}
