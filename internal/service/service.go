package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/alertstream"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/api"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/config"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/export"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/notify"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/predictions"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/query"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/snapshot"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/stats"
	"github.com/rs/zerolog/log"
)

// ErrNoExportStore is returned when an upload is requested without S3.
var ErrNoExportStore = errors.New("export storage is not configured")

// ExportStore is implemented by cloud.S3Client.
type ExportStore interface {
	UploadExport(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Services wires every reconciliation component around one gateway client.
type Services struct {
	API              *api.Client
	Cache            *query.Cache
	Snapshot         *snapshot.Store
	Predictions      *predictions.Poller
	AlertPredictions *predictions.Poller
	Stats            *stats.Aggregator
	Stream           *alertstream.Client
	Registration     *RegistrationService
	Maintenance      *MaintenanceService
	Exports          *ExportService

	unsubscribe func()
	wg          sync.WaitGroup
}

type Option func(*options)

type options struct {
	notifier notify.Notifier
	alerter  MaintenanceAlerter
	store    ExportStore
	noStream bool
}

// WithNotifier sets where live alert notifications go. The default logs them.
func WithNotifier(n notify.Notifier) Option { return func(o *options) { o.notifier = n } }

func WithMaintenanceAlerter(a MaintenanceAlerter) Option { return func(o *options) { o.alerter = a } }

func WithExportStore(s ExportStore) Option { return func(o *options) { o.store = s } }

// WithoutStream skips the live alert stream.
func WithoutStream() Option { return func(o *options) { o.noStream = true } }

func New(cfg *config.Config, opts ...Option) (*Services, error) {
	o := options{notifier: notify.Log{}}
	for _, opt := range opts {
		opt(&o)
	}

	client, err := api.New(cfg.APIBaseURL,
		api.WithTimeout(cfg.APITimeout),
		api.WithRateLimit(cfg.APIRateLimit, cfg.APIRateBurst),
	)
	if err != nil {
		return nil, err
	}

	cache := query.NewCache(query.WithGCTime(cfg.QueryGCTime))
	if cfg.BackgroundRefreshOnly {
		cache.SetForeground(false)
	}

	s := &Services{
		API:      client,
		Cache:    cache,
		Snapshot: snapshot.New(client, cfg.DeviceRefreshInterval),
		Predictions: predictions.New("dashboard", client, cfg.PredictionInterval,
			api.PredictionParams{Limit: cfg.PredictionLimit}),
		AlertPredictions: predictions.New("alerts", client, cfg.AlertsPageInterval,
			api.PredictionParams{Limit: cfg.PredictionLimit}),
		Stats:       &stats.Aggregator{},
		Maintenance: NewMaintenanceService(o.alerter),
	}
	s.Registration = NewRegistrationService(client, cache, s.Snapshot, s.Maintenance)
	s.Exports = &ExportService{snapshot: s.Snapshot, store: o.store, now: time.Now}

	if !o.noStream {
		stream, err := alertstream.New(cfg.WSURL,
			alertstream.WithNotifier(o.notifier),
			alertstream.WithReconnectDelay(cfg.AlertReconnectDelay),
			alertstream.WithPingInterval(cfg.AlertPingInterval),
		)
		if err != nil {
			return nil, err
		}
		s.Stream = stream
	}

	s.unsubscribe = s.Snapshot.Subscribe(func(snapshot.Snapshot) { s.DashboardStats() })
	return s, nil
}

// Run starts the pollers and the alert stream and blocks until ctx is done.
func (s *Services) Run(ctx context.Context) {
	updated, unwatch := s.watchMaintenance()
	defer unwatch()
	for _, run := range []func(context.Context){s.Snapshot.Run, s.Predictions.Run, s.AlertPredictions.Run} {
		s.wg.Add(1)
		go func(run func(context.Context)) {
			defer s.wg.Done()
			run(ctx)
		}(run)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.maintenanceLoop(ctx, updated)
	}()
	if s.Stream != nil {
		s.Stream.Start()
	}
	log.Info().Str("backend", s.API.BaseURL()).Msg("reconciliation services started")

	<-ctx.Done()
	s.wg.Wait()
}

// watchMaintenance signals on the returned channel whenever a new snapshot
// version is applied.
func (s *Services) watchMaintenance() (<-chan struct{}, func()) {
	updated := make(chan struct{}, 1)
	var last atomic.Uint64
	unsubscribe := s.Snapshot.Subscribe(func(snap snapshot.Snapshot) {
		if last.Swap(snap.Version) == snap.Version {
			return
		}
		select {
		case updated <- struct{}{}:
		default:
		}
	})
	return updated, unsubscribe
}

// maintenanceLoop sweeps the fleet for due maintenance after every snapshot
// update.
func (s *Services) maintenanceLoop(ctx context.Context, updated <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-updated:
			if n := s.Maintenance.Sweep(ctx, s.Snapshot.Snapshot().Records); n > 0 {
				log.Info().Int("alerts", n).Msg("maintenance alerts sent")
			}
		}
	}
}

// Close releases the cache pollers and the alert stream.
func (s *Services) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.Stream != nil {
		s.Stream.Close()
	}
	s.Cache.Close()
}

// DashboardStats derives the fleet summary from the latest snapshot and the
// latest dashboard predictions.
func (s *Services) DashboardStats() domain.DashboardStats {
	snap := s.Snapshot.Snapshot()
	preds := s.Predictions.Latest()
	return s.Stats.Update(snap.Version, snap.Records, preds.Version, len(preds.Predictions))
}

func (s *Services) Health(ctx context.Context) (query.State[*domain.Health], error) {
	return query.Use(s.Cache, query.Options[*domain.Health]{
		Key:      query.KeyHealth,
		Fetch:    s.API.Health,
		Interval: query.IntervalHealth,
	}).Read(ctx)
}

func (s *Services) BackendStats(ctx context.Context) (query.State[*domain.DashboardStats], error) {
	return query.Use(s.Cache, query.Options[*domain.DashboardStats]{
		Key:      query.KeyDashboardStats,
		Fetch:    s.API.DashboardStats,
		Interval: query.IntervalDashboardStats,
	}).Read(ctx)
}

func (s *Services) UPSList(ctx context.Context, p api.ListParams) (query.State[*domain.UPSPage], error) {
	return query.Use(s.Cache, query.Options[*domain.UPSPage]{
		Key: query.KeyUPSList(p.Values().Encode()),
		Fetch: func(ctx context.Context) (*domain.UPSPage, error) {
			return s.API.ListUPS(ctx, p)
		},
		Interval: query.IntervalDeviceList,
	}).Read(ctx)
}

func (s *Services) UPS(ctx context.Context, id string) (query.State[*domain.UPS], error) {
	return query.Use(s.Cache, query.Options[*domain.UPS]{
		Key: query.KeyUPSDetail(id),
		Fetch: func(ctx context.Context) (*domain.UPS, error) {
			return s.API.GetUPS(ctx, id)
		},
		Interval:            query.IntervalDeviceDetail,
		RefetchInBackground: true,
		Disabled:            id == "",
	}).Read(ctx)
}

func (s *Services) UPSStatus(ctx context.Context, id string) (query.State[*domain.UPSStatus], error) {
	return query.Use(s.Cache, query.Options[*domain.UPSStatus]{
		Key: query.KeyUPSStatus(id),
		Fetch: func(ctx context.Context) (*domain.UPSStatus, error) {
			return s.API.UPSStatus(ctx, id)
		},
		Interval: query.IntervalDeviceStatus,
		Disabled: id == "",
	}).Read(ctx)
}

func (s *Services) UPSEvents(ctx context.Context, id string, p api.EventParams) (query.State[*domain.EventsPage], error) {
	return query.Use(s.Cache, query.Options[*domain.EventsPage]{
		Key: query.KeyUPSEvents(id, p.Values().Encode()),
		Fetch: func(ctx context.Context) (*domain.EventsPage, error) {
			return s.API.UPSEvents(ctx, id, p)
		},
		Disabled: id == "",
	}).Read(ctx)
}

func (s *Services) BulkStatus(ctx context.Context, ids []string) (query.State[*domain.BulkStatus], error) {
	return query.Use(s.Cache, query.Options[*domain.BulkStatus]{
		Key: query.KeyBulkStatus(ids),
		Fetch: func(ctx context.Context) (*domain.BulkStatus, error) {
			return s.API.BulkStatus(ctx, ids)
		},
		Interval: query.IntervalBulkStatus,
		Disabled: len(ids) == 0,
	}).Read(ctx)
}

func (s *Services) Alerts(ctx context.Context, p api.AlertParams) (query.State[*domain.AlertsPage], error) {
	return query.Use(s.Cache, query.Options[*domain.AlertsPage]{
		Key: query.KeyAlerts(p.Values().Encode()),
		Fetch: func(ctx context.Context) (*domain.AlertsPage, error) {
			return s.API.Alerts(ctx, p)
		},
		Interval: query.IntervalAlerts,
	}).Read(ctx)
}

func (s *Services) AlertCounts(ctx context.Context) (query.State[*domain.AlertCounts], error) {
	return query.Use(s.Cache, query.Options[*domain.AlertCounts]{
		Key:      query.KeyAlertCounts,
		Fetch:    s.API.AlertCounts,
		Interval: query.IntervalAlertCounts,
	}).Read(ctx)
}

// PredictionsFor returns the five latest predictions of one device.
func (s *Services) PredictionsFor(ctx context.Context, id string) (query.State[*domain.PredictionsPage], error) {
	return query.Use(s.Cache, query.Options[*domain.PredictionsPage]{
		Key: query.KeyPredictionsByUPS(id),
		Fetch: func(ctx context.Context) (*domain.PredictionsPage, error) {
			return s.API.Predictions(ctx, api.PredictionParams{UPSID: id, Limit: 5})
		},
		Interval: query.IntervalPredictions,
		Disabled: id == "",
	}).Read(ctx)
}

// PerformanceReport is only fetched once a date bound is given.
func (s *Services) PerformanceReport(ctx context.Context, p api.ReportParams) (query.State[*domain.PerformanceReport], error) {
	return query.Use(s.Cache, query.Options[*domain.PerformanceReport]{
		Key: query.KeyPerformanceReport(p.Values().Encode()),
		Fetch: func(ctx context.Context) (*domain.PerformanceReport, error) {
			return s.API.PerformanceReport(ctx, p)
		},
		Disabled: p.StartDate == "" && p.EndDate == "",
	}).Read(ctx)
}

func (s *Services) Locations(ctx context.Context) (query.State[*domain.Locations], error) {
	return query.Use(s.Cache, query.Options[*domain.Locations]{
		Key:       query.KeyLocations,
		Fetch:     s.API.Locations,
		StaleTime: query.StaleTimeLocations,
	}).Read(ctx)
}

// MaintenanceForecast forecasts servicing for one device from its cached
// detail record.
func (s *Services) MaintenanceForecast(ctx context.Context, id string) (*MaintenanceForecast, error) {
	u, err := s.UPS(ctx, id)
	if err != nil {
		return nil, err
	}
	f := s.Maintenance.Forecast(*u.Data)
	return &f, nil
}

// Invalidate marks cached queries under a "/"-separated key prefix.
func (s *Services) Invalidate(prefix string) int {
	var key query.Key
	if p := strings.Trim(prefix, "/"); p != "" {
		key = query.Key(strings.Split(p, "/"))
	}
	return s.Cache.Invalidate(key)
}

// ExportService renders the current device snapshot.
type ExportService struct {
	snapshot *snapshot.Store
	store    ExportStore
	now      func() time.Time
}

// Build exports the snapshot, loading it first if it has never succeeded.
func (e *ExportService) Build(ctx context.Context, opts export.Options) (*export.File, error) {
	snap := e.snapshot.Snapshot()
	if snap.Version == 0 {
		if err := e.snapshot.Refetch(ctx); err != nil {
			return nil, err
		}
		snap = e.snapshot.Snapshot()
	}
	return export.Export(snap.Records, opts, e.now())
}

// Upload stores f and returns a download URL.
func (e *ExportService) Upload(ctx context.Context, f *export.File) (string, error) {
	if e.store == nil {
		return "", ErrNoExportStore
	}
	return e.store.UploadExport(ctx, f.Name, f.ContentType, f.Data)
}
