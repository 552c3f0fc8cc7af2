package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/api"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/config"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend is a fake of the remote API.
type backend struct {
	mu       sync.Mutex
	fleet    []domain.UPS
	created  []domain.UPS
	conflict bool
	down     atomic.Bool
	listHits atomic.Int32
}

func (b *backend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ups", func(w http.ResponseWriter, r *http.Request) {
		b.listHits.Add(1)
		if b.down.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		var out []domain.UPS
		search := r.URL.Query().Get("search")
		for _, u := range b.fleet {
			if search == "" || u.UPSID == search {
				out = append(out, u)
			}
		}
		writeJSON(w, domain.UPSPage{Data: out, Total: len(out)})
	})
	mux.HandleFunc("POST /ups", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var u domain.UPS
		assert.NoError(t, json.Unmarshal(body, &u))
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.conflict {
			w.WriteHeader(http.StatusConflict)
			writeJSON(w, map[string]string{"detail": "UPS already exists"})
			return
		}
		b.created = append(b.created, u)
		b.fleet = append(b.fleet, u)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	})
	mux.HandleFunc("GET /ups/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, u := range b.fleet {
			if u.UPSID == r.PathValue("id") {
				writeJSON(w, u)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /predictions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, domain.PredictionsPage{Predictions: []domain.Prediction{
			{UPSID: "U1", ProbabilityFailure: 0.9},
			{UPSID: "U2", ProbabilityFailure: 0.1},
		}})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newServices(t *testing.T, b *backend, opts ...Option) *Services {
	t.Helper()
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		APIBaseURL:            srv.URL,
		WSURL:                 "ws://unused",
		DeviceRefreshInterval: time.Hour,
		PredictionInterval:    time.Hour,
		AlertsPageInterval:    time.Hour,
		PredictionLimit:       50,
		QueryGCTime:           time.Minute,
	}
	s, err := New(cfg, append(opts, WithoutStream())...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	s := newServices(t, &backend{})
	_, err := s.Registration.Register(context.Background(), NewUPS{UPSID: "  ", Location: "DC-1"})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "is required", ve.Fields["upsId"])
	assert.Equal(t, "is required", ve.Fields["name"])
	assert.NotContains(t, ve.Fields, "location")
	assert.Equal(t, "validation failed: upsId is required, name is required", err.Error())
}

func TestRegisterDetectsDuplicateBeforePosting(t *testing.T) {
	b := &backend{fleet: []domain.UPS{{UPSID: "U1", Status: domain.StatusHealthy}}}
	s := newServices(t, b)

	_, err := s.Registration.Register(context.Background(), NewUPS{UPSID: "U1", Name: "n", Location: "l"})
	assert.ErrorIs(t, err, ErrDuplicateUPS)
	assert.Empty(t, b.created)
}

func TestRegisterTreatsConflictAsDuplicate(t *testing.T) {
	b := &backend{conflict: true}
	s := newServices(t, b)

	_, err := s.Registration.Register(context.Background(), NewUPS{UPSID: "U9", Name: "n", Location: "l"})
	assert.ErrorIs(t, err, ErrDuplicateUPS)
	var rf *api.RequestFailure
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, "UPS already exists", rf.Detail)
}

func TestRegisterAppliesDefaultsAndRefreshes(t *testing.T) {
	b := &backend{}
	s := newServices(t, b)
	ctx := context.Background()

	list, err := s.UPSList(ctx, api.ListParams{})
	require.NoError(t, err)
	assert.Empty(t, list.Data.Data)

	_, err = s.Registration.Register(ctx, NewUPS{UPSID: " U5 ", Name: "Rack 5", Location: "DC-2"})
	require.NoError(t, err)

	require.Len(t, b.created, 1)
	u := b.created[0]
	assert.Equal(t, "U5", u.UPSID)
	assert.Equal(t, domain.StatusHealthy, u.Status)
	assert.Equal(t, 100.0, u.BatteryLevel)
	assert.Equal(t, 25.0, u.Temperature)
	assert.Equal(t, 95.0, u.Efficiency)
	assert.Equal(t, 100.0, u.Uptime)
	assert.Equal(t, "monthly", u.MaintenanceSchedule)
	assert.NotEmpty(t, u.NextMaintenance)
	assert.NotEmpty(t, u.LastChecked)

	snap := s.Snapshot.Snapshot()
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "U5", snap.Records[0].UPSID)

	list, err = s.UPSList(ctx, api.ListParams{})
	require.NoError(t, err)
	assert.Len(t, list.Data.Data, 1)
}

func TestDashboardStatsFromSnapshotAndPredictions(t *testing.T) {
	b := &backend{fleet: []domain.UPS{
		{UPSID: "U1", Status: domain.StatusFailed},
		{UPSID: "U2", Status: domain.StatusHealthy},
	}}
	s := newServices(t, b)
	ctx := context.Background()

	require.NoError(t, s.Snapshot.Refetch(ctx))
	require.NoError(t, s.Predictions.Refetch(ctx))

	st := s.DashboardStats()
	assert.Equal(t, 2, st.TotalUPS)
	assert.Equal(t, 1, st.FailedUPS)
	assert.Equal(t, 1, st.HealthyUPS)
	assert.Equal(t, 2, st.PredictionsCount)
	assert.Equal(t, 3, st.AlertsLast24h)
}

func TestNotFoundLeavesSnapshotUnchanged(t *testing.T) {
	b := &backend{fleet: []domain.UPS{{UPSID: "U1", Status: domain.StatusHealthy}}}
	s := newServices(t, b)
	ctx := context.Background()
	require.NoError(t, s.Snapshot.Refetch(ctx))
	before := s.Snapshot.Snapshot()

	_, err := s.UPS(ctx, "UNKNOWN")
	var rf *api.RequestFailure
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, http.StatusNotFound, rf.StatusCode)
	assert.Equal(t, before, s.Snapshot.Snapshot())
}

func TestInvalidateParsesPrefix(t *testing.T) {
	s := newServices(t, &backend{})
	ctx := context.Background()
	_, err := s.UPSList(ctx, api.ListParams{})
	require.NoError(t, err)

	assert.Equal(t, 1, s.Invalidate("/ups/"))
	assert.Equal(t, 0, s.Invalidate("alerts"))
	assert.Equal(t, 1, s.Invalidate(""))
}

func TestFailedRefreshKeepsListWithError(t *testing.T) {
	b := &backend{fleet: []domain.UPS{{UPSID: "U1", Status: domain.StatusHealthy}}}
	s := newServices(t, b)
	ctx := context.Background()

	list, err := s.UPSList(ctx, api.ListParams{})
	require.NoError(t, err)
	assert.False(t, list.Stale)

	b.down.Store(true)
	s.Invalidate("ups")
	list, err = s.UPSList(ctx, api.ListParams{})
	require.NoError(t, err)
	assert.True(t, list.Stale)
	assert.Len(t, list.Data.Data, 1)
	var rf *api.RequestFailure
	require.ErrorAs(t, list.Err, &rf)
	assert.Equal(t, http.StatusInternalServerError, rf.StatusCode)
}

func TestMaintenanceForecastReadDoesNotAlert(t *testing.T) {
	b := &backend{fleet: []domain.UPS{{UPSID: "U2", Status: domain.StatusFailed}}}
	alerter := &recordingAlerter{}
	s := newServices(t, b, WithMaintenanceAlerter(alerter))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f, err := s.MaintenanceForecast(ctx, "U2")
		require.NoError(t, err)
		assert.Equal(t, "U2", f.UPSID)
	}
	assert.Empty(t, alerter.sent())
}

func TestRunSweepsMaintenanceOnSnapshotUpdates(t *testing.T) {
	b := &backend{fleet: []domain.UPS{
		{UPSID: "U1", Status: domain.StatusHealthy},
		{UPSID: "U2", Status: domain.StatusFailed, NextMaintenance: "2024-03-20"},
	}}
	alerter := &recordingAlerter{}
	s := newServices(t, b, WithMaintenanceAlerter(alerter))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return len(alerter.sent()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Snapshot.Refetch(ctx))
	require.NoError(t, s.Snapshot.Refetch(ctx))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"U2"}, alerter.sent())
}

type fakeStore struct {
	name string
}

func (f *fakeStore) UploadExport(_ context.Context, name, _ string, _ []byte) (string, error) {
	f.name = name
	return "https://example.invalid/" + name, nil
}

func TestExportLoadsSnapshotAndUploads(t *testing.T) {
	b := &backend{fleet: []domain.UPS{{UPSID: "U1", Status: domain.StatusHealthy}}}
	store := &fakeStore{}
	s := newServices(t, b, WithExportStore(store))
	ctx := context.Background()

	f, err := s.Exports.Build(ctx, export.Options{Format: export.FormatJSON})
	require.NoError(t, err)
	assert.Contains(t, string(f.Data), `"upsId": "U1"`)

	url, err := s.Exports.Upload(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, f.Name, store.name)
	assert.Contains(t, url, f.Name)
}

func TestUploadWithoutStore(t *testing.T) {
	s := newServices(t, &backend{})
	_, err := s.Exports.Upload(context.Background(), &export.File{Name: "x.csv"})
	assert.True(t, errors.Is(err, ErrNoExportStore))
}
