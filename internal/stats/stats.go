// Package stats derives fleet-wide counts from the device snapshot and the
// latest prediction count. It performs no I/O.
package stats

import (
	"sync"
	"time"

	"github.com/ANIKETSHETTY47/energy-grid-analytics-go/aggregator"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/metrics"
)

// Weights of the alertsLast24h estimate. It is a placeholder until the
// backend exposes a real 24 hour alert count.
const (
	failedAlertWeight  = 3
	warningAlertWeight = 2
	riskyAlertWeight   = 1
)

// Compute groups records by status. Records with an unknown status count
// towards TotalUPS only.
func Compute(records []domain.UPS, predictionsCount int) domain.DashboardStats {
	s := domain.DashboardStats{
		TotalUPS:         len(records),
		PredictionsCount: predictionsCount,
	}

	battery := make([]aggregator.Point, 0, len(records))
	temperature := make([]aggregator.Point, 0, len(records))
	load := make([]aggregator.Point, 0, len(records))
	for _, r := range records {
		switch r.Status {
		case domain.StatusHealthy:
			s.HealthyUPS++
		case domain.StatusWarning:
			s.WarningUPS++
		case domain.StatusRisky:
			s.RiskyUPS++
		case domain.StatusFailed:
			s.FailedUPS++
		}
		ts := parseTime(r.LastChecked)
		battery = append(battery, aggregator.Point{Value: r.BatteryLevel, Timestamp: ts})
		temperature = append(temperature, aggregator.Point{Value: r.Temperature, Timestamp: ts})
		load = append(load, aggregator.Point{Value: r.Load, Timestamp: ts})
	}

	s.ActiveUPS = s.HealthyUPS
	s.AlertsLast24h = s.FailedUPS*failedAlertWeight + s.WarningUPS*warningAlertWeight + s.RiskyUPS*riskyAlertWeight

	if len(records) > 0 {
		s.AvgBatteryLevel = aggregator.Average(battery)
		s.AvgTemperature = aggregator.Average(temperature)
		s.AvgLoad = aggregator.Average(load)
	}
	return s
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Aggregator caches the last computed stats and recomputes only when one of
// its inputs changes version.
type Aggregator struct {
	mu          sync.Mutex
	snapVersion uint64
	predVersion uint64
	computed    bool
	current     domain.DashboardStats
}

// Update returns the stats for the given inputs. The records are only read
// when a version differs from the last call.
func (a *Aggregator) Update(snapVersion uint64, records []domain.UPS, predVersion uint64, predictionsCount int) domain.DashboardStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.computed && snapVersion == a.snapVersion && predVersion == a.predVersion {
		return a.current
	}
	a.current = Compute(records, predictionsCount)
	a.snapVersion = snapVersion
	a.predVersion = predVersion
	a.computed = true
	recordFleet(a.current)
	return a.current
}

// Current returns the last computed stats.
func (a *Aggregator) Current() domain.DashboardStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func recordFleet(s domain.DashboardStats) {
	metrics.FleetDevices.WithLabelValues(string(domain.StatusHealthy)).Set(float64(s.HealthyUPS))
	metrics.FleetDevices.WithLabelValues(string(domain.StatusWarning)).Set(float64(s.WarningUPS))
	metrics.FleetDevices.WithLabelValues(string(domain.StatusRisky)).Set(float64(s.RiskyUPS))
	metrics.FleetDevices.WithLabelValues(string(domain.StatusFailed)).Set(float64(s.FailedUPS))
}
