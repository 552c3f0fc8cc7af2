package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ANIKETSHETTY47/energy-grid-analytics-go/maintenance"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/rs/zerolog/log"
)

// Service intervals by maintenance schedule.
var scheduleIntervals = map[string]time.Duration{
	"weekly":        7 * 24 * time.Hour,
	"monthly":       30 * 24 * time.Hour,
	"quarterly":     91 * 24 * time.Hour,
	"semi-annually": 182 * 24 * time.Hour,
	"annually":      365 * 24 * time.Hour,
}

const (
	defaultSchedule    = "monthly"
	baseFailureRate    = 0.3 // per year, for a device with no reported risk
	urgentFailureRisk  = 0.5
	maintenanceHorizon = 30 * 24 * time.Hour
)

// MaintenanceAlerter is implemented by cloud.SNSClient.
type MaintenanceAlerter interface {
	SendMaintenanceAlert(ctx context.Context, upsID string, failureRisk float64, nextService time.Time) error
}

// MaintenanceService forecasts servicing needs for UPS devices.
type MaintenanceService struct {
	alerter MaintenanceAlerter
	now     func() time.Time

	mu sync.Mutex
	// alerted holds the service day each device was last alerted for.
	alerted map[string]string
}

func NewMaintenanceService(alerter MaintenanceAlerter) *MaintenanceService {
	return &MaintenanceService{alerter: alerter, now: time.Now, alerted: make(map[string]string)}
}

type MaintenanceForecast struct {
	UPSID             string    `json:"upsId"`
	Schedule          string    `json:"maintenanceSchedule"`
	FailureRisk30Days float64   `json:"failureRisk30Days"`
	FailureRisk90Days float64   `json:"failureRisk90Days"`
	NextServiceDate   time.Time `json:"nextServiceDate"`
	DaysUntilService  int       `json:"daysUntilService"`
	Recommendation    string    `json:"recommendation"`
}

// ServiceInterval maps a schedule name to its interval; unknown names use
// the monthly interval.
func ServiceInterval(schedule string) time.Duration {
	if d, ok := scheduleIntervals[strings.ToLower(strings.TrimSpace(schedule))]; ok {
		return d
	}
	return scheduleIntervals[defaultSchedule]
}

// Forecast builds the maintenance outlook of u.
func (s *MaintenanceService) Forecast(u domain.UPS) MaintenanceForecast {
	now := s.now()
	schedule := u.MaintenanceSchedule
	if schedule == "" {
		schedule = defaultSchedule
	}
	interval := ServiceInterval(schedule)

	health := maintenance.AssetHealth{
		HoursRun:           hoursRun(u, now),
		FailureRatePerYear: baseFailureRate + u.FailureRisk,
		LastService:        lastService(u, interval, now),
		ServiceInterval:    interval,
	}

	risk30 := maintenance.FailureRisk(health.FailureRatePerYear, maintenanceHorizon)
	risk90 := maintenance.FailureRisk(health.FailureRatePerYear, 3*maintenanceHorizon)
	next := maintenance.NextServiceDate(health)

	return MaintenanceForecast{
		UPSID:             u.UPSID,
		Schedule:          schedule,
		FailureRisk30Days: risk30 * 100,
		FailureRisk90Days: risk90 * 100,
		NextServiceDate:   next,
		DaysUntilService:  int(next.Sub(now).Hours() / 24),
		Recommendation:    recommendation(risk30, u),
	}
}

// Sweep forecasts every device and sends a maintenance alert for those that
// are urgent. A device is alerted once per service date. It returns the
// number of alerts sent.
func (s *MaintenanceService) Sweep(ctx context.Context, fleet []domain.UPS) int {
	if s.alerter == nil {
		return 0
	}
	sent := 0
	for _, u := range fleet {
		f := s.Forecast(u)
		risk30 := f.FailureRisk30Days / 100
		if risk30 <= urgentFailureRisk && u.Status != domain.StatusFailed {
			continue
		}

		day := f.NextServiceDate.UTC().Format("2006-01-02")
		s.mu.Lock()
		last := s.alerted[u.UPSID]
		s.mu.Unlock()
		if last == day {
			continue
		}

		if err := s.alerter.SendMaintenanceAlert(ctx, u.UPSID, risk30, f.NextServiceDate); err != nil {
			log.Error().Err(err).Str("ups_id", u.UPSID).Msg("maintenance alert failed")
			continue
		}
		s.mu.Lock()
		s.alerted[u.UPSID] = day
		s.mu.Unlock()
		sent++
	}
	return sent
}

// NextMaintenance is the first service date of a newly installed device.
func (s *MaintenanceService) NextMaintenance(schedule string) string {
	return s.now().Add(ServiceInterval(schedule)).UTC().Format("2006-01-02")
}

func hoursRun(u domain.UPS, now time.Time) float64 {
	installed, ok := parseDate(u.InstallationDate)
	if !ok || installed.After(now) {
		return 0
	}
	// A UPS is always on.
	return now.Sub(installed).Hours()
}

func lastService(u domain.UPS, interval time.Duration, now time.Time) time.Time {
	if next, ok := parseDate(u.NextMaintenance); ok {
		return next.Add(-interval)
	}
	if installed, ok := parseDate(u.InstallationDate); ok {
		return installed
	}
	return now
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func recommendation(risk float64, u domain.UPS) string {
	switch {
	case risk > 0.5 || u.Status == domain.StatusFailed:
		return "URGENT: Schedule immediate maintenance inspection"
	case risk > 0.3 || u.Status == domain.StatusRisky:
		return "Schedule maintenance within next 30 days"
	case risk > 0.15 || u.Status == domain.StatusWarning:
		return "Plan maintenance within next 90 days"
	}
	return "UPS operating normally"
}
