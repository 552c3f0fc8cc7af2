package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/google/uuid"
)

var locations = []string{"DC-East", "DC-West", "HQ-Basement", "Warehouse-2"}

// Telemetry thresholds for generated alerts.
const (
	batteryCritical = 20.0
	batteryWarning  = 40.0
	tempCritical    = 45.0
	tempWarning     = 38.0
	maxEvents       = 50
)

// fleet is the in-memory backend state.
type fleet struct {
	mu      sync.RWMutex
	devices map[string]*domain.UPS
	order   []string
	events  map[string][]domain.UPSEvent
	alerts  []domain.AlertRecord
	rnd     *rand.Rand
	now     func() time.Time
}

func newFleet(size int, seed uint64) *fleet {
	f := &fleet{
		devices: make(map[string]*domain.UPS, size),
		events:  make(map[string][]domain.UPSEvent, size),
		rnd:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:     time.Now,
	}
	for i := 1; i <= size; i++ {
		id := fmt.Sprintf("UPS-%03d", i)
		u := &domain.UPS{
			UPSID:               id,
			Name:                fmt.Sprintf("UPS Unit %d", i),
			Location:            locations[(i-1)%len(locations)],
			Manufacturer:        "APC",
			Model:               "Smart-UPS SRT 5000",
			SerialNumber:        strings.ToUpper(uuid.NewString()[:8]),
			Capacity:            5000,
			CriticalLoad:        80,
			InstallationDate:    f.now().AddDate(-1-i%3, 0, 0).Format("2006-01-02"),
			MaintenanceSchedule: "monthly",
			NextMaintenance:     f.now().AddDate(0, 0, 5+i).Format("2006-01-02"),
			BatteryLevel:        60 + f.rnd.Float64()*40,
			Temperature:         22 + f.rnd.Float64()*10,
			PowerInput:          3000 + f.rnd.Float64()*1000,
			Efficiency:          92 + f.rnd.Float64()*5,
			Uptime:              99 + f.rnd.Float64(),
		}
		f.settle(u)
		f.devices[id] = u
		f.order = append(f.order, id)
	}
	return f
}

// settle recomputes the derived fields of u after its telemetry moved.
func (f *fleet) settle(u *domain.UPS) {
	u.PowerOutput = round(u.PowerInput * u.Efficiency / 100)
	u.Load = round(u.PowerOutput / u.Capacity * 100)
	u.LastChecked = f.now().UTC().Format(time.RFC3339)
	u.FailureRisk = math.Round(failureRisk(u)*100) / 100

	switch {
	case u.BatteryLevel < batteryCritical || u.Temperature > tempCritical:
		u.Status = domain.StatusFailed
	case u.FailureRisk > 0.6:
		u.Status = domain.StatusRisky
	case u.BatteryLevel < batteryWarning || u.Temperature > tempWarning:
		u.Status = domain.StatusWarning
	default:
		u.Status = domain.StatusHealthy
	}
}

func failureRisk(u *domain.UPS) float64 {
	risk := 0.05
	if u.BatteryLevel < batteryWarning {
		risk += (batteryWarning - u.BatteryLevel) / batteryWarning * 0.6
	}
	if u.Temperature > 30 {
		risk += (u.Temperature - 30) / 20 * 0.4
	}
	return math.Min(risk, 1)
}

func round(v float64) float64 { return math.Round(v*10) / 10 }

// tick drifts every device and returns the alerts the new readings raise.
func (f *fleet) tick() []domain.LiveAlert {
	f.mu.Lock()
	defer f.mu.Unlock()

	var raised []domain.LiveAlert
	for _, id := range f.order {
		u := f.devices[id]
		before := u.Status

		u.BatteryLevel = clamp(u.BatteryLevel+f.rnd.NormFloat64()*3-0.3, 0, 100)
		u.Temperature = clamp(u.Temperature+f.rnd.NormFloat64()*0.8, 15, 60)
		u.PowerInput = clamp(u.PowerInput+f.rnd.NormFloat64()*80, 0, u.Capacity)
		u.BatteryLevel, u.Temperature = round(u.BatteryLevel), round(u.Temperature)
		f.settle(u)

		if u.Status != before {
			f.recordEvent(u, before)
		}
		if a, ok := f.alertFor(u); ok {
			raised = append(raised, a)
		}
	}
	return raised
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

func (f *fleet) recordEvent(u *domain.UPS, before domain.Status) {
	typ := domain.EventInfo
	switch u.Status {
	case domain.StatusFailed:
		typ = domain.EventError
	case domain.StatusWarning, domain.StatusRisky:
		typ = domain.EventWarning
	}
	ev := domain.UPSEvent{
		ID:        uuid.NewString(),
		Timestamp: u.LastChecked,
		Type:      typ,
		Message:   fmt.Sprintf("Status changed from %s to %s", before, u.Status),
		Category:  "status",
	}
	events := append([]domain.UPSEvent{ev}, f.events[u.UPSID]...)
	if len(events) > maxEvents {
		events = events[:maxEvents]
	}
	f.events[u.UPSID] = events
}

func (f *fleet) alertFor(u *domain.UPS) (domain.LiveAlert, bool) {
	body := domain.LiveAlertBody{Timestamp: u.LastChecked}
	switch {
	case u.BatteryLevel < batteryCritical:
		body.Type, body.Title = domain.LiveAlertCritical, "Battery critically low"
		body.Metric, body.Value, body.Threshold = "batteryLevel", u.BatteryLevel, batteryCritical
	case u.Temperature > tempCritical:
		body.Type, body.Title = domain.LiveAlertCritical, "Temperature critical"
		body.Metric, body.Value, body.Threshold = "temperature", u.Temperature, tempCritical
	case u.Temperature > tempWarning:
		body.Type, body.Title = domain.LiveAlertWarning, "Temperature high"
		body.Metric, body.Value, body.Threshold = "temperature", u.Temperature, tempWarning
	default:
		return domain.LiveAlert{}, false
	}
	body.Message = fmt.Sprintf("%s at %.1f (threshold %.1f)", body.Metric, body.Value, body.Threshold)

	severity := "high"
	if body.Type == domain.LiveAlertWarning {
		severity = "medium"
	}
	f.alerts = append([]domain.AlertRecord{{
		ID:        uuid.NewString(),
		UPSID:     u.UPSID,
		Severity:  severity,
		Status:    "active",
		Message:   body.Message,
		Timestamp: body.Timestamp,
	}}, f.alerts...)
	if len(f.alerts) > 200 {
		f.alerts = f.alerts[:200]
	}
	return domain.LiveAlert{UPSID: u.UPSID, Alert: body}, true
}

func (f *fleet) list(status, location, search string, limit, offset int) domain.UPSPage {
	f.mu.RLock()
	defer f.mu.RUnlock()

	search = strings.ToLower(search)
	var out []domain.UPS
	for _, id := range f.order {
		u := f.devices[id]
		if status != "" && string(u.Status) != status {
			continue
		}
		if location != "" && u.Location != location {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(u.UPSID+" "+u.Name), search) {
			continue
		}
		out = append(out, *u)
	}

	total := len(out)
	if offset > 0 {
		out = out[min(offset, total):]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return domain.UPSPage{Data: out, Total: total, Limit: limit, Offset: offset}
}

func (f *fleet) get(id string) (domain.UPS, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.devices[id]
	if !ok {
		return domain.UPS{}, false
	}
	out := *u
	out.Events = slices.Clone(f.events[id])
	return out, true
}

func (f *fleet) status(id string) (domain.UPSStatus, bool) {
	u, ok := f.get(id)
	if !ok {
		return domain.UPSStatus{}, false
	}
	return domain.UPSStatus{
		UPSID:        u.UPSID,
		Status:       u.Status,
		LastChecked:  u.LastChecked,
		BatteryLevel: u.BatteryLevel,
		Temperature:  u.Temperature,
		PowerInput:   u.PowerInput,
		PowerOutput:  u.PowerOutput,
	}, true
}

func (f *fleet) eventsOf(id string) []domain.UPSEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.events[id])
}

// add registers u; false means the ID is taken.
func (f *fleet) add(u domain.UPS) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[u.UPSID]; ok {
		return false
	}
	if u.Capacity == 0 {
		u.Capacity = 5000
	}
	f.devices[u.UPSID] = &u
	f.order = append(f.order, u.UPSID)
	return true
}

func (f *fleet) stats() domain.DashboardStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var s domain.DashboardStats
	for _, u := range f.devices {
		s.TotalUPS++
		switch u.Status {
		case domain.StatusHealthy:
			s.HealthyUPS++
		case domain.StatusWarning:
			s.WarningUPS++
		case domain.StatusRisky:
			s.RiskyUPS++
		case domain.StatusFailed:
			s.FailedUPS++
		}
	}
	s.ActiveUPS = s.TotalUPS - s.FailedUPS
	since := f.now().Add(-24 * time.Hour)
	for _, a := range f.alerts {
		if t, err := time.Parse(time.RFC3339, a.Timestamp); err == nil && t.After(since) {
			s.AlertsLast24h++
		}
	}
	s.PredictionsCount = len(f.devices)
	return s
}

func (f *fleet) predictions(upsID, riskLevel string, limit int) []domain.Prediction {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []domain.Prediction
	for _, id := range f.order {
		if upsID != "" && id != upsID {
			continue
		}
		u := f.devices[id]
		level := domain.RiskLow
		switch {
		case u.FailureRisk > 0.7:
			level = domain.RiskHigh
		case u.FailureRisk > 0.4:
			level = domain.RiskMedium
		}
		if riskLevel != "" && string(level) != riskLevel {
			continue
		}
		out = append(out, domain.Prediction{
			ID:                 uuid.NewString(),
			UPSID:              id,
			Timestamp:          u.LastChecked,
			ProbabilityFailure: u.FailureRisk,
			Confidence:         0.85,
			RiskAssessment:     &domain.RiskAssessment{RiskLevel: level},
			PredictionData: map[string]any{
				"battery_level": u.BatteryLevel,
				"temperature":   u.Temperature,
				"efficiency":    u.Efficiency,
				"load":          u.Load,
				"power_input":   u.PowerInput,
				"power_output":  u.PowerOutput,
			},
			FeatureImportances: map[string]float64{
				"battery_level": 0.45,
				"temperature":   0.35,
				"load":          0.2,
			},
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (f *fleet) alertCounts() domain.AlertCounts {
	f.mu.RLock()
	defer f.mu.RUnlock()
	counts := map[domain.RiskLevel]int{}
	for _, a := range f.alerts {
		if a.Status == "active" {
			counts[domain.RiskLevel(a.Severity)]++
		}
	}
	var out domain.AlertCounts
	for _, lvl := range []domain.RiskLevel{domain.RiskHigh, domain.RiskMedium, domain.RiskLow} {
		out.Counts = append(out.Counts, domain.RiskCount{RiskLevel: lvl, Count: counts[lvl]})
	}
	return out
}

func (f *fleet) alertPage(severity, status string, limit, offset int) []domain.AlertRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []domain.AlertRecord
	for _, a := range f.alerts {
		if (severity == "" || a.Severity == severity) && (status == "" || a.Status == status) {
			out = append(out, a)
		}
	}
	out = out[min(offset, len(out)):]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// recent returns up to n of the latest critical or warning readings as
// stream alerts.
func (f *fleet) recent(n int) []domain.LiveAlert {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := []domain.LiveAlert{}
	for _, a := range f.alerts {
		if len(out) == n {
			break
		}
		typ := domain.LiveAlertCritical
		if a.Severity == "medium" {
			typ = domain.LiveAlertWarning
		}
		out = append(out, domain.LiveAlert{UPSID: a.UPSID, Alert: domain.LiveAlertBody{
			Type:      typ,
			Title:     "Active alert",
			Message:   a.Message,
			Timestamp: a.Timestamp,
		}})
	}
	return out
}

func (f *fleet) locationNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, id := range f.order {
		if loc := f.devices[id].Location; !seen[loc] {
			seen[loc] = true
			out = append(out, loc)
		}
	}
	slices.Sort(out)
	return out
}
