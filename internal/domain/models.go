package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type Status string

const (
	StatusHealthy Status = "healthy"
	StatusWarning Status = "warning"
	StatusRisky   Status = "risky"
	StatusFailed  Status = "failed"
)

// Statuses lists every valid device classification.
var Statuses = []Status{StatusHealthy, StatusWarning, StatusRisky, StatusFailed}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// UPS is a device record as served by the backend.
type UPS struct {
	MongoID             string            `json:"_id,omitempty"`
	UPSID               string            `json:"upsId" validate:"required"`
	Name                string            `json:"name"`
	Location            string            `json:"location"`
	Status              Status            `json:"status" validate:"oneof=healthy warning risky failed"`
	LastChecked         string            `json:"lastChecked"`
	LastUpdated         string            `json:"lastUpdated,omitempty"`
	PowerInput          float64           `json:"powerInput" validate:"gte=0"`
	PowerOutput         float64           `json:"powerOutput" validate:"gte=0"`
	BatteryLevel        float64           `json:"batteryLevel" validate:"gte=0"`
	Temperature         float64           `json:"temperature" validate:"gte=0"`
	Load                float64           `json:"load,omitempty" validate:"gte=0"`
	Efficiency          float64           `json:"efficiency,omitempty" validate:"gte=0"`
	FailureRisk         float64           `json:"failureRisk,omitempty" validate:"gte=0,lte=1"`
	Uptime              float64           `json:"uptime,omitempty" validate:"gte=0"`
	Manufacturer        string            `json:"manufacturer,omitempty"`
	Model               string            `json:"model,omitempty"`
	SerialNumber        string            `json:"serialNumber,omitempty"`
	InstallationDate    string            `json:"installationDate,omitempty"`
	WarrantyExpiry      string            `json:"warrantyExpiry,omitempty"`
	MaintenanceSchedule string            `json:"maintenanceSchedule,omitempty"`
	NextMaintenance     string            `json:"nextMaintenance,omitempty"`
	CriticalLoad        float64           `json:"criticalLoad,omitempty" validate:"gte=0"`
	Capacity            float64           `json:"capacity,omitempty" validate:"gte=0"`
	Cause               string            `json:"cause,omitempty"`
	Events              []UPSEvent        `json:"events,omitempty" validate:"dive"`
	Alerts              []UPSAlert        `json:"alerts,omitempty" validate:"dive"`
	PerformanceHistory  []json.RawMessage `json:"performanceHistory,omitempty"`
}

type EventType string

const (
	EventInfo    EventType = "info"
	EventWarning EventType = "warning"
	EventError   EventType = "error"
)

// UPSEvent is an immutable log entry attached to a device.
type UPSEvent struct {
	ID        string    `json:"id"`
	Timestamp string    `json:"timestamp"`
	Type      EventType `json:"type" validate:"omitempty,oneof=info warning error"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity,omitempty"`
	Category  string    `json:"category,omitempty"`
	Resolved  bool      `json:"resolved,omitempty"`
}

type UPSAlert struct {
	ID             string `json:"id"`
	Timestamp      string `json:"timestamp"`
	Type           string `json:"type"`
	Message        string `json:"message"`
	Severity       string `json:"severity"`
	Status         string `json:"status" validate:"omitempty,oneof=active resolved"`
	Acknowledged   bool   `json:"acknowledged,omitempty"`
	AcknowledgedBy string `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt string `json:"acknowledgedAt,omitempty"`
	Resolved       bool   `json:"resolved,omitempty"`
	ResolvedAt     string `json:"resolvedAt,omitempty"`
}

// UPSStatus is the lightweight snapshot served by /ups/{id}/status.
type UPSStatus struct {
	UPSID        string  `json:"upsId" validate:"required"`
	Status       Status  `json:"status" validate:"oneof=healthy warning risky failed"`
	LastChecked  string  `json:"lastChecked"`
	BatteryLevel float64 `json:"batteryLevel" validate:"gte=0"`
	Temperature  float64 `json:"temperature" validate:"gte=0"`
	PowerInput   float64 `json:"powerInput" validate:"gte=0"`
	PowerOutput  float64 `json:"powerOutput" validate:"gte=0"`
}

// UPSPage is the collection envelope of /ups.
type UPSPage struct {
	Data   []UPS `json:"data" validate:"dive"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// DashboardStats is both the backend /dashboard/stats payload and the
// locally derived fleet summary.
type DashboardStats struct {
	TotalUPS         int `json:"totalUPS"`
	ActiveUPS        int `json:"activeUPS"`
	FailedUPS        int `json:"failedUPS"`
	WarningUPS       int `json:"warningUPS"`
	RiskyUPS         int `json:"riskyUPS"`
	HealthyUPS       int `json:"healthyUPS"`
	AlertsLast24h    int `json:"alertsLast24h"`
	PredictionsCount int `json:"predictionsCount"`

	AvgBatteryLevel float64 `json:"avgBatteryLevel,omitempty"`
	AvgTemperature  float64 `json:"avgTemperature,omitempty"`
	AvgLoad         float64 `json:"avgLoad,omitempty"`
}

type Health struct {
	Status string `json:"status" validate:"required"`
	DB     bool   `json:"db"`
	Error  string `json:"error,omitempty"`
}

// RiskLevel is the backend's categorical label. Decoding lower-cases it.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

func (r *RiskLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*r = RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	return nil
}

type RiskAssessment struct {
	RiskLevel RiskLevel `json:"risk_level" validate:"omitempty,oneof=high medium low"`
	Reasons   []string  `json:"reasons,omitempty"`
}

// Prediction is a model-generated failure risk assessment for one device.
type Prediction struct {
	ID                 string             `json:"_id,omitempty"`
	UPSID              string             `json:"ups_id"`
	Timestamp          string             `json:"timestamp,omitempty"`
	ProbabilityFailure float64            `json:"probability_failure" validate:"gte=0,lte=1"`
	Confidence         float64            `json:"confidence" validate:"gte=0"`
	RiskAssessment     *RiskAssessment    `json:"risk_assessment,omitempty"`
	FailureReasons     []string           `json:"failure_reasons,omitempty"`
	Reasons            []string           `json:"reasons,omitempty"`
	PredictionData     map[string]any     `json:"prediction_data,omitempty"`
	FeatureImportances map[string]float64 `json:"feature_importances,omitempty"`
}

// RiskLevel returns the backend label or "" when none was supplied.
func (p Prediction) RiskLevel() RiskLevel {
	if p.RiskAssessment == nil {
		return ""
	}
	return p.RiskAssessment.RiskLevel
}

type PredictionsPage struct {
	Predictions []Prediction `json:"predictions" validate:"dive"`
}

// AlertRecord is a server-side alert returned by /alerts. The backend shape
// is loosely specified so unknown fields are kept in Extra.
type AlertRecord struct {
	ID        string                     `json:"_id,omitempty"`
	UPSID     string                     `json:"ups_id,omitempty"`
	Severity  string                     `json:"severity,omitempty"`
	Status    string                     `json:"status,omitempty"`
	Message   string                     `json:"message,omitempty"`
	Timestamp string                     `json:"timestamp,omitempty"`
	Extra     map[string]json.RawMessage `json:"-"`
}

func (a *AlertRecord) UnmarshalJSON(b []byte) error {
	type plain AlertRecord
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if err := json.Unmarshal(b, &p.Extra); err != nil {
		return err
	}
	for _, k := range []string{"_id", "ups_id", "severity", "status", "message", "timestamp"} {
		delete(p.Extra, k)
	}
	*a = AlertRecord(p)
	return nil
}

func (a AlertRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Extra)+6)
	for k, v := range a.Extra {
		out[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("_id", a.ID)
	set("ups_id", a.UPSID)
	set("severity", a.Severity)
	set("status", a.Status)
	set("message", a.Message)
	set("timestamp", a.Timestamp)
	return json.Marshal(out)
}

type AlertsPage struct {
	Data []AlertRecord `json:"data"`
}

type RiskCount struct {
	RiskLevel RiskLevel `json:"risk_level"`
	Count     int       `json:"count" validate:"gte=0"`
}

type AlertCounts struct {
	Counts []RiskCount `json:"counts" validate:"dive"`
}

type PerformanceReport struct {
	Data []json.RawMessage `json:"data"`
}

type Locations struct {
	Data []string `json:"data"`
}

type EventsPage struct {
	Data []UPSEvent `json:"data" validate:"dive"`
}

type BulkStatus struct {
	Data []UPSStatus `json:"data" validate:"dive"`
}

// LiveAlertType is the kind carried by a pushed alert.
type LiveAlertType string

const (
	LiveAlertCritical LiveAlertType = "critical"
	LiveAlertWarning  LiveAlertType = "warning"
)

// LiveAlertBody is the alert payload of a stream entry.
type LiveAlertBody struct {
	Type      LiveAlertType `json:"type"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Timestamp string        `json:"timestamp"`
	Metric    string        `json:"metric"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
}

// LiveAlert is one entry of the pushed alert stream.
type LiveAlert struct {
	UPSID string        `json:"upsId" validate:"required"`
	Alert LiveAlertBody `json:"alert"`
}

// Time parses the embedded timestamp; the zero time is returned when it is
// missing or malformed.
func (b LiveAlertBody) Time() time.Time {
	t, err := time.Parse(time.RFC3339, b.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}
