package predictions

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeverityHealthy  Severity = "healthy"
)

// Classify maps a prediction to a severity. A backend risk label always wins;
// the probability thresholds are only used when the label is missing.
func Classify(p domain.Prediction) Severity {
	switch p.RiskLevel() {
	case domain.RiskHigh:
		return SeverityCritical
	case domain.RiskMedium:
		return SeverityWarning
	case domain.RiskLow:
		return SeverityInfo
	}
	switch prob := p.ProbabilityFailure; {
	case prob > 0.8:
		return SeverityCritical
	case prob > 0.6:
		return SeverityWarning
	case prob > 0.4:
		return SeverityInfo
	default:
		return SeverityHealthy
	}
}

const topImportances = 3

// FailureReasons returns the explicit reasons supplied with p, or derives
// them from the telemetry snapshot and feature importances.
func FailureReasons(p domain.Prediction) []string {
	if len(p.FailureReasons) > 0 {
		return p.FailureReasons
	}
	if p.RiskAssessment != nil && len(p.RiskAssessment.Reasons) > 0 {
		return p.RiskAssessment.Reasons
	}
	if len(p.Reasons) > 0 {
		return p.Reasons
	}

	var reasons []string
	data := p.PredictionData

	if v, ok := number(data, "battery_level"); ok {
		switch {
		case v < 20:
			reasons = append(reasons, fmt.Sprintf("Critical battery level (%s%%) - Replace battery", fmtNum(v)))
		case v < 40:
			reasons = append(reasons, fmt.Sprintf("Low battery level (%s%%)", fmtNum(v)))
		default:
			reasons = append(reasons, fmt.Sprintf("Battery level: %s%%", fmtNum(v)))
		}
	}
	if v, ok := number(data, "temperature"); ok {
		switch {
		case v > 45:
			reasons = append(reasons, fmt.Sprintf("Critical temperature (%s°C) - Overheating risk", fmtNum(v)))
		case v > 40:
			reasons = append(reasons, fmt.Sprintf("High temperature (%s°C)", fmtNum(v)))
		default:
			reasons = append(reasons, fmt.Sprintf("Temperature: %s°C", fmtNum(v)))
		}
	}
	if v, ok := number(data, "efficiency"); ok {
		switch {
		case v < 80:
			reasons = append(reasons, fmt.Sprintf("Critical efficiency (%s%%)", fmtNum(v)))
		case v < 90:
			reasons = append(reasons, fmt.Sprintf("Low efficiency (%s%%)", fmtNum(v)))
		default:
			reasons = append(reasons, fmt.Sprintf("Efficiency: %s%%", fmtNum(v)))
		}
	}
	if v, ok := number(data, "load"); ok {
		switch {
		case v > 95:
			reasons = append(reasons, fmt.Sprintf("Critical load (%s%%) - Overload risk", fmtNum(v)))
		case v > 90:
			reasons = append(reasons, fmt.Sprintf("High load (%s%%)", fmtNum(v)))
		default:
			reasons = append(reasons, fmt.Sprintf("Load: %s%%", fmtNum(v)))
		}
	}
	for _, m := range []struct{ key, label string }{
		{"power_input", "Power input"},
		{"power_output", "Power output"},
		{"uptime", "Uptime"},
		{"capacity", "Capacity"},
	} {
		if raw, ok := data[m.key]; ok && raw != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %s", m.label, fmtAny(raw)))
		}
	}

	reasons = append(reasons, topInfluences(p.FeatureImportances)...)

	if len(reasons) == 0 {
		if p.ProbabilityFailure > 0.6 {
			return []string{"Multiple risk factors detected - System showing signs of potential failure"}
		}
		return []string{"System operating within normal parameters"}
	}
	return reasons
}

func topInfluences(fi map[string]float64) []string {
	if len(fi) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fi))
	for k := range fi {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if fi[keys[i]] == fi[keys[j]] {
			return keys[i] < keys[j]
		}
		return fi[keys[i]] > fi[keys[j]]
	})
	if len(keys) > topImportances {
		keys = keys[:topImportances]
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s influence: %.0f%%", strings.ReplaceAll(k, "_", " "), fi[k]*100))
	}
	return out
}

func number(data map[string]any, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func fmtNum(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func fmtAny(v any) string {
	if f, ok := v.(float64); ok {
		return fmtNum(f)
	}
	return fmt.Sprint(v)
}

// Assessment is a prediction together with its derived severity and reasons.
type Assessment struct {
	domain.Prediction
	Severity Severity `json:"severity"`
	Reasons  []string `json:"derived_reasons"`
}

func Assess(ps []domain.Prediction) []Assessment {
	out := make([]Assessment, 0, len(ps))
	for _, p := range ps {
		out = append(out, Assessment{Prediction: p, Severity: Classify(p), Reasons: FailureReasons(p)})
	}
	return out
}

// CountsByRiskLevel flattens the /alerts/count payload. Unknown labels are kept.
func CountsByRiskLevel(c domain.AlertCounts) map[domain.RiskLevel]int {
	out := map[domain.RiskLevel]int{
		domain.RiskHigh:   0,
		domain.RiskMedium: 0,
		domain.RiskLow:    0,
	}
	for _, rc := range c.Counts {
		out[rc.RiskLevel] += rc.Count
	}
	return out
}
