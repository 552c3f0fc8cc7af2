package query

import (
	"strings"
	"time"
)

// Refresh cadence per resource class.
const (
	IntervalHealth         = 30 * time.Second
	IntervalDashboardStats = 10 * time.Second
	IntervalDeviceList     = 60 * time.Second
	IntervalDeviceDetail   = 300 * time.Second
	IntervalDeviceStatus   = 5 * time.Second
	IntervalBulkStatus     = 10 * time.Second
	IntervalAlerts         = 20 * time.Second
	IntervalAlertCounts    = 30 * time.Second
	IntervalPredictions    = 60 * time.Second

	// Locations are not polled; they go stale after five minutes.
	StaleTimeLocations = 5 * time.Minute
)

// Key is a resource identity followed by its parameters.
type Key []string

func (k Key) String() string { return strings.Join(k, "/") }

// Resource is the first key segment, used as a metrics label.
func (k Key) Resource() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

var (
	KeyHealth         = Key{"health"}
	KeyDashboardStats = Key{"dashboard", "stats"}
	KeyAlertCounts    = Key{"alerts", "counts"}
	KeyLocations      = Key{"locations", "all"}
)

// params is an encoded query string, so equal filters share a key.
func KeyUPSList(params string) Key { return Key{"ups", "all", params} }

func KeyUPSDetail(id string) Key { return Key{"ups", "detail", id} }

func KeyUPSStatus(id string) Key { return Key{"ups", "status", id} }

func KeyUPSEvents(id, params string) Key { return Key{"ups", "events", id, params} }

func KeyBulkStatus(ids []string) Key { return Key{"ups", "bulk-status", strings.Join(ids, ",")} }

func KeyAlerts(params string) Key { return Key{"alerts", "all", params} }

func KeyPredictions(params string) Key { return Key{"predictions", "all", params} }

func KeyPredictionsByUPS(id string) Key { return Key{"predictions", "byUPS", id} }

func KeyPerformanceReport(params string) Key { return Key{"reports", "performance", params} }
