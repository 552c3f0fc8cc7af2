package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
)

// ListParams filters GET /ups.
type ListParams struct {
	Status   string
	Location string
	Search   string
	Limit    int
	Offset   int
}

func (p ListParams) Values() url.Values {
	v := url.Values{}
	setStr(v, "status", p.Status)
	setStr(v, "location", p.Location)
	setStr(v, "search", p.Search)
	setInt(v, "limit", p.Limit)
	setInt(v, "offset", p.Offset)
	return v
}

type EventParams struct {
	EventType string
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

func (p EventParams) Values() url.Values {
	v := url.Values{}
	setStr(v, "event_type", p.EventType)
	setStr(v, "start_date", p.StartDate)
	setStr(v, "end_date", p.EndDate)
	setInt(v, "limit", p.Limit)
	setInt(v, "offset", p.Offset)
	return v
}

type PredictionParams struct {
	UPSID     string
	RiskLevel string
	Limit     int
	Offset    int
}

func (p PredictionParams) Values() url.Values {
	v := url.Values{}
	setStr(v, "ups_id", p.UPSID)
	setStr(v, "risk_level", p.RiskLevel)
	setInt(v, "limit", p.Limit)
	setInt(v, "offset", p.Offset)
	return v
}

type AlertParams struct {
	Severity string
	Status   string
	Limit    int
	Offset   int
}

func (p AlertParams) Values() url.Values {
	v := url.Values{}
	setStr(v, "severity", p.Severity)
	setStr(v, "status", p.Status)
	setInt(v, "limit", p.Limit)
	setInt(v, "offset", p.Offset)
	return v
}

type ReportParams struct {
	StartDate string
	EndDate   string
	UPSIDs    []string
}

func (p ReportParams) Values() url.Values {
	v := url.Values{}
	setStr(v, "start_date", p.StartDate)
	setStr(v, "end_date", p.EndDate)
	if len(p.UPSIDs) > 0 {
		v.Set("ups_ids", strings.Join(p.UPSIDs, ","))
	}
	return v
}

func setStr(v url.Values, k, s string) {
	if s != "" {
		v.Set(k, s)
	}
}

func setInt(v url.Values, k string, n int) {
	if n > 0 {
		v.Set(k, strconv.Itoa(n))
	}
}

func withQuery(path string, v url.Values) string {
	if q := v.Encode(); q != "" {
		return path + "?" + q
	}
	return path
}

func (c *Client) Health(ctx context.Context) (*domain.Health, error) {
	var out domain.Health
	if err := c.Call(ctx, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DashboardStats(ctx context.Context) (*domain.DashboardStats, error) {
	var out domain.DashboardStats
	if err := c.Call(ctx, "/dashboard/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListUPS(ctx context.Context, p ListParams) (*domain.UPSPage, error) {
	var out domain.UPSPage
	if err := c.Call(ctx, withQuery("/ups", p.Values()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetUPS(ctx context.Context, id string) (*domain.UPS, error) {
	var out domain.UPS
	if err := c.Call(ctx, "/ups/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UPSStatus(ctx context.Context, id string) (*domain.UPSStatus, error) {
	var out domain.UPSStatus
	if err := c.Call(ctx, "/ups/"+url.PathEscape(id)+"/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UPSEvents(ctx context.Context, id string, p EventParams) (*domain.EventsPage, error) {
	var out domain.EventsPage
	if err := c.Call(ctx, withQuery("/ups/"+url.PathEscape(id)+"/events", p.Values()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BulkStatus(ctx context.Context, ids []string) (*domain.BulkStatus, error) {
	v := url.Values{}
	v.Set("ids", strings.Join(ids, ","))
	var out domain.BulkStatus
	if err := c.Call(ctx, withQuery("/ups/status/bulk", v), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateUPS posts a new device and returns the raw created record. A 4xx/5xx
// body of the form {detail} is carried in the returned RequestFailure.
func (c *Client) CreateUPS(ctx context.Context, ups domain.UPS) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.Call(ctx, "/ups", &CallOptions{Method: http.MethodPost, Body: ups}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Predictions(ctx context.Context, p PredictionParams) (*domain.PredictionsPage, error) {
	var out domain.PredictionsPage
	if err := c.Call(ctx, withQuery("/predictions", p.Values()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Alerts(ctx context.Context, p AlertParams) (*domain.AlertsPage, error) {
	var out domain.AlertsPage
	if err := c.Call(ctx, withQuery("/alerts", p.Values()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AlertCounts(ctx context.Context) (*domain.AlertCounts, error) {
	var out domain.AlertCounts
	if err := c.Call(ctx, "/alerts/count", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PerformanceReport(ctx context.Context, p ReportParams) (*domain.PerformanceReport, error) {
	var out domain.PerformanceReport
	if err := c.Call(ctx, withQuery("/reports/ups-performance", p.Values()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Locations(ctx context.Context) (*domain.Locations, error) {
	var out domain.Locations
	if err := c.Call(ctx, "/locations", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
