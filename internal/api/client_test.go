package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL + "/")
	require.NoError(t, err)
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("  ")
	assert.ErrorIs(t, err, ErrMissingBaseURL)
}

func TestCallSetsJSONContentType(t *testing.T) {
	var gotCT, gotReqID string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		gotReqID = r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte(`{"status":"ok","db":true}`))
	})

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.True(t, h.DB)
	assert.Equal(t, "application/json", gotCT)
	assert.NotEmpty(t, gotReqID)
}

func TestCallNotFoundReturnsRequestFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ups/UNKNOWN", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetUPS(context.Background(), "UNKNOWN")
	require.Error(t, err)

	var rf *RequestFailure
	require.True(t, errors.As(err, &rf))
	assert.Equal(t, http.StatusNotFound, rf.StatusCode)
	assert.Equal(t, "Not Found", rf.Status)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "API call failed: 404 Not Found", err.Error())
}

func TestCallSurfacesDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		var u domain.UPS
		require.NoError(t, json.Unmarshal(body, &u))
		assert.Equal(t, "U9", u.UPSID)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"detail":"UPS U9 already exists"}`))
	})

	_, err := c.CreateUPS(context.Background(), domain.UPS{UPSID: "U9", Status: domain.StatusHealthy})
	var rf *RequestFailure
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, http.StatusConflict, rf.StatusCode)
	assert.Equal(t, "UPS U9 already exists", rf.Detail)
}

func TestCallDoesNotRetry(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.DashboardStats(context.Background())
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Equal(t, 1, calls)
}

func TestCallRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad status", `{"data":[{"upsId":"U1","status":"exploded"}],"total":1}`},
		{"missing id", `{"data":[{"status":"healthy"}],"total":1}`},
		{"risk out of range", `{"data":[{"upsId":"U1","status":"risky","failureRisk":1.7}],"total":1}`},
		{"negative battery", `{"data":[{"upsId":"U1","status":"healthy","batteryLevel":-3}],"total":1}`},
		{"not json", `<html>oops</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.ListUPS(context.Background(), ListParams{})
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "/ups", pe.Endpoint)
		})
	}
}

func TestPredictionsNormalizesRiskLevel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "high", r.URL.Query().Get("risk_level"))
		_, _ = w.Write([]byte(`{"predictions":[{"ups_id":"U1","probability_failure":0.3,"risk_assessment":{"risk_level":" HIGH "}}]}`))
	})

	page, err := c.Predictions(context.Background(), PredictionParams{Limit: 50, RiskLevel: "high"})
	require.NoError(t, err)
	require.Len(t, page.Predictions, 1)
	assert.Equal(t, domain.RiskHigh, page.Predictions[0].RiskLevel())
}

func TestQueryEncoding(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	_, err := c.ListUPS(context.Background(), ListParams{Status: "failed", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, "limit=20&status=failed", got)

	_, err = c.BulkStatus(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, "ids=a%2Cb%2Cc", got)
}

func TestAlertRecordKeepsUnknownFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"_id":"a1","ups_id":"U1","severity":"high","risk_score":0.91}]}`))
	})

	page, err := c.Alerts(context.Background(), AlertParams{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "U1", page.Data[0].UPSID)
	assert.JSONEq(t, `0.91`, string(page.Data[0].Extra["risk_score"]))

	out, err := json.Marshal(page.Data[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"a1","ups_id":"U1","severity":"high","risk_score":0.91}`, string(out))
}

func TestTransportFailureIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	_, err = c.Health(context.Background())
	require.Error(t, err)
	assert.Zero(t, StatusCode(err))
}
