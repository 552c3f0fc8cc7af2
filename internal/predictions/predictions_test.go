package predictions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/api"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withLevel(level domain.RiskLevel, prob float64) domain.Prediction {
	return domain.Prediction{
		UPSID:              "U1",
		ProbabilityFailure: prob,
		RiskAssessment:     &domain.RiskAssessment{RiskLevel: level},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		p    domain.Prediction
		want Severity
	}{
		{"backend medium beats high probability", withLevel(domain.RiskMedium, 0.95), SeverityWarning},
		{"backend high beats low probability", withLevel(domain.RiskHigh, 0.3), SeverityCritical},
		{"backend low", withLevel(domain.RiskLow, 0.99), SeverityInfo},
		{"threshold critical", domain.Prediction{ProbabilityFailure: 0.81}, SeverityCritical},
		{"threshold warning", domain.Prediction{ProbabilityFailure: 0.8}, SeverityWarning},
		{"threshold info", domain.Prediction{ProbabilityFailure: 0.5}, SeverityInfo},
		{"threshold healthy", domain.Prediction{ProbabilityFailure: 0.4}, SeverityHealthy},
		{"unknown label falls back", withLevel("severe", 0.9), SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.p))
		})
	}
}

func TestFailureReasonsPrefersExplicit(t *testing.T) {
	p := domain.Prediction{
		FailureReasons: []string{"fan failure"},
		Reasons:        []string{"ignored"},
	}
	assert.Equal(t, []string{"fan failure"}, FailureReasons(p))

	p = domain.Prediction{RiskAssessment: &domain.RiskAssessment{Reasons: []string{"aging cells"}}}
	assert.Equal(t, []string{"aging cells"}, FailureReasons(p))
}

func TestFailureReasonsDerived(t *testing.T) {
	p := domain.Prediction{
		PredictionData: map[string]any{
			"battery_level": 15.0,
			"temperature":   42.5,
			"efficiency":    95.0,
			"load":          97.0,
			"uptime":        99.9,
		},
		FeatureImportances: map[string]float64{
			"battery_level": 0.52,
			"temperature":   0.31,
			"load":          0.12,
			"efficiency":    0.05,
		},
	}
	assert.Equal(t, []string{
		"Critical battery level (15%) - Replace battery",
		"High temperature (42.5°C)",
		"Efficiency: 95%",
		"Critical load (97%) - Overload risk",
		"Uptime: 99.9",
		"battery level influence: 52%",
		"temperature influence: 31%",
		"load influence: 12%",
	}, FailureReasons(p))
}

func TestFailureReasonsFallback(t *testing.T) {
	assert.Equal(t,
		[]string{"Multiple risk factors detected - System showing signs of potential failure"},
		FailureReasons(domain.Prediction{ProbabilityFailure: 0.7}))
	assert.Equal(t,
		[]string{"System operating within normal parameters"},
		FailureReasons(domain.Prediction{ProbabilityFailure: 0.2}))
}

func TestCountsByRiskLevel(t *testing.T) {
	got := CountsByRiskLevel(domain.AlertCounts{Counts: []domain.RiskCount{
		{RiskLevel: domain.RiskHigh, Count: 4},
		{RiskLevel: domain.RiskLow, Count: 1},
	}})
	assert.Equal(t, map[domain.RiskLevel]int{
		domain.RiskHigh:   4,
		domain.RiskMedium: 0,
		domain.RiskLow:    1,
	}, got)
}

func TestFormatRelative(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "Just now", FormatRelative(now.Add(-30*time.Second), now))
	assert.Equal(t, "5m ago", FormatRelative(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", FormatRelative(now.Add(-3*time.Hour-10*time.Minute), now))
	assert.Equal(t, "2024-05-08", FormatRelative(now.Add(-48*time.Hour), now))
}

type fakeFetcher struct {
	mu     sync.Mutex
	params []api.PredictionParams
	fn     func(call int) (*domain.PredictionsPage, error)
}

func (f *fakeFetcher) Predictions(ctx context.Context, p api.PredictionParams) (*domain.PredictionsPage, error) {
	f.mu.Lock()
	f.params = append(f.params, p)
	n := len(f.params)
	f.mu.Unlock()
	return f.fn(n)
}

func TestPollerKeepsPredictionsOnError(t *testing.T) {
	boom := errors.New("backend down")
	f := &fakeFetcher{fn: func(n int) (*domain.PredictionsPage, error) {
		if n == 1 {
			return &domain.PredictionsPage{Predictions: []domain.Prediction{withLevel(domain.RiskHigh, 0.3)}}, nil
		}
		return nil, boom
	}}
	p := New("dashboard", f, DashboardInterval, api.PredictionParams{})

	require.NoError(t, p.Refetch(context.Background()))
	first := p.Latest()
	assert.Len(t, first.Predictions, 1)
	assert.False(t, first.LastUpdateTime.IsZero())
	assert.Equal(t, first.LastUpdateTime.Add(DashboardInterval), p.NextUpdate())

	assert.ErrorIs(t, p.Refetch(context.Background()), boom)
	second := p.Latest()
	assert.Len(t, second.Predictions, 1)
	assert.Equal(t, first.Version, second.Version)
	assert.ErrorIs(t, second.Err, boom)

	assert.Equal(t, DefaultLimit, f.params[0].Limit)
}

func TestPollerRun(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*domain.PredictionsPage, error) {
		return &domain.PredictionsPage{}, nil
	}}
	p := New("alerts", f, 10*time.Millisecond, api.PredictionParams{Limit: 5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	assert.Eventually(t, func() bool { return p.Latest().Version >= 2 }, time.Second, 5*time.Millisecond)
}
