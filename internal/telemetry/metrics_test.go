package telemetry

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imishinist/aqi-mlops/internal/models"
	"github.com/imishinist/aqi-mlops/internal/promotion"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestNewMetricsRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		d    models.PromotionDecision
		err  error
		want string
	}{
		{"promoted", models.PromotionDecision{Promoted: true, Version: 2, BaselineVersion: 1}, nil, OutcomePromoted},
		{"promoted reusing orphan", models.PromotionDecision{Promoted: true, Reused: true, Version: 3, BaselineVersion: 1}, nil, OutcomePromoted},
		{"replay", models.PromotionDecision{Reused: true, Version: 4, BaselineVersion: 4}, nil, OutcomeAlreadyPromoted},
		{"rejected", models.PromotionDecision{}, nil, OutcomeRejected},
		{"metric unavailable", models.PromotionDecision{}, &promotion.MetricUnavailableError{RunID: "r", Metric: "rmse"}, OutcomeMetricUnavailable},
		{"failed", models.PromotionDecision{}, &promotion.PromotionFailedError{Step: promotion.StepTransition, Err: errors.New("boom")}, OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.d, tt.err))
		})
	}
}

func TestRecordDecision(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordDecision(models.PromotionDecision{
		ModelName:        "aqi",
		ComparisonMetric: "rmse",
		Promoted:         true,
		Version:          2,
		BaselineVersion:  1,
		NewMetric:        3.0,
		BaselineMetric:   3.5,
	}, nil)
	m.RecordDecision(models.PromotionDecision{
		ModelName:        "aqi",
		ComparisonMetric: "rmse",
		NewMetric:        4.2,
		BaselineMetric:   math.Inf(1),
	}, nil)

	assert.InDelta(t, 1, testutil.ToFloat64(m.promotionsTotal.WithLabelValues("aqi", OutcomePromoted)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.promotionsTotal.WithLabelValues("aqi", OutcomeRejected)), 0)
	assert.InDelta(t, 4.2, testutil.ToFloat64(m.promotionMetric.WithLabelValues("aqi", "rmse", "challenger")), 1e-9)
	// The sentinel baseline of the second call does not overwrite the first.
	assert.InDelta(t, 3.5, testutil.ToFloat64(m.promotionMetric.WithLabelValues("aqi", "rmse", "baseline")), 1e-9)
}

func TestObservePrediction(t *testing.T) {
	m := newTestMetrics(t)
	m.ObservePrediction("ok", 20*time.Millisecond)
	m.ObservePrediction("ok", 30*time.Millisecond)
	m.ObservePrediction("invalid", 0)

	assert.InDelta(t, 2, testutil.ToFloat64(m.predictionsTotal.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.predictionsTotal.WithLabelValues("invalid")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.predictionDuration))
}

func TestSetServingModel(t *testing.T) {
	m := newTestMetrics(t)
	m.SetServingModel("aqi", 3)
	m.SetServingModel("aqi", 4)

	assert.Equal(t, 1, testutil.CollectAndCount(m.modelInfo))
	assert.InDelta(t, 1, testutil.ToFloat64(m.modelInfo.WithLabelValues("aqi", "4")), 0)

	m.SetServingModel("aqi", 0)
	assert.Equal(t, 0, testutil.CollectAndCount(m.modelInfo))
}
