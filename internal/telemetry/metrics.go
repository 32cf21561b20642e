// Package telemetry holds the Prometheus metrics of the gateway and the
// promotion job.
package telemetry

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/imishinist/aqi-mlops/internal/models"
	"github.com/imishinist/aqi-mlops/internal/promotion"
)

// Promotion outcomes used as the "outcome" label.
const (
	OutcomePromoted          = "promoted"
	OutcomeRejected          = "rejected"
	OutcomeAlreadyPromoted   = "already_promoted"
	OutcomeMetricUnavailable = "metric_unavailable"
	OutcomeFailed            = "failed"
)

type Metrics struct {
	predictionsTotal   *prometheus.CounterVec
	predictionDuration prometheus.Histogram
	modelInfo          *prometheus.GaugeVec
	promotionsTotal    *prometheus.CounterVec
	promotionMetric    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		predictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aqi_predictions_total",
				Help: "Prediction requests by status (ok, invalid, error, unavailable)",
			},
			[]string{"status"},
		),
		predictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aqi_prediction_duration_seconds",
			Help:    "Time spent in the model predictor",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		modelInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aqi_model_info",
				Help: "Set to 1 for the model version being served",
			},
			[]string{"model", "version"},
		),
		promotionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aqi_promotion_decisions_total",
				Help: "Promotion decisions by outcome",
			},
			[]string{"model", "outcome"},
		),
		promotionMetric: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aqi_promotion_metric",
				Help: "Comparison metric of the last evaluated challenger and baseline",
			},
			[]string{"model", "metric", "role"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.predictionsTotal.Describe(ch)
	m.predictionDuration.Describe(ch)
	m.modelInfo.Describe(ch)
	m.promotionsTotal.Describe(ch)
	m.promotionMetric.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.predictionsTotal.Collect(ch)
	m.predictionDuration.Collect(ch)
	m.modelInfo.Collect(ch)
	m.promotionsTotal.Collect(ch)
	m.promotionMetric.Collect(ch)
}

func (m *Metrics) ObservePrediction(status string, d time.Duration) {
	m.predictionsTotal.WithLabelValues(status).Inc()
	if d > 0 {
		m.predictionDuration.Observe(d.Seconds())
	}
}

// SetServingModel marks the version currently loaded. Version 0 clears it.
func (m *Metrics) SetServingModel(name string, version int64) {
	m.modelInfo.Reset()
	if version > 0 {
		m.modelInfo.WithLabelValues(name, strconv.FormatInt(version, 10)).Set(1)
	}
}

// RecordDecision implements promotion.Recorder.
func (m *Metrics) RecordDecision(d models.PromotionDecision, err error) {
	m.promotionsTotal.WithLabelValues(d.ModelName, Outcome(d, err)).Inc()
	if errors.Is(err, promotion.ErrMetricUnavailable) {
		return
	}
	m.promotionMetric.WithLabelValues(d.ModelName, d.ComparisonMetric, "challenger").Set(d.NewMetric)
	if d.HasBaseline() {
		m.promotionMetric.WithLabelValues(d.ModelName, d.ComparisonMetric, "baseline").Set(d.BaselineMetric)
	}
}

// Outcome classifies a finished decision.
func Outcome(d models.PromotionDecision, err error) string {
	switch {
	case errors.Is(err, promotion.ErrMetricUnavailable):
		return OutcomeMetricUnavailable
	case err != nil:
		return OutcomeFailed
	case d.Promoted:
		return OutcomePromoted
	case d.Reused && d.Version > 0 && d.Version == d.BaselineVersion:
		return OutcomeAlreadyPromoted
	default:
		return OutcomeRejected
	}
}

var _ promotion.Recorder = (*Metrics)(nil)
