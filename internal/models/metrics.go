package models

import "time"

// MetricPoint is one evaluation window of the forecasting model. Zero-valued
// scores are omitted except R2, which can legitimately be zero.
type MetricPoint struct {
	Timestamp *time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Step      *int64     `json:"step,omitempty" yaml:"step,omitempty"`
	RMSE      float64    `json:"rmse,omitempty" yaml:"rmse,omitempty"`
	MAE       float64    `json:"mae,omitempty" yaml:"mae,omitempty"`
	R2        *float64   `json:"r2,omitempty" yaml:"r2,omitempty"`
}

type MetricsFile struct {
	Metrics []MetricPoint `json:"metrics" yaml:"metrics"`
}

type Metric struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Step      int64     `json:"step"`
}

type TimeConfig struct {
	Resolution string // 1m, 5m, 1h
	Alignment  string // floor, ceil, round
	StepMode   string // auto, timestamp, sequence
}
