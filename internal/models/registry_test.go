package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStage(t *testing.T) {
	tests := []struct {
		in   string
		want Stage
	}{
		{"", StageNone},
		{"None", StageNone},
		{"staging", StageStaging},
		{"PRODUCTION", StageProduction},
		{" Archived ", StageArchived},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStage(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseStage("canary")
	assert.Error(t, err)
}

func TestStageCanTransition(t *testing.T) {
	assert.True(t, StageNone.CanTransition(StageProduction))
	assert.True(t, StageStaging.CanTransition(StageProduction))
	assert.True(t, StageProduction.CanTransition(StageArchived))
	assert.False(t, StageProduction.CanTransition(StageProduction))
	assert.False(t, StageArchived.CanTransition(StageProduction))
	assert.False(t, StageArchived.CanTransition(StageNone))
}

func TestRunMetricsGet(t *testing.T) {
	m := RunMetrics{"rmse": 4.2, "nan": math.NaN(), "inf": math.Inf(1)}

	v, ok := m.Get("rmse")
	assert.True(t, ok)
	assert.Equal(t, 4.2, v)

	_, ok = m.Get("mae")
	assert.False(t, ok)
	_, ok = m.Get("nan")
	assert.False(t, ok)
	_, ok = m.Get("inf")
	assert.False(t, ok)

	var empty RunMetrics
	_, ok = empty.Get("rmse")
	assert.False(t, ok)

	assert.Equal(t, []string{"inf", "nan", "rmse"}, m.Keys())
}

func TestParametersFileFlatten(t *testing.T) {
	f := ParametersFile{
		Parameters: map[string]string{"n_estimators": "800"},
		Train: map[string]any{
			"n_estimators": 500,
			"subsample":    0.8,
			"objective":    "reg:squarederror",
			"booster":      map[string]any{"type": "gbtree"},
			"missing":      nil,
		},
	}
	assert.Equal(t, map[string]string{
		"n_estimators": "800",
		"subsample":    "0.8",
		"objective":    "reg:squarederror",
		"booster.type": "gbtree",
		"missing":      "",
	}, f.Flatten())
}

func TestPromotionDecisionBaseline(t *testing.T) {
	d := PromotionDecision{BaselineMetric: math.Inf(1)}
	assert.False(t, d.HasBaseline())
	assert.Equal(t, "none", d.BaselineString())

	d.BaselineMetric = 3
	assert.True(t, d.HasBaseline())
	assert.Equal(t, "3.0000", d.BaselineString())
}

func TestAQIFeaturesValidate(t *testing.T) {
	f := validFeatures()
	require.NoError(t, f.Validate())

	missing := validFeatures()
	missing.Humidity = nil
	assert.ErrorContains(t, missing.Validate(), "humidity")

	outOfRange := validFeatures()
	hour := 24
	outOfRange.HourOfDay = &hour
	assert.ErrorContains(t, outOfRange.Validate(), "hour_of_day")
}

func TestAQIFeaturesRecord(t *testing.T) {
	rec := validFeatures().Record()
	assert.Len(t, rec, 10)
	assert.Equal(t, 85.2, rec["pm25_lag_1h"])
	assert.Equal(t, 14, rec["hour_of_day"])
}

func validFeatures() AQIFeatures {
	f := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }
	return AQIFeatures{
		Temperature:       f(30.5),
		Humidity:          f(80.0),
		COLag1h:           f(0.5),
		NO2Lag1h:          f(25.0),
		O3Lag1h:           f(40.0),
		PM25Lag1h:         f(85.2),
		PM25Rolling3hMean: f(80.1),
		HourOfDay:         i(14),
		DayOfWeek:         i(3),
		MonthOfYear:       i(10),
	}
}
