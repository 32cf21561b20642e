package models

import "fmt"

// AQIFeatures is the input row of the PM2.5 one-hour-ahead model. Field names
// match the columns produced by the preprocessing step.
type AQIFeatures struct {
	Temperature       *float64 `json:"temperature"`
	Humidity          *float64 `json:"humidity"`
	COLag1h           *float64 `json:"co_lag_1h"`
	NO2Lag1h          *float64 `json:"no2_lag_1h"`
	O3Lag1h           *float64 `json:"o3_lag_1h"`
	PM25Lag1h         *float64 `json:"pm25_lag_1h"`
	PM25Rolling3hMean *float64 `json:"pm25_rolling_3h_mean"`
	HourOfDay         *int     `json:"hour_of_day"`
	DayOfWeek         *int     `json:"day_of_week"`
	MonthOfYear       *int     `json:"month_of_year"`
}

// Validate checks that every feature is present and the calendar features are in range.
func (f AQIFeatures) Validate() error {
	floats := []struct {
		name string
		v    *float64
	}{
		{"temperature", f.Temperature},
		{"humidity", f.Humidity},
		{"co_lag_1h", f.COLag1h},
		{"no2_lag_1h", f.NO2Lag1h},
		{"o3_lag_1h", f.O3Lag1h},
		{"pm25_lag_1h", f.PM25Lag1h},
		{"pm25_rolling_3h_mean", f.PM25Rolling3hMean},
	}
	for _, field := range floats {
		if field.v == nil {
			return fmt.Errorf("field required: %s", field.name)
		}
	}

	ints := []struct {
		name     string
		v        *int
		min, max int
	}{
		{"hour_of_day", f.HourOfDay, 0, 23},
		{"day_of_week", f.DayOfWeek, 0, 6},
		{"month_of_year", f.MonthOfYear, 1, 12},
	}
	for _, field := range ints {
		if field.v == nil {
			return fmt.Errorf("field required: %s", field.name)
		}
		if *field.v < field.min || *field.v > field.max {
			return fmt.Errorf("%s out of range: %d (valid: %d-%d)", field.name, *field.v, field.min, field.max)
		}
	}
	return nil
}

// Record flattens the features into a single dataframe record.
func (f AQIFeatures) Record() map[string]any {
	return map[string]any{
		"temperature":          deref(f.Temperature),
		"humidity":             deref(f.Humidity),
		"co_lag_1h":            deref(f.COLag1h),
		"no2_lag_1h":           deref(f.NO2Lag1h),
		"o3_lag_1h":            deref(f.O3Lag1h),
		"pm25_lag_1h":          deref(f.PM25Lag1h),
		"pm25_rolling_3h_mean": deref(f.PM25Rolling3hMean),
		"hour_of_day":          deref(f.HourOfDay),
		"day_of_week":          deref(f.DayOfWeek),
		"month_of_year":        deref(f.MonthOfYear),
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

type AQIPrediction struct {
	PM25Prediction   float64 `json:"pm25_prediction"`
	ModelVersionUsed string  `json:"model_version_used"`
}
