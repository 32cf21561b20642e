package timeutils

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/imishinist/aqi-mlops/internal/models"
)

var resolutions = map[string]time.Duration{
	"1m": time.Minute,
	"5m": 5 * time.Minute,
	"1h": time.Hour,
}

// AlignTimestamp aligns t to the resolution grid.
func AlignTimestamp(t time.Time, resolution string, alignment string) (time.Time, error) {
	duration, ok := resolutions[resolution]
	if !ok {
		return t, eris.Errorf("unsupported resolution: %s", resolution)
	}

	aligned := t.Truncate(duration)
	switch alignment {
	case "floor":
		return aligned, nil
	case "ceil":
		if t.After(aligned) {
			return aligned.Add(duration), nil
		}
		return aligned, nil
	case "round":
		if t.Sub(aligned) >= duration/2 {
			return aligned.Add(duration), nil
		}
		return aligned, nil
	default:
		return t, eris.Errorf("unsupported alignment: %s", alignment)
	}
}

// ProcessMetrics turns evaluation points into individual MLflow metrics.
// Steps count resolution units from base, so hourly evaluation windows get
// consecutive steps.
func ProcessMetrics(points []models.MetricPoint, config models.TimeConfig, baseTime *time.Time) ([]models.Metric, error) {
	unit, ok := resolutions[config.Resolution]
	if !ok {
		return nil, eris.Errorf("unsupported resolution: %s", config.Resolution)
	}

	now := time.Now()
	var base time.Time
	switch {
	case baseTime != nil:
		base = *baseTime
	case len(points) > 0 && points[0].Timestamp != nil:
		base = *points[0].Timestamp
	default:
		base = now
	}
	base, err := AlignTimestamp(base, config.Resolution, config.Alignment)
	if err != nil {
		return nil, err
	}

	var result []models.Metric
	for i, point := range points {
		timestamp := now
		if point.Timestamp != nil {
			timestamp, err = AlignTimestamp(*point.Timestamp, config.Resolution, config.Alignment)
			if err != nil {
				return nil, err
			}
		}

		var step int64
		switch {
		case point.Step != nil:
			step = *point.Step
		case config.StepMode == "sequence":
			step = int64(i)
		case config.StepMode == "timestamp", config.StepMode == "auto" && point.Timestamp != nil:
			step = int64(timestamp.Sub(base) / unit)
		default:
			step = int64(i)
		}

		add := func(key string, value float64) {
			result = append(result, models.Metric{Key: key, Value: value, Timestamp: timestamp, Step: step})
		}
		if point.RMSE != 0 {
			add("rmse", point.RMSE)
		}
		if point.MAE != 0 {
			add("mae", point.MAE)
		}
		if point.R2 != nil {
			add("r2", *point.R2)
		}
	}
	return result, nil
}
