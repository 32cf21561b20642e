package mlflow

import (
	"context"
	"net/http"
	"time"

	"github.com/databricks/databricks-sdk-go/service/ml"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/imishinist/aqi-mlops/internal/models"
	"github.com/imishinist/aqi-mlops/internal/promotion"
)

const pathGetRun = "/api/2.0/mlflow/runs/get"

func (c *Client) LogMetric(ctx context.Context, runID string, key string, value float64, timestamp *time.Time, step *int64) error {
	logMetric := ml.LogMetric{
		RunId: runID,
		Key:   key,
		Value: value,
	}

	if timestamp != nil {
		logMetric.Timestamp = timestamp.UnixMilli()
	} else {
		logMetric.Timestamp = time.Now().UnixMilli()
	}
	if step != nil {
		logMetric.Step = *step
	}

	if err := c.client.Experiments.LogMetric(ctx, logMetric); err != nil {
		return eris.Wrapf(err, "log metric %s", key)
	}
	return nil
}

// LogMetrics logs evaluation points one by one. The batch endpoint rejects
// mixed timestamps on some MLflow versions.
func (c *Client) LogMetrics(ctx context.Context, runID string, metrics []models.Metric) error {
	for _, metric := range metrics {
		if err := c.LogMetric(ctx, runID, metric.Key, metric.Value, &metric.Timestamp, &metric.Step); err != nil {
			return err
		}
	}
	zap.L().Debug("logged metrics", zap.String("run_id", runID), zap.Int("count", len(metrics)))
	return nil
}

type runResponse struct {
	Run struct {
		Info struct {
			RunID       string `json:"run_id"`
			Status      string `json:"status"`
			ArtifactURI string `json:"artifact_uri"`
		} `json:"info"`
		Data struct {
			Metrics []struct {
				Key   string  `json:"key"`
				Value float64 `json:"value"`
			} `json:"metrics"`
		} `json:"data"`
	} `json:"run"`
}

func (c *Client) getRunREST(ctx context.Context, runID string) (*runResponse, error) {
	var resp runResponse
	err := c.do(ctx, http.MethodGet, pathGetRun, map[string]any{"run_id": runID}, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunMetrics returns the latest value of every metric the run logged.
// An unknown run matches promotion.ErrRunNotFound.
func (c *Client) RunMetrics(ctx context.Context, runID string) (models.RunMetrics, error) {
	if runID == "" {
		return nil, eris.Wrap(promotion.ErrRunNotFound, "empty run id")
	}

	metrics := models.RunMetrics{}
	if c.client != nil {
		resp, err := c.client.Experiments.GetRun(ctx, ml.GetRunRequest{RunId: runID})
		if err != nil {
			return nil, runError(err, runID)
		}
		for _, m := range resp.Run.Data.Metrics {
			metrics[m.Key] = m.Value
		}
		return metrics, nil
	}

	resp, err := c.getRunREST(ctx, runID)
	if err != nil {
		return nil, runError(err, runID)
	}
	for _, m := range resp.Run.Data.Metrics {
		metrics[m.Key] = m.Value
	}
	return metrics, nil
}

func runError(err error, runID string) error {
	if IsErrorCode(err, ErrCodeResourceDoesNotExist) {
		return eris.Wrapf(promotion.ErrRunNotFound, "run %s: %v", runID, err)
	}
	return eris.Wrapf(err, "get run %s", runID)
}
