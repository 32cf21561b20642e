package mlflow

import (
	"context"

	"github.com/databricks/databricks-sdk-go/service/ml"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/imishinist/aqi-mlops/internal/models"
)

// MLflow rejects param values longer than this.
const maxParamValueLength = 6000

func (c *Client) LogParam(ctx context.Context, runID string, key string, value string) error {
	if len(value) > maxParamValueLength {
		return eris.Errorf("parameter %s exceeds %d characters", key, maxParamValueLength)
	}
	err := c.client.Experiments.LogParam(ctx, ml.LogParam{
		RunId: runID,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return eris.Wrapf(err, "log parameter %s", key)
	}
	return nil
}

// LogParamsFromMap logs params in key order so a failure is reproducible.
func (c *Client) LogParamsFromMap(ctx context.Context, runID string, params map[string]string) error {
	keys := models.SortedKeys(params)
	for _, key := range keys {
		if err := c.LogParam(ctx, runID, key, params[key]); err != nil {
			return err
		}
	}
	zap.L().Debug("logged params", zap.String("run_id", runID), zap.Int("count", len(keys)))
	return nil
}
