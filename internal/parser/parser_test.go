package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAMLParamsFlattensTrainSection(t *testing.T) {
	input := `
parameters:
  dataset: hcmc_2024
  max_depth: "8"
train:
  n_estimators: 500
  max_depth: 6
  learning_rate: 0.05
  early_stopping:
    rounds: 20
  eval_metric: [rmse, mae]
`
	params, err := ParseYAMLParams(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"dataset":               "hcmc_2024",
		"max_depth":             "8",
		"n_estimators":          "500",
		"learning_rate":         "0.05",
		"early_stopping.rounds": "20",
		"eval_metric":           "[rmse,mae]",
	}, params)
}

func TestParseJSONParams(t *testing.T) {
	params, err := ParseJSONParams(strings.NewReader(`{"parameters":{"target":"pm25_next_1h"}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"target": "pm25_next_1h"}, params)

	_, err = ParseJSONParams(strings.NewReader(`{`))
	assert.Error(t, err)
}

func TestParseYAMLMetrics(t *testing.T) {
	input := `
metrics:
  - timestamp: 2024-03-01T10:20:00Z
    rmse: 4.2
    mae: 3.1
    r2: 0
  - step: 7
    rmse: 3.9
`
	file, err := ParseYAMLMetrics(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, file.Metrics, 2)

	first := file.Metrics[0]
	require.NotNil(t, first.Timestamp)
	assert.True(t, first.Timestamp.Equal(time.Date(2024, 3, 1, 10, 20, 0, 0, time.UTC)))
	assert.InDelta(t, 4.2, first.RMSE, 1e-9)
	require.NotNil(t, first.R2)
	assert.Zero(t, *first.R2)

	second := file.Metrics[1]
	require.NotNil(t, second.Step)
	assert.Equal(t, int64(7), *second.Step)
	assert.Nil(t, second.R2)
}

func TestByExtension(t *testing.T) {
	_, err := ParamsByExtension("params.toml", strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file format")

	file, err := MetricsByExtension("eval.JSON", strings.NewReader(`{"metrics":[{"rmse":1.5}]}`))
	require.NoError(t, err)
	require.Len(t, file.Metrics, 1)
	assert.InDelta(t, 1.5, file.Metrics[0].RMSE, 1e-9)
}
