package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imishinist/aqi-mlops/internal/config"
	"github.com/imishinist/aqi-mlops/internal/models"
)

func TestParseKeyValues(t *testing.T) {
	got, err := parseKeyValues([]string{"trigger=schedule", "window=90d", "expr=a=b", "empty="}, "tag")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"trigger": "schedule",
		"window":  "90d",
		"expr":    "a=b",
		"empty":   "",
	}, got)

	_, err = parseKeyValues([]string{"novalue"}, "tag")
	assert.EqualError(t, err, "invalid tag format: novalue (expected key=value)")
	_, err = parseKeyValues([]string{"=value"}, "parameter")
	assert.Error(t, err)
}

func TestProcessEscapeSequences(t *testing.T) {
	assert.Equal(t, "line1\nline2\tcol", processEscapeSequences(`line1\nline2\tcol`))
	assert.Equal(t, `C:\data`, processEscapeSequences(`C:\\data`))
	assert.Equal(t, "plain", processEscapeSequences("plain"))
}

func newRunStartFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().String("experiment-id", "", "")
	cmd.Flags().String("run-name", "", "")
	cmd.Flags().StringArray("tag", []string{}, "")
	cmd.Flags().String("description", "", "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestBuildRunConfig(t *testing.T) {
	cfg := &config.Config{ExperimentID: "7"}

	rc, err := buildRunConfig(newRunStartFlags(t, "--run-name", "xgb", "--tag", "a=1", "--description", `x\ny`), cfg)
	require.NoError(t, err)
	assert.Equal(t, "7", *rc.ExperimentID)
	assert.Equal(t, "xgb", *rc.RunName)
	assert.Equal(t, map[string]string{"a": "1"}, rc.Tags)
	assert.Equal(t, "x\ny", *rc.Description)

	rc, err = buildRunConfig(newRunStartFlags(t, "--experiment-id", "9"), cfg)
	require.NoError(t, err)
	assert.Equal(t, "9", *rc.ExperimentID)
	assert.Nil(t, rc.RunName)
	assert.Nil(t, rc.Description)

	_, err = buildRunConfig(newRunStartFlags(t), &config.Config{})
	assert.Error(t, err)
}

func TestCollectParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
train:
  max_depth: 6
  learning_rate: 0.05
`), 0o644))

	params, err := collectParams([]string{"max_depth=8", "target=pm25_next_1h"}, path)
	require.NoError(t, err)
	assert.Equal(t, "6", params["train.max_depth"])
	assert.Equal(t, "8", params["max_depth"])
	assert.Equal(t, "0.05", params["train.learning_rate"])
	assert.Equal(t, "pm25_next_1h", params["target"])
}

func TestCollectParamsFlagsOnly(t *testing.T) {
	params, err := collectParams([]string{"a=1"}, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, params)

	_, err = collectParams(nil, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadMetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"metrics":[
		{"timestamp":"2025-01-01T00:10:00Z","rmse":4.2,"mae":3.1},
		{"timestamp":"2025-01-01T01:40:00Z","rmse":4.0,"mae":2.9,"r2":0.81}
	]}`), 0o644))

	metrics, err := loadMetricsFile(path, models.TimeConfig{Resolution: "1h", Alignment: "floor", StepMode: "auto"})
	require.NoError(t, err)
	require.Len(t, metrics, 5)
	assert.Equal(t, "rmse", metrics[0].Key)
	assert.Equal(t, int64(0), metrics[0].Step)
	assert.Equal(t, "r2", metrics[4].Key)
	assert.Equal(t, int64(1), metrics[4].Step)
}
