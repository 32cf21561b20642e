package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestDefaults(t *testing.T) {
	cfg := FromViper(newViper(t))

	assert.Equal(t, "http://localhost:5000", cfg.TrackingURI)
	assert.Equal(t, "1h", cfg.TimeResolution)
	assert.Equal(t, "floor", cfg.TimeAlignment)
	assert.Equal(t, "auto", cfg.StepMode)
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, DefaultModelName, cfg.ModelName)
	assert.Equal(t, "model", cfg.ModelArtifactPath)
	assert.Equal(t, "rmse", cfg.ComparisonMetric)
	assert.True(t, cfg.LowerIsBetter)
	assert.Equal(t, 1, cfg.PromoteRetries)
	assert.Equal(t, 5*time.Minute, cfg.RegistrationTimeout)
	assert.Equal(t, ":8000", cfg.ServeAddr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("MLFLOW_MODEL_NAME", "aqi-predictor")
	t.Setenv("MLFLOW_LOWER_IS_BETTER", "false")
	t.Setenv("MLFLOW_COMPARISON_METRIC", "r2")

	v := newViper(t)
	v.SetEnvPrefix("MLFLOW")
	v.AutomaticEnv()

	cfg := FromViper(v)
	assert.Equal(t, "aqi-predictor", cfg.ModelName)
	assert.Equal(t, "r2", cfg.ComparisonMetric)
	assert.False(t, cfg.LowerIsBetter)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing tracking uri", func(c *Config) { c.TrackingURI = "" }, "tracking URI is required"},
		{"bad resolution", func(c *Config) { c.TimeResolution = "2h" }, "invalid time resolution"},
		{"bad alignment", func(c *Config) { c.TimeAlignment = "nearest" }, "invalid time alignment"},
		{"bad step mode", func(c *Config) { c.StepMode = "wall" }, "invalid step mode"},
		{"missing metric", func(c *Config) { c.ComparisonMetric = "" }, "comparison metric is required"},
		{"negative retries", func(c *Config) { c.PromoteRetries = -1 }, "promote retries"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromViper(newViper(t))
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsDatabricks(t *testing.T) {
	tests := []struct {
		uri     string
		want    bool
		profile string
	}{
		{"databricks", true, ""},
		{"databricks://prod", true, "prod"},
		{"databricks://prod/extra", true, "prod"},
		{"https://adb-123.azuredatabricks.net", true, ""},
		{"https://dbc-1.cloud.databricks.com/ml", true, ""},
		{"https://mlflow.example.com", false, ""},
		{"http://localhost:5000", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			cfg := &Config{TrackingURI: tt.uri}
			assert.Equal(t, tt.want, cfg.IsDatabricks())
			assert.Equal(t, tt.profile, cfg.GetDatabricksProfile())
		})
	}
}

func TestInitLogger(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	err := InitLogger(LogConfig{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
