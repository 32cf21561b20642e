package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Databricks domain suffixes for URL detection
var databricksDomains = []string{
	".cloud.databricks.com",
	".azuredatabricks.net",
	".gcp.databricks.com",
}

// Valid configuration values
var (
	validTimeResolutions = map[string]bool{
		"1m": true, "5m": true, "1h": true,
	}
	validTimeAlignments = map[string]bool{
		"floor": true, "ceil": true, "round": true,
	}
	validStepModes = map[string]bool{
		"auto": true, "timestamp": true, "sequence": true,
	}
	validLogFormats = map[string]bool{
		"json": true, "console": true,
	}
)

const DefaultModelName = "hcmc-aqi-predictor"

type Config struct {
	TrackingURI     string
	ExperimentID    string
	TimeResolution  string
	TimeAlignment   string
	StepMode        string
	DatabricksHost  string
	DatabricksToken string
	HTTPTimeout     time.Duration

	// Registry and promotion
	ModelName           string
	ModelArtifactPath   string
	ComparisonMetric    string
	LowerIsBetter       bool
	PromoteRetries      int
	RegistrationTimeout time.Duration

	// Serving
	ServeAddr  string
	ScoringURI string

	Log LogConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// SetDefaults registers every default on v. Evaluation metrics are logged
// hourly to match the forecast horizon.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tracking_uri", "http://localhost:5000")
	v.SetDefault("time_resolution", "1h")
	v.SetDefault("time_alignment", "floor")
	v.SetDefault("step_mode", "auto")
	v.SetDefault("http_timeout", "60s")
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("model_artifact_path", "model")
	v.SetDefault("comparison_metric", "rmse")
	v.SetDefault("lower_is_better", true)
	v.SetDefault("promote_retries", 1)
	v.SetDefault("registration_timeout", "300s")
	v.SetDefault("serve_addr", ":8000")
	v.SetDefault("scoring_uri", "http://localhost:5001")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// New builds a Config from the global viper instance.
func New() *Config {
	return FromViper(viper.GetViper())
}

func FromViper(v *viper.Viper) *Config {
	return &Config{
		TrackingURI:         v.GetString("tracking_uri"),
		ExperimentID:        v.GetString("experiment_id"),
		TimeResolution:      v.GetString("time_resolution"),
		TimeAlignment:       v.GetString("time_alignment"),
		StepMode:            v.GetString("step_mode"),
		DatabricksHost:      v.GetString("databricks_host"),
		DatabricksToken:     v.GetString("databricks_token"),
		HTTPTimeout:         v.GetDuration("http_timeout"),
		ModelName:           v.GetString("model_name"),
		ModelArtifactPath:   v.GetString("model_artifact_path"),
		ComparisonMetric:    v.GetString("comparison_metric"),
		LowerIsBetter:       v.GetBool("lower_is_better"),
		PromoteRetries:      v.GetInt("promote_retries"),
		RegistrationTimeout: v.GetDuration("registration_timeout"),
		ServeAddr:           v.GetString("serve_addr"),
		ScoringURI:          v.GetString("scoring_uri"),
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}
}

func (c *Config) Validate() error {
	if c.TrackingURI == "" {
		return eris.New("tracking URI is required")
	}
	if !validTimeResolutions[c.TimeResolution] {
		return eris.Errorf("invalid time resolution: %s (valid: 1m, 5m, 1h)", c.TimeResolution)
	}
	if !validTimeAlignments[c.TimeAlignment] {
		return eris.Errorf("invalid time alignment: %s (valid: floor, ceil, round)", c.TimeAlignment)
	}
	if !validStepModes[c.StepMode] {
		return eris.Errorf("invalid step mode: %s (valid: auto, timestamp, sequence)", c.StepMode)
	}
	if c.ComparisonMetric == "" {
		return eris.New("comparison metric is required")
	}
	if c.PromoteRetries < 0 {
		return eris.Errorf("promote retries must be >= 0, got %d", c.PromoteRetries)
	}
	if c.HTTPTimeout < 0 {
		return eris.Errorf("http timeout must not be negative, got %s", c.HTTPTimeout)
	}
	if c.Log.Format != "" && !validLogFormats[c.Log.Format] {
		return eris.Errorf("invalid log format: %s (valid: json, console)", c.Log.Format)
	}
	return nil
}

// IsDatabricks checks if the tracking URI points to Databricks
func (c *Config) IsDatabricks() bool {
	if c.TrackingURI == "databricks" || strings.HasPrefix(c.TrackingURI, "databricks://") {
		return true
	}
	if strings.HasPrefix(c.TrackingURI, "https://") {
		return isDatabricksHost(extractHost(c.TrackingURI))
	}
	return false
}

func extractHost(url string) string {
	host := strings.TrimPrefix(url, "https://")
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	return host
}

func isDatabricksHost(host string) bool {
	for _, domain := range databricksDomains {
		if strings.HasSuffix(host, domain) {
			return true
		}
	}
	return false
}

// GetDatabricksProfile extracts the profile name from databricks://{profile} URI
func (c *Config) GetDatabricksProfile() string {
	if !strings.HasPrefix(c.TrackingURI, "databricks://") {
		return ""
	}
	profile := strings.TrimPrefix(c.TrackingURI, "databricks://")
	if idx := strings.Index(profile, "/"); idx != -1 {
		profile = profile[:idx]
	}
	return profile
}
