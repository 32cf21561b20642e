package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/imishinist/aqi-mlops/internal/models"
	"github.com/imishinist/aqi-mlops/internal/parser"
	timeutils "github.com/imishinist/aqi-mlops/internal/time"
)

var logMetricCmd = &cobra.Command{
	Use:     "metric",
	Short:   "Log a single metric to a run",
	Example: `  aqi-mlops log metric --run-id $RUN_ID --name rmse --value 4.21`,
	RunE:    logMetric,
}

var logMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Log evaluation metrics from a file",
	Long: `Log evaluation points (rmse, mae, r2) from a JSON or YAML file. Timestamps
are aligned to the configured resolution (hourly by default) and steps count
resolution units from the first point.`,
	RunE: logMetrics,
}

func init() {
	logCmd.AddCommand(logMetricCmd)
	logCmd.AddCommand(logMetricsCmd)

	logMetricCmd.Flags().String("run-id", "", "Run ID to log metric to (required)")
	logMetricCmd.Flags().String("name", "", "Metric name (required)")
	logMetricCmd.Flags().Float64("value", 0, "Metric value (required)")
	logMetricCmd.Flags().Int64("step", -1, "Step number (optional)")
	logMetricCmd.Flags().String("timestamp", "", "Timestamp in RFC3339 format (optional)")
	logMetricCmd.MarkFlagRequired("run-id")
	logMetricCmd.MarkFlagRequired("name")
	logMetricCmd.MarkFlagRequired("value")

	logMetricsCmd.Flags().String("run-id", "", "Run ID to log metrics to (required)")
	logMetricsCmd.Flags().String("from-file", "", "Load metrics from file (JSON/YAML)")
	logMetricsCmd.Flags().String("time-resolution", "", "Time resolution (1m/5m/1h)")
	logMetricsCmd.Flags().String("time-alignment", "", "Time alignment (floor/ceil/round)")
	logMetricsCmd.Flags().String("step-mode", "", "Step mode (auto/timestamp/sequence)")
	logMetricsCmd.MarkFlagRequired("run-id")
	logMetricsCmd.MarkFlagRequired("from-file")
}

func logMetric(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	name, _ := cmd.Flags().GetString("name")
	value, _ := cmd.Flags().GetFloat64("value")
	step, _ := cmd.Flags().GetInt64("step")
	timestampStr, _ := cmd.Flags().GetString("timestamp")

	var timestamp *time.Time
	if timestampStr != "" {
		t, err := time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return fmt.Errorf("invalid timestamp format: %s (expected RFC3339)", timestampStr)
		}
		timestamp = &t
	}
	var stepPtr *int64
	if step >= 0 {
		stepPtr = &step
	}

	_, client, err := newClient()
	if err != nil {
		return err
	}
	if err := client.LogMetric(cmd.Context(), runID, name, value, timestamp, stepPtr); err != nil {
		return fmt.Errorf("failed to log metric: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Successfully logged metric: %s = %f", name, value)
	if stepPtr != nil {
		fmt.Fprintf(out, " (step: %d)", *stepPtr)
	}
	if timestamp != nil {
		fmt.Fprintf(out, " (timestamp: %s)", timestamp.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	return nil
}

// loadMetricsFile parses the file and expands it into MLflow metrics.
func loadMetricsFile(path string, tc models.TimeConfig) ([]models.Metric, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	metricsFile, err := parser.MetricsByExtension(path, file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metrics file: %w", err)
	}
	metrics, err := timeutils.ProcessMetrics(metricsFile.Metrics, tc, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to process metrics: %w", err)
	}
	return metrics, nil
}

func logMetrics(cmd *cobra.Command, args []string) error {
	cfg, client, err := newClient()
	if err != nil {
		return err
	}

	runID, _ := cmd.Flags().GetString("run-id")
	fromFile, _ := cmd.Flags().GetString("from-file")
	tc := models.TimeConfig{Resolution: cfg.TimeResolution, Alignment: cfg.TimeAlignment, StepMode: cfg.StepMode}
	if v, _ := cmd.Flags().GetString("time-resolution"); v != "" {
		tc.Resolution = v
	}
	if v, _ := cmd.Flags().GetString("time-alignment"); v != "" {
		tc.Alignment = v
	}
	if v, _ := cmd.Flags().GetString("step-mode"); v != "" {
		tc.StepMode = v
	}

	metrics, err := loadMetricsFile(fromFile, tc)
	if err != nil {
		return err
	}
	if err := client.LogMetrics(cmd.Context(), runID, metrics); err != nil {
		return fmt.Errorf("failed to log metrics: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Successfully logged %d metrics from %s\n", len(metrics), fromFile)
	fmt.Fprintf(out, "Time configuration: resolution=%s, alignment=%s, step_mode=%s\n", tc.Resolution, tc.Alignment, tc.StepMode)

	counts := map[string]int{}
	for _, m := range metrics {
		counts[m.Key]++
	}
	fmt.Fprintln(out, "Metrics summary:")
	for _, key := range []string{"rmse", "mae", "r2"} {
		if counts[key] > 0 {
			fmt.Fprintf(out, "  %s: %d data points\n", key, counts[key])
		}
	}
	return nil
}
