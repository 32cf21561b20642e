package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imishinist/aqi-mlops/internal/config"
	"github.com/imishinist/aqi-mlops/internal/models"
)

var validRunStatuses = map[string]models.RunStatus{
	"FINISHED": models.RunStatusFinished,
	"FAILED":   models.RunStatusFailed,
	"KILLED":   models.RunStatusKilled,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage training runs",
	Long:  "Create, end and inspect the MLflow runs of the training job",
}

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new training run",
	Long:  "Create a new MLflow run and print its ID on stdout",
	Example: `  RUN_ID=$(aqi-mlops run start --run-name xgb-$(date +%Y%m%d) --tag trigger=schedule)
  aqi-mlops run start --description "weekly retrain\nwindow: 90d"`,
	RunE: runStart,
}

var runEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End a training run",
	RunE:  runEnd,
}

var runShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a run and its latest metrics",
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runStartCmd, runEndCmd, runShowCmd)

	runStartCmd.Flags().String("experiment-id", "", "Experiment ID (overrides MLFLOW_EXPERIMENT_ID)")
	runStartCmd.Flags().String("run-name", "", "Run name (default: timestamp-based)")
	runStartCmd.Flags().StringArray("tag", []string{}, "Tags in key=value format")
	runStartCmd.Flags().String("description", "", "Run description")

	runEndCmd.Flags().String("run-id", "", "Run ID to end (required)")
	runEndCmd.Flags().String("status", "FINISHED", "End status (FINISHED/FAILED/KILLED)")
	runEndCmd.MarkFlagRequired("run-id")

	runShowCmd.Flags().String("run-id", "", "Run ID (required)")
	runShowCmd.Flags().String("output", "text", "Output format: text or json")
	runShowCmd.MarkFlagRequired("run-id")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, client, err := newClient()
	if err != nil {
		return err
	}

	runConfig, err := buildRunConfig(cmd, cfg)
	if err != nil {
		return err
	}

	runInfo, err := client.CreateRun(cmd.Context(), runConfig)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	// Only the run ID goes to stdout so scripts can capture it.
	fmt.Fprintln(cmd.OutOrStdout(), runInfo.RunID)
	return nil
}

func buildRunConfig(cmd *cobra.Command, cfg *config.Config) (*models.RunConfig, error) {
	experimentID, _ := cmd.Flags().GetString("experiment-id")
	runName, _ := cmd.Flags().GetString("run-name")
	tags, _ := cmd.Flags().GetStringArray("tag")
	description, _ := cmd.Flags().GetString("description")

	if experimentID == "" {
		experimentID = cfg.ExperimentID
	}
	if experimentID == "" {
		return nil, fmt.Errorf("experiment ID must be specified via --experiment-id flag or MLFLOW_EXPERIMENT_ID environment variable")
	}

	tagMap, err := parseKeyValues(tags, "tag")
	if err != nil {
		return nil, err
	}

	runConfig := &models.RunConfig{
		ExperimentID: &experimentID,
		Tags:         tagMap,
	}
	if runName != "" {
		runConfig.RunName = &runName
	}
	if description != "" {
		processed := processEscapeSequences(description)
		runConfig.Description = &processed
	}
	return runConfig, nil
}

// parseKeyValues parses key=value pairs; kind names the flag in errors.
func parseKeyValues(pairs []string, kind string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid %s format: %s (expected key=value)", kind, pair)
		}
		out[key] = value
	}
	return out, nil
}

func runEnd(cmd *cobra.Command, args []string) error {
	_, client, err := newClient()
	if err != nil {
		return err
	}

	runID, _ := cmd.Flags().GetString("run-id")
	status, _ := cmd.Flags().GetString("status")

	runStatus, valid := validRunStatuses[strings.ToUpper(status)]
	if !valid {
		return fmt.Errorf("invalid status: %s (valid: FINISHED, FAILED, KILLED)", status)
	}

	if err := client.UpdateRun(cmd.Context(), runID, runStatus); err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Run ended successfully")
	fmt.Fprintf(out, "Run ID: %s\n", runID)
	fmt.Fprintf(out, "Status: %s\n", runStatus)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	_, client, err := newClient()
	if err != nil {
		return err
	}

	runID, _ := cmd.Flags().GetString("run-id")
	output, _ := cmd.Flags().GetString("output")

	info, err := client.GetRun(cmd.Context(), runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	out := cmd.OutOrStdout()
	if output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(out, "Run ID:     %s\n", info.RunID)
	fmt.Fprintf(out, "Name:       %s\n", info.RunName)
	fmt.Fprintf(out, "Experiment: %s\n", info.ExperimentID)
	fmt.Fprintf(out, "Status:     %s\n", info.Status)
	if len(info.Metrics) > 0 {
		fmt.Fprintln(out, "Metrics:")
		for _, key := range info.Metrics.Keys() {
			fmt.Fprintf(out, "  %s: %.4f\n", key, info.Metrics[key])
		}
	}
	return nil
}

func processEscapeSequences(s string) string {
	return strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\\`, `\`).Replace(s)
}
