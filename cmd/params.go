package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imishinist/aqi-mlops/internal/models"
	"github.com/imishinist/aqi-mlops/internal/parser"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Log parameters, metrics, and artifacts",
	Long:  "Log parameters, evaluation metrics, and model artifacts to a training run",
}

var logParamsCmd = &cobra.Command{
	Use:   "params",
	Short: "Log parameters to a run",
	Long: `Log parameters to an existing run. Files may hold a flat "parameters"
map and/or the "train" section of params.yaml; nested keys are joined with dots.`,
	Example: `  aqi-mlops log params --run-id $RUN_ID --param target=pm25_next_1h
  aqi-mlops log params --run-id $RUN_ID --from-file params.yaml`,
	RunE: logParams,
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.AddCommand(logParamsCmd)

	logParamsCmd.Flags().String("run-id", "", "Run ID to log parameters to (required)")
	logParamsCmd.Flags().StringArray("param", []string{}, "Parameters in key=value format")
	logParamsCmd.Flags().String("from-file", "", "Load parameters from file (JSON/YAML)")
	logParamsCmd.MarkFlagRequired("run-id")
}

// collectParams merges file params with --param flags; flags win.
func collectParams(flagParams []string, fromFile string) (map[string]string, error) {
	params := map[string]string{}
	if fromFile != "" {
		file, err := os.Open(fromFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open file %s: %w", fromFile, err)
		}
		defer file.Close()

		fileParams, err := parser.ParamsByExtension(fromFile, file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse parameters file: %w", err)
		}
		for k, v := range fileParams {
			params[k] = v
		}
	}

	cliParams, err := parseKeyValues(flagParams, "parameter")
	if err != nil {
		return nil, err
	}
	for k, v := range cliParams {
		params[k] = v
	}
	return params, nil
}

func logParams(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	flagParams, _ := cmd.Flags().GetStringArray("param")
	fromFile, _ := cmd.Flags().GetString("from-file")

	if len(flagParams) == 0 && fromFile == "" {
		return fmt.Errorf("either --param or --from-file must be specified")
	}

	params, err := collectParams(flagParams, fromFile)
	if err != nil {
		return err
	}

	_, client, err := newClient()
	if err != nil {
		return err
	}
	if err := client.LogParamsFromMap(cmd.Context(), runID, params); err != nil {
		return fmt.Errorf("failed to log parameters: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Successfully logged %d parameters\n", len(params))
	for _, key := range models.SortedKeys(params) {
		fmt.Fprintf(out, "  %s: %s\n", key, params[key])
	}
	return nil
}
