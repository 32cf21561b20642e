package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var logArtifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Log artifact to a run",
	Long: `Upload files as artifacts of a run. Supported artifact roots are
mlflow-artifacts:/, dbfs:/, s3:// and local paths. A file keeps its name
unless --artifact-path is given.`,
	Example: `  # Upload the trained booster under the model directory
  aqi-mlops log artifact --run-id $RUN_ID --file model.json --artifact-path model/model.json

  # Upload several files with their own names
  aqi-mlops log artifact --run-id $RUN_ID --file params.yaml --file eval.json`,
	RunE: logArtifact,
}

func init() {
	logCmd.AddCommand(logArtifactCmd)

	logArtifactCmd.Flags().String("run-id", "", "Run ID to upload artifacts to (required)")
	logArtifactCmd.Flags().StringSlice("file", []string{}, "File path to upload (can be specified multiple times)")
	logArtifactCmd.Flags().String("artifact-path", "", "Custom artifact path (only valid when uploading a single file)")
	logArtifactCmd.MarkFlagRequired("run-id")
	logArtifactCmd.MarkFlagRequired("file")
}

func logArtifact(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	files, _ := cmd.Flags().GetStringSlice("file")
	artifactPath, _ := cmd.Flags().GetString("artifact-path")

	if len(files) == 0 {
		return fmt.Errorf("at least one file must be specified")
	}
	if len(files) > 1 && artifactPath != "" {
		return fmt.Errorf("--artifact-path can only be used when uploading a single file")
	}

	_, client, err := newClient()
	if err != nil {
		return err
	}

	uploaded := 0
	for _, filePath := range files {
		if _, err := os.Stat(filePath); err != nil {
			zap.L().Error("artifact not readable", zap.String("file", filePath), zap.Error(err))
			continue
		}

		target := artifactPath
		if target == "" {
			target = filepath.Base(filePath)
		}
		if err := client.UploadArtifact(cmd.Context(), runID, filePath, target); err != nil {
			zap.L().Error("artifact upload failed", zap.String("file", filePath), zap.Error(err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s -> %s\n", filePath, target)
		uploaded++
	}

	if uploaded == 0 {
		return fmt.Errorf("failed to upload any artifacts")
	}
	if uploaded < len(files) {
		return fmt.Errorf("uploaded %d/%d artifacts", uploaded, len(files))
	}
	return nil
}
