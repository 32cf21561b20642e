package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imishinist/aqi-mlops/internal/models"
)

// modelRegistry is the part of the registry the operator commands use.
type modelRegistry interface {
	ProductionVersion(ctx context.Context, name string) (models.ModelVersion, bool, error)
	ListVersions(ctx context.Context, name string) ([]models.ModelVersion, error)
	TransitionStage(ctx context.Context, name string, version int64, stage models.Stage, archivePrevious bool) (models.ModelVersion, error)
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Inspect and manage registered model versions",
}

var modelShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the version currently in Production",
	RunE:  modelShow,
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every version of the registered model",
	RunE:  modelList,
}

var modelTransitionCmd = &cobra.Command{
	Use:   "transition",
	Short: "Move a model version to another stage",
	Long: `Manually move a model version to a stage. Archived versions cannot be
moved. Use --archive-existing to archive the version currently holding the
target stage in the same operation.`,
	Example: `  # Roll back to version 3
  aqi-mlops model transition --version 3 --stage Production --archive-existing`,
	RunE: modelTransition,
}

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelShowCmd, modelListCmd, modelTransitionCmd)

	modelCmd.PersistentFlags().String("model-name", "", "Registered model name (default hcmc-aqi-predictor)")
	modelCmd.PersistentFlags().String("output", "text", "Output format: text or json")

	modelTransitionCmd.Flags().Int64("version", 0, "Model version to move (required)")
	modelTransitionCmd.Flags().String("stage", "", "Target stage: None, Staging, Production, Archived (required)")
	modelTransitionCmd.Flags().Bool("archive-existing", false, "Archive the current holder of the target stage")
	modelTransitionCmd.MarkFlagRequired("version")
	modelTransitionCmd.MarkFlagRequired("stage")
}

func modelShow(cmd *cobra.Command, args []string) error {
	cfg, client, err := newClient()
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	return showProduction(cmd.Context(), cmd.OutOrStdout(), client, modelName(cmd, cfg), output)
}

func modelList(cmd *cobra.Command, args []string) error {
	cfg, client, err := newClient()
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	return listVersions(cmd.Context(), cmd.OutOrStdout(), client, modelName(cmd, cfg), output)
}

func modelTransition(cmd *cobra.Command, args []string) error {
	cfg, client, err := newClient()
	if err != nil {
		return err
	}

	version, _ := cmd.Flags().GetInt64("version")
	stageFlag, _ := cmd.Flags().GetString("stage")
	archive, _ := cmd.Flags().GetBool("archive-existing")
	stage, err := models.ParseStage(stageFlag)
	if err != nil {
		return err
	}

	mv, err := transitionVersion(cmd.Context(), client, modelName(cmd, cfg), version, stage, archive)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now in %s\n", mv, mv.Stage)
	return nil
}

func showProduction(ctx context.Context, out io.Writer, reg modelRegistry, name, format string) error {
	mv, ok, err := reg.ProductionVersion(ctx, name)
	if err != nil {
		return eris.Wrapf(err, "failed to look up production version of %s", name)
	}
	if !ok {
		if format == "json" {
			_, err = fmt.Fprintln(out, "null")
			return err
		}
		fmt.Fprintf(out, "No version of %s is in Production\n", name)
		return nil
	}
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(mv)
	}
	return printVersions(out, []models.ModelVersion{mv}, format)
}

func listVersions(ctx context.Context, out io.Writer, reg modelRegistry, name, format string) error {
	versions, err := reg.ListVersions(ctx, name)
	if err != nil {
		return eris.Wrapf(err, "failed to list versions of %s", name)
	}
	return printVersions(out, versions, format)
}

// transitionVersion refuses to touch archived versions before asking the
// registry to move anything.
func transitionVersion(ctx context.Context, reg modelRegistry, name string, version int64, stage models.Stage, archive bool) (models.ModelVersion, error) {
	versions, err := reg.ListVersions(ctx, name)
	if err != nil {
		return models.ModelVersion{}, eris.Wrapf(err, "failed to list versions of %s", name)
	}

	var current *models.ModelVersion
	for i := range versions {
		if versions[i].Version == version {
			current = &versions[i]
			break
		}
	}
	if current == nil {
		return models.ModelVersion{}, eris.Errorf("model version %s/%d does not exist", name, version)
	}
	if !current.Stage.CanTransition(stage) {
		return models.ModelVersion{}, eris.Errorf("cannot move %s from %s to %s", current, current.Stage, stage)
	}

	mv, err := reg.TransitionStage(ctx, name, version, stage, archive)
	if err != nil {
		return models.ModelVersion{}, eris.Wrapf(err, "failed to move %s to %s", current, stage)
	}
	zap.L().Info("model version transitioned",
		zap.String("model", name),
		zap.Int64("version", version),
		zap.String("from", string(current.Stage)),
		zap.String("to", string(mv.Stage)),
		zap.Bool("archive_existing", archive),
	)
	return mv, nil
}

func printVersions(out io.Writer, versions []models.ModelVersion, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if versions == nil {
			versions = []models.ModelVersion{}
		}
		return enc.Encode(versions)
	case "text":
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tSTAGE\tRUN ID\tDESCRIPTION")
		for _, v := range versions {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", v.Version, v.Stage, v.SourceRunID, v.Description)
		}
		return w.Flush()
	default:
		return fmt.Errorf("invalid output format: %s (valid: text, json)", format)
	}
}
