package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/imishinist/aqi-mlops/internal/models"
	"github.com/imishinist/aqi-mlops/internal/promotion"
	"github.com/imishinist/aqi-mlops/internal/resilience"
	"github.com/imishinist/aqi-mlops/internal/telemetry"
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Promote a trained run to Production if it beats the current model",
	Long: `Compare the run's comparison metric with the model version in Production
and, when strictly better, register the run's model and move it to Production,
archiving the previous version. A run without a Production baseline always
wins. Exits non-zero on a missing challenger metric or a registry failure.`,
	Example: `  aqi-mlops promote --run-id $RUN_ID
  aqi-mlops promote --run-id $RUN_ID --metric r2 --lower-is-better=false --output json
  aqi-mlops promote --run-id $RUN_ID --dry-run`,
	RunE: promote,
}

func init() {
	rootCmd.AddCommand(promoteCmd)

	flags := promoteCmd.Flags()
	flags.String("run-id", "", "Run ID of the challenger (required)")
	flags.String("model-name", "", "Registered model name (default hcmc-aqi-predictor)")
	flags.String("metric", "", "Comparison metric (default rmse)")
	flags.Bool("lower-is-better", true, "Whether a lower metric value is better")
	flags.Int("retries", 1, "Extra attempts after a registry failure")
	flags.Bool("dry-run", false, "Only evaluate; never write to the registry")
	flags.String("output", "text", "Output format: text or json")
	flags.String("metrics-textfile", "", "Write promotion metrics to this file for the node exporter")
	promoteCmd.MarkFlagRequired("run-id")

	viper.BindPFlag("comparison_metric", flags.Lookup("metric"))
	viper.BindPFlag("lower_is_better", flags.Lookup("lower-is-better"))
	viper.BindPFlag("promote_retries", flags.Lookup("retries"))
}

type promoteOptions struct {
	Request  promotion.Request
	Retries  int
	DryRun   bool
	Output   string
	Textfile string
}

func promote(cmd *cobra.Command, args []string) error {
	cfg, client, err := newClient()
	if err != nil {
		return err
	}

	runID, _ := cmd.Flags().GetString("run-id")
	opts := promoteOptions{
		Request: promotion.Request{
			RunID:            runID,
			ModelName:        modelName(cmd, cfg),
			ComparisonMetric: cfg.ComparisonMetric,
			LowerIsBetter:    cfg.LowerIsBetter,
		},
		Retries: cfg.PromoteRetries,
	}
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	opts.Output, _ = cmd.Flags().GetString("output")
	opts.Textfile, _ = cmd.Flags().GetString("metrics-textfile")

	return runPromotion(cmd.Context(), cmd.OutOrStdout(), client, client, opts)
}

// runPromotion wires the promoter to its stores and prints the decision.
func runPromotion(ctx context.Context, out io.Writer, metrics promotion.MetricStore, registry promotion.Registry, opts promoteOptions) error {
	if opts.Output != "text" && opts.Output != "json" {
		return fmt.Errorf("invalid output format: %s (valid: text, json)", opts.Output)
	}

	reg := prometheus.NewRegistry()
	recorder, err := telemetry.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	p := promotion.New(metrics, registry, promotion.WithRecorder(recorder), promotion.WithLogger(zap.L()))

	var decision models.PromotionDecision
	if opts.DryRun {
		var ev promotion.Evaluation
		ev, err = p.Evaluate(ctx, opts.Request)
		decision = ev.Decision
		if err == nil {
			decision.Reason = dryRunReason(ev)
		}
	} else {
		policy := resilience.DefaultPolicy(opts.Retries)
		policy.Retryable = promotion.IsRetryable
		policy.OnRetry = resilience.LogRetry("promote",
			zap.String("model", opts.Request.ModelName),
			zap.String("run_id", opts.Request.RunID),
		)
		decision, err = resilience.Do(ctx, policy, func(ctx context.Context) (models.PromotionDecision, error) {
			return p.DecideAndPromote(ctx, opts.Request)
		})
	}

	if opts.Textfile != "" {
		if werr := prometheus.WriteToTextfile(opts.Textfile, reg); werr != nil {
			zap.L().Warn("failed to write metrics textfile", zap.String("path", opts.Textfile), zap.Error(werr))
		}
	}

	if err != nil {
		return err
	}
	return printDecision(out, decision, opts.Output, opts.DryRun)
}

func dryRunReason(ev promotion.Evaluation) string {
	d := ev.Decision
	switch {
	case ev.Replay:
		return "run already in Production"
	case ev.Better:
		return fmt.Sprintf("would promote: %s %.4f beats production %s", d.ComparisonMetric, d.NewMetric, d.BaselineString())
	default:
		return fmt.Sprintf("would keep production: %s %.4f is not better than %s", d.ComparisonMetric, d.NewMetric, d.BaselineString())
	}
}

type decisionOutput struct {
	models.PromotionDecision
	BaselineMetric *float64 `json:"baseline_metric"`
	DryRun         bool     `json:"dry_run,omitempty"`
}

func printDecision(out io.Writer, d models.PromotionDecision, format string, dryRun bool) error {
	if format == "json" {
		o := decisionOutput{PromotionDecision: d, DryRun: dryRun}
		if d.HasBaseline() {
			v := d.BaselineMetric
			o.BaselineMetric = &v
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}

	status := "not promoted"
	switch {
	case dryRun:
		status = "dry run"
	case d.Promoted:
		status = fmt.Sprintf("promoted as version %d", d.Version)
	case d.Reused:
		status = fmt.Sprintf("already in Production as version %d", d.Version)
	}
	fmt.Fprintf(out, "Model:     %s\n", d.ModelName)
	fmt.Fprintf(out, "Run ID:    %s\n", d.RunID)
	fmt.Fprintf(out, "Metric:    %s (lower is better: %t)\n", d.ComparisonMetric, d.LowerIsBetter)
	fmt.Fprintf(out, "New:       %.4f\n", d.NewMetric)
	fmt.Fprintf(out, "Baseline:  %s\n", d.BaselineString())
	fmt.Fprintf(out, "Decision:  %s\n", status)
	fmt.Fprintf(out, "Reason:    %s\n", d.Reason)
	return nil
}
