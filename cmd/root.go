package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/imishinist/aqi-mlops/internal/config"
	"github.com/imishinist/aqi-mlops/internal/mlflow"
)

var rootCmd = &cobra.Command{
	Use:   "aqi-mlops",
	Short: "MLOps toolkit for the HCMC PM2.5 forecasting model",
	Long: `Tracks training runs in MLflow, promotes a trained model to Production
when it beats the current one, and serves the Production model.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.New()
		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("tracking-uri", "", "MLflow tracking URI (overrides MLFLOW_TRACKING_URI)")
	flags.String("experiment-id", "", "Experiment ID (overrides MLFLOW_EXPERIMENT_ID)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: json or console")
	viper.BindPFlag("tracking_uri", flags.Lookup("tracking-uri"))
	viper.BindPFlag("experiment_id", flags.Lookup("experiment-id"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
}

func initConfig() {
	viper.SetEnvPrefix("MLFLOW")
	viper.AutomaticEnv()

	viper.BindEnv("databricks_host", "DATABRICKS_HOST")
	viper.BindEnv("databricks_token", "DATABRICKS_TOKEN")
	viper.BindEnv("model_name", "MLFLOW_MODEL_NAME", "AQI_MODEL_NAME")
	viper.BindEnv("scoring_uri", "MLFLOW_SCORING_URI", "AQI_SCORING_URI")
	viper.BindEnv("serve_addr", "MLFLOW_SERVE_ADDR", "AQI_SERVE_ADDR")
	viper.BindEnv("log_level", "MLFLOW_LOG_LEVEL", "AQI_LOG_LEVEL")
	viper.BindEnv("log_format", "MLFLOW_LOG_FORMAT", "AQI_LOG_FORMAT")

	config.SetDefaults(viper.GetViper())
}

// newClient builds the MLflow client from the merged flag/env configuration.
func newClient() (*config.Config, *mlflow.Client, error) {
	cfg := config.New()
	client, err := mlflow.NewClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create MLflow client: %w", err)
	}
	return cfg, client, nil
}

// modelName prefers an explicit --model-name flag over the configured name.
// Several commands declare the flag, so it is not bound to viper.
func modelName(cmd *cobra.Command, cfg *config.Config) string {
	if f := cmd.Flags().Lookup("model-name"); f != nil && f.Changed {
		return f.Value.String()
	}
	return cfg.ModelName
}
