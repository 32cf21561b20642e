package cmd

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/imishinist/aqi-mlops/internal/models"
	"github.com/imishinist/aqi-mlops/internal/serving"
	"github.com/imishinist/aqi-mlops/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve PM2.5 predictions from the Production model",
	Long: `Resolve the model version in Production once at startup and answer
/predict, /health and /metrics. Predictions are delegated to the MLflow
scoring server at --scoring-uri. When no Production version can be resolved
the gateway still starts and /predict answers 503.

The scoring URI may contain {model} and {version} placeholders, which are
filled with the resolved Production version so the scorer always serves the
version reported as model_version_used. A URI without {version} is not
pinned: the scorer must be restarted together with the gateway after every
promotion, otherwise model_version_used can name a different version than
the one that produced the prediction.`,
	Example: `  aqi-mlops serve --addr :8000 --scoring-uri http://localhost:5001
  aqi-mlops serve --scoring-uri 'http://scorer-{version}.internal:5001'`,
	RunE:    serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("addr", "", "Listen address (default :8000)")
	flags.String("scoring-uri", "", "MLflow scoring server URI; {model} and {version} pin it to the resolved version (default http://localhost:5001)")
	flags.String("model-name", "", "Registered model name (default hcmc-aqi-predictor)")
	flags.Bool("runtime-metrics", true, "Export Go runtime and process metrics on /metrics")

	viper.BindPFlag("serve_addr", flags.Lookup("addr"))
	viper.BindPFlag("scoring_uri", flags.Lookup("scoring-uri"))
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, client, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	name := modelName(cmd, cfg)
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	handle, err := serving.LoadPinnedModelHandle(ctx, client, name, func(mv models.ModelVersion) serving.Predictor {
		return serving.NewInvocationsPredictor(serving.ExpandScoringURI(cfg.ScoringURI, mv), httpClient)
	})
	if err != nil {
		zap.L().Warn("serving without a model", zap.String("model", name), zap.Error(err))
	} else if !serving.IsPinnedScoringURI(cfg.ScoringURI) {
		zap.L().Warn("scoring URI is not pinned to a version; restart the scorer with the gateway after each promotion",
			zap.String("scoring_uri", cfg.ScoringURI), zap.Int64("version", handle.VersionNumber()))
	}

	reg := prometheus.NewRegistry()
	if runtime, _ := cmd.Flags().GetBool("runtime-metrics"); runtime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	metrics, err := telemetry.NewMetrics(reg)
	if err != nil {
		return err
	}

	return serving.NewServer(handle, metrics, reg).ListenAndServe(ctx, cfg.ServeAddr)
}
