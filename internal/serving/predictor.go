package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/imishinist/aqi-mlops/internal/models"
)

// Predictor scores one feature row.
type Predictor interface {
	Predict(ctx context.Context, features models.AQIFeatures) (float64, error)
}

// InvocationsPredictor calls an MLflow scoring server (mlflow models serve)
// hosting the Production model.
type InvocationsPredictor struct {
	endpoint   string
	httpClient *http.Client
}

func NewInvocationsPredictor(scoringURI string, httpClient *http.Client) *InvocationsPredictor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &InvocationsPredictor{
		endpoint:   strings.TrimSuffix(scoringURI, "/") + "/invocations",
		httpClient: httpClient,
	}
}

// ExpandScoringURI fills the {model} and {version} placeholders of a scoring
// URI template with the resolved version. A URI without placeholders is
// returned unchanged.
func ExpandScoringURI(template string, mv models.ModelVersion) string {
	return strings.NewReplacer(
		"{model}", mv.Name,
		"{version}", strconv.FormatInt(mv.Version, 10),
	).Replace(template)
}

// IsPinnedScoringURI reports whether template names the version it scores.
func IsPinnedScoringURI(template string) bool {
	return strings.Contains(template, "{version}")
}

type invocationsRequest struct {
	DataframeRecords []map[string]any `json:"dataframe_records"`
}

func (p *InvocationsPredictor) Predict(ctx context.Context, features models.AQIFeatures) (float64, error) {
	payload, err := json.Marshal(invocationsRequest{DataframeRecords: []map[string]any{features.Record()}})
	if err != nil {
		return 0, eris.Wrap(err, "encode invocation")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, eris.Wrap(err, "create invocation request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "call scoring server")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, eris.Wrap(err, "read scoring response")
	}
	if resp.StatusCode != http.StatusOK {
		return 0, eris.Errorf("scoring server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return parsePrediction(body)
}

// parsePrediction accepts {"predictions":[x]} (MLflow 2.x) or a bare [x].
func parsePrediction(body []byte) (float64, error) {
	var wrapped struct {
		Predictions []float64 `json:"predictions"`
	}
	var values []float64
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Predictions != nil {
		values = wrapped.Predictions
	} else if err := json.Unmarshal(body, &values); err != nil {
		return 0, eris.Errorf("unexpected scoring response: %s", strings.TrimSpace(string(body)))
	}
	if len(values) != 1 {
		return 0, eris.Errorf("expected exactly one prediction, got %d", len(values))
	}
	return values[0], nil
}

func (p *InvocationsPredictor) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
