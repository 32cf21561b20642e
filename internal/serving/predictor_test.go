package serving

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imishinist/aqi-mlops/internal/models"
)

func ptr[T any](v T) *T { return &v }

func sampleFeatures() models.AQIFeatures {
	return models.AQIFeatures{
		Temperature:       ptr(30.5),
		Humidity:          ptr(80.0),
		COLag1h:           ptr(0.5),
		NO2Lag1h:          ptr(25.0),
		O3Lag1h:           ptr(40.0),
		PM25Lag1h:         ptr(85.2),
		PM25Rolling3hMean: ptr(80.1),
		HourOfDay:         ptr(14),
		DayOfWeek:         ptr(3),
		MonthOfYear:       ptr(10),
	}
}

func newMockPredictor(t *testing.T) (*InvocationsPredictor, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	return NewInvocationsPredictor("http://scoring.test/", &http.Client{Transport: mt}), mt
}

func TestInvocationsPredictor(t *testing.T) {
	p, mt := newMockPredictor(t)
	mt.RegisterResponder(http.MethodPost, "http://scoring.test/invocations",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				DataframeRecords []map[string]any `json:"dataframe_records"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			require.Len(t, body.DataframeRecords, 1)
			assert.InDelta(t, 85.2, body.DataframeRecords[0]["pm25_lag_1h"], 1e-9)
			assert.InDelta(t, 14, body.DataframeRecords[0]["hour_of_day"], 0)
			return httpmock.NewStringResponse(http.StatusOK, `{"predictions":[123.45]}`), nil
		})

	v, err := p.Predict(context.Background(), sampleFeatures())
	require.NoError(t, err)
	assert.InDelta(t, 123.45, v, 1e-9)
}

func TestInvocationsPredictorBareList(t *testing.T) {
	p, mt := newMockPredictor(t)
	mt.RegisterResponder(http.MethodPost, "http://scoring.test/invocations",
		httpmock.NewStringResponder(http.StatusOK, `[42.5]`))

	v, err := p.Predict(context.Background(), sampleFeatures())
	require.NoError(t, err)
	assert.InDelta(t, 42.5, v, 1e-9)
}

func TestInvocationsPredictorErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"server error", http.StatusInternalServerError, `{"error_code":"INTERNAL_ERROR"}`, "returned 500"},
		{"unexpected shape", http.StatusOK, `{"result":1}`, "unexpected scoring response"},
		{"empty predictions", http.StatusOK, `{"predictions":[]}`, "exactly one prediction"},
		{"batch predictions", http.StatusOK, `[1, 2]`, "exactly one prediction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mt := newMockPredictor(t)
			mt.RegisterResponder(http.MethodPost, "http://scoring.test/invocations",
				httpmock.NewStringResponder(tt.status, tt.body))

			_, err := p.Predict(context.Background(), sampleFeatures())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExpandScoringURI(t *testing.T) {
	mv := models.ModelVersion{Name: "hcmc-aqi-predictor", Version: 12}

	assert.Equal(t, "http://scorer-12.internal:5001", ExpandScoringURI("http://scorer-{version}.internal:5001", mv))
	assert.Equal(t, "http://scoring.test/hcmc-aqi-predictor/12", ExpandScoringURI("http://scoring.test/{model}/{version}", mv))
	assert.Equal(t, "http://localhost:5001", ExpandScoringURI("http://localhost:5001", mv))

	assert.True(t, IsPinnedScoringURI("http://scorer-{version}:5001"))
	assert.False(t, IsPinnedScoringURI("http://localhost:5001"))
	assert.False(t, IsPinnedScoringURI("http://scoring.test/{model}"))
}
