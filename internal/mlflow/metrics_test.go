package mlflow

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imishinist/aqi-mlops/internal/promotion"
)

func TestRunMetrics(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, testTrackingURI+pathGetRun,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "run-42", req.URL.Query().Get("run_id"))
			return httpmock.NewStringResponse(http.StatusOK, `{"run":{
				"info":{"run_id":"run-42","status":"FINISHED"},
				"data":{"metrics":[{"key":"rmse","value":4.2},{"key":"mae","value":3.1},{"key":"r2","value":0}]}
			}}`), nil
		})

	metrics, err := c.RunMetrics(context.Background(), "run-42")
	require.NoError(t, err)

	rmse, ok := metrics.Get("rmse")
	require.True(t, ok)
	assert.InDelta(t, 4.2, rmse, 1e-9)
	r2, ok := metrics.Get("r2")
	require.True(t, ok)
	assert.Zero(t, r2)
	_, ok = metrics.Get("mape")
	assert.False(t, ok)
}

func TestRunMetricsNotFound(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, testTrackingURI+pathGetRun,
		errorResponder(http.StatusNotFound, ErrCodeResourceDoesNotExist, "Run 'gone' not found"))

	_, err := c.RunMetrics(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, promotion.ErrRunNotFound))
}

func TestRunMetricsTransportError(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, testTrackingURI+pathGetRun,
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := c.RunMetrics(context.Background(), "run-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, promotion.ErrRunNotFound))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRunMetricsEmptyRunID(t *testing.T) {
	c, mt := newTestClient(t)

	_, err := c.RunMetrics(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, promotion.ErrRunNotFound))
	assert.Zero(t, mt.GetTotalCallCount())
}
