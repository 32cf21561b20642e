// Package serving is the prediction gateway in front of the Production model.
package serving

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/imishinist/aqi-mlops/internal/models"
	"github.com/imishinist/aqi-mlops/internal/telemetry"
)

// Prediction statuses recorded in telemetry.
const (
	statusOK          = "ok"
	statusInvalid     = "invalid"
	statusError       = "error"
	statusUnavailable = "unavailable"
)

const maxRequestBody = 1 << 20

type Server struct {
	handle   *ModelHandle
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer
	timeout  time.Duration
}

// NewServer builds the gateway. gatherer backs /metrics and may be nil.
func NewServer(handle *ModelHandle, metrics *telemetry.Metrics, gatherer prometheus.Gatherer) *Server {
	if metrics != nil {
		metrics.SetServingModel(handle.Name(), handle.VersionNumber())
	}
	return &Server{handle: handle, metrics: metrics, gatherer: gatherer, timeout: 30 * time.Second}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/health", s.handleHealth)
	r.Post("/predict", s.handlePredict)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type healthResponse struct {
	Status       string  `json:"status"`
	ModelLoaded  bool    `json:"model_loaded"`
	ModelVersion *string `json:"model_version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", ModelLoaded: s.handle.Loaded()}
	if resp.ModelLoaded {
		v := s.handle.Version()
		resp.ModelVersion = &v
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if !s.handle.Loaded() {
		s.observe(statusUnavailable, 0)
		respondError(w, http.StatusServiceUnavailable, "Model is not loaded or unavailable.")
		return
	}

	var features models.AQIFeatures
	if err := decodeJSON(w, r, &features); err != nil {
		s.observe(statusInvalid, 0)
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if err := features.Validate(); err != nil {
		s.observe(statusInvalid, 0)
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	start := time.Now()
	value, err := s.handle.Predict(r.Context(), features)
	elapsed := time.Since(start)
	if err != nil {
		s.observe(statusError, elapsed)
		zap.L().Error("prediction failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("model_version", s.handle.Version()),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "Error during prediction: "+err.Error())
		return
	}

	s.observe(statusOK, elapsed)
	respondJSON(w, http.StatusOK, models.AQIPrediction{
		PM25Prediction:   value,
		ModelVersionUsed: s.handle.Version(),
	})
}

func (s *Server) observe(status string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObservePrediction(status, d)
	}
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests.
// The handle is closed on every return path.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("prediction gateway listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		closeErr := s.handle.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return closeErr
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	zap.L().Info("shutting down prediction gateway")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = s.handle.Close()
		return err
	}
	return s.handle.Close()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}
