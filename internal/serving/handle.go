package serving

import (
	"context"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/imishinist/aqi-mlops/internal/models"
)

// ErrModelNotLoaded is returned by Predict on a handle without a model.
var ErrModelNotLoaded = eris.New("model is not loaded")

// VersionSource resolves the version holding Production.
type VersionSource interface {
	ProductionVersion(ctx context.Context, name string) (models.ModelVersion, bool, error)
}

// ModelHandle binds the Production version resolved at startup to the
// predictor serving it. It does not change after LoadModelHandle returns.
type ModelHandle struct {
	name      string
	version   models.ModelVersion
	loaded    bool
	predictor Predictor
}

// LoadModelHandle resolves the Production holder of name. On failure it still
// returns a usable handle reporting no model, together with the error.
func LoadModelHandle(ctx context.Context, src VersionSource, name string, predictor Predictor) (*ModelHandle, error) {
	return LoadPinnedModelHandle(ctx, src, name, func(models.ModelVersion) Predictor { return predictor })
}

// LoadPinnedModelHandle is LoadModelHandle with a predictor built for the
// resolved version, so predictions go to a scorer serving that version.
// newPredictor is not called when no version resolves.
func LoadPinnedModelHandle(ctx context.Context, src VersionSource, name string, newPredictor func(models.ModelVersion) Predictor) (*ModelHandle, error) {
	h := &ModelHandle{name: name}

	mv, ok, err := src.ProductionVersion(ctx, name)
	if err != nil {
		return h, eris.Wrapf(err, "resolve production version of %s", name)
	}
	if !ok {
		return h, eris.Errorf("model %s has no Production version", name)
	}

	h.version = mv
	h.loaded = true
	h.predictor = newPredictor(mv)
	zap.L().Info("loaded production model",
		zap.String("model", name),
		zap.Int64("version", mv.Version),
		zap.String("run_id", mv.SourceRunID),
	)
	return h, nil
}

// NewModelHandle wraps an already resolved version.
func NewModelHandle(mv models.ModelVersion, predictor Predictor) *ModelHandle {
	return &ModelHandle{name: mv.Name, version: mv, loaded: true, predictor: predictor}
}

func (h *ModelHandle) Loaded() bool {
	return h != nil && h.loaded
}

func (h *ModelHandle) Name() string {
	if h == nil {
		return ""
	}
	return h.name
}

// Version returns the served version as the registry prints it, or "" when
// nothing is loaded.
func (h *ModelHandle) Version() string {
	if !h.Loaded() {
		return ""
	}
	return strconv.FormatInt(h.version.Version, 10)
}

func (h *ModelHandle) VersionNumber() int64 {
	if !h.Loaded() {
		return 0
	}
	return h.version.Version
}

func (h *ModelHandle) Predict(ctx context.Context, features models.AQIFeatures) (float64, error) {
	if !h.Loaded() {
		return 0, ErrModelNotLoaded
	}
	return h.predictor.Predict(ctx, features)
}

// Close releases the predictor.
func (h *ModelHandle) Close() error {
	if h == nil {
		return nil
	}
	if c, ok := h.predictor.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
