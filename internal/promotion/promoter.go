// Package promotion decides whether a freshly trained run should replace the
// model version currently serving in Production, and performs the
// register-and-transition sequence when it should.
package promotion

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/imishinist/aqi-mlops/internal/models"
)

// MetricStore reads the metrics a completed run logged.
// Unknown run ids return an error matching ErrRunNotFound.
type MetricStore interface {
	RunMetrics(ctx context.Context, runID string) (models.RunMetrics, error)
}

// Registry is the subset of a model registry the promotion sequence needs.
//
// ProductionVersion and FindVersionByRun report absence with ok=false and a
// nil error; a missing model family is absence, not an error.
// TransitionStage with archivePrevious must move the version and archive the
// prior holder of the target stage as one atomic operation.
type Registry interface {
	ProductionVersion(ctx context.Context, name string) (mv models.ModelVersion, ok bool, err error)
	EnsureModel(ctx context.Context, name string) error
	FindVersionByRun(ctx context.Context, name, runID string) (mv models.ModelVersion, ok bool, err error)
	RegisterVersion(ctx context.Context, name, runID string) (models.ModelVersion, error)
	UpdateDescription(ctx context.Context, name string, version int64, description string) error
	TransitionStage(ctx context.Context, name string, version int64, stage models.Stage, archivePrevious bool) (models.ModelVersion, error)
}

// Recorder observes every finished decision, successful or not.
type Recorder interface {
	RecordDecision(d models.PromotionDecision, err error)
}

type Request struct {
	RunID            string
	ModelName        string
	ComparisonMetric string
	LowerIsBetter    bool
}

func (r Request) Validate() error {
	if r.RunID == "" {
		return eris.New("run id is required")
	}
	if r.ModelName == "" {
		return eris.New("model name is required")
	}
	if r.ComparisonMetric == "" {
		return eris.New("comparison metric is required")
	}
	return nil
}

// Evaluation is the outcome of the comparison alone. Decision.Promoted is
// always false here; Better reports what DecideAndPromote would do.
type Evaluation struct {
	Decision   models.PromotionDecision
	Better     bool
	Replay     bool
	Production *models.ModelVersion
}

type Promoter struct {
	metrics  MetricStore
	registry Registry
	recorder Recorder
	logger   *zap.Logger
}

type Option func(*Promoter)

func WithRecorder(r Recorder) Option {
	return func(p *Promoter) { p.recorder = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Promoter) { p.logger = l }
}

func New(metrics MetricStore, registry Registry, opts ...Option) *Promoter {
	p := &Promoter{metrics: metrics, registry: registry}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Promoter) log() *zap.Logger {
	if p.logger != nil {
		return p.logger
	}
	return zap.L()
}

// worstValue is the baseline used when production has no comparable metric.
func worstValue(lowerIsBetter bool) float64 {
	if lowerIsBetter {
		return math.Inf(1)
	}
	return math.Inf(-1)
}

// isBetter is strict: a tie never wins.
func isBetter(candidate, baseline float64, lowerIsBetter bool) bool {
	if lowerIsBetter {
		return candidate < baseline
	}
	return candidate > baseline
}

// Evaluate reads the challenger and baseline metrics and compares them
// without touching the registry's write path.
func (p *Promoter) Evaluate(ctx context.Context, req Request) (Evaluation, error) {
	d := models.PromotionDecision{
		ID:               uuid.NewString(),
		ModelName:        req.ModelName,
		RunID:            req.RunID,
		ComparisonMetric: req.ComparisonMetric,
		LowerIsBetter:    req.LowerIsBetter,
		BaselineMetric:   worstValue(req.LowerIsBetter),
	}
	if err := req.Validate(); err != nil {
		return Evaluation{Decision: d}, eris.Wrap(err, "invalid promotion request")
	}
	log := p.log().With(
		zap.String("decision_id", d.ID),
		zap.String("model", req.ModelName),
		zap.String("run_id", req.RunID),
		zap.String("metric", req.ComparisonMetric),
	)

	newMetrics, err := p.metrics.RunMetrics(ctx, req.RunID)
	if err != nil {
		return Evaluation{Decision: d}, &MetricUnavailableError{RunID: req.RunID, Metric: req.ComparisonMetric, Err: err}
	}
	newMetric, ok := newMetrics.Get(req.ComparisonMetric)
	if !ok {
		return Evaluation{Decision: d}, &MetricUnavailableError{RunID: req.RunID, Metric: req.ComparisonMetric}
	}
	d.NewMetric = newMetric

	holder, found, err := p.registry.ProductionVersion(ctx, req.ModelName)
	if err != nil {
		return Evaluation{Decision: d}, p.failed(StepLookup, d, 0, eris.Wrap(err, "find production version"))
	}

	ev := Evaluation{Decision: d}
	if !found {
		log.Info("no production version, using sentinel baseline")
	} else {
		ev.Production = &holder
		ev.Decision.BaselineVersion = holder.Version
		if holder.SourceRunID == req.RunID {
			ev.Replay = true
			ev.Decision.BaselineMetric = newMetric
			return ev, nil
		}
		ev.Decision.BaselineMetric = p.baselineMetric(ctx, holder, req)
	}

	ev.Better = isBetter(newMetric, ev.Decision.BaselineMetric, req.LowerIsBetter)
	log.Info("compared challenger with production",
		zap.Float64("new_metric", newMetric),
		zap.String("baseline_metric", ev.Decision.BaselineString()),
		zap.Bool("better", ev.Better),
	)
	return ev, nil
}

// baselineMetric falls back to the sentinel whenever the production run's
// metric cannot be read. A baseline never blocks the challenger.
func (p *Promoter) baselineMetric(ctx context.Context, holder models.ModelVersion, req Request) float64 {
	sentinel := worstValue(req.LowerIsBetter)
	log := p.log().With(
		zap.String("model", req.ModelName),
		zap.Int64("production_version", holder.Version),
		zap.String("production_run_id", holder.SourceRunID),
	)

	prodMetrics, err := p.metrics.RunMetrics(ctx, holder.SourceRunID)
	if err != nil {
		if eris.Is(err, ErrRunNotFound) {
			log.Warn("production run not found, using sentinel baseline")
		} else {
			log.Warn("cannot read production run metrics, using sentinel baseline", zap.Error(err))
		}
		return sentinel
	}
	v, ok := prodMetrics.Get(req.ComparisonMetric)
	if !ok {
		log.Warn("production run lacks comparison metric, using sentinel baseline", zap.String("metric", req.ComparisonMetric))
		return sentinel
	}
	return v
}

// DecideAndPromote compares the challenger run with the current Production
// holder and, when it is strictly better, registers it and moves it to
// Production while archiving the previous holder.
//
// A false Promoted with a nil error means nothing was written: either the
// challenger lost, or (Reused set) the run already holds Production. Any registry failure after the challenger won is returned as a
// *PromotionFailedError. Calling again for the same run reuses the version an
// earlier failed attempt registered, and is a no-op once that run already
// holds Production.
func (p *Promoter) DecideAndPromote(ctx context.Context, req Request) (models.PromotionDecision, error) {
	d, err := p.decideAndPromote(ctx, req)
	if p.recorder != nil {
		p.recorder.RecordDecision(d, err)
	}
	return d, err
}

func (p *Promoter) decideAndPromote(ctx context.Context, req Request) (models.PromotionDecision, error) {
	ev, err := p.Evaluate(ctx, req)
	if err != nil {
		return ev.Decision, err
	}
	d := ev.Decision

	if ev.Replay {
		d.Reused = true
		d.Version = ev.Production.Version
		d.Reason = fmt.Sprintf("run already in Production as version %d", d.Version)
		p.log().Info("promotion already applied", zap.String("model", req.ModelName), zap.Int64("version", d.Version))
		return d, nil
	}

	if !ev.Better {
		d.Reason = fmt.Sprintf("%s %.4f is not better than production %s", req.ComparisonMetric, d.NewMetric, d.BaselineString())
		p.log().Info("challenger not promoted", zap.String("model", req.ModelName), zap.String("reason", d.Reason))
		return d, nil
	}

	return p.promote(ctx, req, d)
}

func (p *Promoter) promote(ctx context.Context, req Request, d models.PromotionDecision) (models.PromotionDecision, error) {
	log := p.log().With(zap.String("decision_id", d.ID), zap.String("model", req.ModelName), zap.String("run_id", req.RunID))

	if err := p.registry.EnsureModel(ctx, req.ModelName); err != nil {
		return d, p.failed(StepEnsureModel, d, 0, err)
	}

	mv, found, err := p.registry.FindVersionByRun(ctx, req.ModelName, req.RunID)
	if err != nil {
		return d, p.failed(StepRegister, d, 0, eris.Wrap(err, "find existing version"))
	}
	if found && mv.Stage != models.StageArchived {
		d.Reused = true
		log.Info("reusing version registered by an earlier attempt", zap.Int64("version", mv.Version))
	} else {
		mv, err = p.registry.RegisterVersion(ctx, req.ModelName, req.RunID)
		if err != nil {
			return d, p.failed(StepRegister, d, 0, err)
		}
		log.Info("registered model version", zap.Int64("version", mv.Version))
	}

	description := fmt.Sprintf("Auto-promoted by scheduler. Metric (%s): %.4f", req.ComparisonMetric, d.NewMetric)
	if err := p.registry.UpdateDescription(ctx, req.ModelName, mv.Version, description); err != nil {
		return d, p.failed(StepDescribe, d, mv.Version, err)
	}

	if _, err := p.registry.TransitionStage(ctx, req.ModelName, mv.Version, models.StageProduction, true); err != nil {
		return d, p.failed(StepTransition, d, mv.Version, err)
	}

	holder, ok, err := p.registry.ProductionVersion(ctx, req.ModelName)
	if err != nil {
		return d, p.failed(StepVerify, d, mv.Version, err)
	}
	if !ok || holder.Version != mv.Version {
		return d, p.failed(StepVerify, d, mv.Version, ErrSuperseded)
	}

	d.Promoted = true
	d.Version = mv.Version
	d.Reason = fmt.Sprintf("%s %.4f beats production %s", req.ComparisonMetric, d.NewMetric, d.BaselineString())
	log.Info("promoted to production",
		zap.Int64("version", mv.Version),
		zap.Int64("previous_version", d.BaselineVersion),
		zap.Float64("new_metric", d.NewMetric),
	)
	return d, nil
}

func (p *Promoter) failed(step string, d models.PromotionDecision, version int64, err error) error {
	p.log().Error("promotion step failed",
		zap.String("step", step),
		zap.String("model", d.ModelName),
		zap.String("run_id", d.RunID),
		zap.Float64("new_metric", d.NewMetric),
		zap.String("baseline_metric", d.BaselineString()),
		zap.Error(err),
	)
	return &PromotionFailedError{
		Step:           step,
		ModelName:      d.ModelName,
		RunID:          d.RunID,
		Metric:         d.ComparisonMetric,
		NewMetric:      d.NewMetric,
		BaselineMetric: d.BaselineMetric,
		Version:        version,
		Err:            err,
	}
}
