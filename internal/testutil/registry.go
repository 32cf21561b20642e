// Package testutil provides an in-memory model registry and metric store for
// exercising the promotion procedure without an MLflow server.
package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/imishinist/aqi-mlops/internal/models"
	"github.com/imishinist/aqi-mlops/internal/promotion"
)

// Registry operation names accepted by FailOn.
const (
	OpProductionVersion = "ProductionVersion"
	OpEnsureModel       = "EnsureModel"
	OpFindVersionByRun  = "FindVersionByRun"
	OpRegisterVersion   = "RegisterVersion"
	OpUpdateDescription = "UpdateDescription"
	OpTransitionStage   = "TransitionStage"
	OpRunMetrics        = "RunMetrics"
	OpListVersions      = "ListVersions"
)

// MemoryRegistry is a goroutine-safe registry and metric store. Stage
// transitions with archivePrevious happen under a single lock, matching the
// atomicity a real registry provides.
type MemoryRegistry struct {
	mu       sync.RWMutex
	runs     map[string]models.RunMetrics
	families map[string][]models.ModelVersion
	failures map[string]error
	calls    []string

	// AfterTransition runs after every transition, outside the lock. Tests use
	// it to interleave a competing promotion.
	AfterTransition func(name string, version int64)
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		runs:     map[string]models.RunMetrics{},
		families: map[string][]models.ModelVersion{},
		failures: map[string]error{},
	}
}

// AddRun records a completed run with its metrics.
func (m *MemoryRegistry) AddRun(runID string, metrics models.RunMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(models.RunMetrics, len(metrics))
	for k, v := range metrics {
		copied[k] = v
	}
	m.runs[runID] = copied
}

// SeedVersion registers a version directly, bypassing the promotion path.
func (m *MemoryRegistry) SeedVersion(name, runID string, stage models.Stage) models.ModelVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv := m.appendVersion(name, runID)
	m.setStage(name, mv.Version, stage)
	return m.families[name][mv.Version-1]
}

// FailOn makes every later call to op return err. A nil err clears it.
func (m *MemoryRegistry) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns the operation names in call order.
func (m *MemoryRegistry) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.calls...)
}

// Mutations counts the write operations performed so far.
func (m *MemoryRegistry) Mutations() int {
	n := 0
	for _, c := range m.Calls() {
		switch c {
		case OpEnsureModel, OpRegisterVersion, OpUpdateDescription, OpTransitionStage:
			n++
		}
	}
	return n
}

// Versions returns a snapshot of every version of name, ordered by version.
func (m *MemoryRegistry) Versions(name string) []models.ModelVersion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.ModelVersion(nil), m.families[name]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (m *MemoryRegistry) ListVersions(ctx context.Context, name string) ([]models.ModelVersion, error) {
	if err := m.enter(OpListVersions); err != nil {
		return nil, err
	}
	return m.Versions(name), nil
}

// HasModel reports whether the family was created.
func (m *MemoryRegistry) HasModel(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.families[name]
	return ok
}

func (m *MemoryRegistry) enter(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
	return m.failures[op]
}

func (m *MemoryRegistry) RunMetrics(ctx context.Context, runID string) (models.RunMetrics, error) {
	if err := m.enter(OpRunMetrics); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	metrics, ok := m.runs[runID]
	if !ok {
		return nil, eris.Wrapf(promotion.ErrRunNotFound, "run %s", runID)
	}
	return metrics, nil
}

func (m *MemoryRegistry) ProductionVersion(ctx context.Context, name string) (models.ModelVersion, bool, error) {
	if err := m.enter(OpProductionVersion); err != nil {
		return models.ModelVersion{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mv := range m.families[name] {
		if mv.Stage == models.StageProduction {
			return mv, true, nil
		}
	}
	return models.ModelVersion{}, false, nil
}

func (m *MemoryRegistry) EnsureModel(ctx context.Context, name string) error {
	if err := m.enter(OpEnsureModel); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.families[name]; !ok {
		m.families[name] = nil
	}
	return nil
}

func (m *MemoryRegistry) FindVersionByRun(ctx context.Context, name, runID string) (models.ModelVersion, bool, error) {
	if err := m.enter(OpFindVersionByRun); err != nil {
		return models.ModelVersion{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.families[name]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].SourceRunID == runID && versions[i].Stage != models.StageArchived {
			return versions[i], true, nil
		}
	}
	return models.ModelVersion{}, false, nil
}

func (m *MemoryRegistry) RegisterVersion(ctx context.Context, name, runID string) (models.ModelVersion, error) {
	if err := m.enter(OpRegisterVersion); err != nil {
		return models.ModelVersion{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.families[name]; !ok {
		return models.ModelVersion{}, eris.Errorf("registered model %s does not exist", name)
	}
	return m.appendVersion(name, runID), nil
}

func (m *MemoryRegistry) UpdateDescription(ctx context.Context, name string, version int64, description string) error {
	if err := m.enter(OpUpdateDescription); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, err := m.lookup(name, version)
	if err != nil {
		return err
	}
	mv.Description = description
	return nil
}

func (m *MemoryRegistry) TransitionStage(ctx context.Context, name string, version int64, stage models.Stage, archivePrevious bool) (models.ModelVersion, error) {
	if err := m.enter(OpTransitionStage); err != nil {
		return models.ModelVersion{}, err
	}
	m.mu.Lock()
	mv, err := m.lookup(name, version)
	if err != nil {
		m.mu.Unlock()
		return models.ModelVersion{}, err
	}
	if !mv.Stage.CanTransition(stage) && mv.Stage != stage {
		m.mu.Unlock()
		return models.ModelVersion{}, eris.Errorf("cannot move %s from %s to %s", mv, mv.Stage, stage)
	}
	if archivePrevious {
		for i := range m.families[name] {
			other := &m.families[name][i]
			if other.Version != version && other.Stage == stage {
				other.Stage = models.StageArchived
			}
		}
	}
	mv.Stage = stage
	result := *mv
	hook := m.AfterTransition
	m.mu.Unlock()

	if hook != nil {
		hook(name, version)
	}
	return result, nil
}

func (m *MemoryRegistry) appendVersion(name, runID string) models.ModelVersion {
	mv := models.ModelVersion{
		Name:        name,
		Version:     int64(len(m.families[name]) + 1),
		SourceRunID: runID,
		Stage:       models.StageNone,
	}
	m.families[name] = append(m.families[name], mv)
	return mv
}

func (m *MemoryRegistry) setStage(name string, version int64, stage models.Stage) {
	m.families[name][version-1].Stage = stage
}

func (m *MemoryRegistry) lookup(name string, version int64) (*models.ModelVersion, error) {
	versions := m.families[name]
	if version < 1 || int(version) > len(versions) {
		return nil, eris.Errorf("model version %s/%d does not exist", name, version)
	}
	return &versions[version-1], nil
}
