package models

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Stage is the deployment role of a registered model version.
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
	StageArchived   Stage = "Archived"
)

// ParseStage accepts the registry spellings of a stage in any case.
// An empty string is StageNone.
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return StageNone, nil
	case "staging":
		return StageStaging, nil
	case "production":
		return StageProduction, nil
	case "archived":
		return StageArchived, nil
	default:
		return "", fmt.Errorf("invalid stage: %s (valid: None, Staging, Production, Archived)", s)
	}
}

// CanTransition reports whether a version in stage s may be moved to stage to.
// Archived is terminal.
func (s Stage) CanTransition(to Stage) bool {
	if s == StageArchived {
		return false
	}
	return s != to
}

type ModelVersion struct {
	Name        string `json:"name"`
	Version     int64  `json:"version"`
	SourceRunID string `json:"source_run_id"`
	Stage       Stage  `json:"stage"`
	Description string `json:"description,omitempty"`
}

func (v ModelVersion) String() string {
	return fmt.Sprintf("%s/%d", v.Name, v.Version)
}

// RunMetrics holds the final value of each metric logged by a run.
type RunMetrics map[string]float64

// Get returns the named metric. Missing and non-finite values report false.
func (m RunMetrics) Get(name string) (float64, bool) {
	v, ok := m[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Keys returns the metric names in lexical order.
func (m RunMetrics) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type PromotionDecision struct {
	ID               string  `json:"id"`
	ModelName        string  `json:"model_name"`
	RunID            string  `json:"run_id"`
	Promoted         bool    `json:"promoted"`
	ComparisonMetric string  `json:"comparison_metric"`
	LowerIsBetter    bool    `json:"lower_is_better"`
	NewMetric        float64 `json:"new_metric"`
	BaselineMetric   float64 `json:"-"`
	BaselineVersion  int64   `json:"baseline_version,omitempty"`
	Version          int64   `json:"version,omitempty"`
	Reused           bool    `json:"reused,omitempty"`
	Reason           string  `json:"reason"`
}

// HasBaseline is false when BaselineMetric is the sentinel worst value.
func (d PromotionDecision) HasBaseline() bool {
	return !math.IsInf(d.BaselineMetric, 0)
}

// BaselineString formats the baseline for logs and CLI output.
func (d PromotionDecision) BaselineString() string {
	if !d.HasBaseline() {
		return "none"
	}
	return fmt.Sprintf("%.4f", d.BaselineMetric)
}
