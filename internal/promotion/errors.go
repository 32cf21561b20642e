package promotion

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrMetricUnavailable matches errors for a challenger run whose
	// comparison metric could not be read. Retrying without re-training
	// will not help.
	ErrMetricUnavailable = eris.New("metric unavailable")

	// ErrPromotionFailed matches errors raised after the challenger won the
	// comparison but a registry operation failed.
	ErrPromotionFailed = eris.New("promotion failed")

	// ErrRunNotFound is returned by a MetricStore for an unknown run id.
	ErrRunNotFound = eris.New("run not found")

	// ErrSuperseded means another version holds Production after our
	// transition completed: a concurrent promotion won the race.
	ErrSuperseded = eris.New("production superseded by a concurrent promotion")
)

// Steps of the promote sequence, reported in PromotionFailedError.
const (
	StepLookup      = "lookup"
	StepEnsureModel = "ensure-model"
	StepRegister    = "register"
	StepDescribe    = "describe"
	StepTransition  = "transition"
	StepVerify      = "verify"
)

type MetricUnavailableError struct {
	RunID  string
	Metric string
	Err    error
}

func (e *MetricUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metric %q unavailable for run %s: %v", e.Metric, e.RunID, e.Err)
	}
	return fmt.Sprintf("metric %q unavailable for run %s", e.Metric, e.RunID)
}

func (e *MetricUnavailableError) Unwrap() error { return e.Err }

func (e *MetricUnavailableError) Is(target error) bool { return target == ErrMetricUnavailable }

// PromotionFailedError carries the metric values that triggered the attempt
// so the scheduler's failure report is actionable.
type PromotionFailedError struct {
	Step           string
	ModelName      string
	RunID          string
	Metric         string
	NewMetric      float64
	BaselineMetric float64
	Version        int64
	Err            error
}

func (e *PromotionFailedError) Error() string {
	msg := fmt.Sprintf("promote %s from run %s failed at %s (%s: new=%.4f baseline=%.4f)",
		e.ModelName, e.RunID, e.Step, e.Metric, e.NewMetric, e.BaselineMetric)
	if e.Version > 0 {
		msg += fmt.Sprintf(" version=%d", e.Version)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PromotionFailedError) Unwrap() error { return e.Err }

func (e *PromotionFailedError) Is(target error) bool { return target == ErrPromotionFailed }

// IsRetryable reports whether err is worth another promotion attempt.
func IsRetryable(err error) bool {
	return eris.Is(err, ErrPromotionFailed) && !eris.Is(err, ErrMetricUnavailable)
}
