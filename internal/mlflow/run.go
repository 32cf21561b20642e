package mlflow

import (
	"context"
	"time"

	"github.com/databricks/databricks-sdk-go/service/ml"
	"github.com/rotisserie/eris"

	"github.com/imishinist/aqi-mlops/internal/models"
)

const (
	tagRunName     = "mlflow.runName"
	tagDescription = "mlflow.note.content"
)

func (c *Client) CreateRun(ctx context.Context, cfg *models.RunConfig) (*models.RunInfo, error) {
	if cfg.ExperimentID == nil || *cfg.ExperimentID == "" {
		return nil, eris.New("experiment ID must be provided")
	}
	experimentID := *cfg.ExperimentID

	runName := "aqi-train-" + time.Now().Format("2006-01-02-15-04-05")
	if cfg.RunName != nil {
		runName = *cfg.RunName
	}

	tags := make([]ml.RunTag, 0, len(cfg.Tags)+2)
	for _, key := range models.SortedKeys(cfg.Tags) {
		tags = append(tags, ml.RunTag{Key: key, Value: cfg.Tags[key]})
	}
	tags = append(tags, ml.RunTag{Key: tagRunName, Value: runName})

	var description string
	if cfg.Description != nil {
		description = *cfg.Description
		tags = append(tags, ml.RunTag{Key: tagDescription, Value: description})
	}

	startTime := time.Now()
	resp, err := c.client.Experiments.CreateRun(ctx, ml.CreateRun{
		ExperimentId: experimentID,
		RunName:      runName,
		StartTime:    startTime.UnixMilli(),
		Tags:         tags,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "create run in experiment %s", experimentID)
	}

	return &models.RunInfo{
		RunID:        resp.Run.Info.RunId,
		ExperimentID: experimentID,
		RunName:      runName,
		Status:       string(models.RunStatusRunning),
		StartTime:    startTime,
		Tags:         cfg.Tags,
		Description:  description,
	}, nil
}

var updateRunStatuses = map[models.RunStatus]ml.UpdateRunStatus{
	models.RunStatusRunning:  ml.UpdateRunStatusRunning,
	models.RunStatusFinished: ml.UpdateRunStatusFinished,
	models.RunStatusFailed:   ml.UpdateRunStatusFailed,
	models.RunStatusKilled:   ml.UpdateRunStatusKilled,
}

func (c *Client) UpdateRun(ctx context.Context, runID string, status models.RunStatus) error {
	mlStatus, ok := updateRunStatuses[status]
	if !ok {
		return eris.Errorf("unknown run status %q", status)
	}

	updateRun := ml.UpdateRun{
		RunId:  runID,
		Status: mlStatus,
	}
	if status.IsTerminal() {
		updateRun.EndTime = time.Now().UnixMilli()
	}

	if _, err := c.client.Experiments.UpdateRun(ctx, updateRun); err != nil {
		return eris.Wrapf(err, "update run %s to %s", runID, status)
	}
	return nil
}

// GetRun returns the run's metadata together with its latest metric values.
func (c *Client) GetRun(ctx context.Context, runID string) (*models.RunInfo, error) {
	resp, err := c.client.Experiments.GetRun(ctx, ml.GetRunRequest{
		RunId: runID,
	})
	if err != nil {
		return nil, runError(err, runID)
	}

	run := resp.Run
	tags := make(map[string]string)
	for _, tag := range run.Data.Tags {
		tags[tag.Key] = tag.Value
	}
	metrics := models.RunMetrics{}
	for _, m := range run.Data.Metrics {
		metrics[m.Key] = m.Value
	}

	runInfo := &models.RunInfo{
		RunID:        run.Info.RunId,
		ExperimentID: run.Info.ExperimentId,
		RunName:      tags[tagRunName],
		Description:  tags[tagDescription],
		Status:       string(run.Info.Status),
		StartTime:    time.UnixMilli(run.Info.StartTime),
		Tags:         tags,
		Metrics:      metrics,
	}
	if run.Info.EndTime != 0 {
		endTime := time.UnixMilli(run.Info.EndTime)
		runInfo.EndTime = &endTime
	}
	return runInfo, nil
}
