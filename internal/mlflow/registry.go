package mlflow

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/imishinist/aqi-mlops/internal/models"
)

const (
	pathGetRegisteredModel    = "/api/2.0/mlflow/registered-models/get"
	pathCreateRegisteredModel = "/api/2.0/mlflow/registered-models/create"
	pathGetLatestVersions     = "/api/2.0/mlflow/registered-models/get-latest-versions"
	pathSearchModelVersions   = "/api/2.0/mlflow/model-versions/search"
	pathCreateModelVersion    = "/api/2.0/mlflow/model-versions/create"
	pathGetModelVersion       = "/api/2.0/mlflow/model-versions/get"
	pathUpdateModelVersion    = "/api/2.0/mlflow/model-versions/update"
	pathTransitionStage       = "/api/2.0/mlflow/model-versions/transition-stage"
)

// Registration states of a model version.
const (
	statusPendingRegistration = "PENDING_REGISTRATION"
	statusFailedRegistration  = "FAILED_REGISTRATION"
	statusReady               = "READY"
)

const (
	defaultRegistrationTimeout = 5 * time.Minute
	defaultRegistrationPoll    = time.Second
)

// ErrRegistrationFailed is returned when the registry gives up on creating a
// model version.
var ErrRegistrationFailed = eris.New("model version registration failed")

// RegisteredModel is a model family in the registry.
type RegisteredModel struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// modelVersion is the wire form of an MLflow model version. MLflow encodes
// version numbers as strings.
type modelVersion struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	RunID        string `json:"run_id"`
	CurrentStage string `json:"current_stage"`
	Description  string `json:"description"`
	Source       string `json:"source"`
	Status       string `json:"status"`
	StatusMsg    string `json:"status_message"`
}

func (v modelVersion) toModel() (models.ModelVersion, error) {
	version, err := strconv.ParseInt(v.Version, 10, 64)
	if err != nil {
		return models.ModelVersion{}, eris.Wrapf(err, "invalid model version %q", v.Version)
	}
	stage, err := models.ParseStage(v.CurrentStage)
	if err != nil {
		return models.ModelVersion{}, eris.Wrapf(err, "model version %s/%s", v.Name, v.Version)
	}
	return models.ModelVersion{
		Name:        v.Name,
		Version:     version,
		SourceRunID: v.RunID,
		Stage:       stage,
		Description: v.Description,
	}, nil
}

type modelVersionResponse struct {
	ModelVersion modelVersion `json:"model_version"`
}

type modelVersionsResponse struct {
	ModelVersions []modelVersion `json:"model_versions"`
}

func convertVersions(in []modelVersion) ([]models.ModelVersion, error) {
	out := make([]models.ModelVersion, 0, len(in))
	for _, v := range in {
		mv, err := v.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// GetModel looks up a registered model. A missing model is reported with
// ok=false rather than an error.
func (c *Client) GetModel(ctx context.Context, name string) (RegisteredModel, bool, error) {
	var resp struct {
		RegisteredModel RegisteredModel `json:"registered_model"`
	}
	err := c.do(ctx, http.MethodGet, pathGetRegisteredModel, map[string]any{"name": name}, nil, &resp)
	if IsErrorCode(err, ErrCodeResourceDoesNotExist) {
		return RegisteredModel{}, false, nil
	}
	if err != nil {
		return RegisteredModel{}, false, eris.Wrapf(err, "get registered model %s", name)
	}
	return resp.RegisteredModel, true, nil
}

// EnsureModel creates the registered model if it does not exist yet.
func (c *Client) EnsureModel(ctx context.Context, name string) error {
	_, found, err := c.GetModel(ctx, name)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	err = c.do(ctx, http.MethodPost, pathCreateRegisteredModel, nil, map[string]any{"name": name}, nil)
	// Another writer may have created it between the lookup and the create.
	if err != nil && !IsErrorCode(err, ErrCodeResourceAlreadyExists) {
		return eris.Wrapf(err, "create registered model %s", name)
	}
	return nil
}

// ProductionVersion returns the version currently holding Production.
func (c *Client) ProductionVersion(ctx context.Context, name string) (models.ModelVersion, bool, error) {
	return c.LatestVersion(ctx, name, models.StageProduction)
}

// LatestVersion returns the newest version of name in the given stage.
func (c *Client) LatestVersion(ctx context.Context, name string, stage models.Stage) (models.ModelVersion, bool, error) {
	var resp modelVersionsResponse
	body := map[string]any{"name": name, "stages": []string{string(stage)}}
	err := c.do(ctx, http.MethodPost, pathGetLatestVersions, nil, body, &resp)
	if IsErrorCode(err, ErrCodeResourceDoesNotExist) {
		return models.ModelVersion{}, false, nil
	}
	if err != nil {
		return models.ModelVersion{}, false, eris.Wrapf(err, "get latest %s versions of %s", stage, name)
	}

	versions, err := convertVersions(resp.ModelVersions)
	if err != nil {
		return models.ModelVersion{}, false, err
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Stage == stage {
			return versions[i], true, nil
		}
	}
	return models.ModelVersion{}, false, nil
}

// ListVersions returns every version of name ordered by version number.
func (c *Client) ListVersions(ctx context.Context, name string) ([]models.ModelVersion, error) {
	filter, err := versionFilter(name, "")
	if err != nil {
		return nil, err
	}
	return c.searchVersions(ctx, filter)
}

// FindVersionByRun returns the newest non-archived version registered from runID.
func (c *Client) FindVersionByRun(ctx context.Context, name, runID string) (models.ModelVersion, bool, error) {
	filter, err := versionFilter(name, runID)
	if err != nil {
		return models.ModelVersion{}, false, err
	}
	versions, err := c.searchVersions(ctx, filter)
	if err != nil {
		return models.ModelVersion{}, false, err
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].SourceRunID == runID && versions[i].Stage != models.StageArchived {
			return versions[i], true, nil
		}
	}
	return models.ModelVersion{}, false, nil
}

func (c *Client) searchVersions(ctx context.Context, filter string) ([]models.ModelVersion, error) {
	var resp modelVersionsResponse
	err := c.do(ctx, http.MethodGet, pathSearchModelVersions, map[string]any{"filter": filter, "max_results": 1000}, nil, &resp)
	if IsErrorCode(err, ErrCodeResourceDoesNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "search model versions (%s)", filter)
	}
	return convertVersions(resp.ModelVersions)
}

// versionFilter builds a search filter. Quotes are rejected instead of
// escaped since MLflow's filter grammar has no portable escape.
func versionFilter(name, runID string) (string, error) {
	if strings.ContainsAny(name, `'"`) || strings.ContainsAny(runID, `'"`) {
		return "", eris.Errorf("model name and run id must not contain quotes: %q %q", name, runID)
	}
	filter := fmt.Sprintf("name='%s'", name)
	if runID != "" {
		filter += fmt.Sprintf(" and run_id='%s'", runID)
	}
	return filter, nil
}

// RegisterVersion creates a new version of name from the model logged by runID
// and waits until the registry reports it READY.
func (c *Client) RegisterVersion(ctx context.Context, name, runID string) (models.ModelVersion, error) {
	var resp modelVersionResponse
	body := map[string]any{
		"name":   name,
		"source": c.modelSource(runID),
		"run_id": runID,
	}
	if err := c.do(ctx, http.MethodPost, pathCreateModelVersion, nil, body, &resp); err != nil {
		return models.ModelVersion{}, eris.Wrapf(err, "create model version of %s from run %s", name, runID)
	}

	created := resp.ModelVersion
	if created.Name == "" {
		created.Name = name
	}
	ready, err := c.awaitReady(ctx, created)
	if err != nil {
		return models.ModelVersion{}, err
	}
	mv, err := ready.toModel()
	if err != nil {
		return models.ModelVersion{}, err
	}
	if mv.SourceRunID == "" {
		mv.SourceRunID = runID
	}
	return mv, nil
}

// awaitReady polls model-versions/get while the version is pending. An empty
// status is treated as ready; plain MLflow servers register synchronously.
func (c *Client) awaitReady(ctx context.Context, v modelVersion) (modelVersion, error) {
	timeout := defaultRegistrationTimeout
	if c.config != nil && c.config.RegistrationTimeout > 0 {
		timeout = c.config.RegistrationTimeout
	}
	poll := c.registrationPoll
	if poll <= 0 {
		poll = defaultRegistrationPoll
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		switch v.Status {
		case "", statusReady:
			return v, nil
		case statusFailedRegistration:
			return v, eris.Wrapf(ErrRegistrationFailed, "%s/%s: %s", v.Name, v.Version, v.StatusMsg)
		case statusPendingRegistration:
		default:
			return v, eris.Errorf("model version %s/%s has unknown status %s", v.Name, v.Version, v.Status)
		}

		zap.L().Debug("waiting for model version registration",
			zap.String("model", v.Name),
			zap.String("version", v.Version),
		)
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, eris.Wrapf(ctx.Err(), "model version %s/%s still pending", v.Name, v.Version)
		case <-timer.C:
		}

		var resp modelVersionResponse
		query := map[string]any{"name": v.Name, "version": v.Version}
		if err := c.do(ctx, http.MethodGet, pathGetModelVersion, query, nil, &resp); err != nil {
			return v, eris.Wrapf(err, "get model version %s/%s", v.Name, v.Version)
		}
		name, version := v.Name, v.Version
		v = resp.ModelVersion
		if v.Name == "" {
			v.Name, v.Version = name, version
		}
	}
}

func (c *Client) modelSource(runID string) string {
	artifactPath := "model"
	if c.config != nil && c.config.ModelArtifactPath != "" {
		artifactPath = strings.Trim(c.config.ModelArtifactPath, "/")
	}
	return fmt.Sprintf("runs:/%s/%s", runID, artifactPath)
}

func (c *Client) UpdateDescription(ctx context.Context, name string, version int64, description string) error {
	body := map[string]any{
		"name":        name,
		"version":     strconv.FormatInt(version, 10),
		"description": description,
	}
	if err := c.do(ctx, http.MethodPatch, pathUpdateModelVersion, nil, body, nil); err != nil {
		return eris.Wrapf(err, "update description of %s/%d", name, version)
	}
	return nil
}

// TransitionStage moves a version to stage. With archivePrevious the registry
// archives the versions already in that stage in the same request.
func (c *Client) TransitionStage(ctx context.Context, name string, version int64, stage models.Stage, archivePrevious bool) (models.ModelVersion, error) {
	var resp modelVersionResponse
	body := map[string]any{
		"name":                      name,
		"version":                   strconv.FormatInt(version, 10),
		"stage":                     string(stage),
		"archive_existing_versions": archivePrevious,
	}
	if err := c.do(ctx, http.MethodPost, pathTransitionStage, nil, body, &resp); err != nil {
		return models.ModelVersion{}, eris.Wrapf(err, "transition %s/%d to %s", name, version, stage)
	}
	return resp.ModelVersion.toModel()
}
