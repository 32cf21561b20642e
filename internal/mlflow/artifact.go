package mlflow

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/databricks/databricks-sdk-go/service/ml"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	pathCredentialsForWrite = "/api/2.0/mlflow/artifacts/credentials-for-write"
	dbfsTrackingPrefix      = "dbfs:/databricks/mlflow-tracking/"
)

type credentialsForWriteRequest struct {
	RunID string   `json:"run_id"`
	Path  []string `json:"path"`
}

type credentialsForWriteResponse struct {
	CredentialInfos []ArtifactCredentialInfo `json:"credential_infos"`
}

// ArtifactCredentialInfo is a signed upload target handed out by Databricks.
type ArtifactCredentialInfo struct {
	RunID     string       `json:"run_id"`
	Path      string       `json:"path"`
	SignedURI string       `json:"signed_uri"`
	Headers   []HTTPHeader `json:"headers"`
	Type      string       `json:"type"`
}

type HTTPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UploadArtifact uploads filePath below the run's artifact root. An empty
// artifactPath uses the file's base name.
func (c *Client) UploadArtifact(ctx context.Context, runID, filePath, artifactPath string) error {
	artifactURI, err := c.getArtifactURI(ctx, runID)
	if err != nil {
		return err
	}
	if artifactPath == "" {
		artifactPath = filepath.Base(filePath)
	}

	zap.L().Debug("uploading artifact",
		zap.String("run_id", runID),
		zap.String("artifact_uri", artifactURI),
		zap.String("artifact_path", artifactPath),
	)
	return c.uploadToStorage(ctx, artifactURI, filePath, artifactPath)
}

func (c *Client) getArtifactURI(ctx context.Context, runID string) (string, error) {
	var artifactURI string
	if c.client != nil {
		resp, err := c.client.Experiments.GetRun(ctx, ml.GetRunRequest{RunId: runID})
		if err != nil {
			return "", runError(err, runID)
		}
		artifactURI = resp.Run.Info.ArtifactUri
	} else {
		resp, err := c.getRunREST(ctx, runID)
		if err != nil {
			return "", runError(err, runID)
		}
		artifactURI = resp.Run.Info.ArtifactURI
	}

	if artifactURI == "" {
		return "", eris.Errorf("artifact URI not found for run %s", runID)
	}
	return artifactURI, nil
}

func (c *Client) uploadToStorage(ctx context.Context, artifactURI, filePath, artifactPath string) error {
	switch {
	case strings.HasPrefix(artifactURI, "mlflow-artifacts:/"):
		return c.uploadToMLflowArtifacts(ctx, artifactURI, filePath, artifactPath)
	case strings.HasPrefix(artifactURI, "dbfs:/"):
		return c.uploadToDBFS(ctx, artifactURI, filePath, artifactPath)
	case strings.HasPrefix(artifactURI, "s3://"):
		return c.uploadToS3(ctx, artifactURI, filePath, artifactPath)
	case strings.HasPrefix(artifactURI, "file://"), strings.HasPrefix(artifactURI, "/"):
		return uploadToLocalFS(artifactURI, filePath, artifactPath)
	default:
		return eris.Errorf("unsupported artifact URI scheme: %s", artifactURI)
	}
}

// uploadToMLflowArtifacts PUTs the file to the tracking server's proxied
// artifact endpoint.
func (c *Client) uploadToMLflowArtifacts(ctx context.Context, artifactURI, filePath, artifactPath string) error {
	experimentID, runID, err := extractIDsFromArtifactURI(artifactURI)
	if err != nil {
		return err
	}

	file, size, err := openFile(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	endpoint := strings.TrimSuffix(c.config.TrackingURI, "/") +
		"/api/2.0/mlflow-artifacts/artifacts/" + experimentID + "/" + runID + "/artifacts/" + artifactPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, file)
	if err != nil {
		return eris.Wrap(err, "create artifact request")
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	c.addAuthHeaders(req)

	return c.sendUpload(req, "mlflow artifacts service")
}

func uploadToLocalFS(artifactURI, filePath, artifactPath string) error {
	localPath := filepath.Join(strings.TrimPrefix(artifactURI, "file://"), artifactPath)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return eris.Wrapf(err, "create directory for %s", localPath)
	}

	src, err := os.Open(filePath)
	if err != nil {
		return eris.Wrapf(err, "open %s", filePath)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return eris.Wrapf(err, "create %s", localPath)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return eris.Wrapf(err, "copy %s to %s", filePath, localPath)
	}
	return eris.Wrapf(dst.Close(), "close %s", localPath)
}

// extractIDsFromArtifactURI reads mlflow-artifacts:/<experiment>/<run>/artifacts.
func extractIDsFromArtifactURI(artifactURI string) (experimentID, runID string, err error) {
	trimmed := strings.TrimLeft(strings.TrimPrefix(artifactURI, "mlflow-artifacts:"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return "", "", eris.Errorf("invalid mlflow-artifacts URI format: %s", artifactURI)
	}
	return parts[0], parts[1], nil
}

// extractRunIDFromDBFSURI reads dbfs:/databricks/mlflow-tracking/<experiment>/<run>/artifacts.
func extractRunIDFromDBFSURI(artifactURI string) (string, error) {
	if !strings.HasPrefix(artifactURI, dbfsTrackingPrefix) {
		return "", eris.Errorf("invalid DBFS artifact URI format: %s", artifactURI)
	}
	parts := strings.Split(strings.TrimPrefix(artifactURI, dbfsTrackingPrefix), "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", eris.Errorf("run ID not found in DBFS URI: %s", artifactURI)
	}
	return parts[1], nil
}

func (c *Client) addAuthHeaders(req *http.Request) {
	if !c.config.IsDatabricks() {
		return
	}
	if c.client != nil && c.client.Config != nil && c.client.Config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.client.Config.Token)
	} else if c.config.DatabricksToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.DatabricksToken)
	}
}

// uploadToDBFS asks Databricks for a signed URI and PUTs the file there.
func (c *Client) uploadToDBFS(ctx context.Context, artifactURI, filePath, artifactPath string) error {
	if !c.config.IsDatabricks() || c.apiClient == nil {
		return eris.New("DBFS artifact roots require a Databricks tracking URI")
	}
	runID, err := extractRunIDFromDBFSURI(artifactURI)
	if err != nil {
		return err
	}

	var resp credentialsForWriteResponse
	req := credentialsForWriteRequest{RunID: runID, Path: []string{artifactPath}}
	if err := c.do(ctx, http.MethodPost, pathCredentialsForWrite, nil, req, &resp); err != nil {
		return eris.Wrap(err, "get write credentials")
	}
	if len(resp.CredentialInfos) == 0 {
		return eris.Errorf("no credentials returned for path: %s", artifactPath)
	}
	return c.uploadToSignedURI(ctx, resp.CredentialInfos[0], filePath)
}

func (c *Client) uploadToSignedURI(ctx context.Context, credential ArtifactCredentialInfo, filePath string) error {
	file, size, err := openFile(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	req, err := newSignedURIRequest(ctx, credential, file, size)
	if err != nil {
		return err
	}
	return c.sendUpload(req, strings.ToLower(credential.Type))
}

func newSignedURIRequest(ctx context.Context, credential ArtifactCredentialInfo, body io.Reader, contentLength int64) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, credential.SignedURI, body)
	if err != nil {
		return nil, eris.Wrap(err, "create signed upload request")
	}
	// Some providers reject chunked uploads, so the length is always explicit.
	req.ContentLength = contentLength
	req.Header.Set("Content-Length", strconv.FormatInt(contentLength, 10))
	req.Header.Set("Content-Type", "application/octet-stream")
	if credential.Type == "AZURE_SAS_URI" {
		req.Header.Set("x-ms-blob-type", "BlockBlob")
	}
	for _, header := range credential.Headers {
		req.Header.Set(header.Name, header.Value)
	}
	return req, nil
}

func (c *Client) sendUpload(req *http.Request, target string) error {
	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return eris.Wrapf(err, "upload to %s", target)
	}
	defer resp.Body.Close()

	if !c.isSuccessStatusCode(resp.StatusCode) {
		body, _ := io.ReadAll(resp.Body)
		return eris.Errorf("upload to %s failed with status %d: %s", target, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func openFile(filePath string) (*os.File, int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "open %s", filePath)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, eris.Wrapf(err, "stat %s", filePath)
	}
	return file, info.Size(), nil
}

func (c *Client) isSuccessStatusCode(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
