package mlflow

import (
	"net/http"
	"time"

	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/httpclient"
	"github.com/rotisserie/eris"

	"github.com/imishinist/aqi-mlops/internal/config"
)

// Client talks to an MLflow tracking server and model registry, either a
// plain MLflow server or a Databricks workspace.
type Client struct {
	client     *databricks.WorkspaceClient
	apiClient  *httpclient.ApiClient
	httpClient *http.Client
	config     *config.Config
	s3         s3Uploader

	registrationPoll time.Duration
}

func NewClient(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid config")
	}

	var databricksConfig *databricks.Config

	if cfg.IsDatabricks() {
		// Databricks MLflow configuration
		databricksConfig = &databricks.Config{}

		// Handle different Databricks URI formats
		if cfg.TrackingURI == "databricks" {
			if cfg.DatabricksHost != "" {
				databricksConfig.Host = cfg.DatabricksHost
			}
		} else if profile := cfg.GetDatabricksProfile(); profile != "" {
			databricksConfig.Profile = profile
		} else {
			databricksConfig.Host = cfg.TrackingURI
		}

		// Token overrides profile
		if cfg.DatabricksToken != "" {
			databricksConfig.Token = cfg.DatabricksToken
		}

		if databricksConfig.Host == "" && databricksConfig.Profile == "" {
			return nil, eris.New("databricks host or profile is required: set DATABRICKS_HOST, use a workspace URL as tracking URI, or databricks://<profile>")
		}
	} else {
		// Regular MLflow server: a dummy token bypasses SDK authentication
		databricksConfig = &databricks.Config{
			Host:  cfg.TrackingURI,
			Token: "dummy-token-for-regular-mlflow",
		}
	}

	client, err := databricks.NewWorkspaceClient(databricksConfig)
	if err != nil {
		return nil, eris.Wrap(err, "create workspace client")
	}

	apiClient, err := client.Config.NewApiClient()
	if err != nil {
		return nil, eris.Wrap(err, "create api client")
	}

	return &Client{
		client:     client,
		apiClient:  apiClient,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		config:     cfg,
	}, nil
}

func (c *Client) getHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}
