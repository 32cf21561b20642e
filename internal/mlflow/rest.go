package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/databricks/databricks-sdk-go/apierr"
	"github.com/databricks/databricks-sdk-go/httpclient"
	"github.com/rotisserie/eris"
)

// MLflow REST error codes the client reacts to.
const (
	ErrCodeResourceDoesNotExist  = "RESOURCE_DOES_NOT_EXIST"
	ErrCodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	ErrCodeInvalidParameterValue = "INVALID_PARAMETER_VALUE"
)

// APIError is an error response from an MLflow server reached over plain HTTP.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.ErrorCode == "" {
		return fmt.Sprintf("mlflow request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (status %d): %s", e.ErrorCode, e.StatusCode, e.Message)
}

// IsErrorCode reports whether err is an MLflow error response with the given
// error_code, whichever transport produced it.
func IsErrorCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == code
	}
	var sdkErr *apierr.APIError
	if errors.As(err, &sdkErr) {
		return sdkErr.ErrorCode == code
	}
	return false
}

// do sends an MLflow REST request. GET requests carry their parameters in the
// query string, everything else as a JSON body. The SDK API client is used
// when available so Databricks authentication applies.
func (c *Client) do(ctx context.Context, method, path string, query map[string]any, body any, response any) error {
	if c.apiClient != nil {
		var opts []httpclient.DoOption
		if query != nil {
			opts = append(opts, httpclient.WithRequestData(query))
		} else if body != nil {
			opts = append(opts, httpclient.WithRequestData(body))
		}
		if response != nil {
			opts = append(opts, httpclient.WithResponseUnmarshal(response))
		}
		return c.apiClient.Do(ctx, method, path, opts...)
	}
	return c.doHTTP(ctx, method, path, query, body, response)
}

func (c *Client) doHTTP(ctx context.Context, method, path string, query map[string]any, body any, response any) error {
	endpoint := strings.TrimSuffix(c.config.TrackingURI, "/") + path
	if len(query) > 0 {
		values := url.Values{}
		for k, v := range query {
			values.Set(k, fmt.Sprint(v))
		}
		endpoint += "?" + values.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addAuthHeaders(req)

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return eris.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if !c.isSuccessStatusCode(resp.StatusCode) {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(bodyBytes, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(bodyBytes))
		}
		return apiErr
	}

	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil && !errors.Is(err, io.EOF) {
		return eris.Wrapf(err, "decode %s response", path)
	}
	return nil
}
