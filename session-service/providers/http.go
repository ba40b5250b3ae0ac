package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/hackrange/hackrange/backend/services/utils"
)

// NewRetryableClient returns the HTTP client the REST adapters (Proxmox,
// datacenter, cluster) use to talk to their provider endpoints. Transient
// failures and 5xx responses are retried with backoff before the adapter
// reports ErrTransportFailed.
func NewRetryableClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	return retryClient.StandardClient()
}

// DoJSON performs a JSON request against a provider endpoint and decodes the
// response body into out (which may be nil when the caller only cares about
// the status code). It returns the response status code so adapters can map
// provider-specific codes onto the shared sentinels.
func DoJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body interface{}, out interface{}) (int, error) {
	var bodyReader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, utils.MakeError("failed to marshal request body for %s: %s", url, err)
		}

		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return 0, utils.MakeError("failed to create request for %s: %s", url, err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, utils.MakeError("request to %s failed: %w", url, ErrTransportFailed)
	}
	defer resp.Body.Close()

	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, utils.MakeError("failed to read response from %s: %w", url, ErrTransportFailed)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return resp.StatusCode, utils.MakeError("%s returned %d: %w", url, resp.StatusCode, ErrTransportFailed)
	}

	if out != nil && len(contents) != 0 && resp.StatusCode < http.StatusBadRequest {
		if err := json.Unmarshal(contents, out); err != nil {
			return resp.StatusCode, utils.MakeError("failed to parse response from %s: %s", url, err)
		}
	}

	return resp.StatusCode, nil
}
