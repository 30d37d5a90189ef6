// Package client talks to a running karavan server over its HTTP API.
//
// It is used by the CLI commands. Requests that only read state are
// retried on transient failures; mutating requests are sent once.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"karavan/internal/reload"
	"karavan/internal/status"
	"karavan/pkg/logging"
)

// DefaultServerURL is where the CLI looks for a server by default.
const DefaultServerURL = "http://localhost:8081"

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps 404 to ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client is a karavan API client.
type Client struct {
	baseURL string
	read    *retryablehttp.Client
	write   *retryablehttp.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	newHTTP := func(retries int) *retryablehttp.Client {
		c := retryablehttp.NewClient()
		c.HTTPClient.Timeout = timeout
		c.RetryMax = retries
		c.RetryWaitMin = 100 * time.Millisecond
		c.RetryWaitMax = time.Second
		c.ErrorHandler = retryablehttp.PassthroughErrorHandler
		c.Logger = logging.ForSubsystem("APIClient")
		return c
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		read:    newHTTP(3),
		write:   newHTTP(0),
	}
}

// Filter narrows ListContainers.
type Filter struct {
	ProjectID string
	Env       string
	Type      string
}

// GetStatus returns the dev-mode record of projectID.
func (c *Client) GetStatus(ctx context.Context, projectID, env string) (status.ContainerStatus, error) {
	q := url.Values{}
	if env != "" {
		q.Set("env", env)
	}
	var rec status.ContainerStatus
	err := c.do(ctx, c.read, http.MethodGet, "/api/devmode/container/"+url.PathEscape(projectID), q, nil, &rec)
	return rec, err
}

// ListContainers returns every cached record matching f.
func (c *Client) ListContainers(ctx context.Context, f Filter) ([]status.ContainerStatus, error) {
	q := url.Values{}
	for k, v := range map[string]string{"projectId": f.ProjectID, "env": f.Env, "type": f.Type} {
		if v != "" {
			q.Set(k, v)
		}
	}
	var recs []status.ContainerStatus
	err := c.do(ctx, c.read, http.MethodGet, "/api/status/containers", q, nil, &recs)
	return recs, err
}

// ListDeployments returns the tracked Kubernetes deployments of env, or of
// every environment when env is empty.
func (c *Client) ListDeployments(ctx context.Context, env string) ([]status.DeploymentStatus, error) {
	var out []status.DeploymentStatus
	err := c.do(ctx, c.read, http.MethodGet, "/api/status/deployments", envQuery(env), nil, &out)
	return out, err
}

// ListServices returns the tracked Kubernetes services of env.
func (c *Client) ListServices(ctx context.Context, env string) ([]status.ServiceStatus, error) {
	var out []status.ServiceStatus
	err := c.do(ctx, c.read, http.MethodGet, "/api/status/services", envQuery(env), nil, &out)
	return out, err
}

func envQuery(env string) url.Values {
	q := url.Values{}
	if env != "" {
		q.Set("env", env)
	}
	return q
}

// Reload enqueues a reload of projectID.
func (c *Client) Reload(ctx context.Context, projectID string) error {
	return c.do(ctx, c.write, http.MethodGet, "/api/devmode/reload/"+url.PathEscape(projectID), nil, nil, nil)
}

// ReloadResult returns the outcome of the last reload of projectID.
func (c *Client) ReloadResult(ctx context.Context, projectID string) (reload.Result, error) {
	var result reload.Result
	err := c.do(ctx, c.read, http.MethodGet, "/api/devmode/reload/"+url.PathEscape(projectID)+"/result", nil, nil, &result)
	return result, err
}

// Delete enqueues deletion of the project's dev-mode container.
func (c *Client) Delete(ctx context.Context, projectID string) error {
	return c.do(ctx, c.write, http.MethodDelete, "/api/devmode/"+url.PathEscape(projectID), nil, nil, nil)
}

// Run enqueues creation of a dev-mode container for projectID.
func (c *Client) Run(ctx context.Context, projectID string) error {
	body := map[string]string{"projectId": projectID}
	return c.do(ctx, c.write, http.MethodPost, "/api/devmode", nil, body, nil)
}

// Logs copies the container log of projectID to fn line by line until ctx
// is done or the server closes the stream.
func (c *Client) Logs(ctx context.Context, projectID string, fn func(line string)) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/devmode/logs/"+url.PathEscape(projectID), nil)
	if err != nil {
		return err
	}
	// streaming responses must not be cut off by the client timeout
	httpClient := *c.write.HTTPClient
	httpClient.Timeout = 0
	resp, err := httpClient.Do(req.Request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, hc *retryablehttp.Client, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var raw interface{}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = data
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, raw)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach karavan at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(data))
	}
	return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
}
