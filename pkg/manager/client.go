// Package manager provides a thin client for the remote management API that
// the upgrade workflow drives.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tcmartin/upgraderunner/pkg/utils"
)

// authHeader carries the API token on every request.
const authHeader = "Manager-Auth"

// ValidationError indicates a response the client could not interpret.
type ValidationError struct {
	Endpoint string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid response from %s: %s", e.Endpoint, e.Reason)
}

// Client talks to the remote manager API.
type Client struct {
	httpClient *utils.HTTPClient
	baseURL    string
	token      string
}

// NewClient creates a new manager API client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: utils.NewHTTPClient(),
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// SetTimeout sets the default timeout for manager requests.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.SetTimeout(timeout)
}

// SubmitTask submits a task descriptor to the manager's single task slot.
func (c *Client) SubmitTask(ctx context.Context, task TaskDescriptor) error {
	resp, err := c.do(ctx, http.MethodPut, "/api/task", task)
	if err != nil {
		return err
	}
	return c.expectSuccess("/api/task", resp)
}

// GetTaskStatus retrieves the status of the outstanding task. A "no content"
// response means no task state exists and returns (nil, nil).
func (c *Client) GetTaskStatus(ctx context.Context) (*TaskStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/task", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent || len(resp.RawBody) == 0 {
		return nil, nil
	}
	if err := c.expectSuccess("/api/task", resp); err != nil {
		return nil, err
	}

	var status TaskStatus
	if err := json.Unmarshal(resp.RawBody, &status); err != nil {
		return nil, &ValidationError{Endpoint: "/api/task", Reason: err.Error()}
	}
	if status.Status == "" {
		return nil, &ValidationError{Endpoint: "/api/task", Reason: "missing status field"}
	}
	return &status, nil
}

// DeleteTask removes the completed task state, freeing the task slot.
func (c *Client) DeleteTask(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/task", nil)
	if err != nil {
		return err
	}
	return c.expectSuccess("/api/task", resp)
}

// PatchTaskStatus updates the status of the outstanding task, typically to
// "aborting" for a best-effort remote abort.
func (c *Client) PatchTaskStatus(ctx context.Context, status string) error {
	resp, err := c.do(ctx, http.MethodPatch, "/api/task", map[string]string{"status": status})
	if err != nil {
		return err
	}
	return c.expectSuccess("/api/task", resp)
}

// SubmitMigration submits a migration descriptor. An empty hash requests a
// dry-run check; a confirmed hash executes the pending migrations.
func (c *Client) SubmitMigration(ctx context.Context, migration MigrationDescriptor) error {
	resp, err := c.do(ctx, http.MethodPut, "/api/database/migration", migration)
	if err != nil {
		return err
	}
	return c.expectSuccess("/api/database/migration", resp)
}

// GetMigrationStatus retrieves the status of the outstanding migration task.
// A "no content" response returns (nil, nil).
func (c *Client) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/database/migration", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent || len(resp.RawBody) == 0 {
		return nil, nil
	}
	if err := c.expectSuccess("/api/database/migration", resp); err != nil {
		return nil, err
	}

	var status MigrationStatus
	if err := json.Unmarshal(resp.RawBody, &status); err != nil {
		return nil, &ValidationError{Endpoint: "/api/database/migration", Reason: err.Error()}
	}
	if status.Status == "" {
		return nil, &ValidationError{Endpoint: "/api/database/migration", Reason: "missing status field"}
	}
	return &status, nil
}

// DeleteMigrationTask removes the completed migration task state.
func (c *Client) DeleteMigrationTask(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/database/migration", nil)
	if err != nil {
		return err
	}
	return c.expectSuccess("/api/database/migration", resp)
}

// GetSelfUpdateStatus retrieves the current and latest manager versions.
func (c *Client) GetSelfUpdateStatus(ctx context.Context) (*SelfUpdateStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/server/self-update", nil)
	if err != nil {
		return nil, err
	}
	if err := c.expectSuccess("/api/server/self-update", resp); err != nil {
		return nil, err
	}

	var status SelfUpdateStatus
	if err := json.Unmarshal(resp.RawBody, &status); err != nil {
		return nil, &ValidationError{Endpoint: "/api/server/self-update", Reason: err.Error()}
	}
	if status.CurrentVersion == "" {
		return nil, &ValidationError{Endpoint: "/api/server/self-update", Reason: "missing current_version field"}
	}
	return &status, nil
}

// UpdateVersionInfo asks the manager to refresh its version information.
func (c *Client) UpdateVersionInfo(ctx context.Context) (*VersionInfo, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/server/composer", nil)
	if err != nil {
		return nil, err
	}
	if err := c.expectSuccess("/api/server/composer", resp); err != nil {
		return nil, err
	}

	var info VersionInfo
	if len(resp.RawBody) > 0 {
		if err := json.Unmarshal(resp.RawBody, &info); err != nil {
			return nil, &ValidationError{Endpoint: "/api/server/composer", Reason: err.Error()}
		}
	} else {
		info.Success = true
	}
	return &info, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*utils.HTTPResponse, error) {
	req := &utils.HTTPRequest{
		URL:    c.baseURL + path,
		Method: method,
		Body:   body,
		Headers: map[string]string{
			authHeader: c.token,
		},
	}

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("manager request %s %s failed: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) expectSuccess(endpoint string, resp *utils.HTTPResponse) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("manager returned HTTP %d for %s", resp.StatusCode, endpoint)
}
