package plane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// perPage is the page size requested on issue listings.
const perPage = 50

// Client is the HTTP implementation of API against a Plane workspace.
type Client struct {
	baseURL   string
	workspace string
	apiKey    string
	http      *http.Client
}

// Verify Client implements API at compile time.
var _ API = (*Client)(nil)

// NewClient creates a Client for the given workspace. baseURL must not end
// with a slash.
func NewClient(baseURL, workspace, apiKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		workspace: workspace,
		apiKey:    apiKey,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// do performs one API request and decodes the response body into out when
// out is non-nil. Non-2xx responses become errors carrying the body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(data, 300))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// truncate limits an error body to n bytes for log hygiene.
func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

func (c *Client) projectPath(projectID, suffix string) string {
	return fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/%s", c.workspace, projectID, suffix)
}

// ListProjects returns all projects in the workspace.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp listResponse[Project]
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/", c.workspace)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	for _, p := range resp.Results {
		if p.ID == "" || p.Identifier == "" {
			return nil, fmt.Errorf("list projects: project missing id or identifier")
		}
	}
	return resp.Results, nil
}

// ListStates returns the workflow states of a project.
func (c *Client) ListStates(ctx context.Context, projectID string) ([]State, error) {
	var resp listResponse[State]
	if err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "states/"), nil, &resp); err != nil {
		return nil, err
	}
	for _, s := range resp.Results {
		if s.ID == "" || s.Group == "" {
			return nil, fmt.Errorf("list states: state missing id or group")
		}
	}
	return resp.Results, nil
}

// ListLabels returns the labels of a project.
func (c *Client) ListLabels(ctx context.Context, projectID string) ([]Label, error) {
	var resp listResponse[Label]
	if err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "labels/"), nil, &resp); err != nil {
		return nil, err
	}
	for _, l := range resp.Results {
		if l.ID == "" {
			return nil, fmt.Errorf("list labels: label missing id")
		}
	}
	return resp.Results, nil
}

// ListIssues returns open issues, optionally filtered by state id.
func (c *Client) ListIssues(ctx context.Context, projectID, stateID string) ([]Issue, error) {
	q := url.Values{}
	q.Set("per_page", fmt.Sprintf("%d", perPage))
	if stateID != "" {
		q.Set("state", stateID)
	}

	var resp listResponse[Issue]
	path := c.projectPath(projectID, "issues/") + "?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	for _, i := range resp.Results {
		if i.ID == "" {
			return nil, fmt.Errorf("list issues: issue missing id")
		}
	}
	return resp.Results, nil
}

// UpdateIssue applies a partial update to an issue.
func (c *Client) UpdateIssue(ctx context.Context, projectID, issueID string, patch IssuePatch) error {
	path := c.projectPath(projectID, "issues/"+issueID+"/")
	return c.do(ctx, http.MethodPatch, path, patch, nil)
}

// ListComments returns the comments on an issue.
func (c *Client) ListComments(ctx context.Context, projectID, issueID string) ([]Comment, error) {
	var resp listResponse[Comment]
	path := c.projectPath(projectID, "issues/"+issueID+"/comments/")
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// CreateComment posts an HTML comment on an issue.
func (c *Client) CreateComment(ctx context.Context, projectID, issueID, commentHTML string) error {
	path := c.projectPath(projectID, "issues/"+issueID+"/comments/")
	body := map[string]string{"comment_html": commentHTML}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// CreateLink attaches a titled URL to an issue.
func (c *Client) CreateLink(ctx context.Context, projectID, issueID, title, linkURL string) error {
	path := c.projectPath(projectID, "issues/"+issueID+"/links/")
	body := map[string]string{"title": title, "url": linkURL}
	return c.do(ctx, http.MethodPost, path, body, nil)
}
