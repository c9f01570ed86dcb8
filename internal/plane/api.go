package plane

import "context"

// API is the tracker surface the orchestrator depends on. It is an
// interface so the poller, manager, and runner can be tested against fakes.
type API interface {
	// ListProjects returns all projects in the workspace.
	ListProjects(ctx context.Context) ([]Project, error)
	// ListStates returns the workflow states of a project.
	ListStates(ctx context.Context, projectID string) ([]State, error)
	// ListLabels returns the labels of a project.
	ListLabels(ctx context.Context, projectID string) ([]Label, error)
	// ListIssues returns open issues of a project, optionally filtered by
	// state id. The filter is a server-side hint; callers re-verify locally.
	ListIssues(ctx context.Context, projectID, stateID string) ([]Issue, error)
	// UpdateIssue applies a partial update to an issue.
	UpdateIssue(ctx context.Context, projectID, issueID string, patch IssuePatch) error
	// ListComments returns the comments on an issue.
	ListComments(ctx context.Context, projectID, issueID string) ([]Comment, error)
	// CreateComment posts an HTML comment on an issue.
	CreateComment(ctx context.Context, projectID, issueID, commentHTML string) error
	// CreateLink attaches a titled URL to an issue.
	CreateLink(ctx context.Context, projectID, issueID, title, url string) error
}
