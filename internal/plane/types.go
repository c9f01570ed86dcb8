// Package plane provides a typed client for the Plane project tracker API.
package plane

// Project is a Plane project within the configured workspace.
type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// State is a workflow state within a project. Group is one of backlog,
// unstarted, started, completed, cancelled.
type State struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Group string `json:"group"`
}

// State group names used when resolving project state ids.
const (
	GroupUnstarted = "unstarted"
	GroupStarted   = "started"
	GroupCompleted = "completed"
)

// Label is an issue label within a project.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Issue is a work item within a project.
type Issue struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	SequenceID      int      `json:"sequence_id"`
	State           string   `json:"state"`
	Labels          []string `json:"labels"`
	DescriptionHTML string   `json:"description_html"`
}

// HasLabel reports whether the issue carries the given label id.
func (i Issue) HasLabel(labelID string) bool {
	for _, id := range i.Labels {
		if id == labelID {
			return true
		}
	}
	return false
}

// Comment is a comment on an issue.
type Comment struct {
	ID          string `json:"id"`
	CommentHTML string `json:"comment_html"`
}

// IssuePatch is a partial issue update. Nil fields are omitted.
type IssuePatch struct {
	State  *string   `json:"state,omitempty"`
	Labels *[]string `json:"labels,omitempty"`
}

// listResponse is the paginated envelope Plane wraps list results in.
type listResponse[T any] struct {
	Results []T `json:"results"`
}
