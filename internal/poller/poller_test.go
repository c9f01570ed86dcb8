package poller

import (
	"context"
	"fmt"
	"testing"

	"github.com/planepilot/planepilot/internal/config"
	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/internal/plane"
	"github.com/planepilot/planepilot/pkg/models"
)

// fakeAPI is an in-memory tracker for cache and poller tests.
type fakeAPI struct {
	projects []plane.Project
	states   map[string][]plane.State
	labels   map[string][]plane.Label
	issues   map[string][]plane.Issue

	patches    []string // "projectID/issueID/state"
	failPatch  bool
	listErrFor string
}

func (f *fakeAPI) ListProjects(ctx context.Context) ([]plane.Project, error) {
	return f.projects, nil
}

func (f *fakeAPI) ListStates(ctx context.Context, projectID string) ([]plane.State, error) {
	return f.states[projectID], nil
}

func (f *fakeAPI) ListLabels(ctx context.Context, projectID string) ([]plane.Label, error) {
	return f.labels[projectID], nil
}

func (f *fakeAPI) ListIssues(ctx context.Context, projectID, stateID string) ([]plane.Issue, error) {
	if projectID == f.listErrFor {
		return nil, fmt.Errorf("boom")
	}
	return f.issues[projectID], nil
}

func (f *fakeAPI) UpdateIssue(ctx context.Context, projectID, issueID string, patch plane.IssuePatch) error {
	if f.failPatch {
		return fmt.Errorf("patch refused")
	}
	state := ""
	if patch.State != nil {
		state = *patch.State
	}
	f.patches = append(f.patches, fmt.Sprintf("%s/%s/%s", projectID, issueID, state))
	return nil
}

func (f *fakeAPI) ListComments(ctx context.Context, projectID, issueID string) ([]plane.Comment, error) {
	return nil, nil
}

func (f *fakeAPI) CreateComment(ctx context.Context, projectID, issueID, commentHTML string) error {
	return nil
}

func (f *fakeAPI) CreateLink(ctx context.Context, projectID, issueID, title, url string) error {
	return nil
}

var _ plane.API = (*fakeAPI)(nil)

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		projects: []plane.Project{{ID: "p1", Name: "HQ App", Identifier: "HQ"}},
		states: map[string][]plane.State{
			"p1": {
				{ID: "s-backlog", Name: "Backlog", Group: "backlog"},
				{ID: "s-todo", Name: "Todo", Group: "unstarted"},
				{ID: "s-progress", Name: "In Progress", Group: "started"},
				{ID: "s-plan", Name: "Plan Review", Group: "started"},
				{ID: "s-review", Name: "In Review", Group: "started"},
				{ID: "s-done", Name: "Done", Group: "completed"},
			},
		},
		labels: map[string][]plane.Label{
			"p1": {{ID: "l-agent", Name: "Agent"}, {ID: "l-bug", Name: "bug"}},
		},
		issues: map[string][]plane.Issue{},
	}
}

func testProjects() map[string]config.ProjectConfig {
	return map[string]config.ProjectConfig{
		"HQ": {RepoPath: "/tmp/hq", DefaultBranch: "main"},
	}
}

func initCache(t *testing.T, api *fakeAPI) *Cache {
	t.Helper()
	cache := NewCache(api, logger.Nop())
	if err := cache.Init(context.Background(), testProjects(), "agent"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return cache
}

func TestCacheResolvesStatesAndLabel(t *testing.T) {
	cache := initCache(t, newFakeAPI())

	entry, ok := cache.Get("hq")
	if !ok {
		t.Fatal("Get(hq) should match case-insensitively")
	}
	if entry.AgentLabelID != "l-agent" {
		t.Errorf("label = %s, want l-agent", entry.AgentLabelID)
	}
	want := map[string]string{
		"todo":        "s-todo",
		"in_progress": "s-progress",
		"plan_review": "s-plan",
		"in_review":   "s-review",
		"done":        "s-done",
	}
	got := map[string]string{
		"todo":        entry.TodoStateID,
		"in_progress": entry.InProgressStateID,
		"plan_review": entry.PlanReviewStateID,
		"in_review":   entry.InReviewStateID,
		"done":        entry.DoneStateID,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s state = %s, want %s", k, got[k], v)
		}
	}
}

func TestCacheSkipsProjectWithoutLabel(t *testing.T) {
	api := newFakeAPI()
	api.labels["p1"] = []plane.Label{{ID: "l-bug", Name: "bug"}}

	cache := NewCache(api, logger.Nop())
	err := cache.Init(context.Background(), testProjects(), "agent")
	if err == nil {
		t.Fatal("Init should fail when no project resolves")
	}
}

func TestPollReVerifiesStateAndLabel(t *testing.T) {
	api := newFakeAPI()
	api.issues["p1"] = []plane.Issue{
		{ID: "i1", Name: "good", SequenceID: 1, State: "s-todo", Labels: []string{"l-agent"}},
		{ID: "i2", Name: "wrong state", SequenceID: 2, State: "s-progress", Labels: []string{"l-agent"}},
		{ID: "i3", Name: "no label", SequenceID: 3, State: "s-todo", Labels: []string{"l-bug"}},
	}
	p := New(api, initCache(t, api), logger.Nop())

	tasks := p.PollForTasks(context.Background(), 10)
	if len(tasks) != 1 || tasks[0].IssueID != "i1" {
		t.Fatalf("tasks = %+v, want only i1", tasks)
	}
	if tasks[0].Slug() != "HQ-1" {
		t.Errorf("slug = %s, want HQ-1", tasks[0].Slug())
	}
}

func TestPollHonorsCapAndClaimedSet(t *testing.T) {
	api := newFakeAPI()
	for i := 1; i <= 5; i++ {
		api.issues["p1"] = append(api.issues["p1"], plane.Issue{
			ID: fmt.Sprintf("i%d", i), Name: "t", SequenceID: i,
			State: "s-todo", Labels: []string{"l-agent"},
		})
	}
	p := New(api, initCache(t, api), logger.Nop())
	p.MarkClaimed("i1")

	tasks := p.PollForTasks(context.Background(), 2)
	if len(tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(tasks))
	}
	for _, task := range tasks {
		if task.IssueID == "i1" {
			t.Fatal("claimed issue was re-picked")
		}
	}
}

func TestClaimTaskPatchesInProgress(t *testing.T) {
	api := newFakeAPI()
	p := New(api, initCache(t, api), logger.Nop())

	task := models.Task{IssueID: "i1", ProjectID: "p1", ProjectIdentifier: "HQ", SequenceID: 1}
	if !p.ClaimTask(context.Background(), task) {
		t.Fatal("ClaimTask should succeed")
	}
	if len(api.patches) != 1 || api.patches[0] != "p1/i1/s-progress" {
		t.Fatalf("patches = %v", api.patches)
	}

	// Claimed issues are skipped on the next poll.
	api.issues["p1"] = []plane.Issue{{ID: "i1", Name: "t", SequenceID: 1, State: "s-todo", Labels: []string{"l-agent"}}}
	if tasks := p.PollForTasks(context.Background(), 10); len(tasks) != 0 {
		t.Fatalf("claimed issue re-picked: %+v", tasks)
	}

	// Release makes it visible again.
	p.ReleaseTask("i1")
	if tasks := p.PollForTasks(context.Background(), 10); len(tasks) != 1 {
		t.Fatalf("released issue not re-picked")
	}
}

func TestClaimTaskFailureLeavesNoLease(t *testing.T) {
	api := newFakeAPI()
	api.failPatch = true
	p := New(api, initCache(t, api), logger.Nop())

	task := models.Task{IssueID: "i1", ProjectID: "p1", ProjectIdentifier: "HQ", SequenceID: 1}
	if p.ClaimTask(context.Background(), task) {
		t.Fatal("ClaimTask should fail when the patch fails")
	}
	if p.isClaimed("i1") {
		t.Fatal("failed claim must not record a lease")
	}
}
