package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/internal/plane"
	"github.com/planepilot/planepilot/pkg/models"
)

// fakeTracker records comments; every other tracker call is unused here.
type fakeTracker struct {
	plane.API
	comments []string
}

func (f *fakeTracker) CreateComment(ctx context.Context, projectID, issueID, commentHTML string) error {
	f.comments = append(f.comments, commentHTML)
	return nil
}

// fakeNotifier records lifecycle notifications.
type fakeNotifier struct {
	started   int
	completed int
	errored   []string
}

func (f *fakeNotifier) Send(ctx context.Context, text string) error { return nil }

func (f *fakeNotifier) AgentStarted(ctx context.Context, task models.Task, phase models.Phase) {
	f.started++
}

func (f *fakeNotifier) AgentCompleted(ctx context.Context, task models.Task, phase models.Phase, costUSD float64) {
	f.completed++
}

func (f *fakeNotifier) AgentErrored(ctx context.Context, task models.Task, phase models.Phase, reason string) {
	f.errored = append(f.errored, reason)
}

func (f *fakeNotifier) BudgetBlocked(ctx context.Context, task models.Task, spendUSD, dailyBudgetUSD float64) {
}

func (f *fakeNotifier) AgentStale(ctx context.Context, task models.Task, hours float64) {}

// fakeProcess replays a scripted event stream.
type fakeProcess struct {
	events   []StreamEvent
	startErr error

	prompt string
	dir    string
	opts   StartOptions
	killed bool
	ch     chan StreamEvent
}

func (f *fakeProcess) Start(prompt, workingDir string, opts StartOptions) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.prompt, f.dir, f.opts = prompt, workingDir, opts
	f.ch = make(chan StreamEvent, len(f.events))
	for _, e := range f.events {
		f.ch <- e
	}
	close(f.ch)
	return nil
}

func (f *fakeProcess) Output() <-chan StreamEvent { return f.ch }

func (f *fakeProcess) Kill() error { f.killed = true; return nil }

func (f *fakeProcess) Stderr() string { return "" }

func newTestRunner(tracker *fakeTracker, notifier *fakeNotifier, proc *fakeProcess) *Runner {
	r := NewRunner(tracker, notifier, logger.Nop(), 200, 5)
	r.newProcess = func(ctx context.Context) Process { return proc }
	return r
}

func testTask() models.Task {
	return models.Task{
		IssueID: "i1", ProjectID: "p1", ProjectIdentifier: "HQ", SequenceID: 42,
		Title: "Add login", DescriptionHTML: "<p>do it</p>",
	}
}

func TestDetectPhase(t *testing.T) {
	planning := DetectPhase([]plane.Comment{{CommentHTML: "<p>hello</p>"}})
	if planning != models.PhasePlanning {
		t.Errorf("phase = %s, want planning", planning)
	}

	impl := DetectPhase([]plane.Comment{
		{CommentHTML: "<p>hello</p>"},
		{CommentHTML: PlanSentinel + "<p>the plan</p>"},
	})
	if impl != models.PhaseImplementation {
		t.Errorf("phase = %s, want implementation", impl)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		subtype string
		errors  []string
		want    models.AgentErrorType
	}{
		{"max_tokens", nil, models.ErrorRateLimited},
		{"budget_exceeded", []string{"over budget"}, models.ErrorBudgetExceeded},
		{"error_max_turns", []string{"too many turns"}, models.ErrorMaxTurns},
		{"something_else", []string{"mystery"}, models.ErrorUnknown},
	}
	for _, tc := range cases {
		got := classify(StreamEvent{Subtype: tc.subtype, Errors: tc.errors})
		if got != tc.want {
			t.Errorf("classify(%s, %v) = %s, want %s", tc.subtype, tc.errors, got, tc.want)
		}
	}
}

func TestRunPlanningSuccessPostsSentinel(t *testing.T) {
	tracker := &fakeTracker{}
	notifier := &fakeNotifier{}
	proc := &fakeProcess{events: []StreamEvent{
		{Type: StreamEventAssistant, Message: "thinking"},
		{Type: StreamEventResult, Subtype: "success", Message: "1. change auth.go", TotalCostUSD: 0.42},
	}}
	r := newTestRunner(tracker, notifier, proc)

	result, err := r.Run(context.Background(), Request{Task: testTask(), Phase: models.PhasePlanning, WorkingDir: "/repo"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success() || result.CostUSD != 0.42 {
		t.Fatalf("result = %+v", result)
	}
	if notifier.started != 1 || notifier.completed != 1 {
		t.Errorf("notifications: started %d completed %d", notifier.started, notifier.completed)
	}

	if proc.opts.AllowedTools != planningTools {
		t.Errorf("planning tools = %s", proc.opts.AllowedTools)
	}
	if proc.opts.MaxTurns != planningMaxTurns {
		t.Errorf("planning max turns = %d", proc.opts.MaxTurns)
	}

	var sentinelSeen bool
	for _, c := range tracker.comments {
		if strings.Contains(c, PlanSentinel) {
			sentinelSeen = true
		}
	}
	if !sentinelSeen {
		t.Error("planning completion comment must carry the plan sentinel")
	}
}

func TestRunImplementationUsesPlanAndFullTools(t *testing.T) {
	tracker := &fakeTracker{}
	proc := &fakeProcess{events: []StreamEvent{
		{Type: StreamEventResult, Subtype: "success", TotalCostUSD: 1.2},
	}}
	r := newTestRunner(tracker, &fakeNotifier{}, proc)

	_, err := r.Run(context.Background(), Request{
		Task:       testTask(),
		Phase:      models.PhaseImplementation,
		WorkingDir: "/repo/.worktrees/agent-HQ-42",
		BranchName: "agent/HQ-42",
		Comments:   []plane.Comment{{CommentHTML: PlanSentinel + "<p>change auth.go then test</p>"}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if proc.opts.AllowedTools != implementationTools {
		t.Errorf("implementation tools = %s", proc.opts.AllowedTools)
	}
	if proc.opts.MaxTurns != 200 {
		t.Errorf("implementation max turns = %d", proc.opts.MaxTurns)
	}
	if !strings.Contains(proc.prompt, "change auth.go then test") {
		t.Error("prompt should embed the approved plan text")
	}
	if !strings.Contains(proc.prompt, "agent/HQ-42") {
		t.Error("prompt should name the branch")
	}
}

func TestRunClassifiedFailureReturnsResultNotError(t *testing.T) {
	notifier := &fakeNotifier{}
	proc := &fakeProcess{events: []StreamEvent{
		{Type: StreamEventResult, Subtype: "error_max_turns", Errors: []string{"turn limit"}, TotalCostUSD: 3.1},
	}}
	r := newTestRunner(&fakeTracker{}, notifier, proc)

	result, err := r.Run(context.Background(), Request{Task: testTask(), Phase: models.PhasePlanning})
	if err != nil {
		t.Fatalf("classified failure should not be an error: %v", err)
	}
	if result.ErrorType != models.ErrorMaxTurns || result.CostUSD != 3.1 {
		t.Fatalf("result = %+v", result)
	}
	if len(notifier.errored) != 1 {
		t.Errorf("errored notifications = %v", notifier.errored)
	}
}

func TestRunCrashWhenStreamEndsWithoutResult(t *testing.T) {
	notifier := &fakeNotifier{}
	proc := &fakeProcess{events: []StreamEvent{
		{Type: StreamEventAssistant, Message: "working"},
	}}
	r := newTestRunner(&fakeTracker{}, notifier, proc)

	result, err := r.Run(context.Background(), Request{Task: testTask(), Phase: models.PhasePlanning})
	if err == nil {
		t.Fatal("missing result must surface as a crash error")
	}
	if result != nil {
		t.Fatalf("crash should not return a result, got %+v", result)
	}
	if len(notifier.errored) != 1 {
		t.Errorf("errored notifications = %v", notifier.errored)
	}
}

func TestRunStartFailureIsCrash(t *testing.T) {
	proc := &fakeProcess{startErr: fmt.Errorf("claude not found")}
	r := newTestRunner(&fakeTracker{}, &fakeNotifier{}, proc)

	_, err := r.Run(context.Background(), Request{Task: testTask(), Phase: models.PhasePlanning})
	if err == nil || !strings.Contains(err.Error(), "claude not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseStreamEventResultFields(t *testing.T) {
	line := `{"type":"result","subtype":"success","result":"done","total_cost_usd":1.5,"errors":[]}`
	event, err := parseStreamEvent([]byte(line))
	if err != nil {
		t.Fatalf("parseStreamEvent: %v", err)
	}
	if event.Type != StreamEventResult || event.Subtype != "success" {
		t.Fatalf("event = %+v", event)
	}
	if event.TotalCostUSD != 1.5 || event.Message != "done" {
		t.Fatalf("event = %+v", event)
	}
}
