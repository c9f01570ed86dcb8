package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/planepilot/planepilot/internal/config"
	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/internal/plane"
	"github.com/planepilot/planepilot/pkg/models"
)

func newOrchestrator(f *fixture) *Orchestrator {
	cfg := &config.Config{Projects: f.projects, Agent: agentConfig()}
	return New(cfg, f.manager, f.poller, f.queue, f.cache, f.notifier, logger.Nop())
}

func todoIssue(id string, seq int) plane.Issue {
	return plane.Issue{
		ID: id, Name: "Add login", SequenceID: seq,
		State: "s-todo", Labels: []string{"l-agent"},
	}
}

func TestDiscoverClaimsThenEnqueues(t *testing.T) {
	f := newFixture(t)
	o := newOrchestrator(f)
	f.tracker.issues = []plane.Issue{todoIssue("i1", 42)}

	o.discover(context.Background())

	assertPatched(t, f.tracker, "i1/s-progress")
	if !f.queue.Has("i1") {
		t.Fatal("claimed task should be enqueued")
	}
}

func TestDiscoverSkipsActiveAndQueuedTasks(t *testing.T) {
	f := newFixture(t)
	o := newOrchestrator(f)
	ctx := context.Background()

	if got := f.manager.Spawn(ctx, models.QueueEntry{Task: task()}); got != SpawnStarted {
		t.Fatalf("Spawn = %v", got)
	}
	f.queue.Enqueue(models.Task{
		IssueID: "i2", ProjectID: "p1", ProjectIdentifier: "HQ", SequenceID: 2, StateID: "s-todo",
	})
	f.tracker.issues = []plane.Issue{todoIssue("i1", 42), todoIssue("i2", 2)}

	o.discover(ctx)

	for _, p := range f.tracker.patches {
		if p == "i1/s-progress" || p == "i2/s-progress" {
			t.Fatalf("no claim expected for active or queued tasks, patches = %v", f.tracker.patches)
		}
	}
	if f.queue.Has("i1") {
		t.Fatal("active task must not be enqueued")
	}
	if f.queue.Len() != 1 {
		t.Fatalf("queue len = %d, want only the pre-queued entry", f.queue.Len())
	}
}

func TestDiscoverFailedClaimLeavesTaskUnqueued(t *testing.T) {
	f := newFixture(t)
	o := newOrchestrator(f)
	f.tracker.issues = []plane.Issue{todoIssue("i1", 42)}
	f.tracker.patchErr = fmt.Errorf("tracker down")

	o.discover(context.Background())

	if f.queue.Has("i1") {
		t.Fatal("unclaimed task must not be enqueued")
	}
}

func TestProcessDefersBudgetRejectedTask(t *testing.T) {
	f := newFixture(t)
	o := newOrchestrator(f)
	f.manager.state.DailySpendUSD = 16
	f.manager.state.DailySpendDate = f.now.UTC().Format(models.SpendDateLayout)
	f.queue.Enqueue(task())

	o.process(context.Background())

	entries := f.queue.Entries()
	if len(entries) != 1 || entries[0].RetryCount != 0 {
		t.Fatalf("queue = %+v, want the task re-parked at retry 0", entries)
	}
	if got := time.UnixMilli(entries[0].NextAttemptAt).Sub(f.now); got != time.Minute {
		t.Errorf("defer delay = %s, want 1m", got)
	}
	if f.notifier.budgetBlocked != 1 {
		t.Errorf("budget notifications = %d, want 1", f.notifier.budgetBlocked)
	}
}

func TestProcessReleasesTaskForUnknownProject(t *testing.T) {
	f := newFixture(t)
	o := newOrchestrator(f)
	tk := task()
	tk.ProjectIdentifier = "ZZ"
	f.queue.Enqueue(tk)

	o.process(context.Background())

	if f.queue.Len() != 0 {
		t.Fatal("rejected task must leave the queue")
	}
	assertPatched(t, f.tracker, "i1/s-todo")
}

func TestProcessStopsAtCapacity(t *testing.T) {
	f := newFixture(t)
	o := newOrchestrator(f)
	ctx := context.Background()

	for i := 0; i < agentConfig().MaxConcurrent; i++ {
		tk := task()
		tk.IssueID = fmt.Sprintf("a%d", i)
		tk.SequenceID = 100 + i
		if got := f.manager.Spawn(ctx, models.QueueEntry{Task: tk}); got != SpawnStarted {
			t.Fatalf("Spawn %d = %v", i, got)
		}
	}
	waiting := task()
	waiting.IssueID = "i3"
	waiting.SequenceID = 3
	f.queue.Enqueue(waiting)

	o.process(ctx)

	if !f.queue.Has("i3") {
		t.Fatal("no task may spawn above max concurrency")
	}
}

func TestShutdownNamesRunningAgents(t *testing.T) {
	f := newFixture(t)
	o := newOrchestrator(f)

	if got := f.manager.Spawn(context.Background(), models.QueueEntry{Task: task()}); got != SpawnStarted {
		t.Fatalf("Spawn = %v", got)
	}

	o.shutdown()

	if len(f.notifier.sent) == 0 {
		t.Fatal("shutdown should notify")
	}
	msg := f.notifier.sent[len(f.notifier.sent)-1]
	if !strings.Contains(msg, "shutting down") || !strings.Contains(msg, "HQ-42") {
		t.Fatalf("shutdown message = %q, want it to name the running agent", msg)
	}
}
