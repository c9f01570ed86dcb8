// Package models defines the core data structures shared across PlanePilot.
package models

import (
	"fmt"
	"time"
)

// Phase identifies which half of the task lifecycle an agent is executing.
type Phase string

const (
	// PhasePlanning is the read-only exploration phase that produces a plan
	// comment on the issue.
	PhasePlanning Phase = "planning"
	// PhaseImplementation is the code-writing phase executed in a dedicated
	// worktree, culminating in a pushed branch.
	PhaseImplementation Phase = "implementation"
)

// Task is the orchestrator's scheduling unit, materialized from a Plane issue.
// A Task is immutable once constructed.
type Task struct {
	// IssueID is the opaque issue identifier from Plane.
	IssueID string `json:"issueId"`
	// ProjectID is the opaque project identifier from Plane.
	ProjectID string `json:"projectId"`
	// ProjectIdentifier is the human-readable per-project prefix (e.g. "HQ").
	ProjectIdentifier string `json:"projectIdentifier"`
	// SequenceID is the per-project issue number assigned by Plane.
	SequenceID int `json:"sequenceId"`
	// Title is the issue title.
	Title string `json:"title"`
	// DescriptionHTML is the issue description as rendered HTML.
	DescriptionHTML string `json:"descriptionHtml"`
	// StateID is the issue's state at discovery time (the todo state).
	StateID string `json:"stateId"`
	// LabelIDs are the label ids attached to the issue.
	LabelIDs []string `json:"labelIds"`
}

// Slug returns the display form of the task, e.g. "HQ-42".
func (t Task) Slug() string {
	return fmt.Sprintf("%s-%d", t.ProjectIdentifier, t.SequenceID)
}

// QueueEntry is a task waiting in the ready queue, together with its retry
// bookkeeping. Timestamps are epoch milliseconds to match the persisted
// state file.
type QueueEntry struct {
	// Task is the queued task.
	Task Task `json:"task"`
	// RetryCount is how many times the task has been requeued after failure.
	// Zero on initial enqueue.
	RetryCount int `json:"retryCount"`
	// NextAttemptAt is the earliest time the entry may be dequeued.
	NextAttemptAt int64 `json:"nextAttemptAt"`
	// EnqueuedAt is when the entry was first inserted.
	EnqueuedAt int64 `json:"enqueuedAt"`
}

// Ready reports whether the entry is eligible for dequeue at the given time.
func (e QueueEntry) Ready(now time.Time) bool {
	return e.NextAttemptAt <= now.UnixMilli()
}
