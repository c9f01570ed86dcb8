package models

import "time"

// AgentStatus represents the lifecycle state of an active agent.
type AgentStatus string

const (
	// AgentRunning indicates the agent subprocess is executing.
	AgentRunning AgentStatus = "running"
	// AgentBlocked indicates the agent is waiting on human input.
	AgentBlocked AgentStatus = "blocked"
	// AgentCompleted indicates the agent finished successfully.
	AgentCompleted AgentStatus = "completed"
	// AgentErrored indicates the agent finished with a terminal failure.
	AgentErrored AgentStatus = "errored"
)

// AgentErrorType classifies a non-success agent outcome. It is a closed set;
// parsing of result subtypes happens in one place (the runner).
type AgentErrorType string

const (
	// ErrorRateLimited indicates the provider throttled the agent.
	ErrorRateLimited AgentErrorType = "rate_limited"
	// ErrorBudgetExceeded indicates the agent hit its per-task cost cap.
	ErrorBudgetExceeded AgentErrorType = "budget_exceeded"
	// ErrorMaxTurns indicates the agent hit its turn limit.
	ErrorMaxTurns AgentErrorType = "max_turns"
	// ErrorUnknown covers outcomes that fit no other classification.
	ErrorUnknown AgentErrorType = "unknown"
)

// Retryable reports whether an outcome of this type should be retried with
// backoff. Budget and turn exhaustion are deterministic and retrying would
// reproduce them, so they are terminal.
func (t AgentErrorType) Retryable() bool {
	return t == ErrorRateLimited || t == ErrorUnknown
}

// AgentResult is the classified outcome of one agent run.
type AgentResult struct {
	// CostUSD is the total cost reported by the agent, zero if unreported.
	CostUSD float64
	// ErrorType is empty on success.
	ErrorType AgentErrorType
}

// Success reports whether the run completed without error.
func (r AgentResult) Success() bool {
	return r.ErrorType == ""
}

// ActiveAgent is the manager's record of a task currently being driven by an
// agent subprocess. The agent manager exclusively owns the record for the
// task's issue id.
type ActiveAgent struct {
	// Task is the task being executed.
	Task Task `json:"task"`
	// Phase is the lifecycle phase the agent is executing.
	Phase Phase `json:"phase"`
	// WorktreePath is the isolated checkout path, empty in the planning phase.
	WorktreePath string `json:"worktreePath"`
	// BranchName is the agent branch, empty in the planning phase.
	BranchName string `json:"branchName"`
	// StartedAt is when the agent was spawned, epoch milliseconds.
	StartedAt int64 `json:"startedAt"`
	// Status is the agent's lifecycle state.
	Status AgentStatus `json:"status"`
	// CostUSD is the reported cost once the run finishes.
	CostUSD float64 `json:"costUsd,omitempty"`
	// AlertedStale records that a stale alert has been emitted for this agent.
	AlertedStale bool `json:"alertedStale,omitempty"`
	// RetryCount is the retry attempt this run represents.
	RetryCount int `json:"retryCount"`
}

// Age returns how long the agent has been running.
func (a ActiveAgent) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(a.StartedAt))
}
