package models

import "time"

// SpendDateLayout is the UTC date format used for daily budget rollover.
const SpendDateLayout = "2006-01-02"

// RunnerState is the persisted snapshot of the orchestrator: everything
// needed to recover queued and in-flight work after a crash.
type RunnerState struct {
	// ActiveAgents maps issue id to the agent record that was driving it.
	ActiveAgents map[string]*ActiveAgent `json:"activeAgents"`
	// DailySpendUSD is the accumulated agent cost for DailySpendDate.
	DailySpendUSD float64 `json:"dailySpendUsd"`
	// DailySpendDate is the UTC date the spend counter applies to.
	DailySpendDate string `json:"dailySpendDate"`
	// QueuedTasks is the ready-queue snapshot in insertion order.
	QueuedTasks []QueueEntry `json:"queuedTasks"`
}

// NewRunnerState returns an empty state for the given time's UTC date.
func NewRunnerState(now time.Time) *RunnerState {
	return &RunnerState{
		ActiveAgents:   make(map[string]*ActiveAgent),
		DailySpendDate: now.UTC().Format(SpendDateLayout),
		QueuedTasks:    nil,
	}
}
