// Package notify delivers human-facing alerts about agent lifecycle events.
// Delivery is best-effort; a failed notification never fails the run.
package notify

import (
	"context"
	"fmt"

	"github.com/planepilot/planepilot/pkg/models"
)

// Notifier is the outbound alert channel used by the runner and manager.
type Notifier interface {
	// Send delivers a free-form message.
	Send(ctx context.Context, text string) error
	// AgentStarted announces a new agent run.
	AgentStarted(ctx context.Context, task models.Task, phase models.Phase)
	// AgentCompleted announces a successful run and its cost.
	AgentCompleted(ctx context.Context, task models.Task, phase models.Phase, costUSD float64)
	// AgentErrored announces a failed run with a reason.
	AgentErrored(ctx context.Context, task models.Task, phase models.Phase, reason string)
	// BudgetBlocked announces a spawn rejected by the daily budget.
	BudgetBlocked(ctx context.Context, task models.Task, spendUSD, dailyBudgetUSD float64)
	// AgentStale announces an agent that has been running suspiciously long.
	AgentStale(ctx context.Context, task models.Task, hours float64)
}

// Noop discards all notifications. Used when no channel is configured.
type Noop struct{}

// Verify Noop implements Notifier at compile time.
var _ Notifier = (*Noop)(nil)

func (Noop) Send(context.Context, string) error { return nil }

func (Noop) AgentStarted(context.Context, models.Task, models.Phase) {}

func (Noop) AgentCompleted(context.Context, models.Task, models.Phase, float64) {}

func (Noop) AgentErrored(context.Context, models.Task, models.Phase, string) {}

func (Noop) BudgetBlocked(context.Context, models.Task, float64, float64) {}

func (Noop) AgentStale(context.Context, models.Task, float64) {}

// phaseLabel renders a phase for human-facing messages.
func phaseLabel(phase models.Phase) string {
	if phase == models.PhaseImplementation {
		return "implementation"
	}
	return "planning"
}

func startedText(task models.Task, phase models.Phase) string {
	return fmt.Sprintf("🤖 %s: %s phase started\n%s", task.Slug(), phaseLabel(phase), task.Title)
}

func completedText(task models.Task, phase models.Phase, costUSD float64) string {
	return fmt.Sprintf("✅ %s: %s phase completed ($%.2f)\n%s", task.Slug(), phaseLabel(phase), costUSD, task.Title)
}

func erroredText(task models.Task, phase models.Phase, reason string) string {
	return fmt.Sprintf("❌ %s: %s phase failed\n%s\n%s", task.Slug(), phaseLabel(phase), task.Title, reason)
}

func budgetText(task models.Task, spendUSD, dailyBudgetUSD float64) string {
	return fmt.Sprintf("⛔ Budget limit reached: cannot start %s ($%.2f of $%.2f spent today)", task.Slug(), spendUSD, dailyBudgetUSD)
}

func staleText(task models.Task, hours float64) string {
	return fmt.Sprintf("⏰ %s has been running for %.1f hours", task.Slug(), hours)
}
