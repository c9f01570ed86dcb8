package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/planepilot/planepilot/internal/config"
	"github.com/planepilot/planepilot/internal/history"
	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/internal/orchestrator"
	"github.com/planepilot/planepilot/pkg/models"
)

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator state",
	Long: `Display the persisted orchestrator state.

Shows:
  - Active agents with phase and elapsed time
  - Queued tasks with retry counts and readiness
  - Daily spend against the configured budget
  - Recent run history when the history ledger is enabled`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	statePath := orchestrator.DefaultPath()
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		fmt.Println("No state file found. Run 'planepilot run' to start.")
		return nil
	}

	now := time.Now()
	state := orchestrator.NewStore(statePath, logger.Nop()).Load(now)

	fmt.Println(statusTitleStyle.Render("PlanePilot"))
	fmt.Println(statusBoxStyle.Render(fmt.Sprintf("Daily spend: %s of $%.2f (%s)",
		spendColor(state.DailySpendUSD, cfg.Agent.MaxDailyBudget),
		cfg.Agent.MaxDailyBudget, state.DailySpendDate)))

	fmt.Println(statusTitleStyle.Render("Active agents"))
	if len(state.ActiveAgents) == 0 {
		fmt.Println("  none")
	}
	for _, rec := range state.ActiveAgents {
		fmt.Printf("  %s  %-14s %-8s %s  $%.2f\n",
			agentStatusDot(rec.Status), rec.Task.Slug(), rec.Phase,
			rec.Age(now).Round(time.Second), rec.CostUSD)
	}

	fmt.Println(statusTitleStyle.Render("Queue"))
	if len(state.QueuedTasks) == 0 {
		fmt.Println("  empty")
	}
	for _, entry := range state.QueuedTasks {
		readiness := "ready"
		if !entry.Ready(now) {
			readiness = "in " + time.UnixMilli(entry.NextAttemptAt).Sub(now).Round(time.Second).String()
		}
		fmt.Printf("  %-14s retry %d  %s\n", entry.Task.Slug(), entry.RetryCount, readiness)
	}

	if cfg.History.Path != "" {
		if err := displayRecentRuns(cfg.History.Path); err != nil {
			return err
		}
	}
	return nil
}

// displayRecentRuns prints the last few ledger rows, newest first.
func displayRecentRuns(path string) error {
	ledger, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer ledger.Close()

	runs, err := ledger.RecentRuns(10)
	if err != nil {
		return err
	}

	fmt.Println(statusTitleStyle.Render("Recent runs"))
	if len(runs) == 0 {
		fmt.Println("  none")
	}
	for _, run := range runs {
		line := fmt.Sprintf("  %-14s %-14s %-9s $%.2f  %s",
			run.TaskSlug, run.Phase, run.Status, run.CostUSD,
			run.FinishedAt.Local().Format("Jan 02 15:04"))
		if run.Status == string(models.AgentErrored) {
			line += "  " + color.RedString(run.Error)
		}
		fmt.Println(line)
	}
	return nil
}

// spendColor renders the spend figure green, yellow, or red by headroom.
func spendColor(spend, budget float64) string {
	text := fmt.Sprintf("$%.2f", spend)
	switch {
	case budget > 0 && spend >= budget:
		return color.RedString(text)
	case budget > 0 && spend >= budget*0.8:
		return color.YellowString(text)
	default:
		return color.GreenString(text)
	}
}

// agentStatusDot renders a colored marker for an agent status.
func agentStatusDot(status models.AgentStatus) string {
	switch status {
	case models.AgentRunning:
		return color.GreenString("●")
	case models.AgentBlocked:
		return color.YellowString("●")
	case models.AgentErrored:
		return color.RedString("●")
	default:
		return "●"
	}
}
