package agent

import (
	"fmt"
	"strings"

	"github.com/planepilot/planepilot/pkg/models"
)

// Planning runs are short and read-only; the limits are fixed rather than
// configured.
const (
	planningMaxTurns  = 30
	planningBudgetUSD = 1.0

	planningTools       = "Read,Glob,Grep"
	implementationTools = "Read,Write,Edit,Bash,Glob,Grep"
)

// planningPromptTemplate asks for a plan only. The working tree must stay
// untouched; the tool allow-list enforces that.
const planningPromptTemplate = `You are planning work for issue %s: %s

## Issue description

%s

## Instructions

Read the codebase and produce an implementation plan for this issue.
Do not modify any files; this session is for planning only.

The plan must cover:
- Which files need to change and how
- New files or packages to create, if any
- How the change will be tested
- Risks or open questions

Keep the plan focused on this issue. Note unrelated improvements as
follow-ups but do not plan them here.

Reply with the plan as your final message.`

// implementationPromptTemplate executes an approved plan on a dedicated
// branch.
const implementationPromptTemplate = `You are implementing issue %s: %s

## Issue description

%s

## Approved plan

%s

## Instructions

You are on branch %s in a dedicated worktree. Implement the approved
plan:
- Make the code changes the plan describes
- Run the project's tests and make them pass
- Commit your work with clear messages and push the branch

Stay within the plan's scope. Do not fix unrelated bugs, refactor
unrelated code, or add features the plan does not call for. Keep the
total run cost under $%.2f.`

// BuildPrompt renders the prompt for a phase. plan is the approved plan
// text for implementation runs (empty for planning).
func BuildPrompt(task models.Task, phase models.Phase, branchName, plan string, maxBudgetUSD float64) string {
	desc := task.DescriptionHTML
	if strings.TrimSpace(desc) == "" {
		desc = "(no description)"
	}

	switch phase {
	case models.PhaseImplementation:
		if strings.TrimSpace(plan) == "" {
			plan = "(no plan recorded; derive one from the issue description first)"
		}
		return fmt.Sprintf(implementationPromptTemplate, task.Slug(), task.Title, desc, plan, branchName, maxBudgetUSD)
	default:
		return fmt.Sprintf(planningPromptTemplate, task.Slug(), task.Title, desc)
	}
}

// limits returns the per-phase turn cap, budget cap, and tool allow-list.
func limits(phase models.Phase, configMaxTurns int, maxBudgetPerTask float64) (maxTurns int, maxBudget float64, tools string) {
	if phase == models.PhaseImplementation {
		return configMaxTurns, maxBudgetPerTask, implementationTools
	}
	return planningMaxTurns, planningBudgetUSD, planningTools
}
