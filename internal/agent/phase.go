// Package agent drives Claude Code subprocesses through the planning and
// implementation phases of a task.
package agent

import (
	"strings"

	"github.com/planepilot/planepilot/internal/plane"
	"github.com/planepilot/planepilot/pkg/models"
)

// PlanSentinel marks a comment as an approved plan. HTML comments are not
// rendered in the tracker UI, so the marker stays invisible to humans.
const PlanSentinel = "<!-- AGENT_PLAN -->"

// DetectPhase inspects an issue's comments and decides which phase the next
// run should execute. Any comment carrying the plan sentinel means planning
// already happened and the task moves to implementation.
func DetectPhase(comments []plane.Comment) models.Phase {
	for _, c := range comments {
		if strings.Contains(c.CommentHTML, PlanSentinel) {
			return models.PhaseImplementation
		}
	}
	return models.PhasePlanning
}
