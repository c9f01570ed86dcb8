package agent

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/internal/notify"
	"github.com/planepilot/planepilot/internal/plane"
	"github.com/planepilot/planepilot/pkg/models"
)

// Request describes one agent run.
type Request struct {
	Task       models.Task
	Phase      models.Phase
	WorkingDir string
	BranchName string
	// Comments are the issue's comments at spawn time, used to recover the
	// approved plan for implementation runs.
	Comments []plane.Comment
}

// Launcher starts agent runs. The manager depends on this interface so tests
// can substitute scripted outcomes.
type Launcher interface {
	// Run drives one agent run to its result. A non-nil error means the run
	// crashed before producing a result; result-level failures are encoded
	// in AgentResult.ErrorType with a nil error.
	Run(ctx context.Context, req Request) (*models.AgentResult, error)
}

// Runner launches Claude Code subprocesses and reports their outcomes to
// the tracker and the notifier.
type Runner struct {
	tracker  plane.API
	notifier notify.Notifier
	log      *logger.Logger

	maxTurns         int
	maxBudgetPerTask float64

	// newProcess builds the subprocess driver. Replaced in tests.
	newProcess func(ctx context.Context) Process
}

// Verify Runner implements Launcher at compile time.
var _ Launcher = (*Runner)(nil)

// NewRunner creates a Runner. maxTurns and maxBudgetPerTask bound
// implementation runs; planning runs use fixed small limits.
func NewRunner(tracker plane.API, notifier notify.Notifier, log *logger.Logger, maxTurns int, maxBudgetPerTask float64) *Runner {
	return &Runner{
		tracker:          tracker,
		notifier:         notifier,
		log:              log.Named("runner"),
		maxTurns:         maxTurns,
		maxBudgetPerTask: maxBudgetPerTask,
		newProcess:       func(ctx context.Context) Process { return NewClaudeProcess(ctx) },
	}
}

// Run executes one agent run to completion. It returns as soon as the
// subprocess emits its result message; it does not wait for process exit.
func (r *Runner) Run(ctx context.Context, req Request) (*models.AgentResult, error) {
	log := r.log.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("task", req.Task.Slug()),
		zap.String("phase", string(req.Phase)))

	r.notifier.AgentStarted(ctx, req.Task, req.Phase)
	r.comment(ctx, req.Task, fmt.Sprintf("<p>🤖 Agent started the %s phase.</p>", req.Phase))

	maxTurns, maxBudget, tools := limits(req.Phase, r.maxTurns, r.maxBudgetPerTask)
	prompt := BuildPrompt(req.Task, req.Phase, req.BranchName, extractPlan(req.Comments), maxBudget)

	proc := r.newProcess(ctx)
	defer proc.Kill()

	if err := proc.Start(prompt, req.WorkingDir, StartOptions{
		AllowedTools: tools,
		MaxTurns:     maxTurns,
	}); err != nil {
		return r.crash(ctx, req, log, fmt.Errorf("start agent: %w", err))
	}

	log.Info("agent running", zap.Int("max_turns", maxTurns), zap.Float64("max_budget_usd", maxBudget))

	for {
		select {
		case <-ctx.Done():
			return r.crash(ctx, req, log, fmt.Errorf("agent interrupted: %w", ctx.Err()))
		case event, ok := <-proc.Output():
			if !ok {
				err := fmt.Errorf("agent exited without a result")
				if stderr := proc.Stderr(); stderr != "" {
					err = fmt.Errorf("agent exited without a result: %s", strings.TrimSpace(stderr))
				}
				return r.crash(ctx, req, log, err)
			}

			switch event.Type {
			case StreamEventResult:
				return r.finish(ctx, req, log, event), nil
			case StreamEventError:
				log.Warn("agent stream error", zap.String("error", event.Error))
			default:
				log.Debug("agent event", zap.String("type", string(event.Type)))
			}
		}
	}
}

// finish turns the result event into an AgentResult and reports the outcome.
func (r *Runner) finish(ctx context.Context, req Request, log *logger.Logger, event StreamEvent) *models.AgentResult {
	result := &models.AgentResult{CostUSD: event.TotalCostUSD}

	if event.Subtype == "success" {
		log.Info("agent completed", zap.Float64("cost_usd", result.CostUSD))
		r.notifier.AgentCompleted(ctx, req.Task, req.Phase, result.CostUSD)
		r.comment(ctx, req.Task, r.completionComment(req.Phase, event.Message, result.CostUSD))
		return result
	}

	result.ErrorType = classify(event)
	log.Warn("agent failed",
		zap.String("subtype", event.Subtype),
		zap.String("error_type", string(result.ErrorType)),
		zap.Float64("cost_usd", result.CostUSD))

	r.notifier.AgentErrored(ctx, req.Task, req.Phase, string(result.ErrorType))
	r.comment(ctx, req.Task, fmt.Sprintf("<p>❌ Agent %s phase failed: %s (cost $%.2f).</p>",
		req.Phase, result.ErrorType, result.CostUSD))
	return result
}

// crash reports an abnormal termination and re-raises it to the manager.
func (r *Runner) crash(ctx context.Context, req Request, log *logger.Logger, err error) (*models.AgentResult, error) {
	log.Error("agent crashed", zap.Error(err))
	r.notifier.AgentErrored(ctx, req.Task, req.Phase, err.Error())
	r.comment(ctx, req.Task, fmt.Sprintf("<p>💥 Agent %s phase crashed: %s</p>", req.Phase, html.EscapeString(err.Error())))
	return nil, err
}

// completionComment renders the completion comment. Planning completions
// embed the plan sentinel so the next run picks the implementation phase.
func (r *Runner) completionComment(phase models.Phase, resultText string, costUSD float64) string {
	if phase == models.PhasePlanning {
		return fmt.Sprintf("%s<p>✅ Planning complete (cost $%.2f).</p><pre>%s</pre>",
			PlanSentinel, costUSD, html.EscapeString(resultText))
	}
	return fmt.Sprintf("<p>✅ Implementation complete (cost $%.2f).</p><pre>%s</pre>",
		costUSD, html.EscapeString(resultText))
}

// comment posts a tracker comment, logging failures instead of propagating.
func (r *Runner) comment(ctx context.Context, task models.Task, commentHTML string) {
	if err := r.tracker.CreateComment(ctx, task.ProjectID, task.IssueID, commentHTML); err != nil {
		r.log.Warn("post comment failed", zap.String("task", task.Slug()), zap.Error(err))
	}
}

// classify maps a non-success result event to an error type. A result with
// no error list reads as a provider-side refusal, so it counts as rate
// limiting rather than a task failure.
func classify(event StreamEvent) models.AgentErrorType {
	switch {
	case len(event.Errors) == 0:
		return models.ErrorRateLimited
	case strings.Contains(event.Subtype, "budget"):
		return models.ErrorBudgetExceeded
	case strings.Contains(event.Subtype, "turns"):
		return models.ErrorMaxTurns
	default:
		return models.ErrorUnknown
	}
}

// extractPlan pulls the approved plan text out of the sentinel comment.
func extractPlan(comments []plane.Comment) string {
	for _, c := range comments {
		if strings.Contains(c.CommentHTML, PlanSentinel) {
			return stripHTML(c.CommentHTML)
		}
	}
	return ""
}

// stripHTML reduces comment HTML to readable text for prompt embedding.
func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune('\n')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(html.UnescapeString(b.String()))
}
