package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/planepilot/planepilot/internal/agent"
	"github.com/planepilot/planepilot/internal/config"
	"github.com/planepilot/planepilot/internal/history"
	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/internal/notify"
	"github.com/planepilot/planepilot/internal/plane"
	"github.com/planepilot/planepilot/internal/poller"
	"github.com/planepilot/planepilot/internal/queue"
	"github.com/planepilot/planepilot/internal/worktree"
	"github.com/planepilot/planepilot/pkg/models"
)

// staleAfter is how long a running agent may go before the single stale
// alert fires.
const staleAfter = 6 * time.Hour

// SpawnResult is the outcome of a spawn attempt.
type SpawnResult int

const (
	// SpawnStarted means the agent is running; completion is handled
	// asynchronously.
	SpawnStarted SpawnResult = iota
	// SpawnRejectedNoProject means the task's project is not configured.
	SpawnRejectedNoProject
	// SpawnRejectedBudget means the daily budget cannot admit another task.
	SpawnRejectedBudget
	// SpawnRejectedSetup means comment fetch or worktree creation failed.
	SpawnRejectedSetup
)

// RunRecorder receives one record per finished agent run. Satisfied by
// history.Store; nil-able via the noop in this package.
type RunRecorder interface {
	RecordRun(run history.Run) error
}

// noopRecorder drops run records when no history path is configured.
type noopRecorder struct{}

func (noopRecorder) RecordRun(history.Run) error { return nil }

// Deps bundles the collaborators the Manager coordinates.
type Deps struct {
	Cache    *poller.Cache
	Poller   *poller.Poller
	Queue    *queue.Queue
	Worktree *worktree.Manager
	Launcher agent.Launcher
	Tracker  plane.API
	Notifier notify.Notifier
	Store    *Store
	Recorder RunRecorder
	Log      *logger.Logger
}

// Manager owns the active-agent set, the daily budget, and the persisted
// state. It is the single writer of the state file. Tracker and notifier
// calls happen outside the mutex.
type Manager struct {
	cfg  config.AgentConfig
	deps Deps
	log  *logger.Logger

	mu    sync.Mutex
	state *models.RunnerState

	now func() time.Time
}

// NewManager creates a Manager around freshly loaded state.
func NewManager(cfg config.AgentConfig, deps Deps) *Manager {
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	m := &Manager{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.Named("manager"),
		now:  time.Now,
	}
	m.state = models.NewRunnerState(m.now())
	return m
}

// WithClock injects a time source for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) lock()   { m.mu.Lock() }
func (m *Manager) unlock() { m.mu.Unlock() }

// Restore loads persisted state, refills the queue, and re-enqueues agents
// that were alive when the previous process died. Their tracker state is
// reset to todo so a later discovery cycle re-engages them.
func (m *Manager) Restore(ctx context.Context) {
	state := m.deps.Store.Load(m.now())

	m.deps.Queue.Hydrate(state.QueuedTasks)
	for _, entry := range state.QueuedTasks {
		m.deps.Poller.MarkClaimed(entry.Task.IssueID)
	}

	var orphans []*models.ActiveAgent
	for issueID, rec := range state.ActiveAgents {
		if rec.Status == models.AgentRunning || rec.Status == models.AgentBlocked {
			orphans = append(orphans, rec)
		}
		delete(state.ActiveAgents, issueID)
	}

	m.lock()
	m.state = state
	m.unlock()

	for _, rec := range orphans {
		m.log.Info("recovering orphaned agent",
			zap.String("task", rec.Task.Slug()),
			zap.String("phase", string(rec.Phase)))
		m.deps.Queue.Enqueue(rec.Task)
		m.deps.Poller.MarkClaimed(rec.Task.IssueID)
		m.resetToTodo(ctx, rec.Task)
	}

	m.persist()
}

// Spawn starts an agent for a dequeued entry. It returns as soon as the
// subprocess is launched; completion lands in handleRunnerResult.
func (m *Manager) Spawn(ctx context.Context, entry models.QueueEntry) SpawnResult {
	task := entry.Task
	log := m.log.With(zap.String("task", task.Slug()))

	project, ok := m.deps.Cache.Get(task.ProjectIdentifier)
	if !ok {
		log.Warn("no project config for task")
		return SpawnRejectedNoProject
	}

	if !m.admitBudget() {
		spend, budget := m.DailySpend(), m.cfg.MaxDailyBudget
		log.Warn("budget exhausted", zap.Float64("spend_usd", spend), zap.Float64("budget_usd", budget))
		m.deps.Notifier.BudgetBlocked(ctx, task, spend, budget)
		m.deps.Poller.ReleaseTask(task.IssueID)
		return SpawnRejectedBudget
	}

	comments, err := m.deps.Tracker.ListComments(ctx, task.ProjectID, task.IssueID)
	if err != nil {
		log.Warn("fetch comments failed", zap.Error(err))
		m.deps.Notifier.AgentErrored(ctx, task, models.PhasePlanning, err.Error())
		m.ReleaseWithReset(ctx, task)
		return SpawnRejectedSetup
	}

	phase := agent.DetectPhase(comments)

	workingDir := project.Config.RepoPath
	branchName := ""
	if phase == models.PhaseImplementation {
		wt, err := m.materializeWorktree(project.Config, task.Slug(), entry.RetryCount)
		if err != nil {
			log.Warn("worktree setup failed", zap.Error(err))
			m.deps.Notifier.AgentErrored(ctx, task, phase, err.Error())
			m.ReleaseWithReset(ctx, task)
			return SpawnRejectedSetup
		}
		workingDir = wt.Path
		branchName = wt.Branch
		if wt.IsExisting {
			log.Info("resuming agent branch", zap.String("last_commit", wt.LastCommit))
		}
	}

	worktreePath := ""
	if phase == models.PhaseImplementation {
		worktreePath = workingDir
	}
	rec := &models.ActiveAgent{
		Task:         task,
		Phase:        phase,
		WorktreePath: worktreePath,
		BranchName:   branchName,
		StartedAt:    m.now().UnixMilli(),
		Status:       models.AgentRunning,
		RetryCount:   entry.RetryCount,
	}

	m.lock()
	m.state.ActiveAgents[task.IssueID] = rec
	m.unlock()
	m.persist()

	log.Info("agent spawned", zap.String("phase", string(phase)), zap.Int("retry", entry.RetryCount))

	// The run outlives the loop context: shutdown leaves children running
	// as orphans and restart recovery re-engages them.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		result, runErr := m.deps.Launcher.Run(runCtx, agent.Request{
			Task:       task,
			Phase:      phase,
			WorkingDir: workingDir,
			BranchName: branchName,
			Comments:   comments,
		})
		m.handleRunnerResult(runCtx, task.IssueID, result, runErr)
	}()

	return SpawnStarted
}

// materializeWorktree creates a fresh worktree on first attempt and resumes
// the agent branch on retries.
func (m *Manager) materializeWorktree(projectCfg config.ProjectConfig, slug string, retryCount int) (*worktree.Worktree, error) {
	if retryCount > 0 {
		return m.deps.Worktree.GetOrCreate(projectCfg.RepoPath, slug, projectCfg.DefaultBranch)
	}
	return m.deps.Worktree.Create(projectCfg.RepoPath, slug, projectCfg.DefaultBranch)
}

// handleRunnerResult routes a finished run to retry or terminal handling.
// runErr non-nil means the runner crashed without a classified result.
func (m *Manager) handleRunnerResult(ctx context.Context, issueID string, result *models.AgentResult, runErr error) {
	m.lock()
	rec, ok := m.state.ActiveAgents[issueID]
	if !ok {
		m.unlock()
		m.log.Warn("result for unknown agent", zap.String("issue", issueID))
		return
	}

	m.rollDayLocked()
	if result != nil {
		m.state.DailySpendUSD += result.CostUSD
		rec.CostUSD = result.CostUSD
	}

	retryable := runErr != nil || (result != nil && !result.Success() && result.ErrorType.Retryable())
	willRetry := retryable && rec.RetryCount < m.cfg.MaxRetries

	if willRetry {
		delete(m.state.ActiveAgents, issueID)
	} else if runErr != nil || (result != nil && !result.Success()) {
		rec.Status = models.AgentErrored
	} else {
		rec.Status = models.AgentCompleted
	}
	m.unlock()

	task := rec.Task
	log := m.log.With(zap.String("task", task.Slug()), zap.String("phase", string(rec.Phase)))

	if willRetry {
		delay := time.Duration(math.Round(float64(m.cfg.RetryBaseDelay()) * math.Pow(2, float64(rec.RetryCount))))
		log.Info("scheduling retry",
			zap.Int("attempt", rec.RetryCount+1),
			zap.Duration("delay", delay),
			zap.Error(runErr))
		_ = m.deps.Notifier.Send(ctx, fmt.Sprintf("🔁 %s: retry %d/%d in %s",
			task.Slug(), rec.RetryCount+1, m.cfg.MaxRetries, delay))
		m.resetToTodo(ctx, task)
		m.deps.Poller.ReleaseTask(task.IssueID)
		m.deps.Queue.Requeue(task, rec.RetryCount+1)
		m.persist()
		return
	}

	// Terminal: success, non-retryable failure, or retries exhausted.
	m.persist()
	m.recordRun(rec, result, runErr)

	success := runErr == nil && result != nil && result.Success()
	switch {
	case success:
		log.Info("agent done", zap.Float64("cost_usd", rec.CostUSD), zap.Float64("daily_spend_usd", m.DailySpend()))
		m.advanceTrackerState(ctx, rec)
	case runErr != nil:
		log.Error("agent crashed terminally", zap.Error(runErr))
	default:
		log.Warn("agent failed terminally", zap.String("error_type", string(result.ErrorType)))
	}

	// Crashed worktrees stay on disk for inspection and resume.
	if rec.Phase == models.PhaseImplementation && runErr == nil {
		if project, ok := m.deps.Cache.Get(task.ProjectIdentifier); ok {
			m.deps.Worktree.Remove(project.Config.RepoPath, task.Slug())
		}
	}

	m.lock()
	delete(m.state.ActiveAgents, issueID)
	m.unlock()
	m.deps.Poller.ReleaseTask(task.IssueID)
	m.persist()
}

// advanceTrackerState moves a successfully finished task to its next
// human-facing state: plan review after planning, code review after
// implementation. Missing optional states degrade gracefully.
func (m *Manager) advanceTrackerState(ctx context.Context, rec *models.ActiveAgent) {
	project, ok := m.deps.Cache.Get(rec.Task.ProjectIdentifier)
	if !ok {
		return
	}

	var next string
	if rec.Phase == models.PhasePlanning {
		// Without a plan-review state the plan is auto-approved: back to
		// todo so the implementation phase gets picked up.
		next = project.PlanReviewStateID
		if next == "" {
			next = project.TodoStateID
		}
	} else {
		next = project.InReviewStateID
		if next == "" {
			next = project.DoneStateID
		}
		m.surfaceBranchLink(ctx, project, rec)
	}
	if next == "" {
		return
	}

	if err := m.deps.Tracker.UpdateIssue(ctx, rec.Task.ProjectID, rec.Task.IssueID, plane.IssuePatch{State: &next}); err != nil {
		m.log.Warn("advance state failed", zap.String("task", rec.Task.Slug()), zap.Error(err))
	}
}

// surfaceBranchLink attaches the agent branch URL to the issue.
func (m *Manager) surfaceBranchLink(ctx context.Context, project *poller.ProjectEntry, rec *models.ActiveAgent) {
	if project.Config.RepoURL == "" || rec.BranchName == "" {
		return
	}
	url := fmt.Sprintf("%s/tree/%s", project.Config.RepoURL, rec.BranchName)
	if err := m.deps.Tracker.CreateLink(ctx, rec.Task.ProjectID, rec.Task.IssueID, "Branch "+rec.BranchName, url); err != nil {
		m.log.Warn("attach branch link failed", zap.String("task", rec.Task.Slug()), zap.Error(err))
	}
}

// recordRun writes a history ledger row; failures only warn.
func (m *Manager) recordRun(rec *models.ActiveAgent, result *models.AgentResult, runErr error) {
	run := history.Run{
		TaskSlug:   rec.Task.Slug(),
		IssueID:    rec.Task.IssueID,
		Phase:      string(rec.Phase),
		Status:     string(rec.Status),
		CostUSD:    rec.CostUSD,
		RetryCount: rec.RetryCount,
		StartedAt:  time.UnixMilli(rec.StartedAt),
		FinishedAt: m.now(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	} else if result != nil && !result.Success() {
		run.Error = string(result.ErrorType)
	}
	if err := m.deps.Recorder.RecordRun(run); err != nil {
		m.log.Warn("record run failed", zap.Error(err))
	}
}

// ReleaseWithReset drops the lease and puts the issue back to todo.
func (m *Manager) ReleaseWithReset(ctx context.Context, task models.Task) {
	m.resetToTodo(ctx, task)
	m.deps.Poller.ReleaseTask(task.IssueID)
}

// resetToTodo transitions an issue back to its todo state, best-effort.
// Falls back to the state captured at discovery when the project is not in
// the cache.
func (m *Manager) resetToTodo(ctx context.Context, task models.Task) {
	state := task.StateID
	if project, ok := m.deps.Cache.Get(task.ProjectIdentifier); ok {
		state = project.TodoStateID
	}
	if state == "" {
		return
	}
	if err := m.deps.Tracker.UpdateIssue(ctx, task.ProjectID, task.IssueID, plane.IssuePatch{State: &state}); err != nil {
		m.log.Warn("reset to todo failed", zap.String("task", task.Slug()), zap.Error(err))
	}
}

// rollDayLocked resets the daily spend counter when the UTC date changed.
// Callers hold the lock.
func (m *Manager) rollDayLocked() {
	today := m.now().UTC().Format(models.SpendDateLayout)
	if m.state.DailySpendDate != today {
		m.state.DailySpendDate = today
		m.state.DailySpendUSD = 0
	}
}

// admitBudget reports whether a worst-case task cost still fits today's
// budget. Spend advances only on completion, never speculatively.
func (m *Manager) admitBudget() bool {
	m.lock()
	defer m.unlock()
	m.rollDayLocked()
	return m.state.DailySpendUSD+m.cfg.MaxBudgetPerTask <= m.cfg.MaxDailyBudget
}

// CheckStaleAgents alerts once per agent that has been running longer than
// the stale threshold. It never kills anything.
func (m *Manager) CheckStaleAgents(ctx context.Context) {
	now := m.now()

	m.lock()
	var stale []*models.ActiveAgent
	for _, rec := range m.state.ActiveAgents {
		if rec.Status != models.AgentRunning || rec.AlertedStale {
			continue
		}
		if rec.Age(now) > staleAfter {
			rec.AlertedStale = true
			stale = append(stale, rec)
		}
	}
	m.unlock()

	for _, rec := range stale {
		hours := rec.Age(now).Hours()
		m.log.Warn("agent stale", zap.String("task", rec.Task.Slug()), zap.Float64("hours", hours))
		m.deps.Notifier.AgentStale(ctx, rec.Task, hours)
	}
	if len(stale) > 0 {
		m.persist()
	}
}

// persist snapshots the queue and writes the state file. The snapshot is a
// deep copy taken under the lock; completion goroutines keep mutating the
// live records while Save marshals.
func (m *Manager) persist() {
	m.lock()
	m.state.QueuedTasks = m.deps.Queue.Entries()
	snapshot := *m.state
	snapshot.ActiveAgents = make(map[string]*models.ActiveAgent, len(m.state.ActiveAgents))
	for issueID, rec := range m.state.ActiveAgents {
		recCopy := *rec
		snapshot.ActiveAgents[issueID] = &recCopy
	}
	m.unlock()

	if err := m.deps.Store.Save(&snapshot); err != nil {
		m.log.Error("persist state failed", zap.Error(err))
	}
}

// Persist flushes the current state, used at shutdown.
func (m *Manager) Persist() {
	m.persist()
}

// ActiveCount returns the number of active agents.
func (m *Manager) ActiveCount() int {
	m.lock()
	defer m.unlock()
	return len(m.state.ActiveAgents)
}

// IsTaskActive reports whether the issue has an active agent.
func (m *Manager) IsTaskActive(issueID string) bool {
	m.lock()
	defer m.unlock()
	_, ok := m.state.ActiveAgents[issueID]
	return ok
}

// ActiveAgents returns a snapshot of the active set.
func (m *Manager) ActiveAgents() []models.ActiveAgent {
	m.lock()
	defer m.unlock()
	out := make([]models.ActiveAgent, 0, len(m.state.ActiveAgents))
	for _, rec := range m.state.ActiveAgents {
		out = append(out, *rec)
	}
	return out
}

// DailySpend returns today's accumulated spend in USD.
func (m *Manager) DailySpend() float64 {
	m.lock()
	defer m.unlock()
	return m.state.DailySpendUSD
}

// DailyBudget returns the configured daily budget in USD.
func (m *Manager) DailyBudget() float64 {
	return m.cfg.MaxDailyBudget
}
