package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/planepilot/planepilot/internal/config"
	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/internal/notify"
	"github.com/planepilot/planepilot/internal/poller"
	"github.com/planepilot/planepilot/internal/queue"
	"github.com/planepilot/planepilot/internal/worktree"
	"github.com/planepilot/planepilot/pkg/models"
)

// Orchestrator runs the discovery and processing loops on independent
// timers until its context is cancelled, then persists and announces
// shutdown. Running agents are not interrupted; crash recovery re-engages
// them on the next start.
type Orchestrator struct {
	cfg      *config.Config
	manager  *Manager
	poller   *poller.Poller
	queue    *queue.Queue
	cache    *poller.Cache
	notifier notify.Notifier
	log      *logger.Logger
}

// New creates an Orchestrator over an initialized manager and its
// collaborators.
func New(cfg *config.Config, manager *Manager, p *poller.Poller, q *queue.Queue, cache *poller.Cache, notifier notify.Notifier, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		manager:  manager,
		poller:   p,
		queue:    q,
		cache:    cache,
		notifier: notifier,
		log:      log.Named("orchestrator"),
	}
}

// Run performs startup recovery and drives both loops until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	for identifier, project := range o.cfg.Projects {
		if err := worktree.EnsureGitignore(project.RepoPath); err != nil {
			o.log.Warn("gitignore update failed", zap.String("project", identifier), zap.Error(err))
		}
	}

	o.manager.Restore(ctx)

	o.log.Info("orchestrator running",
		zap.Duration("poll_interval", o.cfg.Agent.PollInterval()),
		zap.Duration("spawn_delay", o.cfg.Agent.SpawnDelay()),
		zap.Int("max_concurrent", o.cfg.Agent.MaxConcurrent))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.discoveryLoop(ctx) })
	g.Go(func() error { return o.processingLoop(ctx) })

	err := g.Wait()
	o.shutdown()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// discoveryLoop polls the tracker for agent-labeled todo issues and leases
// the ones it will work on.
func (o *Orchestrator) discoveryLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Agent.PollInterval())
	defer ticker.Stop()

	o.discover(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.discover(ctx)
		}
	}
}

func (o *Orchestrator) discover(ctx context.Context) {
	o.manager.CheckStaleAgents(ctx)

	tasks := o.poller.PollForTasks(ctx, 2*o.cfg.Agent.MaxConcurrent)
	for _, task := range tasks {
		if o.manager.IsTaskActive(task.IssueID) || o.queue.Has(task.IssueID) {
			continue
		}
		if _, ok := o.cache.Get(task.ProjectIdentifier); !ok {
			continue
		}
		if !o.poller.ClaimTask(ctx, task) {
			continue
		}
		if o.queue.Enqueue(task) {
			o.log.Info("task enqueued", zap.String("task", task.Slug()))
		}
	}
}

// processingLoop spawns at most one agent per tick while capacity remains.
func (o *Orchestrator) processingLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Agent.SpawnDelay())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.process(ctx)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context) {
	if o.manager.ActiveCount() >= o.cfg.Agent.MaxConcurrent {
		return
	}

	entry := o.queue.Dequeue()
	if entry == nil {
		return
	}

	switch o.manager.Spawn(ctx, *entry) {
	case SpawnRejectedBudget:
		// Park until spend drops or the day rolls over; not a retry.
		o.queue.Defer(entry.Task, o.cfg.Agent.RetryBaseDelay())
	case SpawnRejectedNoProject:
		o.manager.ReleaseWithReset(ctx, entry.Task)
	}
}

// shutdown persists state and announces which agents were still running.
func (o *Orchestrator) shutdown() {
	o.manager.Persist()

	var running []string
	for _, rec := range o.manager.ActiveAgents() {
		if rec.Status == models.AgentRunning {
			running = append(running, rec.Task.Slug())
		}
	}

	text := "🛑 Orchestrator shutting down"
	if len(running) > 0 {
		text += fmt.Sprintf("; still running: %s (will recover on restart)", strings.Join(running, ", "))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.notifier.Send(ctx, text); err != nil {
		o.log.Warn("shutdown notification failed", zap.Error(err))
	}

	o.log.Info("orchestrator stopped", zap.Int("running_agents", len(running)))
}
