package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/planepilot/planepilot/internal/agent"
	"github.com/planepilot/planepilot/internal/config"
	"github.com/planepilot/planepilot/internal/history"
	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/internal/notify"
	"github.com/planepilot/planepilot/internal/orchestrator"
	"github.com/planepilot/planepilot/internal/plane"
	"github.com/planepilot/planepilot/internal/poller"
	"github.com/planepilot/planepilot/internal/queue"
	"github.com/planepilot/planepilot/internal/worktree"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestrator daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

// runDaemon wires every component and runs until SIGINT or SIGTERM.
func runDaemon() error {
	if err := CheckClaudeCLI(); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging)
	defer log.Sync()

	tracker := plane.NewClient(cfg.Plane.BaseURL, cfg.Plane.WorkspaceSlug, env.PlaneAPIKey)

	var notifier notify.Notifier = notify.Noop{}
	if env.NotifierConfigured() {
		notifier = notify.NewTelegram(env.TelegramBotToken, env.TelegramChatID, log)
	} else {
		log.Info("telegram credentials absent, notifications disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache := poller.NewCache(tracker, log)
	if err := cache.Init(ctx, cfg.Projects, cfg.Agent.LabelName); err != nil {
		return fmt.Errorf("initialize project cache: %w", err)
	}

	statePath := env.StatePath
	if statePath == "" {
		statePath = orchestrator.DefaultPath()
	}
	store := orchestrator.NewStore(statePath, log)

	var recorder orchestrator.RunRecorder
	if cfg.History.Path != "" {
		ledger, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer ledger.Close()
		recorder = ledger
	}

	p := poller.New(tracker, cache, log)
	q := queue.New(cfg.Agent.RetryBaseDelay())
	worktrees := worktree.NewManager()
	runner := agent.NewRunner(tracker, notifier, log, cfg.Agent.MaxTurns, cfg.Agent.MaxBudgetPerTask)

	manager := orchestrator.NewManager(cfg.Agent, orchestrator.Deps{
		Cache:    cache,
		Poller:   p,
		Queue:    q,
		Worktree: worktrees,
		Launcher: runner,
		Tracker:  tracker,
		Notifier: notifier,
		Store:    store,
		Recorder: recorder,
		Log:      log,
	})

	log.Info("planepilot starting",
		zap.String("workspace", cfg.Plane.WorkspaceSlug),
		zap.Strings("projects", cache.Identifiers()),
		zap.String("state_path", statePath))

	orch := orchestrator.New(cfg, manager, p, q, cache, notifier, log)
	return orch.Run(ctx)
}
