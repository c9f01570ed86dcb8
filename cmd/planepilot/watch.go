package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/planepilot/planepilot/internal/config"
	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/internal/orchestrator"
	"github.com/planepilot/planepilot/pkg/models"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of the orchestrator state",
	Long: `Follow the orchestrator state file and render active agents, the
queue, and daily spend as they change. Works against a daemon running in
another terminal.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	statePath := orchestrator.DefaultPath()
	events := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		// Watch the directory: the daemon replaces the file via rename, so
		// watching the path itself would lose the handle on every save.
		if addErr := watcher.Add(filepath.Dir(statePath)); addErr == nil {
			go forwardStateEvents(watcher, statePath, events)
			defer watcher.Close()
		} else {
			watcher.Close()
		}
	}

	m := newWatchModel(cfg, statePath, events)
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// forwardStateEvents coalesces fsnotify events for the state file.
func forwardStateEvents(watcher *fsnotify.Watcher, statePath string, events chan<- struct{}) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(statePath) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case events <- struct{}{}:
			default:
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

var (
	watchHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	watchDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	watchErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type stateChangedMsg struct{}

type watchTickMsg time.Time

type watchModel struct {
	cfg       *config.Config
	statePath string
	events    <-chan struct{}

	spinner spinner.Model
	state   *models.RunnerState
	loaded  time.Time
}

func newWatchModel(cfg *config.Config, statePath string, events <-chan struct{}) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := watchModel{
		cfg:       cfg,
		statePath: statePath,
		events:    events,
		spinner:   sp,
	}
	m.reload()
	return m
}

func (m *watchModel) reload() {
	now := time.Now()
	m.state = orchestrator.NewStore(m.statePath, logger.Nop()).Load(now)
	m.loaded = now
}

func (m watchModel) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.events
		return stateChangedMsg{}
	}
}

// watchTick is the refresh fallback when fsnotify is unavailable, and it
// keeps the elapsed-time column moving.
func watchTick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForChange(), watchTick())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case stateChangedMsg:
		m.reload()
		return m, m.waitForChange()
	case watchTickMsg:
		m.reload()
		return m, watchTick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	now := time.Now()
	s := watchHeaderStyle.Render("PlanePilot") + " " + m.spinner.View() + "\n\n"

	s += fmt.Sprintf("Daily spend: $%.2f of $%.2f (%s)\n\n",
		m.state.DailySpendUSD, m.cfg.Agent.MaxDailyBudget, m.state.DailySpendDate)

	s += watchHeaderStyle.Render("Active agents") + "\n"
	if len(m.state.ActiveAgents) == 0 {
		s += watchDimStyle.Render("  none") + "\n"
	}
	for _, rec := range m.state.ActiveAgents {
		line := fmt.Sprintf("  %-14s %-14s %-8s %s",
			rec.Task.Slug(), rec.Phase, rec.Status, rec.Age(now).Round(time.Second))
		if rec.Status == models.AgentErrored {
			line = watchErrStyle.Render(line)
		}
		s += line + "\n"
	}

	s += "\n" + watchHeaderStyle.Render("Queue") + "\n"
	if len(m.state.QueuedTasks) == 0 {
		s += watchDimStyle.Render("  empty") + "\n"
	}
	for _, entry := range m.state.QueuedTasks {
		readiness := "ready"
		if !entry.Ready(now) {
			readiness = "in " + time.UnixMilli(entry.NextAttemptAt).Sub(now).Round(time.Second).String()
		}
		s += fmt.Sprintf("  %-14s retry %d  %s\n", entry.Task.Slug(), entry.RetryCount, readiness)
	}

	s += "\n" + watchDimStyle.Render(fmt.Sprintf("updated %s · q to quit", m.loaded.Format("15:04:05")))
	return s
}
