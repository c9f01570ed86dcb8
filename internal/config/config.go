// Package config handles configuration loading for PlanePilot.
// Configuration comes from a single YAML file (CONFIG_PATH or
// ./planepilot.yaml) with environment variables supplying secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/planepilot/planepilot/internal/logger"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	Plane    PlaneConfig              `mapstructure:"plane"`
	Projects map[string]ProjectConfig `mapstructure:"projects"`
	Agent    AgentConfig              `mapstructure:"agent"`
	Logging  logger.Config            `mapstructure:"logging"`
	History  HistoryConfig            `mapstructure:"history"`
}

// PlaneConfig holds the Plane workspace settings.
type PlaneConfig struct {
	// BaseURL is the Plane API base, e.g. "https://api.plane.so".
	BaseURL string `mapstructure:"base_url"`
	// WorkspaceSlug is the workspace all projects live in.
	WorkspaceSlug string `mapstructure:"workspace_slug"`
}

// ProjectConfig describes one repository the orchestrator may work on,
// keyed by the Plane project identifier (e.g. "HQ").
type ProjectConfig struct {
	// RepoPath is the local checkout the worktrees hang off.
	RepoPath string `mapstructure:"repo_path"`
	// RepoURL is the remote URL used when surfacing branch links.
	RepoURL string `mapstructure:"repo_url"`
	// DefaultBranch is the branch agent branches start from.
	DefaultBranch string `mapstructure:"default_branch"`
	// CIChecks names the checks the implementation agent should watch.
	CIChecks []string `mapstructure:"ci_checks"`
}

// AgentConfig holds scheduling and budget settings. Interval fields are
// milliseconds, matching the persisted timestamps.
type AgentConfig struct {
	MaxConcurrent    int     `mapstructure:"max_concurrent"`
	MaxBudgetPerTask float64 `mapstructure:"max_budget_per_task"`
	MaxDailyBudget   float64 `mapstructure:"max_daily_budget"`
	MaxTurns         int     `mapstructure:"max_turns"`
	PollIntervalMs   int64   `mapstructure:"poll_interval_ms"`
	SpawnDelayMs     int64   `mapstructure:"spawn_delay_ms"`
	MaxRetries       int     `mapstructure:"max_retries"`
	RetryBaseDelayMs int64   `mapstructure:"retry_base_delay_ms"`
	LabelName        string  `mapstructure:"label_name"`
}

// PollInterval returns the discovery period as a duration.
func (a AgentConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMs) * time.Millisecond
}

// SpawnDelay returns the processing period as a duration.
func (a AgentConfig) SpawnDelay() time.Duration {
	return time.Duration(a.SpawnDelayMs) * time.Millisecond
}

// RetryBaseDelay returns the backoff base as a duration.
func (a AgentConfig) RetryBaseDelay() time.Duration {
	return time.Duration(a.RetryBaseDelayMs) * time.Millisecond
}

// HistoryConfig controls the optional run-history ledger.
type HistoryConfig struct {
	// Path is the sqlite file; empty disables history.
	Path string `mapstructure:"path"`
}

// Load reads configuration from the given path. An empty path falls back to
// $CONFIG_PATH and then ./planepilot.yaml.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "planepilot.yaml"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	normalize(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults configures the built-in defaults for the agent section.
func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.max_concurrent", 2)
	v.SetDefault("agent.max_budget_per_task", 5)
	v.SetDefault("agent.max_daily_budget", 20)
	v.SetDefault("agent.max_turns", 200)
	v.SetDefault("agent.poll_interval_ms", 30000)
	v.SetDefault("agent.spawn_delay_ms", 15000)
	v.SetDefault("agent.max_retries", 2)
	v.SetDefault("agent.retry_base_delay_ms", 60000)
	v.SetDefault("agent.label_name", "agent")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("history.path", "")
}

// normalize upper-cases project identifiers, fills per-project defaults,
// and expands ${VAR} references.
func normalize(cfg *Config) {
	cfg.Plane.BaseURL = strings.TrimRight(os.ExpandEnv(cfg.Plane.BaseURL), "/")
	cfg.Plane.WorkspaceSlug = os.ExpandEnv(cfg.Plane.WorkspaceSlug)

	projects := make(map[string]ProjectConfig, len(cfg.Projects))
	for id, p := range cfg.Projects {
		if p.DefaultBranch == "" {
			p.DefaultBranch = "main"
		}
		p.RepoPath = os.ExpandEnv(p.RepoPath)
		projects[strings.ToUpper(id)] = p
	}
	cfg.Projects = projects
}

// Validate checks the parts of the configuration that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Plane.BaseURL == "" {
		return fmt.Errorf("config: plane.base_url is required")
	}
	if c.Plane.WorkspaceSlug == "" {
		return fmt.Errorf("config: plane.workspace_slug is required")
	}
	if len(c.Projects) == 0 {
		return fmt.Errorf("config: at least one project is required")
	}
	for id, p := range c.Projects {
		if p.RepoPath == "" {
			return fmt.Errorf("config: projects.%s.repo_path is required", id)
		}
	}
	if c.Agent.MaxConcurrent < 1 {
		return fmt.Errorf("config: agent.max_concurrent must be at least 1")
	}
	if c.Agent.MaxBudgetPerTask > c.Agent.MaxDailyBudget {
		return fmt.Errorf("config: agent.max_budget_per_task exceeds agent.max_daily_budget")
	}
	return nil
}
