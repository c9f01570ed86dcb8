// Package poller discovers agent-labeled issues in the tracker and leases
// them for the orchestrator.
package poller

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/planepilot/planepilot/internal/config"
	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/internal/plane"
)

// ProjectEntry caches the tracker ids the orchestrator needs per project.
// The optional state ids are empty when the project has no matching state.
type ProjectEntry struct {
	Project           plane.Project
	Config            config.ProjectConfig
	AgentLabelID      string
	TodoStateID       string
	InProgressStateID string
	PlanReviewStateID string
	InReviewStateID   string
	DoneStateID       string
}

// Cache resolves configured project identifiers to tracker ids once at
// startup. Projects that cannot be fully resolved are skipped with a log
// line rather than failing the daemon.
type Cache struct {
	api plane.API
	log *logger.Logger

	// entries is keyed by upper-cased project identifier.
	entries map[string]*ProjectEntry
	// order is the deterministic iteration order (sorted identifiers).
	order []string
}

// NewCache creates an empty cache; call Init before use.
func NewCache(api plane.API, log *logger.Logger) *Cache {
	return &Cache{
		api:     api,
		log:     log.Named("cache"),
		entries: make(map[string]*ProjectEntry),
	}
}

// Init resolves every configured project. It fails only when the project
// listing itself fails; per-project resolution problems skip that project.
func (c *Cache) Init(ctx context.Context, projects map[string]config.ProjectConfig, labelName string) error {
	all, err := c.api.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	byIdentifier := make(map[string]plane.Project, len(all))
	for _, p := range all {
		byIdentifier[strings.ToUpper(p.Identifier)] = p
	}

	for identifier, projectCfg := range projects {
		log := c.log.With(zap.String("project", identifier))

		project, ok := byIdentifier[identifier]
		if !ok {
			log.Warn("project not found in workspace, skipping")
			continue
		}

		entry, err := c.resolve(ctx, project, projectCfg, labelName)
		if err != nil {
			log.Warn("project resolution failed, skipping", zap.Error(err))
			continue
		}

		c.entries[identifier] = entry
		log.Info("project resolved",
			zap.String("todo_state", entry.TodoStateID),
			zap.String("in_progress_state", entry.InProgressStateID))
	}

	c.order = make([]string, 0, len(c.entries))
	for id := range c.entries {
		c.order = append(c.order, id)
	}
	sort.Strings(c.order)

	if len(c.entries) == 0 {
		return fmt.Errorf("no configured project could be resolved")
	}
	return nil
}

// resolve looks up the agent label and the workflow states of one project.
func (c *Cache) resolve(ctx context.Context, project plane.Project, projectCfg config.ProjectConfig, labelName string) (*ProjectEntry, error) {
	labels, err := c.api.ListLabels(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}

	var labelID string
	for _, l := range labels {
		if strings.EqualFold(l.Name, labelName) {
			labelID = l.ID
			break
		}
	}
	if labelID == "" {
		return nil, fmt.Errorf("label %q not found", labelName)
	}

	states, err := c.api.ListStates(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}

	entry := &ProjectEntry{
		Project:      project,
		Config:       projectCfg,
		AgentLabelID: labelID,
	}
	// Each slot takes the first matching state; the matches are independent,
	// so one started state can satisfy more than one slot.
	for _, s := range states {
		name := strings.ToLower(s.Name)
		if entry.TodoStateID == "" && s.Group == plane.GroupUnstarted {
			entry.TodoStateID = s.ID
		}
		if entry.InProgressStateID == "" && s.Group == plane.GroupStarted {
			entry.InProgressStateID = s.ID
		}
		if entry.PlanReviewStateID == "" && s.Group == plane.GroupStarted && strings.Contains(name, "plan") {
			entry.PlanReviewStateID = s.ID
		}
		if entry.InReviewStateID == "" && s.Group == plane.GroupStarted &&
			strings.Contains(name, "review") && !strings.Contains(name, "plan") {
			entry.InReviewStateID = s.ID
		}
		if entry.DoneStateID == "" && s.Group == plane.GroupCompleted {
			entry.DoneStateID = s.ID
		}
	}

	if entry.TodoStateID == "" {
		return nil, fmt.Errorf("no state with group %q", plane.GroupUnstarted)
	}
	if entry.InProgressStateID == "" {
		return nil, fmt.Errorf("no state with group %q", plane.GroupStarted)
	}
	return entry, nil
}

// Get returns the entry for an upper-cased project identifier.
func (c *Cache) Get(identifier string) (*ProjectEntry, bool) {
	entry, ok := c.entries[strings.ToUpper(identifier)]
	return entry, ok
}

// GetByProjectID returns the entry whose tracker project id matches.
func (c *Cache) GetByProjectID(projectID string) (*ProjectEntry, bool) {
	for _, id := range c.order {
		if c.entries[id].Project.ID == projectID {
			return c.entries[id], true
		}
	}
	return nil, false
}

// Identifiers returns the resolved project identifiers in iteration order.
func (c *Cache) Identifiers() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
