package poller

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/internal/plane"
	"github.com/planepilot/planepilot/pkg/models"
)

// Poller finds todo issues carrying the agent label and claims them by
// moving them to in_progress. The claimed set is the in-memory lease that
// keeps an issue from being picked again while queued or active; the
// tracker state change is the durable half, but its visibility may lag.
type Poller struct {
	api   plane.API
	cache *Cache
	log   *logger.Logger

	mu      sync.Mutex
	claimed map[string]struct{}
}

// New creates a Poller over an initialized cache.
func New(api plane.API, cache *Cache, log *logger.Logger) *Poller {
	return &Poller{
		api:     api,
		cache:   cache,
		log:     log.Named("poller"),
		claimed: make(map[string]struct{}),
	}
}

// PollForTasks returns up to maxTasks claimable tasks across all cached
// projects, in project iteration order. Failures in one project are logged
// and the remaining projects still run.
func (p *Poller) PollForTasks(ctx context.Context, maxTasks int) []models.Task {
	var tasks []models.Task

	for _, identifier := range p.cache.Identifiers() {
		if len(tasks) >= maxTasks {
			break
		}
		entry, _ := p.cache.Get(identifier)

		issues, err := p.api.ListIssues(ctx, entry.Project.ID, entry.TodoStateID)
		if err != nil {
			p.log.Warn("list issues failed", zap.String("project", identifier), zap.Error(err))
			continue
		}

		for _, issue := range issues {
			if len(tasks) >= maxTasks {
				break
			}
			// The server-side state filter is a hint; verify locally.
			if issue.State != entry.TodoStateID || !issue.HasLabel(entry.AgentLabelID) {
				continue
			}
			if p.isClaimed(issue.ID) {
				continue
			}
			tasks = append(tasks, models.Task{
				IssueID:           issue.ID,
				ProjectID:         entry.Project.ID,
				ProjectIdentifier: entry.Project.Identifier,
				SequenceID:        issue.SequenceID,
				Title:             issue.Name,
				DescriptionHTML:   issue.DescriptionHTML,
				StateID:           issue.State,
				LabelIDs:          issue.Labels,
			})
		}
	}

	return tasks
}

// ClaimTask leases a task by transitioning it to in_progress. Returns false
// without recording a claim when the tracker update fails.
func (p *Poller) ClaimTask(ctx context.Context, task models.Task) bool {
	entry, ok := p.cache.Get(task.ProjectIdentifier)
	if !ok {
		p.log.Warn("claim for unknown project", zap.String("task", task.Slug()))
		return false
	}

	state := entry.InProgressStateID
	if err := p.api.UpdateIssue(ctx, task.ProjectID, task.IssueID, plane.IssuePatch{State: &state}); err != nil {
		p.log.Warn("claim failed", zap.String("task", task.Slug()), zap.Error(err))
		return false
	}

	p.mu.Lock()
	p.claimed[task.IssueID] = struct{}{}
	p.mu.Unlock()
	return true
}

// ReleaseTask drops the in-memory lease for an issue. Idempotent.
func (p *Poller) ReleaseTask(issueID string) {
	p.mu.Lock()
	delete(p.claimed, issueID)
	p.mu.Unlock()
}

// MarkClaimed records a lease without touching the tracker. Used during
// crash recovery when the tracker is already in the right state.
func (p *Poller) MarkClaimed(issueID string) {
	p.mu.Lock()
	p.claimed[issueID] = struct{}{}
	p.mu.Unlock()
}

func (p *Poller) isClaimed(issueID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.claimed[issueID]
	return ok
}
