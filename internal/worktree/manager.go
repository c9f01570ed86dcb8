// Package worktree manages the isolated checkouts agents work in. Each task
// gets a worktree at <repo>/.worktrees/agent-<slug> on branch agent/<slug>.
package worktree

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/planepilot/planepilot/internal/git"
)

// worktreeDir is the directory under the repo root that holds agent
// worktrees. It is kept out of version control by EnsureGitignore.
const worktreeDir = ".worktrees"

// Worktree describes a created or resumed checkout.
type Worktree struct {
	// Path is the absolute worktree directory.
	Path string
	// Branch is the agent branch checked out in the worktree.
	Branch string
	// IsExisting is true when the branch predated this call and the
	// worktree resumes it.
	IsExisting bool
	// LastCommit is the subject of the branch tip when resuming.
	LastCommit string
}

// Manager handles worktree lifecycle across the configured repositories.
// Operations that mutate a repo's main checkout are serialized per repo.
type Manager struct {
	// runnerFor builds a git runner for a repository path. Replaced in tests.
	runnerFor func(repoPath string) git.Runner

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager using the exec-based git runner.
func NewManager() *Manager {
	return &Manager{
		runnerFor: func(repoPath string) git.Runner { return git.NewRunner(repoPath) },
		locks:     make(map[string]*sync.Mutex),
	}
}

// NewManagerWithRunner creates a Manager with a custom runner factory (for
// testing).
func NewManagerWithRunner(runnerFor func(string) git.Runner) *Manager {
	return &Manager{
		runnerFor: runnerFor,
		locks:     make(map[string]*sync.Mutex),
	}
}

// repoLock returns the mutex serializing operations on one repository.
func (m *Manager) repoLock(repoPath string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[repoPath]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[repoPath] = lock
	}
	return lock
}

// Paths returns the worktree path and branch name for a task slug.
func Paths(repoPath, slug string) (worktreePath, branch string) {
	return filepath.Join(repoPath, worktreeDir, "agent-"+slug), "agent/" + slug
}

// Create makes a fresh worktree for the slug, starting from a clean
// origin/<defaultBranch>. It fails if the worktree directory or the branch
// already exists; resuming prior work goes through GetOrCreate.
func (m *Manager) Create(repoPath, slug, defaultBranch string) (*Worktree, error) {
	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	r := m.runnerFor(repoPath)
	if err := m.cleanBase(r, defaultBranch); err != nil {
		return nil, err
	}

	path, branch := Paths(repoPath, slug)

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("worktree already exists: %s", path)
	}
	if r.RevParseOK(branch) {
		return nil, fmt.Errorf("branch %s already exists", branch)
	}

	if err := r.WorktreeAddNewBranch(path, branch, "origin/"+defaultBranch); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	return &Worktree{Path: path, Branch: branch}, nil
}

// GetOrCreate materializes a worktree for the slug, resuming the agent
// branch when it already exists locally or on the remote. Used when
// retrying an implementation task after a crash.
func (m *Manager) GetOrCreate(repoPath, slug, defaultBranch string) (*Worktree, error) {
	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	r := m.runnerFor(repoPath)
	path, branch := Paths(repoPath, slug)

	exists, err := r.BranchExists(branch)
	if err != nil {
		return nil, fmt.Errorf("check branch: %w", err)
	}

	if exists {
		if _, statErr := os.Stat(path); statErr != nil {
			if err := r.WorktreeAdd(path, branch); err != nil {
				return nil, fmt.Errorf("attach worktree: %w", err)
			}
		}
		last, _ := r.LastCommitMessage(branch)
		return &Worktree{Path: path, Branch: branch, IsExisting: true, LastCommit: last}, nil
	}

	// The branch may live only on the remote after a crash on another day.
	_ = r.Fetch("origin", defaultBranch)
	if r.RevParseOK("origin/" + branch) {
		if err := r.WorktreeAddTrackRemote(path, branch, "origin/"+branch); err != nil {
			return nil, fmt.Errorf("attach remote branch: %w", err)
		}
		last, _ := r.LastCommitMessage(branch)
		return &Worktree{Path: path, Branch: branch, IsExisting: true, LastCommit: last}, nil
	}

	if err := m.cleanBase(r, defaultBranch); err != nil {
		return nil, err
	}
	if err := r.WorktreeAddNewBranch(path, branch, "origin/"+defaultBranch); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}
	return &Worktree{Path: path, Branch: branch}, nil
}

// cleanBase brings the main checkout to a pristine origin/<defaultBranch>
// so stale planning-phase mutations cannot leak into new worktrees.
func (m *Manager) cleanBase(r git.Runner, defaultBranch string) error {
	if err := r.Fetch("origin", defaultBranch); err != nil {
		return fmt.Errorf("fetch %s: %w", defaultBranch, err)
	}
	if err := r.ResetHard("origin/" + defaultBranch); err != nil {
		return fmt.Errorf("reset to origin/%s: %w", defaultBranch, err)
	}
	if err := r.CleanForceExclude(worktreeDir + "/"); err != nil {
		return fmt.Errorf("clean working tree: %w", err)
	}
	return nil
}

// Remove deletes the slug's worktree. Errors are swallowed so removal is
// idempotent. The agent branch is never deleted; its lifecycle belongs to
// the remote.
func (m *Manager) Remove(repoPath, slug string) {
	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	r := m.runnerFor(repoPath)
	path, _ := Paths(repoPath, slug)
	if err := r.WorktreeRemoveForce(path); err != nil {
		// Already gone, or never created. Prune bookkeeping and move on.
		_ = r.WorktreePrune()
	}
}

// List returns the worktree paths of the repository in porcelain order.
func (m *Manager) List(repoPath string) ([]string, error) {
	r := m.runnerFor(repoPath)
	out, err := r.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	var paths []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "worktree ") {
			paths = append(paths, strings.TrimPrefix(line, "worktree "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return paths, nil
}

// EnsureGitignore makes sure the worktree directory is ignored in the
// repository. The file is created if absent; a second call is a no-op.
func EnsureGitignore(repoPath string) error {
	pattern := worktreeDir + "/"
	path := filepath.Join(repoPath, ".gitignore")

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read .gitignore: %w", err)
		}
		return os.WriteFile(path, []byte(pattern+"\n"), 0644)
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}

	entry := pattern + "\n"
	if len(data) > 0 && data[len(data)-1] != '\n' {
		entry = "\n" + entry
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open .gitignore: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("append to .gitignore: %w", err)
	}
	return nil
}
