package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Runner using exec.Command.
type ExecRunner struct {
	repoPath string
}

// NewRunner creates a git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath}
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and ignores output.
func (r *ExecRunner) runSilent(args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return nil
}

// Run executes an arbitrary git command with the given arguments.
func (r *ExecRunner) Run(args ...string) (string, error) {
	return r.run(args...)
}

// BranchExists returns true if the local branch exists.
func (r *ExecRunner) BranchExists(name string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = r.repoPath
	err := cmd.Run()
	if err != nil {
		// Exit code 1 means the branch doesn't exist (not an error).
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// RevParseOK reports whether the given ref resolves.
func (r *ExecRunner) RevParseOK(ref string) bool {
	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", ref)
	cmd.Dir = r.repoPath
	return cmd.Run() == nil
}

// LastCommitMessage returns the subject line of the ref's last commit.
func (r *ExecRunner) LastCommitMessage(ref string) (string, error) {
	return r.run("log", "-1", "--format=%s", ref)
}

// Fetch fetches the given ref from the named remote.
func (r *ExecRunner) Fetch(remote, ref string) error {
	return r.runSilent("fetch", remote, ref)
}

// ResetHard resets the working tree and index to the given ref.
func (r *ExecRunner) ResetHard(ref string) error {
	return r.runSilent("reset", "--hard", ref)
}

// CleanForceExclude removes untracked files and directories, keeping paths
// matching the exclude pattern.
func (r *ExecRunner) CleanForceExclude(exclude string) error {
	return r.runSilent("clean", "-fd", "-e", exclude)
}

// WorktreeAdd creates a worktree at path checked out to an existing branch.
func (r *ExecRunner) WorktreeAdd(path, branch string) error {
	return r.runSilent("worktree", "add", path, branch)
}

// WorktreeAddNewBranch creates a worktree at path on a new branch starting
// at the given start point.
func (r *ExecRunner) WorktreeAddNewBranch(path, branch, startPoint string) error {
	return r.runSilent("worktree", "add", path, "-b", branch, startPoint)
}

// WorktreeAddTrackRemote creates a worktree on a new local branch tracking
// the remote branch.
func (r *ExecRunner) WorktreeAddTrackRemote(path, branch, remoteRef string) error {
	return r.runSilent("worktree", "add", "--track", "-b", branch, path, remoteRef)
}

// WorktreeRemoveForce removes the worktree at path, discarding changes.
func (r *ExecRunner) WorktreeRemoveForce(path string) error {
	return r.runSilent("worktree", "remove", "--force", path)
}

// WorktreeListPorcelain returns the raw porcelain listing.
func (r *ExecRunner) WorktreeListPorcelain() (string, error) {
	return r.run("worktree", "list", "--porcelain")
}

// WorktreePrune removes stale worktree bookkeeping.
func (r *ExecRunner) WorktreePrune() error {
	return r.runSilent("worktree", "prune")
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
