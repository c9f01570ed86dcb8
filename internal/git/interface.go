// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for branch inspection.
type BranchOperations interface {
	// BranchExists returns true if the local branch exists.
	BranchExists(name string) (bool, error)
	// RevParseOK reports whether the given ref resolves.
	RevParseOK(ref string) bool
	// LastCommitMessage returns the subject line of the ref's last commit.
	LastCommitMessage(ref string) (string, error)
}

// CheckoutOperations defines the interface for resetting the main checkout.
type CheckoutOperations interface {
	// ResetHard resets the working tree and index to the given ref.
	ResetHard(ref string) error
	// CleanForceExclude removes untracked files and directories, keeping
	// paths matching the exclude pattern.
	CleanForceExclude(exclude string) error
}

// RemoteOperations defines the interface for remote interaction.
type RemoteOperations interface {
	// Fetch fetches the given ref from the named remote.
	Fetch(remote, ref string) error
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a worktree at path checked out to an existing branch.
	WorktreeAdd(path, branch string) error
	// WorktreeAddNewBranch creates a worktree at path on a new branch
	// starting at the given start point.
	WorktreeAddNewBranch(path, branch, startPoint string) error
	// WorktreeAddTrackRemote creates a worktree on a new local branch
	// tracking the remote branch of the same name.
	WorktreeAddTrackRemote(path, branch, remoteRef string) error
	// WorktreeRemoveForce removes the worktree at path, discarding changes.
	WorktreeRemoveForce(path string) error
	// WorktreeListPorcelain returns the raw porcelain listing.
	WorktreeListPorcelain() (string, error)
	// WorktreePrune removes stale worktree bookkeeping.
	WorktreePrune() error
}

// Runner defines the complete interface for git operations used by the
// worktree manager. Consumers should prefer the focused interfaces.
type Runner interface {
	BranchOperations
	CheckoutOperations
	RemoteOperations
	WorktreeOperations
	// Run executes an arbitrary git command and returns its output.
	Run(args ...string) (string, error)
}
