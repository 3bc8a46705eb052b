// Package vcs provides the version-control client used by the
// orchestrator: branch checkout, commit+push, rebase control, and
// remote branch discovery.
//
// Reads that only inspect the local repository use go-git; mutating
// operations and remote queries shell out to the git binary through a
// Runner, since go-git does not implement rebase.
package vcs

import "context"

// Client is the version-control surface the orchestrator depends on.
// All operations are blocking and may return transient errors.
type Client interface {
	// CurrentBranch returns the branch name of the current checkout.
	CurrentBranch(ctx context.Context) (string, error)

	// Checkout switches to an existing branch, fetching it first.
	Checkout(ctx context.Context, branch string) error

	// CheckoutNew creates branch from the tip of from and switches to
	// it. No-op if branch already exists on the remote.
	CheckoutNew(ctx context.Context, branch, from string) error

	// Fetch updates remote tracking refs.
	Fetch(ctx context.Context) error

	// Pull fast-forwards the current branch.
	Pull(ctx context.Context) error

	// Push pushes the named branch to origin.
	Push(ctx context.Context, branch string) error

	// CommitAndPush stages paths, commits with message, and pushes the
	// current branch. Returns ErrNothingToCommit when the tree is clean.
	CommitAndPush(ctx context.Context, message string, paths ...string) error

	// HasChanges reports whether the working tree differs from HEAD.
	HasChanges(ctx context.Context) (bool, error)

	// DiffNameOnly lists files changed on the current branch vs base.
	DiffNameOnly(ctx context.Context, base string) ([]string, error)

	// ListRemoteBranches lists remote branch names starting with prefix.
	ListRemoteBranches(ctx context.Context, prefix string) ([]string, error)

	// RebaseOnto starts a rebase of the current branch onto target.
	// Returns ErrRebaseConflict when the rebase stops on conflicts.
	RebaseOnto(ctx context.Context, target string) error

	// RebaseContinue continues a conflicted rebase after resolution.
	RebaseContinue(ctx context.Context) error

	// RebaseAbort abandons an in-progress rebase, restoring the branch.
	RebaseAbort(ctx context.Context) error

	// ConflictedFiles lists paths currently in a conflicted state.
	ConflictedFiles(ctx context.Context) ([]string, error)

	// Dir returns the repository working directory.
	Dir() string
}
