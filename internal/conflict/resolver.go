// Package conflict rebases a non-mergeable branch onto its parent,
// delegating textual conflict resolution to the AI task executor.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issuepilot/internal/executor"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
	"github.com/fyrsmithlabs/issuepilot/internal/vcs"
)

// ErrUnresolved means the rebase could not be completed; the branch has
// been restored to its pre-rebase state and the owning node should be
// marked failed.
var ErrUnresolved = errors.New("merge conflict unresolved")

// Resolver rebases one branch at a time.
type Resolver struct {
	git  vcs.Client
	exec executor.Executor
	log  *logging.Logger
}

// NewResolver creates a conflict resolver.
func NewResolver(git vcs.Client, exec executor.Executor, log *logging.Logger) *Resolver {
	return &Resolver{git: git, exec: exec, log: log.Named("conflict")}
}

// Resolve rebases branch onto parent and pushes the result. A clean
// rebase needs no executor involvement. On conflict, the executor is
// asked to resolve each conflicted file preserving both sides' intent,
// then the rebase continues. Any failure aborts the rebase so the
// branch is never left half-rebased, and returns ErrUnresolved wrapped
// with the reason.
func (r *Resolver) Resolve(ctx context.Context, branch, parent string) error {
	if err := r.git.Fetch(ctx); err != nil {
		return fmt.Errorf("fetching before rebase: %w", err)
	}
	if err := r.git.Checkout(ctx, branch); err != nil {
		return fmt.Errorf("checking out %s: %w", branch, err)
	}

	err := r.git.RebaseOnto(ctx, parent)
	if err == nil {
		return r.push(ctx, branch)
	}
	if !errors.Is(err, vcs.ErrRebaseConflict) {
		return fmt.Errorf("rebasing %s onto %s: %w", branch, parent, err)
	}

	files, ferr := r.git.ConflictedFiles(ctx)
	if ferr != nil {
		return r.abort(ctx, branch, fmt.Errorf("listing conflicted files: %w", ferr))
	}
	if len(files) == 0 {
		return r.abort(ctx, branch, errors.New("rebase stopped but no files report conflicts"))
	}
	r.log.Info(ctx, "rebase stopped on conflicts",
		zap.String("branch", branch),
		zap.String("parent", parent),
		zap.Strings("files", files))

	res, eerr := r.exec.ExecuteTask(ctx, resolvePrompt(branch, parent, files))
	if eerr != nil {
		return r.abort(ctx, branch, fmt.Errorf("executor failed resolving conflicts: %w", eerr))
	}
	if !res.Success {
		return r.abort(ctx, branch, fmt.Errorf("executor could not resolve conflicts: %s", res.Error))
	}

	if cerr := r.git.RebaseContinue(ctx); cerr != nil {
		return r.abort(ctx, branch, fmt.Errorf("continuing rebase: %w", cerr))
	}
	return r.push(ctx, branch)
}

func (r *Resolver) push(ctx context.Context, branch string) error {
	if err := r.git.Push(ctx, branch); err != nil {
		return fmt.Errorf("pushing rebased %s: %w", branch, err)
	}
	r.log.Info(ctx, "branch rebased", zap.String("branch", branch))
	return nil
}

// abort restores the branch and wraps reason in ErrUnresolved.
func (r *Resolver) abort(ctx context.Context, branch string, reason error) error {
	if aerr := r.git.RebaseAbort(ctx); aerr != nil {
		r.log.Error(ctx, "rebase abort failed", zap.String("branch", branch), zap.Error(aerr))
	}
	return fmt.Errorf("%w: %v", ErrUnresolved, reason)
}

func resolvePrompt(branch, parent string, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `A rebase of branch %s onto %s stopped on conflicts. Resolve every
conflict marker in the files below, preserving the intent of BOTH
sides, then stage the resolved files with "git add".

Conflicted files:
`, branch, parent)
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return b.String()
}
