package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issuepilot/internal/logging"
)

// Sentinel errors classified from git output.
var (
	// ErrNothingToCommit means the working tree was clean at commit time.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrRebaseConflict means a rebase stopped on textual conflicts.
	ErrRebaseConflict = errors.New("rebase conflict")
)

// Git implements Client against a local checkout with an origin remote.
type Git struct {
	dir    string
	runner Runner
	log    *logging.Logger
}

// NewGit creates a Client for the checkout at dir.
func NewGit(dir string, runner Runner, log *logging.Logger) *Git {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Git{dir: dir, runner: runner, log: log.Named("vcs")}
}

// Dir returns the repository working directory.
func (g *Git) Dir() string {
	return g.dir
}

// CurrentBranch reads HEAD through go-git; no subprocess needed.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	repo, err := gogit.PlainOpen(g.dir)
	if err != nil {
		return "", fmt.Errorf("opening repository at %s: %w", g.dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("detached HEAD at %s", head.Hash())
	}
	return head.Name().Short(), nil
}

func (g *Git) Checkout(ctx context.Context, branch string) error {
	if err := g.Fetch(ctx); err != nil {
		return err
	}
	if _, err := g.runner.Run(ctx, g.dir, "checkout", branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	g.log.Debug(ctx, "checked out branch", zap.String("branch", branch))
	return nil
}

func (g *Git) CheckoutNew(ctx context.Context, branch, from string) error {
	if err := g.Fetch(ctx); err != nil {
		return err
	}
	// Existing remote branch wins: replayed events must not recreate it.
	existing, err := g.ListRemoteBranches(ctx, branch)
	if err != nil {
		return err
	}
	for _, b := range existing {
		if b == branch {
			return g.Checkout(ctx, branch)
		}
	}
	if _, err := g.runner.Run(ctx, g.dir, "checkout", "-b", branch, "origin/"+from); err != nil {
		return fmt.Errorf("creating branch %s from %s: %w", branch, from, err)
	}
	g.log.Info(ctx, "created branch", zap.String("branch", branch), zap.String("from", from))
	return nil
}

func (g *Git) Fetch(ctx context.Context) error {
	if _, err := g.runner.Run(ctx, g.dir, "fetch", "origin", "--prune"); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

func (g *Git) Pull(ctx context.Context) error {
	if _, err := g.runner.Run(ctx, g.dir, "pull", "--ff-only"); err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	return nil
}

func (g *Git) Push(ctx context.Context, branch string) error {
	if _, err := g.runner.Run(ctx, g.dir, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

func (g *Git) CommitAndPush(ctx context.Context, message string, paths ...string) error {
	addArgs := append([]string{"add", "--"}, paths...)
	if _, err := g.runner.Run(ctx, g.dir, addArgs...); err != nil {
		return fmt.Errorf("staging %v: %w", paths, err)
	}

	out, err := g.runner.Run(ctx, g.dir, "commit", "-m", message)
	if err != nil {
		if strings.Contains(string(out), "nothing to commit") ||
			strings.Contains(err.Error(), "nothing to commit") {
			return ErrNothingToCommit
		}
		return fmt.Errorf("commit: %w", err)
	}

	branch, err := g.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	return g.Push(ctx, branch)
}

func (g *Git) HasChanges(ctx context.Context) (bool, error) {
	out, err := g.runner.Run(ctx, g.dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

func (g *Git) DiffNameOnly(ctx context.Context, base string) ([]string, error) {
	out, err := g.runner.Run(ctx, g.dir, "diff", "--name-only", "origin/"+base+"...HEAD")
	if err != nil {
		return nil, fmt.Errorf("diff against %s: %w", base, err)
	}
	return splitLines(out), nil
}

func (g *Git) ListRemoteBranches(ctx context.Context, prefix string) ([]string, error) {
	out, err := g.runner.Run(ctx, g.dir, "ls-remote", "--heads", "origin", prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("listing remote branches %s*: %w", prefix, err)
	}
	var branches []string
	for _, line := range splitLines(out) {
		// "<sha>\trefs/heads/<name>"
		_, ref, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		branches = append(branches, strings.TrimPrefix(ref, "refs/heads/"))
	}
	return branches, nil
}

func (g *Git) RebaseOnto(ctx context.Context, target string) error {
	out, err := g.runner.Run(ctx, g.dir, "rebase", "origin/"+target)
	if err != nil {
		if isConflictOutput(out, err) {
			return ErrRebaseConflict
		}
		return fmt.Errorf("rebase onto %s: %w", target, err)
	}
	return nil
}

func (g *Git) RebaseContinue(ctx context.Context) error {
	// GIT_EDITOR=true would be needed interactively; -c core.editor=true
	// keeps the continuation non-interactive.
	out, err := g.runner.Run(ctx, g.dir, "-c", "core.editor=true", "rebase", "--continue")
	if err != nil {
		if isConflictOutput(out, err) {
			return ErrRebaseConflict
		}
		return fmt.Errorf("rebase continue: %w", err)
	}
	return nil
}

func (g *Git) RebaseAbort(ctx context.Context) error {
	if _, err := g.runner.Run(ctx, g.dir, "rebase", "--abort"); err != nil {
		return fmt.Errorf("rebase abort: %w", err)
	}
	return nil
}

func (g *Git) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := g.runner.Run(ctx, g.dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("listing conflicts: %w", err)
	}
	return splitLines(out), nil
}

func isConflictOutput(out []byte, err error) bool {
	combined := string(out) + err.Error()
	return strings.Contains(combined, "CONFLICT") ||
		strings.Contains(combined, "could not apply") ||
		strings.Contains(combined, "needs merge")
}

func splitLines(out []byte) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
