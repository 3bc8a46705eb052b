package conflict

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issuepilot/internal/executor"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
	"github.com/fyrsmithlabs/issuepilot/internal/vcs"
)

type fakeGit struct {
	vcs.Client

	rebaseErr   error
	continueErr error
	conflicted  []string

	calls []string
}

func (g *fakeGit) Fetch(context.Context) error { g.calls = append(g.calls, "fetch"); return nil }
func (g *fakeGit) Checkout(_ context.Context, branch string) error {
	g.calls = append(g.calls, "checkout "+branch)
	return nil
}
func (g *fakeGit) RebaseOnto(_ context.Context, target string) error {
	g.calls = append(g.calls, "rebase "+target)
	return g.rebaseErr
}
func (g *fakeGit) RebaseContinue(context.Context) error {
	g.calls = append(g.calls, "continue")
	return g.continueErr
}
func (g *fakeGit) RebaseAbort(context.Context) error {
	g.calls = append(g.calls, "abort")
	return nil
}
func (g *fakeGit) ConflictedFiles(context.Context) ([]string, error) {
	return g.conflicted, nil
}
func (g *fakeGit) Push(_ context.Context, branch string) error {
	g.calls = append(g.calls, "push "+branch)
	return nil
}

type fakeExec struct {
	result executor.TaskResult
	err    error
	prompt string
}

func (e *fakeExec) ExecuteTask(_ context.Context, prompt string) (executor.TaskResult, error) {
	e.prompt = prompt
	return e.result, e.err
}

func newResolver(git *fakeGit, exec *fakeExec) *Resolver {
	return NewResolver(git, exec, logging.NewTestLogger().Logger)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("clean rebase pushes without executor", func(t *testing.T) {
		git := &fakeGit{}
		exec := &fakeExec{}

		require.NoError(t, newResolver(git, exec).Resolve(ctx, "pilot/issue-7-em-1-w-2", "pilot/issue-7-em-1"))
		assert.Equal(t, []string{
			"fetch",
			"checkout pilot/issue-7-em-1-w-2",
			"rebase pilot/issue-7-em-1",
			"push pilot/issue-7-em-1-w-2",
		}, git.calls)
		assert.Empty(t, exec.prompt)
	})

	t.Run("conflicts resolved by executor then continued", func(t *testing.T) {
		git := &fakeGit{rebaseErr: vcs.ErrRebaseConflict, conflicted: []string{"a.go", "b.go"}}
		exec := &fakeExec{result: executor.TaskResult{Success: true}}

		require.NoError(t, newResolver(git, exec).Resolve(ctx, "w", "em"))
		assert.Contains(t, exec.prompt, "a.go")
		assert.Contains(t, exec.prompt, "b.go")
		assert.Contains(t, git.calls, "continue")
		assert.Contains(t, git.calls, "push w")
		assert.NotContains(t, git.calls, "abort")
	})

	t.Run("executor failure aborts rebase", func(t *testing.T) {
		git := &fakeGit{rebaseErr: vcs.ErrRebaseConflict, conflicted: []string{"a.go"}}
		exec := &fakeExec{result: executor.TaskResult{Success: false, Error: "cannot reconcile"}}

		err := newResolver(git, exec).Resolve(ctx, "w", "em")
		require.ErrorIs(t, err, ErrUnresolved)
		assert.Contains(t, err.Error(), "cannot reconcile")
		assert.Contains(t, git.calls, "abort")
		assert.NotContains(t, git.calls, "push w")
	})

	t.Run("continue failure aborts rebase", func(t *testing.T) {
		git := &fakeGit{
			rebaseErr:   vcs.ErrRebaseConflict,
			continueErr: errors.New("unmerged paths remain"),
			conflicted:  []string{"a.go"},
		}
		exec := &fakeExec{result: executor.TaskResult{Success: true}}

		err := newResolver(git, exec).Resolve(ctx, "w", "em")
		require.ErrorIs(t, err, ErrUnresolved)
		assert.Contains(t, git.calls, "abort")
	})

	t.Run("non-conflict rebase error surfaces directly", func(t *testing.T) {
		git := &fakeGit{rebaseErr: errors.New("unknown revision")}
		exec := &fakeExec{}

		err := newResolver(git, exec).Resolve(ctx, "w", "em")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnresolved)
		assert.NotContains(t, git.calls, "abort")
	})
}
