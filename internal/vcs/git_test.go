package vcs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issuepilot/internal/logging"
)

// stubRunner records calls and replays canned responses keyed by the
// first git argument.
type stubRunner struct {
	calls     [][]string
	responses map[string]stubResponse
}

type stubResponse struct {
	out []byte
	err error
}

func (s *stubRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, args)
	if r, ok := s.responses[args[0]]; ok {
		return r.out, r.err
	}
	return nil, nil
}

func newTestGit(runner *stubRunner) *Git {
	if runner.responses == nil {
		runner.responses = map[string]stubResponse{}
	}
	return NewGit("/tmp/repo", runner, logging.NewTestLogger().Logger)
}

func TestListRemoteBranches(t *testing.T) {
	runner := &stubRunner{responses: map[string]stubResponse{
		"ls-remote": {out: []byte(
			"aaa111\trefs/heads/pilot/issue-7-add-healthcheck\n" +
				"bbb222\trefs/heads/pilot/issue-7-em-1\n"),
		},
	}}
	g := newTestGit(runner)

	branches, err := g.ListRemoteBranches(context.Background(), "pilot/issue-7-")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"pilot/issue-7-add-healthcheck",
		"pilot/issue-7-em-1",
	}, branches)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"ls-remote", "--heads", "origin", "pilot/issue-7-*"}, runner.calls[0])
}

func TestCommitAndPush(t *testing.T) {
	t.Run("clean tree maps to ErrNothingToCommit", func(t *testing.T) {
		runner := &stubRunner{responses: map[string]stubResponse{
			"commit": {out: []byte("nothing to commit, working tree clean"), err: errors.New("exit status 1")},
		}}
		g := newTestGit(runner)

		err := g.CommitAndPush(context.Background(), "update state", ".issuepilot/state.json")
		assert.ErrorIs(t, err, ErrNothingToCommit)
	})

	t.Run("stages only requested paths", func(t *testing.T) {
		runner := &stubRunner{responses: map[string]stubResponse{
			// commit fails cleanly so we stop before CurrentBranch (go-git).
			"commit": {out: []byte("nothing to commit"), err: errors.New("exit status 1")},
		}}
		g := newTestGit(runner)

		_ = g.CommitAndPush(context.Background(), "m", ".issuepilot/state.json")
		assert.Equal(t, []string{"add", "--", ".issuepilot/state.json"}, runner.calls[0])
	})
}

func TestRebaseConflictClassification(t *testing.T) {
	runner := &stubRunner{responses: map[string]stubResponse{
		"rebase": {
			out: []byte("CONFLICT (content): Merge conflict in health.go"),
			err: errors.New("exit status 1"),
		},
	}}
	g := newTestGit(runner)

	err := g.RebaseOnto(context.Background(), "pilot/issue-7-em-1")
	assert.ErrorIs(t, err, ErrRebaseConflict)
}

func TestConflictedFiles(t *testing.T) {
	runner := &stubRunner{responses: map[string]stubResponse{
		"diff": {out: []byte("health.go\nserver.go\n")},
	}}
	g := newTestGit(runner)

	files, err := g.ConflictedFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"health.go", "server.go"}, files)
	assert.Equal(t, []string{"diff", "--name-only", "--diff-filter=U"}, runner.calls[0])
}
