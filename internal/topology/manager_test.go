package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issuepilot/internal/host"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
	"github.com/fyrsmithlabs/issuepilot/internal/state"
)

type fakeGit struct {
	branches map[string]string // branch -> created from
}

func newFakeGit() *fakeGit {
	return &fakeGit{branches: map[string]string{}}
}

func (g *fakeGit) CurrentBranch(context.Context) (string, error) { return "main", nil }
func (g *fakeGit) Checkout(context.Context, string) error { return nil }
func (g *fakeGit) CheckoutNew(_ context.Context, branch, from string) error {
	if _, ok := g.branches[branch]; !ok {
		g.branches[branch] = from
	}
	return nil
}
func (g *fakeGit) Fetch(context.Context) error { return nil }
func (g *fakeGit) Pull(context.Context) error { return nil }
func (g *fakeGit) Push(context.Context, string) error { return nil }
func (g *fakeGit) CommitAndPush(context.Context, string, ...string) error { return nil }
func (g *fakeGit) HasChanges(context.Context) (bool, error) { return false, nil }
func (g *fakeGit) DiffNameOnly(context.Context, string) ([]string, error) { return nil, nil }
func (g *fakeGit) ListRemoteBranches(context.Context, string) ([]string, error) {
	return nil, nil
}
func (g *fakeGit) RebaseOnto(context.Context, string) error { return nil }
func (g *fakeGit) RebaseContinue(context.Context) error { return nil }
func (g *fakeGit) RebaseAbort(context.Context) error { return nil }
func (g *fakeGit) ConflictedFiles(context.Context) ([]string, error) { return nil, nil }
func (g *fakeGit) Dir() string { return "/tmp/repo" }

type fakeHost struct {
	host.Host

	prs        map[int]*host.PullRequest
	nextNumber int
	created    int

	mergeErrs map[int][]error // popped per merge attempt
	updated   []int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		prs:        map[int]*host.PullRequest{},
		nextNumber: 100,
		mergeErrs:  map[int][]error{},
	}
}

func (h *fakeHost) FindPullRequest(_ context.Context, head, base string) (*host.PullRequest, error) {
	for _, pr := range h.prs {
		if pr.HeadRef == head && pr.BaseRef == base {
			return pr, nil
		}
	}
	return nil, nil
}

func (h *fakeHost) CreatePullRequest(_ context.Context, head, base, title, _ string) (*host.PullRequest, error) {
	h.created++
	h.nextNumber++
	pr := &host.PullRequest{Number: h.nextNumber, HeadRef: head, BaseRef: base, Title: title, State: "open"}
	h.prs[pr.Number] = pr
	return pr, nil
}

func (h *fakeHost) GetPullRequest(_ context.Context, number int) (*host.PullRequest, error) {
	pr, ok := h.prs[number]
	if !ok {
		return nil, &host.Error{Kind: host.KindNotFound, Op: "get_pr", Err: errors.New("missing")}
	}
	return pr, nil
}

func (h *fakeHost) MergePullRequest(_ context.Context, number int) error {
	if errs := h.mergeErrs[number]; len(errs) > 0 {
		err := errs[0]
		h.mergeErrs[number] = errs[1:]
		return err
	}
	if pr, ok := h.prs[number]; ok {
		pr.Merged = true
		pr.State = "closed"
	}
	return nil
}

func (h *fakeHost) UpdatePullRequestBranch(_ context.Context, number int) error {
	h.updated = append(h.updated, number)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeHost, *fakeGit) {
	t.Helper()
	hostAPI := newFakeHost()
	git := newFakeGit()
	return NewManager(hostAPI, git, "pilot", logging.NewTestLogger().Logger), hostAPI, git
}

func TestCreateEMBranch(t *testing.T) {
	mgr, _, git := newTestManager(t)

	st := &state.OrchestratorState{
		Issue:      state.Issue{Number: 42},
		WorkBranch: "pilot/issue-42-fix-login",
	}
	em := &state.EMState{ID: 1}

	require.NoError(t, mgr.CreateEMBranch(context.Background(), st, em))
	assert.Equal(t, "pilot/issue-42-em-1", em.Branch)
	assert.Equal(t, st.WorkBranch, git.branches["pilot/issue-42-em-1"])

	// Replayed event is a no-op.
	require.NoError(t, mgr.CreateEMBranch(context.Background(), st, em))
	assert.Len(t, git.branches, 1)
}

func TestCreateWorkerBranch(t *testing.T) {
	mgr, _, git := newTestManager(t)

	em := &state.EMState{ID: 2, Branch: "pilot/issue-42-em-2"}
	w := &state.WorkerState{ID: 3}

	require.NoError(t, mgr.CreateWorkerBranch(context.Background(), em, w))
	assert.Equal(t, "pilot/issue-42-em-2-w-3", w.Branch)
	assert.Equal(t, em.Branch, git.branches[w.Branch])
}

func TestCreatePullRequest(t *testing.T) {
	t.Run("creates when absent", func(t *testing.T) {
		mgr, hostAPI, _ := newTestManager(t)

		pr, err := mgr.CreatePullRequest(context.Background(), "head-a", "base-a", "title", "body")
		require.NoError(t, err)
		assert.Equal(t, 1, hostAPI.created)
		assert.Equal(t, "head-a", pr.HeadRef)
	})

	t.Run("returns existing for same head and base", func(t *testing.T) {
		mgr, hostAPI, _ := newTestManager(t)

		first, err := mgr.CreatePullRequest(context.Background(), "head-a", "base-a", "title", "body")
		require.NoError(t, err)

		second, err := mgr.CreatePullRequest(context.Background(), "head-a", "base-a", "other title", "")
		require.NoError(t, err)
		assert.Equal(t, first.Number, second.Number)
		assert.Equal(t, 1, hostAPI.created)
	})

	t.Run("returns existing even when closed", func(t *testing.T) {
		mgr, hostAPI, _ := newTestManager(t)

		first, err := mgr.CreatePullRequest(context.Background(), "head-a", "base-a", "title", "body")
		require.NoError(t, err)
		hostAPI.prs[first.Number].State = "closed"
		hostAPI.prs[first.Number].Merged = true

		second, err := mgr.CreatePullRequest(context.Background(), "head-a", "base-a", "title", "body")
		require.NoError(t, err)
		assert.Equal(t, first.Number, second.Number)
		assert.Equal(t, 1, hostAPI.created)
	})
}

func TestMergePullRequest(t *testing.T) {
	baseModified := &host.Error{Kind: host.KindBaseModified, Op: "merge_pr", Err: errors.New("Base branch was modified")}
	notMergeable := &host.Error{Kind: host.KindNotMergeable, Op: "merge_pr", Err: errors.New("Pull Request is not mergeable")}
	alreadyMerged := &host.Error{Kind: host.KindAlreadyMerged, Op: "merge_pr", Err: errors.New("Pull Request successfully merged")}

	t.Run("plain merge", func(t *testing.T) {
		mgr, hostAPI, _ := newTestManager(t)
		pr, _ := hostAPI.CreatePullRequest(context.Background(), "h", "b", "t", "")

		require.NoError(t, mgr.MergePullRequest(context.Background(), pr.Number))
		assert.True(t, hostAPI.prs[pr.Number].Merged)
	})

	t.Run("base modified updates branch once and retries", func(t *testing.T) {
		mgr, hostAPI, _ := newTestManager(t)
		pr, _ := hostAPI.CreatePullRequest(context.Background(), "h", "b", "t", "")
		hostAPI.mergeErrs[pr.Number] = []error{baseModified}

		require.NoError(t, mgr.MergePullRequest(context.Background(), pr.Number))
		assert.Equal(t, []int{pr.Number}, hostAPI.updated)
		assert.True(t, hostAPI.prs[pr.Number].Merged)
	})

	t.Run("not mergeable after update surfaces to caller", func(t *testing.T) {
		mgr, hostAPI, _ := newTestManager(t)
		pr, _ := hostAPI.CreatePullRequest(context.Background(), "h", "b", "t", "")
		hostAPI.mergeErrs[pr.Number] = []error{baseModified, notMergeable}

		err := mgr.MergePullRequest(context.Background(), pr.Number)
		require.Error(t, err)
		assert.True(t, host.IsKind(err, host.KindNotMergeable))
	})

	t.Run("not mergeable surfaces to caller", func(t *testing.T) {
		mgr, hostAPI, _ := newTestManager(t)
		pr, _ := hostAPI.CreatePullRequest(context.Background(), "h", "b", "t", "")
		hostAPI.mergeErrs[pr.Number] = []error{notMergeable}

		err := mgr.MergePullRequest(context.Background(), pr.Number)
		require.Error(t, err)
		assert.True(t, host.IsKind(err, host.KindNotMergeable))
	})

	t.Run("already merged is success", func(t *testing.T) {
		mgr, hostAPI, _ := newTestManager(t)
		pr, _ := hostAPI.CreatePullRequest(context.Background(), "h", "b", "t", "")
		hostAPI.mergeErrs[pr.Number] = []error{alreadyMerged}

		require.NoError(t, mgr.MergePullRequest(context.Background(), pr.Number))
	})

	t.Run("failure resolved by rechecking merged flag", func(t *testing.T) {
		mgr, hostAPI, _ := newTestManager(t)
		pr, _ := hostAPI.CreatePullRequest(context.Background(), "h", "b", "t", "")
		hostAPI.prs[pr.Number].Merged = true
		hostAPI.mergeErrs[pr.Number] = []error{notMergeable}

		require.NoError(t, mgr.MergePullRequest(context.Background(), pr.Number))
	})
}
