// Package topology creates the work→EM→worker branch hierarchy and the
// pull requests between its levels. Every operation is idempotent or a
// safe no-op so replayed events cannot duplicate branches or PRs.
package topology

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issuepilot/internal/host"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
	"github.com/fyrsmithlabs/issuepilot/internal/state"
	"github.com/fyrsmithlabs/issuepilot/internal/vcs"
)

// Manager builds branches and PRs for one issue's task tree.
type Manager struct {
	hostAPI host.Host
	git     vcs.Client
	prefix  string
	log     *logging.Logger
}

// NewManager creates a topology manager.
func NewManager(hostAPI host.Host, git vcs.Client, branchPrefix string, log *logging.Logger) *Manager {
	return &Manager{
		hostAPI: hostAPI,
		git:     git,
		prefix:  branchPrefix,
		log:     log.Named("topology"),
	}
}

// CreateEMBranch creates the EM's branch from the work branch and
// records it on the EM. No-op when the branch already exists.
func (m *Manager) CreateEMBranch(ctx context.Context, st *state.OrchestratorState, em *state.EMState) error {
	branch := state.EMBranchName(m.prefix, st.Issue.Number, em.ID)
	if err := m.git.CheckoutNew(ctx, branch, st.WorkBranch); err != nil {
		return fmt.Errorf("creating EM %d branch: %w", em.ID, err)
	}
	em.Branch = branch
	return nil
}

// CreateWorkerBranch creates the worker's branch from its EM branch and
// records it on the worker. No-op when the branch already exists.
func (m *Manager) CreateWorkerBranch(ctx context.Context, em *state.EMState, w *state.WorkerState) error {
	branch := state.WorkerBranchName(em.Branch, w.ID)
	if err := m.git.CheckoutNew(ctx, branch, em.Branch); err != nil {
		return fmt.Errorf("creating worker %d/%d branch: %w", em.ID, w.ID, err)
	}
	w.Branch = branch
	return nil
}

// CreatePullRequest opens a PR from head to base, or returns the
// existing one (any state) unchanged when a replayed event already
// created it.
//
// A "no commits between" rejection from the host is not a failure: the
// caller marks the owning node skipped and the tree continues. Detect
// it with host.IsKind(err, host.KindNoCommits).
func (m *Manager) CreatePullRequest(ctx context.Context, head, base, title, body string) (*host.PullRequest, error) {
	existing, err := m.hostAPI.FindPullRequest(ctx, head, base)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		m.log.Debug(ctx, "pull request already exists",
			zap.Int("pr", existing.Number),
			zap.String("head", head),
			zap.String("base", base))
		return existing, nil
	}

	pr, err := m.hostAPI.CreatePullRequest(ctx, head, base, title, body)
	if err != nil {
		return nil, err
	}
	m.log.Info(ctx, "pull request created",
		zap.Int("pr", pr.Number),
		zap.String("head", head),
		zap.String("base", base))
	return pr, nil
}

// MergePullRequest merges the PR idempotently:
//   - "base branch modified": the branch is updated once and the merge
//     retried
//   - already merged (by a duplicate delivery): success
//   - not mergeable: returned to the caller, who routes the node to the
//     conflict resolver (host.IsKind(err, host.KindNotMergeable))
func (m *Manager) MergePullRequest(ctx context.Context, number int) error {
	err := m.hostAPI.MergePullRequest(ctx, number)
	if err == nil {
		m.log.Info(ctx, "pull request merged", zap.Int("pr", number))
		return nil
	}

	switch {
	case host.IsKind(err, host.KindAlreadyMerged):
		return nil

	case host.IsKind(err, host.KindBaseModified):
		m.log.Info(ctx, "base branch modified, updating and retrying merge", zap.Int("pr", number))
		if uerr := m.hostAPI.UpdatePullRequestBranch(ctx, number); uerr != nil {
			return fmt.Errorf("updating branch for PR %d: %w", number, uerr)
		}
		if merr := m.hostAPI.MergePullRequest(ctx, number); merr != nil {
			return m.resolveMergeFailure(ctx, number, merr)
		}
		m.log.Info(ctx, "pull request merged after branch update", zap.Int("pr", number))
		return nil

	default:
		return m.resolveMergeFailure(ctx, number, err)
	}
}

// resolveMergeFailure double-checks whether the PR is in fact merged
// before reporting a failure. Out-of-order deliveries can merge a PR
// between our attempt and the error arriving.
func (m *Manager) resolveMergeFailure(ctx context.Context, number int, err error) error {
	pr, gerr := m.hostAPI.GetPullRequest(ctx, number)
	if gerr == nil && pr != nil && pr.Merged {
		return nil
	}
	return err
}
