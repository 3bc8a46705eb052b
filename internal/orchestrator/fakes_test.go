package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/issuepilot/internal/config"
	"github.com/fyrsmithlabs/issuepilot/internal/executor"
	"github.com/fyrsmithlabs/issuepilot/internal/host"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
	"github.com/fyrsmithlabs/issuepilot/internal/state"
)

// fakeGit is an in-memory vcs.Client whose Dir points at a temp
// directory so the state store's file I/O works unchanged.
type fakeGit struct {
	dir      string
	current  string
	branches map[string]string // branch -> created from
	commits  []string

	rebaseErr    error
	rebaseCalled bool
}

func newFakeGit(t *testing.T) *fakeGit {
	return &fakeGit{
		dir:      t.TempDir(),
		current:  "main",
		branches: map[string]string{"main": ""},
	}
}

func (g *fakeGit) CurrentBranch(context.Context) (string, error) { return g.current, nil }

func (g *fakeGit) Checkout(_ context.Context, branch string) error {
	if _, ok := g.branches[branch]; !ok {
		return fmt.Errorf("unknown branch %s", branch)
	}
	g.current = branch
	return nil
}

func (g *fakeGit) CheckoutNew(_ context.Context, branch, from string) error {
	if _, ok := g.branches[branch]; !ok {
		g.branches[branch] = from
	}
	g.current = branch
	return nil
}

func (g *fakeGit) Fetch(context.Context) error { return nil }
func (g *fakeGit) Pull(context.Context) error { return nil }
func (g *fakeGit) Push(context.Context, string) error { return nil }
func (g *fakeGit) HasChanges(context.Context) (bool, error) { return true, nil }
func (g *fakeGit) CommitAndPush(_ context.Context, message string, _ ...string) error {
	g.commits = append(g.commits, message)
	return nil
}
func (g *fakeGit) DiffNameOnly(context.Context, string) ([]string, error) { return nil, nil }

func (g *fakeGit) ListRemoteBranches(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for b := range g.branches {
		if strings.HasPrefix(b, prefix) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (g *fakeGit) RebaseOnto(context.Context, string) error {
	g.rebaseCalled = true
	return g.rebaseErr
}
func (g *fakeGit) RebaseContinue(context.Context) error { return nil }
func (g *fakeGit) RebaseAbort(context.Context) error { return nil }
func (g *fakeGit) ConflictedFiles(context.Context) ([]string, error) { return nil, nil }
func (g *fakeGit) Dir() string { return g.dir }

// fakeHost is an in-memory host.Host.
type fakeHost struct {
	issues     map[int]*host.Issue
	prs        map[int]*host.PullRequest
	nextPR     int
	createErrs map[string]error // head branch -> error for CreatePullRequest
	mergeErrs  map[int][]error  // popped per merge attempt

	reviews        map[int][]host.Review
	reviewComments map[int][]host.ReviewComment
	comments       map[int][]host.IssueComment
	nextComment    int64

	labels     map[int]map[string]bool
	dispatched []string
	closed     []int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		issues:         map[int]*host.Issue{},
		prs:            map[int]*host.PullRequest{},
		nextPR:         100,
		createErrs:     map[string]error{},
		mergeErrs:      map[int][]error{},
		reviews:        map[int][]host.Review{},
		reviewComments: map[int][]host.ReviewComment{},
		comments:       map[int][]host.IssueComment{},
		nextComment:    9000,
		labels:         map[int]map[string]bool{},
	}
}

func (h *fakeHost) GetIssue(_ context.Context, number int) (*host.Issue, error) {
	issue, ok := h.issues[number]
	if !ok {
		return nil, &host.Error{Kind: host.KindNotFound, Op: "get_issue", Err: fmt.Errorf("issue %d", number)}
	}
	return issue, nil
}

func (h *fakeHost) FindPullRequest(_ context.Context, head, base string) (*host.PullRequest, error) {
	for _, pr := range h.prs {
		if pr.HeadRef == head && pr.BaseRef == base {
			return pr, nil
		}
	}
	return nil, nil
}

func (h *fakeHost) CreatePullRequest(_ context.Context, head, base, title, body string) (*host.PullRequest, error) {
	if err := h.createErrs[head]; err != nil {
		return nil, err
	}
	h.nextPR++
	pr := &host.PullRequest{
		Number:  h.nextPR,
		URL:     fmt.Sprintf("https://example.test/pr/%d", h.nextPR),
		State:   "open",
		HeadRef: head,
		BaseRef: base,
		Title:   title,
		Body:    body,
	}
	h.prs[pr.Number] = pr
	return pr, nil
}

func (h *fakeHost) GetPullRequest(_ context.Context, number int) (*host.PullRequest, error) {
	pr, ok := h.prs[number]
	if !ok {
		return nil, &host.Error{Kind: host.KindNotFound, Op: "get_pr", Err: fmt.Errorf("pr %d", number)}
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

func (h *fakeHost) UpdatePullRequestBranch(context.Context, int) error { return nil }

func (h *fakeHost) ClosePullRequest(_ context.Context, number int) error {
	h.closed = append(h.closed, number)
	if pr, ok := h.prs[number]; ok {
		pr.State = "closed"
	}
	return nil
}

func (h *fakeHost) ListReviews(_ context.Context, prNumber int) ([]host.Review, error) {
	return h.reviews[prNumber], nil
}

func (h *fakeHost) ListReviewComments(_ context.Context, prNumber int) ([]host.ReviewComment, error) {
	return h.reviewComments[prNumber], nil
}

func (h *fakeHost) ListIssueComments(_ context.Context, number int) ([]host.IssueComment, error) {
	return h.comments[number], nil
}

func (h *fakeHost) ReplyToReviewComment(_ context.Context, prNumber int, commentID int64, body string) error {
	h.nextComment++
	h.reviewComments[prNumber] = append(h.reviewComments[prNumber], host.ReviewComment{
		ID:        h.nextComment,
		InReplyTo: commentID,
		User:      botLogin,
		Body:      body,
	})
	return nil
}

func (h *fakeHost) CreateIssueComment(_ context.Context, number int, body string) (int64, error) {
	h.nextComment++
	h.comments[number] = append(h.comments[number], host.IssueComment{
		ID:   h.nextComment,
		User: botLogin,
		Body: body,
	})
	return h.nextComment, nil
}

func (h *fakeHost) UpdateIssueComment(_ context.Context, commentID int64, body string) error {
	for n, list := range h.comments {
		for i := range list {
			if list[i].ID == commentID {
				h.comments[n][i].Body = body
				return nil
			}
		}
	}
	return &host.Error{Kind: host.KindNotFound, Op: "update_comment", Err: fmt.Errorf("comment %d", commentID)}
}

func (h *fakeHost) AddLabels(_ context.Context, number int, labels ...string) error {
	if h.labels[number] == nil {
		h.labels[number] = map[string]bool{}
	}
	for _, l := range labels {
		h.labels[number][l] = true
	}
	return nil
}

func (h *fakeHost) RemoveLabel(_ context.Context, number int, label string) error {
	delete(h.labels[number], label)
	return nil
}

func (h *fakeHost) DeleteBranch(context.Context, string) error { return nil }

func (h *fakeHost) Dispatch(_ context.Context, eventType string, _ any) error {
	h.dispatched = append(h.dispatched, eventType)
	return nil
}

// prByHead returns the PR whose head is the given branch.
func (h *fakeHost) prByHead(head string) *host.PullRequest {
	for _, pr := range h.prs {
		if pr.HeadRef == head {
			return pr
		}
	}
	return nil
}

// scriptedExec answers executor prompts by prefix.
type scriptedExec struct {
	analysisOut  string
	breakdownOut string
	triageOut    string

	analysisCalls int
	workerCalls   int
	triageCalls   int
}

func (e *scriptedExec) ExecuteTask(_ context.Context, prompt string) (executor.TaskResult, error) {
	switch {
	case strings.HasPrefix(prompt, "Analyze this issue"):
		e.analysisCalls++
		return executor.TaskResult{Success: true, Output: e.analysisOut}, nil
	case strings.HasPrefix(prompt, "Split this engineering task"):
		return executor.TaskResult{Success: true, Output: e.breakdownOut}, nil
	case strings.HasPrefix(prompt, "Implement the following task"):
		e.workerCalls++
		return executor.TaskResult{Success: true, Output: "done"}, nil
	case strings.HasPrefix(prompt, "Triage this pull request review comment"):
		e.triageCalls++
		return executor.TaskResult{Success: true, Output: e.triageOut}, nil
	default:
		return executor.TaskResult{Success: true, Output: "done"}, nil
	}
}

type harness struct {
	git  *fakeGit
	host *fakeHost
	exec *scriptedExec
	d    *Dispatcher
}

func newHarness(t *testing.T, maxEMs, maxWorkers int) *harness {
	t.Helper()
	cfg := &config.Config{
		Repo:     config.RepoConfig{Owner: "acme", Name: "widgets", BaseBranch: "main"},
		Branches: config.BranchConfig{Prefix: "pilot"},
		Labels:   config.LabelConfig{Trigger: "issuepilot"},
		Limits:   config.LimitsConfig{MaxEMs: maxEMs, MaxWorkersPerEM: maxWorkers, ReviewWaitMinutes: 15},
		Review:   config.ReviewConfig{AutomatedReviewer: "issuepilot-reviewer[bot]"},
	}

	git := newFakeGit(t)
	hostAPI := newFakeHost()
	exec := &scriptedExec{}
	log := logging.NewTestLogger().Logger
	store := state.NewStore(git, cfg.Branches.Prefix, log)

	return &harness{
		git:  git,
		host: hostAPI,
		exec: exec,
		d:    NewDispatcher(cfg, store, git, hostAPI, exec, log, WithSequentialDispatch()),
	}
}

// loadState reads the persisted state back from the harness directory.
func (h *harness) loadState(t *testing.T) *state.OrchestratorState {
	t.Helper()
	st, err := state.NewStore(h.git, "pilot", logging.NewTestLogger().Logger).Load(context.Background())
	if err != nil {
		t.Fatalf("loading state: %v", err)
	}
	if st == nil {
		t.Fatal("no state persisted")
	}
	return st
}
