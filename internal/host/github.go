package host

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/issuepilot/internal/config"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
)

// GitHub implements Host against the GitHub REST API.
type GitHub struct {
	gh    *github.Client
	owner string
	repo  string
	retry *RetryConfig
	log   *logging.Logger
}

// NewGitHub creates a GitHub host client with token authentication.
func NewGitHub(ctx context.Context, repo config.RepoConfig, log *logging.Logger) (*GitHub, error) {
	if !repo.Token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: repo.Token.Value()})
	tc := oauth2.NewClient(ctx, ts)

	return &GitHub{
		gh:    github.NewClient(tc),
		owner: repo.Owner,
		repo:  repo.Name,
		retry: DefaultRetryConfig(),
		log:   log.Named("host"),
	}, nil
}

func (g *GitHub) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var issue *github.Issue
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		issue, resp, err = g.gh.Issues.Get(ctx, g.owner, g.repo, number)
		return resp, err
	})
	if err != nil {
		return nil, classified("get issue", err)
	}
	return &Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
	}, nil
}

func (g *GitHub) FindPullRequest(ctx context.Context, head, base string) (*PullRequest, error) {
	var prs []*github.PullRequest
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		prs, resp, err = g.gh.PullRequests.List(ctx, g.owner, g.repo, &github.PullRequestListOptions{
			Head:        g.owner + ":" + head,
			Base:        base,
			State:       "all",
			ListOptions: github.ListOptions{PerPage: 10},
		})
		return resp, err
	})
	if err != nil {
		return nil, classified("find pull request", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return fromGitHubPR(prs[0]), nil
}

func (g *GitHub) CreatePullRequest(ctx context.Context, head, base, title, body string) (*PullRequest, error) {
	var pr *github.PullRequest
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = g.gh.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
			Title: github.String(title),
			Head:  github.String(head),
			Base:  github.String(base),
			Body:  github.String(body),
		})
		return resp, err
	})
	if err != nil {
		return nil, classified("create pull request", err)
	}
	return fromGitHubPR(pr), nil
}

func (g *GitHub) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	var pr *github.PullRequest
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = g.gh.PullRequests.Get(ctx, g.owner, g.repo, number)
		return resp, err
	})
	if err != nil {
		return nil, classified("get pull request", err)
	}
	return fromGitHubPR(pr), nil
}

func (g *GitHub) MergePullRequest(ctx context.Context, number int) error {
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		_, resp, err := g.gh.PullRequests.Merge(ctx, g.owner, g.repo, number, "", &github.PullRequestOptions{
			MergeMethod: "squash",
		})
		return resp, err
	})
	return classified("merge pull request", err)
}

func (g *GitHub) UpdatePullRequestBranch(ctx context.Context, number int) error {
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		_, resp, err := g.gh.PullRequests.UpdateBranch(ctx, g.owner, g.repo, number, nil)
		return resp, err
	})
	return classified("update pull request branch", err)
}

func (g *GitHub) ClosePullRequest(ctx context.Context, number int) error {
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		_, resp, err := g.gh.PullRequests.Edit(ctx, g.owner, g.repo, number, &github.PullRequest{
			State: github.String("closed"),
		})
		return resp, err
	})
	err = classified("close pull request", err)
	if IsKind(err, KindNotFound) {
		return nil
	}
	return err
}

func (g *GitHub) ListReviews(ctx context.Context, prNumber int) ([]Review, error) {
	var reviews []*github.PullRequestReview
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		reviews, resp, err = g.gh.PullRequests.ListReviews(ctx, g.owner, g.repo, prNumber, &github.ListOptions{PerPage: 100})
		return resp, err
	})
	if err != nil {
		return nil, classified("list reviews", err)
	}
	out := make([]Review, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, Review{
			ID:          r.GetID(),
			User:        r.GetUser().GetLogin(),
			State:       r.GetState(),
			Body:        r.GetBody(),
			SubmittedAt: r.GetSubmittedAt().Time,
		})
	}
	return out, nil
}

func (g *GitHub) ListReviewComments(ctx context.Context, prNumber int) ([]ReviewComment, error) {
	var comments []*github.PullRequestComment
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		comments, resp, err = g.gh.PullRequests.ListComments(ctx, g.owner, g.repo, prNumber, &github.PullRequestListCommentsOptions{
			ListOptions: github.ListOptions{PerPage: 100},
		})
		return resp, err
	})
	if err != nil {
		return nil, classified("list review comments", err)
	}
	out := make([]ReviewComment, 0, len(comments))
	for _, c := range comments {
		out = append(out, ReviewComment{
			ID:        c.GetID(),
			InReplyTo: c.GetInReplyTo(),
			User:      c.GetUser().GetLogin(),
			Body:      c.GetBody(),
			Path:      c.GetPath(),
		})
	}
	return out, nil
}

func (g *GitHub) ListIssueComments(ctx context.Context, number int) ([]IssueComment, error) {
	var comments []*github.IssueComment
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		comments, resp, err = g.gh.Issues.ListComments(ctx, g.owner, g.repo, number, &github.IssueListCommentsOptions{
			ListOptions: github.ListOptions{PerPage: 100},
		})
		return resp, err
	})
	if err != nil {
		return nil, classified("list issue comments", err)
	}
	out := make([]IssueComment, 0, len(comments))
	for _, c := range comments {
		out = append(out, IssueComment{
			ID:   c.GetID(),
			User: c.GetUser().GetLogin(),
			Body: c.GetBody(),
		})
	}
	return out, nil
}

func (g *GitHub) ReplyToReviewComment(ctx context.Context, prNumber int, commentID int64, body string) error {
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		_, resp, err := g.gh.PullRequests.CreateCommentInReplyTo(ctx, g.owner, g.repo, prNumber, body, commentID)
		return resp, err
	})
	return classified("reply to review comment", err)
}

func (g *GitHub) CreateIssueComment(ctx context.Context, number int, body string) (int64, error) {
	var comment *github.IssueComment
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		comment, resp, err = g.gh.Issues.CreateComment(ctx, g.owner, g.repo, number, &github.IssueComment{
			Body: github.String(body),
		})
		return resp, err
	})
	if err != nil {
		return 0, classified("create issue comment", err)
	}
	return comment.GetID(), nil
}

func (g *GitHub) UpdateIssueComment(ctx context.Context, commentID int64, body string) error {
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		_, resp, err := g.gh.Issues.EditComment(ctx, g.owner, g.repo, commentID, &github.IssueComment{
			Body: github.String(body),
		})
		return resp, err
	})
	return classified("update issue comment", err)
}

func (g *GitHub) AddLabels(ctx context.Context, number int, labels ...string) error {
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		_, resp, err := g.gh.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, number, labels)
		return resp, err
	})
	return classified("add labels", err)
}

func (g *GitHub) RemoveLabel(ctx context.Context, number int, label string) error {
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		return g.gh.Issues.RemoveLabelForIssue(ctx, g.owner, g.repo, number, label)
	})
	if err != nil {
		// A label that is already gone is fine: removal is idempotent.
		if cerr := classified("remove label", err); !IsKind(cerr, KindNotFound) {
			return cerr
		}
	}
	return nil
}

func (g *GitHub) DeleteBranch(ctx context.Context, branch string) error {
	_, err := retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		return g.gh.Git.DeleteRef(ctx, g.owner, g.repo, "refs/heads/"+branch)
	})
	if err != nil {
		if cerr := classified("delete branch", err); !IsKind(cerr, KindNotFound) {
			return cerr
		}
	}
	return nil
}

func (g *GitHub) Dispatch(ctx context.Context, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding dispatch payload: %w", err)
	}
	rawMsg := json.RawMessage(raw)
	_, err = retryOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		_, resp, err := g.gh.Repositories.Dispatch(ctx, g.owner, g.repo, github.DispatchRequestOptions{
			EventType:     eventType,
			ClientPayload: &rawMsg,
		})
		return resp, err
	})
	return classified("dispatch event", err)
}

func fromGitHubPR(pr *github.PullRequest) *PullRequest {
	if pr == nil {
		return nil
	}
	return &PullRequest{
		Number:         pr.GetNumber(),
		URL:            pr.GetHTMLURL(),
		State:          pr.GetState(),
		Merged:         pr.GetMerged(),
		MergeableState: pr.GetMergeableState(),
		HeadRef:        pr.GetHead().GetRef(),
		BaseRef:        pr.GetBase().GetRef(),
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
	}
}
