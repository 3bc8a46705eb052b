// Package host wraps the repository host API (GitHub). It exposes the
// narrow surface the orchestrator needs — pull requests, reviews,
// comments, labels, refs, dispatch — and centralizes classification of
// the host's error strings into typed kinds.
package host

import (
	"context"
	"time"
)

// Issue is a feature request on the host.
type Issue struct {
	Number int
	Title  string
	Body   string
}

// PullRequest is the subset of PR fields the orchestrator reads.
type PullRequest struct {
	Number         int
	URL            string
	State          string // open, closed
	Merged         bool
	MergeableState string // clean, dirty, unknown, ...
	HeadRef        string
	BaseRef        string
	Title          string
	Body           string
}

// Review is a submitted PR review.
type Review struct {
	ID          int64
	User        string
	State       string // APPROVED, CHANGES_REQUESTED, COMMENTED, ...
	Body        string
	SubmittedAt time.Time
}

// ReviewComment is an inline review comment. A root comment has
// InReplyTo == 0; replies carry the root's ID.
type ReviewComment struct {
	ID        int64
	InReplyTo int64
	User      string
	Body      string
	Path      string
}

// IssueComment is a general comment on an issue or PR conversation.
type IssueComment struct {
	ID   int64
	User string
	Body string
}

// Host is the repository host API surface.
type Host interface {
	GetIssue(ctx context.Context, number int) (*Issue, error)

	// FindPullRequest returns the PR with the given head and base in any
	// state, or nil when none exists.
	FindPullRequest(ctx context.Context, head, base string) (*PullRequest, error)
	CreatePullRequest(ctx context.Context, head, base, title, body string) (*PullRequest, error)
	GetPullRequest(ctx context.Context, number int) (*PullRequest, error)
	MergePullRequest(ctx context.Context, number int) error
	UpdatePullRequestBranch(ctx context.Context, number int) error
	ClosePullRequest(ctx context.Context, number int) error

	ListReviews(ctx context.Context, prNumber int) ([]Review, error)
	ListReviewComments(ctx context.Context, prNumber int) ([]ReviewComment, error)
	ListIssueComments(ctx context.Context, number int) ([]IssueComment, error)
	ReplyToReviewComment(ctx context.Context, prNumber int, commentID int64, body string) error

	// CreateIssueComment returns the new comment's ID so a later
	// invocation can regenerate it in place.
	CreateIssueComment(ctx context.Context, number int, body string) (int64, error)
	UpdateIssueComment(ctx context.Context, commentID int64, body string) error

	AddLabels(ctx context.Context, number int, labels ...string) error
	RemoveLabel(ctx context.Context, number int, label string) error

	DeleteBranch(ctx context.Context, branch string) error

	// Dispatch emits an internal orchestration event through the host's
	// event transport (repository dispatch). The transport retries with
	// backoff and passes the idempotency token through unchanged.
	Dispatch(ctx context.Context, eventType string, payload any) error
}
