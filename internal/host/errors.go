package host

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
)

// Kind classifies a host API failure. Classification is centralized
// here because the host reports most conditions only as fragments of a
// human-readable message; every known fragment gets its own unit test.
type Kind int

const (
	// KindUnknown is an unclassified failure, treated as fatal for the
	// current invocation.
	KindUnknown Kind = iota

	// KindTransient is a network/API hiccup worth retrying with backoff.
	KindTransient

	// KindRateLimit is a primary or secondary rate limit.
	KindRateLimit

	// KindNoCommits means PR creation found no commits between head and
	// base. Treated as a soft skip, not a failure.
	KindNoCommits

	// KindBaseModified means the merge was rejected because the base
	// branch moved. The branch is updated once and the merge retried.
	KindBaseModified

	// KindNotMergeable means the PR has conflicts and needs the
	// conflict resolver.
	KindNotMergeable

	// KindAlreadyMerged means the PR was merged by an earlier delivery
	// of this event. Reported as success by the caller.
	KindAlreadyMerged

	// KindNotFound is a missing resource (deleted branch, closed PR).
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimit:
		return "rate_limit"
	case KindNoCommits:
		return "no_commits"
	case KindBaseModified:
		return "base_modified"
	case KindNotMergeable:
		return "not_mergeable"
	case KindAlreadyMerged:
		return "already_merged"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error wraps a host API failure with its classified kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err carries the given host error kind.
func IsKind(err error, kind Kind) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind == kind
	}
	return false
}

// Known message fragments, inherited from observed host behavior. These
// are brittle by nature; keep each one covered in errors_test.go.
const (
	fragNoCommits     = "No commits between"
	fragBaseModified  = "Base branch was modified"
	fragNotMergeable  = "Pull Request is not mergeable"
	fragAlreadyMerged = "Pull Request successfully merged" // only seen on races
	fragMergeConflict = "merge conflict"
	fragRateLimit     = "rate limit"
	fragAbuseLimit    = "abuse detection"
)

// Classify maps a raw go-github error to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return KindRateLimit
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return KindRateLimit
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, fragNoCommits):
		return KindNoCommits
	case strings.Contains(msg, fragBaseModified):
		return KindBaseModified
	case strings.Contains(msg, fragNotMergeable):
		return KindNotMergeable
	case strings.Contains(msg, fragAlreadyMerged):
		return KindAlreadyMerged
	case strings.Contains(strings.ToLower(msg), fragMergeConflict):
		return KindNotMergeable
	case strings.Contains(strings.ToLower(msg), fragRateLimit),
		strings.Contains(strings.ToLower(msg), fragAbuseLimit):
		return KindRateLimit
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch code := ghErr.Response.StatusCode; {
		case code == http.StatusNotFound:
			return KindNotFound
		case code == http.StatusTooManyRequests:
			return KindRateLimit
		case code >= 500:
			return KindTransient
		}
	}

	return KindUnknown
}

// classified wraps err as a *Error with its classified kind, keeping
// the original error in the chain.
func classified(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}
