package state

import (
	"fmt"
	"regexp"
	"strings"
)

// Branch naming convention. These formats are load-bearing: branch-name
// lookup is how a later event re-associates itself with in-flight state
// using only an issue number, so they must stay bit-exact.
//
//	work branch    <prefix>/issue-<N>-<slug>
//	setup EM       <prefix>/issue-<N>-setup
//	ordinary EM    <prefix>/issue-<N>-em-<emId>
//	worker         <emBranch>-w-<workerId>

const maxSlugLen = 40

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify reduces an issue title to a branch-safe slug.
func Slugify(title string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	if s == "" {
		s = "issue"
	}
	return s
}

// WorkBranchName builds the canonical work branch name for an issue.
func WorkBranchName(prefix string, issueNumber int, title string) string {
	return fmt.Sprintf("%s/issue-%d-%s", prefix, issueNumber, Slugify(title))
}

// WorkBranchPattern is the lookup prefix matching any work branch for
// the issue, regardless of slug.
func WorkBranchPattern(prefix string, issueNumber int) string {
	return fmt.Sprintf("%s/issue-%d-", prefix, issueNumber)
}

// EMBranchName builds an EM branch name. EM id 0 is the setup EM and
// gets the dedicated "setup" suffix.
func EMBranchName(prefix string, issueNumber, emID int) string {
	if emID == 0 {
		return fmt.Sprintf("%s/issue-%d-setup", prefix, issueNumber)
	}
	return fmt.Sprintf("%s/issue-%d-em-%d", prefix, issueNumber, emID)
}

// WorkerBranchName builds a worker branch name from its EM's branch.
func WorkerBranchName(emBranch string, workerID int) string {
	return fmt.Sprintf("%s-w-%d", emBranch, workerID)
}
