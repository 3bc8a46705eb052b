// Package labels defines the label vocabulary rendered onto issues and
// pull requests. Labels are a projection of state, written on every
// transition and never read back to make decisions.
package labels

import "fmt"

// Node kinds appearing in PR labels.
const (
	KindWorker = "worker"
	KindEM     = "em"
	KindSetup  = "setup"
	KindFinal  = "final"
)

// PR statuses.
const (
	StatusAwaitingReview     = "awaiting-review"
	StatusAddressingFeedback = "addressing-feedback"
	StatusReadyToMerge       = "ready-to-merge"
	StatusMerged             = "merged"
	StatusFailed             = "failed"
	StatusConflicts          = "conflicts"
)

const prefix = "issuepilot"

// For renders the label for a node kind and status, e.g.
// "issuepilot:worker:awaiting-review".
func For(kind, status string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, kind, status)
}

// Phase renders the issue-level phase label, e.g.
// "issuepilot:phase:worker_execution".
func Phase(phase string) string {
	return fmt.Sprintf("%s:phase:%s", prefix, phase)
}

// AllStatuses lists every PR status label for a kind, for cleanup
// before applying the current one.
func AllStatuses(kind string) []string {
	statuses := []string{
		StatusAwaitingReview,
		StatusAddressingFeedback,
		StatusReadyToMerge,
		StatusMerged,
		StatusFailed,
		StatusConflicts,
	}
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = For(kind, s)
	}
	return out
}
