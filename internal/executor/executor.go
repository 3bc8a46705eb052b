// Package executor provides the AI task executor: a single synchronous
// ExecuteTask call used for issue analysis, task breakdown, code
// authoring, conflict resolution, and review-comment triage.
//
// The executor owns its own rate-limit detection and retry/backoff, and
// may rotate across multiple configured credentials. Callers treat it
// as a blocking collaborator with no orchestration knowledge.
package executor

import "context"

// TaskResult is the outcome of one executor invocation.
type TaskResult struct {
	Success bool
	Output  string
	Error   string
}

// Executor performs one AI task per call. Implementations that author
// code are expected to apply their edits to the repository working
// tree; the caller commits whatever changed.
type Executor interface {
	// ExecuteTask runs the prompt to completion. A non-nil error means
	// the call itself failed (after internal retries); a nil error with
	// Success=false means the model reported it could not do the task.
	ExecuteTask(ctx context.Context, prompt string) (TaskResult, error)
}
