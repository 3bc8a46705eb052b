// Package event defines the trigger payload shared by external webhook
// events and internal dispatch events, plus the idempotency token attached
// to internal dispatches.
package event

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Type identifies an event. External types arrive from the repository
// host; internal types are emitted by the orchestrator to itself via
// repository dispatch.
type Type string

// External event types.
const (
	IssueLabeled   Type = "issue_labeled"
	IssueClosed    Type = "issue_closed"
	PRMerged       Type = "pr_merged"
	PRReviewed     Type = "pr_reviewed"
	ManualTrigger  Type = "manual_trigger"
	ScheduledCheck Type = "scheduled_check"
)

// Internal dispatch event types.
const (
	StartEM         Type = "start_em"
	ExecuteWorker   Type = "execute_worker"
	CreateEMPR      Type = "create_em_pr"
	CheckCompletion Type = "check_completion"
	Retry           Type = "retry"
)

// Internal reports whether t is an orchestrator-emitted dispatch type.
func (t Type) Internal() bool {
	switch t {
	case StartEM, ExecuteWorker, CreateEMPR, CheckCompletion, Retry:
		return true
	}
	return false
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case IssueLabeled, IssueClosed, PRMerged, PRReviewed, ManualTrigger, ScheduledCheck:
		return true
	}
	return t.Internal()
}

// Event is the trigger payload. Optional fields are zero when absent.
type Event struct {
	Type             Type   `json:"type"`
	IssueNumber      int    `json:"issueNumber,omitempty"`
	PRNumber         int    `json:"prNumber,omitempty"`
	Branch           string `json:"branch,omitempty"`
	ReviewState      string `json:"reviewState,omitempty"`
	ReviewBody       string `json:"reviewBody,omitempty"`
	EMID             int    `json:"emId,omitempty"`
	WorkerID         int    `json:"workerId,omitempty"`
	RetryCount       int    `json:"retryCount,omitempty"`
	IdempotencyToken string `json:"idempotencyToken,omitempty"`
}

// Validate checks the event for structural problems.
func (e *Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.IssueNumber <= 0 {
		return fmt.Errorf("event %s requires a positive issue number, got %d", e.Type, e.IssueNumber)
	}
	return nil
}

// Parse decodes an event payload.
func Parse(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// ParseFile reads an event payload from a file, or stdin when path is "-".
func ParseFile(path string) (*Event, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading event payload: %w", err)
	}
	return Parse(data)
}
