// Package state defines the persisted task-tree document and the store
// that versions it on the canonical work branch.
//
// One OrchestratorState exists per orchestrated issue. It is the only
// database: every handler invocation loads it, mutates it, and saves it
// back as a committed JSON file. All correctness arguments (joins,
// idempotent replays, recovery) are made against this document alone.
package state

import (
	"fmt"
	"time"
)

// SchemaVersion is the current state document schema version. Load
// rejects documents with any other version.
const SchemaVersion = 1

// maxErrorMessageLen bounds persisted error messages so the state file
// cannot grow without bound from repeated failures.
const maxErrorMessageLen = 500

// Phase is the orchestrator lifecycle phase.
type Phase string

const (
	PhaseInitialized     Phase = "initialized"
	PhaseAnalyzing       Phase = "analyzing"
	PhaseProjectSetup    Phase = "project_setup"
	PhaseEMAssignment    Phase = "em_assignment"
	PhaseWorkerExecution Phase = "worker_execution"
	PhaseWorkerReview    Phase = "worker_review"
	PhaseEMMerging       Phase = "em_merging"
	PhaseEMReview        Phase = "em_review"
	PhaseFinalMerge      Phase = "final_merge"
	PhaseFinalReview     Phase = "final_review"
	PhaseComplete        Phase = "complete"
	// PhaseFailed is reachable from any phase and is recoverable.
	PhaseFailed Phase = "failed"
)

// Status is the lifecycle status of an EM or worker node.
type Status string

const (
	StatusPending          Status = "pending"
	StatusWorkersRunning   Status = "workers_running" // EM only
	StatusInProgress       Status = "in_progress"     // worker only
	StatusPRCreated        Status = "pr_created"
	StatusApproved         Status = "approved"
	StatusChangesRequested Status = "changes_requested"
	StatusMerged           Status = "merged"
	StatusSkipped          Status = "skipped"
	StatusFailed           Status = "failed"
)

// Terminal reports whether the status is final. A terminal status never
// changes except via an explicit retry, which resets it to pending.
func (s Status) Terminal() bool {
	return s == StatusMerged || s == StatusSkipped || s == StatusFailed
}

// Issue is the feature request that started the run.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Limits is the configuration snapshot taken when the run started.
// Snapshotting keeps a multi-day run stable under config edits.
type Limits struct {
	MaxEMs            int `json:"maxEms"`
	MaxWorkersPerEM   int `json:"maxWorkersPerEm"`
	ReviewWaitMinutes int `json:"reviewWaitMinutes"`
}

// FinalPR records the final work-branch-to-base pull request.
type FinalPR struct {
	Number           int    `json:"number"`
	URL              string `json:"url"`
	ReviewsAddressed int    `json:"reviewsAddressed"`
}

// ErrorEntry is one append-only error history record.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message"`
	Context   string    `json:"context,omitempty"`
}

// WorkerState is the smallest unit of work, scoped to a file set.
type WorkerState struct {
	ID                        int      `json:"id"`
	Task                      string   `json:"task"`
	Files                     []string `json:"files,omitempty"`
	Branch                    string   `json:"branch"`
	Status                    Status   `json:"status"`
	PRNumber                  int      `json:"prNumber,omitempty"`
	ReviewsAddressed          int      `json:"reviewsAddressed"`
	AddressedReviewCommentIDs []int64  `json:"addressedReviewCommentIds"`
	AddressedIssueCommentIDs  []int64  `json:"addressedIssueCommentIds"`
	Error                     string   `json:"error,omitempty"`
}

// EMState is an owner of one non-overlapping area of the issue.
// ID 0 is reserved for the setup EM.
type EMState struct {
	ID                        int           `json:"id"`
	Task                      string        `json:"task"`
	FocusArea                 string        `json:"focusArea"`
	Branch                    string        `json:"branch"`
	Status                    Status        `json:"status"`
	Workers                   []WorkerState `json:"workers"`
	PRNumber                  int           `json:"prNumber,omitempty"`
	ReviewsAddressed          int           `json:"reviewsAddressed"`
	AddressedReviewCommentIDs []int64       `json:"addressedReviewCommentIds"`
	AddressedIssueCommentIDs  []int64       `json:"addressedIssueCommentIds"`
	Error                     string        `json:"error,omitempty"`
}

// IsSetup reports whether this is the reserved setup EM.
func (e *EMState) IsSetup() bool {
	return e.ID == 0
}

// FindWorker returns the worker with the given id, or nil.
func (e *EMState) FindWorker(id int) *WorkerState {
	for i := range e.Workers {
		if e.Workers[i].ID == id {
			return &e.Workers[i]
		}
	}
	return nil
}

// AllWorkersTerminal reports whether every worker has a terminal status.
// Vacuously false for an EM with no workers: an EM without workers has
// not been broken down yet.
func (e *EMState) AllWorkersTerminal() bool {
	if len(e.Workers) == 0 {
		return false
	}
	for i := range e.Workers {
		if !e.Workers[i].Status.Terminal() {
			return false
		}
	}
	return true
}

// AnyWorkerMerged reports whether at least one worker merged.
func (e *EMState) AnyWorkerMerged() bool {
	for i := range e.Workers {
		if e.Workers[i].Status == StatusMerged {
			return true
		}
	}
	return false
}

// ReadyForPR is the EM-level join: every worker terminal, at least one
// merged. Recomputed from scratch on every relevant event so duplicate
// or out-of-order delivery cannot corrupt the condition.
func (e *EMState) ReadyForPR() bool {
	return e.AllWorkersTerminal() && e.AnyWorkerMerged()
}

// OrchestratorState is the root persisted document, one per issue.
type OrchestratorState struct {
	Version         int          `json:"version"`
	Issue           Issue        `json:"issue"`
	Repo            string       `json:"repo"`
	Phase           Phase        `json:"phase"`
	WorkBranch      string       `json:"workBranch"`
	BaseBranch      string       `json:"baseBranch"`
	EMs             []EMState    `json:"ems"`
	PendingEMs      []EMState    `json:"pendingEms"`
	Config          Limits       `json:"config"`
	AnalysisSummary string       `json:"analysisSummary,omitempty"`
	FinalPR         *FinalPR     `json:"finalPr,omitempty"`
	ErrorHistory    []ErrorEntry `json:"errorHistory"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// New creates a fresh state document for an issue.
func New(issue Issue, repo, workBranch, baseBranch string, limits Limits) *OrchestratorState {
	now := nowUTC()
	return &OrchestratorState{
		Version:    SchemaVersion,
		Issue:      issue,
		Repo:       repo,
		Phase:      PhaseInitialized,
		WorkBranch: workBranch,
		BaseBranch: baseBranch,
		Config:     limits,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// FindEM returns the EM with the given id, searching active then pending
// EMs, or nil.
func (s *OrchestratorState) FindEM(id int) *EMState {
	for i := range s.EMs {
		if s.EMs[i].ID == id {
			return &s.EMs[i]
		}
	}
	for i := range s.PendingEMs {
		if s.PendingEMs[i].ID == id {
			return &s.PendingEMs[i]
		}
	}
	return nil
}

// AllEMsTerminal reports whether every active EM is terminal and no EMs
// remain queued.
func (s *OrchestratorState) AllEMsTerminal() bool {
	if len(s.EMs) == 0 || len(s.PendingEMs) > 0 {
		return false
	}
	for i := range s.EMs {
		if !s.EMs[i].Status.Terminal() {
			return false
		}
	}
	return true
}

// AnyEMMerged reports whether at least one EM merged.
func (s *OrchestratorState) AnyEMMerged() bool {
	for i := range s.EMs {
		if s.EMs[i].Status == StatusMerged {
			return true
		}
	}
	return false
}

// ReadyForFinalPR is the tree-level join: every EM terminal, at least
// one merged, and no final PR yet.
func (s *OrchestratorState) ReadyForFinalPR() bool {
	return s.FinalPR == nil && s.AllEMsTerminal() && s.AnyEMMerged()
}

// PromotePendingEMs moves queued EMs into the active set once the setup
// EM has reached a terminal status. No-op otherwise.
func (s *OrchestratorState) PromotePendingEMs() bool {
	if len(s.PendingEMs) == 0 {
		return false
	}
	setup := s.FindEM(0)
	if setup == nil || !setup.Status.Terminal() {
		return false
	}
	s.EMs = append(s.EMs, s.PendingEMs...)
	s.PendingEMs = nil
	return true
}

// RecordError appends to the error history. History is append-only and
// never truncated in place; individual messages are bounded.
func (s *OrchestratorState) RecordError(phase Phase, err error, context string) {
	msg := err.Error()
	if r := []rune(msg); len(r) > maxErrorMessageLen {
		msg = string(r[:maxErrorMessageLen]) + "..."
	}
	s.ErrorHistory = append(s.ErrorHistory, ErrorEntry{
		Timestamp: nowUTC(),
		Phase:     phase,
		Message:   msg,
		Context:   context,
	})
}

// RetryEM resets a terminal EM back to pending. This is the only
// sanctioned transition out of a terminal status.
func (s *OrchestratorState) RetryEM(id int) error {
	em := s.FindEM(id)
	if em == nil {
		return fmt.Errorf("no EM with id %d", id)
	}
	if !em.Status.Terminal() {
		return fmt.Errorf("EM %d is %s, only terminal EMs can be retried", id, em.Status)
	}
	em.Status = StatusPending
	em.Error = ""
	return nil
}

// RetryWorker resets a terminal worker back to pending.
func (s *OrchestratorState) RetryWorker(emID, workerID int) error {
	em := s.FindEM(emID)
	if em == nil {
		return fmt.Errorf("no EM with id %d", emID)
	}
	w := em.FindWorker(workerID)
	if w == nil {
		return fmt.Errorf("no worker %d under EM %d", workerID, emID)
	}
	if !w.Status.Terminal() {
		return fmt.Errorf("worker %d/%d is %s, only terminal workers can be retried", emID, workerID, w.Status)
	}
	w.Status = StatusPending
	w.Error = ""
	return nil
}
