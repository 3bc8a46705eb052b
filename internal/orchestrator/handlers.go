package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issuepilot/internal/event"
	"github.com/fyrsmithlabs/issuepilot/internal/host"
	"github.com/fyrsmithlabs/issuepilot/internal/labels"
	"github.com/fyrsmithlabs/issuepilot/internal/review"
	"github.com/fyrsmithlabs/issuepilot/internal/state"
	"github.com/fyrsmithlabs/issuepilot/internal/vcs"
)

// handleIssueTrigger starts a new run, or — when a work branch already
// exists for the issue — performs a progress check instead. The branch
// lookup is what makes two concurrent trigger events safe: at most one
// creates the branch, the other finds it.
func (d *Dispatcher) handleIssueTrigger(ctx context.Context, ev *event.Event) (*state.OrchestratorState, error) {
	branch, err := d.store.FindWorkBranchForIssue(ctx, ev.IssueNumber)
	if err != nil {
		return nil, err
	}
	if branch != "" {
		d.log.Info(ctx, "run already in flight, performing progress check",
			zap.String("workBranch", branch))
		st, err := d.loadState(ctx, ev.IssueNumber)
		if err != nil {
			return nil, err
		}
		return st, d.handleScheduledCheck(ctx, st)
	}

	issue, err := d.hostAPI.GetIssue(ctx, ev.IssueNumber)
	if err != nil {
		return nil, err
	}

	st := state.New(
		state.Issue{Number: issue.Number, Title: issue.Title, Body: issue.Body},
		d.cfg.Repo.FullName(),
		state.WorkBranchName(d.cfg.Branches.Prefix, issue.Number, issue.Title),
		d.cfg.Repo.BaseBranch,
		state.Limits{
			MaxEMs:            d.cfg.Limits.MaxEMs,
			MaxWorkersPerEM:   d.cfg.Limits.MaxWorkersPerEM,
			ReviewWaitMinutes: d.cfg.Limits.ReviewWaitMinutes,
		},
	)
	if err := d.store.Initialize(ctx, st); err != nil {
		return nil, err
	}
	d.setPhase(ctx, st, state.PhaseAnalyzing)

	analysis, err := d.decomp.AnalyzeIssue(ctx, st.Issue, st.Config.MaxEMs)
	if err != nil {
		return st, err
	}
	st.AnalysisSummary = analysis.Summary

	if analysis.Setup != nil {
		st.EMs = []state.EMState{{
			ID:        0,
			Task:      analysis.Setup.Task,
			FocusArea: analysis.Setup.FocusArea,
			Status:    state.StatusPending,
		}}
		for i, task := range analysis.EMTasks {
			st.PendingEMs = append(st.PendingEMs, state.EMState{
				ID:        i + 1,
				Task:      task.Task,
				FocusArea: task.FocusArea,
				Status:    state.StatusPending,
			})
		}
		d.setPhase(ctx, st, state.PhaseProjectSetup)
		d.dispatch(ctx, event.NewDispatch(event.StartEM, st.Issue.Number, 0, 0))
		return st, nil
	}

	for i, task := range analysis.EMTasks {
		st.EMs = append(st.EMs, state.EMState{
			ID:        i + 1,
			Task:      task.Task,
			FocusArea: task.FocusArea,
			Status:    state.StatusPending,
		})
	}
	d.setPhase(ctx, st, state.PhaseEMAssignment)
	for i := range st.EMs {
		d.dispatch(ctx, event.NewDispatch(event.StartEM, st.Issue.Number, st.EMs[i].ID, 0))
	}
	return st, nil
}

// handleIssueClosed abandons the run: open PRs are closed, the state
// file is removed from the work branch, and the run is marked failed
// with the reason. The caller skips the usual persist for this event.
func (d *Dispatcher) handleIssueClosed(ctx context.Context, st *state.OrchestratorState) error {
	for i := range st.EMs {
		em := &st.EMs[i]
		for j := range em.Workers {
			d.closeIfOpen(ctx, &em.Workers[j].Status, em.Workers[j].PRNumber)
		}
		d.closeIfOpen(ctx, &em.Status, em.PRNumber)
	}
	if st.FinalPR != nil && st.Phase != state.PhaseComplete {
		if err := d.hostAPI.ClosePullRequest(ctx, st.FinalPR.Number); err != nil {
			d.log.Warn(ctx, "closing final PR failed", zap.Error(err))
		}
	}

	st.RecordError(st.Phase, errors.New("issue was closed before the run completed"), "abandon")
	d.setPhase(ctx, st, state.PhaseFailed)

	if err := d.git.Checkout(ctx, st.WorkBranch); err != nil {
		return err
	}
	return d.store.Delete(ctx, st)
}

func (d *Dispatcher) closeIfOpen(ctx context.Context, status *state.Status, prNumber int) {
	if prNumber == 0 || *status == state.StatusMerged {
		return
	}
	if err := d.hostAPI.ClosePullRequest(ctx, prNumber); err != nil {
		d.log.Warn(ctx, "closing PR failed", zap.Int("pr", prNumber), zap.Error(err))
	}
	if !status.Terminal() {
		*status = state.StatusSkipped
	}
}

// handleStartEM creates the EM's branch, breaks its task into workers,
// and fans out one execute_worker event per worker. Replays are safe:
// branch creation no-ops, and an already-broken-down EM keeps its
// worker list.
func (d *Dispatcher) handleStartEM(ctx context.Context, st *state.OrchestratorState, emID int) error {
	em := st.FindEM(emID)
	if em == nil {
		return fmt.Errorf("start_em for unknown EM %d", emID)
	}
	if em.Status.Terminal() {
		return nil
	}
	// Statuses only move forward. A replay delivered after the EM's PR
	// opened must not drag it back to workers_running.
	if em.PRNumber != 0 || (em.Status != state.StatusPending && em.Status != state.StatusWorkersRunning) {
		return nil
	}

	if em.Branch == "" {
		if err := d.topo.CreateEMBranch(ctx, st, em); err != nil {
			return err
		}
	}
	if len(em.Workers) == 0 {
		tasks := d.decomp.BreakdownEM(ctx, em, st.Config.MaxWorkersPerEM)
		for i, task := range tasks {
			em.Workers = append(em.Workers, state.WorkerState{
				ID:     i + 1,
				Task:   task.Task,
				Files:  task.Files,
				Status: state.StatusPending,
			})
		}
	}
	em.Status = state.StatusWorkersRunning
	if !em.IsSetup() {
		d.setPhase(ctx, st, state.PhaseWorkerExecution)
	}

	for i := range em.Workers {
		w := &em.Workers[i]
		if w.Status == state.StatusPending && w.PRNumber == 0 {
			d.dispatch(ctx, event.NewDispatch(event.ExecuteWorker, st.Issue.Number, em.ID, w.ID))
		}
	}
	return nil
}

// handleExecuteWorker runs one worker task: branch, AI execution,
// commit, PR. No-op when the worker already has a PR or is terminal.
// The worker's own failure is node-local: it is recorded on the worker
// and the rest of the tree continues.
func (d *Dispatcher) handleExecuteWorker(ctx context.Context, st *state.OrchestratorState, emID, workerID int) error {
	em := st.FindEM(emID)
	if em == nil {
		return fmt.Errorf("execute_worker for unknown EM %d", emID)
	}
	w := em.FindWorker(workerID)
	if w == nil {
		return fmt.Errorf("execute_worker for unknown worker %d under EM %d", workerID, emID)
	}
	if w.Status.Terminal() || (w.PRNumber != 0 && w.Status != state.StatusPending) {
		return nil
	}

	if w.Branch == "" {
		if err := d.topo.CreateWorkerBranch(ctx, em, w); err != nil {
			return err
		}
	}
	w.Status = state.StatusInProgress

	if err := d.git.Checkout(ctx, w.Branch); err != nil {
		return err
	}
	res, err := d.exec.ExecuteTask(ctx, workerPrompt(st, em, w))
	if err != nil || !res.Success {
		if err == nil {
			err = fmt.Errorf("executor reported failure: %s", res.Error)
		}
		w.Status = state.StatusFailed
		w.Error = err.Error()
		st.RecordError(st.Phase, err, fmt.Sprintf("EM-%d/W-%d", em.ID, w.ID))
		d.dispatch(ctx, event.NewDispatch(event.CheckCompletion, st.Issue.Number, 0, 0))
		return nil
	}

	commitMsg := fmt.Sprintf("EM-%d/W-%d: %s", em.ID, w.ID, firstLine(w.Task))
	if err := d.git.CommitAndPush(ctx, commitMsg, "."); err != nil && !errors.Is(err, vcs.ErrNothingToCommit) {
		return err
	}

	title := fmt.Sprintf("EM-%d/W-%d: %s", em.ID, w.ID, firstLine(w.Task))
	body := fmt.Sprintf("Part of #%d.\n\nTask: %s", st.Issue.Number, w.Task)
	pr, err := d.topo.CreatePullRequest(ctx, w.Branch, em.Branch, title, body)
	switch {
	case host.IsKind(err, host.KindNoCommits):
		// The task produced no diff against the EM branch. Skipped, not
		// failed: orchestration proceeds to the next worker.
		w.Status = state.StatusSkipped
		w.Error = "no commits between worker branch and EM branch"
		d.dispatch(ctx, event.NewDispatch(event.CheckCompletion, st.Issue.Number, 0, 0))
		return nil
	case err != nil:
		return err
	}

	w.PRNumber = pr.Number
	w.Status = state.StatusPRCreated
	d.setNodeLabel(ctx, pr.Number, labels.KindWorker, labels.StatusAwaitingReview)
	if !em.IsSetup() {
		d.setPhase(ctx, st, state.PhaseWorkerReview)
	}
	return nil
}

// handleCreateEMPR opens the EM's PR against the work branch. Only
// valid once the EM-level join holds; stale or replayed events no-op.
func (d *Dispatcher) handleCreateEMPR(ctx context.Context, st *state.OrchestratorState, emID int) error {
	em := st.FindEM(emID)
	if em == nil {
		return fmt.Errorf("create_em_pr for unknown EM %d", emID)
	}
	if em.Status.Terminal() || em.PRNumber != 0 {
		return nil
	}
	if !em.ReadyForPR() {
		d.log.Debug(ctx, "EM join does not hold yet, ignoring create_em_pr", zap.Int("em", em.ID))
		return nil
	}

	title := fmt.Sprintf("EM-%d: %s", em.ID, em.FocusArea)
	body := fmt.Sprintf("Part of #%d.\n\nTask: %s", st.Issue.Number, em.Task)
	pr, err := d.topo.CreatePullRequest(ctx, em.Branch, st.WorkBranch, title, body)
	switch {
	case host.IsKind(err, host.KindNoCommits):
		em.Status = state.StatusSkipped
		em.Error = "no commits between EM branch and work branch"
		d.dispatch(ctx, event.NewDispatch(event.CheckCompletion, st.Issue.Number, 0, 0))
		return nil
	case err != nil:
		return err
	}

	em.PRNumber = pr.Number
	em.Status = state.StatusPRCreated
	d.setNodeLabel(ctx, pr.Number, emLabelKind(em), labels.StatusAwaitingReview)
	if !em.IsSetup() {
		d.setPhase(ctx, st, state.PhaseEMReview)
	}
	return nil
}

// handlePRMerged marks the owning node merged and re-evaluates the
// joins above it. A merge notification for a PR that is not ours is
// ignored.
func (d *Dispatcher) handlePRMerged(ctx context.Context, st *state.OrchestratorState, ev *event.Event) error {
	n := d.findPRNode(st, ev.PRNumber, ev.Branch)
	if n == nil {
		d.log.Debug(ctx, "merged PR does not belong to this run",
			zap.Int("pr", ev.PRNumber),
			zap.String("branch", ev.Branch))
		return nil
	}
	d.markMerged(ctx, st, n)
	return nil
}

// handlePRReviewed reconciles review feedback on the owning node's PR:
// if the PR is clean it is auto-merged; otherwise unaddressed comments
// are triaged and fixed on the node's branch, then readiness is
// re-checked.
func (d *Dispatcher) handlePRReviewed(ctx context.Context, st *state.OrchestratorState, ev *event.Event) error {
	n := d.findPRNode(st, ev.PRNumber, ev.Branch)
	if n == nil {
		d.log.Debug(ctx, "reviewed PR does not belong to this run", zap.Int("pr", ev.PRNumber))
		return nil
	}
	if n.terminal() {
		return nil
	}

	switch {
	case strings.EqualFold(ev.ReviewState, "changes_requested"):
		n.setStatus(state.StatusChangesRequested)
	case strings.EqualFold(ev.ReviewState, "approved"):
		n.setStatus(state.StatusApproved)
	}

	ready, err := d.rec.IsReadyToMerge(ctx, n.number, n.rnode)
	if err != nil {
		return err
	}
	if !ready {
		d.setNodeLabel(ctx, n.number, n.kind, labels.StatusAddressingFeedback)
		if err := d.git.Checkout(ctx, n.branch); err != nil {
			return err
		}
		handled, aerr := d.rec.AddressReview(ctx, n.number, n.rnode)
		if aerr != nil {
			n.fail(fmt.Sprintf("addressing review: %v", aerr))
			st.RecordError(st.Phase, aerr, n.context())
			return nil
		}
		if handled > 0 {
			msg := fmt.Sprintf("Address review feedback on PR #%d", n.number)
			if cerr := d.git.CommitAndPush(ctx, msg, "."); cerr != nil && !errors.Is(cerr, vcs.ErrNothingToCommit) {
				return cerr
			}
		}
		ready, err = d.rec.IsReadyToMerge(ctx, n.number, n.rnode)
		if err != nil {
			return err
		}
	}

	if ready {
		d.tryMerge(ctx, st, n)
	} else {
		d.setNodeLabel(ctx, n.number, n.kind, labels.StatusAwaitingReview)
	}
	return nil
}

// handleCheckCompletion is the join evaluator: it recomputes every EM
// join and the tree join from the full state, creates whatever the
// joins now allow, and promotes EMs queued behind a finished setup EM.
// Safe to run at any time, any number of times.
func (d *Dispatcher) handleCheckCompletion(ctx context.Context, st *state.OrchestratorState) error {
	for i := range st.EMs {
		em := &st.EMs[i]
		if em.Status.Terminal() || !em.AllWorkersTerminal() {
			continue
		}
		if !em.AnyWorkerMerged() {
			if em.PRNumber == 0 {
				em.Status = state.StatusSkipped
				em.Error = "no worker produced mergeable changes"
			}
			continue
		}
		if em.PRNumber == 0 {
			if !em.IsSetup() {
				d.setPhase(ctx, st, state.PhaseEMMerging)
			}
			d.dispatch(ctx, event.NewDispatch(event.CreateEMPR, st.Issue.Number, em.ID, 0))
			continue
		}
		// PR already open: merge it if review allows.
		n := d.emNode(st, em)
		ready, err := d.rec.IsReadyToMerge(ctx, n.number, n.rnode)
		if err != nil {
			return err
		}
		if ready {
			d.tryMerge(ctx, st, n)
		}
	}

	if st.PromotePendingEMs() {
		d.setPhase(ctx, st, state.PhaseEMAssignment)
		for i := range st.EMs {
			em := &st.EMs[i]
			if em.Status == state.StatusPending && len(em.Workers) == 0 {
				d.dispatch(ctx, event.NewDispatch(event.StartEM, st.Issue.Number, em.ID, 0))
			}
		}
	}

	if st.ReadyForFinalPR() {
		return d.createFinalPR(ctx, st)
	}

	if st.FinalPR != nil && st.Phase != state.PhaseComplete {
		pr, err := d.hostAPI.GetPullRequest(ctx, st.FinalPR.Number)
		if err != nil {
			return err
		}
		if pr.Merged {
			d.setNodeLabel(ctx, st.FinalPR.Number, labels.KindFinal, labels.StatusMerged)
			d.setPhase(ctx, st, state.PhaseComplete)
		}
	}
	return nil
}

// createFinalPR opens the work-branch-to-base PR once the whole tree
// has joined.
func (d *Dispatcher) createFinalPR(ctx context.Context, st *state.OrchestratorState) error {
	d.setPhase(ctx, st, state.PhaseFinalMerge)

	title := fmt.Sprintf("Resolve #%d: %s", st.Issue.Number, st.Issue.Title)
	body := fmt.Sprintf("%s\n\nCloses #%d", st.AnalysisSummary, st.Issue.Number)
	pr, err := d.topo.CreatePullRequest(ctx, st.WorkBranch, st.BaseBranch, title, body)
	if err != nil {
		return err
	}

	st.FinalPR = &state.FinalPR{Number: pr.Number, URL: pr.URL}
	d.setNodeLabel(ctx, pr.Number, labels.KindFinal, labels.StatusAwaitingReview)
	d.setPhase(ctx, st, state.PhaseFinalReview)
	return nil
}

// handleScheduledCheck is the periodic nudge: failed runs go through
// recovery, healthy runs get a completion check.
func (d *Dispatcher) handleScheduledCheck(ctx context.Context, st *state.OrchestratorState) error {
	if st.Phase == state.PhaseComplete {
		return nil
	}
	if st.Phase != state.PhaseFailed {
		return d.handleCheckCompletion(ctx, st)
	}

	action := DeriveResumeAction(st)
	d.log.Info(ctx, "recovering failed run", zap.String("action", string(action)))

	switch action {
	case ResumeWorkers:
		d.setPhase(ctx, st, state.PhaseWorkerExecution)
		for i := range st.EMs {
			em := &st.EMs[i]
			if em.Status.Terminal() {
				continue
			}
			if len(em.Workers) == 0 {
				d.dispatch(ctx, event.NewDispatch(event.StartEM, st.Issue.Number, em.ID, 0))
				continue
			}
			for j := range em.Workers {
				w := &em.Workers[j]
				if w.Status == state.StatusPending || w.Status == state.StatusInProgress {
					d.dispatch(ctx, event.NewDispatch(event.ExecuteWorker, st.Issue.Number, em.ID, w.ID))
				}
			}
		}
	case ResumeEMMerging:
		d.setPhase(ctx, st, state.PhaseEMMerging)
		d.dispatch(ctx, event.NewDispatch(event.CheckCompletion, st.Issue.Number, 0, 0))
	case CreateFinalPR:
		return d.createFinalPR(ctx, st)
	case ResumeFinalReview:
		d.setPhase(ctx, st, state.PhaseFinalReview)
		d.dispatch(ctx, event.NewDispatch(event.CheckCompletion, st.Issue.Number, 0, 0))
	case ManualIntervention:
		d.log.Warn(ctx, "no actionable resume path, run stays failed")
	}
	return nil
}

// handleRetry resets one terminal node back to pending and re-enters
// its execution path. This is the only way out of a terminal status.
func (d *Dispatcher) handleRetry(ctx context.Context, st *state.OrchestratorState, ev *event.Event) error {
	if ev.WorkerID > 0 {
		if err := st.RetryWorker(ev.EMID, ev.WorkerID); err != nil {
			return err
		}
		if em := st.FindEM(ev.EMID); em != nil && em.Status.Terminal() {
			em.Status = state.StatusWorkersRunning
			em.Error = ""
		}
		d.dispatch(ctx, event.NewDispatch(event.ExecuteWorker, st.Issue.Number, ev.EMID, ev.WorkerID))
	} else {
		if err := st.RetryEM(ev.EMID); err != nil {
			return err
		}
		d.dispatch(ctx, event.NewDispatch(event.StartEM, st.Issue.Number, ev.EMID, 0))
	}
	if st.Phase == state.PhaseFailed {
		d.setPhase(ctx, st, state.PhaseWorkerExecution)
	}
	return nil
}

// tryMerge merges the node's PR, routing "not mergeable" through the
// conflict resolver once. Merge failure is node-local: the run
// continues, and — unless the conflict was unresolvable — a later event
// retries.
func (d *Dispatcher) tryMerge(ctx context.Context, st *state.OrchestratorState, n *prNode) bool {
	awaiting := labels.For(n.kind, labels.StatusAwaitingReview)
	ready := labels.For(n.kind, labels.StatusReadyToMerge)

	if d.rec.MaybeAutoMergePR(ctx, d.topo, n.number, ready, awaiting) {
		d.markMerged(ctx, st, n)
		return true
	}

	pr, err := d.hostAPI.GetPullRequest(ctx, n.number)
	if err != nil {
		d.log.Warn(ctx, "inspecting PR after failed merge", zap.Int("pr", n.number), zap.Error(err))
		return false
	}
	if pr.Merged {
		d.markMerged(ctx, st, n)
		return true
	}
	if pr.MergeableState != "dirty" {
		return false
	}

	if rerr := d.res.Resolve(ctx, n.branch, n.parent); rerr != nil {
		n.fail(rerr.Error())
		st.RecordError(st.Phase, rerr, n.context())
		d.setNodeLabel(ctx, n.number, n.kind, labels.StatusConflicts)
		return false
	}
	if d.rec.MaybeAutoMergePR(ctx, d.topo, n.number, ready, awaiting) {
		d.markMerged(ctx, st, n)
		return true
	}
	return false
}

// markMerged transitions the node to merged (statuses are monotone: an
// already-terminal node is left alone) and re-evaluates the joins.
func (d *Dispatcher) markMerged(ctx context.Context, st *state.OrchestratorState, n *prNode) {
	n.setStatus(state.StatusMerged)
	d.setNodeLabel(ctx, n.number, n.kind, labels.StatusMerged)

	if n.final {
		d.setPhase(ctx, st, state.PhaseComplete)
		return
	}
	d.dispatch(ctx, event.NewDispatch(event.CheckCompletion, st.Issue.Number, 0, 0))
}

func workerPrompt(st *state.OrchestratorState, em *state.EMState, w *state.WorkerState) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Implement the following task in the checked-out repository.

Issue #%d: %s
Area: %s
Task: %s
`, st.Issue.Number, st.Issue.Title, em.FocusArea, w.Task)
	if len(w.Files) > 0 {
		b.WriteString("Only touch these files:\n")
		for _, f := range w.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func emLabelKind(em *state.EMState) string {
	if em.IsSetup() {
		return labels.KindSetup
	}
	return labels.KindEM
}

// prNode is the run-tree node owning one PR, with enough context for
// label, merge, and failure handling regardless of its level.
type prNode struct {
	kind   string
	number int
	branch string
	parent string
	rnode  *review.Node
	final  bool

	em     *state.EMState
	worker *state.WorkerState
	st     *state.OrchestratorState
}

func (n *prNode) terminal() bool {
	switch {
	case n.worker != nil:
		return n.worker.Status.Terminal()
	case n.em != nil:
		return n.em.Status.Terminal()
	default:
		return n.st.Phase == state.PhaseComplete
	}
}

// setStatus applies a monotone status change: terminal statuses are
// never overwritten.
func (n *prNode) setStatus(s state.Status) {
	switch {
	case n.worker != nil:
		if !n.worker.Status.Terminal() {
			n.worker.Status = s
		}
	case n.em != nil:
		if !n.em.Status.Terminal() {
			n.em.Status = s
		}
	}
}

func (n *prNode) fail(reason string) {
	switch {
	case n.worker != nil:
		if !n.worker.Status.Terminal() {
			n.worker.Status = state.StatusFailed
			n.worker.Error = reason
		}
	case n.em != nil:
		if !n.em.Status.Terminal() {
			n.em.Status = state.StatusFailed
			n.em.Error = reason
		}
	}
}

func (n *prNode) context() string {
	switch {
	case n.worker != nil:
		return fmt.Sprintf("EM-%d/W-%d", n.em.ID, n.worker.ID)
	case n.em != nil:
		return fmt.Sprintf("EM-%d", n.em.ID)
	default:
		return "final"
	}
}

// findPRNode locates the node owning a PR by number or branch. Returns
// nil for PRs outside this run.
func (d *Dispatcher) findPRNode(st *state.OrchestratorState, prNumber int, branch string) *prNode {
	for i := range st.EMs {
		em := &st.EMs[i]
		for j := range em.Workers {
			w := &em.Workers[j]
			if (prNumber != 0 && w.PRNumber == prNumber) || (branch != "" && w.Branch == branch) {
				return &prNode{
					kind:   labels.KindWorker,
					number: w.PRNumber,
					branch: w.Branch,
					parent: em.Branch,
					rnode:  review.WorkerNode(w),
					em:     em,
					worker: w,
					st:     st,
				}
			}
		}
		if (prNumber != 0 && em.PRNumber == prNumber) || (branch != "" && em.Branch == branch) {
			return d.emNode(st, em)
		}
	}
	if st.FinalPR != nil && (st.FinalPR.Number == prNumber || (branch != "" && branch == st.WorkBranch)) {
		return &prNode{
			kind:   labels.KindFinal,
			number: st.FinalPR.Number,
			branch: st.WorkBranch,
			parent: st.BaseBranch,
			rnode:  review.FinalNode(st.FinalPR),
			final:  true,
			st:     st,
		}
	}
	return nil
}

func (d *Dispatcher) emNode(st *state.OrchestratorState, em *state.EMState) *prNode {
	return &prNode{
		kind:   emLabelKind(em),
		number: em.PRNumber,
		branch: em.Branch,
		parent: st.WorkBranch,
		rnode:  review.EMNode(em),
		em:     em,
		st:     st,
	}
}
