// Package orchestrator is the event-driven core: it loads the persisted
// run state, routes exactly one event to its handler, persists the
// mutated state, and exits. Suspension between steps is process exit;
// concurrency is fan-out of independent dispatch events processed by
// separate invocations.
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issuepilot/internal/config"
	"github.com/fyrsmithlabs/issuepilot/internal/conflict"
	"github.com/fyrsmithlabs/issuepilot/internal/decompose"
	"github.com/fyrsmithlabs/issuepilot/internal/event"
	"github.com/fyrsmithlabs/issuepilot/internal/executor"
	"github.com/fyrsmithlabs/issuepilot/internal/host"
	"github.com/fyrsmithlabs/issuepilot/internal/labels"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
	"github.com/fyrsmithlabs/issuepilot/internal/review"
	"github.com/fyrsmithlabs/issuepilot/internal/state"
	"github.com/fyrsmithlabs/issuepilot/internal/topology"
	"github.com/fyrsmithlabs/issuepilot/internal/vcs"
)

// botLogin is the comment author the reconciler attributes to the
// orchestrator itself.
const botLogin = "issuepilot[bot]"

// maxWorkSteps bounds the in-process work loop used when dispatch falls
// back to sequential handling, so a long worker list cannot grow the
// loop without limit.
const maxWorkSteps = 128

// Dispatcher routes one event per invocation through the phase state
// machine. State is threaded explicitly through every handler call; the
// dispatcher itself holds only collaborators.
type Dispatcher struct {
	cfg     *config.Config
	store   *state.Store
	git     vcs.Client
	hostAPI host.Host
	exec    executor.Executor
	topo    *topology.Manager
	decomp  *decompose.Decomposer
	rec     *review.Reconciler
	res     *conflict.Resolver
	log     *logging.Logger

	// sequential disables remote dispatch: internal events are handled
	// in-process by the bounded work loop instead of fanning out.
	sequential bool
	queue      []*event.Event
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSequentialDispatch makes internal events run in-process instead
// of through the host's event transport. Fallback mode for environments
// without repository dispatch.
func WithSequentialDispatch() Option {
	return func(d *Dispatcher) { d.sequential = true }
}

// NewDispatcher wires the orchestration components together.
func NewDispatcher(cfg *config.Config, store *state.Store, git vcs.Client, hostAPI host.Host, exec executor.Executor, log *logging.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:     cfg,
		store:   store,
		git:     git,
		hostAPI: hostAPI,
		exec:    exec,
		topo:    topology.NewManager(hostAPI, git, cfg.Branches.Prefix, log),
		decomp:  decompose.NewDecomposer(exec, log),
		rec:     review.NewReconciler(hostAPI, exec, cfg.Review.AutomatedReviewer, botLogin, log),
		res:     conflict.NewResolver(git, exec, log),
		log:     log.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle processes one event to completion. Any internal events queued
// by the sequential fallback are drained by a bounded work loop before
// returning. The returned error is the invocation failure the external
// scheduler observes.
func (d *Dispatcher) Handle(ctx context.Context, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	d.queue = append(d.queue, ev)
	for steps := 0; len(d.queue) > 0; steps++ {
		if steps >= maxWorkSteps {
			return fmt.Errorf("work loop exceeded %d steps handling %s for issue #%d", maxWorkSteps, ev.Type, ev.IssueNumber)
		}
		next := d.queue[0]
		d.queue = d.queue[1:]
		if err := d.handleOne(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

// handleOne runs a single event through load → route → persist. Any
// handler error sets phase to failed, is appended to the error history,
// persisted, and re-thrown so the scheduler sees the failed invocation.
func (d *Dispatcher) handleOne(ctx context.Context, ev *event.Event) error {
	ctx = logging.WithIssue(logging.WithEventType(ctx, string(ev.Type)), ev.IssueNumber)
	if ev.IdempotencyToken != "" {
		ctx = logging.WithToken(ctx, ev.IdempotencyToken)
	}
	d.log.Info(ctx, "handling event")

	var (
		st   *state.OrchestratorState
		herr error
	)
	if ev.Type == event.IssueLabeled || ev.Type == event.ManualTrigger {
		st, herr = d.handleIssueTrigger(ctx, ev)
		if st == nil {
			return herr
		}
	} else {
		st, herr = d.loadState(ctx, ev.IssueNumber)
		if herr != nil {
			return herr
		}
		herr = d.route(ctx, st, ev)
	}

	if herr != nil {
		st.RecordError(st.Phase, herr, string(ev.Type))
		d.setPhase(ctx, st, state.PhaseFailed)
	}

	switch {
	case ev.Type == event.IssueClosed:
		// handleIssueClosed already removed the state file.
	case st.Phase == state.PhaseComplete:
		// The final PR is merged: the state file comes off the work
		// branch and the merged history is the run's record.
		if serr := d.store.Delete(ctx, st); serr != nil && herr == nil {
			herr = serr
		}
	default:
		if serr := d.persist(ctx, st, fmt.Sprintf("issuepilot: %s", ev.Type)); serr != nil {
			if herr == nil {
				herr = serr
			} else {
				d.log.Error(ctx, "persisting failed state also failed", zap.Error(serr))
			}
		}
	}
	d.syncStatusComment(ctx, st)
	return herr
}

func (d *Dispatcher) route(ctx context.Context, st *state.OrchestratorState, ev *event.Event) error {
	switch ev.Type {
	case event.IssueClosed:
		return d.handleIssueClosed(ctx, st)
	case event.PRMerged:
		return d.handlePRMerged(ctx, st, ev)
	case event.PRReviewed:
		return d.handlePRReviewed(ctx, st, ev)
	case event.ScheduledCheck:
		return d.handleScheduledCheck(ctx, st)
	case event.StartEM:
		return d.handleStartEM(ctx, st, ev.EMID)
	case event.ExecuteWorker:
		return d.handleExecuteWorker(ctx, st, ev.EMID, ev.WorkerID)
	case event.CreateEMPR:
		return d.handleCreateEMPR(ctx, st, ev.EMID)
	case event.CheckCompletion:
		return d.handleCheckCompletion(ctx, st)
	case event.Retry:
		return d.handleRetry(ctx, st, ev)
	default:
		return fmt.Errorf("no handler for event type %q", ev.Type)
	}
}

// loadState re-associates an event with in-flight state using only the
// issue number: find the work branch, check it out, read the file.
// Missing state on an event that requires it is an invariant violation.
func (d *Dispatcher) loadState(ctx context.Context, issueNumber int) (*state.OrchestratorState, error) {
	branch, err := d.store.FindWorkBranchForIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		return nil, fmt.Errorf("no work branch exists for issue #%d", issueNumber)
	}
	if err := d.git.Checkout(ctx, branch); err != nil {
		return nil, err
	}
	if err := d.git.Pull(ctx); err != nil {
		d.log.Warn(ctx, "pull before load failed", zap.Error(err))
	}
	st, err := d.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("work branch %s exists but carries no state for issue #%d", branch, issueNumber)
	}
	return st, nil
}

// persist returns to the work branch and saves. The store's own guard
// keeps the state file from being committed anywhere else.
func (d *Dispatcher) persist(ctx context.Context, st *state.OrchestratorState, message string) error {
	if err := d.git.Checkout(ctx, st.WorkBranch); err != nil {
		return fmt.Errorf("returning to work branch: %w", err)
	}
	return d.store.Save(ctx, st, message)
}

// setPhase transitions the phase and re-renders the issue's phase
// label. Labels are a rendering of phase state, never an input.
func (d *Dispatcher) setPhase(ctx context.Context, st *state.OrchestratorState, phase state.Phase) {
	if st.Phase == phase {
		return
	}
	old := st.Phase
	st.Phase = phase
	d.log.Info(ctx, "phase transition",
		zap.String("from", string(old)),
		zap.String("to", string(phase)))

	if err := d.hostAPI.RemoveLabel(ctx, st.Issue.Number, labels.Phase(string(old))); err != nil {
		d.log.Debug(ctx, "removing phase label failed", zap.Error(err))
	}
	if err := d.hostAPI.AddLabels(ctx, st.Issue.Number, labels.Phase(string(phase))); err != nil {
		d.log.Debug(ctx, "adding phase label failed", zap.Error(err))
	}
}

// dispatch emits an internal event. In sequential mode, or when the
// transport rejects the event, it is queued for the in-process work
// loop instead so progress never silently stalls.
func (d *Dispatcher) dispatch(ctx context.Context, ev *event.Event) {
	if d.sequential {
		d.queue = append(d.queue, ev)
		return
	}
	if err := d.hostAPI.Dispatch(ctx, string(ev.Type), ev); err != nil {
		d.log.Warn(ctx, "dispatch failed, handling in-process",
			zap.String("eventType", string(ev.Type)),
			zap.Error(err))
		d.queue = append(d.queue, ev)
	}
}

// setNodeLabel replaces a PR's status label for its node kind.
func (d *Dispatcher) setNodeLabel(ctx context.Context, prNumber int, kind, status string) {
	for _, l := range labels.AllStatuses(kind) {
		if l == labels.For(kind, status) {
			continue
		}
		if err := d.hostAPI.RemoveLabel(ctx, prNumber, l); err != nil {
			d.log.Trace(ctx, "removing node label failed", zap.String("label", l), zap.Error(err))
		}
	}
	if err := d.hostAPI.AddLabels(ctx, prNumber, labels.For(kind, status)); err != nil {
		d.log.Debug(ctx, "adding node label failed", zap.Error(err))
	}
}
