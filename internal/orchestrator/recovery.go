package orchestrator

import "github.com/fyrsmithlabs/issuepilot/internal/state"

// ResumeAction is the recovery decision derived from a failed run's
// state snapshot. Derivation is total and deterministic: the same
// snapshot always yields the same action, with no replay log consulted.
type ResumeAction string

const (
	// ResumeWorkers re-enters worker execution: some EM still has a
	// worker that is not terminal.
	ResumeWorkers ResumeAction = "resume_workers"

	// ResumeEMMerging re-enters EM-merge checking: workers are done but
	// some EM has an open, unmerged PR or is still awaiting one.
	ResumeEMMerging ResumeAction = "resume_em_merging"

	// CreateFinalPR creates the final PR: every EM is terminal, at
	// least one merged, and no final PR exists yet.
	CreateFinalPR ResumeAction = "create_final_pr"

	// ResumeFinalReview re-enters final-review handling on the existing
	// final PR.
	ResumeFinalReview ResumeAction = "resume_final_review"

	// ManualIntervention means no actionable path exists; the run stays
	// failed until a human intervenes.
	ManualIntervention ResumeAction = "manual_intervention"
)

// DeriveResumeAction chooses how to resume a failed run. Checks are
// ordered from the bottom of the tree up: unfinished workers win over
// unmerged EM PRs, which win over the missing final PR.
func DeriveResumeAction(st *state.OrchestratorState) ResumeAction {
	for i := range st.EMs {
		em := &st.EMs[i]
		if em.Status.Terminal() {
			continue
		}
		// An EM with no workers has not been broken down yet; that is
		// also worker-execution territory.
		if len(em.Workers) == 0 {
			return ResumeWorkers
		}
		for j := range em.Workers {
			if !em.Workers[j].Status.Terminal() {
				return ResumeWorkers
			}
		}
	}

	for i := range st.EMs {
		em := &st.EMs[i]
		if em.Status.Terminal() {
			continue
		}
		if em.PRNumber != 0 || em.AllWorkersTerminal() {
			return ResumeEMMerging
		}
	}

	// EMs still queued behind a finished setup EM are promoted by the
	// completion check, same as the EM-merging path.
	if len(st.PendingEMs) > 0 {
		if setup := st.FindEM(0); setup != nil && setup.Status.Terminal() {
			return ResumeEMMerging
		}
	}

	if st.ReadyForFinalPR() {
		return CreateFinalPR
	}
	if st.FinalPR != nil {
		return ResumeFinalReview
	}
	return ManualIntervention
}
