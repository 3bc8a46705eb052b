package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issuepilot/internal/state"
)

// statusMarker identifies the orchestrator's own status comment so each
// invocation can regenerate it in place instead of posting a new one.
const statusMarker = "<!-- issuepilot:status -->"

const progressBarWidth = 20

// Progress is the pure numeric summary of a run, computed from state
// and rendered separately so both halves are independently testable.
type Progress struct {
	TotalEMs      int
	TerminalEMs   int
	TotalWorkers  int
	DoneWorkers   int // merged or skipped
	FailedWorkers int
	Percent       int
}

// ComputeProgress summarizes the task tree. Percent counts terminal
// nodes (workers, EMs, final PR) over all known nodes; pending EMs
// count as not started.
func ComputeProgress(st *state.OrchestratorState) Progress {
	var p Progress

	all := make([]*state.EMState, 0, len(st.EMs)+len(st.PendingEMs))
	for i := range st.EMs {
		all = append(all, &st.EMs[i])
	}
	for i := range st.PendingEMs {
		all = append(all, &st.PendingEMs[i])
	}

	total, done := 1, 0 // the final PR is one node
	if st.Phase == state.PhaseComplete {
		done++
	}
	for _, em := range all {
		p.TotalEMs++
		total++
		if em.Status.Terminal() {
			p.TerminalEMs++
			done++
		}
		for j := range em.Workers {
			w := &em.Workers[j]
			p.TotalWorkers++
			total++
			switch w.Status {
			case state.StatusMerged, state.StatusSkipped:
				p.DoneWorkers++
				done++
			case state.StatusFailed:
				p.FailedWorkers++
				done++
			}
		}
	}

	p.Percent = done * 100 / total
	return p
}

// RenderStatusComment builds the full markdown status comment: phase,
// progress bar, per-EM/worker table, and the complete error history.
func RenderStatusComment(st *state.OrchestratorState) string {
	p := ComputeProgress(st)

	var b strings.Builder
	b.WriteString(statusMarker)
	b.WriteString("\n## issuepilot status\n\n")
	fmt.Fprintf(&b, "**Phase**: `%s`\n\n", st.Phase)
	fmt.Fprintf(&b, "`%s` %d%%\n\n", progressBar(p.Percent, progressBarWidth), p.Percent)

	if st.AnalysisSummary != "" {
		fmt.Fprintf(&b, "%s\n\n", st.AnalysisSummary)
	}

	if p.TotalEMs > 0 {
		b.WriteString("| Node | Task | Status | PR |\n|---|---|---|---|\n")
		writeEMRows(&b, st.EMs, false)
		writeEMRows(&b, st.PendingEMs, true)
		b.WriteString("\n")
	}

	if st.FinalPR != nil {
		fmt.Fprintf(&b, "**Final PR**: #%d\n\n", st.FinalPR.Number)
	}

	if len(st.ErrorHistory) > 0 {
		b.WriteString("<details><summary>Error history</summary>\n\n")
		for _, e := range st.ErrorHistory {
			fmt.Fprintf(&b, "- `%s` [%s] %s", e.Timestamp.Format("2006-01-02 15:04:05"), e.Phase, e.Message)
			if e.Context != "" {
				fmt.Fprintf(&b, " (%s)", e.Context)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n</details>\n")
	}

	return b.String()
}

func writeEMRows(b *strings.Builder, ems []state.EMState, pending bool) {
	for i := range ems {
		em := &ems[i]
		status := string(em.Status)
		if pending {
			status = "queued"
		}
		fmt.Fprintf(b, "| **EM-%d** | %s | %s | %s |\n", em.ID, tableCell(em.FocusArea), status, prCell(em.PRNumber))
		for j := range em.Workers {
			w := &em.Workers[j]
			fmt.Fprintf(b, "| EM-%d/W-%d | %s | %s | %s |\n", em.ID, w.ID, tableCell(w.Task), w.Status, prCell(w.PRNumber))
		}
	}
}

func progressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

const maxCellLen = 60

func tableCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	if r := []rune(s); len(r) > maxCellLen {
		s = string(r[:maxCellLen-3]) + "..."
	}
	return s
}

func prCell(n int) string {
	if n == 0 {
		return "—"
	}
	return fmt.Sprintf("#%d", n)
}

// syncStatusComment regenerates the single status comment on the
// originating issue. Best-effort: failures are logged, never fatal.
func (d *Dispatcher) syncStatusComment(ctx context.Context, st *state.OrchestratorState) {
	body := RenderStatusComment(st)

	comments, err := d.hostAPI.ListIssueComments(ctx, st.Issue.Number)
	if err != nil {
		d.log.Warn(ctx, "listing comments for status sync failed", zap.Error(err))
		return
	}
	for _, c := range comments {
		if strings.Contains(c.Body, statusMarker) {
			if err := d.hostAPI.UpdateIssueComment(ctx, c.ID, body); err != nil {
				d.log.Warn(ctx, "updating status comment failed", zap.Error(err))
			}
			return
		}
	}
	if _, err := d.hostAPI.CreateIssueComment(ctx, st.Issue.Number, body); err != nil {
		d.log.Warn(ctx, "creating status comment failed", zap.Error(err))
	}
}
