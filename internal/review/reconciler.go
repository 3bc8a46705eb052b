// Package review reconciles PR review feedback: it deduplicates
// comment threads, triages each comment through the AI task executor,
// decides merge-readiness, and auto-merges clean PRs.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issuepilot/internal/decompose"
	"github.com/fyrsmithlabs/issuepilot/internal/executor"
	"github.com/fyrsmithlabs/issuepilot/internal/host"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
	"github.com/fyrsmithlabs/issuepilot/internal/state"
)

// Marker denotes a thread handled by the orchestrator. A reply
// containing it counts as addressed; the per-node addressed-ID lists
// remain the authoritative dedupe layer in case markers are edited.
const Marker = "<!-- issuepilot:addressed -->"

// Node is the state record that owns the PR under review. Worker and
// EM nodes carry persistent addressed-ID lists; the final PR node has
// none and relies on marker replies alone.
type Node struct {
	reviewIDs        *[]int64
	issueIDs         *[]int64
	reviewsAddressed *int
}

// WorkerNode wraps a worker's dedupe state.
func WorkerNode(w *state.WorkerState) *Node {
	return &Node{
		reviewIDs:        &w.AddressedReviewCommentIDs,
		issueIDs:         &w.AddressedIssueCommentIDs,
		reviewsAddressed: &w.ReviewsAddressed,
	}
}

// EMNode wraps an EM's dedupe state.
func EMNode(em *state.EMState) *Node {
	return &Node{
		reviewIDs:        &em.AddressedReviewCommentIDs,
		issueIDs:         &em.AddressedIssueCommentIDs,
		reviewsAddressed: &em.ReviewsAddressed,
	}
}

// FinalNode wraps the final PR's dedupe state.
func FinalNode(fp *state.FinalPR) *Node {
	return &Node{reviewsAddressed: &fp.ReviewsAddressed}
}

func (n *Node) hasReviewID(id int64) bool {
	if n.reviewIDs == nil {
		return false
	}
	for _, v := range *n.reviewIDs {
		if v == id {
			return true
		}
	}
	return false
}

func (n *Node) hasIssueID(id int64) bool {
	if n.issueIDs == nil {
		return false
	}
	for _, v := range *n.issueIDs {
		if v == id {
			return true
		}
	}
	return false
}

func (n *Node) recordReviewID(id int64) {
	if n.reviewIDs != nil && !n.hasReviewID(id) {
		*n.reviewIDs = append(*n.reviewIDs, id)
	}
}

func (n *Node) recordIssueID(id int64) {
	if n.issueIDs != nil && !n.hasIssueID(id) {
		*n.issueIDs = append(*n.issueIDs, id)
	}
}

// Merger merges a PR by number. Satisfied by topology.Manager.
type Merger interface {
	MergePullRequest(ctx context.Context, number int) error
}

// Reconciler triages review feedback on one PR at a time.
type Reconciler struct {
	hostAPI  host.Host
	exec     executor.Executor
	reviewer string // automated reviewer login
	botLogin string // our own comment author, skipped during triage
	log      *logging.Logger
}

// NewReconciler creates a reconciler. automatedReviewer is the login
// whose "commented" reviews pass merge-readiness unconditionally.
func NewReconciler(hostAPI host.Host, exec executor.Executor, automatedReviewer, botLogin string, log *logging.Logger) *Reconciler {
	return &Reconciler{
		hostAPI:  hostAPI,
		exec:     exec,
		reviewer: automatedReviewer,
		botLogin: botLogin,
		log:      log.Named("review"),
	}
}

// IsReadyToMerge decides whether the PR can merge without further
// comment-addressing:
//
//	false if any review requests changes;
//	true unconditionally if the automated reviewer left a "commented"
//	review (its commentary is advisory, never individually addressed);
//	otherwise true iff no unaddressed root comments remain.
func (r *Reconciler) IsReadyToMerge(ctx context.Context, prNumber int, node *Node) (bool, error) {
	reviews, err := r.hostAPI.ListReviews(ctx, prNumber)
	if err != nil {
		return false, err
	}
	for _, rev := range reviews {
		if strings.EqualFold(rev.State, "CHANGES_REQUESTED") {
			return false, nil
		}
	}
	for _, rev := range reviews {
		if rev.User == r.reviewer && strings.EqualFold(rev.State, "COMMENTED") {
			return true, nil
		}
	}

	unaddressed, err := r.unaddressedRootComments(ctx, prNumber, node)
	if err != nil {
		return false, err
	}
	return len(unaddressed) == 0, nil
}

// triage is the executor's verdict on one comment.
type triage struct {
	Actionable   bool   `json:"actionable"`
	Reason       string `json:"reason"`
	SuggestedFix string `json:"suggestedFix"`
}

// AddressReview processes every unaddressed root review comment and
// unaddressed general PR comment: actionable feedback is applied by the
// executor and the thread is answered with the marker; non-actionable
// feedback is answered with the triage reason. Either way the comment
// ID is recorded as addressed, so a misclassified comment is not
// revisited. Returns the number of comments handled.
//
// The caller is responsible for having the PR's branch checked out and
// for committing any resulting changes.
func (r *Reconciler) AddressReview(ctx context.Context, prNumber int, node *Node) (int, error) {
	rootComments, err := r.unaddressedRootComments(ctx, prNumber, node)
	if err != nil {
		return 0, err
	}
	issueComments, err := r.unaddressedIssueComments(ctx, prNumber, node)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, c := range rootComments {
		verdict, err := r.classify(ctx, c.Body, c.Path)
		if err != nil {
			return handled, fmt.Errorf("classifying review comment %d: %w", c.ID, err)
		}
		reply := r.applyVerdict(ctx, verdict, c.Body, c.Path)
		if err := r.hostAPI.ReplyToReviewComment(ctx, prNumber, c.ID, reply); err != nil {
			return handled, err
		}
		node.recordReviewID(c.ID)
		handled++
	}

	for _, c := range issueComments {
		verdict, err := r.classify(ctx, c.Body, "")
		if err != nil {
			return handled, fmt.Errorf("classifying comment %d: %w", c.ID, err)
		}
		reply := r.applyVerdict(ctx, verdict, c.Body, "")
		body := fmt.Sprintf("> %s\n\n%s", firstLine(c.Body), reply)
		if _, err := r.hostAPI.CreateIssueComment(ctx, prNumber, body); err != nil {
			return handled, err
		}
		node.recordIssueID(c.ID)
		handled++
	}

	if handled > 0 && node.reviewsAddressed != nil {
		*node.reviewsAddressed++
	}
	return handled, nil
}

// classify asks the executor whether the comment demands a change.
// Unparseable verdicts degrade to non-actionable rather than blocking
// the thread forever.
func (r *Reconciler) classify(ctx context.Context, body, path string) (triage, error) {
	res, err := r.exec.ExecuteTask(ctx, triagePrompt(body, path))
	if err != nil {
		return triage{}, err
	}

	fallback := triage{Reason: "Could not determine a concrete action for this comment."}
	if !res.Success {
		return fallback, nil
	}
	raw := decompose.ExtractJSON(res.Output)
	if raw == "" {
		return fallback, nil
	}
	var verdict triage
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return fallback, nil
	}
	return verdict, nil
}

// applyVerdict performs the fix for actionable feedback and builds the
// reply body. Fix failures downgrade to a non-actionable reply; the
// comment is still recorded so the run keeps moving.
func (r *Reconciler) applyVerdict(ctx context.Context, verdict triage, body, path string) string {
	if !verdict.Actionable {
		reason := verdict.Reason
		if reason == "" {
			reason = "No change needed."
		}
		return fmt.Sprintf("%s\n%s", Marker, reason)
	}

	res, err := r.exec.ExecuteTask(ctx, fixPrompt(body, path, verdict.SuggestedFix))
	if err != nil || !res.Success {
		r.log.Warn(ctx, "review fix failed, replying without change",
			zap.String("path", path),
			zap.Error(err))
		return fmt.Sprintf("%s\nAttempted to address this but the change could not be applied automatically.", Marker)
	}
	return fmt.Sprintf("%s\nAddressed: %s", Marker, verdict.SuggestedFix)
}

// MaybeAutoMergePR labels the PR ready and attempts the merge. On
// failure it restores the awaiting-review label so a later event can
// retry. Best-effort: never returns an error.
func (r *Reconciler) MaybeAutoMergePR(ctx context.Context, merger Merger, prNumber int, readyLabel, awaitingLabel string) bool {
	if err := r.hostAPI.RemoveLabel(ctx, prNumber, awaitingLabel); err != nil {
		r.log.Debug(ctx, "removing awaiting label failed", zap.Int("pr", prNumber), zap.Error(err))
	}
	if err := r.hostAPI.AddLabels(ctx, prNumber, readyLabel); err != nil {
		r.log.Debug(ctx, "adding ready label failed", zap.Int("pr", prNumber), zap.Error(err))
	}

	if err := merger.MergePullRequest(ctx, prNumber); err != nil {
		r.log.Warn(ctx, "auto-merge failed, restoring awaiting label",
			zap.Int("pr", prNumber),
			zap.Error(err))
		if rerr := r.hostAPI.RemoveLabel(ctx, prNumber, readyLabel); rerr != nil {
			r.log.Debug(ctx, "removing ready label failed", zap.Int("pr", prNumber), zap.Error(rerr))
		}
		if aerr := r.hostAPI.AddLabels(ctx, prNumber, awaitingLabel); aerr != nil {
			r.log.Debug(ctx, "restoring awaiting label failed", zap.Int("pr", prNumber), zap.Error(aerr))
		}
		return false
	}
	return true
}

// unaddressedRootComments lists root review comments not yet handled,
// checking the node's ID list first and marker replies second.
func (r *Reconciler) unaddressedRootComments(ctx context.Context, prNumber int, node *Node) ([]host.ReviewComment, error) {
	comments, err := r.hostAPI.ListReviewComments(ctx, prNumber)
	if err != nil {
		return nil, err
	}

	answered := map[int64]bool{}
	for _, c := range comments {
		if c.InReplyTo != 0 && strings.Contains(c.Body, Marker) {
			answered[c.InReplyTo] = true
		}
	}

	var out []host.ReviewComment
	for _, c := range comments {
		if c.InReplyTo != 0 || c.User == r.botLogin || c.User == r.reviewer {
			continue
		}
		if node.hasReviewID(c.ID) || answered[c.ID] {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// unaddressedIssueComments lists general PR comments not yet handled.
// Our own comments (status comment, previous replies) never count.
func (r *Reconciler) unaddressedIssueComments(ctx context.Context, prNumber int, node *Node) ([]host.IssueComment, error) {
	comments, err := r.hostAPI.ListIssueComments(ctx, prNumber)
	if err != nil {
		return nil, err
	}

	var out []host.IssueComment
	for _, c := range comments {
		if c.User == r.botLogin || c.User == r.reviewer {
			continue
		}
		if strings.Contains(c.Body, Marker) || node.hasIssueID(c.ID) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func triagePrompt(body, path string) string {
	var b strings.Builder
	b.WriteString("Triage this pull request review comment. Decide whether it asks for a concrete code change.\n\n")
	if path != "" {
		fmt.Fprintf(&b, "File: %s\n", path)
	}
	fmt.Fprintf(&b, "Comment: %s\n\n", body)
	b.WriteString(`Respond with only a JSON object:
{"actionable": true, "reason": "<why / why not>", "suggestedFix": "<the change to make, if actionable>"}
`)
	return b.String()
}

func fixPrompt(body, path, suggestedFix string) string {
	var b strings.Builder
	b.WriteString("Apply this review feedback to the checked-out repository.\n\n")
	if path != "" {
		fmt.Fprintf(&b, "File: %s\n", path)
	}
	fmt.Fprintf(&b, "Comment: %s\nChange to make: %s\n", body, suggestedFix)
	return b.String()
}
