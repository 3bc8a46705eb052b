// Package decompose turns an issue into EM tasks and an EM task into
// worker tasks by prompting the AI task executor for structured JSON.
//
// The two levels fail differently: issue analysis is fatal when the
// output is unusable (the whole tree depends on it), while a failed EM
// breakdown degrades to a single catch-all worker so every EM always
// has at least one worker.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issuepilot/internal/executor"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
	"github.com/fyrsmithlabs/issuepilot/internal/state"
)

// AnalysisError is the fatal failure mode of issue analysis: the AI
// output was empty or unparseable and there is no safe default.
type AnalysisError struct {
	Stage string // "analysis" or a breakdown stage
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("task analysis failed at %s: %v", e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// EMTask is one area-owner task produced by issue analysis.
type EMTask struct {
	Task         string `json:"task"`
	FocusArea    string `json:"focusArea"`
	MustRunFirst bool   `json:"mustRunFirst"`
}

// Analysis is the result of decomposing an issue.
type Analysis struct {
	Summary string
	// Setup is the task that must run before all others, or nil.
	Setup *EMTask
	// EMTasks are the remaining tasks, already truncated to the
	// configured maximum.
	EMTasks []EMTask
}

// WorkerTask is one file-scoped task produced by EM breakdown.
type WorkerTask struct {
	Task  string   `json:"task"`
	Files []string `json:"files,omitempty"`
}

// Decomposer drives both decomposition levels through the executor.
type Decomposer struct {
	exec executor.Executor
	log  *logging.Logger
}

// NewDecomposer creates a decomposer.
func NewDecomposer(exec executor.Executor, log *logging.Logger) *Decomposer {
	return &Decomposer{exec: exec, log: log.Named("decompose")}
}

type analysisPayload struct {
	Summary string   `json:"summary"`
	Tasks   []EMTask `json:"tasks"`
}

// AnalyzeIssue asks the executor to split the issue into at most maxEMs
// area-owner tasks. At most one task may be flagged mustRunFirst; the
// first such task becomes the setup task and is removed from the list.
func (d *Decomposer) AnalyzeIssue(ctx context.Context, issue state.Issue, maxEMs int) (*Analysis, error) {
	prompt := analysisPrompt(issue, maxEMs)

	res, err := d.exec.ExecuteTask(ctx, prompt)
	if err != nil {
		return nil, &AnalysisError{Stage: "analysis", Err: err}
	}
	if !res.Success {
		return nil, &AnalysisError{Stage: "analysis", Err: fmt.Errorf("executor reported failure: %s", res.Error)}
	}

	raw := ExtractJSON(res.Output)
	if raw == "" {
		return nil, &AnalysisError{Stage: "analysis", Err: fmt.Errorf("no JSON object in executor output")}
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, &AnalysisError{Stage: "analysis", Err: fmt.Errorf("parsing analysis output: %w", err)}
	}
	if len(payload.Tasks) == 0 {
		return nil, &AnalysisError{Stage: "analysis", Err: fmt.Errorf("analysis produced no tasks")}
	}

	analysis := &Analysis{Summary: strings.TrimSpace(payload.Summary)}
	for _, task := range payload.Tasks {
		if task.Task == "" {
			continue
		}
		if task.MustRunFirst && analysis.Setup == nil {
			t := task
			analysis.Setup = &t
			continue
		}
		analysis.EMTasks = append(analysis.EMTasks, task)
	}
	if analysis.Setup == nil && len(analysis.EMTasks) == 0 {
		return nil, &AnalysisError{Stage: "analysis", Err: fmt.Errorf("analysis produced no usable tasks")}
	}
	if len(analysis.EMTasks) > maxEMs {
		d.log.Warn(ctx, "truncating EM tasks to configured maximum",
			zap.Int("produced", len(analysis.EMTasks)),
			zap.Int("max", maxEMs))
		analysis.EMTasks = analysis.EMTasks[:maxEMs]
	}

	d.log.Info(ctx, "issue analyzed",
		zap.Int("emTasks", len(analysis.EMTasks)),
		zap.Bool("needsSetup", analysis.Setup != nil))
	return analysis, nil
}

type breakdownPayload struct {
	Tasks []WorkerTask `json:"tasks"`
}

// BreakdownEM asks the executor to split one EM task into at most
// maxWorkers file-scoped tasks. Any failure falls back to a single
// catch-all worker carrying the EM's whole task and no file list, so
// the EM stays live at the cost of granularity.
func (d *Decomposer) BreakdownEM(ctx context.Context, em *state.EMState, maxWorkers int) []WorkerTask {
	tasks, err := d.breakdown(ctx, em, maxWorkers)
	if err != nil {
		d.log.Warn(ctx, "EM breakdown failed, using catch-all worker",
			zap.Int("em", em.ID),
			zap.Error(err))
		return []WorkerTask{{Task: em.Task}}
	}
	return tasks
}

func (d *Decomposer) breakdown(ctx context.Context, em *state.EMState, maxWorkers int) ([]WorkerTask, error) {
	res, err := d.exec.ExecuteTask(ctx, breakdownPrompt(em, maxWorkers))
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("executor reported failure: %s", res.Error)
	}

	raw := ExtractJSON(res.Output)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in executor output")
	}

	var payload breakdownPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("parsing breakdown output: %w", err)
	}

	var tasks []WorkerTask
	for _, task := range payload.Tasks {
		if task.Task == "" {
			continue
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("breakdown produced no tasks")
	}
	if len(tasks) > maxWorkers {
		d.log.Warn(ctx, "truncating worker tasks to configured maximum",
			zap.Int("em", em.ID),
			zap.Int("produced", len(tasks)),
			zap.Int("max", maxWorkers))
		tasks = tasks[:maxWorkers]
	}
	return tasks, nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls the first JSON object out of model output,
// preferring a fenced code block, then falling back to the outermost
// braces. Returns "" when no object is present.
func ExtractJSON(output string) string {
	if m := fencedJSON.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end <= start {
		return ""
	}
	return output[start : end+1]
}

func analysisPrompt(issue state.Issue, maxEMs int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Analyze this issue and split it into at most %d independent engineering tasks.
Each task owns a non-overlapping area of the codebase. If some work must
complete before anything else can start (project scaffolding, shared
types), emit exactly one task with "mustRunFirst": true.

Issue #%d: %s

%s

Respond with only a JSON object:
{
  "summary": "<one-paragraph analysis>",
  "tasks": [
    {"task": "<what to do>", "focusArea": "<area name>", "mustRunFirst": false}
  ]
}
`, maxEMs, issue.Number, issue.Title, issue.Body)
	return b.String()
}

func breakdownPrompt(em *state.EMState, maxWorkers int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Split this engineering task into at most %d smaller tasks, each scoped
to a specific set of files. File sets must not overlap.

Area: %s
Task: %s

Respond with only a JSON object:
{
  "tasks": [
    {"task": "<what to do>", "files": ["path/one.go"]}
  ]
}
`, maxWorkers, em.FocusArea, em.Task)
	return b.String()
}
