package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issuepilot/internal/config"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
)

// Command implements Executor over an agent CLI (e.g. a headless coding
// agent). The prompt goes to stdin, combined output is the task result,
// and file edits land directly in the repository working tree for the
// caller to commit. This is the binding to use for repository-editing
// tasks; the Messages API backend only returns text.
type Command struct {
	argv    []string
	dir     string
	timeout time.Duration
	log     *logging.Logger
}

// NewCommand creates an executor that runs argv in dir for each task.
func NewCommand(cfg config.ExecutorConfig, dir string, log *logging.Logger) (*Command, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("no executor command configured")
	}
	return &Command{
		argv:    cfg.Command,
		dir:     dir,
		timeout: cfg.Timeout.Duration(),
		log:     log.Named("executor"),
	}, nil
}

// ExecuteTask runs one invocation of the configured command. A non-zero
// exit is a failed task; retries are left to the agent itself.
func (c *Command) ExecuteTask(ctx context.Context, prompt string) (TaskResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Dir = c.dir
	cmd.Stdin = strings.NewReader(prompt)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	output := out.String()
	c.log.Debug(ctx, "agent command finished",
		zap.String("command", c.argv[0]),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("success", err == nil))

	if err != nil {
		rerr := fmt.Errorf("agent command %s: %w: %s", c.argv[0], err, lastOutputLine(output))
		return TaskResult{Success: false, Output: output, Error: rerr.Error()}, rerr
	}
	return TaskResult{Success: true, Output: output}, nil
}

// lastOutputLine returns the final non-empty line of output, the part
// most likely to carry the actual failure reason.
func lastOutputLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "no output"
}
