package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issuepilot/internal/config"
	"github.com/fyrsmithlabs/issuepilot/internal/event"
	"github.com/fyrsmithlabs/issuepilot/internal/executor"
	"github.com/fyrsmithlabs/issuepilot/internal/host"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
	"github.com/fyrsmithlabs/issuepilot/internal/orchestrator"
	"github.com/fyrsmithlabs/issuepilot/internal/state"
	"github.com/fyrsmithlabs/issuepilot/internal/vcs"
)

var (
	eventFile  string
	sequential bool
)

var handleCmd = &cobra.Command{
	Use:   "handle",
	Short: "Handle one orchestration event and exit",
	Long: `Handle reads a single event payload, routes it through the
orchestrator against the checkout at --repo-dir, persists the mutated
run state, and exits. A non-zero exit means the invocation failed and
the run was marked failed; a later scheduled_check event recovers it.

Examples:
  # Handle a webhook payload written to a file by CI
  issuepilot handle --repo-dir /work/checkout --event-file event.json

  # Read the payload from stdin
  echo '{"type":"scheduled_check","issueNumber":42}' | issuepilot handle --event-file -

  # Run internal dispatch events in-process instead of via repository_dispatch
  issuepilot handle --event-file event.json --sequential`,
	RunE: runHandle,
}

func init() {
	handleCmd.Flags().StringVar(&eventFile, "event-file", "", "event payload file, or - for stdin (required)")
	handleCmd.Flags().BoolVar(&sequential, "sequential", false, "handle internal dispatch events in-process")
	_ = handleCmd.MarkFlagRequired("event-file")
}

func runHandle(cmd *cobra.Command, _ []string) error {
	ev, err := event.ParseFile(eventFile)
	if err != nil {
		return err
	}

	path := configPath
	if path == "" {
		path = filepath.Join(repoDir, config.DefaultConfigFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	git := vcs.NewGit(repoDir, vcs.ExecRunner{}, log)
	hostAPI, err := host.NewGitHub(ctx, cfg.Repo, log)
	if err != nil {
		return fmt.Errorf("building host client: %w", err)
	}
	exec, err := newExecutor(cfg, repoDir, log)
	if err != nil {
		return fmt.Errorf("building executor: %w", err)
	}
	store := state.NewStore(git, cfg.Branches.Prefix, log)

	var opts []orchestrator.Option
	if sequential {
		opts = append(opts, orchestrator.WithSequentialDispatch())
	}
	d := orchestrator.NewDispatcher(cfg, store, git, hostAPI, exec, log, opts...)

	if err := d.Handle(ctx, ev); err != nil {
		log.Error(ctx, "event handling failed",
			zap.String("eventType", string(ev.Type)),
			zap.Int("issue", ev.IssueNumber),
			zap.Error(err))
		return err
	}
	return nil
}

// newExecutor picks the agent-CLI executor when one is configured so
// repository-editing tasks actually land in the checkout, and falls
// back to the Messages API for text-only bindings.
func newExecutor(cfg *config.Config, dir string, log *logging.Logger) (executor.Executor, error) {
	if len(cfg.Executor.Command) > 0 {
		return executor.NewCommand(cfg.Executor, dir, log)
	}
	return executor.NewAnthropic(cfg.Executor, log)
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	lc.Format = cfg.Log.Format
	level, err := logging.LevelFromString(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	return logging.NewLogger(lc)
}
