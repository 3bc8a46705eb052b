package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issuepilot/internal/logging"
	"github.com/fyrsmithlabs/issuepilot/internal/vcs"
)

// FilePath is the well-known state file location inside the checkout.
const FilePath = ".issuepilot/state.json"

// childBranchSuffix matches the suffix of setup, EM, and worker branches
// under the shared issue prefix.
var childBranchSuffix = regexp.MustCompile(`^(setup|em-\d+)(-w-\d+)?$`)

// VersionMismatchError is returned by Load when the stored document's
// schema version is unrecognized. The run cannot safely continue on a
// document this binary does not understand.
type VersionMismatchError struct {
	Found    int
	Expected int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("state schema version %d, this binary expects %d", e.Found, e.Expected)
}

// Store loads and saves the state document against the canonical work
// branch of the current checkout.
type Store struct {
	git    vcs.Client
	log    *logging.Logger
	prefix string
}

// NewStore creates a Store over the given checkout.
func NewStore(git vcs.Client, branchPrefix string, log *logging.Logger) *Store {
	return &Store{
		git:    git,
		prefix: branchPrefix,
		log:    log.Named("state"),
	}
}

// Load reads the state file from the current checkout. A missing file is
// not an error: it returns (nil, nil), meaning no run is in flight on
// this branch.
func (s *Store) Load(ctx context.Context) (*OrchestratorState, error) {
	path := filepath.Join(s.git.Dir(), FilePath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var st OrchestratorState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	if st.Version != SchemaVersion {
		return nil, &VersionMismatchError{Found: st.Version, Expected: SchemaVersion}
	}
	return &st, nil
}

// Save bumps UpdatedAt, writes the state file, and commits+pushes it —
// but only when the current checkout is the canonical work branch for
// this state. Saving from any other branch writes the file locally and
// skips the commit, so orchestration metadata never leaks into EM or
// worker branches and causes spurious merge conflicts.
func (s *Store) Save(ctx context.Context, st *OrchestratorState, message string) error {
	st.UpdatedAt = nowUTC()

	if err := s.write(st); err != nil {
		return err
	}

	current, err := s.git.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("determining current branch: %w", err)
	}
	if current != st.WorkBranch {
		s.log.Debug(ctx, "state written without commit, not on work branch",
			zap.String("current", current),
			zap.String("work_branch", st.WorkBranch))
		return nil
	}

	if message == "" {
		message = fmt.Sprintf("issuepilot: update state (phase %s)", st.Phase)
	}
	if err := s.git.CommitAndPush(ctx, message, FilePath); err != nil {
		if errors.Is(err, vcs.ErrNothingToCommit) {
			return nil
		}
		return fmt.Errorf("committing state: %w", err)
	}
	s.log.Debug(ctx, "state persisted", zap.String("phase", string(st.Phase)))
	return nil
}

// Initialize creates the work branch from the base branch and performs
// the first save on it.
func (s *Store) Initialize(ctx context.Context, st *OrchestratorState) error {
	if err := s.git.CheckoutNew(ctx, st.WorkBranch, st.BaseBranch); err != nil {
		return fmt.Errorf("creating work branch %s: %w", st.WorkBranch, err)
	}
	return s.Save(ctx, st, fmt.Sprintf("issuepilot: start run for issue #%d", st.Issue.Number))
}

// Delete removes the state file from the work branch: when the final
// PR merges and the run is complete, or when the issue is closed and
// the run is abandoned.
func (s *Store) Delete(ctx context.Context, st *OrchestratorState) error {
	current, err := s.git.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current != st.WorkBranch {
		if err := s.git.Checkout(ctx, st.WorkBranch); err != nil {
			return err
		}
	}
	path := filepath.Join(s.git.Dir(), FilePath)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state file: %w", err)
	}
	err = s.git.CommitAndPush(ctx, fmt.Sprintf("issuepilot: complete run for issue #%d", st.Issue.Number), FilePath)
	if err != nil && !errors.Is(err, vcs.ErrNothingToCommit) {
		return err
	}
	return nil
}

// FindWorkBranchForIssue lists remote branches matching the naming
// convention and returns the expected single match, or "" when no run
// is in flight for the issue. This is the idempotency guard against
// duplicate starts and the sole mechanism by which a later event
// re-associates itself with in-flight state.
func (s *Store) FindWorkBranchForIssue(ctx context.Context, issueNumber int) (string, error) {
	pattern := WorkBranchPattern(s.prefix, issueNumber)
	branches, err := s.git.ListRemoteBranches(ctx, pattern)
	if err != nil {
		return "", fmt.Errorf("looking up work branch for issue #%d: %w", issueNumber, err)
	}

	var matches []string
	for _, b := range branches {
		rest := strings.TrimPrefix(b, pattern)
		// EM and worker branches share the issue prefix; the work branch
		// is the one whose suffix is a bare slug, not setup/em-N/-w-N.
		if childBranchSuffix.MatchString(rest) {
			continue
		}
		matches = append(matches, b)
	}

	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		// Convention promises a single work branch per issue; oldest one
		// (lexicographically first for determinism) wins if that breaks.
		s.log.Warn(ctx, "multiple work branches for issue",
			zap.Int("issue", issueNumber), zap.Strings("branches", matches))
		return matches[0], nil
	}
}

func (s *Store) write(st *OrchestratorState) error {
	path := filepath.Join(s.git.Dir(), FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing state: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}
