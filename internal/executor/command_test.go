package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issuepilot/internal/config"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
)

func TestNewCommand(t *testing.T) {
	log := logging.NewTestLogger().Logger

	_, err := NewCommand(config.ExecutorConfig{}, t.TempDir(), log)
	require.Error(t, err)

	ex, err := NewCommand(config.ExecutorConfig{Command: []string{"agent", "--headless"}}, t.TempDir(), log)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent", "--headless"}, ex.argv)
}

func TestCommandExecuteTask(t *testing.T) {
	ctx := context.Background()
	log := logging.NewTestLogger().Logger

	t.Run("captures command output", func(t *testing.T) {
		ex, err := NewCommand(config.ExecutorConfig{
			Command: []string{"sh", "-c", "cat >/dev/null; echo done"},
		}, t.TempDir(), log)
		require.NoError(t, err)

		res, err := ex.ExecuteTask(ctx, "add a health endpoint")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "done\n", res.Output)
	})

	t.Run("edits land in the working directory", func(t *testing.T) {
		dir := t.TempDir()
		ex, err := NewCommand(config.ExecutorConfig{
			Command: []string{"sh", "-c", "cat > note.txt"},
		}, dir, log)
		require.NoError(t, err)

		_, err = ex.ExecuteTask(ctx, "write this down")
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(dir, "note.txt"))
		require.NoError(t, err)
		assert.Equal(t, "write this down", string(data))
	})

	t.Run("non-zero exit is a failed task", func(t *testing.T) {
		ex, err := NewCommand(config.ExecutorConfig{
			Command: []string{"sh", "-c", "echo scratch space exhausted >&2; exit 3"},
		}, t.TempDir(), log)
		require.NoError(t, err)

		res, err := ex.ExecuteTask(ctx, "doomed task")
		require.Error(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, err.Error(), "scratch space exhausted")
	})
}

func TestLastOutputLine(t *testing.T) {
	assert.Equal(t, "fatal: out of disk", lastOutputLine("step 1 ok\nstep 2 ok\nfatal: out of disk\n\n"))
	assert.Equal(t, "no output", lastOutputLine("   \n\n"))
}
