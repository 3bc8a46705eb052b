package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret(t *testing.T) {
	t.Run("redacts in String", func(t *testing.T) {
		s := Secret("ghp_supersecret")
		assert.Equal(t, "[REDACTED]", s.String())
		assert.Equal(t, "ghp_supersecret", s.Value())
	})

	t.Run("empty secret stays empty", func(t *testing.T) {
		s := Secret("")
		assert.Equal(t, "", s.String())
		assert.False(t, s.IsSet())
	})

	t.Run("redacts in JSON", func(t *testing.T) {
		out, err := json.Marshal(Secret("sk-ant-xyz"))
		require.NoError(t, err)
		assert.JSONEq(t, `"[REDACTED]"`, string(out))
	})
}

func TestLoad(t *testing.T) {
	t.Run("yaml file with env overrides", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ".issuepilot.yaml")
		content := []byte(`
repo:
  owner: fyrsmithlabs
  name: widgets
branches:
  prefix: bots
limits:
  max_ems: 2
`)
		require.NoError(t, os.WriteFile(path, content, 0o600))

		t.Setenv("GITHUB_TOKEN", "ghp_test")
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
		t.Setenv("ISSUEPILOT_BRANCHES_PREFIX", "pilot")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "fyrsmithlabs/widgets", cfg.Repo.FullName())
		assert.Equal(t, "pilot", cfg.Branches.Prefix, "env overrides yaml")
		assert.Equal(t, 2, cfg.Limits.MaxEMs)
		assert.Equal(t, 5, cfg.Limits.MaxWorkersPerEM, "default applied")
		assert.Equal(t, "ghp_test", cfg.Repo.Token.Value())
	})

	t.Run("missing owner fails validation", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "ghp_test")
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "owner")
	})

	t.Run("missing token fails validation", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "")
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
		t.Setenv("ISSUEPILOT_REPO_OWNER", "fyrsmithlabs")
		t.Setenv("ISSUEPILOT_REPO_NAME", "widgets")

		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "token")
	})
}
