// Package config provides configuration loading for issuepilot.
//
// Configuration is loaded from a YAML file in the target repository
// (.issuepilot.yaml) with environment variable overrides. Secrets
// (host token, executor API keys) come from the environment only.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete issuepilot configuration.
type Config struct {
	Repo     RepoConfig     `koanf:"repo"`
	Branches BranchConfig   `koanf:"branches"`
	Labels   LabelConfig    `koanf:"labels"`
	Limits   LimitsConfig   `koanf:"limits"`
	Review   ReviewConfig   `koanf:"review"`
	Executor ExecutorConfig `koanf:"executor"`
	Log      LogConfig      `koanf:"log"`
}

// RepoConfig identifies the repository being orchestrated.
type RepoConfig struct {
	Owner      string `koanf:"owner"`
	Name       string `koanf:"name"`
	BaseBranch string `koanf:"base_branch"`
	Token      Secret `koanf:"token"`
}

// FullName returns "owner/name".
func (r RepoConfig) FullName() string {
	return r.Owner + "/" + r.Name
}

// BranchConfig controls the branch naming convention.
type BranchConfig struct {
	// Prefix is the leading path segment of every orchestration branch,
	// e.g. prefix "pilot" yields "pilot/issue-42-add-healthcheck".
	Prefix string `koanf:"prefix"`
}

// LabelConfig controls the externally visible label surface.
type LabelConfig struct {
	// Trigger is the issue label whose addition starts a run.
	Trigger string `koanf:"trigger"`
}

// LimitsConfig caps the size of the decomposed task tree.
type LimitsConfig struct {
	MaxEMs            int `koanf:"max_ems"`
	MaxWorkersPerEM   int `koanf:"max_workers_per_em"`
	ReviewWaitMinutes int `koanf:"review_wait_minutes"`
}

// ReviewConfig controls review reconciliation.
type ReviewConfig struct {
	// AutomatedReviewer is the login whose "commented" reviews are
	// advisory and never block a merge.
	AutomatedReviewer string `koanf:"automated_reviewer"`
}

// ExecutorConfig configures the AI task executor. When Command is set,
// tasks run through that agent CLI (prompt on stdin, file edits applied
// to the checkout); otherwise the Anthropic Messages API is used with
// the settings below.
type ExecutorConfig struct {
	Command           []string `koanf:"command"`
	Model             string   `koanf:"model"`
	MaxTokens         int      `koanf:"max_tokens"`
	MaxRetries        int      `koanf:"max_retries"`
	RequestsPerMinute float64  `koanf:"requests_per_minute"`
	Timeout           Duration `koanf:"timeout"`
	APIKeys           []Secret `koanf:"api_keys"`
}

// LogConfig selects log level and format, mapped onto internal/logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Repo.BaseBranch == "" {
		cfg.Repo.BaseBranch = "main"
	}
	if cfg.Branches.Prefix == "" {
		cfg.Branches.Prefix = "pilot"
	}
	if cfg.Labels.Trigger == "" {
		cfg.Labels.Trigger = "issuepilot"
	}
	if cfg.Limits.MaxEMs == 0 {
		cfg.Limits.MaxEMs = 4
	}
	if cfg.Limits.MaxWorkersPerEM == 0 {
		cfg.Limits.MaxWorkersPerEM = 5
	}
	if cfg.Limits.ReviewWaitMinutes == 0 {
		cfg.Limits.ReviewWaitMinutes = 15
	}
	if cfg.Review.AutomatedReviewer == "" {
		cfg.Review.AutomatedReviewer = "issuepilot-reviewer[bot]"
	}
	if cfg.Executor.Model == "" {
		cfg.Executor.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Executor.MaxTokens == 0 {
		cfg.Executor.MaxTokens = 8192
	}
	if cfg.Executor.MaxRetries == 0 {
		cfg.Executor.MaxRetries = 3
	}
	if cfg.Executor.RequestsPerMinute == 0 {
		cfg.Executor.RequestsPerMinute = 30
	}
	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = Duration(10 * time.Minute)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Repo.Owner == "" || c.Repo.Name == "" {
		return errors.New("repo owner and name are required")
	}
	if !c.Repo.Token.IsSet() {
		return errors.New("repo token not set (GITHUB_TOKEN)")
	}
	if c.Limits.MaxEMs < 1 {
		return fmt.Errorf("max_ems must be >= 1, got %d", c.Limits.MaxEMs)
	}
	if c.Limits.MaxWorkersPerEM < 1 {
		return fmt.Errorf("max_workers_per_em must be >= 1, got %d", c.Limits.MaxWorkersPerEM)
	}
	if len(c.Executor.Command) == 0 && len(c.Executor.APIKeys) == 0 {
		return errors.New("executor needs a command or at least one API key (ANTHROPIC_API_KEY)")
	}
	return nil
}
