package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultConfigFile is the well-known config path inside the
	// orchestrated repository.
	DefaultConfigFile = ".issuepilot.yaml"

	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "ISSUEPILOT_"
)

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ISSUEPILOT_REPO_OWNER, ISSUEPILOT_LOG_LEVEL, ...)
//  2. YAML config file (.issuepilot.yaml in the repo checkout)
//  3. Hardcoded defaults
//
// Secrets are additionally read from the conventional variables
// GITHUB_TOKEN and ANTHROPIC_API_KEY when not set elsewhere.
//
// # Environment Variable Mapping
//
// Variables are stripped of the ISSUEPILOT_ prefix, lowercased, and split
// on the first underscore into section and field:
//
//	ISSUEPILOT_REPO_OWNER        -> repo.owner
//	ISSUEPILOT_BRANCHES_PREFIX   -> branches.prefix
//	ISSUEPILOT_LIMITS_MAX_EMS    -> limits.max_ems
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		configPath = DefaultConfigFile
	}

	// Load from YAML file if it exists
	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// ISSUEPILOT_REPO_OWNER -> repo.owner
		// Split on first underscore only (section.field_name pattern).
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Conventional secret variables take effect only when nothing more
	// specific was configured.
	if !cfg.Repo.Token.IsSet() {
		cfg.Repo.Token = Secret(os.Getenv("GITHUB_TOKEN"))
	}
	if len(cfg.Executor.APIKeys) == 0 {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.Executor.APIKeys = []Secret{Secret(key)}
		}
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
