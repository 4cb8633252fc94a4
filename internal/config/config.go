// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing engine configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Engine() EngineConfig
	Safety() SafetyConfig
	Oracle() OracleConfig
	Harness() HarnessConfig
	Feed() FeedConfig
	Publish() PublishConfig
	Archive() ArchiveConfig
	Logging() LoggingConfig

	// CLI flag overrides.
	SetEngineMode(string)
	SetEngineDryRun(bool)
}

// Config holds the entire engine configuration. Fields are private to
// force access through the Interface getters.
type Config struct {
	engine  EngineConfig
	safety  SafetyConfig
	oracle  OracleConfig
	harness HarnessConfig
	feed    FeedConfig
	publish PublishConfig
	archive ArchiveConfig
	logging LoggingConfig
}

func (c *Config) Engine() EngineConfig   { return c.engine }
func (c *Config) Safety() SafetyConfig   { return c.safety }
func (c *Config) Oracle() OracleConfig   { return c.oracle }
func (c *Config) Harness() HarnessConfig { return c.harness }
func (c *Config) Feed() FeedConfig       { return c.feed }
func (c *Config) Publish() PublishConfig { return c.publish }
func (c *Config) Archive() ArchiveConfig { return c.archive }
func (c *Config) Logging() LoggingConfig { return c.logging }

func (c *Config) SetEngineMode(mode string) { c.engine.Mode = mode }
func (c *Config) SetEngineDryRun(b bool)    { c.engine.DryRun = b }

// Engine modes.
const (
	ModeDirect    = "direct"
	ModeCommunity = "community"
)

// EngineConfig controls the improvement loop itself.
type EngineConfig struct {
	Mode            string `mapstructure:"mode" yaml:"mode"`
	IntervalSeconds int    `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	StateDir        string `mapstructure:"state_dir" yaml:"state_dir"`
	RepoRoot        string `mapstructure:"repo_root" yaml:"repo_root"`
	DryRun          bool   `mapstructure:"dry_run" yaml:"dry_run"`
}

// Interval returns the pause between loop ticks.
func (e EngineConfig) Interval() time.Duration {
	return time.Duration(e.IntervalSeconds) * time.Second
}

// SafetyConfig bounds what a single improvement may touch.
type SafetyConfig struct {
	MaxFilesPerChange int      `mapstructure:"max_files_per_change" yaml:"max_files_per_change"`
	MaxLinesPerChange int      `mapstructure:"max_lines_per_change" yaml:"max_lines_per_change"`
	MaxPerDay         int      `mapstructure:"max_per_day" yaml:"max_per_day"`
	AllowedPaths      []string `mapstructure:"allowed_paths" yaml:"allowed_paths"`
	ForbiddenFiles    []string `mapstructure:"forbidden_files" yaml:"forbidden_files"`
}

// OracleConfig configures the code-intelligence oracle client.
type OracleConfig struct {
	APIKey            string `mapstructure:"api_key" yaml:"api_key"`
	ModelFast         string `mapstructure:"model_fast" yaml:"model_fast"`
	ModelPowerful     string `mapstructure:"model_powerful" yaml:"model_powerful"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries        int    `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// Timeout returns the per-call deadline for oracle requests.
func (o OracleConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// HarnessConfig configures the test harness subprocess.
type HarnessConfig struct {
	Command        []string `mapstructure:"command" yaml:"command"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout returns the wall-clock bound for one harness run.
func (h HarnessConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// FeedConfig configures the community feed client and the solicitation
// windows of the community state machine.
type FeedConfig struct {
	BaseURL                string `mapstructure:"base_url" yaml:"base_url"`
	APIKey                 string `mapstructure:"api_key" yaml:"api_key"`
	Group                  string `mapstructure:"group" yaml:"group"`
	CycleHours             int    `mapstructure:"cycle_hours" yaml:"cycle_hours"`
	WaitHours              int    `mapstructure:"wait_hours" yaml:"wait_hours"`
	MinCommentsForEarly    int    `mapstructure:"min_comments_for_early" yaml:"min_comments_for_early"`
	MinPostIntervalSeconds int    `mapstructure:"min_post_interval_seconds" yaml:"min_post_interval_seconds"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// CycleInterval returns the minimum spacing between community
// improvement cycles.
func (f FeedConfig) CycleInterval() time.Duration {
	return time.Duration(f.CycleHours) * time.Hour
}

// WaitWindow returns how long a solicitation post collects comments
// before the deadline trigger fires.
func (f FeedConfig) WaitWindow() time.Duration {
	return time.Duration(f.WaitHours) * time.Hour
}

// MinPostInterval returns the minimum spacing between our own posts.
func (f FeedConfig) MinPostInterval() time.Duration {
	return time.Duration(f.MinPostIntervalSeconds) * time.Second
}

// Timeout returns the per-call deadline for feed requests.
func (f FeedConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// PublishConfig configures branch, commit and review-request creation.
type PublishConfig struct {
	Remote       string       `mapstructure:"remote" yaml:"remote"`
	BaseBranch   string       `mapstructure:"base_branch" yaml:"base_branch"`
	BranchPrefix string       `mapstructure:"branch_prefix" yaml:"branch_prefix"`
	AuthorName   string       `mapstructure:"author_name" yaml:"author_name"`
	AuthorEmail  string       `mapstructure:"author_email" yaml:"author_email"`
	GitHub       GitHubConfig `mapstructure:"github" yaml:"github"`
}

// GitHubConfig holds the hosting-service coordinates for review requests.
type GitHubConfig struct {
	Owner string `mapstructure:"owner" yaml:"owner"`
	Repo  string `mapstructure:"repo" yaml:"repo"`
	Token string `mapstructure:"token" yaml:"token"`
}

// ArchiveConfig configures the optional Postgres mirror of evaluation
// records. The file-backed history remains the source of truth.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// SetDefaults registers defaults for all configuration keys.
func SetDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.mode", ModeDirect)
	v.SetDefault("engine.interval_seconds", 300)
	v.SetDefault("engine.state_dir", "~/.ouroboros")
	v.SetDefault("engine.repo_root", ".")
	v.SetDefault("engine.dry_run", false)

	// Safety defaults
	v.SetDefault("safety.max_files_per_change", 5)
	v.SetDefault("safety.max_lines_per_change", 200)
	v.SetDefault("safety.max_per_day", 10)
	v.SetDefault("safety.allowed_paths", []string{"src/", "internal/", "cmd/", "tests/", "docs/"})
	v.SetDefault("safety.forbidden_files", []string{".env", "secrets.yaml"})

	// Oracle defaults
	v.SetDefault("oracle.model_fast", "gemini-2.0-flash")
	v.SetDefault("oracle.model_powerful", "gemini-2.5-pro")
	v.SetDefault("oracle.timeout_seconds", 120)
	v.SetDefault("oracle.max_retries", 3)
	v.SetDefault("oracle.requests_per_minute", 30)

	// Harness defaults
	v.SetDefault("harness.command", []string{"go", "test", "./..."})
	v.SetDefault("harness.timeout_seconds", 300)

	// Feed defaults
	v.SetDefault("feed.group", "selfimprovement")
	v.SetDefault("feed.cycle_hours", 72)
	v.SetDefault("feed.wait_hours", 6)
	v.SetDefault("feed.min_comments_for_early", 3)
	v.SetDefault("feed.min_post_interval_seconds", 3600)
	v.SetDefault("feed.timeout_seconds", 30)

	// Publish defaults
	v.SetDefault("publish.remote", "origin")
	v.SetDefault("publish.base_branch", "main")
	v.SetDefault("publish.branch_prefix", "ouroboros/")
	v.SetDefault("publish.author_name", "ouroboros-bot")
	v.SetDefault("publish.author_email", "ouroboros@users.noreply.github.com")

	// Archive defaults
	v.SetDefault("archive.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", false)
}

// NewDefaultConfig returns a configuration populated purely from
// registered defaults. Useful for tests and as a base for overrides.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewFromViper(v)
	if err != nil {
		// Defaults failing validation is a programming error.
		panic(fmt.Sprintf("default configuration invalid: %v", err))
	}
	return cfg
}

// NewFromViper creates a configuration instance from a viper object.
// Secrets are bound to environment variables and never read from the
// config file.
func NewFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("oracle.api_key", "OUROBOROS_ORACLE_API_KEY")
	v.BindEnv("feed.api_key", "OUROBOROS_FEED_API_KEY")
	v.BindEnv("publish.github.token", "OUROBOROS_GITHUB_TOKEN")
	v.BindEnv("archive.dsn", "OUROBOROS_ARCHIVE_DSN")

	var cfg Config
	sections := map[string]interface{}{
		"engine":  &cfg.engine,
		"safety":  &cfg.safety,
		"oracle":  &cfg.oracle,
		"harness": &cfg.harness,
		"feed":    &cfg.feed,
		"publish": &cfg.publish,
		"archive": &cfg.archive,
		"logging": &cfg.logging,
	}
	for key, dst := range sections {
		if err := v.UnmarshalKey(key, dst); err != nil {
			return nil, fmt.Errorf("error unmarshaling %s config: %w", key, err)
		}
	}

	// Pick up secrets manually when UnmarshalKey didn't.
	if cfg.oracle.APIKey == "" {
		cfg.oracle.APIKey = os.Getenv("OUROBOROS_ORACLE_API_KEY")
	}
	if cfg.feed.APIKey == "" {
		cfg.feed.APIKey = os.Getenv("OUROBOROS_FEED_API_KEY")
	}
	if cfg.publish.GitHub.Token == "" {
		cfg.publish.GitHub.Token = os.Getenv("OUROBOROS_GITHUB_TOKEN")
	}
	if cfg.archive.DSN == "" {
		cfg.archive.DSN = os.Getenv("OUROBOROS_ARCHIVE_DSN")
	}

	expanded, err := homedir.Expand(cfg.engine.StateDir)
	if err != nil {
		return nil, fmt.Errorf("expanding engine.state_dir: %w", err)
	}
	cfg.engine.StateDir = expanded

	// The engine log lives under the state dir unless placed explicitly.
	// The watch command depends on this file existing.
	if cfg.logging.File == "" {
		cfg.logging.File = filepath.Join(cfg.engine.StateDir, "ouroboros.log")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// Secret presence is enforced by the client constructors that need them,
// so read-only commands work without credentials.
func (c *Config) Validate() error {
	if c.engine.Mode != ModeDirect && c.engine.Mode != ModeCommunity {
		return fmt.Errorf("engine.mode must be %q or %q, got %q", ModeDirect, ModeCommunity, c.engine.Mode)
	}
	if c.engine.IntervalSeconds <= 0 {
		return fmt.Errorf("engine.interval_seconds must be a positive integer")
	}
	if err := c.safety.Validate(); err != nil {
		return fmt.Errorf("safety configuration invalid: %w", err)
	}
	if len(c.harness.Command) == 0 {
		return fmt.Errorf("harness.command must not be empty")
	}
	if c.harness.TimeoutSeconds <= 0 {
		return fmt.Errorf("harness.timeout_seconds must be a positive integer")
	}
	if c.engine.Mode == ModeCommunity {
		if err := c.feed.Validate(); err != nil {
			return fmt.Errorf("feed configuration invalid: %w", err)
		}
	}
	if c.archive.Enabled && c.archive.DSN == "" {
		return fmt.Errorf("archive.enabled requires a DSN; set OUROBOROS_ARCHIVE_DSN")
	}
	return nil
}

// Validate checks the safety limits.
func (s *SafetyConfig) Validate() error {
	if s.MaxFilesPerChange <= 0 {
		return fmt.Errorf("max_files_per_change must be greater than 0")
	}
	if s.MaxLinesPerChange <= 0 {
		return fmt.Errorf("max_lines_per_change must be greater than 0")
	}
	if s.MaxPerDay <= 0 {
		return fmt.Errorf("max_per_day must be greater than 0")
	}
	if len(s.AllowedPaths) == 0 {
		return fmt.Errorf("allowed_paths must not be empty")
	}
	return nil
}

// Validate checks the feed settings required for community mode.
func (f *FeedConfig) Validate() error {
	if f.BaseURL == "" {
		return fmt.Errorf("base_url is required in community mode")
	}
	if f.Group == "" {
		return fmt.Errorf("group is required in community mode")
	}
	if f.CycleHours <= 0 {
		return fmt.Errorf("cycle_hours must be greater than 0")
	}
	if f.WaitHours <= 0 {
		return fmt.Errorf("wait_hours must be greater than 0")
	}
	if f.MinCommentsForEarly <= 0 {
		return fmt.Errorf("min_comments_for_early must be greater than 0")
	}
	return nil
}
