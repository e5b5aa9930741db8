// ABOUTME: Configuration loading and parsing for storymaker
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when the config file leaves them unset.
const (
	DefaultStoryID         = "captured_story"
	DefaultStoryTitle      = "Captured Story"
	DefaultOutputDir       = "out"
	DefaultPanelGap        = 25 * time.Second
	DefaultRebuildInterval = 60 * time.Second
)

// Config represents the complete storymaker configuration
type Config struct {
	Matrix   MatrixConfig   `yaml:"matrix"`
	Story    StoryConfig    `yaml:"story"`
	Database DatabaseConfig `yaml:"database"`
	Assets   AssetsConfig   `yaml:"assets"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MatrixConfig holds the chat transport credentials
type MatrixConfig struct {
	Homeserver   string   `yaml:"homeserver"`
	UserID       string   `yaml:"user_id"`
	AccessToken  string   `yaml:"access_token"`
	AllowedRooms []string `yaml:"allowed_rooms"`
}

// StoryConfig holds story identity and capture timing
type StoryConfig struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	OutputDir string `yaml:"output_dir"`
	RulesPath string `yaml:"rules_path"`

	PanelGap        time.Duration `yaml:"-"`
	RebuildInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PanelGapRaw        string `yaml:"panel_gap"`
	RebuildIntervalRaw string `yaml:"rebuild_interval"`
}

// DatabaseConfig holds the panel database location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AssetsConfig holds the image host upload settings. An empty upload_url
// disables uploads; capture continues with text-only panels.
type AssetsConfig struct {
	UploadURL string `yaml:"upload_url"`
	Preset    string `yaml:"preset"`
	Folder    string `yaml:"folder"`
}

// BridgeConfig holds transport-side behavior toggles
type BridgeConfig struct {
	Confirmations bool `yaml:"confirmations"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are
// applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Story.ID == "" {
		c.Story.ID = DefaultStoryID
	}
	if c.Story.Title == "" {
		c.Story.Title = DefaultStoryTitle
	}
	if c.Story.OutputDir == "" {
		c.Story.OutputDir = DefaultOutputDir
	}
	if c.Story.PanelGap == 0 {
		c.Story.PanelGap = DefaultPanelGap
	}
	if c.Story.RebuildInterval == 0 {
		c.Story.RebuildInterval = DefaultRebuildInterval
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure
// encountered. Missing asset upload settings are not an error: the upload
// path degrades and capture continues with text-only panels.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Story.PanelGap < 0 {
		return fmt.Errorf("story.panel_gap must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Story.PanelGapRaw != "" {
		cfg.Story.PanelGap, err = time.ParseDuration(cfg.Story.PanelGapRaw)
		if err != nil {
			return fmt.Errorf("parsing panel_gap %q: %w", cfg.Story.PanelGapRaw, err)
		}
	}

	if cfg.Story.RebuildIntervalRaw != "" {
		cfg.Story.RebuildInterval, err = time.ParseDuration(cfg.Story.RebuildIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing rebuild_interval %q: %w", cfg.Story.RebuildIntervalRaw, err)
		}
	}

	return nil
}
