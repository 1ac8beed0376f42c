// ABOUTME: Configuration loading and parsing for the mesh daemon.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mesh daemon configuration.
type Config struct {
	Identity IdentityConfig `yaml:"identity"`
	Store    StoreConfig    `yaml:"store"`
	Channels ChannelsConfig `yaml:"channels"`
	Invites  InvitesConfig  `yaml:"invites"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// IdentityConfig locates the daemon's ed25519 keyfile.
type IdentityConfig struct {
	Keyfile string `yaml:"keyfile"`
}

// StoreConfig selects and locates the key-value store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "sqlite" or "memory"
	Path    string `yaml:"path"`    // sqlite database path
}

// ChannelsConfig holds the serve allow-list and per-channel admission policies.
type ChannelsConfig struct {
	Serve     []string                   `yaml:"serve"`
	Admission map[string]AdmissionConfig `yaml:"admission"`
}

// AdmissionConfig is the admission policy for one channel.
type AdmissionConfig struct {
	RequireInvite bool `yaml:"require_invite"`
	SingleUse     bool `yaml:"single_use"`
}

// InvitesConfig holds invite issuance defaults.
type InvitesConfig struct {
	DefaultTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	DefaultTTLRaw string `yaml:"default_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Identity.Keyfile == "" {
		return fmt.Errorf("identity.keyfile is required")
	}

	switch c.Store.Backend {
	case "", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	case "memory":
		// no path needed
	default:
		return fmt.Errorf("store.backend must be \"sqlite\" or \"memory\", got %q", c.Store.Backend)
	}

	if len(c.Channels.Serve) == 0 {
		return fmt.Errorf("channels.serve must name at least one channel")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	if cfg.Invites.DefaultTTLRaw != "" {
		ttl, err := time.ParseDuration(cfg.Invites.DefaultTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing default_ttl %q: %w", cfg.Invites.DefaultTTLRaw, err)
		}
		cfg.Invites.DefaultTTL = ttl
	}
	return nil
}
