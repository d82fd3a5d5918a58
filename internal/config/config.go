// Package config loads compass configuration from file, environment, and
// defaults, in that order of increasing precedence for the environment.
//
// The file is YAML, searched for at $COMPASS_CONFIG, ./compass.yaml, and
// ~/.compass/compass.yaml. Every key can also be set through the
// environment with the COMPASS_ prefix (e.g. COMPASS_SEARCH_ROOT).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/yatin-bhojwani/compass/internal/directory"
)

// Config is the resolved runtime configuration.
type Config struct {
	// SearchRoot is the base URL of the remote directory service.
	SearchRoot string `mapstructure:"search_root" yaml:"search_root"`

	// DBPath is the local snapshot database file.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// FreshnessDays is how old a snapshot may grow before initialization
	// forces a full resync instead of an incremental one.
	FreshnessDays int `mapstructure:"freshness_days" yaml:"freshness_days"`

	// QueryDebounce is the suggested interval callers should wait between
	// issuing queries to the worker. Responses carry sequence numbers, but
	// debouncing still avoids wasted evaluation.
	QueryDebounce time.Duration `mapstructure:"query_debounce" yaml:"query_debounce"`

	// Batch holds the roll-number batch-derivation constants. These have a
	// validity horizon and are revised deliberately, never extrapolated.
	Batch BatchConfig `mapstructure:"batch" yaml:"batch"`

	Daemon DaemonConfig `mapstructure:"daemon" yaml:"daemon"`
}

// BatchConfig mirrors directory.BatchRule for the config file.
type BatchConfig struct {
	Prefix      string `mapstructure:"prefix" yaml:"prefix"`
	PrefixFloor string `mapstructure:"prefix_floor" yaml:"prefix_floor"`
	Rollover    string `mapstructure:"rollover" yaml:"rollover"`
}

// DaemonConfig configures the long-running refresh daemon.
type DaemonConfig struct {
	// RefreshInterval is how often the daemon polls the changelog endpoint.
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`

	// SpoolDir, when set, is watched for roster dump files (*.json) that
	// are imported as full snapshots.
	SpoolDir string `mapstructure:"spool_dir" yaml:"spool_dir"`

	// DashboardPort is the WebSocket status dashboard port; 0 disables it.
	DashboardPort int `mapstructure:"dashboard_port" yaml:"dashboard_port"`

	// LogFile, when set, receives rotated daemon logs instead of stderr.
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
}

// Rule converts the batch constants to the directory package's form.
func (b BatchConfig) Rule() directory.BatchRule {
	rule := directory.DefaultBatchRule()
	if b.Prefix != "" {
		rule.Prefix = b.Prefix
	}
	if b.PrefixFloor != "" {
		rule.PrefixFloor = b.PrefixFloor
	}
	if b.Rollover != "" {
		rule.Rollover = b.Rollover
	}
	return rule
}

// Freshness returns the full-resync threshold as a duration.
func (c *Config) Freshness() time.Duration {
	return time.Duration(c.FreshnessDays) * 24 * time.Hour
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search_root", "https://search.iitk.ac.in")
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("freshness_days", 30)
	v.SetDefault("query_debounce", 300*time.Millisecond)
	v.SetDefault("batch.prefix", "Y")
	v.SetDefault("batch.prefix_floor", "7")
	v.SetDefault("batch.rollover", "30")
	v.SetDefault("daemon.refresh_interval", 15*time.Minute)
	v.SetDefault("daemon.spool_dir", "")
	v.SetDefault("daemon.dashboard_port", 0)
	v.SetDefault("daemon.log_file", "")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".compass", "directory.db")
	}
	return filepath.Join(home, ".compass", "directory.db")
}

// Load resolves configuration. A missing config file is not an error; a
// malformed one is.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COMPASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("COMPASS_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("compass")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".compass"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// WriteStarter writes a commented starter config file at path, refusing to
// overwrite an existing one.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	starter := Config{
		SearchRoot:    "https://search.iitk.ac.in",
		DBPath:        defaultDBPath(),
		FreshnessDays: 30,
		QueryDebounce: 300 * time.Millisecond,
		Batch:         BatchConfig{Prefix: "Y", PrefixFloor: "7", Rollover: "30"},
		Daemon: DaemonConfig{
			RefreshInterval: 15 * time.Minute,
		},
	}
	data, err := yaml.Marshal(&starter)
	if err != nil {
		return fmt.Errorf("failed to encode starter config: %w", err)
	}
	header := []byte("# compass configuration\n# The batch constants are valid through admission year 29; revise them\n# deliberately when the roll-number scheme rolls over.\n")
	if err := os.WriteFile(path, append(header, data...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
