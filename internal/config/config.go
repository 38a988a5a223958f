package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models rollcall.yml. One Config is built per run and passed into
// every component; there is no ambient global state.
type Config struct {
	Timezone string `yaml:"timezone"`
	Workbook string `yaml:"workbook"`
	Tables   struct {
		Master      string `yaml:"master"`
		CaseIndex   string `yaml:"case_index"`
		Assignments string `yaml:"assignments"`
		Schedule    string `yaml:"schedule"`
		Policies    string `yaml:"policies"`
		Snapshot    string `yaml:"snapshot"`
		SnapshotLog string `yaml:"snapshot_log"`
		Dashboard   string `yaml:"dashboard"`
		QueuePrefix string `yaml:"queue_prefix"`
	} `yaml:"tables"`
	Locks struct {
		WaitSeconds int `yaml:"wait_seconds"`
		TTLSeconds  int `yaml:"ttl_seconds"`
	} `yaml:"locks"`
	Aliases map[string]map[string][]string `yaml:"aliases"`
}

// Location resolves the configured timezone. Every weekday and date-key
// computation in a run must go through the same location.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config.timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workbook == "" {
		return fmt.Errorf("config.workbook is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Tables.Master == "" {
		return fmt.Errorf("config.tables.master is required")
	}
	if c.Tables.Policies == "" {
		return fmt.Errorf("config.tables.policies is required")
	}
	if c.Tables.Schedule == "" {
		return fmt.Errorf("config.tables.schedule is required")
	}
	if c.Tables.Snapshot == "" || c.Tables.SnapshotLog == "" {
		return fmt.Errorf("config.tables.snapshot and snapshot_log are required")
	}
	if c.Tables.Snapshot == c.Tables.SnapshotLog {
		return fmt.Errorf("config.tables.snapshot and snapshot_log must differ")
	}
	if c.Locks.WaitSeconds < 0 || c.Locks.TTLSeconds < 0 {
		return fmt.Errorf("config.locks values must be non-negative")
	}
	for column, entries := range c.Aliases {
		if column == "" {
			return fmt.Errorf("config.aliases contains empty column name")
		}
		for canonical := range entries {
			if canonical == "" {
				return fmt.Errorf("config.aliases[%s] contains empty value", column)
			}
		}
	}
	return nil
}

// LockWait returns the bounded wait for coarse lock acquisition.
func (c *Config) LockWait() time.Duration {
	if c.Locks.WaitSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Locks.WaitSeconds) * time.Second
}

// LockTTL returns how long an acquired lock is honored before expiring.
func (c *Config) LockTTL() time.Duration {
	if c.Locks.TTLSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Locks.TTLSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rollcall.yml")
}

// Load reads and validates config from a workspace, falling back to
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default(".")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the default Config for a workspace.
func Default(workspace string) *Config {
	var cfg Config
	cfg.Timezone = "America/Los_Angeles"
	cfg.Workbook = filepath.Join(workspace, "workbook")
	cfg.Tables.Master = "00_Master_Cases"
	cfg.Tables.CaseIndex = "07_Case_Index"
	cfg.Tables.Assignments = "08_Reps_Map"
	cfg.Tables.Schedule = "10_Roster_Schedule"
	cfg.Tables.Policies = "12_Ack_Policies"
	cfg.Tables.Snapshot = "13_Morning_Snapshot"
	cfg.Tables.SnapshotLog = "14_Snapshot_Log"
	cfg.Tables.Dashboard = "16_Dashboard"
	cfg.Tables.QueuePrefix = "Q_"
	cfg.Locks.WaitSeconds = 30
	cfg.Locks.TTLSeconds = 120
	return &cfg
}

// GenerateDefault returns default config YAML for rollcall.yml.
func GenerateDefault(workspace string) string {
	b, _ := yaml.Marshal(Default(workspace))
	return string(b)
}
