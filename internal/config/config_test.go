package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rollcall/internal/config"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	ws := t.TempDir()
	cfg, err := config.Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Tables.Snapshot != "13_Morning_Snapshot" || cfg.Tables.QueuePrefix != "Q_" {
		t.Fatalf("unexpected defaults: %+v", cfg.Tables)
	}
}

func TestLoadFromFile(t *testing.T) {
	ws := t.TempDir()
	yml := strings.Join([]string{
		"timezone: UTC",
		"workbook: " + filepath.Join(ws, "wb"),
		"tables:",
		"  snapshot: snap",
		"  snapshot_log: snap_log",
	}, "\n")
	if err := os.WriteFile(config.Path(ws), []byte(yml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tables.Snapshot != "snap" || cfg.Tables.SnapshotLog != "snap_log" {
		t.Fatalf("overrides not applied: %+v", cfg.Tables)
	}
	// Unspecified tables keep their defaults.
	if cfg.Tables.Master != "00_Master_Cases" {
		t.Fatalf("defaults lost: %+v", cfg.Tables)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "UTC" {
		t.Fatalf("location: %v %v", loc, err)
	}
}

func TestValidateRejectsSameSnapshotTables(t *testing.T) {
	cfg := config.Default(".")
	cfg.Tables.SnapshotLog = cfg.Tables.Snapshot
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want error for snapshot == snapshot_log")
	}
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := config.Default(".")
	cfg.Timezone = "Not/AZone"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want error for bad timezone")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	yml := config.GenerateDefault(".")
	cfg, err := config.FromYAML([]byte(yml))
	if err != nil {
		t.Fatalf("generated config does not parse: %v", err)
	}
	if cfg.Tables.Policies != "12_Ack_Policies" {
		t.Fatalf("roundtrip lost values: %+v", cfg.Tables)
	}
}
