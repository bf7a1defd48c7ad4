package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PUBFLOW_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MinPerDay != 50 || cfg.MaxPerDay != 80 {
		t.Fatalf("bounds = [%d,%d], want [50,80]", cfg.MinPerDay, cfg.MaxPerDay)
	}
	if cfg.Location != time.UTC {
		t.Fatalf("Location = %v, want UTC", cfg.Location)
	}
	if len(cfg.Profiles) != 7 {
		t.Fatalf("len(Profiles) = %d, want 7", len(cfg.Profiles))
	}
}

func TestLoadReadsEnvKeys(t *testing.T) {
	t.Setenv("PUBFLOW_CONFIG", "")
	t.Setenv("PUBFLOW_MIN_PER_DAY", "5")
	t.Setenv("PUBFLOW_MAX_PER_DAY", "12")
	t.Setenv("PUBFLOW_WORKERS", "4")
	t.Setenv("PUBFLOW_BUDGET_SECONDS", "90")
	t.Setenv("PUBFLOW_HOLIDAYS", "2025-12-25, 2025-12-26")
	t.Setenv("PUBFLOW_COLLISION", "probe")
	t.Setenv("PUBFLOW_SEED", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MinPerDay != 5 || cfg.MaxPerDay != 12 || cfg.Workers != 4 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Budget != 90*time.Second {
		t.Fatalf("Budget = %v, want 90s", cfg.Budget)
	}
	if len(cfg.Holidays) != 2 || cfg.Holidays[1] != "2025-12-26" {
		t.Fatalf("Holidays = %v", cfg.Holidays)
	}
	if cfg.Calendar().IsWorkingDay(time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("holiday treated as working day")
	}
	opts := cfg.DistributorOptions()
	if opts.Collision != "probe" || opts.Seed != 7 {
		t.Fatalf("DistributorOptions = %+v", opts)
	}
	if cfg.RunnerOptions().Workers != 4 {
		t.Fatalf("RunnerOptions = %+v", cfg.RunnerOptions())
	}
}

func TestLoadMergesYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pubflow.yaml")
	data := `
window:
  min_per_day: 10
  max_per_day: 20
schedule:
  cron: "0 6 * * 1-5"
  timezone: Europe/Berlin
holidays:
  - "2025-05-01"
profiles:
  fri:
    start: 9
    end: 13
    peak_start: 10
    peak_end: 12
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PUBFLOW_CONFIG", path)
	t.Setenv("PUBFLOW_MAX_PER_DAY", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MinPerDay != 10 || cfg.MaxPerDay != 30 {
		t.Fatalf("bounds = [%d,%d], want [10,30] (env wins)", cfg.MinPerDay, cfg.MaxPerDay)
	}
	if cfg.Cron != "0 6 * * 1-5" || cfg.Location.String() != "Europe/Berlin" {
		t.Fatalf("schedule = %q %v", cfg.Cron, cfg.Location)
	}
	fri := cfg.Profiles[time.Friday]
	if fri.Start != 9 || fri.End != 13 {
		t.Fatalf("friday profile = %+v", fri)
	}
	if cfg.Profiles[time.Monday].End != 18 {
		t.Fatalf("monday profile changed: %+v", cfg.Profiles[time.Monday])
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"min above max", "PUBFLOW_MIN_PER_DAY", "100"},
		{"zero workers", "PUBFLOW_WORKERS", "0"},
		{"peak probability", "PUBFLOW_PEAK_PROBABILITY", "1.5"},
		{"collision policy", "PUBFLOW_COLLISION", "panic"},
		{"mode", "PUBFLOW_MODE", "random"},
		{"cron", "PUBFLOW_CRON", "every day"},
		{"timezone", "PUBFLOW_TIMEZONE", "Mars/Olympus"},
		{"holiday", "PUBFLOW_HOLIDAYS", "25/12/2025"},
		{"malformed max per day", "PUBFLOW_MAX_PER_DAY", "eighty"},
		{"malformed budget", "PUBFLOW_BUDGET_SECONDS", "30s"},
		{"malformed peak probability", "PUBFLOW_PEAK_PROBABILITY", "high"},
		{"malformed seed", "PUBFLOW_SEED", "0x1g"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PUBFLOW_CONFIG", "")
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%q to be rejected", tt.key, tt.val)
			}
		})
	}
}

func TestLoadRejectsBadProfileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pubflow.yaml")
	data := "profiles:\n  funday:\n    start: 9\n    end: 10\n    peak_start: 9\n    peak_end: 10\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PUBFLOW_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected unknown weekday to be rejected")
	}
}

func TestLoadNamesMalformedKey(t *testing.T) {
	t.Setenv("PUBFLOW_CONFIG", "")
	t.Setenv("PUBFLOW_MAX_PER_DAY", "eighty")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "PUBFLOW_MAX_PER_DAY") {
		t.Fatalf("err = %v, want it to name PUBFLOW_MAX_PER_DAY", err)
	}
}
