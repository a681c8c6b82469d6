package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"responderd/internal/duty"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	yaml := `
device_id: unit-7
admin_addr: 127.0.0.1:9900
uplink:
  mode: http
  endpoint: https://dispatch.example.com
sync:
  interval_ms: 2000
  batch_size: 25
duty:
  on_duty:
    interval_s: 30
    distance_m: 50
    accuracy: balanced
  on_mission:
    interval_s: 10
    distance_m: 20
    accuracy: high
mission:
  arrival_threshold_m: 75
  center_lat: 51.22
  center_lon: 6.77
`
	cfg, err := Load(writeTemp(t, "responderd.yaml", yaml), "")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.DeviceID != "unit-7" {
		t.Errorf("unexpected device_id: %q", cfg.DeviceID)
	}
	if cfg.Uplink.Mode != "http" {
		t.Errorf("unexpected uplink mode: %q", cfg.Uplink.Mode)
	}

	opts := cfg.SyncOptions()
	if opts.Interval != 2*time.Second || opts.BatchSize != 25 {
		t.Errorf("unexpected sync options: %+v", opts)
	}

	cadences := cfg.Cadences()
	onMission, ok := cadences[duty.OnMission]
	if !ok {
		t.Fatal("on_mission cadence missing")
	}
	if onMission.Interval != 10*time.Second || onMission.Accuracy != "high" {
		t.Errorf("unexpected on_mission cadence: %+v", onMission)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, "min.yaml", "log:\n  level: debug\n"), "")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if !strings.HasPrefix(cfg.DeviceID, "device-") {
		t.Errorf("expected generated device id, got %q", cfg.DeviceID)
	}
	if cfg.Uplink.Mode != "stdout" {
		t.Errorf("default uplink mode = %q", cfg.Uplink.Mode)
	}
	if cfg.AdminAddr == "" || cfg.DataDir == "" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Cadences() != nil {
		t.Error("empty duty section should keep built-in cadences")
	}
}

func TestLoadConfig_HTTPRequiresEndpoint(t *testing.T) {
	yaml := `
uplink:
  mode: http
`
	if _, err := Load(writeTemp(t, "bad.yaml", yaml), ""); err == nil {
		t.Fatal("expected error for http mode without endpoint")
	}
}

func TestLoadConfig_RejectsUnknownDutyState(t *testing.T) {
	yaml := `
duty:
  on_break:
    interval_s: 30
`
	if _, err := Load(writeTemp(t, "bad.yaml", yaml), ""); err == nil {
		t.Fatal("expected error for unknown duty state")
	}
}

func TestLoadConfig_RejectsOffDutyCapture(t *testing.T) {
	yaml := `
duty:
  off_duty:
    interval_s: 30
`
	if _, err := Load(writeTemp(t, "bad.yaml", yaml), ""); err == nil {
		t.Fatal("expected error for an off_duty capture interval")
	}
}

func TestValidateWithCue(t *testing.T) {
	schema := `
device_id?: string
admin_addr?: string
uplink?: {
	mode?: "http" | "greptime" | "stdout"
	endpoint?: string
}
`
	schemaPath := writeTemp(t, "schema.cue", schema)

	good := writeTemp(t, "good.yaml", "device_id: unit-1\nuplink:\n  mode: stdout\n")
	if err := ValidateWithCue(good, schemaPath); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := writeTemp(t, "bad.yaml", "uplink:\n  mode: carrier-pigeon\n")
	if err := ValidateWithCue(bad, schemaPath); err == nil {
		t.Fatal("invalid uplink mode accepted")
	}
}
