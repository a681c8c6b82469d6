// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"responderd/internal/duty"
	"responderd/internal/syncer"
	"responderd/internal/telemetry"
)

// Log controls the structured logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Uplink selects and tunes the batch sender.
type Uplink struct {
	Mode        string `yaml:"mode"` // http, greptime, stdout
	Endpoint    string `yaml:"endpoint"`
	Database    string `yaml:"database"`
	TimeoutMS   int    `yaml:"timeout_ms"`
	JournalFile string `yaml:"journal_file"`
}

// Sync tunes the sync engine's pacing.
type Sync struct {
	IntervalMS    int `yaml:"interval_ms"`
	BatchSize     int `yaml:"batch_size"`
	BaseBackoffMS int `yaml:"base_backoff_ms"`
	MaxBackoffMS  int `yaml:"max_backoff_ms"`
}

// CadenceSpec is one duty state's capture cadence.
type CadenceSpec struct {
	IntervalS int     `yaml:"interval_s"`
	DistanceM float64 `yaml:"distance_m"`
	Accuracy  string  `yaml:"accuracy"`
}

// MissionCfg tunes the mission machine and the simulated dispatcher.
type MissionCfg struct {
	ArrivalThresholdM float64 `yaml:"arrival_threshold_m"`
	AlertTimeoutMS    int     `yaml:"alert_timeout_ms"`
	CenterLat         float64 `yaml:"center_lat"`
	CenterLon         float64 `yaml:"center_lon"`
}

// Config is the root configuration for the agent.
type Config struct {
	DeviceID  string                 `yaml:"device_id"`
	DataDir   string                 `yaml:"data_dir"`
	AdminAddr string                 `yaml:"admin_addr"`
	Log       Log                    `yaml:"log"`
	Uplink    Uplink                 `yaml:"uplink"`
	Sync      Sync                   `yaml:"sync"`
	Duty      map[string]CadenceSpec `yaml:"duty"`
	Mission   MissionCfg             `yaml:"mission"`
}

// Load loads YAML config and validates it against a CUE schema. An empty
// cueSchemaPath skips validation.
func Load(configPath, cueSchemaPath string) (*Config, error) {
	if cueSchemaPath != "" {
		if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DeviceID == "" {
		// Random per process: delivery accounting must not assume a stable
		// device identity beyond one install lifetime.
		c.DeviceID = "device-" + uuid.NewString()[:8]
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.AdminAddr == "" {
		c.AdminAddr = "127.0.0.1:8787"
	}
	if c.Uplink.Mode == "" {
		c.Uplink.Mode = "stdout"
	}
	if c.Uplink.Database == "" {
		c.Uplink.Database = "public"
	}
}

func (c *Config) check() error {
	switch c.Uplink.Mode {
	case "http", "greptime":
		if c.Uplink.Endpoint == "" {
			return fmt.Errorf("uplink mode %q requires an endpoint", c.Uplink.Mode)
		}
	case "stdout":
	default:
		return fmt.Errorf("unknown uplink mode %q", c.Uplink.Mode)
	}
	for name, spec := range c.Duty {
		if !duty.State(name).Valid() {
			return fmt.Errorf("unknown duty state %q", name)
		}
		// off_duty means no capture; an interval here would silently track
		// an off-duty responder.
		if duty.State(name) == duty.OffDuty && spec.IntervalS > 0 {
			return fmt.Errorf("off_duty cadence must not enable capture (interval_s %d)", spec.IntervalS)
		}
	}
	return nil
}

// SyncOptions maps the sync section onto engine options; zero fields fall
// through to the engine defaults.
func (c *Config) SyncOptions() syncer.Options {
	return syncer.Options{
		BatchSize:   c.Sync.BatchSize,
		Interval:    time.Duration(c.Sync.IntervalMS) * time.Millisecond,
		BaseBackoff: time.Duration(c.Sync.BaseBackoffMS) * time.Millisecond,
		MaxBackoff:  time.Duration(c.Sync.MaxBackoffMS) * time.Millisecond,
	}
}

// Cadences converts the duty section to the machine's cadence table.
// States absent from the config keep their defaults.
func (c *Config) Cadences() map[duty.State]duty.Cadence {
	if len(c.Duty) == 0 {
		return nil
	}
	out := make(map[duty.State]duty.Cadence, len(c.Duty))
	for name, spec := range c.Duty {
		accuracy := telemetry.AccuracyBalanced
		if spec.Accuracy == string(telemetry.AccuracyHigh) {
			accuracy = telemetry.AccuracyHigh
		}
		out[duty.State(name)] = duty.Cadence{
			Interval:       time.Duration(spec.IntervalS) * time.Second,
			DistanceMeters: spec.DistanceM,
			Accuracy:       accuracy,
		}
	}
	return out
}

// UplinkTimeout returns the sender timeout, zero meaning default.
func (c *Config) UplinkTimeout() time.Duration {
	return time.Duration(c.Uplink.TimeoutMS) * time.Millisecond
}

// AlertTimeout returns the offer alert timeout, zero meaning default.
func (c *Config) AlertTimeout() time.Duration {
	return time.Duration(c.Mission.AlertTimeoutMS) * time.Millisecond
}
