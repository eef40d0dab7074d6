package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Services ServicesConfig `yaml:"services"`
	Policy   PolicyConfig   `yaml:"policy"`
	Storage  StorageConfig  `yaml:"storage"`
	Events   EventsConfig   `yaml:"events"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type ServicesConfig struct {
	DetectorURL       string `yaml:"detector_url"`
	ROIManagerURL     string `yaml:"roi_manager_url"`
	ViolationStoreURL string `yaml:"violation_store_url"`

	DetectorTimeoutSec int `yaml:"detector_timeout_sec"`
	ROITimeoutSec      int `yaml:"roi_timeout_sec"`
	StoreTimeoutSec    int `yaml:"store_timeout_sec"`
}

// PolicyConfig is the violation policy envelope. Every field has an
// environment override so deployments can tune thresholds without a
// config file rollout.
type PolicyConfig struct {
	ScooperActiveMaxPx          float64 `yaml:"scooper_active_max_px" json:"scooper_active_max_px"`
	ScooperNearbyMaxPx          float64 `yaml:"scooper_nearby_max_px" json:"scooper_nearby_max_px"`
	AllowNearbyScooperFallback  bool    `yaml:"allow_nearby_scooper_fallback" json:"allow_nearby_scooper_fallback"`
	WorkSessionCooldownSec      int     `yaml:"work_session_cooldown_sec" json:"work_session_cooldown_sec"`
	SequenceStalenessSec        int     `yaml:"sequence_staleness_sec" json:"sequence_staleness_sec"`
	ScooperUsageRequiredPercent float64 `yaml:"scooper_usage_required_percent" json:"scooper_usage_required_percent"`
	HandWorkerAssocMaxPx        float64 `yaml:"hand_worker_assoc_max_px" json:"hand_worker_assoc_max_px"`
	RichModeEnabled             bool    `yaml:"rich_mode_enabled" json:"rich_mode_enabled"`
}

type StorageConfig struct {
	FramesDir       string `yaml:"frames_dir"`
	MaxFrameAgeHour int    `yaml:"max_frame_age_hours"`
	PostgresDSN     string `yaml:"postgres_dsn"`
}

type EventsConfig struct {
	// Backend selects the bus implementation: "local", "redis" or "pubsub".
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	PubSubProject string `yaml:"pubsub_project"`
	PubSubTopic   string `yaml:"pubsub_topic"`
}

// Default returns the built-in configuration. Callers layer a yaml file
// and environment overrides on top of it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8004",
			Env:  "development",
		},
		Services: ServicesConfig{
			DetectorURL:        "http://localhost:8002",
			ROIManagerURL:      "http://localhost:8003",
			ViolationStoreURL:  "http://localhost:8005",
			DetectorTimeoutSec: 10,
			ROITimeoutSec:      5,
			StoreTimeoutSec:    10,
		},
		Policy: PolicyConfig{
			ScooperActiveMaxPx:          50,
			ScooperNearbyMaxPx:          100,
			AllowNearbyScooperFallback:  true,
			WorkSessionCooldownSec:      30,
			SequenceStalenessSec:        30,
			ScooperUsageRequiredPercent: 70,
			HandWorkerAssocMaxPx:        150,
			RichModeEnabled:             false,
		},
		Storage: StorageConfig{
			FramesDir:       "violation_frames",
			MaxFrameAgeHour: 24,
		},
		Events: EventsConfig{
			Backend:     "local",
			RedisAddr:   "localhost:6379",
			PubSubTopic: "violation-events",
		},
	}
}

// LoadConfig reads configuration from a yaml file (optional, pass "" to
// skip) and then applies environment overrides on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString(&c.Server.Port, "PORT")
	envString(&c.Services.DetectorURL, "DETECTOR_URL")
	envString(&c.Services.ROIManagerURL, "ROI_MANAGER_URL")
	envString(&c.Services.ViolationStoreURL, "VIOLATION_STORE_URL")
	envString(&c.Storage.FramesDir, "FRAMES_DIR")
	envString(&c.Storage.PostgresDSN, "POSTGRES_DSN")
	envString(&c.Events.Backend, "EVENT_BUS_BACKEND")
	envString(&c.Events.RedisAddr, "REDIS_ADDR")
	envString(&c.Events.RedisPassword, "REDIS_PASSWORD")
	envString(&c.Events.PubSubProject, "PUBSUB_PROJECT")
	envString(&c.Events.PubSubTopic, "PUBSUB_TOPIC")

	envFloat(&c.Policy.ScooperActiveMaxPx, "SCOOPER_ACTIVE_MAX_PX")
	envFloat(&c.Policy.ScooperNearbyMaxPx, "SCOOPER_NEARBY_MAX_PX")
	envBool(&c.Policy.AllowNearbyScooperFallback, "ALLOW_NEARBY_SCOOPER_FALLBACK")
	envInt(&c.Policy.WorkSessionCooldownSec, "WORK_SESSION_COOLDOWN_SEC")
	envInt(&c.Policy.SequenceStalenessSec, "SEQUENCE_STALENESS_SEC")
	envFloat(&c.Policy.ScooperUsageRequiredPercent, "SCOOPER_USAGE_REQUIRED_PERCENT")
	envFloat(&c.Policy.HandWorkerAssocMaxPx, "HAND_WORKER_ASSOC_MAX_PX")
	envBool(&c.Policy.RichModeEnabled, "RICH_MODE_ENABLED")
}

// Validate rejects values that would make the pipeline misbehave silently.
func (c *Config) Validate() error {
	if c.Policy.ScooperActiveMaxPx <= 0 {
		return fmt.Errorf("policy: scooper_active_max_px must be positive, got %v", c.Policy.ScooperActiveMaxPx)
	}
	if c.Policy.ScooperNearbyMaxPx < c.Policy.ScooperActiveMaxPx {
		return fmt.Errorf("policy: scooper_nearby_max_px (%v) must be >= scooper_active_max_px (%v)",
			c.Policy.ScooperNearbyMaxPx, c.Policy.ScooperActiveMaxPx)
	}
	if c.Policy.WorkSessionCooldownSec < 0 {
		return fmt.Errorf("policy: work_session_cooldown_sec must not be negative")
	}
	if c.Policy.ScooperUsageRequiredPercent < 0 || c.Policy.ScooperUsageRequiredPercent > 100 {
		return fmt.Errorf("policy: scooper_usage_required_percent must be in [0,100], got %v",
			c.Policy.ScooperUsageRequiredPercent)
	}
	switch c.Events.Backend {
	case "local", "redis", "pubsub":
	default:
		return fmt.Errorf("events: unknown backend %q", c.Events.Backend)
	}
	return nil
}

// DetectorTimeout returns the detector call timeout as a duration.
func (c *Config) DetectorTimeout() time.Duration {
	return time.Duration(c.Services.DetectorTimeoutSec) * time.Second
}

// ROITimeout returns the ROI fetch timeout as a duration.
func (c *Config) ROITimeout() time.Duration {
	return time.Duration(c.Services.ROITimeoutSec) * time.Second
}

// StoreTimeout returns the violation store call timeout as a duration.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Services.StoreTimeoutSec) * time.Second
}

// WorkSessionCooldown returns the per-key violation cooldown as a duration.
func (c *Config) WorkSessionCooldown() time.Duration {
	return time.Duration(c.Policy.WorkSessionCooldownSec) * time.Second
}

// SequenceStaleness returns the stale-sequence force-close window.
func (c *Config) SequenceStaleness() time.Duration {
	return time.Duration(c.Policy.SequenceStalenessSec) * time.Second
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
