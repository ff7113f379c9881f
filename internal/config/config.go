// Package config loads the daemon's YAML settings file (spec §6): the
// storage/spool layout, the hashing salt, guardrail toggles, heartbeat and
// batch cadences, and optional-subsystem plugin flags. Grounded on the
// teacher's internal/config/wing.go YAML persisted-settings shape —
// LoadWingConfig's read-or-seed-defaults idiom and SaveWingConfig's
// write-back — generalized from a single flat struct to the nested
// dotted-section tree spec §6 names.
package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// StorageConfig holds storage.* keys (spec §6).
type StorageConfig struct {
	SQLitePath   string `yaml:"sqlite_path"`
	SpoolDir     string `yaml:"spool_dir"`
	SpoolQuotaMB int64  `yaml:"spool_quota_mb"`
	SpoolSoftPct int    `yaml:"spool_soft_pct"`
	SpoolHardPct int    `yaml:"spool_hard_pct"`
}

// HashingConfig holds hashing.* keys. Salt is 64 hex characters, generated
// on first run and persisted thereafter (spec §4.2: a changed salt
// invalidates every prior digest).
type HashingConfig struct {
	Salt string `yaml:"salt"`
}

// GuardrailsConfig holds guardrails.* keys.
type GuardrailsConfig struct {
	NoGlobalTextKeylogging bool `yaml:"no_global_text_keylogging"`
}

// HeartbeatConfig holds heartbeat.* keys: poll intervals for monitors whose
// cadence is config-driven rather than hook-driven.
type HeartbeatConfig struct {
	PollIntervals PollIntervals `yaml:"poll_intervals"`
}

type PollIntervals struct {
	ActiveWindow   float64 `yaml:"active_window"`
	Browser        float64 `yaml:"browser"`
	ContextIdleGap float64 `yaml:"context_idle_gap"`
}

// BatchConfig holds batch.* keys: the flush-threshold strings parsed by
// ParseFlushThreshold.
type BatchConfig struct {
	FlushThresholds FlushThresholds `yaml:"flush_thresholds"`
}

type FlushThresholds struct {
	KeyboardEvents string `yaml:"keyboard_events"`
	MouseEvents    string `yaml:"mouse_events"`
}

// LoggingConfig holds logging.* keys.
type LoggingConfig struct {
	QuotaLogIntervalS float64 `yaml:"quota_log_interval_s"`
	Level             string  `yaml:"level"`
	File              string  `yaml:"file"`
}

// PluginsConfig holds plugins.* keys: the set of optional subsystems
// enabled for this run (e.g. "browser_cdp").
type PluginsConfig struct {
	Enabled []string `yaml:"enabled"`
}

// BrowserConfig holds browser.* keys.
type BrowserConfig struct {
	Integration BrowserIntegration `yaml:"integration"`
}

type BrowserIntegration struct {
	ChromeRemoteDebugPort int `yaml:"chrome_remote_debug_port"`
}

// Config is the full recognized-keys tree from spec §6.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Hashing    HashingConfig    `yaml:"hashing"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Batch      BatchConfig      `yaml:"batch"`
	Logging    LoggingConfig    `yaml:"logging"`
	Plugins    PluginsConfig    `yaml:"plugins"`
	Browser    BrowserConfig    `yaml:"browser"`
}

// Default returns spec-recommended defaults for every recognized key
// except hashing.salt, which Load fills in (generated, or read from disk).
func Default(userConfigDir string) Config {
	return Config{
		Storage: StorageConfig{
			SQLitePath:   filepath.Join(userConfigDir, "lb3.sqlite"),
			SpoolDir:     filepath.Join(userConfigDir, "spool"),
			SpoolQuotaMB: 512,
			SpoolSoftPct: 90,
			SpoolHardPct: 100,
		},
		Guardrails: GuardrailsConfig{NoGlobalTextKeylogging: true},
		Heartbeat: HeartbeatConfig{
			PollIntervals: PollIntervals{
				ActiveWindow:   1.2,
				Browser:        2.0,
				ContextIdleGap: 7.0,
			},
		},
		Batch: BatchConfig{
			FlushThresholds: FlushThresholds{
				KeyboardEvents: "128 or 1.5s",
				MouseEvents:    "64 or 1.5s",
			},
		},
		Logging: LoggingConfig{QuotaLogIntervalS: 60, Level: "info"},
		Plugins: PluginsConfig{},
		Browser: BrowserConfig{Integration: BrowserIntegration{ChromeRemoteDebugPort: 0}},
	}
}

// Load reads path if present; on a missing file it seeds defaults rooted
// at userConfigDir, generates a salt, writes the result to path, and
// returns it — mirroring the teacher's LoadWingConfig read-or-seed shape.
// Unknown YAML keys are rejected.
func Load(path, userConfigDir string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		cfg := Default(userConfigDir)
		salt, genErr := generateSalt()
		if genErr != nil {
			return nil, fmt.Errorf("config: generate salt: %w", genErr)
		}
		cfg.Hashing.Salt = salt
		if err := Save(path, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	cfg := Default(userConfigDir)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Hashing.Salt == "" {
		salt, genErr := generateSalt()
		if genErr != nil {
			return nil, fmt.Errorf("config: generate salt: %w", genErr)
		}
		cfg.Hashing.Salt = salt
		if err := Save(path, &cfg); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// Save writes cfg to path as YAML, creating the parent directory if
// needed (teacher's SaveUserConfig pattern).
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir for %s: %w", path, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func generateSalt() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var flushThresholdRe = regexp.MustCompile(`^\s*(\d+)\s+or\s+([0-9]*\.?[0-9]+)s\s*$`)

// FlushThreshold is a parsed "<N> or <T>s" batch.flush_thresholds value.
type FlushThreshold struct {
	MaxSize  int
	MaxTimeS float64
}

// ParseFlushThreshold parses strings of the form "128 or 1.5s" (spec §6).
func ParseFlushThreshold(s string) (FlushThreshold, error) {
	m := flushThresholdRe.FindStringSubmatch(s)
	if m == nil {
		return FlushThreshold{}, fmt.Errorf("config: invalid flush threshold %q, want \"<N> or <T>s\"", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return FlushThreshold{}, fmt.Errorf("config: invalid flush threshold size in %q: %w", s, err)
	}
	t, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return FlushThreshold{}, fmt.Errorf("config: invalid flush threshold time in %q: %w", s, err)
	}
	return FlushThreshold{MaxSize: n, MaxTimeS: t}, nil
}
