// Package config loads the dispatch core's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// Config is the root configuration document.
type Config struct {
	Occupancy OccupancyConfig `yaml:"occupancy"`
	Signals   SignalsConfig   `yaml:"signals"`
	Deadlock  DeadlockConfig  `yaml:"deadlock"`
	Explorer  ExplorerConfig  `yaml:"explorer"`
	Travel    TravelConfig    `yaml:"travel"`
	Health    HealthConfig    `yaml:"health"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// OccupancyConfig sizes occupancy requests.
type OccupancyConfig struct {
	LookaheadEdges int           `yaml:"lookahead_edges" validate:"gte=1"`
	DefaultHeadway time.Duration `yaml:"default_headway" validate:"gte=0"`
	// ExpectedHold estimates how long a claim is held; zero stops any
	// blocked train.
	ExpectedHold time.Duration `yaml:"expected_hold" validate:"gte=0"`
}

// SignalsConfig holds aspect thresholds.
type SignalsConfig struct {
	ProceedWithCaution  time.Duration `yaml:"proceed_with_caution" validate:"gte=0"`
	Caution             time.Duration `yaml:"caution" validate:"gte=0"`
	BrakingDeceleration float64       `yaml:"braking_deceleration" validate:"gt=0"`
	CautionFactor       float64       `yaml:"caution_factor" validate:"gte=1"`
}

// DeadlockConfig tunes the deadlock resolver.
type DeadlockConfig struct {
	LockTTL       time.Duration `yaml:"lock_ttl" validate:"gt=0"`
	ReleaseAspect string        `yaml:"release_aspect" validate:"oneof=proceed proceed_with_caution caution stop"`
}

// ExplorerConfig bounds graph exploration.
type ExplorerConfig struct {
	MaxDistance int `yaml:"max_distance" validate:"gte=0"`
	StepBudget  int `yaml:"step_budget" validate:"gte=1"`
}

// TravelConfig drives ETA estimates.
type TravelConfig struct {
	DefaultSpeed float64 `yaml:"default_speed" validate:"gt=0"`
	AllowBlocked bool    `yaml:"allow_blocked"`
}

// HealthConfig tunes the claim janitor. A zero ClaimTimeout disables
// timeout releases.
type HealthConfig struct {
	ClaimTimeout    time.Duration `yaml:"claim_timeout" validate:"gte=0"`
	JanitorInterval time.Duration `yaml:"janitor_interval" validate:"gte=0"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Occupancy: OccupancyConfig{
			LookaheadEdges: 2,
			DefaultHeadway: 2 * time.Second,
			ExpectedHold:   20 * time.Second,
		},
		Signals: SignalsConfig{
			ProceedWithCaution:  5 * time.Second,
			Caution:             30 * time.Second,
			BrakingDeceleration: 1,
			CautionFactor:       2,
		},
		Deadlock: DeadlockConfig{
			LockTTL:       8 * time.Second,
			ReleaseAspect: "proceed",
		},
		Explorer: ExplorerConfig{
			StepBudget: 256,
		},
		Travel: TravelConfig{
			DefaultSpeed: 8,
		},
		Health: HealthConfig{
			ClaimTimeout:    5 * time.Minute,
			JanitorInterval: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over Default, applies environment overrides and
// validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode yaml: %v", validation.ErrInvalidArgument, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if s := strings.TrimSpace(os.Getenv("LOG_LEVEL")); s != "" {
		c.Logging.Level = strings.ToLower(s)
	}
}

// Validate checks struct tags and the rules that span fields.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	return validation.NewCollector("signals").
		DurationOrder("proceed_with_caution", c.Signals.ProceedWithCaution, "caution", c.Signals.Caution).
		Err()
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
