package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
}

func TestParse(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, c *Config)
	}{
		{
			name: "empty document keeps defaults",
			yaml: "",
			check: func(t *testing.T, c *Config) {
				if c.Occupancy.LookaheadEdges != 2 {
					t.Errorf("Expected lookahead 2, got %d", c.Occupancy.LookaheadEdges)
				}
			},
		},
		{
			name: "overrides and durations",
			yaml: `
occupancy:
  lookahead_edges: 4
  default_headway: 3s
deadlock:
  lock_ttl: 12s
  release_aspect: caution
travel:
  default_speed: 4.5
`,
			check: func(t *testing.T, c *Config) {
				if c.Occupancy.LookaheadEdges != 4 {
					t.Errorf("Expected lookahead 4, got %d", c.Occupancy.LookaheadEdges)
				}
				if c.Occupancy.DefaultHeadway != 3*time.Second {
					t.Errorf("Expected headway 3s, got %s", c.Occupancy.DefaultHeadway)
				}
				if c.Deadlock.LockTTL != 12*time.Second {
					t.Errorf("Expected ttl 12s, got %s", c.Deadlock.LockTTL)
				}
				if c.Deadlock.ReleaseAspect != "caution" {
					t.Errorf("Expected caution, got %s", c.Deadlock.ReleaseAspect)
				}
				if c.Signals.Caution != 30*time.Second {
					t.Errorf("Untouched section changed: %s", c.Signals.Caution)
				}
			},
		},
		{name: "zero lookahead", yaml: "occupancy:\n  lookahead_edges: 0\n", wantErr: true},
		{name: "unknown release aspect", yaml: "deadlock:\n  release_aspect: green\n", wantErr: true},
		{name: "thresholds out of order", yaml: "signals:\n  proceed_with_caution: 40s\n", wantErr: true},
		{name: "unknown key", yaml: "occupancy:\n  lookahead: 3\n", wantErr: true},
		{name: "malformed duration", yaml: "deadlock:\n  lock_ttl: soon\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				if !errors.Is(err, validation.ErrInvalidArgument) {
					t.Fatalf("Expected invalid argument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestParse_LogLevelEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Parse([]byte("logging:\n  level: error\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected env to win, got %s", cfg.Logging.Level)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	want := Default()
	want.Health.ClaimTimeout = 90 * time.Second
	data, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "railcore.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *got != *want {
		t.Errorf("Round trip mismatch:\n got %+v\nwant %+v", got, want)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	got, err := Load(filepath.Join("..", "..", "examples", "railcore.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *got != *Default() {
		t.Errorf("example config drifted from defaults:\n got %+v\nwant %+v", got, Default())
	}
}
