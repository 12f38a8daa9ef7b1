// Package config loads simulation settings: defaults, then an optional YAML
// file, then IMMUNESIM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/talgya/macro-immunet/internal/field"
	"github.com/talgya/macro-immunet/internal/labels"
)

// Config is the full runtime configuration.
type Config struct {
	Field   FieldConfig   `yaml:"field" envPrefix:"FIELD_"`
	Sim     SimConfig     `yaml:"sim" envPrefix:"SIM_"`
	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	API     APIConfig     `yaml:"api" envPrefix:"API_"`
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOG_"`
}

// FieldConfig configures the label field store.
type FieldConfig struct {
	ClaimCooldown  int64   `yaml:"claim_cooldown" env:"CLAIM_COOLDOWN"`
	PruneThreshold float64 `yaml:"prune_threshold" env:"PRUNE_THRESHOLD"`

	// HalfLives overrides or extends the registry's default half-lives.
	HalfLives map[string]float64 `yaml:"half_lives"`

	// DecayRates gives per-tick retention factors (value *= rate each tick)
	// for labels that are easier to express that way. Converted to half-lives;
	// an explicit half-life for the same label wins.
	DecayRates map[string]float64 `yaml:"decay_rates"`
}

// SimConfig configures the tick engine and the demo scenario.
type SimConfig struct {
	Interval   time.Duration `yaml:"interval" env:"INTERVAL"`
	Speed      float64       `yaml:"speed" env:"SPEED"`
	MaxTicks   int64         `yaml:"max_ticks" env:"MAX_TICKS"` // 0 = run until stopped
	PruneEvery int64         `yaml:"prune_every" env:"PRUNE_EVERY"`
	Seed       int64         `yaml:"seed" env:"SEED"`
	GridRadius int           `yaml:"grid_radius" env:"GRID_RADIUS"`
}

// StorageConfig configures the field history recorder and trace log.
type StorageConfig struct {
	DBPath      string `yaml:"db_path" env:"DB_PATH"`       // Empty disables the recorder
	TraceDir    string `yaml:"trace_dir" env:"TRACE_DIR"`   // Empty disables the trace log
	RecordEvery int64  `yaml:"record_every" env:"RECORD_EVERY"`
}

// APIConfig configures the HTTP inspector.
type APIConfig struct {
	Port     int    `yaml:"port" env:"PORT"` // 0 disables the server
	AdminKey string `yaml:"admin_key" env:"ADMIN_KEY"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Field: FieldConfig{
			ClaimCooldown:  2,
			PruneThreshold: 1e-3,
		},
		Sim: SimConfig{
			Interval:   250 * time.Millisecond,
			Speed:      1,
			PruneEvery: 10,
			Seed:       42,
			GridRadius: 6,
		},
		Storage: StorageConfig{
			DBPath:      "data/immunesim.db",
			TraceDir:    "data/trace",
			RecordEvery: 10,
		},
		API: APIConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load returns defaults overlaid with the YAML file at path (if path is
// non-empty) and then with IMMUNESIM_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "IMMUNESIM_"}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the store or engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Field.ClaimCooldown < 0 {
		errs = append(errs, errors.New("field.claim_cooldown must be >= 0"))
	}
	if c.Field.PruneThreshold < 0 {
		errs = append(errs, errors.New("field.prune_threshold must be >= 0"))
	}
	if c.Sim.Speed < 0 {
		errs = append(errs, errors.New("sim.speed must be >= 0"))
	}
	if c.Sim.Interval <= 0 {
		errs = append(errs, errors.New("sim.interval must be > 0"))
	}
	if c.Sim.PruneEvery < 0 || c.Storage.RecordEvery < 0 {
		errs = append(errs, errors.New("prune_every and record_every must be >= 0"))
	}
	for label, rate := range c.Field.DecayRates {
		if rate <= 0 || rate > 1 {
			errs = append(errs, fmt.Errorf("field.decay_rates[%s] = %g: must be in (0, 1]", label, rate))
		}
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DecayTable builds the store's decay table: registry defaults, then decay
// rates, then explicit half-lives. Label names are canonicalized.
func (f FieldConfig) DecayTable() map[string]float64 {
	out := labels.HalfLives()
	for label, rate := range f.DecayRates {
		out[labels.Canonical(label)] = field.HalfLifeFromRate(rate)
	}
	for label, hl := range f.HalfLives {
		out[labels.Canonical(label)] = hl
	}
	return out
}

// Unregistered lists configured decay labels the registry does not know,
// canonicalized and sorted. They still decay; the list is for warnings.
func (f FieldConfig) Unregistered() []string {
	seen := map[string]bool{}
	for _, m := range []map[string]float64{f.HalfLives, f.DecayRates} {
		for label := range m {
			if !labels.Known(label) {
				seen[labels.Canonical(label)] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for label := range seen {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// StoreConfig converts the field section into a field.Config.
func (f FieldConfig) StoreConfig() field.Config {
	return field.Config{
		HalfLives:      f.DecayTable(),
		ClaimCooldown:  f.ClaimCooldown,
		PruneThreshold: f.PruneThreshold,
	}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level %q: want debug, info, warn or error", s)
}
