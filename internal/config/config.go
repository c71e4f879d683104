// Package config loads and validates the streaming k-anonymization
// engine's configuration. Settings are layered: defaults -> params file ->
// environment variables (env vars win), mirroring the teacher proxy's
// defaults -> JSON file -> env layering.
//
// The params file is a YAML document with a top-level "params" mapping,
// generalizing the reference Python tool's config.ini [params] section
// (spec §6.1) to the structured-decode style this codebase uses elsewhere.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/wearable/kanon-streamer/internal/engineerr"
	"gopkg.in/yaml.v3"
)

// Config holds the full engine configuration, validated per spec §6.1.
type Config struct {
	QIPos                      []int   `yaml:"QI_POS"`
	SIPos                      []int   `yaml:"SI_POS"`
	GeneralizeRange            float64 `yaml:"GENERALIZE_RANGE"`
	AccumulationDelayTolerance uint64  `yaml:"ACCUMULATION_DELAY_TOLERANCE"`
	RefreshTimerSeconds        float64 `yaml:"REFRESH_TIMER"`
	ThresholdK                 int64   `yaml:"THRESHOLD_K"`
	ECMaxHoldingMembers        int64   `yaml:"EC_MAX_HOLDING_MEMBERS"`

	// LogLevel, ManagementPort, and ManagementToken are ambient operational
	// settings with no original_source analogue; they follow the teacher's
	// config shape (LogLevel, ManagementToken, ports).
	LogLevel        string `yaml:"logLevel"`
	ManagementPort  int    `yaml:"managementPort"`
	ManagementToken string `yaml:"managementToken"`

	ExperimentMode     bool   `yaml:"experimentMode"`
	ExperimentTupleLog string `yaml:"experimentTupleLog"`
	ExperimentDelayLog string `yaml:"experimentDelayLog"`
	ExperimentDBPath   string `yaml:"experimentDbPath"` // bbolt append store; empty = flat files only

	RandomSeed int64 `yaml:"randomSeed"` // 0 = time-seeded; nonzero pins determinism
}

type paramsDoc struct {
	Params Config `yaml:"params"`
}

// Load returns a Config with defaults overridden by the params file at
// path (if it exists) and then by environment variables, and validates
// the result. An empty path skips file loading.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	loadEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		GeneralizeRange:            5,
		AccumulationDelayTolerance: 5,
		RefreshTimerSeconds:        3600,
		ThresholdK:                 5,
		ECMaxHoldingMembers:        100,
		LogLevel:                   "info",
		ManagementPort:             8090,
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return nil // file is optional, matching the teacher's loadFile
		}
		return engineerr.Wrap(engineerr.ConfigInvalid, err, "read config file "+path)
	}

	var doc paramsDoc
	doc.Params = *cfg // seed from current defaults so a partial file doesn't zero unset fields
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return engineerr.Wrap(engineerr.ConfigInvalid, err, "parse config file "+path)
	}
	*cfg = doc.Params
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("GENERALIZE_RANGE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.GeneralizeRange = f
		}
	}
	if v := os.Getenv("ACCUMULATION_DELAY_TOLERANCE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.AccumulationDelayTolerance = n
		}
	}
	if v := os.Getenv("REFRESH_TIMER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RefreshTimerSeconds = f
		}
	}
	if v := os.Getenv("THRESHOLD_K"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ThresholdK = n
		}
	}
	if v := os.Getenv("EC_MAX_HOLDING_MEMBERS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ECMaxHoldingMembers = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
}

// validate rejects an empty QI_POS and any out-of-range parameter. Other
// parameters missing from both the file and the environment have already
// been filled from defaults() by the time validate runs, so their absence
// is not an error.
func validate(cfg *Config) error {
	if len(cfg.QIPos) == 0 {
		return engineerr.New(engineerr.ConfigInvalid, "QI_POS must be a non-empty list of field indices")
	}
	seen := make(map[int]bool, len(cfg.QIPos))
	for _, qi := range cfg.QIPos {
		if qi < 0 {
			return engineerr.New(engineerr.ConfigInvalid, "QI_POS entries must be non-negative")
		}
		seen[qi] = true
	}
	for _, si := range cfg.SIPos {
		if si < 0 {
			return engineerr.New(engineerr.ConfigInvalid, "SI_POS entries must be non-negative")
		}
		if seen[si] {
			return engineerr.New(engineerr.ConfigInvalid, "SI_POS must be disjoint from QI_POS")
		}
	}
	if cfg.GeneralizeRange <= 0 {
		return engineerr.New(engineerr.ConfigInvalid, "GENERALIZE_RANGE must be positive")
	}
	if cfg.AccumulationDelayTolerance == 0 {
		return engineerr.New(engineerr.ConfigInvalid, "ACCUMULATION_DELAY_TOLERANCE must be positive")
	}
	if cfg.RefreshTimerSeconds <= 0 {
		return engineerr.New(engineerr.ConfigInvalid, "REFRESH_TIMER must be positive")
	}
	if cfg.ThresholdK < 2 {
		return engineerr.New(engineerr.ConfigInvalid, "THRESHOLD_K must be >= 2")
	}
	if cfg.ECMaxHoldingMembers <= cfg.ThresholdK {
		return engineerr.New(engineerr.ConfigInvalid, "EC_MAX_HOLDING_MEMBERS must exceed THRESHOLD_K")
	}
	return nil
}

// RefreshTimer returns the configured refresh interval as a time.Duration.
func (c *Config) RefreshTimer() time.Duration {
	return time.Duration(c.RefreshTimerSeconds * float64(time.Second))
}
