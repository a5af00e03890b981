package objdet

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultMinOverlapPercent is default minimum overlap between detection and prediction
	DefaultMinOverlapPercent = 50
	// DefaultMaxIdentityValue is the value after which identity counter starts again from 1
	DefaultMaxIdentityValue = 100000
	// DefaultMaxNoMatch is default number of frames a predictor keeps an unseen object
	DefaultMaxNoMatch = 5
)

// Config holds tunables of the frame cycle.
type Config struct {
	// Minimum overlap [0-100] between detection and prediction boxes (relative to both boxes)
	MinOverlapPercent int `yaml:"min_overlap_percent"`
	// Identity counter wraps to 1 after reaching this value
	MaxIdentityValue int `yaml:"max_identity_value"`
	// Matching algorithm: "greedy" or "hungarian"
	Algorithm string `yaml:"algorithm"`
	// Upper bound of prediction round-trip. Zero disables timeout
	PredictTimeout time.Duration `yaml:"predict_timeout"`
	// How many frames the reference Kalman predictor keeps objects which are not detected anymore
	MaxNoMatch int `yaml:"max_no_match"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() Config {
	return Config{
		MinOverlapPercent: DefaultMinOverlapPercent,
		MaxIdentityValue:  DefaultMaxIdentityValue,
		Algorithm:         MatchingAlgorithmGreedy.String(),
		PredictTimeout:    0,
		MaxNoMatch:        DefaultMaxNoMatch,
	}
}

// Validate checks configuration values
func (cfg Config) Validate() error {
	if cfg.MinOverlapPercent < 0 || cfg.MinOverlapPercent > 100 {
		return errors.Wrapf(ErrInvalidConfig, "min_overlap_percent must be in [0, 100], got %d", cfg.MinOverlapPercent)
	}
	if cfg.MaxIdentityValue <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "max_identity_value must be positive, got %d", cfg.MaxIdentityValue)
	}
	if cfg.PredictTimeout < 0 {
		return errors.Wrapf(ErrInvalidConfig, "predict_timeout must not be negative, got %s", cfg.PredictTimeout)
	}
	if cfg.MaxNoMatch < 0 {
		return errors.Wrapf(ErrInvalidConfig, "max_no_match must not be negative, got %d", cfg.MaxNoMatch)
	}
	if _, err := ParseMatchingAlgorithm(cfg.Algorithm); err != nil {
		return err
	}
	return nil
}

// MatchingAlgorithm returns parsed algorithm (greedy for unknown names, Validate catches those)
func (cfg Config) MatchingAlgorithm() MatchingAlgorithm {
	algorithm, _ := ParseMatchingAlgorithm(cfg.Algorithm)
	return algorithm
}

// LoadConfig reads YAML file. Omitted fields keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "Can't read config file '%s'", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "Can't parse config file '%s'", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
