package objdet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.MinOverlapPercent)
	assert.Equal(t, 100000, cfg.MaxIdentityValue)
	assert.Equal(t, MatchingAlgorithmGreedy, cfg.MatchingAlgorithm())
	assert.Equal(t, time.Duration(0), cfg.PredictTimeout)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objdet.yaml")
	data := []byte("min_overlap_percent: 70\nalgorithm: hungarian\npredict_timeout: 150ms\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 70, cfg.MinOverlapPercent)
	assert.Equal(t, MatchingAlgorithmHungarian, cfg.MatchingAlgorithm())
	assert.Equal(t, 150*time.Millisecond, cfg.PredictTimeout)
	// Omitted fields keep defaults
	assert.Equal(t, DefaultMaxIdentityValue, cfg.MaxIdentityValue)
	assert.Equal(t, DefaultMaxNoMatch, cfg.MaxNoMatch)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_overlap_percent: [1, 2"), 0o600))
	_, err = LoadConfig(path)
	assert.Error(t, err)

	path = filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_identity_value: -1\n"), 0o600))
	_, err = LoadConfig(path)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative overlap", func(c *Config) { c.MinOverlapPercent = -1 }},
		{"overlap above 100", func(c *Config) { c.MinOverlapPercent = 101 }},
		{"zero identity max", func(c *Config) { c.MaxIdentityValue = 0 }},
		{"negative timeout", func(c *Config) { c.PredictTimeout = -time.Second }},
		{"negative max no match", func(c *Config) { c.MaxNoMatch = -1 }},
		{"unknown algorithm", func(c *Config) { c.Algorithm = "auction" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}
