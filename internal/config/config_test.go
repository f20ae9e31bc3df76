package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8091, cfg.Server.Port)
	assert.Equal(t, "events.normalized", cfg.NATS.IntakeSubject)
	assert.Equal(t, "verdicts.created", cfg.NATS.VerdictSubject)
	assert.Equal(t, 0.3, cfg.Behavioral.LearningRate)
	assert.Equal(t, 0.7, cfg.Behavioral.AnomalyThreshold)
	assert.Equal(t, 6*time.Hour, cfg.Graph.CorrelationWindow)
	assert.Equal(t, 0.5, cfg.Graph.MinCorrelationStrength)
	assert.Equal(t, 3, cfg.Graph.ChainMinEntities)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 10000, cfg.Pipeline.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.Oracle.Timeout)
	assert.False(t, cfg.Database.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "correlate.yaml")
	content := `
server:
  port: 9999
behavioral:
  learning_rate: 0.2
graph:
  correlation_window: 2h
pipeline:
  workers: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 0.2, cfg.Behavioral.LearningRate)
	assert.Equal(t, 2*time.Hour, cfg.Graph.CorrelationWindow)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	// Untouched values keep defaults.
	assert.Equal(t, 0.7, cfg.Behavioral.AnomalyThreshold)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}, ok: true},
		{name: "zero learning rate", mutate: func(c *Config) { c.Behavioral.LearningRate = 0 }},
		{name: "learning rate of one", mutate: func(c *Config) { c.Behavioral.LearningRate = 1 }},
		{name: "anomaly threshold above one", mutate: func(c *Config) { c.Behavioral.AnomalyThreshold = 1.5 }},
		{name: "negative min strength", mutate: func(c *Config) { c.Graph.MinCorrelationStrength = -0.1 }},
		{name: "chain of two", mutate: func(c *Config) { c.Graph.ChainMinEntities = 2 }},
		{name: "zero workers", mutate: func(c *Config) { c.Pipeline.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	out, err := Default().YAML()
	require.NoError(t, err)
	assert.Contains(t, out, "learning_rate")
	assert.Contains(t, out, "correlation_window")
}
