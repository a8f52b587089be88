package config

import (
	"log/slog"
	"testing"

	"hotcold/pkg/dberrors"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestUnmarshalYAML(t *testing.T) {
	data := []byte(`
logger:
  level: DEBUG
  json: true
http-server:
  port: 9090
hotcold:
  staging_bound: 4096
  hot_table_bound: 1024
  level_capacities: [1, 4, 16]
  policy:
    kind: all-cold
sink:
  kind: pebble
  path: /tmp/cold
flusher:
  buffer: 4
`)
	var cfg Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Logger.JSON)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(4096), cfg.HotCold.StagingBound)
	assert.Equal(t, []int{1, 4, 16}, cfg.HotCold.LevelCapacities)
	assert.Equal(t, "all-cold", cfg.HotCold.Policy.Kind)
	assert.Equal(t, "pebble", cfg.Sink.Kind)
	assert.Equal(t, 4, cfg.Flusher.Buffer)
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"log level":         func(c *Config) { c.Logger.Level = "TRACE" },
		"port":              func(c *Config) { c.Server.Port = 0 },
		"empty schedule":    func(c *Config) { c.HotCold.LevelCapacities = nil },
		"root capacity":     func(c *Config) { c.HotCold.LevelCapacities = []int{2, 5} },
		"zero capacity":     func(c *Config) { c.HotCold.LevelCapacities = []int{1, 0} },
		"hot above staging": func(c *Config) { c.HotCold.HotTableBound = c.HotCold.StagingBound + 1 },
		"zero bound":        func(c *Config) { c.HotCold.StagingBound = 0 },
		"fraction":          func(c *Config) { c.HotCold.Policy.Fraction = 1.5 },
		"policy kind":       func(c *Config) { c.HotCold.Policy.Kind = "lru" },
		"sink kind":         func(c *Config) { c.Sink.Kind = "s3" },
		"sink path":         func(c *Config) { c.Sink.Path = "" },
		"flusher buffer":    func(c *Config) { c.Flusher.Buffer = -1 },
		"compression":       func(c *Config) { c.Sink.Compression = "lz4" },
		"compression level": func(c *Config) { c.Sink.CompressionLevel = "max" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), dberrors.ErrConstruction)
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}
