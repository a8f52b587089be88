package config

import (
	"fmt"
	"log/slog"
	"strings"

	"hotcold/pkg/compression"
	"hotcold/pkg/dberrors"
	"hotcold/pkg/policy"
	"hotcold/pkg/sink"
)

// Config - корневая структура конфигурации приложения
type Config struct {
	Logger  LoggerConfig  `yaml:"logger" validate:"required"`
	Server  ServerConfig  `yaml:"http-server" validate:"required"`
	HotCold HotColdConfig `yaml:"hotcold" validate:"required"`
	Sink    SinkConfig    `yaml:"sink" validate:"required"`
	Flusher FlusherConfig `yaml:"flusher"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"required,min=1,max=65535"`
}

type HotColdConfig struct {
	StagingBound    int64        `yaml:"staging_bound" validate:"required,min=1"`
	HotTableBound   int64        `yaml:"hot_table_bound" validate:"required,min=1"`
	LevelCapacities []int        `yaml:"level_capacities" validate:"required"`
	Policy          PolicyConfig `yaml:"policy"`
}

type PolicyConfig struct {
	Kind     string  `yaml:"kind"`
	MinHeat  uint64  `yaml:"min_heat"`
	Fraction float64 `yaml:"fraction" validate:"gt=0,lte=1"`
}

type SinkConfig struct {
	Kind             string `yaml:"kind" validate:"oneof=file pebble"`
	Path             string `yaml:"path" validate:"required"`
	Compression      string `yaml:"compression"`
	CompressionLevel string `yaml:"compression_level"`
}

type FlusherConfig struct {
	Buffer int `yaml:"buffer" validate:"min=0"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		HotCold: HotColdConfig{
			StagingBound:    4 << 20,
			HotTableBound:   1 << 20,
			LevelCapacities: []int{1, 5, 25},
			Policy: PolicyConfig{
				Kind:     policy.KindTopFraction,
				MinHeat:  2,
				Fraction: 0.1,
			},
		},
		Sink: SinkConfig{
			Kind:             sink.KindFile,
			Path:             "./data/cold",
			Compression:      compression.Zstd,
			CompressionLevel: "default",
		},
		Flusher: FlusherConfig{
			Buffer: 16,
		},
	}
}

// Validate checks the settings that construction would otherwise reject
// deep inside the wiring.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Logger.Level); err != nil {
		return err
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: http port %d out of range", dberrors.ErrConstruction, c.Server.Port)
	}

	hc := c.HotCold
	if len(hc.LevelCapacities) == 0 {
		return fmt.Errorf("%w: empty level capacity schedule", dberrors.ErrConstruction)
	}
	if hc.LevelCapacities[0] != 1 {
		return fmt.Errorf("%w: level 0 capacity must be 1, got %d", dberrors.ErrConstruction, hc.LevelCapacities[0])
	}
	for i, n := range hc.LevelCapacities {
		if n < 1 {
			return fmt.Errorf("%w: level %d capacity must be positive, got %d", dberrors.ErrConstruction, i, n)
		}
	}
	if hc.HotTableBound <= 0 || hc.StagingBound <= 0 {
		return fmt.Errorf("%w: table bounds must be positive", dberrors.ErrConstruction)
	}
	if hc.HotTableBound > hc.StagingBound {
		return fmt.Errorf("%w: hot table bound %d exceeds staging bound %d",
			dberrors.ErrConstruction, hc.HotTableBound, hc.StagingBound)
	}
	if _, err := policy.New(hc.Policy.Kind, hc.Policy.MinHeat, hc.Policy.Fraction); err != nil {
		return err
	}

	switch c.Sink.Kind {
	case sink.KindFile, sink.KindPebble:
	default:
		return fmt.Errorf("%w: unknown sink kind %q", dberrors.ErrConstruction, c.Sink.Kind)
	}
	if c.Sink.Path == "" {
		return fmt.Errorf("%w: empty sink path", dberrors.ErrConstruction)
	}
	if _, err := compression.New(c.Sink.Compression, c.Sink.CompressionLevel); err != nil {
		return err
	}
	if c.Flusher.Buffer < 0 {
		return fmt.Errorf("%w: negative flusher buffer", dberrors.ErrConstruction)
	}
	return nil
}

// ParseLevel maps a configured level name onto slog.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: unknown log level %q", dberrors.ErrConstruction, level)
	}
}
