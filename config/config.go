package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/thisisjab/angora/storage"
	"go.yaml.in/yaml/v3"
)

type Config struct {
	Logger  LoggerConfig   `yaml:"logger"`
	Storage storage.Config `yaml:"storage"`
	Find    FindConfig     `yaml:"find"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	Type  string `yaml:"type"`
}

// FindConfig bounds what a single find is allowed to ask for.
type FindConfig struct {
	DefaultLimit   int `yaml:"default_limit"`
	MaxLimit       int `yaml:"max_limit"`
	MaxFilterDepth int `yaml:"max_filter_depth"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse config file: %w", err)
	}

	return cfg, nil
}

// BuildLogger constructs the slog logger described by the config.
func (cfg Config) BuildLogger() (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Logger.Level {
	case "", "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", cfg.Logger.Level)
	}

	w := os.Stdout

	var handler slog.Handler
	switch cfg.Logger.Type {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case "", "colored-text":
		handler = tint.NewHandler(w, &tint.Options{Level: level, AddSource: true})
	default:
		return nil, fmt.Errorf("invalid log type: %s", cfg.Logger.Type)
	}

	return slog.New(handler), nil
}
