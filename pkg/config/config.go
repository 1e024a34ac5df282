// Package config loads runtime settings from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr              string `yaml:"listen_addr"`
	DatabasePath            string `yaml:"database_path"`
	UploadDir               string `yaml:"upload_dir"`
	OutputDir               string `yaml:"output_dir"`
	MaxConcurrentExecutions int    `yaml:"max_concurrent_executions"`
	LogLevel                string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		ListenAddr:              ":8080",
		DatabasePath:            "tabflow.db",
		UploadDir:               "uploads",
		OutputDir:               "outputs",
		MaxConcurrentExecutions: 5,
		LogLevel:                "info",
	}
}

// Load reads the file when path is non-empty, then applies TABFLOW_*
// environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("TABFLOW_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TABFLOW_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("TABFLOW_UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("TABFLOW_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("TABFLOW_MAX_CONCURRENT_EXECUTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("parse TABFLOW_MAX_CONCURRENT_EXECUTIONS: %w", err)
		}
		cfg.MaxConcurrentExecutions = n
	}
	if v := os.Getenv("TABFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
