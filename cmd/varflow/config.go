package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds varflow CLI configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath      string `json:"db_path"`
	LogLevel    string `json:"log_level"`
	PoolSize    int    `json:"pool_size"`
	StrictTypes bool   `json:"strict_types"`
}

func defaultConfig() Config {
	return Config{
		DBPath:   filepath.Join(varflowDir(), "varflow.db"),
		LogLevel: "warn",
		PoolSize: 4,
	}
}

func varflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".varflow"
	}
	return filepath.Join(home, ".varflow")
}

func settingsPath() string {
	return filepath.Join(varflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("VARFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("VARFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VARFLOW_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("VARFLOW_STRICT_TYPES"); v != "" {
		cfg.StrictTypes = v == "true" || v == "1"
	}

	return cfg
}
