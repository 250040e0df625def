package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Engine   EngineConfig   `json:"engine"`
	Rotation RotationConfig `json:"rotation"`
	Catalog  CatalogConfig  `json:"catalog"`
}

type EngineConfig struct {
	Workspace       string `json:"workspace" env:"SESSIOND_ENGINE_WORKSPACE"`
	SessionCacheLen int    `json:"session_cache_len" env:"SESSIOND_ENGINE_SESSION_CACHE_LEN"`
	Debug           bool   `json:"debug" env:"SESSIOND_ENGINE_DEBUG"`
}

type RotationConfig struct {
	// RolloverCron is the calendar boundary schedule. The default fires at
	// local midnight; operators who want a 4am "day" set "0 4 * * *".
	RolloverCron         string  `json:"rollover_cron" env:"SESSIOND_ROTATION_ROLLOVER_CRON"`
	RolloverGraceMinutes int     `json:"rollover_grace_minutes" env:"SESSIOND_ROTATION_ROLLOVER_GRACE_MINUTES"`
	RolloverMaxDeferHrs  int     `json:"rollover_max_defer_hours" env:"SESSIOND_ROTATION_ROLLOVER_MAX_DEFER_HOURS"`
	TopicShiftMinUsage   float64 `json:"topic_shift_min_usage" env:"SESSIOND_ROTATION_TOPIC_SHIFT_MIN_USAGE"`
	TopicShiftMaxOverlap float64 `json:"topic_shift_max_overlap" env:"SESSIOND_ROTATION_TOPIC_SHIFT_MAX_OVERLAP"`
}

type CatalogConfig struct {
	Enabled bool `json:"enabled" env:"SESSIOND_CATALOG_ENABLED"`
}

func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Workspace:       "~/.sessiond/workspace",
			SessionCacheLen: 256,
			Debug:           false,
		},
		Rotation: RotationConfig{
			RolloverCron:         "0 0 * * *",
			RolloverGraceMinutes: 15,
			RolloverMaxDeferHrs:  4,
			TopicShiftMinUsage:   25,
			TopicShiftMaxOverlap: 0.2,
		},
		Catalog: CatalogConfig{
			Enabled: true,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Engine.Workspace)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
