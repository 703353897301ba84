package configuration

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"flagcache/internal/configuration/util"
)

const configDir = "internal/static"

// Load reads the base application config and overlays the profile-specific
// one on top of it, if a profile is set.
func Load() (*Config, error) {
	cfg, err := loadBaseConfig()
	if err != nil {
		return nil, err
	}

	if cfg.App.Profile != "" {
		if err := loadProfileConfig(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func loadBaseConfig() (*Config, error) {
	baseConfig, err := util.LoadAndExpandYaml(configDir, "application")
	if err != nil {
		slog.Error("Error loading base config", "Error", err.Error())
		return nil, err
	}

	cfg := Config{}
	if err := yaml.Unmarshal([]byte(baseConfig), &cfg); err != nil {
		slog.Error("Error parsing base config", "Error", err.Error())
		return nil, err
	}

	return &cfg, nil
}

func loadProfileConfig(cfg *Config) error {
	profileConfig, err := util.LoadAndExpandYaml(configDir, fmt.Sprintf("application-%s", cfg.App.Profile))
	if err != nil {
		slog.Error("Error loading profile config", "Error", err.Error())
		return err
	}

	if err := yaml.Unmarshal([]byte(profileConfig), cfg); err != nil {
		slog.Error("Error parsing profile config", "Error", err.Error())
		return err
	}

	return nil
}
