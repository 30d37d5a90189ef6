package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"karavan/pkg/logging"
)

const (
	userConfigDir  = ".config/karavan"
	configFileName = "config.yaml"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads config.yaml from configPath over the defaults and
// validates the result. A missing file yields the defaults.
func LoadConfig(configPath string) (KaravanConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return KaravanConfig{}, err
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		// config malformed
		return KaravanConfig{}, NewConfigurationError(configFilePath, "parse", err.Error())
	}
	if err := config.Validate(); err != nil {
		return KaravanConfig{}, NewConfigurationError(configFilePath, "validation", err.Error())
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}
