package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"warden/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir   = ".config/warden"
	configFileName  = "config.yaml"
	tokenStorageDir = "tokens"

	// ConfigDirEnv overrides the default configuration directory.
	ConfigDirEnv = "WARDEN_CONFIG_DIR"
)

// osUserHomeDir is a variable so tests can point it at a temp directory.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns the configuration directory, honouring
// WARDEN_CONFIG_DIR.
func GetDefaultConfigPath() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir, nil
	}
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

func GetDefaultConfigPathOrPanic() string {
	path, err := GetDefaultConfigPath()
	if err != nil {
		panic(err)
	}
	return path
}

// LoadConfig loads config.yaml from configPath on top of the defaults.
// A missing file is not an error. Relative storage directories are resolved
// against configPath and an empty one defaults to configPath/tokens.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, ConfigurationError{
			FilePath:  configFilePath,
			FileName:  configFileName,
			ErrorType: "io",
			Message:   err.Error(),
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, newParseError(configFilePath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if config.Storage.Dir == "" {
		config.Storage.Dir = filepath.Join(configPath, tokenStorageDir)
	} else if !filepath.IsAbs(config.Storage.Dir) {
		config.Storage.Dir = filepath.Join(configPath, config.Storage.Dir)
	}

	return config, nil
}

func newParseError(path string, err error) ConfigurationError {
	ce := ConfigurationError{
		FilePath:  path,
		FileName:  filepath.Base(path),
		ErrorType: "parse",
		Message:   err.Error(),
		Suggestions: []string{
			"Check the YAML indentation",
			"Durations are written like 20s or 1m",
		},
	}
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) && len(typeErr.Errors) > 0 {
		ce.Details = typeErr.Errors[0]
	}
	return ce
}
