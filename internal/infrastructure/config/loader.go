package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override, e.g. VENUEBOOK_RISK_VAR_LIMIT
const EnvPrefix = "VENUEBOOK"

// Loader resolves a Config from profile presets, YAML files and environment
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a loader
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("config")}
}

// Load loads configuration with precedence preset < files < environment.
// The profile itself may be chosen by any of the files or by VENUEBOOK_PROFILE.
func (l *Loader) Load(configPaths ...string) (Config, error) {
	profile, err := l.resolveProfile(configPaths...)
	if err != nil {
		return Config{}, err
	}

	preset, err := ForProfile(profile)
	if err != nil {
		return Config{}, err
	}

	v := newViper()

	// Seed viper with the preset so every key is known to AutomaticEnv
	presetYAML, err := yaml.Marshal(preset)
	if err != nil {
		return Config{}, fmt.Errorf("failed to encode profile %s: %w", profile, err)
	}
	if err := v.MergeConfig(bytes.NewReader(presetYAML)); err != nil {
		return Config{}, fmt.Errorf("failed to seed profile %s: %w", profile, err)
	}

	if err := l.loadConfigFiles(v, configPaths...); err != nil {
		return Config{}, fmt.Errorf("failed to load config files: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Profile = profile

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	l.logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("profile", cfg.Profile),
		zap.Strings("symbols", cfg.Books.Symbols),
		zap.Strings("venues", cfg.Books.Venues))

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	return v
}

// resolveProfile reads only the profile key from files and environment
func (l *Loader) resolveProfile(configPaths ...string) (string, error) {
	v := newViper()
	v.SetDefault("profile", ProfileBalanced)

	for _, path := range configPaths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return "", fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	return v.GetString("profile"), nil
}

// loadConfigFiles merges YAML files in order, skipping missing ones
func (l *Loader) loadConfigFiles(v *viper.Viper, configPaths ...string) error {
	var loadedFiles []string

	for _, path := range configPaths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			l.logger.Debug("Config file not found, skipping", zap.String("path", path))
			continue
		}

		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", path, err)
		}

		loadedFiles = append(loadedFiles, path)
	}

	if len(loadedFiles) == 0 {
		l.logger.Debug("No configuration files found, using profile and environment")
	} else {
		l.logger.Info("Loaded configuration files", zap.Strings("files", loadedFiles))
	}

	return nil
}

// ValidateFile loads a single file and reports whether it yields a valid config
func ValidateFile(filePath string, logger *zap.Logger) error {
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("config file %s: %w", filePath, err)
	}
	_, err := NewLoader(logger).Load(filePath)
	return err
}
