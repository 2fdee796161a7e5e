// Package config loads engine configuration from a file or environment
// variables via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	psift "github.com/pathsift/pathsift/psift"
)

// Config stores all configuration of the engine. The values are read by
// viper from a config file or environment variables.
type Config struct {
	Index  IndexConfig  `mapstructure:"index"`
	Search SearchConfig `mapstructure:"search"`
}

// IndexConfig stores indexing and persistence settings.
type IndexConfig struct {
	Root           string   `mapstructure:"root"`
	SnapshotPath   string   `mapstructure:"snapshotPath"`
	Workers        int      `mapstructure:"workers"`
	NeedMetadata   bool     `mapstructure:"needMetadata"`
	IgnorePrefixes []string `mapstructure:"ignorePrefixes"`
	IgnorePatterns []string `mapstructure:"ignorePatterns"`
}

// SearchConfig stores query evaluation defaults.
type SearchConfig struct {
	CaseSensitive bool   `mapstructure:"caseSensitive"`
	MaxResults    uint32 `mapstructure:"maxResults"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(psift.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetDefault("index.root", ".")
	viper.SetDefault("index.snapshotPath", psift.DefaultSnapshotPath)
	viper.SetDefault("index.workers", 0)
	viper.SetDefault("index.needMetadata", false)
	viper.SetDefault("search.caseSensitive", false)
	viper.SetDefault("search.maxResults", 0)

	viper.SetEnvPrefix(strings.ToUpper(psift.DefaultAppName))
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults apply.
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &AppConfig, nil
}
