package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// AppConfig is the top-level application configuration. Every component
// receives the values it needs at construction; nothing reads ambient state.
type AppConfig struct {
	// CredentialsPath points at the OAuth client secrets JSON downloaded
	// from the Google Cloud Console.
	CredentialsPath string `mapstructure:"credentials" yaml:"credentials"`

	// TokenPath is the fallback location for the cached OAuth token when
	// no system keyring backend is available.
	TokenPath string `mapstructure:"token" yaml:"token"`

	// ArchiveDir is the root directory for .eml originals and attachments.
	ArchiveDir string `mapstructure:"archive_dir" yaml:"archive_dir"`

	// DBPath is the SQLite index location.
	DBPath string `mapstructure:"db" yaml:"db"`

	// Labels are the Gmail label names to download, in priority order.
	// The first label doubles as the default destination grouping.
	Labels []string `mapstructure:"labels" yaml:"labels"`

	// Query is an additional Gmail search query (e.g. "newer_than:1y").
	Query string `mapstructure:"query" yaml:"query"`

	// MarkLabel, when set, is applied to each message after a successful
	// ingestion and excluded from the next run's listing.
	MarkLabel string `mapstructure:"mark_label" yaml:"mark_label"`

	// MaxMessages caps how many messages a run processes (0 = no limit).
	MaxMessages int64 `mapstructure:"max_messages" yaml:"max_messages"`

	// Workers bounds the per-message fan-out. 1 processes sequentially.
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// DefaultConfigPath returns the default configuration file location,
// ~/.config/gmail-archiver/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "gmail-archiver", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration. Paths default
// to the current working directory, matching the CLI's documented behavior.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		CredentialsPath: "credentials.json",
		TokenPath:       "token.json",
		ArchiveDir:      "emails",
		DBPath:          filepath.Join("emails", "emails.db"),
		Workers:         1,
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns the default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("credentials", "credentials.json")
	v.SetDefault("token", "token.json")
	v.SetDefault("archive_dir", "emails")
	v.SetDefault("db", filepath.Join("emails", "emails.db"))
	v.SetDefault("workers", 1)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return cfg, nil
}
