package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds runtime settings.
type Config struct {
	DataDir        string                       `mapstructure:"data_dir"`
	LogLevel       string                       `mapstructure:"log_level"`
	PageSize       int                          `mapstructure:"page_size"`
	Sources        SourcesConfig                `mapstructure:"sources"`
	WatchSources   bool                         `mapstructure:"watch_sources"`
	ReloadSchedule string                       `mapstructure:"reload_schedule"`
	Helpers        map[string]map[string]string `mapstructure:"helpers"`
	ConfirmWrites  bool                         `mapstructure:"confirm_writes"`
	SecretStore    string                       `mapstructure:"secret_store"` // env | keychain
}

// SourcesConfig lists the connection sources registered at startup.
type SourcesConfig struct {
	Files []string `mapstructure:"files"`
	Env   string   `mapstructure:"env"`
}

// DefaultPath returns the config directory: $DBCONDUIT_CONFIG_PATH or ~/.config/dbconduit.
func DefaultPath() (string, error) {
	if p := os.Getenv("DBCONDUIT_CONFIG_PATH"); p != "" {
		return p, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "dbconduit"), nil
}

// Load reads config.{json,yaml} from dir. A missing file is not an error.
// An empty dir resolves to DefaultPath.
func Load(dir string) (*Config, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetEnvPrefix("DBCONDUIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", filepath.Join(dir, "data"))
	v.SetDefault("log_level", "info")
	v.SetDefault("page_size", 100)
	v.SetDefault("sources.files", []string{filepath.Join(dir, "connections.json")})
	v.SetDefault("sources.env", "DBCONDUIT_CONNECTIONS")
	v.SetDefault("watch_sources", true)
	v.SetDefault("reload_schedule", "")
	v.SetDefault("confirm_writes", false)
	v.SetDefault("secret_store", "env")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &cfg, nil
}
