// Package config loads cardsync configuration from a file, the environment
// and an optional .env file.
//
// Precedence, highest first: CARDSYNC_* environment variables, the config
// file (cardsync.yaml, .toml or .json in the config directory, or the file
// given with --config), built-in defaults. Nested keys map to variables
// with dots replaced by underscores, e.g. sync.interval → CARDSYNC_SYNC_INTERVAL.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// AppName names the config directory and the folder inside the sync
	// root.
	AppName   = "cardsync"
	envPrefix = "CARDSYNC"
)

// Config holds all application configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir" yaml:"data_dir"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Classify  ClassifyConfig  `mapstructure:"classify" yaml:"classify"`
	Languages LanguagesConfig `mapstructure:"languages" yaml:"languages"`
}

// SyncConfig controls the synchronizer and its periodic trigger.
type SyncConfig struct {
	// Root is the cloud-synchronized folder. Empty means a local fallback
	// under DataDir.
	Root                    string        `mapstructure:"root" yaml:"root"`
	AppName                 string        `mapstructure:"app_name" yaml:"app_name"`
	MachineName             string        `mapstructure:"machine_name" yaml:"machine_name"`
	Interval                time.Duration `mapstructure:"interval" yaml:"interval"`
	Debounce                time.Duration `mapstructure:"debounce" yaml:"debounce"`
	LockContentionThreshold int           `mapstructure:"lock_contention_threshold" yaml:"lock_contention_threshold"`
}

// SchedulerConfig holds the ranking rule probabilities.
type SchedulerConfig struct {
	FavoriteProbability         float64 `mapstructure:"favorite_probability" yaml:"favorite_probability"`
	SmallerShowCountProbability float64 `mapstructure:"smaller_show_count_probability" yaml:"smaller_show_count_probability"`
	LowerRepeatTypeProbability  float64 `mapstructure:"lower_repeat_type_probability" yaml:"lower_repeat_type_probability"`
	OlderProbability            float64 `mapstructure:"older_probability" yaml:"older_probability"`
	CategoryAffinity            int     `mapstructure:"category_affinity" yaml:"category_affinity"`
}

// MonitorConfig controls the process blacklist monitor.
type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// LogConfig controls logging. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	Level      string `mapstructure:"level" yaml:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// DashboardConfig controls the event stream. Port 0 disables it.
type DashboardConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// ClassifyConfig configures the category classifier.
type ClassifyConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"-"`
	Model  string `mapstructure:"model" yaml:"model"`
}

// LanguagesConfig holds the language pair used when a command does not
// name one.
type LanguagesConfig struct {
	Source string `mapstructure:"source" yaml:"source"`
	Target string `mapstructure:"target" yaml:"target"`
}

// Load reads the configuration. path may name a config file explicitly;
// when empty the default locations are searched and a missing file is not
// an error.
func Load(path string) (*Config, error) {
	// Try to load .env file (ignore error if not exists)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(AppName)
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, AppName))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Classify.APIKey == "" {
		cfg.Classify.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Sync.Root = expandHome(cfg.Sync.Root)
	cfg.Log.File = expandHome(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	dataDir := filepath.Join(".", "."+AppName)
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, AppName)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "machine"
	}

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("sync.root", "")
	v.SetDefault("sync.app_name", AppName)
	v.SetDefault("sync.machine_name", host)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.debounce", 2*time.Second)
	v.SetDefault("sync.lock_contention_threshold", 3)
	v.SetDefault("scheduler.favorite_probability", 0.3)
	v.SetDefault("scheduler.smaller_show_count_probability", 0.5)
	v.SetDefault("scheduler.lower_repeat_type_probability", 0.5)
	v.SetDefault("scheduler.older_probability", 0.3)
	v.SetDefault("scheduler.category_affinity", 3)
	v.SetDefault("monitor.interval", 5*time.Second)
	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("dashboard.port", 0)
	v.SetDefault("classify.api_key", "")
	v.SetDefault("classify.model", "")
	v.SetDefault("languages.source", "")
	v.SetDefault("languages.target", "")
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Sync.AppName == "" {
		return errors.New("sync.app_name is required")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.Debounce < 0 {
		return fmt.Errorf("sync.debounce must not be negative, got %s", c.Sync.Debounce)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval)
	}
	for name, p := range map[string]float64{
		"favorite_probability":           c.Scheduler.FavoriteProbability,
		"smaller_show_count_probability": c.Scheduler.SmallerShowCountProbability,
		"lower_repeat_type_probability":  c.Scheduler.LowerRepeatTypeProbability,
		"older_probability":              c.Scheduler.OlderProbability,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("scheduler.%s must be within [0, 1], got %v", name, p)
		}
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	return nil
}

// LocalDB returns the path of the local database.
func (c *Config) LocalDB() string {
	return filepath.Join(c.DataDir, "local.db")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
