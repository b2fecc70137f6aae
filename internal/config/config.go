package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines client configuration.
type Config struct {
	API  APIConfig  `yaml:"api"`
	DB   DBConfig   `yaml:"db"`
	Auth AuthConfig `yaml:"auth"`
	Sync SyncConfig `yaml:"sync"`
	Log  LogConfig  `yaml:"log"`
}

type APIConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	// RefreshTimeout bounds the token refresh call itself, independent of
	// whichever caller happened to trigger it.
	RefreshTimeout Duration `yaml:"refresh_timeout"`
	// ExpiryLeeway is how close to expiry an access token may get before it
	// is treated as stale and refreshed ahead of use.
	ExpiryLeeway Duration `yaml:"expiry_leeway"`
}

type SyncConfig struct {
	Interval    Duration `yaml:"interval"`
	CallTimeout Duration `yaml:"call_timeout"`
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffMax  Duration `yaml:"backoff_max"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration so YAML values can be written as "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Config{
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8000",
			Timeout: Duration(15 * time.Second),
		},
		DB: DBConfig{
			Path: "fieldsync.db",
		},
		Auth: AuthConfig{
			RefreshTimeout: Duration(10 * time.Second),
			ExpiryLeeway:   Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			Interval:    Duration(time.Minute),
			CallTimeout: Duration(20 * time.Second),
			BackoffBase: Duration(2 * time.Second),
			BackoffMax:  Duration(5 * time.Minute),
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if path := os.Getenv("FIELDSYNC_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if baseURL := os.Getenv("FIELDSYNC_API_BASE_URL"); baseURL != "" {
		cfg.API.BaseURL = baseURL
	}
	if dbPath := os.Getenv("FIELDSYNC_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if level := os.Getenv("FIELDSYNC_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if interval := os.Getenv("FIELDSYNC_SYNC_INTERVAL"); interval != "" {
		parsed, err := time.ParseDuration(interval)
		if err != nil {
			return Config{}, fmt.Errorf("invalid FIELDSYNC_SYNC_INTERVAL: %w", err)
		}
		cfg.Sync.Interval = Duration(parsed)
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
