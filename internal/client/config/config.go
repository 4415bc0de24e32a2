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

const envPrefix = "CLDZCHAT"

// Backend names for chat store persistence.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

type Config struct {
	ServerURL      string        `mapstructure:"server_url"`
	UserID         string        `mapstructure:"user_id"`
	UserName       string        `mapstructure:"user_name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Debug          bool          `mapstructure:"debug"`
	LogPath        string        `mapstructure:"log_path"`
	StoreKey       string        `mapstructure:"store_key"`
	PersistBackend string        `mapstructure:"persist_backend"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisDB        int           `mapstructure:"redis_db"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "ws://localhost:3567/ws")
	v.SetDefault("user_id", "")
	v.SetDefault("user_name", "")
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("debug", false)
	v.SetDefault("log_path", "debug.log")
	v.SetDefault("store_key", "chat-store")
	v.SetDefault("persist_backend", BackendFile)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("metrics_addr", "")
}

// Profile names the profile whose config dir Load reads. It comes from
// CLDZCHAT_PROFILE only, since config.yaml lives inside that dir.
func Profile() string {
	v := viper.New()
	v.SetDefault("profile", "default")
	v.SetEnvPrefix(envPrefix)
	v.BindEnv("profile")
	return v.GetString("profile")
}

// Load reads .env (if present), CLDZCHAT_* env vars and an optional
// config.yaml from configDir.
func Load(configDir string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configDir != "" {
		v.SetConfigFile(filepath.Join(configDir, "config.yaml"))
		if err := v.ReadInConfig(); err != nil && !isMissing(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Older installs configure the server through CLDZMSG_SERVER.
	if legacy := os.Getenv("CLDZMSG_SERVER"); legacy != "" && os.Getenv(envPrefix+"_SERVER_URL") == "" {
		cfg.ServerURL = legacy
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	switch c.PersistBackend {
	case BackendFile, BackendRedis:
	default:
		return fmt.Errorf("unknown persist_backend %q", c.PersistBackend)
	}
	if c.StoreKey == "" {
		return errors.New("store_key is required")
	}
	return nil
}
