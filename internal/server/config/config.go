package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cloudzz-dev/cldzchat/internal/client/models"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                string `mapstructure:"port"`
	MaxConnectionsPerIP int    `mapstructure:"max_connections_per_ip"`
	RequestsPerMin      int    `mapstructure:"requests_per_min"`
	// Seed lists users as "id:name" pairs separated by commas.
	Seed  string `mapstructure:"seed"`
	Debug bool   `mapstructure:"debug"`
}

// Load reads .env (if present) and server settings from the environment.
// PORT, MAX_CONNECTIONS_PER_IP and REQUESTS_PER_MIN are read unprefixed.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetDefault("port", "3567")
	v.SetDefault("max_connections_per_ip", 10)
	v.SetDefault("requests_per_min", 120)
	v.SetDefault("seed", "")
	v.SetDefault("debug", false)
	for _, key := range []string{"port", "max_connections_per_ip", "requests_per_min"} {
		v.BindEnv(key, strings.ToUpper(key), "CLDZCHAT_"+strings.ToUpper(key))
	}
	v.BindEnv("seed", "CLDZCHAT_SEED")
	v.BindEnv("debug", "CLDZCHAT_DEBUG")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == "" {
		return nil, errors.New("port is required")
	}
	return &cfg, nil
}

// SeedUsers parses Seed. Entries without a name use the id.
func (c *Config) SeedUsers() ([]models.ChatUser, error) {
	var users []models.ChatUser
	for _, entry := range strings.Split(c.Seed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, name, _ := strings.Cut(entry, ":")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if id == "" {
			return nil, fmt.Errorf("seed entry %q has no id", entry)
		}
		if name == "" {
			name = id
		}
		users = append(users, models.ChatUser{ID: id, Name: name})
	}
	return users, nil
}
