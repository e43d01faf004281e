// Package config loads server settings from an optional YAML file, a .env
// file and PRODUCTION_* environment variables (highest precedence).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/warp/production-engine/logger"
	"github.com/warp/production-engine/production"
)

const envPrefix = "PRODUCTION"

type Config struct {
	App struct {
		Env string `mapstructure:"env"`
	} `mapstructure:"app"`

	Server struct {
		Port               int      `mapstructure:"port"`
		CorsAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	} `mapstructure:"server"`

	Database struct {
		Driver string `mapstructure:"driver"` // sqlite3, pgx or memory
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Policy struct {
		RejectWeekendWork bool `mapstructure:"reject_weekend_work"`
		EnforceJoinDate   bool `mapstructure:"enforce_join_date"`
	} `mapstructure:"policy"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Channel  string `mapstructure:"channel"`
	} `mapstructure:"redis"`

	Lock struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"lock"`

	Log struct {
		Level    string `mapstructure:"level"`
		Encoding string `mapstructure:"encoding"`
	} `mapstructure:"log"`

	Scheduler struct {
		Enabled  bool          `mapstructure:"enabled"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"scheduler"`
}

// Production reports whether app.env is "production".
func (c *Config) Production() bool {
	return c.App.Env == "production"
}

// EnginePolicy converts the policy section.
func (c *Config) EnginePolicy() production.Policy {
	return production.Policy{
		RejectWeekendWork: c.Policy.RejectWeekendWork,
		EnforceJoinDate:   c.Policy.EnforceJoinDate,
	}
}

// Logger converts the log section.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Development: !c.Production(),
		Level:       c.Log.Level,
		Encoding:    c.Log.Encoding,
	}
}

// Load reads configuration. An empty path means configs/config.yaml; the
// file is optional.
func Load(path string) (*Config, error) {
	// .env is optional as well.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	if path == "" {
		path = "configs/config.yaml"
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// Policy switches default to the environment's strictness.
	strict := v.GetString("app.env") == "production"
	v.SetDefault("policy.reject_weekend_work", strict)
	v.SetDefault("policy.enforce_join_date", strict)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "production.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "production:notifications")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Hour)
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite3", "pgx", "memory":
	default:
		return fmt.Errorf("database.driver: unsupported value %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	return nil
}
