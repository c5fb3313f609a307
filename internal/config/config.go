package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	LogFormat  string        `mapstructure:"log_format"`

	Room    RoomConfig    `mapstructure:"room"`
	Rate    RateConfig    `mapstructure:"rate"`
	Store   StoreConfig   `mapstructure:"store"`
	Persist PersistConfig `mapstructure:"persist"`
	Janitor JanitorConfig `mapstructure:"janitor"`
	NATS    NATSConfig    `mapstructure:"nats"`
}

type RoomConfig struct {
	Capacity      int           `mapstructure:"capacity"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
	HistoryLimit  int           `mapstructure:"history_limit"`
	MaxMessageLen int           `mapstructure:"max_message_len"`
	MaxNameLen    int           `mapstructure:"max_name_len"`
	CodeAttempts  int           `mapstructure:"code_attempts"`
}

type RateConfig struct {
	Messages int           `mapstructure:"messages"`
	Interval time.Duration `mapstructure:"interval"`
}

type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	SQLDSN    string `mapstructure:"sql_dsn"`
}

type PersistConfig struct {
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type JanitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxIdle  time.Duration `mapstructure:"max_idle"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("room.capacity", 5)
	v.SetDefault("room.grace_period", "30s")
	v.SetDefault("room.history_limit", 0)
	v.SetDefault("room.max_message_len", 2000)
	v.SetDefault("room.max_name_len", 64)
	v.SetDefault("room.code_attempts", 10)

	v.SetDefault("rate.messages", 10)
	v.SetDefault("rate.interval", "5s")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.sql_dsn", "scribe.db")

	v.SetDefault("persist.retry_interval", "2s")

	v.SetDefault("janitor.interval", "1m")
	v.SetDefault("janitor.max_idle", "24h")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "scribe.rooms")
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults.
// SCRIBE_ prefixed variables override both, e.g. SCRIBE_ROOM_GRACE_PERIOD.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("SCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Room.Capacity < 1 {
		return fmt.Errorf("room.capacity must be positive, got %d", c.Room.Capacity)
	}
	if c.Room.GracePeriod <= 0 {
		return fmt.Errorf("room.grace_period must be positive, got %s", c.Room.GracePeriod)
	}
	switch c.Store.Driver {
	case "memory", "redis", "sql":
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	return nil
}
