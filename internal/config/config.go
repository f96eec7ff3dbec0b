// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SALVO_SERVER_PORT.
const EnvPrefix = "SALVO"

// Storage drivers accepted by storage.driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	// URL wins over the individual fields when set.
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
	// TTL is the expiry refreshed on every match write. Zero keeps keys forever.
	TTL time.Duration `mapstructure:"ttl"`
}

type AuthConfig struct {
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	// AllowGuests hands callers without a valid token a fresh guest identity.
	AllowGuests    bool          `mapstructure:"allow_guests"`
}

// SweeperConfig drives idle reclamation. A zero TTL disables that sweep.
type SweeperConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	LobbyIdleTTL time.Duration `mapstructure:"lobby_idle_ttl"`
	MatchIdleTTL time.Duration `mapstructure:"match_idle_ttl"`
}

// Source owns the viper instance behind a Config so the file can be watched.
type Source struct {
	v   *viper.Viper
	mu  sync.RWMutex
	cfg *Config
}

// Load reads configuration from defaults, the optional config file and the
// environment, in increasing order of precedence. An empty path searches for
// salvo.yaml in ./config and the working directory; a missing file is not an
// error.
func Load(path string) (*Source, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("salvo")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Source{v: v, cfg: cfg}, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.driver", DriverMemory)

	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "salvo")
	v.SetDefault("postgres.url", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.private_key_path", "")
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.allow_guests", true)

	v.SetDefault("sweeper.interval", "1m")
	v.SetDefault("sweeper.lobby_idle_ttl", "30m")
	v.SetDefault("sweeper.match_idle_ttl", "24h")
}

// bindLegacyEnv keeps the unprefixed variable names older deployments set in
// their .env files working alongside the SALVO_ ones.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"server.port":       "PORT",
		"postgres.user":     "POSTGRES_USER",
		"postgres.password": "POSTGRES_PASSWORD",
		"postgres.host":     "PG_HOST",
		"postgres.port":     "PG_PORT",
		"postgres.database": "PG_DATABASE",
		"postgres.url":      "DATABASE_URL",
		"redis.addr":        "REDIS_ADDR",
		"redis.db":          "REDIS_DB",
	}
	for key, env := range legacy {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverPostgres, DriverRedis:
	default:
		return fmt.Errorf("storage.driver %q: want %s, %s or %s", c.Storage.Driver, DriverMemory, DriverPostgres, DriverRedis)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Sweeper.Interval < 0 || c.Sweeper.LobbyIdleTTL < 0 || c.Sweeper.MatchIdleTTL < 0 {
		return errors.New("sweeper durations must not be negative")
	}
	if (c.Auth.PrivateKeyPath == "") != (c.Auth.PublicKeyPath == "") {
		return errors.New("auth.private_key_path and auth.public_key_path must be set together")
	}
	return nil
}

// Config returns the current configuration. Callers must not modify it.
func (s *Source) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Watch reloads the file on change and hands the new configuration to
// callback. Reloads that fail to decode or validate keep the previous one.
func (s *Source) Watch(logger logrus.FieldLogger, callback func(*Config)) {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(s.v)
		if err != nil {
			logger.WithError(err).WithField("file", e.Name).Warn("config reload rejected")
			return
		}
		s.mu.Lock()
		s.cfg = cfg
		s.mu.Unlock()

		logger.WithFields(logrus.Fields{"file": e.Name, "op": e.Op.String()}).Info("config reloaded")
		if callback != nil {
			callback(cfg)
		}
	})
	s.v.WatchConfig()
}

// DSN builds the pgx connection string.
func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	return u.String()
}

// Apply sets level and formatter on logger. Format "json" selects the JSON
// formatter; anything else logs text with full timestamps.
func (c LogConfig) Apply(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if strings.EqualFold(c.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
