package config

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
)

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Credential  CredentialConfig  `mapstructure:"credential"`
	Run         RunConfig         `mapstructure:"run"`
	Reporting   ReportingConfig   `mapstructure:"reporting"`
	Server      ServerConfig      `mapstructure:"server"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type BrowserConfig struct {
	Headless      bool          `mapstructure:"headless"`
	ExecPath      string        `mapstructure:"exec_path"`
	UserDataDir   string        `mapstructure:"user_data_dir"`
	WindowWidth   int           `mapstructure:"window_width"`
	WindowHeight  int           `mapstructure:"window_height"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
}

type MarketplaceConfig struct {
	// Playbook is an optional TOML overlay on the built-in playbook.
	Playbook string `mapstructure:"playbook"`
	// WatchPlaybook reloads the overlay between daemon runs when it changes.
	WatchPlaybook bool `mapstructure:"watch_playbook"`
}

type CredentialConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type RunConfig struct {
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
}

type ReportingConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	QueueSize    int           `mapstructure:"queue_size"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	Redis        RedisConfig   `mapstructure:"redis"`
	NATS         NATSConfig    `mapstructure:"nats"`
}

type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Key    string `mapstructure:"key"`
	Mode   string `mapstructure:"mode"`
	MaxLen int64  `mapstructure:"max_len"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	EventBuffer       int           `mapstructure:"event_buffer"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || (configFile != "" && isMissingFile(err)) {
			// Keep default and env-backed config when no file is present.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.Bool("headless", cfg.Browser.Headless),
		slog.Bool("reporting_http", cfg.Reporting.URL != ""),
		slog.Bool("reporting_redis", cfg.Reporting.Redis.URL != ""),
		slog.Bool("reporting_nats", cfg.Reporting.NATS.URL != ""),
	)

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if c.Run.MaxConsecutiveFailures < 0 {
		return errors.New("run.max_consecutive_failures must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Reporting.Redis.Mode)) {
	case "", "stream", "pubsub":
	default:
		return errors.New("reporting.redis.mode must be stream or pubsub")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	return nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketbot")
	v.SetDefault("app.env", "local")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".marketbot/marketbot.sqlite")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 768)
	v.SetDefault("browser.action_timeout", 30*time.Second)
	v.SetDefault("marketplace.playbook", "")
	v.SetDefault("marketplace.watch_playbook", true)
	v.SetDefault("credential.email", "")
	v.SetDefault("credential.password", "")
	v.SetDefault("run.max_consecutive_failures", 5)
	v.SetDefault("reporting.url", "")
	v.SetDefault("reporting.timeout", 10*time.Second)
	v.SetDefault("reporting.queue_size", 128)
	v.SetDefault("reporting.drain_timeout", 5*time.Second)
	v.SetDefault("reporting.redis.url", "")
	v.SetDefault("reporting.redis.key", "marketbot:events")
	v.SetDefault("reporting.redis.mode", "stream")
	v.SetDefault("reporting.redis.max_len", 10000)
	v.SetDefault("reporting.nats.url", "")
	v.SetDefault("reporting.nats.subject", "marketbot.events")
	v.SetDefault("server.addr", "127.0.0.1:8090")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.event_buffer", 64)
}
