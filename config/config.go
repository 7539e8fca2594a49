// Package config builds the process configuration once at startup. Every
// component receives the values it needs explicitly; nothing reads ambient
// state after Load returns.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	App      AppConfig      `mapstructure:"app"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Render   RenderConfig   `mapstructure:"render"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	Group    string `mapstructure:"group"`
	Consumer string `mapstructure:"consumer"`
}

type SMTPConfig struct {
	Host          string  `mapstructure:"host"`
	Port          int     `mapstructure:"port"`
	Username      string  `mapstructure:"username"`
	Password      string  `mapstructure:"password"`
	From          string  `mapstructure:"from"`
	Attempts      uint    `mapstructure:"attempts"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

type AppConfig struct {
	// BaseOrigin is the vendor-facing origin signing links point at.
	BaseOrigin string `mapstructure:"base_origin"`
	// NotifyEmail is the fixed operator address for completion notices.
	NotifyEmail string `mapstructure:"notify_email"`
	// FileBaseURL is the public base for stored artifacts, e.g.
	// "https://api.example.com/files".
	FileBaseURL string `mapstructure:"file_base_url"`
}

type AuthConfig struct {
	// JWTSecret protects the admin surface; empty disables it (dev only).
	JWTSecret string `mapstructure:"jwt_secret"`
}

type RenderConfig struct {
	MaxFields       int           `mapstructure:"max_fields"`
	Timezone        string        `mapstructure:"timezone"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`
}

type OutboxConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Batch    int           `mapstructure:"batch"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// Load merges config.yaml (working dir or ./configs) with environment
// variables; SERVER_PORT=9000 overrides server.port and so on.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		// No file: env and defaults carry the process.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 3*time.Minute)

	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.stream", "signflow:agreements:events")
	v.SetDefault("redis.group", "signflow-engine")
	v.SetDefault("redis.consumer", "engine-1")

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.attempts", 3)
	v.SetDefault("smtp.rate_per_second", 5)

	v.SetDefault("render.max_fields", 70)
	v.SetDefault("render.timezone", "UTC")
	v.SetDefault("render.generate_timeout", 2*time.Minute)

	v.SetDefault("outbox.interval", time.Second)
	v.SetDefault("outbox.batch", 64)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
