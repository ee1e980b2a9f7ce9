package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "FLOW"

type Config struct {
	Environment string          `mapstructure:"environment" validate:"oneof=development production test"`
	HTTP        HTTPConfig      `mapstructure:"http"`
	DB          DBConfig        `mapstructure:"db"`
	Log         LogConfig       `mapstructure:"log"`
	Auth        AuthConfig      `mapstructure:"auth"`
	CORS        CORSConfig      `mapstructure:"cors"`
	Analytics   AnalyticsConfig `mapstructure:"analytics"`
	Retention   RetentionConfig `mapstructure:"retention"`
	Ingest      IngestConfig    `mapstructure:"ingest"`
}

type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Addr is the listen address for http.Server.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DBConfig struct {
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"min=1"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"min=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"required,min=16"`
	TokenTTL      time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	AdminUsername string        `mapstructure:"admin_username" validate:"required"`
	AdminPassword string        `mapstructure:"admin_password" validate:"required"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AnalyticsConfig struct {
	MaxOpenSessionAge    time.Duration `mapstructure:"max_open_session_age" validate:"gt=0"`
	AttributionTolerance time.Duration `mapstructure:"attribution_tolerance" validate:"gte=0"`
	ConfidenceThreshold  float64       `mapstructure:"confidence_threshold" validate:"gte=0,lte=1"`
	RapidReentryGap      time.Duration `mapstructure:"rapid_reentry_gap" validate:"gt=0"`
	RepeatVisitorMin     int           `mapstructure:"repeat_visitor_min" validate:"min=1"`
	RankingLimit         int           `mapstructure:"ranking_limit" validate:"min=1"`
	Timezone             string        `mapstructure:"timezone" validate:"required"`
	DefaultRange         string        `mapstructure:"default_range" validate:"oneof=today 7days 30days"`

	// Location is resolved from Timezone by Load.
	Location *time.Location `mapstructure:"-"`
}

type RetentionConfig struct {
	Days     int           `mapstructure:"days" validate:"min=1"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

type IngestConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second" validate:"gt=0"`
	Burst         int     `mapstructure:"burst" validate:"min=1"`
}

// Load reads config.yaml (if present in the working directory or ./config)
// and FLOW_* environment variables on top of the defaults.
func Load() (*Config, error) {
	return load(newViper())
}

// LoadFile reads the given file instead of searching for config.yaml.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("auth.admin_username", "admin")
	v.SetDefault("auth.admin_password", "")

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("analytics.max_open_session_age", 24*time.Hour)
	v.SetDefault("analytics.attribution_tolerance", 2*time.Minute)
	v.SetDefault("analytics.confidence_threshold", 0.75)
	v.SetDefault("analytics.rapid_reentry_gap", 10*time.Minute)
	v.SetDefault("analytics.repeat_visitor_min", 3)
	v.SetDefault("analytics.ranking_limit", 10)
	v.SetDefault("analytics.timezone", "UTC")
	v.SetDefault("analytics.default_range", "7days")

	v.SetDefault("retention.days", 90)
	v.SetDefault("retention.interval", time.Hour)

	v.SetDefault("ingest.rate_per_second", 50.0)
	v.SetDefault("ingest.burst", 100)
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and resolves the analytics timezone.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	loc, err := time.LoadLocation(c.Analytics.Timezone)
	if err != nil {
		return fmt.Errorf("invalid config: analytics.timezone: %w", err)
	}
	c.Analytics.Location = loc
	return nil
}
