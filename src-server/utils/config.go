package utils

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port        string `env:"PORT" env-default:"8080"`
	DatabaseURL string `env:"DATABASE_URL" env-default:"./ganapp.db"`
	Dev         bool   `env:"DEV" env-default:"false"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"debug"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTExpire time.Duration `env:"JWT_EXPIRE" env-default:"168h"`

	Timezone           string `env:"TIMEZONE"`
	Hostname           string `env:"HOSTNAME" env-default:"http://localhost:8080"`
	StaticWebClientDir string `env:"STATIC_WEB_CLIENT_DIR"`

	MetricCollectionInterval time.Duration `env:"METRIC_COLLECTION_INTERVAL" env-default:"15s"`
	SchedulerInterval        time.Duration `env:"SCHEDULER_INTERVAL" env-default:"30s"`
	ReminderLeadTime         time.Duration `env:"REMINDER_LEAD_TIME" env-default:"1h"`

	MailersendAPIKey    string `env:"MAILERSEND_API_KEY"`
	MailersendFromEmail string `env:"MAILERSEND_FROM_EMAIL"`
	MailersendFromName  string `env:"MAILERSEND_FROM_NAME" env-default:"GanApp"`

	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" env-separator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" env-default:"ganapp.events"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	location *time.Location
}

// Reads the environment into a Config, exits on invalid values.
func NewConfig() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

func LoadConfig() (*Config, error) {
	cfg := new(Config)
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("LoadConfig: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("LoadConfig: %w", err)
	}
	return cfg, nil
}

func (c *Config) finalize() error {
	if c.JWTSecret == "" {
		slog.Warn("JWT_SECRET is not set")
		c.JWTSecret = "secret"
	}
	if c.JWTExpire <= 0 {
		return fmt.Errorf("JWT_EXPIRE must be positive")
	}
	if c.SchedulerInterval <= 0 || c.MetricCollectionInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL and METRIC_COLLECTION_INTERVAL must be positive")
	}

	switch c.Timezone {
	case "":
		slog.Warn("TIMEZONE is not set, using local timezone", "timezone", time.Local)
		c.location = time.Local
	case "UTC":
		c.location = time.UTC
	default:
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
		}
		c.location = loc
	}

	if c.StaticWebClientDir != "" {
		info, err := os.Stat(c.StaticWebClientDir)
		if err != nil {
			return fmt.Errorf("can't get info of STATIC_WEB_CLIENT_DIR: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("STATIC_WEB_CLIENT_DIR is not a directory")
		}
		c.StaticWebClientDir = filepath.Clean(c.StaticWebClientDir)
	}

	if c.DiscordWebhookURL != "" {
		if _, _, err := ParseDiscordWebhookURL(c.DiscordWebhookURL); err != nil {
			return err
		}
	}
	c.Hostname = strings.TrimSuffix(c.Hostname, "/")

	slog.Debug("env", "PORT", c.Port, "DATABASE_URL", redactDSN(c.DatabaseURL), "JWT_EXPIRE", c.JWTExpire)
	return nil
}

// Split a Discord webhook URL (.../api/webhooks/{id}/{token}) into id and token.
func ParseDiscordWebhookURL(raw string) (string, string, error) {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid DISCORD_WEBHOOK_URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("invalid DISCORD_WEBHOOK_URL: missing webhook id or token")
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxx")
	}
	return u.String()
}

// Get PORT env, default to 8080
func (c *Config) GetPort() string {
	return c.Port
}

// Get DATABASE_URL env
func (c *Config) GetDatabaseURL() string {
	return c.DatabaseURL
}

// Whether DATABASE_URL points to Postgres instead of a sqlite file
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") ||
		strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// Get DEV env
func (c *Config) GetDev() bool {
	return c.Dev
}

// Get LOG_LEVEL env as a slog level
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// Get JWT_SECRET env
func (c *Config) GetJWTSecret() string {
	return c.JWTSecret
}

// Get JWT_EXPIRE env
func (c *Config) GetJWTExpire() time.Duration {
	return c.JWTExpire
}

// Get TIMEZONE env
func (c *Config) GetLocation() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Get HOSTNAME env
func (c *Config) GetHostname() string {
	return c.Hostname
}

// Get STATIC_WEB_CLIENT_DIR env, blank when the SPA isn't served
func (c *Config) GetStaticWebClientDir() string {
	return c.StaticWebClientDir
}

// Get METRIC_COLLECTION_INTERVAL env
func (c *Config) GetMetricCollectionInterval() time.Duration {
	return c.MetricCollectionInterval
}

// Get SCHEDULER_INTERVAL env
func (c *Config) GetSchedulerInterval() time.Duration {
	return c.SchedulerInterval
}

// Get REMINDER_LEAD_TIME env
func (c *Config) GetReminderLeadTime() time.Duration {
	return c.ReminderLeadTime
}

func (c *Config) GetMailersendAPIKey() string {
	return c.MailersendAPIKey
}

func (c *Config) GetMailersendFrom() (string, string) {
	return c.MailersendFromName, c.MailersendFromEmail
}

func (c *Config) GetDiscordWebhookURL() string {
	return c.DiscordWebhookURL
}

func (c *Config) GetKafkaBrokers() []string {
	return c.KafkaBrokers
}

func (c *Config) GetKafkaTopic() string {
	return c.KafkaTopic
}

func (c *Config) GetAdminCredentials() (string, string) {
	return c.AdminEmail, c.AdminPassword
}
