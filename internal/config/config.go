package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Gmail      GmailConfig      `mapstructure:"gmail"`
	Mailboxes  MailboxesConfig  `mapstructure:"mailboxes"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Novelty    NoveltyConfig    `mapstructure:"novelty"`
	Claim      ClaimConfig      `mapstructure:"claim"`
	Links      LinksConfig      `mapstructure:"links"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	LogLevel     string        `mapstructure:"log_level"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// GmailConfig holds the OAuth client shared by both mailboxes
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TopicName    string `mapstructure:"topic_name"`
	MaxResults   int64  `mapstructure:"max_results"`
}

// MailboxConfig identifies one monitored inbox
type MailboxConfig struct {
	Address      string `mapstructure:"address"`
	RefreshToken string `mapstructure:"refresh_token"`
}

// MailboxesConfig holds the two inboxes mail is received on. The male inbox
// doubles as the general inbox for stores without a gender preference.
type MailboxesConfig struct {
	Male   MailboxConfig `mapstructure:"male"`
	Female MailboxConfig `mapstructure:"female"`
}

// ExtractionConfig holds settings for the LLM extraction call
type ExtractionConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyChars   int           `mapstructure:"max_body_chars"`
	MaxTitleWords  int           `mapstructure:"max_title_words"`
	Pacing         time.Duration `mapstructure:"pacing"`
}

// NoveltyConfig controls how much history is given to the model
type NoveltyConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	History   int     `mapstructure:"history"`
}

// ClaimConfig controls batch claiming of raw messages
type ClaimConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	Lease       time.Duration `mapstructure:"lease"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// LinksConfig holds settings for tracking link resolution
type LinksConfig struct {
	ProxyURL       string        `mapstructure:"proxy_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// NotifyConfig holds push gateway settings
type NotifyConfig struct {
	Endpoint        string  `mapstructure:"endpoint"`
	AccessToken     string  `mapstructure:"access_token"`
	BatchSize       int     `mapstructure:"batch_size"`
	Threshold       float64 `mapstructure:"threshold"`
	BreakerFailures uint32  `mapstructure:"breaker_failures"`
}

// RateLimitConfig bounds how many promotional messages a store may schedule
type RateLimitConfig struct {
	MaxCount int           `mapstructure:"max_count"`
	Window   time.Duration `mapstructure:"window"`
}

// ModerationConfig toggles automatic moderation of promotional messages
type ModerationConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PubSubConfig enables pulling Gmail notifications instead of receiving pushes
type PubSubConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ProjectID    string `mapstructure:"project_id"`
	Subscription string `mapstructure:"subscription"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes           int    `mapstructure:"interval_minutes"`
	PromotionsIntervalMinutes int    `mapstructure:"promotions_interval_minutes"`
	WatchRenewal              string `mapstructure:"watch_renewal"`
	Workers                   int    `mapstructure:"workers"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	// A missing .env file is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("gmail.max_results", 50)

	v.SetDefault("extraction.model", "gemini-2.5-flash")
	v.SetDefault("extraction.max_retries", 3)
	v.SetDefault("extraction.initial_backoff", "1s")
	v.SetDefault("extraction.request_timeout", "30s")
	v.SetDefault("extraction.max_body_chars", 10000)
	v.SetDefault("extraction.max_title_words", 8)
	v.SetDefault("extraction.pacing", "1500ms")

	v.SetDefault("novelty.threshold", 0.925)
	v.SetDefault("novelty.history", 2)

	v.SetDefault("claim.batch_size", 10)
	v.SetDefault("claim.lease", "15m")
	v.SetDefault("claim.max_attempts", 5)

	v.SetDefault("links.timeout", "25s")
	v.SetDefault("links.max_retries", 4)
	v.SetDefault("links.initial_backoff", "1500ms")

	v.SetDefault("notify.endpoint", "https://exp.host/--/api/v2/push/send")
	v.SetDefault("notify.batch_size", 100)
	v.SetDefault("notify.threshold", 0.925)
	v.SetDefault("notify.breaker_failures", 3)

	v.SetDefault("ratelimit.max_count", 3)
	v.SetDefault("ratelimit.window", "720h")

	v.SetDefault("moderation.enabled", true)

	v.SetDefault("pubsub.enabled", false)

	v.SetDefault("scheduler.interval_minutes", 5)
	v.SetDefault("scheduler.promotions_interval_minutes", 1)
	v.SetDefault("scheduler.watch_renewal", "0 0 3 * * *")
	v.SetDefault("scheduler.workers", 2)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")

	// Gmail
	v.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("gmail.topic_name", "GMAIL_TOPIC_NAME")
	v.BindEnv("mailboxes.male.address", "MALE_INBOX_ADDRESS")
	v.BindEnv("mailboxes.male.refresh_token", "MALE_INBOX_REFRESH_TOKEN")
	v.BindEnv("mailboxes.female.address", "FEMALE_INBOX_ADDRESS")
	v.BindEnv("mailboxes.female.refresh_token", "FEMALE_INBOX_REFRESH_TOKEN")

	// External services
	v.BindEnv("extraction.api_key", "GEMINI_API_KEY")
	v.BindEnv("links.proxy_url", "PROXY_URL")
	v.BindEnv("notify.access_token", "EXPO_ACCESS_TOKEN")
	v.BindEnv("pubsub.enabled", "PUBSUB_ENABLED")
	v.BindEnv("pubsub.project_id", "PUBSUB_PROJECT_ID")
	v.BindEnv("pubsub.subscription", "PUBSUB_SUBSCRIPTION")

	// Scheduler
	v.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" {
		return fmt.Errorf("Gmail OAuth2 client credentials are required")
	}
	for name, mb := range map[string]MailboxConfig{"male": c.Mailboxes.Male, "female": c.Mailboxes.Female} {
		if mb.Address == "" || mb.RefreshToken == "" {
			return fmt.Errorf("mailbox %s requires an address and refresh token", name)
		}
	}
	if strings.EqualFold(c.Mailboxes.Male.Address, c.Mailboxes.Female.Address) {
		return fmt.Errorf("male and female mailboxes must differ")
	}

	if c.Extraction.APIKey == "" {
		return fmt.Errorf("extraction API key is required")
	}
	if c.Extraction.MaxRetries <= 0 {
		return fmt.Errorf("extraction max retries must be greater than 0")
	}
	if c.Novelty.Threshold < 0 || c.Novelty.Threshold > 1 {
		return fmt.Errorf("novelty threshold must be within [0,1]")
	}
	if c.Claim.BatchSize <= 0 || c.Claim.Lease <= 0 {
		return fmt.Errorf("claim batch size and lease must be greater than 0")
	}

	if c.Links.ProxyURL != "" {
		if _, err := url.Parse(c.Links.ProxyURL); err != nil {
			return fmt.Errorf("invalid proxy url: %w", err)
		}
	}

	if c.Notify.BatchSize <= 0 || c.Notify.BatchSize > 100 {
		return fmt.Errorf("notify batch size must be between 1 and 100")
	}
	if c.RateLimit.MaxCount <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit max count and window must be greater than 0")
	}

	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Subscription == "") {
		return fmt.Errorf("pubsub project and subscription are required when pubsub is enabled")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	return nil
}
